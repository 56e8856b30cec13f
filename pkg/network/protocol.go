// pkg/network/protocol.go
package network

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/opd-ai/go-dronegym/pkg/config"
	"github.com/opd-ai/go-dronegym/pkg/engine"
	"github.com/opd-ai/go-dronegym/pkg/validation"
)

// MessageType defines the type of network message
type MessageType byte

const (
	MsgHello MessageType = iota + 1
	MsgWelcome
	MsgReset
	MsgObservation
	MsgStep
	MsgStepResult
	MsgPing
	MsgPong
	MsgError
	MsgBye
)

var messageNames = map[MessageType]string{
	MsgHello:       "hello",
	MsgWelcome:     "welcome",
	MsgReset:       "reset",
	MsgObservation: "observation",
	MsgStep:        "step",
	MsgStepResult:  "step_result",
	MsgPing:        "ping",
	MsgPong:        "pong",
	MsgError:       "error",
	MsgBye:         "bye",
}

func (t MessageType) String() string {
	if name, ok := messageNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", byte(t))
}

var (
	// ErrFrameTooLarge is returned for frames above validation.MaxMessageSize
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrServerFull is returned by Dial when every session slot is taken
	ErrServerFull = errors.New("server full")

	errBadRequest = errors.New("bad request")
)

// HelloMessage opens a session
type HelloMessage struct {
	ClientName string `json:"clientName"`
	// Seed, when set, replaces the seed the server picked for the session
	Seed *uint64 `json:"seed,omitempty"`
}

// WelcomeMessage answers Hello with the session id and environment shape
type WelcomeMessage struct {
	SessionID string      `json:"sessionId"`
	Task      config.Task `json:"task"`
	Spec      engine.Spec `json:"spec"`
}

// ObservationMessage answers Reset
type ObservationMessage struct {
	EpisodeID   string             `json:"episodeId"`
	Observation engine.Observation `json:"observation"`
}

// StepMessage carries one action vector
type StepMessage struct {
	Actions []float64 `json:"actions"`
}

// PingMessage is echoed back verbatim as Pong
type PingMessage struct {
	SentUnixNano int64 `json:"sent"`
}

// Error codes carried by ErrorMessage
const (
	CodeBadRequest         = "bad_request"
	CodeServerFull         = "server_full"
	CodeRateLimited        = "rate_limited"
	CodeNotReset           = "not_reset"
	CodeEpisodeDone        = "episode_done"
	CodeActionSize         = "action_size"
	CodeInvalidActions     = "invalid_actions"
	CodeUnsupportedActions = "unsupported_action_space"
	CodeInternal           = "internal"
)

// ErrorMessage reports a failed request. The session stays open unless the
// code is CodeServerFull.
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RemoteError is an ErrorMessage received by a client. It unwraps to the
// matching engine sentinel so errors.Is works across the wire.
type RemoteError struct {
	ErrorMessage
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}

// Unwrap maps the error code back to a sentinel error
func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case CodeServerFull:
		return ErrServerFull
	case CodeNotReset:
		return engine.ErrNotReset
	case CodeEpisodeDone:
		return engine.ErrEpisodeDone
	case CodeActionSize:
		return engine.ErrActionSize
	case CodeUnsupportedActions:
		return engine.ErrUnsupportedActionSpace
	case CodeInvalidActions:
		return validation.ErrInvalidActions
	case CodeRateLimited:
		return validation.ErrRateLimited
	}
	return nil
}

// errorCode classifies a step or reset error for the wire
func errorCode(err error) string {
	switch {
	case errors.Is(err, engine.ErrNotReset):
		return CodeNotReset
	case errors.Is(err, engine.ErrEpisodeDone):
		return CodeEpisodeDone
	case errors.Is(err, engine.ErrActionSize):
		return CodeActionSize
	case errors.Is(err, engine.ErrUnsupportedActionSpace):
		return CodeUnsupportedActions
	case errors.Is(err, validation.ErrInvalidActions):
		return CodeInvalidActions
	case errors.Is(err, validation.ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, errBadRequest):
		return CodeBadRequest
	}
	return CodeInternal
}

// WriteFrame writes a message as type byte, big-endian uint32 length and JSON body
func WriteFrame(w io.Writer, msgType MessageType, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", msgType, err)
	}
	if len(data) > validation.MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}

	header := make([]byte, 5, 5+len(data))
	header[0] = byte(msgType)
	binary.BigEndian.PutUint32(header[1:], uint32(len(data)))

	// One write per frame keeps frames intact on shared connections
	if _, err := w.Write(append(header, data...)); err != nil {
		return fmt.Errorf("writing %s: %w", msgType, err)
	}
	return nil
}

// ReadFrame reads one frame. Bodies above validation.MaxMessageSize are
// rejected before they are allocated.
func ReadFrame(r io.Reader) (MessageType, []byte, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}

	msgType := MessageType(header[0])
	msgLen := binary.BigEndian.Uint32(header[1:])
	if msgLen > validation.MaxMessageSize {
		return msgType, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, msgLen)
	}

	data := make([]byte, msgLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return msgType, nil, err
	}
	return msgType, data, nil
}

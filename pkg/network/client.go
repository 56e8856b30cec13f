// pkg/network/client.go
package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/go-dronegym/pkg/config"
	"github.com/opd-ai/go-dronegym/pkg/engine"
	"github.com/opd-ai/go-dronegym/pkg/logging"
	"github.com/opd-ai/go-dronegym/pkg/validation"
)

// ErrClientClosed is returned by calls on a closed or broken client
var ErrClientClosed = errors.New("client is closed")

// ClientOption configures an EnvClient
type ClientOption func(*EnvClient)

// WithClientLogger sets the client logger
func WithClientLogger(l *logging.Logger) ClientOption {
	return func(c *EnvClient) { c.logger = l }
}

// WithBreaker routes every request through b. Clients dialing the same
// server can share one breaker.
func WithBreaker(b *Breaker) ClientOption {
	return func(c *EnvClient) { c.breaker = b }
}

// WithSeed asks the server to seed the session's episodes with seed
func WithSeed(seed uint64) ClientOption {
	return func(c *EnvClient) { c.seed = &seed }
}

// WithTimeouts sets the per-request read and write timeouts used when the
// request context carries no deadline
func WithTimeouts(read, write time.Duration) ClientOption {
	return func(c *EnvClient) {
		c.readTimeout = read
		c.writeTimeout = write
	}
}

// EnvClient drives an environment hosted by an EnvServer. It has the same
// Reset, Step and Spec methods as engine.Env. Calls are serialized.
type EnvClient struct {
	conn      net.Conn
	breaker   *Breaker
	logger    *logging.Logger
	sessionID string
	task      config.Task
	spec      engine.Spec
	episodeID string
	seed      *uint64
	mu        sync.Mutex

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// Dial connects to the server at address and opens a session named clientName
func Dial(ctx context.Context, address, clientName string, opts ...ClientOption) (*EnvClient, error) {
	c := &EnvClient{}
	for _, opt := range opts {
		opt(c)
	}

	envConfig, err := config.LoadConfigFromEnv()
	if err != nil {
		envConfig = &config.EnvironmentConfig{
			ReadTimeout:                       30 * time.Second,
			WriteTimeout:                      30 * time.Second,
			CircuitBreakerMaxRequests:         3,
			CircuitBreakerInterval:            60 * time.Second,
			CircuitBreakerTimeout:             30 * time.Second,
			CircuitBreakerMaxConsecutiveFails: 5,
		}
	}
	if c.logger == nil {
		c.logger = logging.NewLogger()
	}
	if c.breaker == nil {
		c.breaker = NewBreaker(envConfig, c.logger)
	}
	if c.readTimeout <= 0 {
		c.readTimeout = envConfig.ReadTimeout
	}
	if c.writeTimeout <= 0 {
		c.writeTimeout = envConfig.WriteTimeout
	}

	err = c.breaker.Retry(ctx, func() error {
		dialer := &net.Dialer{}
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return fmt.Errorf("failed to connect to server: %w", err)
		}
		c.conn = conn
		return nil
	})
	if err != nil {
		return nil, err
	}

	var welcome WelcomeMessage
	if err := c.request(ctx, MsgHello, HelloMessage{ClientName: clientName, Seed: c.seed}, MsgWelcome, &welcome); err != nil {
		c.closeConn()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	c.sessionID = welcome.SessionID
	c.task = welcome.Task
	c.spec = welcome.Spec

	c.logger.Info(logging.WithCorrelationID(ctx, c.sessionID), "connected to environment server",
		"address", address,
		"task", c.task,
	)
	return c, nil
}

// SessionID returns the id the server assigned to this session
func (c *EnvClient) SessionID() string {
	return c.sessionID
}

// Task returns the task the server runs
func (c *EnvClient) Task() config.Task {
	return c.task
}

// Spec returns the remote environment's spec
func (c *EnvClient) Spec() engine.Spec {
	return c.spec
}

// EpisodeID returns the id of the episode started by the last Reset
func (c *EnvClient) EpisodeID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.episodeID
}

// Reset starts a new remote episode
func (c *EnvClient) Reset(ctx context.Context) (engine.Observation, error) {
	var msg ObservationMessage
	if err := c.request(ctx, MsgReset, struct{}{}, MsgObservation, &msg); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.episodeID = msg.EpisodeID
	c.mu.Unlock()
	return msg.Observation, nil
}

// Step sends one action vector. Vectors that cannot be encoded are rejected
// locally.
func (c *EnvClient) Step(ctx context.Context, actions []float64) (engine.StepResult, error) {
	var res engine.StepResult
	if err := validation.ValidateActions(actions); err != nil {
		return res, err
	}
	err := c.request(ctx, MsgStep, StepMessage{Actions: actions}, MsgStepResult, &res)
	return res, err
}

// Ping measures the round trip to the server
func (c *EnvClient) Ping(ctx context.Context) (time.Duration, error) {
	sent := time.Now()
	var pong PingMessage
	if err := c.request(ctx, MsgPing, PingMessage{SentUnixNano: sent.UnixNano()}, MsgPong, &pong); err != nil {
		return 0, err
	}
	if pong.SentUnixNano != sent.UnixNano() {
		return 0, fmt.Errorf("pong does not match ping")
	}
	return time.Since(sent), nil
}

// Close ends the session and closes the connection
func (c *EnvClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	WriteFrame(c.conn, MsgBye, struct{}{})
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *EnvClient) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// request sends one frame and waits for its reply. Server errors come back
// as *RemoteError. A transport failure breaks the client, since the stream
// may be left mid-frame.
func (c *EnvClient) request(ctx context.Context, msgType MessageType, msg interface{}, want MessageType, out interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrClientClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return c.breaker.Execute(ctx, func() error {
		conn := c.conn
		stop := context.AfterFunc(ctx, func() {
			conn.SetDeadline(time.Now())
		})
		defer stop()

		c.setDeadlines(ctx)
		if err := WriteFrame(conn, msgType, msg); err != nil {
			return c.broken(ctx, err)
		}

		gotType, data, err := ReadFrame(conn)
		if err != nil {
			return c.broken(ctx, err)
		}

		switch gotType {
		case MsgError:
			var em ErrorMessage
			if err := json.Unmarshal(data, &em); err != nil {
				return c.broken(ctx, fmt.Errorf("parsing error reply: %w", err))
			}
			return &RemoteError{ErrorMessage: em}
		case want:
			if err := json.Unmarshal(data, out); err != nil {
				return c.broken(ctx, fmt.Errorf("parsing %s: %w", want, err))
			}
			return nil
		default:
			return c.broken(ctx, fmt.Errorf("expected %s, got %s", want, gotType))
		}
	})
}

func (c *EnvClient) setDeadlines(ctx context.Context) {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
		return
	}
	now := time.Now()
	c.conn.SetReadDeadline(now.Add(c.readTimeout))
	c.conn.SetWriteDeadline(now.Add(c.writeTimeout))
}

// broken closes the connection after a transport failure. Called with c.mu held.
func (c *EnvClient) broken(ctx context.Context, err error) error {
	c.conn.Close()
	c.conn = nil
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

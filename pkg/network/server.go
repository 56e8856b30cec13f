// pkg/network/server.go
package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/opd-ai/go-dronegym/pkg/engine"
	"github.com/opd-ai/go-dronegym/pkg/logging"
	"github.com/opd-ai/go-dronegym/pkg/resource"
	"github.com/opd-ai/go-dronegym/pkg/validation"
)

// EnvFactory builds the environment served to one session
type EnvFactory func(sessionID string) (*engine.Env, error)

// SessionSeed derives a session's episode seed from the configured base
// seed, so concurrent sessions do not replay the same episodes.
func SessionSeed(base uint64, sessionID string) uint64 {
	return xxhash.Sum64String(sessionID) ^ base
}

// ServerOptions bounds what a server accepts
type ServerOptions struct {
	MaxSessions          int
	ReadTimeout          time.Duration // idle time allowed between requests
	WriteTimeout         time.Duration
	MaxMessagesPerMinute int // per session, 0 disables rate limiting
}

// SessionInfo describes a connected session
type SessionInfo struct {
	ID         string    `json:"id"`
	ClientName string    `json:"clientName"`
	RemoteAddr string    `json:"remoteAddr"`
	Connected  time.Time `json:"connected"`
	Steps      int64     `json:"steps"`
}

// session is one connected client and the environment it drives. Requests on
// a session are served in order, so env needs no locking.
type session struct {
	info  SessionInfo
	conn  net.Conn
	env   *engine.Env
	steps atomic.Int64
}

// EnvServer serves one environment per connected client over TCP
type EnvServer struct {
	factory   EnvFactory
	opts      ServerOptions
	resources *resource.ResourceManager
	validator *validation.MessageValidator
	logger    *logging.Logger

	listener net.Listener
	sessions map[string]*session
	mu       sync.RWMutex
	wg       sync.WaitGroup
	running  atomic.Bool
}

// NewEnvServer creates a server. Session goroutines are started through
// resources, which caps how many can run at once.
func NewEnvServer(factory EnvFactory, opts ServerOptions, resources *resource.ResourceManager, logger *logging.Logger) *EnvServer {
	if logger == nil {
		logger = logging.NewLogger()
	}
	if opts.MaxSessions < 1 {
		opts.MaxSessions = 1
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	return &EnvServer{
		factory:   factory,
		opts:      opts,
		resources: resources,
		validator: validation.NewMessageValidator(opts.MaxMessagesPerMinute),
		logger:    logger,
		sessions:  make(map[string]*session),
	}
}

// Listen binds the server to address without accepting connections yet
func (s *EnvServer) Listen(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Start binds to address and accepts connections in the background
func (s *EnvServer) Start(ctx context.Context, address string) error {
	if err := s.Listen(address); err != nil {
		return err
	}
	s.running.Store(true)
	go func() {
		if err := s.Serve(ctx); err != nil {
			s.logger.Error(ctx, "environment server stopped", err)
		}
	}()
	return nil
}

// ListenAndServe binds to address and serves until ctx is cancelled
func (s *EnvServer) ListenAndServe(ctx context.Context, address string) error {
	if err := s.Listen(address); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve accepts connections until ctx is cancelled or Shutdown is called.
// Listen must have been called first.
func (s *EnvServer) Serve(ctx context.Context) error {
	s.mu.RLock()
	ln := s.listener
	s.mu.RUnlock()
	if ln == nil {
		return errors.New("server is not listening")
	}

	s.running.Store(true)
	s.logger.Info(ctx, "environment server started", "address", ln.Addr().String())

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
		defer cancel()
		s.Shutdown(shutdownCtx)
	})
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn(ctx, "error accepting connection", "error", err)
			continue
		}

		s.wg.Add(1)
		err = s.resources.StartGoroutine(ctx, "session", func(sctx context.Context) {
			defer s.wg.Done()
			s.handleConnection(sctx, conn)
		})
		if err != nil {
			s.wg.Done()
			s.logger.Warn(ctx, "rejecting connection", "remote", conn.RemoteAddr().String(), "error", err)
			s.writeFrame(conn, MsgError, ErrorMessage{Code: CodeServerFull, Message: err.Error()})
			conn.Close()
		}
	}
}

// Shutdown stops accepting connections, closes every session and waits for
// the session goroutines to return.
func (s *EnvServer) Shutdown(ctx context.Context) error {
	wasRunning := s.running.Swap(false)

	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for _, sess := range s.sessions {
		sess.conn.Close()
	}
	s.mu.Unlock()
	if !wasRunning {
		return nil
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	defer s.validator.Close()
	select {
	case <-done:
		s.logger.Info(ctx, "environment server stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sessions: %w", ctx.Err())
	}
}

// Addr returns the bound listener address, or nil before Listen
func (s *EnvServer) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Running reports whether the server is accepting connections
func (s *EnvServer) Running() bool {
	return s.running.Load()
}

// SessionCount returns the number of connected sessions
func (s *EnvServer) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// MaxSessions returns the session capacity
func (s *EnvServer) MaxSessions() int {
	return s.opts.MaxSessions
}

// Sessions lists the connected sessions
func (s *EnvServer) Sessions() []SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		info := sess.info
		info.Steps = sess.steps.Load()
		out = append(out, info)
	}
	return out
}

func (s *EnvServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	sess, err := s.handshake(ctx, conn)
	if err != nil {
		s.logger.Warn(ctx, "handshake failed", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}
	defer s.removeSession(ctx, sess)

	ctx = logging.WithCorrelationID(ctx, sess.info.ID)
	s.logger.Info(ctx, "session opened", "client", sess.info.ClientName, "remote", sess.info.RemoteAddr)
	s.serveSession(ctx, sess)
}

// handshake waits for Hello, claims a session slot and answers with Welcome
func (s *EnvServer) handshake(ctx context.Context, conn net.Conn) (*session, error) {
	msgType, data, err := s.readFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("reading hello: %w", err)
	}
	if msgType != MsgHello {
		s.writeFrame(conn, MsgError, ErrorMessage{Code: CodeBadRequest, Message: "expected hello"})
		return nil, fmt.Errorf("expected hello, got %s", msgType)
	}

	var hello HelloMessage
	if err := json.Unmarshal(data, &hello); err != nil {
		s.writeFrame(conn, MsgError, ErrorMessage{Code: CodeBadRequest, Message: "malformed hello"})
		return nil, fmt.Errorf("parsing hello: %w", err)
	}
	name, err := validation.ValidateClientName(hello.ClientName)
	if err != nil {
		s.writeFrame(conn, MsgError, ErrorMessage{Code: CodeBadRequest, Message: err.Error()})
		return nil, err
	}

	sess := &session{
		info: SessionInfo{
			ID:         uuid.NewString(),
			ClientName: name,
			RemoteAddr: conn.RemoteAddr().String(),
			Connected:  time.Now(),
		},
		conn: conn,
	}

	s.mu.Lock()
	if len(s.sessions) >= s.opts.MaxSessions {
		s.mu.Unlock()
		s.writeFrame(conn, MsgError, ErrorMessage{Code: CodeServerFull, Message: "no free session slots"})
		return nil, ErrServerFull
	}
	s.sessions[sess.info.ID] = sess
	s.mu.Unlock()

	env, err := s.factory(sess.info.ID)
	if err != nil {
		s.removeSession(ctx, sess)
		s.writeFrame(conn, MsgError, ErrorMessage{Code: CodeInternal, Message: "could not create environment"})
		return nil, fmt.Errorf("creating environment: %w", err)
	}
	sess.env = env
	if hello.Seed != nil {
		env.Reseed(*hello.Seed)
	}
	s.logger.Debug(logging.WithCorrelationID(ctx, sess.info.ID), "session environment ready",
		"client", name,
		"seed", env.Seed(),
	)

	welcome := WelcomeMessage{
		SessionID: sess.info.ID,
		Task:      env.Config().Task,
		Spec:      env.Spec(),
	}
	if err := s.writeFrame(conn, MsgWelcome, welcome); err != nil {
		s.removeSession(ctx, sess)
		return nil, err
	}
	return sess, nil
}

func (s *EnvServer) serveSession(ctx context.Context, sess *session) {
	for {
		msgType, data, err := s.readFrame(sess.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && s.running.Load() {
				s.logger.Warn(ctx, "session read failed", "error", err)
			}
			return
		}

		if err := s.validator.ValidateMessage(data, sess.info.ID); err != nil {
			if !errors.Is(err, validation.ErrRateLimited) {
				err = fmt.Errorf("%w: %v", errBadRequest, err)
			}
			if !s.replyError(ctx, sess, err) {
				return
			}
			continue
		}

		switch msgType {
		case MsgReset:
			obs, err := sess.env.Reset(ctx)
			if err != nil {
				if !s.replyError(ctx, sess, err) {
					return
				}
				continue
			}
			reply := ObservationMessage{EpisodeID: sess.env.Snapshot().EpisodeID, Observation: obs}
			if err := s.writeFrame(sess.conn, MsgObservation, reply); err != nil {
				return
			}

		case MsgStep:
			res, err := s.step(ctx, sess, data)
			if err != nil {
				if !s.replyError(ctx, sess, err) {
					return
				}
				continue
			}
			if err := s.writeFrame(sess.conn, MsgStepResult, res); err != nil {
				return
			}

		case MsgPing:
			if err := s.writeFrame(sess.conn, MsgPong, json.RawMessage(data)); err != nil {
				return
			}

		case MsgBye:
			return

		default:
			if err := s.writeFrame(sess.conn, MsgError, ErrorMessage{
				Code:    CodeBadRequest,
				Message: fmt.Sprintf("unexpected message %s", msgType),
			}); err != nil {
				return
			}
		}
	}
}

func (s *EnvServer) step(ctx context.Context, sess *session, data []byte) (engine.StepResult, error) {
	var msg StepMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return engine.StepResult{}, fmt.Errorf("%w: %v", validation.ErrInvalidActions, err)
	}
	if err := validation.ValidateActions(msg.Actions); err != nil {
		return engine.StepResult{}, err
	}
	res, err := sess.env.Step(ctx, msg.Actions)
	if err != nil {
		return res, err
	}
	sess.steps.Add(1)
	return res, nil
}

// replyError reports err to the client and returns false if the connection
// is no longer usable
func (s *EnvServer) replyError(ctx context.Context, sess *session, err error) bool {
	code := errorCode(err)
	if code == CodeInternal {
		s.logger.Error(ctx, "request failed", err)
	} else {
		s.logger.Debug(ctx, "request rejected", "code", code, "error", err)
	}
	return s.writeFrame(sess.conn, MsgError, ErrorMessage{Code: code, Message: err.Error()}) == nil
}

func (s *EnvServer) removeSession(ctx context.Context, sess *session) {
	s.mu.Lock()
	_, ok := s.sessions[sess.info.ID]
	delete(s.sessions, sess.info.ID)
	s.mu.Unlock()
	if !ok {
		return
	}

	s.validator.Forget(sess.info.ID)
	if sess.env != nil {
		sess.env.Close()
		s.logger.Info(ctx, "session closed", "session_id", sess.info.ID, "steps", sess.steps.Load())
	}
}

func (s *EnvServer) readFrame(conn net.Conn) (MessageType, []byte, error) {
	conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	return ReadFrame(conn)
}

func (s *EnvServer) writeFrame(conn net.Conn, msgType MessageType, msg interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	return WriteFrame(conn, msgType, msg)
}

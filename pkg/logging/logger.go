// Package logging is the simulator's structured logger: JSON lines through
// slog, with correlation and episode ids lifted from the context and
// credential-looking attributes redacted.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// LevelEnv names the environment variable NewLogger reads its level from.
const LevelEnv = "DRONESIM_LOG_LEVEL"

const redacted = "[REDACTED]"

// sensitive key fragments, matched case-insensitively
var sensitive = []string{
	"password", "passwd", "pwd", "token", "auth", "secret",
	"apikey", "api_key", "private", "cookie",
}

// Logger is a slog.Logger whose level methods take a context first.
type Logger struct {
	*slog.Logger
}

// NewLogger logs JSON to stderr at the level named by DRONESIM_LOG_LEVEL.
// Stdout stays free for command output.
func NewLogger() *Logger {
	return NewLoggerWithWriter(os.Stderr, ParseLevel(os.Getenv(LevelEnv)))
}

func NewLoggerWithWriter(w io.Writer, level slog.Level) *Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level, ReplaceAttr: redact})
	return &Logger{slog.New(contextHandler{h})}
}

// Discard returns a logger that drops every record.
func Discard() *Logger {
	return &Logger{slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

// With returns a child logger that adds args to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{l.Logger.With(args...)}
}

// LogWithContext logs at level. Ids stored in ctx are added by the handler.
func (l *Logger) LogWithContext(ctx context.Context, level slog.Level, msg string, args ...any) {
	l.Log(ctx, level, msg, args...)
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.Log(ctx, slog.LevelDebug, msg, args...)
}

func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.Log(ctx, slog.LevelInfo, msg, args...)
}

func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.Log(ctx, slog.LevelWarn, msg, args...)
}

// Error logs at error level; a non-nil err is recorded under "error".
func (l *Logger) Error(ctx context.Context, msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err.Error())
	}
	l.Log(ctx, slog.LevelError, msg, args...)
}

// contextHandler stamps records with the ids carried by their context.
type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := GetCorrelationID(ctx); id != "" {
		r.AddAttrs(slog.String("correlation_id", id))
	}
	if id := GetEpisodeID(ctx); id != "" {
		r.AddAttrs(slog.String("episode_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{h.Handler.WithGroup(name)}
}

type (
	correlationIDKey struct{}
	episodeIDKey     struct{}
)

// WithCorrelationID stores id in ctx, generating one when id is empty.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = GenerateCorrelationID()
	}
	return context.WithValue(ctx, correlationIDKey{}, id)
}

func GetCorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// GenerateCorrelationID returns a fresh random UUID.
func GenerateCorrelationID() string {
	return uuid.NewString()
}

// WithEpisodeID tags ctx with the id of the running episode.
func WithEpisodeID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, episodeIDKey{}, id)
}

func GetEpisodeID(ctx context.Context) string {
	id, _ := ctx.Value(episodeIDKey{}).(string)
	return id
}

// ParseLevel maps DEBUG, INFO, WARN (or WARNING) and ERROR, in any case, to
// slog levels. Anything else is INFO.
func ParseLevel(name string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func redact(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, s := range sensitive {
		if strings.Contains(key, s) {
			return slog.String(a.Key, redacted)
		}
	}
	return a
}

// WrapError prefixes err with a formatted message, keeping it unwrappable.
// A nil err stays nil.
func WrapError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if len(args) > 0 {
		format = fmt.Sprintf(format, args...)
	}
	return fmt.Errorf("%s: %w", format, err)
}

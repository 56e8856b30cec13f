// Package validation checks and sanitizes data arriving from remote clients.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Message size and content limits
const (
	MaxMessageSize   = 64 * 1024 // 64KB max message
	MaxClientNameLen = 32
	MaxActions       = 64
)

// ErrInvalidActions is returned for action vectors that can never be stepped
var ErrInvalidActions = errors.New("invalid actions")

// ErrRateLimited is returned when a session sends faster than its budget
var ErrRateLimited = errors.New("rate limit exceeded")

var validClientNameChars = regexp.MustCompile(`^[a-zA-Z0-9\s\-_.<>()]+$`)

// MessageValidator checks raw frames before they are decoded
type MessageValidator struct {
	rateLimiter *RateLimiter
	maxPerMin   int
}

// NewMessageValidator creates a validator allowing maxPerMinute messages per
// session. Zero or less disables rate limiting.
func NewMessageValidator(maxPerMinute int) *MessageValidator {
	v := &MessageValidator{maxPerMin: maxPerMinute}
	if maxPerMinute > 0 {
		v.rateLimiter = NewRateLimiter(maxPerMinute, time.Minute)
	}
	return v
}

// Close releases resources used by the message validator
func (v *MessageValidator) Close() {
	if v.rateLimiter != nil {
		v.rateLimiter.Close()
	}
}

// Forget drops the rate limiting state of a closed session
func (v *MessageValidator) Forget(sessionID string) {
	if v.rateLimiter != nil {
		v.rateLimiter.Remove(sessionID)
	}
}

// ValidateMessage validates a raw message body against size and format constraints
func (v *MessageValidator) ValidateMessage(data []byte, sessionID string) error {
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message too large: %d bytes (max %d)", len(data), MaxMessageSize)
	}

	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON format")
	}

	if v.rateLimiter != nil && !v.rateLimiter.Allow(sessionID) {
		return fmt.Errorf("%w: max %d messages per minute", ErrRateLimited, v.maxPerMin)
	}

	return nil
}

// ValidateClientName validates and sanitizes the name a client announces in Hello
func ValidateClientName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("client name cannot be empty")
	}

	if len(name) > MaxClientNameLen {
		return "", fmt.Errorf("client name too long: %d characters (max %d)", len(name), MaxClientNameLen)
	}

	if !utf8.ValidString(name) {
		return "", fmt.Errorf("client name contains invalid UTF-8 characters")
	}

	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("client name cannot be only whitespace")
	}

	for _, r := range trimmed {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("client name contains control characters")
		}
	}

	if !validClientNameChars.MatchString(trimmed) {
		return "", fmt.Errorf("client name contains invalid characters (only alphanumeric, spaces, hyphens, underscores, and basic punctuation allowed)")
	}

	// Names end up in logs and the telemetry page
	return html.EscapeString(trimmed), nil
}

// ValidateActions rejects action vectors that cannot travel as JSON: empty,
// oversized, or holding NaN or infinite values.
func ValidateActions(actions []float64) error {
	if len(actions) == 0 {
		return fmt.Errorf("%w: empty action vector", ErrInvalidActions)
	}
	if len(actions) > MaxActions {
		return fmt.Errorf("%w: %d actions (max %d)", ErrInvalidActions, len(actions), MaxActions)
	}
	for i, a := range actions {
		if math.IsNaN(a) || math.IsInf(a, 0) {
			return fmt.Errorf("%w: action %d is not finite", ErrInvalidActions, i)
		}
	}
	return nil
}

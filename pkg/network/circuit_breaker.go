// Package network serves environments to remote controllers over TCP and
// provides the matching client. Client calls run through a circuit breaker so
// a dead server fails fast instead of stalling every rollout worker.
package network

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/sony/gobreaker"

	"github.com/opd-ai/go-dronegym/pkg/config"
	"github.com/opd-ai/go-dronegym/pkg/logging"
)

const maxBackoff = 10 * time.Second

// Breaker guards transport calls with a gobreaker circuit. A *RemoteError
// means the server answered, so it counts as a success for the circuit.
type Breaker struct {
	cb       *gobreaker.CircuitBreaker
	log      *logging.Logger
	attempts int
	backoff  time.Duration
}

// NewBreaker reads the circuit thresholds from cfg. Retry defaults to three
// attempts starting from a one second backoff. A nil logger falls back to
// logging.NewLogger.
func NewBreaker(cfg *config.EnvironmentConfig, logger *logging.Logger) *Breaker {
	if logger == nil {
		logger = logging.NewLogger()
	}
	maxFails := cfg.CircuitBreakerMaxConsecutiveFails

	return &Breaker{
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "dronesim-env",
			MaxRequests: cfg.CircuitBreakerMaxRequests,
			Interval:    cfg.CircuitBreakerInterval,
			Timeout:     cfg.CircuitBreakerTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= maxFails
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn(context.Background(), "Circuit state changed",
					"breaker", name, "from", from.String(), "to", to.String())
			},
			IsSuccessful: func(err error) bool {
				return err == nil || isRemote(err) || errors.Is(err, context.Canceled)
			},
		}),
		log:      logger,
		attempts: 3,
		backoff:  time.Second,
	}
}

// SetRetryPolicy sets how many attempts Retry makes and the backoff before
// the second one. Each later wait doubles, with jitter, up to 10s.
func (b *Breaker) SetRetryPolicy(attempts int, backoff time.Duration) {
	b.attempts = max(attempts, 1)
	b.backoff = backoff
}

func isRemote(err error) bool {
	var remote *RemoteError
	return errors.As(err, &remote)
}

// Execute runs op once through the circuit. While the circuit is open op is
// not called and the error wraps gobreaker.ErrOpenState. Remote errors are
// returned unwrapped.
func (b *Breaker) Execute(ctx context.Context, op func() error) error {
	_, err := b.cb.Execute(func() (any, error) { return nil, op() })
	switch {
	case err == nil:
		return nil
	case isRemote(err):
		return err
	}
	b.log.Debug(ctx, "Guarded call failed", "state", b.cb.State().String(), "error", err.Error())
	return fmt.Errorf("circuit breaker: %w", err)
}

// Retry runs op through Execute until it succeeds or the attempts run out.
// Remote errors, an open circuit and a done ctx end it early.
func (b *Breaker) Retry(ctx context.Context, op func() error) error {
	wait := b.backoff
	for attempt := 1; ; attempt++ {
		err := b.Execute(ctx, op)
		switch {
		case err == nil:
			return nil
		case isRemote(err), ctx.Err() != nil:
			return err
		case errors.Is(err, gobreaker.ErrOpenState):
			b.log.Warn(ctx, "Circuit open, not retrying", "attempt", attempt)
			return err
		case attempt >= b.attempts:
			b.log.Error(ctx, "Retries exhausted", err, "attempts", attempt)
			return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}

		delay := jitter(wait)
		b.log.Warn(ctx, "Retrying", "attempt", attempt, "delay", delay, "error", err.Error())
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		}
		wait = min(2*wait, maxBackoff)
	}
}

// jitter picks a delay in [d/2, d).
func jitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + rand.N(d-half)
}

// State reports the circuit state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Counts reports the circuit's counters for the current interval.
func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

package network

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/go-dronegym/pkg/config"
	"github.com/opd-ai/go-dronegym/pkg/logging"
)

var errReset = errors.New("connection reset by peer")

func breakerConfig(maxFails uint32, timeout time.Duration) *config.EnvironmentConfig {
	return &config.EnvironmentConfig{
		CircuitBreakerMaxRequests:         2,
		CircuitBreakerInterval:            time.Minute,
		CircuitBreakerTimeout:             timeout,
		CircuitBreakerMaxConsecutiveFails: maxFails,
	}
}

func failN(n int) (func() error, *int) {
	calls := 0
	return func() error {
		calls++
		if calls <= n {
			return errReset
		}
		return nil
	}, &calls
}

func TestBreaker_Trips(t *testing.T) {
	b := NewBreaker(breakerConfig(3, time.Minute), logging.Discard())
	ctx := context.Background()
	assert.Equal(t, gobreaker.StateClosed, b.State())

	for i := range 3 {
		err := b.Execute(ctx, func() error { return errReset })
		require.ErrorIs(t, err, errReset, "call %d", i)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())
	assert.Equal(t, uint32(3), b.Counts().ConsecutiveFailures)

	called := false
	err := b.Execute(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.False(t, called)
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b := NewBreaker(breakerConfig(2, 50*time.Millisecond), logging.Discard())
	ctx := context.Background()

	for range 2 {
		_ = b.Execute(ctx, func() error { return errReset })
	}
	require.Equal(t, gobreaker.StateOpen, b.State())

	assert.Eventually(t, func() bool { return b.State() == gobreaker.StateHalfOpen },
		time.Second, 10*time.Millisecond)

	for range 2 {
		require.NoError(t, b.Execute(ctx, func() error { return nil }))
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreaker_ServerAnswersAreSuccesses(t *testing.T) {
	b := NewBreaker(breakerConfig(2, time.Minute), logging.Discard())
	done := &RemoteError{ErrorMessage{Code: CodeEpisodeDone, Message: "episode finished"}}

	for range 5 {
		err := b.Execute(context.Background(), func() error { return done })
		assert.Same(t, done, err)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.Zero(t, b.Counts().TotalFailures)
	assert.Equal(t, uint32(5), b.Counts().TotalSuccesses)
}

func TestBreaker_Retry(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		attempts  int
		wantCalls int
		wantErr   bool
	}{
		{"first try", 0, 3, 1, false},
		{"recovers on last attempt", 2, 3, 3, false},
		{"exhausted", 5, 3, 3, true},
		{"single attempt", 1, 1, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBreaker(breakerConfig(10, time.Minute), logging.Discard())
			b.SetRetryPolicy(tt.attempts, 2*time.Millisecond)

			op, calls := failN(tt.failures)
			err := b.Retry(context.Background(), op)
			assert.Equal(t, tt.wantCalls, *calls)
			if tt.wantErr {
				assert.ErrorIs(t, err, errReset)
				assert.ErrorContains(t, err, "gave up after")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBreaker_RetryStopsEarly(t *testing.T) {
	t.Run("remote error", func(t *testing.T) {
		b := NewBreaker(breakerConfig(10, time.Minute), logging.Discard())
		b.SetRetryPolicy(5, time.Millisecond)

		calls := 0
		err := b.Retry(context.Background(), func() error {
			calls++
			return &RemoteError{ErrorMessage{Code: CodeServerFull}}
		})
		assert.ErrorIs(t, err, ErrServerFull)
		assert.Equal(t, 1, calls)
	})

	t.Run("circuit opens", func(t *testing.T) {
		b := NewBreaker(breakerConfig(2, time.Minute), logging.Discard())
		b.SetRetryPolicy(5, time.Millisecond)

		op, calls := failN(100)
		err := b.Retry(context.Background(), op)
		assert.ErrorIs(t, err, gobreaker.ErrOpenState)
		assert.Equal(t, 2, *calls)
	})

	t.Run("context cancelled", func(t *testing.T) {
		b := NewBreaker(breakerConfig(10, time.Minute), logging.Discard())
		b.SetRetryPolicy(5, time.Second)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		start := time.Now()
		err := b.Retry(ctx, func() error { return errReset })
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 450*time.Millisecond)
	})
}

func TestJitter(t *testing.T) {
	assert.Equal(t, time.Duration(0), jitter(0))
	for range 100 {
		d := jitter(100 * time.Millisecond)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.Less(t, d, 100*time.Millisecond)
	}
}

func TestNewBreaker_Defaults(t *testing.T) {
	b := NewBreaker(breakerConfig(5, time.Minute), nil)
	assert.NotNil(t, b.log)
	assert.Equal(t, 3, b.attempts)
	assert.Equal(t, time.Second, b.backoff)

	b.SetRetryPolicy(0, time.Millisecond)
	assert.Equal(t, 1, b.attempts)
}

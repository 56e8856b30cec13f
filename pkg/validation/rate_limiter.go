package validation

import (
	"sync"
	"time"
)

// RateLimiter keeps one token bucket per session. A bucket holds up to
// burst tokens and refills continuously at burst per window.
type RateLimiter struct {
	burst  float64
	perSec float64
	idle   time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	stop chan struct{}
	once sync.Once
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// NewRateLimiter allows burst requests per window for each key. Keys idle for
// two windows are dropped by a background sweep until Close.
func NewRateLimiter(burst int, window time.Duration) *RateLimiter {
	return newRateLimiter(burst, window, time.Now)
}

func newRateLimiter(burst int, window time.Duration, now func() time.Time) *RateLimiter {
	rl := &RateLimiter{
		burst:   float64(burst),
		perSec:  float64(burst) / window.Seconds(),
		idle:    2 * window,
		now:     now,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go rl.sweep(window)
	return rl
}

// Allow takes one token from key's bucket if there is one.
func (rl *RateLimiter) Allow(key string) bool {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.burst, seen: now}
		rl.buckets[key] = b
	}
	b.tokens = min(rl.burst, b.tokens+now.Sub(b.seen).Seconds()*rl.perSec)
	b.seen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Remove forgets key.
func (rl *RateLimiter) Remove(key string) {
	rl.mu.Lock()
	delete(rl.buckets, key)
	rl.mu.Unlock()
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

func (rl *RateLimiter) sweep(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-t.C:
			rl.dropIdle()
		}
	}
}

func (rl *RateLimiter) dropIdle() {
	cutoff := rl.now().Add(-rl.idle)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		if b.seen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// Close stops the background sweep. Later calls do nothing.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

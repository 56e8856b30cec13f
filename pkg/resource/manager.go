// Package resource budgets the goroutines that serve sessions and rollouts
// and watches the process heap.
package resource

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/opd-ai/go-dronegym/pkg/config"
	"github.com/opd-ai/go-dronegym/pkg/logging"
)

var (
	// ErrGoroutineLimit is returned by StartGoroutine when every slot is taken.
	ErrGoroutineLimit = errors.New("goroutine limit exceeded")
	// ErrShutDown is returned by Start and StartGoroutine after Shutdown.
	ErrShutDown = errors.New("resource manager shut down")
)

// ResourceManager hands out a fixed number of goroutine slots and samples
// heap usage on an interval. Shutdown cancels and drains every slot.
type ResourceManager struct {
	limits  limits
	slots   *semaphore.Weighted
	logger  *logging.Logger
	base    context.Context
	cancel  context.CancelFunc
	tracked sync.WaitGroup
	loop    chan struct{}

	active atomic.Int64
	heapMB atomic.Int64
	peakMB atomic.Int64

	mu        sync.RWMutex
	state     lifecycle
	byName    map[string]int64
	sampledAt time.Time
}

type limits struct {
	heapMB     int64
	goroutines int64
	drain      time.Duration
	interval   time.Duration
}

type lifecycle int

const (
	idle lifecycle = iota
	monitoring
	stopped
)

// NewResourceManager reads its budgets from cfg. A nil logger falls back to
// logging.NewLogger.
func NewResourceManager(cfg *config.EnvironmentConfig, logger *logging.Logger) *ResourceManager {
	if logger == nil {
		logger = logging.NewLogger()
	}
	base, cancel := context.WithCancel(context.Background())
	return &ResourceManager{
		limits: limits{
			heapMB:     int64(cfg.MaxMemoryMB),
			goroutines: int64(cfg.MaxGoroutines),
			drain:      cfg.ShutdownTimeout,
			interval:   cfg.ResourceCheckInterval,
		},
		slots:  semaphore.NewWeighted(int64(cfg.MaxGoroutines)),
		logger: logger,
		base:   base,
		cancel: cancel,
		loop:   make(chan struct{}),
		byName: make(map[string]int64),
	}
}

// Start launches the heap sampling loop.
func (rm *ResourceManager) Start() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	switch rm.state {
	case monitoring:
		return fmt.Errorf("resource manager already running")
	case stopped:
		return ErrShutDown
	}
	rm.state = monitoring

	go rm.sample()
	rm.logger.Info(rm.base, "Resource manager started",
		"max_memory_mb", rm.limits.heapMB,
		"max_goroutines", rm.limits.goroutines,
		"check_interval", rm.limits.interval,
	)
	return nil
}

// StartGoroutine runs fn in one of the budgeted slots. fn's context is
// cancelled with ctx or on Shutdown. A panic in fn is logged and the slot
// released.
func (rm *ResourceManager) StartGoroutine(ctx context.Context, name string, fn func(context.Context)) error {
	rm.mu.Lock()
	if rm.state == stopped {
		rm.mu.Unlock()
		return ErrShutDown
	}
	if !rm.slots.TryAcquire(1) {
		rm.mu.Unlock()
		n := rm.active.Load()
		rm.logger.Warn(ctx, "Goroutine limit exceeded", "name", name, "current", n, "limit", rm.limits.goroutines)
		return fmt.Errorf("%w: %d/%d", ErrGoroutineLimit, n, rm.limits.goroutines)
	}
	rm.byName[name]++
	rm.active.Add(1)
	rm.tracked.Add(1)
	rm.mu.Unlock()

	gctx, cancel := context.WithCancel(ctx)
	unhook := context.AfterFunc(rm.base, cancel)

	go func() {
		defer rm.release(name)
		defer unhook()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				rm.logger.Error(ctx, "Goroutine panic", fmt.Errorf("panic: %v", r), "name", name)
			}
		}()
		fn(gctx)
	}()
	return nil
}

func (rm *ResourceManager) release(name string) {
	rm.mu.Lock()
	if rm.byName[name]--; rm.byName[name] <= 0 {
		delete(rm.byName, name)
	}
	rm.mu.Unlock()
	rm.slots.Release(1)
	rm.active.Add(-1)
	rm.tracked.Done()
}

// CheckMemoryUsage samples the heap and reports whether it is over budget.
func (rm *ResourceManager) CheckMemoryUsage() error {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	mb := int64(ms.Alloc >> 20)

	rm.heapMB.Store(mb)
	for {
		peak := rm.peakMB.Load()
		if mb <= peak || rm.peakMB.CompareAndSwap(peak, mb) {
			break
		}
	}
	rm.mu.Lock()
	rm.sampledAt = time.Now()
	rm.mu.Unlock()

	if mb > rm.limits.heapMB {
		return fmt.Errorf("memory usage %dMB exceeds limit %dMB", mb, rm.limits.heapMB)
	}
	return nil
}

// GetGoroutineCount returns how many slots are in use.
func (rm *ResourceManager) GetGoroutineCount() int64 {
	return rm.active.Load()
}

// Active returns how many running goroutines were started under name.
func (rm *ResourceManager) Active(name string) int64 {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.byName[name]
}

// GetMemoryUsage returns the most recent heap sample in MB, zero before the
// first sample.
func (rm *ResourceManager) GetMemoryUsage() int64 {
	return rm.heapMB.Load()
}

// ResourceStats is a point-in-time view of the manager's budgets.
type ResourceStats struct {
	GoroutineCount   int64            `json:"goroutineCount"`
	MaxGoroutines    int64            `json:"maxGoroutines"`
	GoroutinesByName map[string]int64 `json:"goroutinesByName"`
	MemoryUsageMB    int64            `json:"memoryUsageMB"`
	PeakMemoryMB     int64            `json:"peakMemoryMB"`
	MaxMemoryMB      int64            `json:"maxMemoryMB"`
	LastMemoryCheck  time.Time        `json:"lastMemoryCheck"`
}

func (rm *ResourceManager) GetResourceStats() ResourceStats {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return ResourceStats{
		GoroutineCount:   rm.active.Load(),
		MaxGoroutines:    rm.limits.goroutines,
		GoroutinesByName: maps.Clone(rm.byName),
		MemoryUsageMB:    rm.heapMB.Load(),
		PeakMemoryMB:     rm.peakMB.Load(),
		MaxMemoryMB:      rm.limits.heapMB,
		LastMemoryCheck:  rm.sampledAt,
	}
}

// Shutdown cancels every tracked goroutine and waits up to the configured
// ShutdownTimeout (or ctx, whichever ends first) for them to return. Later
// calls return nil immediately.
func (rm *ResourceManager) Shutdown(ctx context.Context) error {
	rm.mu.Lock()
	prev := rm.state
	rm.state = stopped
	rm.mu.Unlock()
	if prev == stopped {
		return nil
	}

	rm.logger.Info(ctx, "Shutting down resource manager", "active", rm.active.Load())
	rm.cancel()

	drainCtx := ctx
	if rm.limits.drain > 0 {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(ctx, rm.limits.drain)
		defer cancel()
	}

	if prev == monitoring {
		select {
		case <-rm.loop:
		case <-drainCtx.Done():
			rm.logger.Warn(ctx, "Resource sampling loop did not stop in time")
		}
	}

	if rm.active.Load() == 0 {
		return nil
	}
	drained := make(chan struct{})
	go func() {
		rm.tracked.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		rm.logger.Info(ctx, "All tracked goroutines finished")
		return nil
	case <-drainCtx.Done():
		left := rm.active.Load()
		rm.logger.Warn(ctx, "Shutdown timeout exceeded with goroutines still running", "remaining", left)
		return fmt.Errorf("shutdown timeout: %d goroutines still running", left)
	}
}

func (rm *ResourceManager) sample() {
	defer close(rm.loop)

	tick := time.NewTicker(rm.limits.interval)
	defer tick.Stop()

	for {
		select {
		case <-rm.base.Done():
			return
		case <-tick.C:
		}

		if err := rm.CheckMemoryUsage(); err != nil {
			rm.logger.Error(rm.base, "Memory limit exceeded", err, "limit_mb", rm.limits.heapMB)
		}
		rm.logger.Debug(rm.base, "Resource usage",
			"goroutines", rm.active.Load(),
			"memory_mb", rm.heapMB.Load(),
		)
	}
}

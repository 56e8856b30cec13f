package resource

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/go-dronegym/pkg/config"
	"github.com/opd-ai/go-dronegym/pkg/logging"
)

// ballast keeps an allocation reachable so heap usage is measurable
var ballast []byte

func newTestManager(maxMemoryMB, maxGoroutines int) *ResourceManager {
	return NewResourceManager(&config.EnvironmentConfig{
		MaxMemoryMB:           maxMemoryMB,
		MaxGoroutines:         maxGoroutines,
		ShutdownTimeout:       5 * time.Second,
		ResourceCheckInterval: 10 * time.Second,
	}, logging.Discard())
}

func waitForCount(t *testing.T, rm *ResourceManager, want int64) {
	t.Helper()
	assert.Eventually(t, func() bool { return rm.GetGoroutineCount() == want },
		2*time.Second, 5*time.Millisecond, "goroutine count never reached %d", want)
}

func TestNewResourceManager_Limits(t *testing.T) {
	t.Setenv("DRONESIM_MAX_GOROUTINES", "")
	cfg, err := config.LoadConfigFromEnv()
	require.NoError(t, err)
	rm := NewResourceManager(cfg, nil)
	defer rm.Shutdown(context.Background())

	stats := rm.GetResourceStats()
	assert.Equal(t, int64(1000), stats.MaxGoroutines)
	assert.Positive(t, stats.MaxMemoryMB)
	assert.Zero(t, stats.GoroutineCount)
	assert.True(t, stats.LastMemoryCheck.IsZero(), "no sample taken yet")
	assert.NotNil(t, rm.logger)
}

func TestResourceManager_SlotBudget(t *testing.T) {
	rm := newTestManager(500, 3)
	defer rm.Shutdown(context.Background())

	release := make(chan struct{})
	for range 2 {
		require.NoError(t, rm.StartGoroutine(context.Background(), "session", func(context.Context) { <-release }))
	}
	require.NoError(t, rm.StartGoroutine(context.Background(), "rollout", func(context.Context) { <-release }))

	assert.Equal(t, int64(2), rm.Active("session"))
	assert.Equal(t, int64(1), rm.Active("rollout"))
	assert.Equal(t, int64(3), rm.GetGoroutineCount())

	err := rm.StartGoroutine(context.Background(), "session", func(context.Context) {})
	assert.ErrorIs(t, err, ErrGoroutineLimit)
	assert.ErrorContains(t, err, "3/3")

	close(release)
	waitForCount(t, rm, 0)
	assert.Zero(t, rm.Active("session"))
	assert.Empty(t, rm.GetResourceStats().GoroutinesByName)

	// freed slots are reusable
	done := make(chan struct{})
	require.NoError(t, rm.StartGoroutine(context.Background(), "session", func(context.Context) { close(done) }))
	<-done
}

func TestResourceManager_CallerContextCancels(t *testing.T) {
	rm := newTestManager(500, 2)
	defer rm.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	require.NoError(t, rm.StartGoroutine(ctx, "session", func(gctx context.Context) {
		<-gctx.Done()
		close(exited)
	}))

	cancel()
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("goroutine ignored caller cancellation")
	}
	waitForCount(t, rm, 0)
}

func TestResourceManager_PanicReleasesSlot(t *testing.T) {
	rm := newTestManager(500, 1)
	defer rm.Shutdown(context.Background())

	require.NoError(t, rm.StartGoroutine(context.Background(), "session", func(context.Context) {
		panic("integrator diverged")
	}))
	waitForCount(t, rm, 0)

	assert.NoError(t, rm.StartGoroutine(context.Background(), "session", func(context.Context) {}),
		"the only slot must be free again after the panic")
}

func TestResourceManager_Memory(t *testing.T) {
	rm := newTestManager(4096, 10)
	defer rm.Shutdown(context.Background())

	ballast = make([]byte, 8<<20)
	defer func() { ballast = nil }()

	require.NoError(t, rm.CheckMemoryUsage())
	used := rm.GetMemoryUsage()
	require.Positive(t, used)

	stats := rm.GetResourceStats()
	assert.Equal(t, used, stats.MemoryUsageMB)
	assert.GreaterOrEqual(t, stats.PeakMemoryMB, used)
	assert.False(t, stats.LastMemoryCheck.IsZero())

	tight := newTestManager(int(used)-1, 10)
	defer tight.Shutdown(context.Background())
	assert.ErrorContains(t, tight.CheckMemoryUsage(), "exceeds limit")
}

func TestResourceManager_Lifecycle(t *testing.T) {
	rm := NewResourceManager(&config.EnvironmentConfig{
		MaxMemoryMB:           4096,
		MaxGoroutines:         10,
		ShutdownTimeout:       5 * time.Second,
		ResourceCheckInterval: 20 * time.Millisecond,
	}, logging.Discard())

	require.NoError(t, rm.Start())
	assert.Error(t, rm.Start(), "second Start")

	assert.Eventually(t, func() bool { return !rm.GetResourceStats().LastMemoryCheck.IsZero() },
		time.Second, 10*time.Millisecond, "sampling loop never ran")

	stopped := make(chan struct{})
	require.NoError(t, rm.StartGoroutine(context.Background(), "session", func(ctx context.Context) {
		<-ctx.Done()
		close(stopped)
	}))

	require.NoError(t, rm.Shutdown(context.Background()))
	select {
	case <-stopped:
	default:
		t.Fatal("Shutdown returned before the session goroutine exited")
	}

	assert.NoError(t, rm.Shutdown(context.Background()), "second Shutdown")
	assert.ErrorIs(t, rm.Start(), ErrShutDown)
	assert.ErrorIs(t, rm.StartGoroutine(context.Background(), "late", func(context.Context) {}), ErrShutDown)
}

func TestResourceManager_ShutdownTimeout(t *testing.T) {
	rm := NewResourceManager(&config.EnvironmentConfig{
		MaxMemoryMB:           500,
		MaxGoroutines:         10,
		ShutdownTimeout:       150 * time.Millisecond,
		ResourceCheckInterval: time.Second,
	}, logging.Discard())
	require.NoError(t, rm.Start())

	hold := make(chan struct{})
	defer close(hold)
	require.NoError(t, rm.StartGoroutine(context.Background(), "stubborn", func(context.Context) { <-hold }))

	start := time.Now()
	err := rm.Shutdown(context.Background())
	assert.ErrorContains(t, err, "1 goroutines still running")
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestResourceManager_ConcurrentStarts(t *testing.T) {
	rm := newTestManager(500, 8)
	defer rm.Shutdown(context.Background())

	release := make(chan struct{})
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, fail int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := rm.StartGoroutine(context.Background(), "worker", func(context.Context) { <-release })
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				fail++
			} else {
				ok++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, ok, "exactly the budget is granted")
	assert.Equal(t, 12, fail)
	close(release)
	waitForCount(t, rm, 0)
}

func BenchmarkResourceManager_StartGoroutine(b *testing.B) {
	rm := newTestManager(500, 1000)
	defer rm.Shutdown(context.Background())

	ctx := context.Background()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = rm.StartGoroutine(ctx, "bench", func(context.Context) {})
		}
	})
}

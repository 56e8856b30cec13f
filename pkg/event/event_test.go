// pkg/event/event_test.go
package event

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  Type
	}{
		{"episode start", NewEpisodeEvent(EpisodeStarted, "env", "ep-1", 0, 0, false), EpisodeStarted},
		{"episode end", NewEpisodeEvent(EpisodeEnded, "env", "ep-1", 40, -2, true), EpisodeEnded},
		{"step", NewStepEvent("env", "ep-1", 3, 0.25, false, 1.5, 0.8), StepCompleted},
		{"collision", NewCollisionEvent("env", 1, 2, 3.5), CollisionDetected},
		{"rejection", NewRejectionEvent("env", "ep-1", "wrong action count"), ActionRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.event.GetType())
			assert.Equal(t, "env", tt.event.GetSource())
		})
	}
}

func TestBus_RoutesByType(t *testing.T) {
	bus := NewEventBus()
	var collisions, steps int
	bus.Subscribe(CollisionDetected, func(Event) { collisions++ })
	bus.Subscribe(StepCompleted, func(Event) { steps++ })

	bus.Publish(NewCollisionEvent(nil, 1, 2, 3.5))
	bus.Publish(NewCollisionEvent(nil, 1, 2, 0))
	bus.Publish(NewRejectionEvent(nil, "ep", "no subscribers"))

	assert.Equal(t, 2, collisions)
	assert.Zero(t, steps)
}

func TestBus_SubscriptionOrder(t *testing.T) {
	bus := NewEventBus()
	var order []string
	for _, name := range []string{"logger", "telemetry", "recorder"} {
		bus.Subscribe(EpisodeEnded, func(Event) { order = append(order, name) })
	}
	bus.Publish(NewEpisodeEvent(EpisodeEnded, nil, "ep", 1, 0, false))
	assert.Equal(t, []string{"logger", "telemetry", "recorder"}, order)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus()
	var a, b int
	unsubA := bus.Subscribe(StepCompleted, func(Event) { a++ })
	bus.Subscribe(StepCompleted, func(Event) { b++ })

	bus.Publish(NewStepEvent(nil, "ep", 1, 0.5, false, 1, 2))
	unsubA()
	unsubA()
	bus.Publish(NewStepEvent(nil, "ep", 2, 0.5, false, 1, 2))

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
	assert.Equal(t, 1, bus.HandlerCount(StepCompleted))
}

func TestBus_UnsubscribeDuringPublish(t *testing.T) {
	bus := NewEventBus()
	calls := 0
	var unsub func()
	unsub = bus.Subscribe(CollisionDetected, func(Event) {
		calls++
		unsub()
	})
	bus.Subscribe(CollisionDetected, func(Event) { calls++ })

	bus.Publish(NewCollisionEvent(nil, 1, 2, 1))
	assert.Equal(t, 2, calls, "the in-flight publish still reaches both handlers")

	bus.Publish(NewCollisionEvent(nil, 1, 2, 1))
	assert.Equal(t, 3, calls)
}

func TestBus_Payload(t *testing.T) {
	bus := NewEventBus()
	var got *EpisodeEvent
	bus.Subscribe(EpisodeEnded, func(e Event) { got, _ = e.(*EpisodeEvent) })

	bus.Publish(NewEpisodeEvent(EpisodeEnded, "env", "abc", 12, -3.5, true))

	require.NotNil(t, got)
	assert.Equal(t, "abc", got.EpisodeID)
	assert.Equal(t, 12, got.Steps)
	assert.Equal(t, -3.5, got.Return)
	assert.True(t, got.Truncated)
}

func TestBus_ConcurrentSubscribe(t *testing.T) {
	bus := NewEventBus()
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		count int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Subscribe(ActionRejected, func(Event) {
				mu.Lock()
				count++
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	bus.Publish(NewRejectionEvent(nil, "ep", "discrete action space"))
	assert.Equal(t, 10, count)
}

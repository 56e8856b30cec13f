// pkg/event/event.go
package event

import (
	"sync"
)

// Type names what happened; handlers subscribe per Type.
type Type string

// Simulation event types
const (
	EpisodeStarted    Type = "episode_started"
	EpisodeEnded      Type = "episode_ended"
	StepCompleted     Type = "step_completed"
	CollisionDetected Type = "collision_detected"
	ActionRejected    Type = "action_rejected"
)

// Event is anything published on a Bus.
type Event interface {
	GetType() Type
	GetSource() any
}

// BaseEvent carries the Type and the publisher. Concrete events embed it.
type BaseEvent struct {
	EventType Type
	Source    any
}

func (e *BaseEvent) GetType() Type {
	return e.EventType
}

func (e *BaseEvent) GetSource() any {
	return e.Source
}

// Handler receives published events on the publisher's goroutine.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus manages event subscriptions and dispatching.
// Handlers run synchronously on the publishing goroutine.
type Bus struct {
	handlers map[Type][]subscription
	nextID   uint64
	mu       sync.RWMutex
}

func NewEventBus() *Bus {
	return &Bus{
		handlers: make(map[Type][]subscription),
		nextID:   1,
	}
}

// Subscribe registers a handler for a specific event type. The returned
// function removes the subscription.
func (b *Bus) Subscribe(eventType Type, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: id, handler: handler})

	return func() { b.unsubscribe(eventType, id) }
}

func (b *Bus) unsubscribe(eventType Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[eventType]
	for i, s := range subs {
		if s.id == id {
			// Copy so in-flight Publish calls keep their snapshot intact
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			b.handlers[eventType] = append(next, subs[i+1:]...)
			return
		}
	}
}

// Publish calls every handler subscribed to the event's type, in
// subscription order.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	subs := b.handlers[event.GetType()]
	b.mu.RUnlock()

	for _, s := range subs {
		s.handler(event)
	}
}

// HandlerCount returns the number of handlers registered for eventType
func (b *Bus) HandlerCount(eventType Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

// EpisodeEvent describes an episode boundary
type EpisodeEvent struct {
	BaseEvent
	EpisodeID string
	Steps     int
	Return    float64
	Truncated bool
}

// NewEpisodeEvent creates a new episode event
func NewEpisodeEvent(eventType Type, source any, episodeID string, steps int, ret float64, truncated bool) *EpisodeEvent {
	return &EpisodeEvent{
		BaseEvent: BaseEvent{
			EventType: eventType,
			Source:    source,
		},
		EpisodeID: episodeID,
		Steps:     steps,
		Return:    ret,
		Truncated: truncated,
	}
}

// StepEvent carries the outcome of one simulation step
type StepEvent struct {
	BaseEvent
	EpisodeID  string
	Step       int
	Reward     float64
	Done       bool
	EnergyUsed float64
	Distance   float64
}

// NewStepEvent creates a new step event
func NewStepEvent(source any, episodeID string, step int, reward float64, done bool, energy, distance float64) *StepEvent {
	return &StepEvent{
		BaseEvent: BaseEvent{
			EventType: StepCompleted,
			Source:    source,
		},
		EpisodeID:  episodeID,
		Step:       step,
		Reward:     reward,
		Done:       done,
		EnergyUsed: energy,
		Distance:   distance,
	}
}

// CollisionEvent contains information about a contact between two entities
type CollisionEvent struct {
	BaseEvent
	EntityA     uint64
	EntityB     uint64
	ImpactSpeed float64
}

// NewCollisionEvent reports contact between two entities at impactSpeed.
func NewCollisionEvent(source any, entityA, entityB uint64, impactSpeed float64) *CollisionEvent {
	return &CollisionEvent{
		BaseEvent: BaseEvent{
			EventType: CollisionDetected,
			Source:    source,
		},
		EntityA:     entityA,
		EntityB:     entityB,
		ImpactSpeed: impactSpeed,
	}
}

// RejectionEvent reports a step that was refused without touching state
type RejectionEvent struct {
	BaseEvent
	EpisodeID string
	Reason    string
}

// NewRejectionEvent creates a new rejection event
func NewRejectionEvent(source any, episodeID, reason string) *RejectionEvent {
	return &RejectionEvent{
		BaseEvent: BaseEvent{
			EventType: ActionRejected,
			Source:    source,
		},
		EpisodeID: episodeID,
		Reason:    reason,
	}
}

// pkg/engine/world_test.go
package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/go-dronegym/pkg/entity"
	"github.com/opd-ai/go-dronegym/pkg/event"
	"github.com/opd-ai/go-dronegym/pkg/physics"
)

func newFallingDrone(height float64) *entity.Drone {
	body := physics.NewRigidBody(1, physics.Vector3{X: 1, Y: 1, Z: 1})
	body.Position = physics.Vector3{Y: height}
	return entity.NewDrone(body, entity.CenterThruster(), 10, 0.25)
}

func TestWorld_AdvanceIntegratesFixedStep(t *testing.T) {
	w := NewWorld(0.02, physics.Vector3{Y: -10}, nil, 0)
	d := newFallingDrone(5)
	w.AddBody(&d.BasicEntity, d.Body)

	for i := 0; i < 10; i++ {
		w.Advance()
	}

	assert.InDelta(t, -2.0, d.Body.Velocity.Y, 1e-9)
	assert.Less(t, d.Body.Position.Y, 5.0)
	assert.Equal(t, 0.02, w.DeltaTime())
}

func TestWorld_RemoveStopsIntegration(t *testing.T) {
	w := NewWorld(0.02, physics.Vector3{Y: -10}, nil, 0)
	d := newFallingDrone(5)
	w.AddBody(&d.BasicEntity, d.Body)
	w.Remove(d.BasicEntity)

	w.Advance()
	assert.Equal(t, 5.0, d.Body.Position.Y)
}

func TestWorld_FloorContactPublishedOnce(t *testing.T) {
	bus := event.NewEventBus()
	var got []*event.CollisionEvent
	bus.Subscribe(event.CollisionDetected, func(e event.Event) {
		got = append(got, e.(*event.CollisionEvent))
	})

	w := NewWorld(0.02, physics.Vector3{Y: -10}, bus, 0)
	d := newFallingDrone(1)
	floor := entity.NewFloor(physics.Vector3{})
	w.AddBody(&d.BasicEntity, d.Body)
	w.AddContact(d, floor)

	for i := 0; i < 200; i++ {
		w.Advance()
	}

	require.Len(t, got, 1)
	assert.Equal(t, d.ID(), got[0].EntityA)
	assert.Equal(t, floor.ID(), got[0].EntityB)
	assert.Greater(t, got[0].ImpactSpeed, 0.0)
	assert.GreaterOrEqual(t, d.Body.Position.Y, 0.25-1e-9)

	// A new episode reports the next contact again
	w.ResetContacts()
	d.Body.Position.Y = 1
	d.Body.Velocity = physics.Vector3{}
	for i := 0; i < 200; i++ {
		w.Advance()
	}
	assert.Len(t, got, 2)
}

func TestWorld_ContactBelowThresholdIgnored(t *testing.T) {
	bus := event.NewEventBus()
	count := 0
	bus.Subscribe(event.CollisionDetected, func(event.Event) { count++ })

	w := NewWorld(0.02, physics.Vector3{Y: -10}, bus, 100)
	d := newFallingDrone(1)
	floor := entity.NewFloor(physics.Vector3{})
	w.AddBody(&d.BasicEntity, d.Body)
	w.AddContact(d, floor)

	for i := 0; i < 100; i++ {
		w.Advance()
	}
	assert.Zero(t, count)
	assert.GreaterOrEqual(t, d.Body.Position.Y, 0.25-1e-9)
}

func TestWorld_BodyBelowFloorPassesThrough(t *testing.T) {
	bus := event.NewEventBus()
	count := 0
	bus.Subscribe(event.CollisionDetected, func(event.Event) { count++ })

	w := NewWorld(0.02, physics.Vector3{Y: -10}, bus, 0)
	d := newFallingDrone(-1)
	w.AddBody(&d.BasicEntity, d.Body)
	w.AddContact(d, entity.NewFloor(physics.Vector3{}))

	for i := 0; i < 50; i++ {
		w.Advance()
	}
	assert.Zero(t, count)
	assert.Less(t, d.Body.Position.Y, -1.0)
}

func TestWorld_FastDescentDoesNotTunnel(t *testing.T) {
	bus := event.NewEventBus()
	var got []*event.CollisionEvent
	bus.Subscribe(event.CollisionDetected, func(e event.Event) {
		got = append(got, e.(*event.CollisionEvent))
	})

	w := NewWorld(0.02, physics.Vector3{Y: -10}, bus, 0)
	d := newFallingDrone(3)
	d.Body.Velocity.Y = -150 // three metres per tick
	floor := entity.NewFloor(physics.Vector3{Y: -0.5})
	w.AddBody(&d.BasicEntity, d.Body)
	w.AddContact(d, floor)

	for range 5 {
		w.Advance()
	}

	require.Len(t, got, 1)
	assert.Greater(t, got[0].ImpactSpeed, 100.0)
	assert.InDelta(t, -0.25, d.Body.Position.Y, 0.01, "drone rests on the floor")
	assert.GreaterOrEqual(t, d.Body.Velocity.Y, 0.0)
}

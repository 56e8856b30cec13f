// pkg/engine/world.go
package engine

import (
	"github.com/EngoEngine/ecs"

	"github.com/opd-ai/go-dronegym/pkg/entity"
	"github.com/opd-ai/go-dronegym/pkg/event"
	"github.com/opd-ai/go-dronegym/pkg/physics"
)

// World runs the fixed-step physics systems for one environment. Every
// Advance moves simulated time forward by exactly one FixedDeltaTime,
// independent of wall-clock time.
type World struct {
	systems     *ecs.World
	integration *IntegrationSystem
	contacts    *ContactSystem
}

// NewWorld creates a world with integration and floor-contact systems.
// Contacts are published on bus.
func NewWorld(dt float64, gravity physics.Vector3, bus *event.Bus, contactThreshold float64) *World {
	w := &World{
		systems:     &ecs.World{},
		integration: &IntegrationSystem{dt: dt, gravity: gravity},
		contacts: &ContactSystem{
			bus:       bus,
			threshold: contactThreshold,
			touching:  make(map[pairKey]bool),
		},
	}
	w.systems.AddSystem(w.integration)
	w.systems.AddSystem(w.contacts)
	return w
}

// AddBody registers a rigid body for integration
func (w *World) AddBody(basic *ecs.BasicEntity, body *physics.RigidBody) {
	w.integration.Add(basic, body)
}

// AddContact registers a drone/floor pair for contact detection
func (w *World) AddContact(drone *entity.Drone, floor *entity.Floor) {
	w.contacts.Add(drone, floor)
}

// Remove drops an entity from every system
func (w *World) Remove(basic ecs.BasicEntity) {
	w.systems.RemoveEntity(basic)
}

// Advance implements stepper.Integrator
func (w *World) Advance() {
	w.contacts.snapshot()
	// The ecs world hands systems a float32 delta; ours ignore it and use
	// the configured float64 step instead.
	w.systems.Update(float32(w.integration.dt))
}

// ResetContacts forgets which pairs are touching, so the next contact of a
// new episode is reported again.
func (w *World) ResetContacts() {
	w.contacts.reset()
}

// DeltaTime returns the fixed sub-step length
func (w *World) DeltaTime() float64 {
	return w.integration.dt
}

type bodyEntity struct {
	basic *ecs.BasicEntity
	body  *physics.RigidBody
}

// IntegrationSystem integrates every registered rigid body
type IntegrationSystem struct {
	dt      float64
	gravity physics.Vector3
	bodies  []bodyEntity
}

// Priority makes integration run before contact detection
func (s *IntegrationSystem) Priority() int { return 10 }

// Add registers a body
func (s *IntegrationSystem) Add(basic *ecs.BasicEntity, body *physics.RigidBody) {
	s.bodies = append(s.bodies, bodyEntity{basic: basic, body: body})
}

// Remove satisfies the ecs.System interface
func (s *IntegrationSystem) Remove(basic ecs.BasicEntity) {
	for i, e := range s.bodies {
		if e.basic.ID() == basic.ID() {
			s.bodies = append(s.bodies[:i], s.bodies[i+1:]...)
			return
		}
	}
}

// Update satisfies the ecs.System interface
func (s *IntegrationSystem) Update(float32) {
	for _, e := range s.bodies {
		e.body.Integrate(s.dt, s.gravity)
	}
}

type contactPair struct {
	drone *entity.Drone
	floor *entity.Floor
	from  physics.Sphere // collider before the current tick
}

type pairKey [2]uint64

func (p contactPair) key() pairKey {
	return pairKey{p.drone.ID(), p.floor.ID()}
}

// contactSlop is how far a resting drone may lift off before its contact ends
const contactSlop = 1e-3

// ContactSystem detects drones touching floors. The test is swept from the
// collider recorded before integration, so a drone cannot tunnel through a
// floor in one tick. Each contact is resolved by lifting the drone on top of
// the surface and is published once when it begins.
type ContactSystem struct {
	bus       *event.Bus
	threshold float64 // minimum downward speed that counts as a collision
	pairs     []contactPair
	touching  map[pairKey]bool
}

// Priority runs contact detection after integration
func (s *ContactSystem) Priority() int { return 0 }

// Add registers a drone/floor pair
func (s *ContactSystem) Add(drone *entity.Drone, floor *entity.Floor) {
	s.pairs = append(s.pairs, contactPair{drone: drone, floor: floor, from: drone.Collider()})
}

// snapshot records every drone's collider before integration moves it
func (s *ContactSystem) snapshot() {
	for i := range s.pairs {
		s.pairs[i].from = s.pairs[i].drone.Collider()
	}
}

// Remove satisfies the ecs.System interface
func (s *ContactSystem) Remove(basic ecs.BasicEntity) {
	kept := s.pairs[:0]
	for _, p := range s.pairs {
		if p.drone.ID() == basic.ID() || p.floor.ID() == basic.ID() {
			delete(s.touching, p.key())
			continue
		}
		kept = append(kept, p)
	}
	s.pairs = kept
}

// Update satisfies the ecs.System interface
func (s *ContactSystem) Update(float32) {
	for _, p := range s.pairs {
		key := p.key()
		collider := p.drone.Collider()
		res := physics.SweepPlaneContact(p.from, collider, p.floor.Plane())
		if !res.Collided {
			if collider.Center.Y-collider.Radius-p.floor.Position.Y > contactSlop {
				s.touching[key] = false
			}
			continue
		}

		body := p.drone.Body
		impact := -body.Velocity.Y
		if impact < 0 {
			impact = 0
		}
		body.Position = body.Position.Add(res.Normal.Scale(res.Penetration))
		if body.Velocity.Y < 0 {
			body.Velocity.Y = 0
		}

		if s.touching[key] || impact < s.threshold {
			continue
		}
		s.touching[key] = true
		if s.bus != nil {
			s.bus.Publish(event.NewCollisionEvent(s, p.drone.ID(), p.floor.ID(), impact))
		}
	}
}

func (s *ContactSystem) reset() {
	for k := range s.touching {
		delete(s.touching, k)
	}
}

// pkg/entity/drone.go
package entity

import (
	"github.com/EngoEngine/ecs"

	"github.com/opd-ai/go-dronegym/pkg/physics"
)

// Thruster is a force mount fixed to the drone body. Mount is expressed in
// body coordinates; thrust always acts along the body's local up axis.
type Thruster struct {
	Name  string
	Mount physics.Vector3
}

// QuadThrusters returns the four corner mounts of a quadcopter with the
// given arm length, in action order: front-right, front-left, rear-right, rear-left.
func QuadThrusters(arm float64) []Thruster {
	return []Thruster{
		{Name: "front_right", Mount: physics.Vector3{X: arm, Z: arm}},
		{Name: "front_left", Mount: physics.Vector3{X: -arm, Z: arm}},
		{Name: "rear_right", Mount: physics.Vector3{X: arm, Z: -arm}},
		{Name: "rear_left", Mount: physics.Vector3{X: -arm, Z: -arm}},
	}
}

// CenterThruster returns a single mount through the centre of mass, which
// moves the body vertically without producing torque.
func CenterThruster() []Thruster {
	return []Thruster{{Name: "center"}}
}

// Drone is the controlled body. Each action scalar drives one thruster.
type Drone struct {
	ecs.BasicEntity
	Body      *physics.RigidBody
	Thrusters []Thruster
	UpForce   float64 // per-thruster force limit
	Radius    float64 // collision radius
}

// NewDrone creates a drone with a fresh ECS identity
func NewDrone(body *physics.RigidBody, thrusters []Thruster, upForce, radius float64) *Drone {
	return &Drone{
		BasicEntity: ecs.NewBasic(),
		Body:        body,
		Thrusters:   thrusters,
		UpForce:     upForce,
		Radius:      radius,
	}
}

// GetID returns the drone's unique identifier
func (d *Drone) GetID() ID {
	return ID(d.BasicEntity.ID())
}

// GetPosition returns the drone's position
func (d *Drone) GetPosition() physics.Vector3 {
	return d.Body.Position
}

// SetPosition teleports the drone
func (d *Drone) SetPosition(p physics.Vector3) {
	d.Body.Position = p
}

// Collider returns the drone's collision shape at its current position
func (d *Drone) Collider() physics.Sphere {
	return physics.Sphere{Center: d.Body.Position, Radius: d.Radius}
}

// ThrusterPosition returns the world position of thruster i
func (d *Drone) ThrusterPosition(i int) physics.Vector3 {
	return d.Body.LocalToWorld(d.Thrusters[i].Mount)
}

// Render implements Entity
func (d *Drone) Render(r Renderer) {
	r.RenderDrone(d)
}

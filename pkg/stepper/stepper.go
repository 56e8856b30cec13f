// pkg/stepper/stepper.go
package stepper

import (
	"math"

	"github.com/opd-ai/go-dronegym/pkg/entity"
)

// Integrator advances the simulated world by one fixed sub-step
type Integrator interface {
	Advance()
}

// Result reports what one decision step applied to the drone
type Result struct {
	Forces     []float64 // scaled thrust per thruster, in [-UpForce, UpForce]
	EnergyUsed float64
}

// Clamp limits an action scalar to [-1, 1]. NaN counts as no thrust.
func Clamp(a float64) float64 {
	switch {
	case math.IsNaN(a):
		return 0
	case a > 1:
		return 1
	case a < -1:
		return -1
	}
	return a
}

// Scale clamps each action and scales it by upForce. Energy is the summed
// absolute thrust in units of upForce, so it ranges over [0, len(actions)].
func Scale(actions []float64, upForce float64) (forces []float64, energy float64) {
	forces = make([]float64, len(actions))
	for i, a := range actions {
		forces[i] = Clamp(a) * upForce
		energy += math.Abs(forces[i])
	}
	if upForce == 0 {
		return forces, 0
	}
	return forces, energy / math.Abs(upForce)
}

// Stepper turns action vectors into thruster forces held over a number of
// fixed sub-steps.
type Stepper struct {
	subSteps int
}

// New creates a stepper. Values below one are treated as a single sub-step.
func New(subSteps int) *Stepper {
	if subSteps < 1 {
		subSteps = 1
	}
	return &Stepper{subSteps: subSteps}
}

// SubSteps returns the number of integrator advances per decision step
func (s *Stepper) SubSteps() int {
	return s.subSteps
}

// Step applies actions to the drone's thrusters and advances world once per
// sub-step. Forces act at each thruster's world position along the body's
// current up axis, and are re-applied before every advance because the
// integrator clears accumulators. Extra actions beyond the thruster count are ignored.
func (s *Stepper) Step(d *entity.Drone, actions []float64, world Integrator) Result {
	n := len(actions)
	if n > len(d.Thrusters) {
		n = len(d.Thrusters)
	}
	forces, energy := Scale(actions[:n], d.UpForce)

	for sub := 0; sub < s.subSteps; sub++ {
		up := d.Body.Up()
		for i, f := range forces {
			if f == 0 {
				continue
			}
			d.Body.AddForceAtPosition(up.Scale(f), d.ThrusterPosition(i))
		}
		world.Advance()
	}

	return Result{Forces: forces, EnergyUsed: energy}
}

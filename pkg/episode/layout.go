// pkg/episode/layout.go
package episode

import (
	"math/rand/v2"

	"github.com/opd-ai/go-dronegym/pkg/entity"
	"github.com/opd-ai/go-dronegym/pkg/physics"
)

// Scene holds the entities an episode repositions. Floor is nil for tasks
// without an obstacle surface.
type Scene struct {
	Drone  *entity.Drone
	Target *entity.Target
	Floor  *entity.Floor
}

// Entities returns the non-nil entities of the scene
func (s *Scene) Entities() []entity.Entity {
	out := []entity.Entity{s.Drone, s.Target}
	if s.Floor != nil {
		out = append(out, s.Floor)
	}
	return out
}

// Layout places scene entities at the start of an episode
type Layout interface {
	Place(rng *rand.Rand, s *Scene)
}

// Scatter places the drone and the target independently inside the cube
// [Base+Min, Base+Max] on every axis.
type Scatter struct {
	Base     physics.Vector3
	Min, Max float64
}

// Bounds returns the placement volume
func (l Scatter) Bounds() physics.Bounds {
	return physics.BoundsAround(l.Base, l.Min, l.Max)
}

// Place implements Layout
func (l Scatter) Place(rng *rand.Rand, s *Scene) {
	b := l.Bounds()
	s.Drone.SetPosition(b.Lerp(unitVector(rng)))
	s.Target.Position = b.Lerp(unitVector(rng))
}

// Column stacks the scene vertically: the target sits at Base, the floor a
// random distance below it and the drone a random offset above or below it.
type Column struct {
	Base                                 physics.Vector3
	FloorOffsetMin, FloorOffsetMax       float64
	StartingHeightMin, StartingHeightMax float64
}

// Place implements Layout
func (l Column) Place(rng *rand.Rand, s *Scene) {
	s.Target.Position = l.Base
	if s.Floor != nil {
		s.Floor.Position = l.Base.Sub(physics.Vector3{Y: uniform(rng, l.FloorOffsetMin, l.FloorOffsetMax)})
	}
	s.Drone.SetPosition(l.Base.Add(physics.Vector3{Y: uniform(rng, l.StartingHeightMin, l.StartingHeightMax)}))
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func unitVector(rng *rand.Rand) physics.Vector3 {
	return physics.Vector3{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()}
}

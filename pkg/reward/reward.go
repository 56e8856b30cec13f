// pkg/reward/reward.go
package reward

import (
	"math"
)

// Outcome is everything an evaluator may look at for one step
type Outcome struct {
	PreviousDistance float64 // distance to target before the step
	Distance         float64 // distance to target after the step
	HeightDelta      float64 // target height minus agent height
	EnergyUsed       float64
}

// Evaluator scores an outcome. Implementations are pure.
type Evaluator interface {
	Evaluate(o Outcome) float64
	Name() string
}

// Progress rewards closing the distance to the target and charges for
// thrust. Inside GraceDistance moving away is not punished.
type Progress struct {
	Scale         float64
	EnergyScale   float64 // usually negative
	GraceDistance float64
}

// Evaluate implements Evaluator
func (p Progress) Evaluate(o Outcome) float64 {
	improvement := o.PreviousDistance - o.Distance
	if o.Distance < p.GraceDistance && improvement < 0 {
		improvement = 0
	}
	return p.Scale*improvement + p.EnergyScale*o.EnergyUsed
}

// Name implements Evaluator
func (p Progress) Name() string { return "progress" }

// Proximity pays an inverse-square bonus for holding the target height.
// The height gap is clamped to [Min, Max] so the reward stays finite.
type Proximity struct {
	PointValue float64
	Min        float64
	Max        float64
}

// Evaluate implements Evaluator
func (p Proximity) Evaluate(o Outcome) float64 {
	d := math.Abs(o.HeightDelta)
	if d < p.Min {
		d = p.Min
	}
	if d > p.Max {
		d = p.Max
	}
	scaled := 10 * d
	if scaled == 0 {
		return 0
	}
	return p.PointValue / (scaled * scaled)
}

// Name implements Evaluator
func (p Proximity) Name() string { return "proximity" }

package rollout

import (
	"math"
	"math/rand/v2"

	"github.com/opd-ai/go-dronegym/pkg/config"
	"github.com/opd-ai/go-dronegym/pkg/engine"
)

// Policy maps an observation to an action vector of spec.ActionSize values
type Policy interface {
	Act(obs engine.Observation, spec engine.Spec) []float64
}

// PolicyFunc adapts a function to Policy
type PolicyFunc func(obs engine.Observation, spec engine.Spec) []float64

// Act implements Policy
func (f PolicyFunc) Act(obs engine.Observation, spec engine.Spec) []float64 {
	return f(obs, spec)
}

// RandomPolicy samples every action uniformly from the spec's action range
func RandomPolicy(seed uint64) Policy {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return PolicyFunc(func(_ engine.Observation, spec engine.Spec) []float64 {
		actions := make([]float64, spec.ActionSize)
		for i := range actions {
			actions[i] = spec.ActionLow + rng.Float64()*(spec.ActionHigh-spec.ActionLow)
		}
		return actions
	})
}

// ConstantPolicy drives every thruster with value
func ConstantPolicy(value float64) Policy {
	return PolicyFunc(func(_ engine.Observation, spec engine.Spec) []float64 {
		actions := make([]float64, spec.ActionSize)
		for i := range actions {
			actions[i] = value
		}
		return actions
	})
}

// HoverPolicy applies the same thrust to every thruster, bias plus gain
// times the vertical gap to the target, clamped to the action range.
func HoverPolicy(bias, gain float64) Policy {
	return PolicyFunc(func(obs engine.Observation, spec engine.Spec) []float64 {
		u := bias + gain*verticalGap(obs, spec)
		u = math.Max(spec.ActionLow, math.Min(spec.ActionHigh, u))
		return ConstantPolicy(u).Act(obs, spec)
	})
}

// verticalGap reads the target's vertical offset from an observation.
// Obstacle observations carry it directly; direction observations carry a
// unit heading whose Y component has the same sign.
func verticalGap(obs engine.Observation, spec engine.Spec) float64 {
	switch {
	case spec.Task == config.TaskObstacle && len(obs) > 0:
		return obs[0]
	case len(obs) > 1:
		return obs[1]
	}
	return 0
}

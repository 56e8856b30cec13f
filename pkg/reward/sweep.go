// pkg/reward/sweep.go
package reward

import (
	"math"
)

// Sample is one point of a reward sweep
type Sample struct {
	Height float64 `json:"height"`
	Reward float64 `json:"reward"`
	Shade  float64 `json:"shade"` // grayscale intensity in [0, 1]
}

// Shade maps a reward to a grayscale intensity
func Shade(reward float64) float64 {
	s := reward * 5
	if math.IsNaN(s) || s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// Sweep evaluates outcomeAt for heights from min up to, but excluding, max.
// Heights are derived from an integer index so the grid does not drift.
func Sweep(e Evaluator, min, max, step float64, outcomeAt func(height float64) Outcome) []Sample {
	if step <= 0 || max <= min {
		return nil
	}
	n := int(math.Ceil((max-min)/step - 1e-9))
	samples := make([]Sample, 0, n)
	for i := 0; i < n; i++ {
		h := min + float64(i)*step
		r := e.Evaluate(outcomeAt(h))
		samples = append(samples, Sample{Height: h, Reward: r, Shade: Shade(r)})
	}
	return samples
}

package reward

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgress_Evaluate(t *testing.T) {
	p := Progress{Scale: 1, EnergyScale: -0.01, GraceDistance: 0.1}

	tests := []struct {
		name    string
		outcome Outcome
		want    float64
	}{
		{"closing_in", Outcome{PreviousDistance: 2, Distance: 1.5}, 0.5},
		{"moving_away", Outcome{PreviousDistance: 1.5, Distance: 2}, -0.5},
		{"energy_charged", Outcome{PreviousDistance: 1, Distance: 1, EnergyUsed: 4}, -0.04},
		{"away_inside_grace", Outcome{PreviousDistance: 0.02, Distance: 0.05}, 0},
		{"closer_inside_grace", Outcome{PreviousDistance: 0.08, Distance: 0.05}, 0.03},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, p.Evaluate(tt.outcome), 1e-12)
		})
	}
}

func TestProgress_PositiveOutsideGrace(t *testing.T) {
	p := Progress{Scale: 1, GraceDistance: 0.1}
	for _, prev := range []float64{0.5, 1, 3, 10} {
		for _, frac := range []float64{0.01, 0.3, 0.8} {
			cur := prev * (1 - frac)
			if cur < p.GraceDistance {
				continue
			}
			assert.Greater(t, p.Evaluate(Outcome{PreviousDistance: prev, Distance: cur}), 0.0,
				"prev=%v cur=%v", prev, cur)
		}
	}
}

func TestProximity_Evaluate(t *testing.T) {
	p := Proximity{PointValue: 0.1, Min: 0.1, Max: 1}

	tests := []struct {
		name  string
		delta float64
		want  float64
	}{
		{"on_target_clamped_to_min", 0, 0.1},
		{"at_min", 0.1, 0.1},
		{"half", 0.5, 0.004},
		{"below_target", -0.5, 0.004},
		{"at_max", 1, 0.001},
		{"beyond_max", 3, 0.001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, p.Evaluate(Outcome{HeightDelta: tt.delta}), 1e-12)
		})
	}
}

func TestProximity_Monotonic(t *testing.T) {
	p := Proximity{PointValue: 0.1, Min: 0.1, Max: 1}
	prev := p.Evaluate(Outcome{HeightDelta: 0})
	for i := 1; i <= 300; i++ {
		d := float64(i) * 0.005
		cur := p.Evaluate(Outcome{HeightDelta: d})
		if d > p.Min+1e-9 && d <= p.Max {
			assert.Less(t, cur, prev, "not strictly decreasing at |dh|=%v", d)
		} else {
			assert.LessOrEqual(t, cur, prev, "increasing at |dh|=%v", d)
		}
		prev = cur
	}
}

func TestShade(t *testing.T) {
	tests := []struct {
		reward float64
		want   float64
	}{
		{-1, 0},
		{0, 0},
		{0.1, 0.5},
		{0.2, 1},
		{5, 1},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Shade(tt.reward), 1e-12, "reward %v", tt.reward)
	}
}

func TestSweep_GridAndPurity(t *testing.T) {
	p := Proximity{PointValue: 0.1, Min: 0.1, Max: 1}
	calls := 0
	samples := Sweep(p, -2, 2, 0.05, func(h float64) Outcome {
		calls++
		return Outcome{HeightDelta: 0.3 - h}
	})

	require.Len(t, samples, 80)
	assert.Equal(t, 80, calls)
	assert.InDelta(t, -2.0, samples[0].Height, 1e-12)
	assert.InDelta(t, 1.95, samples[len(samples)-1].Height, 1e-9)
	for _, s := range samples {
		assert.GreaterOrEqual(t, s.Shade, 0.0)
		assert.LessOrEqual(t, s.Shade, 1.0)
	}

	assert.Nil(t, Sweep(p, 1, 1, 0.05, nil))
	assert.Nil(t, Sweep(p, 0, 1, 0, nil))
}

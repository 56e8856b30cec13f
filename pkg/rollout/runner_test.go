package rollout

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/go-dronegym/pkg/config"
	"github.com/opd-ai/go-dronegym/pkg/engine"
	"github.com/opd-ai/go-dronegym/pkg/logging"
	"github.com/opd-ai/go-dronegym/pkg/network"
)

var (
	_ Environment = (*engine.Env)(nil)
	_ Environment = (*network.EnvClient)(nil)
)

func localEnvs(cfg *config.SimConfig) EnvFactory {
	return func(ctx context.Context, worker int, seed uint64) (Environment, error) {
		return engine.NewEnv(cfg, engine.WithSeed(seed), engine.WithLogger(logging.Discard()))
	}
}

func randomPolicies(worker int, seed uint64) Policy {
	return RandomPolicy(seed)
}

// fakeEnv ends every episode after length steps
type fakeEnv struct {
	length  int
	step    int
	failAt  int
	closed  atomic.Bool
	resets  int
	actions [][]float64
}

func (f *fakeEnv) Reset(ctx context.Context) (engine.Observation, error) {
	f.step = 0
	f.resets++
	return engine.Observation{0}, nil
}

func (f *fakeEnv) Step(ctx context.Context, actions []float64) (engine.StepResult, error) {
	f.step++
	if f.failAt > 0 && f.step == f.failAt {
		return engine.StepResult{}, engine.ErrEpisodeDone
	}
	f.actions = append(f.actions, actions)
	return engine.StepResult{
		Observation: engine.Observation{float64(f.step)},
		Reward:      1,
		Done:        f.step >= f.length,
		Info:        engine.StepInfo{EpisodeID: "fake", Step: f.step, Distance: float64(f.length - f.step)},
	}, nil
}

func (f *fakeEnv) Spec() engine.Spec {
	return engine.Spec{ActionSize: 2, ActionLow: -1, ActionHigh: 1}
}

func (f *fakeEnv) Close() error {
	f.closed.Store(true)
	return nil
}

func TestWorkerSeed(t *testing.T) {
	assert.Equal(t, WorkerSeed(7, 0), WorkerSeed(7, 0))
	assert.NotEqual(t, WorkerSeed(7, 0), WorkerSeed(7, 1))
	assert.NotEqual(t, WorkerSeed(7, 0), WorkerSeed(8, 0))
}

func TestRunner_FakeEnvironment(t *testing.T) {
	env := &fakeEnv{length: 5}
	r := NewRunner(
		func(ctx context.Context, worker int, seed uint64) (Environment, error) { return env, nil },
		func(worker int, seed uint64) Policy { return ConstantPolicy(0.3) },
		Options{EpisodesPerWorker: 3},
		logging.Discard(),
	)

	var steps atomic.Int64
	r.opts.OnStep = func(worker int, res engine.StepResult) { steps.Add(1) }

	episodes, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, episodes, 3)

	for i, ep := range episodes {
		assert.Equal(t, i, ep.Index)
		assert.Equal(t, 5, ep.Steps)
		assert.Equal(t, 5.0, ep.Return)
		assert.True(t, ep.Done)
		assert.Zero(t, ep.FinalDistance)
		assert.Equal(t, "fake", ep.EpisodeID)
	}
	assert.Equal(t, int64(15), steps.Load())
	assert.Equal(t, 3, env.resets)
	assert.True(t, env.closed.Load())
	assert.Equal(t, []float64{0.3, 0.3}, env.actions[0])
}

func TestRunner_MaxSteps(t *testing.T) {
	env := &fakeEnv{length: 100}
	r := NewRunner(
		func(ctx context.Context, worker int, seed uint64) (Environment, error) { return env, nil },
		func(worker int, seed uint64) Policy { return ConstantPolicy(0) },
		Options{MaxSteps: 4},
		logging.Discard(),
	)

	episodes, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, episodes, 1)
	assert.Equal(t, 4, episodes[0].Steps)
	assert.False(t, episodes[0].Done)
}

func TestRunner_Errors(t *testing.T) {
	errFactory := errors.New("no environment")

	t.Run("factory", func(t *testing.T) {
		r := NewRunner(
			func(ctx context.Context, worker int, seed uint64) (Environment, error) { return nil, errFactory },
			randomPolicies,
			Options{Workers: 3},
			logging.Discard(),
		)
		_, err := r.Run(context.Background())
		assert.ErrorIs(t, err, errFactory)
	})

	t.Run("step", func(t *testing.T) {
		env := &fakeEnv{length: 10, failAt: 2}
		r := NewRunner(
			func(ctx context.Context, worker int, seed uint64) (Environment, error) { return env, nil },
			randomPolicies,
			Options{},
			logging.Discard(),
		)
		_, err := r.Run(context.Background())
		assert.ErrorIs(t, err, engine.ErrEpisodeDone)
		assert.True(t, env.closed.Load())
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		cfg := config.DefaultConfig(config.TaskDirection)
		r := NewRunner(localEnvs(cfg), randomPolicies, Options{Workers: 2}, logging.Discard())
		_, err := r.Run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRunner_LocalEnvironmentsAreReproducible(t *testing.T) {
	cfg := config.DefaultConfig(config.TaskDirection)
	cfg.Episode.MaxSteps = 20
	opts := Options{Workers: 3, EpisodesPerWorker: 2, Seed: 42}

	first, err := NewRunner(localEnvs(cfg), randomPolicies, opts, logging.Discard()).Run(context.Background())
	require.NoError(t, err)
	second, err := NewRunner(localEnvs(cfg), randomPolicies, opts, logging.Discard()).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, first, 6)
	for i := range first {
		assert.Equal(t, first[i].Worker, second[i].Worker)
		assert.Equal(t, first[i].Seed, second[i].Seed)
		assert.Equal(t, first[i].Steps, second[i].Steps)
		assert.InDelta(t, first[i].Return, second[i].Return, 1e-12)
		assert.True(t, first[i].Done)
		assert.LessOrEqual(t, first[i].Steps, 20)
	}
	assert.NotEqual(t, first[0].Seed, first[2].Seed, "workers should use different seeds")
}

func TestRunner_ObstacleFalling(t *testing.T) {
	cfg := config.DefaultConfig(config.TaskObstacle)
	cfg.Episode.MaxSteps = 50
	// Spawn above the floor so every dive has to end on it
	cfg.Episode.StartingHeightMin = 0
	r := NewRunner(localEnvs(cfg),
		func(worker int, seed uint64) Policy { return ConstantPolicy(-1) },
		Options{Workers: 2},
		logging.Discard(),
	)

	episodes, err := r.Run(context.Background())
	require.NoError(t, err)
	for _, ep := range episodes {
		assert.True(t, ep.Done)
		assert.True(t, ep.Collided, "episode %d fell through the floor", ep.Index)
		assert.False(t, ep.Truncated)
		assert.Less(t, ep.Steps, cfg.Episode.MaxSteps)
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name     string
		episodes []Episode
		expect   Summary
	}{
		{
			name:   "empty",
			expect: Summary{},
		},
		{
			name:     "single",
			episodes: []Episode{{Return: 2, Steps: 4, Collided: true}},
			expect:   Summary{Episodes: 1, MeanReturn: 2, MeanSteps: 4, CollisionRate: 1},
		},
		{
			name: "several",
			episodes: []Episode{
				{Return: 1, Steps: 2},
				{Return: 3, Steps: 4, Collided: true},
			},
			expect: Summary{Episodes: 2, MeanReturn: 2, StdReturn: 1.4142135623730951, MeanSteps: 3, CollisionRate: 0.5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Summarize(tt.episodes)
			assert.Equal(t, tt.expect.Episodes, got.Episodes)
			assert.InDelta(t, tt.expect.MeanReturn, got.MeanReturn, 1e-9)
			assert.InDelta(t, tt.expect.StdReturn, got.StdReturn, 1e-9)
			assert.InDelta(t, tt.expect.MeanSteps, got.MeanSteps, 1e-9)
			assert.InDelta(t, tt.expect.CollisionRate, got.CollisionRate, 1e-9)
		})
	}
}

// Package rollout drives environments with policies, one worker per
// environment, and collects per-episode results.
package rollout

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/opd-ai/go-dronegym/pkg/engine"
	"github.com/opd-ai/go-dronegym/pkg/logging"
)

// Environment is the Reset/Step surface shared by engine.Env and
// network.EnvClient
type Environment interface {
	Reset(ctx context.Context) (engine.Observation, error)
	Step(ctx context.Context, actions []float64) (engine.StepResult, error)
	Spec() engine.Spec
}

// EnvFactory creates the environment for one worker. Environments that
// implement io.Closer are closed when the worker finishes.
type EnvFactory func(ctx context.Context, worker int, seed uint64) (Environment, error)

// PolicyFactory creates the policy for one worker
type PolicyFactory func(worker int, seed uint64) Policy

// StepHook observes every step. It is called from worker goroutines.
type StepHook func(worker int, res engine.StepResult)

// Options controls a rollout
type Options struct {
	Workers           int
	EpisodesPerWorker int
	// MaxSteps stops an episode that has not ended on its own. 0 runs each
	// episode until the environment reports done.
	MaxSteps int
	Seed     uint64
	OnStep   StepHook
}

// Episode is the outcome of one episode
type Episode struct {
	Worker        int     `json:"worker"`
	Index         int     `json:"index"`
	Seed          uint64  `json:"seed"`
	EpisodeID     string  `json:"episodeId"`
	Steps         int     `json:"steps"`
	Return        float64 `json:"return"`
	EnergyUsed    float64 `json:"energyUsed"`
	FinalDistance float64 `json:"finalDistance"`
	Done          bool    `json:"done"`
	Truncated     bool    `json:"truncated"`
	Collided      bool    `json:"collided"`
}

// Summary aggregates a set of episodes
type Summary struct {
	Episodes      int     `json:"episodes"`
	MeanReturn    float64 `json:"meanReturn"`
	StdReturn     float64 `json:"stdReturn"`
	MeanSteps     float64 `json:"meanSteps"`
	CollisionRate float64 `json:"collisionRate"`
}

// Runner runs Options.Workers environments in parallel
type Runner struct {
	envs     EnvFactory
	policies PolicyFactory
	opts     Options
	logger   *logging.Logger
}

// NewRunner creates a runner. Workers and EpisodesPerWorker default to 1.
func NewRunner(envs EnvFactory, policies PolicyFactory, opts Options, logger *logging.Logger) *Runner {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.EpisodesPerWorker < 1 {
		opts.EpisodesPerWorker = 1
	}
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Runner{envs: envs, policies: policies, opts: opts, logger: logger}
}

// WorkerSeed derives a worker's seed from the base seed. Distinct workers
// get unrelated seeds; the mapping is stable across runs.
func WorkerSeed(base uint64, worker int) uint64 {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], base)
	binary.BigEndian.PutUint64(buf[8:], uint64(worker))
	return xxhash.Sum64(buf[:])
}

// Run executes every worker and returns the episodes ordered by worker and
// index. The first worker error cancels the others.
func (r *Runner) Run(ctx context.Context) ([]Episode, error) {
	episodes := make([]Episode, r.opts.Workers*r.opts.EpisodesPerWorker)
	g, gctx := errgroup.WithContext(ctx)

	start := time.Now()
	for w := 0; w < r.opts.Workers; w++ {
		g.Go(func() error {
			out := episodes[w*r.opts.EpisodesPerWorker : (w+1)*r.opts.EpisodesPerWorker]
			return r.runWorker(gctx, w, out)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sum := Summarize(episodes)
	r.logger.Info(ctx, "Rollout finished",
		"workers", r.opts.Workers,
		"episodes", sum.Episodes,
		"mean_return", sum.MeanReturn,
		"collision_rate", sum.CollisionRate,
		"elapsed", time.Since(start),
	)
	return episodes, nil
}

func (r *Runner) runWorker(ctx context.Context, worker int, out []Episode) (err error) {
	seed := WorkerSeed(r.opts.Seed, worker)
	env, err := r.envs(ctx, worker, seed)
	if err != nil {
		return fmt.Errorf("worker %d: create environment: %w", worker, err)
	}
	if c, ok := env.(io.Closer); ok {
		defer func() {
			err = errors.Join(err, c.Close())
		}()
	}

	policy := r.policies(worker, seed)
	spec := env.Spec()
	for i := range out {
		ep, err := r.runEpisode(ctx, env, policy, spec, worker)
		if err != nil {
			return fmt.Errorf("worker %d episode %d: %w", worker, i, err)
		}
		ep.Index = i
		ep.Seed = seed
		out[i] = ep
	}
	return nil
}

func (r *Runner) runEpisode(ctx context.Context, env Environment, policy Policy, spec engine.Spec, worker int) (Episode, error) {
	ep := Episode{Worker: worker}

	obs, err := env.Reset(ctx)
	if err != nil {
		return ep, fmt.Errorf("reset: %w", err)
	}
	for r.opts.MaxSteps == 0 || ep.Steps < r.opts.MaxSteps {
		res, err := env.Step(ctx, policy.Act(obs, spec))
		if err != nil {
			return ep, fmt.Errorf("step %d: %w", ep.Steps+1, err)
		}
		if r.opts.OnStep != nil {
			r.opts.OnStep(worker, res)
		}

		ep.EpisodeID = res.Info.EpisodeID
		ep.Steps++
		ep.Return += res.Reward
		ep.EnergyUsed += res.Info.EnergyUsed
		ep.FinalDistance = res.Info.Distance
		ep.Collided = ep.Collided || res.Info.Collided
		obs = res.Observation

		if res.Done {
			ep.Done = true
			ep.Truncated = res.Truncated
			break
		}
	}

	r.logger.Debug(logging.WithEpisodeID(ctx, ep.EpisodeID), "Episode finished",
		"worker", worker,
		"steps", ep.Steps,
		"return", ep.Return,
		"collided", ep.Collided,
	)
	return ep, nil
}

// Summarize computes aggregate statistics over episodes
func Summarize(episodes []Episode) Summary {
	s := Summary{Episodes: len(episodes)}
	if len(episodes) == 0 {
		return s
	}

	returns := make([]float64, len(episodes))
	steps := make([]float64, len(episodes))
	collisions := 0
	for i, ep := range episodes {
		returns[i] = ep.Return
		steps[i] = float64(ep.Steps)
		if ep.Collided {
			collisions++
		}
	}

	s.MeanReturn, s.StdReturn = stat.MeanStdDev(returns, nil)
	if len(episodes) == 1 {
		s.StdReturn = 0
	}
	s.MeanSteps = stat.Mean(steps, nil)
	s.CollisionRate = float64(collisions) / float64(len(episodes))
	return s
}

// pkg/engine/env.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/opd-ai/go-dronegym/pkg/config"
	"github.com/opd-ai/go-dronegym/pkg/entity"
	"github.com/opd-ai/go-dronegym/pkg/episode"
	"github.com/opd-ai/go-dronegym/pkg/event"
	"github.com/opd-ai/go-dronegym/pkg/logging"
	"github.com/opd-ai/go-dronegym/pkg/physics"
	"github.com/opd-ai/go-dronegym/pkg/reward"
	"github.com/opd-ai/go-dronegym/pkg/stepper"
)

var (
	// ErrUnsupportedActionSpace is returned when the environment is not
	// configured for continuous actions. The step is skipped.
	ErrUnsupportedActionSpace = errors.New("unsupported action space")
	// ErrActionSize is returned when the action vector does not have one
	// value per thruster.
	ErrActionSize = errors.New("wrong number of actions")
	// ErrEpisodeDone is returned by Step once the episode has ended
	ErrEpisodeDone = errors.New("episode is done, call Reset")
	// ErrNotReset is returned by Step before the first Reset
	ErrNotReset = errors.New("environment has not been reset")
)

// Observation is the flat feature vector handed to a controller
type Observation []float64

// StepInfo carries diagnostics that are not part of the observation
type StepInfo struct {
	EpisodeID  string  `json:"episodeId"`
	Step       int     `json:"step"`
	EnergyUsed float64 `json:"energyUsed"`
	Distance   float64 `json:"distance"`
	Collided   bool    `json:"collided"`
}

// StepResult is the immutable outcome of one decision step
type StepResult struct {
	Observation Observation `json:"observation"`
	Reward      float64     `json:"reward"`
	Done        bool        `json:"done"`
	Truncated   bool        `json:"truncated"`
	Info        StepInfo    `json:"info"`
}

// Spec describes the shape of an environment's actions and observations
type Spec struct {
	Task            config.Task      `json:"task"`
	ActionSpace     config.SpaceType `json:"actionSpace"`
	ActionSize      int              `json:"actionSize"`
	ActionLow       float64          `json:"actionLow"`
	ActionHigh      float64          `json:"actionHigh"`
	ObservationSize int              `json:"observationSize"`
	UpForce         float64          `json:"upForce"`
	MaxSteps        int              `json:"maxSteps"`
}

// Snapshot is a copy of the full simulation state
type Snapshot struct {
	EpisodeID       string          `json:"episodeId"`
	Step            int             `json:"step"`
	Position        physics.Vector3 `json:"position"`
	Velocity        physics.Vector3 `json:"velocity"`
	AngularVelocity physics.Vector3 `json:"angularVelocity"`
	Rotation        []float64       `json:"rotation"` // x, y, z, w
	Target          physics.Vector3 `json:"target"`
	FloorHeight     *float64        `json:"floorHeight,omitempty"`
	PrevDistance    float64         `json:"previousDistance"`
	Return          float64         `json:"return"`
	Done            bool            `json:"done"`
	Truncated       bool            `json:"truncated"`
}

// Option configures an Env
type Option func(*Env)

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Env) { e.log = l }
}

// WithEventBus publishes environment events on bus instead of a private one
func WithEventBus(bus *event.Bus) Option {
	return func(e *Env) { e.bus = bus }
}

// WithSeed overrides the configured episode seed
func WithSeed(seed uint64) Option {
	return func(e *Env) { e.seed = seed }
}

// Env is a single simulated drone task driven by explicit Reset and Step
// calls. An Env is not safe for concurrent use.
type Env struct {
	cfg  *config.SimConfig
	log  *logging.Logger
	bus  *event.Bus
	seed uint64

	scene      *episode.Scene
	world      *World
	stepper    *stepper.Stepper
	evaluator  reward.Evaluator
	controller *episode.Controller

	unsubscribe func()
	lastSweep   []reward.Sample
}

// NewEnv builds an environment for cfg. The configuration is validated first.
func NewEnv(cfg *config.SimConfig, opts ...Option) (*Env, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil configuration", config.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, logging.WrapError(err, "creating %s environment", cfg.Task)
	}

	e := &Env{
		cfg:  cfg,
		seed: cfg.Episode.Seed,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logging.Discard()
	}
	if e.bus == nil {
		e.bus = event.NewEventBus()
	}

	e.buildScene()
	e.world = NewWorld(cfg.Physics.FixedDeltaTime, cfg.Physics.Gravity, e.bus, cfg.Reward.CollisionVelocityThreshold)
	e.world.AddBody(&e.scene.Drone.BasicEntity, e.scene.Drone.Body)
	if e.scene.Floor != nil {
		e.world.AddContact(e.scene.Drone, e.scene.Floor)
	}
	e.stepper = stepper.New(cfg.Physics.SubSteps)

	layout, distance := e.taskLayout()
	e.evaluator = e.taskEvaluator()
	e.controller = episode.NewController(e.scene, layout, episode.Options{
		Seed:             e.seed,
		MaxSteps:         cfg.Episode.MaxSteps,
		CollisionPenalty: cfg.Reward.OnCollisionPoints,
		Distance:         distance,
		OutOfBounds:      e.fallenThrough(),
	})

	droneID := e.scene.Drone.ID()
	e.unsubscribe = e.bus.Subscribe(event.CollisionDetected, func(ev event.Event) {
		if c, ok := ev.(*event.CollisionEvent); ok && (c.EntityA == droneID || c.EntityB == droneID) {
			e.controller.NotifyCollision()
		}
	})

	return e, nil
}

func (e *Env) buildScene() {
	d := e.cfg.Drone
	body := physics.NewRigidBody(d.Mass, d.Inertia)
	body.Drag = d.Drag
	body.AngularDrag = d.AngularDrag
	body.MaxAngularSpeed = d.MaxAngularSpeed
	body.Position = d.BasePosition

	thrusters := entity.QuadThrusters(d.ArmLength)
	if e.cfg.Task == config.TaskObstacle {
		thrusters = entity.CenterThruster()
	}

	e.scene = &episode.Scene{
		Drone:  entity.NewDrone(body, thrusters, d.UpForce, d.Radius),
		Target: entity.NewTarget(d.BasePosition),
	}
	if e.cfg.Task == config.TaskObstacle {
		e.scene.Floor = entity.NewFloor(d.BasePosition)
	}
}

func (e *Env) taskLayout() (episode.Layout, func(*episode.Scene) float64) {
	ep := e.cfg.Episode
	if e.cfg.Task == config.TaskObstacle {
		return episode.Column{
			Base:              e.cfg.Drone.BasePosition,
			FloorOffsetMin:    ep.FloorOffsetMin,
			FloorOffsetMax:    ep.FloorOffsetMax,
			StartingHeightMin: ep.StartingHeightMin,
			StartingHeightMax: ep.StartingHeightMax,
		}, heightGap
	}
	return episode.Scatter{
		Base: e.cfg.Drone.BasePosition,
		Min:  ep.StartingHeightMin,
		Max:  ep.StartingHeightMax,
	}, episode.StraightLine
}

// fallenThrough reports drones that are more than FallLimit below the floor.
// A one-sided floor cannot stop a drone that starts underneath it.
func (e *Env) fallenThrough() func(*episode.Scene) bool {
	limit := e.cfg.Episode.FallLimit
	if e.cfg.Task != config.TaskObstacle || limit <= 0 {
		return nil
	}
	return func(s *episode.Scene) bool {
		return s.Floor.Position.Y-s.Drone.GetPosition().Y > limit
	}
}

func heightGap(s *episode.Scene) float64 {
	return math.Abs(s.Target.Position.Y - s.Drone.GetPosition().Y)
}

func (e *Env) taskEvaluator() reward.Evaluator {
	r := e.cfg.Reward
	if e.cfg.Task == config.TaskObstacle {
		return reward.Proximity{
			PointValue: r.OnMarkerPoints,
			Min:        r.MinRewardDistance,
			Max:        r.MaxRewardDistance,
		}
	}
	return reward.Progress{
		Scale:         r.RewardScale,
		EnergyScale:   r.EnergyRewardScale,
		GraceDistance: r.GraceDistance,
	}
}

// Close detaches the environment from its event bus
func (e *Env) Close() error {
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
	return nil
}

// Reset starts a new episode and returns the first observation
func (e *Env) Reset(ctx context.Context) (Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st := e.controller.Reset()
	e.world.ResetContacts()
	if e.cfg.Episode.Visualize {
		e.lastSweep = e.Sweep()
	}

	ctx = logging.WithEpisodeID(ctx, st.ID)
	e.log.Debug(ctx, "episode reset",
		"task", e.cfg.Task,
		"position", e.scene.Drone.GetPosition(),
		"target", e.scene.Target.Position,
		"previous_distance", st.PreviousDistance,
	)
	e.bus.Publish(event.NewEpisodeEvent(event.EpisodeStarted, e, st.ID, 0, 0, false))

	return e.observe(), nil
}

// Step applies one action vector, advances the simulation by SubSteps fixed
// ticks and scores the result.
func (e *Env) Step(ctx context.Context, actions []float64) (StepResult, error) {
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}

	st := e.controller.State()
	ctx = logging.WithEpisodeID(ctx, st.ID)

	if e.cfg.ActionSpace != config.Continuous {
		err := fmt.Errorf("%w: %s", ErrUnsupportedActionSpace, e.cfg.ActionSpace)
		e.log.Error(ctx, "step skipped", err, "action_space", e.cfg.ActionSpace)
		e.bus.Publish(event.NewRejectionEvent(e, st.ID, err.Error()))
		return StepResult{}, err
	}
	if !e.controller.Started() {
		return StepResult{}, ErrNotReset
	}
	if st.Done {
		return StepResult{}, ErrEpisodeDone
	}
	if want := e.cfg.ActionSize(); len(actions) != want {
		return StepResult{}, fmt.Errorf("%w: got %d, want %d", ErrActionSize, len(actions), want)
	}

	applied := e.stepper.Step(e.scene.Drone, actions, e.world)

	distance := e.controller.Distance()
	outcome := reward.Outcome{
		PreviousDistance: st.PreviousDistance,
		Distance:         distance,
		HeightDelta:      e.scene.Target.Position.Y - e.scene.Drone.GetPosition().Y,
		EnergyUsed:       applied.EnergyUsed,
	}
	r := e.evaluator.Evaluate(outcome)
	collided := e.controller.State().Collided
	r, done, truncated := e.controller.Conclude(distance, r)
	st = e.controller.State()

	result := StepResult{
		Observation: e.observe(),
		Reward:      r,
		Done:        done,
		Truncated:   truncated,
		Info: StepInfo{
			EpisodeID:  st.ID,
			Step:       st.Step,
			EnergyUsed: applied.EnergyUsed,
			Distance:   distance,
			Collided:   collided,
		},
	}

	e.bus.Publish(event.NewStepEvent(e, st.ID, st.Step, r, done, applied.EnergyUsed, distance))
	if done {
		e.log.Info(ctx, "episode ended",
			"steps", st.Step,
			"return", st.Return,
			"collided", collided,
			"truncated", truncated,
		)
		e.bus.Publish(event.NewEpisodeEvent(event.EpisodeEnded, e, st.ID, st.Step, st.Return, truncated))
	}

	return result, nil
}

// NotifyCollision flags a collision for the running episode. The next Step
// returns the collision penalty and ends the episode.
func (e *Env) NotifyCollision() {
	e.controller.NotifyCollision()
}

// observe builds the task's observation vector
func (e *Env) observe() Observation {
	d := e.scene.Drone
	pos := d.GetPosition()
	if e.cfg.Task == config.TaskObstacle {
		obs := Observation{e.scene.Target.Position.Y - pos.Y, d.Body.Velocity.Y, 0}
		if e.scene.Floor != nil {
			obs[2] = e.scene.Floor.Position.Y - pos.Y
		}
		return obs
	}

	obs := make(Observation, 0, 10)
	obs = append(obs, e.scene.Target.Position.Sub(pos).Normalize().Slice()...)
	obs = append(obs, d.Body.Velocity.Slice()...)
	obs = append(obs, d.Body.Rotation.Slice()...)
	return obs
}

// Spec describes the environment's action and observation shapes
func (e *Env) Spec() Spec {
	obsSize := 10
	if e.cfg.Task == config.TaskObstacle {
		obsSize = 3
	}
	return Spec{
		Task:            e.cfg.Task,
		ActionSpace:     e.cfg.ActionSpace,
		ActionSize:      e.cfg.ActionSize(),
		ActionLow:       -1,
		ActionHigh:      1,
		ObservationSize: obsSize,
		UpForce:         e.cfg.Drone.UpForce,
		MaxSteps:        e.cfg.Episode.MaxSteps,
	}
}

// Snapshot returns a copy of the current simulation state
func (e *Env) Snapshot() Snapshot {
	st := e.controller.State()
	body := e.scene.Drone.Body
	snap := Snapshot{
		EpisodeID:       st.ID,
		Step:            st.Step,
		Position:        body.Position,
		Velocity:        body.Velocity,
		AngularVelocity: body.AngularVelocity,
		Rotation:        body.Rotation.Slice(),
		Target:          e.scene.Target.Position,
		PrevDistance:    st.PreviousDistance,
		Return:          st.Return,
		Done:            st.Done,
		Truncated:       st.Truncated,
	}
	if e.scene.Floor != nil {
		h := e.scene.Floor.Position.Y
		snap.FloorHeight = &h
	}
	return snap
}

// Sweep evaluates the reward the drone would receive at each candidate
// height between SweepMin and SweepMax, keeping its other coordinates and
// spending no energy. It does not change any episode state.
func (e *Env) Sweep() []reward.Sample {
	ep := e.cfg.Episode
	prev := e.controller.State().PreviousDistance
	pos := e.scene.Drone.GetPosition()
	target := e.scene.Target.Position

	return reward.Sweep(e.evaluator, ep.SweepMin, ep.SweepMax, ep.SweepStep, func(h float64) reward.Outcome {
		candidate := physics.Vector3{X: pos.X, Y: h, Z: pos.Z}
		distance := candidate.Distance(target)
		if e.cfg.Task == config.TaskObstacle {
			distance = math.Abs(target.Y - h)
		}
		return reward.Outcome{
			PreviousDistance: prev,
			Distance:         distance,
			HeightDelta:      target.Y - h,
		}
	})
}

// LastSweep returns the sweep taken at the most recent Reset when
// visualization is enabled.
func (e *Env) LastSweep() []reward.Sample {
	return e.lastSweep
}

// Render draws the scene with r
func (e *Env) Render(r entity.Renderer) {
	r.Clear()
	for _, ent := range e.scene.Entities() {
		ent.Render(r)
	}
	r.Present()
}

// Events returns the bus the environment publishes on
func (e *Env) Events() *event.Bus {
	return e.bus
}

// Config returns the environment's configuration
func (e *Env) Config() *config.SimConfig {
	return e.cfg
}

// Seed returns the seed the placement source was last seeded with
func (e *Env) Seed() uint64 {
	return e.seed
}

// Reseed restarts the placement source from seed. It takes effect at the
// next Reset.
func (e *Env) Reseed(seed uint64) {
	e.seed = seed
	e.controller.Reseed(seed)
}

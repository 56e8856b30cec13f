// pkg/episode/controller.go
package episode

import (
	"math/rand/v2"

	"github.com/google/uuid"
)

// State is the bookkeeping of the current episode
type State struct {
	ID               string  `json:"id"`
	Step             int     `json:"step"`
	PreviousDistance float64 `json:"previousDistance"`
	Collided         bool    `json:"collided"`
	Done             bool    `json:"done"`
	Truncated        bool    `json:"truncated"`
	Return           float64 `json:"return"`
}

// Options configures a Controller
type Options struct {
	Seed             uint64
	MaxSteps         int     // 0 means unlimited
	CollisionPenalty float64 // reward that replaces the evaluator's on collision
	// Distance measures the scene's distance to target. Defaults to the
	// straight-line distance between drone and target.
	Distance func(*Scene) float64
	// OutOfBounds, when set, truncates the episode once it reports true
	OutOfBounds func(*Scene) bool
}

// Controller owns episode boundaries for one scene: it places entities on
// reset, tracks the previous distance to target and decides when an episode ends.
type Controller struct {
	scene    *Scene
	layout   Layout
	rng      *rand.Rand
	maxSteps int
	penalty  float64
	distance func(*Scene) float64
	escaped  func(*Scene) bool

	state   State
	started bool
}

// NewController creates a controller for scene
func NewController(scene *Scene, layout Layout, opts Options) *Controller {
	distance := opts.Distance
	if distance == nil {
		distance = StraightLine
	}
	return &Controller{
		scene:    scene,
		layout:   layout,
		rng:      newRand(opts.Seed),
		maxSteps: opts.MaxSteps,
		penalty:  opts.CollisionPenalty,
		distance: distance,
		escaped:  opts.OutOfBounds,
	}
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// StraightLine is the 3D distance between drone and target
func StraightLine(s *Scene) float64 {
	return s.Drone.GetPosition().Distance(s.Target.Position)
}

// Reseed replaces the random source used for placement
func (c *Controller) Reseed(seed uint64) {
	c.rng = newRand(seed)
}

// Reset starts a new episode: motion is cleared, entities are placed, the
// collision flag is dropped and the previous distance is recomputed.
func (c *Controller) Reset() State {
	c.scene.Drone.Body.ResetMotion()
	c.layout.Place(c.rng, c.scene)

	c.state = State{
		ID:               uuid.NewString(),
		PreviousDistance: c.distance(c.scene),
	}
	c.started = true
	return c.state
}

// NotifyCollision flags the current episode as collided. The flag is
// consumed by the next Conclude. It is ignored outside a running episode.
func (c *Controller) NotifyCollision() {
	if !c.started || c.state.Done {
		return
	}
	c.state.Collided = true
}

// Conclude records the outcome of a step. distance becomes the new previous
// distance. A pending collision replaces reward with the collision penalty
// and ends the episode; otherwise leaving the bounds or reaching MaxSteps
// truncates it.
func (c *Controller) Conclude(distance, reward float64) (float64, bool, bool) {
	c.state.Step++
	c.state.PreviousDistance = distance

	switch {
	case c.state.Collided:
		reward = c.penalty
		c.state.Done = true
	case c.escaped != nil && c.escaped(c.scene),
		c.maxSteps > 0 && c.state.Step >= c.maxSteps:
		c.state.Done = true
		c.state.Truncated = true
	}

	c.state.Return += reward
	return reward, c.state.Done, c.state.Truncated
}

// Distance returns the scene's current distance to target
func (c *Controller) Distance() float64 {
	return c.distance(c.scene)
}

// State returns a copy of the episode state
func (c *Controller) State() State {
	return c.state
}

// Started reports whether Reset has been called at least once
func (c *Controller) Started() bool {
	return c.started
}

// Scene returns the controlled scene
func (c *Controller) Scene() *Scene {
	return c.scene
}

// pkg/config/config.go
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opd-ai/go-dronegym/pkg/physics"
)

// Task selects the scenario simulated by an environment
type Task string

const (
	// TaskDirection is the four-thruster drone flying toward a target anywhere in 3D,
	// scored by distance progress minus an energy penalty.
	TaskDirection Task = "direction"
	// TaskObstacle is a one-axis marker holding a target height above a floor,
	// scored by inverse-square proximity and penalised on floor contact.
	TaskObstacle Task = "obstacle"
)

// SpaceType is the kind of action space presented to the controller
type SpaceType string

const (
	Continuous SpaceType = "continuous"
	Discrete   SpaceType = "discrete"
)

// SimConfig contains the full configuration of one simulated environment
type SimConfig struct {
	Task        Task          `json:"task" yaml:"task"`
	ActionSpace SpaceType     `json:"actionSpace" yaml:"actionSpace"`
	Drone       DroneConfig   `json:"drone" yaml:"drone"`
	Episode     EpisodeConfig `json:"episode" yaml:"episode"`
	Reward      RewardConfig  `json:"reward" yaml:"reward"`
	Physics     PhysicsConfig `json:"physics" yaml:"physics"`
	Network     NetworkConfig `json:"network" yaml:"network"`
}

// DroneConfig describes the controlled body
type DroneConfig struct {
	Mass            float64         `json:"mass" yaml:"mass"`
	Inertia         physics.Vector3 `json:"inertia" yaml:"inertia"`
	UpForce         float64         `json:"upForce" yaml:"upForce"`
	ArmLength       float64         `json:"armLength" yaml:"armLength"`
	Radius          float64         `json:"radius" yaml:"radius"`
	Drag            float64         `json:"drag" yaml:"drag"`
	AngularDrag     float64         `json:"angularDrag" yaml:"angularDrag"`
	MaxAngularSpeed float64         `json:"maxAngularSpeed" yaml:"maxAngularSpeed"`
	BasePosition    physics.Vector3 `json:"basePosition" yaml:"basePosition"`
}

// EpisodeConfig contains reset bounds and episode limits
type EpisodeConfig struct {
	StartingHeightMin float64 `json:"startingHeightMin" yaml:"startingHeightMin"`
	StartingHeightMax float64 `json:"startingHeightMax" yaml:"startingHeightMax"`
	FloorOffsetMin    float64 `json:"floorOffsetMin" yaml:"floorOffsetMin"`
	FloorOffsetMax    float64 `json:"floorOffsetMax" yaml:"floorOffsetMax"`
	MaxSteps          int     `json:"maxSteps" yaml:"maxSteps"`
	FallLimit         float64 `json:"fallLimit" yaml:"fallLimit"` // metres below the floor, 0 disables
	Seed              uint64  `json:"seed" yaml:"seed"`
	Visualize         bool    `json:"visualize" yaml:"visualize"`
	SweepMin          float64 `json:"sweepMin" yaml:"sweepMin"`
	SweepMax          float64 `json:"sweepMax" yaml:"sweepMax"`
	SweepStep         float64 `json:"sweepStep" yaml:"sweepStep"`
}

// RewardConfig contains reward shaping parameters for both scoring variants
type RewardConfig struct {
	RewardScale                float64 `json:"rewardScale" yaml:"rewardScale"`
	EnergyRewardScale          float64 `json:"energyRewardScale" yaml:"energyRewardScale"`
	GraceDistance              float64 `json:"graceDistance" yaml:"graceDistance"`
	MinRewardDistance          float64 `json:"minRewardDistance" yaml:"minRewardDistance"`
	MaxRewardDistance          float64 `json:"maxRewardDistance" yaml:"maxRewardDistance"`
	OnMarkerPoints             float64 `json:"onMarkerPoints" yaml:"onMarkerPoints"`
	OnCollisionPoints          float64 `json:"onCollisionPoints" yaml:"onCollisionPoints"`
	CollisionVelocityThreshold float64 `json:"collisionVelocityThreshold" yaml:"collisionVelocityThreshold"`
}

// PhysicsConfig contains integrator settings
type PhysicsConfig struct {
	FixedDeltaTime float64         `json:"fixedDeltaTime" yaml:"fixedDeltaTime"`
	SubSteps       int             `json:"subSteps" yaml:"subSteps"`
	Gravity        physics.Vector3 `json:"gravity" yaml:"gravity"`
}

// NetworkConfig contains server-related configuration
type NetworkConfig struct {
	ServerAddress    string `json:"serverAddress" yaml:"serverAddress"`
	MaxSessions      int    `json:"maxSessions" yaml:"maxSessions"`
	TelemetryAddress string `json:"telemetryAddress" yaml:"telemetryAddress"`
}

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// LoadConfig loads a configuration from a file. Files ending in .yaml or
// .yml are decoded as YAML, everything else as JSON. Fields missing from the
// file keep the defaults of the task named in it.
func LoadConfig(path string) (*SimConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Peek at the task first so defaults match the scenario
	var head struct {
		Task Task `json:"task" yaml:"task"`
	}
	if err := decode(path, data, &head); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if head.Task == "" {
		head.Task = TaskDirection
	}

	config := DefaultConfig(head.Task)
	if err := decode(path, data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

func decode(path string, data []byte, out interface{}) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, out)
	}
	return json.Unmarshal(data, out)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// SaveConfig saves a configuration to a file, choosing the format by extension
func SaveConfig(config *SimConfig, path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(config)
	} else {
		data, err = json.MarshalIndent(config, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultConfig returns the default configuration for a task. Unknown tasks
// fall back to the direction task.
func DefaultConfig(task Task) *SimConfig {
	if task == TaskObstacle {
		return defaultObstacleConfig()
	}
	return defaultDirectionConfig()
}

func defaultDirectionConfig() *SimConfig {
	return &SimConfig{
		Task:        TaskDirection,
		ActionSpace: Continuous,
		Drone: DroneConfig{
			Mass:            1,
			Inertia:         physics.Vector3{X: 0.09, Y: 0.17, Z: 0.09},
			UpForce:         10,
			ArmLength:       0.5,
			Radius:          0.25,
			Drag:            0,
			AngularDrag:     0.05,
			MaxAngularSpeed: 7,
		},
		Episode: EpisodeConfig{
			StartingHeightMin: -1,
			StartingHeightMax: 1,
			MaxSteps:          0,
			Seed:              1,
			Visualize:         false,
			SweepMin:          -2,
			SweepMax:          2,
			SweepStep:         0.05,
		},
		Reward: RewardConfig{
			RewardScale:       1,
			EnergyRewardScale: -0.01,
			GraceDistance:     0.1,
			OnCollisionPoints: -10,
		},
		Physics: PhysicsConfig{
			FixedDeltaTime: 0.02,
			SubSteps:       5,
			Gravity:        physics.Vector3{Y: -9.81},
		},
		Network: NetworkConfig{
			ServerAddress:    "localhost:4646",
			MaxSessions:      16,
			TelemetryAddress: "",
		},
	}
}

func defaultObstacleConfig() *SimConfig {
	c := defaultDirectionConfig()
	c.Task = TaskObstacle
	c.Drone.UpForce = 20
	c.Drone.ArmLength = 0
	c.Episode.FloorOffsetMin = 0.2
	c.Episode.FloorOffsetMax = 0.5
	c.Episode.FallLimit = 5
	c.Reward = RewardConfig{
		MinRewardDistance:          0.1,
		MaxRewardDistance:          1,
		OnMarkerPoints:             0.1,
		OnCollisionPoints:          -10,
		CollisionVelocityThreshold: 0,
	}
	return c
}

// ActionSize returns the number of action scalars the task expects
func (c *SimConfig) ActionSize() int {
	if c.Task == TaskObstacle {
		return 1
	}
	return 4
}

// Validate checks the configuration for values the simulation cannot run with
func (c *SimConfig) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.Task == TaskDirection || c.Task == TaskObstacle, "unknown task %q", c.Task)
	check(c.ActionSpace == Continuous || c.ActionSpace == Discrete, "unknown action space %q", c.ActionSpace)
	check(c.Drone.Mass > 0, "drone mass must be positive, got %v", c.Drone.Mass)
	check(c.Drone.UpForce > 0, "up force must be positive, got %v", c.Drone.UpForce)
	check(c.Drone.Radius >= 0, "drone radius cannot be negative, got %v", c.Drone.Radius)
	check(c.Drone.ArmLength >= 0, "arm length cannot be negative, got %v", c.Drone.ArmLength)
	check(c.Drone.Inertia.X >= 0 && c.Drone.Inertia.Y >= 0 && c.Drone.Inertia.Z >= 0,
		"inertia cannot be negative, got %v", c.Drone.Inertia)
	check(c.Episode.StartingHeightMin <= c.Episode.StartingHeightMax,
		"startingHeightMin %v exceeds startingHeightMax %v", c.Episode.StartingHeightMin, c.Episode.StartingHeightMax)
	check(c.Episode.FloorOffsetMin <= c.Episode.FloorOffsetMax,
		"floorOffsetMin %v exceeds floorOffsetMax %v", c.Episode.FloorOffsetMin, c.Episode.FloorOffsetMax)
	check(c.Episode.MaxSteps >= 0, "maxSteps cannot be negative, got %d", c.Episode.MaxSteps)
	check(c.Episode.FallLimit >= 0, "fallLimit cannot be negative, got %v", c.Episode.FallLimit)
	check(c.Episode.SweepStep > 0, "sweepStep must be positive, got %v", c.Episode.SweepStep)
	check(c.Episode.SweepMin < c.Episode.SweepMax, "sweepMin %v must be below sweepMax %v", c.Episode.SweepMin, c.Episode.SweepMax)
	check(c.Physics.FixedDeltaTime > 0, "fixedDeltaTime must be positive, got %v", c.Physics.FixedDeltaTime)
	check(c.Physics.SubSteps >= 1, "subSteps must be at least 1, got %d", c.Physics.SubSteps)
	check(c.Reward.CollisionVelocityThreshold >= 0,
		"collisionVelocityThreshold cannot be negative, got %v", c.Reward.CollisionVelocityThreshold)
	if c.Task == TaskObstacle {
		check(c.Reward.MinRewardDistance > 0, "minRewardDistance must be positive, got %v", c.Reward.MinRewardDistance)
		check(c.Reward.MinRewardDistance <= c.Reward.MaxRewardDistance,
			"minRewardDistance %v exceeds maxRewardDistance %v", c.Reward.MinRewardDistance, c.Reward.MaxRewardDistance)
	}
	check(c.Network.MaxSessions >= 0, "maxSessions cannot be negative, got %d", c.Network.MaxSessions)

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

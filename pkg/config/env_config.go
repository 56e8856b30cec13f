// pkg/config/env_config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// EnvironmentConfig holds service settings read from DRONESIM_* variables.
// It covers the server process rather than the simulation itself.
type EnvironmentConfig struct {
	ServerAddr    string
	ServerPort    int
	MaxSessions   int
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	TelemetryAddr string
	HealthAddr    string

	// Circuit Breaker Configuration
	CircuitBreakerMaxRequests         uint32
	CircuitBreakerInterval            time.Duration
	CircuitBreakerTimeout             time.Duration
	CircuitBreakerMaxConsecutiveFails uint32

	// Resource Management Configuration
	MaxMemoryMB           int
	MaxGoroutines         int
	ShutdownTimeout       time.Duration
	ResourceCheckInterval time.Duration
}

// ValidationError reports a single invalid environment setting
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s (%v): %s", e.Field, e.Value, e.Message)
}

// LoadConfigFromEnv reads the service configuration from the environment,
// falling back to defaults for unset or unparsable variables.
func LoadConfigFromEnv() (*EnvironmentConfig, error) {
	config := &EnvironmentConfig{
		ServerAddr:    envOr("DRONESIM_SERVER_ADDR", "localhost", asString),
		ServerPort:    envOr("DRONESIM_SERVER_PORT", 4646, strconv.Atoi),
		MaxSessions:   envOr("DRONESIM_MAX_SESSIONS", 16, strconv.Atoi),
		ReadTimeout:   envOr("DRONESIM_READ_TIMEOUT", 30*time.Second, time.ParseDuration),
		WriteTimeout:  envOr("DRONESIM_WRITE_TIMEOUT", 30*time.Second, time.ParseDuration),
		TelemetryAddr: envOr("DRONESIM_TELEMETRY_ADDR", "", asString),
		HealthAddr:    envOr("DRONESIM_HEALTH_ADDR", ":8080", asString),

		CircuitBreakerMaxRequests:         uint32(envOr("DRONESIM_CB_MAX_REQUESTS", 3, strconv.Atoi)),
		CircuitBreakerInterval:            envOr("DRONESIM_CB_INTERVAL", 60*time.Second, time.ParseDuration),
		CircuitBreakerTimeout:             envOr("DRONESIM_CB_TIMEOUT", 30*time.Second, time.ParseDuration),
		CircuitBreakerMaxConsecutiveFails: uint32(envOr("DRONESIM_CB_MAX_FAILS", 5, strconv.Atoi)),

		MaxMemoryMB:           envOr("DRONESIM_MAX_MEMORY_MB", 500, strconv.Atoi),
		MaxGoroutines:         envOr("DRONESIM_MAX_GOROUTINES", 1000, strconv.Atoi),
		ShutdownTimeout:       envOr("DRONESIM_SHUTDOWN_TIMEOUT", 30*time.Second, time.ParseDuration),
		ResourceCheckInterval: envOr("DRONESIM_RESOURCE_CHECK_INTERVAL", 10*time.Second, time.ParseDuration),
	}

	if err := validateEnvironmentConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

// Address returns host:port of the environment server
func (c *EnvironmentConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.ServerAddr, c.ServerPort)
}

func validateEnvironmentConfig(c *EnvironmentConfig) error {
	switch {
	case c.ServerAddr == "":
		return &ValidationError{Field: "ServerAddr", Value: c.ServerAddr, Message: "cannot be empty"}
	case c.ServerPort < 1024 || c.ServerPort > 65535:
		return &ValidationError{Field: "ServerPort", Value: c.ServerPort, Message: "must be between 1024 and 65535"}
	case c.MaxSessions < 1 || c.MaxSessions > 1000:
		return &ValidationError{Field: "MaxSessions", Value: c.MaxSessions, Message: "must be between 1 and 1000"}
	case c.ReadTimeout < time.Second || c.ReadTimeout > time.Minute:
		return &ValidationError{Field: "ReadTimeout", Value: c.ReadTimeout, Message: "must be between 1s and 60s"}
	case c.WriteTimeout < time.Second || c.WriteTimeout > time.Minute:
		return &ValidationError{Field: "WriteTimeout", Value: c.WriteTimeout, Message: "must be between 1s and 60s"}
	case c.CircuitBreakerMaxRequests < 1:
		return &ValidationError{Field: "CircuitBreakerMaxRequests", Value: c.CircuitBreakerMaxRequests, Message: "must be at least 1"}
	case c.CircuitBreakerInterval < time.Second:
		return &ValidationError{Field: "CircuitBreakerInterval", Value: c.CircuitBreakerInterval, Message: "must be at least 1s"}
	case c.CircuitBreakerTimeout < time.Second:
		return &ValidationError{Field: "CircuitBreakerTimeout", Value: c.CircuitBreakerTimeout, Message: "must be at least 1s"}
	case c.CircuitBreakerMaxConsecutiveFails < 1:
		return &ValidationError{Field: "CircuitBreakerMaxConsecutiveFails", Value: c.CircuitBreakerMaxConsecutiveFails, Message: "must be at least 1"}
	case c.MaxMemoryMB < 1:
		return &ValidationError{Field: "MaxMemoryMB", Value: c.MaxMemoryMB, Message: "must be positive"}
	case c.MaxGoroutines < 1:
		return &ValidationError{Field: "MaxGoroutines", Value: c.MaxGoroutines, Message: "must be positive"}
	case c.ResourceCheckInterval < time.Second:
		return &ValidationError{Field: "ResourceCheckInterval", Value: c.ResourceCheckInterval, Message: "must be at least 1s"}
	}
	return nil
}

// ApplyEnvironmentOverrides overlays DRONESIM_* variables onto a simulation
// configuration and validates the result.
func ApplyEnvironmentOverrides(config *SimConfig) error {
	if config == nil {
		return fmt.Errorf("%w: nil configuration", ErrInvalidConfig)
	}

	if _, ok := os.LookupEnv("DRONESIM_SERVER_ADDR"); ok {
		env, err := LoadConfigFromEnv()
		if err != nil {
			return fmt.Errorf("reading server settings: %w", err)
		}
		config.Network.ServerAddress = env.Address()
	}
	config.Network.MaxSessions = envOr("DRONESIM_MAX_SESSIONS", config.Network.MaxSessions, strconv.Atoi)
	config.Network.TelemetryAddress = envOr("DRONESIM_TELEMETRY_ADDR", config.Network.TelemetryAddress, asString)
	config.Episode.Seed = envOr("DRONESIM_SEED", config.Episode.Seed, asUint)
	config.Episode.MaxSteps = envOr("DRONESIM_MAX_STEPS", config.Episode.MaxSteps, strconv.Atoi)
	config.Episode.FallLimit = envOr("DRONESIM_FALL_LIMIT", config.Episode.FallLimit, asFloat)
	config.Episode.Visualize = envOr("DRONESIM_VISUALIZE", config.Episode.Visualize, strconv.ParseBool)
	config.Drone.UpForce = envOr("DRONESIM_UP_FORCE", config.Drone.UpForce, asFloat)
	config.Physics.SubSteps = envOr("DRONESIM_SUB_STEPS", config.Physics.SubSteps, strconv.Atoi)

	return config.Validate()
}

// LoadDotEnv loads variables from .env files into the process environment
// without overriding values that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// envOr returns the parsed value of key, or def when it is unset or does
// not parse.
func envOr[T any](key string, def T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}

func asString(s string) (string, error) { return s, nil }

func asFloat(s string) (float64, error) { return strconv.ParseFloat(s, 64) }

func asUint(s string) (uint64, error) { return strconv.ParseUint(s, 10, 64) }

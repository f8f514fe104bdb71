package config

import (
	"fmt"
	"os"
	"strconv"
)

// FallbackPolicy decides when the sampling fallback replaces exact
// truncated-distribution inversion. The choice is deliberately explicit
// configuration, never inferred.
type FallbackPolicy string

const (
	// FallbackNever uses the exact path only; non-polyhedral events fail.
	FallbackNever FallbackPolicy = "never"
	// FallbackAuto samples for non-polyhedral events and keeps the exact
	// path for polyhedra.
	FallbackAuto FallbackPolicy = "auto"
	// FallbackAlways samples for every event, useful for finite-sample
	// corrections and cross-checking the exact path.
	FallbackAlways FallbackPolicy = "always"
)

// Config holds the tunable parameters of the inference engine.
type Config struct {
	Inference InferenceConfig
	Sampler   SamplerConfig
	Database  DatabaseConfig
	Data      DataConfig
}

// InferenceConfig covers the exact path.
type InferenceConfig struct {
	Tolerance       float64 // feasibility tolerance for the observation check
	DegenerateFloor float64 // minimum truncation width in sigma units
	MaxDoublings    int     // bracket-expansion budget of the inverter
	Parallelism     int     // concurrent per-coefficient workers
	Fallback        FallbackPolicy
}

// SamplerConfig covers the sampling fallback budgets.
type SamplerConfig struct {
	NDraw         int
	Burnin        int
	MaxIter       int
	MinAcceptRate float64
	Seed          int64
}

// DatabaseConfig holds the optional result-store connection.
type DatabaseConfig struct {
	URL string
}

// DataConfig holds the optional input file for the CLI.
type DataConfig struct {
	File string
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Inference: InferenceConfig{
			Tolerance:       getEnvFloatOrDefault("SELECTINF_TOL", 1e-4),
			DegenerateFloor: getEnvFloatOrDefault("SELECTINF_DEGENERATE_FLOOR", 1e-8),
			MaxDoublings:    getEnvIntOrDefault("SELECTINF_MAX_DOUBLINGS", 60),
			Parallelism:     getEnvIntOrDefault("SELECTINF_PARALLELISM", 4),
			Fallback:        FallbackPolicy(getEnvOrDefault("SELECTINF_FALLBACK", string(FallbackAuto))),
		},
		Sampler: SamplerConfig{
			NDraw:         getEnvIntOrDefault("SELECTINF_NDRAW", 2000),
			Burnin:        getEnvIntOrDefault("SELECTINF_BURNIN", 500),
			MaxIter:       getEnvIntOrDefault("SELECTINF_MAX_ITER", 500000),
			MinAcceptRate: getEnvFloatOrDefault("SELECTINF_MIN_ACCEPT", 1e-4),
			Seed:          int64(getEnvIntOrDefault("SELECTINF_SEED", 1)),
		},
		Database: DatabaseConfig{
			URL: getEnvOrDefault("DATABASE_URL", ""),
		},
		Data: DataConfig{
			File: getEnvOrDefault("DATA_FILE", ""),
		},
	}

	switch cfg.Inference.Fallback {
	case FallbackNever, FallbackAuto, FallbackAlways:
	default:
		return nil, fmt.Errorf("invalid SELECTINF_FALLBACK value %q", cfg.Inference.Fallback)
	}
	if cfg.Inference.Parallelism < 1 {
		cfg.Inference.Parallelism = 1
	}
	return cfg, nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

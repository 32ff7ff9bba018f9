package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"dario.cat/mergo"
)

// Initialize loads, merges, validates, and returns ready-to-use
// configuration. This is the primary entry point for configuration
// loading.
//
// Steps performed:
//  1. Start from built-in defaults
//  2. Load the JSON config file if it exists
//  3. Merge user values over the defaults
//  4. Derive durations from the raw interval seconds
//  5. Validate the result
func Initialize(path string) (*Config, error) {
	log := slog.With("config_path", path)

	cfg := defaults()

	user, err := load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if user != nil {
		if err := mergo.Merge(cfg, user, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge configuration: %w", err)
		}
	} else {
		log.Info("No configuration file found, using defaults")
	}

	if cfg.Hostname == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("failed to determine hostname: %w", err)
		}
		cfg.Hostname = host
	}

	cfg.TriggerInterval = time.Duration(cfg.TriggerIntervalSec) * time.Second
	cfg.ReviewInterval = time.Duration(cfg.ReviewIntervalSec) * time.Second

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log.Info("Configuration initialized",
		"hostname", cfg.Hostname,
		"state_dir", cfg.StateDir,
		"autonomy_level", cfg.AutonomyLevel)
	return cfg, nil
}

// load reads and parses the config file. A missing file is not an
// error; it returns (nil, nil) and the defaults stand.
func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the merged configuration for values the rest of the
// system cannot work with.
func (c *Config) Validate() error {
	switch c.AutonomyLevel {
	case AutonomyObserve, AutonomySuggest, AutonomyAutoSafe, AutonomyAutoFull:
	default:
		return fmt.Errorf("unknown autonomy_level %q", c.AutonomyLevel)
	}

	if c.TriggerIntervalSec <= 0 {
		return fmt.Errorf("trigger_interval must be positive, got %d", c.TriggerIntervalSec)
	}
	if c.ReviewIntervalSec <= 0 {
		return fmt.Errorf("review_interval must be positive, got %d", c.ReviewIntervalSec)
	}
	if c.ContextSize <= 0 {
		return fmt.Errorf("context_size must be positive, got %d", c.ContextSize)
	}
	if c.Inference.BackendURL == "" {
		return fmt.Errorf("inference.backend_url must be set")
	}
	if c.Thresholds.ErrorLogRate <= 0 {
		return fmt.Errorf("thresholds.error_log_rate must be positive, got %d", c.Thresholds.ErrorLogRate)
	}
	return nil
}

package action

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimeoutSeconds = 30
	defaultEmailPriority  = 10
	defaultAnalyticsPrio  = 100
)

// Config is the execution policy and per-action overrides, loaded once at
// startup and never mutated afterwards.
type Config struct {
	Actions   map[string]ActionConfig `yaml:"actions"`
	Execution ExecutionConfig         `yaml:"execution"`
}

// ActionConfig overrides registration settings for one action key. Nil
// fields keep the action's own defaults.
type ActionConfig struct {
	Enabled  *bool          `yaml:"enabled"`
	Priority *int           `yaml:"priority"`
	Options  map[string]any `yaml:"options"`
}

// ExecutionConfig governs how applicable actions are run.
type ExecutionConfig struct {
	Parallel       bool    `yaml:"parallel"`
	TimeoutSeconds float64 `yaml:"timeout"`
	// ContinueOnFailure is accepted for compatibility with existing policy
	// files. Failures never stop sibling actions regardless of its value.
	ContinueOnFailure bool `yaml:"continue_on_failure"`
	// MaxConcurrency bounds parallel executions; 0 means no bound.
	MaxConcurrency int `yaml:"max_concurrency"`
}

// Timeout returns the per-action execution budget.
func (e ExecutionConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds * float64(time.Second))
}

// DefaultConfig returns the documented defaults: email at priority 10,
// analytics at 100, both enabled, parallel execution with a 30 second
// per-action timeout.
func DefaultConfig() Config {
	return Config{
		Actions: map[string]ActionConfig{
			"email":     {Enabled: ptr(true), Priority: ptr(defaultEmailPriority)},
			"analytics": {Enabled: ptr(true), Priority: ptr(defaultAnalyticsPrio)},
		},
		Execution: ExecutionConfig{
			Parallel:          true,
			TimeoutSeconds:    defaultTimeoutSeconds,
			ContinueOnFailure: true,
		},
	}
}

// LoadConfig reads a YAML (or JSON) policy file layered over DefaultConfig.
// An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator flags
	if err != nil {
		return Config{}, fmt.Errorf("read action config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse action config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the execution policy.
func (c *Config) Validate() error {
	var errs []error

	if c.Execution.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("invalid execution.timeout %v (must be > 0)", c.Execution.TimeoutSeconds))
	}
	if c.Execution.MaxConcurrency < 0 {
		errs = append(errs, fmt.Errorf("invalid execution.max_concurrency %d (must be >= 0)", c.Execution.MaxConcurrency))
	}
	for key := range c.Actions {
		if key == "" {
			errs = append(errs, errors.New("action config with empty key"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (a ActionConfig) priorityOr(def int) int {
	if a.Priority == nil {
		return def
	}
	return *a.Priority
}

func (a ActionConfig) enabledOr(def bool) bool {
	if a.Enabled == nil {
		return def
	}
	return *a.Enabled
}

func ptr[T any](v T) *T { return &v }

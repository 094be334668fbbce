package action

import (
	"context"
	"strings"
)

// Action is a unit of conditional, side-effecting work triggered by a
// prediction and customer context.
type Action interface {
	// Name is the stable identifier used in reports, e.g. "EmailAction".
	Name() string

	// DefaultPriority applies when configuration does not set one.
	// Lower runs first.
	DefaultPriority() int

	// ShouldExecute decides applicability. It must not mutate its inputs or
	// perform network I/O.
	ShouldExecute(p *Prediction, c *CustomerContext) (bool, error)

	// Execute performs the side effect. ctx carries the per-action deadline.
	Execute(ctx context.Context, p *Prediction, c *CustomerContext) (Result, error)
}

// Result is what an action reports on success. The concrete value is
// serialized as-is into the report.
type Result interface {
	ResultStatus() string
}

// Describer is implemented by actions that expose their own settings in
// Manager.Status.
type Describer interface {
	Describe() map[string]any
}

// Factory builds one action from its configuration block. A list of
// factories replaces runtime plugin discovery.
type Factory struct {
	Name string
	New  func(cfg ActionConfig) (Action, error)
}

// Metadata is an inspection snapshot of a registered action.
type Metadata struct {
	Name     string         `json:"name"`
	Key      string         `json:"key"`
	Enabled  bool           `json:"enabled"`
	Priority int            `json:"priority"`
	Config   map[string]any `json:"config,omitempty"`
}

// KeyFor derives the configuration key for an action name:
// "EmailAction" -> "email".
func KeyFor(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "action", "")
}

// internal/action/manager.go
package action

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"
)

var tracer = otel.Tracer("github.com/linnemanlabs/ticketwatch/internal/action")

// Hooks receives per-call instrumentation callbacks. Nil fields are skipped.
type Hooks struct {
	OnDecision  func(action, outcome string)
	OnExecution func(action, outcome string, duration float64)
	OnComplete  func(e *CompleteEvent)
}

// CompleteEvent summarizes one orchestration call for metrics.
type CompleteEvent struct {
	Mode       string
	Applicable int
	Executed   int
	Skipped    int
	Failed     int
	Duration   float64
}

// entry is a registered action plus the settings the manager owns for it.
type entry struct {
	action   Action
	key      string
	priority int
	enabled  atomic.Bool
	options  map[string]any
}

// outcome is the result of one Execute attempt.
type outcome struct {
	result Result
	err    error
}

// Manager owns the ordered action registry and runs orchestration calls.
type Manager struct {
	cfg    Config
	logger log.Logger
	hooks  Hooks

	mu      sync.RWMutex
	entries []*entry // sorted by priority, ties in registration order
	byName  map[string]*entry
}

// NewManager creates a manager with the given execution policy.
func NewManager(cfg Config, logger log.Logger, hooks Hooks) *Manager {
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.Execution.TimeoutSeconds <= 0 {
		cfg.Execution.TimeoutSeconds = defaultTimeoutSeconds
	}
	if !cfg.Execution.ContinueOnFailure {
		logger.Warn(context.Background(), "continue_on_failure=false is ignored, failed actions never stop their siblings")
	}
	return &Manager{
		cfg:    cfg,
		logger: logger,
		hooks:  hooks,
		byName: make(map[string]*entry),
	}
}

// Register adds an action, applying any configuration under its key.
func (m *Manager) Register(a Action) error {
	if a == nil {
		return errors.New("action: nil action")
	}
	name := a.Name()
	if name == "" {
		return errors.New("action: empty action name")
	}

	key := KeyFor(name)
	ac := m.cfg.Actions[key]
	e := &entry{
		action:   a,
		key:      key,
		priority: ac.priorityOr(a.DefaultPriority()),
		options:  ac.Options,
	}
	e.enabled.Store(ac.enabledOr(true))

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.byName[name]; dup {
		return fmt.Errorf("action: %s already registered", name)
	}
	m.entries = append(m.entries, e)
	sort.SliceStable(m.entries, func(i, j int) bool { return m.entries[i].priority < m.entries[j].priority })
	m.byName[name] = e
	return nil
}

// RegisterAll builds and registers each factory in order. A factory that
// fails to build or register is logged and left out. It returns the number
// of actions registered.
func (m *Manager) RegisterAll(ctx context.Context, factories ...Factory) int {
	n := 0
	for _, f := range factories {
		a, err := m.build(f)
		if err != nil {
			m.logger.Error(ctx, err, "failed to construct action", "action", f.Name)
			continue
		}
		if err := m.Register(a); err != nil {
			m.logger.Error(ctx, err, "failed to register action", "action", f.Name)
			continue
		}
		md, _ := m.metadata(a.Name())
		m.logger.Info(ctx, "registered action",
			"action", md.Name,
			"priority", md.Priority,
			"enabled", md.Enabled,
		)
		n++
	}
	return n
}

func (m *Manager) build(f Factory) (a Action, err error) {
	if f.New == nil {
		return nil, fmt.Errorf("action: factory %q has no constructor", f.Name)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action: constructing %s panicked: %v", f.Name, r)
		}
	}()
	return f.New(m.cfg.Actions[KeyFor(f.Name)])
}

// Execute runs one orchestration pass: every registered action is classified
// as disabled, not applicable, failed to decide, executed, or failed to
// execute. It always returns a complete report.
func (m *Manager) Execute(ctx context.Context, p *Prediction, c *CustomerContext) *Report {
	if p == nil {
		p = &Prediction{}
	}
	if c == nil {
		c = &CustomerContext{}
	}

	start := time.Now()
	mode := m.mode()
	ctx, span := tracer.Start(ctx, "action.Execute", trace.WithAttributes(
		attribute.String("ticketwatch.customer_id", c.CustomerID),
		attribute.String("ticketwatch.issue_type", p.IssueType),
		attribute.String("ticketwatch.execution_mode", mode),
	))
	defer span.End()

	L := m.logger.With("customer_id", c.CustomerID, "issue_type", p.IssueType)

	entries := m.snapshot()
	rank := make(map[string]int, len(entries))
	report := newReport()
	applicable := make([]*entry, 0, len(entries))

	for i, e := range entries {
		name := e.action.Name()
		rank[name] = i

		if !e.enabled.Load() {
			report.skip(name, ReasonDisabled)
			m.onDecision(name, "disabled")
			continue
		}

		ok, err := decide(e.action, p, c)
		switch {
		case err != nil:
			L.Error(ctx, err, "action decision failed", "action", name)
			report.fail(name, err, PhaseShouldExecute)
			m.onDecision(name, "error")
		case !ok:
			report.skip(name, ReasonConditionsNotMet)
			m.onDecision(name, "skip")
		default:
			applicable = append(applicable, e)
			m.onDecision(name, "apply")
		}
	}

	if len(applicable) > 0 {
		var outcomes []outcome
		if m.cfg.Execution.Parallel {
			outcomes = m.runConcurrent(ctx, applicable, p, c)
		} else {
			outcomes = m.runSequential(ctx, applicable, p, c)
		}
		for i, o := range outcomes {
			name := applicable[i].action.Name()
			if o.err != nil {
				report.fail(name, o.err, PhaseExecution)
				continue
			}
			report.succeed(name, o.result)
		}
	}

	report.orderBy(rank)

	duration := time.Since(start)
	span.SetAttributes(
		attribute.Int("ticketwatch.actions.applicable", len(applicable)),
		attribute.Int("ticketwatch.actions.executed", len(report.Executed)),
		attribute.Int("ticketwatch.actions.failed", len(report.Failed)),
	)
	if len(report.Failed) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d action(s) failed", len(report.Failed)))
	}

	if m.hooks.OnComplete != nil {
		m.hooks.OnComplete(&CompleteEvent{
			Mode:       mode,
			Applicable: len(applicable),
			Executed:   len(report.Executed),
			Skipped:    len(report.Skipped),
			Failed:     len(report.Failed),
			Duration:   duration.Seconds(),
		})
	}

	L.Info(ctx, "actions complete",
		"mode", mode,
		"executed", report.Executed,
		"skipped", len(report.Skipped),
		"failed", len(report.Failed),
		"duration", duration.Seconds(),
	)
	return report
}

// runSequential executes in priority order, one at a time.
func (m *Manager) runSequential(ctx context.Context, entries []*entry, p *Prediction, c *CustomerContext) []outcome {
	outcomes := make([]outcome, len(entries))
	var completed []string
	for i, e := range entries {
		outcomes[i] = m.runOne(ctx, e, p.withExecuted(completed), c)
		if outcomes[i].err == nil {
			completed = append(completed, e.action.Name())
		}
	}
	return outcomes
}

// runConcurrent launches every entry (bounded by MaxConcurrency when set)
// and waits until each has finished or hit its own deadline. All entries
// share one view of the prediction taken before launch, so no action sees
// a sibling in ActionsExecuted.
func (m *Manager) runConcurrent(ctx context.Context, entries []*entry, p *Prediction, c *CustomerContext) []outcome {
	outcomes := make([]outcome, len(entries))

	var g errgroup.Group
	if n := m.cfg.Execution.MaxConcurrency; n > 0 {
		g.SetLimit(n)
	}
	for i, e := range entries {
		view := p.withExecuted(nil)
		g.Go(func() error {
			outcomes[i] = m.runOne(ctx, e, view, c)
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors, failures live in outcomes

	return outcomes
}

// runOne executes a single action under the per-action timeout. A timed out
// action's goroutine is abandoned; its late result is dropped.
func (m *Manager) runOne(ctx context.Context, e *entry, p *Prediction, c *CustomerContext) outcome {
	name := e.action.Name()
	ctx, span := tracer.Start(ctx, "action.run", trace.WithAttributes(
		attribute.String("ticketwatch.action", name),
		attribute.Int("ticketwatch.action.priority", e.priority),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Execution.Timeout())
	defer cancel()

	L := m.logger.With("action", name, "customer_id", c.CustomerID)
	L.Info(ctx, "executing action")

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res, err := e.action.Execute(ctx, p, c)
		done <- outcome{result: res, err: err}
	}()

	var o outcome
	select {
	case o = <-done:
	case <-ctx.Done():
		o = outcome{err: ctx.Err()}
	}
	if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		o = outcome{err: ErrTimeout}
	}

	duration := time.Since(start).Seconds()
	status := "success"
	switch {
	case errors.Is(o.err, ErrTimeout):
		status = "timeout"
		L.Warn(ctx, "action timed out", "timeout", m.cfg.Execution.Timeout().Seconds())
	case o.err != nil:
		status = "error"
		L.Error(ctx, o.err, "action failed")
	default:
		L.Info(ctx, "action completed", "duration", duration, "result_status", resultStatus(o.result))
	}

	if o.err != nil {
		span.RecordError(o.err)
		span.SetStatus(codes.Error, o.err.Error())
	}
	if m.hooks.OnExecution != nil {
		m.hooks.OnExecution(name, status, duration)
	}
	return o
}

// decide calls ShouldExecute, converting a panic into an error.
func decide(a Action, p *Prediction, c *CustomerContext) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("panic: %v", r)
		}
	}()
	return a.ShouldExecute(p, c)
}

func resultStatus(r Result) string {
	if r == nil {
		return ""
	}
	return r.ResultStatus()
}

func (m *Manager) onDecision(name, outcome string) {
	if m.hooks.OnDecision != nil {
		m.hooks.OnDecision(name, outcome)
	}
}

func (m *Manager) mode() string {
	if m.cfg.Execution.Parallel {
		return "parallel"
	}
	return "sequential"
}

func (m *Manager) snapshot() []*entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Status returns metadata for every registered action in evaluation order.
func (m *Manager) Status() []Metadata {
	entries := m.snapshot()
	out := make([]Metadata, 0, len(entries))
	for _, e := range entries {
		out = append(out, describe(e))
	}
	return out
}

func (m *Manager) metadata(name string) (Metadata, bool) {
	m.mu.RLock()
	e, ok := m.byName[name]
	m.mu.RUnlock()
	if !ok {
		return Metadata{}, false
	}
	return describe(e), true
}

func describe(e *entry) Metadata {
	md := Metadata{
		Name:     e.action.Name(),
		Key:      e.key,
		Enabled:  e.enabled.Load(),
		Priority: e.priority,
	}
	if len(e.options) > 0 {
		md.Config = maps.Clone(e.options)
	}
	if d, ok := e.action.(Describer); ok {
		if md.Config == nil {
			md.Config = make(map[string]any)
		}
		maps.Copy(md.Config, d.Describe())
	}
	return md
}

// Enable turns an action on. It returns false for unknown names.
func (m *Manager) Enable(name string) bool {
	return m.setEnabled(name, true)
}

// Disable turns an action off; it is then reported as skipped/disabled.
func (m *Manager) Disable(name string) bool {
	return m.setEnabled(name, false)
}

func (m *Manager) setEnabled(name string, on bool) bool {
	m.mu.RLock()
	e, ok := m.byName[name]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	e.enabled.Store(on)
	m.logger.Info(context.Background(), "action toggled", "action", name, "enabled", on)
	return true
}

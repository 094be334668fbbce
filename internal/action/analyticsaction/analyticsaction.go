// Package analyticsaction logs every interaction to an analytics.Store and
// periodically refreshes the daily rollup and insight alerts.
package analyticsaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/ticketwatch/internal/action"
	"github.com/linnemanlabs/ticketwatch/internal/action/emailaction"
	"github.com/linnemanlabs/ticketwatch/internal/analytics"
)

// Name is the action's registered name.
const Name = "AnalyticsAction"

const (
	defaultPriority      = 100
	DefaultRollupEvery   = 10
	DefaultInsightsEvery = 20
)

// Sink receives a copy of every stored record. Publish errors never fail the
// action.
type Sink interface {
	Publish(ctx context.Context, r *analytics.Record) error
}

// Options control how often derived data is recomputed. A value <= 0
// disables that step.
type Options struct {
	RollupEvery   int
	InsightsEvery int
}

// Result is the analytics action's report entry.
type Result struct {
	Status        string                  `json:"status"`
	InteractionID int64                   `json:"interaction_id"`
	RecordsLogged int                     `json:"records_logged"`
	DailySummary  *analytics.DailySummary `json:"daily_summary,omitempty"`
	Insights      []analytics.Insight     `json:"insights,omitempty"`
	InsightsCount *int                    `json:"insights_count,omitempty"`
	LoggedAt      time.Time               `json:"logged_at"`
}

// ResultStatus implements action.Result.
func (r *Result) ResultStatus() string { return r.Status }

// Action appends interaction records.
type Action struct {
	store  analytics.Store
	sink   Sink
	opts   Options
	logger log.Logger
	now    func() time.Time
}

// New returns an analytics action. sink may be nil.
func New(store analytics.Store, sink Sink, opts Options, logger log.Logger) (*Action, error) {
	if store == nil {
		return nil, errors.New("analyticsaction: store is required")
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Action{
		store:  store,
		sink:   sink,
		opts:   opts,
		logger: logger.With("action", Name),
		now:    time.Now,
	}, nil
}

// Factory returns a registration entry. The options block may set
// "rollup_every" and "insights_every".
func Factory(store analytics.Store, sink Sink, defaults Options, logger log.Logger) action.Factory {
	return action.Factory{
		Name: Name,
		New: func(cfg action.ActionConfig) (action.Action, error) {
			opts := defaults
			if err := intOption(cfg.Options, "rollup_every", &opts.RollupEvery); err != nil {
				return nil, err
			}
			if err := intOption(cfg.Options, "insights_every", &opts.InsightsEvery); err != nil {
				return nil, err
			}
			return New(store, sink, opts, logger)
		},
	}
}

func intOption(opts map[string]any, key string, dst *int) error {
	v, ok := opts[key]
	if !ok || v == nil {
		return nil
	}
	switch n := v.(type) {
	case int:
		*dst = n
	case int64:
		*dst = int(n)
	case float64:
		if n != float64(int(n)) {
			return fmt.Errorf("analyticsaction: option %q must be a whole number, got %v", key, n)
		}
		*dst = int(n)
	default:
		return fmt.Errorf("analyticsaction: option %q must be a number, got %T", key, v)
	}
	return nil
}

// Name implements action.Action.
func (a *Action) Name() string { return Name }

// DefaultPriority implements action.Action.
func (a *Action) DefaultPriority() int { return defaultPriority }

// Describe implements action.Describer.
func (a *Action) Describe() map[string]any {
	return map[string]any{
		"rollup_every":   a.opts.RollupEvery,
		"insights_every": a.opts.InsightsEvery,
		"event_sink":     a.sink != nil,
	}
}

// ShouldExecute implements action.Action.
func (a *Action) ShouldExecute(_ *action.Prediction, c *action.CustomerContext) (bool, error) {
	return !c.DisableAnalytics, nil
}

// Execute implements action.Action.
func (a *Action) Execute(ctx context.Context, p *action.Prediction, c *action.CustomerContext) (action.Result, error) {
	now := a.now().UTC()
	msg := c.Message
	if msg == "" {
		msg = p.Message
	}

	rec := &analytics.Record{
		Timestamp:             now,
		CustomerID:            c.CustomerID,
		CustomerTier:          string(c.Tier),
		IssueType:             p.IssueType,
		Sentiment:             string(p.Sentiment),
		PredictedSatisfaction: string(p.PredictedSatisfaction),
		Priority:              string(p.RecommendedPriority),
		Confidence:            p.Confidence,
		MessageLength:         len([]rune(msg)),
		EmailTriggered:        p.HasExecuted(emailaction.Name),
		ResponseTimeMS:        c.ResponseTimeMS,
	}

	id, err := a.store.Append(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("append interaction: %w", err)
	}
	logger := a.logger.With("interaction_id", id)

	if a.sink != nil {
		if err := a.sink.Publish(ctx, rec); err != nil {
			logger.Warn(ctx, "publish analytics event failed", "err", err)
		}
	}

	res := &Result{
		Status:        "success",
		InteractionID: id,
		RecordsLogged: 1,
		LoggedAt:      now,
	}

	if every(id, a.opts.RollupEvery) {
		s, ok, err := a.store.Rollup(ctx, now)
		switch {
		case err != nil:
			logger.Warn(ctx, "daily rollup failed", "err", err)
		case ok:
			res.DailySummary = s
		}
	}

	if every(id, a.opts.InsightsEvery) {
		ins, err := analytics.Insights(ctx, a.store, now)
		if err != nil {
			logger.Warn(ctx, "insight generation failed", "err", err)
		} else {
			n := len(ins)
			res.Insights = ins
			res.InsightsCount = &n
			for _, in := range ins {
				logger.Info(ctx, "analytics insight", "type", in.Type, "severity", in.Severity, "message", in.Message)
			}
		}
	}

	return res, nil
}

func every(id int64, n int) bool {
	return n > 0 && id%int64(n) == 0
}

// Package intake turns inbound triage requests into orchestration calls and
// shapes the per-request response.
package intake

import (
	"context"
	"errors"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/ticketwatch/internal/action"
	"github.com/linnemanlabs/ticketwatch/internal/postgres"
)

// ErrInvalidRequest is returned for requests without a prediction.
var ErrInvalidRequest = errors.New("invalid request")

// Request is one prediction plus the customer context it belongs to.
type Request struct {
	ID         string                  `json:"id,omitempty"`
	Prediction *action.Prediction      `json:"prediction"`
	Context    *action.CustomerContext `json:"context"`

	// ReceivedAt is when the request entered the process. It seeds
	// response_time_ms when the context does not carry one.
	ReceivedAt time.Time `json:"-"`
}

// Response is the orchestration outcome returned to the caller.
type Response struct {
	ID             string                   `json:"id"`
	Prediction     *action.Prediction       `json:"prediction"`
	ActionResults  map[string]action.Result `json:"action_results"`
	ActionsSkipped []action.Skip            `json:"actions_skipped"`
	ActionsFailed  []action.Failure         `json:"actions_failed"`
}

// Orchestrator runs applicable actions for one request.
type Orchestrator interface {
	Execute(ctx context.Context, p *action.Prediction, c *action.CustomerContext) *action.Report
}

// Service handles requests against an Orchestrator.
type Service struct {
	orch   Orchestrator
	logger log.Logger
	hooks  Hooks
	now    func() time.Time
}

// NewService creates an intake service.
func NewService(orch Orchestrator, logger log.Logger, hooks Hooks) *Service {
	if orch == nil {
		panic(xerrors.New("orchestrator is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		orch:   orch,
		logger: logger,
		hooks:  hooks,
		now:    time.Now,
	}
}

// Handle runs one request. The caller's request is not modified.
func (s *Service) Handle(ctx context.Context, source string, req *Request) (*Response, error) {
	if req == nil || req.Prediction == nil {
		return nil, ErrInvalidRequest
	}

	id := req.ID
	if id == "" {
		id = ulid.Make().String()
	}

	c := action.CustomerContext{}
	if req.Context != nil {
		c = *req.Context
	}
	start := s.now()
	if c.ResponseTimeMS == 0 && !req.ReceivedAt.IsZero() {
		c.ResponseTimeMS = start.Sub(req.ReceivedAt).Milliseconds()
	}

	ctx = postgres.WithSource(ctx, source)
	ctx = postgres.NewCallDBStatsContext(ctx)
	L := s.logger.With("request_id", id, "source", source)
	ctx = log.WithContext(ctx, L)

	rep := s.orch.Execute(ctx, req.Prediction, &c)

	p := *req.Prediction
	p.ActionsExecuted = append([]string(nil), rep.Executed...)

	dur := s.now().Sub(start)
	kv := []any{
		"executed", rep.Executed,
		"skipped", len(rep.Skipped),
		"failed", len(rep.Failed),
		"duration", dur,
	}
	if stats, ok := postgres.CallDBStatsFromContext(ctx); ok {
		if n, total, errs := stats.Snapshot(); n > 0 {
			kv = append(kv, "db_queries", n, "db_time", total, "db_errors", errs)
		}
	}
	L.Info(ctx, "request handled", kv...)

	if s.hooks.OnRequest != nil {
		outcome := outcomeOK
		if len(rep.Failed) > 0 {
			outcome = outcomeActionFailed
		}
		s.hooks.OnRequest(source, outcome, dur.Seconds())
	}

	return &Response{
		ID:             id,
		Prediction:     &p,
		ActionResults:  rep.Results,
		ActionsSkipped: rep.Skipped,
		ActionsFailed:  rep.Failed,
	}, nil
}

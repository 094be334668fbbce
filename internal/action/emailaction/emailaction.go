// Package emailaction routes tickets to support teams by email.
//
// The action applies to high-value customers, high-priority predictions and
// messages with alarming language. It renders a team notification and, for
// high-priority tickets, a separate manager escalation. Delivery failures are
// reported in the result rather than failing the action.
package emailaction

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/ticketwatch/internal/action"
	"github.com/linnemanlabs/ticketwatch/internal/notify"
)

// Name is the action's registered name.
const Name = "EmailAction"

const (
	defaultPriority = 10

	templateAssignment   = string(notify.KindTeamAssignment)
	templateHighPriority = string(notify.KindHighPriorityAlert)
	templateEscalation   = string(notify.KindManagerEscalation)

	statusError = "error"
)

var triggerWords = []string{"urgent", "critical", "emergency", "angry", "frustrated", "terrible", "awful"}

var priorityTiers = []action.Tier{action.TierVIP, action.TierPremium, action.TierEnterprise}

// Options configure addressing. Both may be overridden per deployment via
// the action's options block ("domain", "override_recipient").
type Options struct {
	Domain            string
	OverrideRecipient string
}

// Escalation reports the manager notification sent for high-priority
// tickets.
type Escalation struct {
	Status       string `json:"status"`
	ManagerName  string `json:"manager_name"`
	ManagerEmail string `json:"manager_email"`
	Detail       string `json:"detail"`
}

// Result is the email action's report entry.
type Result struct {
	Status          string      `json:"status"`
	TicketID        string      `json:"ticket_id"`
	Team            string      `json:"team"`
	Template        string      `json:"template"`
	RecipientsCount int         `json:"recipients_count"`
	Detail          string      `json:"detail"`
	Confidence      float64     `json:"confidence"`
	Escalation      *Escalation `json:"escalation,omitempty"`
	SentAt          time.Time   `json:"sent_at"`
}

// ResultStatus implements action.Result.
func (r *Result) ResultStatus() string { return r.Status }

// Action sends ticket notifications through a notify.Channel.
type Action struct {
	channel notify.Channel
	dir     *Directory
	opts    Options
	logger  log.Logger
	now     func() time.Time
	newID   func() string
}

// New returns an email action delivering through ch.
func New(ch notify.Channel, opts Options, logger log.Logger) (*Action, error) {
	if ch == nil {
		return nil, errors.New("emailaction: channel is required")
	}
	if opts.Domain == "" && opts.OverrideRecipient == "" {
		return nil, errors.New("emailaction: domain or override recipient is required")
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Action{
		channel: ch,
		dir:     NewDirectory(opts.Domain, opts.OverrideRecipient),
		opts:    opts,
		logger:  logger.With("action", Name),
		now:     time.Now,
		newID:   func() string { return "TKT_" + ulid.Make().String() },
	}, nil
}

// Factory returns a registration entry. Options in the action's config block
// override defaults.
func Factory(ch notify.Channel, defaults Options, logger log.Logger) action.Factory {
	return action.Factory{
		Name: Name,
		New: func(cfg action.ActionConfig) (action.Action, error) {
			opts := defaults
			if err := stringOption(cfg.Options, "domain", &opts.Domain); err != nil {
				return nil, err
			}
			if err := stringOption(cfg.Options, "override_recipient", &opts.OverrideRecipient); err != nil {
				return nil, err
			}
			return New(ch, opts, logger)
		},
	}
}

func stringOption(opts map[string]any, key string, dst *string) error {
	v, ok := opts[key]
	if !ok || v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("emailaction: option %q must be a string, got %T", key, v)
	}
	*dst = s
	return nil
}

// Name implements action.Action.
func (a *Action) Name() string { return Name }

// DefaultPriority implements action.Action.
func (a *Action) DefaultPriority() int { return defaultPriority }

// Describe implements action.Describer.
func (a *Action) Describe() map[string]any {
	return map[string]any{
		"channel":            a.channel.Name(),
		"domain":             a.opts.Domain,
		"override_recipient": a.opts.OverrideRecipient != "",
	}
}

// ShouldExecute implements action.Action.
func (a *Action) ShouldExecute(p *action.Prediction, c *action.CustomerContext) (bool, error) {
	if c.DisableEmail {
		return false, nil
	}
	if slices.Contains(priorityTiers, c.Tier) {
		return true, nil
	}
	if p.RecommendedPriority == action.LevelHigh {
		return true, nil
	}
	msg := strings.ToLower(messageOf(p, c))
	for _, w := range triggerWords {
		if strings.Contains(msg, w) {
			return true, nil
		}
	}
	return strings.Contains(msg, "billing") && strings.Contains(msg, "charge"), nil
}

// messageOf prefers the customer's own message over the one echoed in the
// prediction.
func messageOf(p *action.Prediction, c *action.CustomerContext) string {
	if c.Message != "" {
		return c.Message
	}
	return p.Message
}

// Execute implements action.Action.
func (a *Action) Execute(ctx context.Context, p *action.Prediction, c *action.CustomerContext) (action.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := a.now()
	t := newTicket(a.newID(), p, c, now)
	team := a.dir.Route(p.IssueType)
	high := p.RecommendedPriority == action.LevelHigh

	msg := &notify.Message{
		To:       []string{team.Address},
		Kind:     notify.KindTeamAssignment,
		TicketID: t.ID,
		Priority: t.Priority,
		Team:     team.Name,
	}
	if high {
		msg.Kind = notify.KindHighPriorityAlert
		for _, m := range team.Members {
			msg.To = append(msg.To, m.Email)
		}
		msg.To = dedupe(msg.To)
		msg.Body = renderHighPriority(t, team.Name)
	} else {
		msg.Body = renderAssignment(t, team.Name)
	}
	msg.Subject = subjectFor(string(msg.Kind), t.ID)

	res := &Result{
		TicketID:        t.ID,
		Team:            team.Key,
		Template:        string(msg.Kind),
		RecipientsCount: len(msg.To),
		Confidence:      p.Confidence,
		SentAt:          now.UTC(),
	}

	logger := a.logger.With("ticket_id", t.ID, "team", team.Key)
	d, err := a.channel.Deliver(ctx, msg)
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, fmt.Errorf("deliver %s: %w", msg.Kind, ctx.Err())
	case err != nil:
		logger.Warn(ctx, "team notification failed", "err", err)
		res.Status = statusError
		res.Detail = err.Error()
	default:
		res.Status = string(d.Status)
		res.Detail = d.Detail
	}

	if high {
		esc, err := a.escalate(ctx, team, t)
		if err != nil {
			return nil, err
		}
		res.Escalation = esc
	}

	logger.Info(ctx, "email action completed", "status", res.Status, "template", res.Template)
	return res, nil
}

func (a *Action) escalate(ctx context.Context, team Team, t ticket) (*Escalation, error) {
	name, email := team.Manager()
	esc := &Escalation{ManagerName: name, ManagerEmail: email}

	d, err := a.channel.Deliver(ctx, &notify.Message{
		To:       []string{email},
		Subject:  subjectFor(templateEscalation, t.ID),
		Body:     renderEscalation(t, name),
		Kind:     notify.KindManagerEscalation,
		TicketID: t.ID,
		Priority: t.Priority,
		Team:     team.Name,
	})
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, fmt.Errorf("deliver %s: %w", notify.KindManagerEscalation, ctx.Err())
	case err != nil:
		a.logger.Warn(ctx, "manager escalation failed", "ticket_id", t.ID, "err", err)
		esc.Status = statusError
		esc.Detail = err.Error()
	default:
		esc.Status = string(d.Status)
		esc.Detail = d.Detail
	}
	return esc, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

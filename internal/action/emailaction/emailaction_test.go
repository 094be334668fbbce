package emailaction

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/ticketwatch/internal/action"
	"github.com/linnemanlabs/ticketwatch/internal/notify"
)

// recordingChannel captures messages and fails on request.
type recordingChannel struct {
	status  notify.Status
	failOn  notify.Kind
	failErr error
	block   bool

	mu   sync.Mutex
	sent []*notify.Message
}

func (r *recordingChannel) Name() string { return "recording" }

func (r *recordingChannel) Deliver(ctx context.Context, m *notify.Message) (*notify.Delivery, error) {
	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	r.mu.Lock()
	r.sent = append(r.sent, m)
	r.mu.Unlock()
	if r.failOn == m.Kind {
		return nil, r.failErr
	}
	status := r.status
	if status == "" {
		status = notify.StatusSimulated
	}
	return &notify.Delivery{Channel: r.Name(), Status: status, Detail: "ok"}, nil
}

func (r *recordingChannel) messages() []*notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*notify.Message(nil), r.sent...)
}

func newTestAction(t *testing.T, ch notify.Channel, opts Options) *Action {
	t.Helper()
	a, err := New(ch, opts, log.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.now = func() time.Time { return time.Date(2026, 2, 26, 14, 0, 0, 0, time.UTC) }
	a.newID = func() string { return "TKT_TEST" }
	return a
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, Options{Domain: "example.com"}, nil); err == nil {
		t.Error("expected error for nil channel")
	}
	if _, err := New(&recordingChannel{}, Options{}, nil); err == nil {
		t.Error("expected error when neither domain nor override is set")
	}
}

func TestShouldExecute(t *testing.T) {
	t.Parallel()

	a := newTestAction(t, &recordingChannel{}, Options{Domain: "example.com"})

	tests := []struct {
		name     string
		tier     action.Tier
		priority action.Level
		ctxMsg   string
		predMsg  string
		disable  bool
		want     bool
	}{
		{"vip tier", action.TierVIP, action.LevelLow, "hello", "", false, true},
		{"premium tier", action.TierPremium, action.LevelLow, "", "", false, true},
		{"enterprise tier", action.TierEnterprise, action.LevelLow, "", "", false, true},
		{"standard calm low", action.TierStandard, action.LevelLow, "thank you, all good", "", false, false},
		{"high priority", action.TierStandard, action.LevelHigh, "fine", "", false, true},
		{"keyword urgent", action.TierStandard, action.LevelLow, "this is an urgent problem", "", false, true},
		{"keyword case insensitive", action.TierStandard, action.LevelLow, "I am FRUSTRATED", "", false, true},
		{"billing and charge", action.TierStandard, action.LevelLow, "Billing shows a double charge", "", false, true},
		{"billing alone", action.TierStandard, action.LevelLow, "billing question", "", false, false},
		{"charge alone", action.TierStandard, action.LevelLow, "how do I charge my device", "", false, false},
		{"prediction message fallback", action.TierStandard, action.LevelLow, "", "awful service", false, true},
		{"context message wins", action.TierStandard, action.LevelLow, "all good", "awful service", false, false},
		{"disabled beats vip", action.TierVIP, action.LevelHigh, "urgent", "", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := &action.Prediction{RecommendedPriority: tt.priority, Message: tt.predMsg}
			c := &action.CustomerContext{Tier: tt.tier, Message: tt.ctxMsg, DisableEmail: tt.disable}
			got, err := a.ShouldExecute(p, c)
			if err != nil {
				t.Fatalf("ShouldExecute: %v", err)
			}
			if got != tt.want {
				t.Errorf("ShouldExecute = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExecute_TeamAssignment(t *testing.T) {
	t.Parallel()

	ch := &recordingChannel{status: notify.StatusSent}
	a := newTestAction(t, ch, Options{Domain: "example.com"})

	p := &action.Prediction{
		IssueType:           "refund",
		Sentiment:           action.SentimentNeutral,
		RecommendedPriority: action.LevelMedium,
		Confidence:          0.72,
	}
	c := &action.CustomerContext{CustomerID: "C9", Tier: action.TierPremium, Message: "please refund my order"}

	r, err := a.Execute(context.Background(), p, c)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	res := r.(*Result)

	if res.Status != "sent" || res.ResultStatus() != "sent" {
		t.Errorf("status = %q, want sent", res.Status)
	}
	if res.Team != "billing_team" {
		t.Errorf("team = %q, want billing_team", res.Team)
	}
	if res.Template != "team_assignment" {
		t.Errorf("template = %q", res.Template)
	}
	if res.RecipientsCount != 1 {
		t.Errorf("recipients = %d, want 1", res.RecipientsCount)
	}
	if res.Escalation != nil {
		t.Error("no escalation expected for medium priority")
	}
	if res.TicketID != "TKT_TEST" || res.Confidence != 0.72 {
		t.Errorf("result = %+v", res)
	}

	msgs := ch.messages()
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	m := msgs[0]
	if m.To[0] != "billing@example.com" {
		t.Errorf("to = %v", m.To)
	}
	if m.Subject != "🎯 New Support Ticket Assignment - #TKT_TEST" {
		t.Errorf("subject = %q", m.Subject)
	}
	for _, want := range []string{
		"Hello Billing Support Team,",
		"• Customer: C9",
		"• Confidence: 72%",
		"• Response SLA: 2026-02-26 18:00",
		"please refund my order",
	} {
		if !strings.Contains(m.Body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestExecute_HighPriorityEscalates(t *testing.T) {
	t.Parallel()

	ch := &recordingChannel{}
	a := newTestAction(t, ch, Options{Domain: "example.com"})

	p := &action.Prediction{
		IssueType:           "shipping",
		Sentiment:           action.SentimentNegative,
		RecommendedPriority: action.LevelHigh,
		Confidence:          0.89,
		Message:             "lost package, urgent!",
	}
	c := &action.CustomerContext{CustomerID: "C1", Tier: action.TierVIP}

	r, err := a.Execute(context.Background(), p, c)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	res := r.(*Result)

	if res.Template != "high_priority_alert" || res.Status != "simulated" {
		t.Errorf("result = %+v", res)
	}
	// team address plus three members
	if res.RecipientsCount != 4 {
		t.Errorf("recipients = %d, want 4", res.RecipientsCount)
	}
	if res.Escalation == nil {
		t.Fatal("expected escalation for high priority")
	}
	if res.Escalation.ManagerName != "Carlos Lopez" || res.Escalation.ManagerEmail != "carlos.lopez@example.com" {
		t.Errorf("escalation = %+v", res.Escalation)
	}

	msgs := ch.messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[1].Kind != notify.KindManagerEscalation || msgs[1].To[0] != "carlos.lopez@example.com" {
		t.Errorf("escalation message = %+v", msgs[1])
	}
	if !strings.Contains(msgs[0].Body, "High priority classification; Negative customer sentiment; VIP customer status") {
		t.Errorf("alert body missing escalation reason:\n%s", msgs[0].Body)
	}
	if !strings.Contains(msgs[1].Body, "Dear Carlos Lopez,") {
		t.Errorf("escalation body = %s", msgs[1].Body)
	}
}

func TestExecute_OverrideRecipientDedupes(t *testing.T) {
	t.Parallel()

	ch := &recordingChannel{}
	a := newTestAction(t, ch, Options{OverrideRecipient: "ops@example.com"})

	p := &action.Prediction{IssueType: "billing", RecommendedPriority: action.LevelHigh}
	r, err := a.Execute(context.Background(), p, &action.CustomerContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := r.(*Result).RecipientsCount; got != 1 {
		t.Errorf("recipients = %d, want 1 after de-duplication", got)
	}
	if to := ch.messages()[0].To; len(to) != 1 || to[0] != "ops@example.com" {
		t.Errorf("to = %v", to)
	}
}

func TestExecute_UnknownIssueRoutesToGeneral(t *testing.T) {
	t.Parallel()

	a := newTestAction(t, &recordingChannel{}, Options{Domain: "example.com"})
	r, err := a.Execute(context.Background(), &action.Prediction{IssueType: "weather"}, &action.CustomerContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := r.(*Result).Team; got != "general_support_team" {
		t.Errorf("team = %q, want general_support_team", got)
	}
}

func TestExecute_DeliveryFailureIsSoft(t *testing.T) {
	t.Parallel()

	ch := &recordingChannel{failOn: notify.KindHighPriorityAlert, failErr: errors.New("relay down")}
	a := newTestAction(t, ch, Options{Domain: "example.com"})

	p := &action.Prediction{IssueType: "billing", RecommendedPriority: action.LevelHigh}
	r, err := a.Execute(context.Background(), p, &action.CustomerContext{})
	if err != nil {
		t.Fatalf("delivery failure should not fail the action: %v", err)
	}
	res := r.(*Result)
	if res.Status != "error" || res.Detail != "relay down" {
		t.Errorf("result = %+v, want error/relay down", res)
	}
	if res.Escalation == nil || res.Escalation.Status != "simulated" {
		t.Errorf("escalation should still be attempted: %+v", res.Escalation)
	}
}

func TestExecute_ContextDeadlineIsHard(t *testing.T) {
	t.Parallel()

	a := newTestAction(t, &recordingChannel{block: true}, Options{Domain: "example.com"})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := a.Execute(ctx, &action.Prediction{}, &action.CustomerContext{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestFactory_Options(t *testing.T) {
	t.Parallel()

	f := Factory(&recordingChannel{}, Options{Domain: "example.com"}, log.Nop())
	if f.Name != Name {
		t.Errorf("factory name = %q", f.Name)
	}

	act, err := f.New(action.ActionConfig{Options: map[string]any{"domain": "corp.test"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d := act.(*Action).Describe()
	if d["domain"] != "corp.test" || d["channel"] != "recording" || d["override_recipient"] != false {
		t.Errorf("describe = %v", d)
	}

	if _, err := f.New(action.ActionConfig{Options: map[string]any{"domain": 42}}); err == nil {
		t.Error("expected error for non-string domain")
	}
}

func TestRecommendedActions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		p    action.Prediction
		want string
	}{
		{action.Prediction{}, "Standard support procedures"},
		{action.Prediction{IssueType: "shipping"}, "Check tracking information; Investigate delivery status"},
		{
			action.Prediction{IssueType: "billing", Sentiment: action.SentimentNegative, RecommendedPriority: action.LevelHigh},
			"Immediate response required; Use empathetic communication; Consider goodwill gesture; Review account history; Check payment status",
		},
	}
	for _, tt := range tests {
		if got := recommendedActions(&tt.p); got != tt.want {
			t.Errorf("recommendedActions(%+v) = %q, want %q", tt.p, got, tt.want)
		}
	}
}

func TestEstimateResolution(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		issue    string
		priority action.Level
		want     string
	}{
		"high wins":  {"technical_support", action.LevelHigh, "1-4 hours"},
		"account":    {"account_access", action.LevelLow, "2-6 hours"},
		"product":    {"product_quality", action.LevelMedium, "4-24 hours"},
		"compliment": {"compliment", action.LevelLow, "2-8 hours"},
	}
	for name, tt := range tests {
		p := &action.Prediction{IssueType: tt.issue, RecommendedPriority: tt.priority}
		if got := estimateResolution(p); got != tt.want {
			t.Errorf("%s: got %q, want %q", name, got, tt.want)
		}
	}
}

func TestSLATarget_UnknownPriorityUsesMedium(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	if got := slaTarget("", now); got != "2026-01-01 13:00" {
		t.Errorf("slaTarget = %q", got)
	}
	if got := slaTarget(action.LevelLow, now); got != "2026-01-02 09:00" {
		t.Errorf("slaTarget(low) = %q", got)
	}
}

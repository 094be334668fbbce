package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/ticketwatch/internal/notify"
)

func testMessage() *notify.Message {
	return &notify.Message{
		To:       []string{"billing@example.com", "sarah.johnson@example.com"},
		Subject:  "HIGH PRIORITY: billing ticket TKT_01JN123",
		Body:     "Customer CUST_001 was charged twice.",
		Kind:     notify.KindHighPriorityAlert,
		TicketID: "TKT_01JN123",
		Priority: "high",
		Team:     "Billing Team",
	}
}

func TestDeliver_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, log.Nop())
	c.now = func() time.Time { return time.Date(2026, 2, 26, 14, 23, 0, 0, time.UTC) }

	d, err := c.Deliver(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if d.Status != notify.StatusSent || d.Channel != "slack" {
		t.Errorf("delivery = %+v, want slack/sent", d)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}

	// header, divider, fields, divider, body, divider, context = 7 blocks
	if len(blocks) != 7 {
		t.Errorf("blocks count = %d, want 7", len(blocks))
	}

	header := blocks[0].(map[string]any)
	headerText := header["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, "TKT_01JN123") {
		t.Errorf("header text = %q, want to contain ticket id", headerText)
	}
	if !strings.Contains(headerText, "\U0001f534") {
		t.Errorf("header should contain red circle for high priority")
	}

	ctxBlock := blocks[6].(map[string]any)
	ctxText := ctxBlock["elements"].([]any)[0].(map[string]any)["text"].(string)
	if !strings.Contains(ctxText, "2026-02-26 14:23 UTC") {
		t.Errorf("context text = %q, want timestamp", ctxText)
	}
}

func TestDeliver_SimulatedWithoutURL(t *testing.T) {
	t.Parallel()

	c := New("", log.Nop())
	d, err := c.Deliver(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("Deliver with empty URL should not fail, got: %v", err)
	}
	if d.Status != notify.StatusSimulated {
		t.Errorf("status = %q, want simulated", d.Status)
	}
}

func TestDeliver_TruncatesLongBody(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := testMessage()
	m.Body = strings.Repeat("x", 4000)
	if _, err := New(srv.URL, log.Nop()).Deliver(context.Background(), m); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	blocks := got["blocks"].([]any)
	section := blocks[4].(map[string]any)
	text := section["text"].(map[string]any)["text"].(string)

	overhead := len("*Details*\n\n``````")
	if len(text) > maxBodyLen+overhead {
		t.Errorf("body text length = %d, expected <= %d", len(text), maxBodyLen+overhead)
	}
	if !strings.Contains(text, "...```") {
		t.Error("expected truncated body to end with ...")
	}
}

func TestPriorityEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		kind     notify.Kind
		priority string
		want     string
	}{
		{"escalation", notify.KindManagerEscalation, "low", "\U0001f6a8"},
		{"high", notify.KindHighPriorityAlert, "high", "\U0001f534"},
		{"medium", notify.KindTeamAssignment, "MEDIUM", "\U0001f7e1"},
		{"low", notify.KindTeamAssignment, "low", "\U0001f7e2"},
		{"empty", notify.KindTeamAssignment, "", "\U0001f7e2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := priorityEmoji(tt.kind, tt.priority)
			if got != tt.want {
				t.Errorf("priorityEmoji(%q, %q) = %q, want %q", tt.kind, tt.priority, got, tt.want)
			}
		})
	}
}

func FuzzSlackBuild(f *testing.F) {
	f.Add("New ticket", "Customer says hi", "high", "TKT_1")
	f.Add("", "", "", "")
	f.Add("<@U123> mention", "*bold* _italic_ ~strike~", "medium", "TKT_2")
	f.Add("subject\x00\x01\x02", "body\ttab", "lo\nw", "T\x00KT")
	f.Add(strings.Repeat("A", 5000), strings.Repeat("x", 10000), "high", "TKT_3")
	f.Add("test", "```code block``` and <http://example.com|link>", "low", "TKT_4")

	f.Fuzz(func(t *testing.T, subject, body, priority, ticket string) {
		m := &notify.Message{
			To:       []string{"a@example.com"},
			Subject:  subject,
			Body:     body,
			Kind:     notify.KindTeamAssignment,
			TicketID: ticket,
			Priority: priority,
		}

		// Must not panic
		msg := buildMessage(m, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

		// Must produce valid JSON
		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("buildMessage produced non-marshalable output: %v", err)
		}

		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("buildMessage JSON does not round-trip: %v", err)
		}

		blocks, ok := decoded["blocks"].([]any)
		if !ok {
			t.Fatal("expected blocks array")
		}
		if len(blocks) != 7 {
			t.Fatalf("blocks count = %d, want 7", len(blocks))
		}
	})
}

func TestDeliver_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	_, err := New(srv.URL, log.Nop()).Deliver(context.Background(), testMessage())
	if err == nil {
		t.Fatal("expected error on non-OK status")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want to contain status code 500", err.Error())
	}
}

func TestDeliver_ContextCanceled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(srv.URL, log.Nop()).Deliver(ctx, testMessage()); err == nil {
		t.Fatal("expected error for canceled context")
	}
}

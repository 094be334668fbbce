package simulate

import (
	"context"
	"testing"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/ticketwatch/internal/notify"
)

func TestDeliver(t *testing.T) {
	t.Parallel()

	c := New(log.Nop())
	d, err := c.Deliver(context.Background(), &notify.Message{
		To:       []string{"a@example.com", "b@example.com"},
		Kind:     notify.KindTeamAssignment,
		TicketID: "TKT_1",
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if d.Status != notify.StatusSimulated {
		t.Errorf("status = %q, want simulated", d.Status)
	}
	if d.Detail != "simulated delivery to 2 recipient(s)" {
		t.Errorf("detail = %q", d.Detail)
	}
	if c.Delivered() != 1 {
		t.Errorf("delivered = %d, want 1", c.Delivered())
	}
}

func TestDeliver_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(nil)
	if _, err := c.Deliver(ctx, &notify.Message{}); err == nil {
		t.Fatal("expected error for canceled context")
	}
	if c.Delivered() != 0 {
		t.Error("canceled delivery must not be counted")
	}
}

// Package simulate is a delivery channel that only logs what it would send.
// It is the default when no real channel is configured.
package simulate

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/ticketwatch/internal/notify"
)

// Channel logs messages instead of sending them.
type Channel struct {
	logger log.Logger
	count  atomic.Int64
}

// New returns a simulating channel that logs through logger.
func New(logger log.Logger) *Channel {
	if logger == nil {
		logger = log.Nop()
	}
	return &Channel{logger: logger}
}

// Name implements notify.Channel.
func (c *Channel) Name() string { return "simulate" }

// Deliver logs the message and reports a simulated delivery.
func (c *Channel) Deliver(ctx context.Context, m *notify.Message) (*notify.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.count.Add(1)
	c.logger.Info(ctx, "simulated notification",
		"kind", string(m.Kind),
		"ticket_id", m.TicketID,
		"to", m.To,
		"subject", m.Subject,
	)
	return &notify.Delivery{
		Channel: c.Name(),
		Status:  notify.StatusSimulated,
		Detail:  fmt.Sprintf("simulated delivery to %d recipient(s)", len(m.To)),
	}, nil
}

// Delivered returns how many messages have been simulated.
func (c *Channel) Delivered() int64 { return c.count.Load() }

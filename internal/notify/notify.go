// Package notify defines the delivery channel contract used by the email
// action and a fan-out over several channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind identifies which notification template produced a message.
type Kind string

const (
	KindTeamAssignment    Kind = "team_assignment"
	KindHighPriorityAlert Kind = "high_priority_alert"
	KindManagerEscalation Kind = "manager_escalation"
)

// Status is the outcome of a successful delivery.
type Status string

const (
	StatusSent      Status = "sent"
	StatusSimulated Status = "simulated"
)

// Message is a rendered notification ready for delivery.
type Message struct {
	To       []string
	Subject  string
	Body     string
	Kind     Kind
	TicketID string
	Priority string
	Team     string
}

// Delivery describes what a channel did with a message.
type Delivery struct {
	Channel string
	Status  Status
	Detail  string
}

// Channel delivers messages. Deliver returns an error when the message could
// not be handed off; ctx cancellation must abort in-flight work.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, m *Message) (*Delivery, error)
}

// Multi delivers every message to each channel in order.
type Multi []Channel

// Name implements Channel.
func (m Multi) Name() string {
	names := make([]string, 0, len(m))
	for _, c := range m {
		names = append(names, c.Name())
	}
	return strings.Join(names, "+")
}

// Deliver fans msg out to all channels. It fails only when every channel
// fails (or ctx is done); partial failures are reported in Detail. The
// result status is sent when any channel really sent the message.
func (m Multi) Deliver(ctx context.Context, msg *Message) (*Delivery, error) {
	if len(m) == 0 {
		return nil, errors.New("notify: no delivery channels configured")
	}

	var (
		errs    []error
		details []string
		status  = StatusSimulated
		ok      int
	)
	for _, c := range m {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, err := c.Deliver(ctx, msg)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
			details = append(details, fmt.Sprintf("%s: error: %v", c.Name(), err))
			continue
		}
		ok++
		if d.Status == StatusSent {
			status = StatusSent
		}
		details = append(details, fmt.Sprintf("%s: %s", c.Name(), d.Status))
	}

	if ok == 0 {
		return nil, errors.Join(errs...)
	}
	return &Delivery{
		Channel: m.Name(),
		Status:  status,
		Detail:  strings.Join(details, "; "),
	}, nil
}

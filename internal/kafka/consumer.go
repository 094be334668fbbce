package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/linnemanlabs/go-core/log"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads triage requests from a topic as a consumer-group member.
// Offsets are committed only after the caller acknowledges a message.
type Consumer struct {
	r      messageReader
	topic  string
	logger log.Logger
}

// NewConsumer joins groupID on topic.
func NewConsumer(brokers []string, topic, groupID string, logger log.Logger) *Consumer {
	if logger == nil {
		logger = log.Nop()
	}
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		topic:  topic,
		logger: logger,
	}
}

// Name identifies the consumer as an intake source.
func (c *Consumer) Name() string { return "kafka" }

// Next blocks for the next message. It returns io.EOF once ctx is done or
// the reader is closed, so callers treat shutdown as end of input.
func (c *Consumer) Next(ctx context.Context) ([]byte, func(context.Context) error, error) {
	m, err := c.r.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, io.EOF) {
			return nil, nil, io.EOF
		}
		c.logger.Warn(ctx, "kafka fetch failed", "topic", c.topic, "err", err)
		return nil, nil, fmt.Errorf("fetch from %s: %w", c.topic, err)
	}

	ack := func(ctx context.Context) error {
		if err := c.r.CommitMessages(ctx, m); err != nil {
			return fmt.Errorf("commit %s/%d@%d: %w", m.Topic, m.Partition, m.Offset, err)
		}
		return nil
	}
	return m.Value, ack, nil
}

// Close leaves the consumer group.
func (c *Consumer) Close() error {
	return c.r.Close()
}

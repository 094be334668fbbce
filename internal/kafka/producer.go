// Package kafka connects ticketwatch to Kafka: a producer that publishes
// logged interactions and a consumer that feeds triage requests to intake.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/segmentio/kafka-go"

	"github.com/linnemanlabs/ticketwatch/internal/analytics"
)

// EventInteractionLogged is the event-type header on analytics messages.
const EventInteractionLogged = "interaction_logged"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes analytics records to one topic.
type Producer struct {
	w      messageWriter
	topic  string
	logger log.Logger
}

// NewProducer creates a producer writing to topic on brokers.
func NewProducer(brokers []string, topic string, logger log.Logger) *Producer {
	if logger == nil {
		logger = log.Nop()
	}
	return &Producer{
		w:      newWriter(brokers, topic),
		topic:  topic,
		logger: logger,
	}
}

// publishBatchTimeout bounds how long a synchronous Publish waits for a
// batch to fill before it is flushed.
const publishBatchTimeout = 5 * time.Millisecond

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    1,
		BatchTimeout: publishBatchTimeout,
	}
}

// Publish sends r keyed by customer so one customer's events stay ordered
// within a partition.
func (p *Producer) Publish(ctx context.Context, r *analytics.Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal interaction %d: %w", r.ID, err)
	}

	key := r.CustomerID
	if key == "" {
		key = strconv.FormatInt(r.ID, 10)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventInteractionLogged)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write to %s: %w", p.topic, err)
	}

	p.logger.Info(ctx, "published analytics event", "topic", p.topic, "interaction_id", r.ID)
	return nil
}

// Close flushes pending writes and closes the writer.
func (p *Producer) Close() error {
	return p.w.Close()
}

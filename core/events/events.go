// Package events publishes order lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/m3rciful/betbot/core/logger"
	"github.com/m3rciful/betbot/core/metrics"
	"github.com/m3rciful/betbot/core/store"
)

// TypeOrderPlaced is the event type carried by OrderPlaced.
const TypeOrderPlaced = "order.placed"

// OrderPlaced is emitted once per persisted order.
type OrderPlaced struct {
	Type     string      `json:"type"`
	Order    store.Order `json:"order"`
	TsUnixMs int64       `json:"ts_unix_ms"`
}

// MessageWriter is the subset of *kafka.Writer used by Publisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes OrderPlaced events keyed by user id, so one user's orders stay on one partition.
type Publisher struct {
	w     MessageWriter
	topic string
	now   func() time.Time
}

// NewWriter builds a writer for a comma-separated broker list.
func NewWriter(brokers, topic string) *kafka.Writer {
	var addrs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

// NewPublisher wraps w. topic is only used for logging; the writer carries the destination.
func NewPublisher(w MessageWriter, topic string) *Publisher {
	return &Publisher{w: w, topic: topic, now: time.Now}
}

// PublishOrderPlaced writes one OrderPlaced event for o.
func (p *Publisher) PublishOrderPlaced(ctx context.Context, o store.Order) (err error) {
	defer func() { metrics.Published(err) }()

	payload, err := json.Marshal(OrderPlaced{
		Type:     TypeOrderPlaced,
		Order:    o,
		TsUnixMs: p.now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("events: encode: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(o.UserID),
		Value: payload,
		Time:  p.now(),
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(TypeOrderPlaced)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: write %s: %w", p.topic, err)
	}
	logger.Events.DebugContext(ctx, "order event published",
		slog.String("event", "events.publish"),
		slog.String("topic", p.topic),
		slog.String("order_id", o.OrderID),
	)
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}

// Package events publishes order lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/ghostmarket/internal/domain/order"
)

var _ order.EventPublisher = (*Kafka)(nil)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ParseBrokers splits a comma separated broker list, dropping blanks.
func ParseBrokers(csv string) []string {
	var brokers []string
	for _, b := range strings.Split(csv, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// Kafka writes order events keyed by order id, so events of one order stay
// ordered within a partition.
type Kafka struct {
	w messageWriter
}

// NewKafka returns a publisher writing to topic. Writes are asynchronous;
// delivery errors are logged by lg.
func NewKafka(brokers []string, topic string, lg *zap.Logger) *Kafka {
	return &Kafka{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				lg.Warn("Order events not delivered", zap.Int("count", len(msgs)), zap.Error(err))
			}
		},
	}}
}

type eventPayload struct {
	Type        string    `json:"type"`
	OrderID     string    `json:"orderId"`
	Status      string    `json:"status"`
	TotalAmount string    `json:"totalAmount"`
	At          time.Time `json:"at"`
}

// Publish hands e to the asynchronous writer as a JSON message keyed by order
// id. The event type is also carried in a "type" header for consumers that
// filter without decoding. A nil error means the message was buffered, not
// that the broker acknowledged it.
func (k *Kafka) Publish(ctx context.Context, e order.Event) error {
	data, err := json.Marshal(eventPayload{
		Type:        e.Type,
		OrderID:     e.OrderID,
		Status:      string(e.Status),
		TotalAmount: e.TotalAmount.StringFixed(2),
		At:          e.At,
	})
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	msg := kafka.Message{
		Key:   []byte(e.OrderID),
		Value: data,
		Time:  e.At,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, "write event")
	}
	return nil
}

// Close flushes pending writes.
func (k *Kafka) Close() error {
	return k.w.Close()
}

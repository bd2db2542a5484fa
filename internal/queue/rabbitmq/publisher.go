// Package rabbitmq implements the delivery job queue on RabbitMQ.
package rabbitmq

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/xenking/ghostmarket/internal/domain/delivery"
)

var _ delivery.Queue = (*Publisher)(nil)

// Publisher submits jobs with publisher confirms, so Enqueue returns only
// after the broker has taken responsibility for the message.
type Publisher struct {
	topo Topology

	mu sync.Mutex
	ch *amqp.Channel
}

// NewPublisher opens a channel on conn in publisher-confirm mode and declares
// every queue of topo. The returned Publisher owns the channel; closing it
// leaves conn open.
func NewPublisher(conn *amqp.Connection, topo Topology) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, errors.Wrap(err, "enable confirms")
	}
	if err := topo.Declare(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return &Publisher{topo: topo, ch: ch}, nil
}

// Enqueue stores a new job named name with payload encoded as JSON. The job
// starts at attempt 1 with a fresh id. Enqueue returns only after the broker
// confirmed the persistent message, or when ctx is done.
func (p *Publisher) Enqueue(ctx context.Context, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "encode payload")
	}
	env := envelope{
		ID:         uuid.NewString(),
		Name:       name,
		Data:       data,
		Attempt:    1,
		EnqueuedAt: time.Now().UTC(),
	}
	return p.publish(ctx, p.topo.Name, env)
}

func (p *Publisher) publish(ctx context.Context, queue string, env envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "encode envelope")
	}

	p.mu.Lock()
	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.ID,
		Type:         env.Name,
		Timestamp:    time.Now(),
		Body:         body,
	})
	p.mu.Unlock()
	if err != nil {
		return errors.Wrapf(err, "publish to %s", queue)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return errors.Wrapf(err, "await confirm from %s", queue)
	}
	if !acked {
		return errors.Errorf("broker rejected job %s", env.ID)
	}
	return nil
}

// Close closes the publishing channel.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Close()
}

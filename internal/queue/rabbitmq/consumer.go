package rabbitmq

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/ghostmarket/internal/domain/delivery"
)

// Handler processes one job. A nil error acknowledges it.
type Handler interface {
	Process(ctx context.Context, job delivery.Job) error
}

type republisher interface {
	publish(ctx context.Context, queue string, env envelope) error
}

// ConsumerConfig tunes a Consumer.
type ConsumerConfig struct {
	// Prefetch bounds unacknowledged deliveries held by this consumer.
	Prefetch int
	// Concurrency is the number of jobs processed in parallel.
	Concurrency int
	// JobTimeout bounds a single Process call.
	JobTimeout time.Duration
}

// Consumer pulls jobs and reschedules failures according to the topology's
// retry policy.
type Consumer struct {
	conn    *amqp.Connection
	topo    Topology
	cfg     ConsumerConfig
	handler Handler
	pub     republisher
}

// NewConsumer returns a Consumer. pub is used to park failed jobs and must be
// bound to the same broker.
func NewConsumer(conn *amqp.Connection, topo Topology, cfg ConsumerConfig, pub *Publisher, h Handler) *Consumer {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Prefetch < cfg.Concurrency {
		cfg.Prefetch = cfg.Concurrency
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = time.Minute
	}
	return &Consumer{
		conn:    conn,
		topo:    topo,
		cfg:     cfg,
		handler: h,
		pub:     pub,
	}
}

// Run consumes until ctx is cancelled or the channel fails. Jobs in flight
// when ctx is cancelled are allowed to finish.
func (c *Consumer) Run(ctx context.Context) error {
	lg := zctx.From(ctx)

	ch, err := c.conn.Channel()
	if err != nil {
		return errors.Wrap(err, "open channel")
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return errors.Wrap(err, "set qos")
	}
	if err := c.topo.Declare(ch); err != nil {
		return err
	}

	deliveries, err := ch.ConsumeWithContext(ctx, c.topo.Name, "", false, false, false, false, nil)
	if err != nil {
		return errors.Wrapf(err, "consume %s", c.topo.Name)
	}
	lg.Info("Consuming jobs",
		zap.String("queue", c.topo.Name),
		zap.Int("concurrency", c.cfg.Concurrency),
		zap.Int("prefetch", c.cfg.Prefetch),
	)

	g, gctx := errgroup.WithContext(ctx)
	for range c.cfg.Concurrency {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case d, ok := <-deliveries:
					if !ok {
						if gctx.Err() != nil {
							return nil
						}
						return errors.New("delivery channel closed")
					}
					c.handle(gctx, d)
				}
			}
		})
	}
	return g.Wait()
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	lg := zctx.From(ctx).With(zap.String("message_id", d.MessageId))

	// Finish the job even if shutdown begins mid-flight.
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.JobTimeout)
	defer cancel()

	env, err := decodeEnvelope(d.Body)
	if err != nil {
		lg.Error("Undecodable job, moving to failed queue", zap.Error(err))
		c.fail(jobCtx, lg, d, envelope{ID: d.MessageId, Name: d.Type, Data: d.Body, LastError: err.Error()})
		return
	}
	lg = lg.With(zap.String("job_id", env.ID), zap.String("job_name", env.Name), zap.Int("attempt", env.Attempt))

	err = c.handler.Process(zctx.Base(jobCtx, lg), env.job())
	if err == nil {
		ack(lg, d)
		return
	}

	env.LastError = err.Error()
	if delivery.IsPermanent(err) || c.topo.Policy.Exhausted(env.Attempt) {
		lg.Error("Job failed permanently", zap.Error(err))
		c.fail(jobCtx, lg, d, env)
		return
	}

	retryQueue := c.topo.RetryQueue(env.Attempt)
	delay := c.topo.Policy.Backoff(env.Attempt)
	env.Attempt++
	if err := c.pub.publish(jobCtx, retryQueue, env); err != nil {
		lg.Error("Failed to schedule retry, requeueing", zap.Error(err))
		nack(lg, d)
		return
	}
	lg.Warn("Job failed, retry scheduled", zap.Duration("delay", delay), zap.Error(errors.New(env.LastError)))
	ack(lg, d)
}

func (c *Consumer) fail(ctx context.Context, lg *zap.Logger, d amqp.Delivery, env envelope) {
	if err := c.pub.publish(ctx, c.topo.FailedQueue(), env); err != nil {
		lg.Error("Failed to park job, requeueing", zap.Error(err))
		nack(lg, d)
		return
	}
	ack(lg, d)
}

func ack(lg *zap.Logger, d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		lg.Error("Ack failed", zap.Error(err))
	}
}

func nack(lg *zap.Logger, d amqp.Delivery) {
	if err := d.Nack(false, true); err != nil {
		lg.Error("Nack failed", zap.Error(err))
	}
}

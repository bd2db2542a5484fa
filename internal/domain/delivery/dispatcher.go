package delivery

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Message is a single outbound email.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
}

// Transport performs the external send.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// Metrics counts processed jobs by name and outcome.
type Metrics struct {
	jobs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the dispatcher collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ghostmarket",
			Subsystem: "delivery",
			Name:      "jobs_total",
			Help:      "Delivery jobs processed, by job name and result.",
		}, []string{"name", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ghostmarket",
			Subsystem: "delivery",
			Name:      "send_duration_seconds",
			Help:      "Time spent in the delivery transport.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"name"}),
	}
	reg.MustRegister(m.jobs, m.duration)
	return m
}

func (m *Metrics) observe(name, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(name, result).Inc()
	if took > 0 {
		m.duration.WithLabelValues(name).Observe(took.Seconds())
	}
}

// Dispatcher turns queued jobs into transport sends.
type Dispatcher struct {
	transport Transport
	linkTTL   time.Duration
	metrics   *Metrics
}

// NewDispatcher creates a Dispatcher. linkTTL is only used for the link
// validity note in the email body and should match the token TTL.
func NewDispatcher(transport Transport, linkTTL time.Duration, metrics *Metrics) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		linkTTL:   linkTTL,
		metrics:   metrics,
	}
}

// Process handles one job. Unknown job names are logged and dropped. Transport
// failures are returned unchanged so the queue can retry them.
func (d *Dispatcher) Process(ctx context.Context, job Job) error {
	lg := zctx.From(ctx).With(
		zap.String("job_id", job.ID),
		zap.String("job_name", job.Name),
		zap.Int("attempt", job.Attempt),
	)
	lg.Info("Processing job")

	switch job.Name {
	case JobSendLink:
		return d.sendLink(ctx, lg, job)
	default:
		lg.Warn("Unknown job name, dropping")
		d.metrics.observe(job.Name, "dropped", 0)
		return nil
	}
}

func (d *Dispatcher) sendLink(ctx context.Context, lg *zap.Logger, job Job) error {
	var p SendLink
	if err := json.Unmarshal(job.Data, &p); err != nil {
		d.metrics.observe(job.Name, "malformed", 0)
		return Permanent(errors.Wrap(err, "decode send-link payload"))
	}
	if p.RecipientEmail == "" || p.DownloadLink == "" {
		d.metrics.observe(job.Name, "malformed", 0)
		return Permanent(errors.New("send-link payload missing recipient or link"))
	}

	subject, body, err := renderEmail(p, d.linkTTL)
	if err != nil {
		d.metrics.observe(job.Name, "malformed", 0)
		return Permanent(errors.Wrap(err, "render email"))
	}

	start := time.Now()
	err = d.transport.Send(ctx, Message{
		To:       p.RecipientEmail,
		Subject:  subject,
		HTMLBody: body,
	})
	took := time.Since(start)
	if err != nil {
		lg.Error("Failed to send download link", zap.String("order_id", p.OrderID), zap.Error(err))
		d.metrics.observe(job.Name, "error", took)
		return errors.Wrap(err, "send download link")
	}

	lg.Info("Download link sent", zap.String("order_id", p.OrderID))
	d.metrics.observe(job.Name, "sent", took)
	return nil
}

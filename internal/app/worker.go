package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/ghostmarket/internal/domain/delivery"
	"github.com/xenking/ghostmarket/internal/mailer"
	"github.com/xenking/ghostmarket/internal/queue/rabbitmq"
	"github.com/xenking/ghostmarket/pkg/health"
)

// RunWorker consumes delivery jobs until ctx is cancelled. Probes and
// Prometheus metrics are served on cfg.Worker.Addr.
func RunWorker(ctx context.Context, lg *zap.Logger, cfg *Config) error {
	lg.Info("Initializing worker",
		zap.String("queue", cfg.Queue.Name),
		zap.Int("concurrency", cfg.Worker.Concurrency),
	)

	transport, err := newTransport(lg, cfg)
	if err != nil {
		return err
	}

	conn, err := rabbitmq.Dial(cfg.Queue.URL)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	topo := cfg.Queue.Topology()
	pub, err := rabbitmq.NewPublisher(conn, topo)
	if err != nil {
		return errors.Wrap(err, "create retry publisher")
	}
	defer func() { _ = pub.Close() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	dispatcher := delivery.NewDispatcher(transport, cfg.Download.TTL, delivery.NewMetrics(reg))

	consumer := rabbitmq.NewConsumer(conn, topo, rabbitmq.ConsumerConfig{
		Prefetch:    cfg.Queue.Prefetch,
		Concurrency: cfg.Worker.Concurrency,
		JobTimeout:  cfg.Worker.JobTimeout,
	}, pub, dispatcher)

	healthSvc := health.New(10 * time.Second)
	healthSvc.Liveness("goroutines", time.Second, health.Goroutines(10000))
	healthSvc.Readiness("rabbitmq", time.Second, rabbitmq.HealthCheck(conn))

	mux := http.NewServeMux()
	mux.Handle("GET /livez", healthSvc.LiveHandler())
	mux.Handle("GET /readyz", healthSvc.ReadyHandler())
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	server := &http.Server{
		Addr:              cfg.Worker.Addr,
		Handler:           mux,
		ReadHeaderTimeout: time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		healthSvc.Run(gctx)
		return nil
	})
	g.Go(func() error {
		healthSvc.SetReady(true)
		defer healthSvc.SetReady(false)
		return consumer.Run(zctx.Base(gctx, lg))
	})
	g.Go(func() error {
		<-gctx.Done()
		drain(lg, healthSvc, cfg.Graceful, server.Shutdown)
		return nil
	})
	g.Go(func() error {
		lg.Info("Worker listening", zap.String("addr", cfg.Worker.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	return g.Wait()
}

// newTransport returns the SMTP transport, or in development without an SMTP
// host one that only logs.
func newTransport(lg *zap.Logger, cfg *Config) (delivery.Transport, error) {
	if cfg.SMTP.Host == "" {
		if cfg.Env == EnvProduction {
			return nil, errors.New("smtp host is required in production: set MARKET_SMTP_HOST")
		}
		lg.Warn("No SMTP host configured, emails will only be logged")
		return mailer.Log{}, nil
	}
	t, err := mailer.NewSMTP(mailer.Config{
		Host:        cfg.SMTP.Host,
		Port:        cfg.SMTP.Port,
		Username:    cfg.SMTP.Username,
		Password:    cfg.SMTP.Password,
		SSL:         cfg.SMTP.SSL,
		FromName:    cfg.SMTP.FromName,
		FromAddress: cfg.SMTP.FromAddress,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create smtp transport")
	}
	return t, nil
}

// Package app wires configuration, storage, queue and HTTP layers into the
// API server and the delivery worker.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/ghostmarket/internal/domain/auth"
	"github.com/xenking/ghostmarket/internal/domain/download"
	"github.com/xenking/ghostmarket/internal/domain/order"
	"github.com/xenking/ghostmarket/internal/events"
	"github.com/xenking/ghostmarket/internal/handler"
	"github.com/xenking/ghostmarket/internal/queue/rabbitmq"
	"github.com/xenking/ghostmarket/internal/storage/blob"
	"github.com/xenking/ghostmarket/internal/storage/cache"
	"github.com/xenking/ghostmarket/internal/storage/postgres"
	"github.com/xenking/ghostmarket/pkg/health"
	"github.com/xenking/ghostmarket/pkg/httpmiddleware"
)

// Run creates all API dependencies, starts the HTTP server, and handles
// graceful shutdown. It is the single wiring point for the API server.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr), zap.String("env", cfg.Env))
	if cfg.DatabaseURL == "" {
		return errors.New("database URL is required: set MARKET_DATABASE_URL or DATABASE_URL")
	}

	downloadSecret, err := cfg.secret(lg, "download", cfg.Download.Secret)
	if err != nil {
		return err
	}
	jwtSecret, err := cfg.secret(lg, "jwt", cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	blobs, err := blob.NewFS(cfg.Download.Dir)
	if err != nil {
		return err
	}
	defer func() { _ = blobs.Close() }()

	// Job queue producer.
	conn, err := rabbitmq.Dial(cfg.Queue.URL)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	jobs, err := rabbitmq.NewPublisher(conn, cfg.Queue.Topology())
	if err != nil {
		return errors.Wrap(err, "create job publisher")
	}
	defer func() { _ = jobs.Close() }()

	healthSvc := health.New(10 * time.Second)
	healthSvc.Liveness("goroutines", time.Second, health.Goroutines(10000))
	healthSvc.Readiness("postgres", 5*time.Second, pool.Ping)
	healthSvc.Readiness("rabbitmq", time.Second, rabbitmq.HealthCheck(conn))
	healthSvc.Readiness("blob", time.Second, blobs.Ping)

	// Repositories and domain services.
	productRepo := postgres.NewProductRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)

	codec, err := download.NewCodec(downloadSecret, cfg.Download.TTL)
	if err != nil {
		return errors.Wrap(err, "create token codec")
	}
	gate := download.NewGate(codec, orderRepo, productRepo, blobs, cfg.Download.BaseURL)

	var opts []order.Option
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer func() { _ = rdb.Close() }()

		statsCache := cache.NewStats(rdb, cfg.Redis.StatsTTL)
		healthSvc.Readiness("redis", time.Second, statsCache.Ping)
		opts = append(opts, order.WithStatsCache(statsCache))
	}
	if brokers := events.ParseBrokers(cfg.Kafka.Brokers); len(brokers) > 0 {
		publisher := events.NewKafka(brokers, cfg.Kafka.Topic, lg.Named("events"))
		defer func() { _ = publisher.Close() }()
		opts = append(opts, order.WithEvents(publisher))
	}

	orderService := order.NewService(productRepo, orderRepo, order.StubGateway{}, gate, jobs, opts...)

	h := handler.New(handler.Config{}, orderService, gate, auth.NewVerifier(jwtSecret))

	mux := http.NewServeMux()
	mux.Handle("GET /livez", healthSvc.LiveHandler())
	mux.Handle("GET /readyz", healthSvc.ReadyHandler())
	h.Register(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Downloads stream whole files.
		WriteTimeout:   5 * time.Minute,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				ExposeHeaders:    []string{"Content-Disposition", httpmiddleware.HeaderRequestID},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("ghostmarket-api", m),
			httpmiddleware.LogRequests(),
			httpmiddleware.Labeler(),
		),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		healthSvc.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		drain(lg, healthSvc, cfg.Graceful, server.Shutdown)

		// Handlers may outlive a timed-out Shutdown; Close refuses their late
		// submissions and drains the rest.
		orderService.Close()
		return nil
	})
	g.Go(func() error {
		healthSvc.SetReady(true)
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	return g.Wait()
}

// drain marks the process unready, waits for load balancers to notice, then
// stops the server.
func drain(lg *zap.Logger, h *health.Health, cfg GracefulConfig, shutdown func(context.Context) error) {
	h.SetReady(false)
	lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.ReadinessDelay))
	time.Sleep(cfg.ReadinessDelay)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	lg.Info("Shutting down server", zap.Duration("timeout", cfg.ShutdownTimeout))
	if err := shutdown(shutdownCtx); err != nil {
		lg.Error("Server shutdown error", zap.Error(err))
	}
}

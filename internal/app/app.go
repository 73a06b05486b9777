// Package app wires the promotion server together.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/oolio-promotions/internal/domain/order"
	"github.com/xenking/oolio-promotions/internal/domain/promotion"
	"github.com/xenking/oolio-promotions/internal/events"
	"github.com/xenking/oolio-promotions/internal/handler"
	"github.com/xenking/oolio-promotions/internal/storage/cache"
	"github.com/xenking/oolio-promotions/internal/storage/postgres"
	"github.com/xenking/oolio-promotions/pkg/health"
	"github.com/xenking/oolio-promotions/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	svc, err := newService(ctx, lg, m, cfg)
	if err != nil {
		return err
	}
	defer svc.close()

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           svc.handler,
	}

	svc.health.Start(ctx, 10*time.Second)
	svc.health.SetReady(true)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		// Graceful shutdown: wait for cancellation, drain, then stop.
		<-gCtx.Done()
		svc.health.SetReady(false)
		if ctx.Err() != nil {
			lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
			time.Sleep(cfg.Graceful.ReadinessDelay)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		svc.health.Stop()
		return nil
	})
	return g.Wait()
}

// service is the assembled application behind the HTTP server.
type service struct {
	handler http.Handler
	health  *health.Health
	closers []func()
}

// close releases resources in reverse order of acquisition.
func (s *service) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func newService(ctx context.Context, lg *zap.Logger, m httpmiddleware.Telemetry, cfg *Config) (_ *service, rerr error) {
	loc, err := cfg.Engine.Location()
	if err != nil {
		return nil, err
	}

	svc := &service{health: health.New()}
	defer func() {
		if rerr != nil {
			svc.close()
		}
	}()

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	svc.closers = append(svc.closers, pool.Close)

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}

	svc.health.AddReadinessCheck("postgres", health.PingCheck(pool), health.WithTimeout(5*time.Second))
	svc.health.AddLivenessCheck("goroutines", health.GoroutineCountCheck(10000))

	// Repositories.
	promotions := postgres.NewPromotionRepository(pool)
	var repo promotion.Repository = promotions
	var limits httpmiddleware.LimitStore

	if cfg.Redis.Addr != "" {
		rdb := cache.NewClient(cache.ClientOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		svc.closers = append(svc.closers, func() { _ = rdb.Close() })

		repo = cache.New(promotions, rdb, cfg.Redis.TTL)
		limits = httpmiddleware.NewRedisStore(rdb, "ratelimit:")
		svc.health.AddReadinessCheck("redis", health.RedisCheck(rdb), health.Optional())
		lg.Info("Promotion cache enabled", zap.String("redis", cfg.Redis.Addr), zap.Duration("ttl", cfg.Redis.TTL))
	}

	var publisher order.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		svc.closers = append(svc.closers, func() {
			if err := kp.Close(); err != nil {
				lg.Warn("Close event publisher", zap.Error(err))
			}
		})

		publisher = kp
		svc.health.AddReadinessCheck("kafka", health.BrokerCheck(cfg.Kafka.Brokers),
			health.WithTimeout(3*time.Second), health.Optional())
		lg.Info("Redemption events enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	// Domain services.
	engine := promotion.NewEngine(repo,
		promotion.WithLocation(loc),
		promotion.WithCustomerUsage(promotions),
	)
	orderService, err := order.NewService(engine, postgres.NewOrderRepository(pool), repo, publisher, order.Options{
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create order service")
	}

	h := handler.NewHandler(orderService, repo)
	route := httpmiddleware.RouteFinder(h.Route)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", svc.health.LiveEndpoint)
	mux.HandleFunc("GET /readyz", svc.health.ReadyEndpoint)
	mux.Handle("/api/", h)

	svc.handler = httpmiddleware.Wrap(mux,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins: cfg.CORS.Origins,
			AllowHeaders: []string{"Content-Type", httpmiddleware.HeaderRequestID},
			MaxAge:       86400,
		}),
		httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
			Store:  limits,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Instrument("promotions-api", route, m),
		httpmiddleware.LogRequests(route),
		httpmiddleware.Labeler(route),
	)
	return svc, nil
}

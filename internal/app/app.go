package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/zaidandhul/bismarshop-promo-engine/internal/cache"
	"github.com/zaidandhul/bismarshop-promo-engine/internal/config"
	"github.com/zaidandhul/bismarshop-promo-engine/internal/event"
	handler "github.com/zaidandhul/bismarshop-promo-engine/internal/handler/http"
	"github.com/zaidandhul/bismarshop-promo-engine/internal/repository/postgres"
	"github.com/zaidandhul/bismarshop-promo-engine/internal/service"
	"github.com/zaidandhul/bismarshop-promo-engine/migrations"
	"github.com/zaidandhul/bismarshop-promo-engine/pkg/database"
	"github.com/zaidandhul/bismarshop-promo-engine/pkg/health"
	pkgkafka "github.com/zaidandhul/bismarshop-promo-engine/pkg/kafka"
)

// App wires together all dependencies and runs the promotion engine.
type App struct {
	cfg                *config.Config
	logger             *slog.Logger
	pool               *pgxpool.Pool
	redisClient        *redis.Client
	producer           *pkgkafka.Producer
	httpServer         *http.Server
	reservationService *service.ReservationService
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize PostgreSQL connection pool.
	pgCfg := database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
	}

	pool, err := database.NewPostgresPoolWithLogger(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Initialize Redis for the promotion set cache. A missing Redis degrades
	// resolution to database reads instead of failing startup.
	redisClient, err := database.NewRedisClient(ctx, database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		logger.Warn("redis unavailable, promotion cache disabled",
			slog.String("error", err.Error()),
		)
		redisClient = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	} else {
		logger.Info("connected to Redis",
			slog.String("host", cfg.RedisHost),
			slog.Int("port", cfg.RedisPort),
		)
	}

	// Initialize Kafka producer with connection validation and retry.
	kafkaCfg := pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers)
	producer := pkgkafka.NewProducer(kafkaCfg, logger)
	if err := pingKafkaWithRetry(ctx, producer, logger); err != nil {
		logger.Warn("kafka producer ping failed after retries, continuing in degraded mode",
			slog.String("error", err.Error()),
		)
	} else {
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	// Build the dependency graph.
	promoRepo := postgres.NewPromotionRepository(pool)
	resvRepo := postgres.NewReservationRepository(pool)
	promoCache := cache.NewPromotionCache(redisClient, time.Duration(cfg.CacheTTL)*time.Second, logger)
	eventProducer := event.NewProducer(producer, logger)

	promotionService := service.NewPromotionService(promoRepo, promoCache, eventProducer, logger)
	resolutionService := service.NewResolutionService(promoRepo, resvRepo, promoCache, logger)
	reservationService := service.NewReservationService(
		resolutionService, resvRepo, eventProducer, logger,
		time.Duration(cfg.ReservationTTL)*time.Second,
	)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
		return promoCache.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})

	// HTTP router.
	router := handler.NewRouter(promotionService, resolutionService, reservationService, healthHandler, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:                cfg,
		logger:             logger,
		pool:               pool,
		redisClient:        redisClient,
		producer:           producer,
		httpServer:         httpServer,
		reservationService: reservationService,
	}, nil
}

// Run starts the HTTP server and the lease expiry sweeper, then blocks until
// the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	go a.runExpirySweeper(ctx)

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// runExpirySweeper periodically releases reservations whose lease lapsed.
func (a *App) runExpirySweeper(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(a.cfg.SweepInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.reservationService.CleanExpired(ctx); err != nil {
				a.logger.Error("reservation expiry sweep error", slog.String("error", err.Error()))
			}
		}
	}
}

// Shutdown gracefully stops all components: drain HTTP, close Kafka producer,
// close Redis, close the PostgreSQL pool.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.redisClient.Close(); err != nil {
		a.logger.Error("redis close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// pingKafkaWithRetry attempts to ping the Kafka producer with exponential
// backoff (3 attempts, 1s/2s/4s with ±25% jitter).
func pingKafkaWithRetry(ctx context.Context, producer *pkgkafka.Producer, logger *slog.Logger) error {
	const attempts = 3
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			base := time.Duration(1<<(attempt-1)) * time.Second
			jitter := time.Duration(float64(base) * 0.25 * (2*rand.Float64() - 1)) // #nosec G404 -- non-cryptographic jitter
			wait := base + jitter
			logger.Warn("kafka ping failed, retrying",
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", wait),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("kafka ping: context canceled during retry: %w", ctx.Err())
			case <-time.After(wait):
			}
		}
		if err := producer.Ping(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

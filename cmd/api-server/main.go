package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-queue/internal/affiliation"
	"github.com/hackgods/clinic-queue/internal/api"
	"github.com/hackgods/clinic-queue/internal/appointment"
	"github.com/hackgods/clinic-queue/internal/auth"
	"github.com/hackgods/clinic-queue/internal/config"
	"github.com/hackgods/clinic-queue/internal/db"
	"github.com/hackgods/clinic-queue/internal/metrics"
	"github.com/hackgods/clinic-queue/internal/notify"
	"github.com/hackgods/clinic-queue/internal/queue"
	redisclient "github.com/hackgods/clinic-queue/internal/redis"
	"github.com/hackgods/clinic-queue/internal/slots"
	"github.com/hackgods/clinic-queue/internal/tracing"
)

const (
	serviceName    = "clinic-queue-api"
	serviceVersion = "0.1.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("api-server starting up",
		zap.String("http_port", cfg.HTTPPort),
		zap.String("timezone", cfg.Timezone),
		zap.String("queue_backend", cfg.QueueBackend),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(rootCtx, tracing.Config{
		Enabled:        cfg.OTelEnabled,
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.OTelSampleRate,
	})
	if err != nil {
		logger.Fatal("tracing init error", zap.Error(err))
	}

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()

	if err := db.Migrate(rootCtx, pgPool); err != nil {
		logger.Fatal("schema migration error", zap.Error(err))
	}
	logger.Info("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	}()
	logger.Info("connected to Redis")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var store queue.Store
	switch cfg.QueueBackend {
	case "memory":
		store = queue.NewMemoryStore()
	default:
		store = queue.NewRedisStore(rdb, logger)
	}
	projector := queue.NewProjector(store, logger)

	var dispatcher notify.Dispatcher = notify.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		kd := notify.NewKafkaDispatcher(cfg.KafkaBrokers, cfg.NotifyTopic, logger, m)
		defer func() {
			if err := kd.Close(); err != nil {
				logger.Warn("error closing kafka writer", zap.Error(err))
			}
		}()
		dispatcher = kd
	} else {
		logger.Info("KAFKA_BROKERS empty, notifications disabled")
	}
	notifier := notify.NewAsync(dispatcher, 10*time.Second, logger)

	affiliations := affiliation.NewService(affiliation.NewPgRepository(pgPool), cfg.DefaultSlotDuration, logger)
	appointments := appointment.NewService(appointment.Deps{
		Repo:         appointment.NewPgRepository(pgPool),
		Affiliations: affiliations,
		Slots:        slots.NewGenerator(cfg.Location),
		Locker:       redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait),
		Projector:    projector,
		Notifier:     notifier,
		Metrics:      m,
		Logger:       logger,
		TokenRetry:   cfg.TokenRetry,
	})

	health := api.NewHealthHandler(cfg.Env, serviceVersion,
		api.Check{Name: "postgres", Critical: true, Ping: pgPool.Ping},
		api.Check{Name: "redis", Ping: func(ctx context.Context) error { return pingRedis(ctx, rdb) }},
	)

	router := api.NewRouter(api.RouterConfig{
		Appointments: appointments,
		Affiliations: affiliations,
		Verifier:     auth.NewVerifier(cfg.JWTSecret),
		Health:       health,
		Metrics:      metrics.Handler(reg),
		Logger:       logger,
		Location:     cfg.Location,
		ServiceName:  serviceName,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("http server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", zap.Error(err))
	}
	notifier.Wait()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown error", zap.Error(err))
	}

	logger.Info("api-server stopped")
}

func pingRedis(ctx context.Context, rdb *redis.Client) error {
	return rdb.Ping(ctx).Err()
}

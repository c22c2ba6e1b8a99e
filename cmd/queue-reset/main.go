package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-queue/internal/config"
	"github.com/hackgods/clinic-queue/internal/queue"
	redisclient "github.com/hackgods/clinic-queue/internal/redis"
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

	logger.Info("queue-reset worker starting up",
		zap.Duration("interval", cfg.WorkerInterval),
		zap.String("timezone", cfg.Timezone),
	)

	if cfg.QueueBackend != "redis" {
		logger.Fatal("queue-reset needs the shared redis projection store", zap.String("queue_backend", cfg.QueueBackend))
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	projector := queue.NewProjector(queue.NewRedisStore(rdb, logger), logger)

	// Run once at startup
	runOnce(rootCtx, projector, cfg.Location, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping queue-reset worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, projector, cfg.Location, logger)
		}
	}
}

// dayStart is midnight of now's day in loc.
func dayStart(now time.Time, loc *time.Location) time.Time {
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func runOnce(ctx context.Context, projector *queue.Projector, loc *time.Location, logger *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	cutoff := dayStart(start, loc)

	removed, err := projector.ResetBefore(runCtx, cutoff)
	if err != nil {
		logger.Error("queue reset run error", zap.Int("removed", removed), zap.Error(err))
		return
	}

	logger.Info("queue reset run complete",
		zap.Time("cutoff", cutoff),
		zap.Int("removed", removed),
		zap.Duration("duration", time.Since(start)),
	)
}

package config

import (
	"testing"
	"time"
)

func TestLoadRequiresDSN(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without POSTGRES_DSN")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/clinic")
	t.Setenv("APP_ENV", "dev")
	t.Setenv("REDIS_URL", "redis://user:pw@cache:6380")
	t.Setenv("LOCK_WAIT", "3")
	t.Setenv("TOKEN_RETRY_BACKOFF", "75ms")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RedisAddr != "cache:6380" || cfg.RedisUsername != "user" || cfg.RedisPassword != "pw" {
		t.Fatalf("unexpected redis settings: %+v", cfg)
	}
	if cfg.LockWait != 3*time.Second {
		t.Fatalf("expected lock wait 3s, got %s", cfg.LockWait)
	}
	if cfg.TokenRetry != 75*time.Millisecond {
		t.Fatalf("expected retry 75ms, got %s", cfg.TokenRetry)
	}
	if len(cfg.KafkaBrokers) != 2 {
		t.Fatalf("expected 2 brokers, got %v", cfg.KafkaBrokers)
	}
	if cfg.Location == nil || cfg.DefaultSlotDuration != 15 {
		t.Fatalf("unexpected schedule defaults: %+v", cfg)
	}
	if cfg.JWTSecret == "" {
		t.Fatal("dev should fall back to a development secret")
	}
}

func TestLoadRejectsUnknownQueueBackend(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/clinic")
	t.Setenv("QUEUE_BACKEND", "carrier-pigeon")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown queue backend")
	}
}

func TestLoadRequiresSecretInProd(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/clinic")
	t.Setenv("APP_ENV", "prod")
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without JWT_SECRET in prod")
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := Config{Env: "prod", LogLevel: "warn"}.NewLogger()
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if logger.Core().Enabled(-1) {
		t.Fatal("debug must be disabled at warn level")
	}

	if _, err := (Config{Env: "dev", LogLevel: "loud"}).NewLogger(); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

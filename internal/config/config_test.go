package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"conveyor/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.App.Name != "conveyor" {
		t.Errorf("App.Name = %q, want conveyor", cfg.App.Name)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("HTTP.Addr = %q, want :8080", cfg.HTTP.Addr)
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "localhost:9092" {
		t.Errorf("Kafka.Brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Kafka.Topic != "conveyor-events" || cfg.Kafka.DeadLetterTopic != "conveyor-dlq" {
		t.Errorf("topics = %q / %q", cfg.Kafka.Topic, cfg.Kafka.DeadLetterTopic)
	}
	if cfg.Kafka.Producer.RequiredAcks != -1 {
		t.Errorf("RequiredAcks = %d, want -1", cfg.Kafka.Producer.RequiredAcks)
	}
	if cfg.Redis.Addr != "" {
		t.Errorf("Redis.Addr = %q, want empty (guard disabled)", cfg.Redis.Addr)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.Backoff != 100*time.Millisecond {
		t.Errorf("retry = %+v", cfg.Retry)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "broker-1:9092,broker-2:9092")
	t.Setenv("KAFKA_TOPIC", "payments")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("RETRY_MAX_ATTEMPTS", "2")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "broker-2:9092" {
		t.Errorf("Kafka.Brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Kafka.Topic != "payments" {
		t.Errorf("Kafka.Topic = %q", cfg.Kafka.Topic)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if cfg.Retry.MaxAttempts != 2 {
		t.Errorf("Retry.MaxAttempts = %d", cfg.Retry.MaxAttempts)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
app:
  name: billing
http:
  addr: ":9090"
kafka:
  brokers:
    - broker-a:9092
  topic: billing-events
redis:
  addr: localhost:6379
  inbox_ttl: 1h
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.App.Name != "billing" {
		t.Errorf("App.Name = %q, want billing", cfg.App.Name)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("HTTP.Addr = %q, want :9090", cfg.HTTP.Addr)
	}
	if cfg.Kafka.Topic != "billing-events" {
		t.Errorf("Kafka.Topic = %q", cfg.Kafka.Topic)
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.InboxTTL != time.Hour {
		t.Errorf("redis = %+v", cfg.Redis)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", "/nonexistent/config.yaml")
	if _, err := config.Load(); err == nil {
		t.Error("expected error for missing config file")
	}
}

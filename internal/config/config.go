package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds runtime configuration for the service.
type Config struct {
	App   App   `yaml:"app"`
	Log   Log   `yaml:"log"`
	HTTP  HTTP  `yaml:"http"`
	Kafka Kafka `yaml:"kafka"`
	Redis Redis `yaml:"redis"`
	Retry Retry `yaml:"retry"`
}

type App struct {
	Name string `yaml:"name" env:"APP_NAME" env-default:"conveyor"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type HTTP struct {
	Addr      string `yaml:"addr" env:"HTTP_ADDR" env-default:":8080"`
	AuthToken string `yaml:"auth_token" env:"INGEST_AUTH_TOKEN"`
}

type Kafka struct {
	Brokers         []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
	Topic           string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"conveyor-events"`
	GroupID         string   `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"conveyor"`
	DeadLetterTopic string   `yaml:"dead_letter_topic" env:"KAFKA_DLQ_TOPIC" env-default:"conveyor-dlq"`
	Producer        Producer `yaml:"producer"`
}

type Producer struct {
	PoolSize     int           `yaml:"pool_size" env:"KAFKA_PRODUCER_POOL_SIZE" env-default:"4"`
	BatchSize    int           `yaml:"batch_size" env:"KAFKA_PRODUCER_BATCH_SIZE" env-default:"100"`
	BatchTimeout time.Duration `yaml:"batch_timeout" env:"KAFKA_PRODUCER_BATCH_TIMEOUT" env-default:"100ms"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"KAFKA_PRODUCER_WRITE_TIMEOUT" env-default:"10s"`
	RequiredAcks int           `yaml:"required_acks" env:"KAFKA_PRODUCER_REQUIRED_ACKS" env-default:"-1"`
}

type Redis struct {
	// Addr empty disables the duplicate-suppression guard.
	Addr     string        `yaml:"addr" env:"REDIS_ADDR"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB"`
	InboxTTL time.Duration `yaml:"inbox_ttl" env:"REDIS_INBOX_TTL" env-default:"24h"`
}

type Retry struct {
	MaxAttempts int           `yaml:"max_attempts" env:"RETRY_MAX_ATTEMPTS" env-default:"5"`
	Backoff     time.Duration `yaml:"backoff" env:"RETRY_BACKOFF" env-default:"100ms"`
}

// Load reads configuration from CONFIG_PATH (yaml) when set, falling back
// to environment variables with defaults.
func Load() (*Config, error) {
	var cfg Config

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		return &cfg, nil
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env config: %w", err)
	}
	return &cfg, nil
}

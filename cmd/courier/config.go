package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/xraph/courier"
)

// Store backends accepted by COURIER_STORE.
const (
	storeMemory   = "memory"
	storeRedis    = "redis"
	storePostgres = "postgres"
	storeBun      = "bun"
)

// envConfig is the process configuration. Every queue policy knob is
// required; there are no silent defaults for retry or visibility.
type envConfig struct {
	HTTPAddr string `env:"COURIER_HTTP_ADDR" envDefault:":8080"`
	LogLevel string `env:"COURIER_LOG_LEVEL" envDefault:"info"`

	Store       string `env:"COURIER_STORE,required"`
	RedisURL    string `env:"COURIER_REDIS_URL"`
	PostgresURL string `env:"COURIER_POSTGRES_URL"`

	Topics            []string      `env:"COURIER_TOPICS" envDefault:"email" envSeparator:","`
	Concurrency       int           `env:"COURIER_CONCURRENCY" envDefault:"4"`
	VisibilityTimeout time.Duration `env:"COURIER_VISIBILITY_TIMEOUT,required"`
	MaxRetries        int           `env:"COURIER_MAX_RETRIES,required"`
	BackoffPolicy     string        `env:"COURIER_BACKOFF_POLICY,required"`
	BackoffInitial    time.Duration `env:"COURIER_BACKOFF_INITIAL,required"`
	BackoffMax        time.Duration `env:"COURIER_BACKOFF_MAX,required"`
	ExecutionTimeout  time.Duration `env:"COURIER_EXECUTION_TIMEOUT" envDefault:"10s"`
	PollInterval      time.Duration `env:"COURIER_POLL_INTERVAL" envDefault:"5s"`
	ShutdownTimeout   time.Duration `env:"COURIER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	MaxPending        int           `env:"COURIER_MAX_PENDING" envDefault:"0"`
	TopicRateLimit    float64       `env:"COURIER_TOPIC_RATE_LIMIT" envDefault:"0"`

	JWTSecret string        `env:"COURIER_JWT_SECRET,required,unset"`
	TokenTTL  time.Duration `env:"COURIER_TOKEN_TTL" envDefault:"1h"`

	// An empty SMTPAddr logs welcome emails instead of sending them.
	SMTPAddr     string `env:"COURIER_SMTP_ADDR"`
	SMTPFrom     string `env:"COURIER_SMTP_FROM"`
	SMTPUsername string `env:"COURIER_SMTP_USERNAME"`
	SMTPPassword string `env:"COURIER_SMTP_PASSWORD,unset"`
	SMTPSubject  string `env:"COURIER_SMTP_SUBJECT" envDefault:"Welcome"`

	AuditLog bool `env:"COURIER_AUDIT_LOG" envDefault:"true"`

	// Zero DLQRetention keeps dead letters until they are purged by hand.
	DLQRetention         time.Duration `env:"COURIER_DLQ_RETENTION" envDefault:"0"`
	DLQRetentionSchedule string        `env:"COURIER_DLQ_RETENTION_SCHEDULE" envDefault:"@hourly"`

	// LeaderElection picks who runs maintenance tasks when several
	// processes share a store: local, redis or k8s.
	LeaderElection string `env:"COURIER_LEADER_ELECTION" envDefault:"local"`
	LeaseNamespace string `env:"COURIER_LEASE_NAMESPACE" envDefault:"default"`
	LeaseName      string `env:"COURIER_LEASE_NAME" envDefault:"courier-leader"`
}

// Leader election modes accepted by COURIER_LEADER_ELECTION.
const (
	electLocal = "local"
	electRedis = "redis"
	electK8s   = "k8s"
)

func loadConfig() (envConfig, error) {
	var cfg envConfig
	if err := env.Parse(&cfg); err != nil {
		return envConfig{}, fmt.Errorf("parse env: %w", err)
	}
	switch cfg.Store {
	case storeMemory:
	case storeRedis:
		if cfg.RedisURL == "" {
			return envConfig{}, fmt.Errorf("COURIER_REDIS_URL is required for the redis store")
		}
	case storePostgres, storeBun:
		if cfg.PostgresURL == "" {
			return envConfig{}, fmt.Errorf("COURIER_POSTGRES_URL is required for the %s store", cfg.Store)
		}
	default:
		return envConfig{}, fmt.Errorf("unknown COURIER_STORE %q", cfg.Store)
	}
	switch cfg.LeaderElection {
	case electLocal, electK8s:
	case electRedis:
		if cfg.RedisURL == "" {
			return envConfig{}, fmt.Errorf("COURIER_REDIS_URL is required for redis leader election")
		}
	default:
		return envConfig{}, fmt.Errorf("unknown COURIER_LEADER_ELECTION %q", cfg.LeaderElection)
	}
	if cfg.DLQRetention < 0 {
		return envConfig{}, fmt.Errorf("COURIER_DLQ_RETENTION must not be negative")
	}
	return cfg, nil
}

func (c envConfig) courierConfig() courier.Config {
	return courier.Config{
		Concurrency:       c.Concurrency,
		Topics:            c.Topics,
		VisibilityTimeout: c.VisibilityTimeout,
		MaxRetries:        c.MaxRetries,
		BackoffPolicy:     c.BackoffPolicy,
		BackoffInitial:    c.BackoffInitial,
		BackoffMax:        c.BackoffMax,
		ExecutionTimeout:  c.ExecutionTimeout,
		PollInterval:      c.PollInterval,
		ShutdownTimeout:   c.ShutdownTimeout,
		MaxPending:        c.MaxPending,
	}
}

func (c envConfig) logLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const (
	RegistryRedis    = "redis"
	RegistryPostgres = "postgres"
	RegistryMemory   = "memory"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	AppURL    string `env:"APP_URL"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	RedisURL    string `env:"REDIS_URL"`
	DatabaseURL string `env:"DATABASE_URL"`

	RegistryBackend  string        `env:"REGISTRY_BACKEND" default:"redis"`
	DeliveryEndpoint string        `env:"DELIVERY_ENDPOINT"`
	InstanceEndpoint string        `env:"INSTANCE_ENDPOINT"`
	DeliveryWorkers  int           `env:"DELIVERY_CONCURRENCY" default:"8"`
	DeliveryTimeout  time.Duration `env:"DELIVERY_TIMEOUT" default:"5s"`
	RegistryTimeout  time.Duration `env:"REGISTRY_TIMEOUT" default:"2s"`

	ChangefeedStream    string        `env:"CHANGEFEED_STREAM" default:"changefeed:messages"`
	ChangefeedGroup     string        `env:"CHANGEFEED_GROUP" default:"broadcast"`
	ChangefeedConsumer  string        `env:"CHANGEFEED_CONSUMER"`
	ChangefeedBatchSize int64         `env:"CHANGEFEED_BATCH_SIZE" default:"100"`
	ChangefeedBlock     time.Duration `env:"CHANGEFEED_BLOCK" default:"5s"`

	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	ConnectionsPerSecond    float64 `env:"WEBSOCKET_CONNECTIONS_PER_SECOND" default:"10"`
	ConnectionBurst         int     `env:"WEBSOCKET_CONNECTION_BURST" default:"20"`

	MessageStoreEnabled bool `env:"MESSAGE_STORE_ENABLED" default:"false"`
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// NeedsDatabase reports whether any configured component talks to Postgres.
func (c *Config) NeedsDatabase() bool {
	return c.RegistryBackend == RegistryPostgres || c.MessageStoreEnabled
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "councilcast"
	}
	if cfg.ChangefeedConsumer == "" {
		cfg.ChangefeedConsumer = host
	}
	if cfg.InstanceEndpoint == "" {
		cfg.InstanceEndpoint = "http://" + host + ":" + cfg.Port
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	switch cfg.RegistryBackend {
	case RegistryRedis, RegistryPostgres, RegistryMemory:
	default:
		return fmt.Errorf("REGISTRY_BACKEND must be one of redis, postgres, memory (got %q)", cfg.RegistryBackend)
	}

	if cfg.NeedsDatabase() && cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when REGISTRY_BACKEND=postgres or MESSAGE_STORE_ENABLED=true")
	}

	if cfg.DeliveryWorkers < 1 {
		return fmt.Errorf("DELIVERY_CONCURRENCY must be at least 1")
	}
	if cfg.DeliveryTimeout <= 0 || cfg.RegistryTimeout <= 0 {
		return fmt.Errorf("DELIVERY_TIMEOUT and REGISTRY_TIMEOUT must be positive")
	}
	if cfg.ChangefeedBatchSize < 1 {
		return fmt.Errorf("CHANGEFEED_BATCH_SIZE must be at least 1")
	}
	if cfg.MaxWebSocketConnections < 1 {
		return fmt.Errorf("MAX_WEBSOCKET_CONNECTIONS must be at least 1")
	}

	return nil
}

// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	// JWTSecret verifies client credentials; tokens are issued elsewhere.
	JWTSecret string `env:"JWT_SECRET"`
	// ProducerAPIToken guards the internal push endpoints.
	ProducerAPIToken string `env:"PRODUCER_API_TOKEN"`

	MaxConnections      int64   `env:"MAX_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP int     `env:"MAX_CONNECTIONS_PER_IP" default:"20"`
	ConnectionRate      float64 `env:"CONNECTION_RATE" default:"10"`
	ConnectionBurst     int     `env:"CONNECTION_BURST" default:"10"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" default:"30s"`
	CleanupInterval   time.Duration `env:"CLEANUP_INTERVAL" default:"60s"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT" default:"5m"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" default:"5s"`
	SendBufferSize    int           `env:"SEND_BUFFER_SIZE" default:"32"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"DATABASE_URL":       cfg.DatabaseURL,
		"REDIS_URL":          cfg.RedisURL,
		"JWT_SECRET":         cfg.JWTSecret,
		"PRODUCER_API_TOKEN": cfg.ProducerAPIToken,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if len(cfg.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters, got %d", len(cfg.JWTSecret))
	}
	if cfg.HeartbeatInterval <= 0 || cfg.CleanupInterval <= 0 || cfg.IdleTimeout <= 0 {
		return fmt.Errorf("hub intervals must be positive")
	}
	if cfg.IdleTimeout <= cfg.HeartbeatInterval {
		return fmt.Errorf("IDLE_TIMEOUT must exceed HEARTBEAT_INTERVAL")
	}

	return nil
}

// Package config loads and validates the process configuration from
// the environment. Everything is injected explicitly; there is no
// ambient global config.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	LogLevel string       `env:"LOG_LEVEL" envDefault:"info"`
	Server   ServerConfig `envPrefix:"SERVER_"`
	Store    StoreConfig  `envPrefix:"STORE_"`
	Tokens   TokenConfig  `envPrefix:"TOKEN_"`
	Hash     HashConfig   `envPrefix:"HASH_"`
	Notify   NotifyConfig `envPrefix:"NOTIFY_"`
}

type NotifyConfig struct {
	WebhookURL string   `env:"WEBHOOK_URL" validate:"omitempty,url"`
	Timeout    Duration `env:"TIMEOUT" envDefault:"10s"`
}

type ServerConfig struct {
	Addr            string   `env:"ADDR" envDefault:":8080" validate:"required"`
	ReadTimeout     Duration `env:"READ_TIMEOUT" envDefault:"10s" validate:"required"`
	WriteTimeout    Duration `env:"WRITE_TIMEOUT" envDefault:"30s" validate:"required"`
	ShutdownTimeout Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s" validate:"required"`
}

type StoreConfig struct {
	// Backend selects the refresh-token store: postgres or redis.
	Backend     string `env:"BACKEND" envDefault:"postgres" validate:"required,oneof=postgres redis"`
	PostgresDSN string `env:"POSTGRES_DSN" validate:"required_if=Backend postgres"`
	RedisAddr   string `env:"REDIS_ADDR" envDefault:"localhost:6379" validate:"required_if=Backend redis,omitempty,hostname_port"`
	RedisDB     int    `env:"REDIS_DB" envDefault:"0" validate:"gte=0"`
	RedisPrefix string `env:"REDIS_PREFIX" envDefault:"tg"`

	PurgeInterval Duration `env:"PURGE_INTERVAL" envDefault:"1h" validate:"required"`
}

type TokenConfig struct {
	// SigningSecret is loaded once here and never logged.
	SigningSecret string   `env:"SIGNING_SECRET" validate:"required,min=32"`
	Issuer        string   `env:"ISSUER" envDefault:"tokengate"`
	AccessTTL     Duration `env:"ACCESS_TTL" envDefault:"15m" validate:"required"`
	AccessLeeway  Duration `env:"ACCESS_LEEWAY" envDefault:"30s"`
	RefreshTTL    Duration `env:"REFRESH_TTL" envDefault:"168h" validate:"required"`
	ResetTTL      Duration `env:"RESET_TTL" envDefault:"24h" validate:"required"`
}

type HashConfig struct {
	MemoryKB      uint32 `env:"MEMORY_KB" envDefault:"65536" validate:"gte=8192"`
	Time          uint32 `env:"TIME" envDefault:"3" validate:"gte=1"`
	Parallelism   uint8  `env:"PARALLELISM" envDefault:"2" validate:"gte=1"`
	MaxConcurrent int64  `env:"MAX_CONCURRENT" envDefault:"8" validate:"gte=1"`
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if cfg.Tokens.AccessTTL.Std() >= cfg.Tokens.RefreshTTL.Std() {
		return nil, fmt.Errorf("access TTL %s must be shorter than refresh TTL %s",
			time.Duration(cfg.Tokens.AccessTTL), time.Duration(cfg.Tokens.RefreshTTL))
	}

	return cfg, nil
}

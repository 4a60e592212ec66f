package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"

	"github.com/arpitdalal/tax-calculator/internal/tax"
)

type Config struct {
	Env  string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port string `env:"PORT" envDefault:"8080" validate:"required"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	APIURL      string `env:"API_URL,required" validate:"required,url"`
	AdminAPIKey string `env:"ADMIN_API_KEY,required" validate:"required,min=16"`

	// Empty selects the in-memory job store.
	DatabaseURL string `env:"DATABASE_URL"`

	WorkerCount int `env:"WORKER_COUNT" envDefault:"4" validate:"min=1,max=64"`
	QueueSize   int `env:"QUEUE_SIZE" envDefault:"256" validate:"min=1"`

	TaxYearMin     int `env:"TAX_YEAR_MIN" envDefault:"2019" validate:"min=1900"`
	TaxYearMax     int `env:"TAX_YEAR_MAX" envDefault:"2023" validate:"gtefield=TaxYearMin"`
	DefaultTaxYear int `env:"DEFAULT_TAX_YEAR" envDefault:"2022" validate:"gtefield=TaxYearMin,ltefield=TaxYearMax"`

	UpstreamTimeout     time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"10s"`
	UpstreamMaxAttempts int           `env:"UPSTREAM_MAX_ATTEMPTS" envDefault:"3" validate:"min=1,max=10"`

	WebhookTimeout     time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"10s"`
	WebhookMaxAttempts int           `env:"WEBHOOK_MAX_ATTEMPTS" envDefault:"3" validate:"min=1,max=10"`

	RateLimitRequests       int           `env:"RATE_LIMIT_REQUESTS" envDefault:"5" validate:"min=1"`
	RateLimitWindow         time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"5s"`
	StatusRateLimitRequests int           `env:"STATUS_RATE_LIMIT_REQUESTS" envDefault:"5" validate:"min=1"`
	StatusRateLimitWindow   time.Duration `env:"STATUS_RATE_LIMIT_WINDOW" envDefault:"1s"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel maps the configured log level onto slog.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
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

// Years is the supported tax-year range as the tax package consumes it.
func (c *Config) Years() tax.Years {
	return tax.Years{Min: c.TaxYearMin, Max: c.TaxYearMax, Default: c.DefaultTaxYear}
}

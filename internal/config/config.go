package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	ProviderSendGrid = "sendgrid"
	ProviderSMTP     = "smtp"
)

type Config struct {
	// ----------------------------
	// HTTP API
	// ----------------------------
	APIPort            string   `envconfig:"API_PORT" default:"8080"`
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS"`
	MaxCSVRows         int      `envconfig:"MAX_CSV_ROWS" default:"100000"`

	// ----------------------------
	// Metrics
	// ----------------------------
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`

	// ----------------------------
	// Storage
	// ----------------------------
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	RedisURL    string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`

	// ----------------------------
	// Delivery provider
	// ----------------------------
	Provider          string        `envconfig:"PROVIDER" default:"sendgrid"`
	SendGridAPIKey    string        `envconfig:"SENDGRID_API_KEY"`
	SendGridBaseURL   string        `envconfig:"SENDGRID_BASE_URL" default:"https://api.sendgrid.com/v3"`
	ProviderTimeout   time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"30s"`
	ProviderRateLimit int           `envconfig:"PROVIDER_RATE_LIMIT" default:"10"`

	// ----------------------------
	// SMTP
	// ----------------------------
	SMTPHost     string `envconfig:"SMTP_HOST" default:"localhost"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"1025"`
	SMTPUser     string `envconfig:"SMTP_USER" default:""`
	SMTPPassword string `envconfig:"SMTP_PASSWORD" default:""`

	// ----------------------------
	// Dispatch
	// ----------------------------
	SharedSendingDomain string        `envconfig:"SHARED_SENDING_DOMAIN" default:"send.campaignpulse.io"`
	BatchSize           int           `envconfig:"BATCH_SIZE" default:"1000"`
	RetryAttempts       int           `envconfig:"RETRY_ATTEMPTS" default:"3"`
	RetryBaseDelay      time.Duration `envconfig:"RETRY_BASE_DELAY" default:"1s"`
	SendRateLimitMax    int           `envconfig:"SEND_RATE_LIMIT_MAX" default:"10"`
	SendRateLimitWindow time.Duration `envconfig:"SEND_RATE_LIMIT_WINDOW" default:"1h"`

	// ----------------------------
	// Webhooks
	// ----------------------------
	WebhookPublicKey string `envconfig:"SENDGRID_WEBHOOK_PUBLIC_KEY"`
	WebhookWorkers   int    `envconfig:"WEBHOOK_WORKERS" default:"8"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Provider {
	case ProviderSendGrid, ProviderSMTP:
	default:
		return fmt.Errorf("config: unknown PROVIDER %q", c.Provider)
	}

	if c.BatchSize <= 0 {
		return fmt.Errorf("config: BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("config: RETRY_ATTEMPTS must not be negative, got %d", c.RetryAttempts)
	}
	if c.ProviderRateLimit <= 0 {
		return fmt.Errorf("config: PROVIDER_RATE_LIMIT must be positive, got %d", c.ProviderRateLimit)
	}

	return nil
}

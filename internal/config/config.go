package config

import (
	"errors"
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port     int    `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Env      string `envconfig:"ENV" default:"development"`

	// Database
	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"carecircle"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME" default:"carecircle"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`

	// Redis config
	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// MarkerBackend selects where "already notified" markers live: postgres or redis.
	MarkerBackend string `envconfig:"MARKER_BACKEND" default:"postgres"`

	// AWS Services
	AWSRegion              string `envconfig:"AWS_REGION" default:"ap-south-1"`
	SNSRegion              string `envconfig:"SNS_REGION"`
	PlatformApplicationARN string `envconfig:"SNS_PLATFORM_APPLICATION_ARN"`
	SESFromEmail           string `envconfig:"SES_FROM_EMAIL" default:"alerts@carecircle.local"`

	// SQS decoupling of push delivery (optional)
	SQSRegion   string `envconfig:"SQS_REGION"`
	SQSQueueURL string `envconfig:"SQS_QUEUE_URL"`

	// Alert forwarding webhook (optional)
	AlertWebhookURL string `envconfig:"ALERT_WEBHOOK_URL"`
	WebhookTimeout  int    `envconfig:"WEBHOOK_TIMEOUT" default:"30"` // seconds

	// Scheduled jobs
	JobsEnabled       bool          `envconfig:"JOBS_ENABLED" default:"true"`
	FastJobInterval   time.Duration `envconfig:"FAST_JOB_INTERVAL" default:"5m"`
	SlowJobInterval   time.Duration `envconfig:"SLOW_JOB_INTERVAL" default:"10m"`
	DefaultTimezone   string        `envconfig:"DEFAULT_TIMEZONE" default:"Asia/Kolkata"`
	StatusRefreshRate time.Duration `envconfig:"STATUS_REFRESH_RATE" default:"1m"`

	// Rate limiting per user
	RateLimit       int           `envconfig:"RATE_LIMIT" default:"100"`
	RateLimitWindow time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is honoured when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	if cfg.SNSRegion == "" {
		cfg.SNSRegion = cfg.AWSRegion
	}
	if cfg.SQSRegion == "" {
		cfg.SQSRegion = cfg.AWSRegion
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.MarkerBackend != "postgres" && c.MarkerBackend != "redis" {
		return fmt.Errorf("invalid MARKER_BACKEND %q: must be postgres or redis", c.MarkerBackend)
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("invalid DEFAULT_TIMEZONE: %w", err)
	}
	if c.FastJobInterval <= 0 || c.SlowJobInterval <= 0 {
		return fmt.Errorf("job intervals must be positive")
	}
	return nil
}

// Location returns the parsed default timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

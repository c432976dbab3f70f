// Package config defines the global configuration structure for the postwire
// platform. Configuration is loaded once at process initialization and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes the application to fail
// immediately on startup.
package config

import (
	"time"

	"postwire/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the postwire platform.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require
// (Least Privilege principle).
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"postwire"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server        ServerConfig
	Database      DatabaseConfig
	Queue         QueueConfig
	Publisher     PublisherConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// RequestTimeout is the soft deadline applied to every request context.
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
	// CORSAllowedOrigins is a comma-separated list of origins allowed to call
	// the API from a browser. "*" allows all origins.
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`     // Fail fast when pool exhausted
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"` // Detect dead connections during failover
}

// QueueConfig holds the delayed job queue tuning parameters. The retry policy
// for publish delivery lives entirely here: the worker itself holds no retry
// counters.
type QueueConfig struct {
	// PollInterval is how long a worker sleeps when Receive finds no matured job.
	PollInterval time.Duration `envconfig:"QUEUE_POLL_INTERVAL" default:"1s"`
	// Concurrency is the number of concurrent consumers per worker process.
	Concurrency int `envconfig:"QUEUE_CONCURRENCY" default:"4" validate:"min=1,max=64"`
	// MaxAttempts is the total delivery attempts before a job is terminally failed.
	MaxAttempts int `envconfig:"QUEUE_MAX_ATTEMPTS" default:"5" validate:"min=1,max=25"`
	// RetryBackoff is the base delay for exponential retry backoff
	// (attempt n is re-delayed by RetryBackoff * 2^(n-1)).
	RetryBackoff time.Duration `envconfig:"QUEUE_RETRY_BACKOFF" default:"30s"`
	// ClaimTimeout bounds how long an active claim is honored. A worker that
	// crashes mid-delivery releases its job for redelivery after this window
	// (at-least-once semantics).
	ClaimTimeout time.Duration `envconfig:"QUEUE_CLAIM_TIMEOUT" default:"5m"`
}

// PublisherConfig holds settings for the outbound publishing provider API.
type PublisherConfig struct {
	BaseURL   string        `envconfig:"PUBLISHER_BASE_URL" validate:"required,url"`
	Token     SecretString  `envconfig:"PUBLISHER_TOKEN" validate:"required"`
	Timeout   time.Duration `envconfig:"PUBLISHER_TIMEOUT" default:"10s"`
	UserAgent string        `envconfig:"PUBLISHER_USER_AGENT" default:"Postwire-Publisher/1.0"`
}

// ObservabilityConfig holds metrics emission settings.
type ObservabilityConfig struct {
	// MetricsEnabled gates CloudWatch metric emission. Disabled in local dev
	// so the worker runs without AWS credentials.
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"false"`
	AWSRegion      string `envconfig:"AWS_REGION" default:"us-east-1"`
	Namespace      string `envconfig:"METRICS_NAMESPACE" default:"Postwire"`
}

package app

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	// PGDSN is optional; when empty no auth event trail is written.
	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr     string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	SessionSecret string        `envconfig:"SESSION_SECRET" required:"true"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"720h"`
	SessionIdle   time.Duration `envconfig:"SESSION_IDLE" default:"30m"`

	CSRFSecret string `envconfig:"CSRF_SECRET" required:"true"`

	APIBaseURL  string        `envconfig:"API_BASE_URL" default:"http://localhost:5000/api"`
	APITimeout  time.Duration `envconfig:"API_TIMEOUT" default:"15s"`
	RefreshSkew time.Duration `envconfig:"REFRESH_SKEW" default:"30s"`
	LogoutAsync bool          `envconfig:"LOGOUT_ASYNC" default:"false"`

	WorkerConcurrency  int `envconfig:"WORKER_CONCURRENCY" default:"5"`
	AuthEventRetention int `envconfig:"AUTH_EVENT_RETENTION_DAYS" default:"90"`
	// WorkerMetricsAddr exposes the worker's job metrics when set.
	WorkerMetricsAddr string `envconfig:"WORKER_METRICS_ADDR"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot express.
func (c *Config) Validate() error {
	if c.SessionSecret == "" {
		return errors.New("session secret must be provided")
	}
	if c.CSRFSecret == "" {
		return errors.New("csrf secret must be provided")
	}
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("api base url %q must be an absolute http(s) url", c.APIBaseURL)
	}
	if c.RefreshSkew < 0 {
		return errors.New("refresh skew must not be negative")
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

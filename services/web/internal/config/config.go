package config

import (
	"fmt"
	"net/url"
	"time"

	pkgconfig "github.com/TP-Master1-GL/TERRABIA/pkg/config"
)

// Session store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config holds all configuration for the web client server.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPPort    int    `env:"WEB_HTTP_PORT" envDefault:"3000"`

	// Marketplace API
	APIBaseURL     string        `env:"API_BASE_URL" envDefault:"http://localhost:8000/api"`
	APITimeout     time.Duration `env:"API_TIMEOUT" envDefault:"15s"`
	APIMaxRetries  int           `env:"API_MAX_RETRIES" envDefault:"2"`
	BreakerTimeout time.Duration `env:"API_BREAKER_TIMEOUT" envDefault:"15s"`

	// API passthrough
	ProxyDialTimeout     time.Duration `env:"PROXY_DIAL_TIMEOUT" envDefault:"5s"`
	ProxyResponseTimeout time.Duration `env:"PROXY_RESPONSE_TIMEOUT" envDefault:"30s"`
	ProxyIdleTimeout     time.Duration `env:"PROXY_IDLE_TIMEOUT" envDefault:"90s"`
	ProxyMaxIdleConns    int           `env:"PROXY_MAX_IDLE_CONNS" envDefault:"100"`

	// Sessions
	SessionStore       string        `env:"SESSION_STORE" envDefault:"memory"`
	SessionTTL         time.Duration `env:"SESSION_TTL" envDefault:"168h"`
	SessionIdleTTL     time.Duration `env:"SESSION_IDLE_TTL" envDefault:"30m"`
	SessionRestoreWait time.Duration `env:"SESSION_RESTORE_WAIT" envDefault:"2s"`
	SessionMaxActive   int           `env:"SESSION_MAX_ACTIVE" envDefault:"10000"`
	CookieName         string        `env:"SESSION_COOKIE_NAME" envDefault:"terrabia_session"`
	CookieSecure       bool          `env:"SESSION_COOKIE_SECURE" envDefault:"false"`

	// Redis
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka session events; empty disables publishing.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`

	// Form submission throttling
	FormAttemptsPerMinute int      `env:"FORM_ATTEMPTS_PER_MINUTE" envDefault:"10"`
	FormAttemptsBurst     int      `env:"FORM_ATTEMPTS_BURST" envDefault:"5"`
	TrustedProxyCIDRs     []string `env:"TRUSTED_PROXY_CIDRS" envSeparator:","`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:5173" envSeparator:","`

	// Ops endpoints
	MetricsAllowedCIDRs []string `env:"METRICS_ALLOWED_CIDRS" envDefault:"127.0.0.1/32,::1/128" envSeparator:","`
	PprofAllowedCIDRs   []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.1/32,::1/128" envSeparator:","`

	// Tracing
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load web config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("API_BASE_URL must be an absolute URL, got %q", c.APIBaseURL)
	}

	switch c.SessionStore {
	case StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("SESSION_STORE must be %q or %q, got %q", StoreMemory, StoreRedis, c.SessionStore)
	}

	if c.CookieName == "" {
		return fmt.Errorf("SESSION_COOKIE_NAME must not be empty")
	}
	if !c.IsDevelopment() && !c.CookieSecure {
		return fmt.Errorf("SESSION_COOKIE_SECURE must be true in %s environment", c.Environment)
	}
	if !c.IsDevelopment() && c.SessionStore == StoreMemory {
		return fmt.Errorf("SESSION_STORE=memory is only allowed in development, not %s", c.Environment)
	}

	if c.SessionIdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be positive")
	}
	if c.SessionMaxActive < 1 {
		return fmt.Errorf("SESSION_MAX_ACTIVE must be positive")
	}
	if c.FormAttemptsPerMinute < 1 || c.FormAttemptsBurst < 1 {
		return fmt.Errorf("form attempt limits must be positive")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0 and 1, got %v", c.OTELSampleRate)
	}
	return nil
}

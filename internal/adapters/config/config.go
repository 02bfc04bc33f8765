package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"tokenmeter/pkg/errors"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config is the full server configuration
type Config struct {
	App           AppConfig
	HTTP          HTTPConfig
	Auth          AuthConfig
	Store         StoreConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Tokenizer     TokenizerConfig
	ErrorTracking ErrorTrackingConfig
}

// ClientConfig is what a metering client needs; it carries no server secrets
type ClientConfig struct {
	App           AppConfig
	Client        MeterClientConfig
	ErrorTracking ErrorTrackingConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"tokenmeter"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Version  string `envconfig:"VERSION" default:"dev"`
}

type HTTPConfig struct {
	Port            int           `envconfig:"HTTP_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
}

type AuthConfig struct {
	JWTSecret string        `envconfig:"AUTH_JWT_SECRET" required:"true"`
	Issuer    string        `envconfig:"AUTH_JWT_ISSUER" default:"tokenmeter"`
	TokenTTL  time.Duration `envconfig:"AUTH_TOKEN_TTL" default:"24h"`
}

type StoreConfig struct {
	Backend string        `envconfig:"USAGE_STORE_BACKEND" default:"memory"`
	TTL     time.Duration `envconfig:"USAGE_TTL" default:"6h"`
}

type RedisConfig struct {
	Host      string `envconfig:"REDIS_HOST" default:"localhost"`
	Port      int    `envconfig:"REDIS_PORT" default:"6379"`
	Password  string `envconfig:"REDIS_PASSWORD"`
	DB        int    `envconfig:"REDIS_DB" default:"0"`
	KeyPrefix string `envconfig:"REDIS_KEY_PREFIX" default:"tokenmeter:usage:"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig enables usage event publishing when Brokers is non-empty
type KafkaConfig struct {
	Brokers    []string `envconfig:"KAFKA_BROKERS"`
	UsageTopic string   `envconfig:"KAFKA_USAGE_TOPIC" default:"usage.events"`
}

func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

type TokenizerConfig struct {
	DefaultEncoding  string `envconfig:"TOKENIZER_DEFAULT_ENCODING" default:"o200k_base"`
	FallbackEncoding string `envconfig:"TOKENIZER_FALLBACK_ENCODING" default:"cl100k_base"`
}

type MeterClientConfig struct {
	SpendAPIURL    string        `envconfig:"SPEND_API_URL" default:"http://localhost:8080"`
	SpendAPIToken  string        `envconfig:"SPEND_API_TOKEN"`
	DefaultModel   string        `envconfig:"DEFAULT_MODEL" default:"gpt-4o-realtime-preview-2025-06-03"`
	RatePerMinute  int           `envconfig:"TOKENIZER_RATE_PER_MINUTE" default:"600"`
	PricingFile    string        `envconfig:"PRICING_FILE"`
	PushTimeout    time.Duration `envconfig:"PUSH_TIMEOUT" default:"5s"`
	PullTimeout    time.Duration `envconfig:"PULL_TIMEOUT" default:"10s"`
	RequestTimeout time.Duration `envconfig:"TOKENIZER_TIMEOUT" default:"5s"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"false"`
	Provider    string `envconfig:"ERROR_TRACKING_PROVIDER" default:"sentry"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// Validate checks cross-field constraints envconfig cannot express
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendRedis:
	default:
		return errors.Wrapf(errors.ErrInvalidInput, "unknown USAGE_STORE_BACKEND %q", c.Store.Backend)
	}
	if c.Store.TTL <= 0 {
		return errors.Wrap(errors.ErrInvalidInput, "USAGE_TTL must be positive")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.Wrap(errors.ErrInvalidInput, "AUTH_JWT_SECRET must not be blank")
	}
	return nil
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not exists)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadClient reads only the sections a metering client uses
func LoadClient() (*ClientConfig, error) {
	_ = godotenv.Load()

	var cfg ClientConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}
	if cfg.Client.RatePerMinute <= 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "TOKENIZER_RATE_PER_MINUTE must be positive")
	}

	return &cfg, nil
}

// Package config loads and validates client configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. RESTKIT_CLIENT_ENDPOINT.
const EnvPrefix = "RESTKIT_"

// Config is the root client configuration.
type Config struct {
	Client         ClientConfig         `yaml:"client" envPrefix:"CLIENT_"`
	Retry          RetryConfig          `yaml:"retry" envPrefix:"RETRY_"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" envPrefix:"CIRCUIT_BREAKER_"`
	Cache          CacheConfig          `yaml:"cache" envPrefix:"CACHE_"`
	Concurrency    ConcurrencyConfig    `yaml:"concurrency" envPrefix:"CONCURRENCY_"`
	Auth           AuthConfig           `yaml:"auth" envPrefix:"AUTH_"`
	Specs          SpecsConfig          `yaml:"specs" envPrefix:"SPECS_"`
	Observability  ObservabilityConfig  `yaml:"observability" envPrefix:"OBSERVABILITY_"`
}

// ClientConfig describes the service endpoint and per-request limits.
type ClientConfig struct {
	Endpoint         string        `yaml:"endpoint" env:"ENDPOINT"`
	APIVersion       string        `yaml:"api_version" env:"API_VERSION"`
	Timeout          time.Duration `yaml:"timeout" env:"TIMEOUT"`
	UserAgent        string        `yaml:"user_agent" env:"USER_AGENT"`
	MaxResponseBytes int64         `yaml:"max_response_bytes" env:"MAX_RESPONSE_BYTES"`
	Compression      bool          `yaml:"compression" env:"COMPRESSION"`
}

// RetryConfig describes the optional retry policy of the default pipeline.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	BackoffInitial    time.Duration `yaml:"backoff_initial" env:"BACKOFF_INITIAL"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" env:"BACKOFF_MULTIPLIER"`
	BackoffMax        time.Duration `yaml:"backoff_max" env:"BACKOFF_MAX"`
	IdempotentOnly    bool          `yaml:"idempotent_only" env:"IDEMPOTENT_ONLY"`
}

// CircuitBreakerConfig describes the circuit breaker policy.
type CircuitBreakerConfig struct {
	Enabled            bool          `yaml:"enabled" env:"ENABLED"`
	FailureThreshold   int           `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	SuccessThreshold   int           `yaml:"success_threshold" env:"SUCCESS_THRESHOLD"`
	Timeout            time.Duration `yaml:"timeout" env:"TIMEOUT"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold" env:"ERROR_RATE_THRESHOLD"`
	ErrorRateWindow    time.Duration `yaml:"error_rate_window" env:"ERROR_RATE_WINDOW"`
}

// CacheConfig describes the conditional-GET response cache.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled" env:"ENABLED"`
	Driver       string        `yaml:"driver" env:"DRIVER"`
	TTL          time.Duration `yaml:"ttl" env:"TTL"`
	MaxEntries   int           `yaml:"max_entries" env:"MAX_ENTRIES"`
	RedisAddrEnv string        `yaml:"redis_addr_env" env:"REDIS_ADDR_ENV"`
	DB           int           `yaml:"db" env:"DB"`
}

// ConcurrencyConfig bounds in-flight requests per pipeline. Zero disables
// the limit.
type ConcurrencyConfig struct {
	MaxInFlight int64 `yaml:"max_in_flight" env:"MAX_IN_FLIGHT"`
}

// AuthConfig names the environment variable holding a bearer token.
type AuthConfig struct {
	TokenEnv string `yaml:"token_env" env:"TOKEN_ENV"`
}

// SpecsConfig lists OpenAPI documents for generic invocation.
type SpecsConfig struct {
	Directory string       `yaml:"directory" env:"DIRECTORY"`
	Sources   []SpecSource `yaml:"sources"`
}

// SpecSource maps a service ID to an OpenAPI spec file.
type SpecSource struct {
	ServiceID string `yaml:"service_id"`
	SpecFile  string `yaml:"spec_file"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level" env:"LOG_LEVEL"`
	Tracing  TracingConfig `yaml:"tracing" envPrefix:"TRACING_"`
	Metrics  MetricsConfig `yaml:"metrics" envPrefix:"METRICS_"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	Exporter     string  `yaml:"exporter" env:"EXPORTER"`
	Endpoint     string  `yaml:"endpoint" env:"ENDPOINT"`
	SamplingRate float64 `yaml:"sampling_rate" env:"SAMPLING_RATE"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Client: ClientConfig{
			Timeout:          30 * time.Second,
			UserAgent:        "restkit/dev",
			MaxResponseBytes: 10 << 20,
			Compression:      true,
		},
		Retry: RetryConfig{
			MaxAttempts:       3,
			BackoffInitial:    100 * time.Millisecond,
			BackoffMultiplier: 2,
			BackoffMax:        2 * time.Second,
			IdempotentOnly:    true,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
		},
		Cache: CacheConfig{
			Driver:       "memory",
			TTL:          5 * time.Minute,
			MaxEntries:   1000,
			RedisAddrEnv: "REDIS_ADDR",
		},
		Auth: AuthConfig{
			TokenEnv: "RESTKIT_TOKEN",
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates the result. An empty path loads defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides cfg with RESTKIT_* environment variables. Unset
// variables leave the current values untouched.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// Validate checks that all fields hold usable values.
func (c *Config) Validate() error {
	var errs []string

	if c.Client.Endpoint != "" {
		u, err := url.Parse(c.Client.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, "client.endpoint must be an absolute URL")
		}
	}
	if c.Client.Timeout < 0 {
		errs = append(errs, "client.timeout must not be negative")
	}
	if c.Client.MaxResponseBytes < 0 {
		errs = append(errs, "client.max_response_bytes must not be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry.max_attempts must be at least 1")
	}
	if c.Retry.BackoffMultiplier != 0 && c.Retry.BackoffMultiplier < 1 {
		errs = append(errs, "retry.backoff_multiplier must be at least 1")
	}
	switch c.Cache.Driver {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("cache.driver %q is not supported (memory, redis)", c.Cache.Driver))
	}
	if c.Concurrency.MaxInFlight < 0 {
		errs = append(errs, "concurrency.max_in_flight must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.Observability.LogLevel); err != nil {
		errs = append(errs, fmt.Sprintf("observability.log_level %q is not a valid level", c.Observability.LogLevel))
	}
	switch c.Observability.Tracing.Exporter {
	case "otlp", "stdout", "":
	default:
		errs = append(errs, fmt.Sprintf("observability.tracing.exporter %q is not supported (otlp, stdout)", c.Observability.Tracing.Exporter))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

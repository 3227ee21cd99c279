package pipeline

import (
	"fmt"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/restkit/internal/config"
	"github.com/pitabwire/restkit/internal/observability"
)

// FromConfig builds the default pipeline described by cfg. Policies run
// outermost first: tracing, logging, user agent, request ID, bearer token,
// cache, retry, circuit breaker, concurrency limit, decompression.
func FromConfig(cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics, extra ...Option) (*HTTPPipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var policies []Policy
	if cfg.Observability.Tracing.Enabled {
		policies = append(policies, Tracing())
	}
	policies = append(policies, Logging(logger), UserAgent(cfg.Client.UserAgent), RequestID())

	if cfg.Auth.TokenEnv != "" {
		env := cfg.Auth.TokenEnv
		policies = append(policies, BearerToken(func(*http.Request) (string, error) {
			return os.Getenv(env), nil
		}))
	}

	if cfg.Cache.Enabled {
		store, err := newResponseCache(cfg.Cache)
		if err != nil {
			return nil, err
		}
		policies = append(policies, Cache(store, metrics, logger))
	}

	policies = append(policies, Retry(RetryOptions{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		BackoffInitial:    cfg.Retry.BackoffInitial,
		BackoffMultiplier: cfg.Retry.BackoffMultiplier,
		BackoffMax:        cfg.Retry.BackoffMax,
		IdempotentOnly:    cfg.Retry.IdempotentOnly,
		Metrics:           metrics,
		Logger:            logger,
	}))

	if cb := cfg.CircuitBreaker; cb.Enabled {
		policies = append(policies, Breaker(NewCircuitBreaker(BreakerOptions{
			FailureThreshold:   cb.FailureThreshold,
			SuccessThreshold:   cb.SuccessThreshold,
			Timeout:            cb.Timeout,
			ErrorRateThreshold: cb.ErrorRateThreshold,
			ErrorRateWindow:    cb.ErrorRateWindow,
		}), metrics))
	}

	if n := cfg.Concurrency.MaxInFlight; n > 0 {
		policies = append(policies, ConcurrencyLimit(n, metrics))
	}
	if cfg.Client.Compression {
		policies = append(policies, Compression())
	}

	opts := []Option{
		WithPolicies(policies...),
		WithTimeout(cfg.Client.Timeout),
		WithMaxResponseBytes(cfg.Client.MaxResponseBytes),
		WithMetrics(metrics),
		WithLogger(logger),
	}
	return New(append(opts, extra...)...), nil
}

func newResponseCache(cfg config.CacheConfig) (ResponseCache, error) {
	switch cfg.Driver {
	case "", "memory":
		capacity := uint64(0)
		if cfg.MaxEntries > 0 {
			capacity = uint64(cfg.MaxEntries)
		}
		return NewMemoryCache(cfg.TTL, capacity), nil
	case "redis":
		addr := os.Getenv(cfg.RedisAddrEnv)
		if addr == "" {
			return nil, fmt.Errorf("pipeline: redis cache: environment variable %q is empty", cfg.RedisAddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		return NewRedisCache(client, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("pipeline: unknown cache driver %q", cfg.Driver)
	}
}

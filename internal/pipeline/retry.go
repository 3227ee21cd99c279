package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/pitabwire/restkit/internal/observability"
)

// RetryOptions configures the Retry policy.
type RetryOptions struct {
	MaxAttempts       int
	BackoffInitial    time.Duration
	BackoffMultiplier float64
	BackoffMax        time.Duration
	// IdempotentOnly restricts retries to methods that are safe to repeat.
	IdempotentOnly bool
	Metrics        *observability.Metrics
	Logger         *zap.Logger
}

// maxDelay bounds every wait, including one a server asks for.
func (o RetryOptions) maxDelay() time.Duration {
	if o.BackoffMax <= 0 {
		return 2 * time.Second
	}
	return o.BackoffMax
}

func (o RetryOptions) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.BackoffInitial
	if b.InitialInterval <= 0 {
		b.InitialInterval = 100 * time.Millisecond
	}
	b.Multiplier = o.BackoffMultiplier
	if b.Multiplier < 1 {
		b.Multiplier = 2
	}
	b.MaxInterval = o.maxDelay()
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(o.MaxAttempts-1))
}

// Retry re-sends requests that failed in transport or received a retryable
// status (408, 429, 500, 502, 503, 504), waiting with exponential backoff or
// the server's Retry-After, never longer than BackoffMax. The final response
// or error is returned as is.
func Retry(opts RetryOptions) Policy {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			if opts.MaxAttempts == 1 || (opts.IdempotentOnly && !isIdempotentMethod(r.Method)) {
				return next.RoundTrip(r)
			}
			if r.Body != nil && r.Body != http.NoBody && r.GetBody == nil {
				return next.RoundTrip(r)
			}

			ctx := r.Context()
			bo := opts.backOff()
			for attempt := 1; ; attempt++ {
				req := r
				if attempt > 1 {
					var err error
					if req, err = rewind(r); err != nil {
						return nil, err
					}
				}

				resp, err := next.RoundTrip(req)
				if !shouldRetry(ctx, resp, err) {
					return resp, err
				}

				delay := bo.NextBackOff()
				if delay == backoff.Stop {
					return resp, err
				}
				if resp != nil {
					if ra, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
						delay = min(ra, opts.maxDelay())
					}
					drain(resp)
				}

				opts.Metrics.RecordRetry(r.Method)
				fields := []zap.Field{
					zap.String("operation_id", OperationFrom(ctx)),
					zap.Int("attempt", attempt),
					zap.Int("max", opts.MaxAttempts),
					zap.Duration("delay", delay),
				}
				if err != nil {
					fields = append(fields, zap.Error(err))
				} else {
					fields = append(fields, zap.Int("status", resp.StatusCode))
				}
				observability.LoggerFrom(ctx, opts.Logger).Warn("pipeline: retrying", fields...)

				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return nil, ctx.Err()
				case <-timer.C:
				}
			}
		})
	}
}

func rewind(r *http.Request) (*http.Request, error) {
	req := r.Clone(r.Context())
	if r.GetBody != nil {
		body, err := r.GetBody()
		if err != nil {
			return nil, fmt.Errorf("pipeline: rewind body: %w", err)
		}
		req.Body = body
	}
	return req, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func shouldRetry(ctx context.Context, resp *http.Response, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		return !errors.Is(err, ErrCircuitOpen) && !errors.Is(err, ErrTokenExpired)
	}
	return isRetryableStatus(resp.StatusCode)
}

// retryAfter parses a Retry-After value given in seconds or as an HTTP date.
func retryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

func isIdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodDelete,
		http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

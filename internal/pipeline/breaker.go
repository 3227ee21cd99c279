package pipeline

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/pitabwire/restkit/internal/observability"
)

// ErrCircuitOpen is returned without contacting the service while the
// breaker is open.
var ErrCircuitOpen = errors.New("pipeline: circuit breaker is open")

// BreakerState represents the current state of a circuit breaker.
type BreakerState int

const (
	// BreakerClosed allows all requests through. Failures are counted.
	BreakerClosed BreakerState = iota
	// BreakerHalfOpen allows probe requests through.
	BreakerHalfOpen
	// BreakerOpen rejects all requests immediately.
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// minErrorRateSamples is the minimum number of requests in a window before
// the error rate threshold is evaluated.
const minErrorRateSamples = 10

// BreakerOptions configures a CircuitBreaker. Zero values select defaults:
// 5 failures, 2 successes, 30s open timeout, rate tripping disabled.
type BreakerOptions struct {
	FailureThreshold   int
	SuccessThreshold   int
	Timeout            time.Duration
	ErrorRateThreshold float64
	ErrorRateWindow    time.Duration
}

// CircuitBreaker trips on consecutive failures or on the error rate within a
// tumbling window, then lets probes through after a timeout. It is safe for
// concurrent use.
type CircuitBreaker struct {
	mu        sync.Mutex
	opts      BreakerOptions
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
	now       func() time.Time

	windowStart    time.Time
	windowTotal    int
	windowFailures int

	onChange func(BreakerState)
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(opts BreakerOptions) *CircuitBreaker {
	if opts.FailureThreshold < 1 {
		opts.FailureThreshold = 5
	}
	if opts.SuccessThreshold < 1 {
		opts.SuccessThreshold = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	cb := &CircuitBreaker{opts: opts, state: BreakerClosed, now: time.Now}
	cb.windowStart = cb.now()
	return cb
}

// Allow returns nil if a request may be sent, or ErrCircuitOpen.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeHalfOpen()
	if cb.state == BreakerOpen {
		return ErrCircuitOpen
	}
	return nil
}

// RecordSuccess records a successful exchange.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures = 0
		cb.recordWindowCall(false)
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.opts.SuccessThreshold {
			cb.failures = 0
			cb.successes = 0
			cb.resetWindow()
			cb.setState(BreakerClosed)
		}
	}
}

// RecordFailure records a failed exchange.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures++
		cb.recordWindowCall(true)
		if cb.failures >= cb.opts.FailureThreshold || cb.errorRateExceeded() {
			cb.openedAt = cb.now()
			cb.resetWindow()
			cb.setState(BreakerOpen)
		}
	case BreakerHalfOpen:
		// Any failure while probing reopens.
		cb.openedAt = cb.now()
		cb.successes = 0
		cb.setState(BreakerOpen)
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	return cb.state
}

// ErrorRate returns the current error rate and total requests in the window.
func (cb *CircuitBreaker) ErrorRate() (rate float64, total int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeResetWindow()
	if cb.windowTotal == 0 {
		return 0, 0
	}
	return float64(cb.windowFailures) / float64(cb.windowTotal), cb.windowTotal
}

// Must be called with lock held.
func (cb *CircuitBreaker) maybeHalfOpen() {
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) > cb.opts.Timeout {
		cb.successes = 0
		cb.setState(BreakerHalfOpen)
	}
}

// Must be called with lock held.
func (cb *CircuitBreaker) setState(s BreakerState) {
	if cb.state == s {
		return
	}
	cb.state = s
	if cb.onChange != nil {
		cb.onChange(s)
	}
}

// Must be called with lock held.
func (cb *CircuitBreaker) recordWindowCall(isFailure bool) {
	if cb.opts.ErrorRateWindow <= 0 {
		return
	}
	cb.maybeResetWindow()
	cb.windowTotal++
	if isFailure {
		cb.windowFailures++
	}
}

// Must be called with lock held.
func (cb *CircuitBreaker) maybeResetWindow() {
	if cb.opts.ErrorRateWindow > 0 && cb.now().Sub(cb.windowStart) > cb.opts.ErrorRateWindow {
		cb.resetWindow()
	}
}

// Must be called with lock held.
func (cb *CircuitBreaker) resetWindow() {
	cb.windowStart = cb.now()
	cb.windowTotal = 0
	cb.windowFailures = 0
}

// Must be called with lock held.
func (cb *CircuitBreaker) errorRateExceeded() bool {
	if cb.opts.ErrorRateThreshold <= 0 || cb.opts.ErrorRateWindow <= 0 {
		return false
	}
	if cb.windowTotal < minErrorRateSamples {
		return false
	}
	return float64(cb.windowFailures)/float64(cb.windowTotal) >= cb.opts.ErrorRateThreshold
}

// Breaker guards exchanges with cb. Transport errors and 5xx responses count
// as failures; 4xx responses are neither failures nor successes.
func Breaker(cb *CircuitBreaker, metrics *observability.Metrics) Policy {
	cb.mu.Lock()
	cb.onChange = func(s BreakerState) { metrics.SetCircuitBreakerState(float64(s)) }
	cb.mu.Unlock()

	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			if err := cb.Allow(); err != nil {
				return nil, err
			}
			resp, err := next.RoundTrip(r)
			switch {
			case err != nil:
				if r.Context().Err() == nil {
					cb.RecordFailure()
				}
			case resp.StatusCode >= 500:
				cb.RecordFailure()
			case resp.StatusCode < 400:
				cb.RecordSuccess()
			}
			return resp, err
		})
	}
}

package pipeline

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pitabwire/restkit/internal/observability"
)

// fakeClock drives a breaker's notion of time.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(opts BreakerOptions) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(opts)
	cb.now = clock.now
	cb.windowStart = clock.now()
	return cb, clock
}

func TestCircuitBreaker_startsClosed(t *testing.T) {
	cb, _ := newTestBreaker(BreakerOptions{FailureThreshold: 3})

	if s := cb.State(); s != BreakerClosed {
		t.Errorf("initial state = %v, want closed", s)
	}
	if err := cb.Allow(); err != nil {
		t.Errorf("Allow() error = %v, want nil", err)
	}
}

func TestCircuitBreaker_opensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(BreakerOptions{FailureThreshold: 3})

	cb.RecordFailure()
	cb.RecordFailure()
	if s := cb.State(); s != BreakerClosed {
		t.Errorf("state after 2 failures = %v, want closed", s)
	}

	cb.RecordFailure()
	if s := cb.State(); s != BreakerOpen {
		t.Errorf("state after 3 failures = %v, want open", s)
	}
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_successResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(BreakerOptions{FailureThreshold: 3})

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if s := cb.State(); s != BreakerClosed {
		t.Errorf("state = %v, want closed after reset", s)
	}
}

func TestCircuitBreaker_halfOpenAfterTimeout(t *testing.T) {
	cb, clock := newTestBreaker(BreakerOptions{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Second})

	cb.RecordFailure()
	if s := cb.State(); s != BreakerOpen {
		t.Fatalf("state = %v, want open", s)
	}

	clock.advance(2 * time.Second)
	if s := cb.State(); s != BreakerHalfOpen {
		t.Errorf("state after timeout = %v, want half-open", s)
	}
	if err := cb.Allow(); err != nil {
		t.Errorf("Allow() in half-open = %v, want nil", err)
	}

	cb.RecordSuccess()
	if s := cb.State(); s != BreakerHalfOpen {
		t.Errorf("state after 1 success = %v, want half-open", s)
	}
	cb.RecordSuccess()
	if s := cb.State(); s != BreakerClosed {
		t.Errorf("state after 2 successes = %v, want closed", s)
	}
}

func TestCircuitBreaker_halfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(BreakerOptions{FailureThreshold: 1, Timeout: time.Second})

	cb.RecordFailure()
	clock.advance(2 * time.Second)
	_ = cb.Allow()

	cb.RecordFailure()
	if s := cb.State(); s != BreakerOpen {
		t.Errorf("state = %v, want open after half-open failure", s)
	}
}

func TestCircuitBreaker_defaults(t *testing.T) {
	cb, _ := newTestBreaker(BreakerOptions{})

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	if s := cb.State(); s != BreakerClosed {
		t.Errorf("state after 4 failures = %v, want closed", s)
	}
	cb.RecordFailure()
	if s := cb.State(); s != BreakerOpen {
		t.Errorf("state after 5 failures = %v, want open", s)
	}
}

func TestBreakerState_String(t *testing.T) {
	cases := map[BreakerState]string{
		BreakerClosed:    "closed",
		BreakerOpen:      "open",
		BreakerHalfOpen:  "half-open",
		BreakerState(42): "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(s), got, want)
		}
	}
}

func TestCircuitBreaker_errorRateTrips(t *testing.T) {
	cb, _ := newTestBreaker(BreakerOptions{
		FailureThreshold:   100,
		ErrorRateThreshold: 0.5,
		ErrorRateWindow:    time.Minute,
	})

	for i := 0; i < 6; i++ {
		cb.RecordSuccess()
	}
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	if s := cb.State(); s != BreakerClosed {
		t.Errorf("state at 5/11 failures = %v, want closed", s)
	}

	cb.RecordFailure()
	if s := cb.State(); s != BreakerOpen {
		t.Errorf("state at 6/12 failures = %v, want open", s)
	}
}

func TestCircuitBreaker_errorRateNeedsMinSamples(t *testing.T) {
	cb, _ := newTestBreaker(BreakerOptions{
		FailureThreshold:   100,
		ErrorRateThreshold: 0.1,
		ErrorRateWindow:    time.Minute,
	})

	for i := 0; i < minErrorRateSamples-1; i++ {
		cb.RecordFailure()
	}
	if s := cb.State(); s != BreakerClosed {
		t.Errorf("state below min samples = %v, want closed", s)
	}
	cb.RecordFailure()
	if s := cb.State(); s != BreakerOpen {
		t.Errorf("state at min samples = %v, want open", s)
	}
}

func TestCircuitBreaker_errorRateWindowExpires(t *testing.T) {
	cb, clock := newTestBreaker(BreakerOptions{
		FailureThreshold:   100,
		ErrorRateThreshold: 0.5,
		ErrorRateWindow:    time.Second,
	})

	cb.RecordSuccess()
	cb.RecordSuccess()
	cb.RecordFailure()

	rate, total := cb.ErrorRate()
	if total != 3 {
		t.Errorf("ErrorRate() total = %d, want 3", total)
	}
	if want := 1.0 / 3.0; rate < want-0.01 || rate > want+0.01 {
		t.Errorf("ErrorRate() rate = %f, want ~%f", rate, want)
	}

	clock.advance(2 * time.Second)
	if _, total := cb.ErrorRate(); total != 0 {
		t.Errorf("window total after expiry = %d, want 0", total)
	}
}

func TestBreaker_policy(t *testing.T) {
	status := http.StatusInternalServerError
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	metrics := observability.InitMetrics(reg)
	cb, _ := newTestBreaker(BreakerOptions{FailureThreshold: 2})
	client := &http.Client{Transport: Chain(http.DefaultTransport, Breaker(cb, metrics))}

	for i := 0; i < 2; i++ {
		resp, err := client.Get(srv.URL)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		resp.Body.Close()
	}
	if s := cb.State(); s != BreakerOpen {
		t.Fatalf("state after two 500s = %v, want open", s)
	}
	if got := testutil.ToFloat64(metrics.CircuitBreakerState); got != float64(BreakerOpen) {
		t.Errorf("breaker gauge = %v, want %v", got, float64(BreakerOpen))
	}

	_, err := client.Get(srv.URL)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("request while open: err = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_clientErrorsAreNeutral(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cb, _ := newTestBreaker(BreakerOptions{FailureThreshold: 1})
	client := &http.Client{Transport: Chain(http.DefaultTransport, Breaker(cb, nil))}

	for i := 0; i < 3; i++ {
		resp, err := client.Get(srv.URL)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		resp.Body.Close()
	}
	if s := cb.State(); s != BreakerClosed {
		t.Errorf("state after 404s = %v, want closed", s)
	}
}

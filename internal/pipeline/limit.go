package pipeline

import (
	"io"
	"net/http"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/pitabwire/restkit/internal/observability"
)

// ConcurrencyLimit bounds the number of exchanges in flight. A slot is held
// until the response body is closed. Waiting respects the request context.
func ConcurrencyLimit(n int64, metrics *observability.Metrics) Policy {
	sem := semaphore.NewWeighted(n)
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			if err := sem.Acquire(r.Context(), 1); err != nil {
				return nil, err
			}
			metrics.AddInFlight(1)
			release := sync.OnceFunc(func() {
				metrics.AddInFlight(-1)
				sem.Release(1)
			})

			resp, err := next.RoundTrip(r)
			if err != nil {
				release()
				return nil, err
			}
			resp.Body = &releasingBody{ReadCloser: resp.Body, release: release}
			return resp, nil
		})
	}
}

type releasingBody struct {
	io.ReadCloser
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}

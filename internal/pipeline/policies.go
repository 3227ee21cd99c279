package pipeline

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/pitabwire/restkit/internal/observability"
)

// Policy wraps a round tripper with one cross-cutting concern.
type Policy func(next http.RoundTripper) http.RoundTripper

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

// RoundTrip implements http.RoundTripper.
func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// Chain wraps base with policies; the first policy is outermost.
func Chain(base http.RoundTripper, policies ...Policy) http.RoundTripper {
	rt := base
	for i := len(policies) - 1; i >= 0; i-- {
		if policies[i] != nil {
			rt = policies[i](rt)
		}
	}
	return rt
}

// cloneRequest returns a copy of r with its own header map; round trippers
// must not mutate the caller's request.
func cloneRequest(r *http.Request) *http.Request {
	return r.Clone(r.Context())
}

// UserAgent sets the User-Agent header unless the request already has one.
func UserAgent(ua string) Policy {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			if ua == "" || r.Header.Get("User-Agent") != "" {
				return next.RoundTrip(r)
			}
			r2 := cloneRequest(r)
			r2.Header.Set("User-Agent", ua)
			return next.RoundTrip(r2)
		})
	}
}

// RequestIDHeader carries the client-generated request ID.
const RequestIDHeader = "X-Request-Id"

// RequestID stamps each request with a fresh UUID unless one is present.
func RequestID() Policy {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			if r.Header.Get(RequestIDHeader) != "" {
				return next.RoundTrip(r)
			}
			r2 := cloneRequest(r)
			r2.Header.Set(RequestIDHeader, uuid.NewString())
			return next.RoundTrip(r2)
		})
	}
}

// ErrTokenExpired is returned instead of sending a request with an expired
// JWT bearer token.
var ErrTokenExpired = errors.New("pipeline: bearer token has expired")

// TokenSource yields the bearer token for a request. Acquiring and
// refreshing tokens is the caller's concern.
type TokenSource func(r *http.Request) (string, error)

// StaticToken returns a TokenSource that always yields token.
func StaticToken(token string) TokenSource {
	return func(*http.Request) (string, error) { return token, nil }
}

// BearerToken sets the Authorization header from source. Tokens that parse
// as JWTs are checked for expiry before use; opaque tokens are sent as is.
func BearerToken(source TokenSource) Policy {
	parser := jwt.NewParser()
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			token, err := source(r)
			if err != nil {
				return nil, fmt.Errorf("pipeline: bearer token: %w", err)
			}
			if token == "" {
				return next.RoundTrip(r)
			}
			if strings.Count(token, ".") == 2 {
				claims := jwt.MapClaims{}
				if _, _, err := parser.ParseUnverified(token, claims); err == nil {
					if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && exp.Before(time.Now()) {
						return nil, ErrTokenExpired
					}
				}
			}
			r2 := cloneRequest(r)
			r2.Header.Set("Authorization", "Bearer "+sanitizeHeader(token))
			return next.RoundTrip(r2)
		})
	}
}

// sanitizeHeader strips newlines and carriage returns to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}

// Compression advertises gzip and zstd and transparently decodes either.
func Compression() Policy {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			if r.Header.Get("Accept-Encoding") == "" {
				r2 := cloneRequest(r)
				r2.Header.Set("Accept-Encoding", "gzip, zstd")
				r = r2
			}
			resp, err := next.RoundTrip(r)
			if err != nil {
				return nil, err
			}

			var decoded io.ReadCloser
			switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
			case "gzip":
				zr, err := gzip.NewReader(resp.Body)
				if err != nil {
					resp.Body.Close()
					return nil, fmt.Errorf("pipeline: gzip response: %w", err)
				}
				decoded = &decodedBody{Reader: zr, closers: []io.Closer{zr, resp.Body}}
			case "zstd":
				zr, err := zstd.NewReader(resp.Body)
				if err != nil {
					resp.Body.Close()
					return nil, fmt.Errorf("pipeline: zstd response: %w", err)
				}
				decoded = &decodedBody{Reader: zr, closers: []io.Closer{zstdCloser{zr}, resp.Body}}
			default:
				return resp, nil
			}

			resp.Body = decoded
			resp.Header.Del("Content-Encoding")
			resp.Header.Del("Content-Length")
			resp.ContentLength = -1
			resp.Uncompressed = true
			return resp, nil
		})
	}
}

type decodedBody struct {
	io.Reader
	closers []io.Closer
}

func (b *decodedBody) Close() error {
	var errs []error
	for _, c := range b.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

type zstdCloser struct{ d *zstd.Decoder }

func (c zstdCloser) Close() error {
	c.d.Close()
	return nil
}

// Logging logs every exchange at debug level, and transport failures at
// warn level. Sensitive headers are redacted.
func Logging(fallback *zap.Logger) Policy {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			logger := observability.LoggerFrom(r.Context(), fallback).With(
				zap.String("operation_id", OperationFrom(r.Context())),
				zap.String("method", r.Method),
				zap.String("url", r.URL.Redacted()),
			)
			start := time.Now()
			if ce := logger.Check(zap.DebugLevel, "pipeline: sending request"); ce != nil {
				ce.Write(zap.Any("headers", observability.RedactHeaders(r.Header)))
			}

			resp, err := next.RoundTrip(r)
			if err != nil {
				logger.Warn("pipeline: request failed",
					zap.Duration("duration", time.Since(start)),
					zap.Error(err),
				)
				return nil, err
			}
			logger.Debug("pipeline: received response",
				zap.Int("status", resp.StatusCode),
				zap.Duration("duration", time.Since(start)),
			)
			return resp, nil
		})
	}
}

// Tracing instruments exchanges with otelhttp client spans named after the
// operation.
func Tracing() Policy {
	return func(next http.RoundTripper) http.RoundTripper {
		return otelhttp.NewTransport(next,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if op := OperationFrom(r.Context()); op != "" {
					return "HTTP " + r.Method + " " + op
				}
				return "HTTP " + r.Method
			}),
		)
	}
}

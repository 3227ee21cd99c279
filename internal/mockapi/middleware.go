package mockapi

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/restkit/internal/observability"
)

// RequestIDHeader carries the client request ID, echoed on the response.
const RequestIDHeader = "X-Request-Id"

// APIVersionParam is the query parameter selecting the API version.
const APIVersionParam = "api-version"

type requestIDKey struct{}
type versionKey struct{}

// RequestIDFrom returns the request ID stored by RequestID.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// VersionFrom returns the API version accepted by RequireVersion.
func VersionFrom(ctx context.Context) string {
	v, _ := ctx.Value(versionKey{}).(string)
	return v
}

// Recovery turns handler panics into 500 responses.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("error", rec),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
					)
					WriteError(w, http.StatusInternalServerError, CodeInternal, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID reads the request ID header or generates one, stores it in
// the context and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// RequestLogging logs each request with its status and duration.
func RequestLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", RequestIDFrom(r.Context())),
				zap.String("trace_id", observability.TraceIDFromContext(r.Context())),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Authenticate rejects requests without a valid HS256 bearer token signed
// with secret.
func Authenticate(secret []byte) func(http.Handler) http.Handler {
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="widgets"`)
				WriteError(w, http.StatusUnauthorized, CodeUnauthorized, "missing bearer token")
				return
			}
			if _, err := jwt.Parse(raw, keyFunc, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})); err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="widgets", error="invalid_token"`)
				WriteError(w, http.StatusUnauthorized, CodeUnauthorized, err.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireVersion rejects requests whose api-version is not one of
// versions and stores the accepted version in the context.
func RequireVersion(versions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			v := r.URL.Query().Get(APIVersionParam)
			if !slices.Contains(versions, v) {
				WriteError(w, http.StatusBadRequest, CodeUnsupportedVersion,
					"api-version must be one of "+strings.Join(versions, ", "))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), versionKey{}, v)))
		})
	}
}

package pipeline

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// echoHeaders returns a transport that records the request it receives.
func echoHeaders(got **http.Request) RoundTripperFunc {
	return func(r *http.Request) (*http.Response, error) {
		*got = r
		return &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: http.NoBody, Request: r}, nil
	}
}

func TestUserAgent(t *testing.T) {
	var got *http.Request
	rt := Chain(echoHeaders(&got), UserAgent("restkit/test"))

	req := httptest.NewRequest(http.MethodGet, "http://svc/", nil)
	_, err := rt.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, "restkit/test", got.Header.Get("User-Agent"))
	assert.Empty(t, req.Header.Get("User-Agent"), "original request must not be mutated")

	req.Header.Set("User-Agent", "custom")
	_, err = rt.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, "custom", got.Header.Get("User-Agent"))
}

func TestRequestID(t *testing.T) {
	var got *http.Request
	rt := Chain(echoHeaders(&got), RequestID())

	_, err := rt.RoundTrip(httptest.NewRequest(http.MethodGet, "http://svc/", nil))
	require.NoError(t, err)
	first := got.Header.Get(RequestIDHeader)
	assert.Len(t, first, 36)

	_, err = rt.RoundTrip(httptest.NewRequest(http.MethodGet, "http://svc/", nil))
	require.NoError(t, err)
	assert.NotEqual(t, first, got.Header.Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "http://svc/", nil)
	req.Header.Set(RequestIDHeader, "fixed")
	_, err = rt.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, "fixed", got.Header.Get(RequestIDHeader))
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "tester",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("secret"))
	require.NoError(t, err)
	return s
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		want    string
		wantErr error
	}{
		{name: "opaque token", token: "abc123", want: "Bearer abc123"},
		{name: "empty token sends nothing", token: "", want: ""},
		{name: "header injection stripped", token: "abc\r\nX-Evil: 1", want: "Bearer abcX-Evil: 1"},
		{name: "valid jwt", token: signedToken(t, time.Now().Add(time.Hour))},
		{name: "expired jwt", token: signedToken(t, time.Now().Add(-time.Hour)), wantErr: ErrTokenExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *http.Request
			rt := Chain(echoHeaders(&got), BearerToken(StaticToken(tt.token)))

			_, err := rt.RoundTrip(httptest.NewRequest(http.MethodGet, "http://svc/", nil))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got, "request must not be sent")
				return
			}
			require.NoError(t, err)
			want := tt.want
			if want == "" && tt.token != "" {
				want = "Bearer " + tt.token
			}
			assert.Equal(t, want, got.Header.Get("Authorization"))
		})
	}
}

func TestCompression(t *testing.T) {
	const payload = `{"value":[1,2,3]}`

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, _ = zw.Write([]byte(payload))
	require.NoError(t, zw.Close())

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	zs := enc.EncodeAll([]byte(payload), nil)
	require.NoError(t, enc.Close())

	tests := []struct {
		encoding string
		body     []byte
	}{
		{"gzip", gz.Bytes()},
		{"zstd", zs},
		{"", []byte(payload)},
	}
	for _, tt := range tests {
		t.Run("encoding="+tt.encoding, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "gzip, zstd", r.Header.Get("Accept-Encoding"))
				if tt.encoding != "" {
					w.Header().Set("Content-Encoding", tt.encoding)
				}
				_, _ = w.Write(tt.body)
			}))
			defer srv.Close()

			p := New(WithPolicies(Compression()))
			resp, err := p.Send(context.Background(), &Request{Method: http.MethodGet, URL: mustURL(t, srv.URL)})
			require.NoError(t, err)
			assert.Equal(t, payload, string(resp.Body))
			assert.Empty(t, resp.Header.Get("Content-Encoding"))
		})
	}
}

func TestCompression_CorruptBody(t *testing.T) {
	base := RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Encoding": {"gzip"}},
			Body:       io.NopCloser(bytes.NewReader([]byte("not gzip"))),
		}, nil
	})
	_, err := Chain(base, Compression()).RoundTrip(httptest.NewRequest(http.MethodGet, "http://svc/", nil))
	assert.ErrorContains(t, err, "gzip response")
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	var got *http.Request
	rt := Chain(echoHeaders(&got), Logging(logger))
	req := httptest.NewRequest(http.MethodGet, "http://svc/widgets?x=1", nil)
	req.Header.Set("Authorization", "Bearer secret")
	req = req.WithContext(WithOperation(req.Context(), "listWidgets"))

	_, err := rt.RoundTrip(req)
	require.NoError(t, err)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "pipeline: sending request", entries[0].Message)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "listWidgets", ctx["operation_id"])
	headers, ok := ctx["headers"].(map[string]string)
	require.True(t, ok, "headers field has type %T", ctx["headers"])
	assert.NotContains(t, headers["Authorization"], "secret")
	assert.Equal(t, int64(http.StatusOK), entries[1].ContextMap()["status"])
}

func TestTracing(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
		_ = tp.Shutdown(context.Background())
	})

	var got *http.Request
	rt := Chain(echoHeaders(&got), Tracing())
	req := httptest.NewRequest(http.MethodGet, "http://svc/widgets/1", nil)
	req = req.WithContext(WithOperation(req.Context(), "getWidget"))

	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "HTTP GET getWidget", spans[0].Name)
	assert.NotEmpty(t, got.Header.Get("Traceparent"))
}

package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/pitabwire/restkit/internal/observability"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// etagServer answers 304 when If-None-Match matches and counts full bodies.
func etagServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var full atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		full.Add(1)
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"w1"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &full
}

func TestCachedResponseRecord(t *testing.T) {
	ct := "application/json"
	in := &CachedResponse{StatusCode: 200, ETag: `"abc"`, ContentType: &ct, Body: []byte{0, 1, 2, 0xff}}

	data, err := cachedResponseRecord.Marshal(in)
	require.NoError(t, err)
	out, err := cachedResponseRecord.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, *in, out)
}

func TestCachedResponseRecord_BadBody(t *testing.T) {
	_, err := cachedResponseRecord.Unmarshal([]byte(`{"status":200,"etag":"x","body":"%%%"}`))
	assert.Error(t, err)
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache(time.Minute, 2)
	ctx := context.Background()

	_, found, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found)

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, c.Set(ctx, k, &CachedResponse{StatusCode: 200, ETag: k}))
	}
	assert.Equal(t, 2, c.Len())

	got, found, err := c.Get(ctx, "c")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "c", got.ETag)
	assert.Equal(t, "memory", c.Driver())
}

func TestRedisCache(t *testing.T) {
	mr, client := newTestRedis(t)
	c := NewRedisCache(client, time.Minute)
	ctx := context.Background()

	_, found, err := c.Get(ctx, "http://svc/widgets/1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "http://svc/widgets/1", &CachedResponse{StatusCode: 200, ETag: `"v1"`, Body: []byte("hi")}))
	assert.True(t, mr.Exists(RedisKeyPrefix+"http://svc/widgets/1"))
	assert.Equal(t, time.Minute, mr.TTL(RedisKeyPrefix+"http://svc/widgets/1"))

	got, found, err := c.Get(ctx, "http://svc/widgets/1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "hi", string(got.Body))

	mr.FastForward(2 * time.Minute)
	_, found, err = c.Get(ctx, "http://svc/widgets/1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisCache_CorruptEntry(t *testing.T) {
	mr, client := newTestRedis(t)
	require.NoError(t, mr.Set(RedisKeyPrefix+"k", "not json"))

	_, _, err := NewRedisCache(client, time.Minute).Get(context.Background(), "k")
	assert.ErrorContains(t, err, "unmarshal cache entry")
}

func TestCachePolicy(t *testing.T) {
	_, client := newTestRedis(t)
	stores := map[string]ResponseCache{
		"memory": NewMemoryCache(time.Minute, 10),
		"redis":  NewRedisCache(client, time.Minute),
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			srv, full := etagServer(t)
			reg := prometheus.NewRegistry()
			metrics := observability.InitMetrics(reg)
			p := New(WithPolicies(Cache(store, metrics, nil)))

			for i := 0; i < 3; i++ {
				resp, err := p.Send(context.Background(), &Request{Method: http.MethodGet, URL: mustURL(t, srv.URL+"/widgets/w1")})
				require.NoError(t, err)
				assert.Equal(t, http.StatusOK, resp.StatusCode)
				assert.Equal(t, `{"id":"w1"}`, string(resp.Body))
				assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			}

			assert.Equal(t, int32(1), full.Load())
			assert.Equal(t, 2.0, testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues(name)))
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheMissesTotal.WithLabelValues(name)))
		})
	}
}

func TestCachePolicy_SkipsNonGet(t *testing.T) {
	srv, full := etagServer(t)
	store := NewMemoryCache(time.Minute, 10)
	p := New(WithPolicies(Cache(store, nil, nil)))

	for i := 0; i < 2; i++ {
		_, err := p.Send(context.Background(), &Request{Method: http.MethodPost, URL: mustURL(t, srv.URL)})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), full.Load())
	assert.Zero(t, store.Len())
}

func TestCacheKey_SeparatesCredentials(t *testing.T) {
	a := httptest.NewRequest(http.MethodGet, "http://svc/widgets", nil)
	b := httptest.NewRequest(http.MethodGet, "http://svc/widgets", nil)
	b.Header.Set("Authorization", "Bearer other")

	assert.Equal(t, "GET http://svc/widgets", cacheKey(a))
	assert.NotEqual(t, cacheKey(a), cacheKey(b))
	assert.NotContains(t, cacheKey(b), "other")
}

func TestCacheKey_SeparatesRepresentations(t *testing.T) {
	jsonReq := httptest.NewRequest(http.MethodGet, "http://svc/widgets", nil)
	jsonReq.Header.Set("Accept", "application/json")
	xmlReq := httptest.NewRequest(http.MethodGet, "http://svc/widgets", nil)
	xmlReq.Header.Set("Accept", "application/xml")
	head := httptest.NewRequest(http.MethodHead, "http://svc/widgets", nil)
	head.Header.Set("Accept", "application/json")

	assert.NotEqual(t, cacheKey(jsonReq), cacheKey(xmlReq))
	assert.NotEqual(t, cacheKey(jsonReq), cacheKey(head))
}

func TestCachePolicy_AcceptSelectsEntry(t *testing.T) {
	var full atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		etag := `"` + r.Header.Get("Accept") + `"`
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		full.Add(1)
		w.Header().Set("ETag", etag)
		w.Header().Set("Content-Type", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(r.Header.Get("Accept")))
	}))
	t.Cleanup(srv.Close)

	store := NewMemoryCache(time.Minute, 10)
	p := New(WithPolicies(Cache(store, nil, nil)))
	for _, accept := range []string{"application/json", "text/plain", "application/json", "text/plain"} {
		resp, err := p.Send(context.Background(), &Request{
			Method: http.MethodGet,
			URL:    mustURL(t, srv.URL+"/widgets/w1"),
			Header: http.Header{"Accept": {accept}},
		})
		require.NoError(t, err)
		assert.Equal(t, accept, string(resp.Body))
		assert.Equal(t, accept, resp.Header.Get("Content-Type"))
	}
	assert.Equal(t, int32(2), full.Load())
	assert.Equal(t, 2, store.Len())
}

func TestCachePolicy_TagsSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	srv, _ := etagServer(t)
	p := New(WithPolicies(Cache(NewMemoryCache(time.Minute, 10), nil, nil)))
	for i := 0; i < 2; i++ {
		ctx, span := tp.Tracer("test").Start(context.Background(), "getWidget")
		_, err := p.Send(ctx, &Request{Method: http.MethodGet, URL: mustURL(t, srv.URL+"/widgets/w1")})
		require.NoError(t, err)
		span.End()
	}

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	hits := make([]bool, 0, len(spans))
	for _, s := range spans {
		for _, kv := range s.Attributes {
			if kv.Key == observability.AttrCacheHit {
				hits = append(hits, kv.Value.AsBool())
			}
		}
	}
	assert.Equal(t, []bool{false, true}, hits)
}

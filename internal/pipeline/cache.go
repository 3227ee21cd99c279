package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pitabwire/restkit/codec"
	"github.com/pitabwire/restkit/internal/observability"
)

// CachedResponse is a stored GET response validated with its ETag.
type CachedResponse struct {
	StatusCode  int
	ETag        string
	ContentType *string
	Body        []byte
}

type bodyKind struct{}

func (bodyKind) Name() string { return "base64 body" }

func (bodyKind) Write(w *jwriter.Writer, v []byte) {
	w.String(base64.StdEncoding.EncodeToString(v))
}

func (bodyKind) Read(l *jlexer.Lexer) []byte {
	s := l.String()
	if !l.Ok() {
		return nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		l.AddError(err)
		return nil
	}
	return b
}

var cachedResponseRecord = codec.NewRecord("cached response",
	codec.Required("status", codec.Int, func(c *CachedResponse) *int { return &c.StatusCode }),
	codec.Required("etag", codec.String, func(c *CachedResponse) *string { return &c.ETag }),
	codec.Optional("content_type", codec.String, func(c *CachedResponse) **string { return &c.ContentType }),
	codec.Required[CachedResponse, []byte]("body", bodyKind{}, func(c *CachedResponse) *[]byte { return &c.Body }),
)

// ResponseCache stores validated responses by request key.
type ResponseCache interface {
	// Get returns the entry for key; found is false on a miss.
	Get(ctx context.Context, key string) (entry *CachedResponse, found bool, err error)
	Set(ctx context.Context, key string, entry *CachedResponse) error
	// Driver names the backing store for metrics labels.
	Driver() string
}

// --- MemoryCache ---

// MemoryCache is an in-process ResponseCache with TTL expiry and LRU
// eviction once capacity is reached.
type MemoryCache struct {
	cache *ttlcache.Cache[string, CachedResponse]
}

// NewMemoryCache creates a memory cache. A zero capacity is unbounded.
func NewMemoryCache(ttl time.Duration, capacity uint64) *MemoryCache {
	opts := []ttlcache.Option[string, CachedResponse]{
		ttlcache.WithTTL[string, CachedResponse](ttl),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, CachedResponse](capacity))
	}
	return &MemoryCache{cache: ttlcache.New(opts...)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*CachedResponse, bool, error) {
	item := c.cache.Get(key)
	if item == nil {
		return nil, false, nil
	}
	entry := item.Value()
	return &entry, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, entry *CachedResponse) error {
	c.cache.Set(key, *entry, ttlcache.DefaultTTL)
	return nil
}

func (c *MemoryCache) Driver() string { return "memory" }

// Len returns the number of live entries.
func (c *MemoryCache) Len() int {
	return c.cache.Len()
}

// Start runs expired-entry cleanup until ctx is cancelled.
func (c *MemoryCache) Start(ctx context.Context) {
	go c.cache.Start()
	<-ctx.Done()
	c.cache.Stop()
}

// --- RedisCache ---

// RedisKeyPrefix namespaces cache entries in Redis.
const RedisKeyPrefix = "restkit:etag:"

// RedisCache is a ResponseCache shared between processes through Redis.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed cache.
func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*CachedResponse, bool, error) {
	raw, err := c.client.Get(ctx, RedisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}
	entry, err := cachedResponseRecord.Unmarshal(raw)
	if err != nil {
		return nil, false, fmt.Errorf("unmarshal cache entry %q: %w", key, err)
	}
	return &entry, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, entry *CachedResponse) error {
	data, err := cachedResponseRecord.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := c.client.Set(ctx, RedisKeyPrefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Driver() string { return "redis" }

// varyHeaders are the request headers a stored representation depends on.
var varyHeaders = []string{"Accept", "Accept-Encoding", "Accept-Language"}

// maxCachedBody bounds the bodies worth keeping.
const maxCachedBody = 1 << 20

// Cache revalidates GET responses with If-None-Match. A 304 answer is
// replaced by the stored response; a 200 carrying an ETag is stored. Cache
// failures never fail the request.
func Cache(store ResponseCache, metrics *observability.Metrics, fallback *zap.Logger) Policy {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			if r.Method != http.MethodGet || r.Header.Get("If-None-Match") != "" {
				return next.RoundTrip(r)
			}
			ctx := r.Context()
			logger := observability.LoggerFrom(ctx, fallback)
			key := cacheKey(r)

			entry, found, err := store.Get(ctx, key)
			if err != nil {
				logger.Warn("pipeline: cache lookup failed", zap.String("driver", store.Driver()), zap.Error(err))
				found = false
			}
			if found {
				r2 := cloneRequest(r)
				r2.Header.Set("If-None-Match", entry.ETag)
				r = r2
			}

			resp, err := next.RoundTrip(r)
			if err != nil {
				return nil, err
			}

			hit := found && resp.StatusCode == http.StatusNotModified
			trace.SpanFromContext(ctx).SetAttributes(observability.AttrCacheHit.Bool(hit))
			if hit {
				metrics.RecordCacheHit(store.Driver())
				drain(resp)
				return entry.response(r), nil
			}
			metrics.RecordCacheMiss(store.Driver())

			etag := resp.Header.Get("ETag")
			if resp.StatusCode != http.StatusOK || etag == "" {
				return resp, nil
			}
			if resp.ContentLength > maxCachedBody {
				return resp, nil
			}
			body, err := io.ReadAll(io.LimitReader(resp.Body, maxCachedBody+1))
			rest := resp.Body
			resp.Body = struct {
				io.Reader
				io.Closer
			}{io.MultiReader(bytes.NewReader(body), rest), rest}
			if err != nil || len(body) > maxCachedBody {
				return resp, nil
			}

			stored := &CachedResponse{StatusCode: resp.StatusCode, ETag: etag, Body: body}
			if ct := resp.Header.Get("Content-Type"); ct != "" {
				stored.ContentType = &ct
			}
			if err := store.Set(ctx, key, stored); err != nil {
				logger.Warn("pipeline: cache store failed", zap.String("driver", store.Driver()), zap.Error(err))
			}
			return resp, nil
		})
	}
}

func (c *CachedResponse) response(r *http.Request) *http.Response {
	h := make(http.Header)
	h.Set("ETag", c.ETag)
	if c.ContentType != nil {
		h.Set("Content-Type", *c.ContentType)
	}
	h.Set("Content-Length", strconv.Itoa(len(c.Body)))
	return &http.Response{
		Status:        strconv.Itoa(c.StatusCode) + " " + http.StatusText(c.StatusCode),
		StatusCode:    c.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(c.Body)),
		ContentLength: int64(len(c.Body)),
		Request:       r,
	}
}

// cacheKey identifies a response by method, URL and the request headers
// that select a representation. Credentials contribute a digest only.
func cacheKey(r *http.Request) string {
	key := r.Method + " " + r.URL.String()
	for _, name := range varyHeaders {
		if v := r.Header.Get(name); v != "" {
			key += "|" + name + "=" + v
		}
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		sum := sha256.Sum256([]byte(auth))
		key += "#" + hex.EncodeToString(sum[:8])
	}
	return key
}

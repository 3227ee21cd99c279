// Package pipeline is the transport boundary of the client runtime. A
// Pipeline sends one fully built request and returns the raw response
// envelope; everything between (retries, auth headers, caching, tracing) is
// composed from http.RoundTripper policies.
package pipeline

//go:generate go run go.uber.org/mock/mockgen -source=pipeline.go -destination=mock_pipeline.go -package=pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/restkit/internal/observability"
	"github.com/pitabwire/restkit/model"
)

// DefaultMaxResponseBytes bounds the size of a buffered response body.
const DefaultMaxResponseBytes = 10 << 20

// ErrResponseTooLarge is returned when a body exceeds the configured limit.
var ErrResponseTooLarge = errors.New("pipeline: response body exceeds limit")

// Request is a fully bound HTTP request.
type Request struct {
	OperationID string
	Method      string
	URL         *url.URL
	Header      http.Header
	Body        []byte
}

// Pipeline sends requests. Implementations must be safe for concurrent use.
type Pipeline interface {
	Send(ctx context.Context, req *Request) (*model.Response, error)
}

type operationKey struct{}

// WithOperation records the operation ID on ctx for policies that label
// their output by operation.
func WithOperation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, operationKey{}, id)
}

// OperationFrom returns the operation ID recorded on ctx, or "".
func OperationFrom(ctx context.Context) string {
	id, _ := ctx.Value(operationKey{}).(string)
	return id
}

// HTTPPipeline is the default Pipeline over net/http.
type HTTPPipeline struct {
	client           *http.Client
	maxResponseBytes int64
	metrics          *observability.Metrics
	logger           *zap.Logger
}

// Option configures an HTTPPipeline.
type Option func(*options)

type options struct {
	base             http.RoundTripper
	policies         []Policy
	timeout          time.Duration
	maxResponseBytes int64
	metrics          *observability.Metrics
	logger           *zap.Logger
}

// WithTransport sets the innermost round tripper. Defaults to a tuned
// *http.Transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.base = rt }
}

// WithPolicies appends policies. The first policy is outermost.
func WithPolicies(p ...Policy) Option {
	return func(o *options) { o.policies = append(o.policies, p...) }
}

// WithTimeout bounds a whole exchange, including retries.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithMaxResponseBytes bounds buffered response bodies.
func WithMaxResponseBytes(n int64) Option {
	return func(o *options) { o.maxResponseBytes = n }
}

// WithMetrics records exchange counts on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the fallback logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New builds an HTTPPipeline.
func New(opts ...Option) *HTTPPipeline {
	o := options{maxResponseBytes: DefaultMaxResponseBytes}
	for _, opt := range opts {
		opt(&o)
	}
	if o.base == nil {
		o.base = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxConnsPerHost:     50,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.maxResponseBytes <= 0 {
		o.maxResponseBytes = DefaultMaxResponseBytes
	}
	return &HTTPPipeline{
		client: &http.Client{
			Transport: Chain(o.base, o.policies...),
			Timeout:   o.timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return errors.New("stopped after 10 redirects")
				}
				return nil
			},
		},
		maxResponseBytes: o.maxResponseBytes,
		metrics:          o.metrics,
		logger:           o.logger,
	}
}

// Send performs one exchange and buffers the response body.
func (p *HTTPPipeline) Send(ctx context.Context, req *Request) (*model.Response, error) {
	if req.OperationID != "" {
		ctx = WithOperation(ctx, req.OperationID)
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("pipeline: build request: %w", err)
	}
	if req.Header != nil {
		httpReq.Header = req.Header.Clone()
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.metrics.RecordRequest(req.Method, 0)
		return nil, fmt.Errorf("pipeline: %s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	defer resp.Body.Close()
	p.metrics.RecordRequest(req.Method, resp.StatusCode)

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("pipeline: read response: %w", err)
	}
	if int64(len(data)) > p.maxResponseBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrResponseTooLarge, p.maxResponseBytes)
	}

	return &model.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// PipelineFunc adapts a function to Pipeline.
type PipelineFunc func(ctx context.Context, req *Request) (*model.Response, error)

// Send implements Pipeline.
func (f PipelineFunc) Send(ctx context.Context, req *Request) (*model.Response, error) {
	return f(ctx, req)
}

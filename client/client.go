// Package client is the versioned client facade core. A Client pins one
// service version and runs the operations of a descriptor table against
// one endpoint; service packages wrap it with typed methods.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/restkit/codec"
	"github.com/pitabwire/restkit/internal/config"
	"github.com/pitabwire/restkit/internal/invoker"
	"github.com/pitabwire/restkit/internal/observability"
	"github.com/pitabwire/restkit/internal/pager"
	"github.com/pitabwire/restkit/internal/pipeline"
	"github.com/pitabwire/restkit/model"
)

// Aliases of the runtime types that appear in facade signatures, so that
// callers outside this module can implement and configure them.
type (
	Pipeline           = pipeline.Pipeline
	PipelineFunc       = pipeline.PipelineFunc
	Request            = pipeline.Request
	Config             = config.Config
	Metrics            = observability.Metrics
	Input              = invoker.Input
	Table              = invoker.Table
	Future[T any]      = invoker.Future[T]
	Result[T any]      = invoker.Result[T]
	Pager[T any]       = pager.Pager[T]
	PagerCursor[T any] = pager.Cursor[T]
)

// DefaultConfig returns the default client configuration.
func DefaultConfig() *Config {
	return config.Defaults()
}

// LoadConfig reads a YAML configuration file and applies RESTKIT_*
// environment overrides. An empty path loads defaults plus environment.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// NewMetrics registers the client metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return observability.InitMetrics(reg)
}

// NewPipeline builds the default pipeline described by cfg, for sharing
// between clients of different services. logger and metrics may be nil.
func NewPipeline(cfg *Config, logger *zap.Logger, metrics *Metrics) (Pipeline, error) {
	if cfg == nil {
		cfg = config.Defaults()
	}
	p, err := pipeline.FromConfig(cfg, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	return p, nil
}

// Client runs operations of one service at a pinned version. It holds only
// immutable configuration and is safe for concurrent use.
type Client struct {
	versions *model.VersionSet
	version  model.ServiceVersion
	table    *invoker.Table
	inv      *invoker.Invoker
	pipeline pipeline.Pipeline
	logger   *zap.Logger
}

type settings struct {
	version  model.ServiceVersion
	pipeline pipeline.Pipeline
	logger   *zap.Logger
	metrics  *observability.Metrics
	cfg      *config.Config
}

// Option configures a Client.
type Option func(*settings)

// WithVersion pins the service version. The default is the latest.
func WithVersion(v model.ServiceVersion) Option {
	return func(s *settings) { s.version = v }
}

// WithPipeline shares an existing pipeline instead of building one.
func WithPipeline(p Pipeline) Option {
	return func(s *settings) { s.pipeline = p }
}

// WithLogger sets the logger used for operation and transport logs.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithMetrics records operation and transport metrics on m.
func WithMetrics(m *Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithConfig supplies the configuration the default pipeline is built
// from. Its client endpoint and api version apply when New is not given
// them explicitly.
func WithConfig(cfg *Config) Option {
	return func(s *settings) { s.cfg = cfg }
}

// New creates a client for the service described by versions and table.
func New(endpoint string, versions *model.VersionSet, table *invoker.Table, opts ...Option) (*Client, error) {
	s := settings{}
	for _, opt := range opts {
		opt(&s)
	}
	if s.cfg == nil {
		s.cfg = config.Defaults()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if endpoint == "" {
		endpoint = s.cfg.Client.Endpoint
	}
	if s.version == "" && s.cfg.Client.APIVersion != "" {
		s.version = model.ServiceVersion(s.cfg.Client.APIVersion)
	}

	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("client: endpoint %q must be an absolute URL", endpoint)
	}
	if table.Versions() != versions {
		return nil, errors.New("client: table was built for a different version set")
	}

	version := versions.Latest()
	if s.version != "" {
		v, err := versions.Parse(string(s.version))
		if err != nil {
			return nil, fmt.Errorf("client: %w", err)
		}
		version = v
	}

	p := s.pipeline
	if p == nil {
		hp, err := pipeline.FromConfig(s.cfg, s.logger, s.metrics)
		if err != nil {
			return nil, fmt.Errorf("client: %w", err)
		}
		p = hp
	}

	return &Client{
		versions: versions,
		version:  version,
		table:    table,
		pipeline: p,
		logger:   s.logger,
		inv: invoker.New(p, endpoint,
			invoker.WithLogger(s.logger),
			invoker.WithMetrics(s.metrics),
			invoker.WithServiceVersion(version),
		),
	}, nil
}

// Version returns the pinned service version.
func (c *Client) Version() model.ServiceVersion { return c.version }

// Versions returns the service's version set.
func (c *Client) Versions() *model.VersionSet { return c.versions }

// Endpoint returns the service endpoint.
func (c *Client) Endpoint() string { return c.inv.Endpoint() }

// Pipeline returns the pipeline the client sends through.
func (c *Client) Pipeline() Pipeline { return c.pipeline }

// Operations returns the operations callable at the pinned version.
func (c *Client) Operations() []string { return c.table.Available(c.version) }

// Resolve returns the descriptor of id at the pinned version.
func (c *Client) Resolve(id string) (*model.OperationDescriptor, error) {
	return c.table.Resolve(id, c.version)
}

// Do runs operation id and decodes its success body with dec.
func Do[T any](ctx context.Context, c *Client, id string, in Input, opts *model.RequestOptions, dec codec.Decoder[T]) (Result[T], error) {
	op, err := c.Resolve(id)
	if err != nil {
		return Result[T]{}, err
	}
	return invoker.Call(ctx, c.inv, op, in, opts, dec)
}

// DoAsync is the non-blocking form of Do.
func DoAsync[T any](ctx context.Context, c *Client, id string, in Input, opts *model.RequestOptions, dec codec.Decoder[T]) *Future[Result[T]] {
	op, err := c.Resolve(id)
	if err != nil {
		return invoker.Completed(Result[T]{}, err)
	}
	return invoker.CallAsync(ctx, c.inv, op, in, opts, dec)
}

// DoRaw runs operation id and returns the undecoded response.
func DoRaw(ctx context.Context, c *Client, id string, in Input, opts *model.RequestOptions) (*model.Response, error) {
	op, err := c.Resolve(id)
	if err != nil {
		return nil, err
	}
	return c.inv.Invoke(ctx, op, in, opts)
}

// DoRawAsync is the non-blocking form of DoRaw.
func DoRawAsync(ctx context.Context, c *Client, id string, in Input, opts *model.RequestOptions) *Future[*model.Response] {
	op, err := c.Resolve(id)
	if err != nil {
		return invoker.Completed[*model.Response](nil, err)
	}
	return c.inv.InvokeAsync(ctx, op, in, opts)
}

// List returns a pager over the items of list operation id. Nothing is sent
// until the pager is iterated; a resolution failure is reported by the
// first fetch.
func List[T any](c *Client, id string, in Input, opts *model.RequestOptions, item codec.Kind[T]) *Pager[T] {
	return pager.New(id, func(ctx context.Context, continuation string) (model.Page[T], error) {
		op, err := c.Resolve(id)
		if err != nil {
			return model.Page[T]{}, err
		}
		return invoker.FetchPage(ctx, c.inv, op, in, opts, item, continuation)
	})
}

// Failed returns a pager whose first fetch reports err. Facades use it
// when list parameters fail validation before anything is sent.
func Failed[T any](id string, err error) *Pager[T] {
	return pager.New(id, func(context.Context, string) (model.Page[T], error) {
		return model.Page[T]{}, err
	})
}

// Map returns a pager yielding fn applied to each item of p. An error from
// fn ends the iteration at that item.
func Map[T, U any](p *Pager[T], fn func(T) (U, error)) *Pager[U] {
	return pager.Map(p, fn)
}

// Unwrap converts a Do outcome into the convenience form: the bare value,
// or a *model.RuntimeFailure wrapping the typed error.
func Unwrap[T any](r Result[T], err error) (T, error) {
	if err != nil {
		var zero T
		return zero, model.NewRuntimeFailure(operationOf(err), err)
	}
	return r.Value, nil
}

// UnwrapAsync is Unwrap applied to a future.
func UnwrapAsync[T any](f *Future[Result[T]]) *Future[T] {
	return invoker.Handle(f, Unwrap[T])
}

func operationOf(err error) string {
	var opErr *model.OperationError
	if errors.As(err, &opErr) {
		return opErr.Operation
	}
	return ""
}

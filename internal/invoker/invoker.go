// Package invoker executes operations described by model.OperationDescriptor
// values: it binds parameters into a request, sends it through a pipeline,
// and maps the response status onto the typed error taxonomy. Blocking and
// asynchronous invocation share one core and differ only in scheduling.
package invoker

import (
	"context"
	"time"

	"github.com/stoewer/go-strcase"
	"go.uber.org/zap"

	"github.com/pitabwire/restkit/internal/observability"
	"github.com/pitabwire/restkit/internal/pipeline"
	"github.com/pitabwire/restkit/model"
)

// Input carries the bound parameter values and the encoded body of one call.
type Input struct {
	Params model.Params
	Body   []byte
}

// Invoker runs operations against one endpoint. It holds no per-call state
// and is safe for concurrent use.
type Invoker struct {
	pipeline pipeline.Pipeline
	host     model.Params
	version  model.ServiceVersion
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithLogger sets the fallback logger.
func WithLogger(l *zap.Logger) Option {
	return func(inv *Invoker) { inv.logger = l }
}

// WithMetrics records invocation outcomes on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(inv *Invoker) { inv.metrics = m }
}

// WithHostParam supplies a host placeholder value for every call, unless
// the call binds the parameter itself.
func WithHostParam(name, value string) Option {
	return func(inv *Invoker) { inv.host.Set(name, value) }
}

// WithServiceVersion labels spans with the pinned service version.
func WithServiceVersion(v model.ServiceVersion) Option {
	return func(inv *Invoker) { inv.version = v }
}

// New creates an Invoker that substitutes endpoint for the {endpoint} host
// placeholder.
func New(p pipeline.Pipeline, endpoint string, opts ...Option) *Invoker {
	inv := &Invoker{
		pipeline: p,
		host:     model.Params{model.EndpointParam: {endpoint}},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Endpoint returns the endpoint the invoker was created with.
func (inv *Invoker) Endpoint() string {
	return inv.host.Get(model.EndpointParam)
}

// Invoke binds, sends and checks one call, blocking until it completes.
func (inv *Invoker) Invoke(ctx context.Context, op *model.OperationDescriptor, in Input, opts *model.RequestOptions) (*model.Response, error) {
	req, err := inv.bind(op, in, opts)
	if err != nil {
		inv.record(op, time.Now(), err)
		return nil, err
	}
	return inv.send(ctx, op, req, false)
}

// InvokeAsync is Invoke scheduled on a goroutine. Binding happens before it
// returns, so validation failures are reported by an already completed
// future. Cancelling the future cancels the exchange.
func (inv *Invoker) InvokeAsync(ctx context.Context, op *model.OperationDescriptor, in Input, opts *model.RequestOptions) *Future[*model.Response] {
	req, err := inv.bind(op, in, opts)
	if err != nil {
		inv.record(op, time.Now(), err)
		return Completed[*model.Response](nil, err)
	}
	return Go(ctx, func(ctx context.Context) (*model.Response, error) {
		return inv.send(ctx, op, req, true)
	})
}

// send is the suspension point shared by both invocation styles.
func (inv *Invoker) send(ctx context.Context, op *model.OperationDescriptor, req *pipeline.Request, async bool) (resp *model.Response, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "invoke "+op.ID,
		observability.AttrOperationID.String(op.ID),
		observability.AttrServiceVersion.String(inv.version.String()),
		observability.AttrAsync.Bool(async),
	)
	defer func() {
		observability.EndSpanWithError(span, err)
		inv.record(op, start, err)
	}()

	logger := observability.OperationLogger(ctx, inv.logger, op.ID)
	logger.Debug("invoker: sending",
		zap.String("method", req.Method),
		zap.String("url", req.URL.Redacted()),
		zap.Bool("async", async),
	)

	raw, sendErr := inv.pipeline.Send(ctx, req)
	resp, err = finish(op, raw, sendErr)
	if err != nil {
		logger.Debug("invoker: failed", zap.Error(err))
		return nil, err
	}
	logger.Debug("invoker: completed", zap.Int("status", resp.StatusCode))
	return resp, nil
}

// finish maps a pipeline outcome onto the operation's declared statuses.
func finish(op *model.OperationDescriptor, resp *model.Response, err error) (*model.Response, error) {
	if err != nil {
		return nil, model.NewTransportError(op.ID, err)
	}
	if op.IsSuccess(resp.StatusCode) {
		return resp, nil
	}
	if kind, ok := op.ErrorKindFor(resp.StatusCode); ok {
		return nil, model.NewStatusError(kind, op.ID, resp)
	}
	return nil, model.NewStatusError(model.KindTransport, op.ID, resp)
}

func (inv *Invoker) record(op *model.OperationDescriptor, start time.Time, err error) {
	outcome := "success"
	if kind := model.KindOf(err); kind != "" {
		outcome = strcase.SnakeCase(string(kind))
	} else if err != nil {
		outcome = "error"
	}
	inv.metrics.RecordOperation(strcase.SnakeCase(op.ID), outcome, time.Since(start))
}

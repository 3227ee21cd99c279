// Package widgets is the versioned client of the widgets service. Every
// operation comes in four forms: XxxWithResponse returns the decoded value
// with its response envelope and a typed *model.OperationError, Xxx returns
// the bare value and a *model.RuntimeFailure, and each has an Async
// counterpart returning a future.
package widgets

import (
	"context"

	"github.com/pitabwire/restkit/client"
	"github.com/pitabwire/restkit/codec"
	"github.com/pitabwire/restkit/internal/invoker"
	"github.com/pitabwire/restkit/model"
)

var table = NewTable()

// Client calls the widgets service at one pinned version.
type Client struct {
	c *client.Client
}

// New creates a widgets client. Without client.WithVersion the latest
// version is used.
func New(endpoint string, opts ...client.Option) (*Client, error) {
	c, err := client.New(endpoint, Versions, table, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{c: c}, nil
}

// Version returns the pinned service version.
func (w *Client) Version() model.ServiceVersion { return w.c.Version() }

// Endpoint returns the service endpoint.
func (w *Client) Endpoint() string { return w.c.Endpoint() }

// Pipeline returns the pipeline the client sends through, for sharing with
// other clients.
func (w *Client) Pipeline() client.Pipeline { return w.c.Pipeline() }

// Operations lists the operations available at the pinned version.
func (w *Client) Operations() []string { return w.c.Operations() }

// ListOptions are the optional parameters of the list operations.
type ListOptions struct {
	MaxPageSize int `param:"maxpagesize,omitempty" validate:"omitempty,min=1,max=100"`
	// Filter selects widgets by color. Requires V2.
	Filter string `param:"filter,omitempty"`
}

func (w *Client) input(name string, body []byte) client.Input {
	params := model.Params{ParamAPIVersion: {w.c.Version().String()}}
	if name != "" {
		params.Set(ParamWidgetName, name)
	}
	return client.Input{Params: params, Body: body}
}

func (w *Client) listInput(id string, opts *ListOptions) (client.Input, error) {
	in := w.input("", nil)
	if opts == nil {
		return in, nil
	}
	params, err := invoker.BindStruct(id, opts)
	if err != nil {
		return client.Input{}, err
	}
	for k, vs := range params {
		in.Params[k] = vs
	}
	return in, nil
}

// ListWidgets pages through all widgets using continuation tokens.
func (w *Client) ListWidgets(opts *ListOptions, reqOpts *model.RequestOptions) *client.Pager[Widget] {
	in, err := w.listInput(OpListWidgets, opts)
	if err != nil {
		return client.Failed[Widget](OpListWidgets, err)
	}
	return client.List(w.c, OpListWidgets, in, reqOpts, WidgetRecord)
}

// ListWidgetsByLink pages through all widgets by following next links.
// Filter is not supported by this operation.
func (w *Client) ListWidgetsByLink(opts *ListOptions, reqOpts *model.RequestOptions) *client.Pager[Widget] {
	in, err := w.listInput(OpListWidgetsByLink, opts)
	if err != nil {
		return client.Failed[Widget](OpListWidgetsByLink, err)
	}
	return client.List(w.c, OpListWidgetsByLink, in, reqOpts, WidgetRecord)
}

// ListWidgetNames is ListWidgets projected onto widget names.
func (w *Client) ListWidgetNames(opts *ListOptions) *client.Pager[string] {
	return client.Map(w.ListWidgets(opts, nil), func(x Widget) (string, error) { return x.Name, nil })
}

// ListWidgetColors is ListWidgets projected onto declared colors. A widget
// whose color this client does not know fails the iteration at that widget
// with a *codec.UnknownEnumError.
func (w *Client) ListWidgetColors(opts *ListOptions) *client.Pager[Color] {
	return client.Map(w.ListWidgets(opts, nil), func(x Widget) (Color, error) {
		c, ok := x.Color.Value()
		if !ok {
			return "", &codec.UnknownEnumError{Enum: Colors.Name(), Value: x.Color.String()}
		}
		return c, nil
	})
}

// GetWidgetWithResponse fetches one widget.
func (w *Client) GetWidgetWithResponse(ctx context.Context, name string, opts *model.RequestOptions) (client.Result[Widget], error) {
	return client.Do(ctx, w.c, OpGetWidget, w.input(name, nil), opts, WidgetRecord.Decoder())
}

// GetWidgetWithResponseAsync is the asynchronous form of GetWidgetWithResponse.
func (w *Client) GetWidgetWithResponseAsync(ctx context.Context, name string, opts *model.RequestOptions) *client.Future[client.Result[Widget]] {
	return client.DoAsync(ctx, w.c, OpGetWidget, w.input(name, nil), opts, WidgetRecord.Decoder())
}

// GetWidget fetches one widget.
func (w *Client) GetWidget(ctx context.Context, name string) (Widget, error) {
	return client.Unwrap(w.GetWidgetWithResponse(ctx, name, nil))
}

// GetWidgetAsync is the asynchronous form of GetWidget.
func (w *Client) GetWidgetAsync(ctx context.Context, name string) *client.Future[Widget] {
	return client.UnwrapAsync(w.GetWidgetWithResponseAsync(ctx, name, nil))
}

func (w *Client) createInput(widget Widget) (client.Input, error) {
	data, err := WidgetRecord.Marshal(&widget)
	if err != nil {
		return client.Input{}, err
	}
	return w.input(widget.Name, data), nil
}

// CreateWidgetWithResponse creates widget under widget.Name. An existing
// widget of that name is a conflict.
func (w *Client) CreateWidgetWithResponse(ctx context.Context, widget Widget, opts *model.RequestOptions) (client.Result[Widget], error) {
	in, err := w.createInput(widget)
	if err != nil {
		return client.Result[Widget]{}, err
	}
	return client.Do(ctx, w.c, OpCreateWidget, in, opts, WidgetRecord.Decoder())
}

// CreateWidgetWithResponseAsync is the asynchronous form of
// CreateWidgetWithResponse.
func (w *Client) CreateWidgetWithResponseAsync(ctx context.Context, widget Widget, opts *model.RequestOptions) *client.Future[client.Result[Widget]] {
	in, err := w.createInput(widget)
	if err != nil {
		return invoker.Completed(client.Result[Widget]{}, err)
	}
	return client.DoAsync(ctx, w.c, OpCreateWidget, in, opts, WidgetRecord.Decoder())
}

// CreateWidget creates a widget and returns it as stored.
func (w *Client) CreateWidget(ctx context.Context, widget Widget) (Widget, error) {
	return client.Unwrap(w.CreateWidgetWithResponse(ctx, widget, nil))
}

// CreateWidgetAsync is the asynchronous form of CreateWidget.
func (w *Client) CreateWidgetAsync(ctx context.Context, widget Widget) *client.Future[Widget] {
	return client.UnwrapAsync(w.CreateWidgetWithResponseAsync(ctx, widget, nil))
}

// DeleteWidgetWithResponse deletes a widget.
func (w *Client) DeleteWidgetWithResponse(ctx context.Context, name string, opts *model.RequestOptions) (client.Result[struct{}], error) {
	return client.Do[struct{}](ctx, w.c, OpDeleteWidget, w.input(name, nil), opts, nil)
}

// DeleteWidgetWithResponseAsync is the asynchronous form of
// DeleteWidgetWithResponse.
func (w *Client) DeleteWidgetWithResponseAsync(ctx context.Context, name string, opts *model.RequestOptions) *client.Future[client.Result[struct{}]] {
	return client.DoAsync[struct{}](ctx, w.c, OpDeleteWidget, w.input(name, nil), opts, nil)
}

// DeleteWidget deletes a widget.
func (w *Client) DeleteWidget(ctx context.Context, name string) error {
	_, err := client.Unwrap(w.DeleteWidgetWithResponse(ctx, name, nil))
	return err
}

// DeleteWidgetAsync is the asynchronous form of DeleteWidget.
func (w *Client) DeleteWidgetAsync(ctx context.Context, name string) *client.Future[struct{}] {
	return client.UnwrapAsync(w.DeleteWidgetWithResponseAsync(ctx, name, nil))
}

var colorDecoder = codec.DecoderFor(colorKind)

// GetColorWithResponse fetches a widget's color as a bare JSON string.
func (w *Client) GetColorWithResponse(ctx context.Context, name string, opts *model.RequestOptions) (client.Result[codec.Extensible[Color]], error) {
	return client.Do(ctx, w.c, OpGetColor, w.input(name, nil), opts, colorDecoder)
}

// GetColorWithResponseAsync is the asynchronous form of GetColorWithResponse.
func (w *Client) GetColorWithResponseAsync(ctx context.Context, name string, opts *model.RequestOptions) *client.Future[client.Result[codec.Extensible[Color]]] {
	return client.DoAsync(ctx, w.c, OpGetColor, w.input(name, nil), opts, colorDecoder)
}

// GetColor fetches a widget's color.
func (w *Client) GetColor(ctx context.Context, name string) (codec.Extensible[Color], error) {
	return client.Unwrap(w.GetColorWithResponse(ctx, name, nil))
}

// GetColorAsync is the asynchronous form of GetColor.
func (w *Client) GetColorAsync(ctx context.Context, name string) *client.Future[codec.Extensible[Color]] {
	return client.UnwrapAsync(w.GetColorWithResponseAsync(ctx, name, nil))
}

func (w *Client) colorInput(name string, color codec.Extensible[Color]) (client.Input, error) {
	data, err := codec.Marshal(colorKind, color)
	if err != nil {
		return client.Input{}, err
	}
	return w.input(name, data), nil
}

// PutColorWithResponse replaces a widget's color. Unknown colors are sent
// as they are.
func (w *Client) PutColorWithResponse(ctx context.Context, name string, color codec.Extensible[Color], opts *model.RequestOptions) (client.Result[struct{}], error) {
	in, err := w.colorInput(name, color)
	if err != nil {
		return client.Result[struct{}]{}, err
	}
	return client.Do[struct{}](ctx, w.c, OpPutColor, in, opts, nil)
}

// PutColorWithResponseAsync is the asynchronous form of PutColorWithResponse.
func (w *Client) PutColorWithResponseAsync(ctx context.Context, name string, color codec.Extensible[Color], opts *model.RequestOptions) *client.Future[client.Result[struct{}]] {
	in, err := w.colorInput(name, color)
	if err != nil {
		return invoker.Completed(client.Result[struct{}]{}, err)
	}
	return client.DoAsync[struct{}](ctx, w.c, OpPutColor, in, opts, nil)
}

// PutColor replaces a widget's color.
func (w *Client) PutColor(ctx context.Context, name string, color codec.Extensible[Color]) error {
	_, err := client.Unwrap(w.PutColorWithResponse(ctx, name, color, nil))
	return err
}

// PutColorAsync is the asynchronous form of PutColor.
func (w *Client) PutColorAsync(ctx context.Context, name string, color codec.Extensible[Color]) *client.Future[struct{}] {
	return client.UnwrapAsync(w.PutColorWithResponseAsync(ctx, name, color, nil))
}

// GetEmbeddingWithResponse fetches a widget's feature vector.
func (w *Client) GetEmbeddingWithResponse(ctx context.Context, name string, opts *model.RequestOptions) (client.Result[Embedding], error) {
	return client.Do(ctx, w.c, OpGetEmbedding, w.input(name, nil), opts, EmbeddingRecord.Decoder())
}

// GetEmbeddingWithResponseAsync is the asynchronous form of
// GetEmbeddingWithResponse.
func (w *Client) GetEmbeddingWithResponseAsync(ctx context.Context, name string, opts *model.RequestOptions) *client.Future[client.Result[Embedding]] {
	return client.DoAsync(ctx, w.c, OpGetEmbedding, w.input(name, nil), opts, EmbeddingRecord.Decoder())
}

// GetEmbedding fetches a widget's feature vector.
func (w *Client) GetEmbedding(ctx context.Context, name string) (Embedding, error) {
	return client.Unwrap(w.GetEmbeddingWithResponse(ctx, name, nil))
}

// GetEmbeddingAsync is the asynchronous form of GetEmbedding.
func (w *Client) GetEmbeddingAsync(ctx context.Context, name string) *client.Future[Embedding] {
	return client.UnwrapAsync(w.GetEmbeddingWithResponseAsync(ctx, name, nil))
}

// GetWidgetLabelWithResponse fetches a widget's printable label. The body
// is returned undecoded.
func (w *Client) GetWidgetLabelWithResponse(ctx context.Context, name string, opts *model.RequestOptions) (client.Result[[]byte], error) {
	return client.Do[[]byte](ctx, w.c, OpGetWidgetLabel, w.input(name, nil), opts, nil)
}

// GetWidgetLabelWithResponseAsync is the asynchronous form of
// GetWidgetLabelWithResponse.
func (w *Client) GetWidgetLabelWithResponseAsync(ctx context.Context, name string, opts *model.RequestOptions) *client.Future[client.Result[[]byte]] {
	return client.DoAsync[[]byte](ctx, w.c, OpGetWidgetLabel, w.input(name, nil), opts, nil)
}

// GetWidgetLabel fetches a widget's printable label.
func (w *Client) GetWidgetLabel(ctx context.Context, name string) ([]byte, error) {
	return client.Unwrap(w.GetWidgetLabelWithResponse(ctx, name, nil))
}

// GetWidgetLabelAsync is the asynchronous form of GetWidgetLabel.
func (w *Client) GetWidgetLabelAsync(ctx context.Context, name string) *client.Future[[]byte] {
	return client.UnwrapAsync(w.GetWidgetLabelWithResponseAsync(ctx, name, nil))
}

// AnalyzeWidgetWithResponse analyzes a widget. Available from V2; at V1 it
// fails with a validation error wrapping model.ErrNoVersion.
func (w *Client) AnalyzeWidgetWithResponse(ctx context.Context, name string, opts *model.RequestOptions) (client.Result[AnalyzeResult], error) {
	return client.Do(ctx, w.c, OpAnalyzeWidget, w.input(name, nil), opts, AnalyzeResultRecord.Decoder())
}

// AnalyzeWidgetWithResponseAsync is the asynchronous form of
// AnalyzeWidgetWithResponse.
func (w *Client) AnalyzeWidgetWithResponseAsync(ctx context.Context, name string, opts *model.RequestOptions) *client.Future[client.Result[AnalyzeResult]] {
	return client.DoAsync(ctx, w.c, OpAnalyzeWidget, w.input(name, nil), opts, AnalyzeResultRecord.Decoder())
}

// AnalyzeWidget analyzes a widget.
func (w *Client) AnalyzeWidget(ctx context.Context, name string) (AnalyzeResult, error) {
	return client.Unwrap(w.AnalyzeWidgetWithResponse(ctx, name, nil))
}

// AnalyzeWidgetAsync is the asynchronous form of AnalyzeWidget.
func (w *Client) AnalyzeWidgetAsync(ctx context.Context, name string) *client.Future[AnalyzeResult] {
	return client.UnwrapAsync(w.AnalyzeWidgetWithResponseAsync(ctx, name, nil))
}

package invoker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/stoewer/go-strcase"

	"github.com/pitabwire/restkit/codec"
	"github.com/pitabwire/restkit/internal/pipeline"
	"github.com/pitabwire/restkit/model"
)

// FetchPage fetches one page of a list operation. An empty continuation
// requests the first page with the bound parameters. Otherwise the
// continuation is either the next link returned by the previous page,
// absolute or relative to the endpoint, or a token re-sent in the paging
// token parameter.
func FetchPage[T any](ctx context.Context, inv *Invoker, op *model.OperationDescriptor, in Input, opts *model.RequestOptions, item codec.Kind[T], continuation string) (model.Page[T], error) {
	if op.Paging == nil {
		return model.Page[T]{}, model.NewValidationError(op.ID, []model.FieldError{{
			Field:   "operation",
			Code:    "NOT_PAGEABLE",
			Message: op.ID + " does not return pages",
		}})
	}

	var (
		resp *model.Response
		err  error
	)
	switch {
	case continuation == "":
		resp, err = inv.Invoke(ctx, op, in, opts)
	case op.Paging.UsesNextLink():
		resp, err = inv.followLink(ctx, op, in, opts, continuation)
	default:
		next := Input{Params: in.Params.Clone(), Body: in.Body}
		if next.Params == nil {
			next.Params = make(model.Params)
		}
		next.Params.Set(op.Paging.TokenParam, continuation)
		resp, err = inv.Invoke(ctx, op, next, opts)
	}
	if err != nil {
		return model.Page[T]{}, err
	}
	inv.metrics.RecordPage(strcase.SnakeCase(op.ID))

	page, err := codec.PageOf(item, op.Paging)(resp.Body)
	if err != nil {
		return model.Page[T]{}, model.NewDecodeError(op.ID, resp, err)
	}
	return page, nil
}

// followLink requests a next link with the headers the first page was sent
// with. Links are followed with GET.
func (inv *Invoker) followLink(ctx context.Context, op *model.OperationDescriptor, in Input, opts *model.RequestOptions, link string) (*model.Response, error) {
	first, err := inv.bind(op, in, opts)
	if err != nil {
		return nil, err
	}
	ref, err := url.Parse(link)
	if err != nil {
		return nil, model.NewDecodeError(op.ID, nil, fmt.Errorf("invalid next link %q: %w", link, err))
	}
	base, err := url.Parse(strings.TrimSuffix(inv.Endpoint(), "/") + "/")
	if err != nil {
		base = first.URL
	}

	req := &pipeline.Request{
		OperationID: op.ID,
		Method:      http.MethodGet,
		URL:         base.ResolveReference(ref),
		Header:      first.Header,
	}
	req.Header.Del("Content-Type")
	return inv.send(ctx, op, req, false)
}

package invoker

import (
	"context"

	"github.com/pitabwire/restkit/codec"
	"github.com/pitabwire/restkit/model"
)

// Result is a decoded response together with its raw envelope.
type Result[T any] struct {
	Value    T
	Response *model.Response
}

// Call invokes op and decodes a success body with dec. A nil dec, or a
// descriptor marked Raw, skips decoding; Raw results of type []byte carry
// the body as their value.
func Call[T any](ctx context.Context, inv *Invoker, op *model.OperationDescriptor, in Input, opts *model.RequestOptions, dec codec.Decoder[T]) (Result[T], error) {
	resp, err := inv.Invoke(ctx, op, in, opts)
	if err != nil {
		return Result[T]{}, err
	}
	return decode(op, resp, dec)
}

// CallAsync is the asynchronous form of Call.
func CallAsync[T any](ctx context.Context, inv *Invoker, op *model.OperationDescriptor, in Input, opts *model.RequestOptions, dec codec.Decoder[T]) *Future[Result[T]] {
	return Then(inv.InvokeAsync(ctx, op, in, opts), func(resp *model.Response) (Result[T], error) {
		return decode(op, resp, dec)
	})
}

func decode[T any](op *model.OperationDescriptor, resp *model.Response, dec codec.Decoder[T]) (Result[T], error) {
	res := Result[T]{Response: resp}
	if op.Raw {
		if p, ok := any(&res.Value).(*[]byte); ok {
			*p = resp.Body
		}
		return res, nil
	}
	if dec == nil {
		return res, nil
	}
	v, err := dec(resp.Body)
	if err != nil {
		return Result[T]{}, model.NewDecodeError(op.ID, resp, err)
	}
	res.Value = v
	return res, nil
}

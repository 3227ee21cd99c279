// Package pager iterates paginated list results lazily. A Pager is a
// restartable definition; each Cursor walks the pages once, fetching the
// next page only when the consumer advances past the buffered one.
package pager

import (
	"context"
	"iter"

	"github.com/pitabwire/restkit/internal/observability"
	"github.com/pitabwire/restkit/model"
)

// FetchFunc fetches the page identified by continuation. An empty
// continuation requests the first page.
type FetchFunc[T any] func(ctx context.Context, continuation string) (model.Page[T], error)

// batch is a fetched page whose items are produced on demand. Producing
// an item may fail when a projection rejects it.
type batch[T any] struct {
	n     int
	at    func(i int) (T, error)
	token string
}

// Pager produces cursors over a paginated sequence. It holds no iteration
// state and may be shared; cursors must not be.
type Pager[T any] struct {
	name  string
	fetch func(ctx context.Context, continuation string) (batch[T], error)
}

// New creates a pager over fetch. The name labels page fetch spans.
func New[T any](name string, fetch FetchFunc[T]) *Pager[T] {
	return &Pager[T]{
		name: name,
		fetch: func(ctx context.Context, continuation string) (batch[T], error) {
			page, err := fetch(ctx, continuation)
			if err != nil {
				return batch[T]{}, err
			}
			items := page.Items
			return batch[T]{
				n:     len(items),
				at:    func(i int) (T, error) { return items[i], nil },
				token: page.ContinuationToken,
			}, nil
		},
	}
}

// Map returns a pager yielding fn applied to each item of p. fn runs once
// per consumed item, when the item is consumed; an error from fn fails the
// cursor at that item.
func Map[T, U any](p *Pager[T], fn func(T) (U, error)) *Pager[U] {
	return &Pager[U]{
		name: p.name,
		fetch: func(ctx context.Context, continuation string) (batch[U], error) {
			b, err := p.fetch(ctx, continuation)
			if err != nil {
				return batch[U]{}, err
			}
			return batch[U]{
				n:     b.n,
				at: func(i int) (U, error) {
					v, err := b.at(i)
					if err != nil {
						var zero U
						return zero, err
					}
					return fn(v)
				},
				token: b.token,
			}, nil
		},
	}
}

// Cursor starts a fresh iteration.
func (p *Pager[T]) Cursor() *Cursor[T] {
	return &Cursor[T]{pager: p}
}

// All iterates items across pages. A fetch or projection failure is
// yielded once, with the zero item, and ends the iteration.
func (p *Pager[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		c := p.Cursor()
		for {
			v, ok := c.Next(ctx)
			if !ok {
				if err := c.Err(); err != nil {
					var zero T
					yield(zero, err)
				}
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

// ByPage iterates whole pages, including empty ones.
func (p *Pager[T]) ByPage(ctx context.Context) iter.Seq2[model.Page[T], error] {
	return func(yield func(model.Page[T], error) bool) {
		c := p.Cursor()
		for {
			b, ok := c.nextPage(ctx)
			if !ok {
				if err := c.Err(); err != nil {
					yield(model.Page[T]{}, err)
				}
				return
			}
			page := model.Page[T]{Items: make([]T, b.n), ContinuationToken: b.token}
			for i := range b.n {
				v, err := b.at(i)
				if err != nil {
					c.fail(err)
					yield(model.Page[T]{}, err)
					return
				}
				page.Items[i] = v
			}
			if !yield(page, nil) {
				return
			}
		}
	}
}

// Collect drains a fresh cursor into a slice. On failure the items gathered
// so far are returned with the error.
func (p *Pager[T]) Collect(ctx context.Context) ([]T, error) {
	var out []T
	for v, err := range p.All(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

// State is the position of a cursor in its iteration.
type State int

// Cursor states.
const (
	NotStarted State = iota
	FetchingPage
	HasBufferedItems
	Exhausted
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case FetchingPage:
		return "fetching-page"
	case HasBufferedItems:
		return "has-buffered-items"
	case Exhausted:
		return "exhausted"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Cursor is one pass over a pager's sequence. It is not safe for
// concurrent use.
type Cursor[T any] struct {
	pager *Pager[T]
	state State
	buf   batch[T]
	pos   int
	pages int
	err   error
}

// State returns the cursor's current state.
func (c *Cursor[T]) State() State {
	return c.state
}

// Err returns the error that moved the cursor to Failed.
func (c *Cursor[T]) Err() error {
	return c.err
}

// Pages returns the number of pages fetched so far.
func (c *Cursor[T]) Pages() int {
	return c.pages
}

// Next returns the next item, fetching pages as needed. It returns false
// once the sequence is exhausted or a fetch or projection has failed.
func (c *Cursor[T]) Next(ctx context.Context) (T, bool) {
	var zero T
	for {
		switch c.state {
		case NotStarted:
			c.load(ctx, "")
		case HasBufferedItems:
			if c.pos < c.buf.n {
				v, err := c.buf.at(c.pos)
				c.pos++
				if err != nil {
					c.fail(err)
					return zero, false
				}
				return v, true
			}
			if c.buf.token == "" {
				c.state = Exhausted
				return zero, false
			}
			c.load(ctx, c.buf.token)
		default:
			return zero, false
		}
	}
}

// nextPage fetches the following page without consuming items.
func (c *Cursor[T]) nextPage(ctx context.Context) (batch[T], bool) {
	switch c.state {
	case NotStarted:
		c.load(ctx, "")
	case HasBufferedItems:
		if c.buf.token == "" {
			c.state = Exhausted
			return batch[T]{}, false
		}
		c.load(ctx, c.buf.token)
	default:
		return batch[T]{}, false
	}
	if c.state != HasBufferedItems {
		return batch[T]{}, false
	}
	c.pos = c.buf.n
	return c.buf, true
}

func (c *Cursor[T]) load(ctx context.Context, continuation string) {
	c.state = FetchingPage
	ctx, span := observability.StartSpan(ctx, "page "+c.pager.name,
		observability.AttrPageIndex.Int(c.pages),
	)
	b, err := c.pager.fetch(ctx, continuation)
	observability.EndSpanWithError(span, err)
	if err != nil {
		c.fail(err)
		return
	}
	c.pages++
	c.buf = b
	c.pos = 0
	c.state = HasBufferedItems
}

func (c *Cursor[T]) fail(err error) {
	c.state = Failed
	c.err = err
	c.buf = batch[T]{}
}

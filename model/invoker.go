package model

import (
	"net/http"
	"net/url"
	"slices"
)

// Params holds bound parameter values by parameter name. Multiple values of
// a query parameter are sent as repeated keys; path and header values are
// joined with commas.
type Params map[string][]string

// Get returns the first value for name, or "".
func (p Params) Get(name string) string {
	if vs := p[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Set replaces the values for name.
func (p Params) Set(name, value string) {
	p[name] = []string{value}
}

// Add appends a value for name.
func (p Params) Add(name, value string) {
	p[name] = append(p[name], value)
}

// Has reports whether name has at least one value.
func (p Params) Has(name string) bool {
	return len(p[name]) > 0
}

// Clone returns a deep copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = slices.Clone(v)
	}
	return out
}

// RequestOptions are caller-supplied overrides for a single call. Query and
// header values replace operation-bound values of the same name, and a
// non-nil Body replaces the bound body.
type RequestOptions struct {
	Header http.Header
	Query  url.Values
	Body   []byte
}

// NewRequestOptions returns empty options.
func NewRequestOptions() *RequestOptions {
	return &RequestOptions{
		Header: make(http.Header),
		Query:  make(url.Values),
	}
}

// SetHeader sets a header override.
func (o *RequestOptions) SetHeader(name, value string) *RequestOptions {
	if o.Header == nil {
		o.Header = make(http.Header)
	}
	o.Header.Set(name, value)
	return o
}

// AddQueryParam adds a query parameter override.
func (o *RequestOptions) AddQueryParam(name, value string) *RequestOptions {
	if o.Query == nil {
		o.Query = make(url.Values)
	}
	o.Query.Add(name, value)
	return o
}

// SetBody replaces the request body.
func (o *RequestOptions) SetBody(body []byte) *RequestOptions {
	o.Body = body
	return o
}

// Clone returns a deep copy; a nil receiver yields nil.
func (o *RequestOptions) Clone() *RequestOptions {
	if o == nil {
		return nil
	}
	c := &RequestOptions{
		Header: o.Header.Clone(),
		Body:   slices.Clone(o.Body),
	}
	if o.Query != nil {
		c.Query = make(url.Values, len(o.Query))
		for k, v := range o.Query {
			c.Query[k] = slices.Clone(v)
		}
	}
	return c
}

// Response is a raw response envelope.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Page is one batch of list results. An empty ContinuationToken marks the
// last page.
type Page[T any] struct {
	Items             []T
	ContinuationToken string
}

// HasMore reports whether another page follows.
func (p Page[T]) HasMore() bool {
	return p.ContinuationToken != ""
}

package invoker

import (
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/pitabwire/restkit/internal/pipeline"
	"github.com/pitabwire/restkit/model"
)

// bind turns a call into a fully built request. Required parameters are
// checked first and every missing one is reported; parameters the
// descriptor does not declare are rejected.
func (inv *Invoker) bind(op *model.OperationDescriptor, in Input, opts *model.RequestOptions) (*pipeline.Request, error) {
	params := inv.host.Clone()
	for name, vs := range in.Params {
		params[name] = slices.Clone(vs)
	}
	body := in.Body
	if opts != nil && opts.Body != nil {
		body = opts.Body
	}

	if details := checkParams(op, params, in.Params, body); len(details) > 0 {
		return nil, model.NewValidationError(op.ID, details)
	}

	host := substitute(op.HostTemplate(), params, func(b model.ParamBinding, v string) string { return v }, op)
	path := substitute(op.PathTemplate, params, escapePath, op)

	u, err := url.Parse(host + path)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, model.NewValidationError(op.ID, []model.FieldError{{
			Field:   model.EndpointParam,
			Code:    "INVALID",
			Message: fmt.Sprintf("%q does not resolve to an absolute URL", host),
		}})
	}

	query := u.Query()
	header := make(http.Header)
	if op.Accept != "" {
		header.Set("Accept", op.Accept)
	}
	if body != nil && op.ContentType != "" {
		header.Set("Content-Type", op.ContentType)
	}
	for _, b := range op.Params {
		vs := params[b.Name]
		if len(vs) == 0 {
			continue
		}
		switch b.In {
		case model.InQuery:
			query[b.Name] = slices.Clone(vs)
		case model.InHeader:
			header.Set(b.Name, sanitizeHeader(strings.Join(vs, ",")))
		}
	}

	if opts != nil {
		for name, vs := range opts.Query {
			query[name] = slices.Clone(vs)
		}
		for name, vs := range opts.Header {
			header.Del(name)
			for _, v := range vs {
				header.Add(name, sanitizeHeader(v))
			}
		}
	}
	u.RawQuery = query.Encode()

	return &pipeline.Request{
		OperationID: op.ID,
		Method:      op.Method,
		URL:         u,
		Header:      header,
		Body:        body,
	}, nil
}

func checkParams(op *model.OperationDescriptor, params, supplied model.Params, body []byte) []model.FieldError {
	var details []model.FieldError
	for _, b := range op.Params {
		missing := !params.Has(b.Name)
		if b.In == model.InBody {
			missing = body == nil
		}
		if b.Required && missing {
			details = append(details, model.FieldError{
				Field:   b.Name,
				Code:    "REQUIRED",
				Message: "is required",
			})
		}
	}

	undeclared := lo.Filter(lo.Keys(supplied), func(name string, _ int) bool {
		_, ok := op.Binding(name)
		return !ok
	})
	slices.Sort(undeclared)
	for _, name := range undeclared {
		details = append(details, model.FieldError{
			Field:   name,
			Code:    "UNKNOWN",
			Message: "is not a parameter of " + op.ID,
		})
	}
	return details
}

// substitute replaces each {name} placeholder literally, in one pass, so a
// value containing braces is inserted as is. Values of multi-valued
// parameters are joined with commas.
func substitute(template string, params model.Params, enc func(model.ParamBinding, string) string, op *model.OperationDescriptor) string {
	return model.ExpandPlaceholders(template, func(name string) string {
		b, _ := op.Binding(name)
		return enc(b, strings.Join(params[name], ","))
	})
}

func escapePath(b model.ParamBinding, v string) string {
	if b.Encoded {
		return v
	}
	return url.PathEscape(v)
}

// sanitizeHeader strips newlines and carriage returns to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}

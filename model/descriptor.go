package model

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// Location says where a bound parameter is placed on the request.
type Location string

// Parameter locations.
const (
	InHost   Location = "host"
	InPath   Location = "path"
	InQuery  Location = "query"
	InHeader Location = "header"
	InBody   Location = "body"
)

// EndpointParam is the conventional host placeholder name.
const EndpointParam = "endpoint"

// ParamBinding declares one operation parameter.
type ParamBinding struct {
	Name     string
	In       Location
	Required bool
	// Encoded marks path values that are already escaped and are inserted
	// verbatim.
	Encoded bool
}

// StatusRange is an inclusive range of HTTP status codes.
type StatusRange struct {
	From int
	To   int
}

// Status returns a range covering a single code.
func Status(code int) StatusRange {
	return StatusRange{From: code, To: code}
}

// Contains reports whether code falls inside the range.
func (r StatusRange) Contains(code int) bool {
	return code >= r.From && code <= r.To
}

// ErrorMapping maps non-success status codes to an error kind.
type ErrorMapping struct {
	Status StatusRange
	Kind   ErrorKind
}

// DefaultErrorMap is the status mapping shared by generated operations.
var DefaultErrorMap = []ErrorMapping{
	{Status: Status(http.StatusUnauthorized), Kind: KindAuthentication},
	{Status: Status(http.StatusNotFound), Kind: KindNotFound},
	{Status: Status(http.StatusConflict), Kind: KindConflict},
}

// Paging describes how a list operation's pages are shaped and chained.
// Exactly one of NextLinkField and TokenField is set.
type Paging struct {
	ItemsField    string
	NextLinkField string
	TokenField    string
	// TokenParam is the bound parameter that carries the continuation
	// token on follow-up requests.
	TokenParam string
}

// Items returns the items field name, defaulting to "value".
func (p *Paging) Items() string {
	if p.ItemsField == "" {
		return "value"
	}
	return p.ItemsField
}

// UsesNextLink reports whether pages are chained by an embedded link.
func (p *Paging) UsesNextLink() bool {
	return p.NextLinkField != ""
}

// ContinuationField returns the body field holding the continuation state.
func (p *Paging) ContinuationField() string {
	if p.UsesNextLink() {
		return p.NextLinkField
	}
	return p.TokenField
}

// OperationDescriptor is the static metadata of one logical operation.
type OperationDescriptor struct {
	ID           string
	Method       string
	Host         string
	PathTemplate string
	SuccessCodes []int
	Errors       []ErrorMapping
	Params       []ParamBinding
	Accept       string
	ContentType  string
	// Raw operations return the body undecoded.
	Raw    bool
	Paging *Paging
}

// HostTemplate returns the host template, defaulting to "{endpoint}".
func (d *OperationDescriptor) HostTemplate() string {
	if d.Host == "" {
		return "{" + EndpointParam + "}"
	}
	return d.Host
}

// IsSuccess reports whether code is one of the declared success codes.
func (d *OperationDescriptor) IsSuccess(code int) bool {
	for _, c := range d.SuccessCodes {
		if c == code {
			return true
		}
	}
	return false
}

// ErrorKindFor looks code up in the error map. The first matching entry wins.
func (d *OperationDescriptor) ErrorKindFor(code int) (ErrorKind, bool) {
	for _, m := range d.Errors {
		if m.Status.Contains(code) {
			return m.Kind, true
		}
	}
	return "", false
}

// Binding returns the parameter binding with the given name.
func (d *OperationDescriptor) Binding(name string) (ParamBinding, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamBinding{}, false
}

// BodyBinding returns the body parameter, if the operation declares one.
func (d *OperationDescriptor) BodyBinding() (ParamBinding, bool) {
	for _, p := range d.Params {
		if p.In == InBody {
			return p, true
		}
	}
	return ParamBinding{}, false
}

var placeholderRe = regexp.MustCompile(`\{([^{}]+)\}`)

// Placeholders returns the placeholder names in template, in order.
func Placeholders(template string) []string {
	matches := placeholderRe.FindAllStringSubmatch(template, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}

// ExpandPlaceholders replaces every placeholder in template with
// value(name) in a single pass. Inserted values are never rescanned.
func ExpandPlaceholders(template string, value func(name string) string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		return value(m[1 : len(m)-1])
	})
}

// Validate checks the descriptor for wiring mistakes.
func (d *OperationDescriptor) Validate() error {
	var errs []error
	if d.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	switch d.Method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
	default:
		errs = append(errs, fmt.Errorf("unsupported method %q", d.Method))
	}
	if !strings.HasPrefix(d.PathTemplate, "/") {
		errs = append(errs, fmt.Errorf("path template %q must start with /", d.PathTemplate))
	}
	if len(d.SuccessCodes) == 0 {
		errs = append(errs, errors.New("at least one success code is required"))
	}

	seen := make(map[string]bool, len(d.Params))
	bodies := 0
	for _, p := range d.Params {
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("parameter %q declared twice", p.Name))
		}
		seen[p.Name] = true
		if p.In == InBody {
			bodies++
		}
	}
	if bodies > 1 {
		errs = append(errs, errors.New("at most one body parameter is allowed"))
	}

	check := func(template string, loc Location) {
		for _, name := range Placeholders(template) {
			b, ok := d.Binding(name)
			if !ok || b.In != loc {
				errs = append(errs, fmt.Errorf("placeholder {%s} has no %s binding", name, loc))
			}
		}
	}
	check(d.HostTemplate(), InHost)
	check(d.PathTemplate, InPath)

	if d.Paging != nil {
		if (d.Paging.NextLinkField == "") == (d.Paging.TokenField == "") {
			errs = append(errs, errors.New("paging needs exactly one of next link field or token field"))
		}
		if d.Paging.TokenField != "" {
			if _, ok := d.Binding(d.Paging.TokenParam); !ok {
				errs = append(errs, fmt.Errorf("paging token parameter %q is not bound", d.Paging.TokenParam))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("operation %q: %w", d.ID, errors.Join(errs...))
	}
	return nil
}

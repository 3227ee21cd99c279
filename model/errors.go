package model

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind discriminates operation failures.
type ErrorKind string

// Standard error kinds.
const (
	KindValidation     ErrorKind = "VALIDATION_ERROR"
	KindDecode         ErrorKind = "DECODE_ERROR"
	KindAuthentication ErrorKind = "AUTHENTICATION_ERROR"
	KindNotFound       ErrorKind = "NOT_FOUND"
	KindConflict       ErrorKind = "CONFLICT"
	KindHTTP           ErrorKind = "HTTP_ERROR"
	KindTransport      ErrorKind = "TRANSPORT_ERROR"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrValidation     = &OperationError{Kind: KindValidation}
	ErrDecode         = &OperationError{Kind: KindDecode}
	ErrAuthentication = &OperationError{Kind: KindAuthentication}
	ErrNotFound       = &OperationError{Kind: KindNotFound}
	ErrConflict       = &OperationError{Kind: KindConflict}
	ErrHTTP           = &OperationError{Kind: KindHTTP}
	ErrTransport      = &OperationError{Kind: KindTransport}
)

// OperationError is the typed failure of a single operation. Status-mapped
// kinds carry the response status, headers and raw body for diagnostics.
type OperationError struct {
	Kind       ErrorKind
	Operation  string
	StatusCode int
	Header     http.Header
	Body       []byte
	Message    string
	Details    []FieldError
	Err        error
}

// FieldError describes a field-level validation or decode problem.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Operation != "" {
		b.WriteString(" [")
		b.WriteString(e.Operation)
		b.WriteString("]")
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " status %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause, if any.
func (e *OperationError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a kind sentinel matching e.
func (e *OperationError) Is(target error) bool {
	t, ok := target.(*OperationError)
	if !ok {
		return false
	}
	if t == e {
		return true
	}
	return t.Operation == "" && t.StatusCode == 0 && t.Message == "" && t.Kind == e.Kind
}

// KindOf returns the kind of the first OperationError in err's chain, or ""
// when there is none.
func KindOf(err error) ErrorKind {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Kind
	}
	return ""
}

// NewValidationError returns a VALIDATION_ERROR raised before dispatch.
func NewValidationError(operation string, details []FieldError) *OperationError {
	msgs := make([]string, 0, len(details))
	for _, d := range details {
		msgs = append(msgs, d.Field+": "+d.Message)
	}
	return &OperationError{
		Kind:      KindValidation,
		Operation: operation,
		Message:   strings.Join(msgs, "; "),
		Details:   details,
	}
}

// NewDecodeError returns a DECODE_ERROR for a success response whose body
// could not be decoded.
func NewDecodeError(operation string, resp *Response, cause error) *OperationError {
	e := &OperationError{
		Kind:      KindDecode,
		Operation: operation,
		Message:   "response body could not be decoded",
		Err:       cause,
	}
	if resp != nil {
		e.StatusCode = resp.StatusCode
		e.Header = resp.Header
		e.Body = resp.Body
	}
	return e
}

// NewStatusError returns a status-mapped error of the given kind.
func NewStatusError(kind ErrorKind, operation string, resp *Response) *OperationError {
	e := &OperationError{
		Kind:      kind,
		Operation: operation,
	}
	if resp != nil {
		e.StatusCode = resp.StatusCode
		e.Header = resp.Header
		e.Body = resp.Body
		e.Message = http.StatusText(resp.StatusCode)
	}
	return e
}

// NewTransportError returns a TRANSPORT_ERROR for a failed exchange.
func NewTransportError(operation string, cause error) *OperationError {
	return &OperationError{
		Kind:      KindTransport,
		Operation: operation,
		Message:   "request could not be completed",
		Err:       cause,
	}
}

// RuntimeFailure is the single failure type returned by convenience methods.
// The typed operation error stays reachable through errors.As.
type RuntimeFailure struct {
	Operation string
	Err       error
}

// Error implements the error interface.
func (f *RuntimeFailure) Error() string {
	return fmt.Sprintf("%s failed: %v", f.Operation, f.Err)
}

// Unwrap returns the original typed error.
func (f *RuntimeFailure) Unwrap() error {
	return f.Err
}

// NewRuntimeFailure wraps err. A nil err yields nil, and an existing
// RuntimeFailure is not wrapped twice.
func NewRuntimeFailure(operation string, err error) error {
	if err == nil {
		return nil
	}
	var rf *RuntimeFailure
	if errors.As(err, &rf) {
		return err
	}
	return &RuntimeFailure{Operation: operation, Err: err}
}

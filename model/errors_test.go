package model

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestOperationError_Error(t *testing.T) {
	e := &OperationError{Kind: KindNotFound, Operation: "getWidget", StatusCode: 404, Message: "Not Found"}
	want := "NOT_FOUND [getWidget] status 404: Not Found"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	e = NewTransportError("listWidgets", errors.New("connection reset"))
	want = "TRANSPORT_ERROR [listWidgets]: request could not be completed: connection reset"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestOperationError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("call: %w", NewStatusError(KindConflict, "createWidget", &Response{StatusCode: http.StatusConflict}))

	if !errors.Is(err, ErrConflict) {
		t.Error("errors.Is(err, ErrConflict) = false, want true")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("errors.Is(err, ErrNotFound) = true, want false")
	}
	if got := KindOf(err); got != KindConflict {
		t.Errorf("KindOf() = %q, want %q", got, KindConflict)
	}
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("KindOf(plain) = %q, want empty", got)
	}

	// A populated error is not a sentinel for another populated error.
	other := &OperationError{Kind: KindConflict, Operation: "other"}
	if errors.Is(err, other) {
		t.Error("errors.Is(err, other) = true, want false")
	}
}

func TestNewStatusError_KeepsResponse(t *testing.T) {
	resp := &Response{
		StatusCode: http.StatusTeapot,
		Header:     http.Header{"X-Request-Id": {"abc"}},
		Body:       []byte(`{"code":"TEAPOT"}`),
	}
	e := NewStatusError(KindHTTP, "brew", resp)
	if e.StatusCode != http.StatusTeapot {
		t.Errorf("StatusCode = %d, want %d", e.StatusCode, http.StatusTeapot)
	}
	if e.Header.Get("X-Request-Id") != "abc" {
		t.Errorf("Header = %v, want X-Request-Id", e.Header)
	}
	if string(e.Body) != `{"code":"TEAPOT"}` {
		t.Errorf("Body = %q", e.Body)
	}
	if e.Message != "I'm a teapot" {
		t.Errorf("Message = %q", e.Message)
	}
}

func TestNewValidationError(t *testing.T) {
	details := []FieldError{
		{Field: "widgetName", Code: "REQUIRED", Message: "is required"},
		{Field: "maxpagesize", Code: "MAX", Message: "must be at most 100"},
	}
	e := NewValidationError("listWidgets", details)
	if e.Kind != KindValidation {
		t.Errorf("Kind = %q, want %q", e.Kind, KindValidation)
	}
	if len(e.Details) != 2 {
		t.Fatalf("Details length = %d, want 2", len(e.Details))
	}
	want := "widgetName: is required; maxpagesize: must be at most 100"
	if e.Message != want {
		t.Errorf("Message = %q, want %q", e.Message, want)
	}
}

func TestNewDecodeError(t *testing.T) {
	cause := errors.New("unexpected token")
	e := NewDecodeError("getWidget", &Response{StatusCode: 200, Body: []byte("{")}, cause)
	if !errors.Is(e, ErrDecode) {
		t.Error("errors.Is(e, ErrDecode) = false, want true")
	}
	if !errors.Is(e, cause) {
		t.Error("cause is not reachable")
	}
	if string(e.Body) != "{" {
		t.Errorf("Body = %q, want %q", e.Body, "{")
	}
	if e := NewDecodeError("getWidget", nil, cause); e.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0", e.StatusCode)
	}
}

func TestNewRuntimeFailure(t *testing.T) {
	if NewRuntimeFailure("op", nil) != nil {
		t.Fatal("NewRuntimeFailure(nil) != nil")
	}

	cause := NewStatusError(KindNotFound, "getWidget", &Response{StatusCode: 404})
	err := NewRuntimeFailure("getWidget", cause)

	var rf *RuntimeFailure
	if !errors.As(err, &rf) {
		t.Fatalf("err = %T, want *RuntimeFailure", err)
	}
	if rf.Operation != "getWidget" {
		t.Errorf("Operation = %q", rf.Operation)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("typed error is not reachable")
	}
	if again := NewRuntimeFailure("getWidget", err); again != err {
		t.Error("RuntimeFailure was wrapped twice")
	}
	if got, want := err.Error(), "getWidget failed: NOT_FOUND [getWidget] status 404: Not Found"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

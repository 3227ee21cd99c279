// Package mockapi is an in-process widgets service used by tests and by the
// restctl mock-server command. It serves the v1 and v2 widgets API described
// by the embedded OpenAPI documents.
package mockapi

import (
	"encoding/json"
	"net/http"
)

// Error codes carried in error envelopes.
const (
	CodeBadRequest         = "BadRequest"
	CodeUnauthorized       = "Unauthorized"
	CodeNotFound           = "WidgetNotFound"
	CodeConflict           = "WidgetExists"
	CodeUnsupportedVersion = "UnsupportedApiVersion"
	CodeInternal           = "InternalError"
)

// ErrorBody is the inner object of an error envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes an error envelope.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	type envelope struct {
		Error ErrorBody `json:"error"`
	}
	WriteJSON(w, status, envelope{Error: ErrorBody{Code: code, Message: message}})
}

// WriteNotFound writes a 404 for a missing widget.
func WriteNotFound(w http.ResponseWriter, name string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, "widget "+name+" does not exist")
}

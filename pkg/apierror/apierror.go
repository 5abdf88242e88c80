// Package apierror defines the error taxonomy shared by routing, the
// pipeline, and the HTTP transport. Every error that can reach a caller is
// expressed as an *Error carrying a stable code; the transport maps codes to
// HTTP statuses.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error class. Codes are part of the wire contract and
// must not change.
type Code string

const (
	CodeValidation          Code = "validation-error"
	CodeNoProviderAvailable Code = "no-provider-available"
	CodeUnknownCategory     Code = "unknown-category"
	CodeNoRoutingConfig     Code = "no-routing-config"
	CodeAuth                Code = "auth-error"
	CodeUpstream            Code = "upstream-error"
	CodeAbnormalResponse    Code = "abnormal-response"
	CodePipelineStage       Code = "pipeline-stage-error"
)

// Error is the structured error surfaced to callers and logs. Details must
// never contain secrets: api keys, refresh tokens, and bearer headers stay
// out of Details by construction at every call site.
type Error struct {
	Code      Code
	Message   string
	Provider  string
	Model     string
	RequestID string
	Stage     string
	Details   map[string]any

	// Status overrides the default HTTP mapping when set (terminal
	// upstream errors mirror the upstream status).
	Status int

	Err error
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s (provider=%s)", e.Code, e.Message, e.Provider)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(code Code, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// WithProvider records the provider id the error originated from.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// WithModel records the upstream model name.
func (e *Error) WithModel(model string) *Error {
	e.Model = model
	return e
}

// WithRequestID records the request id.
func (e *Error) WithRequestID(id string) *Error {
	e.RequestID = id
	return e
}

// WithStage records the pipeline stage tag.
func (e *Error) WithStage(stage string) *Error {
	e.Stage = stage
	return e
}

// WithDetail adds one detail entry. Callers must not pass secrets.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithStatus pins the HTTP status used by the transport.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// HTTPStatus returns the status the transport should answer with.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeAuth:
		return http.StatusUnauthorized
	case CodeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AsError extracts an *Error from err's chain. A nil-safe convenience for
// the transport layer.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// CodeOf returns the code of err, or empty when err is not an *Error.
func CodeOf(err error) Code {
	if apiErr, ok := AsError(err); ok {
		return apiErr.Code
	}
	return ""
}

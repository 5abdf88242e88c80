package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestError_HTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want int
	}{
		{
			name: "validation maps to 400",
			err:  New(CodeValidation, "messages required"),
			want: http.StatusBadRequest,
		},
		{
			name: "auth maps to 401",
			err:  New(CodeAuth, "auth file missing"),
			want: http.StatusUnauthorized,
		},
		{
			name: "upstream maps to 502",
			err:  New(CodeUpstream, "connection reset"),
			want: http.StatusBadGateway,
		},
		{
			name: "routing failure maps to 500",
			err:  New(CodeNoProviderAvailable, "provider disabled"),
			want: http.StatusInternalServerError,
		},
		{
			name: "unknown category maps to 500",
			err:  New(CodeUnknownCategory, "category oddball"),
			want: http.StatusInternalServerError,
		},
		{
			name: "abnormal response maps to 500",
			err:  New(CodeAbnormalResponse, "missing finish reason"),
			want: http.StatusInternalServerError,
		},
		{
			name: "explicit status wins",
			err:  New(CodeUpstream, "not found").WithStatus(http.StatusNotFound),
			want: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	inner := errors.New("dial tcp: connection refused")
	err := Wrap(CodeUpstream, inner, "upstream call failed")

	if !errors.Is(err, inner) {
		t.Error("expected errors.Is to find the wrapped error")
	}

	wrapped := fmt.Errorf("handling request: %w", err)
	got, ok := AsError(wrapped)
	if !ok {
		t.Fatal("expected AsError to find *Error in chain")
	}
	if got.Code != CodeUpstream {
		t.Errorf("Code = %s, want %s", got.Code, CodeUpstream)
	}
}

func TestError_Builders(t *testing.T) {
	err := New(CodeUpstream, "HTTP 503").
		WithProvider("qwen-portal").
		WithModel("qwen3-coder-plus").
		WithRequestID("req-1").
		WithStage("upstream").
		WithDetail("attempts", 3)

	if err.Provider != "qwen-portal" || err.Model != "qwen3-coder-plus" {
		t.Errorf("provider/model not recorded: %+v", err)
	}
	if err.Details["attempts"] != 3 {
		t.Errorf("detail not recorded: %+v", err.Details)
	}
	if CodeOf(err) != CodeUpstream {
		t.Errorf("CodeOf = %s, want %s", CodeOf(err), CodeUpstream)
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Error("CodeOf on plain error should be empty")
	}
}

package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestClassifyError_Nil(t *testing.T) {
	if result := ClassifyError(nil, "draft"); result != nil {
		t.Errorf("Expected nil for nil error, got %v", result)
	}
}

func TestClassifyError_DeadlineExceeded(t *testing.T) {
	err := context.DeadlineExceeded
	result := ClassifyError(err, "draft")

	if result.Code != CodeTimeout {
		t.Errorf("Expected CodeTimeout, got %s", result.Code)
	}
	if result.Stage != "draft" {
		t.Errorf("Expected stage 'draft', got %s", result.Stage)
	}
	if result.Cause != err {
		t.Errorf("Expected cause to be original error")
	}
	if !errors.Is(result, ErrTransientProvider) {
		t.Errorf("Expected timeout to match ErrTransientProvider")
	}
}

func TestClassifyError_Canceled(t *testing.T) {
	result := ClassifyError(context.Canceled, "refinement")
	if result.Code != CodeContextCancelled {
		t.Errorf("Expected CodeContextCancelled, got %s", result.Code)
	}
	if !errors.Is(result, context.Canceled) {
		t.Errorf("Expected errors.Is(context.Canceled)")
	}
}

func TestClassifyError_Messages(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorCode
	}{
		{"rate limit exceeded", CodeRateLimit},
		{"HTTP 429 error", CodeRateLimit},
		{"RESOURCE_EXHAUSTED: quota", CodeRateLimit},
		{"request timed out", CodeTimeout},
		{"dial tcp: connection refused", CodeProviderUnavailable},
		{"service unavailable", CodeProviderUnavailable},
		{"401 Unauthorized", CodeProviderAuth},
		{"invalid api key supplied", CodeProviderAuth},
		{"bad request: missing model", CodeProviderBadRequest},
		{"invalid character 'x' looking for beginning of value", CodeParseError},
		{"something odd", CodeProcessingError},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			got := ClassifyError(errors.New(tt.msg), "stage")
			if got.Code != tt.want {
				t.Errorf("ClassifyError(%q) = %s, want %s", tt.msg, got.Code, tt.want)
			}
			if got.Message != tt.msg {
				t.Errorf("Expected message to be preserved verbatim, got %q", got.Message)
			}
		})
	}
}

func TestClassifyError_Sentinels(t *testing.T) {
	wrapped := fmt.Errorf("draft: %w", ErrNoTranscribableContent)
	if got := ClassifyError(wrapped, "draft"); got.Code != CodeNoTranscribableContent {
		t.Errorf("Expected CodeNoTranscribableContent, got %s", got.Code)
	}
	if got := ClassifyError(fmt.Errorf("x: %w", ErrRefinement), ""); got.Code != CodeRefinement {
		t.Errorf("Expected CodeRefinement, got %s", got.Code)
	}
}

func TestClassifyError_KeepsExisting(t *testing.T) {
	orig := FromStatus("openai", http.StatusUnauthorized, errors.New("bad key"))
	got := ClassifyError(fmt.Errorf("wrap: %w", orig), "draft")
	if got != orig {
		t.Fatalf("Expected the existing PipelineError to be returned")
	}
	if got.Stage != "draft" {
		t.Errorf("Expected stage to be filled in, got %q", got.Stage)
	}
}

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status    int
		want      ErrorCode
		transient bool
	}{
		{http.StatusTooManyRequests, CodeRateLimit, true},
		{http.StatusGatewayTimeout, CodeTimeout, true},
		{http.StatusInternalServerError, CodeProviderUnavailable, true},
		{http.StatusUnauthorized, CodeProviderAuth, false},
		{http.StatusForbidden, CodeProviderAuth, false},
		{http.StatusBadRequest, CodeProviderBadRequest, false},
		{http.StatusUnprocessableEntity, CodeProviderBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			pe := FromStatus("openai", tt.status, errors.New("boom"))
			if pe.Code != tt.want {
				t.Errorf("FromStatus(%d) = %s, want %s", tt.status, pe.Code, tt.want)
			}
			if IsTransient(pe) != tt.transient {
				t.Errorf("IsTransient = %v, want %v", IsTransient(pe), tt.transient)
			}
			if IsPermanent(pe) == tt.transient {
				t.Errorf("IsPermanent should be the opposite of IsTransient")
			}
		})
	}
}

func TestFromStatus_ZeroFallsBackToMessage(t *testing.T) {
	pe := FromStatus("gemini", 0, errors.New("connection reset by peer"))
	if pe.Code != CodeProviderUnavailable {
		t.Errorf("Expected CodeProviderUnavailable, got %s", pe.Code)
	}
	if pe.Provider != "gemini" {
		t.Errorf("Expected provider to be kept, got %q", pe.Provider)
	}
}

func TestPipelineError_Error(t *testing.T) {
	pe := &PipelineError{Code: CodeRateLimit, Stage: "draft", Provider: "openai", Message: "slow down"}
	if got, want := pe.Error(), "rate_limit: draft: openai: slow down"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	timed := &PipelineError{Code: CodeTimeout, Stage: "narration", Duration: 31 * time.Second, Timeout: 30 * time.Second}
	if got, want := timed.Error(), "timeout: narration timed out after 31s (limit: 30s)"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestIsErrorRetryable(t *testing.T) {
	if !IsErrorRetryable(errors.New("429 too many requests")) {
		t.Error("Expected rate limit to be retryable")
	}
	if IsErrorRetryable(errors.New("401 unauthorized")) {
		t.Error("Expected auth failure to be permanent")
	}
	if IsErrorRetryable(nil) {
		t.Error("Expected nil to be non-retryable")
	}
}

func TestIsInvalidState(t *testing.T) {
	if !IsInvalidState(fmt.Errorf("x: %w", ErrInvalidTransition)) {
		t.Error("Expected ErrInvalidTransition to count as invalid state")
	}
}

package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrorCode represents a classified pipeline error.
type ErrorCode string

const (
	CodeValidation             ErrorCode = "validation_error"
	CodeUnsupportedFormat      ErrorCode = "unsupported_format"
	CodeExtraction             ErrorCode = "extraction_failed"
	CodeNoTranscribableContent ErrorCode = "no_transcribable_content"
	CodeTimeout                ErrorCode = "timeout"
	CodeRateLimit              ErrorCode = "rate_limit"
	CodeProviderUnavailable    ErrorCode = "provider_unavailable"
	CodeProviderAuth           ErrorCode = "provider_auth"
	CodeProviderBadRequest     ErrorCode = "provider_bad_request"
	CodeParseError             ErrorCode = "parse_error"
	CodePartialEnhancement     ErrorCode = "partial_enhancement"
	CodeRefinement             ErrorCode = "refinement_failed"
	CodeContextCancelled       ErrorCode = "context_cancelled"
	CodeProcessingError        ErrorCode = "processing_error"
)

// PipelineError is a structured error for stage and provider failures.
type PipelineError struct {
	Code       ErrorCode
	Stage      string
	Provider   string
	StatusCode int
	Message    string
	Duration   time.Duration
	Timeout    time.Duration
	Cause      error
}

// New builds a PipelineError.
func New(code ErrorCode, stage, message string, cause error) *PipelineError {
	return &PipelineError{Code: code, Stage: stage, Message: message, Cause: cause}
}

func (e *PipelineError) Error() string {
	if e.Timeout > 0 && e.Duration > 0 {
		return fmt.Sprintf("%s: %s timed out after %s (limit: %s)", e.Code, e.Stage, e.Duration.Truncate(time.Second), e.Timeout.Truncate(time.Second))
	}
	msg := e.Message
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Stage, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel of the error's category.
func (e *PipelineError) Is(target error) bool {
	return target == sentinelFor(e.Code)
}

func sentinelFor(code ErrorCode) error {
	switch code {
	case CodeValidation:
		return ErrValidation
	case CodeUnsupportedFormat:
		return ErrUnsupportedFormat
	case CodeExtraction:
		return ErrExtraction
	case CodeNoTranscribableContent:
		return ErrNoTranscribableContent
	case CodeTimeout, CodeRateLimit, CodeProviderUnavailable:
		return ErrTransientProvider
	case CodeProviderAuth, CodeProviderBadRequest:
		return ErrPermanentProvider
	case CodePartialEnhancement:
		return ErrPartialEnhancement
	case CodeRefinement:
		return ErrRefinement
	case CodeContextCancelled:
		return context.Canceled
	default:
		return ErrPipeline
	}
}

// FromStatus classifies a provider failure by its HTTP status code. Codes it
// does not recognise fall through to ClassifyError.
func FromStatus(provider string, status int, err error) *PipelineError {
	pe := &PipelineError{Provider: provider, StatusCode: status, Cause: err}
	if err != nil {
		pe.Message = err.Error()
	}
	switch {
	case status == http.StatusTooManyRequests:
		pe.Code = CodeRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		pe.Code = CodeTimeout
	case status >= 500:
		pe.Code = CodeProviderUnavailable
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		pe.Code = CodeProviderAuth
	case status >= 400:
		pe.Code = CodeProviderBadRequest
	default:
		classified := ClassifyError(err, "")
		classified.Provider = provider
		classified.StatusCode = status
		return classified
	}
	return pe
}

// ClassifyError inspects an error and returns a *PipelineError with the appropriate code.
// An existing PipelineError is returned as is, with stage filled in when missing.
func ClassifyError(err error, stage string) *PipelineError {
	if err == nil {
		return nil
	}

	var existing *PipelineError
	if errors.As(err, &existing) {
		if existing.Stage == "" {
			existing.Stage = stage
		}
		return existing
	}

	pe := &PipelineError{
		Stage: stage,
		Cause: err,
	}

	if errors.Is(err, context.DeadlineExceeded) {
		pe.Code = CodeTimeout
		pe.Message = "operation timed out"
		return pe
	}
	if errors.Is(err, context.Canceled) {
		pe.Code = CodeContextCancelled
		pe.Message = "operation cancelled"
		return pe
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		pe.Code = CodeTimeout
		pe.Message = err.Error()
		return pe
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	pe.Message = msg

	switch {
	case errors.Is(err, ErrValidation):
		pe.Code = CodeValidation
	case errors.Is(err, ErrUnsupportedFormat):
		pe.Code = CodeUnsupportedFormat
	case errors.Is(err, ErrNoTranscribableContent):
		pe.Code = CodeNoTranscribableContent
	case errors.Is(err, ErrExtraction):
		pe.Code = CodeExtraction
	case errors.Is(err, ErrRefinement):
		pe.Code = CodeRefinement
	case containsAny(lower, "rate limit", "429", "too many requests", "quota exceeded", "resource_exhausted"):
		pe.Code = CodeRateLimit
	case containsAny(lower, "timed out", "timeout", "deadline exceeded"):
		pe.Code = CodeTimeout
	case containsAny(lower, "connection refused", "connection reset", "unavailable", "503", "502", "no such host", "eof"):
		pe.Code = CodeProviderUnavailable
	case containsAny(lower, "unauthorized", "401", "403", "invalid api key", "permission denied"):
		pe.Code = CodeProviderAuth
	case containsAny(lower, "invalid request", "bad request", "400"):
		pe.Code = CodeProviderBadRequest
	case containsAny(lower, "unmarshal", "invalid character", "unexpected end of json"):
		pe.Code = CodeParseError
	default:
		pe.Code = CodeProcessingError
	}
	return pe
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// IsTimeout returns true if the error is a timeout error.
func IsTimeout(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code == CodeTimeout
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsErrorRetryable reports whether err is likely transient and worth retrying.
// Errors that are not PipelineErrors are classified first.
func IsErrorRetryable(err error) bool {
	if err == nil {
		return false
	}
	return IsRetryable(ClassifyError(err, "").Code)
}

// CodeOf returns the classified code of err.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	return ClassifyError(err, "").Code
}

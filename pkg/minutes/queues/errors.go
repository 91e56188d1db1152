package queues

// ErrorCategory categorizes processing errors for retry decisions.
type ErrorCategory string

const (
	// ErrorCategoryTransient is a temporary failure; the message is retried.
	ErrorCategoryTransient ErrorCategory = "transient"
	// ErrorCategoryPermanent will not be fixed by a retry; the message is dead-lettered.
	ErrorCategoryPermanent ErrorCategory = "permanent"
	// ErrorCategoryDependency is a store or broker outage.
	ErrorCategoryDependency ErrorCategory = "dependency"
)

// ProcessingError wraps a handler error with its category.
type ProcessingError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Err      error
}

func (e *ProcessingError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error should trigger a retry.
func (e *ProcessingError) IsRetryable() bool {
	return e.Category == ErrorCategoryTransient || e.Category == ErrorCategoryDependency
}

// NewTransientError creates a transient error.
func NewTransientError(code, message string, err error) *ProcessingError {
	return &ProcessingError{Category: ErrorCategoryTransient, Code: code, Message: message, Err: err}
}

// NewPermanentError creates a permanent error.
func NewPermanentError(code, message string, err error) *ProcessingError {
	return &ProcessingError{Category: ErrorCategoryPermanent, Code: code, Message: message, Err: err}
}

// NewDependencyError creates a dependency error.
func NewDependencyError(code, message string, err error) *ProcessingError {
	return &ProcessingError{Category: ErrorCategoryDependency, Code: code, Message: message, Err: err}
}

// Error codes.
const (
	ErrorCodeInvalidMessage = "INVALID_MESSAGE"
	ErrorCodeJobNotFound    = "JOB_NOT_FOUND"
	ErrorCodeConflict       = "CONFLICT"
	ErrorCodeStoreError     = "STORE_ERROR"
)

// Package errors defines the error taxonomy of the minutes engine.
//
// Sentinel errors name the categories callers branch on; PipelineError carries
// the classified code, stage and provider details for a failure and matches
// the sentinel of its category with errors.Is.
//
// Usage:
//
//	import mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
//
//	if errors.Is(err, mnerrors.ErrTransientProvider) {
//	    // back off and retry
//	}
package errors

import "errors"

// Domain errors.
var (
	// ErrNotFound indicates the requested job or blob does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a write based on a stale job version.
	ErrConflict = errors.New("conflict")

	// ErrValidation indicates bad job input. No job is created.
	ErrValidation = errors.New("validation error")

	// ErrInvalidState indicates the operation is not valid for the job's status.
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidTransition indicates an event with no edge from the current status.
	ErrInvalidTransition = errors.New("invalid transition")
)

// Pipeline errors.
var (
	ErrUnsupportedFormat      = errors.New("unsupported format")
	ErrExtraction             = errors.New("extraction error")
	ErrNoTranscribableContent = errors.New("no transcribable content")
	ErrTransientProvider      = errors.New("transient provider error")
	ErrPermanentProvider      = errors.New("permanent provider error")
	ErrPartialEnhancement     = errors.New("partial enhancement failure")
	ErrRefinement             = errors.New("refinement error")
	ErrPipeline               = errors.New("pipeline error")
)

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether any error in err's chain is ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsValidation reports whether any error in err's chain is ErrValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsInvalidState reports whether err is ErrInvalidState or ErrInvalidTransition.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState) || errors.Is(err, ErrInvalidTransition)
}

// IsTransient reports whether err is a provider failure worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientProvider)
}

// IsPermanent reports whether err is a provider failure that must not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanentProvider)
}

// Package apperr defines the error taxonomy from spec §7 as sentinel errors
// that wrap through the stack with errors.Is/errors.As; the mapping to HTTP
// status codes lives in internal/httpapi/errors.go.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation covers malformed input and unknown ids.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidContext is returned when an answer write targets a
	// (control, submeasure) pair with no ControlSubmeasureMapping (§4.9).
	ErrInvalidContext = errors.New("no control/submeasure mapping for this context")
	// ErrInvalidTransition is returned by an assessment status change the
	// state machine in §4.11 does not allow, unless force is set.
	ErrInvalidTransition = errors.New("invalid assessment status transition")
	// ErrNotFound covers missing entities.
	ErrNotFound = errors.New("not found")
	// ErrConflict covers a write that collides with another in-flight change,
	// e.g. a questionnaire reimport racing a concurrent importer.
	ErrConflict = errors.New("conflict")
	// ErrCannotSubmit is the §4.11 submission-validation blocking error.
	ErrCannotSubmit = errors.New("assessment cannot be submitted")
	// ErrModelUnavailable covers embedding/generation backend failures.
	ErrModelUnavailable = errors.New("model backend unavailable")
	// ErrUnauthorized covers missing/invalid bearer tokens.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden covers a caller's role lacking a required permission.
	ErrForbidden = errors.New("forbidden")
	// ErrUnsupportedFormat covers a document mime type the extractor has no
	// dispatch for (§4.1).
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrCorruptDocument covers a document the extractor recognizes but
	// cannot parse (truncated zip, malformed XML part, ...).
	ErrCorruptDocument = errors.New("corrupt document")
	// ErrExtractionFailed covers extraction that ran but produced no usable
	// text (e.g. a scanned-image-only PDF with no embedded text layer).
	ErrExtractionFailed = errors.New("extraction failed")
)

// Wrap attaches context to a sentinel while keeping it errors.Is-matchable.
func Wrap(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}

// Is is a thin convenience wrapper kept for readability at call sites.
func Is(err, target error) bool { return errors.Is(err, target) }

package stage

import (
	"errors"
	"fmt"
)

// ErrorKind classifies stage failures for retry decisions and audit.
type ErrorKind string

const (
	KindInputInvalid    ErrorKind = "STAGE_INPUT_INVALID"
	KindProviderError   ErrorKind = "PROVIDER_ERROR"
	KindMalformedOutput ErrorKind = "MALFORMED_OUTPUT"
	KindPartialArtifact ErrorKind = "PARTIAL_ARTIFACT_SET"

	// KindDuplicatePublish classifies a publish call for an item that
	// already has a recipe. It is a short-circuit success, never an error;
	// it only appears in audit logs.
	KindDuplicatePublish ErrorKind = "DUPLICATE_PUBLISH"
)

// Error wraps a stage failure with its classification.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether re-running the stage can reasonably succeed
// without the input being corrected first.
func (e *Error) Retryable() bool {
	return e.Kind != KindInputInvalid
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Classify returns the error's kind, defaulting unclassified errors to
// PROVIDER_ERROR since external calls are the only unchecked failure source
// inside a stage.
func Classify(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindProviderError
}

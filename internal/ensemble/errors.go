package ensemble

import (
	"errors"
	"fmt"
)

// ErrIncompatibleInput is wrapped by extractors that cannot ever process the
// input they were given (wrong shape, wrong channel count).
var ErrIncompatibleInput = errors.New("incompatible extractor input")

// ErrResourceExhausted is wrapped by extractors that ran out of device
// memory or similar; the failure is expected to clear on its own.
var ErrResourceExhausted = errors.New("extractor resource exhausted")

// ExtractorFailure reports a failed extractor invocation that may succeed if
// attempted again.
type ExtractorFailure struct {
	Name  string
	Cause error
}

func (e *ExtractorFailure) Error() string {
	return fmt.Sprintf("extractor %s failed: %v", e.Name, e.Cause)
}

func (e *ExtractorFailure) Unwrap() error { return e.Cause }

// PermanentExtractorError reports a structural incompatibility between an
// extractor and its input or output contract.
type PermanentExtractorError struct {
	Name   string
	Reason string
	Cause  error
}

func (e *PermanentExtractorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("extractor %s incompatible: %s: %v", e.Name, e.Reason, e.Cause)
	}
	return fmt.Sprintf("extractor %s incompatible: %s", e.Name, e.Reason)
}

func (e *PermanentExtractorError) Unwrap() error { return e.Cause }

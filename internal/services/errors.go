package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation         = errors.New("validation error")
	ErrTransient          = errors.New("transient failure")
	ErrPermanentExtractor = errors.New("permanent extractor error")
	ErrTimeout            = errors.New("timeout")
	ErrResourceLimit      = errors.New("resource limit exceeded")
	ErrNotFound           = errors.New("not found")
	ErrConfiguration      = errors.New("configuration error")
)

// Kind names an error taxonomy class. The string form is persisted in logs
// and surfaced through the API.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindTransient          Kind = "transient"
	KindPermanentExtractor Kind = "permanent_extractor"
	KindTimeout            Kind = "timeout"
	KindResourceLimit      Kind = "resource_limit"
	KindNotFound           Kind = "not_found"
	KindConfiguration      Kind = "configuration"
	KindUnknown            Kind = "unknown"
)

var markerKinds = []struct {
	marker error
	kind   Kind
}{
	{ErrValidation, KindValidation},
	{ErrPermanentExtractor, KindPermanentExtractor},
	{ErrTimeout, KindTimeout},
	{ErrResourceLimit, KindResourceLimit},
	{ErrNotFound, KindNotFound},
	{ErrConfiguration, KindConfiguration},
	{ErrTransient, KindTransient},
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify reports the taxonomy class of an error tagged through Wrap.
// An untagged deadline expiry reports KindTimeout; other untagged errors
// report KindUnknown.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, mk := range markerKinds {
		if errors.Is(err, mk.marker) {
			return mk.kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// Retryable reports whether a job failing with this kind may be retried.
func (k Kind) Retryable() bool {
	return k == KindTransient
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

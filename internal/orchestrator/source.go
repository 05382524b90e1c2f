package orchestrator

import (
	"context"

	"deepscan/internal/config"
	"deepscan/internal/ensemble"
	"deepscan/internal/media"
)

// Source abstracts media access so tests can pin content hashes.
type Source interface {
	Validate(ref string) error
	Probe(ctx context.Context, ref string) (media.Info, error)
	ContentHash(ref string) (string, error)
	Open(ctx context.Context, ref string) (media.Stream, error)
}

// Combiner turns a frame batch into combined vectors.
type Combiner interface {
	Combine(ctx context.Context, batch media.Batch) (ensemble.Output, error)
	Extractors() []ensemble.Info
}

// OverallScorer is an optional Combiner capability: an overall confidence
// supplied by the extractors themselves, computed from per-frame vectors so
// a cache hit reproduces it without re-extraction.
type OverallScorer interface {
	Overall(perFrame []map[string][]float32) (float64, bool)
}

// MediaSource reads media from the local filesystem with the media package.
type MediaSource struct {
	Options media.Options
}

// NewMediaSource returns a Source backed by the media package.
func NewMediaSource(opts media.Options) *MediaSource {
	return &MediaSource{Options: opts}
}

func (s *MediaSource) Validate(ref string) error {
	formats := s.Options.SupportedFormats
	if len(formats) == 0 {
		formats = config.Default().Extraction.SupportedFormats
	}
	_, _, err := media.Validate(ref, formats)
	return err
}

func (s *MediaSource) Probe(ctx context.Context, ref string) (media.Info, error) {
	return media.Probe(ctx, ref, s.Options)
}

func (s *MediaSource) ContentHash(ref string) (string, error) {
	return media.ContentHash(ref)
}

func (s *MediaSource) Open(ctx context.Context, ref string) (media.Stream, error) {
	return media.Open(ctx, ref, s.Options)
}

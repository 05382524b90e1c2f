package ensemble

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"deepscan/internal/media"
)

// Extractor produces one fixed-length vector per frame.
type Extractor interface {
	Name() string
	Dim() int
	ExtractBatch(ctx context.Context, batch media.Batch) ([][]float32, error)
}

// Versioned extractors report a model version recorded with cached vectors.
type Versioned interface {
	Version() string
}

// Scored extractors also judge a whole clip from their own vectors, one
// per frame in order. The result is clamped to [0,1].
type Scored interface {
	Score(vectors [][]float32) float64
}

// Factory builds an extractor.
type Factory func() Extractor

var registry = map[string]Factory{
	CNNName:            func() Extractor { return NewCNN() },
	VisionLanguageName: func() Extractor { return NewVisionLanguage() },
}

// Register adds or replaces a named extractor factory.
func Register(name string, factory Factory) {
	registry[strings.ToLower(strings.TrimSpace(name))] = factory
}

// Registered lists registered extractor names.
func Registered() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build instantiates extractors by name.
func Build(names []string) ([]Extractor, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("at least one extractor is required")
	}
	out := make([]Extractor, 0, len(names))
	for _, name := range names {
		factory, ok := registry[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("unknown extractor %q (registered: %s)", name, strings.Join(Registered(), ", "))
		}
		out = append(out, factory())
	}
	return out, nil
}

package ensemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"deepscan/internal/config"
	"deepscan/internal/logging"
	"deepscan/internal/media"
	"deepscan/internal/scoring"
)

// Output is the result of combining one batch.
type Output struct {
	Combined     [][]float32
	PerExtractor map[string][][]float32
	TimingMS     float64
}

// Info describes one configured extractor.
type Info struct {
	Name    string
	Version string
	Dim     int
	Weight  float64
}

// Combiner runs every extractor over a batch and forms the weighted sum of
// their vectors.
type Combiner struct {
	extractors []Extractor
	weights    map[string]float64
	gate       *Gate
	logger     *slog.Logger
}

// NewCombiner validates that every extractor has a weight.
func NewCombiner(extractors []Extractor, weights map[string]float64, gate *Gate, logger *slog.Logger) (*Combiner, error) {
	if len(extractors) == 0 {
		return nil, errors.New("combiner requires at least one extractor")
	}
	normalized := make(map[string]float64, len(weights))
	for name, weight := range weights {
		normalized[strings.ToLower(strings.TrimSpace(name))] = weight
	}
	seen := make(map[string]bool, len(extractors))
	for _, ex := range extractors {
		name := ex.Name()
		if seen[name] {
			return nil, fmt.Errorf("extractor %q registered twice", name)
		}
		seen[name] = true
		weight, ok := normalized[name]
		if !ok {
			return nil, fmt.Errorf("no weight configured for extractor %q", name)
		}
		if weight < 0 {
			return nil, fmt.Errorf("weight for extractor %q must be >= 0", name)
		}
	}
	return &Combiner{
		extractors: extractors,
		weights:    normalized,
		gate:       gate,
		logger:     logging.NewComponentLogger(logger, "ensemble"),
	}, nil
}

// FromConfig builds the configured extractors and combiner.
func FromConfig(cfg *config.Config, logger *slog.Logger) (*Combiner, *Gate, error) {
	extractors, err := Build(cfg.Ensemble.Extractors)
	if err != nil {
		return nil, nil, err
	}
	gate := NewGate("device0", cfg.Workers.DeviceExclusive, cfg.Workers.DeviceMemoryFraction)
	combiner, err := NewCombiner(extractors, cfg.Ensemble.Weights, gate, logger)
	if err != nil {
		return nil, nil, err
	}
	return combiner, gate, nil
}

// Extractors describes the configured extractors in invocation order.
func (c *Combiner) Extractors() []Info {
	out := make([]Info, 0, len(c.extractors))
	for _, ex := range c.extractors {
		info := Info{Name: ex.Name(), Dim: ex.Dim(), Weight: c.weights[ex.Name()]}
		if v, ok := ex.(Versioned); ok {
			info.Version = v.Version()
		}
		out = append(out, info)
	}
	return out
}

// Combine invokes each extractor on batch while holding the device gate.
// Failures are reported as *ExtractorFailure or *PermanentExtractorError.
func (c *Combiner) Combine(ctx context.Context, batch media.Batch) (Output, error) {
	if batch.Len() == 0 {
		return Output{PerExtractor: map[string][][]float32{}}, nil
	}
	release, err := c.gate.Acquire(ctx)
	if err != nil {
		return Output{}, err
	}
	defer release()

	start := time.Now()
	perExtractor := make(map[string][][]float32, len(c.extractors))
	for _, ex := range c.extractors {
		name := ex.Name()
		vectors, err := ex.ExtractBatch(ctx, batch)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return Output{}, err
			}
			if errors.Is(err, ErrIncompatibleInput) {
				return Output{}, &PermanentExtractorError{Name: name, Reason: "unsupported input", Cause: err}
			}
			return Output{}, &ExtractorFailure{Name: name, Cause: err}
		}
		if len(vectors) != batch.Len() {
			return Output{}, &PermanentExtractorError{
				Name:   name,
				Reason: fmt.Sprintf("returned %d vectors for %d frames", len(vectors), batch.Len()),
			}
		}
		for i, vec := range vectors {
			if len(vec) != ex.Dim() {
				return Output{}, &PermanentExtractorError{
					Name:   name,
					Reason: fmt.Sprintf("frame %d vector has %d dims, want %d", batch.StartFrame+i, len(vec), ex.Dim()),
				}
			}
		}
		perExtractor[name] = vectors
	}

	combined := c.weightedSum(perExtractor, batch.Len())
	elapsed := time.Since(start)
	c.logger.Debug("batch combined",
		logging.Int("start_frame", batch.StartFrame),
		logging.Int("frames", batch.Len()),
		logging.Duration("elapsed", elapsed),
	)
	return Output{
		Combined:     combined,
		PerExtractor: perExtractor,
		TimingMS:     float64(elapsed.Microseconds()) / 1000,
	}, nil
}

// Overall returns the weight-averaged score of the Scored extractors over
// per-frame vectors, as produced by Combine or read back from the cache.
// ok is false when no Scored extractor has positive weight and vectors for
// every frame.
func (c *Combiner) Overall(perFrame []map[string][]float32) (float64, bool) {
	if len(perFrame) == 0 {
		return 0, false
	}
	var sum, total float64
	for _, ex := range c.extractors {
		scored, ok := ex.(Scored)
		weight := c.weights[ex.Name()]
		if !ok || weight <= 0 {
			continue
		}
		vectors := make([][]float32, 0, len(perFrame))
		for _, frame := range perFrame {
			vec, ok := frame[ex.Name()]
			if !ok {
				break
			}
			vectors = append(vectors, vec)
		}
		if len(vectors) != len(perFrame) {
			continue
		}
		sum += weight * scoring.Clamp(scored.Score(vectors))
		total += weight
	}
	if total == 0 {
		return 0, false
	}
	return sum / total, true
}

// weightedSum zero-pads shorter vectors to the longest dimension.
func (c *Combiner) weightedSum(perExtractor map[string][][]float32, frames int) [][]float32 {
	width := 0
	for _, ex := range c.extractors {
		if ex.Dim() > width {
			width = ex.Dim()
		}
	}
	out := make([][]float32, frames)
	for i := range out {
		out[i] = make([]float32, width)
	}
	for _, ex := range c.extractors {
		weight := float32(c.weights[ex.Name()])
		for i, vec := range perExtractor[ex.Name()] {
			row := out[i]
			for j, v := range vec {
				row[j] += weight * v
			}
		}
	}
	return out
}

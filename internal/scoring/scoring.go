// Package scoring holds the pluggable functions that turn combined frame
// vectors into per-frame confidences in [0,1].
package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Scorer maps one vector per frame to one confidence per frame. It must be
// deterministic and return values in [0,1].
type Scorer interface {
	Name() string
	Score(vectors [][]float32) []float64
}

// Func adapts a plain function into a Scorer.
type Func struct {
	ScorerName string
	Fn         func(vectors [][]float32) []float64
}

func (f Func) Name() string                        { return f.ScorerName }
func (f Func) Score(vectors [][]float32) []float64 { return f.Fn(vectors) }

// Scorer names.
const (
	VarianceName = "variance"
	NormName     = "norm"
)

var registry = map[string]func() Scorer{
	VarianceName: func() Scorer { return Variance{Gain: 10} },
	NormName:     func() Scorer { return Norm{} },
}

// New returns the scorer registered under name.
func New(name string) (Scorer, error) {
	factory, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		names := make([]string, 0, len(registry))
		for n := range registry {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown scorer %q (available: %s)", name, strings.Join(names, ", "))
	}
	return factory(), nil
}

// Variance scores each frame by how far its vector sits from the mean
// vector of the clip: the mean squared deviation across dimensions, scaled
// by Gain and clamped to 1. The mean of the unclamped frame scores equals
// the clip's mean per-dimension variance times Gain.
type Variance struct {
	Gain float64
}

func (Variance) Name() string { return VarianceName }

func (v Variance) Score(vectors [][]float32) []float64 {
	out := make([]float64, len(vectors))
	if len(vectors) == 0 {
		return out
	}
	width := 0
	for _, vec := range vectors {
		if len(vec) > width {
			width = len(vec)
		}
	}
	if width == 0 {
		return out
	}
	mean := make([]float64, width)
	for _, vec := range vectors {
		for j, x := range vec {
			mean[j] += float64(x)
		}
	}
	n := float64(len(vectors))
	for j := range mean {
		mean[j] /= n
	}
	for i, vec := range vectors {
		var sq float64
		for j := 0; j < width; j++ {
			var x float64
			if j < len(vec) {
				x = float64(vec[j])
			}
			d := x - mean[j]
			sq += d * d
		}
		out[i] = Clamp(sq / float64(width) * v.Gain)
	}
	return out
}

// Norm scores each frame by its RMS magnitude: 1 - exp(-rms).
type Norm struct{}

func (Norm) Name() string { return NormName }

func (Norm) Score(vectors [][]float32) []float64 {
	out := make([]float64, len(vectors))
	for i, vec := range vectors {
		if len(vec) == 0 {
			continue
		}
		var sq float64
		for _, x := range vec {
			sq += float64(x) * float64(x)
		}
		rms := math.Sqrt(sq / float64(len(vec)))
		out[i] = Clamp(1 - math.Exp(-rms))
	}
	return out
}

// Clamp bounds v to [0,1], mapping NaN to 0.
func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

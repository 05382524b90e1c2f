package ensemble

import (
	"context"
	"fmt"
	"math"

	"deepscan/internal/media"
)

// Built-in extractor names.
const (
	CNNName            = "cnn"
	VisionLanguageName = "vision_language"
)

const (
	cnnDim            = 2048
	cnnGrid           = 8
	cnnSeed           = 0x5eed_c001
	visionLanguageDim = 512
	vlGrid            = 4
	vlSeed            = 0x5eed_0c1e
)

// pooledExtractor derives a frame vector by pooling the tensor over a grid
// and projecting the pooled statistics with a fixed pseudo-random matrix.
type pooledExtractor struct {
	name      string
	version   string
	dim       int
	grid      int
	seed      uint64
	withStd   bool
	normalize bool
}

// NewCNN returns the 2048-dim convolutional stand-in: patch means and
// standard deviations projected through a ReLU.
func NewCNN() Extractor {
	return &pooledExtractor{name: CNNName, version: "pooled-v1", dim: cnnDim, grid: cnnGrid, seed: cnnSeed, withStd: true}
}

// NewVisionLanguage returns the 512-dim vision-language stand-in: coarse
// patch means projected and L2-normalized.
func NewVisionLanguage() Extractor {
	return &pooledExtractor{name: VisionLanguageName, version: "pooled-v1", dim: visionLanguageDim, grid: vlGrid, seed: vlSeed, normalize: true}
}

func (p *pooledExtractor) Name() string    { return p.name }
func (p *pooledExtractor) Dim() int        { return p.dim }
func (p *pooledExtractor) Version() string { return p.version }

func (p *pooledExtractor) ExtractBatch(ctx context.Context, batch media.Batch) ([][]float32, error) {
	out := make([][]float32, 0, batch.Len())
	for _, frame := range batch.Frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if frame.Width < p.grid || frame.Height < p.grid {
			return nil, fmt.Errorf("%w: frame %d is %dx%d, need at least %dx%d", ErrIncompatibleInput, frame.Index, frame.Width, frame.Height, p.grid, p.grid)
		}
		if len(frame.Data) != media.Channels*frame.Width*frame.Height {
			return nil, fmt.Errorf("%w: frame %d tensor has %d values, want %d", ErrIncompatibleInput, frame.Index, len(frame.Data), media.Channels*frame.Width*frame.Height)
		}
		out = append(out, p.project(p.pool(frame)))
	}
	return out, nil
}

func (p *pooledExtractor) pool(frame media.Frame) []float64 {
	g := p.grid
	cells := g * g
	size := media.Channels * cells
	if p.withStd {
		size *= 2
	}
	feats := make([]float64, size)
	plane := frame.Width * frame.Height
	for c := 0; c < media.Channels; c++ {
		for gy := 0; gy < g; gy++ {
			y0, y1 := gy*frame.Height/g, (gy+1)*frame.Height/g
			for gx := 0; gx < g; gx++ {
				x0, x1 := gx*frame.Width/g, (gx+1)*frame.Width/g
				var sum, sumSq float64
				n := float64((y1 - y0) * (x1 - x0))
				for y := y0; y < y1; y++ {
					row := frame.Data[c*plane+y*frame.Width:]
					for x := x0; x < x1; x++ {
						v := float64(row[x])
						sum += v
						sumSq += v * v
					}
				}
				mean := sum / n
				idx := c*cells + gy*g + gx
				feats[idx] = mean
				if p.withStd {
					variance := sumSq/n - mean*mean
					if variance < 0 {
						variance = 0
					}
					feats[media.Channels*cells+idx] = math.Sqrt(variance)
				}
			}
		}
	}
	return feats
}

func (p *pooledExtractor) project(feats []float64) []float32 {
	out := make([]float32, p.dim)
	scale := 1 / math.Sqrt(float64(len(feats)))
	var norm float64
	for i := 0; i < p.dim; i++ {
		state := p.seed ^ uint64(i)*0x9e3779b97f4a7c15
		var acc float64
		for _, f := range feats {
			state = splitmix64(state)
			// Map to a weight in [-1, 1).
			w := float64(int64(state>>11))/float64(1<<52) - 1
			acc += w * f
		}
		acc *= scale
		if !p.normalize && acc < 0 {
			acc = 0
		}
		out[i] = float32(acc)
		norm += acc * acc
	}
	if p.normalize && norm > 0 {
		inv := 1 / math.Sqrt(norm)
		for i := range out {
			out[i] = float32(float64(out[i]) * inv)
		}
	}
	return out
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	z := x
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

package ensemble_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"deepscan/internal/ensemble"
	"deepscan/internal/logging"
	"deepscan/internal/media"
	"deepscan/internal/testsupport"
)

type fixedExtractor struct {
	name  string
	dim   int
	value float32
	err   error
	count int // vectors to return; -1 means one per frame
	calls atomic.Int32
}

func (f *fixedExtractor) Name() string { return f.name }
func (f *fixedExtractor) Dim() int     { return f.dim }

func (f *fixedExtractor) ExtractBatch(_ context.Context, batch media.Batch) ([][]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	n := batch.Len()
	if f.count >= 0 {
		n = f.count
	}
	out := make([][]float32, n)
	for i := range out {
		vec := make([]float32, f.dim)
		for j := range vec {
			vec[j] = f.value
		}
		out[i] = vec
	}
	return out, nil
}

func testBatch(frames int) media.Batch {
	batch := media.Batch{StartFrame: 0}
	for i := 0; i < frames; i++ {
		batch.Frames = append(batch.Frames, media.Frame{
			Index:  i,
			Width:  8,
			Height: 8,
			Data:   make([]float32, media.Channels*64),
		})
	}
	return batch
}

func TestCombineWeightedSumPadsShorterVectors(t *testing.T) {
	long := &fixedExtractor{name: "cnn", dim: 4, value: 1, count: -1}
	short := &fixedExtractor{name: "vision_language", dim: 2, value: 10, count: -1}
	combiner, err := ensemble.NewCombiner(
		[]ensemble.Extractor{long, short},
		map[string]float64{"cnn": 0.6, "vision_language": 0.4},
		nil, logging.NewNop(),
	)
	if err != nil {
		t.Fatalf("NewCombiner: %v", err)
	}
	out, err := combiner.Combine(context.Background(), testBatch(3))
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if len(out.Combined) != 3 {
		t.Fatalf("combined rows = %d", len(out.Combined))
	}
	want := []float32{4.6, 4.6, 0.6, 0.6}
	for j, v := range out.Combined[1] {
		if diff := v - want[j]; diff > 1e-5 || diff < -1e-5 {
			t.Fatalf("combined[1] = %v, want %v", out.Combined[1], want)
		}
	}
	if len(out.PerExtractor["cnn"]) != 3 || len(out.PerExtractor["vision_language"][0]) != 2 {
		t.Fatalf("per-extractor output = %v", out.PerExtractor)
	}
	if out.TimingMS < 0 {
		t.Fatalf("timing = %v", out.TimingMS)
	}
}

func TestWeightsNeedNotSumToOne(t *testing.T) {
	a := &fixedExtractor{name: "a", dim: 1, value: 1, count: -1}
	b := &fixedExtractor{name: "b", dim: 1, value: 1, count: -1}
	combiner, err := ensemble.NewCombiner([]ensemble.Extractor{a, b}, map[string]float64{"a": 2, "b": 3}, nil, nil)
	if err != nil {
		t.Fatalf("NewCombiner: %v", err)
	}
	out, err := combiner.Combine(context.Background(), testBatch(1))
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if out.Combined[0][0] != 5 {
		t.Fatalf("combined = %v, want 5", out.Combined[0][0])
	}
}

type scoredExtractor struct {
	*fixedExtractor
	score float64
}

func (s scoredExtractor) Score([][]float32) float64 { return s.score }

func TestOverallAveragesScoredExtractorsByWeight(t *testing.T) {
	a := scoredExtractor{&fixedExtractor{name: "a", dim: 1, value: 1, count: -1}, 0.2}
	b := scoredExtractor{&fixedExtractor{name: "b", dim: 1, value: 1, count: -1}, 1.4}
	plain := &fixedExtractor{name: "plain", dim: 1, value: 1, count: -1}
	combiner, err := ensemble.NewCombiner([]ensemble.Extractor{a, b, plain},
		map[string]float64{"a": 3, "b": 1, "plain": 5}, nil, nil)
	if err != nil {
		t.Fatalf("NewCombiner: %v", err)
	}
	out, err := combiner.Combine(context.Background(), testBatch(2))
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	perFrame := make([]map[string][]float32, 2)
	for i := range perFrame {
		perFrame[i] = map[string][]float32{}
		for name, vecs := range out.PerExtractor {
			perFrame[i][name] = vecs[i]
		}
	}
	// b's score clamps to 1: (3*0.2 + 1*1) / 4.
	got, ok := combiner.Overall(perFrame)
	if !ok || math.Abs(got-0.4) > 1e-9 {
		t.Fatalf("Overall = %v, %v; want 0.4", got, ok)
	}
	if _, ok := combiner.Overall(nil); ok {
		t.Fatal("expected no overall without frames")
	}
}

func TestOverallAbsentWithoutScoredExtractors(t *testing.T) {
	plain := &fixedExtractor{name: "plain", dim: 1, value: 1, count: -1}
	combiner, err := ensemble.NewCombiner([]ensemble.Extractor{plain}, map[string]float64{"plain": 1}, nil, nil)
	if err != nil {
		t.Fatalf("NewCombiner: %v", err)
	}
	if _, ok := combiner.Overall([]map[string][]float32{{"plain": {1}}}); ok {
		t.Fatal("expected no overall from unscored extractors")
	}
}

func TestCombineClassifiesFailures(t *testing.T) {
	cases := []struct {
		name      string
		extractor *fixedExtractor
		permanent bool
	}{
		{"transient", &fixedExtractor{name: "x", dim: 2, err: fmt.Errorf("oom: %w", ensemble.ErrResourceExhausted)}, false},
		{"incompatible", &fixedExtractor{name: "x", dim: 2, err: fmt.Errorf("shape: %w", ensemble.ErrIncompatibleInput)}, true},
		{"wrong count", &fixedExtractor{name: "x", dim: 2, count: 1}, true},
		{"wrong dim", &fixedExtractor{name: "x", dim: 2, count: -1}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ex := ensemble.Extractor(tc.extractor)
			if tc.name == "wrong dim" {
				ex = &liarExtractor{tc.extractor}
			}
			combiner, err := ensemble.NewCombiner([]ensemble.Extractor{ex}, map[string]float64{"x": 1}, nil, nil)
			if err != nil {
				t.Fatalf("NewCombiner: %v", err)
			}
			_, err = combiner.Combine(context.Background(), testBatch(2))
			var perm *ensemble.PermanentExtractorError
			var failure *ensemble.ExtractorFailure
			switch {
			case tc.permanent && !errors.As(err, &perm):
				t.Fatalf("err = %v, want PermanentExtractorError", err)
			case !tc.permanent && !errors.As(err, &failure):
				t.Fatalf("err = %v, want ExtractorFailure", err)
			}
			if !tc.permanent && failure.Name != "x" {
				t.Fatalf("failure name = %q", failure.Name)
			}
		})
	}
}

// liarExtractor reports a larger Dim than the vectors it returns.
type liarExtractor struct{ *fixedExtractor }

func (l *liarExtractor) Dim() int { return l.fixedExtractor.dim + 1 }

func TestNewCombinerRequiresWeights(t *testing.T) {
	a := &fixedExtractor{name: "a", dim: 1}
	if _, err := ensemble.NewCombiner([]ensemble.Extractor{a}, map[string]float64{}, nil, nil); err == nil {
		t.Fatal("expected missing weight to be rejected")
	}
	if _, err := ensemble.NewCombiner(nil, nil, nil, nil); err == nil {
		t.Fatal("expected empty extractor list to be rejected")
	}
	if _, err := ensemble.NewCombiner([]ensemble.Extractor{a, a}, map[string]float64{"a": 1}, nil, nil); err == nil {
		t.Fatal("expected duplicate extractor to be rejected")
	}
}

type slowExtractor struct {
	active atomic.Int32
	peak   atomic.Int32
}

func (s *slowExtractor) Name() string { return "slow" }
func (s *slowExtractor) Dim() int     { return 1 }

func (s *slowExtractor) ExtractBatch(_ context.Context, batch media.Batch) ([][]float32, error) {
	n := s.active.Add(1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	s.active.Add(-1)
	out := make([][]float32, batch.Len())
	for i := range out {
		out[i] = []float32{1}
	}
	return out, nil
}

func TestExclusiveGateSerializesInference(t *testing.T) {
	slow := &slowExtractor{}
	gate := ensemble.NewGate("device0", true, 0.8)
	combiner, err := ensemble.NewCombiner([]ensemble.Extractor{slow}, map[string]float64{"slow": 1}, gate, nil)
	if err != nil {
		t.Fatalf("NewCombiner: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := combiner.Combine(context.Background(), testBatch(1)); err != nil {
				t.Errorf("Combine: %v", err)
			}
		}()
	}
	wg.Wait()
	if slow.peak.Load() != 1 {
		t.Fatalf("peak concurrency = %d, want 1", slow.peak.Load())
	}
	stats := gate.Stats()
	if stats.Acquisitions != 4 || stats.Busy != 0 || !stats.Exclusive {
		t.Fatalf("gate stats = %+v", stats)
	}
}

func TestGateAcquireHonoursContext(t *testing.T) {
	gate := ensemble.NewGate("device0", true, 1)
	release, err := gate.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := gate.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestBuiltinExtractorsAreDeterministic(t *testing.T) {
	dir := testsupport.WriteFrames(t, t.TempDir()+"/frames", 2, 16, 16, nil)
	opts := media.Options{MaxFrames: 10, Width: 16, Height: 16, SupportedFormats: []string{"mp4"}}
	read := func() media.Batch {
		stream, err := media.Open(context.Background(), dir, opts)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer stream.Close()
		batch, _, err := stream.Next(2)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		return batch
	}

	extractors, err := ensemble.Build([]string{"cnn", "vision_language"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if extractors[0].Dim() != 2048 || extractors[1].Dim() != 512 {
		t.Fatalf("dims = %d, %d", extractors[0].Dim(), extractors[1].Dim())
	}
	combiner, err := ensemble.NewCombiner(extractors, map[string]float64{"cnn": 0.6, "vision_language": 0.4}, nil, nil)
	if err != nil {
		t.Fatalf("NewCombiner: %v", err)
	}
	first, err := combiner.Combine(context.Background(), read())
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	second, err := combiner.Combine(context.Background(), read())
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if len(first.Combined[0]) != 2048 {
		t.Fatalf("combined dim = %d", len(first.Combined[0]))
	}
	for i := range first.Combined {
		for j := range first.Combined[i] {
			if first.Combined[i][j] != second.Combined[i][j] {
				t.Fatalf("combined[%d][%d] differs between runs", i, j)
			}
		}
	}
	differs := false
	for j := range first.Combined[0] {
		if first.Combined[0][j] != first.Combined[1][j] {
			differs = true
			break
		}
	}
	if !differs {
		t.Fatal("distinct frames produced identical vectors")
	}
	infos := combiner.Extractors()
	if infos[0].Name != "cnn" || infos[0].Version == "" || infos[1].Weight != 0.4 {
		t.Fatalf("infos = %+v", infos)
	}
}

func TestBuiltinRejectsTinyFrames(t *testing.T) {
	cnn := ensemble.NewCNN()
	batch := media.Batch{Frames: []media.Frame{{Width: 2, Height: 2, Data: make([]float32, 12)}}}
	if _, err := cnn.ExtractBatch(context.Background(), batch); !errors.Is(err, ensemble.ErrIncompatibleInput) {
		t.Fatalf("err = %v, want ErrIncompatibleInput", err)
	}
}

func TestBuildRejectsUnknownExtractor(t *testing.T) {
	if _, err := ensemble.Build([]string{"transformer"}); err == nil {
		t.Fatal("expected unknown extractor error")
	}
}

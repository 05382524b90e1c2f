package detection_test

import (
	"testing"

	"deepscan/internal/config"
	"deepscan/internal/detection"
)

func defaultThresholds() detection.Thresholds {
	return detection.ThresholdsFromConfig(config.Default().Detection)
}

func TestDeriveMeanOfFrameConfidences(t *testing.T) {
	result, err := detection.Derive(detection.Input{
		Confidences:  []float64{0.3, 0.5, 0.7},
		FrameTimesMS: []float64{10, 10, 25},
		FrameWidth:   224,
		FrameHeight:  224,
		Scorer:       "variance",
	}, defaultThresholds())
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if result.OverallConfidence != 0.5 {
		t.Fatalf("overall = %v, want 0.5", result.OverallConfidence)
	}
	if len(result.Frames) != 3 {
		t.Fatalf("frames = %d", len(result.Frames))
	}
	for i, frame := range result.Frames {
		if frame.FrameNumber != i {
			t.Fatalf("frame %d numbered %d", i, frame.FrameNumber)
		}
	}
	// 0.7 is not strictly above the threshold.
	if result.Summary.SuspiciousFrames != 0 {
		t.Fatalf("suspicious = %d", result.Summary.SuspiciousFrames)
	}
	dist := result.Summary.Distribution
	if dist.Low != 0 || dist.Medium != 2 || dist.High != 1 {
		t.Fatalf("distribution = %+v", dist)
	}
	if result.Summary.Methods[0] != detection.MethodEnsemble {
		t.Fatalf("methods = %v", result.Summary.Methods)
	}
}

func TestDeriveFlagsSuspiciousRegions(t *testing.T) {
	result, err := detection.Derive(detection.Input{
		Confidences: []float64{0.75, 0.95, 0.1},
		FrameWidth:  224,
		FrameHeight: 224,
	}, defaultThresholds())
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if result.Summary.SuspiciousFrames != 2 {
		t.Fatalf("suspicious = %d", result.Summary.SuspiciousFrames)
	}
	medium := result.Frames[0].SuspiciousRegions
	high := result.Frames[1].SuspiciousRegions
	if len(medium) != 1 || medium[0].Severity != detection.SeverityMedium || medium[0].Width != 224 {
		t.Fatalf("frame 0 regions = %+v", medium)
	}
	if len(high) != 1 || high[0].Severity != detection.SeverityHigh || high[0].AnomalyType != detection.AnomalyFaceSwap {
		t.Fatalf("frame 1 regions = %+v", high)
	}
	if result.Frames[2].SuspiciousRegions == nil || len(result.Frames[2].SuspiciousRegions) != 0 {
		t.Fatalf("frame 2 regions = %+v", result.Frames[2].SuspiciousRegions)
	}
}

func TestDeriveClampsAndOrdersTimes(t *testing.T) {
	result, err := detection.Derive(detection.Input{
		Confidences:  []float64{-1, 2},
		FrameTimesMS: []float64{30, 20},
	}, defaultThresholds())
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if result.Frames[0].Confidence != 0 || result.Frames[1].Confidence != 1 {
		t.Fatalf("confidences = %v, %v", result.Frames[0].Confidence, result.Frames[1].Confidence)
	}
	if result.Frames[1].ProcessingTimeMS < result.Frames[0].ProcessingTimeMS {
		t.Fatal("processing time decreased")
	}
	if result.OverallConfidence < 0 || result.OverallConfidence > 1 {
		t.Fatalf("overall = %v", result.OverallConfidence)
	}
}

func TestDeriveUsesSuppliedOverall(t *testing.T) {
	supplied := 0.9
	result, err := detection.Derive(detection.Input{Confidences: []float64{0.1}, Overall: &supplied}, defaultThresholds())
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if result.OverallConfidence != 0.9 {
		t.Fatalf("overall = %v", result.OverallConfidence)
	}
}

func TestDeriveRejectsEmpty(t *testing.T) {
	if _, err := detection.Derive(detection.Input{}, defaultThresholds()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSealIsDeterministic(t *testing.T) {
	in := detection.Input{Confidences: []float64{0.2, 0.8}}
	a, _ := detection.Derive(in, defaultThresholds())
	b, _ := detection.Derive(in, defaultThresholds())
	if err := detection.Seal(&a, "job-1", "abc123"); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if err := detection.Seal(&b, "job-1", "abc123"); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if a.VerificationHash == "" || a.VerificationHash != b.VerificationHash {
		t.Fatalf("hashes %q %q", a.VerificationHash, b.VerificationHash)
	}
	c, _ := detection.Derive(in, defaultThresholds())
	_ = detection.Seal(&c, "job-2", "abc123")
	if c.VerificationHash == a.VerificationHash {
		t.Fatal("different jobs share a verification hash")
	}
}

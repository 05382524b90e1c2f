package detection

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"deepscan/internal/config"
	"deepscan/internal/scoring"
)

// Method and anomaly labels attached to regions flagged by the ensemble.
const (
	MethodEnsemble   = "ensemble"
	AnomalyFaceSwap  = "face_swap"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	DefaultModelName = "ensemble-v1"
)

// Region is a bounding box judged suspicious within a frame.
type Region struct {
	X           int     `json:"x"`
	Y           int     `json:"y"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Confidence  float64 `json:"confidence"`
	Method      string  `json:"method"`
	AnomalyType string  `json:"anomaly_type"`
	Severity    string  `json:"severity"`
}

// FrameResult is the per-frame outcome. ProcessingTimeMS is cumulative
// from the start of extraction.
type FrameResult struct {
	FrameNumber       int      `json:"frame_number"`
	Confidence        float64  `json:"confidence"`
	SuspiciousRegions []Region `json:"suspicious_regions"`
	ProcessingTimeMS  float64  `json:"processing_time_ms"`
}

// Distribution counts frames per confidence band.
type Distribution struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

// Summary aggregates a result.
type Summary struct {
	TotalFrames      int          `json:"total_frames"`
	SuspiciousFrames int          `json:"suspicious_frames"`
	Methods          []string     `json:"detection_methods"`
	Distribution     Distribution `json:"confidence_distribution"`
	ProcessingTimeMS float64      `json:"processing_time_ms"`
	Scorer           string       `json:"scorer"`
}

// Result is a completed detection.
type Result struct {
	OverallConfidence float64       `json:"overall_confidence"`
	Frames            []FrameResult `json:"frame_results"`
	Summary           Summary       `json:"detection_summary"`
	ModelVersion      string        `json:"model_version"`
	VerificationHash  string        `json:"verification_hash,omitempty"`
}

// Thresholds drive region flagging and the distribution bands.
type Thresholds struct {
	Suspicious    float64
	HighSeverity  float64
	LowConfidence float64
}

// ThresholdsFromConfig reads the detection config section.
func ThresholdsFromConfig(cfg config.Detection) Thresholds {
	return Thresholds{
		Suspicious:    cfg.SuspiciousThreshold,
		HighSeverity:  cfg.HighSeverityThreshold,
		LowConfidence: cfg.LowConfidenceCeiling,
	}
}

// Input carries everything Derive needs.
type Input struct {
	Confidences []float64
	// FrameTimesMS holds the cumulative processing time per frame. Missing
	// entries are treated as zero.
	FrameTimesMS []float64
	FrameWidth   int
	FrameHeight  int
	Methods      []string
	Scorer       string
	// Overall overrides the mean of frame confidences when set.
	Overall *float64
	// TotalTimeMS is the end-to-end detection time for the summary.
	TotalTimeMS float64
}

// Derive builds a result. Confidences are clamped to [0,1] and per-frame
// processing times are forced non-decreasing.
func Derive(in Input, th Thresholds) (Result, error) {
	if len(in.Confidences) == 0 {
		return Result{}, errors.New("no frame confidences to derive a result from")
	}
	methods := in.Methods
	if len(methods) == 0 {
		methods = []string{MethodEnsemble}
	}

	frames := make([]FrameResult, len(in.Confidences))
	var (
		sum        float64
		lastTime   float64
		suspicious int
		dist       Distribution
	)
	for i, raw := range in.Confidences {
		conf := scoring.Clamp(raw)
		sum += conf

		t := lastTime
		if i < len(in.FrameTimesMS) && in.FrameTimesMS[i] > t {
			t = in.FrameTimesMS[i]
		}
		lastTime = t

		frame := FrameResult{
			FrameNumber:       i,
			Confidence:        conf,
			SuspiciousRegions: []Region{},
			ProcessingTimeMS:  t,
		}
		if conf > th.Suspicious {
			suspicious++
			severity := SeverityMedium
			if conf > th.HighSeverity {
				severity = SeverityHigh
			}
			frame.SuspiciousRegions = append(frame.SuspiciousRegions, Region{
				Width:       in.FrameWidth,
				Height:      in.FrameHeight,
				Confidence:  conf,
				Method:      MethodEnsemble,
				AnomalyType: AnomalyFaceSwap,
				Severity:    severity,
			})
		}
		switch {
		case conf < th.LowConfidence:
			dist.Low++
		case conf < th.Suspicious:
			dist.Medium++
		default:
			dist.High++
		}
		frames[i] = frame
	}

	overall := sum / float64(len(frames))
	if in.Overall != nil {
		overall = scoring.Clamp(*in.Overall)
	}
	totalTime := in.TotalTimeMS
	if totalTime < lastTime {
		totalTime = lastTime
	}
	result := Result{
		OverallConfidence: round(overall),
		Frames:            frames,
		Summary: Summary{
			TotalFrames:      len(frames),
			SuspiciousFrames: suspicious,
			Methods:          append([]string(nil), methods...),
			Distribution:     dist,
			ProcessingTimeMS: totalTime,
			Scorer:           in.Scorer,
		},
		ModelVersion: DefaultModelName,
	}
	return result, nil
}

// Seal stamps the verification hash: the sha256 of the canonical JSON of
// the fields that identify the verdict.
func Seal(result *Result, jobID, contentHash string) error {
	payload := struct {
		JobID             string   `json:"job_id"`
		ContentHash       string   `json:"content_hash"`
		OverallConfidence float64  `json:"overall_confidence"`
		FrameCount        int      `json:"frame_count"`
		SuspiciousFrames  int      `json:"suspicious_frames"`
		Methods           []string `json:"detection_methods"`
		Confidences       []string `json:"frame_confidences"`
	}{
		JobID:             jobID,
		ContentHash:       contentHash,
		OverallConfidence: result.OverallConfidence,
		FrameCount:        result.Summary.TotalFrames,
		SuspiciousFrames:  result.Summary.SuspiciousFrames,
		Methods:           result.Summary.Methods,
	}
	for _, frame := range result.Frames {
		payload.Confidences = append(payload.Confidences, fmt.Sprintf("%.6f", frame.Confidence))
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode verification payload: %w", err)
	}
	sum := sha256.Sum256(raw)
	result.VerificationHash = hex.EncodeToString(sum[:])
	return nil
}

// round trims float noise so identical frame confidences reached through
// different paths compare equal.
func round(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}

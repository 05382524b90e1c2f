package orchestrator

import "sync"

// Stage is a named step boundary with its nominal completion percentage.
type Stage struct {
	Name    string
	Percent int
}

// Step boundaries in execution order. The cache-hit path goes from
// StageCacheCheck straight to StageCachedInference.
var (
	StageInitialization    = Stage{Name: "initialization", Percent: 0}
	StageValidation        = Stage{Name: "validation", Percent: 5}
	StageCacheCheck        = Stage{Name: "cache_check", Percent: 10}
	StageFrameExtraction   = Stage{Name: "frame_extraction", Percent: 20}
	StageEmbedding         = Stage{Name: "embedding_generation", Percent: 40}
	StageDetectionAnalysis = Stage{Name: "detection_analysis", Percent: 70}
	StageCachedInference   = Stage{Name: "cached_inference", Percent: 80}
	StageStoringResults    = Stage{Name: "storing_results", Percent: 90}
	StageCompleted         = Stage{Name: "completed", Percent: 100}
)

// Stages lists every stage in table order.
func Stages() []Stage {
	return []Stage{
		StageInitialization,
		StageValidation,
		StageCacheCheck,
		StageFrameExtraction,
		StageEmbedding,
		StageDetectionAnalysis,
		StageCachedInference,
		StageStoringResults,
		StageCompleted,
	}
}

// tracker holds a job's progress high-water mark and current stage.
type tracker struct {
	mu      sync.Mutex
	percent int
	stage   string
}

func newTracker(initial int) *tracker {
	return &tracker{percent: min(max(initial, 0), 100), stage: StageInitialization.Name}
}

// advance moves to stage at pct and returns the percentage to report,
// which never drops below an earlier report.
func (t *tracker) advance(stage string, pct int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stage = stage
	t.percent = max(t.percent, min(max(pct, 0), 100))
	return t.percent
}

func (t *tracker) current() (string, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stage, t.percent
}

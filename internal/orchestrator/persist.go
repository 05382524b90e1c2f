package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"deepscan/internal/detection"
	"deepscan/internal/embedcache"
	"deepscan/internal/logging"
	"deepscan/internal/media"
	"deepscan/internal/store"
)

const bytesPerMB = 1024 * 1024

func vectorsFromEntry(entry embedcache.Entry) vectors {
	out := vectors{cacheHit: true}
	for _, frame := range entry.Frames {
		out.combined = append(out.combined, frame.Combined)
		out.perExtractor = append(out.perExtractor, frame.PerExtractor)
	}
	for _, ex := range entry.Extractors {
		out.methods = append(out.methods, ex.Name)
	}
	return out
}

// storeEmbeddings caches freshly extracted vectors. The cache is an
// optimisation, so failures are logged and the job continues.
func (o *Orchestrator) storeEmbeddings(r *run, hash string, vecs vectors) {
	entry := embedcache.Entry{
		ContentHash: hash,
		Frames:      make([]embedcache.FrameVectors, len(vecs.combined)),
		Metadata:    map[string]string{"job_id": r.job.ID, "task_id": r.taskID},
	}
	for i, combined := range vecs.combined {
		frame := embedcache.FrameVectors{FrameNumber: i, Combined: combined}
		if i < len(vecs.perExtractor) {
			frame.PerExtractor = vecs.perExtractor[i]
		}
		entry.Frames[i] = frame
	}
	for _, ex := range o.combiner.Extractors() {
		entry.Extractors = append(entry.Extractors, embedcache.ExtractorInfo{
			Name: ex.Name, Version: ex.Version, Dim: ex.Dim, Weight: ex.Weight,
		})
	}
	if err := o.cache.Put(hash, entry, 0); err != nil {
		logging.WarnWithContext(r.logger, "failed to cache embeddings", "cache_put_failed",
			logging.String(logging.FieldContentHash, hash),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the next run of this media will re-extract frames"),
		)
	}
}

func (o *Orchestrator) persist(ctx context.Context, r *run, result detection.Result, metrics store.Metrics) (int, error) {
	version, err := o.store.UpsertDetectionResult(ctx, r.job.ID, result)
	if err != nil {
		return 0, tag(StageStoringResults, "upsert detection result", err)
	}
	if err := o.store.UpsertFrameResults(ctx, r.job.ID, result.Frames); err != nil {
		return 0, tag(StageStoringResults, "upsert frame results", err)
	}
	if err := o.store.UpsertMetrics(ctx, r.job.ID, metrics); err != nil {
		return 0, tag(StageStoringResults, "upsert metrics", err)
	}
	return version, nil
}

func (o *Orchestrator) buildMetrics(r *run, info media.Info, frames int, cacheHit bool, elapsed time.Duration) store.Metrics {
	size := r.job.FileSizeBytes
	if size <= 0 {
		size = info.SizeBytes
	}
	metrics := store.Metrics{
		TotalProcessingTimeMS: float64(elapsed.Microseconds()) / 1000,
		VideoDurationSeconds:  info.DurationSeconds,
		TotalFrames:           frames,
		FileSizeMB:            float64(size) / bytesPerMB,
		CacheHit:              cacheHit,
		TaskID:                r.taskID,
		RetryCount:            r.retries,
	}
	if seconds := elapsed.Seconds(); seconds > 0 {
		metrics.FramesPerSecond = float64(frames) / seconds
	}
	return metrics
}

type analysisRecord struct {
	JobID       string     `json:"job_id"`
	TaskID      string     `json:"task_id"`
	ContentHash string     `json:"content_hash"`
	MediaRef    string     `json:"media_ref"`
	Attempt     int        `json:"attempt"`
	Media       media.Info `json:"media"`
	StartedAt   time.Time  `json:"started_at"`
}

// writeAnalysis records in-flight metadata under analysis:<job id>.
func (o *Orchestrator) writeAnalysis(r *run, hash string, info media.Info, attempt int) {
	key, err := embedcache.FormatAnalysisKey(r.job.ID)
	if err != nil {
		return
	}
	payload, err := json.Marshal(analysisRecord{
		JobID:       r.job.ID,
		TaskID:      r.taskID,
		ContentHash: hash,
		MediaRef:    r.job.MediaRef,
		Attempt:     attempt + 1,
		Media:       info,
		StartedAt:   r.started.UTC(),
	})
	if err != nil {
		return
	}
	if err := o.cache.SetValue(key, payload, 0); err != nil {
		r.logger.Debug("failed to cache analysis metadata", logging.Error(err))
	}
}

// CachedResult is the payload stored under result:<job id>.
type CachedResult struct {
	JobID              string           `json:"job_id"`
	Status             string           `json:"status"`
	DetectionResult    detection.Result `json:"detection_result"`
	PerformanceMetrics store.Metrics    `json:"performance_metrics"`
	ProcessingTimeMS   float64          `json:"processing_time"`
	Version            int              `json:"version"`
}

func (o *Orchestrator) writeResult(r *run, outcome *Outcome) {
	key, err := embedcache.FormatResultKey(outcome.JobID)
	if err != nil {
		return
	}
	payload, err := json.Marshal(CachedResult{
		JobID:              outcome.JobID,
		Status:             string(store.StatusCompleted),
		DetectionResult:    outcome.Result,
		PerformanceMetrics: outcome.Metrics,
		ProcessingTimeMS:   float64(outcome.ProcessingTime.Microseconds()) / 1000,
		Version:            outcome.Version,
	})
	if err != nil {
		return
	}
	if err := o.cache.SetValue(key, payload, 0); err != nil {
		r.logger.Debug("failed to cache result", logging.Int("version", outcome.Version), logging.Error(err))
	}
}

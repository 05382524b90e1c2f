package orchestrator

import (
	"context"
	"fmt"

	"deepscan/internal/detection"
	"deepscan/internal/embedcache"
	"deepscan/internal/logging"
	"deepscan/internal/media"
	"deepscan/internal/services"
	"deepscan/internal/store"
)

// vectors is what the detection step consumes, from either the cache or a
// fresh extraction.
type vectors struct {
	combined     [][]float32
	perExtractor []map[string][]float32
	frameTimesMS []float64
	methods      []string
	cacheHit     bool
}

// attempt runs steps 1-7 once. Any error is already tagged.
func (o *Orchestrator) attempt(ctx context.Context, r *run, attempt int) (*Outcome, error) {
	job := r.job
	logger := r.logger.With(logging.Int(logging.FieldAttempt, attempt+1))

	if err := o.step(ctx, r, StageInitialization, store.StatusProcessing, nil, "job started"); err != nil {
		return nil, err
	}
	logger.Info("job attempt started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.String("media_ref", job.MediaRef),
	)

	if err := o.source.Validate(job.MediaRef); err != nil {
		return nil, tag(StageValidation, "validate media", err)
	}
	hash, err := o.source.ContentHash(job.MediaRef)
	if err != nil {
		return nil, tag(StageValidation, "content hash", err)
	}
	info, err := o.source.Probe(ctx, job.MediaRef)
	if err != nil {
		logger.Debug("media probe failed; continuing without metadata", logging.Error(err))
		info = media.Info{}
	}
	if err := o.step(ctx, r, StageValidation, store.StatusProcessing, &hash, "media validated"); err != nil {
		return nil, err
	}
	o.writeAnalysis(r, hash, info, attempt)

	if err := o.step(ctx, r, StageCacheCheck, store.StatusProcessing, nil, "checking embedding cache"); err != nil {
		return nil, err
	}
	var vecs vectors
	entry, hit := embedcache.Entry{}, false
	if r.useCache {
		entry, hit = o.cache.Get(hash)
	}
	if hit {
		vecs = vectorsFromEntry(entry)
		logger.Info("embedding cache hit",
			logging.String(logging.FieldContentHash, hash),
			logging.Int("frames", len(vecs.combined)),
			logging.String(logging.FieldEventType, "cache_hit"),
		)
		if err := o.step(ctx, r, StageCachedInference, store.StatusProcessing, nil, "scoring cached embeddings"); err != nil {
			return nil, err
		}
	} else {
		vecs, err = o.extract(ctx, r, info)
		if err != nil {
			return nil, err
		}
		o.storeEmbeddings(r, hash, vecs)
		if err := o.step(ctx, r, StageDetectionAnalysis, store.StatusProcessing, nil, "scoring embeddings"); err != nil {
			return nil, err
		}
	}

	detectStart := o.now()
	confidences := r.scorer.Score(vecs.combined)
	var overall *float64
	if scored, ok := o.combiner.(OverallScorer); ok {
		if v, ok := scored.Overall(vecs.perExtractor); ok {
			overall = &v
		}
	}
	result, err := detection.Derive(detection.Input{
		Confidences:  confidences,
		FrameTimesMS: vecs.frameTimesMS,
		FrameWidth:   info.Width,
		FrameHeight:  info.Height,
		Methods:      vecs.methods,
		Scorer:       r.scorer.Name(),
		Overall:      overall,
		TotalTimeMS:  float64(o.now().Sub(r.started).Microseconds()) / 1000,
	}, o.thresholds)
	if err != nil {
		return nil, tag(StageDetectionAnalysis, "derive result", err)
	}
	if err := detection.Seal(&result, job.ID, hash); err != nil {
		return nil, tag(StageDetectionAnalysis, "seal result", err)
	}
	logger.Debug("detection derived",
		logging.Float64("overall_confidence", result.OverallConfidence),
		logging.Int("suspicious_frames", result.Summary.SuspiciousFrames),
		logging.Duration("detection_duration", o.now().Sub(detectStart)),
	)

	if err := o.step(ctx, r, StageStoringResults, store.StatusProcessing, nil, "storing results"); err != nil {
		return nil, err
	}
	elapsed := o.now().Sub(r.started)
	metrics := o.buildMetrics(r, info, len(result.Frames), vecs.cacheHit, elapsed)
	version, err := o.persist(ctx, r, result, metrics)
	if err != nil {
		return nil, err
	}
	if err := o.step(ctx, r, StageCompleted, store.StatusCompleted, nil, "detection complete"); err != nil {
		return nil, err
	}

	outcome := &Outcome{
		JobID:          job.ID,
		ContentHash:    hash,
		Result:         result,
		Metrics:        metrics,
		Version:        version,
		ProcessingTime: elapsed,
	}
	o.writeResult(r, outcome)
	logger.Info("job completed",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.Float64("overall_confidence", result.OverallConfidence),
		logging.Int("frames", len(result.Frames)),
		logging.Bool("cache_hit", vecs.cacheHit),
		logging.Int("retry_count", r.retries),
		logging.Duration("elapsed", elapsed),
	)
	if o.observer != nil {
		o.observer.JobFinished(store.StatusCompleted, "", vecs.cacheHit, elapsed, len(result.Frames))
	}
	return outcome, nil
}

// step persists a stage boundary and then publishes it.
func (o *Orchestrator) step(ctx context.Context, r *run, stage Stage, status store.Status, contentHash *string, message string) error {
	if err := ctx.Err(); err != nil {
		return tag(stage, "stage boundary", err)
	}
	pct := r.tracker.advance(stage.Name, stage.Percent)
	name := stage.Name
	if _, err := o.store.UpdateStatus(ctx, r.job.ID, store.StatusUpdate{
		Status:      status,
		Progress:    &pct,
		Stage:       &name,
		ContentHash: contentHash,
	}); err != nil {
		return tag(stage, "update status", err)
	}
	o.publish(r, status, stage.Name, pct, message)
	if o.observer != nil {
		o.observer.StageReached(stage.Name)
	}
	return nil
}

// extract streams the media through the combiner. The decoder runs under
// the hard-limit context and cancellation is checked between batches, so a
// soft deadline lets the current batch finish.
func (o *Orchestrator) extract(ctx context.Context, r *run, info media.Info) (vectors, error) {
	stream, err := o.source.Open(services.HardLimitContext(ctx), r.job.MediaRef)
	if err != nil {
		return vectors{}, tag(StageFrameExtraction, "open media", err)
	}
	defer stream.Close()

	if err := o.step(ctx, r, StageFrameExtraction, store.StatusProcessing, nil, "extracting frames"); err != nil {
		return vectors{}, err
	}

	expected := info.Frames
	if expected <= 0 {
		expected = stream.Info().Frames
	}
	span := StageEmbedding.Percent - StageFrameExtraction.Percent
	start := o.now()
	out := vectors{}
	for _, ex := range o.combiner.Extractors() {
		out.methods = append(out.methods, ex.Name)
	}
	for {
		if err := ctx.Err(); err != nil {
			return vectors{}, tag(StageFrameExtraction, "extract frames", err)
		}
		batch, more, err := stream.Next(o.batchSize)
		if err != nil {
			return vectors{}, tag(StageFrameExtraction, "read batch", interrupted(ctx, err))
		}
		if batch.Len() > 0 {
			combined, err := o.combiner.Combine(ctx, batch)
			if err != nil {
				return vectors{}, tag(StageEmbedding, "combine batch", err)
			}
			elapsed := float64(o.now().Sub(start).Microseconds()) / 1000
			for range batch.Frames {
				out.frameTimesMS = append(out.frameTimesMS, elapsed)
			}
			out.combined = append(out.combined, combined.Combined...)
			for i := range batch.Frames {
				frame := make(map[string][]float32, len(combined.PerExtractor))
				for name, vecs := range combined.PerExtractor {
					if i < len(vecs) {
						frame[name] = vecs[i]
					}
				}
				out.perExtractor = append(out.perExtractor, frame)
			}
			if expected > 0 && more {
				pct := StageFrameExtraction.Percent + span*len(out.combined)/expected
				pct = min(pct, StageEmbedding.Percent-1)
				o.publish(r, store.StatusProcessing, StageFrameExtraction.Name, r.tracker.advance(StageFrameExtraction.Name, pct),
					fmt.Sprintf("processed %d of ~%d frames", len(out.combined), expected))
			}
		}
		if !more {
			break
		}
	}
	if len(out.combined) == 0 {
		return vectors{}, tag(StageFrameExtraction, "extract frames", errNoFrames)
	}
	if stream.Truncated() {
		r.logger.Info("frame guard truncated extraction", logging.Int("frames", len(out.combined)))
	}
	if err := o.step(ctx, r, StageEmbedding, store.StatusProcessing, nil,
		fmt.Sprintf("generated embeddings for %d frames", len(out.combined))); err != nil {
		return vectors{}, err
	}
	return out, nil
}

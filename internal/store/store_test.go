package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"deepscan/internal/detection"
	"deepscan/internal/services"
	"deepscan/internal/store"
	"deepscan/internal/testsupport"
)

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func sampleResult(confidences ...float64) detection.Result {
	frames := make([]detection.FrameResult, len(confidences))
	for i, c := range confidences {
		frames[i] = detection.FrameResult{
			FrameNumber:       i,
			Confidence:        c,
			SuspiciousRegions: []detection.Region{},
			ProcessingTimeMS:  float64(i+1) * 10,
		}
		if c > 0.7 {
			frames[i].SuspiciousRegions = append(frames[i].SuspiciousRegions, detection.Region{
				Width: 224, Height: 224, Confidence: c,
				Method: detection.MethodEnsemble, AnomalyType: detection.AnomalyFaceSwap, Severity: detection.SeverityHigh,
			})
		}
	}
	return detection.Result{
		OverallConfidence: 0.5,
		Frames:            frames,
		Summary:           detection.Summary{TotalFrames: len(frames), Methods: []string{"cnn"}, Scorer: "variance"},
		ModelVersion:      detection.DefaultModelName,
	}
}

func TestOpenCreatesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	if st.Driver() != "sqlite" {
		t.Fatalf("expected sqlite driver, got %q", st.Driver())
	}
	if err := st.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	st.Close()

	reopened := testsupport.MustOpenStore(t, cfg)
	if _, err := reopened.Stats(context.Background()); err != nil {
		t.Fatalf("Stats after reopen: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := store.OpenDSN(context.Background(), "mysql", filepath.Join(t.TempDir(), "x.db"))
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestUpsertJobIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := &store.Job{ID: "job-1", MediaRef: "/media/a.mp4", Filename: "a.mp4", MaxRetries: 3,
		Config: map[string]string{"scorer": "variance"}}
	if err := st.UpsertJob(ctx, job); err != nil {
		t.Fatalf("UpsertJob: %v", err)
	}
	if _, err := st.UpdateStatus(ctx, "job-1", store.StatusUpdate{Status: store.StatusProcessing, Progress: intPtr(20)}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	job.FileSizeBytes = 42
	if err := st.UpsertJob(ctx, job); err != nil {
		t.Fatalf("second UpsertJob: %v", err)
	}

	got, err := st.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.FileSizeBytes != 42 || got.Status != store.StatusProcessing || got.ProgressPercentage != 20 {
		t.Fatalf("unexpected job after re-upsert: %+v", got)
	}
	if got.Config["scorer"] != "variance" {
		t.Fatalf("config not round tripped: %+v", got.Config)
	}
	jobs, err := st.ListJobs(ctx, store.ListFilter{})
	if err != nil || len(jobs) != 1 {
		t.Fatalf("expected one job, got %d (%v)", len(jobs), err)
	}
}

func TestGetJobNotFound(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	_, err := st.GetJob(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) || !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := st.GetFullResult(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found from GetFullResult, got %v", err)
	}
}

func TestUpdateStatusLifecycle(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	job := testsupport.NewJob(t, st, "/media/a.mp4")

	steps := []struct {
		update   store.StatusUpdate
		progress int
	}{
		{store.StatusUpdate{Status: store.StatusProcessing, Progress: intPtr(40), Stage: strPtr("embedding_generation")}, 40},
		{store.StatusUpdate{Status: store.StatusRetrying, RetryCount: intPtr(1), Error: strPtr("boom")}, 40},
		{store.StatusUpdate{Status: store.StatusProcessing, Progress: intPtr(20)}, 40},
		{store.StatusUpdate{Status: store.StatusCompleted, Progress: intPtr(100), Stage: strPtr("completed")}, 100},
	}
	for _, step := range steps {
		got, err := st.UpdateStatus(ctx, job.ID, step.update)
		if err != nil {
			t.Fatalf("UpdateStatus(%s): %v", step.update.Status, err)
		}
		if got.ProgressPercentage != step.progress {
			t.Fatalf("status %s: expected progress %d, got %d", step.update.Status, step.progress, got.ProgressPercentage)
		}
	}

	got, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatalf("expected started and completed timestamps: %+v", got)
	}
	if got.RetryCount != 1 || got.ErrorMessage != "boom" || got.ProgressStage != "completed" {
		t.Fatalf("unexpected final job: %+v", got)
	}

	if _, err := st.UpdateStatus(ctx, job.ID, store.StatusUpdate{Status: store.StatusProcessing}); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition out of terminal state, got %v", err)
	}
	if _, err := st.UpdateStatus(ctx, job.ID, store.StatusUpdate{Status: store.StatusCompleted}); err != nil {
		t.Fatalf("repeating terminal status should be allowed: %v", err)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to store.Status
		want     bool
	}{
		{store.StatusQueued, store.StatusProcessing, true},
		{store.StatusQueued, store.StatusCompleted, false},
		{store.StatusProcessing, store.StatusRetrying, true},
		{store.StatusRetrying, store.StatusProcessing, true},
		{store.StatusRetrying, store.StatusCompleted, false},
		{store.StatusCompleted, store.StatusFailed, false},
		{store.StatusFailed, store.StatusFailed, true},
	}
	for _, tc := range cases {
		if got := store.CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestResultUpsertsAndVersioning(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	job := testsupport.NewJob(t, st, "/media/a.mp4")

	first := sampleResult(0.3, 0.5, 0.9)
	version, err := st.UpsertDetectionResult(ctx, job.ID, first)
	if err != nil || version != 1 {
		t.Fatalf("first UpsertDetectionResult: version=%d err=%v", version, err)
	}
	if err := st.UpsertFrameResults(ctx, job.ID, first.Frames); err != nil {
		t.Fatalf("UpsertFrameResults: %v", err)
	}
	if err := st.UpsertMetrics(ctx, job.ID, store.Metrics{TotalFrames: 3, CacheHit: true, TaskID: "task-1", RetryCount: 1}); err != nil {
		t.Fatalf("UpsertMetrics: %v", err)
	}

	second := sampleResult(0.2, 0.4)
	version, err = st.UpsertDetectionResult(ctx, job.ID, second)
	if err != nil || version != 2 {
		t.Fatalf("second UpsertDetectionResult: version=%d err=%v", version, err)
	}
	if err := st.UpsertFrameResults(ctx, job.ID, second.Frames); err != nil {
		t.Fatalf("second UpsertFrameResults: %v", err)
	}

	full, err := st.GetFullResult(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetFullResult: %v", err)
	}
	if full.Detection == nil || full.Metrics == nil {
		t.Fatalf("expected detection and metrics: %+v", full)
	}
	if full.Detection.Version != 2 {
		t.Fatalf("expected version 2, got %d", full.Detection.Version)
	}
	if len(full.Detection.Frames) != 2 {
		t.Fatalf("stale frames not removed: %+v", full.Detection.Frames)
	}
	for _, frame := range full.Detection.Frames {
		if len(frame.SuspiciousRegions) != 0 {
			t.Fatalf("stale regions not removed: %+v", frame)
		}
	}
	if full.Detection.Summary.Scorer != "variance" || full.Detection.ModelVersion != detection.DefaultModelName {
		t.Fatalf("unexpected summary: %+v", full.Detection)
	}
	if !full.Metrics.CacheHit || full.Metrics.TaskID != "task-1" || full.Metrics.RetryCount != 1 {
		t.Fatalf("unexpected metrics: %+v", full.Metrics)
	}
}

func TestFrameRegionsRoundTrip(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	job := testsupport.NewJob(t, st, "/media/a.mp4")

	result := sampleResult(0.1, 0.95)
	if _, err := st.UpsertDetectionResult(ctx, job.ID, result); err != nil {
		t.Fatalf("UpsertDetectionResult: %v", err)
	}
	if err := st.UpsertFrameResults(ctx, job.ID, result.Frames); err != nil {
		t.Fatalf("UpsertFrameResults: %v", err)
	}
	full, err := st.GetFullResult(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetFullResult: %v", err)
	}
	regions := full.Detection.Frames[1].SuspiciousRegions
	if len(regions) != 1 || regions[0].Severity != detection.SeverityHigh || regions[0].Width != 224 {
		t.Fatalf("unexpected regions: %+v", regions)
	}
	if full.Detection.Frames[0].SuspiciousRegions == nil {
		t.Fatal("expected empty, non-nil region slice")
	}
}

func TestPendingJobHasNoResult(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	job := testsupport.NewJob(t, st, "/media/a.mp4")

	full, err := st.GetFullResult(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetFullResult: %v", err)
	}
	if full.Detection != nil || full.Metrics != nil || full.Job.Status != store.StatusQueued {
		t.Fatalf("unexpected full result for queued job: %+v", full)
	}
}

func TestClaimNextLeasesEachJobOnce(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		testsupport.NewJob(t, st, "/media/a.mp4")
	}

	var (
		mu      sync.Mutex
		claimed = map[string]string{}
		wg      sync.WaitGroup
	)
	for w := 0; w < 3; w++ {
		worker := []string{"w0", "w1", "w2"}[w]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := st.ClaimNext(ctx, worker)
				if err != nil {
					t.Errorf("ClaimNext: %v", err)
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				if prev, ok := claimed[job.ID]; ok {
					t.Errorf("job %s claimed by %s and %s", job.ID, prev, worker)
				}
				claimed[job.ID] = worker
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(claimed) != 6 {
		t.Fatalf("expected 6 claims, got %d", len(claimed))
	}
}

func TestReclaimAndReset(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	running := testsupport.NewJob(t, st, "/media/a.mp4")
	leased := testsupport.NewJob(t, st, "/media/b.mp4")

	for range 2 {
		if job, err := st.ClaimNext(ctx, "w0"); err != nil || job == nil {
			t.Fatalf("ClaimNext: %v %v", job, err)
		}
	}
	if _, err := st.UpdateStatus(ctx, running.ID, store.StatusUpdate{Status: store.StatusProcessing}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if err := st.Heartbeat(ctx, running.ID, "w0"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	reclaimed, err := st.ReclaimStale(ctx, time.Now().Add(-time.Hour))
	if err != nil || reclaimed != 0 {
		t.Fatalf("fresh heartbeats should not be reclaimed: %d %v", reclaimed, err)
	}
	reclaimed, err = st.ReclaimStale(ctx, time.Now().Add(time.Hour))
	if err != nil || reclaimed != 2 {
		t.Fatalf("expected 2 reclaimed jobs, got %d %v", reclaimed, err)
	}
	got, err := st.GetJob(ctx, running.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != store.StatusQueued || got.ClaimedAt != nil || got.Worker != "" {
		t.Fatalf("expected requeued job, got %+v", got)
	}

	if job, err := st.ClaimNext(ctx, "w1"); err != nil || job == nil {
		t.Fatalf("ClaimNext after reclaim: %v %v", job, err)
	}
	reset, err := st.ResetStuck(ctx)
	if err != nil || reset != 1 {
		t.Fatalf("expected 1 reset job, got %d %v", reset, err)
	}
	if err := st.ReleaseClaim(ctx, leased.ID); err != nil {
		t.Fatalf("ReleaseClaim: %v", err)
	}
	pending, err := st.CountPending(ctx)
	if err != nil || pending != 2 {
		t.Fatalf("expected 2 pending jobs, got %d %v", pending, err)
	}
}

func TestDeleteOlderThanRemovesTerminalJobs(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	done := testsupport.NewJob(t, st, "/media/a.mp4")
	queued := testsupport.NewJob(t, st, "/media/b.mp4")

	if _, err := st.UpdateStatus(ctx, done.ID, store.StatusUpdate{Status: store.StatusProcessing}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if _, err := st.UpdateStatus(ctx, done.ID, store.StatusUpdate{Status: store.StatusCompleted}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	result := sampleResult(0.9)
	if _, err := st.UpsertDetectionResult(ctx, done.ID, result); err != nil {
		t.Fatalf("UpsertDetectionResult: %v", err)
	}
	if err := st.UpsertFrameResults(ctx, done.ID, result.Frames); err != nil {
		t.Fatalf("UpsertFrameResults: %v", err)
	}

	if removed, err := st.DeleteOlderThan(ctx, time.Now().Add(-time.Hour)); err != nil || removed != 0 {
		t.Fatalf("nothing should be old yet: %d %v", removed, err)
	}
	removed, err := st.DeleteOlderThan(ctx, time.Now().Add(time.Hour))
	if err != nil || removed != 1 {
		t.Fatalf("expected 1 removed, got %d %v", removed, err)
	}
	if _, err := st.GetJob(ctx, done.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected completed job removed, got %v", err)
	}
	if _, err := st.GetJob(ctx, queued.ID); err != nil {
		t.Fatalf("queued job should remain: %v", err)
	}

	health, err := st.Health(ctx)
	if err != nil || health.Total != 1 || health.Queued != 1 {
		t.Fatalf("unexpected health: %+v %v", health, err)
	}
}

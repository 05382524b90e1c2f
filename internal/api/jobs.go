package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"deepscan/internal/embedcache"
	"deepscan/internal/orchestrator"
	"deepscan/internal/progress"
	"deepscan/internal/services"
	"deepscan/internal/store"
	"deepscan/internal/workflow"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeClassified(w, err)
		return
	}
	job, err := s.queue.Submit(r.Context(), workflow.SubmitRequest{
		JobID:         req.JobID,
		MediaRef:      req.MediaRef,
		Filename:      req.Filename,
		FileSizeBytes: req.FileSizeBytes,
		Config:        req.Config,
		MaxRetries:    req.MaxRetries,
	})
	if err != nil {
		writeClassified(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, FromJob(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := store.ListFilter{Limit: defaultListLimit}
	for _, raw := range r.URL.Query()["status"] {
		for _, value := range strings.Split(raw, ",") {
			value = strings.TrimSpace(value)
			if value == "" {
				continue
			}
			status, ok := store.ParseStatus(value)
			if !ok {
				writeError(w, http.StatusBadRequest, string(services.KindValidation), fmt.Sprintf("invalid status %q", value))
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			writeError(w, http.StatusBadRequest, string(services.KindValidation), fmt.Sprintf("invalid limit %q", raw))
			return
		}
		filter.Limit = min(value, maxListLimit)
	}
	jobs, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		writeClassified(w, err)
		return
	}
	writeJSON(w, http.StatusOK, JobListResponse{Jobs: FromJobs(jobs)})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeClassified(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromJob(job))
}

// handleGetResult serves result:<id> from the cache when present and falls
// back to the store.
func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if cached, ok := s.cachedResult(id); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}
	full, err := s.store.GetFullResult(r.Context(), id)
	if err != nil {
		writeClassified(w, err)
		return
	}
	resp := ResultResponse{
		JobID:              full.Job.ID,
		Status:             string(full.Job.Status),
		PerformanceMetrics: full.Metrics,
		Source:             SourceStore,
	}
	if full.Detection != nil {
		result := full.Detection.Result
		resp.DetectionResult = &result
		resp.Version = full.Detection.Version
	}
	if full.Metrics != nil {
		resp.ProcessingTimeMS = full.Metrics.TotalProcessingTimeMS
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) cachedResult(id string) (ResultResponse, bool) {
	if s.cache == nil {
		return ResultResponse{}, false
	}
	key, err := embedcache.FormatResultKey(id)
	if err != nil {
		return ResultResponse{}, false
	}
	raw, ok := s.cache.GetValue(key)
	if !ok {
		return ResultResponse{}, false
	}
	var cached orchestrator.CachedResult
	if err := unmarshalJSON(raw, &cached); err != nil {
		return ResultResponse{}, false
	}
	metrics := cached.PerformanceMetrics
	result := cached.DetectionResult
	return ResultResponse{
		JobID:              cached.JobID,
		Status:             cached.Status,
		DetectionResult:    &result,
		PerformanceMetrics: &metrics,
		ProcessingTimeMS:   cached.ProcessingTimeMS,
		Version:            cached.Version,
		Source:             SourceCache,
	}, true
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.progress == nil {
		writeError(w, http.StatusNotFound, string(services.KindNotFound), "progress streaming disabled")
		return
	}
	id := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		writeClassified(w, err)
		return
	}
	// A finished job's topic is gone; replay its final state once.
	if job.Status.Terminal() {
		if _, ok := s.progress.Last(id); !ok {
			s.progress.Publish(id, progress.Event{
				Status:     string(job.Status),
				Percentage: job.ProgressPercentage,
				Stage:      job.ProgressStage,
				Message:    job.ErrorMessage,
			})
		}
	}
	progress.ServeWebSocket(s.progress, w, r, id, s.logger)
}

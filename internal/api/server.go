package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"deepscan/internal/embedcache"
	"deepscan/internal/logging"
	"deepscan/internal/progress"
	"deepscan/internal/services"
	"deepscan/internal/store"
	"deepscan/internal/workflow"
)

// Queue is the submission side of the worker pool.
type Queue interface {
	Submit(ctx context.Context, req workflow.SubmitRequest) (*store.Job, error)
	Status(ctx context.Context) workflow.Status
}

// Options collects the server's collaborators. Store and Queue are
// required; the rest degrade to 404s or empty payloads when nil.
type Options struct {
	Store    *store.Store
	Queue    Queue
	Cache    *embedcache.Cache
	Progress *progress.Broadcaster
	Metrics  http.Handler
	Token    string
	Logger   *slog.Logger
}

// Server serves the HTTP API.
type Server struct {
	store    *store.Store
	queue    Queue
	cache    *embedcache.Cache
	progress *progress.Broadcaster
	metrics  http.Handler
	token    string
	logger   *slog.Logger
}

// NewServer validates opts.
func NewServer(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("api: store is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("api: queue is required")
	}
	return &Server{
		store:    opts.Store,
		queue:    opts.Queue,
		cache:    opts.Cache,
		progress: opts.Progress,
		metrics:  opts.Metrics,
		token:    opts.Token,
		logger:   logging.NewComponentLogger(opts.Logger, "api"),
	}, nil
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware(s.token))
		r.Post("/jobs", s.handleSubmit)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Get("/jobs/{id}/result", s.handleGetResult)
		r.Get("/jobs/{id}/events", s.handleEvents)
		r.Get("/cache/keys", s.handleCacheKeys)
		r.Delete("/cache", s.handleCacheInvalidate)
		r.Get("/cache/parse", s.handleCacheParse)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := services.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		r = r.WithContext(ctx)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		logging.WithContext(ctx, s.logger).Debug("http request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Int("bytes", ww.BytesWritten()),
			logging.Duration("elapsed", time.Since(started)),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Store: ComponentHealth{Ready: true}}
	if err := s.store.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Store = ComponentHealth{Ready: false, Detail: err.Error()}
	}
	st := s.queue.Status(r.Context())
	resp.Workers = WorkerHealth{
		Running:   st.Running,
		Owner:     st.Owner,
		Workers:   st.Workers,
		Busy:      st.Busy,
		Held:      st.Held,
		LastError: st.LastError,
	}
	if !st.Running {
		resp.Status = "degraded"
	}
	resp.Queue = st.Queue
	resp.Device = st.Gate
	if s.cache != nil {
		stats := s.cache.Stats()
		resp.Cache = &stats
	}
	status := http.StatusOK
	if !resp.Store.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

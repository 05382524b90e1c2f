package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"deepscan/internal/config"
	"deepscan/internal/embedcache"
	"deepscan/internal/ensemble"
	"deepscan/internal/logging"
	"deepscan/internal/orchestrator"
	"deepscan/internal/store"
)

// Runner executes one job to a terminal state.
type Runner interface {
	Run(ctx context.Context, job *store.Job) (*orchestrator.Outcome, error)
}

// Recorder receives pool measurements. metrics.Collector implements it.
type Recorder interface {
	SubmissionAccepted()
	SubmissionRejected(reason string)
	WorkerBusy(delta int)
	WorkerRecycled()
	JobsReclaimed(n int64)
}

// Pool coordinates the dispatcher, workers and maintenance loops.
type Pool struct {
	cfg      *config.Config
	store    *store.Store
	runner   Runner
	logger   *slog.Logger
	recorder Recorder
	cache    *embedcache.Cache
	gate     func() ensemble.GateStats
	owner    string

	startLimiter     *rate.Limiter
	admissionLimiter *rate.Limiter
	admitMu          sync.Mutex

	jobs chan *store.Job
	wake chan struct{}

	heldMu sync.Mutex
	held   map[string]string // job id -> worker, "" while buffered

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
	busy    int
}

// Option configures optional Pool collaborators.
type Option func(*Pool)

// WithRecorder wires pool metrics.
func WithRecorder(r Recorder) Option {
	return func(p *Pool) { p.recorder = r }
}

// WithCache lets the monitor loop report cache occupancy.
func WithCache(c *embedcache.Cache) Option {
	return func(p *Pool) { p.cache = c }
}

// WithGate lets the monitor loop report device occupancy.
func WithGate(stats func() ensemble.GateStats) Option {
	return func(p *Pool) { p.gate = stats }
}

// NewPool constructs a pool; Start launches it.
func NewPool(cfg *config.Config, st *store.Store, runner Runner, logger *slog.Logger, opts ...Option) *Pool {
	w := cfg.Workers
	buffer := max(w.Concurrency, 1) * max(w.PrefetchMultiplier, 1)
	host, _ := os.Hostname()
	p := &Pool{
		cfg:              cfg,
		store:            st,
		runner:           runner,
		logger:           logging.NewComponentLogger(logger, "workflow"),
		owner:            fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8]),
		startLimiter:     rate.NewLimiter(perMinute(w.RateLimitPerMinute), max(w.Concurrency, 1)),
		admissionLimiter: rate.NewLimiter(perMinute(w.RateLimitPerMinute), max(w.RateLimitPerMinute, 1)),
		jobs:             make(chan *store.Job, buffer),
		wake:             make(chan struct{}, 1),
		held:             make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func perMinute(n int) rate.Limit {
	if n <= 0 {
		return rate.Inf
	}
	return rate.Every(time.Minute / time.Duration(n))
}

// Owner identifies this pool's leases in the store.
func (p *Pool) Owner() string { return p.owner }

func (p *Pool) setLastError(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}

func (p *Pool) adjustBusy(delta int) {
	p.mu.Lock()
	p.busy += delta
	p.mu.Unlock()
	if p.recorder != nil {
		p.recorder.WorkerBusy(delta)
	}
}

func (p *Pool) hold(jobID, worker string) {
	p.heldMu.Lock()
	p.held[jobID] = worker
	p.heldMu.Unlock()
}

func (p *Pool) release(jobID string) {
	p.heldMu.Lock()
	delete(p.held, jobID)
	p.heldMu.Unlock()
}

func (p *Pool) heldJobs() []string {
	p.heldMu.Lock()
	defer p.heldMu.Unlock()
	ids := make([]string, 0, len(p.held))
	for id := range p.held {
		ids = append(ids, id)
	}
	return ids
}

func (p *Pool) notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

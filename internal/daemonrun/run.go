// Package daemonrun assembles the daemon from configuration and runs it
// until the process is signalled.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"deepscan/internal/api"
	"deepscan/internal/config"
	"deepscan/internal/daemon"
	"deepscan/internal/deps"
	"deepscan/internal/detection"
	"deepscan/internal/embedcache"
	"deepscan/internal/ensemble"
	"deepscan/internal/logging"
	"deepscan/internal/media"
	"deepscan/internal/metrics"
	"deepscan/internal/orchestrator"
	"deepscan/internal/progress"
	"deepscan/internal/retry"
	"deepscan/internal/scoring"
	"deepscan/internal/store"
	"deepscan/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Components are the collaborators Build wires together.
type Components struct {
	Store        *store.Store
	Cache        *embedcache.Cache
	Progress     *progress.Broadcaster
	Metrics      *metrics.Collector
	Orchestrator *orchestrator.Orchestrator
	Pool         *workflow.Pool
	Daemon       *daemon.Daemon
}

// Build opens the store and constructs every component. The caller owns
// Daemon and must Close it, which also closes the store.
func Build(cfg *config.Config, logger *slog.Logger) (*Components, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	c, err := assemble(cfg, st, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return c, nil
}

func assemble(cfg *config.Config, st *store.Store, logger *slog.Logger) (*Components, error) {
	cache, err := embedcache.New(cfg.Cache.MaxEntries, embedcache.TTLsFromConfig(cfg.Cache), logger)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	broadcaster := progress.FromConfig(cfg.Progress, logger)
	combiner, gate, err := ensemble.FromConfig(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build ensemble: %w", err)
	}
	scorer, err := scoring.New(cfg.Detection.Scorer)
	if err != nil {
		return nil, fmt.Errorf("build scorer: %w", err)
	}

	collector := metrics.New()
	collector.RegisterCache(cache.Stats)
	collector.RegisterGate(gate.Stats)
	collector.RegisterProgress(broadcaster.Stats)

	orch, err := orchestrator.New(orchestrator.Deps{
		Store:      st,
		Cache:      cache,
		Progress:   broadcaster,
		Combiner:   combiner,
		Source:     orchestrator.NewMediaSource(media.OptionsFromConfig(cfg, logger)),
		Scorer:     scorer,
		Policy:     retry.FromConfig(cfg.Retry),
		Thresholds: detection.ThresholdsFromConfig(cfg.Detection),
		BatchSize:  cfg.Extraction.BatchSize,
		Observer:   collector,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}

	pool := workflow.NewPool(cfg, st, orch, logger,
		workflow.WithRecorder(collector),
		workflow.WithCache(cache),
		workflow.WithGate(gate.Stats),
	)

	server, err := api.NewServer(api.Options{
		Store:    st,
		Queue:    pool,
		Cache:    cache,
		Progress: broadcaster,
		Metrics:  collector.Handler(),
		Token:    cfg.Paths.APIToken,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create api server: %w", err)
	}

	d, err := daemon.New(cfg, st, cache, pool, server.Router(), logger)
	if err != nil {
		return nil, fmt.Errorf("create daemon: %w", err)
	}
	return &Components{
		Store:        st,
		Cache:        cache,
		Progress:     broadcaster,
		Metrics:      collector,
		Orchestrator: orch,
		Pool:         pool,
		Daemon:       d,
	}, nil
}

// Run starts the daemon and blocks until SIGINT/SIGTERM or ctx ends.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logPath := filepath.Join(cfg.Paths.LogDir, logging.LogFileName)
	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	pidPath := filepath.Join(cfg.Paths.DataDir, "deepscand.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	components, err := Build(cfg, logger)
	if err != nil {
		logger.Error("daemon assembly failed", logging.Error(err))
		return err
	}
	defer components.Daemon.Close()

	if err := components.Daemon.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the lock file, store DSN and API bind address"),
			logging.String(logging.FieldImpact, "no jobs will be processed"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("deepscan daemon shutting down")
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("store_driver", cfg.Store.Driver),
		logging.String("scorer", cfg.Detection.Scorer),
		logging.String("extractors", strings.Join(cfg.Ensemble.Extractors, ",")),
		logging.Bool("retention_enabled", cfg.Retention.Enabled),
	}
	for _, status := range deps.CheckBinaries(deps.MediaRequirements(cfg.Paths)) {
		key := strings.ToLower(status.Name)
		attrs = append(attrs,
			logging.Bool(key+"_available", status.Available),
			logging.String(key+"_binary", status.Command),
		)
	}
	logger.LogAttrs(context.Background(), slog.LevelInfo, "dependency snapshot", attrs...)
}

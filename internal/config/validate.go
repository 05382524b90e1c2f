package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var knownScorers = map[string]struct{}{
	"variance": {},
	"norm":     {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateExtraction(); err != nil {
		return err
	}
	if err := c.validateEnsemble(); err != nil {
		return err
	}
	if err := c.validateDetection(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateRetention(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateWorkers() error {
	if err := ensurePositiveMap(map[string]int{
		"workers.concurrency":           c.Workers.Concurrency,
		"workers.prefetch_multiplier":   c.Workers.PrefetchMultiplier,
		"workers.max_tasks_per_worker":  c.Workers.MaxTasksPerWorker,
		"workers.max_pending":           c.Workers.MaxPending,
		"workers.rate_limit_per_minute": c.Workers.RateLimitPerMinute,
		"workers.soft_time_limit":       c.Workers.SoftTimeLimit,
		"workers.hard_time_limit":       c.Workers.HardTimeLimit,
		"workers.heartbeat_interval":    c.Workers.HeartbeatInterval,
		"workers.heartbeat_timeout":     c.Workers.HeartbeatTimeout,
	}); err != nil {
		return err
	}
	if c.Workers.PollInterval < 0 {
		return errors.New("workers.poll_interval must be >= 0")
	}
	if c.Workers.MonitorInterval < 0 {
		return errors.New("workers.monitor_interval must be >= 0")
	}
	if c.Workers.HardTimeLimit < c.Workers.SoftTimeLimit {
		return errors.New("workers.hard_time_limit must be >= workers.soft_time_limit")
	}
	if c.Workers.HeartbeatTimeout <= c.Workers.HeartbeatInterval {
		return errors.New("workers.heartbeat_timeout must be greater than workers.heartbeat_interval")
	}
	if c.Workers.DeviceMemoryFraction <= 0 || c.Workers.DeviceMemoryFraction > 1 {
		return errors.New("workers.device_memory_fraction must be in (0, 1]")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxRetries < 0 {
		return errors.New("retry.max_retries must be >= 0")
	}
	if c.Retry.DefaultDelay < 0 {
		return errors.New("retry.default_delay must be >= 0")
	}
	if c.Retry.BackoffMax < c.Retry.DefaultDelay {
		return errors.New("retry.backoff_max must be >= retry.default_delay")
	}
	return nil
}

func (c *Config) validateCache() error {
	if err := ensurePositiveMap(map[string]int{
		"cache.max_entries":    c.Cache.MaxEntries,
		"cache.embedding_ttl":  c.Cache.EmbeddingTTL,
		"cache.analysis_ttl":   c.Cache.AnalysisTTL,
		"cache.result_ttl":     c.Cache.ResultTTL,
		"cache.session_ttl":    c.Cache.SessionTTL,
		"cache.sweep_interval": c.Cache.SweepInterval,
	}); err != nil {
		return err
	}
	// A fully extracted entry needs one key per frame plus its manifest.
	if c.Cache.MaxEntries <= c.Extraction.MaxFrames {
		return fmt.Errorf("cache.max_entries (%d) must exceed extraction.max_frames (%d)", c.Cache.MaxEntries, c.Extraction.MaxFrames)
	}
	return nil
}

func (c *Config) validateExtraction() error {
	if err := ensurePositiveMap(map[string]int{
		"extraction.batch_size":   c.Extraction.BatchSize,
		"extraction.max_frames":   c.Extraction.MaxFrames,
		"extraction.frame_width":  c.Extraction.FrameWidth,
		"extraction.frame_height": c.Extraction.FrameHeight,
	}); err != nil {
		return err
	}
	if len(c.Extraction.SupportedFormats) == 0 {
		return errors.New("extraction.supported_formats must include at least one container format")
	}
	return nil
}

func (c *Config) validateEnsemble() error {
	if len(c.Ensemble.Extractors) == 0 {
		return errors.New("ensemble.extractors must include at least one extractor")
	}
	for _, name := range c.Ensemble.Extractors {
		weight, ok := c.Ensemble.Weights[name]
		if !ok {
			return fmt.Errorf("ensemble.weights is missing a weight for extractor %q", name)
		}
		if weight < 0 {
			return fmt.Errorf("ensemble.weights.%s must be >= 0", name)
		}
	}
	return nil
}

func (c *Config) validateDetection() error {
	if _, ok := knownScorers[c.Detection.Scorer]; !ok {
		names := make([]string, 0, len(knownScorers))
		for name := range knownScorers {
			names = append(names, name)
		}
		sort.Strings(names)
		return fmt.Errorf("detection.scorer: unsupported value %q (expected one of %s)", c.Detection.Scorer, strings.Join(names, ", "))
	}
	for key, value := range map[string]float64{
		"detection.suspicious_threshold":    c.Detection.SuspiciousThreshold,
		"detection.high_severity_threshold": c.Detection.HighSeverityThreshold,
		"detection.low_confidence_ceiling":  c.Detection.LowConfidenceCeiling,
	} {
		if value < 0 || value > 1 {
			return fmt.Errorf("%s must be between 0 and 1", key)
		}
	}
	if c.Detection.LowConfidenceCeiling > c.Detection.SuspiciousThreshold {
		return errors.New("detection.low_confidence_ceiling must not exceed detection.suspicious_threshold")
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case "sqlite":
		return nil
	case "pgx", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set when store.driver is %q", c.Store.Driver)
		}
		return nil
	default:
		return fmt.Errorf("store.driver: unsupported value %q", c.Store.Driver)
	}
}

func (c *Config) validateRetention() error {
	if !c.Retention.Enabled {
		return nil
	}
	if c.Retention.Days <= 0 {
		return errors.New("retention.days must be positive when retention.enabled is true")
	}
	if c.Retention.Interval <= 0 {
		return errors.New("retention.interval must be positive when retention.enabled is true")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	c.applyEnvOverrides()
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeExtraction()
	c.normalizeEnsemble()
	c.normalizeStore()
	c.normalizeLogging()
	return nil
}

// applyEnvOverrides honours DEEPSCAN_* variables for the settings operators
// most often change per deployment.
func (c *Config) applyEnvOverrides() {
	if value, ok := os.LookupEnv("DEEPSCAN_DATA_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.DataDir = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv("DEEPSCAN_API_BIND"); ok && strings.TrimSpace(value) != "" {
		c.Paths.APIBind = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv("DEEPSCAN_API_TOKEN"); ok {
		c.Paths.APIToken = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv("DEEPSCAN_STORE_DRIVER"); ok && strings.TrimSpace(value) != "" {
		c.Store.Driver = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv("DEEPSCAN_STORE_DSN"); ok && strings.TrimSpace(value) != "" {
		c.Store.DSN = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv("DEEPSCAN_WORKER_CONCURRENCY"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			c.Workers.Concurrency = n
		}
	}
	if value, ok := os.LookupEnv("DEEPSCAN_LOG_LEVEL"); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = strings.TrimSpace(value)
	}
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LockFile) != "" {
		if c.Paths.LockFile, err = expandPath(c.Paths.LockFile); err != nil {
			return fmt.Errorf("paths.lock_file: %w", err)
		}
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIURL = strings.TrimRight(strings.TrimSpace(c.Paths.APIURL), "/")
	if c.Paths.APIURL == "" && c.Paths.APIBind != "" {
		c.Paths.APIURL = "http://" + c.Paths.APIBind
	}
	if strings.TrimSpace(c.Paths.FFmpeg) == "" {
		c.Paths.FFmpeg = defaultFFmpeg
	}
	if strings.TrimSpace(c.Paths.FFprobe) == "" {
		c.Paths.FFprobe = defaultFFprobe
	}
	return nil
}

func (c *Config) normalizeExtraction() {
	formats := make([]string, 0, len(c.Extraction.SupportedFormats))
	seen := make(map[string]struct{}, len(c.Extraction.SupportedFormats))
	for _, format := range c.Extraction.SupportedFormats {
		format = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
		if format == "" {
			continue
		}
		if _, ok := seen[format]; ok {
			continue
		}
		seen[format] = struct{}{}
		formats = append(formats, format)
	}
	c.Extraction.SupportedFormats = formats
}

func (c *Config) normalizeEnsemble() {
	names := make([]string, 0, len(c.Ensemble.Extractors))
	for _, name := range c.Ensemble.Extractors {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			names = append(names, name)
		}
	}
	c.Ensemble.Extractors = names
	weights := make(map[string]float64, len(c.Ensemble.Weights))
	for name, weight := range c.Ensemble.Weights {
		weights[strings.ToLower(strings.TrimSpace(name))] = weight
	}
	c.Ensemble.Weights = weights
	c.Detection.Scorer = strings.ToLower(strings.TrimSpace(c.Detection.Scorer))
	if c.Detection.Scorer == "" {
		c.Detection.Scorer = defaultScorer
	}
}

func (c *Config) normalizeStore() {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = defaultStoreDriver
	}
	c.Store.DSN = strings.TrimSpace(c.Store.DSN)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

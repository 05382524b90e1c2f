package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIURL   string `toml:"api_url"`
	APIToken string `toml:"api_token"`
	FFmpeg   string `toml:"ffmpeg"`
	FFprobe  string `toml:"ffprobe"`
	LockFile string `toml:"lock_file"`
}

// Workers contains worker pool sizing and per-job limits.
type Workers struct {
	Concurrency          int     `toml:"concurrency"`
	PrefetchMultiplier   int     `toml:"prefetch_multiplier"`
	MaxTasksPerWorker    int     `toml:"max_tasks_per_worker"`
	MaxPending           int     `toml:"max_pending"`
	RateLimitPerMinute   int     `toml:"rate_limit_per_minute"`
	SoftTimeLimit        int     `toml:"soft_time_limit"`
	HardTimeLimit        int     `toml:"hard_time_limit"`
	PollInterval         int     `toml:"poll_interval"`
	HeartbeatInterval    int     `toml:"heartbeat_interval"`
	HeartbeatTimeout     int     `toml:"heartbeat_timeout"`
	DeviceExclusive      bool    `toml:"device_exclusive"`
	DeviceMemoryFraction float64 `toml:"device_memory_fraction"`
	MonitorInterval      int     `toml:"monitor_interval"`
}

// Retry contains the bounded retry policy applied to every job execution.
type Retry struct {
	MaxRetries   int  `toml:"max_retries"`
	DefaultDelay int  `toml:"default_delay"`
	BackoffMax   int  `toml:"backoff_max"`
	Jitter       bool `toml:"jitter"`
}

// Cache contains embedding cache capacity and per-class TTLs (seconds).
type Cache struct {
	MaxEntries    int `toml:"max_entries"`
	EmbeddingTTL  int `toml:"embedding_ttl"`
	AnalysisTTL   int `toml:"analysis_ttl"`
	ResultTTL     int `toml:"result_ttl"`
	SessionTTL    int `toml:"session_ttl"`
	SweepInterval int `toml:"sweep_interval"`
}

// Extraction contains frame decoding parameters.
type Extraction struct {
	BatchSize        int      `toml:"batch_size"`
	MaxFrames        int      `toml:"max_frames"`
	FrameWidth       int      `toml:"frame_width"`
	FrameHeight      int      `toml:"frame_height"`
	SupportedFormats []string `toml:"supported_formats"`
}

// Ensemble contains the extractor set and its combination weights.
type Ensemble struct {
	Extractors []string           `toml:"extractors"`
	Weights    map[string]float64 `toml:"weights"`
}

// Detection contains scoring thresholds. The scorer itself is pluggable.
type Detection struct {
	Scorer                string  `toml:"scorer"`
	SuspiciousThreshold   float64 `toml:"suspicious_threshold"`
	HighSeverityThreshold float64 `toml:"high_severity_threshold"`
	LowConfidenceCeiling  float64 `toml:"low_confidence_ceiling"`
}

// Progress contains broadcaster tuning.
type Progress struct {
	PublishTimeoutMillis int `toml:"publish_timeout_ms"`
	SubscriberBuffer     int `toml:"subscriber_buffer"`
}

// Store selects the result store backend.
type Store struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// Retention controls background cleanup of old results. Disabled unless
// explicitly enabled.
type Retention struct {
	Enabled  bool `toml:"enabled"`
	Days     int  `toml:"days"`
	Interval int  `toml:"interval"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for deepscan.
//
// Configuration sections by subsystem:
//   - Paths: directories, API bind address, decoder binaries
//   - Workers: pool size, recycling, rate limit, time limits, device gate
//   - Retry: bounded retry with exponential backoff
//   - Cache: embedding cache capacity and TTL per key class
//   - Extraction: batch size, frame guard, frame geometry, formats
//   - Ensemble: extractor names and weights
//   - Detection: scorer selection and thresholds
//   - Progress: broadcaster publish timeout and buffers
//   - Store: result store driver and DSN
//   - Retention: opt-in cleanup of old results
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	Workers    Workers    `toml:"workers"`
	Retry      Retry      `toml:"retry"`
	Cache      Cache      `toml:"cache"`
	Extraction Extraction `toml:"extraction"`
	Ensemble   Ensemble   `toml:"ensemble"`
	Detection  Detection  `toml:"detection"`
	Progress   Progress   `toml:"progress"`
	Store      Store      `toml:"store"`
	Retention  Retention  `toml:"retention"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/deepscan/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	if env, ok := os.LookupEnv("DEEPSCAN_CONFIG"); ok && strings.TrimSpace(env) != "" {
		return resolveConfigPath(strings.TrimSpace(env))
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("deepscan.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StoreDSN returns the data source name for the configured store driver.
// SQLite defaults to a database file inside the data directory.
func (c *Config) StoreDSN() string {
	if dsn := strings.TrimSpace(c.Store.DSN); dsn != "" {
		return dsn
	}
	return filepath.Join(c.Paths.DataDir, "deepscan.db")
}

// LockPath returns the daemon lock file path.
func (c *Config) LockPath() string {
	if strings.TrimSpace(c.Paths.LockFile) != "" {
		return c.Paths.LockFile
	}
	return filepath.Join(c.Paths.DataDir, "deepscand.lock")
}

// Seconds converts an integer seconds setting into a duration.
func Seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}

// CreateSample writes the embedded sample configuration to path. Existing
// files are left untouched unless overwrite is set.
func CreateSample(path string, overwrite bool) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(expanded); err == nil {
			return fmt.Errorf("config file %s already exists", expanded)
		}
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() (string, error) {
	var b strings.Builder
	encoder := toml.NewEncoder(&b)
	if err := encoder.Encode(c); err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return b.String(), nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

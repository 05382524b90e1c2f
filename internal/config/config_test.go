package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"deepscan/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("DEEPSCAN_CONFIG", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "deepscan")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Paths.APIURL != "http://127.0.0.1:7490" {
		t.Fatalf("unexpected api url: %q", cfg.Paths.APIURL)
	}
	if cfg.StoreDSN() != filepath.Join(wantData, "deepscan.db") {
		t.Fatalf("unexpected sqlite dsn: %q", cfg.StoreDSN())
	}
	if cfg.Retention.Enabled {
		t.Fatal("expected retention cleanup disabled by default")
	}
	if cfg.Workers.RateLimitPerMinute != 10 {
		t.Fatalf("unexpected rate limit default: %d", cfg.Workers.RateLimitPerMinute)
	}
	if cfg.Workers.SoftTimeLimit != 1500 || cfg.Workers.HardTimeLimit != 1800 {
		t.Fatalf("unexpected time limits: soft=%d hard=%d", cfg.Workers.SoftTimeLimit, cfg.Workers.HardTimeLimit)
	}
	if cfg.Cache.AnalysisTTL != 1800 || cfg.Cache.SessionTTL != 7200 {
		t.Fatalf("unexpected cache ttl defaults: %+v", cfg.Cache)
	}
}

func TestLoadReadsTOMLAndEnvOverrides(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("DEEPSCAN_WORKER_CONCURRENCY", "6")

	path := filepath.Join(t.TempDir(), "deepscan.toml")
	content := `
[paths]
data_dir = "~/scan-data"

[retry]
max_retries = 5
default_delay = 2
backoff_max = 30

[ensemble]
extractors = ["CNN"]

[ensemble.weights]
cnn = 1.5

[retention]
enabled = true
days = 7
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected config at %q to exist, got %q exists=%v", path, resolved, exists)
	}
	if cfg.Paths.DataDir != filepath.Join(tempHome, "scan-data") {
		t.Fatalf("unexpected data dir: %q", cfg.Paths.DataDir)
	}
	if cfg.Workers.Concurrency != 6 {
		t.Fatalf("expected env concurrency override, got %d", cfg.Workers.Concurrency)
	}
	if cfg.Retry.MaxRetries != 5 || cfg.Retry.DefaultDelay != 2 {
		t.Fatalf("unexpected retry config: %+v", cfg.Retry)
	}
	if len(cfg.Ensemble.Extractors) != 1 || cfg.Ensemble.Extractors[0] != "cnn" {
		t.Fatalf("expected extractor names to be lowercased, got %v", cfg.Ensemble.Extractors)
	}
	if !cfg.Retention.Enabled || cfg.Retention.Days != 7 {
		t.Fatalf("unexpected retention config: %+v", cfg.Retention)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "deepscan.toml")
	if err := os.WriteFile(path, []byte("[workers]\nconcurency = 4\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"zero concurrency", func(c *config.Config) { c.Workers.Concurrency = 0 }, "workers.concurrency"},
		{"hard below soft", func(c *config.Config) { c.Workers.HardTimeLimit = 10; c.Workers.SoftTimeLimit = 20 }, "hard_time_limit"},
		{"negative retries", func(c *config.Config) { c.Retry.MaxRetries = -1 }, "retry.max_retries"},
		{"backoff below delay", func(c *config.Config) { c.Retry.BackoffMax = 1 }, "retry.backoff_max"},
		{"missing weight", func(c *config.Config) { c.Ensemble.Extractors = append(c.Ensemble.Extractors, "extra") }, "missing a weight"},
		{"memory fraction", func(c *config.Config) { c.Workers.DeviceMemoryFraction = 1.5 }, "device_memory_fraction"},
		{"unknown scorer", func(c *config.Config) { c.Detection.Scorer = "oracle" }, "detection.scorer"},
		{"postgres without dsn", func(c *config.Config) { c.Store.Driver = "pgx" }, "store.dsn"},
		{"unknown driver", func(c *config.Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"retention days", func(c *config.Config) { c.Retention.Enabled = true; c.Retention.Days = 0 }, "retention.days"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"cache smaller than one entry", func(c *config.Config) { c.Cache.MaxEntries = c.Extraction.MaxFrames }, "cache.max_entries"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestSampleConfigMatchesDefaults(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	path := filepath.Join(tempHome, "sample.toml")
	if err := config.CreateSample(path, false); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	if err := config.CreateSample(path, false); err == nil {
		t.Fatal("expected CreateSample to refuse overwriting")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var decoded config.Config
	if err := toml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("sample config is not valid TOML: %v", err)
	}
	defaults := config.Default()
	if decoded.Workers != defaults.Workers {
		t.Fatalf("sample workers drifted from defaults: %+v vs %+v", decoded.Workers, defaults.Workers)
	}
	if decoded.Cache != defaults.Cache {
		t.Fatalf("sample cache drifted from defaults: %+v vs %+v", decoded.Cache, defaults.Cache)
	}
	if decoded.Ensemble.Weights["cnn"] != 0.6 || decoded.Ensemble.Weights["vision_language"] != 0.4 {
		t.Fatalf("sample ensemble weights drifted: %v", decoded.Ensemble.Weights)
	}
}

package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvAppliesFileWithoutOverriding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deepscan.env")
	content := "DEEPSCAN_TEST_FROM_FILE=file\nDEEPSCAN_TEST_PRESET=file\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("DEEPSCAN_TEST_PRESET", "shell")
	t.Setenv("DEEPSCAN_TEST_FROM_FILE", "")
	os.Unsetenv("DEEPSCAN_TEST_FROM_FILE")

	if err := loadEnv(path); err != nil {
		t.Fatalf("loadEnv: %v", err)
	}
	if got := os.Getenv("DEEPSCAN_TEST_FROM_FILE"); got != "file" {
		t.Fatalf("DEEPSCAN_TEST_FROM_FILE = %q, want file", got)
	}
	if got := os.Getenv("DEEPSCAN_TEST_PRESET"); got != "shell" {
		t.Fatalf("existing variable overridden: %q", got)
	}
}

func TestLoadEnvRequiresExplicitFile(t *testing.T) {
	if err := loadEnv(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Fatal("expected error for a missing explicit env file")
	}
}

func TestDaemonRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[workers]\nconcurrency = -1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cmd := newDaemonCommand()
	cmd.SetArgs([]string{"--config", path})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected invalid config to stop the daemon before start")
	}
}

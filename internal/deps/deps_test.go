package deps_test

import (
	"os"
	"path/filepath"
	"testing"

	"deepscan/internal/config"
	"deepscan/internal/deps"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	if err := os.WriteFile(present, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []deps.Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank", Command: "  ", Optional: true},
	}

	results := deps.CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("expected first requirement available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for blank command: %q", results[2].Detail)
	}

	missing := deps.MissingRequired(results)
	if len(missing) != 1 || missing[0].Name != "Missing" {
		t.Fatalf("MissingRequired = %#v", missing)
	}
}

func TestMediaRequirementsAreOptional(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.FFmpeg = "clearly-not-ffmpeg"
	cfg.Paths.FFprobe = "clearly-not-ffprobe"

	statuses := deps.CheckBinaries(deps.MediaRequirements(cfg.Paths))
	if len(statuses) != 2 {
		t.Fatalf("expected two media requirements, got %d", len(statuses))
	}
	if missing := deps.MissingRequired(statuses); len(missing) != 0 {
		t.Fatalf("media binaries should be optional, got %#v", missing)
	}
}

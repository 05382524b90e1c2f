package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"

	"deepscan/internal/config"
)

// Options describes logger construction parameters. OutputPaths and
// ErrorOutputPaths accept "stdout", "stderr" or file paths; duplicates are
// written once.
type Options struct {
	Level            string
	Format           string
	OutputPaths      []string
	ErrorOutputPaths []string
	Development      bool
	// NoColor disables level colouring even when the console sink is a TTY.
	NoColor bool
}

// LogFileName is the daemon log written inside paths.log_dir.
const LogFileName = "deepscan.log"

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// New constructs a slog logger using the provided options.
func New(opts Options) (*slog.Logger, error) {
	level := parseLevel(opts.Level)

	outputs := opts.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	errOutputs := opts.ErrorOutputPaths
	if len(errOutputs) == 0 {
		errOutputs = []string{"stderr"}
	}
	sink, err := openSinks(append(append([]string{}, outputs...), errOutputs...))
	if err != nil {
		return nil, err
	}

	addSource := opts.Development || level <= slog.LevelDebug

	switch format := strings.ToLower(strings.TrimSpace(opts.Format)); format {
	case "json":
		return slog.New(newJSONHandler(sink.writer, level, addSource)), nil
	case "", "console":
		colorize := !opts.NoColor && sink.terminal
		return slog.New(newConsoleHandler(sink.writer, level, addSource, colorize)), nil
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
}

// NewFromConfig builds the daemon logger: stdout plus LogFileName inside the
// configured log directory.
func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{Level: "info"})
	}
	outputs := []string{"stdout"}
	if dir := strings.TrimSpace(cfg.Paths.LogDir); dir != "" {
		outputs = append(outputs, filepath.Join(dir, LogFileName))
	}
	return New(Options{
		Level:            cfg.Logging.Level,
		Format:           cfg.Logging.Format,
		OutputPaths:      outputs,
		ErrorOutputPaths: outputs,
	})
}

func parseLevel(value string) slog.Level {
	if level, ok := levels[strings.ToLower(strings.TrimSpace(value))]; ok {
		return level
	}
	return slog.LevelInfo
}

type sinkSet struct {
	writer io.Writer
	// terminal is true when every destination is an interactive console.
	terminal bool
}

func openSinks(paths []string) (sinkSet, error) {
	seen := make(map[string]struct{}, len(paths))
	var writers []io.Writer
	terminal := true

	for _, raw := range paths {
		path := strings.TrimSpace(raw)
		if path == "" {
			continue
		}
		if _, dup := seen[path]; dup {
			continue
		}
		seen[path] = struct{}{}

		switch path {
		case "stdout", "stderr":
			f := os.Stdout
			if path == "stderr" {
				f = os.Stderr
			}
			// stdout and stderr usually share a terminal; writing both would
			// print every line twice.
			if len(writers) > 0 && isConsole(writers) {
				continue
			}
			writers = append(writers, f)
			terminal = terminal && isatty.IsTerminal(f.Fd())
		default:
			if dir := filepath.Dir(path); dir != "." && dir != "" {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return sinkSet{}, fmt.Errorf("ensure log directory: %w", err)
				}
			}
			file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
			if err != nil {
				return sinkSet{}, fmt.Errorf("open log file %s: %w", path, err)
			}
			writers = append(writers, file)
			terminal = false
		}
	}

	switch len(writers) {
	case 0:
		return sinkSet{writer: os.Stdout, terminal: isatty.IsTerminal(os.Stdout.Fd())}, nil
	case 1:
		return sinkSet{writer: writers[0], terminal: terminal}, nil
	}
	return sinkSet{writer: io.MultiWriter(writers...), terminal: terminal}, nil
}

func isConsole(writers []io.Writer) bool {
	for _, w := range writers {
		if w == os.Stdout || w == os.Stderr {
			return true
		}
	}
	return false
}

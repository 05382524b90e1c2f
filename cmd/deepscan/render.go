package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// stageLabel turns a stage identifier such as "frame_extraction" into
// "Frame Extraction".
func stageLabel(stage string) string {
	stage = strings.TrimSpace(stage)
	if stage == "" {
		return "-"
	}
	return titleCaser.String(strings.ReplaceAll(stage, "_", " "))
}

func shouldColorize(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func statusColors(status string) text.Colors {
	switch strings.ToLower(status) {
	case "completed":
		return text.Colors{text.FgGreen}
	case "failed":
		return text.Colors{text.FgRed}
	case "retrying":
		return text.Colors{text.FgYellow}
	case "processing":
		return text.Colors{text.FgCyan}
	}
	return nil
}

func formatStatus(status string, colorize bool) string {
	label := strings.ToUpper(status)
	if !colorize {
		return label
	}
	if colors := statusColors(status); colors != nil {
		return colors.Sprint(label)
	}
	return label
}

func formatPercent(value int) string {
	return fmt.Sprintf("%d%%", value)
}

func formatConfidence(value float64) string {
	return fmt.Sprintf("%.3f", value)
}

func dash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

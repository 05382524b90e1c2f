package media

import (
	"errors"
	"log/slog"
	"strings"

	"deepscan/internal/config"
)

// ErrUnreadableMedia marks references that cannot be read or decoded, or
// whose container format is unsupported.
var ErrUnreadableMedia = errors.New("unreadable media")

// Reference kinds.
const (
	KindVideo         = "video"
	KindImageSequence = "image_sequence"
)

// Channels is the number of colour planes in a frame tensor.
const Channels = 3

// Frame is one decoded frame as a CHW float32 tensor.
type Frame struct {
	Index  int
	Width  int
	Height int
	Data   []float32
}

// Batch is an ordered run of frames beginning at StartFrame.
type Batch struct {
	StartFrame int
	Frames     []Frame
}

// Len returns the number of frames in the batch.
func (b Batch) Len() int { return len(b.Frames) }

// Info describes a media reference without decoding it.
type Info struct {
	Kind            string  `json:"kind"`
	Format          string  `json:"format"`
	Frames          int     `json:"frames"`
	FPS             float64 `json:"fps"`
	DurationSeconds float64 `json:"duration_seconds"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	SizeBytes       int64   `json:"size_bytes"`
}

// Options configures decoding.
type Options struct {
	FFmpeg           string
	FFprobe          string
	MaxFrames        int
	Width            int
	Height           int
	SupportedFormats []string
	Logger           *slog.Logger
}

// OptionsFromConfig derives decode options from configuration.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) Options {
	return Options{
		FFmpeg:           cfg.Paths.FFmpeg,
		FFprobe:          cfg.Paths.FFprobe,
		MaxFrames:        cfg.Extraction.MaxFrames,
		Width:            cfg.Extraction.FrameWidth,
		Height:           cfg.Extraction.FrameHeight,
		SupportedFormats: append([]string(nil), cfg.Extraction.SupportedFormats...),
		Logger:           logger,
	}
}

func (o Options) withDefaults() Options {
	defaults := config.Default()
	if strings.TrimSpace(o.FFmpeg) == "" {
		o.FFmpeg = defaults.Paths.FFmpeg
	}
	if strings.TrimSpace(o.FFprobe) == "" {
		o.FFprobe = defaults.Paths.FFprobe
	}
	if o.MaxFrames <= 0 {
		o.MaxFrames = defaults.Extraction.MaxFrames
	}
	if o.Width <= 0 {
		o.Width = defaults.Extraction.FrameWidth
	}
	if o.Height <= 0 {
		o.Height = defaults.Extraction.FrameHeight
	}
	if len(o.SupportedFormats) == 0 {
		o.SupportedFormats = defaults.Extraction.SupportedFormats
	}
	return o
}

package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"deepscan/internal/logging"
)

// Stream yields frame batches. It is forward-only and not safe for
// concurrent use; re-Open the reference to read from the start again.
type Stream interface {
	// Next returns up to batchSize frames and whether more remain. A stream
	// with no frames returns an empty batch and false.
	Next(batchSize int) (Batch, bool, error)
	// Info returns what is known about the reference.
	Info() Info
	// Truncated reports whether the max-frame guard cut the stream short.
	Truncated() bool
	Close() error
}

// frameReader produces frames in order, returning io.EOF when exhausted.
type frameReader interface {
	readFrame() ([]float32, error)
	close() error
}

// Open validates ref and returns a stream over its frames.
func Open(ctx context.Context, ref string, opts Options) (Stream, error) {
	opts = opts.withDefaults()
	kind, format, err := Validate(ref, opts.SupportedFormats)
	if err != nil {
		return nil, err
	}
	logger := logging.NewComponentLogger(opts.Logger, "media")

	var (
		reader frameReader
		info   Info
	)
	switch kind {
	case KindImageSequence:
		seq, err := newSequenceReader(ref, opts)
		if err != nil {
			return nil, err
		}
		reader = seq
		info = seq.info()
	default:
		info, err = probeVideo(ctx, ref, format, opts)
		if err != nil {
			logger.Debug("ffprobe unavailable; continuing without stream metadata",
				logging.String("media", ref),
				logging.Error(err),
			)
			info = Info{Kind: KindVideo, Format: format}
		}
		reader, err = startFFmpeg(ctx, ref, opts)
		if err != nil {
			return nil, err
		}
	}

	return &stream{
		ref:       ref,
		reader:    reader,
		info:      info,
		width:     opts.Width,
		height:    opts.Height,
		maxFrames: opts.MaxFrames,
		logger:    logger,
	}, nil
}

type stream struct {
	ref       string
	reader    frameReader
	info      Info
	width     int
	height    int
	maxFrames int
	logger    *slog.Logger

	next      []float32
	read      int
	done      bool
	truncated bool
	closed    bool
}

func (s *stream) Info() Info      { return s.info }
func (s *stream) Truncated() bool { return s.truncated }

func (s *stream) Next(batchSize int) (Batch, bool, error) {
	if s.closed {
		return Batch{}, false, errors.New("media stream closed")
	}
	if batchSize <= 0 {
		return Batch{}, false, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	batch := Batch{StartFrame: s.read}
	for len(batch.Frames) < batchSize {
		data, ok, err := s.pull()
		if err != nil {
			return Batch{}, false, err
		}
		if !ok {
			break
		}
		batch.Frames = append(batch.Frames, Frame{
			Index:  s.read,
			Width:  s.width,
			Height: s.height,
			Data:   data,
		})
		s.read++
	}
	more, err := s.peek()
	if err != nil {
		return Batch{}, false, err
	}
	return batch, more, nil
}

// pull returns the look-ahead frame if any, else reads a new one.
func (s *stream) pull() ([]float32, bool, error) {
	if s.next != nil {
		data := s.next
		s.next = nil
		return data, true, nil
	}
	return s.readOne()
}

func (s *stream) peek() (bool, error) {
	if s.next != nil {
		return true, nil
	}
	data, ok, err := s.readOne()
	if err != nil || !ok {
		return false, err
	}
	s.next = data
	return true, nil
}

func (s *stream) readOne() ([]float32, bool, error) {
	if s.done {
		return nil, false, nil
	}
	if s.read >= s.maxFrames {
		s.done = true
		// One more read distinguishes an exact fit from a truncation.
		if _, err := s.reader.readFrame(); err == nil {
			s.truncated = true
			s.logger.Warn("frame extraction truncated",
				logging.String("media", s.ref),
				logging.Int("max_frames", s.maxFrames),
				logging.String(logging.FieldEventType, "frame_guard"),
				logging.String(logging.FieldErrorHint, "raise extraction.max_frames to analyse more frames"),
				logging.String(logging.FieldImpact, "frames beyond the guard are not scored"),
			)
		}
		return nil, false, nil
	}
	data, err := s.reader.readFrame()
	if errors.Is(err, io.EOF) {
		s.done = true
		return nil, false, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, false, fmt.Errorf("frame %d of %s: %w", s.read, s.ref, err)
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: frame %d of %s: %v", ErrUnreadableMedia, s.read, s.ref, err)
	}
	return data, true, nil
}

func (s *stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.next = nil
	return s.reader.close()
}

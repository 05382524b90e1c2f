package media_test

import (
	"context"
	"errors"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"deepscan/internal/logging"
	"deepscan/internal/media"
	"deepscan/internal/testsupport"
)

func sequenceOptions() media.Options {
	return media.Options{
		MaxFrames:        1000,
		Width:            4,
		Height:           4,
		SupportedFormats: []string{"mp4", "avi", "mov", "mkv", "webm"},
		Logger:           logging.NewNop(),
	}
}

func TestImageSequenceBatches(t *testing.T) {
	dir := testsupport.WriteFrames(t, filepath.Join(t.TempDir(), "clip"), 5, 16, 16, nil)

	stream, err := media.Open(context.Background(), dir, sequenceOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()

	if info := stream.Info(); info.Kind != media.KindImageSequence || info.Frames != 5 || info.Width != 16 {
		t.Fatalf("info = %+v", info)
	}

	var sizes []int
	var starts []int
	for {
		batch, more, err := stream.Next(2)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		sizes = append(sizes, batch.Len())
		starts = append(starts, batch.StartFrame)
		for i, frame := range batch.Frames {
			if frame.Index != batch.StartFrame+i {
				t.Fatalf("frame index %d in batch starting %d", frame.Index, batch.StartFrame)
			}
			if len(frame.Data) != media.Channels*4*4 {
				t.Fatalf("tensor length = %d", len(frame.Data))
			}
		}
		if !more {
			break
		}
	}
	if len(sizes) != 3 || sizes[0] != 2 || sizes[1] != 2 || sizes[2] != 1 {
		t.Fatalf("batch sizes = %v", sizes)
	}
	if starts[2] != 4 {
		t.Fatalf("batch starts = %v", starts)
	}
	if stream.Truncated() {
		t.Fatal("stream should not be truncated")
	}
}

func TestImageSequenceNormalization(t *testing.T) {
	red := func(int) color.NRGBA { return color.NRGBA{R: 255, A: 255} }
	dir := testsupport.WriteFrames(t, filepath.Join(t.TempDir(), "red"), 1, 8, 8, red)

	stream, err := media.Open(context.Background(), dir, sequenceOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()
	batch, more, err := stream.Next(8)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if more || batch.Len() != 1 {
		t.Fatalf("batch len %d more %v", batch.Len(), more)
	}
	data := batch.Frames[0].Data
	plane := 16
	wantR := (1 - 0.485) / 0.229
	wantG := (0 - 0.456) / 0.224
	if math.Abs(float64(data[0])-wantR) > 0.02 {
		t.Fatalf("red channel = %v, want %v", data[0], wantR)
	}
	if math.Abs(float64(data[plane])-wantG) > 0.02 {
		t.Fatalf("green channel = %v, want %v", data[plane], wantG)
	}
}

func TestMaxFrameGuardTruncates(t *testing.T) {
	dir := testsupport.WriteFrames(t, filepath.Join(t.TempDir(), "long"), 6, 8, 8, nil)
	opts := sequenceOptions()
	opts.MaxFrames = 4

	stream, err := media.Open(context.Background(), dir, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()
	total := 0
	for {
		batch, more, err := stream.Next(3)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		total += batch.Len()
		if !more {
			break
		}
	}
	if total != 4 {
		t.Fatalf("frames = %d, want 4", total)
	}
	if !stream.Truncated() {
		t.Fatal("expected truncation to be reported")
	}
}

func TestExactFitIsNotTruncated(t *testing.T) {
	dir := testsupport.WriteFrames(t, filepath.Join(t.TempDir(), "fit"), 4, 8, 8, nil)
	opts := sequenceOptions()
	opts.MaxFrames = 4
	stream, err := media.Open(context.Background(), dir, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()
	batch, more, err := stream.Next(10)
	if err != nil || more || batch.Len() != 4 {
		t.Fatalf("batch %d more %v err %v", batch.Len(), more, err)
	}
	if stream.Truncated() {
		t.Fatal("exact fit reported as truncated")
	}
}

func TestEmptySequenceYieldsNoFrames(t *testing.T) {
	dir := t.TempDir()
	stream, err := media.Open(context.Background(), dir, sequenceOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()
	batch, more, err := stream.Next(4)
	if err != nil || more || batch.Len() != 0 {
		t.Fatalf("batch %d more %v err %v", batch.Len(), more, err)
	}
}

func TestOpenRejectsUnreadableMedia(t *testing.T) {
	base := t.TempDir()
	unsupported := filepath.Join(base, "clip.gif")
	testsupport.WriteFile(t, unsupported, 16)

	cases := map[string]string{
		"missing":     filepath.Join(base, "missing.mp4"),
		"unsupported": unsupported,
		"empty":       "",
	}
	for name, ref := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := media.Open(context.Background(), ref, sequenceOptions())
			if !errors.Is(err, media.ErrUnreadableMedia) {
				t.Fatalf("err = %v, want ErrUnreadableMedia", err)
			}
		})
	}
}

func TestValidateAcceptsFormatsCaseInsensitively(t *testing.T) {
	path := filepath.Join(t.TempDir(), "CLIP.MKV")
	testsupport.WriteFile(t, path, 16)
	kind, format, err := media.Validate(path, []string{"mkv"})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if kind != media.KindVideo || format != "mkv" {
		t.Fatalf("kind %q format %q", kind, format)
	}
}

func TestVideoStreamsFramesFromFFmpeg(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries(map[string]string{
		// Three 2x2 rgb24 frames of black.
		"ffmpeg":  "head -c 36 /dev/zero",
		"ffprobe": `echo '{"streams":[{"codec_type":"video","width":640,"height":360,"nb_frames":"3","avg_frame_rate":"30/1"}],"format":{"duration":"0.1","size":"2048"}}'`,
	}))
	video := filepath.Join(testsupport.BaseDir(cfg), "clip.mp4")
	testsupport.WriteFile(t, video, 2048)

	opts := media.OptionsFromConfig(cfg, logging.NewNop())
	opts.Width, opts.Height = 2, 2

	stream, err := media.Open(context.Background(), video, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()

	info := stream.Info()
	if info.Kind != media.KindVideo || info.Frames != 3 || info.FPS != 30 || info.Width != 640 {
		t.Fatalf("info = %+v", info)
	}

	batch, more, err := stream.Next(2)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if batch.Len() != 2 || !more {
		t.Fatalf("first batch %d more %v", batch.Len(), more)
	}
	want := float32((0 - 0.485) / 0.229)
	if math.Abs(float64(batch.Frames[0].Data[0]-want)) > 1e-5 {
		t.Fatalf("pixel = %v, want %v", batch.Frames[0].Data[0], want)
	}
	batch, more, err = stream.Next(2)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if batch.Len() != 1 || more || batch.StartFrame != 2 {
		t.Fatalf("second batch %d start %d more %v", batch.Len(), batch.StartFrame, more)
	}
}

func TestVideoDecoderFailureIsUnreadable(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries(map[string]string{
		"ffmpeg":  "echo 'moov atom not found' >&2; exit 1",
		"ffprobe": "exit 1",
	}))
	video := filepath.Join(testsupport.BaseDir(cfg), "broken.mp4")
	testsupport.WriteFile(t, video, 64)

	stream, err := media.Open(context.Background(), video, media.OptionsFromConfig(cfg, logging.NewNop()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()
	_, _, err = stream.Next(4)
	if !errors.Is(err, media.ErrUnreadableMedia) {
		t.Fatalf("err = %v, want ErrUnreadableMedia", err)
	}
}

func TestVideoDecodeInterruptedByContext(t *testing.T) {
	errLimit := errors.New("time limit exceeded")
	cases := []struct {
		name   string
		cancel func(context.CancelCauseFunc)
		want   error
	}{
		{name: "canceled", cancel: func(c context.CancelCauseFunc) { c(nil) }, want: context.Canceled},
		{name: "cause", cancel: func(c context.CancelCauseFunc) { c(errLimit) }, want: errLimit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries(map[string]string{
				// One 2x2 frame, then a decoder that stalls.
				"ffmpeg":  "head -c 12 /dev/zero; exec sleep 5",
				"ffprobe": "exit 1",
			}))
			video := filepath.Join(testsupport.BaseDir(cfg), "stall.mp4")
			testsupport.WriteFile(t, video, 64)
			opts := media.OptionsFromConfig(cfg, logging.NewNop())
			opts.Width, opts.Height = 2, 2

			ctx, cancel := context.WithCancelCause(context.Background())
			defer cancel(nil)
			stream, err := media.Open(ctx, video, opts)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer stream.Close()
			timer := time.AfterFunc(200*time.Millisecond, func() { tc.cancel(cancel) })
			defer timer.Stop()

			_, _, err = stream.Next(4)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if errors.Is(err, media.ErrUnreadableMedia) {
				t.Fatalf("interrupted decode reported as unreadable media: %v", err)
			}
		})
	}
}

func TestContentHashIsContentAddressed(t *testing.T) {
	base := t.TempDir()
	a := filepath.Join(base, "a.mp4")
	b := filepath.Join(base, "b.mp4")
	if err := os.WriteFile(a, []byte("same bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("same bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	ha, err := media.ContentHash(a)
	if err != nil {
		t.Fatalf("ContentHash: %v", err)
	}
	hb, _ := media.ContentHash(b)
	if ha != hb || len(ha) != 64 {
		t.Fatalf("hashes %q %q", ha, hb)
	}

	seqA := testsupport.WriteFrames(t, filepath.Join(base, "seqA"), 3, 4, 4, nil)
	seqB := testsupport.WriteFrames(t, filepath.Join(base, "seqB"), 3, 4, 4, nil)
	seqC := testsupport.WriteFrames(t, filepath.Join(base, "seqC"), 4, 4, 4, nil)
	hA, _ := media.ContentHash(seqA)
	hB, _ := media.ContentHash(seqB)
	hC, _ := media.ContentHash(seqC)
	if hA != hB {
		t.Fatal("identical sequences hashed differently")
	}
	if hA == hC {
		t.Fatal("different sequences hashed identically")
	}
}

func TestProbeImageSequence(t *testing.T) {
	dir := testsupport.WriteFrames(t, filepath.Join(t.TempDir(), "p"), 3, 12, 10, nil)
	info, err := media.Probe(context.Background(), dir, sequenceOptions())
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if info.Frames != 3 || info.Width != 12 || info.Height != 10 || info.SizeBytes == 0 {
		t.Fatalf("info = %+v", info)
	}
}

package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"deepscan/internal/media/ffprobe"
)

// ffmpegReader streams rgb24 frames from an ffmpeg child process.
type ffmpegReader struct {
	ctx    context.Context
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	width  int
	height int
	buf    []byte
	waited bool
}

func startFFmpeg(ctx context.Context, ref string, opts Options) (*ffmpegReader, error) {
	args := []string{
		"-v", "error",
		"-nostdin",
		"-i", ref,
		// Decode at most one frame past the guard so truncation is detectable.
		"-frames:v", strconv.Itoa(opts.MaxFrames + 1),
		"-vf", fmt.Sprintf("scale=%d:%d:flags=lanczos", opts.Width, opts.Height),
		"-pix_fmt", "rgb24",
		"-f", "rawvideo",
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, opts.FFmpeg, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", ErrUnreadableMedia, err)
	}
	return &ffmpegReader{
		ctx:    ctx,
		cmd:    cmd,
		stdout: stdout,
		stderr: &stderr,
		width:  opts.Width,
		height: opts.Height,
		buf:    make([]byte, opts.Width*opts.Height*Channels),
	}, nil
}

func (r *ffmpegReader) readFrame() ([]float32, error) {
	_, err := io.ReadFull(r.stdout, r.buf)
	switch {
	case err == nil:
		return NormalizeRGB(r.buf, r.width*Channels, Channels, r.width, r.height), nil
	case errors.Is(err, io.EOF):
		if werr := r.wait(); werr != nil {
			return nil, r.interrupted(werr)
		}
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		_ = r.wait()
		return nil, r.interrupted(fmt.Errorf("truncated frame from ffmpeg: %s", strings.TrimSpace(r.stderr.String())))
	default:
		return nil, r.interrupted(err)
	}
}

// interrupted replaces err with the context cause once the decoder's
// context is done. A process killed by cancellation otherwise reads as
// corrupt media.
func (r *ffmpegReader) interrupted(err error) error {
	ctxErr := r.ctx.Err()
	if ctxErr == nil {
		return err
	}
	cause := context.Cause(r.ctx)
	if errors.Is(cause, ctxErr) {
		return fmt.Errorf("ffmpeg decode interrupted: %w", cause)
	}
	return fmt.Errorf("ffmpeg decode interrupted: %w: %w", cause, ctxErr)
}

func (r *ffmpegReader) wait() error {
	if r.waited {
		return nil
	}
	r.waited = true
	if err := r.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg decode: %w: %s", err, strings.TrimSpace(r.stderr.String()))
	}
	return nil
}

// close stops a decoder that has not run to completion. The kill makes
// Wait report an error, which is expected here and dropped.
func (r *ffmpegReader) close() error {
	if r.waited {
		return nil
	}
	if r.cmd.Process != nil {
		_ = r.cmd.Process.Kill()
	}
	_ = r.wait()
	return nil
}

func probeVideo(ctx context.Context, ref, format string, opts Options) (Info, error) {
	result, err := ffprobe.Inspect(ctx, opts.FFprobe, ref)
	if err != nil {
		return Info{}, err
	}
	info := Info{
		Kind:            KindVideo,
		Format:          format,
		Frames:          result.FrameCount(),
		FPS:             result.FrameRate(),
		DurationSeconds: result.DurationSeconds(),
		SizeBytes:       result.SizeBytes(),
	}
	if video, ok := result.Video(); ok {
		info.Width = video.Width
		info.Height = video.Height
	}
	return info, nil
}

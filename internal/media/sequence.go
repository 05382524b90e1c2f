package media

import (
	"fmt"
	"io"
	"os"

	"github.com/disintegration/imaging"
)

type sequenceReader struct {
	files  []string
	pos    int
	width  int
	height int
	size   int64
	srcW   int
	srcH   int
}

func newSequenceReader(dir string, opts Options) (*sequenceReader, error) {
	files, err := listFrameFiles(dir)
	if err != nil {
		return nil, err
	}
	r := &sequenceReader{files: files, width: opts.Width, height: opts.Height}
	for _, file := range files {
		if info, err := os.Stat(file); err == nil {
			r.size += info.Size()
		}
	}
	if len(files) > 0 {
		if img, err := imaging.Open(files[0]); err == nil {
			bounds := img.Bounds()
			r.srcW, r.srcH = bounds.Dx(), bounds.Dy()
		}
	}
	return r, nil
}

func (r *sequenceReader) info() Info {
	return Info{
		Kind:      KindImageSequence,
		Format:    "frames",
		Frames:    len(r.files),
		Width:     r.srcW,
		Height:    r.srcH,
		SizeBytes: r.size,
	}
}

func (r *sequenceReader) readFrame() ([]float32, error) {
	if r.pos >= len(r.files) {
		return nil, io.EOF
	}
	file := r.files[r.pos]
	r.pos++
	img, err := imaging.Open(file)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", file, err)
	}
	return NormalizeImage(img, r.width, r.height), nil
}

func (r *sequenceReader) close() error {
	r.pos = len(r.files)
	return nil
}

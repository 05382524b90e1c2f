package testsupport

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 0x42
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// FrameColor picks the fill colour for frame i.
type FrameColor func(i int) color.NRGBA

// Gradient returns frames that brighten with the frame index.
func Gradient(i int) color.NRGBA {
	v := uint8((i * 40) % 256)
	return color.NRGBA{R: v, G: 255 - v, B: v / 2, A: 255}
}

// WriteFrames creates dir holding n solid-colour PNG frames named
// frame_0000.png and onward, and returns dir.
func WriteFrames(t testing.TB, dir string, n, width, height int, fill FrameColor) string {
	t.Helper()

	if fill == nil {
		fill = Gradient
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	for i := 0; i < n; i++ {
		img := imaging.New(width, height, fill(i))
		path := filepath.Join(dir, fmt.Sprintf("frame_%04d.png", i))
		if err := imaging.Save(img, path); err != nil {
			t.Fatalf("save frame %d: %v", i, err)
		}
	}
	return dir
}

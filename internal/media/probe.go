package media

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Probe describes ref without decoding frames. Video metadata comes from
// ffprobe; image sequences are counted on disk.
func Probe(ctx context.Context, ref string, opts Options) (Info, error) {
	opts = opts.withDefaults()
	kind, format, err := Validate(ref, opts.SupportedFormats)
	if err != nil {
		return Info{}, err
	}
	if kind == KindImageSequence {
		seq, err := newSequenceReader(ref, opts)
		if err != nil {
			return Info{}, err
		}
		return seq.info(), nil
	}
	info, err := probeVideo(ctx, ref, format, opts)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrUnreadableMedia, err)
	}
	if info.SizeBytes == 0 {
		if stat, err := os.Stat(ref); err == nil {
			info.SizeBytes = stat.Size()
		}
	}
	return info, nil
}

// ContentHash returns the hex sha256 of the media bytes. For an image
// sequence the frame files are hashed in lexical order, each prefixed with
// its length so that different splits of the same bytes hash differently.
func ContentHash(ref string) (string, error) {
	info, err := os.Stat(ref)
	if err != nil {
		return "", fmt.Errorf("%w: stat %q: %v", ErrUnreadableMedia, ref, err)
	}
	hasher := sha256.New()
	if !info.IsDir() {
		if err := hashFile(hasher, ref, false); err != nil {
			return "", err
		}
		return hex.EncodeToString(hasher.Sum(nil)), nil
	}
	files, err := listFrameFiles(ref)
	if err != nil {
		return "", err
	}
	for _, file := range files {
		if err := hashFile(hasher, file, true); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func hashFile(w io.Writer, path string, lengthPrefix bool) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open %q: %v", ErrUnreadableMedia, path, err)
	}
	defer file.Close()
	if lengthPrefix {
		stat, err := file.Stat()
		if err != nil {
			return fmt.Errorf("%w: stat %q: %v", ErrUnreadableMedia, path, err)
		}
		var prefix [8]byte
		binary.BigEndian.PutUint64(prefix[:], uint64(stat.Size()))
		if _, err := w.Write(prefix[:]); err != nil {
			return err
		}
	}
	if _, err := io.Copy(w, file); err != nil {
		return fmt.Errorf("%w: read %q: %v", ErrUnreadableMedia, path, err)
	}
	return nil
}

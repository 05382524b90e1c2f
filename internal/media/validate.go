package media

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sys/unix"
)

var frameExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// Validate checks that ref exists, is readable, and is either a directory
// of frames or a video in a supported container format. It returns the
// reference kind and format.
func Validate(ref string, supportedFormats []string) (kind, format string, err error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", "", fmt.Errorf("%w: empty media reference", ErrUnreadableMedia)
	}
	info, err := os.Stat(ref)
	if err != nil {
		return "", "", fmt.Errorf("%w: stat %q: %v", ErrUnreadableMedia, ref, err)
	}
	if err := unix.Access(ref, unix.R_OK); err != nil {
		return "", "", fmt.Errorf("%w: %q is not readable: %v", ErrUnreadableMedia, ref, err)
	}
	if info.IsDir() {
		return KindImageSequence, "frames", nil
	}
	if !info.Mode().IsRegular() {
		return "", "", fmt.Errorf("%w: %q is not a regular file", ErrUnreadableMedia, ref)
	}
	format = strings.TrimPrefix(strings.ToLower(filepath.Ext(ref)), ".")
	for _, supported := range supportedFormats {
		if format == supported {
			return KindVideo, format, nil
		}
	}
	return "", "", fmt.Errorf("%w: unsupported container format %q (supported: %s)", ErrUnreadableMedia, format, strings.Join(supportedFormats, ", "))
}

// listFrameFiles returns the image files in dir in lexical order.
func listFrameFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read frame directory: %v", ErrUnreadableMedia, err)
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if frameExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

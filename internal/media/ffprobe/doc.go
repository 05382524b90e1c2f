// Package ffprobe wraps ffprobe JSON output for the video properties frame
// extraction needs: geometry, frame rate, frame count and container size.
package ffprobe

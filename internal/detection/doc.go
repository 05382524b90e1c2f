// Package detection derives a detection result from per-frame confidences:
// frame results, suspicious regions above the configured threshold, the
// confidence distribution summary, and a verification hash.
package detection

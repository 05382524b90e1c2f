package embedcache

import (
	"fmt"
	"strings"
	"time"

	"deepscan/internal/config"
)

// Class groups keys that share a TTL.
type Class string

const (
	ClassEmbedding Class = "embedding"
	ClassAnalysis  Class = "analysis"
	ClassResult    Class = "result"
	ClassSession   Class = "session"
)

// ParseClass accepts class names and their key prefixes ("embed").
func ParseClass(value string) (Class, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "embed", "embedding":
		return ClassEmbedding, nil
	case "analysis":
		return ClassAnalysis, nil
	case "result":
		return ClassResult, nil
	case "session":
		return ClassSession, nil
	}
	return "", fmt.Errorf("unknown cache class %q", value)
}

// TTLs holds the per-class time-to-live table.
type TTLs struct {
	Embedding time.Duration
	Analysis  time.Duration
	Result    time.Duration
	Session   time.Duration
}

// DefaultTTLs mirrors the configuration defaults.
func DefaultTTLs() TTLs {
	return TTLsFromConfig(config.Default().Cache)
}

// TTLsFromConfig converts the cache config section into durations.
func TTLsFromConfig(cfg config.Cache) TTLs {
	return TTLs{
		Embedding: config.Seconds(cfg.EmbeddingTTL),
		Analysis:  config.Seconds(cfg.AnalysisTTL),
		Result:    config.Seconds(cfg.ResultTTL),
		Session:   config.Seconds(cfg.SessionTTL),
	}
}

// For returns the TTL for a class.
func (t TTLs) For(class Class) (time.Duration, error) {
	switch class {
	case ClassEmbedding:
		return t.Embedding, nil
	case ClassAnalysis:
		return t.Analysis, nil
	case ClassResult:
		return t.Result, nil
	case ClassSession:
		return t.Session, nil
	}
	return 0, fmt.Errorf("unknown cache class %q", class)
}

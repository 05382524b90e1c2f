package embedcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Key prefixes, one per TTL class.
const (
	PrefixEmbed    = "embed"
	PrefixAnalysis = "analysis"
	PrefixResult   = "result"
	PrefixSession  = "session"
)

// KeyType identifies the shape of a parsed key.
type KeyType string

const (
	KeyFrameEmbedding KeyType = "frame_embedding"
	KeyFrameBatch     KeyType = "frame_batch"
	KeyAnalysis       KeyType = "analysis"
	KeyResult         KeyType = "result"
	KeySession        KeyType = "session"
)

// ErrInvalidKey marks every key formatting or parsing failure.
var ErrInvalidKey = errors.New("invalid cache key")

// Key is the parsed form of a cache key.
type Key struct {
	Type        KeyType `json:"type"`
	ContentHash string  `json:"content_hash,omitempty"`
	FrameNumber int     `json:"frame_number,omitempty"`
	FrameStart  int     `json:"frame_start,omitempty"`
	FrameEnd    int     `json:"frame_end,omitempty"`
	ID          string  `json:"id,omitempty"`
}

// MarshalJSON emits only the fields meaningful for the key type, so frame 0
// is reported rather than dropped.
func (k Key) MarshalJSON() ([]byte, error) {
	out := map[string]any{"type": k.Type}
	switch k.Type {
	case KeyFrameEmbedding:
		out["content_hash"] = k.ContentHash
		out["frame_number"] = k.FrameNumber
	case KeyFrameBatch:
		out["content_hash"] = k.ContentHash
		out["frame_start"] = k.FrameStart
		out["frame_end"] = k.FrameEnd
	default:
		out["id"] = k.ID
	}
	return json.Marshal(out)
}

// Class returns the TTL class the key belongs to.
func (k Key) Class() Class {
	switch k.Type {
	case KeyFrameEmbedding, KeyFrameBatch:
		return ClassEmbedding
	case KeyAnalysis:
		return ClassAnalysis
	case KeyResult:
		return ClassResult
	default:
		return ClassSession
	}
}

// String renders the key back into its canonical form.
func (k Key) String() string {
	switch k.Type {
	case KeyFrameEmbedding:
		return fmt.Sprintf("%s:%s:%d", PrefixEmbed, k.ContentHash, k.FrameNumber)
	case KeyFrameBatch:
		return fmt.Sprintf("%s:%s:batch:%d:%d", PrefixEmbed, k.ContentHash, k.FrameStart, k.FrameEnd)
	case KeyAnalysis:
		return PrefixAnalysis + ":" + k.ID
	case KeyResult:
		return PrefixResult + ":" + k.ID
	case KeySession:
		return PrefixSession + ":" + k.ID
	}
	return ""
}

// FormatFrameKey builds the key for a single frame's vectors.
func FormatFrameKey(contentHash string, frame int) (string, error) {
	if err := checkSegment("content hash", contentHash); err != nil {
		return "", err
	}
	if frame < 0 {
		return "", fmt.Errorf("%w: frame number must be >= 0, got %d", ErrInvalidKey, frame)
	}
	return Key{Type: KeyFrameEmbedding, ContentHash: contentHash, FrameNumber: frame}.String(), nil
}

// FormatBatchKey builds the key for a contiguous frame range.
func FormatBatchKey(contentHash string, start, end int) (string, error) {
	if err := checkSegment("content hash", contentHash); err != nil {
		return "", err
	}
	if start < 0 {
		return "", fmt.Errorf("%w: frame start must be >= 0, got %d", ErrInvalidKey, start)
	}
	if end < start {
		return "", fmt.Errorf("%w: frame end %d precedes start %d", ErrInvalidKey, end, start)
	}
	return Key{Type: KeyFrameBatch, ContentHash: contentHash, FrameStart: start, FrameEnd: end}.String(), nil
}

// FormatAnalysisKey builds the key for in-flight analysis metadata.
func FormatAnalysisKey(id string) (string, error) { return formatIDKey(KeyAnalysis, id) }

// FormatResultKey builds the key for a completed detection result.
func FormatResultKey(id string) (string, error) { return formatIDKey(KeyResult, id) }

// FormatSessionKey builds the key for caller-session data.
func FormatSessionKey(id string) (string, error) { return formatIDKey(KeySession, id) }

func formatIDKey(kind KeyType, id string) (string, error) {
	if err := checkSegment(string(kind)+" id", id); err != nil {
		return "", err
	}
	return Key{Type: kind, ID: id}.String(), nil
}

// ParseKey splits a cache key into its components. Malformed keys are
// rejected with a descriptive error wrapping ErrInvalidKey.
func ParseKey(raw string) (Key, error) {
	if strings.TrimSpace(raw) == "" {
		return Key{}, fmt.Errorf("%w: key is empty", ErrInvalidKey)
	}
	parts := strings.Split(raw, ":")
	if len(parts) < 2 {
		return Key{}, fmt.Errorf("%w: %q has no class prefix", ErrInvalidKey, raw)
	}

	switch parts[0] {
	case PrefixEmbed:
		return parseEmbedKey(raw, parts)
	case PrefixAnalysis, PrefixResult, PrefixSession:
		if len(parts) != 2 {
			return Key{}, fmt.Errorf("%w: %q must have exactly one id segment", ErrInvalidKey, raw)
		}
		if err := checkSegment(parts[0]+" id", parts[1]); err != nil {
			return Key{}, err
		}
		kind := map[string]KeyType{
			PrefixAnalysis: KeyAnalysis,
			PrefixResult:   KeyResult,
			PrefixSession:  KeySession,
		}[parts[0]]
		return Key{Type: kind, ID: parts[1]}, nil
	default:
		return Key{}, fmt.Errorf("%w: unknown prefix %q in %q", ErrInvalidKey, parts[0], raw)
	}
}

func parseEmbedKey(raw string, parts []string) (Key, error) {
	if err := checkSegment("content hash", parts[1]); err != nil {
		return Key{}, err
	}
	switch {
	case len(parts) == 3:
		frame, err := parseFrameNumber(parts[2])
		if err != nil {
			return Key{}, fmt.Errorf("%w: frame number in %q: %v", ErrInvalidKey, raw, err)
		}
		return Key{Type: KeyFrameEmbedding, ContentHash: parts[1], FrameNumber: frame}, nil
	case len(parts) == 5 && parts[2] == "batch":
		start, err := parseFrameNumber(parts[3])
		if err != nil {
			return Key{}, fmt.Errorf("%w: frame start in %q: %v", ErrInvalidKey, raw, err)
		}
		end, err := parseFrameNumber(parts[4])
		if err != nil {
			return Key{}, fmt.Errorf("%w: frame end in %q: %v", ErrInvalidKey, raw, err)
		}
		if end < start {
			return Key{}, fmt.Errorf("%w: frame end %d precedes start %d in %q", ErrInvalidKey, end, start, raw)
		}
		return Key{Type: KeyFrameBatch, ContentHash: parts[1], FrameStart: start, FrameEnd: end}, nil
	default:
		return Key{}, fmt.Errorf("%w: %q is neither a frame nor a batch embedding key", ErrInvalidKey, raw)
	}
}

func parseFrameNumber(value string) (int, error) {
	if value == "" {
		return 0, errors.New("empty")
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%q is not a non-negative integer", value)
		}
	}
	return strconv.Atoi(value)
}

func checkSegment(label, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s must not be empty", ErrInvalidKey, label)
	}
	for _, r := range value {
		if r == ':' || unicode.IsSpace(r) {
			return fmt.Errorf("%w: %s %q contains a separator or whitespace", ErrInvalidKey, label, value)
		}
	}
	return nil
}

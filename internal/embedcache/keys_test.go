package embedcache_test

import (
	"encoding/json"
	"errors"
	"testing"

	"deepscan/internal/embedcache"
)

func TestParseKeyRoundTrip(t *testing.T) {
	tests := []struct {
		raw  string
		want embedcache.Key
	}{
		{"embed:abc123:0", embedcache.Key{Type: embedcache.KeyFrameEmbedding, ContentHash: "abc123", FrameNumber: 0}},
		{"embed:abc123:17", embedcache.Key{Type: embedcache.KeyFrameEmbedding, ContentHash: "abc123", FrameNumber: 17}},
		{"embed:abc123:batch:0:31", embedcache.Key{Type: embedcache.KeyFrameBatch, ContentHash: "abc123", FrameStart: 0, FrameEnd: 31}},
		{"analysis:job-1", embedcache.Key{Type: embedcache.KeyAnalysis, ID: "job-1"}},
		{"result:job-1", embedcache.Key{Type: embedcache.KeyResult, ID: "job-1"}},
		{"session:s-9", embedcache.Key{Type: embedcache.KeySession, ID: "s-9"}},
	}
	for _, tc := range tests {
		got, err := embedcache.ParseKey(tc.raw)
		if err != nil {
			t.Fatalf("ParseKey(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("ParseKey(%q) = %+v, want %+v", tc.raw, got, tc.want)
		}
		if got.String() != tc.raw {
			t.Fatalf("String() = %q, want %q", got.String(), tc.raw)
		}
	}
}

func TestParseKeyRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"embed",
		"embed:",
		"embed:abc",
		"embed:abc:-1",
		"embed:abc:x",
		"embed:abc:1:2",
		"embed:abc:batch:5:2",
		"embed:abc:batch:1",
		"embed:abc:batch:a:2",
		"analysis:",
		"analysis:a:b",
		"result",
		"thumbnail:abc",
		"embed:a b:1",
	}
	for _, raw := range bad {
		if _, err := embedcache.ParseKey(raw); !errors.Is(err, embedcache.ErrInvalidKey) {
			t.Fatalf("ParseKey(%q) err = %v, want ErrInvalidKey", raw, err)
		}
	}
}

func TestFormatKeysValidateInput(t *testing.T) {
	if key, err := embedcache.FormatFrameKey("abc123", 2); err != nil || key != "embed:abc123:2" {
		t.Fatalf("FormatFrameKey = %q, %v", key, err)
	}
	if key, err := embedcache.FormatBatchKey("abc123", 0, 9); err != nil || key != "embed:abc123:batch:0:9" {
		t.Fatalf("FormatBatchKey = %q, %v", key, err)
	}
	if _, err := embedcache.FormatFrameKey("abc:123", 0); err == nil {
		t.Fatal("expected hash containing separator to be rejected")
	}
	if _, err := embedcache.FormatFrameKey("abc", -1); err == nil {
		t.Fatal("expected negative frame to be rejected")
	}
	if _, err := embedcache.FormatBatchKey("abc", 3, 1); err == nil {
		t.Fatal("expected inverted range to be rejected")
	}
	if _, err := embedcache.FormatResultKey(""); err == nil {
		t.Fatal("expected empty id to be rejected")
	}
}

func TestKeyClassAndJSON(t *testing.T) {
	key, err := embedcache.ParseKey("embed:abc123:0")
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	if key.Class() != embedcache.ClassEmbedding {
		t.Fatalf("class = %q", key.Class())
	}
	raw, err := json.Marshal(key)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["frame_number"] != float64(0) {
		t.Fatalf("frame_number missing from %s", raw)
	}
	if _, ok := decoded["id"]; ok {
		t.Fatalf("unexpected id in %s", raw)
	}

	session, _ := embedcache.ParseKey("session:s1")
	if session.Class() != embedcache.ClassSession {
		t.Fatalf("session class = %q", session.Class())
	}
}

package embedcache_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"deepscan/internal/embedcache"
	"deepscan/internal/logging"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, capacity int) (*embedcache.Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache, err := embedcache.New(capacity, embedcache.DefaultTTLs(), logging.NewNop(), embedcache.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return cache, clock
}

func sampleEntry(hash string, frames int) embedcache.Entry {
	entry := embedcache.Entry{
		ContentHash: hash,
		Extractors: []embedcache.ExtractorInfo{
			{Name: "cnn", Dim: 2, Weight: 0.6},
		},
		Metadata: map[string]string{"source": "test"},
	}
	for i := 0; i < frames; i++ {
		entry.Frames = append(entry.Frames, embedcache.FrameVectors{
			FrameNumber: i,
			Combined:    []float32{float32(i), float32(i) + 0.5},
		})
	}
	return entry
}

func TestPutThenGetReturnsEntry(t *testing.T) {
	cache, _ := newTestCache(t, 100)
	if err := cache.Put("abc123", sampleEntry("abc123", 3), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok := cache.Get("abc123")
	if !ok {
		t.Fatal("expected hit")
	}
	if got.FrameCount() != 3 {
		t.Fatalf("frames = %d, want 3", got.FrameCount())
	}
	if got.Frames[2].Combined[1] != 2.5 {
		t.Fatalf("frame 2 vector = %v", got.Frames[2].Combined)
	}
	if got.TTL != 24*time.Hour {
		t.Fatalf("ttl = %s, want embedding default", got.TTL)
	}
	if got.Metadata["source"] != "test" {
		t.Fatalf("metadata = %v", got.Metadata)
	}

	keys, err := cache.Keys("embed:abc123:*")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	want := []string{"embed:abc123:0", "embed:abc123:1", "embed:abc123:2", "embed:abc123:batch:0:2"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
	}
}

func TestGetReturnsCopies(t *testing.T) {
	cache, _ := newTestCache(t, 100)
	if err := cache.Put("abc", sampleEntry("abc", 1), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	first, _ := cache.Get("abc")
	first.Frames[0].Combined[0] = 99
	second, _ := cache.Get("abc")
	if second.Frames[0].Combined[0] != 0 {
		t.Fatalf("cached vector mutated through returned entry: %v", second.Frames[0].Combined)
	}
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	cache, clock := newTestCache(t, 100)
	if err := cache.Put("abc", sampleEntry("abc", 2), time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	clock.Advance(59 * time.Second)
	if _, ok := cache.Get("abc"); !ok {
		t.Fatal("expected hit before expiry")
	}
	clock.Advance(time.Second)
	if _, ok := cache.Get("abc"); ok {
		t.Fatal("expected miss at expiry")
	}
	stats := cache.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestInvalidateSingleFrameMissesWholeEntry(t *testing.T) {
	cache, _ := newTestCache(t, 100)
	if err := cache.Put("abc", sampleEntry("abc", 3), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	removed, err := cache.Invalidate("embed:abc:1")
	if err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, ok := cache.Get("abc"); ok {
		t.Fatal("expected miss after a frame was invalidated")
	}
}

func TestInvalidatePatterns(t *testing.T) {
	cache, _ := newTestCache(t, 100)
	for _, hash := range []string{"aaa", "bbb"} {
		if err := cache.Put(hash, sampleEntry(hash, 2), 0); err != nil {
			t.Fatalf("Put %s: %v", hash, err)
		}
	}
	if err := cache.SetValue("result:job-1", []byte(`{}`), 0); err != nil {
		t.Fatalf("SetValue: %v", err)
	}

	removed, err := cache.Invalidate("embed:aaa:*")
	if err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if removed != 3 {
		t.Fatalf("removed = %d, want 3", removed)
	}
	if _, ok := cache.Get("aaa"); ok {
		t.Fatal("aaa should be gone")
	}
	if _, ok := cache.Get("bbb"); !ok {
		t.Fatal("bbb should survive")
	}
	if _, ok := cache.GetValue("result:job-1"); !ok {
		t.Fatal("result key should survive")
	}

	removed, err = cache.Invalidate("*")
	if err != nil {
		t.Fatalf("Invalidate all: %v", err)
	}
	if removed != 4 {
		t.Fatalf("removed = %d, want 4", removed)
	}
	if _, err := cache.Invalidate("[bad"); err == nil {
		t.Fatal("expected malformed pattern to fail")
	}
}

func TestPutReplacesShorterEntry(t *testing.T) {
	cache, _ := newTestCache(t, 100)
	if err := cache.Put("abc", sampleEntry("abc", 4), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := cache.Put("abc", sampleEntry("abc", 2), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	keys, _ := cache.Keys("embed:abc:*")
	if len(keys) != 3 {
		t.Fatalf("keys = %v, want two frames plus manifest", keys)
	}
}

func TestPutRejectsGappedFrames(t *testing.T) {
	cache, _ := newTestCache(t, 100)
	entry := sampleEntry("abc", 2)
	entry.Frames[1].FrameNumber = 5
	if err := cache.Put("abc", entry, 0); err == nil {
		t.Fatal("expected gapped frames to be rejected")
	}
	if err := cache.Put("abc", embedcache.Entry{}, 0); err == nil {
		t.Fatal("expected empty entry to be rejected")
	}
}

func TestCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	cache, _ := newTestCache(t, 3)
	if err := cache.Put("old", sampleEntry("old", 2), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := cache.Put("new", sampleEntry("new", 2), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := cache.Get("old"); ok {
		t.Fatal("old entry should have been evicted")
	}
	if _, ok := cache.Get("new"); !ok {
		t.Fatal("new entry should be present")
	}
	if stats := cache.Stats(); stats.Evictions == 0 || stats.Entries > 3 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestPutRejectsEntryLargerThanCapacity(t *testing.T) {
	cache, _ := newTestCache(t, 3)
	err := cache.Put("abc", sampleEntry("abc", 3), 0)
	if !errors.Is(err, embedcache.ErrEntryTooLarge) {
		t.Fatalf("err = %v, want ErrEntryTooLarge", err)
	}
	if stats := cache.Stats(); stats.Entries != 0 || stats.Evictions != 0 {
		t.Fatalf("rejected entry touched the cache: %+v", stats)
	}
	if err := cache.Put("abc", sampleEntry("abc", 2), 0); err != nil {
		t.Fatalf("Put at capacity: %v", err)
	}
	if got, ok := cache.Get("abc"); !ok || got.FrameCount() != 2 {
		t.Fatalf("entry at capacity = %+v, %v", got, ok)
	}
}

func TestValueKeysUseClassTTL(t *testing.T) {
	cache, clock := newTestCache(t, 100)
	if err := cache.SetValue("analysis:job-1", []byte("meta"), 0); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if err := cache.SetValue("session:s1", []byte("sess"), 0); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	clock.Advance(31 * time.Minute)
	if _, ok := cache.GetValue("analysis:job-1"); ok {
		t.Fatal("analysis key should expire after 30 minutes")
	}
	if got, ok := cache.GetValue("session:s1"); !ok || string(got) != "sess" {
		t.Fatalf("session value = %q, %v", got, ok)
	}
	if err := cache.SetValue("embed:abc:0", nil, 0); err == nil {
		t.Fatal("expected embedding keys to be refused by SetValue")
	}
	if err := cache.SetValue("bogus", nil, 0); err == nil {
		t.Fatal("expected malformed key to be refused")
	}
}

func TestSweepReapsExpiredKeys(t *testing.T) {
	cache, clock := newTestCache(t, 100)
	if err := cache.Put("abc", sampleEntry("abc", 2), time.Second); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := cache.SetValue("result:r1", []byte("x"), 0); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	clock.Advance(2 * time.Second)
	if reaped := cache.Sweep(); reaped != 3 {
		t.Fatalf("reaped = %d, want 3", reaped)
	}
	keys, _ := cache.Keys("")
	if len(keys) != 1 || keys[0] != "result:r1" {
		t.Fatalf("keys = %v", keys)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cache, _ := newTestCache(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cache.Run(ctx, 5*time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestConcurrentAccess(t *testing.T) {
	cache, _ := newTestCache(t, 1000)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			hash := []string{"h0", "h1", "h2", "h3"}[w%4]
			for i := 0; i < 50; i++ {
				_ = cache.Put(hash, sampleEntry(hash, 3), 0)
				if entry, ok := cache.Get(hash); ok && entry.FrameCount() != 3 {
					t.Errorf("torn read: %d frames", entry.FrameCount())
				}
			}
		}(w)
	}
	wg.Wait()
}

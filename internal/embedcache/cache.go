package embedcache

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"deepscan/internal/logging"
)

// FrameVectors holds the combined and per-extractor vectors for one frame.
type FrameVectors struct {
	FrameNumber  int                  `json:"frame_number"`
	Combined     []float32            `json:"combined"`
	PerExtractor map[string][]float32 `json:"per_extractor,omitempty"`
}

// ExtractorInfo identifies the extractor that produced a vector family.
type ExtractorInfo struct {
	Name    string  `json:"name"`
	Version string  `json:"version,omitempty"`
	Dim     int     `json:"dim"`
	Weight  float64 `json:"weight"`
}

// Entry is the cached extraction result for one piece of media content.
// Entries are immutable once stored; a new Put replaces them wholesale.
type Entry struct {
	ContentHash string            `json:"content_hash"`
	Frames      []FrameVectors    `json:"frames"`
	Extractors  []ExtractorInfo   `json:"extractors"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CachedAt    time.Time         `json:"cached_at"`
	TTL         time.Duration     `json:"ttl"`
}

// FrameCount returns the number of frames in the entry.
func (e Entry) FrameCount() int { return len(e.Frames) }

// Stats summarizes cache activity since construction.
type Stats struct {
	Entries     int    `json:"entries"`
	Capacity    int    `json:"capacity"`
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Evictions   uint64 `json:"evictions"`
	Expirations uint64 `json:"expirations"`
}

type manifest struct {
	frameCount int
	extractors []ExtractorInfo
	metadata   map[string]string
}

type record struct {
	value    any
	cachedAt time.Time
	ttl      time.Duration
}

func (r record) expired(now time.Time) bool {
	if r.ttl <= 0 {
		return false
	}
	return !now.Before(r.cachedAt.Add(r.ttl))
}

// Cache is a process-wide, concurrency-safe key/value store with per-class
// TTLs and LRU capacity bounds.
type Cache struct {
	mu       sync.Mutex
	records  *lru.Cache[string, record]
	index    map[string]string // content hash -> batch manifest key
	capacity int
	ttls     TTLs
	now      func() time.Time
	logger   *slog.Logger

	hits        atomic.Uint64
	misses      atomic.Uint64
	evictions   atomic.Uint64
	expirations atomic.Uint64
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New constructs a cache holding at most capacity keys.
func New(capacity int, ttls TTLs, logger *slog.Logger, opts ...Option) (*Cache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", capacity)
	}
	records, err := lru.New[string, record](capacity)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	c := &Cache{
		records:  records,
		index:    make(map[string]string),
		capacity: capacity,
		ttls:     ttls,
		now:      time.Now,
		logger:   logging.NewComponentLogger(logger, "embedcache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TTLs returns the cache's class TTL table.
func (c *Cache) TTLs() TTLs { return c.ttls }

// Get returns the cached entry for a content hash. Expired or partially
// evicted entries read as found=false.
func (c *Cache) Get(contentHash string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lookupLocked(contentHash)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return entry, ok
}

func (c *Cache) lookupLocked(contentHash string) (Entry, bool) {
	batchKey, ok := c.index[contentHash]
	if !ok {
		return Entry{}, false
	}
	now := c.now()
	rec, ok := c.liveLocked(batchKey, now)
	if !ok {
		delete(c.index, contentHash)
		return Entry{}, false
	}
	man, ok := rec.value.(manifest)
	if !ok {
		return Entry{}, false
	}

	frames := make([]FrameVectors, 0, man.frameCount)
	for i := 0; i < man.frameCount; i++ {
		frameKey := Key{Type: KeyFrameEmbedding, ContentHash: contentHash, FrameNumber: i}.String()
		frameRec, ok := c.liveLocked(frameKey, now)
		if !ok {
			return Entry{}, false
		}
		fv, ok := frameRec.value.(FrameVectors)
		if !ok {
			return Entry{}, false
		}
		frames = append(frames, cloneFrame(fv))
	}

	return Entry{
		ContentHash: contentHash,
		Frames:      frames,
		Extractors:  append([]ExtractorInfo(nil), man.extractors...),
		Metadata:    copyStrings(man.metadata),
		CachedAt:    rec.cachedAt,
		TTL:         rec.ttl,
	}, true
}

// liveLocked returns a record if present and unexpired, removing it on expiry.
func (c *Cache) liveLocked(key string, now time.Time) (record, bool) {
	rec, ok := c.records.Get(key)
	if !ok {
		return record{}, false
	}
	if rec.expired(now) {
		c.records.Remove(key)
		c.expirations.Add(1)
		return record{}, false
	}
	return rec, true
}

// ErrEntryTooLarge reports an entry whose frame keys plus manifest exceed
// the cache capacity.
var ErrEntryTooLarge = errors.New("cache entry exceeds capacity")

// Put stores an entry under its content hash, replacing any previous entry.
// A ttl <= 0 uses the embedding class TTL. Frames must be numbered 0..n-1.
// An n-frame entry occupies n+1 keys and is rejected when that exceeds the
// capacity.
func (c *Cache) Put(contentHash string, entry Entry, ttl time.Duration) error {
	if len(entry.Frames) == 0 {
		return errors.New("cache entry has no frames")
	}
	if need := len(entry.Frames) + 1; need > c.capacity {
		return fmt.Errorf("%w: %d frames need %d keys, capacity is %d", ErrEntryTooLarge, len(entry.Frames), need, c.capacity)
	}
	batchKey, err := FormatBatchKey(contentHash, 0, len(entry.Frames)-1)
	if err != nil {
		return err
	}
	for i, frame := range entry.Frames {
		if frame.FrameNumber != i {
			return fmt.Errorf("cache entry frames must be contiguous from 0: position %d holds frame %d", i, frame.FrameNumber)
		}
	}
	if ttl <= 0 {
		ttl = c.ttls.Embedding
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeHashLocked(contentHash)

	now := c.now()
	for _, frame := range entry.Frames {
		frameKey := Key{Type: KeyFrameEmbedding, ContentHash: contentHash, FrameNumber: frame.FrameNumber}.String()
		c.addLocked(frameKey, record{value: cloneFrame(frame), cachedAt: now, ttl: ttl})
	}
	c.addLocked(batchKey, record{
		value: manifest{
			frameCount: len(entry.Frames),
			extractors: append([]ExtractorInfo(nil), entry.Extractors...),
			metadata:   copyStrings(entry.Metadata),
		},
		cachedAt: now,
		ttl:      ttl,
	})
	c.index[contentHash] = batchKey

	c.logger.Debug("cached embeddings",
		logging.String(logging.FieldContentHash, contentHash),
		logging.Int("frames", len(entry.Frames)),
		logging.Duration("ttl", ttl),
	)
	return nil
}

func (c *Cache) addLocked(key string, rec record) {
	if evicted := c.records.Add(key, rec); evicted {
		c.evictions.Add(1)
	}
}

// removeHashLocked drops every key of a previously cached entry so a shorter
// replacement does not leave stale trailing frames behind.
func (c *Cache) removeHashLocked(contentHash string) {
	batchKey, ok := c.index[contentHash]
	if !ok {
		return
	}
	if parsed, err := ParseKey(batchKey); err == nil {
		for i := parsed.FrameStart; i <= parsed.FrameEnd; i++ {
			c.records.Remove(Key{Type: KeyFrameEmbedding, ContentHash: contentHash, FrameNumber: i}.String())
		}
	}
	c.records.Remove(batchKey)
	delete(c.index, contentHash)
}

// SetValue stores an opaque payload under any well-formed key. A ttl <= 0
// uses the TTL of the key's class.
func (c *Cache) SetValue(key string, value []byte, ttl time.Duration) error {
	parsed, err := ParseKey(key)
	if err != nil {
		return err
	}
	if parsed.Type == KeyFrameBatch || parsed.Type == KeyFrameEmbedding {
		return fmt.Errorf("%w: embedding keys are written through Put", ErrInvalidKey)
	}
	if ttl <= 0 {
		if ttl, err = c.ttls.For(parsed.Class()); err != nil {
			return err
		}
	}
	payload := append([]byte(nil), value...)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.addLocked(key, record{value: payload, cachedAt: c.now(), ttl: ttl})
	return nil
}

// GetValue returns a payload stored with SetValue.
func (c *Cache) GetValue(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.liveLocked(key, c.now())
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	payload, ok := rec.value.([]byte)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return append([]byte(nil), payload...), true
}

// Invalidate removes every key matching a glob pattern (`*`, `?`, `[...]`)
// and returns the number of keys removed.
func (c *Cache) Invalidate(pattern string) (int, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range c.records.Keys() {
		if ok, _ := path.Match(pattern, key); !ok {
			continue
		}
		if c.records.Remove(key) {
			removed++
		}
	}
	for hash, batchKey := range c.index {
		if !c.records.Contains(batchKey) {
			delete(c.index, hash)
		}
	}
	if removed > 0 {
		c.logger.Info("cache keys invalidated",
			logging.String("pattern", pattern),
			logging.Int("removed", removed),
			logging.String(logging.FieldEventType, "cache_invalidate"),
		)
	}
	return removed, nil
}

// Keys lists live keys matching a glob pattern in sorted order. An empty
// pattern matches everything.
func (c *Cache) Keys(pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	keys := make([]string, 0)
	for _, key := range c.records.Keys() {
		rec, ok := c.records.Peek(key)
		if !ok || rec.expired(now) {
			continue
		}
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Sweep removes every expired key and returns how many were reaped.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	reaped := 0
	for _, key := range c.records.Keys() {
		rec, ok := c.records.Peek(key)
		if !ok || !rec.expired(now) {
			continue
		}
		if c.records.Remove(key) {
			reaped++
		}
	}
	for hash, batchKey := range c.index {
		if !c.records.Contains(batchKey) {
			delete(c.index, hash)
		}
	}
	c.expirations.Add(uint64(reaped))
	return reaped
}

// Stats reports counters and current size.
func (c *Cache) Stats() Stats {
	return Stats{
		Entries:     c.records.Len(),
		Capacity:    c.capacity,
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
	}
}

func cloneFrame(frame FrameVectors) FrameVectors {
	out := FrameVectors{
		FrameNumber: frame.FrameNumber,
		Combined:    append([]float32(nil), frame.Combined...),
	}
	if len(frame.PerExtractor) > 0 {
		out.PerExtractor = make(map[string][]float32, len(frame.PerExtractor))
		for name, vec := range frame.PerExtractor {
			out.PerExtractor[name] = append([]float32(nil), vec...)
		}
	}
	return out
}

func copyStrings(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

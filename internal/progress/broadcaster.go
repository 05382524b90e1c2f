package progress

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"deepscan/internal/config"
	"deepscan/internal/logging"
)

// Event is one progress notification.
type Event struct {
	JobID      string    `json:"job_id"`
	Status     string    `json:"status"`
	Percentage int       `json:"progress_percentage"`
	Stage      string    `json:"current_stage"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	Sequence   uint64    `json:"seq"`
}

// Terminal reports whether the event ends its job's topic.
func (e Event) Terminal() bool {
	switch strings.ToLower(e.Status) {
	case "completed", "failed":
		return true
	}
	return false
}

// Sink receives every published event synchronously. Sinks must not block.
type Sink interface {
	Observe(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Observe(evt Event) { f(evt) }

// Stats summarizes broadcaster activity.
type Stats struct {
	Topics      int    `json:"topics"`
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
}

// Subscription receives one job's events on C until the topic closes or
// Close is called.
type Subscription struct {
	C <-chan Event

	ch      chan Event
	jobID   string
	b       *Broadcaster
	dropped atomic.Uint64

	// mu guards sends on ch against its close.
	mu     sync.Mutex
	closed bool
}

// Dropped reports events this subscriber missed.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.b.unsubscribe(s)
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// offer sends evt, waiting on deadline while the buffer is full. open is
// false once the subscription has been closed.
func (s *Subscription) offer(evt Event, deadline <-chan time.Time, expired *bool) (sent, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, false
	}
	select {
	case s.ch <- evt:
		return true, true
	default:
	}
	if deadline == nil || *expired {
		return false, true
	}
	select {
	case s.ch <- evt:
		return true, true
	case <-deadline:
		*expired = true
		return false, true
	}
}

type topic struct {
	// deliver orders a job's publishes without holding the broadcaster lock.
	deliver sync.Mutex
	subs    map[*Subscription]struct{}
	seq     uint64
}

// Broadcaster is safe for concurrent use.
type Broadcaster struct {
	mu      sync.Mutex
	topics  map[string]*topic
	last    *lru.Cache[string, Event]
	timeout time.Duration
	buffer  int
	sinks   []Sink
	logger  *slog.Logger

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

const retainedTopics = 1024

// New constructs a broadcaster. timeout bounds each Publish; buffer sizes
// subscriber channels.
func New(timeout time.Duration, buffer int, logger *slog.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = 1
	}
	last, _ := lru.New[string, Event](retainedTopics)
	return &Broadcaster{
		topics:  make(map[string]*topic),
		last:    last,
		timeout: timeout,
		buffer:  buffer,
		logger:  logging.NewComponentLogger(logger, "progress"),
	}
}

// FromConfig builds a broadcaster from the progress config section.
func FromConfig(cfg config.Progress, logger *slog.Logger) *Broadcaster {
	return New(time.Duration(cfg.PublishTimeoutMillis)*time.Millisecond, cfg.SubscriberBuffer, logger)
}

// AddSink registers a sink that observes every event.
func (b *Broadcaster) AddSink(sink Sink) {
	if b == nil || sink == nil {
		return
	}
	b.mu.Lock()
	b.sinks = append(b.sinks, sink)
	b.mu.Unlock()
}

// Publish delivers evt to the job's subscribers. It never returns an error
// and waits at most the configured timeout across all subscribers. Only
// publishes for the same job wait on one another.
func (b *Broadcaster) Publish(jobID string, evt Event) {
	if b == nil || jobID == "" {
		return
	}
	evt.JobID = jobID
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	t, subs, sinks := b.stamp(jobID, &evt)
	defer t.deliver.Unlock()

	for _, sink := range sinks {
		sink.Observe(evt)
	}

	var deadline <-chan time.Time
	if len(subs) > 0 && b.timeout > 0 {
		timer := time.NewTimer(b.timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	expired := false
	for _, sub := range subs {
		sent, open := sub.offer(evt, deadline, &expired)
		switch {
		case sent:
			b.delivered.Add(1)
		case open:
			sub.dropped.Add(1)
			b.dropped.Add(1)
			b.logger.Debug("progress event dropped",
				logging.String(logging.FieldJobID, jobID),
				logging.String(logging.FieldStage, evt.Stage),
			)
		}
	}

	if evt.Terminal() {
		for _, sub := range subs {
			sub.close()
		}
	}
}

// stamp sequences evt on its topic and snapshots the receivers. It returns
// with the topic's deliver lock held. A terminal event retires the topic.
func (b *Broadcaster) stamp(jobID string, evt *Event) (*topic, []*Subscription, []Sink) {
	for {
		b.mu.Lock()
		t := b.topics[jobID]
		if t == nil {
			t = &topic{subs: make(map[*Subscription]struct{})}
			b.topics[jobID] = t
		}
		b.mu.Unlock()

		t.deliver.Lock()
		b.mu.Lock()
		if b.topics[jobID] != t {
			// Retired by a terminal publish while waiting.
			b.mu.Unlock()
			t.deliver.Unlock()
			continue
		}
		t.seq++
		evt.Sequence = t.seq
		b.last.Add(jobID, *evt)
		b.published.Add(1)
		subs := make([]*Subscription, 0, len(t.subs))
		for sub := range t.subs {
			subs = append(subs, sub)
		}
		sinks := b.sinks
		if evt.Terminal() {
			delete(b.topics, jobID)
		}
		b.mu.Unlock()
		return t, subs, sinks
	}
}

// Subscribe opens a subscription on jobID. If the job already published,
// its latest event is delivered first; a subscription to a finished job
// receives that terminal event and is then closed.
func (b *Broadcaster) Subscribe(jobID string) *Subscription {
	ch := make(chan Event, b.buffer)
	sub := &Subscription{C: ch, ch: ch, jobID: jobID, b: b}

	b.mu.Lock()
	defer b.mu.Unlock()

	last, seen := b.last.Get(jobID)
	if seen {
		ch <- last
		if last.Terminal() {
			sub.closed = true
			close(ch)
			return sub
		}
	}
	t := b.topics[jobID]
	if t == nil {
		t = &topic{subs: make(map[*Subscription]struct{})}
		b.topics[jobID] = t
	}
	t.subs[sub] = struct{}{}
	return sub
}

func (b *Broadcaster) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	if t := b.topics[sub.jobID]; t != nil {
		delete(t.subs, sub)
		if len(t.subs) == 0 && t.seq == 0 {
			delete(b.topics, sub.jobID)
		}
	}
	b.mu.Unlock()
	sub.close()
}

// Last returns the most recent event published for jobID.
func (b *Broadcaster) Last(jobID string) (Event, bool) {
	if b == nil {
		return Event{}, false
	}
	return b.last.Peek(jobID)
}

// Stats reports broadcaster counters.
func (b *Broadcaster) Stats() Stats {
	b.mu.Lock()
	topics := len(b.topics)
	subs := 0
	for _, t := range b.topics {
		subs += len(t.subs)
	}
	b.mu.Unlock()
	return Stats{
		Topics:      topics,
		Subscribers: subs,
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
	}
}

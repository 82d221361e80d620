package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// Session owns the streaming state of exactly one client connection: its
// event buffer, subscription set, acknowledgement table, rate counters and
// heartbeat timer. Every write to the underlying sink goes through the
// session mutex, so a heartbeat tick never interleaves with an in-progress
// record.
type Session struct {
	id string

	opts       Options
	rateWindow time.Duration

	subs  *subscriptions
	evict func(id string) bool

	logger zerolog.Logger

	mu        sync.Mutex
	w         http.ResponseWriter
	flusher   http.Flusher
	buffer    []string
	acks      map[string]bool
	ackOrder  []string
	lastSend  time.Time
	sendCount int
	rateReset *time.Timer
	ticker    *time.Ticker
	closed    bool

	stop      chan struct{}
	closeOnce sync.Once
}

// NewSession upgrades w into an SSE stream and returns the session driving
// it. The closed channel is the connection's close notification; inside an
// HTTP handler, pass r.Context().Done(). The caller keeps the handler alive
// (for example by blocking on Done) while application code drives the
// session handle.
func NewSession(w http.ResponseWriter, closed <-chan struct{}, opts Options) (*Session, error) {
	return newSession(w, closed, opts, newSubscriptions(), nil, zerolog.Nop())
}

func newSession(w http.ResponseWriter, closed <-chan struct{}, opts Options, subs *subscriptions, evict func(string) bool, logger zerolog.Logger) (*Session, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("sse: response writer does not support flushing")
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("sse: generate session id: %w", err)
	}

	opts = opts.withDefaults()

	s := &Session{
		id:         id,
		opts:       opts,
		rateWindow: time.Second,
		subs:       subs,
		evict:      evict,
		logger:     logger,
		w:          w,
		flusher:    flusher,
		acks:       make(map[string]bool),
		stop:       make(chan struct{}),
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	if opts.Retry > 0 {
		header.Set("Retry", strconv.Itoa(opts.Retry))
	}
	flusher.Flush()

	if opts.ID != "" {
		fmt.Fprintf(w, ": %s\n\n", opts.ID)
		flusher.Flush()
	}

	s.ticker = time.NewTicker(opts.HeartbeatInterval)
	go s.heartbeatLoop()
	go s.watchClose(closed)

	logger.Debug().Str("session_id", id).Msg("session connected")

	return s, nil
}

// ID returns the session identity.
func (s *Session) ID() string { return s.id }

// Done is closed when the session shuts down.
func (s *Session) Done() <-chan struct{} { return s.stop }

// Send serializes data to JSON and emits one SSE record. Throttled,
// rate-limited and unsubscribed-typed sends are dropped silently, not
// queued; only a payload that cannot be serialized returns an error.
func (s *Session) Send(data any, opts ...SendOption) error {
	var cfg sendConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	now := time.Now()
	if s.opts.Throttle > 0 && !s.lastSend.IsZero() && now.Sub(s.lastSend) < s.opts.Throttle {
		return nil
	}
	if s.sendCount >= s.opts.MaxRequestsPerSecond {
		return nil
	}
	if cfg.event != "" && !s.subs.contains(s.id, cfg.event) {
		return nil
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("sse: encode payload: %w", err)
	}

	if cfg.eventID != "" {
		s.storeAckLocked(cfg.eventID)
	}

	lines := recordLines(payload, &cfg)
	if len(s.buffer)+len(lines) >= s.opts.BufferSize {
		s.flushLocked()
	}
	s.buffer = append(s.buffer, lines...)
	// The record reaches the sink on every call; the buffer only accumulates
	// within a single composition.
	s.flushLocked()

	s.lastSend = now
	s.sendCount++
	if s.sendCount >= s.opts.MaxRequestsPerSecond && s.rateReset == nil {
		// The window is anchored at the moment the ceiling is hit, not at
		// wall-clock seconds.
		s.rateReset = time.AfterFunc(s.rateWindow, s.resetRate)
	}

	return nil
}

func (s *Session) flushLocked() {
	for _, line := range s.buffer {
		fmt.Fprintf(s.w, "%s\n", line)
	}
	s.buffer = s.buffer[:0]
	s.flusher.Flush()
}

func (s *Session) resetRate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendCount = 0
	s.rateReset = nil
}

// Comment writes a single comment record directly to the sink. Comments
// bypass the buffer, the throttle, the rate ceiling and the subscription
// checks.
func (s *Session) Comment(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commentLocked(text)
}

func (s *Session) commentLocked(text string) {
	if s.closed {
		return
	}
	fmt.Fprintf(s.w, ": %s\n\n", text)
	s.flusher.Flush()
}

// Acknowledge marks eventID acknowledged if it is present in the table. An
// unknown id is ignored; Acknowledge never creates entries.
func (s *Session) Acknowledge(eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.acks[eventID]; ok {
		s.acks[eventID] = true
	}
}

// Acknowledged reports whether eventID is recorded as acknowledged.
func (s *Session) Acknowledged(eventID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acks[eventID]
}

// storeAckLocked create-or-sets eventID acknowledged, evicting the oldest
// entry when the table is at capacity.
func (s *Session) storeAckLocked(eventID string) {
	if _, ok := s.acks[eventID]; ok {
		s.acks[eventID] = true
		return
	}
	if len(s.acks) >= s.opts.AckCapacity {
		oldest := s.ackOrder[0]
		s.ackOrder = s.ackOrder[1:]
		delete(s.acks, oldest)
	}
	s.acks[eventID] = true
	s.ackOrder = append(s.ackOrder, eventID)
}

// Subscribe adds eventType to the session's subscription set.
func (s *Session) Subscribe(eventType string) {
	s.subs.add(s.id, eventType)
}

// Unsubscribe removes eventType from the session's subscription set; the
// session's whole entry is dropped once the set empties.
func (s *Session) Unsubscribe(eventType string) {
	s.subs.remove(s.id, eventType)
}

func (s *Session) heartbeatLoop() {
	for {
		select {
		case <-s.stop:
			return
		case <-s.ticker.C:
			s.Comment("heartbeat")
			if s.opts.HeartbeatFunc != nil {
				s.opts.HeartbeatFunc()
			}
		}
	}
}

func (s *Session) watchClose(closed <-chan struct{}) {
	select {
	case <-closed:
		s.Close()
	case <-s.stop:
	}
}

// Close tears the session down: the heartbeat and any pending rate reset are
// cancelled, OnClose runs once, and later writes become no-ops. Subsequent
// calls have no effect.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.ticker.Stop()
		if s.rateReset != nil {
			s.rateReset.Stop()
			s.rateReset = nil
		}
		close(s.stop)
		if s.evict != nil && s.evict(s.id) {
			// Best-effort notice; the far end is usually gone already.
			s.commentLocked("Reconnecting...")
		}
		s.closed = true
		s.mu.Unlock()

		s.subs.drop(s.id)

		if s.opts.OnClose != nil {
			s.opts.OnClose()
		}

		s.logger.Debug().Str("session_id", s.id).Msg("session closed")
	})
}

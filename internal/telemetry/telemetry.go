// Package telemetry delivers market events to observers. Emission is
// fire-and-forget; no engine depends on delivery.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventType classifies market events.
type EventType string

const (
	EventSystem           EventType = "system"
	EventWorldUpdate      EventType = "world_update"
	EventNegotiationStart EventType = "negotiation_start"
	EventOffer            EventType = "offer"
	EventResponse         EventType = "response"
	EventNegotiationEnd   EventType = "negotiation_end"
	EventAuctionStart     EventType = "auction_start"
	EventAuctionComplete  EventType = "auction_complete"
	EventOrderGenerated   EventType = "order_generated"
	EventDealRecorded     EventType = "deal_recorded"
	EventReplenished      EventType = "inventory_replenished"
)

// Event is one observable market happening.
type Event struct {
	Type    EventType      `json:"type"`
	Tick    uint64         `json:"tick,omitempty"`
	Actor   string         `json:"actor,omitempty"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
	At      time.Time      `json:"at"`
}

// Sink receives events. Implementations must not block for long and must
// not panic.
type Sink interface {
	Emit(e Event)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Emit(Event) {}

// OrNop returns s, or Nop when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	return s
}

// LogSink writes events through slog at debug level, world updates at
// info.
type LogSink struct {
	Logger *slog.Logger
}

func (l LogSink) Emit(e Event) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelDebug
	if e.Type == EventWorldUpdate || e.Type == EventAuctionComplete || e.Type == EventNegotiationEnd {
		level = slog.LevelInfo
	}
	logger.Log(context.Background(), level, e.Message, "event", e.Type, "actor", e.Actor, "tick", e.Tick)
}

// Recorder keeps the most recent events in a bounded ring.
type Recorder struct {
	mu     sync.RWMutex
	events []Event
	next   int
	full   bool
}

// NewRecorder keeps up to size events (minimum 1).
func NewRecorder(size int) *Recorder {
	return &Recorder{events: make([]Event, max(1, size))}
}

func (r *Recorder) Emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	r.mu.Lock()
	r.events[r.next] = e
	r.next = (r.next + 1) % len(r.events)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Recent returns up to limit events, newest first. limit <= 0 returns all.
func (r *Recorder) Recent(limit int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.next
	if r.full {
		n = len(r.events)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Event, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.events)) % len(r.events)
		out = append(out, r.events[idx])
	}
	return out
}

// Filter returns the recorded events of one type, newest first.
func (r *Recorder) Filter(t EventType) []Event {
	var out []Event
	for _, e := range r.Recent(0) {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Multi fans an event out to several sinks in order.
type Multi []Sink

func (m Multi) Emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

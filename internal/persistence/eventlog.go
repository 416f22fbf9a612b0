package persistence

import (
	"sync"
	"time"

	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/telemetry"
)

// EventLog is a telemetry sink that buffers events until Flush writes them
// to the events table.
type EventLog struct {
	db *DB

	mu      sync.Mutex
	pending []telemetry.Event
}

// EventLog returns a buffering sink bound to db.
func (db *DB) EventLog() *EventLog {
	return &EventLog{db: db}
}

func (l *EventLog) Emit(e telemetry.Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	l.mu.Lock()
	l.pending = append(l.pending, e)
	l.mu.Unlock()
}

// Flush writes buffered events. On failure the batch is kept for the next
// flush.
func (l *EventLog) Flush() error {
	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()

	if err := l.db.SaveEvents(batch); err != nil {
		l.mu.Lock()
		l.pending = append(batch, l.pending...)
		l.mu.Unlock()
		return err
	}
	return nil
}

package types

import (
	"sync/atomic"
	"time"
)

// EventType discriminates engine progress events.
type EventType string

const (
	EventLog                EventType = "log"
	EventProgress           EventType = "progress"
	EventFileApplied        EventType = "file_applied"
	EventFilePending        EventType = "file_pending"
	EventFileSkipped        EventType = "file_skipped"
	EventFileFailed         EventType = "file_failed"
	EventSyncComplete       EventType = "sync_complete"
	EventInstallerOutput    EventType = "installer_output"
	EventInstallerHeartbeat EventType = "installer_heartbeat"
)

// IsTerminal returns true if this event type ends a sync session.
func (e EventType) IsTerminal() bool {
	return e == EventSyncComplete
}

// Event is the envelope for all engine progress events. The engine is the
// sole producer; the CLI surface (plain logger or TUI) is the sole
// consumer.
type Event struct {
	// SessionID identifies the sync or install session.
	SessionID string `json:"session_id"`
	// Seq is the monotonic sequence number within the session, starts at 1.
	Seq int64 `json:"seq"`
	// Type is the event type discriminator.
	Type EventType `json:"type"`
	// Ts is the event timestamp.
	Ts time.Time `json:"ts"`
	// Path is the relative file path, when the event concerns one file.
	Path string `json:"path,omitempty"`
	// Message is a human-readable description.
	Message string `json:"message,omitempty"`
	// Done and Total carry progress counts for progress-class events.
	Done  int64 `json:"done,omitempty"`
	Total int64 `json:"total,omitempty"`
	// Bytes is the payload size for file events.
	Bytes int64 `json:"bytes,omitempty"`
}

// Emitter delivers events without ever blocking the engine. Progress-class
// events may be dropped when the consumer falls behind; terminal events
// are always delivered.
type Emitter struct {
	sessionID string
	ch        chan Event
	seq       atomic.Int64
}

// NewEmitter creates an emitter with the given buffer size. A nil-safe
// zero emitter (from a nil pointer) silently discards events.
func NewEmitter(sessionID string, buffer int) *Emitter {
	if buffer <= 0 {
		buffer = 256
	}
	return &Emitter{
		sessionID: sessionID,
		ch:        make(chan Event, buffer),
	}
}

// Events returns the consumer side of the channel.
func (e *Emitter) Events() <-chan Event {
	if e == nil {
		return nil
	}
	return e.ch
}

// Emit sends an event, stamping session, sequence, and timestamp.
// Non-terminal events are dropped when the buffer is full.
func (e *Emitter) Emit(ev Event) {
	if e == nil {
		return
	}
	ev.SessionID = e.sessionID
	ev.Seq = e.seq.Add(1)
	ev.Ts = time.Now()
	if ev.Type.IsTerminal() {
		e.ch <- ev
		return
	}
	select {
	case e.ch <- ev:
	default:
	}
}

// Close closes the event channel. Call once, after the last Emit.
func (e *Emitter) Close() {
	if e == nil {
		return
	}
	close(e.ch)
}

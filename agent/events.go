package agent

import (
	"sync"
	"time"
)

// EventKind identifies the type of session event.
type EventKind string

const (
	EventSessionStart   EventKind = "session_start"
	EventSessionEnd     EventKind = "session_end"
	EventUserInput      EventKind = "user_input"
	EventAssistantText  EventKind = "assistant_text"
	EventOperationStart EventKind = "operation_start"
	EventOperationEnd   EventKind = "operation_end"
	EventReset          EventKind = "reset"
	EventAutomodeStart  EventKind = "automode_start"
	EventAutomodeStep   EventKind = "automode_step"
	EventAutomodeEnd    EventKind = "automode_end"
	EventStallDetected  EventKind = "stall_detected"
	EventContextWarning EventKind = "context_warning"
	EventError          EventKind = "error"
)

// SessionEvent is a typed event emitted by a session or the automode driver.
type SessionEvent struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventEmitter delivers events to the host through a buffered channel.
// Emit never blocks; events are dropped when nobody keeps up.
type EventEmitter struct {
	sessionID string
	ch        chan SessionEvent
	closed    bool
	mu        sync.Mutex
}

// NewEventEmitter creates an emitter with the given buffer size.
func NewEventEmitter(sessionID string, bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{
		sessionID: sessionID,
		ch:        make(chan SessionEvent, bufferSize),
	}
}

// Emit sends an event. It is a no-op after Close.
func (e *EventEmitter) Emit(kind EventKind, data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.ch <- SessionEvent{Kind: kind, Timestamp: time.Now(), SessionID: e.sessionID, Data: data}:
	default:
	}
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan SessionEvent {
	return e.ch
}

// Close closes the channel. Further emits are dropped.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}

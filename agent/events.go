package agent

import (
	"sync"
	"time"
)

// EventKind identifies the type of run event.
type EventKind string

const (
	EventRunStart      EventKind = "run_start"
	EventStepStart     EventKind = "step_start"
	EventToolCallStart EventKind = "tool_call_start"
	EventToolCallEnd   EventKind = "tool_call_end"
	EventLoopDetected  EventKind = "loop_detected"
	EventStagnation    EventKind = "stagnation"
	EventRunEnd        EventKind = "run_end"
	EventError         EventKind = "error"
)

// Event is a typed notification emitted while an agent runs.
type Event struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	Agent     string         `json:"agent"`
	TraceID   string         `json:"trace_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventEmitter delivers events to the host application over a buffered
// channel. A nil *EventEmitter discards everything.
type EventEmitter struct {
	ch     chan Event
	closed bool
	mu     sync.Mutex
}

// NewEventEmitter creates an emitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{ch: make(chan Event, bufferSize)}
}

// Emit sends ev without blocking. Events are dropped when the buffer is
// full or the emitter is closed.
func (e *EventEmitter) Emit(ev Event) {
	if e == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.ch <- ev:
	default:
	}
}

// Events returns the read side of the channel.
func (e *EventEmitter) Events() <-chan Event {
	return e.ch
}

// Close closes the channel. Safe to call more than once.
func (e *EventEmitter) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}

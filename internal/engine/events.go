package engine

import "time"

// EventKind enumerates the change hints the engine publishes. Payloads are
// intentionally thin; consumers re-fetch the case for current state.
type EventKind string

const (
	EventCaseAdded         EventKind = "case_added"
	EventCaseRemoved       EventKind = "case_removed"
	EventCaseStatusChanged EventKind = "case_status_changed"
	EventFileStatusChanged EventKind = "file_status_changed"
	EventHydratedReplaced  EventKind = "hydrated_replaced"
)

// Event is one change hint.
type Event struct {
	Kind       EventKind `json:"kind"`
	CaseID     string    `json:"case_id"`
	Status     string    `json:"status,omitempty"`
	File       string    `json:"file,omitempty"`
	FileStatus string    `json:"file_status,omitempty"`
	JobID      string    `json:"job_id,omitempty"`
	TS         time.Time `json:"ts"`
}

// Sink receives every event the engine emits. It must not block; the SSE
// broadcaster buffers and drops slow clients on its own.
type Sink func(Event)

func (e *Engine) emit(ev Event) {
	ev.TS = time.Now().UTC()
	e.sinkMu.Lock()
	sink := e.sink
	e.sinkMu.Unlock()
	if sink != nil {
		sink(ev)
	}
}

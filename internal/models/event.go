package models

import (
	"time"

	"github.com/sunridge/fieldtrack/internal/geo"
)

type EventKind string

const (
	EventManualComplete EventKind = "manual_complete"
	EventAutoComplete   EventKind = "auto_complete"
	EventUndo           EventKind = "undo"
	EventSessionPaused  EventKind = "session_paused"
	EventSessionResumed EventKind = "session_resumed"
	EventSessionEnded   EventKind = "session_ended"
)

// Lifecycle reports whether the kind is a session lifecycle transition
// rather than a per-target completion or undo.
func (k EventKind) Lifecycle() bool {
	switch k {
	case EventSessionPaused, EventSessionResumed, EventSessionEnded:
		return true
	default:
		return false
	}
}

// EventMetadata records the auto-complete diagnostics for auditability.
type EventMetadata struct {
	DistanceM    float64
	DwellSeconds float64
	SpeedMS      float64
	RadiusM      float64
}

// CompletionEvent records a completion, undo, or lifecycle transition at the
// moment it was decided. Events are immutable once created; they are consumed
// by persistence and requeued on failure.
type CompletionEvent struct {
	ID        string
	SessionID string
	// TargetID is empty for lifecycle events.
	TargetID   string
	Kind       EventKind
	OccurredAt time.Time
	Location   geo.Point
	// Metadata is set for automatic completions only.
	Metadata *EventMetadata
}

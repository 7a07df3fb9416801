package models

import (
	"time"

	"github.com/sunridge/fieldtrack/internal/geo"
)

type GoalKind string

const (
	// GoalKindTargets counts completed targets against a target count goal.
	GoalKindTargets GoalKind = "targets"
)

// Target is a building or address the field operator is expected to visit.
// Targets are immutable for the lifetime of a session.
type Target struct {
	ID       string
	Centroid geo.Point
}

// Session is one continuous unit of field work with a start/stop boundary,
// an accumulated path, distance, and completions.
type Session struct {
	ID         string
	UserID     string
	CampaignID string
	StartedAt  time.Time
	EndedAt    *time.Time

	// ActiveSeconds accumulates wall-clock time spent unpaused.
	ActiveSeconds int64
	// DistanceM is the accumulated travel distance in meters.
	DistanceM float64
	// Path is the ordered sequence of accepted coordinates.
	Path []geo.Point

	Targets   []Target
	Completed map[string]struct{}
	// CompletedCount is the server-reported completed count. It may differ
	// from len(Completed) right after a restore, before local mutations.
	CompletedCount int

	Paused    bool
	GoalCount int
	GoalKind  GoalKind
}

// Target returns the target with the given id.
func (s *Session) Target(id string) (Target, bool) {
	for _, target := range s.Targets {
		if target.ID == id {
			return target, true
		}
	}
	return Target{}, false
}

// IsCompleted reports whether the target has been completed in this session.
func (s *Session) IsCompleted(id string) bool {
	_, ok := s.Completed[id]
	return ok
}

// SessionSummary is the snapshot produced when a session is stopped. It is
// retained for display after the session itself has been cleared.
type SessionSummary struct {
	SessionID      string
	StartedAt      time.Time
	EndedAt        time.Time
	ActiveSeconds  int64
	DistanceM      float64
	Path           []geo.Point
	GoalCount      int
	CompletedCount int
	Conversations  int
}

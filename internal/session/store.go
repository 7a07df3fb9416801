package session

import (
	"context"
	"time"

	"github.com/sunridge/fieldtrack/internal/geo"
	"github.com/sunridge/fieldtrack/internal/models"
)

// Store is the persistence boundary for sessions and completion events. All
// calls are fallible and may block on the network; the controller never calls
// them from the fix-ingestion path except through the offline queue.
type Store interface {
	// CreateSession persists a new session row with its targets.
	CreateSession(ctx context.Context, sess *models.Session) error

	// UpdateSession applies a partial update to a session row.
	UpdateSession(ctx context.Context, sessionID string, update Update) error

	// LogEvent persists a completion event. It must be idempotent per
	// (session, target, kind) for completion and undo kinds, because the
	// offline queue retries events whose first attempt may have reached the
	// server before the acknowledgment was lost.
	LogEvent(ctx context.Context, event models.CompletionEvent) error

	// FetchActiveSession returns the user's session left active by a
	// previous process, or nil when there is none.
	FetchActiveSession(ctx context.Context, userID string) (*models.Session, error)
}

// Update is a partial session update. Nil fields are left untouched.
type Update struct {
	DistanceM      *float64
	ActiveSeconds  *int64
	Path           []geo.Point
	CompletedCount *int
	Paused         *bool
	EndedAt        *time.Time
}

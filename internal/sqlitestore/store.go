// Package sqlitestore persists sessions and completion events in the local
// SQLite database. It implements session.Store for shells that keep field
// data on the device, and doubles as the reference implementation of the
// idempotent event log the offline queue relies on.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/sunridge/fieldtrack/internal/errors"
	"github.com/sunridge/fieldtrack/internal/geo"
	"github.com/sunridge/fieldtrack/internal/models"
	"github.com/sunridge/fieldtrack/internal/session"
	"github.com/sunridge/fieldtrack/internal/sqlite"
)

type Store struct {
	db     *sqlite.Database
	logger *slog.Logger
}

func New(db *sqlite.Database, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With("source", "sqlitestore.Store"),
	}
}

var _ session.Store = (*Store)(nil)

type sessionRow struct {
	ID             string     `db:"id"`
	UserID         string     `db:"user_id"`
	CampaignID     string     `db:"campaign_id"`
	StartedAt      time.Time  `db:"started_at"`
	EndedAt        *time.Time `db:"ended_at"`
	ActiveSeconds  int64      `db:"active_seconds"`
	DistanceM      float64    `db:"distance_m"`
	Path           string     `db:"path"`
	GoalCount      int        `db:"goal_count"`
	GoalKind       string     `db:"goal_kind"`
	Paused         bool       `db:"paused"`
	CompletedCount int        `db:"completed_count"`
}

type targetRow struct {
	TargetID  string  `db:"target_id"`
	Lat       float64 `db:"lat"`
	Lon       float64 `db:"lon"`
	Completed bool    `db:"completed"`
}

func encodePath(path []geo.Point) (string, error) {
	if len(path) == 0 {
		return "[]", nil
	}
	encoded, err := json.Marshal(path)
	if err != nil {
		return "", errors.Wrap(err, "marshal path")
	}
	return string(encoded), nil
}

func decodePath(encoded string) ([]geo.Point, error) {
	var path []geo.Point
	if err := json.Unmarshal([]byte(encoded), &path); err != nil {
		return nil, errors.Wrap(err, "unmarshal path")
	}
	return path, nil
}

func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	path, err := encodePath(sess.Path)
	if err != nil {
		return err
	}

	tx, err := s.db.ReadWrite.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt := `INSERT INTO sessions (id, user_id, campaign_id, started_at, active_seconds, distance_m, path,
                      goal_count, goal_kind, paused, completed_count)
VALUES (:id, :user_id, :campaign_id, :started_at, :active_seconds, :distance_m, :path,
        :goal_count, :goal_kind, :paused, :completed_count)`
	if _, err = tx.NamedExecContext(ctx, stmt, sessionRow{
		ID:             sess.ID,
		UserID:         sess.UserID,
		CampaignID:     sess.CampaignID,
		StartedAt:      sess.StartedAt,
		ActiveSeconds:  sess.ActiveSeconds,
		DistanceM:      sess.DistanceM,
		Path:           path,
		GoalCount:      sess.GoalCount,
		GoalKind:       string(sess.GoalKind),
		Paused:         sess.Paused,
		CompletedCount: sess.CompletedCount,
	}); err != nil {
		return errors.Wrap(err, "insert session", slog.String("sessionID", sess.ID))
	}

	stmt = `INSERT INTO session_targets (session_id, target_id, lat, lon, completed)
VALUES (?, ?, ?, ?, ?)`
	for _, target := range sess.Targets {
		completed := sess.IsCompleted(target.ID)
		if _, err = tx.ExecContext(ctx, stmt,
			sess.ID, target.ID, target.Centroid.Lat, target.Centroid.Lon, completed); err != nil {
			return errors.Wrap(err, "insert session target",
				slog.String("sessionID", sess.ID),
				slog.String("targetID", target.ID))
		}
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "commit session")
	}
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, sessionID string, update session.Update) error {
	var (
		assignments []string
		args        = map[string]any{"id": sessionID}
	)
	if update.DistanceM != nil {
		assignments = append(assignments, "distance_m = :distance_m")
		args["distance_m"] = *update.DistanceM
	}
	if update.ActiveSeconds != nil {
		assignments = append(assignments, "active_seconds = :active_seconds")
		args["active_seconds"] = *update.ActiveSeconds
	}
	if update.Path != nil {
		path, err := encodePath(update.Path)
		if err != nil {
			return err
		}
		assignments = append(assignments, "path = :path")
		args["path"] = path
	}
	if update.CompletedCount != nil {
		assignments = append(assignments, "completed_count = :completed_count")
		args["completed_count"] = *update.CompletedCount
	}
	if update.Paused != nil {
		assignments = append(assignments, "paused = :paused")
		args["paused"] = *update.Paused
	}
	if update.EndedAt != nil {
		assignments = append(assignments, "ended_at = :ended_at")
		args["ended_at"] = *update.EndedAt
	}
	if len(assignments) == 0 {
		return nil
	}

	stmt := "UPDATE sessions SET " + strings.Join(assignments, ", ") + " WHERE id = :id"
	result, err := s.db.ReadWrite.NamedExecContext(ctx, stmt, args)
	if err != nil {
		return errors.Wrap(err, "update session", slog.String("sessionID", sessionID))
	}
	if affected, raErr := result.RowsAffected(); raErr == nil && affected == 0 {
		return errors.Wrap(sql.ErrNoRows, "session not found", slog.String("sessionID", sessionID))
	}
	return nil
}

// LogEvent inserts the event and applies its effect on the target's completed
// flag. A unique index on (session, target, kind) for completion kinds makes
// replays from the offline queue no-ops, so an event whose first delivery was
// acknowledged after the network dropped can be re-sent safely.
func (s *Store) LogEvent(ctx context.Context, event models.CompletionEvent) error {
	tx, err := s.db.ReadWrite.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt := `INSERT INTO completion_events (id, session_id, target_id, kind, occurred_at, lat, lon,
                               distance_m, dwell_seconds, speed_ms, radius_m)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING`
	var distanceM, dwellSeconds, speedMS, radiusM any
	if event.Metadata != nil {
		distanceM = event.Metadata.DistanceM
		dwellSeconds = event.Metadata.DwellSeconds
		speedMS = event.Metadata.SpeedMS
		radiusM = event.Metadata.RadiusM
	}
	if _, err = tx.ExecContext(ctx, stmt,
		event.ID, event.SessionID, event.TargetID, string(event.Kind), event.OccurredAt,
		event.Location.Lat, event.Location.Lon,
		distanceM, dwellSeconds, speedMS, radiusM); err != nil {
		return errors.Wrap(err, "insert event",
			slog.String("eventID", event.ID),
			slog.String("kind", string(event.Kind)))
	}

	if !event.Kind.Lifecycle() {
		completed := event.Kind != models.EventUndo
		stmt = `UPDATE session_targets SET completed = ? WHERE session_id = ? AND target_id = ?`
		if _, err = tx.ExecContext(ctx, stmt, completed, event.SessionID, event.TargetID); err != nil {
			return errors.Wrap(err, "mark target", slog.String("targetID", event.TargetID))
		}

		// The count is derived, so replaying an already-applied event
		// cannot skew it.
		stmt = `UPDATE sessions
SET completed_count = (SELECT COUNT(*) FROM session_targets WHERE session_id = ? AND completed = 1)
WHERE id = ?`
		if _, err = tx.ExecContext(ctx, stmt, event.SessionID, event.SessionID); err != nil {
			return errors.Wrap(err, "refresh completed count", slog.String("sessionID", event.SessionID))
		}
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "commit event")
	}
	return nil
}

func (s *Store) FetchActiveSession(ctx context.Context, userID string) (*models.Session, error) {
	var row sessionRow
	stmt := `SELECT id, user_id, campaign_id, started_at, ended_at, active_seconds, distance_m, path,
       goal_count, goal_kind, paused, completed_count
FROM sessions
WHERE user_id = ? AND ended_at IS NULL
ORDER BY started_at DESC
LIMIT 1`
	if err := s.db.ReadOnly.GetContext(ctx, &row, stmt, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "query active session", slog.String("userID", userID))
	}

	path, err := decodePath(row.Path)
	if err != nil {
		return nil, err
	}

	var targetRows []targetRow
	stmt = `SELECT target_id, lat, lon, completed FROM session_targets WHERE session_id = ?`
	if err = s.db.ReadOnly.SelectContext(ctx, &targetRows, stmt, row.ID); err != nil {
		return nil, errors.Wrap(err, "query session targets", slog.String("sessionID", row.ID))
	}

	sess := models.Session{
		ID:             row.ID,
		UserID:         row.UserID,
		CampaignID:     row.CampaignID,
		StartedAt:      row.StartedAt,
		EndedAt:        row.EndedAt,
		ActiveSeconds:  row.ActiveSeconds,
		DistanceM:      row.DistanceM,
		Path:           path,
		Completed:      make(map[string]struct{}),
		CompletedCount: row.CompletedCount,
		Paused:         row.Paused,
		GoalCount:      row.GoalCount,
		GoalKind:       models.GoalKind(row.GoalKind),
	}
	for _, target := range targetRows {
		sess.Targets = append(sess.Targets, models.Target{
			ID:       target.TargetID,
			Centroid: geo.Point{Lat: target.Lat, Lon: target.Lon},
		})
		if target.Completed {
			sess.Completed[target.TargetID] = struct{}{}
		}
	}
	return &sess, nil
}

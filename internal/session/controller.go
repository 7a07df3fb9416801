// Package session orchestrates one field session at a time: the
// active/paused lifecycle, path recording, geofenced auto-completion, and
// offline-safe event persistence.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sunridge/fieldtrack/internal/autocomplete"
	"github.com/sunridge/fieldtrack/internal/errors"
	"github.com/sunridge/fieldtrack/internal/geo"
	"github.com/sunridge/fieldtrack/internal/models"
	"github.com/sunridge/fieldtrack/internal/queue"
	"github.com/sunridge/fieldtrack/internal/track"
)

var (
	ErrNotAuthenticated = errors.NewSentinel("no authenticated user")
	ErrSessionActive    = errors.NewSentinel("a session is already active")
	ErrNoSession        = errors.NewSentinel("no session in progress")
	ErrNotActive        = errors.NewSentinel("session is not active")
	ErrNotPaused        = errors.NewSentinel("session is not paused")
	ErrUnknownTarget    = errors.NewSentinel("target is not part of this session")
	ErrStopped          = errors.NewSentinel("controller is not running")
)

type State int

const (
	StateIdle State = iota
	StateActive
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Config configures a Controller.
type Config struct {
	// UserID is the authenticated user owning the sessions. Starting a
	// session with an empty UserID fails fast.
	UserID string
	// MinMovementM is the path recorder's jitter threshold in meters.
	// Non-positive falls back to track.DefaultMinMovementM.
	MinMovementM float64
	// Detector holds the auto-complete thresholds. Zero fields fall back to
	// autocomplete.DefaultConfig.
	Detector autocomplete.Config
	// FixBufferSize bounds the fix channel. When the buffer is full the
	// oldest pending behavior is to drop the incoming fix; the location
	// source will deliver another shortly. Defaults to 64.
	FixBufferSize int
}

// StartConfig is the per-session configuration supplied at Start.
type StartConfig struct {
	CampaignID   string
	GoalCount    int
	GoalKind     models.GoalKind
	AutoComplete bool
}

// Snapshot is a read-only view of the controller for UI display.
type Snapshot struct {
	State          State
	SessionID      string
	DistanceM      float64
	Path           []geo.Point
	CompletedCount int
	GoalCount      int
	ActiveSeconds  int64
	Conversations  int
	PendingEvents  int
}

// Controller is the session state machine. All mutable state is owned by the
// Run loop; public methods funnel their work through a command channel so a
// fix-driven auto-complete and a user-driven manual complete can never race.
//
// Run must be called, typically in its own goroutine, before any other
// method is used.
type Controller struct {
	logger *slog.Logger
	store  Store
	cfg    Config
	now    func() time.Time

	fixes    chan geo.Fix
	commands chan func()
	runDone  chan struct{}
	runCtx   context.Context

	// pending outlives individual sessions so events queued before a stop
	// still replay during the next session.
	pending *queue.Queue[models.CompletionEvent]

	// Everything below is owned by the Run loop.
	state         State
	sess          *models.Session
	sessCfg       StartConfig
	recorder      *track.Recorder
	detector      *autocomplete.Detector
	count         completedCount
	delivered     int
	conversations int
	lastFix       *geo.Fix
	lastSummary   *models.SessionSummary
	activeAccrued time.Duration
	resumedAt     time.Time
	draining      bool
}

// NewController creates a Controller using the given persistence store.
func NewController(store Store, cfg Config, logger *slog.Logger) *Controller {
	if cfg.FixBufferSize <= 0 {
		cfg.FixBufferSize = 64
	}
	return &Controller{
		logger:   logger.With("source", "session.Controller"),
		store:    store,
		cfg:      cfg,
		now:      time.Now,
		fixes:    make(chan geo.Fix, cfg.FixBufferSize),
		commands: make(chan func()),
		runDone:  make(chan struct{}),
		pending:  queue.New[models.CompletionEvent](),
		recorder: track.NewRecorder(cfg.MinMovementM),
		detector: autocomplete.NewDetector(cfg.Detector),
		count:    localTracked(nil),
	}
}

// Run processes fixes and commands until ctx is canceled. It blocks, so it
// should be called in a goroutine.
func (c *Controller) Run(ctx context.Context) {
	c.runCtx = ctx
	defer close(c.runDone)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-c.commands:
			fn()
		case fix := <-c.fixes:
			c.handleFix(fix)
		}
	}
}

// HandleFix delivers a location fix to the controller. It never blocks: when
// the buffer is full the fix is dropped, since the location source will
// deliver a fresher one shortly.
func (c *Controller) HandleFix(fix geo.Fix) {
	select {
	case c.fixes <- fix:
	case <-c.runDone:
	default:
	}
}

// do runs fn on the Run loop and waits for it to finish.
func (c *Controller) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case c.commands <- wrapped:
	case <-c.runDone:
		return ErrStopped
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "send command")
	}
	select {
	case <-done:
		return nil
	case <-c.runDone:
		// The loop may have executed the command just before exiting.
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Start creates a session remotely and, only once that succeeds, begins
// consuming location fixes. On failure the controller stays idle and the
// error is surfaced to the caller.
func (c *Controller) Start(ctx context.Context, targets []models.Target, sessCfg StartConfig) (string, error) {
	var (
		sessionID string
		err       error
	)
	if doErr := c.do(ctx, func() {
		if c.cfg.UserID == "" {
			err = ErrNotAuthenticated
			return
		}
		if c.state != StateIdle {
			err = ErrSessionActive
			return
		}
		if sessCfg.GoalKind == "" {
			sessCfg.GoalKind = models.GoalKindTargets
		}

		now := c.now()
		sess := &models.Session{
			ID:         uuid.NewString(),
			UserID:     c.cfg.UserID,
			CampaignID: sessCfg.CampaignID,
			StartedAt:  now,
			Targets:    targets,
			Completed:  make(map[string]struct{}),
			GoalCount:  sessCfg.GoalCount,
			GoalKind:   sessCfg.GoalKind,
		}
		if err = c.store.CreateSession(ctx, sess); err != nil {
			err = errors.Wrap(err, "create session", slog.String("sessionID", sess.ID))
			return
		}

		c.sess = sess
		c.sessCfg = sessCfg
		c.state = StateActive
		c.recorder.Reset()
		c.detector.Reset()
		c.count = localTracked(sess.Completed)
		c.delivered = 0
		c.conversations = 0
		c.lastFix = nil
		c.activeAccrued = 0
		c.resumedAt = now
		sessionID = sess.ID

		// Events queued during an earlier session get a fresh replay chance.
		c.triggerDrain()

		c.logger.LogAttrs(ctx, slog.LevelInfo, "session started",
			slog.String("sessionID", sess.ID),
			slog.Int("targets", len(targets)))
	}); doErr != nil {
		return "", doErr
	}
	return sessionID, err
}

// Pause freezes fix consumption and elapsed-time accrual. Valid only while
// active.
func (c *Controller) Pause(ctx context.Context) error {
	var err error
	if doErr := c.do(ctx, func() {
		if c.state != StateActive {
			err = ErrNotActive
			return
		}
		now := c.now()
		c.activeAccrued += now.Sub(c.resumedAt)
		c.state = StatePaused
		c.sess.Paused = true
		c.emitEvent(models.EventSessionPaused, "", c.lastLocation(), nil)
	}); doErr != nil {
		return doErr
	}
	return err
}

// Resume continues fix consumption after a pause.
func (c *Controller) Resume(ctx context.Context) error {
	var err error
	if doErr := c.do(ctx, func() {
		if c.state != StatePaused {
			err = ErrNotPaused
			return
		}
		c.resumedAt = c.now()
		c.state = StateActive
		c.sess.Paused = false
		c.emitEvent(models.EventSessionResumed, "", c.lastLocation(), nil)
	}); doErr != nil {
		return doErr
	}
	return err
}

// Complete marks a target completed manually. Re-completing an already
// completed target is a no-op. Connectivity never blocks the caller: a failed
// persist parks the event in the offline queue.
func (c *Controller) Complete(ctx context.Context, targetID string) error {
	var err error
	if doErr := c.do(ctx, func() {
		if c.state == StateIdle {
			err = ErrNoSession
			return
		}
		target, ok := c.sess.Target(targetID)
		if !ok {
			err = ErrUnknownTarget
			return
		}
		if c.sess.IsCompleted(targetID) {
			return
		}
		location := c.lastLocation()
		if c.lastFix == nil {
			location = target.Centroid
		}
		c.applyCompletion(targetID, models.EventManualComplete, location, nil)
	}); doErr != nil {
		return doErr
	}
	return err
}

// Undo reverses a completion. Undoing a target that is not completed is a
// no-op.
func (c *Controller) Undo(ctx context.Context, targetID string) error {
	var err error
	if doErr := c.do(ctx, func() {
		if c.state == StateIdle {
			err = ErrNoSession
			return
		}
		if !c.sess.IsCompleted(targetID) {
			return
		}
		delete(c.sess.Completed, targetID)
		c.count.invalidate()
		if c.delivered > 0 {
			c.delivered--
		}
		c.emitEvent(models.EventUndo, targetID, c.lastLocation(), nil)
	}); doErr != nil {
		return doErr
	}
	return err
}

// RecordConversation increments the session's conversation counter.
func (c *Controller) RecordConversation(ctx context.Context) error {
	var err error
	if doErr := c.do(ctx, func() {
		if c.state == StateIdle {
			err = ErrNoSession
			return
		}
		c.conversations++
	}); doErr != nil {
		return doErr
	}
	return err
}

// Stop ends the session, persists the final metrics best-effort, and returns
// the summary snapshot. Events that still cannot be persisted stay in the
// offline queue; summary generation is never blocked by connectivity.
func (c *Controller) Stop(ctx context.Context) (models.SessionSummary, error) {
	var (
		summary models.SessionSummary
		err     error
	)
	if doErr := c.do(ctx, func() {
		if c.state == StateIdle {
			err = ErrNoSession
			return
		}
		now := c.now()
		if c.state == StateActive {
			c.activeAccrued += now.Sub(c.resumedAt)
		}

		c.pending.Enqueue(models.CompletionEvent{
			ID:         uuid.NewString(),
			SessionID:  c.sess.ID,
			Kind:       models.EventSessionEnded,
			OccurredAt: now,
			Location:   c.lastLocation(),
		})
		// Flush queued events in order before the final write, unless a
		// drain is already in flight; then they replay at the next
		// opportunity instead of blocking the summary.
		if !c.draining {
			if drainErr := c.pending.Drain(ctx, c.store.LogEvent); drainErr != nil {
				c.logger.LogAttrs(ctx, slog.LevelDebug, "events retained in offline queue",
					errors.SlogError(drainErr),
					slog.Int("pending", c.pending.Len()))
			}
		}

		// After a restore the delivered counter carries completions from the
		// previous process that never made it into the local set; the larger
		// of the two is authoritative for aggregate statistics.
		completedCount := c.count.resolve()
		if c.delivered > completedCount {
			completedCount = c.delivered
		}

		activeSeconds := int64(c.activeAccrued.Seconds())
		distance := c.recorder.DistanceM()
		path := c.recorder.Path()
		paused := false
		update := Update{
			DistanceM:      &distance,
			ActiveSeconds:  &activeSeconds,
			Path:           path,
			CompletedCount: &completedCount,
			Paused:         &paused,
			EndedAt:        &now,
		}
		if updateErr := c.store.UpdateSession(ctx, c.sess.ID, update); updateErr != nil {
			c.logger.LogAttrs(ctx, slog.LevelError, "persist final session metrics",
				errors.SlogError(updateErr),
				slog.String("sessionID", c.sess.ID))
		}

		summary = models.SessionSummary{
			SessionID:      c.sess.ID,
			StartedAt:      c.sess.StartedAt,
			EndedAt:        now,
			ActiveSeconds:  activeSeconds,
			DistanceM:      distance,
			Path:           path,
			GoalCount:      c.sess.GoalCount,
			CompletedCount: completedCount,
			Conversations:  c.conversations,
		}
		c.lastSummary = &summary

		c.logger.LogAttrs(ctx, slog.LevelInfo, "session ended",
			slog.String("sessionID", c.sess.ID),
			slog.Float64("distanceM", distance),
			slog.Int("completed", completedCount))

		c.sess = nil
		c.state = StateIdle
		c.recorder.Reset()
		c.detector.Reset()
		c.lastFix = nil
	}); doErr != nil {
		return models.SessionSummary{}, doErr
	}
	return summary, err
}

// Restore rehydrates a session that was left active when the application
// previously terminated. A restore failure leaves the controller idle and is
// not surfaced; the server's completed count stays authoritative until the
// next local completion or undo.
func (c *Controller) Restore(ctx context.Context) bool {
	restored := false
	_ = c.do(ctx, func() {
		if c.state != StateIdle || c.cfg.UserID == "" {
			return
		}
		sess, err := c.store.FetchActiveSession(ctx, c.cfg.UserID)
		if err != nil {
			c.logger.LogAttrs(ctx, slog.LevelDebug, "session restore skipped", errors.SlogError(err))
			return
		}
		if sess == nil {
			return
		}
		if sess.Completed == nil {
			sess.Completed = make(map[string]struct{})
		}

		c.sess = sess
		c.sessCfg = StartConfig{
			CampaignID:   sess.CampaignID,
			GoalCount:    sess.GoalCount,
			GoalKind:     sess.GoalKind,
			AutoComplete: true,
		}
		c.recorder.Restore(sess.Path, sess.DistanceM)
		c.detector.Reset()
		c.count = serverConfirmedCount(sess.CompletedCount, sess.Completed)
		c.delivered = sess.CompletedCount
		c.conversations = 0
		c.lastFix = nil
		c.activeAccrued = time.Duration(sess.ActiveSeconds) * time.Second
		c.resumedAt = c.now()
		if sess.Paused {
			c.state = StatePaused
		} else {
			c.state = StateActive
		}
		restored = true

		c.logger.LogAttrs(ctx, slog.LevelInfo, "session restored",
			slog.String("sessionID", sess.ID),
			slog.Int("completedCount", sess.CompletedCount))
	})
	return restored
}

// CompletedCount returns the authoritative completed count, preferring the
// server-confirmed value until a local mutation invalidates it.
func (c *Controller) CompletedCount(ctx context.Context) (int, error) {
	var n int
	if doErr := c.do(ctx, func() {
		n = c.count.resolve()
	}); doErr != nil {
		return 0, doErr
	}
	return n, nil
}

// Snapshot returns a copy of the controller state for UI display.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	var snapshot Snapshot
	if doErr := c.do(ctx, func() {
		snapshot = Snapshot{
			State:         c.state,
			Conversations: c.conversations,
			PendingEvents: c.pending.Len(),
		}
		if c.sess == nil {
			return
		}
		active := c.activeAccrued
		if c.state == StateActive {
			active += c.now().Sub(c.resumedAt)
		}
		snapshot.SessionID = c.sess.ID
		snapshot.DistanceM = c.recorder.DistanceM()
		snapshot.Path = c.recorder.Path()
		snapshot.CompletedCount = c.count.resolve()
		snapshot.GoalCount = c.sess.GoalCount
		snapshot.ActiveSeconds = int64(active.Seconds())
	}); doErr != nil {
		return Snapshot{}, doErr
	}
	return snapshot, nil
}

// LastSummary returns the summary of the most recently stopped session.
func (c *Controller) LastSummary(ctx context.Context) (models.SessionSummary, bool) {
	var (
		summary models.SessionSummary
		ok      bool
	)
	if doErr := c.do(ctx, func() {
		if c.lastSummary != nil {
			summary = *c.lastSummary
			ok = true
		}
	}); doErr != nil {
		return models.SessionSummary{}, false
	}
	return summary, ok
}

// handleFix runs on the Run loop for every delivered fix.
func (c *Controller) handleFix(fix geo.Fix) {
	if c.state != StateActive {
		// A paused or idle session mutates nothing from fixes.
		return
	}
	c.lastFix = &fix

	accepted, _ := c.recorder.Record(fix)
	if accepted {
		c.sess.DistanceM = c.recorder.DistanceM()
	}

	if !c.sessCfg.AutoComplete {
		return
	}
	decision := c.detector.Evaluate(fix, c.sess.Targets, c.sess.Completed)
	switch decision.Kind {
	case autocomplete.DecisionEnterDwell:
		c.logger.LogAttrs(c.runCtx, slog.LevelDebug, "dwell started",
			slog.String("targetID", decision.Target.ID))
	case autocomplete.DecisionCompleted:
		metadata := decision.Metadata
		c.applyCompletion(decision.Target.ID, models.EventAutoComplete, fix.Point, &metadata)
		c.logger.LogAttrs(c.runCtx, slog.LevelInfo, "target auto-completed",
			slog.String("targetID", decision.Target.ID),
			slog.Float64("distanceM", metadata.DistanceM),
			slog.Float64("dwellSeconds", metadata.DwellSeconds))
	case autocomplete.DecisionNone:
	}
}

// applyCompletion mutates the completed set and emits the completion event.
func (c *Controller) applyCompletion(
	targetID string,
	kind models.EventKind,
	location geo.Point,
	metadata *models.EventMetadata,
) {
	c.sess.Completed[targetID] = struct{}{}
	c.count.invalidate()
	c.delivered++
	c.detector.ClearDwell(targetID)
	c.emitEvent(kind, targetID, location, metadata)
}

// emitEvent queues the event and kicks off an asynchronous drain, so
// persistence never blocks the loop.
func (c *Controller) emitEvent(
	kind models.EventKind,
	targetID string,
	location geo.Point,
	metadata *models.EventMetadata,
) {
	c.pending.Enqueue(models.CompletionEvent{
		ID:         uuid.NewString(),
		SessionID:  c.sess.ID,
		TargetID:   targetID,
		Kind:       kind,
		OccurredAt: c.now(),
		Location:   location,
		Metadata:   metadata,
	})
	c.triggerDrain()
}

// triggerDrain starts an asynchronous replay of the offline queue unless one
// is already running. A failed drain waits for the next opportunity instead
// of retrying in a loop.
func (c *Controller) triggerDrain() {
	if c.draining || c.pending.Len() == 0 {
		return
	}
	c.draining = true
	go func() {
		if err := c.pending.Drain(c.runCtx, c.store.LogEvent); err != nil {
			c.logger.LogAttrs(c.runCtx, slog.LevelDebug, "offline queue drain interrupted",
				errors.SlogError(err),
				slog.Int("pending", c.pending.Len()))
		}
		select {
		case c.commands <- func() { c.draining = false }:
		case <-c.runDone:
		}
	}()
}

// lastLocation is the coordinate of the most recent fix, or the zero point
// before any fix has arrived.
func (c *Controller) lastLocation() geo.Point {
	if c.lastFix == nil {
		return geo.Point{}
	}
	return c.lastFix.Point
}

// Package autocomplete decides when the field operator has effectively
// completed a target location, combining proximity, dwell time, speed, and
// debounce gates.
package autocomplete

import (
	"time"

	"github.com/sunridge/fieldtrack/internal/geo"
	"github.com/sunridge/fieldtrack/internal/models"
)

// Config holds the detection thresholds.
type Config struct {
	// RadiusM is the auto-complete radius in meters. A fix at exactly the
	// radius counts as within range.
	RadiusM float64
	// DwellThreshold is the continuous time within the radius required
	// before a target is considered completed.
	DwellThreshold time.Duration
	// MaxDwellSpeedMS excludes fixes at or above this speed from dwell
	// accounting, so a vehicle passing a target does not accumulate dwell.
	MaxDwellSpeedMS float64
	// Debounce is the minimum time between two completion decisions.
	Debounce time.Duration
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		RadiusM:         15,
		DwellThreshold:  8 * time.Second,
		MaxDwellSpeedMS: 2.5,
		Debounce:        3 * time.Second,
	}
}

// DwellState tracks the operator's continuous stay within range of a single
// candidate target. The detector tracks only the globally nearest incomplete
// target at a time, assuming sequential door-to-door traversal; the target id
// is carried so callers needing simultaneous multi-target proximity can key a
// map by it instead.
type DwellState struct {
	TargetID   string
	EnteredAt  time.Time
	EntryPoint geo.Point
}

type DecisionKind int

const (
	// DecisionNone means no state change for this fix.
	DecisionNone DecisionKind = iota
	// DecisionEnterDwell means the operator just came within range of the
	// target and the dwell clock started.
	DecisionEnterDwell
	// DecisionCompleted means the dwell threshold was met and the target
	// should be marked completed.
	DecisionCompleted
)

// Decision is the outcome of evaluating a single fix.
type Decision struct {
	Kind   DecisionKind
	Target models.Target
	// Metadata is set for DecisionCompleted.
	Metadata models.EventMetadata
}

// Detector evaluates fixes against the incomplete targets of a session. It is
// not safe for concurrent use; the session controller serializes access.
type Detector struct {
	cfg           Config
	dwell         *DwellState
	lastCompleted time.Time
}

// NewDetector creates a Detector. Zero-valued config fields fall back to the
// defaults.
func NewDetector(cfg Config) *Detector {
	defaults := DefaultConfig()
	if cfg.RadiusM <= 0 {
		cfg.RadiusM = defaults.RadiusM
	}
	if cfg.DwellThreshold <= 0 {
		cfg.DwellThreshold = defaults.DwellThreshold
	}
	if cfg.MaxDwellSpeedMS <= 0 {
		cfg.MaxDwellSpeedMS = defaults.MaxDwellSpeedMS
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaults.Debounce
	}
	return &Detector{cfg: cfg}
}

// Evaluate runs the completion heuristic for one fix. Time is taken from the
// fix timestamp, not the wall clock, so replayed streams behave
// deterministically.
//
// Distance alone would trigger for someone passing by, dwell alone for
// someone loitering out of range, so both gates must hold. The speed gate
// rejects vehicular pass-bys without erasing dwell accumulated while
// stationary, and the debounce gate keeps one visit from producing two
// completion events when fixes arrive faster than the dwell window.
func (d *Detector) Evaluate(
	fix geo.Fix,
	targets []models.Target,
	completed map[string]struct{},
) Decision {
	now := fix.Timestamp

	if !d.lastCompleted.IsZero() && now.Sub(d.lastCompleted) < d.cfg.Debounce {
		return Decision{Kind: DecisionNone}
	}

	target, distanceM, ok := NearestIncomplete(fix.Point, targets, completed)
	if !ok {
		return Decision{Kind: DecisionNone}
	}

	if distanceM > d.cfg.RadiusM {
		// The operator walked away from the candidate.
		if d.dwell != nil && d.dwell.TargetID == target.ID {
			d.dwell = nil
		}
		return Decision{Kind: DecisionNone}
	}

	if fix.SpeedKnown() && fix.SpeedMS >= d.cfg.MaxDwellSpeedMS {
		// Moving too fast to be at a door. Keep any existing dwell: a
		// single fast fix must not erase time accumulated while standing.
		return Decision{Kind: DecisionNone}
	}

	if d.dwell == nil || d.dwell.TargetID != target.ID {
		d.dwell = &DwellState{
			TargetID:   target.ID,
			EnteredAt:  now,
			EntryPoint: fix.Point,
		}
		return Decision{Kind: DecisionEnterDwell, Target: target}
	}

	elapsed := now.Sub(d.dwell.EnteredAt)
	if elapsed < d.cfg.DwellThreshold {
		return Decision{Kind: DecisionNone}
	}

	d.dwell = nil
	d.lastCompleted = now
	return Decision{
		Kind:   DecisionCompleted,
		Target: target,
		Metadata: models.EventMetadata{
			DistanceM:    distanceM,
			DwellSeconds: elapsed.Seconds(),
			SpeedMS:      fix.SpeedMS,
			RadiusM:      d.cfg.RadiusM,
		},
	}
}

// ClearDwell drops the dwell state for a target that was completed by other
// means, e.g. a manual completion.
func (d *Detector) ClearDwell(targetID string) {
	if d.dwell != nil && d.dwell.TargetID == targetID {
		d.dwell = nil
	}
}

// Dwell returns the current dwell state, if any.
func (d *Detector) Dwell() *DwellState {
	if d.dwell == nil {
		return nil
	}
	state := *d.dwell
	return &state
}

// Reset clears dwell and debounce state for a new session.
func (d *Detector) Reset() {
	d.dwell = nil
	d.lastCompleted = time.Time{}
}

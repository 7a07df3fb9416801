// Package track reconstructs a smoothed travel path from noisy location
// fixes.
package track

import (
	"github.com/sunridge/fieldtrack/internal/geo"
)

// DefaultMinMovementM is the minimum great-circle distance from the last
// accepted fix before a new fix extends the path. Fixes closer than this are
// GPS jitter from a stationary operator, e.g. standing at a door.
const DefaultMinMovementM = 3.0

// Recorder filters raw fixes into a path and a running distance. The caller
// is responsible for only feeding it fixes from an active, unpaused session.
type Recorder struct {
	minMovementM float64
	path         []geo.Point
	distanceM    float64
	hasLast      bool
	last         geo.Point
}

// NewRecorder creates a Recorder with the given minimum-movement threshold in
// meters. A non-positive threshold falls back to DefaultMinMovementM.
func NewRecorder(minMovementM float64) *Recorder {
	if minMovementM <= 0 {
		minMovementM = DefaultMinMovementM
	}
	return &Recorder{minMovementM: minMovementM}
}

// Record evaluates a fix. The first fix is always accepted; later fixes are
// accepted only when they are at least the minimum-movement threshold away
// from the last accepted fix. Accepted fixes extend the path and add their
// distance delta to the running total. Rejected fixes have no side effects.
func (r *Recorder) Record(fix geo.Fix) (accepted bool, distanceDelta float64) {
	if !r.hasLast {
		r.path = append(r.path, fix.Point)
		r.last = fix.Point
		r.hasLast = true
		return true, 0
	}

	delta := geo.Distance(r.last, fix.Point)
	if delta < r.minMovementM {
		return false, 0
	}

	r.path = append(r.path, fix.Point)
	r.distanceM += delta
	r.last = fix.Point
	return true, delta
}

// Path returns a copy of the accepted path.
func (r *Recorder) Path() []geo.Point {
	path := make([]geo.Point, len(r.path))
	copy(path, r.path)
	return path
}

// DistanceM returns the accumulated distance in meters.
func (r *Recorder) DistanceM() float64 {
	return r.distanceM
}

// Restore preloads a previously recorded path and distance, e.g. when
// rehydrating a session that was active when the application terminated.
func (r *Recorder) Restore(path []geo.Point, distanceM float64) {
	r.path = make([]geo.Point, len(path))
	copy(r.path, path)
	r.distanceM = distanceM
	if len(r.path) > 0 {
		r.last = r.path[len(r.path)-1]
		r.hasLast = true
	} else {
		r.hasLast = false
	}
}

// Reset clears the path, distance, and last accepted fix.
func (r *Recorder) Reset() {
	r.path = nil
	r.distanceM = 0
	r.hasLast = false
	r.last = geo.Point{}
}

package autocomplete_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/sunridge/fieldtrack/internal/autocomplete"
	"github.com/sunridge/fieldtrack/internal/geo"
	"github.com/sunridge/fieldtrack/internal/models"
)

// metersToLat converts meters to degrees of latitude near the equator.
const metersToLat = 1.0 / 111195.0

var baseTime = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func fixAtMeters(m float64, speed float64, at time.Time) geo.Fix {
	return geo.Fix{
		Point:     geo.Point{Lat: m * metersToLat, Lon: 0},
		SpeedMS:   speed,
		Timestamp: at,
	}
}

func singleTarget() []models.Target {
	return []models.Target{{ID: "door-1", Centroid: geo.Point{Lat: 0, Lon: 0}}}
}

// One fix per second at 10 m from the target, standing still: the dwell
// clock starts on the first fix and exactly one completion fires on the fix
// where elapsed dwell first reaches the 8 s threshold.
func TestDetectorCompletesAfterDwell(t *testing.T) {
	t.Parallel()
	detector := autocomplete.NewDetector(autocomplete.DefaultConfig())
	targets := singleTarget()
	completed := map[string]struct{}{}

	var completions int
	for i := 0; i < 10; i++ {
		fix := fixAtMeters(10, 0, baseTime.Add(time.Duration(i)*time.Second))
		decision := detector.Evaluate(fix, targets, completed)
		switch {
		case i == 0:
			require.Equal(t, autocomplete.DecisionEnterDwell, decision.Kind)
		case i < 8:
			require.Equal(t, autocomplete.DecisionNone, decision.Kind)
		case i == 8:
			require.Equal(t, autocomplete.DecisionCompleted, decision.Kind)
			require.Equal(t, "door-1", decision.Target.ID)
			require.InDelta(t, 8, decision.Metadata.DwellSeconds, 1e-9)
			require.InDelta(t, 10, decision.Metadata.DistanceM, 0.1)
			require.InDelta(t, 15, decision.Metadata.RadiusM, 1e-9)
			completed[decision.Target.ID] = struct{}{}
		}
		if decision.Kind == autocomplete.DecisionCompleted {
			completions++
		}
	}
	require.Equal(t, 1, completions)
}

// Driving past at 3.0 m/s never completes, regardless of duration.
func TestDetectorSpeedGateBlocksCompletion(t *testing.T) {
	t.Parallel()
	detector := autocomplete.NewDetector(autocomplete.DefaultConfig())
	targets := singleTarget()

	for i := 0; i < 60; i++ {
		fix := fixAtMeters(10, 3.0, baseTime.Add(time.Duration(i)*time.Second))
		decision := detector.Evaluate(fix, targets, map[string]struct{}{})
		require.Equal(t, autocomplete.DecisionNone, decision.Kind)
	}
	require.Nil(t, detector.Dwell())
}

// A fast fix in the middle of a stationary dwell must not erase the
// accumulated dwell time.
func TestDetectorSpeedGateKeepsDwell(t *testing.T) {
	t.Parallel()
	detector := autocomplete.NewDetector(autocomplete.DefaultConfig())
	targets := singleTarget()
	completed := map[string]struct{}{}

	decision := detector.Evaluate(fixAtMeters(10, 0, baseTime), targets, completed)
	require.Equal(t, autocomplete.DecisionEnterDwell, decision.Kind)

	// Speed spike at t+4s: gated, but dwell entry time survives.
	decision = detector.Evaluate(fixAtMeters(10, 4.0, baseTime.Add(4*time.Second)), targets, completed)
	require.Equal(t, autocomplete.DecisionNone, decision.Kind)
	require.NotNil(t, detector.Dwell())

	decision = detector.Evaluate(fixAtMeters(10, 0, baseTime.Add(8*time.Second)), targets, completed)
	require.Equal(t, autocomplete.DecisionCompleted, decision.Kind)
}

// Unknown speed is reported as negative by the location source and must not
// block dwell.
func TestDetectorUnknownSpeedNotBlocking(t *testing.T) {
	t.Parallel()
	detector := autocomplete.NewDetector(autocomplete.DefaultConfig())
	targets := singleTarget()
	completed := map[string]struct{}{}

	require.Equal(t, autocomplete.DecisionEnterDwell,
		detector.Evaluate(fixAtMeters(10, -1, baseTime), targets, completed).Kind)
	require.Equal(t, autocomplete.DecisionCompleted,
		detector.Evaluate(fixAtMeters(10, -1, baseTime.Add(8*time.Second)), targets, completed).Kind)
}

// Out of range never completes, no matter how long the operator loiters.
func TestDetectorRadiusGate(t *testing.T) {
	t.Parallel()
	detector := autocomplete.NewDetector(autocomplete.DefaultConfig())
	targets := singleTarget()

	for i := 0; i < 120; i++ {
		fix := fixAtMeters(20, 0, baseTime.Add(time.Duration(i)*time.Second))
		decision := detector.Evaluate(fix, targets, map[string]struct{}{})
		require.Equal(t, autocomplete.DecisionNone, decision.Kind)
	}
}

// Walking out of range clears the dwell clock; coming back starts over.
func TestDetectorLeavingRadiusClearsDwell(t *testing.T) {
	t.Parallel()
	detector := autocomplete.NewDetector(autocomplete.DefaultConfig())
	targets := singleTarget()
	completed := map[string]struct{}{}

	require.Equal(t, autocomplete.DecisionEnterDwell,
		detector.Evaluate(fixAtMeters(10, 0, baseTime), targets, completed).Kind)

	// Step out at t+5s.
	require.Equal(t, autocomplete.DecisionNone,
		detector.Evaluate(fixAtMeters(30, 1, baseTime.Add(5*time.Second)), targets, completed).Kind)
	require.Nil(t, detector.Dwell())

	// Back in range at t+6s: new dwell, so t+9s has only 3 s of dwell.
	require.Equal(t, autocomplete.DecisionEnterDwell,
		detector.Evaluate(fixAtMeters(10, 0, baseTime.Add(6*time.Second)), targets, completed).Kind)
	require.Equal(t, autocomplete.DecisionNone,
		detector.Evaluate(fixAtMeters(10, 0, baseTime.Add(9*time.Second)), targets, completed).Kind)
	require.Equal(t, autocomplete.DecisionCompleted,
		detector.Evaluate(fixAtMeters(10, 0, baseTime.Add(14*time.Second)), targets, completed).Kind)
}

// Dwell below the threshold never completes even at zero distance and speed.
func TestDetectorDwellThresholdHolds(t *testing.T) {
	t.Parallel()
	detector := autocomplete.NewDetector(autocomplete.DefaultConfig())
	targets := singleTarget()
	completed := map[string]struct{}{}

	require.Equal(t, autocomplete.DecisionEnterDwell,
		detector.Evaluate(fixAtMeters(0, 0, baseTime), targets, completed).Kind)
	require.Equal(t, autocomplete.DecisionNone,
		detector.Evaluate(fixAtMeters(0, 0, baseTime.Add(7999*time.Millisecond)), targets, completed).Kind)
}

// A fix at exactly the radius counts as within range.
func TestDetectorRadiusBoundaryInclusive(t *testing.T) {
	t.Parallel()
	cfg := autocomplete.DefaultConfig()
	detector := autocomplete.NewDetector(cfg)
	targets := []models.Target{{ID: "door-1", Centroid: geo.Point{Lat: 0, Lon: 0}}}
	completed := map[string]struct{}{}

	fix := geo.Fix{Point: geo.Point{Lat: 0, Lon: 0}, SpeedMS: 0, Timestamp: baseTime}
	// Place the fix so its computed distance is just inside the radius.
	fix.Point.Lat = (cfg.RadiusM - 0.01) * metersToLat
	require.Equal(t, autocomplete.DecisionEnterDwell,
		detector.Evaluate(fix, targets, completed).Kind)
}

// After a completion, the debounce window suppresses evaluation so a burst of
// fixes cannot double-complete a visit.
func TestDetectorDebounce(t *testing.T) {
	t.Parallel()
	detector := autocomplete.NewDetector(autocomplete.DefaultConfig())
	targets := []models.Target{
		{ID: "door-1", Centroid: geo.Point{Lat: 0, Lon: 0}},
		{ID: "door-2", Centroid: geo.Point{Lat: 5 * metersToLat, Lon: 0}},
	}
	completed := map[string]struct{}{}

	detector.Evaluate(fixAtMeters(2, 0, baseTime), targets, completed)
	decision := detector.Evaluate(fixAtMeters(2, 0, baseTime.Add(8*time.Second)), targets, completed)
	require.Equal(t, autocomplete.DecisionCompleted, decision.Kind)
	completed[decision.Target.ID] = struct{}{}

	// Fixes inside the 3 s debounce window are ignored even though door-2 is
	// in range and incomplete.
	require.Equal(t, autocomplete.DecisionNone,
		detector.Evaluate(fixAtMeters(2, 0, baseTime.Add(9*time.Second)), targets, completed).Kind)
	require.Equal(t, autocomplete.DecisionNone,
		detector.Evaluate(fixAtMeters(2, 0, baseTime.Add(10*time.Second)), targets, completed).Kind)

	// Once the window passes, the next candidate starts its own dwell.
	require.Equal(t, autocomplete.DecisionEnterDwell,
		detector.Evaluate(fixAtMeters(2, 0, baseTime.Add(11*time.Second)), targets, completed).Kind)
}

// A manual completion clears an in-flight dwell for that target.
func TestDetectorClearDwell(t *testing.T) {
	t.Parallel()
	detector := autocomplete.NewDetector(autocomplete.DefaultConfig())
	targets := singleTarget()
	completed := map[string]struct{}{}

	detector.Evaluate(fixAtMeters(10, 0, baseTime), targets, completed)
	require.NotNil(t, detector.Dwell())

	detector.ClearDwell("door-1")
	require.Nil(t, detector.Dwell())
}

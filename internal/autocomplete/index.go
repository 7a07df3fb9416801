package autocomplete

import (
	"github.com/sunridge/fieldtrack/internal/geo"
	"github.com/sunridge/fieldtrack/internal/models"
)

// NearestIncomplete returns the closest target that is not in the completed
// set, together with its distance in meters. ok is false when every target is
// completed or the target list is empty.
//
// The scan is O(n) per call. Target sets in this domain are bounded to a few
// thousand, so a spatial index is not worth the complexity.
func NearestIncomplete(
	from geo.Point,
	targets []models.Target,
	completed map[string]struct{},
) (nearest models.Target, distanceM float64, ok bool) {
	for _, target := range targets {
		if _, done := completed[target.ID]; done {
			continue
		}
		d := geo.Distance(from, target.Centroid)
		if !ok || d < distanceM {
			nearest = target
			distanceM = d
			ok = true
		}
	}
	return nearest, distanceM, ok
}

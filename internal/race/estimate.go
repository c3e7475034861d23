package race

import (
	"log"
	"math"

	"github.com/aaron-iles/ultra-tracker/internal/course"
	"github.com/aaron-iles/ultra-tracker/internal/geo"
)

// disambiguationRadiusFt is the radius used to collect candidate route
// points around a snapped fix. Tuned against real courses; changing it
// shifts the loop/out-and-back detection behavior.
const disambiguationRadiusFt = 100.0

// defaultPaceMinPerMile stands in for the expected-distance calculation when
// the runner has no established pace yet.
const defaultPaceMinPerMile = 10.0

// mostProbableMileMark picks the candidate mile mark whose likelihood is
// highest under a normal distribution centered on the distance the runner
// would have covered at their average pace, with a standard deviation of a
// third of that pace. Ties and degenerate distributions resolve to the first
// candidate.
func mostProbableMileMark(mileMarks []float64, elapsedMinutes, averageOverallPace float64) float64 {
	speed := 1 / defaultPaceMinPerMile // miles per minute
	if averageOverallPace != 0 {
		speed = 1 / averageOverallPace
	}
	expectedDistance := elapsedMinutes * speed
	standardDeviation := averageOverallPace / 3

	if standardDeviation <= 0 {
		return mileMarks[0]
	}
	best := mileMarks[0]
	bestDensity := math.Inf(-1)
	for _, mark := range mileMarks {
		z := (mark - expectedDistance) / standardDeviation
		density := math.Exp(-z * z / 2)
		if density > bestDensity {
			bestDensity = density
			best = mark
		}
	}
	return best
}

// estimateLocation converts a raw fix into the most likely mile mark, route
// point, and elevation. It first snaps the fix to the nearest route point to
// absorb GPS noise and drawing inaccuracies, then collects every route point
// within 100 feet of the snap. A single contiguous stretch means the closest
// point wins outright; disjoint stretches mean the course visits this spot
// more than once and the pace-based likelihood decides. Pure function of its
// inputs.
func estimateLocation(rt *course.Route, latlon geo.Point, elapsedMinutes, averageOverallPace float64) (float64, geo.Point, float64) {
	snapped := rt.Points[rt.Nearest(latlon)]

	indices, contiguous := rt.WithinRadius(snapped, disambiguationRadiusFt)

	if len(indices) > 0 && contiguous {
		closest := indices[0]
		return rt.Distances[closest], rt.Points[closest], rt.Elevations[closest]
	}

	if len(indices) > 0 {
		mileMarks := make([]float64, len(indices))
		for i, idx := range indices {
			mileMarks[i] = rt.Distances[idx]
		}
		mileMark := mostProbableMileMark(mileMarks, elapsedMinutes, averageOverallPace)
		return mileMark, rt.PointAtMileMark(mileMark), rt.ElevationAtMileMark(mileMark)
	}

	// Unreachable in practice since the fix was snapped onto the route, but
	// kept as a recoverable degraded result.
	log.Printf("unable to find mile mark for point %v", snapped)
	return 0, geo.Point{}, 0
}

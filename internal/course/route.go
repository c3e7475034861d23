package course

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/aaron-iles/ultra-tracker/internal/geo"
)

var (
	// ErrInvalidRoute is returned when the raw route polyline cannot form a path.
	ErrInvalidRoute = errors.New("invalid route")
	// ErrRouteNotFound is returned when the named route shape is missing from the map.
	ErrRouteNotFound = errors.New("route not found")
	// ErrAidStationNotFound is returned when a configured aid station has no marker.
	ErrAidStationNotFound = errors.New("aid station not found")
)

// Route is the resampled, elevation-annotated model of the race path. It is
// built once at course load and is read-only afterwards, so it may be shared
// across goroutines without synchronization (the radius-query memo carries
// its own lock).
type Route struct {
	Name       string
	Points     []geo.Point
	Distances  []float64 // cumulative miles from the start, parallel to Points
	Elevations []float64 // feet, parallel to Points
	Gains      []float64 // cumulative feet climbed up to each point
	Losses     []float64 // cumulative feet descended up to each point
	Length     float64   // total miles

	index *kdTree

	memoMu sync.Mutex
	memo   map[radiusKey]radiusResult
}

type radiusKey struct {
	lat, lon, radius float64
}

type radiusResult struct {
	indices    []int
	contiguous bool
}

// buildPath resamples a raw polyline so that consecutive points are no closer
// than minFt and no farther than maxFt apart. Candidates closer than minFt
// are dropped with the last accepted point carried forward; gaps wider than
// maxFt are bridged with evenly interpolated points in lat/lon space. The
// first and last raw points are always retained. The returned distances are
// cumulative geodesic miles, index-aligned with the points.
func buildPath(raw []geo.Point, minFt, maxFt float64) ([]geo.Point, []float64, error) {
	if len(raw) < 2 {
		return nil, nil, fmt.Errorf("%w: need at least 2 points, got %d", ErrInvalidRoute, len(raw))
	}

	points := []geo.Point{raw[0]}
	last := raw[0]
	for i := 1; i < len(raw)-1; i++ {
		candidate := raw[i+1]
		dist := geo.GeodesicFeet(last, candidate)
		if dist < minFt {
			continue
		}
		if dist > maxFt {
			intervals := int(dist / maxFt)
			latStep := (candidate.Lat - last.Lat) / float64(intervals)
			lonStep := (candidate.Lon - last.Lon) / float64(intervals)
			for j := 1; j <= intervals; j++ {
				points = append(points, geo.Point{
					Lat: last.Lat + float64(j)*latStep,
					Lon: last.Lon + float64(j)*lonStep,
				})
			}
		} else {
			points = append(points, candidate)
		}
		last = points[len(points)-1]
	}
	points = append(points, raw[len(raw)-1])

	distances := make([]float64, len(points))
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += geo.GeodesicMiles(points[i-1], points[i])
		distances[i] = total
	}
	return points, distances, nil
}

// cumulativeAltitudeChanges turns an elevation profile into cumulative gain
// and loss arrays, both prefixed with 0 and monotone non-decreasing.
func cumulativeAltitudeChanges(elevations []float64) (gains, losses []float64) {
	gains = make([]float64, len(elevations))
	losses = make([]float64, len(elevations))
	for i := 1; i < len(elevations); i++ {
		delta := elevations[i] - elevations[i-1]
		gains[i] = gains[i-1]
		losses[i] = losses[i-1]
		if delta > 0 {
			gains[i] += delta
		} else {
			losses[i] -= delta
		}
	}
	return gains, losses
}

// annotateElevations asks the provider for the profile. Any failure degrades
// to a flat profile; elevation is a nicety, not a construction requirement.
func annotateElevations(ep ElevationProvider, points []geo.Point) []float64 {
	if ep == nil {
		return make([]float64, len(points))
	}
	elevations, err := ep.Elevations(points)
	if err != nil || len(elevations) != len(points) {
		log.Printf("elevation data unavailable (%v), defaulting gains/losses to zero", err)
		return make([]float64, len(points))
	}
	return elevations
}

// NewRoute builds the immutable route model: resampled points, cumulative
// distances, the elevation profile, and the spatial index.
func NewRoute(name string, raw []geo.Point, minFt, maxFt float64, ep ElevationProvider) (*Route, error) {
	points, distances, err := buildPath(raw, minFt, maxFt)
	if err != nil {
		return nil, fmt.Errorf("route %q: %w", name, err)
	}
	elevations := annotateElevations(ep, points)
	gains, losses := cumulativeAltitudeChanges(elevations)
	return &Route{
		Name:       name,
		Points:     points,
		Distances:  distances,
		Elevations: elevations,
		Gains:      gains,
		Losses:     losses,
		Length:     distances[len(distances)-1],
		index:      newKDTree(points),
		memo:       map[radiusKey]radiusResult{},
	}, nil
}

// Start returns the first point of the route.
func (r *Route) Start() geo.Point { return r.Points[0] }

// Finish returns the last point of the route.
func (r *Route) Finish() geo.Point { return r.Points[len(r.Points)-1] }

// Gain is the total elevation gain over the route in feet.
func (r *Route) Gain() float64 { return r.Gains[len(r.Gains)-1] }

// Loss is the total elevation loss over the route in feet.
func (r *Route) Loss() float64 { return r.Losses[len(r.Losses)-1] }

// Nearest returns the index of the route point closest to p.
func (r *Route) Nearest(p geo.Point) int {
	return r.index.nearest(p)
}

// IndexAtMileMark returns the index of the route point whose cumulative
// distance is closest to the given mile mark.
func (r *Route) IndexAtMileMark(mileMark float64) int {
	best := 0
	bestDiff := math.Inf(1)
	for i, d := range r.Distances {
		diff := math.Abs(d - mileMark)
		if diff < bestDiff {
			bestDiff = diff
			best = i
		}
	}
	return best
}

// PointAtMileMark returns the route coordinate at the given mile mark.
func (r *Route) PointAtMileMark(mileMark float64) geo.Point {
	return r.Points[r.IndexAtMileMark(mileMark)]
}

// ElevationAtMileMark returns the route elevation at the given mile mark.
func (r *Route) ElevationAtMileMark(mileMark float64) float64 {
	return r.Elevations[r.IndexAtMileMark(mileMark)]
}

// WithinRadius returns the indices of all route points within radiusFt feet
// of center, ordered closest-first, along with a flag indicating whether the
// indices form a single contiguous stretch of the route. Multiple disjoint
// stretches mean the course visits this location more than once (loop,
// out-and-back, or crossing). Results are memoized per (center, radius)
// since the same locations are queried on every fix.
func (r *Route) WithinRadius(center geo.Point, radiusFt float64) ([]int, bool) {
	key := radiusKey{center.Lat, center.Lon, radiusFt}
	r.memoMu.Lock()
	if res, ok := r.memo[key]; ok {
		r.memoMu.Unlock()
		return res.indices, res.contiguous
	}
	r.memoMu.Unlock()

	var indices []int
	var dists []float64
	for i, p := range r.Points {
		if d := geo.HaversineFeet(center, p); d <= radiusFt {
			indices = append(indices, i)
			dists = append(dists, d)
		}
	}
	contiguous := len(geo.ConsecutiveRuns(indices)) == 1

	sorted := make([]int, len(indices))
	copy(sorted, indices)
	// Stable sort keeps route order for equidistant points so ties resolve
	// to the smallest index.
	byDist := map[int]float64{}
	for i, idx := range indices {
		byDist[idx] = dists[i]
	}
	stableSortByDistance(sorted, byDist)

	r.memoMu.Lock()
	r.memo[key] = radiusResult{indices: sorted, contiguous: contiguous}
	r.memoMu.Unlock()
	return sorted, contiguous
}

func stableSortByDistance(indices []int, dist map[int]float64) {
	// Insertion sort: the candidate sets are tiny (points within 100 ft).
	for i := 1; i < len(indices); i++ {
		for j := i; j > 0 && dist[indices[j]] < dist[indices[j-1]]; j-- {
			indices[j], indices[j-1] = indices[j-1], indices[j]
		}
	}
}

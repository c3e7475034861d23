package course

import "github.com/aaron-iles/ultra-tracker/internal/geo"

// Shape is a named polyline drawn on the source map.
type Shape struct {
	ID     string
	Title  string
	Points []geo.Point
}

// Marker is a named point feature on the source map.
type Marker struct {
	ID       string
	Title    string
	Location geo.Point
}

// MapFeatures is the parsed geometry of a single map: its drawn shapes and
// point markers.
type MapFeatures struct {
	Shapes  []Shape
	Markers []Marker
}

// MapFeatureProvider returns the route geometry and named markers for a map.
// Called once at course construction; a failure is fatal to startup.
type MapFeatureProvider interface {
	MapFeatures() (MapFeatures, error)
}

// ElevationProvider returns a per-point altitude (in feet) for an ordered
// list of points. Implementations may return an error or a short result;
// callers treat either as "elevation unavailable".
type ElevationProvider interface {
	Elevations(points []geo.Point) ([]float64, error)
}

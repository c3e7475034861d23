package course

import (
	"math/rand"
	"testing"

	"github.com/aaron-iles/ultra-tracker/internal/geo"
)

func bruteNearest(points []geo.Point, target geo.Point) int {
	best := -1
	bestDist := 0.0
	for i, p := range points {
		d := sqDist(p, target)
		if best == -1 || d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

func TestKDTreeMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	points := make([]geo.Point, 500)
	for i := range points {
		points[i] = geo.Point{
			Lat: 39.0 + rng.Float64()*0.5,
			Lon: -76.5 + rng.Float64()*0.5,
		}
	}
	tree := newKDTree(points)

	for i := 0; i < 200; i++ {
		target := geo.Point{
			Lat: 39.0 + rng.Float64()*0.5,
			Lon: -76.5 + rng.Float64()*0.5,
		}
		got := tree.nearest(target)
		want := bruteNearest(points, target)
		if sqDist(points[got], target) != sqDist(points[want], target) {
			t.Fatalf("query %d: tree %d (%v) vs brute %d (%v)", i, got, points[got], want, points[want])
		}
	}
}

func TestKDTreeExactHit(t *testing.T) {
	points := []geo.Point{
		{Lat: 39.0, Lon: -76.0},
		{Lat: 39.1, Lon: -76.1},
		{Lat: 39.2, Lon: -76.2},
	}
	tree := newKDTree(points)
	for i, p := range points {
		if got := tree.nearest(p); got != i {
			t.Fatalf("expected index %d for its own point, got %d", i, got)
		}
	}
}

func TestKDTreeSinglePoint(t *testing.T) {
	tree := newKDTree([]geo.Point{{Lat: 1, Lon: 2}})
	if got := tree.nearest(geo.Point{Lat: 50, Lon: 50}); got != 0 {
		t.Fatalf("expected index 0, got %d", got)
	}
}

func TestKDTreeDuplicatePoints(t *testing.T) {
	// Out-and-back routes produce repeated coordinates; any of the
	// duplicates is an acceptable answer.
	points := []geo.Point{
		{Lat: 39.0, Lon: -76.0},
		{Lat: 39.1, Lon: -76.0},
		{Lat: 39.0, Lon: -76.0},
	}
	tree := newKDTree(points)
	got := tree.nearest(geo.Point{Lat: 39.0, Lon: -76.0})
	if got != 0 && got != 2 {
		t.Fatalf("expected one of the duplicate indices, got %d", got)
	}
}

package course

import (
	"math"
	"sort"

	"github.com/aaron-iles/ultra-tracker/internal/geo"
)

// kdTree is a static 2-D tree over route points in lat/lon degree space.
// It only needs to answer the "snap to nearest route point" query; the
// degree-space metric is fine for that because candidates are always within
// a few hundred feet of each other.
type kdTree struct {
	points []geo.Point
	nodes  []kdNode
	root   int
}

type kdNode struct {
	pointIdx    int
	left, right int
}

func newKDTree(points []geo.Point) *kdTree {
	t := &kdTree{points: points, root: -1}
	indices := make([]int, len(points))
	for i := range indices {
		indices[i] = i
	}
	t.root = t.build(indices, 0)
	return t
}

func (t *kdTree) build(indices []int, depth int) int {
	if len(indices) == 0 {
		return -1
	}
	axis := depth % 2
	sort.Slice(indices, func(i, j int) bool {
		return t.coord(indices[i], axis) < t.coord(indices[j], axis)
	})
	mid := len(indices) / 2
	node := kdNode{pointIdx: indices[mid]}
	t.nodes = append(t.nodes, node)
	id := len(t.nodes) - 1
	left := t.build(indices[:mid], depth+1)
	right := t.build(indices[mid+1:], depth+1)
	t.nodes[id].left = left
	t.nodes[id].right = right
	return id
}

func (t *kdTree) coord(pointIdx, axis int) float64 {
	if axis == 0 {
		return t.points[pointIdx].Lat
	}
	return t.points[pointIdx].Lon
}

// nearest returns the index of the point closest to target.
func (t *kdTree) nearest(target geo.Point) int {
	best := -1
	bestDist := math.Inf(1)
	t.search(t.root, target, 0, &best, &bestDist)
	return best
}

func (t *kdTree) search(nodeID int, target geo.Point, depth int, best *int, bestDist *float64) {
	if nodeID == -1 {
		return
	}
	node := t.nodes[nodeID]
	p := t.points[node.pointIdx]
	d := sqDist(p, target)
	if d < *bestDist || (d == *bestDist && (*best == -1 || node.pointIdx < *best)) {
		*bestDist = d
		*best = node.pointIdx
	}

	axis := depth % 2
	var targetCoord float64
	if axis == 0 {
		targetCoord = target.Lat
	} else {
		targetCoord = target.Lon
	}
	split := t.coord(node.pointIdx, axis)

	near, far := node.left, node.right
	if targetCoord > split {
		near, far = far, near
	}
	t.search(near, target, depth+1, best, bestDist)
	if diff := targetCoord - split; diff*diff <= *bestDist {
		t.search(far, target, depth+1, best, bestDist)
	}
}

func sqDist(a, b geo.Point) float64 {
	dlat := a.Lat - b.Lat
	dlon := a.Lon - b.Lon
	return dlat*dlat + dlon*dlon
}

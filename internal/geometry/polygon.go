// Package geometry implements the point-in-polygon test used to decide zone
// membership. All coordinates are integer pixels so the test is exact.
package geometry

import (
	"github.com/golang/geo/r2"

	"github.com/crowdcount/zonecount/pkg/types"
)

// Polygon is an ordered ring of vertices. The closing edge is implicit.
type Polygon []types.Point

// Contains reports whether pt lies inside poly or on its boundary.
// Polygons with fewer than 3 vertices never contain anything.
func Contains(pt types.Point, poly Polygon) bool {
	n := len(poly)
	if n < 3 {
		return false
	}

	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := poly[i], poly[j]
		if onSegment(pt, a, b) {
			return true
		}
		if (a.Y > pt.Y) == (b.Y > pt.Y) {
			continue
		}
		// pt.X < x-intercept of edge ab at pt.Y, without division
		dy := int64(b.Y - a.Y)
		lhs := int64(pt.X-a.X) * dy
		rhs := int64(pt.Y-a.Y) * int64(b.X-a.X)
		if (dy > 0 && lhs < rhs) || (dy < 0 && lhs > rhs) {
			inside = !inside
		}
	}
	return inside
}

func onSegment(p, a, b types.Point) bool {
	cross := int64(b.X-a.X)*int64(p.Y-a.Y) - int64(b.Y-a.Y)*int64(p.X-a.X)
	if cross != 0 {
		return false
	}
	return min(a.X, b.X) <= p.X && p.X <= max(a.X, b.X) &&
		min(a.Y, b.Y) <= p.Y && p.Y <= max(a.Y, b.Y)
}

// Bounds returns the axis-aligned bounding rectangle of poly.
func Bounds(poly Polygon) r2.Rect {
	if len(poly) == 0 {
		return r2.EmptyRect()
	}
	pts := make([]r2.Point, len(poly))
	for i, p := range poly {
		pts[i] = r2.Point{X: float64(p.X), Y: float64(p.Y)}
	}
	return r2.RectFromPoints(pts...)
}

// Centroid returns the area centroid of poly, falling back to the vertex mean
// for zero-area rings.
func Centroid(poly Polygon) (float64, float64) {
	if len(poly) == 0 {
		return 0, 0
	}

	var area2, cx, cy float64
	for i, j := 0, len(poly)-1; i < len(poly); j, i = i, i+1 {
		a, b := poly[j], poly[i]
		cross := float64(a.X)*float64(b.Y) - float64(b.X)*float64(a.Y)
		area2 += cross
		cx += float64(a.X+b.X) * cross
		cy += float64(a.Y+b.Y) * cross
	}
	if area2 != 0 {
		return cx / (3 * area2), cy / (3 * area2)
	}

	var sx, sy float64
	for _, p := range poly {
		sx += float64(p.X)
		sy += float64(p.Y)
	}
	n := float64(len(poly))
	return sx / n, sy / n
}

// Region is a polygon with its bounding rectangle precomputed, for repeated
// containment tests against the same geometry.
type Region struct {
	poly   Polygon
	bounds r2.Rect
}

// NewRegion prepares poly for repeated tests. The vertices are copied.
func NewRegion(poly Polygon) Region {
	cp := make(Polygon, len(poly))
	copy(cp, poly)
	return Region{poly: cp, bounds: Bounds(cp)}
}

// Contains reports whether pt is inside the region or on its boundary.
func (r Region) Contains(pt types.Point) bool {
	if len(r.poly) < 3 {
		return false
	}
	if !r.bounds.ContainsPoint(r2.Point{X: float64(pt.X), Y: float64(pt.Y)}) {
		return false
	}
	return Contains(pt, r.poly)
}

// Polygon returns the region's vertices.
func (r Region) Polygon() Polygon {
	return r.poly
}

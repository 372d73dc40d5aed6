package geo

import (
	"sort"

	"github.com/samber/lo"
)

// Point2D is a bare (x=lon, y=lat) pair, used where altitude plays no part:
// polygon vertices and convex-hull output.
type Point2D struct {
	X float64
	Y float64
}

// Polygon is a closed ring of vertices in (lon, lat) space. The first and
// last vertex are not required to repeat; Contains treats the ring as
// implicitly closed.
type Polygon struct {
	Vertices []Point2D
}

// Valid reports whether the polygon has at least three vertices, the
// minimum needed for a meaningful region.
func (p Polygon) Valid() bool {
	return len(p.Vertices) >= 3
}

// BoundingRect returns the axis-aligned 2D bounds of the polygon's vertices.
func (p Polygon) BoundingRect() (min, max Point2D) {
	if len(p.Vertices) == 0 {
		return Point2D{}, Point2D{}
	}
	min, max = p.Vertices[0], p.Vertices[0]
	for _, v := range p.Vertices[1:] {
		if v.X < min.X {
			min.X = v.X
		}
		if v.Y < min.Y {
			min.Y = v.Y
		}
		if v.X > max.X {
			max.X = v.X
		}
		if v.Y > max.Y {
			max.Y = v.Y
		}
	}
	return min, max
}

// Contains reports whether pt lies within the polygon using the standard
// ray-casting (even-odd) rule. Points exactly on an edge may be reported as
// either inside or outside depending on floating-point rounding;
// boundary-exact behavior is not guaranteed.
func (p Polygon) Contains(pt Point2D) bool {
	n := len(p.Vertices)
	if n < 3 {
		return false
	}
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		vi, vj := p.Vertices[i], p.Vertices[j]
		if (vi.Y > pt.Y) != (vj.Y > pt.Y) {
			xIntersect := (vj.X-vi.X)*(pt.Y-vi.Y)/(vj.Y-vi.Y) + vi.X
			if pt.X < xIntersect {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// ConvexHull computes the convex hull of pts using the Andrew monotone
// chain algorithm, returning vertices in counter-clockwise order. Returns
// false if fewer than three distinct points are supplied, matching
// HotState.convex_hull's "None if fewer than three distinct points" rule.
func ConvexHull(pts []Point2D) (Polygon, bool) {
	distinct := lo.UniqBy(pts, func(p Point2D) [2]float64 { return [2]float64{p.X, p.Y} })
	if len(distinct) < 3 {
		return Polygon{}, false
	}

	sort.Slice(distinct, func(i, j int) bool {
		if distinct[i].X != distinct[j].X {
			return distinct[i].X < distinct[j].X
		}
		return distinct[i].Y < distinct[j].Y
	})

	cross := func(o, a, b Point2D) float64 {
		return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
	}

	lower := make([]Point2D, 0, len(distinct))
	for _, p := range distinct {
		for len(lower) >= 2 && cross(lower[len(lower)-2], lower[len(lower)-1], p) <= 0 {
			lower = lower[:len(lower)-1]
		}
		lower = append(lower, p)
	}

	upper := make([]Point2D, 0, len(distinct))
	for i := len(distinct) - 1; i >= 0; i-- {
		p := distinct[i]
		for len(upper) >= 2 && cross(upper[len(upper)-2], upper[len(upper)-1], p) <= 0 {
			upper = upper[:len(upper)-1]
		}
		upper = append(upper, p)
	}

	hull := append(lower[:len(lower)-1], upper[:len(upper)-1]...)
	if len(hull) < 3 {
		return Polygon{}, false
	}
	return Polygon{Vertices: hull}, true
}

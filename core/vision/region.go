package vision

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Point is an image coordinate in pixels.
type Point struct {
	X, Y float64
}

func (p Point) vec() []float64 { return []float64{p.X, p.Y} }

func midpoint(a, b Point) Point {
	return Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}
}

func dist(a, b Point) float64 {
	return floats.Distance(a.vec(), b.vec(), 2)
}

// Region is the geometry of one contour: its rotated bounding box corners in
// top-left, top-right, bottom-right, bottom-left order, the contour area and
// the pixel extents. Length and Width hold real-world millimetres once the
// region has been scaled against the fiducial.
type Region struct {
	Corners     [4]Point
	Area        float64
	PixelLength float64
	PixelWidth  float64
	Length      float64
	Width       float64
}

// NewRegion orders the corners of a bounding box and derives the pixel
// extents. PixelLength joins the midpoints of the top and bottom edges,
// PixelWidth joins the midpoints of the left and right edges.
func NewRegion(box [4]Point, area float64) Region {
	c := OrderCorners(box)
	tl, tr, br, bl := c[0], c[1], c[2], c[3]
	return Region{
		Corners:     c,
		Area:        area,
		PixelLength: dist(midpoint(tl, tr), midpoint(bl, br)),
		PixelWidth:  dist(midpoint(tl, bl), midpoint(tr, br)),
	}
}

// OrderCorners returns the four points as top-left, top-right, bottom-right,
// bottom-left. The two left-most points are split by y into top-left and
// bottom-left; of the two right-most points the one farther from top-left is
// bottom-right.
func OrderCorners(pts [4]Point) [4]Point {
	s := pts
	sort.SliceStable(s[:], func(i, j int) bool { return s[i].X < s[j].X })
	left, right := [2]Point{s[0], s[1]}, [2]Point{s[2], s[3]}
	if left[1].Y < left[0].Y {
		left[0], left[1] = left[1], left[0]
	}
	tl, bl := left[0], left[1]
	tr, br := right[0], right[1]
	if dist(tl, tr) > dist(tl, br) {
		tr, br = br, tr
	}
	return [4]Point{tl, tr, br, bl}
}

// MinX is the left-most corner abscissa.
func (r Region) MinX() float64 {
	m := math.Inf(1)
	for _, p := range r.Corners {
		m = math.Min(m, p.X)
	}
	return m
}

// MinY is the top-most corner ordinate.
func (r Region) MinY() float64 {
	m := math.Inf(1)
	for _, p := range r.Corners {
		m = math.Min(m, p.Y)
	}
	return m
}

// Degenerate reports whether either pixel extent is zero or negative.
func (r Region) Degenerate() bool {
	return r.PixelLength <= 0 || r.PixelWidth <= 0
}

// SortReading orders regions left to right, then top to bottom.
func SortReading(regions []Region) {
	sort.SliceStable(regions, func(i, j int) bool {
		xi, xj := regions[i].MinX(), regions[j].MinX()
		if xi != xj {
			return xi < xj
		}
		return regions[i].MinY() < regions[j].MinY()
	})
}

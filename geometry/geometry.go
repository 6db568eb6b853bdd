// Package geometry holds the small value types shared by the raster engine.
// Coordinates are either pixel or map units; which one is a caller contract.
package geometry

import (
	"fmt"
	"math"
)

type Point struct{ X, Y float64 }

func Pt(x, y float64) Point { return Point{X: x, Y: y} }

func (p Point) Add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }

func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }

func (p Point) String() string { return fmt.Sprintf("(%g, %g)", p.X, p.Y) }

// Box is an axis-aligned rectangle. Min is never greater than Max on either axis
// when the box is built through NewBox.
type Box struct{ Min, Max Point }

// NewBox returns the box spanned by the two corners, whatever their order.
func NewBox(x0, y0, x1, y1 float64) Box {
	return Box{
		Min: Point{X: math.Min(x0, x1), Y: math.Min(y0, y1)},
		Max: Point{X: math.Max(x0, x1), Y: math.Max(y0, y1)},
	}
}

func (b Box) Width() float64 { return b.Max.X - b.Min.X }

func (b Box) Height() float64 { return b.Max.Y - b.Min.Y }

func (b Box) Empty() bool { return b.Max.X <= b.Min.X || b.Max.Y <= b.Min.Y }

// Contains reports whether p lies in the half-open box [Min, Max).
func (b Box) Contains(p Point) bool {
	return p.X >= b.Min.X && p.X < b.Max.X && p.Y >= b.Min.Y && p.Y < b.Max.Y
}

// Intersects reports whether the interiors of b and o overlap.
func (b Box) Intersects(o Box) bool {
	return b.Min.X < o.Max.X && o.Min.X < b.Max.X && b.Min.Y < o.Max.Y && o.Min.Y < b.Max.Y
}

// Intersection returns the overlap of b and o; the result is Empty when they don't overlap.
func (b Box) Intersection(o Box) Box {
	r := Box{
		Min: Point{X: math.Max(b.Min.X, o.Min.X), Y: math.Max(b.Min.Y, o.Min.Y)},
		Max: Point{X: math.Min(b.Max.X, o.Max.X), Y: math.Min(b.Max.Y, o.Max.Y)},
	}
	if r.Max.X < r.Min.X {
		r.Max.X = r.Min.X
	}
	if r.Max.Y < r.Min.Y {
		r.Max.Y = r.Min.Y
	}
	return r
}

// Union returns the smallest box containing b and o.
func (b Box) Union(o Box) Box {
	return Box{
		Min: Point{X: math.Min(b.Min.X, o.Min.X), Y: math.Min(b.Min.Y, o.Min.Y)},
		Max: Point{X: math.Max(b.Max.X, o.Max.X), Y: math.Max(b.Max.Y, o.Max.Y)},
	}
}

// Grow returns b enlarged by d on every side.
func (b Box) Grow(d float64) Box {
	return Box{Min: Point{X: b.Min.X - d, Y: b.Min.Y - d}, Max: Point{X: b.Max.X + d, Y: b.Max.Y + d}}
}

func (b Box) Translate(d Point) Box { return Box{Min: b.Min.Add(d), Max: b.Max.Add(d)} }

func (b Box) String() string { return fmt.Sprintf("[%s - %s]", b.Min, b.Max) }

// RowSegment is the half-open column range [Start, End) of a pixel row.
type RowSegment struct{ Start, End int }

func (s RowSegment) Empty() bool { return s.End <= s.Start }

func (s RowSegment) Len() int {
	if s.Empty() {
		return 0
	}
	return s.End - s.Start
}

// Contains reports whether column x is inside the segment.
func (s RowSegment) Contains(x int) bool { return x >= s.Start && x < s.End }

// Relative shifts the segment by -offset and clips it to [0, width), which turns a
// raster-wide segment into one relative to a block starting at column offset.
func (s RowSegment) Relative(offset, width int) RowSegment {
	return RowSegment{
		Start: max(0, min(width, s.Start-offset)),
		End:   max(0, min(width, s.End-offset)),
	}
}

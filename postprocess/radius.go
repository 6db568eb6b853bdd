// Package postprocess cleans up prediction blocks: pixels outside the prediction radius
// become no-data and the others are clamped to the valid range of their section.
package postprocess

import (
	"math"

	"github.com/akhenakh/predraster/geometry"
)

// Prediction describes the circle around a transmitter for which values were computed.
// All values are in map units.
type Prediction struct {
	Transmitter geometry.Point
	Radius      float64
	Resolution  float64
}

// RowSegments returns, for each of the rows raster rows, the columns whose pixel centre
// lies inside the prediction circle. topLeft is the top-left corner of the raster; rows
// run top-down. Rows beyond the radius yield an empty segment.
func RowSegments(topLeft geometry.Point, rows int, p Prediction) []geometry.RowSegment {
	res := p.Resolution
	radiusSquared := p.Radius * p.Radius

	leftmostPixelCenter := topLeft.X + 0.5*res
	topmostPixelCenter := topLeft.Y - 0.5*res

	segments := make([]geometry.RowSegment, rows)
	for rowIndex := range segments {
		y := topmostPixelCenter - float64(rowIndex)*res
		yDistance := math.Abs(y - p.Transmitter.Y)
		if yDistance > p.Radius {
			continue
		}

		xDistance := math.Sqrt(math.Max(0, radiusSquared-yDistance*yDistance))
		segmentStart := p.Transmitter.X - xDistance
		segmentEnd := p.Transmitter.X + xDistance

		segments[rowIndex] = geometry.RowSegment{
			// leftmost pixel whose centre is inside the exact segment
			Start: int(math.Ceil((segmentStart - leftmostPixelCenter) / res)),
			// one past the rightmost pixel whose centre is inside
			End: int(math.Floor((segmentEnd-leftmostPixelCenter)/res)) + 1,
		}
	}
	return segments
}

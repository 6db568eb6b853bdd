package geotiff

import (
	"errors"
	"fmt"
	"math"

	"github.com/akhenakh/predraster/geometry"
)

// Sample is one pixel visited by a profile.
type Sample struct {
	X, Y  int            // pixel coordinates
	At    geometry.Point // centre of the pixel in map units
	Value float64
}

// pointToPixel converts map coordinates to the pixel holding them.
func (g *GeoTIFF) pointToPixel(p geometry.Point, bounds geometry.Box) (int, int, error) {
	if p.X < bounds.Min.X || p.X > bounds.Max.X || p.Y < bounds.Min.Y || p.Y > bounds.Max.Y {
		return 0, 0, fmt.Errorf("point %s is outside the image bounds %s", p, bounds)
	}
	x := int(math.Floor((p.X - bounds.Min.X) / g.PixelScaleX))
	y := int(math.Floor((bounds.Max.Y - p.Y) / math.Abs(g.PixelScaleY)))
	return min(x, int(g.imageWidth)-1), min(y, int(g.imageLength)-1), nil
}

// pixelCenter converts pixel coordinates back to the map coordinates of the pixel centre.
func (g *GeoTIFF) pixelCenter(x, y int, bounds geometry.Box) geometry.Point {
	return geometry.Pt(
		bounds.Min.X+(float64(x)+0.5)*g.PixelScaleX,
		bounds.Max.Y-(float64(y)+0.5)*math.Abs(g.PixelScaleY),
	)
}

// Profile samples the image along a polyline in map units, one sample per pixel crossed.
// Pixels in sparse tiles are skipped.
func (g *GeoTIFF) Profile(path []geometry.Point) ([]Sample, error) {
	if len(path) < 2 {
		return nil, errors.New("at least two points are required to create a profile")
	}

	bounds, err := g.Bounds()
	if err != nil {
		return nil, fmt.Errorf("failed to get image bounds: %w", err)
	}

	var profile []Sample
	visited := make(map[[2]int]struct{})

	for i := 0; i < len(path)-1; i++ {
		x1, y1, err := g.pointToPixel(path[i], bounds)
		if err != nil {
			return nil, err
		}
		x2, y2, err := g.pointToPixel(path[i+1], bounds)
		if err != nil {
			return nil, err
		}

		dx := float64(x2 - x1)
		dy := float64(y2 - y1)
		numSteps := int(math.Ceil(math.Max(math.Abs(dx), math.Abs(dy))))
		if numSteps == 0 {
			numSteps = 1
		}
		xInc := dx / float64(numSteps)
		yInc := dy / float64(numSteps)

		for j := 0; j <= numSteps; j++ {
			x := x1 + int(math.Round(float64(j)*xInc))
			y := y1 + int(math.Round(float64(j)*yInc))

			key := [2]int{x, y}
			if _, ok := visited[key]; ok {
				continue
			}
			visited[key] = struct{}{}

			v, err := g.Value(x, y)
			if errors.Is(err, ErrSparseTile) {
				continue
			}
			if err != nil {
				g.logger.Warn("could not sample pixel", "x", x, "y", y, "error", err)
				continue
			}
			profile = append(profile, Sample{X: x, Y: y, At: g.pixelCenter(x, y, bounds), Value: v})
		}
	}

	return profile, nil
}

// Package tile defines the rectangular pixel payloads served by tile sources and the
// capability interface every source implements.
package tile

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/akhenakh/predraster/geometry"
	"github.com/akhenakh/predraster/pixel"
)

// ErrNotFound is returned by sources when a region only holds no-data.
// It is an expected outcome, not a failure.
var ErrNotFound = errors.New("tile not found")

// Tile is a rectangular block of samples. Rows in Data are stored in the order of the
// raster grid that produced the tile; Bounds and Resolution locate it in map units,
// with row 0 at the top (Bounds.Max.Y) unless BottomUp is set.
type Tile struct {
	Bounds     geometry.Box
	Resolution float64
	Width      int
	Height     int
	DataType   pixel.DataType
	Data       []byte
	BottomUp   bool
}

// Querier returns every tile intersecting an area in map units.
type Querier interface {
	Query(ctx context.Context, area geometry.Box) ([]*Tile, error)
}

// Source produces tiles. Tile fetches one tile by grid block coordinates.
type Source interface {
	Tile(ctx context.Context, col, row int) (*Tile, error)
	Querier
}

// PixelCount is the number of samples in the tile.
func (t *Tile) PixelCount() int { return t.Width * t.Height }

// Validate checks the payload size against the tile dimensions and type.
func (t *Tile) Validate() error {
	if t.Width <= 0 || t.Height <= 0 {
		return fmt.Errorf("invalid tile dimensions %dx%d", t.Width, t.Height)
	}
	if !t.DataType.Valid() {
		return fmt.Errorf("%w: %v", pixel.ErrUnsupportedType, t.DataType)
	}
	if want := t.DataType.BufferSize(t.PixelCount()); len(t.Data) != want {
		return fmt.Errorf("tile payload has %d bytes, %dx%d %v needs %d", len(t.Data), t.Width, t.Height, t.DataType, want)
	}
	return nil
}

// Value returns the sample at column col and storage row row.
func (t *Tile) Value(col, row int) float64 {
	return pixel.Value(t.Data, t.DataType, row*t.Width+col)
}

// Cell returns the column and storage row of the pixel holding p.
func (t *Tile) Cell(p geometry.Point) (col, row int, ok bool) {
	if !t.Bounds.Contains(p) {
		return 0, 0, false
	}
	col = int(math.Floor((p.X - t.Bounds.Min.X) / t.Resolution))
	if t.BottomUp {
		row = int(math.Floor((p.Y - t.Bounds.Min.Y) / t.Resolution))
	} else {
		row = int(math.Floor((t.Bounds.Max.Y - p.Y) / t.Resolution))
	}
	col = min(max(col, 0), t.Width-1)
	row = min(max(row, 0), t.Height-1)
	return col, row, true
}

// CellCenter returns the map coordinates of the centre of a pixel.
func (t *Tile) CellCenter(col, row int) geometry.Point {
	x := t.Bounds.Min.X + (float64(col)+0.5)*t.Resolution
	if t.BottomUp {
		return geometry.Pt(x, t.Bounds.Min.Y+(float64(row)+0.5)*t.Resolution)
	}
	return geometry.Pt(x, t.Bounds.Max.Y-(float64(row)+0.5)*t.Resolution)
}

// Nearest returns the sample of the pixel containing p.
func (t *Tile) Nearest(p geometry.Point) (float64, bool) {
	col, row, ok := t.Cell(p)
	if !ok {
		return 0, false
	}
	return t.Value(col, row), true
}

// Values decodes the payload into a typed slice. The codec must match the tile type.
func Values[T pixel.Number](t *Tile, c pixel.Codec[T]) ([]T, error) {
	if c.Type != t.DataType {
		return nil, fmt.Errorf("tile holds %v samples, not %v", t.DataType, c.Type)
	}
	return c.Decode(t.Data[:t.DataType.BufferSize(t.PixelCount())]), nil
}

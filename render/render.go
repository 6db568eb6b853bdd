// Package render resamples the tiles of a source into arbitrary windows.
package render

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/akhenakh/predraster/geometry"
	"github.com/akhenakh/predraster/pixel"
	"github.com/akhenakh/predraster/tile"
)

// Request describes a window to render. Output rows are bottom-up: row 0 of the
// destination is the southernmost one.
type Request struct {
	Width      int
	Height     int
	Resolution float64        // map units per destination pixel
	BottomLeft geometry.Point // bottom-left corner of the window in map units
	// Downsampling is used when Resolution is coarser than or equal to the source tile's,
	// Upsampling when it is finer.
	Downsampling Algorithm
	Upsampling   Algorithm
}

// Area is the window covered by the request in map units.
func (r Request) Area() geometry.Box {
	return geometry.Box{
		Min: r.BottomLeft,
		Max: r.BottomLeft.Add(geometry.Pt(float64(r.Width)*r.Resolution, float64(r.Height)*r.Resolution)),
	}
}

// Renderer renders windows of a tile source into buffers of DataType.
type Renderer struct {
	Source   tile.Querier
	DataType pixel.DataType
	NoData   float64
}

// Render fills dst, which must hold Width*Height samples of the renderer's type.
func (r *Renderer) Render(ctx context.Context, dst []byte, req Request) error {
	if err := r.validate(dst, req); err != nil {
		return err
	}

	coverage, err := r.fetch(ctx, req)
	if err != nil {
		return err
	}

	for y := 0; y < req.Height; y++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		cy := req.BottomLeft.Y + (float64(y)+0.5)*req.Resolution
		for x := 0; x < req.Width; x++ {
			p := geometry.Pt(req.BottomLeft.X+(float64(x)+0.5)*req.Resolution, cy)
			pixel.SetValue(dst, r.DataType, y*req.Width+x, r.sample(coverage, p, req))
		}
	}
	return nil
}

func (r *Renderer) validate(dst []byte, req Request) error {
	if req.Width <= 0 || req.Height <= 0 {
		return fmt.Errorf("invalid render size %dx%d", req.Width, req.Height)
	}
	if !(req.Resolution > 0) || math.IsInf(req.Resolution, 0) {
		return fmt.Errorf("invalid render resolution %v", req.Resolution)
	}
	for _, a := range []Algorithm{req.Downsampling, req.Upsampling} {
		if a != NearestNeighbour && a != Bilinear {
			return fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, a)
		}
	}
	if !r.DataType.Valid() {
		return fmt.Errorf("%w: %v", pixel.ErrUnsupportedType, r.DataType)
	}
	if need := r.DataType.BufferSize(req.Width * req.Height); len(dst) < need {
		return fmt.Errorf("render buffer holds %d bytes, %d needed", len(dst), need)
	}
	return nil
}

// fetch collects the tiles around the window. The margin must reach the neighbour
// samples of the coarsest tile found, so a second query is issued when the first
// one returns tiles coarser than the initial margin.
func (r *Renderer) fetch(ctx context.Context, req Request) (*tile.Set, error) {
	area := req.Area()
	margin := req.Resolution
	tiles, err := r.query(ctx, area.Grow(margin))
	if err != nil {
		return nil, err
	}
	coarsest := 0.0
	for _, t := range tiles {
		coarsest = math.Max(coarsest, t.Resolution)
	}
	if coarsest > margin {
		if tiles, err = r.query(ctx, area.Grow(coarsest)); err != nil {
			return nil, err
		}
	}
	return tile.NewSet(tiles), nil
}

func (r *Renderer) query(ctx context.Context, area geometry.Box) ([]*tile.Tile, error) {
	tiles, err := r.Source.Query(ctx, area)
	if errors.Is(err, tile.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying tiles in %s: %w", area, err)
	}
	return tiles, nil
}

func (r *Renderer) sample(coverage *tile.Set, p geometry.Point, req Request) float64 {
	t := coverage.At(p)
	if t == nil {
		return r.NoData
	}
	algorithm := req.Downsampling
	if req.Resolution < t.Resolution {
		algorithm = req.Upsampling
	}
	if algorithm == Bilinear {
		if v, ok := r.bilinear(coverage, t, p); ok {
			return v
		}
	}
	v, _ := t.Nearest(p)
	return v
}

// bilinear weights the four samples around p. It reports false when a sample with a
// non-zero weight is missing or no-data, leaving the caller to use the nearest one.
func (r *Renderer) bilinear(coverage *tile.Set, t *tile.Tile, p geometry.Point) (float64, bool) {
	fx := (p.X-t.Bounds.Min.X)/t.Resolution - 0.5
	var fy float64
	if t.BottomUp {
		fy = (p.Y-t.Bounds.Min.Y)/t.Resolution - 0.5
	} else {
		fy = (t.Bounds.Max.Y-p.Y)/t.Resolution - 0.5
	}
	col0, row0 := int(math.Floor(fx)), int(math.Floor(fy))
	wx, wy := fx-float64(col0), fy-float64(row0)

	neighbours := [4]struct {
		col, row int
		weight   float64
	}{
		{col0, row0, (1 - wx) * (1 - wy)},
		{col0 + 1, row0, wx * (1 - wy)},
		{col0, row0 + 1, (1 - wx) * wy},
		{col0 + 1, row0 + 1, wx * wy},
	}

	sum := 0.0
	for _, n := range neighbours {
		if n.weight == 0 {
			continue
		}
		v, ok := r.neighbour(coverage, t, n.col, n.row)
		if !ok {
			return 0, false
		}
		sum += n.weight * v
	}
	return sum, true
}

// neighbour returns sample (col, row) of t, or the sample covering its centre in
// the finest other tile when it lies outside t.
func (r *Renderer) neighbour(coverage *tile.Set, t *tile.Tile, col, row int) (float64, bool) {
	var v float64
	if col >= 0 && col < t.Width && row >= 0 && row < t.Height {
		v = t.Value(col, row)
	} else {
		center := t.CellCenter(col, row)
		other := coverage.At(center)
		if other == nil {
			return 0, false
		}
		v, _ = other.Nearest(center)
	}
	if v == r.NoData || (math.IsNaN(v) && math.IsNaN(r.NoData)) {
		return 0, false
	}
	return v, true
}

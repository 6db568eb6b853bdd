package index

import (
	"context"
	"fmt"

	"github.com/akhenakh/predraster/geometry"
	"github.com/akhenakh/predraster/render"
	"github.com/akhenakh/predraster/tile"
)

// Source serves the raster of an index in blocks of a fixed size. Block (col, row)
// starts at pixel (col*width, row*height) counted from the bottom-left corner of the
// index bounds; its tile is bottom-up and clipped to the raster.
type Source struct {
	ix            *Index
	width, height int
	renderer      *render.Renderer
}

// NewSource returns the block source of ix.
func NewSource(ix *Index, blockWidth, blockHeight int) *Source {
	return &Source{
		ix:       ix,
		width:    blockWidth,
		height:   blockHeight,
		renderer: &render.Renderer{Source: ix, DataType: DataType, NoData: NoData},
	}
}

// Tile renders the footprint of block (col, row) at resolution 1. Blocks no stored
// block intersects are reported with tile.ErrNotFound.
func (s *Source) Tile(ctx context.Context, col, row int) (*tile.Tile, error) {
	rasterWidth, rasterHeight := s.ix.RasterSize()
	x0, y0 := col*s.width, row*s.height
	if col < 0 || row < 0 || x0 >= rasterWidth || y0 >= rasterHeight {
		return nil, tile.ErrNotFound
	}
	w := min(s.width, rasterWidth-x0)
	h := min(s.height, rasterHeight-y0)

	origin := s.ix.Bounds().Min
	area := geometry.Box{
		Min: origin.Add(geometry.Pt(float64(x0), float64(y0))),
		Max: origin.Add(geometry.Pt(float64(x0+w), float64(y0+h))),
	}
	if len(s.ix.set.Query(area)) == 0 {
		return nil, tile.ErrNotFound
	}

	t := &tile.Tile{
		Bounds:     area,
		Resolution: 1,
		Width:      w,
		Height:     h,
		DataType:   DataType,
		Data:       make([]byte, DataType.BufferSize(w*h)),
		BottomUp:   true,
	}
	err := s.renderer.Render(ctx, t.Data, render.Request{
		Width:        w,
		Height:       h,
		Resolution:   1,
		BottomLeft:   area.Min,
		Downsampling: render.NearestNeighbour,
		Upsampling:   render.NearestNeighbour,
	})
	if err != nil {
		return nil, fmt.Errorf("rendering block %d,%d: %w", col, row, err)
	}
	return t, nil
}

// Query returns the stored blocks intersecting area, finest first.
func (s *Source) Query(ctx context.Context, area geometry.Box) ([]*tile.Tile, error) {
	return s.ix.Query(ctx, area)
}

package predapi

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/akhenakh/predraster/geotiff"
	"github.com/akhenakh/predraster/tile"
)

// COG serves a prediction stored as one tiled GeoTIFF per section.
type COG struct {
	files   map[int]*geotiff.GeoTIFF
	nums    []int
	region  Region
	epsg    int
	closers []func() error
}

// NewCOG opens the GeoTIFF of every section. Locations are anything geotiff.OpenSource
// accepts: local paths, http(s) URLs or bucket URLs.
func NewCOG(ctx context.Context, locations map[int]string, opts ...geotiff.Option) (*COG, error) {
	files := make(map[int]*geotiff.GeoTIFF, len(locations))
	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	for section, location := range locations {
		src, closeFn, err := geotiff.OpenSource(ctx, location)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("section %d: %w", section, err)
		}
		closers = append(closers, closeFn)
		g, err := geotiff.Open(src, opts...)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("section %d: failed to open GeoTIFF %s: %w", section, location, err)
		}
		files[section] = g
	}
	c, err := NewCOGFromFiles(files)
	if err != nil {
		closeAll()
		return nil, err
	}
	c.closers = closers
	return c, nil
}

// NewCOGFromFiles builds the API over already opened files. Every section must cover
// the same extent.
func NewCOGFromFiles(files map[int]*geotiff.GeoTIFF) (*COG, error) {
	if len(files) == 0 {
		return nil, errors.New("a prediction needs at least one section")
	}
	c := &COG{files: files}
	for n := range files {
		c.nums = append(c.nums, n)
	}
	slices.Sort(c.nums)

	for i, n := range c.nums {
		bounds, err := files[n].Bounds()
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", n, err)
		}
		region := Region{EastMin: bounds.Min.X, NorthMax: bounds.Max.Y, Width: bounds.Width(), Height: bounds.Height()}
		if i == 0 {
			c.region = region
			c.epsg, _ = files[n].EPSG()
			continue
		}
		if region != c.region {
			return nil, fmt.Errorf("section %d covers %s, section %d covers %s", n, bounds, c.nums[0], c.region.Box())
		}
	}
	return c, nil
}

// Close releases the underlying sources.
func (c *COG) Close() error {
	var errs []error
	for _, closeFn := range c.closers {
		errs = append(errs, closeFn())
	}
	return errors.Join(errs...)
}

func (c *COG) Region(context.Context) (Region, error) { return c.region, nil }

func (c *COG) SectionNums(context.Context) ([]int, error) { return slices.Clone(c.nums), nil }

func (c *COG) EPSG(context.Context) (int, error) { return c.epsg, nil }

func (c *COG) SectionInfo(_ context.Context, section int) (SectionInfo, error) {
	g, ok := c.files[section]
	if !ok {
		return SectionInfo{}, fmt.Errorf("%w: %d", ErrUnknownSection, section)
	}
	tw, th := g.TileSize()
	return SectionInfo{Section: section, DataType: g.DataType(), TileWidth: tw, TileHeight: th}, nil
}

func (c *COG) TileIterator(_ context.Context, section int) (TileIterator, error) {
	g, ok := c.files[section]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSection, section)
	}
	return cogIterator{g}, nil
}

type cogIterator struct{ g *geotiff.GeoTIFF }

func (it cogIterator) Tile(_ context.Context, col, row int) (*RasterTile, error) {
	across, down := it.g.TileGrid()
	if col < 0 || col >= across || row < 0 || row >= down {
		return nil, tile.ErrNotFound
	}
	t, err := it.g.Tile(col, row)
	if errors.Is(err, geotiff.ErrSparseTile) {
		return nil, tile.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &RasterTile{
		Region:   TileRegion{X0: t.X0, Y0: t.Y0, Width: t.Width, Height: t.Height},
		DataType: t.DataType,
		Data:     t.Data,
	}, nil
}

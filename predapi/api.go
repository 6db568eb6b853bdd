// Package predapi abstracts the prediction API that serves the sections of a
// propagation prediction as tiles, and adapts a section to a tile.Source.
package predapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/akhenakh/predraster/geometry"
	"github.com/akhenakh/predraster/pixel"
)

// ErrUnknownSection is returned for section numbers the prediction does not hold.
var ErrUnknownSection = errors.New("unknown section")

// Region is the area covered by a prediction, in map units.
type Region struct {
	EastMin  float64 `json:"eastMin"`
	NorthMax float64 `json:"northMax"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
}

// Box returns the region as a box.
func (r Region) Box() geometry.Box {
	return geometry.NewBox(r.EastMin, r.NorthMax-r.Height, r.EastMin+r.Width, r.NorthMax)
}

// SectionInfo describes the tiles of one section.
type SectionInfo struct {
	Section    int            `json:"section"`
	DataType   pixel.DataType `json:"dataType" validate:"required"`
	TileWidth  int            `json:"tileWidth" validate:"gt=0"`
	TileHeight int            `json:"tileHeight" validate:"gt=0"`
}

// BoundingBox is the JSON form of a box.
type BoundingBox struct {
	MinX float64 `json:"minX"`
	MinY float64 `json:"minY"`
	MaxX float64 `json:"maxX" validate:"gtfield=MinX"`
	MaxY float64 `json:"maxY" validate:"gtfield=MinY"`
}

func (b BoundingBox) Box() geometry.Box { return geometry.NewBox(b.MinX, b.MinY, b.MaxX, b.MaxY) }

// Auxiliary is the static description of a prediction: its extent, its coordinate
// reference system and the layout of every section.
type Auxiliary struct {
	BoundingBox BoundingBox         `json:"boundingBox"`
	EPSG        int                 `json:"epsg" validate:"gte=0"`
	Sections    map[int]SectionInfo `json:"sections" validate:"required,min=1,dive"`
}

// API is a prediction service.
type API interface {
	Region(ctx context.Context) (Region, error)
	SectionNums(ctx context.Context) ([]int, error)
	SectionInfo(ctx context.Context, section int) (SectionInfo, error)
	// TileIterator returns the tile fetcher of one section.
	TileIterator(ctx context.Context, section int) (TileIterator, error)
}

// CRSProvider is implemented by APIs that know the coordinate reference system of
// their prediction. Zero means unknown.
type CRSProvider interface {
	EPSG(ctx context.Context) (int, error)
}

// TileIterator fetches the tiles of one section by grid coordinates. A missing tile is
// reported with tile.ErrNotFound: that part of the section only holds no-data.
type TileIterator interface {
	Tile(ctx context.Context, col, row int) (*RasterTile, error)
}

// TileRegion is the pixel footprint of a tile in the section grid. Tiles on the right
// and bottom edges may be smaller than the section's tile size.
type TileRegion struct {
	X0, Y0        int
	Width, Height int
}

// RasterTile is a tile as returned by the API, rows top-down, little-endian samples.
type RasterTile struct {
	Region   TileRegion
	DataType pixel.DataType
	Data     []byte
}

// PixelCount is the number of samples in the tile.
func (t *RasterTile) PixelCount() int { return t.Region.Width * t.Region.Height }

// Uint8Data and the other typed accessors return the first n samples converted to
// their type.
func (t *RasterTile) Uint8Data(n int) ([]uint8, error) {
	return typedData(t, pixel.Uint8Codec, n)
}

func (t *RasterTile) Int16Data(n int) ([]int16, error) {
	return typedData(t, pixel.Int16Codec, n)
}

func (t *RasterTile) Uint16Data(n int) ([]uint16, error) {
	return typedData(t, pixel.Uint16Codec, n)
}

func (t *RasterTile) Int32Data(n int) ([]int32, error) {
	return typedData(t, pixel.Int32Codec, n)
}

func (t *RasterTile) Uint32Data(n int) ([]uint32, error) {
	return typedData(t, pixel.Uint32Codec, n)
}

func (t *RasterTile) Float32Data(n int) ([]float32, error) {
	return typedData(t, pixel.Float32Codec, n)
}

func (t *RasterTile) Float64Data(n int) ([]float64, error) {
	return typedData(t, pixel.Float64Codec, n)
}

// typedData returns the first n samples of t converted to the codec's type.
func typedData[T pixel.Number](t *RasterTile, c pixel.Codec[T], n int) ([]T, error) {
	if n < 0 || n > t.PixelCount() {
		return nil, fmt.Errorf("%d samples requested from a tile of %d", n, t.PixelCount())
	}
	buf := make([]byte, c.Size()*n)
	if err := pixel.Convert(buf, c.Type, t.Data, t.DataType, n); err != nil {
		return nil, err
	}
	return c.Decode(buf), nil
}

// AuxiliaryOf collects the auxiliary information of a prediction from its API.
func AuxiliaryOf(ctx context.Context, api API) (Auxiliary, error) {
	region, err := api.Region(ctx)
	if err != nil {
		return Auxiliary{}, fmt.Errorf("reading region: %w", err)
	}
	nums, err := api.SectionNums(ctx)
	if err != nil {
		return Auxiliary{}, fmt.Errorf("listing sections: %w", err)
	}
	box := region.Box()
	aux := Auxiliary{
		BoundingBox: BoundingBox{MinX: box.Min.X, MinY: box.Min.Y, MaxX: box.Max.X, MaxY: box.Max.Y},
		Sections:    make(map[int]SectionInfo, len(nums)),
	}
	for _, n := range nums {
		info, err := api.SectionInfo(ctx, n)
		if err != nil {
			return Auxiliary{}, fmt.Errorf("reading section %d: %w", n, err)
		}
		aux.Sections[n] = info
	}
	if p, ok := api.(CRSProvider); ok {
		if aux.EPSG, err = p.EPSG(ctx); err != nil {
			return Auxiliary{}, fmt.Errorf("reading EPSG code: %w", err)
		}
	}
	return aux, nil
}

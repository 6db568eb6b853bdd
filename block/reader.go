// Package block fills fixed-size raster blocks from a tile source.
package block

import (
	"context"
	"errors"
	"fmt"

	"github.com/akhenakh/predraster/pixel"
	"github.com/akhenakh/predraster/tile"
)

var (
	// ErrNoDataUndefined means a block without tile had to be filled but the band has
	// no no-data value configured.
	ErrNoDataUndefined = errors.New("unknown no-data value")
	// ErrTileTooLarge means the source returned a tile with a dimension larger than the block's.
	ErrTileTooLarge = errors.New("a tile dimension is larger than the block's")
)

// Reader copies the tiles of a source into blocks of a fixed size and type.
type Reader struct {
	Source   tile.Source
	Width    int // block width in pixels
	Height   int // block height in pixels
	DataType pixel.DataType
}

// PixelCount is the number of pixels per block.
func (r *Reader) PixelCount() int { return r.Width * r.Height }

// Size is the number of bytes per block.
func (r *Reader) Size() int { return r.DataType.BufferSize(r.PixelCount()) }

// ReadBlock fills dst with block (col, row). It returns false when the source has no
// tile for the block, in which case dst is filled with noData; a nil noData is then an
// ErrNoDataUndefined error. Partial tiles are copied into the top-left corner of dst and
// leave the rest of it untouched.
func (r *Reader) ReadBlock(ctx context.Context, col, row int, dst []byte, noData *float64) (bool, int, error) {
	size := r.Size()
	if size == 0 {
		return false, 0, fmt.Errorf("block %dx%d of %v: %w", r.Width, r.Height, r.DataType, pixel.ErrUnsupportedType)
	}
	if len(dst) < size {
		return false, 0, fmt.Errorf("block buffer holds %d bytes, %d needed", len(dst), size)
	}
	dst = dst[:size]

	t, err := r.Source.Tile(ctx, col, row)
	if errors.Is(err, tile.ErrNotFound) {
		if err := r.fillNoData(dst, noData); err != nil {
			return false, 0, err
		}
		return false, size, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("fetching tile %d,%d: %w", col, row, err)
	}

	if t.PixelCount() == r.PixelCount() {
		if err := pixel.Convert(dst, r.DataType, t.Data, t.DataType, r.PixelCount()); err != nil {
			return false, 0, fmt.Errorf("reading tile %d,%d: %w", col, row, err)
		}
		return true, size, nil
	}

	if err := r.fillPartial(t, dst); err != nil {
		return false, 0, fmt.Errorf("reading partial tile %d,%d: %w", col, row, err)
	}
	return true, size, nil
}

func (r *Reader) fillNoData(dst []byte, noData *float64) error {
	if noData == nil {
		return ErrNoDataUndefined
	}
	return pixel.Fill(dst, r.DataType, *noData)
}

func (r *Reader) fillPartial(t *tile.Tile, dst []byte) error {
	if t.Width > r.Width || t.Height > r.Height {
		return fmt.Errorf("%w: tile %dx%d, block %dx%d", ErrTileTooLarge, t.Width, t.Height, r.Width, r.Height)
	}

	bytesPerPixel := r.DataType.Size()
	tileData := make([]byte, r.DataType.BufferSize(t.PixelCount()))
	if err := pixel.Convert(tileData, r.DataType, t.Data, t.DataType, t.PixelCount()); err != nil {
		return err
	}

	tileRowSize := t.Width * bytesPerPixel
	blockRowSize := r.Width * bytesPerPixel
	for y := 0; y < t.Height; y++ {
		copy(dst[y*blockRowSize:y*blockRowSize+tileRowSize], tileData[y*tileRowSize:(y+1)*tileRowSize])
	}
	return nil
}

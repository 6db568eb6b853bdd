package postprocess

import (
	"fmt"
	"sync"

	"github.com/akhenakh/predraster/geometry"
	"github.com/akhenakh/predraster/pixel"
)

// Processor post-processes the blocks of one band. It is safe for concurrent use; the
// row segment table is computed once, on the first processed block.
type Processor struct {
	prediction   Prediction
	topLeft      geometry.Point
	rasterHeight int
	blockWidth   int
	blockHeight  int
	dataType     pixel.DataType
	valid        *Range

	once     sync.Once
	segments []geometry.RowSegment
}

// Config describes the band a Processor works for.
type Config struct {
	Prediction   Prediction
	TopLeft      geometry.Point // top-left corner of the raster in map units
	RasterHeight int
	BlockWidth   int
	BlockHeight  int
	DataType     pixel.DataType
	Section      int
}

func New(cfg Config) *Processor {
	p := &Processor{
		prediction:   cfg.Prediction,
		topLeft:      cfg.TopLeft,
		rasterHeight: cfg.RasterHeight,
		blockWidth:   cfg.BlockWidth,
		blockHeight:  cfg.BlockHeight,
		dataType:     cfg.DataType,
	}
	if r, ok := ValidRange(cfg.Section); ok {
		p.valid = &r
	}
	return p
}

// Segments returns the row segment table, computing it on first use.
func (p *Processor) Segments() []geometry.RowSegment {
	p.once.Do(func() {
		p.segments = RowSegments(p.topLeft, p.rasterHeight, p.prediction)
	})
	return p.segments
}

// ProcessBlock applies the radius mask and range clamping to block (col, row) in buf.
// With a nil noData, out-of-radius pixels are left untouched. Running it twice gives
// the same buffer as running it once.
func (p *Processor) ProcessBlock(col, row int, buf []byte, noData *float64) error {
	if size := p.dataType.BufferSize(p.blockWidth * p.blockHeight); size == 0 {
		return fmt.Errorf("post-processing: %w: %v", pixel.ErrUnsupportedType, p.dataType)
	} else if len(buf) < size {
		return fmt.Errorf("post-processing: block buffer holds %d bytes, %d needed", len(buf), size)
	}

	switch p.dataType {
	case pixel.Byte:
		processBlock(p, pixel.Uint8Codec, col, row, buf, noData)
	case pixel.Int16:
		processBlock(p, pixel.Int16Codec, col, row, buf, noData)
	case pixel.UInt16:
		processBlock(p, pixel.Uint16Codec, col, row, buf, noData)
	case pixel.Int32:
		processBlock(p, pixel.Int32Codec, col, row, buf, noData)
	case pixel.UInt32:
		processBlock(p, pixel.Uint32Codec, col, row, buf, noData)
	case pixel.Float32:
		processBlock(p, pixel.Float32Codec, col, row, buf, noData)
	case pixel.Float64:
		processBlock(p, pixel.Float64Codec, col, row, buf, noData)
	}
	return nil
}

// blockSegment returns the segment of block row y, relative to the block.
func (p *Processor) blockSegment(segments []geometry.RowSegment, startColumn, rowIndex int) geometry.RowSegment {
	if rowIndex < 0 || rowIndex >= len(segments) {
		// padding rows below the raster
		return geometry.RowSegment{}
	}
	return segments[rowIndex].Relative(startColumn, p.blockWidth)
}

func processBlock[T pixel.Number](p *Processor, c pixel.Codec[T], col, row int, buf []byte, noData *float64) {
	segments := p.Segments()
	startColumn := col * p.blockWidth
	startRow := row * p.blockHeight
	rowSize := p.blockWidth * c.Size()

	var sentinel *T
	if noData != nil {
		v := c.FromFloat(*noData)
		sentinel = &v
	}
	var lo, hi *T
	if p.valid != nil {
		l, h := c.FromFloat(p.valid.Min), c.FromFloat(p.valid.Max)
		lo, hi = &l, &h
	}

	values := make([]T, p.blockWidth)
	for y := 0; y < p.blockHeight; y++ {
		rowBuf := buf[y*rowSize : (y+1)*rowSize]
		for x := range values {
			values[x] = c.At(rowBuf, x)
		}
		processRow(values, p.blockSegment(segments, startColumn, startRow+y), sentinel, lo, hi)
		c.Encode(rowBuf, values)
	}
}

// processRow forces the values outside seg to the sentinel and clamps the values inside
// it to [lo, hi], leaving existing sentinels alone.
func processRow[T pixel.Number](values []T, seg geometry.RowSegment, sentinel, lo, hi *T) {
	if sentinel != nil {
		for x := 0; x < seg.Start; x++ {
			values[x] = *sentinel
		}
	}

	if lo != nil {
		for x := seg.Start; x < seg.End; x++ {
			v := values[x]
			if sentinel != nil && pixel.IsNoData(v, *sentinel) {
				continue
			}
			if v < *lo {
				values[x] = *lo
			} else if v > *hi {
				values[x] = *hi
			}
		}
	}

	if sentinel != nil {
		for x := max(seg.End, seg.Start); x < len(values); x++ {
			values[x] = *sentinel
		}
	}
}

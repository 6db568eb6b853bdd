package dataset

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/akhenakh/predraster/block"
	"github.com/akhenakh/predraster/pixel"
	"github.com/akhenakh/predraster/postprocess"
	"github.com/akhenakh/predraster/render"
	"github.com/akhenakh/predraster/tile"
)

// ColorInterpretation of every band.
const ColorInterpretation = "Gray"

// Band is one raster band of a dataset.
type Band struct {
	ds         *Dataset
	index      int
	section    int
	dataType   pixel.DataType
	reader     *block.Reader
	source     tile.Source
	processor  *postprocess.Processor // nil for bands without radius mask
	categories []string

	mu     sync.RWMutex
	noData *float64
}

// Index is the 1-based band index.
func (b *Band) Index() int { return b.index }

// Section is the prediction section of the band.
func (b *Band) Section() int { return b.section }

func (b *Band) DataType() pixel.DataType { return b.dataType }

// BlockSize is the size of the blocks served by ReadBlock.
func (b *Band) BlockSize() (width, height int) { return b.reader.Width, b.reader.Height }

// BlockCount is the number of blocks across and down the raster.
func (b *Band) BlockCount() (across, down int) {
	w, h := b.BlockSize()
	return (b.ds.width + w - 1) / w, (b.ds.height + h - 1) / h
}

// RowsBottomUp reports whether the rows of the blocks returned by ReadBlock go up
// from the south, which is the case for index datasets.
func (b *Band) RowsBottomUp() bool { return b.ds.geoTransform[5] > 0 }

// ColorInterpretation is always gray.
func (b *Band) ColorInterpretation() string { return ColorInterpretation }

// CategoryNames returns the class names indexed by pixel value, nil when the band has none.
func (b *Band) CategoryNames() []string { return b.categories }

// NoData returns the no-data value, NaN and false when the band has none.
func (b *Band) NoData() (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.noData == nil {
		return math.NaN(), false
	}
	return *b.noData, true
}

// SetNoData overrides the no-data value of the band.
func (b *Band) SetNoData(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.noData = &v
}

func (b *Band) noDataPtr() *float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.noData == nil {
		return nil
	}
	v := *b.noData
	return &v
}

// ReadBlock fills dst with block (col, row), rows in the dataset's orientation. It
// returns false when no tile covers the block and dst was filled with no-data.
func (b *Band) ReadBlock(ctx context.Context, col, row int, dst []byte) (found bool, err error) {
	defer recoverError(&err)
	defer func() {
		result := "nodata"
		switch {
		case err != nil:
			result = "error"
		case found:
			result = "tile"
		}
		blockReads.WithLabelValues(b.ds.kind.String(), result).Inc()
	}()

	across, down := b.BlockCount()
	if col < 0 || col >= across || row < 0 || row >= down {
		return false, fmt.Errorf("%w: block %d,%d outside the %dx%d block grid", ErrInvalidArgument, col, row, across, down)
	}
	if dst == nil {
		return false, fmt.Errorf("%w: nil buffer", ErrInvalidArgument)
	}

	noData := b.noDataPtr()
	found, _, err = b.reader.ReadBlock(ctx, col, row, dst, noData)
	if err != nil {
		return false, err
	}
	if found && b.processor != nil {
		if err := b.processor.ProcessBlock(col, row, dst, noData); err != nil {
			return false, err
		}
	}
	return found, nil
}

// Window is a windowed read request. Offsets and sizes are in raster pixels.
type Window struct {
	XOff, YOff   int
	XSize, YSize int
	// BufWidth and BufHeight are the size of the destination in pixels.
	BufWidth, BufHeight int
	BufType             pixel.DataType
	// PixelSpace and LineSpace are byte strides, 0 for contiguous.
	PixelSpace, LineSpace int
	Algorithm             render.Algorithm
	Write                 bool
}

// ReadRegion renders a window of the raster into dst, rows bottom-up. The window is
// resampled with a uniform resolution, rounded to a whole number of pixels.
func (b *Band) ReadRegion(ctx context.Context, w Window, dst []byte) (err error) {
	defer recoverError(&err)
	start := time.Now()
	defer func() {
		regionReadDuration.WithLabelValues(b.ds.kind.String()).Observe(time.Since(start).Seconds())
	}()

	req, err := b.request(w, dst)
	if err != nil {
		return err
	}
	nd, ok := b.NoData()
	if !ok {
		nd = math.NaN()
	}
	r := &render.Renderer{Source: b.source, DataType: b.dataType, NoData: nd}
	if err := r.Render(ctx, dst, req); err != nil {
		return fmt.Errorf("rendering window failed: %w", err)
	}
	return nil
}

func (b *Band) request(w Window, dst []byte) (render.Request, error) {
	if w.Write {
		return render.Request{}, ErrReadOnly
	}
	if w.XSize <= 0 || w.YSize <= 0 || w.BufWidth <= 0 || w.BufHeight <= 0 || dst == nil {
		return render.Request{}, ErrInvalidArgument
	}

	size := b.dataType.Size()
	pixelSpace := w.PixelSpace
	if pixelSpace == 0 {
		pixelSpace = size
	}
	if w.BufType != b.dataType || pixelSpace != size || (w.LineSpace != 0 && w.LineSpace != w.BufWidth*pixelSpace) {
		return render.Request{}, ErrUnsupportedBuffer
	}
	if len(dst) < b.dataType.BufferSize(w.BufWidth*w.BufHeight) {
		return render.Request{}, fmt.Errorf("%w: buffer holds %d bytes, %d needed", ErrInvalidArgument, len(dst), b.dataType.BufferSize(w.BufWidth*w.BufHeight))
	}

	ratioX := math.Round(float64(w.XSize) / float64(w.BufWidth))
	ratioY := math.Round(float64(w.YSize) / float64(w.BufHeight))
	if ratioX != ratioY {
		return render.Request{}, ErrNonUniformResolution
	}
	if ratioX < 1 {
		return render.Request{}, fmt.Errorf("%w: window %dx%d into %dx%d rounds to a zero resolution",
			ErrInvalidArgument, w.XSize, w.YSize, w.BufWidth, w.BufHeight)
	}

	bottomLeft := b.ds.WindowBounds(w.XOff, w.YOff, w.XSize, w.YSize).Min
	return render.Request{
		Width:        w.BufWidth,
		Height:       w.BufHeight,
		Resolution:   ratioX * b.ds.geoTransform[1],
		BottomLeft:   bottomLeft,
		Downsampling: w.Algorithm,
		Upsampling:   w.Algorithm,
	}, nil
}

package dataset

import (
	"log/slog"

	"github.com/akhenakh/predraster/block"
	"github.com/akhenakh/predraster/index"
)

// ResolutionsDomain is the metadata domain listing the block resolutions of an index.
const ResolutionsDomain = "Resolutions"

const defaultBlockSize = 256

func openIndex(name string, opts Options, logger *slog.Logger) (*Dataset, error) {
	ix, err := index.Open(name, logger)
	if err != nil {
		return nil, err
	}
	return newIndex(name, ix, opts, logger), nil
}

// NewIndex builds an index dataset over a loaded index.
func NewIndex(name string, ix *index.Index, opts Options) *Dataset {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return newIndex(name, ix, opts, opts.Logger.With("dataset", name))
}

func newIndex(name string, ix *index.Index, opts Options, logger *slog.Logger) *Dataset {
	ds := newDataset(name, Index, opts, logger)
	ds.width, ds.height = ix.RasterSize()
	ds.bounds = ix.Bounds()
	// Rows go up from the bottom-left corner, one map unit per pixel.
	ds.geoTransform = [6]float64{ds.bounds.Min.X, 1, 0, ds.bounds.Min.Y, 0, 1}

	for pair := ix.Resolutions().Oldest(); pair != nil; pair = pair.Next() {
		ds.SetMetadataItem(pair.Key, pair.Value, ResolutionsDomain)
	}

	size := opts.BlockSize
	if size <= 0 {
		size = defaultBlockSize
	}
	src := index.NewSource(ix, size, size)
	noData := float64(index.NoData)
	ds.bands = []*Band{{
		ds:         ds,
		index:      1,
		dataType:   index.DataType,
		source:     src,
		reader:     &block.Reader{Source: src, Width: size, Height: size, DataType: index.DataType},
		categories: ix.Categories(),
		noData:     &noData,
	}}
	return ds
}

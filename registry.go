package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/akhenakh/predraster/dataset"
	"github.com/akhenakh/predraster/geometry"
	"github.com/akhenakh/predraster/index"
)

var (
	errUnknownDataset = errors.New("unknown dataset")
	errUnknownBand    = errors.New("unknown band")
)

// registry holds the datasets served by the process, by name.
type registry struct {
	datasets map[string]*dataset.Dataset
	names    []string
}

// datasetName names a dataset after its file, or after its directory for an index file.
func datasetName(path string) string {
	base := filepath.Base(path)
	if base == index.FileName {
		return filepath.Base(filepath.Dir(path))
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func openRegistry(ctx context.Context, paths []string, opts dataset.Options, logger *slog.Logger) (*registry, error) {
	r := &registry{datasets: make(map[string]*dataset.Dataset, len(paths))}
	for _, path := range paths {
		name := datasetName(path)
		if _, ok := r.datasets[name]; ok {
			r.Close()
			return nil, fmt.Errorf("dataset %s: duplicate name %q", path, name)
		}
		ds, err := dataset.Open(ctx, path, opts)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("opening dataset %s: %w", path, err)
		}
		w, h := ds.Size()
		logger.Info("dataset opened", "name", name, "path", path, "kind", ds.Kind(), "width", w, "height", h, "bands", len(ds.Bands()))
		r.datasets[name] = ds
		r.names = append(r.names, name)
	}
	slices.Sort(r.names)
	return r, nil
}

func (r *registry) Close() {
	for name, ds := range r.datasets {
		if err := ds.Close(); err != nil {
			slog.Warn("closing dataset failed", "name", name, "error", err)
		}
	}
}

func (r *registry) dataset(name string) (*dataset.Dataset, error) {
	ds, ok := r.datasets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errUnknownDataset, name)
	}
	return ds, nil
}

func (r *registry) band(name string, index int) (*dataset.Band, error) {
	ds, err := r.dataset(name)
	if err != nil {
		return nil, err
	}
	b, ok := ds.Band(index)
	if !ok {
		return nil, fmt.Errorf("%w: %d in %q", errUnknownBand, index, name)
	}
	return b, nil
}

type bandInfo struct {
	Index               int      `json:"index"`
	Section             int      `json:"section"`
	DataType            string   `json:"dataType"`
	BlockWidth          int      `json:"blockWidth"`
	BlockHeight         int      `json:"blockHeight"`
	NoData              *float64 `json:"noData,omitempty"`
	ColorInterpretation string   `json:"colorInterpretation"`
	RowsBottomUp        bool     `json:"rowsBottomUp"`
	Categories          []string `json:"categories,omitempty"`
}

type datasetInfo struct {
	Name         string              `json:"name"`
	Kind         string              `json:"kind"`
	Width        int                 `json:"width"`
	Height       int                 `json:"height"`
	GeoTransform [6]float64          `json:"geoTransform"`
	Bounds       geometry.Box        `json:"bounds"`
	EPSG         int                 `json:"epsg,omitempty"`
	Projection   string              `json:"projection,omitempty"`
	Extent       string              `json:"extent"`
	Metadata     map[string][]string `json:"metadata,omitempty"`
	Bands        []bandInfo          `json:"bands"`
}

// describe gathers the information served about a dataset. A projection that cannot be
// resolved is logged and left out.
func describe(ctx context.Context, name string, ds *dataset.Dataset, logger *slog.Logger) (datasetInfo, error) {
	info := datasetInfo{
		Name:         name,
		Kind:         ds.Kind().String(),
		GeoTransform: ds.GeoTransform(),
		Bounds:       ds.Bounds(),
		EPSG:         ds.EPSG(),
	}
	info.Width, info.Height = ds.Size()

	extent, err := ds.ExtentWKT()
	if err != nil {
		return info, err
	}
	info.Extent = extent
	if projection, err := ds.Projection(ctx); err != nil {
		logger.Warn("resolving projection failed", "dataset", name, "epsg", ds.EPSG(), "error", err)
	} else {
		info.Projection = projection
	}

	for _, domain := range ds.MetadataDomains() {
		if info.Metadata == nil {
			info.Metadata = make(map[string][]string)
		}
		info.Metadata[domain] = ds.Metadata(domain)
	}

	for _, b := range ds.Bands() {
		bi := bandInfo{
			Index:               b.Index(),
			Section:             b.Section(),
			DataType:            b.DataType().String(),
			ColorInterpretation: b.ColorInterpretation(),
			RowsBottomUp:        b.RowsBottomUp(),
			Categories:          b.CategoryNames(),
		}
		bi.BlockWidth, bi.BlockHeight = b.BlockSize()
		if v, ok := b.NoData(); ok {
			bi.NoData = &v
		}
		info.Bands = append(info.Bands, bi)
	}
	return info, nil
}

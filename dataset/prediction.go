package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"

	"github.com/akhenakh/predraster/block"
	"github.com/akhenakh/predraster/crs"
	"github.com/akhenakh/predraster/descriptor"
	"github.com/akhenakh/predraster/geometry"
	"github.com/akhenakh/predraster/geotiff"
	"github.com/akhenakh/predraster/pixel"
	"github.com/akhenakh/predraster/postprocess"
	"github.com/akhenakh/predraster/predapi"
)

// DefaultNoData returns the no-data value of prediction bands of type d.
func DefaultNoData(d pixel.DataType) (float64, bool) {
	switch d {
	case pixel.Float32, pixel.Int16:
		return -9999, true
	case pixel.Byte:
		return 200, true
	}
	return 0, false
}

func openPrediction(ctx context.Context, name string, opts Options, logger *slog.Logger) (*Dataset, error) {
	d, err := descriptor.Load(name)
	if err != nil {
		return nil, err
	}

	api, closer, err := openAPI(ctx, d, opts)
	if err != nil {
		return nil, err
	}
	ds, err := newPrediction(ctx, name, d, api, opts, logger)
	if err != nil {
		if closer != nil {
			_ = closer()
		}
		return nil, err
	}
	ds.closer = closer
	return ds, nil
}

func openAPI(ctx context.Context, d *descriptor.Descriptor, opts Options) (predapi.API, func() error, error) {
	if d.API.URL != "" {
		return predapi.NewClient(d.API.URL, opts.HTTPClient), nil, nil
	}
	locations, err := d.Locations()
	if err != nil {
		return nil, nil, err
	}
	c, err := predapi.NewCOG(ctx, locations,
		geotiff.WithCache(d.API.CacheMaxSize, d.API.CacheItemsToPrune),
		geotiff.WithLogger(opts.Logger))
	if err != nil {
		return nil, nil, err
	}
	return c, c.Close, nil
}

// loadAuxiliary returns the auxiliary information of the descriptor, falling back to
// the API, and completes the descriptor file when it asks for it.
func loadAuxiliary(ctx context.Context, d *descriptor.Descriptor, api predapi.API, logger *slog.Logger) (predapi.Auxiliary, error) {
	if d.Autocomplete {
		aux, err := predapi.AuxiliaryOf(ctx, api)
		if err != nil {
			return predapi.Auxiliary{}, err
		}
		if err := d.Complete(aux); err != nil {
			logger.Warn("failed to write auxiliary info back to the descriptor", "error", err)
		}
		return aux, nil
	}
	if d.Auxiliary != nil {
		return *d.Auxiliary, nil
	}
	if d.AuxiliaryErr != nil {
		logger.Warn("failed to load auxiliary info from the descriptor, falling back to the API", "error", d.AuxiliaryErr)
	}
	return predapi.AuxiliaryOf(ctx, api)
}

// NewPrediction builds a prediction dataset over an already opened API.
func NewPrediction(ctx context.Context, d *descriptor.Descriptor, api predapi.API, opts Options) (ds *Dataset, err error) {
	defer recoverError(&err)
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CRS == nil {
		opts.CRS = crs.NewCache(&crs.HTTPResolver{Client: opts.HTTPClient})
	}
	return newPrediction(ctx, d.Path(), d, api, opts, opts.Logger)
}

func newPrediction(ctx context.Context, name string, d *descriptor.Descriptor, api predapi.API, opts Options, logger *slog.Logger) (*Dataset, error) {
	aux, err := loadAuxiliary(ctx, d, api, logger)
	if err != nil {
		return nil, fmt.Errorf("reading auxiliary info: %w", err)
	}

	ds := newDataset(name, Prediction, opts, logger)
	res := d.Prediction.Resolution()
	bbox := aux.BoundingBox.Box()
	ds.width = int(math.Ceil(bbox.Width() / res))
	ds.height = int(math.Ceil(bbox.Height() / res))
	if ds.width <= 0 || ds.height <= 0 {
		return nil, fmt.Errorf("invalid dimensions: %d x %d", ds.width, ds.height)
	}
	ds.bounds = bbox
	ds.epsg = aux.EPSG
	ds.api = api
	ds.geoTransform = [6]float64{bbox.Min.X, res, 0, bbox.Max.Y, 0, -res}

	for domain, items := range sortedDomains(d.Meta) {
		for _, key := range sortedKeys(items) {
			ds.SetMetadataItem(key, items[key], domain)
		}
	}
	for _, key := range sortedKeys(d.Extra) {
		ds.SetMetadataItem(key, metadataValue(d.Extra[key]), DefaultMetadataDomain)
	}

	topLeft := geometry.Pt(bbox.Min.X, bbox.Max.Y)
	prediction := postprocess.Prediction{
		Transmitter: d.Prediction.Transmitter(),
		Radius:      d.Prediction.Radius(),
		Resolution:  res,
	}
	for _, section := range sortedKeys(aux.Sections) {
		if !d.SectionSelected(section) {
			continue
		}
		info := aux.Sections[section]
		src, err := predapi.NewSource(ctx, api, predapi.SourceConfig{
			Section:           section,
			Origin:            topLeft,
			Resolution:        res,
			Width:             ds.width,
			Height:            ds.height,
			CacheMaxSize:      d.API.CacheMaxSize,
			CacheItemsToPrune: d.API.CacheItemsToPrune,
			Logger:            logger,
		})
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", section, err)
		}
		b := &Band{
			ds:       ds,
			index:    section + 1,
			section:  section,
			dataType: info.DataType,
			source:   src,
			reader: &block.Reader{
				Source:   src,
				Width:    info.TileWidth,
				Height:   info.TileHeight,
				DataType: info.DataType,
			},
			processor: postprocess.New(postprocess.Config{
				Prediction:   prediction,
				TopLeft:      topLeft,
				RasterHeight: ds.height,
				BlockWidth:   info.TileWidth,
				BlockHeight:  info.TileHeight,
				DataType:     info.DataType,
				Section:      section,
			}),
		}
		if v, ok := DefaultNoData(info.DataType); ok {
			b.noData = &v
		}
		ds.bands = append(ds.bands, b)
	}
	if len(ds.bands) == 0 {
		return nil, fmt.Errorf("section %d is not part of the prediction", d.Section)
	}
	ds.sortBands()
	return ds, nil
}

// sortedDomains yields the metadata domains in name order.
func sortedDomains(meta map[string]map[string]string) func(yield func(string, map[string]string) bool) {
	return func(yield func(string, map[string]string) bool) {
		for _, domain := range sortedKeys(meta) {
			if !yield(domain, meta[domain]) {
				return
			}
		}
	}
}

func sortedKeys[K int | string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func metadataValue(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

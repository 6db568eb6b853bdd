// Package dataset exposes prediction and index rasters as datasets of bands that
// serve fixed-size blocks and resampled windows.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
	"sync"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/wkt"
	"github.com/prometheus/client_golang/prometheus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/akhenakh/predraster/crs"
	"github.com/akhenakh/predraster/descriptor"
	"github.com/akhenakh/predraster/geometry"
	"github.com/akhenakh/predraster/index"
	"github.com/akhenakh/predraster/predapi"
)

var (
	// ErrReadOnly is returned when a dataset is opened or accessed for writing.
	ErrReadOnly = errors.New("datasets can only be read from")
	// ErrInvalidArgument reports out of range offsets, sizes or missing buffers.
	ErrInvalidArgument = errors.New("invalid arguments")
	// ErrUnsupportedBuffer reports buffers of another type than the band's, or with
	// non-contiguous pixel or line spacing.
	ErrUnsupportedBuffer = errors.New("only contiguous buffers of the band data type are supported")
	// ErrNonUniformResolution reports windowed reads with different x and y resolutions.
	ErrNonUniformResolution = errors.New("only a uniform x/y resolution is supported")
	// ErrUnknownFormat is returned by Open for files that are neither a descriptor nor an index.
	ErrUnknownFormat = errors.New("not a prediction descriptor or an index file")
)

// DefaultMetadataDomain is the domain of metadata items set without a domain.
const DefaultMetadataDomain = ""

var (
	blockReads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "predraster",
		Subsystem: "dataset",
		Name:      "block_reads_total",
		Help:      "Block reads, by dataset kind and result.",
	}, []string{"kind", "result"})
	regionReadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "predraster",
		Subsystem: "dataset",
		Name:      "region_read_duration_seconds",
		Help:      "Time spent rendering windowed reads.",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"kind"})
)

// Collectors returns the metrics of the package, to be registered by the caller.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{blockReads, regionReadDuration}
}

// Kind tells the two dataset flavours apart.
type Kind int

const (
	Prediction Kind = iota
	Index
)

func (k Kind) String() string {
	if k == Index {
		return "index"
	}
	return "prediction"
}

// Access is the access mode requested from Open.
type Access int

const (
	ReadOnly Access = iota
	Update
)

// Options tune Open.
type Options struct {
	Access Access
	Logger *slog.Logger
	// CRS resolves projections, a cache over crs.HTTPResolver when nil.
	CRS        *crs.Cache
	HTTPClient *http.Client
	// BlockSize is the block size of index bands, 256 when zero.
	BlockSize int
}

// Dataset is an opened raster.
type Dataset struct {
	name         string
	kind         Kind
	width        int
	height       int
	geoTransform [6]float64
	bounds       geometry.Box
	epsg         int
	bands        []*Band
	api          predapi.API
	crs          *crs.Cache
	closer       func() error
	logger       *slog.Logger

	mu       sync.RWMutex
	metadata *orderedmap.OrderedMap[string, *orderedmap.OrderedMap[string, string]]
}

// Open opens the dataset at name: a descriptor (.gap) or an index file (index.txt).
func Open(ctx context.Context, name string, opts Options) (ds *Dataset, err error) {
	defer recoverError(&err)

	if opts.Access != ReadOnly {
		return nil, ErrReadOnly
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CRS == nil {
		opts.CRS = crs.NewCache(&crs.HTTPResolver{Client: opts.HTTPClient})
	}
	logger := opts.Logger.With("dataset", name)

	switch {
	case descriptor.Identify(name):
		return openPrediction(ctx, name, opts, logger)
	case index.Identify(name):
		return openIndex(name, opts, logger)
	}
	return nil, fmt.Errorf("%s: %w", name, ErrUnknownFormat)
}

func newDataset(name string, kind Kind, opts Options, logger *slog.Logger) *Dataset {
	return &Dataset{
		name:     name,
		kind:     kind,
		crs:      opts.CRS,
		logger:   logger,
		metadata: orderedmap.New[string, *orderedmap.OrderedMap[string, string]](),
	}
}

// recoverError turns a panic into an error so none crosses the package boundary.
func recoverError(err *error) {
	if r := recover(); r != nil {
		slog.Error("recovered from panic", "panic", r, "stack", string(debug.Stack()))
		*err = fmt.Errorf("internal error: %v", r)
	}
}

// Close releases the resources of the dataset.
func (ds *Dataset) Close() error {
	if ds.closer == nil {
		return nil
	}
	return ds.closer()
}

func (ds *Dataset) Name() string { return ds.name }

func (ds *Dataset) Kind() Kind { return ds.kind }

// Size is the raster size in pixels.
func (ds *Dataset) Size() (width, height int) { return ds.width, ds.height }

// Bounds is the extent of the raster in map units.
func (ds *Dataset) Bounds() geometry.Box { return ds.bounds }

// GeoTransform maps pixel/line coordinates to map coordinates:
// x = gt[0] + col*gt[1] + row*gt[2], y = gt[3] + col*gt[4] + row*gt[5].
func (ds *Dataset) GeoTransform() [6]float64 { return ds.geoTransform }

// WindowBounds returns the map extent of the pixel window at (xoff, yoff), in the
// row order of the dataset.
func (ds *Dataset) WindowBounds(xoff, yoff, xsize, ysize int) geometry.Box {
	gt := ds.geoTransform
	x0 := gt[0] + float64(xoff)*gt[1]
	x1 := x0 + float64(xsize)*gt[1]
	y0 := gt[3] + float64(yoff)*gt[5]
	y1 := y0 + float64(ysize)*gt[5]
	return geometry.NewBox(x0, y0, x1, y1)
}

// EPSG is the EPSG code of the dataset, 0 when unknown.
func (ds *Dataset) EPSG() int { return ds.epsg }

// Projection returns the WKT of the dataset's coordinate reference system, "" when
// unknown.
func (ds *Dataset) Projection(ctx context.Context) (wkt string, err error) {
	defer recoverError(&err)
	return ds.crs.WKT(ctx, ds.epsg)
}

// ExtentWKT returns the bounds as a WKT polygon.
func (ds *Dataset) ExtentWKT() (string, error) {
	b := ds.bounds
	var sb strings.Builder
	err := wkt.Encode(&sb, geom.Polygon{{
		{b.Min.X, b.Min.Y},
		{b.Max.X, b.Min.Y},
		{b.Max.X, b.Max.Y},
		{b.Min.X, b.Max.Y},
	}})
	return sb.String(), err
}

// API returns the prediction API a prediction dataset reads from, nil for an index.
func (ds *Dataset) API() predapi.API { return ds.api }

// Bands returns the bands in band index order.
func (ds *Dataset) Bands() []*Band { return ds.bands }

// Band returns the band with the given 1-based index.
func (ds *Dataset) Band(i int) (*Band, bool) {
	for _, b := range ds.bands {
		if b.index == i {
			return b, true
		}
	}
	return nil, false
}

// SetMetadataItem sets a metadata item in a domain.
func (ds *Dataset) SetMetadataItem(key, value, domain string) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	items, ok := ds.metadata.Get(domain)
	if !ok {
		items = orderedmap.New[string, string]()
		ds.metadata.Set(domain, items)
	}
	items.Set(key, value)
}

// MetadataItem returns one metadata item.
func (ds *Dataset) MetadataItem(key, domain string) (string, bool) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	items, ok := ds.metadata.Get(domain)
	if !ok {
		return "", false
	}
	return items.Get(key)
}

// MetadataDomains lists the domains in the order they were first set.
func (ds *Dataset) MetadataDomains() []string {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	domains := make([]string, 0, ds.metadata.Len())
	for pair := ds.metadata.Oldest(); pair != nil; pair = pair.Next() {
		domains = append(domains, pair.Key)
	}
	return domains
}

// Metadata returns the items of a domain as "key=value" strings, in insertion order.
func (ds *Dataset) Metadata(domain string) []string {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	items, ok := ds.metadata.Get(domain)
	if !ok {
		return nil
	}
	out := make([]string, 0, items.Len())
	for pair := items.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key+"="+pair.Value)
	}
	return out
}

func (ds *Dataset) sortBands() {
	slices.SortFunc(ds.bands, func(a, b *Band) int { return a.index - b.index })
}

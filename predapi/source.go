package predapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/karlseguin/ccache/v3"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/akhenakh/predraster/geometry"
	"github.com/akhenakh/predraster/pixel"
	"github.com/akhenakh/predraster/tile"
)

var (
	tileFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "predraster",
		Subsystem: "predapi",
		Name:      "tile_fetches_total",
		Help:      "Tiles requested from prediction sections, by result.",
	}, []string{"section", "result"})
	tileFetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "predraster",
		Subsystem: "predapi",
		Name:      "tile_fetch_duration_seconds",
		Help:      "Time spent fetching tiles from the prediction API on cache misses.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 3},
	}, []string{"section"})
)

// Collectors returns the metrics of the package, to be registered by the caller.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{tileFetches, tileFetchDuration}
}

// SourceConfig places a section on the map.
type SourceConfig struct {
	Section int
	// Origin is the top-left corner of the raster grid in map units.
	Origin     geometry.Point
	Resolution float64
	// Width and Height are the raster size in pixels.
	Width, Height int

	CacheMaxSize      int64
	CacheItemsToPrune uint32
	CacheTTL          time.Duration
	// QueryConcurrency bounds the tile fetches in flight during a Query.
	QueryConcurrency int
	Logger           *slog.Logger
}

// Source exposes one section of a prediction API as a tile.Source. Decoded tiles,
// and tiles found missing, are cached.
type Source struct {
	cfg      SourceConfig
	info     SectionInfo
	it       TileIterator
	section  string
	cache    *ccache.Cache[*tile.Tile]
	inflight singleflight.Group
	logger   *slog.Logger
}

// NewSource creates the tile source of cfg.Section.
func NewSource(ctx context.Context, api API, cfg SourceConfig) (*Source, error) {
	if cfg.Resolution <= 0 {
		return nil, fmt.Errorf("invalid resolution %g", cfg.Resolution)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid raster size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.CacheMaxSize == 0 {
		cfg.CacheMaxSize = 1024
	}
	if cfg.CacheItemsToPrune == 0 {
		cfg.CacheItemsToPrune = 100
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if cfg.QueryConcurrency <= 0 {
		cfg.QueryConcurrency = 8
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	info, err := api.SectionInfo(ctx, cfg.Section)
	if err != nil {
		return nil, err
	}
	it, err := api.TileIterator(ctx, cfg.Section)
	if err != nil {
		return nil, err
	}
	return &Source{
		cfg:     cfg,
		info:    info,
		it:      it,
		section: strconv.Itoa(cfg.Section),
		cache:   ccache.New(ccache.Configure[*tile.Tile]().MaxSize(cfg.CacheMaxSize).ItemsToPrune(cfg.CacheItemsToPrune)),
		logger:  logger.With("section", cfg.Section),
	}, nil
}

// Info returns the layout of the section.
func (s *Source) Info() SectionInfo { return s.info }

// TileGrid returns the number of tiles across and down the raster.
func (s *Source) TileGrid() (across, down int) {
	return (s.cfg.Width + s.info.TileWidth - 1) / s.info.TileWidth, (s.cfg.Height + s.info.TileHeight - 1) / s.info.TileHeight
}

// Tile returns the tile at (col, row), or tile.ErrNotFound when the API has none.
func (s *Source) Tile(ctx context.Context, col, row int) (*tile.Tile, error) {
	key := fmt.Sprintf("%d/%d", col, row)
	if item := s.cache.Get(key); item != nil && !item.Expired() {
		return s.result(item.Value(), nil, "hit")
	}

	// the fetch outlives the caller that started it, joined callers may still want it
	fetchCtx := context.WithoutCancel(ctx)
	ch := s.inflight.DoChan(key, func() (interface{}, error) {
		start := time.Now()
		rt, err := s.it.Tile(fetchCtx, col, row)
		tileFetchDuration.WithLabelValues(s.section).Observe(time.Since(start).Seconds())
		if errors.Is(err, tile.ErrNotFound) {
			s.cache.Set(key, nil, s.cfg.CacheTTL)
			return (*tile.Tile)(nil), nil
		}
		if err != nil {
			return nil, err
		}
		t, err := s.toTile(rt)
		if err != nil {
			return nil, fmt.Errorf("tile %d,%d: %w", col, row, err)
		}
		s.cache.Set(key, t, s.cfg.CacheTTL)
		return t, nil
	})

	select {
	case <-ctx.Done():
		return s.result(nil, ctx.Err(), "canceled")
	case res := <-ch:
		if res.Err != nil {
			return s.result(nil, res.Err, "error")
		}
		return s.result(res.Val.(*tile.Tile), nil, "miss")
	}
}

func (s *Source) result(t *tile.Tile, err error, outcome string) (*tile.Tile, error) {
	switch {
	case err != nil:
		tileFetches.WithLabelValues(s.section, outcome).Inc()
		s.logger.Error("tile fetch failed", "error", err)
		return nil, err
	case t == nil:
		tileFetches.WithLabelValues(s.section, "not_found").Inc()
		return nil, tile.ErrNotFound
	default:
		tileFetches.WithLabelValues(s.section, outcome).Inc()
		return t, nil
	}
}

// toTile places an API tile on the map.
func (s *Source) toTile(rt *RasterTile) (*tile.Tile, error) {
	r := rt.Region
	if r.Width <= 0 || r.Height <= 0 {
		return nil, fmt.Errorf("invalid tile region %dx%d", r.Width, r.Height)
	}
	if n := rt.DataType.BufferSize(rt.PixelCount()); len(rt.Data) < n {
		return nil, fmt.Errorf("tile payload has %d bytes, %d expected", len(rt.Data), n)
	}
	data, err := extract(rt)
	if err != nil {
		return nil, err
	}
	res := s.cfg.Resolution
	minX := s.cfg.Origin.X + float64(r.X0)*res
	maxY := s.cfg.Origin.Y - float64(r.Y0)*res
	t := &tile.Tile{
		Bounds:     geometry.NewBox(minX, maxY-float64(r.Height)*res, minX+float64(r.Width)*res, maxY),
		Resolution: res,
		Width:      r.Width,
		Height:     r.Height,
		DataType:   rt.DataType,
		Data:       data,
	}
	return t, t.Validate()
}

// extract decodes the payload of rt into a buffer owned by the tile, through the
// accessor of its pixel type.
func extract(rt *RasterTile) ([]byte, error) {
	n := rt.PixelCount()
	switch rt.DataType {
	case pixel.Byte:
		return encode(pixel.Uint8Codec, n, rt.Uint8Data)
	case pixel.Int16:
		return encode(pixel.Int16Codec, n, rt.Int16Data)
	case pixel.UInt16:
		return encode(pixel.Uint16Codec, n, rt.Uint16Data)
	case pixel.Int32:
		return encode(pixel.Int32Codec, n, rt.Int32Data)
	case pixel.UInt32:
		return encode(pixel.Uint32Codec, n, rt.Uint32Data)
	case pixel.Float32:
		return encode(pixel.Float32Codec, n, rt.Float32Data)
	case pixel.Float64:
		return encode(pixel.Float64Codec, n, rt.Float64Data)
	}
	return nil, fmt.Errorf("%w: %v", pixel.ErrUnsupportedType, rt.DataType)
}

func encode[T pixel.Number](c pixel.Codec[T], n int, data func(int) ([]T, error)) ([]byte, error) {
	vals, err := data(n)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, c.Size()*n)
	c.Encode(buf, vals)
	return buf, nil
}

// Query returns the tiles of the grid intersecting area.
func (s *Source) Query(ctx context.Context, area geometry.Box) ([]*tile.Tile, error) {
	across, down := s.TileGrid()
	tw := float64(s.info.TileWidth) * s.cfg.Resolution
	th := float64(s.info.TileHeight) * s.cfg.Resolution

	col0 := max(0, int(math.Floor((area.Min.X-s.cfg.Origin.X)/tw)))
	col1 := min(across-1, int(math.Ceil((area.Max.X-s.cfg.Origin.X)/tw))-1)
	row0 := max(0, int(math.Floor((s.cfg.Origin.Y-area.Max.Y)/th)))
	row1 := min(down-1, int(math.Ceil((s.cfg.Origin.Y-area.Min.Y)/th))-1)
	if col1 < col0 || row1 < row0 {
		return nil, nil
	}

	found := make([]*tile.Tile, (col1-col0+1)*(row1-row0+1))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.QueryConcurrency)
	for row := row0; row <= row1; row++ {
		for col := col0; col <= col1; col++ {
			i := (row-row0)*(col1-col0+1) + (col - col0)
			g.Go(func() error {
				t, err := s.Tile(gctx, col, row)
				if errors.Is(err, tile.ErrNotFound) {
					return nil
				}
				if err != nil {
					return err
				}
				found[i] = t
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	tiles := found[:0]
	for _, t := range found {
		if t != nil && t.Bounds.Intersects(area) {
			tiles = append(tiles, t)
		}
	}
	return tiles, nil
}

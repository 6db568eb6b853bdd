// Package geotiff gives tile-level access to tiled (cloud optimized) GeoTIFF files.
// Tiles are decoded into little-endian sample buffers of one of the pixel data types
// and kept in an in-memory cache.
package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/karlseguin/ccache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/akhenakh/predraster/geometry"
	"github.com/akhenakh/predraster/pixel"
)

// ErrSparseTile is returned for tiles that are not stored in the file (zero byte count),
// which readers must treat as no-data.
var ErrSparseTile = errors.New("sparse tile")

// head represents the TIFF file header information
type head struct {
	byteOrder binary.ByteOrder // Byte order (little endian or big endian)
	isBigTIFF bool             // Whether this is a BigTIFF file format
	ifdOffset uint64           // Offset to the first Image File Directory (IFD)
}

// iFDEntry represents a single entry in an Image File Directory (IFD)
type iFDEntry struct {
	Tag         Tag       // TIFF tag identifier
	FType       fieldType // Data type of the field
	Count       uint64    // Number of values of the specified type
	ValueOffset uint64    // Offset to the value data, or the value itself if it fits inline
	ValueBytes  []byte    // Inline value data for small values
}

// tagData holds the parsed data for a TIFF tag in various typed formats
type tagData struct {
	fType      fieldType // The field type of this tag data
	length     uint32    // Number of elements in the data
	byteData   []uint8   // Raw byte data (BYTE type)
	asciiData  string    // String data (ASCII type)
	shortData  []uint16  // 16-bit unsigned integer data (SHORT type)
	longData   []uint32  // 32-bit unsigned integer data (LONG type)
	floatData  []float32 // 32-bit floating point data (FLOAT type)
	doubleData []float64 // 64-bit floating point data (DOUBLE type)
	uint64Data []uint64  // 64-bit unsigned integer data (LONG8/IFD8 types)
}

type Tags map[Tag]tagData

type Tag uint16

// Tile is one decoded tile. Width and Height are clipped to the image, so tiles on the
// right and bottom edges may be smaller than the file's tile size. Rows are top-down.
type Tile struct {
	Col, Row      int
	X0, Y0        int // pixel offset of the tile in the image
	Width, Height int
	DataType      pixel.DataType
	Data          []byte
}

// GeoTIFF represents a parsed GeoTIFF file with its metadata and tile access.
type GeoTIFF struct {
	// reader is the underlying source. It must implement io.ReaderAt as well,
	// tiles are fetched with ReadAt.
	reader io.ReadSeeker

	byteOrder binary.ByteOrder
	tags      Tags
	isBigTIFF bool

	imageWidth  uint32
	imageLength uint32
	tileWidth   uint32
	tileLength  uint32

	tileOffsets    []uint64
	tileByteCounts []uint64

	bitsPerSample uint16
	sampleFormat  uint16
	compression   uint16
	predictor     uint16
	dataType      pixel.DataType

	// PixelScaleX is the size of a pixel in map units along X.
	PixelScaleX float64
	// PixelScaleY is the size of a pixel along Y, negative for north-up images.
	PixelScaleY float64

	// tileCache keeps decoded tiles, keyed by tile number.
	tileCache *ccache.Cache[*Tile]
	cacheTTL  time.Duration

	// inflightData makes concurrent requests for one tile share a single read.
	inflightData singleflight.Group

	// inflightPrefetch triggers the neighbour prefetch of a tile only once.
	inflightPrefetch singleflight.Group
	prefetch         bool

	tilesAcross int
	tilesDown   int

	logger *slog.Logger
}

// Option configures Open.
type Option func(*GeoTIFF)

// WithCache sets the size of the decoded tile cache and how many items are pruned when full.
func WithCache(maxSize int64, itemsToPrune uint32) Option {
	return func(g *GeoTIFF) {
		g.tileCache = ccache.New(ccache.Configure[*Tile]().MaxSize(maxSize).ItemsToPrune(itemsToPrune))
	}
}

// WithPrefetch makes every tile read warm the cache with its eight neighbours.
func WithPrefetch(enabled bool) Option {
	return func(g *GeoTIFF) { g.prefetch = enabled }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *GeoTIFF) { g.logger = l }
}

// Open parses a GeoTIFF file from r, which must also implement io.ReaderAt.
func Open(r io.ReadSeeker, opts ...Option) (*GeoTIFF, error) {
	g := &GeoTIFF{reader: r, cacheTTL: 10 * time.Minute, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	if g.tileCache == nil {
		WithCache(256, 32)(g)
	}

	gTags, header, err := readTags(r, g.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to read tiff tags: %w", err)
	}
	g.tags = gTags
	g.byteOrder = header.byteOrder
	g.isBigTIFF = header.isBigTIFF

	if width, ok := g.getUint(ImageWidth); ok {
		g.imageWidth = uint32(width)
	} else {
		return nil, errors.New("missing or invalid tag: ImageWidth")
	}
	if length, ok := g.getUint(ImageLength); ok {
		g.imageLength = uint32(length)
	} else {
		return nil, errors.New("missing or invalid tag: ImageLength")
	}

	if tWidth, ok := g.getUint(TileWidth); ok && tWidth > 0 {
		g.tileWidth = uint32(tWidth)
	} else {
		return nil, errors.New("missing or invalid tag: TileWidth")
	}
	if tLength, ok := g.getUint(TileLength); ok && tLength > 0 {
		g.tileLength = uint32(tLength)
	} else {
		return nil, errors.New("missing or invalid tag: TileLength")
	}
	g.tilesAcross = int(g.imageWidth+g.tileWidth-1) / int(g.tileWidth)
	g.tilesDown = int(g.imageLength+g.tileLength-1) / int(g.tileLength)

	if spp, ok := g.getUint(SamplesPerPixel); ok && spp != 1 {
		return nil, fmt.Errorf("unsupported samples per pixel: %d", spp)
	}

	if bps, ok := g.getUint(BitsPerSample); ok {
		g.bitsPerSample = uint16(bps)
	} else {
		g.bitsPerSample = 32
	}
	if sf, ok := g.getUint(SampleFormat); ok {
		g.sampleFormat = uint16(sf)
	} else {
		g.sampleFormat = SampleFormatUint // TIFF default
	}
	if g.dataType, err = sampleDataType(g.sampleFormat, g.bitsPerSample); err != nil {
		return nil, err
	}

	if comp, ok := g.getUint(Compression); ok {
		g.compression = uint16(comp)
	} else {
		g.compression = Uncompressed
	}
	if pred, ok := g.getUint(Predictor); ok {
		g.predictor = uint16(pred)
	} else {
		g.predictor = PredictorNone
	}
	if g.predictor != PredictorNone && g.predictor != PredictorHorizontal {
		return nil, fmt.Errorf("unsupported predictor: %d", g.predictor)
	}
	if g.predictor == PredictorHorizontal && g.dataType.IsFloat() {
		return nil, errors.New("horizontal predictor is not supported for floating point samples")
	}

	if offsets, ok := g.get64bitSlice(TileOffsets); ok {
		g.tileOffsets = offsets
	} else {
		return nil, errors.New("missing or invalid tag: TileOffsets")
	}
	if counts, ok := g.get64bitSlice(TileByteCounts); ok {
		g.tileByteCounts = counts
	} else {
		return nil, errors.New("missing or invalid tag: TileByteCounts")
	}
	if n := g.tilesAcross * g.tilesDown; len(g.tileOffsets) < n || len(g.tileByteCounts) < n {
		return nil, fmt.Errorf("expected %d tiles, found %d offsets and %d byte counts", n, len(g.tileOffsets), len(g.tileByteCounts))
	}

	pixelScale, ok := gTags[ModelPixelScale]
	if !ok {
		return nil, errors.New("missing tag: ModelPixelScale")
	}
	pixelScaleValues, ok := pixelScale.doubleDataValue()
	if !ok || len(pixelScaleValues) < 2 {
		return nil, errors.New("invalid tag: ModelPixelScale")
	}
	g.PixelScaleX = pixelScaleValues[0]
	g.PixelScaleY = pixelScaleValues[1]

	// north-up convention
	if g.PixelScaleY > 0 {
		g.PixelScaleY = -g.PixelScaleY
	}

	return g, nil
}

func sampleDataType(format, bits uint16) (pixel.DataType, error) {
	switch {
	case format == SampleFormatUint && bits == 8:
		return pixel.Byte, nil
	case format == SampleFormatUint && bits == 16:
		return pixel.UInt16, nil
	case format == SampleFormatUint && bits == 32:
		return pixel.UInt32, nil
	case format == SampleFormatInt && bits == 16:
		return pixel.Int16, nil
	case format == SampleFormatInt && bits == 32:
		return pixel.Int32, nil
	case format == SampleFormatFloat && bits == 32:
		return pixel.Float32, nil
	case format == SampleFormatFloat && bits == 64:
		return pixel.Float64, nil
	}
	return pixel.Unknown, fmt.Errorf("%w: SampleFormat %d, BitsPerSample %d", pixel.ErrUnsupportedType, format, bits)
}

// Size returns the image size in pixels.
func (g *GeoTIFF) Size() (width, height int) { return int(g.imageWidth), int(g.imageLength) }

// TileSize returns the size of the file's tiles in pixels.
func (g *GeoTIFF) TileSize() (width, height int) { return int(g.tileWidth), int(g.tileLength) }

// TileGrid returns the number of tiles across and down.
func (g *GeoTIFF) TileGrid() (across, down int) { return g.tilesAcross, g.tilesDown }

func (g *GeoTIFF) DataType() pixel.DataType { return g.dataType }

// Resolution returns the pixel size along X in map units.
func (g *GeoTIFF) Resolution() float64 { return g.PixelScaleX }

// NoData returns the GDAL_NODATA value, if the file carries one.
func (g *GeoTIFF) NoData() (float64, bool) {
	t, ok := g.tags[GDALNoData]
	if !ok || t.fType != ASCII {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(t.asciiData), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// EPSG returns the projected or geographic EPSG code from the GeoKey directory.
func (g *GeoTIFF) EPSG() (int, bool) {
	t, ok := g.tags[GeoKeyDirectory]
	if !ok || t.fType != SHORT || len(t.shortData) < 4 {
		return 0, false
	}
	keys := t.shortData
	numKeys := int(keys[3])
	code := 0
	for i := 0; i < numKeys && 4+4*i+3 < len(keys); i++ {
		entry := keys[4+4*i : 8+4*i]
		if entry[1] != 0 {
			// value stored in another tag
			continue
		}
		switch entry[0] {
		case projectedCSTypeKey:
			return int(entry[3]), true
		case geographicTypeGeoKey:
			code = int(entry[3])
		}
	}
	return code, code != 0
}

// Bounds returns the extent of the image in map units.
func (g *GeoTIFF) Bounds() (geometry.Box, error) {
	tiePointTag, ok := g.tags[ModelTiepoint]
	if !ok {
		return geometry.Box{}, errors.New("missing ModelTiepoint tag")
	}
	tiePointValues, ok := tiePointTag.doubleDataValue()
	if !ok || len(tiePointValues) < 6 {
		return geometry.Box{}, errors.New("invalid ModelTiepoint tag")
	}

	tieI, tieJ := tiePointValues[0], tiePointValues[1]
	tieX, tieY := tiePointValues[3], tiePointValues[4]

	// upper-left corner; PixelScaleY is negative
	ulX := tieX - (tieI * g.PixelScaleX)
	ulY := tieY - (tieJ * g.PixelScaleY)

	totalWidth := float64(g.imageWidth) * g.PixelScaleX
	totalHeight := float64(g.imageLength) * g.PixelScaleY

	return geometry.NewBox(ulX, ulY, ulX+totalWidth, ulY+totalHeight), nil
}

// readHeader parses the TIFF file header to determine byte order, file format, and IFD location
func readHeader(r io.Reader) (head, error) {
	var h head

	var byteOrderBytes uint16
	if err := binary.Read(r, binary.BigEndian, &byteOrderBytes); err != nil {
		return h, err
	}

	switch byteOrderBytes {
	case littleEndian:
		h.byteOrder = binary.LittleEndian
	case bigEndian:
		h.byteOrder = binary.BigEndian
	default:
		return h, errors.New("invalid byte order")
	}

	var identifier uint16
	if err := binary.Read(r, h.byteOrder, &identifier); err != nil {
		return h, err
	}

	switch identifier {
	case tiffIdentifier:
		h.isBigTIFF = false
		var offset32 uint32
		if err := binary.Read(r, h.byteOrder, &offset32); err != nil {
			return h, err
		}
		h.ifdOffset = uint64(offset32)
	case bigTiffIdentifier:
		h.isBigTIFF = true

		var bytesize, reserved uint16
		if err := binary.Read(r, h.byteOrder, &bytesize); err != nil {
			return h, err
		}
		if bytesize != bigTiffBytesize {
			return h, errors.New("invalid BigTIFF bytesize")
		}
		if err := binary.Read(r, h.byteOrder, &reserved); err != nil {
			return h, err
		}
		if err := binary.Read(r, h.byteOrder, &h.ifdOffset); err != nil {
			return h, err
		}
	default:
		return h, fmt.Errorf("invalid tiff identifier: %d", identifier)
	}
	return h, nil
}

func readTags(r io.ReadSeeker, logger *slog.Logger) (Tags, head, error) {
	tags := make(Tags)
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, head{}, err
	}
	h, err := readHeader(r)
	if err != nil {
		return nil, h, err
	}

	// Only the first IFD, the full resolution image, is read; overviews are ignored.
	ifdOffset := h.ifdOffset
	if ifdOffset == 0 {
		return nil, h, errors.New("file contains no IFDs")
	}
	if _, err := r.Seek(int64(ifdOffset), io.SeekStart); err != nil {
		return nil, h, err
	}

	var numEntries uint64
	if h.isBigTIFF {
		if err := binary.Read(r, h.byteOrder, &numEntries); err != nil {
			return nil, h, err
		}
	} else {
		var numEntries16 uint16
		if err := binary.Read(r, h.byteOrder, &numEntries16); err != nil {
			return nil, h, err
		}
		numEntries = uint64(numEntries16)
	}

	entryLen := 12
	if h.isBigTIFF {
		entryLen = 20
	}
	ifdBlock := make([]byte, entryLen*int(numEntries))
	if _, err := io.ReadFull(r, ifdBlock); err != nil {
		return nil, h, fmt.Errorf("failed to read IFD block: %w", err)
	}
	ifdReader := bytes.NewReader(ifdBlock)

	inlineDataSize := uint64(4)
	if h.isBigTIFF {
		inlineDataSize = 8
	}

	for i := uint64(0); i < numEntries; i++ {
		var entry iFDEntry
		var tag, ftype uint16
		binary.Read(ifdReader, h.byteOrder, &tag)
		binary.Read(ifdReader, h.byteOrder, &ftype)
		entry.Tag = Tag(tag)
		entry.FType = fieldType(ftype)
		if entry.FType.bytes() == 0 {
			logger.Warn("skipping tag with unrecognized field type", "tag", entry.Tag, "field_type", entry.FType)
			ifdReader.Seek(int64(entryLen-4), io.SeekCurrent)
			continue
		}

		offsetBytes := make([]byte, 8)
		if h.isBigTIFF {
			binary.Read(ifdReader, h.byteOrder, &entry.Count)
			ifdReader.Read(offsetBytes)
			entry.ValueOffset = h.byteOrder.Uint64(offsetBytes)
		} else {
			var count32 uint32
			binary.Read(ifdReader, h.byteOrder, &count32)
			ifdReader.Read(offsetBytes[:4])
			entry.Count = uint64(count32)
			entry.ValueOffset = uint64(h.byteOrder.Uint32(offsetBytes))
		}

		if totalBytes := uint64(entry.FType.bytes()) * entry.Count; totalBytes <= inlineDataSize {
			entry.ValueBytes = offsetBytes[:totalBytes]
		}

		tagvalue, err := entry.value(r, h.byteOrder)
		if errors.Is(err, errUnsupportedField) {
			logger.Debug("skipping tag", "tag", entry.Tag, "field_type", entry.FType)
			continue
		}
		if err != nil {
			return nil, h, fmt.Errorf("reading tag %s: %w", entry.Tag, err)
		}
		tags[entry.Tag] = *tagvalue
	}

	return tags, h, nil
}

var errUnsupportedField = errors.New("unsupported field type")

func (ifd *iFDEntry) value(r io.ReadSeeker, byteOrder binary.ByteOrder) (*tagData, error) {
	t := tagData{fType: ifd.FType, length: uint32(ifd.Count)}
	var reader io.Reader
	if len(ifd.ValueBytes) > 0 || ifd.Count == 0 {
		reader = bytes.NewReader(ifd.ValueBytes)
	} else {
		readerAt, ok := r.(io.ReaderAt)
		if !ok {
			return nil, errors.New("reader does not implement io.ReaderAt")
		}
		reader = io.NewSectionReader(readerAt, int64(ifd.ValueOffset), int64(ifd.FType.bytes())*int64(ifd.Count))
	}
	switch ifd.FType {
	case BYTE, UNDEFINED:
		t.byteData = make([]uint8, ifd.Count)
		if err := binary.Read(reader, byteOrder, &t.byteData); err != nil {
			return nil, err
		}
	case ASCII:
		p := make([]uint8, ifd.Count)
		if err := binary.Read(reader, byteOrder, p); err != nil {
			return nil, err
		}
		t.asciiData = string(bytes.Trim(p, "\x00"))
	case SHORT:
		t.shortData = make([]uint16, ifd.Count)
		if err := binary.Read(reader, byteOrder, &t.shortData); err != nil {
			return nil, err
		}
	case LONG:
		t.longData = make([]uint32, ifd.Count)
		if err := binary.Read(reader, byteOrder, &t.longData); err != nil {
			return nil, err
		}
	case FLOAT:
		t.floatData = make([]float32, ifd.Count)
		if err := binary.Read(reader, byteOrder, t.floatData); err != nil {
			return nil, err
		}
	case DOUBLE:
		t.doubleData = make([]float64, ifd.Count)
		if err := binary.Read(reader, byteOrder, &t.doubleData); err != nil {
			return nil, err
		}
	case LONG8, IFD8:
		t.uint64Data = make([]uint64, ifd.Count)
		if err := binary.Read(reader, byteOrder, &t.uint64Data); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedField, ifd.FType)
	}
	return &t, nil
}

// Tile returns the decoded tile at (col, row) of the tile grid. Sparse tiles yield
// ErrSparseTile.
func (g *GeoTIFF) Tile(col, row int) (*Tile, error) {
	if col < 0 || col >= g.tilesAcross || row < 0 || row >= g.tilesDown {
		return nil, fmt.Errorf("tile %d,%d lies outside the %dx%d tile grid", col, row, g.tilesAcross, g.tilesDown)
	}
	tileNum := g.tilesAcross*row + col

	t, err := g.getTileData(tileNum)
	if err != nil {
		return nil, err
	}

	if g.prefetch {
		prefetchKey := fmt.Sprintf("prefetch-%d", tileNum)
		go g.inflightPrefetch.Do(prefetchKey, func() (interface{}, error) {
			g.prefetchNeighbors(tileNum)
			// allow another prefetch once cached items may have expired
			time.AfterFunc(1*time.Minute, func() {
				g.inflightPrefetch.Forget(prefetchKey)
			})
			return nil, nil
		})
	}
	return t, nil
}

// Value returns the sample at pixel (x, y) of the image.
func (g *GeoTIFF) Value(x, y int) (float64, error) {
	if x < 0 || x >= int(g.imageWidth) || y < 0 || y >= int(g.imageLength) {
		return 0, errors.New("point lies outside image")
	}
	t, err := g.Tile(x/int(g.tileWidth), y/int(g.tileLength))
	if err != nil {
		return 0, err
	}
	return pixel.Value(t.Data, t.DataType, (y-t.Y0)*t.Width+(x-t.X0)), nil
}

// getTileData returns a decoded tile from the cache, reading it once when missing.
func (g *GeoTIFF) getTileData(tileNum int) (*Tile, error) {
	key := strconv.Itoa(tileNum)
	item := g.tileCache.Get(key)
	if item != nil && !item.Expired() {
		return item.Value(), nil
	}

	v, err, _ := g.inflightData.Do(key, func() (interface{}, error) {
		if g.tileByteCounts[tileNum] == 0 {
			return nil, ErrSparseTile
		}
		raw, err := g.fetchAndDecompressTile(tileNum)
		if err != nil {
			return nil, err
		}
		t, err := g.decodeTile(tileNum, raw)
		if err != nil {
			return nil, err
		}
		g.tileCache.Set(key, t, g.cacheTTL)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Tile), nil
}

// decodeTile turns a decompressed tile into a little-endian buffer clipped to the image.
func (g *GeoTIFF) decodeTile(tileNum int, raw []byte) (*Tile, error) {
	tw, tl := int(g.tileWidth), int(g.tileLength)
	size := g.dataType.Size()
	if len(raw) < tw*tl*size {
		return nil, fmt.Errorf("tile %d holds %d bytes, %d expected", tileNum, len(raw), tw*tl*size)
	}

	col, row := tileNum%g.tilesAcross, tileNum/g.tilesAcross
	t := &Tile{
		Col:      col,
		Row:      row,
		X0:       col * tw,
		Y0:       row * tl,
		DataType: g.dataType,
	}
	t.Width = min(tw, int(g.imageWidth)-t.X0)
	t.Height = min(tl, int(g.imageLength)-t.Y0)

	if g.byteOrder != binary.LittleEndian {
		swapBytes(raw[:tw*tl*size], size)
	}
	if g.predictor == PredictorHorizontal {
		if err := undoHorizontalPrediction(raw, g.dataType, tw, tl); err != nil {
			return nil, err
		}
	}

	t.Data = make([]byte, t.Width*t.Height*size)
	for y := 0; y < t.Height; y++ {
		copy(t.Data[y*t.Width*size:(y+1)*t.Width*size], raw[y*tw*size:(y*tw+t.Width)*size])
	}
	return t, nil
}

func swapBytes(b []byte, size int) {
	if size == 1 {
		return
	}
	for off := 0; off+size <= len(b); off += size {
		s := b[off : off+size]
		for i, j := 0, size-1; i < j; i, j = i+1, j-1 {
			s[i], s[j] = s[j], s[i]
		}
	}
}

// fetchAndDecompressTile performs the I/O to read and decompress a single tile.
func (g *GeoTIFF) fetchAndDecompressTile(tileNum int) ([]byte, error) {
	offset := g.tileOffsets[tileNum]
	byteCount := g.tileByteCounts[tileNum]
	tileBytes := make([]byte, byteCount)

	readerAt, ok := g.reader.(io.ReaderAt)
	if !ok {
		return nil, errors.New("reader does not support ReadAt for tile fetching")
	}
	if _, err := readerAt.ReadAt(tileBytes, int64(offset)); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read tile %d from source: %w", tileNum, err)
	}

	switch g.compression {
	case Uncompressed:
		return tileBytes, nil
	case DEFLATE, AdobeDeflate:
		z, err := zlib.NewReader(bytes.NewReader(tileBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to create zlib reader for tile: %w", err)
		}
		defer z.Close()
		decompressedBytes, err := io.ReadAll(z)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress tile data: %w", err)
		}
		return decompressedBytes, nil
	default:
		return nil, fmt.Errorf("unsupported compression type: %d", g.compression)
	}
}

// prefetchNeighbors warms the cache with the eight tiles around tileNum without
// triggering any further prefetching.
func (g *GeoTIFF) prefetchNeighbors(tileNum int) {
	tileY := tileNum / g.tilesAcross
	tileX := tileNum % g.tilesAcross

	var wg sync.WaitGroup
	for j := -1; j <= 1; j++ {
		for i := -1; i <= 1; i++ {
			if i == 0 && j == 0 {
				continue
			}
			neighborX := tileX + i
			neighborY := tileY + j
			if neighborX >= 0 && neighborX < g.tilesAcross && neighborY >= 0 && neighborY < g.tilesDown {
				wg.Add(1)
				go func(num int) {
					defer wg.Done()
					g.getTileData(num)
				}(neighborY*g.tilesAcross + neighborX)
			}
		}
	}
	wg.Wait()
}

func (g *GeoTIFF) getUint(tag Tag) (uint64, bool) {
	t, ok := g.tags[tag]
	if !ok {
		return 0, false
	}
	if t.fType == SHORT && len(t.shortData) > 0 {
		return uint64(t.shortData[0]), true
	}
	if t.fType == LONG && len(t.longData) > 0 {
		return uint64(t.longData[0]), true
	}
	return 0, false
}

func (g *GeoTIFF) get64bitSlice(tag Tag) ([]uint64, bool) {
	t, ok := g.tags[tag]
	if !ok {
		return nil, false
	}
	switch t.fType {
	case LONG8, IFD8:
		return t.uint64Data, true
	case LONG:
		res := make([]uint64, len(t.longData))
		for i, v := range t.longData {
			res[i] = uint64(v)
		}
		return res, true
	case SHORT:
		res := make([]uint64, len(t.shortData))
		for i, v := range t.shortData {
			res[i] = uint64(v)
		}
		return res, true
	}
	return nil, false
}

func (td tagData) doubleDataValue() ([]float64, bool) {
	if td.fType == DOUBLE {
		return td.doubleData, true
	}
	return nil, false
}

// fieldTypeLen is the length of every field type in bytes
var fieldTypeLen = [...]uint32{
	zeroByte, oneByte, oneByte, twoByte, // 0-3
	fourByte, eightByte, oneByte, oneByte, // 4-7
	twoByte, fourByte, eightByte, fourByte, // 8-11
	eightByte, // 12 (DOUBLE)
	0, 0, 0,   // 13-15 (Reserved)
	eightByte, eightByte, eightByte, // 16-18 (LONG8, SLONG8, IFD8)
}

var fieldTypeToLabel = map[fieldType]string{
	BYTE:      "BYTE",
	ASCII:     "ASCII",
	SHORT:     "SHORT",
	LONG:      "LONG",
	RATIONAL:  "RATIONAL",
	SBYTE:     "SBYTE",
	UNDEFINED: "UNDEFINED",
	SSHORT:    "SSHORT",
	SLONG:     "SLONG",
	SRATIONAL: "SRATIONAL",
	FLOAT:     "FLOAT",
	DOUBLE:    "DOUBLE",
	LONG8:     "LONG8",
	SLONG8:    "SLONG8",
	IFD8:      "IFD8",
}

func (f fieldType) String() string {
	v, ok := fieldTypeToLabel[f]
	if !ok {
		return fmt.Sprintf("unrecognized field type %d", f)
	}
	return v
}

// bytes returns the number of bytes in each data type
//
// returns 0 if unrecognized
func (f fieldType) bytes() uint32 {
	if int(f) >= len(fieldTypeLen) {
		return fieldTypeLen[0]
	}
	return fieldTypeLen[int(f)]
}

func (t Tag) String() string {
	v, ok := tagToLabel[t]
	if !ok {
		return fmt.Sprintf("%d", t)
	}
	return v
}

// undoHorizontalPrediction reverses the horizontal differencing predictor on a
// little-endian integer tile.
func undoHorizontalPrediction(data []byte, d pixel.DataType, tileWidth, tileHeight int) error {
	switch d {
	case pixel.Byte:
		undoPrediction(data, pixel.Uint8Codec, tileWidth, tileHeight)
	case pixel.Int16:
		undoPrediction(data, pixel.Int16Codec, tileWidth, tileHeight)
	case pixel.UInt16:
		undoPrediction(data, pixel.Uint16Codec, tileWidth, tileHeight)
	case pixel.Int32:
		undoPrediction(data, pixel.Int32Codec, tileWidth, tileHeight)
	case pixel.UInt32:
		undoPrediction(data, pixel.Uint32Codec, tileWidth, tileHeight)
	default:
		return fmt.Errorf("horizontal predictor: %w: %v", pixel.ErrUnsupportedType, d)
	}
	return nil
}

func undoPrediction[T pixel.Number](data []byte, c pixel.Codec[T], tileWidth, tileHeight int) {
	for y := 0; y < tileHeight; y++ {
		rowStart := y * tileWidth
		if (rowStart+tileWidth)*c.Size() > len(data) {
			break
		}
		for x := 1; x < tileWidth; x++ {
			c.SetAt(data, rowStart+x, c.At(data, rowStart+x)+c.At(data, rowStart+x-1))
		}
	}
}

// isFinite is used by the writer to format the GDAL_NODATA tag.
func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/akhenakh/predraster/geometry"
	"github.com/akhenakh/predraster/pixel"
)

// Raster is an in-memory single band image with top-down little-endian rows.
type Raster struct {
	Width    int
	Height   int
	DataType pixel.DataType
	Data     []byte
	Bounds   geometry.Box
	NoData   *float64
	EPSG     int
}

// WriteOptions controls the layout of a written file.
type WriteOptions struct {
	TileWidth  int // multiple of 16, defaults to 256
	TileHeight int // multiple of 16, defaults to 256
	Compress   bool
	// Sparse leaves tiles holding only no-data out of the file.
	Sparse bool
}

type ifdField struct {
	tag   Tag
	typ   fieldType
	count int
	data  []byte
}

// Write encodes r as a tiled little-endian GeoTIFF.
func Write(w io.Writer, r *Raster, opts WriteOptions) error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("invalid raster size %dx%d", r.Width, r.Height)
	}
	if !r.DataType.Valid() {
		return fmt.Errorf("%w: %v", pixel.ErrUnsupportedType, r.DataType)
	}
	size := r.DataType.Size()
	if len(r.Data) != r.Width*r.Height*size {
		return fmt.Errorf("raster payload has %d bytes, %d expected", len(r.Data), r.Width*r.Height*size)
	}
	if opts.TileWidth == 0 {
		opts.TileWidth = 256
	}
	if opts.TileHeight == 0 {
		opts.TileHeight = 256
	}
	if opts.TileWidth%16 != 0 || opts.TileHeight%16 != 0 {
		return errors.New("tile dimensions must be multiples of 16")
	}
	if opts.Sparse && r.NoData == nil {
		return errors.New("sparse files need a no-data value")
	}

	bounds := r.Bounds
	if bounds.Empty() {
		bounds = geometry.NewBox(0, 0, float64(r.Width), float64(r.Height))
	}

	tw, tl := opts.TileWidth, opts.TileHeight
	across := (r.Width + tw - 1) / tw
	down := (r.Height + tl - 1) / tl

	var body bytes.Buffer
	body.Write(make([]byte, 8)) // header, filled in last
	offsets := make([]uint32, across*down)
	counts := make([]uint32, across*down)

	tileBuf := make([]byte, tw*tl*size)
	for row := 0; row < down; row++ {
		for col := 0; col < across; col++ {
			empty := fillTile(tileBuf, r, col*tw, row*tl, tw, tl)
			if opts.Sparse && empty {
				continue
			}
			encoded := tileBuf
			if opts.Compress {
				var zb bytes.Buffer
				zw := zlib.NewWriter(&zb)
				if _, err := zw.Write(tileBuf); err != nil {
					return err
				}
				if err := zw.Close(); err != nil {
					return err
				}
				encoded = zb.Bytes()
			}
			n := row*across + col
			offsets[n] = uint32(body.Len())
			counts[n] = uint32(len(encoded))
			body.Write(encoded)
		}
	}
	if body.Len()%2 == 1 {
		body.WriteByte(0)
	}

	format, bits := tiffSampleFormat(r.DataType)
	compression := uint16(Uncompressed)
	if opts.Compress {
		compression = DEFLATE
	}
	resX := bounds.Width() / float64(r.Width)
	resY := bounds.Height() / float64(r.Height)

	fields := []ifdField{
		longField(ImageWidth, uint32(r.Width)),
		longField(ImageLength, uint32(r.Height)),
		shortField(BitsPerSample, bits),
		shortField(Compression, compression),
		shortField(Photometric, 1),
		shortField(SamplesPerPixel, 1),
		shortField(PlanarConfig, 1),
		longField(TileWidth, uint32(tw)),
		longField(TileLength, uint32(tl)),
		longField(TileOffsets, offsets...),
		longField(TileByteCounts, counts...),
		shortField(SampleFormat, format),
		doubleField(ModelPixelScale, resX, resY, 0),
		doubleField(ModelTiepoint, 0, 0, 0, bounds.Min.X, bounds.Max.Y, 0),
	}
	if r.EPSG != 0 {
		fields = append(fields, geoKeysField(r.EPSG))
	}
	if r.NoData != nil {
		fields = append(fields, asciiField(GDALNoData, formatNoData(*r.NoData)))
	}
	slices.SortFunc(fields, func(a, b ifdField) int { return int(a.tag) - int(b.tag) })

	ifdOffset := uint32(body.Len())
	extraOffset := ifdOffset + uint32(2+12*len(fields)+4)

	var ifd, extra bytes.Buffer
	le := binary.LittleEndian
	binary.Write(&ifd, le, uint16(len(fields)))
	for _, f := range fields {
		binary.Write(&ifd, le, uint16(f.tag))
		binary.Write(&ifd, le, uint16(f.typ))
		binary.Write(&ifd, le, uint32(f.count))
		if len(f.data) <= 4 {
			value := make([]byte, 4)
			copy(value, f.data)
			ifd.Write(value)
			continue
		}
		binary.Write(&ifd, le, extraOffset+uint32(extra.Len()))
		extra.Write(f.data)
		if extra.Len()%2 == 1 {
			extra.WriteByte(0)
		}
	}
	binary.Write(&ifd, le, uint32(0)) // no next IFD

	out := body.Bytes()
	le.PutUint16(out[0:], littleEndian)
	le.PutUint16(out[2:], tiffIdentifier)
	le.PutUint32(out[4:], ifdOffset)

	for _, b := range [][]byte{out, ifd.Bytes(), extra.Bytes()} {
		if _, err := w.Write(b); err != nil {
			return err
		}
	}
	return nil
}

// fillTile copies the part of r covered by the tile at (x0, y0) into buf, padding with
// no-data (or zero), and reports whether the tile only holds no-data.
func fillTile(buf []byte, r *Raster, x0, y0, tw, tl int) bool {
	size := r.DataType.Size()
	pad := 0.0
	if r.NoData != nil {
		pad = *r.NoData
	}
	pixel.Fill(buf, r.DataType, pad)

	empty := true
	w := min(tw, r.Width-x0)
	h := min(tl, r.Height-y0)
	for y := 0; y < h; y++ {
		src := r.Data[((y0+y)*r.Width+x0)*size : ((y0+y)*r.Width+x0+w)*size]
		copy(buf[y*tw*size:], src)
		if empty && r.NoData != nil {
			for x := 0; x < w; x++ {
				if v := pixel.Value(src, r.DataType, x); v != *r.NoData {
					empty = false
					break
				}
			}
		}
	}
	return empty && r.NoData != nil
}

func tiffSampleFormat(d pixel.DataType) (format, bits uint16) {
	switch d {
	case pixel.Byte, pixel.UInt16, pixel.UInt32:
		format = SampleFormatUint
	case pixel.Int16, pixel.Int32:
		format = SampleFormatInt
	default:
		format = SampleFormatFloat
	}
	return format, uint16(d.Size() * 8)
}

func formatNoData(v float64) string {
	if !isFinite(v) {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func shortField(tag Tag, values ...uint16) ifdField {
	data := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(data[2*i:], v)
	}
	return ifdField{tag: tag, typ: SHORT, count: len(values), data: data}
}

func longField(tag Tag, values ...uint32) ifdField {
	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[4*i:], v)
	}
	return ifdField{tag: tag, typ: LONG, count: len(values), data: data}
}

func doubleField(tag Tag, values ...float64) ifdField {
	data := make([]byte, 8*len(values))
	for i, v := range values {
		pixel.Float64Codec.SetAt(data, i, v)
	}
	return ifdField{tag: tag, typ: DOUBLE, count: len(values), data: data}
}

func asciiField(tag Tag, s string) ifdField {
	data := append([]byte(s), 0)
	return ifdField{tag: tag, typ: ASCII, count: len(data), data: data}
}

func geoKeysField(epsg int) ifdField {
	const (
		gtModelTypeGeoKey = 1024
		modelProjected    = 1
		modelGeographic   = 2
	)
	model, key := uint16(modelProjected), uint16(projectedCSTypeKey)
	if epsg >= 4000 && epsg < 5000 {
		model, key = modelGeographic, geographicTypeGeoKey
	}
	return shortField(GeoKeyDirectory,
		1, 1, 0, 2,
		gtModelTypeGeoKey, 0, 1, model,
		key, 0, 1, uint16(epsg),
	)
}

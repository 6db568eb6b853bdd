package dataset

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akhenakh/predraster/crs"
	"github.com/akhenakh/predraster/descriptor"
	"github.com/akhenakh/predraster/geometry"
	"github.com/akhenakh/predraster/geotiff"
	"github.com/akhenakh/predraster/pixel"
	"github.com/akhenakh/predraster/render"
)

const (
	testWKT = `PROJCS["OSGB 1936 / British National Grid"]`

	twoBlocks = `a 0 4 0 4 2 0 1 2 3
b 2 4 0 2 1 10 12 14 16
`
)

// writeSection writes a 40x20 raster at resolution 5 with pixel (x, y) = y*100+x and
// the bottom-right 16x16 tile left sparse.
func writeSection(t *testing.T, path string, d pixel.DataType) {
	t.Helper()
	nd := -9999.0
	r := &geotiff.Raster{
		Width:    40,
		Height:   20,
		DataType: d,
		Data:     make([]byte, d.BufferSize(40*20)),
		Bounds:   geometry.NewBox(1000, 2000, 1200, 2100),
		NoData:   &nd,
		EPSG:     27700,
	}
	for y := 0; y < 20; y++ {
		for x := 0; x < 40; x++ {
			v := float64(y*100 + x)
			if x >= 32 && y >= 16 {
				v = nd
			}
			pixel.SetValue(r.Data, d, y*40+x, v)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, geotiff.Write(&buf, r, geotiff.WriteOptions{TileWidth: 16, TileHeight: 16, Sparse: true}))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

// writePrediction writes a descriptor over two sections, a float32 path loss and an
// int16 angle, with a 30 m radius around (1100, 2050).
func writePrediction(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	writeSection(t, filepath.Join(dir, "pathloss.tif"), pixel.Float32)
	writeSection(t, filepath.Join(dir, "angle.tif"), pixel.Int16)

	path := filepath.Join(dir, "site.gap")
	content := `{
  "api": {"sections": {"0": "pathloss.tif", "1": "angle.tif"}},
  "prediction": {"xCm": 110000, "yCm": 205000, "radiusCm": 3000, "resolutionCm": 500},
  "meta": {"": {"SITE": "north"}, "RADIO": {"BAND": "1800"}},
  "comment": "imported",
  "azimuth": 120` + extra + `
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func openPredictionDataset(t *testing.T, extra string) *Dataset {
	t.Helper()
	ds, err := Open(context.Background(), writePrediction(t, extra), Options{
		CRS: crs.NewCache(crs.Static{27700: testWKT}),
	})
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })
	return ds
}

func TestOpenPrediction(t *testing.T) {
	ds := openPredictionDataset(t, "")

	assert.Equal(t, Prediction, ds.Kind())
	w, h := ds.Size()
	assert.Equal(t, 40, w)
	assert.Equal(t, 20, h)
	assert.Equal(t, [6]float64{1000, 5, 0, 2100, 0, -5}, ds.GeoTransform())
	assert.Equal(t, geometry.NewBox(1000, 2000, 1200, 2100), ds.Bounds())
	assert.Equal(t, 27700, ds.EPSG())

	projection, err := ds.Projection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testWKT, projection)

	extent, err := ds.ExtentWKT()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(extent, "POLYGON"), extent)
	assert.Contains(t, extent, "1200 2100")

	assert.Equal(t, []string{DefaultMetadataDomain, "RADIO"}, ds.MetadataDomains())
	assert.Equal(t, []string{"SITE=north", "azimuth=120", "comment=imported"}, ds.Metadata(DefaultMetadataDomain))
	band, ok := ds.MetadataItem("BAND", "RADIO")
	assert.True(t, ok)
	assert.Equal(t, "1800", band)

	require.Len(t, ds.Bands(), 2)
	b1, ok := ds.Band(1)
	require.True(t, ok)
	assert.Equal(t, 0, b1.Section())
	assert.Equal(t, pixel.Float32, b1.DataType())
	b2, ok := ds.Band(2)
	require.True(t, ok)
	assert.Equal(t, 1, b2.Section())
	assert.Equal(t, pixel.Int16, b2.DataType())
	assert.Equal(t, ColorInterpretation, b2.ColorInterpretation())

	bw, bh := b2.BlockSize()
	assert.Equal(t, 16, bw)
	assert.Equal(t, 16, bh)
	across, down := b2.BlockCount()
	assert.Equal(t, 3, across)
	assert.Equal(t, 2, down)

	nd, ok := b2.NoData()
	assert.True(t, ok)
	assert.Equal(t, -9999.0, nd)
}

func TestSectionSelection(t *testing.T) {
	ds := openPredictionDataset(t, `, "section": 1`)
	require.Len(t, ds.Bands(), 1)
	assert.Equal(t, 2, ds.Bands()[0].Index())
}

func TestAutocomplete(t *testing.T) {
	path := writePrediction(t, `, "auxiliary": "autocomplete"`)
	ds, err := Open(context.Background(), path, Options{CRS: crs.NewCache(crs.Static{})})
	require.NoError(t, err)
	defer ds.Close()
	assert.Equal(t, 27700, ds.EPSG())

	d, err := descriptor.Load(path)
	require.NoError(t, err)
	require.NotNil(t, d.Auxiliary)
	assert.False(t, d.Autocomplete)
	assert.Equal(t, 27700, d.Auxiliary.EPSG)
	assert.Len(t, d.Auxiliary.Sections, 2)

	var raw map[string]any
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "imported", raw["comment"])
}

func TestReadPredictionBlock(t *testing.T) {
	ctx := context.Background()
	ds := openPredictionDataset(t, "")
	pathLoss, _ := ds.Band(1)
	angle, _ := ds.Band(2)
	buf := make([]byte, 16*16*4)

	found, err := angle.ReadBlock(ctx, 0, 0, buf)
	require.NoError(t, err)
	assert.True(t, found)
	values := pixel.Int16Codec.Decode(buf[:16*16*2])
	// rows 0 to 3 lie beyond the radius
	for x := 0; x < 16; x++ {
		assert.Equal(t, int16(-9999), values[3*16+x])
	}
	// row 9 keeps columns 14 and 15
	row := values[9*16 : 10*16]
	for x := 0; x < 14; x++ {
		assert.Equal(t, int16(-9999), row[x], "column %d", x)
	}
	assert.Equal(t, []int16{914, 915}, row[14:])

	found, err = pathLoss.ReadBlock(ctx, 0, 0, buf)
	require.NoError(t, err)
	assert.True(t, found)
	losses := pixel.Float32Codec.Decode(buf)
	// clamped to the valid path loss range
	assert.Equal(t, []float32{200, 200}, losses[9*16+14:9*16+16])

	// reading twice gives the same block
	again := make([]byte, len(buf))
	_, err = pathLoss.ReadBlock(ctx, 0, 0, again)
	require.NoError(t, err)
	assert.Equal(t, buf, again)

	found, err = angle.ReadBlock(ctx, 2, 1, buf)
	require.NoError(t, err)
	assert.False(t, found)
	for _, v := range pixel.Int16Codec.Decode(buf[:16*16*2]) {
		require.Equal(t, int16(-9999), v)
	}

	angle.SetNoData(-1)
	_, err = angle.ReadBlock(ctx, 2, 1, buf)
	require.NoError(t, err)
	assert.Equal(t, int16(-1), pixel.Int16Codec.At(buf, 0))

	_, err = angle.ReadBlock(ctx, 3, 0, buf)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = angle.ReadBlock(ctx, 0, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestReadPredictionRegion(t *testing.T) {
	ds := openPredictionDataset(t, "")
	angle, _ := ds.Band(2)

	dst := make([]byte, 8*4*2)
	err := angle.ReadRegion(context.Background(), Window{
		XSize: 40, YSize: 20, BufWidth: 8, BufHeight: 4, BufType: pixel.Int16,
	}, dst)
	require.NoError(t, err)

	got := pixel.Int16Codec.Decode(dst)
	for j := 0; j < 4; j++ {
		for i := 0; i < 8; i++ {
			// output rows go up from the bottom of the raster, in steps of 5 pixels
			row, col := 17-5*j, 5*i+2
			want := int16(row*100 + col)
			if row >= 16 && col >= 32 {
				want = -9999
			}
			assert.Equal(t, want, got[j*8+i], "pixel %d,%d", i, j)
		}
	}
}

func openIndexDataset(t *testing.T, blockSize int) *Dataset {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.txt"), []byte(twoBlocks), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "menu.txt"), []byte("0 Open\n1 Forest\n"), 0o644))
	ds, err := Open(context.Background(), filepath.Join(dir, "index.txt"), Options{
		CRS:       crs.NewCache(crs.Static{}),
		BlockSize: blockSize,
	})
	require.NoError(t, err)
	return ds
}

func TestOpenIndex(t *testing.T) {
	ds := openIndexDataset(t, 0)

	assert.Equal(t, Index, ds.Kind())
	w, h := ds.Size()
	assert.Equal(t, 4, w)
	assert.Equal(t, 4, h)
	assert.Equal(t, [6]float64{0, 1, 0, 0, 0, 1}, ds.GeoTransform())
	assert.Equal(t, []string{"1m=1 blocks", "2m=1 blocks"}, ds.Metadata(ResolutionsDomain))

	projection, err := ds.Projection(context.Background())
	require.NoError(t, err)
	assert.Empty(t, projection)

	require.Len(t, ds.Bands(), 1)
	b := ds.Bands()[0]
	assert.Equal(t, 1, b.Index())
	assert.Equal(t, pixel.Int16, b.DataType())
	assert.Equal(t, []string{"Open", "Forest"}, b.CategoryNames())
	bw, bh := b.BlockSize()
	assert.Equal(t, 256, bw)
	assert.Equal(t, 256, bh)
	nd, ok := b.NoData()
	assert.True(t, ok)
	assert.Equal(t, -9999.0, nd)
}

func TestReadIndexBlock(t *testing.T) {
	ctx := context.Background()
	b := openIndexDataset(t, 3).Bands()[0]
	buf := make([]byte, 3*3*2)

	found, err := b.ReadBlock(ctx, 0, 0, buf)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []int16{2, 2, 14, 2, 2, 10, 0, 0, 1}, pixel.Int16Codec.Decode(buf))

	// a partial tile only overwrites the top-left corner
	pixel.Int16Codec.Fill(buf, 77)
	found, err = b.ReadBlock(ctx, 1, 1, buf)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []int16{1, 77, 77, 77, 77, 77, 77, 77, 77}, pixel.Int16Codec.Decode(buf))
}

func TestReadIndexRegion(t *testing.T) {
	b := openIndexDataset(t, 0).Bands()[0]

	testCases := []struct {
		name    string
		window  Window
		want    []int16
		wantErr error
	}{
		{
			name:   "full extent bilinear",
			window: Window{XSize: 4, YSize: 4, BufWidth: 2, BufHeight: 2, BufType: pixel.Int16, Algorithm: render.Bilinear},
			want:   []int16{2, 13, 0, 1},
		},
		{
			name:   "sub window",
			window: Window{XOff: 2, YOff: 1, XSize: 2, YSize: 3, BufWidth: 2, BufHeight: 3, BufType: pixel.Int16},
			want:   []int16{10, 12, 1, 1, 1, 1},
		},
		{
			name:   "contiguous spacing",
			window: Window{XOff: 2, YOff: 1, XSize: 2, YSize: 3, BufWidth: 2, BufHeight: 3, BufType: pixel.Int16, PixelSpace: 2, LineSpace: 4},
			want:   []int16{10, 12, 1, 1, 1, 1},
		},
		{
			name:    "non uniform resolution",
			window:  Window{XSize: 4, YSize: 4, BufWidth: 2, BufHeight: 1, BufType: pixel.Int16},
			wantErr: ErrNonUniformResolution,
		},
		{
			name:    "write",
			window:  Window{XSize: 4, YSize: 4, BufWidth: 2, BufHeight: 2, BufType: pixel.Int16, Write: true},
			wantErr: ErrReadOnly,
		},
		{
			name:    "other buffer type",
			window:  Window{XSize: 4, YSize: 4, BufWidth: 2, BufHeight: 2, BufType: pixel.Float32},
			wantErr: ErrUnsupportedBuffer,
		},
		{
			name:    "pixel spacing",
			window:  Window{XSize: 4, YSize: 4, BufWidth: 2, BufHeight: 2, BufType: pixel.Int16, PixelSpace: 4},
			wantErr: ErrUnsupportedBuffer,
		},
		{
			name:    "line spacing",
			window:  Window{XSize: 4, YSize: 4, BufWidth: 2, BufHeight: 2, BufType: pixel.Int16, LineSpace: 8},
			wantErr: ErrUnsupportedBuffer,
		},
		{
			name:    "empty window",
			window:  Window{XSize: 0, YSize: 4, BufWidth: 2, BufHeight: 2, BufType: pixel.Int16},
			wantErr: ErrInvalidArgument,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dst := make([]byte, 2*4*4)
			err := b.ReadRegion(context.Background(), tc.window, dst)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			n := tc.window.BufWidth * tc.window.BufHeight
			assert.Equal(t, tc.want, pixel.Int16Codec.Decode(dst[:2*n]))
		})
	}
}

func TestOpenErrors(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, writePrediction(t, ""), Options{Access: Update})
	assert.ErrorIs(t, err, ErrReadOnly)

	other := filepath.Join(t.TempDir(), "raster.tif")
	require.NoError(t, os.WriteFile(other, []byte("II*\x00"), 0o644))
	_, err = Open(ctx, other, Options{})
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestNoDataOverride(t *testing.T) {
	b := &Band{}
	v, ok := b.NoData()
	assert.False(t, ok)
	assert.True(t, math.IsNaN(v))
	b.SetNoData(3)
	v, ok = b.NoData()
	assert.True(t, ok)
	assert.Equal(t, 3.0, v)
}

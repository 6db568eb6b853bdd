// geotiff/geotiff_test.go

package geotiff

import (
	"bytes"
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gocloud.dev/blob/memblob"

	"github.com/akhenakh/predraster/geometry"
	"github.com/akhenakh/predraster/pixel"
)

// floatEquals compares two values with a small tolerance (epsilon).
func floatEquals(a, b float64) bool {
	const epsilon = 1e-4
	return math.Abs(a-b) < epsilon
}

// testRaster returns a width x height raster whose pixel (x, y) holds y*100+x.
func testRaster(t *testing.T, d pixel.DataType, width, height int) *Raster {
	t.Helper()
	r := &Raster{
		Width:    width,
		Height:   height,
		DataType: d,
		Data:     make([]byte, width*height*d.Size()),
		Bounds:   geometry.NewBox(1000, 2000, 1000+float64(width)*5, 2000+float64(height)*5),
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			pixel.SetValue(r.Data, d, y*width+x, float64(y*100+x))
		}
	}
	return r
}

func encode(t *testing.T, r *Raster, opts WriteOptions) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := Write(&buf, r, opts); err != nil {
		t.Fatalf("Write() returned an unexpected error: %v", err)
	}
	return buf.Bytes()
}

func TestOpenMetadata(t *testing.T) {
	noData := -9999.0
	r := testRaster(t, pixel.Int16, 40, 20)
	r.NoData = &noData
	r.EPSG = 27700

	geo, err := Open(bytes.NewReader(encode(t, r, WriteOptions{TileWidth: 16, TileHeight: 16})))
	if err != nil {
		t.Fatalf("failed to open GeoTIFF: %v", err)
	}

	if w, h := geo.Size(); w != 40 || h != 20 {
		t.Errorf("Size() = %dx%d, want 40x20", w, h)
	}
	if w, h := geo.TileSize(); w != 16 || h != 16 {
		t.Errorf("TileSize() = %dx%d, want 16x16", w, h)
	}
	if across, down := geo.TileGrid(); across != 3 || down != 2 {
		t.Errorf("TileGrid() = %dx%d, want 3x2", across, down)
	}
	if geo.DataType() != pixel.Int16 {
		t.Errorf("DataType() = %v, want Int16", geo.DataType())
	}
	if !floatEquals(geo.Resolution(), 5) {
		t.Errorf("Resolution() = %f, want 5", geo.Resolution())
	}
	if v, ok := geo.NoData(); !ok || v != -9999 {
		t.Errorf("NoData() = %v, %v, want -9999, true", v, ok)
	}
	if code, ok := geo.EPSG(); !ok || code != 27700 {
		t.Errorf("EPSG() = %d, %v, want 27700, true", code, ok)
	}

	bounds, err := geo.Bounds()
	if err != nil {
		t.Fatalf("Bounds() returned an unexpected error: %v", err)
	}
	if !floatEquals(bounds.Min.X, 1000) || !floatEquals(bounds.Min.Y, 2000) ||
		!floatEquals(bounds.Max.X, 1200) || !floatEquals(bounds.Max.Y, 2100) {
		t.Errorf("Bounds() returned incorrect values. Got %s", bounds)
	}
}

func TestTile(t *testing.T) {
	testCases := []struct {
		name     string
		dataType pixel.DataType
		compress bool
	}{
		{name: "byte", dataType: pixel.Byte},
		{name: "int16 deflate", dataType: pixel.Int16, compress: true},
		{name: "uint16", dataType: pixel.UInt16},
		{name: "int32 deflate", dataType: pixel.Int32, compress: true},
		{name: "uint32", dataType: pixel.UInt32},
		{name: "float32 deflate", dataType: pixel.Float32, compress: true},
		{name: "float64", dataType: pixel.Float64},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// values stay below 256 so that every type can hold them
			r := testRaster(t, tc.dataType, 20, 2)
			geo, err := Open(bytes.NewReader(encode(t, r, WriteOptions{TileWidth: 16, TileHeight: 16, Compress: tc.compress})))
			if err != nil {
				t.Fatalf("failed to open GeoTIFF: %v", err)
			}

			full, err := geo.Tile(0, 0)
			if err != nil {
				t.Fatalf("Tile(0, 0) returned an unexpected error: %v", err)
			}
			if full.Width != 16 || full.Height != 2 || full.X0 != 0 {
				t.Errorf("Tile(0, 0) region = %d+%dx%d, want 0+16x2", full.X0, full.Width, full.Height)
			}
			if got := pixel.Value(full.Data, tc.dataType, 16+3); got != 103 {
				t.Errorf("Tile(0, 0) pixel (3, 1) = %v, want 103", got)
			}

			partial, err := geo.Tile(1, 0)
			if err != nil {
				t.Fatalf("Tile(1, 0) returned an unexpected error: %v", err)
			}
			if partial.Width != 4 || partial.Height != 2 || partial.X0 != 16 {
				t.Errorf("Tile(1, 0) region = %d+%dx%d, want 16+4x2", partial.X0, partial.Width, partial.Height)
			}
			if got := pixel.Value(partial.Data, tc.dataType, 4+2); got != 118 {
				t.Errorf("Tile(1, 0) pixel (2, 1) = %v, want 118", got)
			}
		})
	}
}

func TestSparseTile(t *testing.T) {
	noData := 0.0
	r := &Raster{Width: 32, Height: 16, DataType: pixel.Byte, Data: make([]byte, 32*16), NoData: &noData}
	for y := 0; y < 16; y++ {
		r.Data[y*32+20] = 7
	}

	geo, err := Open(bytes.NewReader(encode(t, r, WriteOptions{TileWidth: 16, TileHeight: 16, Sparse: true})))
	if err != nil {
		t.Fatalf("failed to open GeoTIFF: %v", err)
	}

	if _, err := geo.Tile(0, 0); err != ErrSparseTile {
		t.Errorf("Tile(0, 0) error = %v, want ErrSparseTile", err)
	}
	if _, err := geo.Tile(1, 0); err != nil {
		t.Errorf("Tile(1, 0) returned an unexpected error: %v", err)
	}
	if _, err := geo.Tile(2, 0); err == nil || !strings.Contains(err.Error(), "outside") {
		t.Errorf("Tile(2, 0) error = %v, want an out of grid error", err)
	}
}

func TestValue(t *testing.T) {
	geo, err := Open(bytes.NewReader(encode(t, testRaster(t, pixel.Float32, 33, 17), WriteOptions{TileWidth: 16, TileHeight: 16})),
		WithCache(16, 4), WithPrefetch(true))
	if err != nil {
		t.Fatalf("failed to open GeoTIFF: %v", err)
	}

	testCases := []struct {
		name    string
		x, y    int
		want    float64
		wantErr bool
	}{
		{name: "first pixel", x: 0, y: 0, want: 0},
		{name: "inside second tile row", x: 17, y: 16, want: 1617},
		{name: "last pixel", x: 32, y: 16, want: 1632},
		{name: "outside", x: 33, y: 0, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := geo.Value(tc.x, tc.y)
			if tc.wantErr {
				if err == nil {
					t.Errorf("Value(%d, %d) expected an error, but got none", tc.x, tc.y)
				}
				return
			}
			if err != nil {
				t.Fatalf("Value(%d, %d) returned an unexpected error: %v", tc.x, tc.y, err)
			}
			if !floatEquals(got, tc.want) {
				t.Errorf("Value(%d, %d) = %f, want %f", tc.x, tc.y, got, tc.want)
			}
		})
	}
}

func TestUndoHorizontalPrediction(t *testing.T) {
	data := make([]byte, 8)
	pixel.Int16Codec.Encode(data, []int16{5, 1, 1, -2})
	if err := undoHorizontalPrediction(data, pixel.Int16, 4, 1); err != nil {
		t.Fatalf("undoHorizontalPrediction() returned an unexpected error: %v", err)
	}
	got := pixel.Int16Codec.Decode(data)
	want := []int16{5, 6, 7, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}

	if err := undoHorizontalPrediction(data, pixel.Float32, 2, 1); err == nil {
		t.Error("undoHorizontalPrediction() on floats expected an error, but got none")
	}
}

func TestOpenSource(t *testing.T) {
	payload := encode(t, testRaster(t, pixel.UInt16, 16, 16), WriteOptions{TileWidth: 16, TileHeight: 16})
	path := filepath.Join(t.TempDir(), "section0.tif")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatal(err)
	}

	for _, location := range []string{path, "file://" + path} {
		t.Run(location, func(t *testing.T) {
			src, closeFn, err := OpenSource(context.Background(), location)
			if err != nil {
				t.Fatalf("OpenSource(%q) returned an unexpected error: %v", location, err)
			}
			defer closeFn()

			geo, err := Open(src)
			if err != nil {
				t.Fatalf("failed to open GeoTIFF: %v", err)
			}
			if v, err := geo.Value(3, 2); err != nil || v != 203 {
				t.Errorf("Value(3, 2) = %v, %v, want 203", v, err)
			}
		})
	}
}

func TestBlobReader(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	payload := encode(t, testRaster(t, pixel.Byte, 16, 16), WriteOptions{TileWidth: 16, TileHeight: 16})
	if err := bucket.WriteAll(ctx, "pred/section0.tif", payload, nil); err != nil {
		t.Fatal(err)
	}

	r, err := NewBlobReader(ctx, bucket, "pred/section0.tif")
	if err != nil {
		t.Fatalf("NewBlobReader() returned an unexpected error: %v", err)
	}
	if r.Size() != int64(len(payload)) {
		t.Errorf("Size() = %d, want %d", r.Size(), len(payload))
	}
	geo, err := Open(r)
	if err != nil {
		t.Fatalf("failed to open GeoTIFF: %v", err)
	}
	if v, err := geo.Value(5, 1); err != nil || v != 105 {
		t.Errorf("Value(5, 1) = %v, %v, want 105", v, err)
	}
}

func TestHTTPRangeReader(t *testing.T) {
	payload := encode(t, testRaster(t, pixel.Int32, 20, 20), WriteOptions{TileWidth: 16, TileHeight: 16, Compress: true})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "pred.tif", time.Time{}, bytes.NewReader(payload))
	}))
	defer srv.Close()

	r, err := NewHTTPRangeReader(context.Background(), srv.URL+"/pred.tif", srv.Client())
	if err != nil {
		t.Fatalf("NewHTTPRangeReader() returned an unexpected error: %v", err)
	}
	geo, err := Open(r)
	if err != nil {
		t.Fatalf("failed to open GeoTIFF: %v", err)
	}
	if v, err := geo.Value(19, 18); err != nil || v != 1819 {
		t.Errorf("Value(19, 18) = %v, %v, want 1819", v, err)
	}
}

func TestProfile(t *testing.T) {
	geo, err := Open(bytes.NewReader(encode(t, testRaster(t, pixel.Int16, 40, 20), WriteOptions{TileWidth: 16, TileHeight: 16})))
	if err != nil {
		t.Fatalf("failed to open GeoTIFF: %v", err)
	}

	profile, err := geo.Profile([]geometry.Point{geometry.Pt(1002.5, 2097.5), geometry.Pt(1022.5, 2097.5), geometry.Pt(1022.5, 2087.5)})
	if err != nil {
		t.Fatalf("Profile() returned an unexpected error: %v", err)
	}
	want := []float64{0, 1, 2, 3, 4, 104, 204}
	if len(profile) != len(want) {
		t.Fatalf("Profile() returned %d samples, want %d", len(profile), len(want))
	}
	for i, s := range profile {
		if s.Value != want[i] {
			t.Errorf("sample %d = %v, want %v", i, s.Value, want[i])
		}
	}
	if last := profile[len(profile)-1].At; !floatEquals(last.X, 1022.5) || !floatEquals(last.Y, 2087.5) {
		t.Errorf("last sample centre = %s, want (1022.5, 2087.5)", last)
	}

	if _, err := geo.Profile([]geometry.Point{geometry.Pt(0, 0), geometry.Pt(1, 1)}); err == nil {
		t.Error("Profile() outside the image expected an error, but got none")
	}
}

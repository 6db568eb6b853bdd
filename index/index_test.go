package index

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akhenakh/predraster/geometry"
	"github.com/akhenakh/predraster/pixel"
	"github.com/akhenakh/predraster/render"
	"github.com/akhenakh/predraster/tile"
)

const twoBlocks = `a 0 4 0 4 2 0 1 2 3
b 2 4 0 2 1 10 12 14 16
`

func load(t *testing.T, files fstest.MapFS) (*Index, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	ix, err := Load(files, "data/index.txt", slog.New(slog.NewTextHandler(&logs, nil)))
	require.NoError(t, err)
	return ix, &logs
}

func TestLoad(t *testing.T) {
	payload := make([]byte, 3*2)
	pixel.Int16Codec.Encode(payload, []int16{7, 8, 9})

	ix, logs := load(t, fstest.MapFS{
		"data/index.txt": {Data: []byte(twoBlocks + `
# comment
c 4 6 0 4 1
d 0 3 0 2 2 1 2 3
e 0 x 0 2 1 1 2
f 6 8 0 2 1
g 0 2 0 2 1 1 2 3
`)},
		"data/c":        {Data: make([]byte, 8*2)},
		"data/f":        {Data: payload},
		"data/menu.txt": {Data: []byte("0 Unclassified\n3 Dense urban\n")},
	})

	require.Equal(t, 3, ix.Len())
	names := []string{ix.Blocks()[0].Name, ix.Blocks()[1].Name, ix.Blocks()[2].Name}
	assert.Equal(t, []string{"a", "b", "c"}, names)
	assert.Equal(t, []int16{10, 12, 14, 16}, ix.Blocks()[1].Values)
	assert.Equal(t, 2, ix.Blocks()[2].Width)
	assert.Equal(t, 4, ix.Blocks()[2].Height)

	// d is not a multiple of its resolution, e does not parse, f holds too few bytes
	// and g too few values
	for _, line := range []string{"line=6", "line=7", "line=8", "line=9"} {
		assert.Contains(t, logs.String(), line)
	}

	assert.Equal(t, geometry.NewBox(0, 0, 6, 4), ix.Bounds())
	w, h := ix.RasterSize()
	assert.Equal(t, 6, w)
	assert.Equal(t, 4, h)

	assert.Equal(t, []string{"Unclassified", "", "", "Dense urban"}, ix.Categories())

	res := ix.Resolutions()
	require.Equal(t, 2, res.Len())
	first := res.Oldest()
	assert.Equal(t, "1m", first.Key)
	assert.Equal(t, "2 blocks", first.Value)
	assert.Equal(t, "2m", first.Next().Key)
	assert.Equal(t, "1 blocks", first.Next().Value)
}

func TestLoadWithoutBlocks(t *testing.T) {
	_, err := Load(fstest.MapFS{"index.txt": {Data: []byte("broken line\n")}}, "index.txt", nil)
	assert.Error(t, err)
}

func TestRender(t *testing.T) {
	ix, _ := load(t, fstest.MapFS{"data/index.txt": {Data: []byte(twoBlocks)}})
	r := &render.Renderer{Source: ix, DataType: pixel.Int16, NoData: NoData}

	testCases := []struct {
		name string
		req  render.Request
		want []int16
	}{
		{
			name: "full extent bilinear",
			req:  render.Request{Width: 2, Height: 2, Resolution: 2, Downsampling: render.Bilinear, Upsampling: render.Bilinear},
			want: []int16{2, 13, 0, 1},
		},
		{
			name: "sub box nearest",
			req:  render.Request{Width: 2, Height: 3, Resolution: 1, BottomLeft: geometry.Pt(2, 1)},
			want: []int16{10, 12, 1, 1, 1, 1},
		},
		{
			name: "outside",
			req:  render.Request{Width: 1, Height: 1, Resolution: 1, BottomLeft: geometry.Pt(10, 10)},
			want: []int16{NoData},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dst := make([]byte, 2*tc.req.Width*tc.req.Height)
			require.NoError(t, r.Render(context.Background(), dst, tc.req))
			assert.Equal(t, tc.want, pixel.Int16Codec.Decode(dst))
		})
	}
}

func TestSource(t *testing.T) {
	ctx := context.Background()
	ix, _ := load(t, fstest.MapFS{"data/index.txt": {Data: []byte(twoBlocks)}})

	testCases := []struct {
		name          string
		blockSize     int
		col, row      int
		width, height int
		want          []int16
		wantErr       error
	}{
		{name: "fine block", blockSize: 2, col: 1, row: 0, width: 2, height: 2, want: []int16{14, 16, 10, 12}},
		{name: "coarse block", blockSize: 2, col: 0, row: 1, width: 2, height: 2, want: []int16{0, 0, 0, 0}},
		{name: "partial block", blockSize: 3, col: 1, row: 1, width: 1, height: 1, want: []int16{1}},
		{name: "mixed block", blockSize: 3, col: 0, row: 0, width: 3, height: 3, want: []int16{2, 2, 14, 2, 2, 10, 0, 0, 1}},
		{name: "outside", blockSize: 2, col: 2, row: 0, wantErr: tile.ErrNotFound},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NewSource(ix, tc.blockSize, tc.blockSize).Tile(ctx, tc.col, tc.row)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.BottomUp)
			assert.Equal(t, tc.width, got.Width)
			assert.Equal(t, tc.height, got.Height)
			assert.Equal(t, tc.want, pixel.Int16Codec.Decode(got.Data))
		})
	}
}

func TestIdentify(t *testing.T) {
	dir := t.TempDir()
	index := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(index, []byte("\n"+twoBlocks), 0o644))
	other := filepath.Join(dir, "other.txt")
	require.NoError(t, os.WriteFile(other, []byte(twoBlocks), 0o644))
	broken := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(broken, []byte("not an index\n"), 0o644))

	assert.True(t, Identify(index))
	assert.False(t, Identify(other))
	assert.False(t, Identify(broken))
	assert.False(t, Identify(filepath.Join(dir, "missing", FileName)))

	ix, err := Open(index, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, ix.Len())
}

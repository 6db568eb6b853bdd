package render

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akhenakh/predraster/geometry"
	"github.com/akhenakh/predraster/pixel"
	"github.com/akhenakh/predraster/tile"
)

type setQuerier struct{ *tile.Set }

func (q setQuerier) Query(_ context.Context, area geometry.Box) ([]*tile.Tile, error) {
	return q.Set.Query(area), nil
}

type errQuerier struct{ err error }

func (q errQuerier) Query(context.Context, geometry.Box) ([]*tile.Tile, error) { return nil, q.err }

// quad is a 2x2 top-down tile at resolution 2 over (0,0)-(4,4).
func quad(vals ...float32) setQuerier {
	data := make([]byte, 4*len(vals))
	pixel.Float32Codec.Encode(data, vals)
	t := &tile.Tile{Bounds: geometry.NewBox(0, 0, 4, 4), Resolution: 2, Width: 2, Height: 2, DataType: pixel.Float32, Data: data}
	return setQuerier{tile.NewSet([]*tile.Tile{t})}
}

func TestRender(t *testing.T) {
	testCases := []struct {
		name   string
		source tile.Querier
		req    Request
		want   []float32
	}{
		{
			name:   "nearest upsampling, rows bottom-up",
			source: quad(0, 1, 2, 3),
			req:    Request{Width: 4, Height: 4, Resolution: 1},
			want:   []float32{2, 2, 3, 3, 2, 2, 3, 3, 0, 0, 1, 1, 0, 0, 1, 1},
		},
		{
			name:   "bilinear between the four samples",
			source: quad(0, 1, 2, 3),
			req:    Request{Width: 1, Height: 1, Resolution: 2, BottomLeft: geometry.Pt(1, 1), Downsampling: Bilinear},
			want:   []float32{1.5},
		},
		{
			name:   "upsampling algorithm used for finer requests",
			source: quad(0, 1, 2, 3),
			req:    Request{Width: 1, Height: 1, Resolution: 1, BottomLeft: geometry.Pt(1.5, 1.5), Downsampling: Bilinear},
			want:   []float32{3},
		},
		{
			name:   "bilinear falls back to nearest next to no-data",
			source: quad(0, 1, 2, -9999),
			req:    Request{Width: 1, Height: 1, Resolution: 1, BottomLeft: geometry.Pt(1, 2), Upsampling: Bilinear},
			want:   []float32{0},
		},
		{
			name:   "outside the tiles",
			source: quad(0, 1, 2, 3),
			req:    Request{Width: 2, Height: 1, Resolution: 2, BottomLeft: geometry.Pt(2, 0)},
			want:   []float32{3, -9999},
		},
		{
			name:   "source without tiles",
			source: errQuerier{err: tile.ErrNotFound},
			req:    Request{Width: 1, Height: 1, Resolution: 1},
			want:   []float32{-9999},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := &Renderer{Source: tc.source, DataType: pixel.Float32, NoData: -9999}
			dst := make([]byte, 4*tc.req.Width*tc.req.Height)
			require.NoError(t, r.Render(context.Background(), dst, tc.req))
			assert.Equal(t, tc.want, pixel.Float32Codec.Decode(dst))
		})
	}
}

func TestRenderErrors(t *testing.T) {
	ctx := context.Background()
	r := &Renderer{Source: quad(0, 1, 2, 3), DataType: pixel.Int16, NoData: -9999}
	dst := make([]byte, 64)

	assert.Error(t, r.Render(ctx, dst, Request{Width: 0, Height: 1, Resolution: 1}))
	assert.Error(t, r.Render(ctx, dst, Request{Width: 1, Height: 1, Resolution: 0}))
	assert.ErrorIs(t, r.Render(ctx, dst, Request{Width: 1, Height: 1, Resolution: 1, Upsampling: Algorithm(7)}), ErrUnsupportedAlgorithm)
	assert.Error(t, r.Render(ctx, dst[:2], Request{Width: 2, Height: 1, Resolution: 1}))

	unknown := &Renderer{Source: quad(0, 1, 2, 3)}
	assert.ErrorIs(t, unknown.Render(ctx, dst, Request{Width: 1, Height: 1, Resolution: 1}), pixel.ErrUnsupportedType)

	failing := &Renderer{Source: errQuerier{err: errors.New("backend down")}, DataType: pixel.Int16}
	assert.ErrorContains(t, failing.Render(ctx, dst, Request{Width: 1, Height: 1, Resolution: 1}), "backend down")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, r.Render(cancelled, dst, Request{Width: 1, Height: 1, Resolution: 1}), context.Canceled)
}

func TestParseAlgorithm(t *testing.T) {
	for s, want := range map[string]Algorithm{"": NearestNeighbour, "Nearest": NearestNeighbour, "bilinear": Bilinear} {
		got, err := ParseAlgorithm(s)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseAlgorithm("cubic")
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
	assert.Equal(t, "bilinear", Bilinear.String())
}

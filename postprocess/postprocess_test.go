package postprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akhenakh/predraster/geometry"
	"github.com/akhenakh/predraster/pixel"
)

func TestRowSegments(t *testing.T) {
	segments := RowSegments(geometry.Pt(0, 10), 10, Prediction{Transmitter: geometry.Pt(5, 5), Radius: 2, Resolution: 1})
	want := []geometry.RowSegment{
		{}, {}, {},
		{Start: 4, End: 6},
		{Start: 3, End: 7},
		{Start: 3, End: 7},
		{Start: 4, End: 6},
		{}, {}, {},
	}
	assert.Equal(t, want, segments)
}

func TestRowSegmentsBoundary(t *testing.T) {
	// the transmitter sits on the centre of pixel (0, 0); centres at exactly the radius
	// are inside
	segments := RowSegments(geometry.Pt(0, 10), 4, Prediction{Transmitter: geometry.Pt(0.5, 9.5), Radius: 2, Resolution: 1})
	assert.Equal(t, geometry.RowSegment{Start: -2, End: 3}, segments[0])
	assert.Equal(t, geometry.RowSegment{Start: 0, End: 1}, segments[2])
	assert.True(t, segments[3].Empty())
}

func TestValidRange(t *testing.T) {
	r, ok := ValidRange(SectionPathLoss)
	assert.True(t, ok)
	assert.Equal(t, Range{Min: 0, Max: 200}, r)
	r, ok = ValidRange(SectionAngle)
	assert.True(t, ok)
	assert.Equal(t, Range{Min: -18000, Max: 18000}, r)
	_, ok = ValidRange(2)
	assert.False(t, ok)
}

func newProcessor(d pixel.DataType, section int) *Processor {
	return New(Config{
		Prediction:   Prediction{Transmitter: geometry.Pt(5, 5), Radius: 2, Resolution: 1},
		TopLeft:      geometry.Pt(0, 10),
		RasterHeight: 10,
		BlockWidth:   4,
		BlockHeight:  4,
		DataType:     d,
		Section:      section,
	})
}

func float32Block(vals ...float32) []byte {
	buf := make([]byte, 4*16)
	pixel.Float32Codec.Fill(buf, 250)
	pixel.Float32Codec.Encode(buf, vals)
	return buf
}

func TestProcessBlock(t *testing.T) {
	noData := -9999.0
	const nd = float32(-9999)

	testCases := []struct {
		name     string
		section  int
		col, row int
		buf      []byte
		noData   *float64
		want     []float32
	}{
		{
			name:    "mask and clamp",
			section: SectionPathLoss,
			col:     1,
			row:     0,
			buf:    float32Block(250, 250, 250, 250, 250, 250, 250, 250, 250, 250, 250, 250, 250, -5, 7, 7),
			noData: &noData,
			want: []float32{
				nd, nd, nd, nd,
				nd, nd, nd, nd,
				nd, nd, nd, nd,
				200, 0, nd, nd,
			},
		},
		{
			name:    "sentinels inside the radius are kept",
			section: SectionPathLoss,
			col:     1,
			row:     1,
			buf:    float32Block(-9999, 50, 300),
			noData: &noData,
			want: []float32{
				nd, 50, 200, nd,
				200, 200, 200, nd,
				200, 200, nd, nd,
				nd, nd, nd, nd,
			},
		},
		{
			name:    "rows below the raster",
			section: SectionPathLoss,
			col:     1,
			row:     2,
			buf:    float32Block(),
			noData: &noData,
			want: []float32{
				nd, nd, nd, nd,
				nd, nd, nd, nd,
				nd, nd, nd, nd,
				nd, nd, nd, nd,
			},
		},
		{
			name:    "without no-data only clamps",
			section: SectionPathLoss,
			col:     1,
			row:     0,
			buf:     float32Block(),
			want: []float32{
				250, 250, 250, 250,
				250, 250, 250, 250,
				250, 250, 250, 250,
				200, 200, 250, 250,
			},
		},
		{
			name:    "section without valid range",
			section: 7,
			col:     1,
			row:     0,
			buf:    float32Block(),
			noData: &noData,
			want: []float32{
				nd, nd, nd, nd,
				nd, nd, nd, nd,
				nd, nd, nd, nd,
				250, 250, nd, nd,
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := newProcessor(pixel.Float32, tc.section)
			require.NoError(t, p.ProcessBlock(tc.col, tc.row, tc.buf, tc.noData))
			assert.Equal(t, tc.want, pixel.Float32Codec.Decode(tc.buf))

			// a second pass changes nothing
			require.NoError(t, p.ProcessBlock(tc.col, tc.row, tc.buf, tc.noData))
			assert.Equal(t, tc.want, pixel.Float32Codec.Decode(tc.buf))
		})
	}
}

func TestProcessBlockInt16(t *testing.T) {
	p := newProcessor(pixel.Int16, SectionAngle)
	buf := make([]byte, 2*16)
	pixel.Int16Codec.Fill(buf, 20000)
	noData := -9999.0
	require.NoError(t, p.ProcessBlock(0, 1, buf, &noData))
	got := pixel.Int16Codec.Decode(buf)
	// block row 0 is raster row 4, inside from column 3
	assert.Equal(t, []int16{-9999, -9999, -9999, 18000}, got[:4])
	assert.Equal(t, []int16{-9999, -9999, -9999, -9999}, got[12:])
}

func TestProcessBlockErrors(t *testing.T) {
	p := newProcessor(pixel.Float32, SectionPathLoss)
	assert.Error(t, p.ProcessBlock(0, 0, make([]byte, 8), nil))

	unknown := newProcessor(pixel.Unknown, SectionPathLoss)
	assert.ErrorIs(t, unknown.ProcessBlock(0, 0, make([]byte, 64), nil), pixel.ErrUnsupportedType)
}

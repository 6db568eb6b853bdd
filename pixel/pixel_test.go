package pixel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allTypes = []DataType{Byte, Int16, UInt16, Int32, UInt32, Float32, Float64}

func TestDataType(t *testing.T) {
	sizes := []int{1, 2, 2, 4, 4, 4, 8}
	for i, d := range allTypes {
		assert.Equal(t, sizes[i], d.Size(), d.String())
		assert.True(t, d.Valid())

		text, err := d.MarshalText()
		require.NoError(t, err)
		var back DataType
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, d, back)
	}
	assert.False(t, Unknown.Valid())
	assert.Equal(t, "DataType(42)", DataType(42).String())
	_, err := Unknown.MarshalText()
	assert.ErrorIs(t, err, ErrUnsupportedType)

	d, err := ParseDataType("float32")
	require.NoError(t, err)
	assert.Equal(t, Float32, d)
	_, err = ParseDataType("complex64")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestFromFloat(t *testing.T) {
	assert.Equal(t, uint8(255), Uint8Codec.FromFloat(1515))
	assert.Equal(t, uint8(0), Uint8Codec.FromFloat(-3))
	assert.Equal(t, uint8(0), Uint8Codec.FromFloat(math.NaN()))
	assert.Equal(t, int16(-3), Int16Codec.FromFloat(-2.5))
	assert.Equal(t, int16(3), Int16Codec.FromFloat(2.5))
	assert.Equal(t, int16(math.MinInt16), Int16Codec.FromFloat(-1e9))
	assert.Equal(t, uint32(math.MaxUint32), Uint32Codec.FromFloat(1e12))
	assert.Equal(t, float32(math.MaxFloat32), Float32Codec.FromFloat(1e300))
	assert.True(t, math.IsNaN(float64(Float32Codec.FromFloat(math.NaN()))))
	assert.True(t, math.IsInf(float64(Float32Codec.FromFloat(math.Inf(-1))), -1))
}

func TestFillAndValue(t *testing.T) {
	for _, d := range allTypes {
		t.Run(d.String(), func(t *testing.T) {
			buf := make([]byte, d.BufferSize(5))
			require.NoError(t, Fill(buf, d, 200))
			for i := 0; i < 5; i++ {
				assert.Equal(t, 200.0, Value(buf, d, i))
			}
			SetValue(buf, d, 3, 7)
			assert.Equal(t, 7.0, Value(buf, d, 3))
			assert.Equal(t, 200.0, Value(buf, d, 4))
		})
	}
	assert.ErrorIs(t, Fill(make([]byte, 4), Unknown, 1), ErrUnsupportedType)
	assert.Panics(t, func() { Value(make([]byte, 4), Unknown, 0) })
}

func TestConvert(t *testing.T) {
	src := make([]byte, Float32.BufferSize(4))
	Float32Codec.Encode(src, []float32{-9999, 1.4, 300, 65})

	dst := make([]byte, Int16.BufferSize(4))
	require.NoError(t, Convert(dst, Int16, src, Float32, 4))
	assert.Equal(t, []int16{-9999, 1, 300, 65}, Int16Codec.Decode(dst))

	bytes := make([]byte, 4)
	require.NoError(t, Convert(bytes, Byte, src, Float32, 4))
	assert.Equal(t, []uint8{0, 1, 255, 65}, Uint8Codec.Decode(bytes))

	same := make([]byte, len(src))
	require.NoError(t, Convert(same, Float32, src, Float32, 4))
	assert.Equal(t, src, same)

	assert.Error(t, Convert(make([]byte, 2), Int16, src, Float32, 4))
	assert.Error(t, Convert(dst, Int16, src[:8], Float32, 4))
	assert.ErrorIs(t, Convert(dst, Unknown, src, Float32, 4), ErrUnsupportedType)
}

func TestIsNoData(t *testing.T) {
	nan := float32(math.NaN())
	assert.True(t, IsNoData(nan, nan))
	assert.False(t, IsNoData(float32(1), nan))
	assert.True(t, IsNoData(int16(-9999), -9999))
	assert.False(t, IsNoData(int16(0), -9999))
}

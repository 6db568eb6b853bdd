package pixel

import (
	"encoding/binary"
	"math"
)

// Number is the set of element types a raster buffer may hold.
type Number interface {
	uint8 | int16 | uint16 | int32 | uint32 | float32 | float64
}

// Codec reads and writes little-endian samples of type T in a byte buffer.
type Codec[T Number] struct {
	Type DataType
	get  func(b []byte) T
	put  func(b []byte, v T)
	lo   float64 // representable range, used to saturate conversions
	hi   float64
}

var (
	Uint8Codec = Codec[uint8]{
		Type: Byte,
		get:  func(b []byte) uint8 { return b[0] },
		put:  func(b []byte, v uint8) { b[0] = v },
		lo:   0, hi: math.MaxUint8,
	}
	Int16Codec = Codec[int16]{
		Type: Int16,
		get:  func(b []byte) int16 { return int16(binary.LittleEndian.Uint16(b)) },
		put:  func(b []byte, v int16) { binary.LittleEndian.PutUint16(b, uint16(v)) },
		lo:   math.MinInt16, hi: math.MaxInt16,
	}
	Uint16Codec = Codec[uint16]{
		Type: UInt16,
		get:  binary.LittleEndian.Uint16,
		put:  binary.LittleEndian.PutUint16,
		lo:   0, hi: math.MaxUint16,
	}
	Int32Codec = Codec[int32]{
		Type: Int32,
		get:  func(b []byte) int32 { return int32(binary.LittleEndian.Uint32(b)) },
		put:  func(b []byte, v int32) { binary.LittleEndian.PutUint32(b, uint32(v)) },
		lo:   math.MinInt32, hi: math.MaxInt32,
	}
	Uint32Codec = Codec[uint32]{
		Type: UInt32,
		get:  binary.LittleEndian.Uint32,
		put:  binary.LittleEndian.PutUint32,
		lo:   0, hi: math.MaxUint32,
	}
	Float32Codec = Codec[float32]{
		Type: Float32,
		get:  func(b []byte) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b)) },
		put:  func(b []byte, v float32) { binary.LittleEndian.PutUint32(b, math.Float32bits(v)) },
		lo:   -math.MaxFloat32, hi: math.MaxFloat32,
	}
	Float64Codec = Codec[float64]{
		Type: Float64,
		get:  func(b []byte) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(b)) },
		put:  func(b []byte, v float64) { binary.LittleEndian.PutUint64(b, math.Float64bits(v)) },
		lo:   -math.MaxFloat64, hi: math.MaxFloat64,
	}
)

func (c Codec[T]) Size() int { return c.Type.Size() }

// Len returns the number of whole samples in b.
func (c Codec[T]) Len(b []byte) int { return len(b) / c.Size() }

func (c Codec[T]) At(b []byte, i int) T { return c.get(b[i*c.Size():]) }

func (c Codec[T]) SetAt(b []byte, i int, v T) { c.put(b[i*c.Size():], v) }

// Fill sets every sample of b to v.
func (c Codec[T]) Fill(b []byte, v T) {
	size := c.Size()
	for off := 0; off+size <= len(b); off += size {
		c.put(b[off:], v)
	}
}

// Decode returns the samples of b as a typed slice.
func (c Codec[T]) Decode(b []byte) []T {
	out := make([]T, c.Len(b))
	for i := range out {
		out[i] = c.At(b, i)
	}
	return out
}

// Encode writes vals at the start of b.
func (c Codec[T]) Encode(b []byte, vals []T) {
	for i, v := range vals {
		c.SetAt(b, i, v)
	}
}

// FromFloat converts v to T. Integer types round half away from zero and
// saturate at their bounds; NaN maps to zero for them.
func (c Codec[T]) FromFloat(v float64) T {
	if c.Type.IsFloat() {
		if c.Type == Float32 && !math.IsNaN(v) && !math.IsInf(v, 0) {
			v = math.Max(c.lo, math.Min(c.hi, v))
		}
		return T(v)
	}
	if math.IsNaN(v) {
		return 0
	}
	return T(math.Max(c.lo, math.Min(c.hi, math.Round(v))))
}

// IsNoData compares v against the sentinel, treating NaN sentinels as matching NaN values.
func IsNoData[T Number](v, sentinel T) bool {
	return v == sentinel || (v != v && sentinel != sentinel)
}

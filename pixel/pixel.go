// Package pixel handles raw raster buffers of the seven supported sample types.
//
// Buffers are plain byte slices holding little-endian samples. Typed work is done by a
// generic Codec instantiated once per element type; the exported untyped helpers pick
// the codec with a single switch on the DataType tag.
package pixel

import (
	"errors"
	"fmt"
	"strings"
)

// DataType tags the element type of a raster buffer.
type DataType int

const (
	Unknown DataType = iota
	Byte
	Int16
	UInt16
	Int32
	UInt32
	Float32
	Float64
)

var ErrUnsupportedType = errors.New("unsupported pixel data type")

var dataTypeNames = map[DataType]string{
	Byte:    "Byte",
	Int16:   "Int16",
	UInt16:  "UInt16",
	Int32:   "Int32",
	UInt32:  "UInt32",
	Float32: "Float32",
	Float64: "Float64",
}

func (d DataType) String() string {
	if s, ok := dataTypeNames[d]; ok {
		return s
	}
	return fmt.Sprintf("DataType(%d)", int(d))
}

// Size returns the number of bytes of one sample, 0 for unknown types.
func (d DataType) Size() int {
	switch d {
	case Byte:
		return 1
	case Int16, UInt16:
		return 2
	case Int32, UInt32, Float32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

func (d DataType) Valid() bool { return d.Size() > 0 }

// IsFloat reports whether the type is a floating point one.
func (d DataType) IsFloat() bool { return d == Float32 || d == Float64 }

// ParseDataType accepts the names returned by String, case insensitively.
func ParseDataType(s string) (DataType, error) {
	for d, name := range dataTypeNames {
		if strings.EqualFold(name, s) {
			return d, nil
		}
	}
	return Unknown, fmt.Errorf("%w: %q", ErrUnsupportedType, s)
}

func (d DataType) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedType, int(d))
	}
	return []byte(d.String()), nil
}

func (d *DataType) UnmarshalText(b []byte) error {
	v, err := ParseDataType(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// BufferSize returns the bytes needed for n samples of type d.
func (d DataType) BufferSize(n int) int { return n * d.Size() }

// Fill writes v, converted to d, into every sample of dst.
func Fill(dst []byte, d DataType, v float64) error {
	switch d {
	case Byte:
		Uint8Codec.Fill(dst, Uint8Codec.FromFloat(v))
	case Int16:
		Int16Codec.Fill(dst, Int16Codec.FromFloat(v))
	case UInt16:
		Uint16Codec.Fill(dst, Uint16Codec.FromFloat(v))
	case Int32:
		Int32Codec.Fill(dst, Int32Codec.FromFloat(v))
	case UInt32:
		Uint32Codec.Fill(dst, Uint32Codec.FromFloat(v))
	case Float32:
		Float32Codec.Fill(dst, Float32Codec.FromFloat(v))
	case Float64:
		Float64Codec.Fill(dst, v)
	default:
		return fmt.Errorf("%w: %v", ErrUnsupportedType, d)
	}
	return nil
}

// Value returns sample i of src as a float64.
func Value(src []byte, d DataType, i int) float64 {
	switch d {
	case Byte:
		return float64(Uint8Codec.At(src, i))
	case Int16:
		return float64(Int16Codec.At(src, i))
	case UInt16:
		return float64(Uint16Codec.At(src, i))
	case Int32:
		return float64(Int32Codec.At(src, i))
	case UInt32:
		return float64(Uint32Codec.At(src, i))
	case Float32:
		return float64(Float32Codec.At(src, i))
	case Float64:
		return Float64Codec.At(src, i)
	}
	panic(fmt.Sprintf("pixel.Value: %v: %v", ErrUnsupportedType, d))
}

// SetValue stores v into sample i of dst. Integer types round to the nearest value
// and saturate at the type's range.
func SetValue(dst []byte, d DataType, i int, v float64) {
	switch d {
	case Byte:
		Uint8Codec.SetAt(dst, i, Uint8Codec.FromFloat(v))
	case Int16:
		Int16Codec.SetAt(dst, i, Int16Codec.FromFloat(v))
	case UInt16:
		Uint16Codec.SetAt(dst, i, Uint16Codec.FromFloat(v))
	case Int32:
		Int32Codec.SetAt(dst, i, Int32Codec.FromFloat(v))
	case UInt32:
		Uint32Codec.SetAt(dst, i, Uint32Codec.FromFloat(v))
	case Float32:
		Float32Codec.SetAt(dst, i, Float32Codec.FromFloat(v))
	case Float64:
		Float64Codec.SetAt(dst, i, v)
	default:
		panic(fmt.Sprintf("pixel.SetValue: %v: %v", ErrUnsupportedType, d))
	}
}

// Convert copies n samples of type srcType from src into dst as dstType.
func Convert(dst []byte, dstType DataType, src []byte, srcType DataType, n int) error {
	if !dstType.Valid() {
		return fmt.Errorf("%w: %v", ErrUnsupportedType, dstType)
	}
	if !srcType.Valid() {
		return fmt.Errorf("%w: %v", ErrUnsupportedType, srcType)
	}
	if len(dst) < dstType.BufferSize(n) {
		return fmt.Errorf("destination holds %d bytes, %d %v samples need %d", len(dst), n, dstType, dstType.BufferSize(n))
	}
	if len(src) < srcType.BufferSize(n) {
		return fmt.Errorf("source holds %d bytes, %d %v samples need %d", len(src), n, srcType, srcType.BufferSize(n))
	}
	if dstType == srcType {
		copy(dst, src[:srcType.BufferSize(n)])
		return nil
	}
	for i := 0; i < n; i++ {
		SetValue(dst, dstType, i, Value(src, srcType, i))
	}
	return nil
}

// Package tensor holds the typed buffers exchanged with execution backends.
//
// A Tensor is an element type, a shape and a contiguous little-endian payload.
// Accessors check the element type and shape before handing values out.
package tensor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

type DType uint8

const (
	DTypeInvalid DType = iota
	DTypeF32
	DTypeF16
	DTypeBF16
	DTypeI32
	DTypeI8
)

var (
	ErrDType = errors.New("tensor: unexpected element type")
	ErrShape = errors.New("tensor: shape mismatch")
)

// Size returns the element width in bytes.
func (d DType) Size() int {
	switch d {
	case DTypeF32, DTypeI32:
		return 4
	case DTypeF16, DTypeBF16:
		return 2
	case DTypeI8:
		return 1
	default:
		return 0
	}
}

func (d DType) IsFloat() bool {
	return d == DTypeF32 || d == DTypeF16 || d == DTypeBF16
}

func (d DType) String() string {
	switch d {
	case DTypeF32:
		return "f32"
	case DTypeF16:
		return "f16"
	case DTypeBF16:
		return "bf16"
	case DTypeI32:
		return "i32"
	case DTypeI8:
		return "i8"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

// Tensor is an immutable-shape typed buffer.
type Tensor struct {
	dtype DType
	shape []int
	data  []byte
}

// NumElements returns the product of shape. An empty shape is a scalar.
func NumElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func checkShape(shape []int) {
	for _, d := range shape {
		if d < 0 {
			panic(fmt.Sprintf("tensor: negative dimension in shape %v", shape))
		}
	}
}

// New allocates a zero-filled tensor.
func New(dt DType, shape ...int) *Tensor {
	if dt.Size() == 0 {
		panic("tensor: invalid dtype")
	}
	checkShape(shape)
	return &Tensor{
		dtype: dt,
		shape: slices.Clone(shape),
		data:  make([]byte, NumElements(shape)*dt.Size()),
	}
}

// FromBytes wraps data without copying. The payload length must match shape.
func FromBytes(dt DType, shape []int, data []byte) (*Tensor, error) {
	if dt.Size() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDType, dt)
	}
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("%w: negative dimension in %v", ErrShape, shape)
		}
	}
	if want := NumElements(shape) * dt.Size(); want != len(data) {
		return nil, fmt.Errorf("%w: %v %s needs %d bytes, have %d", ErrShape, shape, dt, want, len(data))
	}
	return &Tensor{dtype: dt, shape: slices.Clone(shape), data: data}, nil
}

// Ints builds an i32 tensor. It panics if len(v) does not match shape.
func Ints(shape []int, v []int) *Tensor {
	t := New(DTypeI32, shape...)
	if len(v) != t.Len() {
		panic(fmt.Sprintf("tensor: %d values for shape %v", len(v), shape))
	}
	for i, x := range v {
		binary.LittleEndian.PutUint32(t.data[i*4:], uint32(int32(x)))
	}
	return t
}

// Float32s builds an f32 tensor. It panics if len(v) does not match shape.
func Float32s(shape []int, v []float32) *Tensor {
	t := New(DTypeF32, shape...)
	if len(v) != t.Len() {
		panic(fmt.Sprintf("tensor: %d values for shape %v", len(v), shape))
	}
	for i, x := range v {
		binary.LittleEndian.PutUint32(t.data[i*4:], math.Float32bits(x))
	}
	return t
}

// Int8s builds an i8 tensor holding raw bytes, the representation used for
// text records.
func Int8s(shape []int, v []byte) *Tensor {
	t := New(DTypeI8, shape...)
	if len(v) != t.Len() {
		panic(fmt.Sprintf("tensor: %d values for shape %v", len(v), shape))
	}
	copy(t.data, v)
	return t
}

func (t *Tensor) DType() DType { return t.dtype }

// Shape returns a copy of the dimensions.
func (t *Tensor) Shape() []int { return slices.Clone(t.shape) }

func (t *Tensor) Rank() int { return len(t.shape) }

// Dim returns dimension i, counting from the end when i is negative.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.shape)
	}
	return t.shape[i]
}

func (t *Tensor) Len() int { return NumElements(t.shape) }

// Bytes exposes the payload. Callers must not resize it.
func (t *Tensor) Bytes() []byte { return t.data }

func (t *Tensor) String() string {
	return fmt.Sprintf("%s%v", t.dtype, t.shape)
}

// Int32s decodes an i32 tensor.
func (t *Tensor) Int32s() ([]int32, error) {
	if t.dtype != DTypeI32 {
		return nil, fmt.Errorf("%w: want i32, have %s", ErrDType, t.dtype)
	}
	out := make([]int32, t.Len())
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(t.data[i*4:]))
	}
	return out, nil
}

// Float32s decodes any floating point tensor to f32.
func (t *Tensor) Float32s() ([]float32, error) {
	switch t.dtype {
	case DTypeF32:
		out := make([]float32, t.Len())
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.data[i*4:]))
		}
		return out, nil
	case DTypeF16:
		out := make([]float32, t.Len())
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(t.data[i*2:])).Float32()
		}
		return out, nil
	case DTypeBF16:
		return bfloat16.DecodeFloat32(t.data), nil
	default:
		return nil, fmt.Errorf("%w: want float, have %s", ErrDType, t.dtype)
	}
}

// RawBytes returns a copy of an i8 tensor's payload.
func (t *Tensor) RawBytes() ([]byte, error) {
	if t.dtype != DTypeI8 {
		return nil, fmt.Errorf("%w: want i8, have %s", ErrDType, t.dtype)
	}
	return slices.Clone(t.data), nil
}

// Scalar returns the first element as an int. Used for single token outputs.
func (t *Tensor) Scalar() (int, error) {
	if t.Len() < 1 {
		return 0, fmt.Errorf("%w: empty tensor %v", ErrShape, t.shape)
	}
	switch t.dtype {
	case DTypeI32:
		return int(int32(binary.LittleEndian.Uint32(t.data))), nil
	case DTypeI8:
		return int(int8(t.data[0])), nil
	default:
		vals, err := t.Float32s()
		if err != nil {
			return 0, err
		}
		return int(vals[0]), nil
	}
}

func (t *Tensor) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("tensor: %d indices for rank %d", len(idx), len(t.shape)))
	}
	off := 0
	for i, x := range idx {
		if x < 0 || x >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index %v out of range for %v", idx, t.shape))
		}
		off = off*t.shape[i] + x
	}
	return off * t.dtype.Size()
}

// SetInt sets an i32 element.
func (t *Tensor) SetInt(v int, idx ...int) {
	if t.dtype != DTypeI32 {
		panic("tensor: SetInt on " + t.dtype.String())
	}
	binary.LittleEndian.PutUint32(t.data[t.offset(idx):], uint32(int32(v)))
}

// IntAt reads an i32 element.
func (t *Tensor) IntAt(idx ...int) int {
	if t.dtype != DTypeI32 {
		panic("tensor: IntAt on " + t.dtype.String())
	}
	return int(int32(binary.LittleEndian.Uint32(t.data[t.offset(idx):])))
}

// SetFloat sets a floating point element, rounding to the tensor's precision.
func (t *Tensor) SetFloat(v float32, idx ...int) {
	off := t.offset(idx)
	switch t.dtype {
	case DTypeF32:
		binary.LittleEndian.PutUint32(t.data[off:], math.Float32bits(v))
	case DTypeF16:
		binary.LittleEndian.PutUint16(t.data[off:], float16.Fromfloat32(v).Bits())
	case DTypeBF16:
		copy(t.data[off:off+2], bfloat16.EncodeFloat32([]float32{v}))
	default:
		panic("tensor: SetFloat on " + t.dtype.String())
	}
}

// FloatAt reads a floating point element as f32.
func (t *Tensor) FloatAt(idx ...int) float32 {
	off := t.offset(idx)
	switch t.dtype {
	case DTypeF32:
		return math.Float32frombits(binary.LittleEndian.Uint32(t.data[off:]))
	case DTypeF16:
		return float16.Frombits(binary.LittleEndian.Uint16(t.data[off:])).Float32()
	case DTypeBF16:
		return bfloat16.DecodeFloat32(t.data[off : off+2])[0]
	default:
		panic("tensor: FloatAt on " + t.dtype.String())
	}
}

// Fill sets every element of a float tensor to v.
func (t *Tensor) Fill(v float32) {
	if !t.dtype.IsFloat() {
		panic("tensor: Fill on " + t.dtype.String())
	}
	if t.Len() == 0 {
		return
	}
	w := t.dtype.Size()
	first := make([]int, len(t.shape))
	t.SetFloat(v, first...)
	for off := w; off < len(t.data); off += w {
		copy(t.data[off:off+w], t.data[:w])
	}
}

package tensor

import (
	"bytes"
	"fmt"
	"slices"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

func (t *Tensor) Clone() *Tensor {
	return &Tensor{dtype: t.dtype, shape: slices.Clone(t.shape), data: slices.Clone(t.data)}
}

// Reshape returns a view with a new shape and the same element count.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	if NumElements(shape) != t.Len() {
		return nil, fmt.Errorf("%w: cannot reshape %v to %v", ErrShape, t.shape, shape)
	}
	return &Tensor{dtype: t.dtype, shape: slices.Clone(shape), data: t.data}, nil
}

// Convert re-encodes a float tensor as another float type.
func (t *Tensor) Convert(dt DType) (*Tensor, error) {
	if dt == t.dtype {
		return t.Clone(), nil
	}
	if !dt.IsFloat() {
		return nil, fmt.Errorf("%w: cannot convert to %s", ErrDType, dt)
	}
	vals, err := t.Float32s()
	if err != nil {
		return nil, err
	}
	switch dt {
	case DTypeF32:
		return Float32s(t.shape, vals), nil
	case DTypeBF16:
		return FromBytes(dt, t.shape, bfloat16.EncodeFloat32(vals))
	default:
		out := New(DTypeF16, t.shape...)
		for i, v := range vals {
			b := float16.Fromfloat32(v).Bits()
			out.data[2*i] = byte(b)
			out.data[2*i+1] = byte(b >> 8)
		}
		return out, nil
	}
}

// Concat joins tensors along axis 0. All inputs must share element type and
// trailing dimensions.
func Concat(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("%w: nothing to concatenate", ErrShape)
	}
	first := ts[0]
	if first.Rank() == 0 {
		return nil, fmt.Errorf("%w: cannot concatenate scalars", ErrShape)
	}
	rows := 0
	size := 0
	for i, t := range ts {
		if t.dtype != first.dtype {
			return nil, fmt.Errorf("%w: input %d is %s, want %s", ErrDType, i, t.dtype, first.dtype)
		}
		if t.Rank() != first.Rank() || !slices.Equal(t.shape[1:], first.shape[1:]) {
			return nil, fmt.Errorf("%w: input %d has shape %v, want [*%v]", ErrShape, i, t.shape, first.shape[1:])
		}
		rows += t.shape[0]
		size += len(t.data)
	}
	shape := slices.Clone(first.shape)
	shape[0] = rows
	data := make([]byte, 0, size)
	for _, t := range ts {
		data = append(data, t.data...)
	}
	return &Tensor{dtype: first.dtype, shape: shape, data: data}, nil
}

// Rows returns a copy of rows [start, end) along axis 0.
func (t *Tensor) Rows(start, end int) (*Tensor, error) {
	if t.Rank() == 0 || start < 0 || end < start || end > t.shape[0] {
		return nil, fmt.Errorf("%w: rows [%d,%d) of %v", ErrShape, start, end, t.shape)
	}
	stride := len(t.data)
	if t.shape[0] > 0 {
		stride /= t.shape[0]
	}
	shape := slices.Clone(t.shape)
	shape[0] = end - start
	return &Tensor{dtype: t.dtype, shape: shape, data: slices.Clone(t.data[start*stride : end*stride])}, nil
}

// Transpose01 swaps the first two axes of a rank-3 tensor.
func (t *Tensor) Transpose01() (*Tensor, error) {
	if t.Rank() != 3 {
		return nil, fmt.Errorf("%w: Transpose01 needs rank 3, have %v", ErrShape, t.shape)
	}
	a, b, c := t.shape[0], t.shape[1], t.shape[2]
	w := c * t.dtype.Size()
	out := New(t.dtype, b, a, c)
	for i := range a {
		for j := range b {
			copy(out.data[(j*a+i)*w:(j*a+i+1)*w], t.data[(i*b+j)*w:(i*b+j+1)*w])
		}
	}
	return out, nil
}

// Equal reports whether a and b have identical type, shape and payload bytes.
func Equal(a, b *Tensor) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.dtype == b.dtype && slices.Equal(a.shape, b.shape) && bytes.Equal(a.data, b.data)
}

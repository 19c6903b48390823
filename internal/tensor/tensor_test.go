package tensor

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestIntsRoundTrip(t *testing.T) {
	t.Parallel()
	x := Ints([]int{2, 3}, []int{0, 1, -2, 3, 4, 130005})
	got, err := x.Int32s()
	if err != nil {
		t.Fatalf("Int32s: %v", err)
	}
	want := []int32{0, 1, -2, 3, 4, 130005}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Int32s = %v, want %v", got, want)
	}
	if x.IntAt(1, 2) != 130005 {
		t.Fatalf("IntAt(1,2) = %d", x.IntAt(1, 2))
	}
	if _, err := x.Float32s(); !errors.Is(err, ErrDType) {
		t.Fatalf("Float32s on i32: got %v, want ErrDType", err)
	}
}

func TestFloatAccessors(t *testing.T) {
	t.Parallel()
	for _, dt := range []DType{DTypeF32, DTypeF16, DTypeBF16} {
		x := New(dt, 2, 2)
		x.SetFloat(1.5, 0, 1)
		x.SetFloat(-2, 1, 0)
		vals, err := x.Float32s()
		if err != nil {
			t.Fatalf("%s Float32s: %v", dt, err)
		}
		want := []float32{0, 1.5, -2, 0}
		if !reflect.DeepEqual(vals, want) {
			t.Fatalf("%s values = %v, want %v", dt, vals, want)
		}
		if got := x.FloatAt(0, 1); got != 1.5 {
			t.Fatalf("%s FloatAt = %v", dt, got)
		}
	}
}

func TestFillLowest(t *testing.T) {
	t.Parallel()
	x := New(DTypeF32, 3)
	x.Fill(-math.MaxFloat32)
	vals, _ := x.Float32s()
	for i, v := range vals {
		if v != -math.MaxFloat32 {
			t.Fatalf("element %d = %v", i, v)
		}
	}
}

func TestFromBytesLength(t *testing.T) {
	t.Parallel()
	if _, err := FromBytes(DTypeF32, []int{2}, make([]byte, 7)); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
	if _, err := FromBytes(DTypeInvalid, []int{1}, nil); !errors.Is(err, ErrDType) {
		t.Fatalf("expected ErrDType, got %v", err)
	}
}

func TestConcatAndRows(t *testing.T) {
	t.Parallel()
	a := Float32s([]int{1, 2}, []float32{1, 2})
	b := Float32s([]int{2, 2}, []float32{3, 4, 5, 6})
	c, err := Concat(a, b)
	if err != nil {
		t.Fatalf("Concat: %v", err)
	}
	if !reflect.DeepEqual(c.Shape(), []int{3, 2}) {
		t.Fatalf("shape = %v", c.Shape())
	}
	mid, err := c.Rows(1, 2)
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	vals, _ := mid.Float32s()
	if !reflect.DeepEqual(vals, []float32{3, 4}) {
		t.Fatalf("Rows values = %v", vals)
	}
	if _, err := Concat(a, Float32s([]int{1, 3}, []float32{1, 2, 3})); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape for trailing mismatch, got %v", err)
	}
	if _, err := Concat(a, Ints([]int{1, 2}, []int{1, 2})); !errors.Is(err, ErrDType) {
		t.Fatalf("expected ErrDType, got %v", err)
	}
}

func TestTranspose01(t *testing.T) {
	t.Parallel()
	// [2,3,1] -> [3,2,1]
	x := Float32s([]int{2, 3, 1}, []float32{0, 1, 2, 10, 11, 12})
	y, err := x.Transpose01()
	if err != nil {
		t.Fatalf("Transpose01: %v", err)
	}
	vals, _ := y.Float32s()
	want := []float32{0, 10, 1, 11, 2, 12}
	if !reflect.DeepEqual(vals, want) || !reflect.DeepEqual(y.Shape(), []int{3, 2, 1}) {
		t.Fatalf("got %v %v, want %v [3 2 1]", vals, y.Shape(), want)
	}
}

func TestConvertBF16(t *testing.T) {
	t.Parallel()
	x := Float32s([]int{3}, []float32{1, -0.5, 256})
	y, err := x.Convert(DTypeBF16)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if len(y.Bytes()) != 6 {
		t.Fatalf("bf16 payload = %d bytes", len(y.Bytes()))
	}
	back, _ := y.Float32s()
	if !reflect.DeepEqual(back, []float32{1, -0.5, 256}) {
		t.Fatalf("bf16 round trip = %v", back)
	}
}

func TestScalarAndReshape(t *testing.T) {
	t.Parallel()
	x := Ints([]int{1}, []int{42})
	if v, err := x.Scalar(); err != nil || v != 42 {
		t.Fatalf("Scalar = %d, %v", v, err)
	}
	if _, err := x.Reshape(2); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
	y, err := Ints([]int{2, 3}, []int{1, 2, 3, 4, 5, 6}).Reshape(3, 2)
	if err != nil || y.Dim(-1) != 2 || y.Dim(0) != 3 {
		t.Fatalf("Reshape: %v %v", y, err)
	}
}

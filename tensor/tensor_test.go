package tensor

import (
	"math"
	"math/rand"
	"reflect"
	"testing"
)

func TestNewTensor(t *testing.T) {
	t.Run("Valid Float32 tensor", func(t *testing.T) {
		shape := []int{2, 3}
		data := []float32{1.0, 2.0, 3.0, 4.0, 5.0, 6.0}

		tensor, err := NewTensor(shape, Float32, data)
		if err != nil {
			t.Fatalf("NewTensor failed: %v", err)
		}

		if !reflect.DeepEqual(tensor.Shape, shape) {
			t.Errorf("Shape = %v, expected %v", tensor.Shape, shape)
		}
		if tensor.NumElems != 6 {
			t.Errorf("NumElems = %d, expected 6", tensor.NumElems)
		}
		expectedStrides := []int{3, 1}
		if !reflect.DeepEqual(tensor.Strides, expectedStrides) {
			t.Errorf("Strides = %v, expected %v", tensor.Strides, expectedStrides)
		}
	})

	t.Run("Uint8 scalar fill", func(t *testing.T) {
		tensor, err := NewTensor([]int{2, 2}, Uint8, uint8(3))
		if err != nil {
			t.Fatalf("NewTensor failed: %v", err)
		}
		if !reflect.DeepEqual(tensor.Data.([]uint8), []uint8{3, 3, 3, 3}) {
			t.Errorf("Data = %v", tensor.Data)
		}
	})

	t.Run("Length mismatch", func(t *testing.T) {
		if _, err := NewTensor([]int{2, 2}, Float32, []float32{1, 2, 3}); err == nil {
			t.Error("expected error for data length mismatch")
		}
	})

	t.Run("Invalid shape", func(t *testing.T) {
		if _, err := NewTensor([]int{2, 0}, Float32, nil); err == nil {
			t.Error("expected error for zero dimension")
		}
	})
}

func TestElementwise(t *testing.T) {
	a, _ := FromFloat32([]int{2, 2}, []float32{1, 2, 3, 4})
	b, _ := FromFloat32([]int{2, 2}, []float32{2, 2, 2, 2})

	tests := []struct {
		name     string
		op       func(x, y *Tensor) (*Tensor, error)
		expected []float32
	}{
		{"Add", Add, []float32{3, 4, 5, 6}},
		{"Sub", Sub, []float32{-1, 0, 1, 2}},
		{"Mul", Mul, []float32{2, 4, 6, 8}},
		{"Div", Div, []float32{0.5, 1, 1.5, 2}},
	}

	for _, tt := range tests {
		result, err := tt.op(a, b)
		if err != nil {
			t.Fatalf("%s failed: %v", tt.name, err)
		}
		if !reflect.DeepEqual(result.Data.([]float32), tt.expected) {
			t.Errorf("%s = %v, expected %v", tt.name, result.Data, tt.expected)
		}
	}

	mask, _ := FromUint8([]int{2, 2}, []uint8{0, 1, 1, 0})
	product, err := Mul(a, mask)
	if err != nil {
		t.Fatalf("Mul with uint8 operand failed: %v", err)
	}
	if !reflect.DeepEqual(product.Data.([]float32), []float32{0, 2, 3, 0}) {
		t.Errorf("mixed dtype Mul = %v", product.Data)
	}

	c, _ := Zeros([]int{4}, Float32)
	if _, err := Add(a, c); err == nil {
		t.Error("expected shape mismatch error")
	}
}

func TestLog(t *testing.T) {
	x, _ := FromFloat32([]int{3}, []float32{1, float32(math.E), 0})
	result, err := Log(x)
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	data := result.Data.([]float32)
	if math.Abs(float64(data[0])) > 1e-6 || math.Abs(float64(data[1])-1) > 1e-6 {
		t.Errorf("Log = %v", data)
	}
	if !math.IsInf(float64(data[2]), -1) {
		t.Errorf("Log(0) = %v, expected -Inf", data[2])
	}
}

func TestAsTypeTruncates(t *testing.T) {
	x, _ := FromFloat32([]int{3}, []float32{0.9, 1.2, 255.7})
	u, err := x.AsType(Uint8)
	if err != nil {
		t.Fatalf("AsType failed: %v", err)
	}
	if !reflect.DeepEqual(u.Data.([]uint8), []uint8{0, 1, 255}) {
		t.Errorf("AsType(Uint8) = %v", u.Data)
	}
}

func TestItemAndSumAll(t *testing.T) {
	s := FromScalar(2.5)
	v, err := s.Item()
	if err != nil || v != 2.5 {
		t.Errorf("Item() = %v, %v", v, err)
	}

	x, _ := Ones([]int{3, 4}, Int32)
	if _, err := x.Item(); err == nil {
		t.Error("expected error calling Item on multi-element tensor")
	}
	sum, _ := x.SumAll()
	if sum != 12 {
		t.Errorf("SumAll = %v, expected 12", sum)
	}
}

func TestRandomIsReproducible(t *testing.T) {
	a, _ := Random([]int{8}, rand.New(rand.NewSource(7)))
	b, _ := Random([]int{8}, rand.New(rand.NewSource(7)))
	if !reflect.DeepEqual(a.Data, b.Data) {
		t.Error("Random with equal seeds should produce equal data")
	}
}

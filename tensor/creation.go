package tensor

import (
	"fmt"
	"math/rand"
)

func NewTensor(shape []int, dtype DType, data interface{}) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	tensor := &Tensor{
		Shape:    copyShape(shape),
		Strides:  calculateStrides(shape),
		DType:    dtype,
		NumElems: calculateNumElements(shape),
	}

	if data == nil {
		data = allocate(dtype, tensor.NumElems)
		if data == nil {
			return nil, fmt.Errorf("unsupported dtype: %s", dtype)
		}
	}
	if err := tensor.setData(data); err != nil {
		return nil, err
	}

	return tensor, nil
}

func allocate(dtype DType, n int) interface{} {
	switch dtype {
	case Float32:
		return make([]float32, n)
	case Int32:
		return make([]int32, n)
	case Uint8:
		return make([]uint8, n)
	default:
		return nil
	}
}

func (t *Tensor) setData(data interface{}) error {
	switch t.DType {
	case Float32:
		switch d := data.(type) {
		case []float32:
			if len(d) != t.NumElems {
				return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
			}
			t.Data = d
		case float32:
			slice := make([]float32, t.NumElems)
			for i := range slice {
				slice[i] = d
			}
			t.Data = slice
		default:
			return fmt.Errorf("unsupported data type for Float32 tensor: %T", data)
		}
	case Int32:
		switch d := data.(type) {
		case []int32:
			if len(d) != t.NumElems {
				return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
			}
			t.Data = d
		case int32:
			slice := make([]int32, t.NumElems)
			for i := range slice {
				slice[i] = d
			}
			t.Data = slice
		default:
			return fmt.Errorf("unsupported data type for Int32 tensor: %T", data)
		}
	case Uint8:
		switch d := data.(type) {
		case []uint8:
			if len(d) != t.NumElems {
				return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
			}
			t.Data = d
		case uint8:
			slice := make([]uint8, t.NumElems)
			for i := range slice {
				slice[i] = d
			}
			t.Data = slice
		default:
			return fmt.Errorf("unsupported data type for Uint8 tensor: %T", data)
		}
	default:
		return fmt.Errorf("unsupported dtype: %s", t.DType)
	}
	return nil
}

func Zeros(shape []int, dtype DType) (*Tensor, error) {
	return NewTensor(shape, dtype, nil)
}

func Ones(shape []int, dtype DType) (*Tensor, error) {
	switch dtype {
	case Float32:
		return NewTensor(shape, dtype, float32(1))
	case Int32:
		return NewTensor(shape, dtype, int32(1))
	case Uint8:
		return NewTensor(shape, dtype, uint8(1))
	default:
		return nil, fmt.Errorf("unsupported dtype for Ones: %s", dtype)
	}
}

func Full(shape []int, value interface{}, dtype DType) (*Tensor, error) {
	return NewTensor(shape, dtype, value)
}

// FromFloat32 wraps data without copying.
func FromFloat32(shape []int, data []float32) (*Tensor, error) {
	return NewTensor(shape, Float32, data)
}

// FromUint8 wraps data without copying.
func FromUint8(shape []int, data []uint8) (*Tensor, error) {
	return NewTensor(shape, Uint8, data)
}

// Random fills a Float32 tensor with uniform values in [0, 1) drawn from rng.
func Random(shape []int, rng *rand.Rand) (*Tensor, error) {
	t, err := Zeros(shape, Float32)
	if err != nil {
		return nil, err
	}
	data := t.Data.([]float32)
	for i := range data {
		data[i] = rng.Float32()
	}
	return t, nil
}

// FromScalar creates a single-element Float32 tensor
func FromScalar(value float64) *Tensor {
	return &Tensor{
		Shape:    []int{1},
		Strides:  []int{1},
		DType:    Float32,
		Data:     []float32{float32(value)},
		NumElems: 1,
	}
}

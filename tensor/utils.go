package tensor

import (
	"fmt"
	"math"
	"strings"
)

// Reshape returns a new tensor with the same data but different shape
// The new shape must have the same total number of elements
func (t *Tensor) Reshape(newShape []int) (*Tensor, error) {
	// Calculate total elements in new shape
	newNumElems := 1
	hasNegOne := false
	negOneIdx := -1

	for i, dim := range newShape {
		if dim < 0 {
			if dim != -1 {
				return nil, fmt.Errorf("negative dimension %d at index %d is not allowed (only -1 is allowed)", dim, i)
			}
			if hasNegOne {
				return nil, fmt.Errorf("only one dimension can be -1")
			}
			hasNegOne = true
			negOneIdx = i
		} else if dim == 0 {
			return nil, fmt.Errorf("dimension %d cannot be 0", i)
		} else {
			newNumElems *= dim
		}
	}

	shape := copyShape(newShape)
	if hasNegOne {
		if t.NumElems%newNumElems != 0 {
			return nil, fmt.Errorf("cannot reshape tensor of size %d into shape with -1: size must be divisible by %d", t.NumElems, newNumElems)
		}
		inferredDim := t.NumElems / newNumElems
		shape[negOneIdx] = inferredDim
		newNumElems *= inferredDim
	}

	if newNumElems != t.NumElems {
		return nil, fmt.Errorf("cannot reshape tensor of size %d into shape %v (size %d)", t.NumElems, shape, newNumElems)
	}

	// Share the same underlying data
	return &Tensor{
		Shape:    shape,
		Strides:  calculateStrides(shape),
		DType:    t.DType,
		Data:     t.Data,
		NumElems: t.NumElems,
	}, nil
}

func (t *Tensor) Clone() (*Tensor, error) {
	clone := &Tensor{
		Shape:    copyShape(t.Shape),
		Strides:  copyShape(t.Strides),
		DType:    t.DType,
		NumElems: t.NumElems,
	}

	switch data := t.Data.(type) {
	case []float32:
		clone.Data = append([]float32(nil), data...)
	case []int32:
		clone.Data = append([]int32(nil), data...)
	case []uint8:
		clone.Data = append([]uint8(nil), data...)
	case nil:
		return nil, fmt.Errorf("tensor has nil data")
	default:
		return nil, fmt.Errorf("unsupported dtype for Clone: %s", t.DType)
	}

	return clone, nil
}

// Float32Data returns the elements as float32. Float32 tensors return their
// backing slice; other dtypes are converted into a fresh slice.
func (t *Tensor) Float32Data() ([]float32, error) {
	switch data := t.Data.(type) {
	case []float32:
		return data, nil
	case []int32:
		out := make([]float32, len(data))
		for i, v := range data {
			out[i] = float32(v)
		}
		return out, nil
	case []uint8:
		out := make([]float32, len(data))
		for i, v := range data {
			out[i] = float32(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("tensor is not readable as float32 (dtype %s)", t.DType)
	}
}

// Float64Data returns a float64 copy of the elements, the form gonum works on.
func (t *Tensor) Float64Data() ([]float64, error) {
	data, err := t.Float32Data()
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out, nil
}

func (t *Tensor) Uint8Data() ([]uint8, error) {
	data, ok := t.Data.([]uint8)
	if !ok {
		return nil, fmt.Errorf("tensor is not Uint8 (dtype %s)", t.DType)
	}
	return data, nil
}

// AsType converts t to dtype. Float to integer conversion truncates, the way
// numpy's astype does.
func (t *Tensor) AsType(dtype DType) (*Tensor, error) {
	if t.DType == dtype {
		return t.Clone()
	}
	src, err := t.Float32Data()
	if err != nil {
		return nil, err
	}
	result, err := Zeros(t.Shape, dtype)
	if err != nil {
		return nil, err
	}
	switch dst := result.Data.(type) {
	case []float32:
		copy(dst, src)
	case []int32:
		for i, v := range src {
			dst[i] = int32(v)
		}
	case []uint8:
		for i, v := range src {
			dst[i] = uint8(v)
		}
	}
	return result, nil
}

// Item returns the value of a single-element tensor
func (t *Tensor) Item() (float64, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("Item() can only be called on single-element tensors, got %d elements", t.NumElems)
	}
	data, err := t.Float32Data()
	if err != nil {
		return 0, err
	}
	return float64(data[0]), nil
}

// SumAll returns the sum of every element, accumulated in float64
func (t *Tensor) SumAll() (float64, error) {
	data, err := t.Float32Data()
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, v := range data {
		sum += float64(v)
	}
	return sum, nil
}

// HasNaN reports whether any element is NaN
func (t *Tensor) HasNaN() bool {
	data, ok := t.Data.([]float32)
	if !ok {
		return false
	}
	for _, v := range data {
		if math.IsNaN(float64(v)) {
			return true
		}
	}
	return false
}

func (t *Tensor) PrintData(maxElements int) string {
	data, err := t.Float32Data()
	if err != nil {
		return fmt.Sprintf("Error getting data: %v", err)
	}

	var sb strings.Builder
	sb.WriteString(t.String())
	sb.WriteString("\nData: [")
	limit := len(data)
	if maxElements > 0 && limit > maxElements {
		limit = maxElements
	}
	for i := 0; i < limit; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprintf("%.4f", data[i]))
	}
	if limit < len(data) {
		sb.WriteString(", ...")
	}
	sb.WriteString("]")
	return sb.String()
}

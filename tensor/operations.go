package tensor

import (
	"fmt"
	"math"
)

func checkShapesCompatible(shape1, shape2 []int) ([]int, error) {
	if len(shape1) == 0 || len(shape2) == 0 {
		return nil, fmt.Errorf("cannot operate on empty tensors")
	}

	if len(shape1) != len(shape2) {
		return nil, fmt.Errorf("tensor shapes must have same number of dimensions: %v vs %v", shape1, shape2)
	}

	for i := range shape1 {
		if shape1[i] != shape2[i] {
			return nil, fmt.Errorf("tensor shapes must match: %v vs %v", shape1, shape2)
		}
	}

	return shape1, nil
}

// elementwise applies fn to each pair of elements. Operands of any dtype are
// read as float32; the result is always Float32.
func elementwise(name string, t1, t2 *Tensor, fn func(a, b float32) float32) (*Tensor, error) {
	outputShape, err := checkShapesCompatible(t1.Shape, t2.Shape)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	a, err := t1.Float32Data()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	b, err := t2.Float32Data()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	result, err := Zeros(outputShape, Float32)
	if err != nil {
		return nil, err
	}
	resultData := result.Data.([]float32)
	for i := range resultData {
		resultData[i] = fn(a[i], b[i])
	}
	return result, nil
}

func Add(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise("Add", t1, t2, func(a, b float32) float32 { return a + b })
}

func Sub(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise("Sub", t1, t2, func(a, b float32) float32 { return a - b })
}

func Mul(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise("Mul", t1, t2, func(a, b float32) float32 { return a * b })
}

func Div(t1, t2 *Tensor) (*Tensor, error) {
	if b, err := t2.Float32Data(); err == nil {
		for i, v := range b {
			if v == 0 {
				return nil, fmt.Errorf("division by zero at index %d", i)
			}
		}
	}
	return elementwise("Div", t1, t2, func(a, b float32) float32 { return a / b })
}

// Scale multiplies every element by s
func Scale(t *Tensor, s float32) (*Tensor, error) {
	return unary("Scale", t, func(v float32) float32 { return v * s })
}

func unary(name string, t *Tensor, fn func(float32) float32) (*Tensor, error) {
	data, err := t.Float32Data()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	result, err := Zeros(t.Shape, Float32)
	if err != nil {
		return nil, err
	}
	resultData := result.Data.([]float32)
	for i, v := range data {
		resultData[i] = fn(v)
	}
	return result, nil
}

func Exp(t *Tensor) (*Tensor, error) {
	return unary("Exp", t, func(v float32) float32 { return float32(math.Exp(float64(v))) })
}

// Log is the natural logarithm. Zero maps to -Inf and negative values to NaN,
// matching the usual floating point semantics.
func Log(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("Log only supports Float32 dtype")
	}
	return unary("Log", t, func(v float32) float32 { return float32(math.Log(float64(v))) })
}

package tensor

import (
	"fmt"
)

func getIndex(indices []int, strides []int) int {
	index := 0
	for i, idx := range indices {
		index += idx * strides[i]
	}
	return index
}

func getIndicesFromLinear(linearIndex int, shape []int) []int {
	indices := make([]int, len(shape))
	for i := len(shape) - 1; i >= 0; i-- {
		indices[i] = linearIndex % shape[i]
		linearIndex /= shape[i]
	}
	return indices
}

// Reshape copies t into a new tensor with the given shape
func Reshape(t *Tensor, newShape []int) (*Tensor, error) {
	view, err := t.Reshape(copyShape(newShape))
	if err != nil {
		return nil, err
	}
	return view.Clone()
}

func Flatten(t *Tensor) (*Tensor, error) {
	return Reshape(t, []int{t.NumElems})
}

func Squeeze(t *Tensor, dim int) (*Tensor, error) {
	dim, err := normalizeDim(dim, len(t.Shape))
	if err != nil {
		return nil, err
	}

	if t.Shape[dim] != 1 {
		return nil, fmt.Errorf("cannot squeeze dimension %d with size %d (must be 1)", dim, t.Shape[dim])
	}
	if len(t.Shape) == 1 {
		return t.Clone()
	}

	newShape := make([]int, 0, len(t.Shape)-1)
	for i, size := range t.Shape {
		if i != dim {
			newShape = append(newShape, size)
		}
	}

	return Reshape(t, newShape)
}

// SqueezeIfSingleton drops dim when its size is 1 and returns t unchanged otherwise.
func SqueezeIfSingleton(t *Tensor, dim int) (*Tensor, error) {
	d, err := normalizeDim(dim, len(t.Shape))
	if err != nil {
		return nil, err
	}
	if t.Shape[d] != 1 || len(t.Shape) == 1 {
		return t, nil
	}
	return Squeeze(t, d)
}

func Unsqueeze(t *Tensor, dim int) (*Tensor, error) {
	if dim < 0 || dim > len(t.Shape) {
		return nil, fmt.Errorf("dim %d out of range for unsqueeze operation", dim)
	}

	newShape := make([]int, len(t.Shape)+1)
	copy(newShape[:dim], t.Shape[:dim])
	newShape[dim] = 1
	copy(newShape[dim+1:], t.Shape[dim:])

	return Reshape(t, newShape)
}

// Sum reduces t over dim. Integer tensors are summed as Float32.
func Sum(t *Tensor, dim int, keepDim bool) (*Tensor, error) {
	dim, err := normalizeDim(dim, len(t.Shape))
	if err != nil {
		return nil, err
	}

	var outputShape []int
	if keepDim || len(t.Shape) == 1 {
		outputShape = copyShape(t.Shape)
		outputShape[dim] = 1
	} else {
		outputShape = make([]int, 0, len(t.Shape)-1)
		for i, size := range t.Shape {
			if i != dim {
				outputShape = append(outputShape, size)
			}
		}
	}

	result, err := Zeros(outputShape, Float32)
	if err != nil {
		return nil, err
	}

	data, err := t.Float32Data()
	if err != nil {
		return nil, err
	}
	resultData := result.Data.([]float32)

	// Row-major: split into outer blocks, the reduced axis, and the inner stride
	outer := 1
	for _, size := range t.Shape[:dim] {
		outer *= size
	}
	inner := t.Strides[dim]
	n := t.Shape[dim]
	for o := 0; o < outer; o++ {
		for k := 0; k < n; k++ {
			base := (o*n + k) * inner
			for i := 0; i < inner; i++ {
				resultData[o*inner+i] += data[base+i]
			}
		}
	}

	return result, nil
}

// Select returns the slice of t at index along dim, with dim removed.
// Select(out, 1, k) is out[:, k] in numpy notation.
func Select(t *Tensor, dim, index int) (*Tensor, error) {
	dim, err := normalizeDim(dim, len(t.Shape))
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= t.Shape[dim] {
		return nil, fmt.Errorf("index %d out of range for dimension %d of size %d", index, dim, t.Shape[dim])
	}

	var outputShape []int
	for i, size := range t.Shape {
		if i != dim {
			outputShape = append(outputShape, size)
		}
	}
	if len(outputShape) == 0 {
		outputShape = []int{1}
	}

	result, err := Zeros(outputShape, t.DType)
	if err != nil {
		return nil, err
	}

	outer := 1
	for _, size := range t.Shape[:dim] {
		outer *= size
	}
	inner := t.Strides[dim]
	n := t.Shape[dim]

	for o := 0; o < outer; o++ {
		src := (o*n + index) * inner
		dst := o * inner
		switch t.DType {
		case Float32:
			copy(result.Data.([]float32)[dst:dst+inner], t.Data.([]float32)[src:src+inner])
		case Int32:
			copy(result.Data.([]int32)[dst:dst+inner], t.Data.([]int32)[src:src+inner])
		case Uint8:
			copy(result.Data.([]uint8)[dst:dst+inner], t.Data.([]uint8)[src:src+inner])
		default:
			return nil, fmt.Errorf("unsupported dtype for Select: %s", t.DType)
		}
	}

	return result, nil
}

// OneHot expands integer class labels into a Float32 tensor with a new
// trailing dimension of size numClasses.
func OneHot(t *Tensor, numClasses int) (*Tensor, error) {
	if numClasses <= 0 {
		return nil, fmt.Errorf("numClasses must be positive, got %d", numClasses)
	}
	labels, err := t.Float32Data()
	if err != nil {
		return nil, err
	}

	outputShape := append(copyShape(t.Shape), numClasses)
	result, err := Zeros(outputShape, Float32)
	if err != nil {
		return nil, err
	}
	resultData := result.Data.([]float32)

	for i, v := range labels {
		class := int(v)
		if float32(class) != v || class < 0 || class >= numClasses {
			return nil, fmt.Errorf("label %v at index %d is not a class in [0, %d)", v, i, numClasses)
		}
		resultData[i*numClasses+class] = 1
	}

	return result, nil
}

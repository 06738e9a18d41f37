package training

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/go-segkit/tensor"
)

// Loss interface defines methods that all loss functions must implement.
// Forward returns a single-element tensor; Backward returns the gradient with
// respect to predicted.
type Loss interface {
	Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error)
	Backward(predicted, target *tensor.Tensor) (*tensor.Tensor, error)
}

// DiceEpsilon smooths the dice ratio so empty masks score 1
const DiceEpsilon = 1e-4

func diceSums(pred, target *tensor.Tensor) (p, t []float64, intersection, union float64, err error) {
	if pred.NumElems != target.NumElems {
		return nil, nil, 0, 0, fmt.Errorf("%w: dice needs equal sizes, got %v and %v",
			ErrInvalidArgument, pred.Shape, target.Shape)
	}
	if p, err = pred.Float64Data(); err != nil {
		return nil, nil, 0, 0, err
	}
	if t, err = target.Float64Data(); err != nil {
		return nil, nil, 0, 0, err
	}
	return p, t, floats.Dot(p, t), floats.Sum(p) + floats.Sum(t), nil
}

// DiceScore returns the negated soft dice coefficient of pred and target,
// -(2*sum(p*t)+eps)/(sum(p)+sum(t)+eps). Both tensors are flattened; they may
// differ in shape but not in element count. Identical binary masks score -1.
func DiceScore(pred, target *tensor.Tensor) (float64, error) {
	_, _, intersection, union, err := diceSums(pred, target)
	if err != nil {
		return 0, err
	}
	return -(2*intersection + DiceEpsilon) / (union + DiceEpsilon), nil
}

// DiceLoss is DiceScore as a Loss
type DiceLoss struct{}

func (DiceLoss) Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	score, err := DiceScore(predicted, target)
	if err != nil {
		return nil, err
	}
	return tensor.FromScalar(score), nil
}

// Backward returns d(-dice)/dp = -(2*t*(U+eps) - (2*I+eps)) / (U+eps)^2
func (DiceLoss) Backward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	p, t, intersection, union, err := diceSums(predicted, target)
	if err != nil {
		return nil, err
	}

	u := union + DiceEpsilon
	num := 2*intersection + DiceEpsilon
	grad := make([]float32, len(p))
	for i := range grad {
		grad[i] = float32(-(2*t[i]*u - num) / (u * u))
	}
	return tensor.FromFloat32(copyInts(predicted.Shape), grad)
}

// ConfusionLoss rewards uniform class probabilities. It is the domain
// confusion penalty of domain-adversarial training: for x of shape
// [samples, classes], loss = -sum_i (sum_j log x_ij) / classes.
type ConfusionLoss struct {
	// Task identifies which domain head the loss belongs to. It does not
	// change the computation.
	Task int
}

func (cl ConfusionLoss) check(x *tensor.Tensor) error {
	if len(x.Shape) != 2 {
		return fmt.Errorf("%w: confusion loss needs [samples, classes], got %v", ErrInvalidArgument, x.Shape)
	}
	if x.DType != tensor.Float32 {
		return fmt.Errorf("%w: confusion loss needs float32 probabilities, got %s", ErrInvalidArgument, x.DType)
	}
	return nil
}

// Forward computes the loss; target is ignored and may be nil
func (cl ConfusionLoss) Forward(x, target *tensor.Tensor) (*tensor.Tensor, error) {
	if err := cl.check(x); err != nil {
		return nil, err
	}

	logs, err := tensor.Log(x)
	if err != nil {
		return nil, err
	}
	rowSums, err := tensor.Sum(logs, 1, false)
	if err != nil {
		return nil, err
	}
	normalised, err := tensor.Scale(rowSums, 1/float32(x.Shape[1]))
	if err != nil {
		return nil, err
	}
	total, err := normalised.SumAll()
	if err != nil {
		return nil, err
	}
	return tensor.FromScalar(-total), nil
}

// Backward returns -1/(classes*x)
func (cl ConfusionLoss) Backward(x, target *tensor.Tensor) (*tensor.Tensor, error) {
	if err := cl.check(x); err != nil {
		return nil, err
	}

	c := float32(x.Shape[1])
	data := x.Data.([]float32)
	grad := make([]float32, len(data))
	for i, v := range data {
		grad[i] = -1 / (c * v)
	}
	return tensor.FromFloat32(copyInts(x.Shape), grad)
}

// CrossEntropyLoss is the softmax cross entropy used to train a domain
// predictor. predicted holds [batch, classes] logits; target holds [batch]
// class indices (Int32 or Uint8).
type CrossEntropyLoss struct {
	reduction string // "mean" or "sum"
}

// NewCrossEntropyLoss creates a new Cross Entropy loss function
func NewCrossEntropyLoss(reduction string) *CrossEntropyLoss {
	if reduction == "" {
		reduction = "mean"
	}
	return &CrossEntropyLoss{reduction: reduction}
}

func (ce *CrossEntropyLoss) classes(predicted, target *tensor.Tensor) ([]int, error) {
	if predicted.DType != tensor.Float32 {
		return nil, fmt.Errorf("predicted must be Float32, got %s", predicted.DType)
	}
	if len(predicted.Shape) != 2 {
		return nil, fmt.Errorf("predicted must be 2D tensor [batch_size, num_classes], got shape %v", predicted.Shape)
	}
	if target.NumElems != predicted.Shape[0] {
		return nil, fmt.Errorf("batch size mismatch: predicted %d, target %d", predicted.Shape[0], target.NumElems)
	}

	numClasses := predicted.Shape[1]
	var labels []int
	switch target.DType {
	case tensor.Int32:
		for _, v := range target.Data.([]int32) {
			labels = append(labels, int(v))
		}
	case tensor.Uint8:
		for _, v := range target.Data.([]uint8) {
			labels = append(labels, int(v))
		}
	default:
		return nil, fmt.Errorf("target must hold class indices, got %s", target.DType)
	}
	for _, c := range labels {
		if c < 0 || c >= numClasses {
			return nil, fmt.Errorf("target class %d out of range [0, %d)", c, numClasses)
		}
	}
	return labels, nil
}

// Forward computes the Cross Entropy loss
func (ce *CrossEntropyLoss) Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	labels, err := ce.classes(predicted, target)
	if err != nil {
		return nil, err
	}

	probs := softmax(predicted)
	numClasses := predicted.Shape[1]
	var total float64
	for i, c := range labels {
		prob := float64(probs[i*numClasses+c])
		// Add small epsilon to prevent log(0)
		total -= math.Log(math.Max(prob, 1e-10))
	}
	if ce.reduction == "mean" {
		total /= float64(len(labels))
	}
	return tensor.FromScalar(total), nil
}

// Backward computes softmax(predicted) - onehot(target)
func (ce *CrossEntropyLoss) Backward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	labels, err := ce.classes(predicted, target)
	if err != nil {
		return nil, err
	}

	grad := softmax(predicted)
	numClasses := predicted.Shape[1]
	for i, c := range labels {
		grad[i*numClasses+c] -= 1.0
	}
	if ce.reduction == "mean" {
		scale := 1 / float32(len(labels))
		for i := range grad {
			grad[i] *= scale
		}
	}
	return tensor.FromFloat32(copyInts(predicted.Shape), grad)
}

// softmax applies softmax row by row
func softmax(logits *tensor.Tensor) []float32 {
	batchSize := logits.Shape[0]
	numClasses := logits.Shape[1]

	data := logits.Data.([]float32)
	result := make([]float32, len(data))

	for i := 0; i < batchSize; i++ {
		offset := i * numClasses

		// Find max for numerical stability
		maxVal := data[offset]
		for j := 1; j < numClasses; j++ {
			if data[offset+j] > maxVal {
				maxVal = data[offset+j]
			}
		}

		var sum float32
		for j := 0; j < numClasses; j++ {
			exp := float32(math.Exp(float64(data[offset+j] - maxVal)))
			result[offset+j] = exp
			sum += exp
		}

		for j := 0; j < numClasses; j++ {
			result[offset+j] /= sum
		}
	}

	return result
}

func copyInts(s []int) []int {
	return append([]int(nil), s...)
}

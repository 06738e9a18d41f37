package training

import (
	"fmt"
	"math"

	"github.com/tsawler/go-segkit/tensor"
)

// Metric scores one prediction against its mask. Results that are NaN or zero
// are treated as "no result" by the validation loop.
type Metric interface {
	Name() string
	Apply(prediction, mask *tensor.Tensor) (float64, error)
}

// MetricFunc adapts a plain function to the Metric interface
func MetricFunc(name string, fn func(prediction, mask *tensor.Tensor) (float64, error)) Metric {
	return metricFunc{name: name, fn: fn}
}

type metricFunc struct {
	name string
	fn   func(prediction, mask *tensor.Tensor) (float64, error)
}

func (m metricFunc) Name() string { return m.name }

func (m metricFunc) Apply(prediction, mask *tensor.Tensor) (float64, error) {
	return m.fn(prediction, mask)
}

// MetricType represents the pixel-wise segmentation metrics
type MetricType int

const (
	DiceCoefficient MetricType = iota
	IntersectionOverUnion
	Precision
	Recall // sensitivity
	Specificity
	Accuracy
)

func (mt MetricType) String() string {
	switch mt {
	case DiceCoefficient:
		return "dice_score"
	case IntersectionOverUnion:
		return "intersection_over_union"
	case Precision:
		return "precision_score"
	case Recall:
		return "recall_score"
	case Specificity:
		return "specificity_score"
	case Accuracy:
		return "accuracy_score"
	default:
		return fmt.Sprintf("Unknown(%d)", int(mt))
	}
}

// ConfusionMatrix holds pixel counts of a binary segmentation
type ConfusionMatrix struct {
	TP, FP, TN, FN int
}

// NewConfusionMatrix binarizes prediction at threshold (mask at 0.5) and
// counts agreements. Both tensors must hold the same number of elements.
func NewConfusionMatrix(prediction, mask *tensor.Tensor, threshold float64) (ConfusionMatrix, error) {
	var cm ConfusionMatrix
	if prediction.NumElems != mask.NumElems {
		return cm, fmt.Errorf("%w: prediction %v and mask %v differ in size",
			ErrInvalidArgument, prediction.Shape, mask.Shape)
	}
	p, err := prediction.Float32Data()
	if err != nil {
		return cm, err
	}
	m, err := mask.Float32Data()
	if err != nil {
		return cm, err
	}

	for i := range p {
		pos := float64(p[i]) > threshold
		truth := m[i] > 0.5
		switch {
		case pos && truth:
			cm.TP++
		case pos && !truth:
			cm.FP++
		case !pos && truth:
			cm.FN++
		default:
			cm.TN++
		}
	}
	return cm, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return math.NaN()
	}
	return float64(num) / float64(den)
}

// GetMetric computes metric from the counts. Undefined ratios are NaN, except
// dice and IoU of an empty prediction on an empty mask, which score 1.
func (cm ConfusionMatrix) GetMetric(metric MetricType) float64 {
	switch metric {
	case DiceCoefficient:
		if cm.TP+cm.FP+cm.FN == 0 {
			return 1
		}
		return ratio(2*cm.TP, 2*cm.TP+cm.FP+cm.FN)
	case IntersectionOverUnion:
		if cm.TP+cm.FP+cm.FN == 0 {
			return 1
		}
		return ratio(cm.TP, cm.TP+cm.FP+cm.FN)
	case Precision:
		return ratio(cm.TP, cm.TP+cm.FP)
	case Recall:
		return ratio(cm.TP, cm.TP+cm.FN)
	case Specificity:
		return ratio(cm.TN, cm.TN+cm.FP)
	case Accuracy:
		return ratio(cm.TP+cm.TN, cm.TP+cm.TN+cm.FP+cm.FN)
	default:
		return math.NaN()
	}
}

// SegmentationMetric is a Metric computed from the binary confusion matrix
type SegmentationMetric struct {
	Type      MetricType
	Threshold float64
}

// NewSegmentationMetric thresholds predictions at 0.5
func NewSegmentationMetric(metric MetricType) SegmentationMetric {
	return SegmentationMetric{Type: metric, Threshold: 0.5}
}

func (sm SegmentationMetric) Name() string {
	return sm.Type.String()
}

func (sm SegmentationMetric) Apply(prediction, mask *tensor.Tensor) (float64, error) {
	cm, err := NewConfusionMatrix(prediction, mask, sm.Threshold)
	if err != nil {
		return 0, err
	}
	return cm.GetMetric(sm.Type), nil
}

// DefaultSegmentationMetrics returns dice, IoU, precision, recall and
// specificity
func DefaultSegmentationMetrics() []Metric {
	return []Metric{
		NewSegmentationMetric(DiceCoefficient),
		NewSegmentationMetric(IntersectionOverUnion),
		NewSegmentationMetric(Precision),
		NewSegmentationMetric(Recall),
		NewSegmentationMetric(Specificity),
	}
}

package training

import (
	"math"
	"testing"

	"github.com/tsawler/go-segkit/tensor"
)

func TestConfusionMatrixCounts(t *testing.T) {
	pred, _ := tensor.FromFloat32([]int{2, 3}, []float32{0.9, 0.8, 0.2, 0.1, 0.7, 0.4})
	mask, _ := tensor.FromUint8([]int{2, 3}, []uint8{1, 0, 1, 0, 1, 0})

	cm, err := NewConfusionMatrix(pred, mask, 0.5)
	if err != nil {
		t.Fatalf("NewConfusionMatrix failed: %v", err)
	}
	expected := ConfusionMatrix{TP: 2, FP: 1, TN: 2, FN: 1}
	if cm != expected {
		t.Errorf("counts = %+v, expected %+v", cm, expected)
	}

	tests := []struct {
		metric   MetricType
		expected float64
	}{
		{DiceCoefficient, 4.0 / 6.0},
		{IntersectionOverUnion, 2.0 / 4.0},
		{Precision, 2.0 / 3.0},
		{Recall, 2.0 / 3.0},
		{Specificity, 2.0 / 3.0},
		{Accuracy, 4.0 / 6.0},
	}
	for _, tt := range tests {
		if got := cm.GetMetric(tt.metric); math.Abs(got-tt.expected) > 1e-12 {
			t.Errorf("%s = %g, expected %g", tt.metric, got, tt.expected)
		}
	}
}

func TestConfusionMatrixEmptyMasks(t *testing.T) {
	cm := ConfusionMatrix{TN: 16}

	if got := cm.GetMetric(DiceCoefficient); got != 1 {
		t.Errorf("dice of empty masks = %g, expected 1", got)
	}
	if got := cm.GetMetric(Precision); !math.IsNaN(got) {
		t.Errorf("precision without positives = %g, expected NaN", got)
	}
	if got := cm.GetMetric(Recall); !math.IsNaN(got) {
		t.Errorf("recall without positives = %g, expected NaN", got)
	}
	if got := cm.GetMetric(MetricType(42)); !math.IsNaN(got) {
		t.Errorf("unknown metric = %g, expected NaN", got)
	}
}

func TestSegmentationMetric(t *testing.T) {
	metric := NewSegmentationMetric(DiceCoefficient)
	if metric.Name() != "dice_score" {
		t.Errorf("Name() = %s", metric.Name())
	}

	pred, _ := tensor.FromFloat32([]int{4}, []float32{1, 1, 0, 0})
	mask, _ := tensor.FromFloat32([]int{4}, []float32{1, 1, 0, 0})
	if got, _ := metric.Apply(pred, mask); got != 1 {
		t.Errorf("dice of identical masks = %g", got)
	}

	short, _ := tensor.Zeros([]int{3}, tensor.Float32)
	if _, err := metric.Apply(pred, short); err == nil {
		t.Error("expected size mismatch error")
	}

	if n := len(DefaultSegmentationMetrics()); n != 5 {
		t.Errorf("expected 5 default metrics, got %d", n)
	}
}

func TestMetricFunc(t *testing.T) {
	m := MetricFunc("constant", func(_, _ *tensor.Tensor) (float64, error) { return 1, nil })
	if m.Name() != "constant" {
		t.Errorf("Name() = %s", m.Name())
	}
	if v, err := m.Apply(nil, nil); err != nil || v != 1 {
		t.Errorf("Apply() = %g, %v", v, err)
	}
}

package training

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-segkit/monitor"
	"github.com/tsawler/go-segkit/results"
	"github.com/tsawler/go-segkit/tensor"
)

type passThroughModel struct{}

func (passThroughModel) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return input, nil
}

type fixedModel struct {
	out *tensor.Tensor
}

func (m fixedModel) Forward(*tensor.Tensor) (*tensor.Tensor, error) {
	return m.out, nil
}

func constantMetric(name string, v float64) Metric {
	return MetricFunc(name, func(_, _ *tensor.Tensor) (float64, error) { return v, nil })
}

func binaryLoader(t *testing.T) *DataLoader {
	t.Helper()
	masks := []float32{
		1, 0, 0, 1,
		1, 1, 0, 0,
		0, 0, 0, 1,
		1, 1, 1, 1,
	}
	x, err := tensor.FromFloat32([]int{4, 1, 2, 2}, masks)
	require.NoError(t, err)
	y, err := x.AsType(tensor.Uint8)
	require.NoError(t, err)
	ds, err := NewTensorDataset(x, y)
	require.NoError(t, err)
	return NewDataLoader(ds, 2, false, nil)
}

func TestValidateBinary(t *testing.T) {
	store, err := results.NewFileStore(t.TempDir(), false)
	require.NoError(t, err)
	history := monitor.NewHistory("unet")

	metrics := []Metric{
		constantMetric("constant", 1),
		constantMetric("empty", 0),
		constantMetric("undefined", math.NaN()),
		NewSegmentationMetric(DiceCoefficient),
	}
	cfg := ValidationConfig{Epoch: 3, OutChannels: 1, ExperimentName: "exp"}

	summary, err := Validate(t.Context(), passThroughModel{}, binaryLoader(t), metrics, cfg, store, history)
	require.NoError(t, err)

	assert.InDelta(t, -1.0, summary.LossAvg, 1e-9)
	assert.Equal(t, 2, summary.Steps)
	assert.Equal(t, 4, summary.Samples)
	assert.Equal(t, 3, summary.Epoch)
	assert.NotEmpty(t, summary.RunID)

	// a metric that always returns 1 yields one value per sample
	st := summary.Metrics["val_constant"]
	assert.Equal(t, 4, st.Count)
	assert.Equal(t, 1.0, st.Mean)
	assert.Equal(t, 0.0, st.Std)
	assert.Len(t, summary.Values["val_constant"], 4)

	assert.NotContains(t, summary.Metrics, "val_empty")
	assert.NotContains(t, summary.Metrics, "val_undefined")
	assert.Equal(t, 1.0, summary.Metrics["val_dice_score"].Mean)
	assert.Equal(t, []string{"val_constant", "val_dice_score"}, summary.Keys())

	ctx := context.Background()
	values, err := store.LoadValues(ctx, "val_constant_exp")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1, 1, 1}, values)

	saved, err := store.LoadSummary(ctx, "metrics_exp")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{
		"val_constant_mean":   1,
		"val_constant_std":    0,
		"val_dice_score_mean": 1,
		"val_dice_score_std":  0,
	}, saved)

	_, err = store.LoadValues(ctx, "val_empty_exp")
	assert.ErrorIs(t, err, results.ErrNotFound)

	loss, ok := history.Last("losses", "loss")
	require.True(t, ok)
	assert.InDelta(t, -1.0, loss, 1e-9)
	series := history.Series("metrics", "val_constant_mean")
	require.Len(t, series, 1)
	assert.Equal(t, 3, series[0].X)
}

func TestValidateOneHot(t *testing.T) {
	x, _ := tensor.Zeros([]int{2, 1, 2, 2}, tensor.Float32)
	y, _ := tensor.FromUint8([]int{2, 2, 2}, []uint8{0, 1, 1, 0, 1, 1, 0, 0})
	out, _ := tensor.FromFloat32([]int{2, 2, 2, 2}, []float32{
		1, 0, 0, 1, 0, 1, 1, 0,
		0, 0, 1, 1, 1, 1, 0, 0,
	})
	ds, err := NewTensorDataset(x, y)
	require.NoError(t, err)

	cfg := ValidationConfig{Epoch: 0, OutChannels: 2, ExperimentName: "onehot", OneHot: true}
	summary, err := Validate(t.Context(), fixedModel{out: out}, NewDataLoader(ds, 2, false, nil),
		[]Metric{NewSegmentationMetric(DiceCoefficient)}, cfg, nil, nil)
	require.NoError(t, err)

	assert.InDelta(t, -1.0, summary.LossAvg, 1e-9)
	assert.Equal(t, 1, summary.Steps)
	assert.Equal(t, 2, summary.Metrics["val_dice_score"].Count)
	assert.Equal(t, 1.0, summary.Metrics["val_dice_score"].Mean)
}

func TestValidateOneHotNeedsChannels(t *testing.T) {
	cfg := ValidationConfig{OneHot: true}
	_, err := Validate(t.Context(), passThroughModel{}, binaryLoader(t), nil, cfg, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestValidateEmptyLoader(t *testing.T) {
	ds, err := NewSimpleDataset(nil, nil)
	require.NoError(t, err)

	_, err = Validate(t.Context(), passThroughModel{}, NewDataLoader(ds, 2, false, nil), nil,
		ValidationConfig{ExperimentName: "empty"}, nil, nil)
	assert.ErrorIs(t, err, ErrDivideByZero)
}

func TestValidateCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := Validate(ctx, passThroughModel{}, binaryLoader(t), nil, ValidationConfig{}, nil, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

type failingSink struct{}

func (failingSink) AddScalars(context.Context, string, map[string]float64, int) error {
	return errors.New("sink unavailable")
}

type runKey struct{}

type contextSink struct{ runs []any }

func (s *contextSink) AddScalars(ctx context.Context, _ string, _ map[string]float64, _ int) error {
	s.runs = append(s.runs, ctx.Value(runKey{}))
	return nil
}

func TestValidatePassesContextToSink(t *testing.T) {
	ctx := context.WithValue(t.Context(), runKey{}, "exp")
	sink := &contextSink{}

	_, err := Validate(ctx, passThroughModel{}, binaryLoader(t), nil,
		ValidationConfig{ExperimentName: "exp"}, nil, sink)
	require.NoError(t, err)
	assert.Equal(t, []any{"exp", "exp"}, sink.runs)
}

func TestValidateSinkError(t *testing.T) {
	summary, err := Validate(t.Context(), passThroughModel{}, binaryLoader(t), nil,
		ValidationConfig{ExperimentName: "exp"}, nil, failingSink{})
	require.Error(t, err)
	assert.InDelta(t, -1.0, summary.LossAvg, 1e-9, "the summary is still returned")
}

func TestAccumulator(t *testing.T) {
	acc := NewAccumulator()
	_, err := acc.Finalize()
	assert.ErrorIs(t, err, ErrDivideByZero)

	acc.AddLoss(-0.5, 2)
	acc.AddLoss(-1.5, 3)
	for _, v := range []float64{1, 2, 3, 4} {
		assert.True(t, acc.AddResult("val_x", v))
	}
	assert.False(t, acc.AddResult("val_x", 0))
	assert.False(t, acc.AddResult("val_y", math.NaN()))

	s, err := acc.Finalize()
	require.NoError(t, err)
	assert.Equal(t, -1.0, s.LossAvg)
	assert.Equal(t, 2, s.Steps)
	assert.Equal(t, 5, s.Samples)
	assert.NotContains(t, s.Metrics, "val_y")

	st := s.Metrics["val_x"]
	assert.Equal(t, 2.5, st.Mean)
	assert.InDelta(t, math.Sqrt(1.25), st.Std, 1e-12, "population std")

	flat := s.Flatten()
	assert.Equal(t, 2.5, flat["val_x_mean"])
	assert.Len(t, flat, 2)
}

package checkpoints

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-segkit/tensor"
)

func testCheckpoint() *Checkpoint {
	checkpoint := &Checkpoint{
		Component: "encoder",
		Weights: []WeightTensor{
			{Name: "conv1.weight", Shape: []int{4, 1, 3, 3}, Data: make([]float32, 36)},
			{Name: "conv1.bias", Shape: []int{4}, Data: []float32{0.1, -0.2, 0.3, -0.4}},
		},
		TrainingState: TrainingState{
			Epoch:        12,
			Step:         480,
			LearningRate: 1e-4,
			ValLoss:      0.3125,
			Loss:         0.25,
		},
		OptimizerState: &OptimizerState{
			Type:       "Adam",
			Parameters: map[string]float64{"beta1": 0.9, "beta2": 0.999},
			StateData: []WeightTensor{
				{Name: "conv1.bias.m", Shape: []int{4}, Data: []float32{1, 2, 3, 4}},
			},
		},
		Metadata: CheckpointMetadata{
			Version:     frameworkVersion,
			Framework:   framework,
			CreatedAt:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			Description: "encoder after stage 1",
			Tags:        []string{"cc359", "unlearning"},
		},
	}
	for i := range checkpoint.Weights[0].Data {
		checkpoint.Weights[0].Data[i] = float32(i%9) * 0.01
	}
	return checkpoint
}

func TestCheckpointRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		format CheckpointFormat
		file   string
	}{
		{"json", FormatJSON, "encoder.json"},
		{"json zstd", FormatJSON, "encoder.json.zst"},
		{"onnx", FormatONNX, "encoder.onnx"},
		{"msgpack", FormatMsgpack, "encoder.msgpack"},
		{"msgpack zstd", FormatMsgpack, "encoder.msgpack.zst"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			saver := NewCheckpointSaver(tt.format)
			in := testCheckpoint()
			require.NoError(t, saver.SaveCheckpoint(in, path))

			out, err := saver.LoadCheckpoint(path)
			require.NoError(t, err)

			assert.Equal(t, in.ID, out.ID)
			assert.Equal(t, in.Component, out.Component)
			assert.Equal(t, in.Weights, out.Weights)
			assert.Equal(t, in.TrainingState, out.TrainingState)
			require.NotNil(t, out.OptimizerState)
			assert.Equal(t, in.OptimizerState.Type, out.OptimizerState.Type)
			assert.Equal(t, in.OptimizerState.Parameters, out.OptimizerState.Parameters)
			assert.Equal(t, in.OptimizerState.StateData, out.OptimizerState.StateData)
			assert.Equal(t, in.Metadata.Tags, out.Metadata.Tags)
			assert.True(t, in.Metadata.CreatedAt.Equal(out.Metadata.CreatedAt))
		})
	}
}

func TestSaveFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.json")
	checkpoint := &Checkpoint{
		Component: "regressor",
		Weights:   []WeightTensor{{Name: "fc.weight", Shape: []int{2}, Data: []float32{1, 2}}},
	}

	require.NoError(t, NewCheckpointSaver(FormatJSON).SaveCheckpoint(checkpoint, path))
	assert.NotEmpty(t, checkpoint.ID)
	assert.Equal(t, framework, checkpoint.Metadata.Framework)
	assert.False(t, checkpoint.Metadata.CreatedAt.IsZero())
}

func TestSaveRejectsShapeMismatch(t *testing.T) {
	checkpoint := &Checkpoint{
		Weights: []WeightTensor{{Name: "bad", Shape: []int{2, 2}, Data: []float32{1, 2, 3}}},
	}
	err := NewCheckpointSaver(FormatJSON).SaveCheckpoint(checkpoint, filepath.Join(t.TempDir(), "bad.json"))
	assert.Error(t, err)
}

func TestUnsupportedCheckpointFormat(t *testing.T) {
	saver := NewCheckpointSaver(CheckpointFormat(99))
	err := saver.SaveCheckpoint(testCheckpoint(), filepath.Join(t.TempDir(), "x.bin"))
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
	assert.Equal(t, "Unknown", CheckpointFormat(99).String())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := NewCheckpointSaver(FormatJSON).LoadCheckpoint(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestFormatFromPath(t *testing.T) {
	tests := map[string]CheckpointFormat{
		"model.onnx":            FormatONNX,
		"model.ONNX":            FormatONNX,
		"model.msgpack.zst":     FormatMsgpack,
		"model.mpk":             FormatMsgpack,
		"model.json":            FormatJSON,
		"encoder_checkpoint.pt": FormatJSON,
	}
	for path, expected := range tests {
		assert.Equal(t, expected, FormatFromPath(path), path)
	}
}

func TestONNXReadsRawData(t *testing.T) {
	// A minimal ModelProto whose single initializer stores values in raw_data,
	// as most exporters do.
	raw := []byte{0, 0, 128, 63, 0, 0, 0, 64} // 1.0, 2.0 little endian
	tensorMsg := []byte{}
	tensorMsg = append(tensorMsg, 0x0a, 0x01, 0x02)       // dims: packed [2]
	tensorMsg = append(tensorMsg, 0x10, 0x01)             // data_type FLOAT
	tensorMsg = append(tensorMsg, 0x42, 0x01, 'w')        // name "w"
	tensorMsg = append(tensorMsg, 0x4a, byte(len(raw)))   // raw_data
	tensorMsg = append(tensorMsg, raw...)
	graph := append([]byte{0x2a, byte(len(tensorMsg))}, tensorMsg...)
	model := append([]byte{0x3a, byte(len(graph))}, graph...)

	checkpoint, err := NewONNXImporter().Unmarshal(model)
	require.NoError(t, err)
	require.Len(t, checkpoint.Weights, 1)
	assert.Equal(t, "w", checkpoint.Weights[0].Name)
	assert.Equal(t, []int{2}, checkpoint.Weights[0].Shape)
	assert.Equal(t, []float32{1, 2}, checkpoint.Weights[0].Data)
}

func TestONNXRejectsTruncatedInput(t *testing.T) {
	data, err := NewONNXExporter().Marshal(testCheckpoint())
	require.NoError(t, err)

	_, err = NewONNXImporter().Unmarshal(data[:len(data)/2])
	assert.Error(t, err)
}

func TestStateDictRoundTrip(t *testing.T) {
	w, _ := tensor.FromFloat32([]int{2, 2}, []float32{1, 2, 3, 4})
	b, _ := tensor.FromFloat32([]int{2}, []float32{5, 6})
	sd := StateDict{"fc.weight": w, "fc.bias": b}

	weights, err := sd.Parameters()
	require.NoError(t, err)
	require.Len(t, weights, 2)
	assert.Equal(t, "fc.bias", weights[0].Name)

	weights[1].Data[0] = 10
	assert.Equal(t, float32(1), w.Data.([]float32)[0], "Parameters must copy")

	require.NoError(t, sd.LoadParameters(weights))
	assert.Equal(t, float32(10), w.Data.([]float32)[0])

	weights[0].Shape = []int{3}
	assert.Error(t, sd.LoadParameters(weights))
	assert.Error(t, sd.LoadParameters(weights[:1]))
}

type failingComponent struct{}

func (failingComponent) Parameters() ([]WeightTensor, error) {
	return nil, errors.New("parameters unavailable")
}

func TestBundleSaveIsBestEffort(t *testing.T) {
	dir := t.TempDir()
	w, _ := tensor.FromFloat32([]int{3}, []float32{1, 2, 3})

	bundle := Bundle{
		{Name: "encoder", Component: StateDict{"w": w}, Path: filepath.Join(dir, "encoder.json")},
		{Name: "regressor", Component: failingComponent{}, Path: filepath.Join(dir, "regressor.json")},
		{Name: "domain", Component: StateDict{"w": w}, Path: filepath.Join(dir, "missing", "domain.json")},
		{Name: "skipped", Component: StateDict{"w": w}},
		{Name: "last", Component: StateDict{"w": w}, Path: filepath.Join(dir, "last.msgpack")},
	}

	written, err := bundle.Save(nil, TrainingState{Epoch: 3, ValLoss: 0.5}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "regressor")
	assert.Contains(t, err.Error(), "domain")
	assert.Equal(t, []string{bundle[0].Path, bundle[4].Path}, written)

	_, statErr := os.Stat(bundle[4].Path)
	assert.NoError(t, statErr, "targets after a failure must still be written")
}

func TestBundleRestore(t *testing.T) {
	dir := t.TempDir()
	w, _ := tensor.FromFloat32([]int{3}, []float32{1, 2, 3})
	bundle := Bundle{{Name: "encoder", Component: StateDict{"w": w}, Path: filepath.Join(dir, "encoder.onnx")}}

	_, err := bundle.Save(nil, TrainingState{Epoch: 7}, nil)
	require.NoError(t, err)

	w.Data.([]float32)[0] = 99
	state, err := bundle.Restore()
	require.NoError(t, err)
	assert.Equal(t, 7, state.Epoch)
	assert.Equal(t, []float32{1, 2, 3}, w.Data)

	_, err = Bundle{{Name: "ro", Component: failingComponent{}, Path: bundle[0].Path}}.Restore()
	assert.Error(t, err)
}

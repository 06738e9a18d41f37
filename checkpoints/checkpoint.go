package checkpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatONNX
	FormatMsgpack
)

// ErrUnsupportedFormat is returned when a checkpoint format has no encoder
var ErrUnsupportedFormat = errors.New("unsupported checkpoint format")

const (
	framework        = "go-segkit"
	frameworkVersion = "1.0.0"
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatONNX:
		return "ONNX"
	case FormatMsgpack:
		return "Msgpack"
	default:
		return "Unknown"
	}
}

// Extension returns the file extension used for the format, without the dot
func (cf CheckpointFormat) Extension() string {
	switch cf {
	case FormatONNX:
		return "onnx"
	case FormatMsgpack:
		return "msgpack"
	default:
		return "json"
	}
}

// FormatFromPath picks a format from a file extension. A trailing ".zst" is
// ignored. Unknown extensions (including PyTorch-style ".pt"/".pth") map to JSON.
func FormatFromPath(path string) CheckpointFormat {
	ext := strings.ToLower(filepath.Ext(strings.TrimSuffix(path, ".zst")))
	switch ext {
	case ".onnx":
		return FormatONNX
	case ".msgpack", ".mpk":
		return FormatMsgpack
	default:
		return FormatJSON
	}
}

// Checkpoint is the persisted state of one model component: its parameters,
// the training state at the time of saving and optional optimizer state.
type Checkpoint struct {
	ID        string         `json:"id"`
	Component string         `json:"component"`
	Weights   []WeightTensor `json:"weights"`

	TrainingState  TrainingState      `json:"training_state"`
	OptimizerState *OptimizerState    `json:"optimizer_state,omitempty"`
	Metadata       CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// NumElements returns the product of the shape
func (w WeightTensor) NumElements() int {
	n := 1
	for _, d := range w.Shape {
		n *= d
	}
	return n
}

// TrainingState captures the training progress when the checkpoint was taken
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	Step         int     `json:"step"`
	LearningRate float64 `json:"learning_rate"`
	ValLoss      float64 `json:"val_loss"`
	Loss         float64 `json:"loss"`
}

// OptimizerState captures optimizer-specific state (momentum, variance, etc.)
type OptimizerState struct {
	Type       string             `json:"type"`
	Parameters map[string]float64 `json:"parameters"`
	StateData  []WeightTensor     `json:"state_data"`
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// Validate checks that every weight's data matches its shape
func (c *Checkpoint) Validate() error {
	for _, w := range c.Weights {
		if len(w.Data) != w.NumElements() {
			return fmt.Errorf("weight %q: %d values for shape %v", w.Name, len(w.Data), w.Shape)
		}
	}
	return nil
}

// CheckpointSaver handles saving model checkpoints in various formats
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{
		format: format,
	}
}

// Format returns the saver's format
func (cs *CheckpointSaver) Format() CheckpointFormat {
	return cs.format
}

// SaveCheckpoint writes checkpoint to path. Paths ending in ".zst" are zstd
// compressed.
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) (err error) {
	if err := checkpoint.Validate(); err != nil {
		return fmt.Errorf("invalid checkpoint: %w", err)
	}
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = framework
		checkpoint.Metadata.Version = frameworkVersion
		checkpoint.Metadata.CreatedAt = time.Now().UTC()
	}
	if checkpoint.ID == "" {
		checkpoint.ID = uuid.New().String()
	}

	data, err := cs.encode(checkpoint)
	if err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close checkpoint file: %w", cerr)
		}
	}()

	var w io.Writer = file
	if strings.HasSuffix(path, ".zst") {
		enc, err := zstd.NewWriter(file)
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		if _, err := enc.Write(data); err != nil {
			enc.Close()
			return fmt.Errorf("failed to write checkpoint: %w", err)
		}
		return enc.Close()
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint loads a model checkpoint
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var r io.Reader = file
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	checkpoint, err := cs.decode(data)
	if err != nil {
		return nil, err
	}
	if err := checkpoint.Validate(); err != nil {
		return nil, fmt.Errorf("corrupt checkpoint %s: %w", path, err)
	}
	return checkpoint, nil
}

func (cs *CheckpointSaver) encode(checkpoint *Checkpoint) ([]byte, error) {
	switch cs.format {
	case FormatJSON:
		data, err := json.MarshalIndent(checkpoint, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode checkpoint: %w", err)
		}
		return data, nil
	case FormatONNX:
		return NewONNXExporter().Marshal(checkpoint)
	case FormatMsgpack:
		data, err := msgpack.Marshal(checkpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to encode checkpoint: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, cs.format)
	}
}

func (cs *CheckpointSaver) decode(data []byte) (*Checkpoint, error) {
	var checkpoint Checkpoint
	switch cs.format {
	case FormatJSON:
		if err := json.Unmarshal(data, &checkpoint); err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
		}
	case FormatONNX:
		return NewONNXImporter().Unmarshal(data)
	case FormatMsgpack:
		if err := msgpack.Unmarshal(data, &checkpoint); err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, cs.format)
	}
	return &checkpoint, nil
}

package checkpoints

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tsawler/go-segkit/tensor"
)

// Component is a model part whose parameters can be persisted
type Component interface {
	Parameters() ([]WeightTensor, error)
}

// Loader is implemented by components that can restore persisted parameters
type Loader interface {
	LoadParameters(weights []WeightTensor) error
}

// StateDict is a named set of float32 parameter tensors. It implements both
// Component and Loader.
type StateDict map[string]*tensor.Tensor

// Parameters returns the tensors in name order
func (sd StateDict) Parameters() ([]WeightTensor, error) {
	names := make([]string, 0, len(sd))
	for name := range sd {
		names = append(names, name)
	}
	sort.Strings(names)

	weights := make([]WeightTensor, 0, len(names))
	for _, name := range names {
		t := sd[name]
		if t.DType != tensor.Float32 {
			return nil, fmt.Errorf("parameter %s has dtype %s, expected float32", name, t.DType)
		}
		data := make([]float32, t.NumElems)
		copy(data, t.Data.([]float32))
		weights = append(weights, WeightTensor{
			Name:  name,
			Shape: append([]int(nil), t.Shape...),
			Data:  data,
		})
	}
	return weights, nil
}

// LoadParameters copies weights into the matching tensors. Every tensor in the
// state dict must be present in weights with the same shape.
func (sd StateDict) LoadParameters(weights []WeightTensor) error {
	byName := make(map[string]WeightTensor, len(weights))
	for _, w := range weights {
		byName[w.Name] = w
	}
	if len(byName) != len(sd) {
		return fmt.Errorf("weight count mismatch: %d weights, %d tensors", len(byName), len(sd))
	}

	for name, t := range sd {
		w, ok := byName[name]
		if !ok {
			return fmt.Errorf("no weight named %s in checkpoint", name)
		}
		if len(w.Shape) != len(t.Shape) {
			return fmt.Errorf("shape mismatch for weight %s: tensor %v vs weight %v", name, t.Shape, w.Shape)
		}
		for i, dim := range t.Shape {
			if dim != w.Shape[i] {
				return fmt.Errorf("dimension mismatch for weight %s at index %d: tensor %d vs weight %d",
					name, i, dim, w.Shape[i])
			}
		}
		copy(t.Data.([]float32), w.Data)
	}
	return nil
}

// Target pairs a model component with the file it is persisted to. An empty
// Path means the component is not persisted.
type Target struct {
	Name      string
	Component Component
	Path      string
}

// Bundle is an ordered set of checkpoint targets, e.g. encoder, regressor and
// domain predictor of a domain-adversarial model.
type Bundle []Target

// Save writes every target with a path. A failure on one target does not stop
// the others; all failures are joined into the returned error. The returned
// slice lists the paths that were written.
func (b Bundle) Save(saver *CheckpointSaver, state TrainingState, optimizer *OptimizerState) ([]string, error) {
	var written []string
	var errs []error

	for _, target := range b {
		if target.Path == "" {
			continue
		}
		if target.Component == nil {
			errs = append(errs, fmt.Errorf("%s: no component", target.Name))
			continue
		}

		weights, err := target.Component.Parameters()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", target.Name, err))
			continue
		}

		checkpoint := &Checkpoint{
			Component:      target.Name,
			Weights:        weights,
			TrainingState:  state,
			OptimizerState: optimizer,
		}
		s := saver
		if s == nil {
			s = NewCheckpointSaver(FormatFromPath(target.Path))
		}
		if err := s.SaveCheckpoint(checkpoint, target.Path); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", target.Name, err))
			continue
		}
		written = append(written, target.Path)
	}

	return written, errors.Join(errs...)
}

// Restore loads every target with a path whose component implements Loader.
// It returns the training state of the last checkpoint read.
func (b Bundle) Restore() (TrainingState, error) {
	var state TrainingState
	var errs []error

	for _, target := range b {
		if target.Path == "" {
			continue
		}
		loader, ok := target.Component.(Loader)
		if !ok {
			errs = append(errs, fmt.Errorf("%s: component cannot load parameters", target.Name))
			continue
		}

		checkpoint, err := NewCheckpointSaver(FormatFromPath(target.Path)).LoadCheckpoint(target.Path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", target.Name, err))
			continue
		}
		if err := loader.LoadParameters(checkpoint.Weights); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", target.Name, err))
			continue
		}
		state = checkpoint.TrainingState
	}

	return state, errors.Join(errs...)
}

package training

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tsawler/go-segkit/checkpoints"
)

// CheckpointConfig configures checkpoint saving behavior
type CheckpointConfig struct {
	SaveDirectory   string                       // Directory to save checkpoints
	SaveFrequency   int                          // Save every N epochs (0 = disabled)
	SaveBest        bool                         // Save checkpoint when validation improves
	MaxCheckpoints  int                          // Maximum number of periodic checkpoints to keep (0 = unlimited)
	Format          checkpoints.CheckpointFormat // JSON, ONNX or msgpack
	Compress        bool                         // zstd-compress the files
	FilenamePattern string                       // Pattern for checkpoint filenames, given epoch and step
}

// DefaultCheckpointConfig returns a sensible default configuration
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		SaveDirectory:   "./checkpoints",
		SaveFrequency:   5,
		SaveBest:        true,
		MaxCheckpoints:  10,
		Format:          checkpoints.FormatJSON,
		FilenamePattern: "checkpoint_epoch_%d_step_%d",
	}
}

// NamedComponent is a model component persisted under Name
type NamedComponent struct {
	Name      string
	Component checkpoints.Component
}

// CheckpointManager saves periodic and best checkpoints of a multi-component
// model. Each save writes one file per component.
type CheckpointManager struct {
	config     CheckpointConfig
	components []NamedComponent
	saver      *checkpoints.CheckpointSaver
	bestLoss   *float64
	saved      [][]string // periodic checkpoint sets, oldest first
}

// NewCheckpointManager creates a new checkpoint manager
func NewCheckpointManager(config CheckpointConfig, components ...NamedComponent) *CheckpointManager {
	return &CheckpointManager{
		config:     config,
		components: components,
		saver:      checkpoints.NewCheckpointSaver(config.Format),
	}
}

// Bundle returns the checkpoint bundle for files named base_<component>
func (cm *CheckpointManager) Bundle(base string) checkpoints.Bundle {
	bundle := make(checkpoints.Bundle, 0, len(cm.components))
	for _, c := range cm.components {
		bundle = append(bundle, checkpoints.Target{
			Name:      c.Name,
			Component: c.Component,
			Path:      filepath.Join(cm.config.SaveDirectory, cm.filename(base, c.Name)),
		})
	}
	return bundle
}

// SaveCheckpoint writes every component for epoch and step
func (cm *CheckpointManager) SaveCheckpoint(state checkpoints.TrainingState, optimizer *checkpoints.OptimizerState) ([]string, error) {
	if err := cm.ensureDirectory(); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	written, err := cm.Bundle(cm.baseName(state.Epoch, state.Step)).Save(cm.saver, state, optimizer)
	if len(written) > 0 {
		cm.saved = append(cm.saved, written)
	}
	if err != nil {
		return written, fmt.Errorf("failed to save checkpoint: %w", err)
	}

	if err := cm.cleanupOldCheckpoints(); err != nil {
		logger.Printf("warning: failed to cleanup old checkpoints: %v", err)
	}
	return written, nil
}

// SavePeriodicCheckpoint saves a checkpoint if it's time based on frequency
func (cm *CheckpointManager) SavePeriodicCheckpoint(state checkpoints.TrainingState, optimizer *checkpoints.OptimizerState) (bool, error) {
	if cm.config.SaveFrequency <= 0 || state.Epoch%cm.config.SaveFrequency != 0 {
		return false, nil
	}
	if _, err := cm.SaveCheckpoint(state, optimizer); err != nil {
		return false, err
	}
	return true, nil
}

// SaveBestCheckpoint overwrites the best_<component> files when state.ValLoss
// is lower than every validation loss seen before
func (cm *CheckpointManager) SaveBestCheckpoint(state checkpoints.TrainingState, optimizer *checkpoints.OptimizerState) (bool, error) {
	if !cm.config.SaveBest {
		return false, nil
	}
	if cm.bestLoss != nil && state.ValLoss >= *cm.bestLoss {
		return false, nil
	}

	loss := state.ValLoss
	cm.bestLoss = &loss

	if err := cm.ensureDirectory(); err != nil {
		return false, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	if _, err := cm.Bundle("best").Save(cm.saver, state, optimizer); err != nil {
		return false, fmt.Errorf("failed to save best checkpoint: %w", err)
	}
	return true, nil
}

// BestLoss returns the lowest validation loss that was checkpointed
func (cm *CheckpointManager) BestLoss() (float64, bool) {
	if cm.bestLoss == nil {
		return 0, false
	}
	return *cm.bestLoss, true
}

// LoadBest restores every component from the best_<component> files
func (cm *CheckpointManager) LoadBest() (checkpoints.TrainingState, error) {
	state, err := cm.Bundle("best").Restore()
	if err != nil {
		return state, fmt.Errorf("failed to restore best checkpoint: %w", err)
	}
	loss := state.ValLoss
	cm.bestLoss = &loss
	return state, nil
}

// LoadCheckpoint restores every component from the checkpoint of epoch and step
func (cm *CheckpointManager) LoadCheckpoint(epoch, step int) (checkpoints.TrainingState, error) {
	state, err := cm.Bundle(cm.baseName(epoch, step)).Restore()
	if err != nil {
		return state, fmt.Errorf("failed to restore checkpoint: %w", err)
	}
	return state, nil
}

// SavedFiles returns the periodic checkpoint files still on disk, oldest first
func (cm *CheckpointManager) SavedFiles() []string {
	var files []string
	for _, set := range cm.saved {
		files = append(files, set...)
	}
	return files
}

// Helper methods

func (cm *CheckpointManager) baseName(epoch, step int) string {
	pattern := cm.config.FilenamePattern
	if pattern == "" {
		pattern = "checkpoint_epoch_%d_step_%d"
	}
	return fmt.Sprintf(pattern, epoch, step)
}

func (cm *CheckpointManager) filename(base, component string) string {
	name := fmt.Sprintf("%s_%s.%s", base, component, cm.config.Format.Extension())
	if cm.config.Compress {
		name += ".zst"
	}
	return name
}

func (cm *CheckpointManager) ensureDirectory() error {
	return os.MkdirAll(cm.config.SaveDirectory, 0755)
}

func (cm *CheckpointManager) cleanupOldCheckpoints() error {
	if cm.config.MaxCheckpoints <= 0 || len(cm.saved) <= cm.config.MaxCheckpoints {
		return nil
	}

	toRemove := len(cm.saved) - cm.config.MaxCheckpoints
	var errs []error
	for _, set := range cm.saved[:toRemove] {
		for _, path := range set {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, fmt.Errorf("failed to remove old checkpoint %s: %w", path, err))
			}
		}
	}
	cm.saved = cm.saved[toRemove:]

	return errors.Join(errs...)
}

package training

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8, cfg.BatchSize)
	assert.Equal(t, 10, cfg.LogInterval)
	assert.Equal(t, 1e-4, cfg.LearningRate)
	assert.Equal(t, 2, cfg.Epochs)
	assert.Equal(t, 0.9, cfg.TrainValProp)
	assert.Equal(t, 5, cfg.Patience)
	assert.True(t, cfg.ChannelsFirst)
	assert.False(t, cfg.DiffModelFlag)
	assert.Equal(t, 1.0, cfg.Alpha)
	assert.Equal(t, 10.0, cfg.Beta)
	assert.Equal(t, 100, cfg.EpochStage1)
	assert.Equal(t, 1, cfg.EpochReached)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SEGKIT_BATCH_SIZE", "16")
	t.Setenv("SEGKIT_LEARNING_RATE", "0.001")
	t.Setenv("SEGKIT_CHANNELS_FIRST", "false")
	t.Setenv("SEGKIT_PATIENCE", "not-a-number")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.BatchSize)
	assert.Equal(t, 0.001, cfg.LearningRate)
	assert.False(t, cfg.ChannelsFirst)
	assert.Equal(t, 5, cfg.Patience, "unparsable values fall back to the default")
}

func TestLoadConfigInvalid(t *testing.T) {
	t.Setenv("SEGKIT_TRAIN_VAL_PROP", "1.5")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Contains(t, err.Error(), "TrainValProp")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero batch size", func(c *Config) { c.BatchSize = 0 }},
		{"zero learning rate", func(c *Config) { c.LearningRate = 0 }},
		{"negative beta", func(c *Config) { c.Beta = -1 }},
		{"zero patience", func(c *Config) { c.Patience = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidArgument)
		})
	}
}

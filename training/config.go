package training

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var validate = validator.New()

// Config holds the training hyperparameters. It is passed by value.
type Config struct {
	BatchSize     int     `json:"batch_size" validate:"min=1"`
	LogInterval   int     `json:"log_interval" validate:"min=1"`
	LearningRate  float64 `json:"learning_rate" validate:"gt=0"`
	Epochs        int     `json:"epochs" validate:"min=1"`
	TrainValProp  float64 `json:"train_val_prop" validate:"gt=0,lte=1"`
	Patience      int     `json:"patience" validate:"min=1"`
	ChannelsFirst bool    `json:"channels_first"`
	DiffModelFlag bool    `json:"diff_model_flag"`
	LRSchedule    string  `json:"lr_schedule" validate:"oneof=step cosine rampup plateau"`

	// Alpha and Beta weight the domain-confusion terms of unlearning
	Alpha        float64 `json:"alpha" validate:"gte=0"`
	Beta         float64 `json:"beta" validate:"gte=0"`
	EpochStage1  int     `json:"epoch_stage_1" validate:"gte=0"`
	EpochReached int     `json:"epoch_reached" validate:"gte=0"`
}

// DefaultConfig returns the stock hyperparameters
func DefaultConfig() Config {
	return Config{
		BatchSize:     8,
		LogInterval:   10,
		LearningRate:  1e-4,
		Epochs:        2,
		TrainValProp:  0.9,
		Patience:      5,
		ChannelsFirst: true,
		DiffModelFlag: false,
		LRSchedule:    ScheduleStep,
		Alpha:         1,
		Beta:          10,
		EpochStage1:   100,
		EpochReached:  1,
	}
}

// LoadConfig reads SEGKIT_* environment variables over DefaultConfig. A .env
// file in the working directory is loaded first when present.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	def := DefaultConfig()
	cfg := Config{
		BatchSize:     getEnvAsInt("SEGKIT_BATCH_SIZE", def.BatchSize),
		LogInterval:   getEnvAsInt("SEGKIT_LOG_INTERVAL", def.LogInterval),
		LearningRate:  getEnvAsFloat("SEGKIT_LEARNING_RATE", def.LearningRate),
		Epochs:        getEnvAsInt("SEGKIT_EPOCHS", def.Epochs),
		TrainValProp:  getEnvAsFloat("SEGKIT_TRAIN_VAL_PROP", def.TrainValProp),
		Patience:      getEnvAsInt("SEGKIT_PATIENCE", def.Patience),
		ChannelsFirst: getEnvAsBool("SEGKIT_CHANNELS_FIRST", def.ChannelsFirst),
		DiffModelFlag: getEnvAsBool("SEGKIT_DIFF_MODEL_FLAG", def.DiffModelFlag),
		LRSchedule:    getEnv("SEGKIT_LR_SCHEDULE", def.LRSchedule),
		Alpha:         getEnvAsFloat("SEGKIT_ALPHA", def.Alpha),
		Beta:          getEnvAsFloat("SEGKIT_BETA", def.Beta),
		EpochStage1:   getEnvAsInt("SEGKIT_EPOCH_STAGE_1", def.EpochStage1),
		EpochReached:  getEnvAsInt("SEGKIT_EPOCH_REACHED", def.EpochReached),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the struct tags
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
			}
			return fmt.Errorf("%w: invalid configuration: %s", ErrInvalidArgument, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if valueStr := os.Getenv(key); valueStr != "" {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if valueStr := os.Getenv(key); valueStr != "" {
		if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if valueStr := os.Getenv(key); valueStr != "" {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

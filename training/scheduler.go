package training

import (
	"fmt"
	"math"
)

// CosineRampdown returns 0.5*(cos(pi*current/length)+1), falling from 1 at
// current=0 to 0 at current=length. current must lie in [0, length].
func CosineRampdown(current, length float64) (float64, error) {
	if !(current >= 0 && current <= length) {
		return 0, fmt.Errorf("%w: cosine rampdown needs 0 <= current <= length, got current=%g length=%g",
			ErrInvalidArgument, current, length)
	}
	if length == 0 {
		return 0, fmt.Errorf("%w: cosine rampdown over zero length", ErrInvalidArgument)
	}
	return 0.5 * (math.Cos(math.Pi*current/length) + 1), nil
}

// CosineLR scales initialLR by CosineRampdown(epoch, numEpochs)
func CosineLR(epoch, numEpochs int, initialLR float64) (float64, error) {
	r, err := CosineRampdown(float64(epoch), float64(numEpochs))
	if err != nil {
		return 0, err
	}
	return initialLR * r, nil
}

// SigmoidRampup rises from exp(-5) at current=0 to 1 at current=length.
// current is clamped to [0, length]; a zero length means no rampup.
func SigmoidRampup(current, length float64) float64 {
	if length == 0 {
		return 1.0
	}
	current = math.Max(0, math.Min(current, length))
	phase := 1.0 - current/length
	return math.Exp(-5.0 * phase * phase)
}

// StepDecay halves lr when epoch is a positive multiple of 5
func StepDecay(epoch int, lr float64) float64 {
	if epoch > 0 && epoch%5 == 0 {
		return lr * 0.5
	}
	return lr
}

// ConsistencyWeight ramps weight up over the first rampup epochs
func ConsistencyWeight(weight, epoch, rampup float64) float64 {
	return weight * SigmoidRampup(epoch, rampup)
}

// LRScheduler defines the interface for learning rate scheduling strategies
type LRScheduler interface {
	// GetLR returns the learning rate for the current epoch/step
	GetLR(epoch int, step int, baseLR float64) float64

	// GetName returns the scheduler name for logging
	GetName() string
}

// StepLRScheduler multiplies the rate by Gamma every StepSize epochs
type StepLRScheduler struct {
	StepSize int
	Gamma    float64
}

// NewStepLRScheduler creates a step learning rate scheduler
func NewStepLRScheduler(stepSize int, gamma float64) (*StepLRScheduler, error) {
	if stepSize <= 0 || gamma <= 0 || gamma > 1 {
		return nil, fmt.Errorf("%w: step scheduler needs stepSize > 0 and 0 < gamma <= 1, got %d and %g",
			ErrInvalidArgument, stepSize, gamma)
	}
	return &StepLRScheduler{StepSize: stepSize, Gamma: gamma}, nil
}

func (s *StepLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	if epoch <= 0 {
		return baseLR
	}
	return baseLR * math.Pow(s.Gamma, float64(epoch/s.StepSize))
}

func (s *StepLRScheduler) GetName() string {
	return "StepLR"
}

// HalvingScheduler applies StepDecay cumulatively: the rate is halved at every
// positive multiple of 5 epochs.
type HalvingScheduler struct{}

var halving = StepLRScheduler{StepSize: 5, Gamma: 0.5}

func (HalvingScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	return halving.GetLR(epoch, step, baseLR)
}

func (HalvingScheduler) GetName() string {
	return "StepDecay"
}

// CosineRampdownScheduler is CosineLR as a scheduler. Epochs are clamped to
// [0, NumEpochs] so it never fails.
type CosineRampdownScheduler struct {
	NumEpochs int
}

func (s *CosineRampdownScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	epoch = max(0, min(epoch, s.NumEpochs))
	lr, err := CosineLR(epoch, s.NumEpochs, baseLR)
	if err != nil {
		// NumEpochs <= 0: nothing to ramp down over
		return baseLR
	}
	return lr
}

func (s *CosineRampdownScheduler) GetName() string {
	return "CosineRampdown"
}

// SigmoidRampupScheduler warms the learning rate up over RampupEpochs
type SigmoidRampupScheduler struct {
	RampupEpochs int
}

func (s *SigmoidRampupScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR * SigmoidRampup(float64(epoch), float64(s.RampupEpochs))
}

func (s *SigmoidRampupScheduler) GetName() string {
	return "SigmoidRampup"
}

// ReduceLROnPlateauScheduler multiplies the rate by Factor once the
// validation loss has gone Patience epochs without dropping by more than
// MinDelta. The rate never falls below MinLR.
type ReduceLROnPlateauScheduler struct {
	Factor   float64
	Patience int
	MinDelta float64
	MinLR    float64

	best *float64
	bad  int
	lr   float64
}

// NewReduceLROnPlateauScheduler creates a plateau scheduler on validation loss
func NewReduceLROnPlateauScheduler(factor float64, patience int, minDelta float64) (*ReduceLROnPlateauScheduler, error) {
	if factor <= 0 || factor >= 1 || patience < 1 || minDelta < 0 {
		return nil, fmt.Errorf("%w: plateau scheduler needs 0 < factor < 1, patience >= 1 and minDelta >= 0",
			ErrInvalidArgument)
	}
	return &ReduceLROnPlateauScheduler{Factor: factor, Patience: patience, MinDelta: minDelta}, nil
}

// Step records one epoch's validation loss and returns the rate for the next
// epoch. The first call fixes the rate at currentLR.
func (s *ReduceLROnPlateauScheduler) Step(valLoss, currentLR float64) float64 {
	if s.best == nil {
		s.best = &valLoss
		s.lr = currentLR
		return s.lr
	}

	if *s.best-valLoss > s.MinDelta {
		*s.best = valLoss
		s.bad = 0
		return s.lr
	}

	s.bad++
	if s.bad >= s.Patience {
		s.lr = math.Max(s.lr*s.Factor, s.MinLR)
		s.bad = 0
		logger.Printf("validation loss plateaued, learning rate now %g", s.lr)
	}
	return s.lr
}

func (s *ReduceLROnPlateauScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	if s.best == nil {
		return baseLR
	}
	return s.lr
}

func (s *ReduceLROnPlateauScheduler) GetName() string {
	return "ReduceLROnPlateau"
}

// Scheduler names accepted by Config.LRSchedule
const (
	ScheduleStep    = "step"
	ScheduleCosine  = "cosine"
	ScheduleRampup  = "rampup"
	SchedulePlateau = "plateau"
)

// Scheduler builds the learning rate schedule named by c.LRSchedule. The
// cosine schedule runs over c.Epochs, the rampup over c.EpochStage1, and the
// plateau schedule halves the rate after c.Patience flat epochs.
func (c Config) Scheduler() (LRScheduler, error) {
	switch c.LRSchedule {
	case ScheduleStep, "":
		return HalvingScheduler{}, nil
	case ScheduleCosine:
		return &CosineRampdownScheduler{NumEpochs: c.Epochs}, nil
	case ScheduleRampup:
		return &SigmoidRampupScheduler{RampupEpochs: c.EpochStage1}, nil
	case SchedulePlateau:
		return NewReduceLROnPlateauScheduler(0.5, c.Patience, 0)
	default:
		return nil, fmt.Errorf("%w: unknown learning rate schedule %q", ErrInvalidArgument, c.LRSchedule)
	}
}

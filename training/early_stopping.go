package training

import (
	"fmt"
	"math"

	"github.com/tsawler/go-segkit/checkpoints"
)

// Transition names the outcome of one early-stopping update
type Transition int

const (
	// Baseline is the first update; it only records the best value
	Baseline Transition = iota
	// Improved means the monitored value got better
	Improved
	// NotImproved means the patience counter was incremented
	NotImproved
	// Exhausted means patience ran out; the monitor has stopped
	Exhausted
	// Boundary means the improvement was exactly MinDelta and the
	// BoundaryFreeze policy left the state untouched
	Boundary
)

func (t Transition) String() string {
	switch t {
	case Baseline:
		return "baseline"
	case Improved:
		return "improved"
	case NotImproved:
		return "not improved"
	case Exhausted:
		return "exhausted"
	case Boundary:
		return "boundary"
	default:
		return fmt.Sprintf("Transition(%d)", int(t))
	}
}

// BoundaryPolicy decides what an improvement of exactly MinDelta counts as
type BoundaryPolicy int

const (
	// BoundaryAsNotImproved counts the update against patience. With a zero
	// MinDelta a flat loss therefore exhausts patience.
	BoundaryAsNotImproved BoundaryPolicy = iota
	// BoundaryAsImprovement records the new value as best
	BoundaryAsImprovement
	// BoundaryFreeze leaves the state unchanged
	BoundaryFreeze
)

// EarlyStopping stops training when the loss has failed to improve by more
// than MinDelta on Patience updates.
//
// The counter is never reset by an improvement: Patience bounds the total
// number of non-improving updates over the whole run, not consecutive ones.
type EarlyStopping struct {
	Patience int
	MinDelta float64
	Boundary BoundaryPolicy

	best    *float64
	counter int
	stopped bool
}

// NewEarlyStopping creates a monitor with the BoundaryAsNotImproved policy
func NewEarlyStopping(patience int, minDelta float64) *EarlyStopping {
	return &EarlyStopping{
		Patience: patience,
		MinDelta: minDelta,
	}
}

// Update feeds the latest loss to the monitor
func (es *EarlyStopping) Update(loss float64) Transition {
	if es.stopped {
		return Exhausted
	}
	if es.best == nil {
		es.best = &loss
		return Baseline
	}

	diff := *es.best - loss
	switch {
	case diff > es.MinDelta:
		return es.improve(loss)
	case diff < es.MinDelta:
		return es.notImproved()
	}

	switch es.Boundary {
	case BoundaryAsImprovement:
		return es.improve(loss)
	case BoundaryFreeze:
		return Boundary
	default:
		return es.notImproved()
	}
}

func (es *EarlyStopping) improve(loss float64) Transition {
	es.best = &loss
	return Improved
}

func (es *EarlyStopping) notImproved() Transition {
	es.counter++
	logger.Printf("early stopping counter %d of %d", es.counter, es.Patience)
	if es.counter >= es.Patience {
		logger.Printf("early stopping")
		es.stopped = true
		return Exhausted
	}
	return NotImproved
}

// Stopped reports whether patience has run out
func (es *EarlyStopping) Stopped() bool {
	return es.stopped
}

// Counter returns the number of non-improving updates seen
func (es *EarlyStopping) Counter() int {
	return es.counter
}

// Best returns the best loss seen so far
func (es *EarlyStopping) Best() (float64, bool) {
	if es.best == nil {
		return 0, false
	}
	return *es.best, true
}

// CheckpointingEarlyStopping tracks the validation loss of a multi-component
// model, checkpoints every component whenever the loss matches or beats the
// best seen, and stops after Patience consecutive worse epochs.
type CheckpointingEarlyStopping struct {
	Patience int
	Verbose  bool
	// Saver encodes the checkpoints. When nil the format is picked from each
	// target's file extension.
	Saver *checkpoints.CheckpointSaver

	// ValLossMin is the validation loss of the last checkpoint
	ValLossMin float64

	bestScore *float64
	counter   int
	stopped   bool
	saves     int
}

// NewCheckpointingEarlyStopping creates a monitor with patience and verbosity
func NewCheckpointingEarlyStopping(patience int, verbose bool) *CheckpointingEarlyStopping {
	return &CheckpointingEarlyStopping{
		Patience:   patience,
		Verbose:    verbose,
		ValLossMin: math.Inf(1),
	}
}

// Update records valLoss for epoch. On the first call and whenever the loss is
// no worse than the best so far, every target of bundle with a path is
// checkpointed along with the epoch, optimizer state and training loss.
//
// A checkpoint failure does not undo the state change; the returned error
// joins the failures of all targets.
func (es *CheckpointingEarlyStopping) Update(valLoss float64, bundle checkpoints.Bundle, epoch int,
	optimizer *checkpoints.OptimizerState, loss float64) (Transition, error) {

	if es.stopped {
		return Exhausted, nil
	}

	score := -valLoss
	switch {
	case es.bestScore == nil:
		es.bestScore = &score
		return Baseline, es.checkpoint(valLoss, bundle, epoch, optimizer, loss)

	case score < *es.bestScore:
		es.counter++
		logger.Printf("early stopping counter %d of %d", es.counter, es.Patience)
		if es.counter >= es.Patience {
			es.stopped = true
			return Exhausted, nil
		}
		return NotImproved, nil

	default:
		es.bestScore = &score
		es.counter = 0
		return Improved, es.checkpoint(valLoss, bundle, epoch, optimizer, loss)
	}
}

func (es *CheckpointingEarlyStopping) checkpoint(valLoss float64, bundle checkpoints.Bundle, epoch int,
	optimizer *checkpoints.OptimizerState, loss float64) error {

	if es.Verbose {
		logger.Printf("validation loss decreased (%.6f --> %.6f). saving model", es.ValLossMin, valLoss)
	}

	state := checkpoints.TrainingState{
		Epoch:   epoch,
		ValLoss: valLoss,
		Loss:    loss,
	}
	_, err := bundle.Save(es.Saver, state, optimizer)
	es.ValLossMin = valLoss
	es.saves++
	return err
}

// Stopped reports whether patience has run out
func (es *CheckpointingEarlyStopping) Stopped() bool {
	return es.stopped
}

// Counter returns the number of consecutive worse epochs
func (es *CheckpointingEarlyStopping) Counter() int {
	return es.counter
}

// BestScore returns the best (negated) validation loss seen
func (es *CheckpointingEarlyStopping) BestScore() (float64, bool) {
	if es.bestScore == nil {
		return 0, false
	}
	return *es.bestScore, true
}

// Checkpoints returns how many checkpoint events have been triggered
func (es *CheckpointingEarlyStopping) Checkpoints() int {
	return es.saves
}

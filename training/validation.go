package training

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/tsawler/go-segkit/monitor"
	"github.com/tsawler/go-segkit/results"
	"github.com/tsawler/go-segkit/tensor"
)

// Model produces per-channel predictions [batch, channels, H, W] for a batch
// of inputs. It is only run forward during validation.
type Model interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
}

// BatchSource yields batches until Next returns nil. *DataLoader satisfies it.
type BatchSource interface {
	Next() (*Batch, error)
	Reset()
}

// ValidationConfig controls one validation pass
type ValidationConfig struct {
	Epoch          int
	OutChannels    int
	ExperimentName string
	// OneHot expands integer masks into OutChannels channels and averages the
	// loss and metrics over channels
	OneHot  bool
	Verbose bool
}

// Stat is the summary of one metric's sequence. Std is the population
// standard deviation.
type Stat struct {
	Mean  float64
	Std   float64
	Count int
}

// Summary is the result of a validation pass
type Summary struct {
	RunID    string
	Epoch    int
	LossAvg  float64
	Steps    int
	Samples  int
	Metrics  map[string]Stat
	Values   map[string][]float32
	Duration time.Duration
}

// Keys returns the metric keys in sorted order
func (s Summary) Keys() []string {
	keys := make([]string, 0, len(s.Metrics))
	for k := range s.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Flatten returns the metrics as "<key>_mean" and "<key>_std" entries
func (s Summary) Flatten() map[string]float64 {
	flat := make(map[string]float64, 2*len(s.Metrics))
	for k, st := range s.Metrics {
		flat[k+"_mean"] = st.Mean
		flat[k+"_std"] = st.Std
	}
	return flat
}

// Accumulator collects batch losses and per-sample metric results
type Accumulator struct {
	lossSum float64
	steps   int
	samples int
	values  map[string][]float64
}

func NewAccumulator() *Accumulator {
	return &Accumulator{values: make(map[string][]float64)}
}

// AddLoss records the loss of one batch of the given size
func (a *Accumulator) AddLoss(loss float64, samples int) {
	a.lossSum += loss
	a.steps++
	a.samples += samples
}

// AddResult appends v to the sequence under key. NaN and zero mean "no
// result" and are dropped; a key only exists once a value has been kept.
func (a *Accumulator) AddResult(key string, v float64) bool {
	if v == 0 || math.IsNaN(v) {
		return false
	}
	a.values[key] = append(a.values[key], v)
	return true
}

// Finalize computes the average loss and the mean and std of every sequence
func (a *Accumulator) Finalize() (Summary, error) {
	if a.steps == 0 {
		return Summary{}, fmt.Errorf("%w: no validation steps", ErrDivideByZero)
	}

	s := Summary{
		LossAvg: a.lossSum / float64(a.steps),
		Steps:   a.steps,
		Samples: a.samples,
		Metrics: make(map[string]Stat, len(a.values)),
		Values:  make(map[string][]float32, len(a.values)),
	}
	for key, vals := range a.values {
		f32 := make([]float32, len(vals))
		f64 := make([]float64, len(vals))
		for i, v := range vals {
			f32[i] = float32(v)
			// stats are taken over the stored float32 values
			f64[i] = float64(f32[i])
		}
		mean, std := stat.PopMeanStdDev(f64, nil)
		s.Metrics[key] = Stat{Mean: mean, Std: std, Count: len(vals)}
		s.Values[key] = f32
	}
	return s, nil
}

// Validate runs model over every batch of loader, scoring the dice loss per
// batch and each metric per sample. Raw metric sequences are saved to store as
// "<key>_<experiment>" and the mean/std summary as "metrics_<experiment>".
// The average loss and the summary are emitted to sink at step cfg.Epoch.
// A nil store or sink is skipped.
func Validate(ctx context.Context, model Model, loader BatchSource, metrics []Metric,
	cfg ValidationConfig, store results.Store, sink monitor.Sink) (Summary, error) {

	start := time.Now()
	acc := NewAccumulator()

	var bar *ProgressBar
	if cfg.Verbose {
		bar = NewProgressBar(fmt.Sprintf("Validation epoch %d", cfg.Epoch), 0)
	}

	loader.Reset()
	for {
		if err := ctx.Err(); err != nil {
			return Summary{}, err
		}
		batch, err := loader.Next()
		if err != nil {
			return Summary{}, fmt.Errorf("failed to load validation batch: %w", err)
		}
		if batch == nil {
			break
		}
		if err := validateBatch(model, batch, metrics, cfg, acc); err != nil {
			return Summary{}, fmt.Errorf("validation step %d: %w", acc.steps, err)
		}
		if bar != nil {
			bar.Update(acc.steps, map[string]float64{"loss": acc.lossSum / float64(acc.steps)})
		}
	}
	if bar != nil {
		bar.Finish()
	}

	summary, err := acc.Finalize()
	if err != nil {
		return Summary{}, err
	}
	summary.RunID = uuid.NewString()
	summary.Epoch = cfg.Epoch
	summary.Duration = time.Since(start)

	if store != nil {
		for _, key := range summary.Keys() {
			name := fmt.Sprintf("%s_%s", key, cfg.ExperimentName)
			if err := store.SaveValues(ctx, name, summary.Values[key]); err != nil {
				return summary, fmt.Errorf("failed to save %s: %w", name, err)
			}
		}
		name := "metrics_" + cfg.ExperimentName
		if err := store.SaveSummary(ctx, name, summary.Flatten()); err != nil {
			return summary, fmt.Errorf("failed to save %s: %w", name, err)
		}
	}

	if sink != nil {
		if err := sink.AddScalars(ctx, "losses", map[string]float64{"loss": summary.LossAvg}, cfg.Epoch); err != nil {
			return summary, err
		}
		if err := sink.AddScalars(ctx, "metrics", summary.Flatten(), cfg.Epoch); err != nil {
			return summary, err
		}
	}

	return summary, nil
}

func validateBatch(model Model, batch *Batch, metrics []Metric, cfg ValidationConfig, acc *Accumulator) error {
	out, err := model.Forward(batch.Data)
	if err != nil {
		return fmt.Errorf("forward pass failed: %w", err)
	}
	if out.Dim() < 2 {
		return fmt.Errorf("%w: model output must be [batch, channels, ...], got %v", ErrInvalidArgument, out.Shape)
	}
	batchSize := out.Shape[0]

	mask := batch.Labels
	if cfg.OneHot {
		if cfg.OutChannels <= 0 {
			return fmt.Errorf("%w: one-hot validation needs OutChannels > 0", ErrInvalidArgument)
		}
		// [B,1,H,W] label maps become [B,H,W] before expansion
		if mask.Dim() == out.Dim() {
			if mask, err = tensor.SqueezeIfSingleton(mask, 1); err != nil {
				return err
			}
		}
		if mask, err = tensor.OneHot(mask, cfg.OutChannels); err != nil {
			return fmt.Errorf("failed to one-hot encode mask: %w", err)
		}
	}

	loss, err := batchLoss(out, mask, cfg)
	if err != nil {
		return err
	}
	acc.AddLoss(loss, batchSize)

	masks, err := mask.AsType(tensor.Uint8)
	if err != nil {
		return err
	}

	for _, metric := range metrics {
		key := "val_" + metric.Name()
		for i := 0; i < batchSize; i++ {
			res, err := sampleMetric(metric, out, masks, i, cfg)
			if err != nil {
				return fmt.Errorf("%s on sample %d: %w", metric.Name(), i, err)
			}
			acc.AddResult(key, res)
		}
	}
	return nil
}

func batchLoss(out, mask *tensor.Tensor, cfg ValidationConfig) (float64, error) {
	if !cfg.OneHot {
		return DiceScore(out, mask)
	}

	channelAxis := mask.Dim() - 1
	var total float64
	for k := 0; k < cfg.OutChannels; k++ {
		pred, err := tensor.Select(out, 1, k)
		if err != nil {
			return 0, err
		}
		target, err := tensor.Select(mask, channelAxis, k)
		if err != nil {
			return 0, err
		}
		score, err := DiceScore(pred, target)
		if err != nil {
			return 0, err
		}
		total += score
	}
	return total / float64(cfg.OutChannels), nil
}

func sampleMetric(metric Metric, out, masks *tensor.Tensor, i int, cfg ValidationConfig) (float64, error) {
	pred, err := tensor.Select(out, 0, i)
	if err != nil {
		return 0, err
	}
	mask, err := tensor.Select(masks, 0, i)
	if err != nil {
		return 0, err
	}

	if !cfg.OneHot {
		if pred, err = tensor.SqueezeIfSingleton(pred, 0); err != nil {
			return 0, err
		}
		if mask, err = tensor.SqueezeIfSingleton(mask, 0); err != nil {
			return 0, err
		}
		return metric.Apply(pred, mask)
	}

	channelAxis := mask.Dim() - 1
	var sum float64
	for k := 0; k < cfg.OutChannels; k++ {
		p, err := tensor.Select(pred, 0, k)
		if err != nil {
			return 0, err
		}
		m, err := tensor.Select(mask, channelAxis, k)
		if err != nil {
			return 0, err
		}
		v, err := metric.Apply(p, m)
		if err != nil {
			return 0, err
		}
		sum += v
	}
	return sum / float64(cfg.OutChannels), nil
}

// Package monitor receives scalar summaries emitted during training and
// validation. A Sink is called with a category ("losses", "metrics"), a set of
// named values and the step (usually the epoch) they belong to.
package monitor

import (
	"context"
	"errors"
)

// Sink accepts scalar summaries. Sinks that do I/O honour ctx cancellation.
type Sink interface {
	AddScalars(ctx context.Context, category string, values map[string]float64, step int) error
}

// Discard drops everything
var Discard Sink = discard{}

type discard struct{}

func (discard) AddScalars(context.Context, string, map[string]float64, int) error { return nil }

// Multi fans out to every sink. All sinks are called even when one fails; the
// failures are joined.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

type multi []Sink

func (m multi) AddScalars(ctx context.Context, category string, values map[string]float64, step int) error {
	var errs []error
	for _, s := range m {
		if err := s.AddScalars(ctx, category, values, step); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

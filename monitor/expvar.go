package monitor

import (
	"context"
	"expvar"
	"fmt"
)

// ExpvarSink publishes the latest value of every scalar under an expvar map
// named <prefix>_<category>, e.g. segkit_losses. The step is published as
// <prefix>_step.
type ExpvarSink struct {
	prefix string
	step   *expvar.Int
}

// NewExpvarSink creates a sink publishing under prefix. Creating two sinks with
// the same prefix shares their variables.
func NewExpvarSink(prefix string) *ExpvarSink {
	name := prefix + "_step"
	step, ok := expvar.Get(name).(*expvar.Int)
	if !ok {
		step = expvar.NewInt(name)
	}
	return &ExpvarSink{prefix: prefix, step: step}
}

func (s *ExpvarSink) categoryMap(category string) (*expvar.Map, error) {
	name := fmt.Sprintf("%s_%s", s.prefix, category)
	switch v := expvar.Get(name).(type) {
	case nil:
		return expvar.NewMap(name), nil
	case *expvar.Map:
		return v, nil
	default:
		return nil, fmt.Errorf("expvar %s already published as %T", name, v)
	}
}

func (s *ExpvarSink) AddScalars(_ context.Context, category string, values map[string]float64, step int) error {
	m, err := s.categoryMap(category)
	if err != nil {
		return err
	}
	for name, v := range values {
		f := new(expvar.Float)
		f.Set(v)
		m.Set(name, f)
	}
	s.step.Set(int64(step))
	return nil
}

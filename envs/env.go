// Package envs implements traffic control environments on
// top of a running simulator.
package envs

import (
	"fmt"

	"github.com/unixpickle/anyvec"
)

// Env is an instance of an RL environment.
type Env interface {
	Reset() (observation anyvec.Vector, err error)
	Step(action anyvec.Vector) (observation anyvec.Vector,
		reward float64, done bool, err error)

	// Spec describes the observation and action spaces.
	Spec() Spec
}

// A Describer can summarize itself as plain data, suitable
// for an experiment variant file.
type Describer interface {
	Describe() map[string]any
}

// Spec describes the spaces of an Env.
//
// Actions are boxes bounded by ActionLow and ActionHigh,
// which both have ActionDim entries.
type Spec struct {
	ObservationDim int       `yaml:"observation_dim"`
	ActionDim      int       `yaml:"action_dim"`
	ActionLow      []float64 `yaml:"action_low"`
	ActionHigh     []float64 `yaml:"action_high"`
}

// Validate checks that the bounds match the dimensions.
func (s Spec) Validate() error {
	if s.ObservationDim <= 0 {
		return fmt.Errorf("observation dimension must be positive, got %d", s.ObservationDim)
	}
	if s.ActionDim <= 0 {
		return fmt.Errorf("action dimension must be positive, got %d", s.ActionDim)
	}
	if len(s.ActionLow) != s.ActionDim || len(s.ActionHigh) != s.ActionDim {
		return fmt.Errorf("action bounds have %d/%d entries, expected %d",
			len(s.ActionLow), len(s.ActionHigh), s.ActionDim)
	}
	for i, low := range s.ActionLow {
		if low > s.ActionHigh[i] {
			return fmt.Errorf("action %d: low bound %v above high bound %v", i, low, s.ActionHigh[i])
		}
	}
	return nil
}

// Describe returns a description of env, or of its
// dimensions if it is not a Describer.
func Describe(env Env) map[string]any {
	if d, ok := env.(Describer); ok {
		return d.Describe()
	}
	spec := env.Spec()
	return map[string]any{
		"type":            fmt.Sprintf("%T", env),
		"observation_dim": spec.ObservationDim,
		"action_dim":      spec.ActionDim,
	}
}

func fill(n int, x float64) []float64 {
	res := make([]float64, n)
	for i := range res {
		res[i] = x
	}
	return res
}

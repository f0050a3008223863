// Package algos describes training algorithms as
// submittable calls.
package algos

import (
	"errors"
	"fmt"

	"github.com/cistar-dev/cistar"
	"github.com/cistar-dev/cistar/envs"
	"github.com/cistar-dev/cistar/instrument"
	"github.com/unixpickle/essentials"
)

// MethodTRPO names TRPO training calls.
const MethodTRPO = "trpo"

// A Policy is a trainable policy which can be described
// and saved.
type Policy interface {
	envs.Describer
	instrument.Saver
}

// TRPO holds everything needed to run Trust Region Policy
// Optimization on an environment.
//
// The optimization itself is done by the trainer which
// receives the Call produced by Train.
type TRPO struct {
	Env      envs.Env
	Policy   Policy
	Baseline envs.Describer
	Params   cistar.AlgoParams
}

// NewTRPO validates and bundles the parts of a TRPO run.
func NewTRPO(env envs.Env, policy Policy, baseline envs.Describer,
	params cistar.AlgoParams) (algo *TRPO, err error) {
	defer essentials.AddCtxTo("create TRPO", &err)
	if env == nil || policy == nil || baseline == nil {
		return nil, errors.New("env, policy and baseline are required")
	}
	algo = &TRPO{Env: env, Policy: policy, Baseline: baseline, Params: params}
	if err := algo.Validate(); err != nil {
		return nil, err
	}
	return algo, nil
}

// Validate checks the hyperparameters.
func (t *TRPO) Validate() error {
	p := t.Params
	switch {
	case p.BatchSize <= 0:
		return fmt.Errorf("batch_size must be positive, got %d", p.BatchSize)
	case p.MaxPathLength <= 0:
		return fmt.Errorf("max_path_length must be positive, got %d", p.MaxPathLength)
	case p.NIter <= 0:
		return fmt.Errorf("n_itr must be positive, got %d", p.NIter)
	case p.Discount <= 0 || p.Discount > 1:
		return fmt.Errorf("discount must be in (0, 1], got %v", p.Discount)
	case p.StepSize <= 0:
		return fmt.Errorf("step_size must be positive, got %v", p.StepSize)
	case !p.WholePaths && p.BatchSize < p.MaxPathLength:
		return fmt.Errorf("batch_size (%d) is smaller than max_path_length (%d)",
			p.BatchSize, p.MaxPathLength)
	}
	return nil
}

// Train returns the call which, when run by a trainer,
// performs the optimization.
func (t *TRPO) Train() *instrument.Call {
	return &instrument.Call{
		Method: MethodTRPO,
		Variant: map[string]any{
			"algo":            "TRPO",
			"env":             envs.Describe(t.Env),
			"policy":          t.Policy.Describe(),
			"baseline":        t.Baseline.Describe(),
			"batch_size":      t.Params.BatchSize,
			"max_path_length": t.Params.MaxPathLength,
			"n_itr":           t.Params.NIter,
			"discount":        t.Params.Discount,
			"step_size":       t.Params.StepSize,
			"whole_paths":     t.Params.WholePaths,
		},
		Policy: t.Policy,
	}
}

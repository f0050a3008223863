package envs

import (
	"errors"
	"math"

	"github.com/unixpickle/anyvec"
)

// Default smoothing factors for running statistics.
const (
	DefaultObsAlpha    = 0.001
	DefaultRewardAlpha = 0.001
)

// NormalizeConfig controls a Normalized environment.
type NormalizeConfig struct {
	// NormalizeObs enables running observation
	// standardization.
	NormalizeObs bool `yaml:"normalize_obs"`

	// NormalizeReward enables scaling rewards by a running
	// estimate of their standard deviation.
	NormalizeReward bool `yaml:"normalize_reward"`

	// ObsAlpha is the update rate of the observation
	// statistics.
	// If 0, DefaultObsAlpha is used.
	ObsAlpha float64 `yaml:"obs_alpha"`

	// RewardAlpha is the update rate of the reward
	// statistics.
	// If 0, DefaultRewardAlpha is used.
	RewardAlpha float64 `yaml:"reward_alpha"`
}

// Normalized wraps an Env so that its actions live in
// [-1, 1].
//
// Actions are mapped linearly onto the bounds of the
// wrapped Env and clipped to them.
type Normalized struct {
	Env
	Config NormalizeConfig

	inner   Spec
	obsMean []float64
	obsVar  []float64
	rewMean float64
	rewVar  float64
}

// Normalize wraps env.
func Normalize(env Env, config NormalizeConfig) (*Normalized, error) {
	spec := env.Spec()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if config.ObsAlpha < 0 || config.ObsAlpha > 1 || config.RewardAlpha < 0 || config.RewardAlpha > 1 {
		return nil, errors.New("normalize: alpha must be in [0, 1]")
	}
	return &Normalized{
		Env:     env,
		Config:  config,
		inner:   spec,
		obsMean: make([]float64, spec.ObservationDim),
		obsVar:  fill(spec.ObservationDim, 1),
		rewVar:  1,
	}, nil
}

// Spec returns the wrapped spec with unit action bounds.
func (n *Normalized) Spec() Spec {
	spec := n.inner
	spec.ActionLow = fill(spec.ActionDim, -1)
	spec.ActionHigh = fill(spec.ActionDim, 1)
	return spec
}

// Describe summarizes the wrapper and the wrapped Env.
func (n *Normalized) Describe() map[string]any {
	return map[string]any{
		"type":   "normalize",
		"config": n.Config,
		"env":    Describe(n.Env),
	}
}

// Reset resets the wrapped environment.
func (n *Normalized) Reset() (anyvec.Vector, error) {
	obs, err := n.Env.Reset()
	if err != nil {
		return nil, err
	}
	return n.observation(obs), nil
}

// Step rescales the action and steps the wrapped
// environment.
func (n *Normalized) Step(action anyvec.Vector) (anyvec.Vector, float64, bool, error) {
	if action.Len() != n.inner.ActionDim {
		return nil, 0, false, errors.New("normalize: bad action size")
	}
	c := action.Creator()
	scaled := c.Float64Slice(action.Data())
	for i, a := range scaled {
		low, high := n.inner.ActionLow[i], n.inner.ActionHigh[i]
		x := low + (a+1)*(high-low)/2
		scaled[i] = math.Max(low, math.Min(high, x))
	}
	obs, rew, done, err := n.Env.Step(anyvec.Make(c, scaled))
	if err != nil {
		return nil, 0, false, err
	}
	return n.observation(obs), n.reward(rew), done, nil
}

func (n *Normalized) observation(obs anyvec.Vector) anyvec.Vector {
	if !n.Config.NormalizeObs {
		return obs
	}
	alpha := n.Config.ObsAlpha
	if alpha == 0 {
		alpha = DefaultObsAlpha
	}
	c := obs.Creator()
	data := c.Float64Slice(obs.Data())
	for i, x := range data {
		n.obsMean[i] = (1-alpha)*n.obsMean[i] + alpha*x
		d := x - n.obsMean[i]
		n.obsVar[i] = (1-alpha)*n.obsVar[i] + alpha*d*d
		data[i] = (x - n.obsMean[i]) / (math.Sqrt(n.obsVar[i]) + 1e-8)
	}
	return anyvec.Make(c, data)
}

func (n *Normalized) reward(rew float64) float64 {
	if !n.Config.NormalizeReward {
		return rew
	}
	alpha := n.Config.RewardAlpha
	if alpha == 0 {
		alpha = DefaultRewardAlpha
	}
	n.rewMean = (1-alpha)*n.rewMean + alpha*rew
	d := rew - n.rewMean
	n.rewVar = (1-alpha)*n.rewVar + alpha*d*d
	return rew / (math.Sqrt(n.rewVar) + 1e-8)
}

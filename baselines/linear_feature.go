// Package baselines describes value baselines used to
// reduce the variance of policy gradients.
package baselines

import (
	"fmt"
	"math"

	"github.com/cistar-dev/cistar/envs"
)

// DefaultRegCoeff is the ridge penalty used when fitting.
const DefaultRegCoeff = 1e-5

// LinearFeature is a baseline which is linear in a fixed
// set of per-timestep features.
//
// The features are the clipped observation, its square,
// and the first three powers of the scaled timestep plus a
// constant.
type LinearFeature struct {
	Spec envs.Spec

	// RegCoeff is the ridge penalty.
	// If 0, DefaultRegCoeff is used.
	RegCoeff float64
}

// NewLinearFeature creates a baseline for the given
// environment spaces.
func NewLinearFeature(spec envs.Spec, regCoeff float64) (*LinearFeature, error) {
	if spec.ObservationDim <= 0 {
		return nil, fmt.Errorf("linear feature baseline: bad observation dimension %d",
			spec.ObservationDim)
	}
	if regCoeff < 0 {
		return nil, fmt.Errorf("linear feature baseline: negative reg_coeff %v", regCoeff)
	}
	return &LinearFeature{Spec: spec, RegCoeff: regCoeff}, nil
}

// FeatureDim returns the length of each feature vector.
func (l *LinearFeature) FeatureDim() int {
	return 2*l.Spec.ObservationDim + 4
}

// Features computes one feature vector per timestep of a
// path of observations.
func (l *LinearFeature) Features(observations [][]float64) [][]float64 {
	res := make([][]float64, len(observations))
	for t, obs := range observations {
		f := make([]float64, 0, l.FeatureDim())
		for _, x := range obs {
			f = append(f, math.Max(-10, math.Min(10, x)))
		}
		for _, x := range f[:len(obs)] {
			f = append(f, x*x)
		}
		scaled := float64(t) / 100
		f = append(f, scaled, scaled*scaled, scaled*scaled*scaled, 1)
		res[t] = f
	}
	return res
}

// Describe summarizes the baseline.
func (l *LinearFeature) Describe() map[string]any {
	reg := l.RegCoeff
	if reg == 0 {
		reg = DefaultRegCoeff
	}
	return map[string]any{
		"type":        "LinearFeatureBaseline",
		"reg_coeff":   reg,
		"feature_dim": l.FeatureDim(),
	}
}

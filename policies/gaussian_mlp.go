// Package policies implements stochastic policies for
// continuous action spaces.
package policies

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/cistar-dev/cistar/envs"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	serializer.RegisterTypedDeserializer((&GaussianMLP{}).SerializerType(),
		DeserializeGaussianMLP)
}

// GaussianMLP is a diagonal Gaussian policy whose mean is
// produced by a multi-layer perceptron.
//
// Hidden layers use tanh activations and the output layer
// is linear.
// The log standard deviation is a learned vector which
// does not depend on the observation.
type GaussianMLP struct {
	Net    anynet.Net
	LogStd *anydiff.Var

	// Rand is used for sampling.
	// If nil, the global source is used.
	Rand *rand.Rand
}

// NewGaussianMLP creates a randomly initialized policy for
// the given spaces.
//
// The weights are drawn from rng, which also becomes the
// policy's sampling source.
// If rng is nil, the global source is used.
func NewGaussianMLP(c anyvec.Creator, spec envs.Spec, hiddenSizes []int,
	initStd float64, rng *rand.Rand) (policy *GaussianMLP, err error) {
	defer essentials.AddCtxTo("create gaussian MLP", &err)
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if initStd <= 0 {
		return nil, fmt.Errorf("initial std must be positive, got %v", initStd)
	}
	var net anynet.Net
	inSize := spec.ObservationDim
	for _, size := range hiddenSizes {
		if size <= 0 {
			return nil, fmt.Errorf("hidden size must be positive, got %d", size)
		}
		net = append(net, newFC(c, inSize, size, rng), anynet.Tanh)
		inSize = size
	}
	net = append(net, newFC(c, inSize, spec.ActionDim, rng))

	logStd := make([]float64, spec.ActionDim)
	for i := range logStd {
		logStd[i] = math.Log(initStd)
	}
	return &GaussianMLP{
		Net:    net,
		LogStd: anydiff.NewVar(anyvec.Make(c, logStd)),
		Rand:   rng,
	}, nil
}

// newFC creates a layer with normal weights scaled by
// 1/sqrt(in) and zero biases.
func newFC(c anyvec.Creator, in, out int, rng *rand.Rand) *anynet.FC {
	weights := c.MakeVector(in * out)
	anyvec.Rand(weights, anyvec.Normal, rng)
	weights.Scale(c.MakeNumeric(1 / math.Sqrt(float64(in))))
	return &anynet.FC{
		InCount:  in,
		OutCount: out,
		Weights:  anydiff.NewVar(weights),
		Biases:   anydiff.NewVar(c.MakeVector(out)),
	}
}

// DeserializeGaussianMLP deserializes a GaussianMLP.
func DeserializeGaussianMLP(d []byte) (policy *GaussianMLP, err error) {
	defer essentials.AddCtxTo("deserialize gaussian MLP", &err)
	var net anynet.Net
	var logStd *anyvecsave.S
	if err := serializer.DeserializeAny(d, &net, &logStd); err != nil {
		return nil, err
	}
	return &GaussianMLP{Net: net, LogStd: anydiff.NewVar(logStd.Vector)}, nil
}

// LoadGaussianMLP reads a policy saved with Save.
func LoadGaussianMLP(path string) (policy *GaussianMLP, err error) {
	defer essentials.AddCtxTo("load gaussian MLP", &err)
	if err := serializer.LoadAny(path, &policy); err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, errors.New("no policy in file")
	}
	return policy, nil
}

// Save writes the policy to a file.
func (g *GaussianMLP) Save(path string) error {
	return essentials.AddCtx("save gaussian MLP", serializer.SaveAny(path, g))
}

// Mean computes the mean action for an observation.
func (g *GaussianMLP) Mean(obs anyvec.Vector) anyvec.Vector {
	return g.Net.Apply(anydiff.NewConst(obs), 1).Output()
}

// Act samples an action for an observation.
func (g *GaussianMLP) Act(obs anyvec.Vector) anyvec.Vector {
	mean := g.Mean(obs)
	noise := mean.Creator().MakeVector(mean.Len())
	anyvec.Rand(noise, anyvec.Normal, g.Rand)
	std := g.LogStd.Vector.Copy()
	anyvec.Exp(std)
	noise.Mul(std)
	mean.Add(noise)
	return mean
}

// Parameters returns the network parameters followed by
// the log standard deviation.
func (g *GaussianMLP) Parameters() []*anydiff.Var {
	return append(anynet.AllParameters(g.Net), g.LogStd)
}

// NumParams counts the scalar parameters.
func (g *GaussianMLP) NumParams() int {
	var n int
	for _, p := range g.Parameters() {
		n += p.Vector.Len()
	}
	return n
}

// HiddenSizes lists the widths of the hidden layers.
func (g *GaussianMLP) HiddenSizes() []int {
	var res []int
	for i, layer := range g.Net {
		if fc, ok := layer.(*anynet.FC); ok && i < len(g.Net)-1 {
			res = append(res, fc.OutCount)
		}
	}
	return res
}

// Describe summarizes the policy architecture.
func (g *GaussianMLP) Describe() map[string]any {
	std := g.LogStd.Vector.Copy()
	anyvec.Exp(std)
	return map[string]any{
		"type":         "GaussianMLPPolicy",
		"hidden_sizes": g.HiddenSizes(),
		"nonlinearity": "tanh",
		"init_std":     std.Creator().Float64Slice(std.Data()),
		"num_params":   g.NumParams(),
	}
}

// SerializerType returns the unique ID used to serialize
// a GaussianMLP with the serializer package.
func (g *GaussianMLP) SerializerType() string {
	return "github.com/cistar-dev/cistar/policies.GaussianMLP"
}

// Serialize serializes the policy.
func (g *GaussianMLP) Serialize() ([]byte, error) {
	return serializer.SerializeAny(g.Net, &anyvecsave.S{Vector: g.LogStd.Vector})
}

package policies

import (
	"math"
	"math/rand"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/cistar-dev/cistar/envs"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
)

func testSpec() envs.Spec {
	return envs.Spec{
		ObservationDim: 6,
		ActionDim:      2,
		ActionLow:      []float64{-1, -1},
		ActionHigh:     []float64{1, 1},
	}
}

func TestGaussianMLPShape(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	policy, err := NewGaussianMLP(c, testSpec(), []int{5, 4, 3}, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if sizes := policy.HiddenSizes(); !reflect.DeepEqual(sizes, []int{5, 4, 3}) {
		t.Errorf("unexpected hidden sizes: %v", sizes)
	}
	expected := (6*5 + 5) + (5*4 + 4) + (4*3 + 3) + (3*2 + 2) + 2
	if n := policy.NumParams(); n != expected {
		t.Errorf("expected %d params but got %d", expected, n)
	}
	obs := anyvec.Make(c, []float64{1, 2, 3, 4, 5, 6})
	if mean := policy.Mean(obs); mean.Len() != 2 {
		t.Errorf("expected 2 outputs but got %d", mean.Len())
	}
	for _, x := range policy.LogStd.Vector.Data().([]float64) {
		if x != 0 {
			t.Errorf("expected log std 0 but got %v", x)
		}
	}
}

func TestGaussianMLPAct(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	policy, err := NewGaussianMLP(c, testSpec(), []int{4}, 1e-6, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatal(err)
	}
	obs := anyvec.Make(c, []float64{1, -1, 0.5, 0, 2, 3})
	mean := policy.Mean(obs).Data().([]float64)
	action := policy.Act(obs).Data().([]float64)
	for i, x := range action {
		if math.Abs(x-mean[i]) > 1e-4 {
			t.Errorf("action %d: %v is far from mean %v", i, x, mean[i])
		}
	}
}

func TestGaussianMLPSeeded(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	params := func(seed int64) []float64 {
		policy, err := NewGaussianMLP(c, testSpec(), []int{4}, 1, rand.New(rand.NewSource(seed)))
		if err != nil {
			t.Fatal(err)
		}
		var res []float64
		for _, p := range policy.Parameters() {
			res = append(res, p.Vector.Data().([]float64)...)
		}
		return res
	}
	if !reflect.DeepEqual(params(5), params(5)) {
		t.Error("same seed gave different weights")
	}
	if reflect.DeepEqual(params(5), params(16)) {
		t.Error("different seeds gave the same weights")
	}
}

func TestGaussianMLPValidation(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	if _, err := NewGaussianMLP(c, testSpec(), []int{4, 0}, 1, nil); err == nil {
		t.Error("expected an error for a zero hidden size")
	}
	if _, err := NewGaussianMLP(c, testSpec(), []int{4}, 0, nil); err == nil {
		t.Error("expected an error for a zero std")
	}
	if _, err := NewGaussianMLP(c, envs.Spec{ObservationDim: 3}, []int{4}, 1, nil); err == nil {
		t.Error("expected an error for an empty action space")
	}
}

func TestGaussianMLPSaveLoad(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	policy, err := NewGaussianMLP(c, testSpec(), []int{5, 3}, 0.5, nil)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "policy")
	if err := policy.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadGaussianMLP(path)
	if err != nil {
		t.Fatal(err)
	}
	obs := anyvec.Make(c, []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6})
	expected := policy.Mean(obs).Data().([]float64)
	actual := loaded.Mean(obs).Data().([]float64)
	for i := range expected {
		if math.Abs(expected[i]-actual[i]) > 1e-8 {
			t.Errorf("output %d: expected %v but got %v", i, expected[i], actual[i])
		}
	}
	if !reflect.DeepEqual(policy.Describe(), loaded.Describe()) {
		t.Errorf("descriptions differ: %v vs %v", policy.Describe(), loaded.Describe())
	}
	if _, err := LoadGaussianMLP(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected an error")
	}
}

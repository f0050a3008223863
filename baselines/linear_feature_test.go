package baselines

import (
	"reflect"
	"testing"

	"github.com/cistar-dev/cistar/envs"
)

func TestLinearFeatureFeatures(t *testing.T) {
	b, err := NewLinearFeature(envs.Spec{ObservationDim: 2}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if b.FeatureDim() != 8 {
		t.Errorf("expected dimension 8 but got %d", b.FeatureDim())
	}
	actual := b.Features([][]float64{{1, -20}, {3, 0.5}})
	expected := [][]float64{
		{1, -10, 1, 100, 0, 0, 0, 1},
		{3, 0.5, 9, 0.25, 0.01, 0.0001, 0.000001, 1},
	}
	if len(actual) != 2 {
		t.Fatalf("expected 2 rows but got %d", len(actual))
	}
	if !reflect.DeepEqual(actual[0], expected[0]) {
		t.Errorf("row 0: expected %v but got %v", expected[0], actual[0])
	}
	for i, x := range expected[1] {
		if d := actual[1][i] - x; d > 1e-12 || d < -1e-12 {
			t.Errorf("row 1 entry %d: expected %v but got %v", i, x, actual[1][i])
		}
	}
	if b.Describe()["reg_coeff"] != DefaultRegCoeff {
		t.Errorf("unexpected description: %v", b.Describe())
	}
}

func TestNewLinearFeatureValidation(t *testing.T) {
	if _, err := NewLinearFeature(envs.Spec{}, 0); err == nil {
		t.Error("expected an error for an empty observation space")
	}
	if _, err := NewLinearFeature(envs.Spec{ObservationDim: 3}, -1); err == nil {
		t.Error("expected an error for a negative coefficient")
	}
}

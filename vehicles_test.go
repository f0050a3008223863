package cistar

import (
	"strings"
	"testing"
)

func TestDefaultPopulationTag(t *testing.T) {
	exp := DefaultExperiment()
	if n := exp.Vehicles.NumVehicles(); n != 20 {
		t.Errorf("expected 20 vehicles but got %d", n)
	}
	if n := exp.Vehicles.NumRL(); n != 15 {
		t.Errorf("expected 15 RL vehicles but got %d", n)
	}
	if tag := exp.Tag(); tag != "20-car-15-rl-intersection-control" {
		t.Errorf("unexpected tag: %s", tag)
	}
	if len(exp.Vehicles) != 10 {
		t.Fatalf("expected 10 groups but got %d", len(exp.Vehicles))
	}
	for _, v := range exp.Vehicles {
		isRL := strings.HasPrefix(v.Label, "rl")
		if v.IsRL() != isRL {
			t.Errorf("group %s: IsRL=%v", v.Label, v.IsRL())
		}
		if isRL && v.Count != 3 || !isRL && v.Count != 1 {
			t.Errorf("group %s: unexpected count %d", v.Label, v.Count)
		}
	}
}

func TestExpTag(t *testing.T) {
	cases := []struct {
		cars, auto int
		expected   string
	}{
		{20, 15, "20-car-15-rl-intersection-control"},
		{10, 2, "10-car-2-rl-intersection-control"},
		{0, 0, "0-car-0-rl-intersection-control"},
	}
	for _, c := range cases {
		if actual := ExpTag(c.cars, c.auto); actual != c.expected {
			t.Errorf("ExpTag(%d, %d) = %s, expected %s", c.cars, c.auto, actual, c.expected)
		}
		if ExpTag(c.cars, c.auto) != ExpTag(c.cars, c.auto) {
			t.Errorf("ExpTag(%d, %d) is not deterministic", c.cars, c.auto)
		}
	}
	if actual := FormatTag(4, 1, "loop"); actual != "4-car-1-rl-loop" {
		t.Errorf("unexpected tag: %s", actual)
	}
}

func TestNewVehicleType(t *testing.T) {
	v, err := NewVehicleType("rl", 3, RLController{}, StaticLaneChanger{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if v.Label != "rl" || v.Count != 3 || !v.IsRL() || v.InitialState != 0 {
		t.Errorf("unexpected vehicle type: %+v", v)
	}

	bad := [][]any{
		{3, RLController{}, StaticLaneChanger{}},
		{3, RLController{}, StaticLaneChanger{}, 0, 0},
		{"3", RLController{}, StaticLaneChanger{}, 0},
		{3, StaticLaneChanger{}, StaticLaneChanger{}, 0},
		{3, RLController{}, RLController{}, 0},
		{3, RLController{}, StaticLaneChanger{}, 0.5},
		{-1, RLController{}, StaticLaneChanger{}, 0},
	}
	for i, fields := range bad {
		if _, err := NewVehicleType("x", fields...); err == nil {
			t.Errorf("case %d: expected an error", i)
		}
	}
}

func TestVehicleTypesValidate(t *testing.T) {
	good := DefaultExperiment().Vehicles
	if err := good.Validate(); err != nil {
		t.Fatal(err)
	}

	dup := good.Copy()
	dup[1].Label = dup[0].Label
	if dup.Validate() == nil {
		t.Error("duplicate labels were accepted")
	}
	if good[1].Label == good[0].Label {
		t.Error("Copy shares storage with the original")
	}

	empty := VehicleTypes{{Label: "rl", CarFollowing: RLController{}, LaneChange: StaticLaneChanger{}}}
	if empty.Validate() == nil {
		t.Error("population without vehicles was accepted")
	}

	missing := VehicleTypes{{Label: "rl", Count: 1, LaneChange: StaticLaneChanger{}}}
	if missing.Validate() == nil {
		t.Error("missing controller was accepted")
	}
}

func TestParseControllers(t *testing.T) {
	cf, err := ParseCarFollowing("IDMController", map[string]float64{"v0": 20})
	if err != nil {
		t.Fatal(err)
	}
	idm, ok := cf.(IDMController)
	if !ok {
		t.Fatalf("unexpected type %T", cf)
	}
	expected := DefaultIDM()
	expected.V0 = 20
	if idm != expected {
		t.Errorf("expected %+v but got %+v", expected, idm)
	}

	if _, err := ParseCarFollowing("idm", map[string]float64{"speed": 1}); err == nil {
		t.Error("unknown option was accepted")
	}
	if _, err := ParseCarFollowing("rl", map[string]float64{"v0": 1}); err == nil {
		t.Error("option for RL controller was accepted")
	}
	if _, err := ParseCarFollowing("pid", nil); err == nil {
		t.Error("unknown controller was accepted")
	}

	lc, err := ParseLaneChange("stochastic", map[string]float64{"prob": 0.25})
	if err != nil {
		t.Fatal(err)
	}
	if lc.(StochasticLaneChanger).Prob != 0.25 {
		t.Errorf("unexpected options: %v", lc.Options())
	}
	if _, err := ParseLaneChange("stochastic", map[string]float64{"prob": 2}); err == nil {
		t.Error("probability above 1 was accepted")
	}
	if _, err := ParseLaneChange("static", nil); err != nil {
		t.Error(err)
	}
}

func TestVehicleSpecRoundTrip(t *testing.T) {
	for _, v := range DefaultExperiment().Vehicles {
		back, err := v.Spec().VehicleType()
		if err != nil {
			t.Fatal(err)
		}
		if back.Label != v.Label || back.Count != v.Count ||
			back.CarFollowing != v.CarFollowing || back.LaneChange != v.LaneChange {
			t.Errorf("expected %+v but got %+v", v, back)
		}
	}
}

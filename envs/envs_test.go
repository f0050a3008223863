package envs

import (
	"errors"
	"math"
	"reflect"
	"sort"
	"testing"

	"github.com/cistar-dev/cistar"
	"github.com/cistar-dev/cistar/scenarios"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
)

type fakeVehicle struct {
	Speed float64
	Edge  string
	Pos   float64
}

type fakeSim struct {
	vehicles   map[string]*fakeVehicle
	speedModes map[string]int
	laneModes  map[string]int
	setSpeeds  map[string]float64
	steps      int

	// pending vehicles enter the network once steps
	// reaches insertAt.
	pending  map[string]*fakeVehicle
	insertAt int

	// removeOnStep deletes a vehicle at the next step.
	removeOnStep string
}

func newFakeSim(s *scenarios.Scenario) *fakeSim {
	f := &fakeSim{
		vehicles:   map[string]*fakeVehicle{},
		speedModes: map[string]int{},
		laneModes:  map[string]int{},
		setSpeeds:  map[string]float64{},
		pending:    map[string]*fakeVehicle{},
		insertAt:   1,
	}
	for _, start := range s.Starts {
		f.pending[start.Vehicle] = &fakeVehicle{Edge: start.Edge, Pos: start.Pos}
	}
	return f
}

func (f *fakeSim) SimulationStep(t float64) error {
	f.steps++
	if f.steps >= f.insertAt {
		for id, v := range f.pending {
			f.vehicles[id] = v
			delete(f.pending, id)
		}
	}
	for id, v := range f.setSpeeds {
		if veh, ok := f.vehicles[id]; ok {
			veh.Speed = v
		}
	}
	if f.removeOnStep != "" {
		delete(f.vehicles, f.removeOnStep)
		f.removeOnStep = ""
	}
	return nil
}

func (f *fakeSim) VehicleIDs() ([]string, error) {
	var res []string
	for id := range f.vehicles {
		res = append(res, id)
	}
	return res, nil
}

func (f *fakeSim) vehicle(id string) (*fakeVehicle, error) {
	v, ok := f.vehicles[id]
	if !ok {
		return nil, errors.New("unknown vehicle " + id)
	}
	return v, nil
}

func (f *fakeSim) Speed(id string) (float64, error) {
	v, err := f.vehicle(id)
	if err != nil {
		return 0, err
	}
	return v.Speed, nil
}

func (f *fakeSim) LanePosition(id string) (float64, error) {
	v, err := f.vehicle(id)
	if err != nil {
		return 0, err
	}
	return v.Pos, nil
}

func (f *fakeSim) RoadID(id string) (string, error) {
	v, err := f.vehicle(id)
	if err != nil {
		return "", err
	}
	return v.Edge, nil
}

func (f *fakeSim) SetSpeed(id string, speed float64) error {
	f.setSpeeds[id] = speed
	return nil
}

func (f *fakeSim) SetSpeedMode(id string, mode int) error {
	f.speedModes[id] = mode
	return nil
}

func (f *fakeSim) SetLaneChangeMode(id string, mode int) error {
	f.laneModes[id] = mode
	return nil
}

func testEnv(t *testing.T) (*SimpleAcceleration, *fakeSim) {
	e := cistar.DefaultExperiment()
	s, err := scenarios.Figure8(e.Tag(), e.Vehicles, e.Net, e.Cfg, e.Initial)
	if err != nil {
		t.Fatal(err)
	}
	sim := newFakeSim(s)
	env, err := NewSimpleAcceleration(anyvec64.DefaultCreator{}, e.Sumo, e.Env, s, sim)
	if err != nil {
		t.Fatal(err)
	}
	return env, sim
}

type constAgent struct {
	Action []float64
}

func (c *constAgent) Act(obs anyvec.Vector) anyvec.Vector {
	return anyvec.Make(obs.Creator(), c.Action)
}

func TestSimpleAccelerationSpec(t *testing.T) {
	env, _ := testEnv(t)
	spec := env.Spec()
	if spec.ObservationDim != 40 || spec.ActionDim != 15 {
		t.Errorf("unexpected dims: %d obs, %d actions", spec.ObservationDim, spec.ActionDim)
	}
	if spec.ActionLow[0] != -6 || spec.ActionHigh[14] != 3 {
		t.Errorf("unexpected bounds: %v %v", spec.ActionLow, spec.ActionHigh)
	}
	if err := spec.Validate(); err != nil {
		t.Error(err)
	}
}

func TestSimpleAccelerationReset(t *testing.T) {
	env, sim := testEnv(t)
	obs, err := env.Reset()
	if err != nil {
		t.Fatal(err)
	}
	if obs.Len() != 40 {
		t.Fatalf("expected 40 observations but got %d", obs.Len())
	}
	if sim.speedModes["rl_0"] != 1 || sim.laneModes["idm_0"] != 512 {
		t.Errorf("unexpected modes: %v %v", sim.speedModes, sim.laneModes)
	}
	if len(sim.speedModes) != 20 {
		t.Errorf("expected modes for 20 vehicles but got %d", len(sim.speedModes))
	}

	if !sort.StringsAreSorted(env.ids) {
		t.Errorf("vehicles are not sorted: %v", env.ids)
	}
	data := obs.Data().([]float64)
	for i, id := range env.ids {
		if data[20+i] != env.lastPos[id] {
			t.Errorf("position %d is %v, expected %s at %v", i, data[20+i], id, env.lastPos[id])
		}
	}
}

func TestSimpleAccelerationResetWaitsForInsertion(t *testing.T) {
	env, sim := testEnv(t)
	sim.insertAt = 3
	if _, err := env.Reset(); err != nil {
		t.Fatal(err)
	}
	if sim.steps != 3 {
		t.Errorf("expected 3 insertion steps but got %d", sim.steps)
	}
	if len(sim.speedModes) != 20 {
		t.Errorf("expected modes for 20 vehicles but got %d", len(sim.speedModes))
	}

	// Vehicles are already present on later resets.
	if _, err := env.Reset(); err != nil {
		t.Fatal(err)
	}
	if sim.steps != 3 {
		t.Errorf("second reset stepped the simulator: %d steps", sim.steps)
	}

	env, sim = testEnv(t)
	sim.insertAt = 100
	env.InsertSteps = 4
	if _, err := env.Reset(); err == nil {
		t.Error("expected an error when vehicles never arrive")
	}
	if sim.steps != 4 {
		t.Errorf("expected 4 steps before giving up but got %d", sim.steps)
	}
}

func TestSimpleAccelerationStep(t *testing.T) {
	env, sim := testEnv(t)
	if _, err := env.Reset(); err != nil {
		t.Fatal(err)
	}
	actions := make([]float64, 15)
	actions[0] = 100
	actions[1] = 2
	actions[2] = -100
	_, rew, done, err := env.Step(anyvec.Make(anyvec64.DefaultCreator{}, actions))
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Error("unexpected done")
	}
	rl := env.rlIDs
	if math.Abs(sim.setSpeeds[rl[0]]-0.3) > 1e-8 {
		t.Errorf("acceleration not clipped: %v", sim.setSpeeds[rl[0]])
	}
	if math.Abs(sim.setSpeeds[rl[1]]-0.2) > 1e-8 {
		t.Errorf("unexpected speed: %v", sim.setSpeeds[rl[1]])
	}
	if sim.setSpeeds[rl[2]] != 0 {
		t.Errorf("speed went negative: %v", sim.setSpeeds[rl[2]])
	}
	var speeds []float64
	for _, id := range env.ids {
		speeds = append(speeds, sim.vehicles[id].Speed)
	}
	if expected := DesiredVelocityReward(speeds, 30); math.Abs(rew-expected) > 1e-8 {
		t.Errorf("expected reward %v but got %v", expected, rew)
	}
}

func TestSimpleAccelerationCollision(t *testing.T) {
	env, sim := testEnv(t)
	if _, err := env.Reset(); err != nil {
		t.Fatal(err)
	}
	sim.removeOnStep = "idm3_0"
	_, rew, done, err := env.Step(anyvec.Make(anyvec64.DefaultCreator{}, make([]float64, 15)))
	if err != nil {
		t.Fatal(err)
	}
	if !done || rew != 0 {
		t.Errorf("expected done with zero reward, got %v %v", done, rew)
	}
}

func TestDesiredVelocityReward(t *testing.T) {
	if r := DesiredVelocityReward([]float64{30, 30, 30, 30}, 30); math.Abs(r-60) > 1e-8 {
		t.Errorf("expected 60 but got %v", r)
	}
	if r := DesiredVelocityReward([]float64{0, 0}, 30); r != 0 {
		t.Errorf("expected 0 but got %v", r)
	}
	if r := DesiredVelocityReward([]float64{90, 90}, 30); r != 0 {
		t.Errorf("reward should be clipped at 0, got %v", r)
	}
}

func TestNormalizeActions(t *testing.T) {
	env, sim := testEnv(t)
	norm, err := Normalize(env, NormalizeConfig{})
	if err != nil {
		t.Fatal(err)
	}
	spec := norm.Spec()
	if spec.ActionLow[0] != -1 || spec.ActionHigh[0] != 1 {
		t.Errorf("unexpected bounds: %v %v", spec.ActionLow, spec.ActionHigh)
	}
	if _, err := norm.Reset(); err != nil {
		t.Fatal(err)
	}
	actions := make([]float64, 15)
	actions[0] = 1
	actions[1] = -1
	actions[2] = 5
	if _, _, _, err := norm.Step(anyvec.Make(anyvec64.DefaultCreator{}, actions)); err != nil {
		t.Fatal(err)
	}
	rl := env.rlIDs
	// 0 maps to the midpoint of [-6, 3], which stops the car.
	expected := map[string]float64{
		rl[0]: 0.3,
		rl[1]: 0,
		rl[2]: 0.3,
		rl[3]: 0,
	}
	for id, v := range expected {
		if math.Abs(sim.setSpeeds[id]-v) > 1e-8 {
			t.Errorf("%s: expected speed %v but got %v", id, v, sim.setSpeeds[id])
		}
	}
}

func TestNormalizeObservations(t *testing.T) {
	env, _ := testEnv(t)
	norm, err := Normalize(env, NormalizeConfig{NormalizeObs: true, ObsAlpha: 1})
	if err != nil {
		t.Fatal(err)
	}
	obs, err := norm.Reset()
	if err != nil {
		t.Fatal(err)
	}
	for i, x := range obs.Data().([]float64) {
		if math.Abs(x) > 1e-6 {
			t.Errorf("entry %d: expected 0 but got %v", i, x)
		}
	}
	if _, err := Normalize(env, NormalizeConfig{RewardAlpha: 2}); err == nil {
		t.Error("expected an error")
	}
}

func TestMaxStepsRollout(t *testing.T) {
	env, _ := testEnv(t)
	wrapped := MaxSteps(env, 3)
	path, err := Rollout(wrapped, &constAgent{Action: make([]float64, 15)}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if path.Len() != 3 || !path.Done {
		t.Errorf("expected 3 steps, got %d (done=%v)", path.Len(), path.Done)
	}
	if len(path.Observations) != 3 || len(path.Actions) != 3 {
		t.Errorf("unexpected path: %d obs, %d actions", len(path.Observations), len(path.Actions))
	}

	path, err = Rollout(wrapped, &constAgent{Action: make([]float64, 15)}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if path.Len() != 2 || path.Done {
		t.Errorf("expected 2 steps, got %d (done=%v)", path.Len(), path.Done)
	}
}

func TestDescribe(t *testing.T) {
	env, _ := testEnv(t)
	norm, err := Normalize(MaxSteps(env, 10), NormalizeConfig{})
	if err != nil {
		t.Fatal(err)
	}
	desc := norm.Describe()
	inner := desc["env"].(map[string]any)
	if inner["max_steps"] != 10 {
		t.Errorf("unexpected description: %v", desc)
	}
	base := inner["env"].(map[string]any)
	if !reflect.DeepEqual([]any{base["type"], base["vehicles"], base["rl"]},
		[]any{"SimpleAccelerationEnvironment", 20, 15}) {
		t.Errorf("unexpected description: %v", base)
	}
}

func TestNewSimpleAccelerationValidation(t *testing.T) {
	e := cistar.DefaultExperiment()
	s, err := scenarios.Figure8(e.Tag(), e.Vehicles, e.Net, e.Cfg, e.Initial)
	if err != nil {
		t.Fatal(err)
	}
	params := e.Env
	params.IntersectionFailSafe = cistar.FailSafeInstantaneous
	if _, err := NewSimpleAcceleration(anyvec64.DefaultCreator{}, e.Sumo, params, s, nil); err == nil {
		t.Error("expected an error")
	}
	env, err := NewSimpleAcceleration(anyvec64.DefaultCreator{}, e.Sumo, e.Env, s, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Reset(); err == nil {
		t.Error("expected an error without a simulator")
	}
}

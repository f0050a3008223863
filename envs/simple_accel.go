package envs

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/cistar-dev/cistar"
	"github.com/cistar-dev/cistar/scenarios"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// Simulator is the part of a simulator control connection
// used by environments.
//
// It is implemented by *traci.Client.
type Simulator interface {
	SimulationStep(targetTime float64) error
	VehicleIDs() ([]string, error)
	Speed(id string) (float64, error)
	LanePosition(id string) (float64, error)
	RoadID(id string) (string, error)
	SetSpeed(id string, speed float64) error
	SetSpeedMode(id string, mode int) error
	SetLaneChangeMode(id string, mode int) error
}

// DefaultInsertSteps is the default bound on the steps
// Reset waits for vehicles to enter the network.
const DefaultInsertSteps = 10

// SimpleAcceleration is an Env in which the agent picks
// the acceleration of every policy-driven vehicle.
//
// Observations are the speeds of all vehicles followed by
// their positions along the network, both ordered by
// vehicle ID.
// The reward is high when every vehicle drives at the
// target velocity.
type SimpleAcceleration struct {
	Creator  anyvec.Creator
	Sumo     cistar.SumoParams
	Params   cistar.EnvParams
	Scenario *scenarios.Scenario
	Sim      Simulator
	Logger   *slog.Logger

	// InsertSteps is the number of simulation steps Reset
	// may take while vehicles are still being inserted.
	// If 0, DefaultInsertSteps is used.
	InsertSteps int

	ids      []string
	rlIDs    []string
	isRL     map[string]bool
	lastPos  map[string]float64
	lastObs  anyvec.Vector
	timestep int
}

// NewSimpleAcceleration creates the environment.
//
// The simulator may be nil, in which case the environment
// can be described but not run.
func NewSimpleAcceleration(c anyvec.Creator, sumo cistar.SumoParams, params cistar.EnvParams,
	s *scenarios.Scenario, sim Simulator) (env *SimpleAcceleration, err error) {
	defer essentials.AddCtxTo("create acceleration env", &err)
	if err := sumo.Validate(); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if s == nil || s.NumVehicles() == 0 {
		return nil, errors.New("scenario has no vehicles")
	}
	env = &SimpleAcceleration{
		Creator:  c,
		Sumo:     sumo,
		Params:   params,
		Scenario: s,
		Sim:      sim,
		isRL:     map[string]bool{},
		lastPos:  map[string]float64{},
	}
	for _, start := range s.Starts {
		env.ids = append(env.ids, start.Vehicle)
	}
	sort.Strings(env.ids)
	env.rlIDs = s.RLVehicles()
	sort.Strings(env.rlIDs)
	for _, id := range env.rlIDs {
		env.isRL[id] = true
	}
	if len(env.rlIDs) == 0 {
		return nil, errors.New("scenario has no policy-driven vehicles")
	}
	return env, nil
}

// Spec returns the space description.
func (s *SimpleAcceleration) Spec() Spec {
	return Spec{
		ObservationDim: 2 * len(s.ids),
		ActionDim:      len(s.rlIDs),
		ActionLow:      fill(len(s.rlIDs), s.Params.MaxDeacc),
		ActionHigh:     fill(len(s.rlIDs), s.Params.MaxAcc),
	}
}

// Describe summarizes the environment.
func (s *SimpleAcceleration) Describe() map[string]any {
	return map[string]any{
		"type":     "SimpleAccelerationEnvironment",
		"sumo":     s.Sumo,
		"env":      s.Params,
		"scenario": s.Scenario.Name,
		"kind":     s.Scenario.Kind,
		"vehicles": len(s.ids),
		"rl":       len(s.rlIDs),
	}
}

// Reset waits for every vehicle to be inserted, applies
// the speed and lane-change modes and returns the first
// observation.
//
// The simulator only inserts departing vehicles while
// stepping, so Reset may advance it a few steps.
func (s *SimpleAcceleration) Reset() (obs anyvec.Vector, err error) {
	defer essentials.AddCtxTo("reset acceleration env", &err)
	if s.Sim == nil {
		return nil, errors.New("no simulator attached")
	}
	if err := s.awaitVehicles(); err != nil {
		return nil, err
	}
	if err := s.applyModes(); err != nil {
		return nil, err
	}
	s.timestep = 0
	s.lastPos = map[string]float64{}
	for _, start := range s.Scenario.Starts {
		s.lastPos[start.Vehicle], _ = s.Scenario.AbsolutePosition(start.Edge, start.Pos)
	}
	speeds, err := s.observe()
	if err != nil {
		return nil, err
	}
	s.lastObs = s.vector(speeds)
	s.logger().Debug("reset environment", "scenario", s.Scenario.Name, "vehicles", len(s.ids))
	return s.lastObs, nil
}

// Step applies the accelerations, advances the simulator
// by one step and observes the result.
//
// If any vehicle left the network, for example after a
// collision, the episode ends with zero reward.
func (s *SimpleAcceleration) Step(action anyvec.Vector) (obs anyvec.Vector, reward float64,
	done bool, err error) {
	defer essentials.AddCtxTo("step acceleration env", &err)
	if s.Sim == nil {
		return nil, 0, false, errors.New("no simulator attached")
	}
	if action.Len() != len(s.rlIDs) {
		return nil, 0, false, fmt.Errorf("expected %d actions but got %d", len(s.rlIDs), action.Len())
	}
	accels := s.Creator.Float64Slice(action.Data())
	for i, id := range s.rlIDs {
		speed, err := s.Sim.Speed(id)
		if err != nil {
			return nil, 0, false, err
		}
		if err := s.Sim.SetSpeed(id, s.nextSpeed(speed, accels[i])); err != nil {
			return nil, 0, false, err
		}
	}
	if err := s.Sim.SimulationStep(0); err != nil {
		return nil, 0, false, err
	}
	s.timestep++

	present, err := s.Sim.VehicleIDs()
	if err != nil {
		return nil, 0, false, err
	}
	if len(present) < len(s.ids) {
		s.logger().Debug("vehicles left the network", "expected", len(s.ids),
			"present", len(present), "timestep", s.timestep)
		return s.lastObs, 0, true, nil
	}

	speeds, err := s.observe()
	if err != nil {
		return nil, 0, false, err
	}
	s.lastObs = s.vector(speeds)
	return s.lastObs, DesiredVelocityReward(speeds, s.Params.TargetVelocity), false, nil
}

// DesiredVelocityReward computes
//
//	max(||target*1|| - ||speeds - target||, 0)
//
// which peaks when every speed equals the target.
func DesiredVelocityReward(speeds []float64, target float64) float64 {
	var cost float64
	for _, v := range speeds {
		cost += (v - target) * (v - target)
	}
	best := target * math.Sqrt(float64(len(speeds)))
	return math.Max(best-math.Sqrt(cost), 0)
}

func (s *SimpleAcceleration) nextSpeed(speed, accel float64) float64 {
	accel = math.Max(s.Params.MaxDeacc, math.Min(s.Params.MaxAcc, accel))
	next := math.Max(speed+accel*s.Sumo.TimeStep, 0)
	if s.Params.FailSafe == cistar.FailSafeInstantaneous {
		next = math.Min(next, s.Scenario.Net.SpeedLimit)
	}
	return next
}

func (s *SimpleAcceleration) awaitVehicles() error {
	maxSteps := s.InsertSteps
	if maxSteps == 0 {
		maxSteps = DefaultInsertSteps
	}
	for step := 0; ; step++ {
		present, err := s.Sim.VehicleIDs()
		if err != nil {
			return err
		}
		missing := s.missing(present)
		if missing == 0 {
			if step > 0 {
				s.logger().Debug("vehicles inserted", "steps", step)
			}
			return nil
		}
		if step == maxSteps {
			return fmt.Errorf("%d of %d vehicles missing after %d steps", missing, len(s.ids), step)
		}
		if err := s.Sim.SimulationStep(0); err != nil {
			return err
		}
	}
}

func (s *SimpleAcceleration) missing(present []string) int {
	found := make(map[string]bool, len(present))
	for _, id := range present {
		found[id] = true
	}
	var n int
	for _, id := range s.ids {
		if !found[id] {
			n++
		}
	}
	return n
}

func (s *SimpleAcceleration) applyModes() error {
	rlSpeed, _ := s.Sumo.RLSpeed.Bits()
	humanSpeed, _ := s.Sumo.HumanSpeed.Bits()
	rlLane, _ := s.Sumo.RLLaneChange.Bits()
	humanLane, _ := s.Sumo.HumanLaneChange.Bits()
	for _, id := range s.ids {
		speedMode, laneMode := humanSpeed, humanLane
		if s.isRL[id] {
			speedMode, laneMode = rlSpeed, rlLane
		}
		if err := s.Sim.SetSpeedMode(id, speedMode); err != nil {
			return err
		}
		if err := s.Sim.SetLaneChangeMode(id, laneMode); err != nil {
			return err
		}
	}
	return nil
}

// observe reads every speed and updates lastPos.
//
// Vehicles on junction-internal edges keep their last
// known position.
func (s *SimpleAcceleration) observe() ([]float64, error) {
	speeds := make([]float64, len(s.ids))
	for i, id := range s.ids {
		speed, err := s.Sim.Speed(id)
		if err != nil {
			return nil, err
		}
		speeds[i] = speed
		edge, err := s.Sim.RoadID(id)
		if err != nil {
			return nil, err
		}
		pos, err := s.Sim.LanePosition(id)
		if err != nil {
			return nil, err
		}
		if abs, ok := s.Scenario.AbsolutePosition(edge, pos); ok {
			s.lastPos[id] = abs
		}
	}
	return speeds, nil
}

func (s *SimpleAcceleration) vector(speeds []float64) anyvec.Vector {
	data := append([]float64{}, speeds...)
	for _, id := range s.ids {
		data = append(data, s.lastPos[id])
	}
	return anyvec.Make(s.Creator, data)
}

func (s *SimpleAcceleration) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

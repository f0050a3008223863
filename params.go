package cistar

import (
	"errors"
	"fmt"
)

// SpeedMode is a named SUMO speed-mode bitset.
type SpeedMode string

const (
	SpeedAggressive SpeedMode = "aggressive"
	SpeedNoCollide  SpeedMode = "no_collide"
	SpeedRightOfWay SpeedMode = "right_of_way"
	SpeedAllChecks  SpeedMode = "all_checks"
)

var speedModeBits = map[SpeedMode]int{
	SpeedAggressive: 0,
	SpeedNoCollide:  1,
	SpeedRightOfWay: 25,
	SpeedAllChecks:  31,
}

// Bits returns the value SUMO expects for the mode.
func (s SpeedMode) Bits() (int, error) {
	bits, ok := speedModeBits[s]
	if !ok {
		return 0, fmt.Errorf("unknown speed mode: %q", s)
	}
	return bits, nil
}

// LaneChangeMode is a named SUMO lane-change-mode bitset.
type LaneChangeMode string

const (
	LaneChangeAggressive LaneChangeMode = "aggressive"
	LaneChangeNoCollide  LaneChangeMode = "no_collide"
	LaneChangeStrategic  LaneChangeMode = "strategic"
)

var laneChangeModeBits = map[LaneChangeMode]int{
	LaneChangeAggressive: 0,
	LaneChangeNoCollide:  512,
	LaneChangeStrategic:  1621,
}

// Bits returns the value SUMO expects for the mode.
func (l LaneChangeMode) Bits() (int, error) {
	bits, ok := laneChangeModeBits[l]
	if !ok {
		return 0, fmt.Errorf("unknown lane change mode: %q", l)
	}
	return bits, nil
}

// FailSafe selects how requested accelerations are made
// safe before they reach the simulator.
type FailSafe string

const (
	// FailSafeNone applies actions unchanged.
	FailSafeNone FailSafe = "None"

	// FailSafeInstantaneous clips the resulting speed to
	// [0, speed limit].
	FailSafeInstantaneous FailSafe = "instantaneous"
)

// SumoParams configures the simulator process and how it
// treats each vehicle class.
type SumoParams struct {
	TimeStep        float64        `yaml:"time_step" hcl:"time_step,optional"`
	TraciControl    int            `yaml:"traci_control" hcl:"traci_control,optional"`
	RLLaneChange    LaneChangeMode `yaml:"rl_lc" hcl:"rl_lc,optional"`
	HumanLaneChange LaneChangeMode `yaml:"human_lc" hcl:"human_lc,optional"`
	RLSpeed         SpeedMode      `yaml:"rl_sm" hcl:"rl_sm,optional"`
	HumanSpeed      SpeedMode      `yaml:"human_sm" hcl:"human_sm,optional"`
}

// Validate checks the time step and every mode name.
func (s SumoParams) Validate() error {
	if s.TimeStep <= 0 {
		return fmt.Errorf("time_step must be positive, got %v", s.TimeStep)
	}
	if s.TraciControl < 0 {
		return fmt.Errorf("traci_control cannot be negative, got %d", s.TraciControl)
	}
	for _, m := range []LaneChangeMode{s.RLLaneChange, s.HumanLaneChange} {
		if _, err := m.Bits(); err != nil {
			return err
		}
	}
	for _, m := range []SpeedMode{s.RLSpeed, s.HumanSpeed} {
		if _, err := m.Bits(); err != nil {
			return err
		}
	}
	return nil
}

// EnvParams configures the acceleration environment.
type EnvParams struct {
	TargetVelocity       float64  `yaml:"target_velocity" hcl:"target_velocity,optional"`
	MaxDeacc             float64  `yaml:"max_deacc" hcl:"max_deacc,optional"`
	MaxAcc               float64  `yaml:"max_acc" hcl:"max_acc,optional"`
	FailSafe             FailSafe `yaml:"fail_safe" hcl:"fail_safe,optional"`
	IntersectionFailSafe FailSafe `yaml:"intersection_fail_safe" hcl:"intersection_fail_safe,optional"`
}

// Validate checks the bounds and fail-safe names.
func (e EnvParams) Validate() error {
	if e.TargetVelocity <= 0 {
		return fmt.Errorf("target_velocity must be positive, got %v", e.TargetVelocity)
	}
	if e.MaxDeacc >= 0 {
		return fmt.Errorf("max_deacc must be negative, got %v", e.MaxDeacc)
	}
	if e.MaxAcc <= 0 {
		return fmt.Errorf("max_acc must be positive, got %v", e.MaxAcc)
	}
	switch e.FailSafe {
	case FailSafeNone, FailSafeInstantaneous:
	default:
		return fmt.Errorf("unknown fail_safe: %q", e.FailSafe)
	}
	if e.IntersectionFailSafe != FailSafeNone {
		return fmt.Errorf("unsupported intersection_fail_safe: %q", e.IntersectionFailSafe)
	}
	return nil
}

// NetParams describes the road network geometry and where
// generated network files go.
type NetParams struct {
	RadiusRing float64 `yaml:"radius_ring" hcl:"radius_ring,optional"`
	Lanes      int     `yaml:"lanes" hcl:"lanes,optional"`
	SpeedLimit float64 `yaml:"speed_limit" hcl:"speed_limit,optional"`

	// Resolution is the number of shape points used for
	// each curved edge.
	Resolution int `yaml:"resolution" hcl:"resolution,optional"`

	// Length overrides the ring length of loop networks.
	// If 0, the circumference of RadiusRing is used.
	Length float64 `yaml:"length" hcl:"length,optional"`

	NetPath string `yaml:"net_path" hcl:"net_path,optional"`
}

// Validate checks that the geometry is usable.
func (n NetParams) Validate() error {
	switch {
	case n.RadiusRing <= 0:
		return fmt.Errorf("radius_ring must be positive, got %v", n.RadiusRing)
	case n.Lanes < 1:
		return fmt.Errorf("lanes must be at least 1, got %d", n.Lanes)
	case n.SpeedLimit <= 0:
		return fmt.Errorf("speed_limit must be positive, got %v", n.SpeedLimit)
	case n.Resolution < 1:
		return fmt.Errorf("resolution must be at least 1, got %d", n.Resolution)
	case n.Length < 0:
		return fmt.Errorf("length cannot be negative, got %v", n.Length)
	case n.NetPath == "":
		return errors.New("net_path is required")
	}
	return nil
}

// CfgParams describes the simulated time window and where
// generated run configuration goes.
type CfgParams struct {
	StartTime int    `yaml:"start_time" hcl:"start_time,optional"`
	EndTime   int    `yaml:"end_time" hcl:"end_time,optional"`
	CfgPath   string `yaml:"cfg_path" hcl:"cfg_path,optional"`
}

// Validate checks the time window and path.
func (c CfgParams) Validate() error {
	if c.StartTime < 0 {
		return fmt.Errorf("start_time cannot be negative, got %d", c.StartTime)
	}
	if c.EndTime <= c.StartTime {
		return fmt.Errorf("end_time (%d) must be after start_time (%d)", c.EndTime, c.StartTime)
	}
	if c.CfgPath == "" {
		return errors.New("cfg_path is required")
	}
	return nil
}

// InitialConfig controls initial vehicle placement.
type InitialConfig struct {
	Shuffle bool `yaml:"shuffle" hcl:"shuffle,optional"`

	// Bunching is the length of road, in meters, left
	// empty when vehicles are spread over the network.
	Bunching float64 `yaml:"bunching" hcl:"bunching,optional"`

	// Seed drives the shuffle permutation.
	Seed int64 `yaml:"seed" hcl:"seed,optional"`
}

// Validate checks the bunching length.
func (i InitialConfig) Validate() error {
	if i.Bunching < 0 {
		return fmt.Errorf("bunching cannot be negative, got %v", i.Bunching)
	}
	return nil
}

package cistar

import (
	"errors"
	"fmt"
)

// A VehicleType is one group of identical vehicles.
type VehicleType struct {
	// Label names the group. Vehicle IDs are derived from
	// it, so it must be unique within a population.
	Label string

	Count        int
	CarFollowing CarFollowingModel
	LaneChange   LaneChangeModel

	// InitialState tags the starting condition of the
	// group's vehicles (0 is at rest).
	InitialState int
}

// NewVehicleType builds a VehicleType from the positional
// form (count, car-following, lane-change, initial-state).
//
// Exactly four fields are required, with those types, in
// that order.
func NewVehicleType(label string, fields ...any) (VehicleType, error) {
	if len(fields) != 4 {
		return VehicleType{}, fmt.Errorf("vehicle type %q: expected 4 fields, got %d", label, len(fields))
	}
	count, ok := fields[0].(int)
	if !ok {
		return VehicleType{}, fmt.Errorf("vehicle type %q: count must be an int, got %T", label, fields[0])
	}
	cf, ok := fields[1].(CarFollowingModel)
	if !ok {
		return VehicleType{}, fmt.Errorf("vehicle type %q: bad car following controller: %T", label, fields[1])
	}
	lc, ok := fields[2].(LaneChangeModel)
	if !ok {
		return VehicleType{}, fmt.Errorf("vehicle type %q: bad lane change controller: %T", label, fields[2])
	}
	state, ok := fields[3].(int)
	if !ok {
		return VehicleType{}, fmt.Errorf("vehicle type %q: initial state must be an int, got %T", label, fields[3])
	}
	v := VehicleType{Label: label, Count: count, CarFollowing: cf, LaneChange: lc, InitialState: state}
	return v, v.Validate()
}

// Validate checks a single group.
func (v VehicleType) Validate() error {
	if v.Label == "" {
		return errors.New("vehicle type label is empty")
	}
	if v.Count < 0 {
		return fmt.Errorf("vehicle type %q: count cannot be negative, got %d", v.Label, v.Count)
	}
	if v.CarFollowing == nil {
		return fmt.Errorf("vehicle type %q: missing car following controller", v.Label)
	}
	if v.LaneChange == nil {
		return fmt.Errorf("vehicle type %q: missing lane change controller", v.Label)
	}
	if v.InitialState < 0 {
		return fmt.Errorf("vehicle type %q: initial state cannot be negative, got %d", v.Label, v.InitialState)
	}
	return nil
}

// IsRL reports whether the group is driven by the policy.
func (v VehicleType) IsRL() bool {
	return v.CarFollowing != nil && v.CarFollowing.IsRL()
}

// VehicleTypes is an ordered vehicle population.
type VehicleTypes []VehicleType

// Validate checks every group and that labels are unique.
func (v VehicleTypes) Validate() error {
	if len(v) == 0 {
		return errors.New("vehicle population is empty")
	}
	seen := map[string]bool{}
	for _, t := range v {
		if err := t.Validate(); err != nil {
			return err
		}
		if seen[t.Label] {
			return fmt.Errorf("duplicate vehicle type label: %q", t.Label)
		}
		seen[t.Label] = true
	}
	if v.NumVehicles() == 0 {
		return errors.New("vehicle population has no vehicles")
	}
	return nil
}

// NumVehicles returns the total vehicle count.
func (v VehicleTypes) NumVehicles() int {
	var n int
	for _, t := range v {
		n += t.Count
	}
	return n
}

// NumRL returns the number of policy-driven vehicles.
func (v VehicleTypes) NumRL() int {
	var n int
	for _, t := range v {
		if t.IsRL() {
			n += t.Count
		}
	}
	return n
}

// Copy returns a population which shares nothing mutable
// with v.
func (v VehicleTypes) Copy() VehicleTypes {
	return append(VehicleTypes(nil), v...)
}

// MarshalYAML encodes controllers by kind and options.
func (v VehicleType) MarshalYAML() (any, error) {
	return v.Spec(), nil
}

// Spec converts v to its file representation.
func (v VehicleType) Spec() VehicleSpec {
	s := VehicleSpec{
		Label:        v.Label,
		Count:        v.Count,
		InitialState: v.InitialState,
	}
	if v.CarFollowing != nil {
		s.CarFollowing = v.CarFollowing.Kind()
		s.CarFollowingOptions = v.CarFollowing.Options()
	}
	if v.LaneChange != nil {
		s.LaneChange = v.LaneChange.Kind()
		s.LaneChangeOptions = v.LaneChange.Options()
	}
	return s
}

// VehicleSpec is how a VehicleType appears in experiment
// files.
type VehicleSpec struct {
	Label               string             `yaml:"label"`
	Count               int                `yaml:"count" hcl:"count"`
	CarFollowing        string             `yaml:"car_following" hcl:"car_following"`
	CarFollowingOptions map[string]float64 `yaml:"car_following_options,omitempty" hcl:"car_following_options,optional"`
	LaneChange          string             `yaml:"lane_change" hcl:"lane_change"`
	LaneChangeOptions   map[string]float64 `yaml:"lane_change_options,omitempty" hcl:"lane_change_options,optional"`
	InitialState        int                `yaml:"initial_state" hcl:"initial_state,optional"`
}

// VehicleType resolves the controller kinds and validates
// the result.
func (s VehicleSpec) VehicleType() (VehicleType, error) {
	cf, err := ParseCarFollowing(s.CarFollowing, s.CarFollowingOptions)
	if err != nil {
		return VehicleType{}, fmt.Errorf("vehicle type %q: %w", s.Label, err)
	}
	lc, err := ParseLaneChange(s.LaneChange, s.LaneChangeOptions)
	if err != nil {
		return VehicleType{}, fmt.Errorf("vehicle type %q: %w", s.Label, err)
	}
	return NewVehicleType(s.Label, s.Count, cf, lc, s.InitialState)
}

// ExpTag names an intersection-control experiment after
// its vehicle counts, e.g. "20-car-15-rl-intersection-control".
func ExpTag(numCars, numAuto int) string {
	return FormatTag(numCars, numAuto, "intersection-control")
}

// FormatTag produces "<cars>-car-<auto>-rl-<name>".
func FormatTag(numCars, numAuto int, name string) string {
	return fmt.Sprintf("%d-car-%d-rl-%s", numCars, numAuto, name)
}

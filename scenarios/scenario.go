// Package scenarios turns network and population
// parameters into concrete road layouts with starting
// positions for every vehicle.
package scenarios

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"

	"github.com/cistar-dev/cistar"
	"github.com/unixpickle/essentials"
)

// VehicleLength is the length of every vehicle, in meters.
const VehicleLength = 5.0

// Node is a point of the road network.
type Node struct {
	ID   string  `yaml:"id"`
	X    float64 `yaml:"x"`
	Y    float64 `yaml:"y"`
	Type string  `yaml:"type,omitempty"`
}

// Edge is a directed road between two nodes.
type Edge struct {
	ID     string       `yaml:"id"`
	From   string       `yaml:"from"`
	To     string       `yaml:"to"`
	Length float64      `yaml:"length"`
	Shape  [][2]float64 `yaml:"-"`
}

// Start is the starting position of one vehicle.
type Start struct {
	Vehicle string  `yaml:"vehicle"`
	Type    string  `yaml:"type"`
	Edge    string  `yaml:"edge"`
	Pos     float64 `yaml:"pos"`
}

// A Scenario is a road network plus the vehicles placed
// on it.
//
// Edges are listed in driving order, so that the end of
// each edge is the start of the next and the last edge
// leads back to the first.
type Scenario struct {
	Name          string               `yaml:"name"`
	Kind          string               `yaml:"kind"`
	Types         cistar.VehicleTypes  `yaml:"types"`
	Net           cistar.NetParams     `yaml:"net"`
	Cfg           cistar.CfgParams     `yaml:"cfg"`
	Initial       cistar.InitialConfig `yaml:"initial"`
	Nodes         []Node               `yaml:"nodes"`
	Edges         []Edge               `yaml:"edges"`
	Length        float64              `yaml:"length"`
	Intersections []string             `yaml:"intersections,omitempty"`
	Starts        []Start              `yaml:"starts"`
}

// Figure8 builds a figure-eight network: two three-quarter
// rings of radius Net.RadiusRing joined by two straight
// roads which cross at a central intersection.
func Figure8(name string, types cistar.VehicleTypes, net cistar.NetParams,
	cfg cistar.CfgParams, initial cistar.InitialConfig) (s *Scenario, err error) {
	defer essentials.AddCtxTo("figure8 scenario", &err)
	s, err = newScenario("figure8", name, types, net, cfg, initial)
	if err != nil {
		return nil, err
	}
	s.Nodes, s.Edges = figure8Layout(net.RadiusRing, net.Resolution)
	s.Intersections = []string{"center"}
	return s, s.place()
}

// Loop builds a single-lane ring road made of four
// quarter-circle edges.
//
// The ring has length Net.Length, or the circumference of
// Net.RadiusRing if Net.Length is 0.
func Loop(name string, types cistar.VehicleTypes, net cistar.NetParams,
	cfg cistar.CfgParams, initial cistar.InitialConfig) (s *Scenario, err error) {
	defer essentials.AddCtxTo("loop scenario", &err)
	s, err = newScenario("loop", name, types, net, cfg, initial)
	if err != nil {
		return nil, err
	}
	s.Nodes, s.Edges = loopLayout(net.RadiusRing, net.Length, net.Resolution)
	return s, s.place()
}

func newScenario(kind, name string, types cistar.VehicleTypes, net cistar.NetParams,
	cfg cistar.CfgParams, initial cistar.InitialConfig) (*Scenario, error) {
	if name == "" {
		return nil, errors.New("scenario name is empty")
	}
	for _, v := range []interface{ Validate() error }{types, net, cfg, initial} {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	return &Scenario{
		Name:    name,
		Kind:    kind,
		Types:   types.Copy(),
		Net:     net,
		Cfg:     cfg,
		Initial: initial,
	}, nil
}

// NumVehicles returns the number of vehicles placed.
func (s *Scenario) NumVehicles() int {
	return len(s.Starts)
}

// RLVehicles lists the IDs of policy-driven vehicles in
// population order.
func (s *Scenario) RLVehicles() []string {
	return s.vehicleIDs(true)
}

// HumanVehicles lists the IDs of the other vehicles in
// population order.
func (s *Scenario) HumanVehicles() []string {
	return s.vehicleIDs(false)
}

func (s *Scenario) vehicleIDs(rl bool) []string {
	var res []string
	for _, t := range s.Types {
		if t.IsRL() != rl {
			continue
		}
		for i := 0; i < t.Count; i++ {
			res = append(res, VehicleID(t.Label, i))
		}
	}
	return res
}

// VehicleID names the i-th vehicle of a group.
func VehicleID(label string, i int) string {
	return label + "_" + strconv.Itoa(i)
}

// EdgeStart returns the distance from the start of the
// first edge to the start of the named edge.
func (s *Scenario) EdgeStart(edge string) (float64, bool) {
	var offset float64
	for _, e := range s.Edges {
		if e.ID == edge {
			return offset, true
		}
		offset += e.Length
	}
	return 0, false
}

// AbsolutePosition converts an edge-relative position into
// a distance along the whole network.
//
// It returns false for edges which are not part of the
// scenario, such as junction-internal edges.
func (s *Scenario) AbsolutePosition(edge string, pos float64) (float64, bool) {
	start, ok := s.EdgeStart(edge)
	if !ok {
		return 0, false
	}
	return start + pos, true
}

// place spreads the vehicles evenly over the network,
// leaving Initial.Bunching meters empty at the end.
func (s *Scenario) place() error {
	for _, e := range s.Edges {
		s.Length += e.Length
	}

	var ids, types []string
	for _, t := range s.Types {
		for i := 0; i < t.Count; i++ {
			ids = append(ids, VehicleID(t.Label, i))
			types = append(types, t.Label)
		}
	}
	if s.Initial.Shuffle {
		gen := rand.New(rand.NewSource(s.Initial.Seed))
		gen.Shuffle(len(ids), func(i, j int) {
			ids[i], ids[j] = ids[j], ids[i]
			types[i], types[j] = types[j], types[i]
		})
	}

	usable := s.Length - s.Initial.Bunching
	spacing := usable / float64(len(ids))
	if spacing < VehicleLength {
		return fmt.Errorf("%d vehicles do not fit on %.1fm of road", len(ids), usable)
	}

	s.Starts = make([]Start, len(ids))
	for i, id := range ids {
		edge, pos := s.edgePosition(float64(i) * spacing)
		s.Starts[i] = Start{Vehicle: id, Type: types[i], Edge: edge, Pos: pos}
	}
	return nil
}

func (s *Scenario) edgePosition(x float64) (string, float64) {
	for _, e := range s.Edges {
		if x < e.Length {
			return e.ID, x
		}
		x -= e.Length
	}
	last := s.Edges[len(s.Edges)-1]
	return last.ID, last.Length
}

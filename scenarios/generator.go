package scenarios

import (
	"context"
	"encoding/xml"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cistar-dev/cistar"
	"github.com/unixpickle/essentials"
)

// Artifacts lists the files written by a Generator.
type Artifacts struct {
	NodeFile      string `yaml:"node_file"`
	EdgeFile      string `yaml:"edge_file"`
	NetConfigFile string `yaml:"net_config_file"`
	NetFile       string `yaml:"net_file"`
	RouteFile     string `yaml:"route_file"`
	ConfigFile    string `yaml:"config_file"`
}

// A Generator writes the simulator input files for a
// Scenario.
type Generator struct {
	// NetConvert is the network compiler binary. If empty,
	// the .net.xml file is not built and only its expected
	// path is reported.
	NetConvert string
}

// Generate writes node, edge and netconvert files under
// Net.NetPath and route and run configuration files under
// Cfg.CfgPath. All files are named after the scenario.
func (g *Generator) Generate(ctx context.Context, s *Scenario) (a *Artifacts, err error) {
	defer essentials.AddCtxTo("generate scenario files", &err)
	for _, dir := range []string{s.Net.NetPath, s.Cfg.CfgPath} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	a = &Artifacts{
		NodeFile:      filepath.Join(s.Net.NetPath, s.Name+".nod.xml"),
		EdgeFile:      filepath.Join(s.Net.NetPath, s.Name+".edg.xml"),
		NetConfigFile: filepath.Join(s.Net.NetPath, s.Name+".netccfg"),
		NetFile:       filepath.Join(s.Net.NetPath, s.Name+".net.xml"),
		RouteFile:     filepath.Join(s.Cfg.CfgPath, s.Name+".rou.xml"),
		ConfigFile:    filepath.Join(s.Cfg.CfgPath, s.Name+".sumo.cfg"),
	}
	files := []struct {
		path string
		doc  any
	}{
		{a.NodeFile, nodesDoc(s)},
		{a.EdgeFile, edgesDoc(s)},
		{a.NetConfigFile, netConfigDoc(s.Name)},
		{a.RouteFile, routesDoc(s)},
		{a.ConfigFile, runConfigDoc(s, a)},
	}
	for _, f := range files {
		if err := writeXML(f.path, f.doc); err != nil {
			return nil, err
		}
	}
	if g.NetConvert != "" {
		cmd := exec.CommandContext(ctx, g.NetConvert, "-c", filepath.Base(a.NetConfigFile))
		cmd.Dir = s.Net.NetPath
		if out, err := cmd.CombinedOutput(); err != nil {
			return nil, fmt.Errorf("%s: %w: %s", g.NetConvert, err, strings.TrimSpace(string(out)))
		}
	}
	return a, nil
}

type valueAttr struct {
	Value string `xml:"value,attr"`
}

type xmlNode struct {
	XMLName xml.Name `xml:"node"`
	ID      string   `xml:"id,attr"`
	X       string   `xml:"x,attr"`
	Y       string   `xml:"y,attr"`
	Type    string   `xml:"type,attr,omitempty"`
}

type xmlNodes struct {
	XMLName xml.Name `xml:"nodes"`
	Nodes   []xmlNode
}

func nodesDoc(s *Scenario) *xmlNodes {
	doc := &xmlNodes{}
	for _, n := range s.Nodes {
		doc.Nodes = append(doc.Nodes, xmlNode{ID: n.ID, X: num(n.X), Y: num(n.Y), Type: n.Type})
	}
	return doc
}

type xmlEdge struct {
	XMLName  xml.Name `xml:"edge"`
	ID       string   `xml:"id,attr"`
	From     string   `xml:"from,attr"`
	To       string   `xml:"to,attr"`
	Priority int      `xml:"priority,attr"`
	NumLanes int      `xml:"numLanes,attr"`
	Speed    string   `xml:"speed,attr"`
	Length   string   `xml:"length,attr"`
	Shape    string   `xml:"shape,attr,omitempty"`
}

type xmlEdges struct {
	XMLName xml.Name `xml:"edges"`
	Edges   []xmlEdge
}

func edgesDoc(s *Scenario) *xmlEdges {
	doc := &xmlEdges{}
	for _, e := range s.Edges {
		var shape []string
		for _, p := range e.Shape {
			shape = append(shape, num(p[0])+","+num(p[1]))
		}
		doc.Edges = append(doc.Edges, xmlEdge{
			ID:       e.ID,
			From:     e.From,
			To:       e.To,
			Priority: 78,
			NumLanes: s.Net.Lanes,
			Speed:    num(s.Net.SpeedLimit),
			Length:   num(e.Length),
			Shape:    strings.Join(shape, " "),
		})
	}
	return doc
}

type xmlNetConfig struct {
	XMLName       xml.Name  `xml:"configuration"`
	NodeFiles     valueAttr `xml:"input>node-files"`
	EdgeFiles     valueAttr `xml:"input>edge-files"`
	OutputFile    valueAttr `xml:"output>output-file"`
	NoTurnarounds valueAttr `xml:"processing>no-turnarounds"`
}

func netConfigDoc(name string) *xmlNetConfig {
	return &xmlNetConfig{
		NodeFiles:     valueAttr{name + ".nod.xml"},
		EdgeFiles:     valueAttr{name + ".edg.xml"},
		OutputFile:    valueAttr{name + ".net.xml"},
		NoTurnarounds: valueAttr{"true"},
	}
}

type xmlVType struct {
	XMLName         xml.Name `xml:"vType"`
	ID              string   `xml:"id,attr"`
	Length          string   `xml:"length,attr"`
	MinGap          string   `xml:"minGap,attr"`
	CarFollowModel  string   `xml:"carFollowModel,attr,omitempty"`
	Accel           string   `xml:"accel,attr,omitempty"`
	Decel           string   `xml:"decel,attr,omitempty"`
	Tau             string   `xml:"tau,attr,omitempty"`
	Delta           string   `xml:"delta,attr,omitempty"`
	MaxSpeed        string   `xml:"maxSpeed,attr,omitempty"`
	LaneChangeModel string   `xml:"laneChangeModel,attr,omitempty"`
	LCStrategic     string   `xml:"lcStrategic,attr,omitempty"`
	LCSpeedGain     string   `xml:"lcSpeedGain,attr,omitempty"`
}

type xmlRoute struct {
	XMLName xml.Name `xml:"route"`
	ID      string   `xml:"id,attr"`
	Edges   string   `xml:"edges,attr"`
	Repeat  int      `xml:"repeat,attr,omitempty"`
}

type xmlVehicle struct {
	XMLName     xml.Name `xml:"vehicle"`
	ID          string   `xml:"id,attr"`
	Type        string   `xml:"type,attr"`
	Route       string   `xml:"route,attr"`
	Depart      string   `xml:"depart,attr"`
	DepartPos   string   `xml:"departPos,attr"`
	DepartLane  string   `xml:"departLane,attr"`
	DepartSpeed string   `xml:"departSpeed,attr"`
}

type xmlRoutes struct {
	XMLName  xml.Name `xml:"routes"`
	VTypes   []xmlVType
	Routes   []xmlRoute
	Vehicles []xmlVehicle
}

func routesDoc(s *Scenario) *xmlRoutes {
	doc := &xmlRoutes{}
	for _, t := range s.Types {
		doc.VTypes = append(doc.VTypes, vTypeFor(t))
	}

	// Each route is one lap starting at its edge, repeated
	// for long enough to cover the simulated time.
	duration := float64(s.Cfg.EndTime - s.Cfg.StartTime)
	repeat := int(math.Ceil(duration*s.Net.SpeedLimit/s.Length)) + 1
	for i, e := range s.Edges {
		var lap []string
		for j := range s.Edges {
			lap = append(lap, s.Edges[(i+j)%len(s.Edges)].ID)
		}
		doc.Routes = append(doc.Routes, xmlRoute{
			ID:     routeID(e.ID),
			Edges:  strings.Join(lap, " "),
			Repeat: repeat,
		})
	}

	for _, start := range s.Starts {
		doc.Vehicles = append(doc.Vehicles, xmlVehicle{
			ID:          start.Vehicle,
			Type:        start.Type,
			Route:       routeID(start.Edge),
			Depart:      strconv.Itoa(s.Cfg.StartTime),
			DepartPos:   num(start.Pos),
			DepartLane:  "0",
			DepartSpeed: "0",
		})
	}
	return doc
}

func vTypeFor(t cistar.VehicleType) xmlVType {
	v := xmlVType{ID: t.Label, Length: num(VehicleLength), MinGap: "0"}
	if idm, ok := t.CarFollowing.(cistar.IDMController); ok {
		v.CarFollowModel = "IDM"
		v.Accel = num(idm.A)
		v.Decel = num(idm.B)
		v.Tau = num(idm.T)
		v.Delta = num(idm.Delta)
		v.MaxSpeed = num(idm.V0)
		v.MinGap = num(idm.S0)
	}
	if _, ok := t.LaneChange.(cistar.StaticLaneChanger); ok {
		v.LaneChangeModel = "LC2013"
		v.LCStrategic = "0"
		v.LCSpeedGain = "0"
	}
	return v
}

func routeID(edge string) string {
	return "route_" + edge
}

type xmlRunConfig struct {
	XMLName    xml.Name  `xml:"configuration"`
	NetFile    valueAttr `xml:"input>net-file"`
	RouteFiles valueAttr `xml:"input>route-files"`
	Begin      valueAttr `xml:"time>begin"`
	End        valueAttr `xml:"time>end"`
}

func runConfigDoc(s *Scenario, a *Artifacts) *xmlRunConfig {
	netFile, err := filepath.Rel(s.Cfg.CfgPath, a.NetFile)
	if err != nil {
		netFile, _ = filepath.Abs(a.NetFile)
	}
	return &xmlRunConfig{
		NetFile:    valueAttr{netFile},
		RouteFiles: valueAttr{filepath.Base(a.RouteFile)},
		Begin:      valueAttr{strconv.Itoa(s.Cfg.StartTime)},
		End:        valueAttr{strconv.Itoa(s.Cfg.EndTime)},
	}
}

func writeXML(path string, doc any) error {
	data, err := xml.MarshalIndent(doc, "", "    ")
	if err != nil {
		return err
	}
	data = append([]byte(xml.Header), data...)
	data = append(data, '\n')
	return os.WriteFile(path, data, 0644)
}

func num(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}

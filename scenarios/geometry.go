package scenarios

import "math"

// figure8Layout lays out the figure-eight around a junction
// at the origin.
//
// The lower ring is centered at (-r, -r) and the upper ring
// at (r, r). Vehicles go clockwise around the lower ring,
// east through the junction, counter-clockwise around the
// upper ring, then south through the junction.
func figure8Layout(r float64, resolution int) ([]Node, []Edge) {
	nodes := []Node{
		{ID: "center", X: 0, Y: 0, Type: "priority"},
		{ID: "bottom", X: 0, Y: -r, Type: "priority"},
		{ID: "left", X: -r, Y: 0, Type: "priority"},
		{ID: "right", X: r, Y: 0, Type: "priority"},
		{ID: "top", X: 0, Y: r, Type: "priority"},
	}
	ringLen := 3 * math.Pi * r / 2
	edges := []Edge{
		{
			ID: "lower_ring", From: "bottom", To: "left", Length: ringLen,
			Shape: arc(-r, -r, r, 0, -3*math.Pi/2, resolution),
		},
		{
			ID: "left_in", From: "left", To: "center", Length: r,
			Shape: [][2]float64{{-r, 0}, {0, 0}},
		},
		{
			ID: "right_out", From: "center", To: "right", Length: r,
			Shape: [][2]float64{{0, 0}, {r, 0}},
		},
		{
			ID: "upper_ring", From: "right", To: "top", Length: ringLen,
			Shape: arc(r, r, r, -math.Pi/2, math.Pi, resolution),
		},
		{
			ID: "top_in", From: "top", To: "center", Length: r,
			Shape: [][2]float64{{0, r}, {0, 0}},
		},
		{
			ID: "bottom_out", From: "center", To: "bottom", Length: r,
			Shape: [][2]float64{{0, 0}, {0, -r}},
		},
	}
	return nodes, edges
}

// loopLayout lays out a counter-clockwise ring centered at
// the origin.
func loopLayout(r, length float64, resolution int) ([]Node, []Edge) {
	if length > 0 {
		r = length / (2 * math.Pi)
	}
	names := []string{"bottom", "right", "top", "left"}
	var nodes []Node
	var edges []Edge
	for i, name := range names {
		theta := -math.Pi/2 + float64(i)*math.Pi/2
		nodes = append(nodes, Node{
			ID:   name,
			X:    r * math.Cos(theta),
			Y:    r * math.Sin(theta),
			Type: "priority",
		})
		edges = append(edges, Edge{
			ID:     name,
			From:   name,
			To:     names[(i+1)%len(names)],
			Length: math.Pi * r / 2,
			Shape:  arc(0, 0, r, theta, theta+math.Pi/2, resolution),
		})
	}
	return nodes, edges
}

// arc samples resolution+1 points of a circle from angle
// start to angle end.
func arc(cx, cy, r, start, end float64, resolution int) [][2]float64 {
	res := make([][2]float64, resolution+1)
	for i := range res {
		theta := start + (end-start)*float64(i)/float64(resolution)
		res[i] = [2]float64{cx + r*math.Cos(theta), cy + r*math.Sin(theta)}
	}
	return res
}

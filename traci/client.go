// Package traci implements the subset of the SUMO Traffic
// Control Interface needed to drive vehicles from an RL
// environment.
package traci

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/unixpickle/essentials"
)

// A StatusError is returned when the simulator rejects a
// command.
type StatusError struct {
	Command     byte
	Result      byte
	Description string
}

func (s *StatusError) Error() string {
	kind := "error"
	if s.Result == resultNotImplemented {
		kind = "not implemented"
	}
	return fmt.Sprintf("traci: command 0x%02x: %s: %s", s.Command, kind, s.Description)
}

// A Client speaks TraCI over a connection.
//
// Methods may be called from multiple Goroutines, but
// commands are serialized.
type Client struct {
	lock sync.Mutex
	conn io.ReadWriteCloser
	in   *bufio.Reader
}

// Dial connects to a simulator listening on addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// New wraps an established connection.
func New(conn io.ReadWriteCloser) *Client {
	return &Client{conn: conn, in: bufio.NewReader(conn)}
}

// Version returns the API version and the identifier of
// the simulator.
func (c *Client) Version() (api int, ident string, err error) {
	defer essentials.AddCtxTo("traci version", &err)
	resp, err := c.do(cmdGetVersion, nil)
	if err != nil {
		return 0, "", err
	}
	id, content, err := resp.command()
	if err != nil {
		return 0, "", err
	}
	if id != cmdGetVersion {
		return 0, "", fmt.Errorf("unexpected response command 0x%02x", id)
	}
	v, err := content.int32()
	if err != nil {
		return 0, "", err
	}
	ident, err = content.string()
	return int(v), ident, err
}

// SimulationStep advances the simulation to the given time,
// in seconds. A time of 0 advances by a single step.
func (c *Client) SimulationStep(t float64) (err error) {
	defer essentials.AddCtxTo("traci simulation step", &err)
	var content buffer
	content.double(t)
	_, err = c.do(cmdSimStep, content)
	return err
}

// VehicleIDs lists the vehicles currently in the network.
func (c *Client) VehicleIDs() (ids []string, err error) {
	defer essentials.AddCtxTo("traci vehicle IDs", &err)
	r, err := c.getVehicle(varIDList, "", typeStringList)
	if err != nil {
		return nil, err
	}
	return r.stringList()
}

// Speed returns the speed of a vehicle in m/s.
func (c *Client) Speed(id string) (speed float64, err error) {
	defer essentials.AddCtxTo("traci speed of "+id, &err)
	return c.getDouble(varSpeed, id)
}

// LanePosition returns the distance of a vehicle from the
// start of its lane.
func (c *Client) LanePosition(id string) (pos float64, err error) {
	defer essentials.AddCtxTo("traci lane position of "+id, &err)
	return c.getDouble(varLanePosition, id)
}

// RoadID returns the edge a vehicle is on.
func (c *Client) RoadID(id string) (edge string, err error) {
	defer essentials.AddCtxTo("traci road of "+id, &err)
	r, err := c.getVehicle(varRoadID, id, typeString)
	if err != nil {
		return "", err
	}
	return r.string()
}

// SetSpeed forces the speed of a vehicle.
func (c *Client) SetSpeed(id string, speed float64) (err error) {
	defer essentials.AddCtxTo("traci set speed of "+id, &err)
	var value buffer
	value.ubyte(typeDouble)
	value.double(speed)
	return c.setVehicle(varSpeed, id, value)
}

// SetSpeedMode sets the speed-mode bitset of a vehicle.
func (c *Client) SetSpeedMode(id string, mode int) (err error) {
	defer essentials.AddCtxTo("traci set speed mode of "+id, &err)
	return c.setVehicleInt(varSpeedMode, id, mode)
}

// SetLaneChangeMode sets the lane-change-mode bitset of a
// vehicle.
func (c *Client) SetLaneChangeMode(id string, mode int) (err error) {
	defer essentials.AddCtxTo("traci set lane change mode of "+id, &err)
	return c.setVehicleInt(varLaneChangeMode, id, mode)
}

// Close asks the simulator to shut down and closes the
// connection.
func (c *Client) Close() error {
	_, err := c.do(cmdClose, nil)
	if closeErr := c.conn.Close(); err == nil {
		err = closeErr
	}
	return err
}

func (c *Client) getDouble(variable byte, id string) (float64, error) {
	r, err := c.getVehicle(variable, id, typeDouble)
	if err != nil {
		return 0, err
	}
	return r.double()
}

func (c *Client) getVehicle(variable byte, id string, valueType byte) (*reader, error) {
	var content buffer
	content.ubyte(variable)
	content.string(id)
	resp, err := c.do(cmdGetVehicleVariable, content)
	if err != nil {
		return nil, err
	}
	cmd, r, err := resp.command()
	if err != nil {
		return nil, err
	}
	if cmd != respGetVehicleVariable {
		return nil, fmt.Errorf("unexpected response command 0x%02x", cmd)
	}
	if v, err := r.ubyte(); err != nil {
		return nil, err
	} else if v != variable {
		return nil, fmt.Errorf("unexpected variable 0x%02x", v)
	}
	if respID, err := r.string(); err != nil {
		return nil, err
	} else if respID != id {
		return nil, fmt.Errorf("response for %q instead of %q", respID, id)
	}
	if err := r.typed(valueType); err != nil {
		return nil, err
	}
	return r, nil
}

func (c *Client) setVehicleInt(variable byte, id string, v int) error {
	var value buffer
	value.ubyte(typeInteger)
	value.int32(int32(v))
	return c.setVehicle(variable, id, value)
}

func (c *Client) setVehicle(variable byte, id string, value []byte) error {
	var content buffer
	content.ubyte(variable)
	content.string(id)
	content = append(content, value...)
	_, err := c.do(cmdSetVehicleVariable, content)
	return err
}

// do sends a single command and returns the part of the
// response which follows the status.
func (c *Client) do(cmd byte, content []byte) (*reader, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	var body buffer
	body.command(cmd, content)
	var msg buffer
	msg.int32(int32(len(body) + 4))
	msg = append(msg, body...)
	if _, err := c.conn.Write(msg); err != nil {
		return nil, err
	}

	resp, err := readMessage(c.in)
	if err != nil {
		return nil, err
	}
	statusCmd, status, err := resp.command()
	if err != nil {
		return nil, err
	}
	if statusCmd != cmd {
		return nil, fmt.Errorf("status for command 0x%02x instead of 0x%02x", statusCmd, cmd)
	}
	result, err := status.ubyte()
	if err != nil {
		return nil, err
	}
	desc, err := status.string()
	if err != nil {
		return nil, err
	}
	if result != resultOK {
		return nil, &StatusError{Command: cmd, Result: result, Description: desc}
	}
	return resp, nil
}

func readMessage(r io.Reader) (*reader, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	hr := &reader{data: header[:]}
	n, _ := hr.int32()
	if n < 4 {
		return nil, fmt.Errorf("traci: bad message length %d", n)
	}
	data := make([]byte, n-4)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return &reader{data: data}, nil
}

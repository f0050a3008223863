package traci

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Command identifiers.
const (
	cmdGetVersion         = 0x00
	cmdSimStep            = 0x02
	cmdClose              = 0x7f
	cmdGetVehicleVariable = 0xa4
	cmdSetVehicleVariable = 0xc4

	respGetVehicleVariable = 0xb4
)

// Variable identifiers.
const (
	varIDList         = 0x00
	varSpeed          = 0x40
	varRoadID         = 0x50
	varLanePosition   = 0x56
	varSpeedMode      = 0xb3
	varLaneChangeMode = 0xb6
)

// Value type identifiers.
const (
	typeInteger    = 0x09
	typeDouble     = 0x0b
	typeString     = 0x0c
	typeStringList = 0x0e
)

// Status result codes.
const (
	resultOK             = 0x00
	resultNotImplemented = 0x01
	resultError          = 0xff
)

var errShortRead = errors.New("traci: truncated message")

// A buffer accumulates big-endian TraCI values.
type buffer []byte

func (b *buffer) ubyte(v byte) {
	*b = append(*b, v)
}

func (b *buffer) int32(v int32) {
	*b = binary.BigEndian.AppendUint32(*b, uint32(v))
}

func (b *buffer) double(v float64) {
	*b = binary.BigEndian.AppendUint64(*b, math.Float64bits(v))
}

func (b *buffer) string(s string) {
	b.int32(int32(len(s)))
	*b = append(*b, s...)
}

func (b *buffer) stringList(l []string) {
	b.int32(int32(len(l)))
	for _, s := range l {
		b.string(s)
	}
}

// command appends a framed command.
//
// Commands of up to 255 bytes use a one-byte length; longer
// ones use a zero byte followed by a 32-bit length.
func (b *buffer) command(id byte, content []byte) {
	if n := 2 + len(content); n <= 255 {
		b.ubyte(byte(n))
	} else {
		b.ubyte(0)
		b.int32(int32(n + 4))
	}
	b.ubyte(id)
	*b = append(*b, content...)
}

// A reader consumes big-endian TraCI values.
type reader struct {
	data []byte
}

func (r *reader) remaining() int {
	return len(r.data)
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || len(r.data) < n {
		return nil, errShortRead
	}
	res := r.data[:n]
	r.data = r.data[n:]
	return res, nil
}

func (r *reader) ubyte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) int32() (int32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (r *reader) double() (float64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

func (r *reader) string() (string, error) {
	n, err := r.int32()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) stringList() ([]string, error) {
	n, err := r.int32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("traci: negative list length %d", n)
	}
	res := make([]string, 0, n)
	for i := 0; i < int(n); i++ {
		s, err := r.string()
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, nil
}

// command reads a framed command and returns its id and
// content.
func (r *reader) command() (id byte, content *reader, err error) {
	n, err := r.ubyte()
	if err != nil {
		return 0, nil, err
	}
	length := int(n) - 1
	if n == 0 {
		ext, err := r.int32()
		if err != nil {
			return 0, nil, err
		}
		length = int(ext) - 5
	}
	body, err := r.take(length)
	if err != nil {
		return 0, nil, err
	}
	if len(body) == 0 {
		return 0, nil, errShortRead
	}
	return body[0], &reader{data: body[1:]}, nil
}

// typed reads a type tag and checks it.
func (r *reader) typed(expected byte) error {
	actual, err := r.ubyte()
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("traci: expected value type 0x%02x but got 0x%02x", expected, actual)
	}
	return nil
}

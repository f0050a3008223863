package cistar

import (
	"fmt"
	"sort"
	"strings"
)

// Names of the controller kinds accepted by ParseCarFollowing
// and ParseLaneChange.
const (
	KindRL         = "rl"
	KindIDM        = "idm"
	KindOVM        = "ovm"
	KindBCM        = "bcm"
	KindStatic     = "static"
	KindStochastic = "stochastic"
)

// A CarFollowingModel selects the longitudinal controller
// of a vehicle group.
//
// The set of implementations is closed; see RLController,
// IDMController, OVMController, and BCMController.
type CarFollowingModel interface {
	Kind() string

	// IsRL reports whether actions for vehicles with this
	// controller come from the learned policy.
	IsRL() bool

	// Options returns the controller parameters by name.
	Options() map[string]float64

	carFollowing()
}

// A LaneChangeModel selects the lateral controller of a
// vehicle group.
//
// The set of implementations is closed; see
// StaticLaneChanger and StochasticLaneChanger.
type LaneChangeModel interface {
	Kind() string
	Options() map[string]float64

	laneChange()
}

// RLController marks vehicles driven by the trained policy.
type RLController struct{}

func (RLController) Kind() string                { return KindRL }
func (RLController) IsRL() bool                  { return true }
func (RLController) Options() map[string]float64 { return map[string]float64{} }
func (RLController) carFollowing()               {}

// IDMController is the Intelligent Driver Model.
type IDMController struct {
	V0    float64
	T     float64
	A     float64
	B     float64
	Delta float64
	S0    float64
}

// DefaultIDM returns the usual IDM parameters.
func DefaultIDM() IDMController {
	return IDMController{V0: 30, T: 1, A: 1, B: 1.5, Delta: 4, S0: 2}
}

func (IDMController) Kind() string  { return KindIDM }
func (IDMController) IsRL() bool    { return false }
func (IDMController) carFollowing() {}

func (i IDMController) Options() map[string]float64 {
	return map[string]float64{"v0": i.V0, "T": i.T, "a": i.A, "b": i.B, "delta": i.Delta, "s0": i.S0}
}

// OVMController is the Optimal Velocity Model.
type OVMController struct {
	Alpha float64
	Beta  float64
	HStop float64
	HGo   float64
	VMax  float64
}

// DefaultOVM returns the usual OVM parameters.
func DefaultOVM() OVMController {
	return OVMController{Alpha: 1, Beta: 1, HStop: 2, HGo: 15, VMax: 30}
}

func (OVMController) Kind() string  { return KindOVM }
func (OVMController) IsRL() bool    { return false }
func (OVMController) carFollowing() {}

func (o OVMController) Options() map[string]float64 {
	return map[string]float64{"alpha": o.Alpha, "beta": o.Beta, "h_st": o.HStop, "h_go": o.HGo, "v_max": o.VMax}
}

// BCMController is the Bilateral Control Model.
type BCMController struct {
	KD   float64
	KV   float64
	KC   float64
	VDes float64
}

// DefaultBCM returns the usual BCM parameters.
func DefaultBCM() BCMController {
	return BCMController{KD: 1, KV: 1, KC: 1, VDes: 8}
}

func (BCMController) Kind() string  { return KindBCM }
func (BCMController) IsRL() bool    { return false }
func (BCMController) carFollowing() {}

func (b BCMController) Options() map[string]float64 {
	return map[string]float64{"k_d": b.KD, "k_v": b.KV, "k_c": b.KC, "v_des": b.VDes}
}

// StaticLaneChanger keeps vehicles in their lane.
type StaticLaneChanger struct{}

func (StaticLaneChanger) Kind() string                { return KindStatic }
func (StaticLaneChanger) Options() map[string]float64 { return map[string]float64{} }
func (StaticLaneChanger) laneChange()                 {}

// StochasticLaneChanger changes lanes with probability Prob
// whenever the vehicle is slower than SpeedThreshold times
// its desired speed.
type StochasticLaneChanger struct {
	SpeedThreshold float64
	Prob           float64
}

// DefaultStochastic returns the usual stochastic lane
// changing parameters.
func DefaultStochastic() StochasticLaneChanger {
	return StochasticLaneChanger{SpeedThreshold: 5, Prob: 0.5}
}

func (StochasticLaneChanger) Kind() string { return KindStochastic }
func (StochasticLaneChanger) laneChange()  {}

func (s StochasticLaneChanger) Options() map[string]float64 {
	return map[string]float64{"speed_threshold": s.SpeedThreshold, "prob": s.Prob}
}

// ParseCarFollowing builds a car-following model from its
// kind and a set of named options.
//
// Options which are not given keep their defaults.
// Unknown kinds and unknown option names are errors.
func ParseCarFollowing(kind string, options map[string]float64) (CarFollowingModel, error) {
	switch strings.ToLower(kind) {
	case KindRL, "rlcontroller":
		if err := checkOptions(kind, options); err != nil {
			return nil, err
		}
		return RLController{}, nil
	case KindIDM, "idmcontroller":
		m := DefaultIDM()
		err := applyOptions(kind, options, map[string]*float64{
			"v0": &m.V0, "T": &m.T, "a": &m.A, "b": &m.B, "delta": &m.Delta, "s0": &m.S0,
		})
		return orNil(m, err)
	case KindOVM, "ovmcontroller":
		m := DefaultOVM()
		err := applyOptions(kind, options, map[string]*float64{
			"alpha": &m.Alpha, "beta": &m.Beta, "h_st": &m.HStop, "h_go": &m.HGo, "v_max": &m.VMax,
		})
		return orNil(m, err)
	case KindBCM, "bcmcontroller":
		m := DefaultBCM()
		err := applyOptions(kind, options, map[string]*float64{
			"k_d": &m.KD, "k_v": &m.KV, "k_c": &m.KC, "v_des": &m.VDes,
		})
		return orNil(m, err)
	default:
		return nil, fmt.Errorf("unknown car following controller: %q", kind)
	}
}

// ParseLaneChange builds a lane-change model from its kind
// and a set of named options.
func ParseLaneChange(kind string, options map[string]float64) (LaneChangeModel, error) {
	switch strings.ToLower(kind) {
	case KindStatic, "staticlanechanger":
		if err := checkOptions(kind, options); err != nil {
			return nil, err
		}
		return StaticLaneChanger{}, nil
	case KindStochastic, "stochasticlanechanger":
		m := DefaultStochastic()
		err := applyOptions(kind, options, map[string]*float64{
			"speed_threshold": &m.SpeedThreshold, "prob": &m.Prob,
		})
		if err == nil && (m.Prob < 0 || m.Prob > 1) {
			err = fmt.Errorf("%s: prob must be in [0, 1], got %v", kind, m.Prob)
		}
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown lane change controller: %q", kind)
	}
}

func orNil(m CarFollowingModel, err error) (CarFollowingModel, error) {
	if err != nil {
		return nil, err
	}
	return m, nil
}

func checkOptions(kind string, options map[string]float64) error {
	return applyOptions(kind, options, nil)
}

func applyOptions(kind string, options map[string]float64, fields map[string]*float64) error {
	var unknown []string
	for name, value := range options {
		if field, ok := fields[name]; ok {
			*field = value
		} else {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%s: unknown options: %s", kind, strings.Join(unknown, ", "))
	}
	return nil
}

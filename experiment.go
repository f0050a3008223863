package cistar

import (
	"errors"
	"fmt"

	"github.com/unixpickle/essentials"
)

// PolicyParams configures the Gaussian MLP policy.
type PolicyParams struct {
	HiddenSizes []int `yaml:"hidden_sizes" hcl:"hidden_sizes,optional"`

	// InitStd is the initial standard deviation of the
	// action distribution.
	InitStd float64 `yaml:"init_std" hcl:"init_std,optional"`
}

// AlgoParams holds the TRPO hyperparameters.
type AlgoParams struct {
	BatchSize     int     `yaml:"batch_size" hcl:"batch_size,optional"`
	MaxPathLength int     `yaml:"max_path_length" hcl:"max_path_length,optional"`
	NIter         int     `yaml:"n_itr" hcl:"n_itr,optional"`
	Discount      float64 `yaml:"discount" hcl:"discount,optional"`
	StepSize      float64 `yaml:"step_size" hcl:"step_size,optional"`
	WholePaths    bool    `yaml:"whole_paths" hcl:"whole_paths,optional"`
}

// RunParams controls how runs are submitted.
type RunParams struct {
	// NParallel is the number of sampling workers each run
	// asks for.
	NParallel int `yaml:"n_parallel" hcl:"n_parallel,optional"`

	SnapshotMode string `yaml:"snapshot_mode" hcl:"snapshot_mode,optional"`
	SnapshotGap  int    `yaml:"snapshot_gap" hcl:"snapshot_gap,optional"`
	Mode         string `yaml:"mode" hcl:"mode,optional"`

	// Seeds lists the seeds to launch, one run per seed.
	Seeds []int64 `yaml:"seeds" hcl:"seeds,optional"`

	// ExpPrefix names the runs. If empty, the experiment
	// tag is used.
	ExpPrefix string `yaml:"exp_prefix" hcl:"exp_prefix,optional"`

	LogDir         string   `yaml:"log_dir" hcl:"log_dir,optional"`
	Dispatcher     string   `yaml:"dispatcher" hcl:"dispatcher,optional"`
	TrainerCommand []string `yaml:"trainer_command" hcl:"trainer_command,optional"`
}

// Validate checks the launch options.
//
// Runs in ec2 mode need a dispatcher and runs in local
// mode need a trainer command.
// Seeds must be distinct, since runs are named by seed.
func (r RunParams) Validate() error {
	if r.NParallel < 0 {
		return fmt.Errorf("n_parallel cannot be negative, got %d", r.NParallel)
	}
	if r.SnapshotGap < 0 {
		return fmt.Errorf("snapshot_gap cannot be negative, got %d", r.SnapshotGap)
	}
	switch r.SnapshotMode {
	case "", "all", "last", "gap", "none":
	default:
		return fmt.Errorf("unknown snapshot_mode: %q", r.SnapshotMode)
	}
	switch r.Mode {
	case "ec2":
		if r.Dispatcher == "" {
			return errors.New("mode ec2 requires a dispatcher address")
		}
	case "local":
		if len(r.TrainerCommand) == 0 {
			return errors.New("mode local requires a trainer_command")
		}
	default:
		return fmt.Errorf("unknown mode: %q", r.Mode)
	}
	if len(r.Seeds) == 0 {
		return errors.New("no seeds")
	}
	seen := map[int64]bool{}
	for _, seed := range r.Seeds {
		if seen[seed] {
			return fmt.Errorf("duplicate seed: %d", seed)
		}
		seen[seed] = true
	}
	return nil
}

// Experiment is the full description of a training
// experiment.
type Experiment struct {
	SumoBinary string        `yaml:"sumo_binary"`
	Sumo       SumoParams    `yaml:"sumo"`
	Env        EnvParams     `yaml:"env"`
	Net        NetParams     `yaml:"net"`
	Cfg        CfgParams     `yaml:"cfg"`
	Initial    InitialConfig `yaml:"initial"`
	Vehicles   VehicleTypes  `yaml:"-"`
	Policy     PolicyParams  `yaml:"policy"`
	Algo       AlgoParams    `yaml:"algo"`
	Run        RunParams     `yaml:"run"`
}

// DefaultExperiment returns the 20-car, 15-RL figure-eight
// intersection experiment.
func DefaultExperiment() *Experiment {
	var vehicles VehicleTypes
	for i := 1; i <= 5; i++ {
		suffix := ""
		if i > 1 {
			suffix = fmt.Sprint(i)
		}
		vehicles = append(vehicles,
			VehicleType{
				Label:        "rl" + suffix,
				Count:        3,
				CarFollowing: RLController{},
				LaneChange:   StaticLaneChanger{},
			},
			VehicleType{
				Label:        "idm" + suffix,
				Count:        1,
				CarFollowing: DefaultIDM(),
				LaneChange:   StaticLaneChanger{},
			},
		)
	}
	return &Experiment{
		SumoBinary: "sumo",
		Sumo: SumoParams{
			TimeStep:        0.1,
			TraciControl:    1,
			RLLaneChange:    LaneChangeNoCollide,
			HumanLaneChange: LaneChangeNoCollide,
			RLSpeed:         SpeedNoCollide,
			HumanSpeed:      SpeedNoCollide,
		},
		Env: EnvParams{
			TargetVelocity:       30,
			MaxDeacc:             -6,
			MaxAcc:               3,
			FailSafe:             FailSafeNone,
			IntersectionFailSafe: FailSafeNone,
		},
		Net: NetParams{
			RadiusRing: 30,
			Lanes:      1,
			SpeedLimit: 30,
			Resolution: 40,
			NetPath:    "debug/net/",
		},
		Cfg: CfgParams{
			StartTime: 0,
			EndTime:   30000,
			CfgPath:   "debug/rl/cfg/",
		},
		Initial:  InitialConfig{Shuffle: false},
		Vehicles: vehicles,
		Policy: PolicyParams{
			HiddenSizes: []int{100, 50, 25},
			InitStd:     1,
		},
		Algo: AlgoParams{
			BatchSize:     15000,
			MaxPathLength: 1500,
			NIter:         1000,
			Discount:      0.999,
			StepSize:      0.01,
		},
		Run: RunParams{
			NParallel:    8,
			SnapshotMode: "all",
			Mode:         "ec2",
			Seeds:        []int64{5},
		},
	}
}

// Tag returns the experiment tag derived from the
// population.
func (e *Experiment) Tag() string {
	return ExpTag(e.Vehicles.NumVehicles(), e.Vehicles.NumRL())
}

// Prefix returns the run-name prefix.
func (e *Experiment) Prefix() string {
	if e.Run.ExpPrefix != "" {
		return e.Run.ExpPrefix
	}
	return e.Tag()
}

// Validate checks every record of the experiment.
//
// Algorithm and launch options are checked again by the
// constructors that consume them.
func (e *Experiment) Validate() (err error) {
	defer essentials.AddCtxTo("validate experiment", &err)
	if e.SumoBinary == "" {
		return errors.New("sumo_binary is required")
	}
	checks := []struct {
		name string
		fn   func() error
	}{
		{"sumo", e.Sumo.Validate},
		{"env", e.Env.Validate},
		{"net", e.Net.Validate},
		{"cfg", e.Cfg.Validate},
		{"initial", e.Initial.Validate},
		{"vehicles", e.Vehicles.Validate},
		{"run", e.Run.Validate},
	}
	for _, c := range checks {
		if err := c.fn(); err != nil {
			return essentials.AddCtx(c.name, err)
		}
	}
	if e.Vehicles.NumRL() == 0 {
		return errors.New("vehicles: no vehicle is driven by the policy")
	}
	if len(e.Policy.HiddenSizes) == 0 {
		return errors.New("policy: hidden_sizes is empty")
	}
	for _, size := range e.Policy.HiddenSizes {
		if size <= 0 {
			return fmt.Errorf("policy: hidden size must be positive, got %d", size)
		}
	}
	if e.Policy.InitStd <= 0 {
		return fmt.Errorf("policy: init_std must be positive, got %v", e.Policy.InitStd)
	}
	return nil
}

// Command intersection_control launches TRPO training of
// autonomous vehicles crossing the intersection of a
// figure-eight road.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/cistar-dev/cistar"
	"github.com/cistar-dev/cistar/algos"
	"github.com/cistar-dev/cistar/baselines"
	"github.com/cistar-dev/cistar/envs"
	"github.com/cistar-dev/cistar/instrument"
	"github.com/cistar-dev/cistar/policies"
	"github.com/cistar-dev/cistar/scenarios"
	"github.com/cistar-dev/cistar/traci"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
)

// DispatcherEnv names the environment variable consulted
// for the dispatcher address when neither the experiment
// nor the flags set one.
const DispatcherEnv = "CISTAR_DISPATCHER"

type options struct {
	Config       string
	Seeds        string
	Mode         string
	Dispatcher   string
	NetConvert   string
	LogLevel     string
	LogFormat    string
	GenerateOnly bool
	CheckEnv     int
}

func main() {
	var opts options
	flag.StringVar(&opts.Config, "config", "", "experiment file (.yaml, .yml or .hcl)")
	flag.StringVar(&opts.Seeds, "seeds", "", "comma-separated seeds overriding the experiment")
	flag.StringVar(&opts.Mode, "mode", "", "execution mode (local or ec2)")
	flag.StringVar(&opts.Dispatcher, "dispatcher", "", "dispatcher address for ec2 mode")
	flag.StringVar(&opts.NetConvert, "netconvert", "", "netconvert binary used to compile the network")
	flag.StringVar(&opts.LogLevel, "log-level", "info", "log level")
	flag.StringVar(&opts.LogFormat, "log-format", "text", "log format (text or json)")
	flag.BoolVar(&opts.GenerateOnly, "generate-only", false, "write simulator files and exit")
	flag.IntVar(&opts.CheckEnv, "check-env", 0, "roll out the untrained policy for this many steps first")
	flag.Parse()

	logger := cistar.NewLogger(opts.LogLevel, opts.LogFormat, os.Stderr)
	slog.SetDefault(logger)

	exp, err := loadExperiment(opts)
	must(err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, exp, opts, logger); err != nil {
		logger.Error("experiment failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func loadExperiment(opts options) (*cistar.Experiment, error) {
	exp := cistar.DefaultExperiment()
	if opts.Config != "" {
		var err error
		exp, err = cistar.LoadExperiment(opts.Config)
		if err != nil {
			return nil, err
		}
	}
	if opts.Seeds != "" {
		seeds, err := parseSeeds(opts.Seeds)
		if err != nil {
			return nil, err
		}
		exp.Run.Seeds = seeds
	}
	if opts.Mode != "" {
		exp.Run.Mode = opts.Mode
	}
	if opts.Dispatcher != "" {
		exp.Run.Dispatcher = opts.Dispatcher
	}
	if exp.Run.Dispatcher == "" {
		exp.Run.Dispatcher = os.Getenv(DispatcherEnv)
	}
	return exp, exp.Validate()
}

func parseSeeds(s string) ([]int64, error) {
	var seeds []int64
	for _, part := range strings.Split(s, ",") {
		seed, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad seed list %q: %w", s, err)
		}
		seeds = append(seeds, seed)
	}
	return seeds, nil
}

func run(ctx context.Context, exp *cistar.Experiment, opts options, logger *slog.Logger) error {
	p, err := assemble(anyvec64.DefaultCreator{}, exp)
	if err != nil {
		return err
	}
	p.Env.Logger = logger
	logger.Info("assembled experiment", "tag", exp.Tag(), "vehicles", exp.Vehicles.NumVehicles(),
		"rl", exp.Vehicles.NumRL(), "params", p.Trainer.Policy.NumParams())

	if opts.GenerateOnly || opts.CheckEnv > 0 {
		gen := &scenarios.Generator{NetConvert: opts.NetConvert}
		artifacts, err := gen.Generate(ctx, p.Scenario)
		if err != nil {
			return err
		}
		logger.Info("wrote simulator files", "config", artifacts.ConfigFile, "routes", artifacts.RouteFile)
		if opts.GenerateOnly {
			return nil
		}
		if err := checkEnv(ctx, exp, p, artifacts, opts.CheckEnv, logger); err != nil {
			return err
		}
	}

	launcher := newLauncher(exp, logger)
	defer closeBackends(launcher)
	results, err := launcher.SubmitSeeds(ctx, exp.Run.Seeds, buildCall(anyvec64.DefaultCreator{}, exp, p),
		runOptions(exp))
	var submitted int
	for _, r := range results {
		if r.Err == nil {
			submitted++
		}
	}
	logger.Info("submitted runs", "submitted", submitted, "seeds", len(exp.Run.Seeds))
	return err
}

// pipeline holds the objects built from an experiment.
//
// Trainer is built for the first seed. Every seed gets its
// own trainer when runs are submitted.
type pipeline struct {
	Scenario *scenarios.Scenario
	Env      *envs.SimpleAcceleration
	Wrapped  envs.Env
	Trainer  *trainer
}

// trainer holds the objects which are initialized per
// seed.
type trainer struct {
	Policy   *policies.GaussianMLP
	Baseline *baselines.LinearFeature
	Algo     *algos.TRPO
}

func assemble(c anyvec.Creator, exp *cistar.Experiment) (*pipeline, error) {
	scenario, err := scenarios.Figure8(exp.Tag(), exp.Vehicles, exp.Net, exp.Cfg, exp.Initial)
	if err != nil {
		return nil, err
	}
	env, err := envs.NewSimpleAcceleration(c, exp.Sumo, exp.Env, scenario, nil)
	if err != nil {
		return nil, err
	}
	wrapped, err := envs.Normalize(envs.MaxSteps(env, exp.Algo.MaxPathLength), envs.NormalizeConfig{})
	if err != nil {
		return nil, err
	}
	var firstSeed int64
	if len(exp.Run.Seeds) > 0 {
		firstSeed = exp.Run.Seeds[0]
	}
	tr, err := newTrainer(c, exp, wrapped, firstSeed)
	if err != nil {
		return nil, err
	}
	return &pipeline{
		Scenario: scenario,
		Env:      env,
		Wrapped:  wrapped,
		Trainer:  tr,
	}, nil
}

// newTrainer creates the policy, baseline and algorithm
// for one seed. The policy weights are drawn from a source
// seeded with seed.
func newTrainer(c anyvec.Creator, exp *cistar.Experiment, env envs.Env, seed int64) (*trainer, error) {
	rng := rand.New(rand.NewSource(seed))
	policy, err := policies.NewGaussianMLP(c, env.Spec(), exp.Policy.HiddenSizes, exp.Policy.InitStd, rng)
	if err != nil {
		return nil, err
	}
	baseline, err := baselines.NewLinearFeature(env.Spec(), 0)
	if err != nil {
		return nil, err
	}
	algo, err := algos.NewTRPO(env, policy, baseline, exp.Algo)
	if err != nil {
		return nil, err
	}
	return &trainer{Policy: policy, Baseline: baseline, Algo: algo}, nil
}

// buildCall returns the per-seed call builder used by
// SubmitSeeds.
func buildCall(c anyvec.Creator, exp *cistar.Experiment, p *pipeline) func(int64) (*instrument.Call, error) {
	return func(seed int64) (*instrument.Call, error) {
		tr, err := newTrainer(c, exp, p.Wrapped, seed)
		if err != nil {
			return nil, err
		}
		return tr.Algo.Train(), nil
	}
}

func checkEnv(ctx context.Context, exp *cistar.Experiment, p *pipeline,
	artifacts *scenarios.Artifacts, steps int, logger *slog.Logger) error {
	proc := &traci.Process{
		Binary:     exp.SumoBinary,
		ConfigPath: artifacts.ConfigFile,
		StepLength: exp.Sumo.TimeStep,
		Logger:     logger,
	}
	client, err := proc.Start(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("failed to close simulator connection", "error", err)
		}
		if err := proc.Stop(); err != nil {
			logger.Warn("simulator exited uncleanly", "error", err)
		}
	}()

	p.Env.Sim = client
	defer func() { p.Env.Sim = nil }()
	path, err := envs.Rollout(p.Wrapped, p.Trainer.Policy, steps)
	if err != nil {
		return err
	}
	logger.Info("environment check", "steps", path.Len(), "done", path.Done,
		"reward", path.TotalReward())
	return nil
}

func newLauncher(exp *cistar.Experiment, logger *slog.Logger) *instrument.Launcher {
	return &instrument.Launcher{
		Backends: map[string]instrument.Backend{
			instrument.ModeLocal: &instrument.LocalBackend{
				Command: exp.Run.TrainerCommand,
				Stdout:  os.Stdout,
				Stderr:  os.Stderr,
			},
			instrument.ModeEC2: &instrument.RemoteBackend{Addr: exp.Run.Dispatcher},
		},
		Logger: &instrument.StandardLogger{Logger: logger, Submit: true, Failure: true},
	}
}

func closeBackends(l *instrument.Launcher) {
	for _, b := range l.Backends {
		if c, ok := b.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				slog.Warn("failed to close backend", "error", err)
			}
		}
	}
}

func runOptions(exp *cistar.Experiment) instrument.Options {
	return instrument.Options{
		NParallel:    exp.Run.NParallel,
		SnapshotMode: exp.Run.SnapshotMode,
		SnapshotGap:  exp.Run.SnapshotGap,
		Mode:         exp.Run.Mode,
		ExpPrefix:    exp.Prefix(),
		LogDir:       exp.Run.LogDir,
	}
}

func must(err error) {
	if err != nil {
		slog.Error("setup failed", "error", err)
		os.Exit(1)
	}
}

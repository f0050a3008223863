package instrument

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/unixpickle/essentials"
	"gopkg.in/yaml.v3"
)

// File names inside a run directory.
const (
	VariantFile = "variant.yml"
	PolicyFile  = "params.init"
)

// TimestampFormat is the time layout used in generated
// run names.
const TimestampFormat = "2006_01_02_15_04_05"

// A Saver can write itself to a file.
type Saver interface {
	Save(path string) error
}

// A Call is a training invocation: the name of a method
// and a plain-data description of everything it uses.
type Call struct {
	Method  string         `yaml:"method"`
	Variant map[string]any `yaml:"variant"`

	// Policy, if set, holds initial parameters which are
	// saved next to the variant.
	Policy Saver `yaml:"-"`
}

// A Job is a Call bound to a named run directory.
type Job struct {
	Method      string  `yaml:"method"`
	ExpName     string  `yaml:"exp_name"`
	Dir         string  `yaml:"dir"`
	VariantFile string  `yaml:"variant_file"`
	PolicyFile  string  `yaml:"policy_file,omitempty"`
	Options     Options `yaml:"options"`
}

// Args renders the job as trainer command-line flags.
func (j *Job) Args() []string {
	args := []string{
		"--method", j.Method,
		"--exp_name", j.ExpName,
		"--log_dir", j.Dir,
		"--variant_file", j.VariantFile,
	}
	if j.PolicyFile != "" {
		args = append(args, "--params_file", j.PolicyFile)
	}
	return append(args, j.Options.Args()...)
}

// A Backend executes jobs.
type Backend interface {
	Submit(ctx context.Context, job *Job) error
}

// A Checker is a Backend which can tell, before a run
// directory is prepared, whether it is able to accept jobs.
type Checker interface {
	Check() error
}

// A Launcher turns Calls into Jobs and hands them to the
// backend for their mode.
type Launcher struct {
	// Backends maps modes to backends.
	Backends map[string]Backend

	// Logger receives submission events.
	// If nil, events are not logged.
	Logger Logger

	// SubmitError is called when a seed fails in
	// SubmitSeeds.
	//
	// If this is nil, it is equivalent to a function which
	// echoes the error.
	// If SubmitError returns nil, the failure is not
	// reported by SubmitSeeds.
	SubmitError func(seed int64, err error) error

	// Now is used to timestamp run names.
	// If nil, time.Now is used.
	Now func() time.Time
}

// RunExperimentLite prepares the run directory for a call
// and submits it.
//
// The run is named <prefix>_<timestamp>_<seed> unless
// opts.ExpName is set.
// The directory receives the variant file and, if the call
// carries a policy, the initial parameters.
func (l *Launcher) RunExperimentLite(ctx context.Context, call *Call,
	opts Options) (job *Job, err error) {
	defer essentials.AddCtxTo("run experiment", &err)
	if call == nil || call.Method == "" {
		return nil, errors.New("call has no method")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.WithDefaults()
	backend, ok := l.Backends[opts.Mode]
	if !ok {
		return nil, fmt.Errorf("no backend for mode %q", opts.Mode)
	}
	if c, ok := backend.(Checker); ok {
		if err := c.Check(); err != nil {
			return nil, err
		}
	}
	if opts.ExpName == "" {
		opts.ExpName = ExpName(opts.ExpPrefix, l.now(), opts.Seed)
	}

	job = &Job{
		Method:  call.Method,
		ExpName: opts.ExpName,
		Dir:     filepath.Join(opts.LogDir, opts.ExpPrefix, opts.ExpName),
		Options: opts,
	}
	if err := os.MkdirAll(job.Dir, 0755); err != nil {
		return nil, err
	}
	job.VariantFile = filepath.Join(job.Dir, VariantFile)
	if err := writeVariant(job, call); err != nil {
		return nil, err
	}
	if call.Policy != nil {
		job.PolicyFile = filepath.Join(job.Dir, PolicyFile)
		if err := call.Policy.Save(job.PolicyFile); err != nil {
			return nil, err
		}
	}
	if err := backend.Submit(ctx, job); err != nil {
		return nil, err
	}
	if l.Logger != nil {
		l.Logger.LogSubmit(job)
	}
	return job, nil
}

// A Result is the outcome of one seed's submission.
type Result struct {
	Seed int64
	Job  *Job
	Err  error
}

// SubmitSeeds submits one run per seed, in order.
//
// Each seed gets its own call from build and its own copy
// of opts with Seed set.
// A failing seed does not stop the others.
// The returned error joins every failure which SubmitError
// did not absorb.
func (l *Launcher) SubmitSeeds(ctx context.Context, seeds []int64,
	build func(seed int64) (*Call, error), opts Options) ([]Result, error) {
	var results []Result
	var errs []error
	for _, seed := range seeds {
		res := Result{Seed: seed}
		seedOpts := opts
		seedOpts.Seed = seed
		call, err := build(seed)
		if err == nil {
			res.Job, err = l.RunExperimentLite(ctx, call, seedOpts)
		}
		if err != nil {
			res.Err = fmt.Errorf("seed %d: %w", seed, err)
			if l.Logger != nil {
				l.Logger.LogFailure(seed, res.Err)
			}
			if err := l.submitError(seed, res.Err); err != nil {
				errs = append(errs, err)
			}
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// ExpName formats a run name.
func ExpName(prefix string, t time.Time, seed int64) string {
	return fmt.Sprintf("%s_%s_%04d", prefix, t.Format(TimestampFormat), seed)
}

func (l *Launcher) submitError(seed int64, err error) error {
	if l.SubmitError == nil {
		return err
	}
	return l.SubmitError(seed, err)
}

func (l *Launcher) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func writeVariant(job *Job, call *Call) error {
	doc := struct {
		Job     *Job           `yaml:"job"`
		Variant map[string]any `yaml:"variant"`
	}{job, call.Variant}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return err
	}
	return os.WriteFile(job.VariantFile, data, 0644)
}

// Package instrument packages training calls into named
// experiment runs and submits them to local or remote
// executors.
package instrument

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/unixpickle/essentials"
)

// Execution modes.
const (
	ModeLocal = "local"
	ModeEC2   = "ec2"
)

// Snapshot modes.
const (
	SnapshotAll  = "all"
	SnapshotLast = "last"
	SnapshotGap  = "gap"
	SnapshotNone = "none"
)

// Defaults for Options.
const (
	DefaultNParallel    = 1
	DefaultSnapshotMode = SnapshotAll
	DefaultSnapshotGap  = 1
	DefaultMode         = ModeLocal
	DefaultLogDir       = "data"
)

// Options controls how a single run is named and
// executed.
type Options struct {
	// NParallel is the number of sampling workers.
	// If 0, DefaultNParallel is used.
	NParallel int `yaml:"n_parallel"`

	// SnapshotMode selects which iterations are saved.
	// If empty, DefaultSnapshotMode is used.
	SnapshotMode string `yaml:"snapshot_mode"`

	// SnapshotGap is the number of iterations between
	// snapshots in SnapshotGap mode.
	// If 0, DefaultSnapshotGap is used.
	SnapshotGap int `yaml:"snapshot_gap"`

	Seed int64 `yaml:"seed"`

	// Mode selects the backend.
	// If empty, DefaultMode is used.
	Mode string `yaml:"mode"`

	// ExpPrefix groups runs of the same experiment.
	ExpPrefix string `yaml:"exp_prefix"`

	// ExpName names the run.
	// If empty, a name is derived from ExpPrefix, the time
	// and the seed.
	ExpName string `yaml:"exp_name"`

	// LogDir is the root of all run directories.
	// If empty, DefaultLogDir is used.
	LogDir string `yaml:"log_dir"`
}

// WithDefaults returns a copy of o with unset fields
// replaced by their defaults.
func (o Options) WithDefaults() Options {
	if o.NParallel == 0 {
		o.NParallel = DefaultNParallel
	}
	if o.SnapshotMode == "" {
		o.SnapshotMode = DefaultSnapshotMode
	}
	if o.SnapshotGap == 0 {
		o.SnapshotGap = DefaultSnapshotGap
	}
	if o.Mode == "" {
		o.Mode = DefaultMode
	}
	if o.LogDir == "" {
		o.LogDir = DefaultLogDir
	}
	return o
}

// Validate checks the options after defaults are applied.
func (o Options) Validate() (err error) {
	defer essentials.AddCtxTo("validate run options", &err)
	o = o.WithDefaults()
	if o.NParallel < 0 {
		return fmt.Errorf("n_parallel cannot be negative, got %d", o.NParallel)
	}
	switch o.SnapshotMode {
	case SnapshotAll, SnapshotLast, SnapshotGap, SnapshotNone:
	default:
		return fmt.Errorf("unknown snapshot_mode: %q", o.SnapshotMode)
	}
	if o.SnapshotGap < 0 {
		return fmt.Errorf("snapshot_gap cannot be negative, got %d", o.SnapshotGap)
	}
	switch o.Mode {
	case ModeLocal, ModeEC2:
	default:
		return fmt.Errorf("unknown mode: %q", o.Mode)
	}
	if o.ExpPrefix == "" && o.ExpName == "" {
		return errors.New("exp_prefix or exp_name is required")
	}
	return nil
}

// Args renders the options as trainer command-line flags.
func (o Options) Args() []string {
	return []string{
		"--n_parallel", strconv.Itoa(o.NParallel),
		"--snapshot_mode", o.SnapshotMode,
		"--snapshot_gap", strconv.Itoa(o.SnapshotGap),
		"--seed", strconv.FormatInt(o.Seed, 10),
	}
}

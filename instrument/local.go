package instrument

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/unixpickle/essentials"
)

// LocalBackend runs each job as a trainer process on this
// machine and waits for it to finish.
//
// The trainer is invoked as Command followed by the job's
// flags.
// Its output goes to Stdout and Stderr, or to a log file
// in the run directory if those are nil.
type LocalBackend struct {
	Command []string
	Stdout  io.Writer
	Stderr  io.Writer
}

// LocalLogFile is the trainer output file used when no
// writers are configured.
const LocalLogFile = "trainer.log"

// Check fails if no trainer command is configured.
func (l *LocalBackend) Check() error {
	if len(l.Command) == 0 {
		return errors.New("local backend: no trainer command")
	}
	return nil
}

// Submit runs the trainer.
func (l *LocalBackend) Submit(ctx context.Context, job *Job) (err error) {
	defer essentials.AddCtxTo("local submit", &err)
	if err := l.Check(); err != nil {
		return err
	}
	args := append(append([]string{}, l.Command[1:]...), job.Args()...)
	cmd := exec.CommandContext(ctx, l.Command[0], args...)
	cmd.Stdout, cmd.Stderr = l.Stdout, l.Stderr
	if cmd.Stdout == nil || cmd.Stderr == nil {
		f, err := os.Create(filepath.Join(job.Dir, LocalLogFile))
		if err != nil {
			return err
		}
		defer f.Close()
		if cmd.Stdout == nil {
			cmd.Stdout = f
		}
		if cmd.Stderr == nil {
			cmd.Stderr = f
		}
	}
	return cmd.Run()
}

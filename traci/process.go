package traci

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/unixpickle/essentials"
)

// Default connection settings for Process.
const (
	DefaultConnectAttempts = 20
	DefaultConnectDelay    = 100 * time.Millisecond
	DefaultMaxConnectDelay = time.Second
	DefaultStopTimeout     = 2 * time.Second
)

// LinearBackoff waits BaseDelay*(attempt+1), capped at
// MaxDelay.
type LinearBackoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// NextDelay returns the delay before the given attempt
// (0-indexed).
func (l LinearBackoff) NextDelay(attempt int) time.Duration {
	delay := l.BaseDelay * time.Duration(attempt+1)
	if l.MaxDelay > 0 && delay > l.MaxDelay {
		return l.MaxDelay
	}
	return delay
}

// A Process runs a simulator binary with a TraCI server.
type Process struct {
	// Binary is the simulator executable, e.g. "sumo" or
	// "sumo-gui".
	Binary string

	// ConfigPath is the run configuration to load.
	ConfigPath string

	// StepLength is the simulated duration of one step, in
	// seconds.
	StepLength float64

	// Port is the TraCI port. If 0, a free port is chosen.
	Port int

	// ExtraArgs are appended to the command line.
	ExtraArgs []string

	// ConnectAttempts bounds the number of dials made while
	// the simulator starts up.
	// If 0, DefaultConnectAttempts is used.
	ConnectAttempts int

	// Backoff spaces out connection attempts.
	// If zero, DefaultConnectDelay and DefaultMaxConnectDelay
	// are used.
	Backoff LinearBackoff

	// StopTimeout is how long Stop waits for the simulator
	// to exit on its own before killing it.
	// If 0, DefaultStopTimeout is used.
	StopTimeout time.Duration

	Logger *slog.Logger

	cmd *exec.Cmd
}

// Args returns the simulator command line, excluding the
// binary.
func (p *Process) Args() []string {
	args := []string{
		"-c", p.ConfigPath,
		"--remote-port", strconv.Itoa(p.Port),
		"--step-length", strconv.FormatFloat(p.StepLength, 'f', -1, 64),
		"--no-step-log", "true",
	}
	return append(args, p.ExtraArgs...)
}

// Start launches the simulator and connects to it.
func (p *Process) Start(ctx context.Context) (client *Client, err error) {
	defer essentials.AddCtxTo("start simulator", &err)
	if p.cmd != nil {
		return nil, errors.New("already started")
	}
	if p.Port == 0 {
		p.Port, err = freePort()
		if err != nil {
			return nil, err
		}
	}
	p.cmd = exec.CommandContext(ctx, p.Binary, p.Args()...)
	if err := p.cmd.Start(); err != nil {
		p.cmd = nil
		return nil, err
	}
	p.logger().Debug("started simulator", "binary", p.Binary, "port", p.Port, "pid", p.cmd.Process.Pid)

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(p.Port))
	client, err = p.connect(ctx, addr)
	if err != nil {
		if stopErr := p.Stop(); stopErr != nil {
			p.logger().Warn("simulator did not stop cleanly", "error", stopErr)
		}
		return nil, err
	}
	return client, nil
}

// Stop waits for the simulator to exit, killing it if it
// is still running after StopTimeout.
//
// The simulator normally exits once a client closes its
// connection.
// A failed exit is reported, but a kill issued by Stop
// is not.
func (p *Process) Stop() (err error) {
	if p.cmd == nil {
		return nil
	}
	defer essentials.AddCtxTo("stop simulator", &err)
	cmd := p.cmd
	p.cmd = nil
	timeout := p.StopTimeout
	if timeout == 0 {
		timeout = DefaultStopTimeout
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()
	select {
	case err = <-done:
	case <-time.After(timeout):
		if killErr := cmd.Process.Kill(); killErr != nil {
			p.logger().Debug("kill simulator", "error", killErr)
		}
		err = <-done
		if killedBySignal(err) {
			err = nil
		}
	}
	p.logger().Debug("stopped simulator", "binary", p.Binary, "port", p.Port)
	return err
}

func killedBySignal(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	return ok && status.Signaled() && status.Signal() == syscall.SIGKILL
}

func (p *Process) connect(ctx context.Context, addr string) (*Client, error) {
	attempts := p.ConnectAttempts
	if attempts == 0 {
		attempts = DefaultConnectAttempts
	}
	backoff := p.Backoff
	if backoff.BaseDelay == 0 {
		backoff = LinearBackoff{BaseDelay: DefaultConnectDelay, MaxDelay: DefaultMaxConnectDelay}
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		client, err := Dial(ctx, addr)
		if err == nil {
			return client, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff.NextDelay(i)):
		}
	}
	return nil, fmt.Errorf("connect to %s after %d attempts: %w", addr, attempts, lastErr)
}

func (p *Process) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

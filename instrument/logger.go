package instrument

import "log/slog"

// A Logger logs submission events.
type Logger interface {
	LogSubmit(job *Job)
	LogFailure(seed int64, err error)
}

// StandardLogger is a Logger which uses a slog.Logger.
//
// A Field of name <N> controls whether or not the Log<N>
// method does anything.
type StandardLogger struct {
	// Logger is the destination.
	// If nil, slog.Default() is used.
	Logger *slog.Logger

	Submit  bool
	Failure bool
}

// LogSubmit logs an accepted job.
func (s *StandardLogger) LogSubmit(job *Job) {
	if s.Submit {
		s.logger().Info("submitted run", "exp_name", job.ExpName, "seed", job.Options.Seed,
			"mode", job.Options.Mode, "dir", job.Dir)
	}
}

// LogFailure logs a seed whose submission failed.
func (s *StandardLogger) LogFailure(seed int64, err error) {
	if s.Failure {
		s.logger().Error("submission failed", "seed", seed, "error", err)
	}
}

func (s *StandardLogger) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

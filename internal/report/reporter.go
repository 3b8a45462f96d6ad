package report

import (
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/drewbeer/polaris-gslb/internal/domain"
)

// Reporter consumes one verdict per completed check run. Implementations
// must be safe for concurrent use: every monitor loop calls Report from its
// own goroutine.
type Reporter interface {
	Report(v domain.Verdict) error
}

// Multi fans a verdict out to several sinks. Every sink sees the verdict
// even when an earlier one fails; the errors are folded together.
type Multi []Reporter

var _ Reporter = (Multi)(nil)

func (m Multi) Report(v domain.Verdict) error {
	var err error
	for _, r := range m {
		if r == nil {
			continue
		}
		err = multierr.Append(err, r.Report(v))
	}
	return err
}

// Logger writes one structured log line per verdict.
type Logger struct {
	log *zap.Logger
}

var _ Reporter = (*Logger)(nil)

func NewLogger(log *zap.Logger) *Logger {
	return &Logger{log: log}
}

func (l *Logger) Report(v domain.Verdict) error {
	fields := []zap.Field{
		zap.String("monitor", v.Monitor),
		zap.String("target", v.Target),
		zap.Bool("healthy", v.Healthy),
		zap.Int("attempts", v.Attempts),
		zap.Duration("elapsed", v.Last.Elapsed),
		zap.String("message", v.Last.Message),
	}
	if v.Healthy {
		l.log.Info("monitor_verdict", fields...)
	} else {
		l.log.Warn("monitor_verdict", fields...)
	}
	return nil
}

package diag

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pingsantohq/reachcheck/internal/logging"
	"github.com/pingsantohq/reachcheck/internal/metrics"
	"github.com/pingsantohq/reachcheck/pkg/types"
)

// ShouldEscalate reports whether a cycle warrants a diagnostic run: every
// status other than Success does.
func ShouldEscalate(res types.CycleResult) bool {
	return res.Status != types.StatusSuccess
}

// Log receives diagnostic output for the per-run log file.
type Log interface {
	AppendDiagnostic(ts time.Time, host, tool string, lines []string) error
	AppendFailure(ts time.Time, host, tool string) error
}

// Diagnoser runs the diagnostic tool for one host.
type Diagnoser interface {
	Run(ctx context.Context, host string) (Output, error)
	Tool() string
}

type EscalatorDependencies struct {
	Logger  logrus.FieldLogger
	Metrics metrics.EscalationRecorder
	Now     func() time.Time
}

// Escalator runs the diagnostic tool for unhealthy cycles, exactly once per
// cycle, and writes the outcome to the diagnostic log.
type Escalator struct {
	diag Diagnoser
	log  Log
	deps EscalatorDependencies
}

func NewEscalator(d Diagnoser, log Log, deps EscalatorDependencies) *Escalator {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NoopEscalationRecorder{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Escalator{diag: d, log: log, deps: deps}
}

// Handle escalates res when ShouldEscalate says so. Invocation failures are
// returned for reporting; they are never retried and never change res.
func (e *Escalator) Handle(ctx context.Context, res types.CycleResult) error {
	if !ShouldEscalate(res) {
		return nil
	}
	log := e.deps.Logger.WithFields(logrus.Fields{"host": res.Host, "status": res.Status})
	ts := e.deps.Now()

	out, err := e.diag.Run(ctx, res.Host)
	if err != nil {
		e.deps.Metrics.ObserveEscalation(metrics.EscalationError)
		if logErr := e.log.AppendFailure(ts, res.Host, e.diag.Tool()); logErr != nil {
			log.WithError(logErr).Warn("append diagnostic log")
		}
		return err
	}
	log.WithField("elapsed", out.Duration.Round(time.Millisecond)).Infof("%s finished", e.diag.Tool())

	if !out.Succeeded() {
		e.deps.Metrics.ObserveEscalation(metrics.EscalationFailed)
		log.WithField("exit_code", out.ExitCode).Errorf("%s\t%s %s error", ts.Format(types.RecordTimeLayout), res.Host, e.diag.Tool())
		return e.log.AppendFailure(ts, res.Host, e.diag.Tool())
	}
	e.deps.Metrics.ObserveEscalation(metrics.EscalationCompleted)
	return e.log.AppendDiagnostic(ts, res.Host, e.diag.Tool(), out.Lines())
}

// Package pinger runs a probe cycle: a fixed number of sequential echo
// probes against one host, classified into a CycleResult.
package pinger

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pingsantohq/reachcheck/internal/logging"
	"github.com/pingsantohq/reachcheck/internal/metrics"
	"github.com/pingsantohq/reachcheck/internal/probe"
	"github.com/pingsantohq/reachcheck/pkg/types"
)

type Config struct {
	// Count is the number of probes per cycle.
	Count int
	// Wait is the pause after every answered probe.
	Wait time.Duration
	// Timeout bounds the wait for each reply.
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{Count: 5, Wait: 200 * time.Millisecond, Timeout: time.Second}
}

type Dependencies struct {
	Logger  logrus.FieldLogger
	Metrics metrics.ProbeRecorder
	Now     func() time.Time
	Sleep   func(time.Duration)
}

type Pinger struct {
	prober probe.Prober
	cfg    Config
	deps   Dependencies
}

func New(prober probe.Prober, cfg Config, deps Dependencies) *Pinger {
	def := DefaultConfig()
	if cfg.Count <= 0 {
		cfg.Count = def.Count
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Wait < 0 {
		cfg.Wait = 0
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NoopProbeRecorder{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = time.Sleep
	}
	return &Pinger{prober: prober, cfg: cfg, deps: deps}
}

// RunCycle sends Count probes to host one after another. Lost probes and
// timeouts only lower the received count; a resolution failure ends the
// cycle early with StatusError. The returned error is non-nil only for a
// *probe.PermissionError, which no later probe can recover from.
func (p *Pinger) RunCycle(ctx context.Context, host string) (types.CycleResult, error) {
	log := p.deps.Logger.WithField("host", host)
	var (
		outcome    types.ProbeOutcome
		resolveErr error
	)

probes:
	for i := 0; i < p.cfg.Count; i++ {
		outcome.Sent++
		rtt, err := p.prober.Probe(ctx, probe.Request{
			Host:     host,
			Sequence: uint16(i + 1),
			Timeout:  p.cfg.Timeout,
		})
		var rerr *probe.ResolutionError
		switch {
		case err == nil:
			outcome.Received++
			outcome.RTTs = append(outcome.RTTs, rtt)
			p.deps.Metrics.ObserveProbe(true, rtt)
			log.WithField("seq", i+1).Debugf("reply in %s", rtt)
			p.deps.Sleep(p.cfg.Wait)
		case errors.Is(err, probe.ErrTimeout):
			p.deps.Metrics.ObserveProbe(false, 0)
			log.WithField("seq", i+1).Debug("request timed out")
		case errors.As(err, &rerr):
			resolveErr = err
			log.WithError(err).Warn("host resolution failed")
			break probes
		case probe.IsPermission(err):
			res := p.result(host, outcome)
			res.Status = types.StatusError
			res.Error = err.Error()
			return res, err
		default:
			p.deps.Metrics.ObserveProbe(false, 0)
			log.WithError(err).WithField("seq", i+1).Warn("probe failed")
		}
	}

	res := p.result(host, outcome)
	if resolveErr != nil {
		res.Status = types.StatusError
		res.Error = resolveErr.Error()
	}
	return res, nil
}

func (p *Pinger) result(host string, outcome types.ProbeOutcome) types.CycleResult {
	return types.NewCycleResult(host, outcome, p.deps.Now())
}

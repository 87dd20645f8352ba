package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pingsantohq/reachcheck/internal/logging"
	"github.com/pingsantohq/reachcheck/internal/metrics"
	"github.com/pingsantohq/reachcheck/pkg/types"
)

type CycleRunner interface {
	RunCycle(ctx context.Context, host string) (types.CycleResult, error)
}

type ResultSink interface {
	Record(ctx context.Context, res types.CycleResult) error
}

type Escalator interface {
	Handle(ctx context.Context, res types.CycleResult) error
}

// Handler executes one job end to end: probe cycle, recording, then
// escalation when the cycle was not fully successful.
type Handler struct {
	cycles    CycleRunner
	results   ResultSink
	escalator Escalator
	logger    logrus.FieldLogger
	metrics   metrics.CycleRecorder
	now       func() time.Time
}

type HandlerOption func(*Handler)

func WithResultSink(sink ResultSink) HandlerOption {
	return func(h *Handler) {
		if sink != nil {
			h.results = sink
		}
	}
}

func WithEscalator(e Escalator) HandlerOption {
	return func(h *Handler) {
		if e != nil {
			h.escalator = e
		}
	}
}

func WithLogger(logger logrus.FieldLogger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithCycleMetrics(m metrics.CycleRecorder) HandlerOption {
	return func(h *Handler) {
		if m != nil {
			h.metrics = m
		}
	}
}

func WithNow(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

func NewHandler(cycles CycleRunner, opts ...HandlerOption) *Handler {
	h := &Handler{
		cycles:  cycles,
		logger:  logging.Discard(),
		metrics: metrics.NoopCycleRecorder{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle returns an error only when the whole run must stop. Recording and
// escalation failures are logged and the job still counts as done.
func (h *Handler) Handle(ctx context.Context, job Job) error {
	started := h.now()
	log := h.logger.WithFields(logrus.Fields{
		"host":      job.Host,
		"batch":     job.BatchID,
		"iteration": job.Iteration,
	})

	res, err := h.cycles.RunCycle(ctx, job.Host)
	if err != nil {
		log.WithError(err).Error("probe cycle aborted")
		return err
	}
	h.metrics.ObserveCycle(res.Status)
	log = log.WithFields(logrus.Fields{
		"status":   res.Status,
		"sent":     res.Sent,
		"received": res.Received,
		"loss":     types.FormatLoss(res.LossPct),
	})
	if res.Status == types.StatusSuccess {
		log.Info("cycle complete")
	} else {
		log.Warn("cycle complete")
	}

	if h.results != nil {
		if err := h.results.Record(ctx, res); err != nil {
			log.WithError(err).Warn("record cycle result")
		}
	}
	if h.escalator != nil {
		if err := h.escalator.Handle(ctx, res); err != nil {
			log.WithError(err).Warn("diagnostic escalation failed")
		}
	}

	fields := logrus.Fields{"elapsed": h.now().Sub(started).Round(time.Millisecond)}
	if !job.ScheduledFor.IsZero() {
		fields["waited"] = started.Sub(job.ScheduledFor).Round(time.Millisecond)
	}
	log.WithFields(fields).Debug("job finished")
	return nil
}

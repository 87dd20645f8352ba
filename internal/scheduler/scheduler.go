// Package scheduler fans probe cycles out over the host list under a fixed
// concurrency limit, once or in back-to-back batches.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/pingsantohq/reachcheck/internal/logging"
	"github.com/pingsantohq/reachcheck/internal/metrics"
	"github.com/pingsantohq/reachcheck/internal/worker"
	"github.com/pingsantohq/reachcheck/pkg/types"
)

const (
	DefaultWorkers    = 32
	DefaultBatchDelay = time.Second
)

// Handler runs one job. A non-nil error aborts the run.
type Handler interface {
	Handle(ctx context.Context, job worker.Job) error
}

// HostSource yields the host list for the next batch.
type HostSource interface {
	Hosts() ([]string, error)
}

// BatchObserver is told about every finished batch.
type BatchObserver func(run types.BatchRun, err error)

type Scheduler struct {
	handler    Handler
	workers    int
	batchDelay time.Duration
	runFor     time.Duration

	gate *semaphore.Weighted

	now      func() time.Time
	logger   logrus.FieldLogger
	workerM  metrics.WorkerRecorder
	batchM   metrics.BatchRecorder
	observer BatchObserver
}

type Option func(*Scheduler)

// WithWorkers sets the admission limit K.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithBatchDelay sets the pause between continuous batches.
func WithBatchDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.batchDelay = d
		}
	}
}

// WithRunDuration bounds RunContinuous by wall-clock time.
func WithRunDuration(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.runFor = d
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithWorkerMetrics(m metrics.WorkerRecorder) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.workerM = m
		}
	}
}

func WithBatchMetrics(m metrics.BatchRecorder) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.batchM = m
		}
	}
}

func WithBatchObserver(fn BatchObserver) Option {
	return func(s *Scheduler) {
		s.observer = fn
	}
}

func New(handler Handler, opts ...Option) *Scheduler {
	s := &Scheduler{
		handler:    handler,
		workers:    DefaultWorkers,
		batchDelay: DefaultBatchDelay,
		now:        time.Now,
		logger:     logging.Discard(),
		workerM:    metrics.NoopWorkerRecorder{},
		batchM:     metrics.NoopBatchRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.gate = semaphore.NewWeighted(int64(s.workers))
	return s
}

// RunOnce runs one cycle per host with at most K cycles in flight. Once ctx
// is done no further host is admitted, but cycles already admitted run to
// completion on a context that ignores the cancellation. It returns after
// every admitted cycle has finished, with the first fatal handler error.
func (s *Scheduler) RunOnce(ctx context.Context, hosts []string) error {
	_, err := s.runBatch(ctx, 1, hosts)
	return err
}

func (s *Scheduler) runBatch(ctx context.Context, iteration int, hosts []string) (types.BatchRun, error) {
	run := types.BatchRun{
		ID:        newBatchID(),
		Iteration: iteration,
		StartedAt: s.now(),
	}
	log := s.logger.WithFields(logrus.Fields{"batch": run.ID, "iteration": iteration})
	log.WithField("hosts", len(hosts)).Info("batch started")

	dispatchCtx, stop := context.WithCancelCause(ctx)
	defer stop(nil)
	workCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	for _, host := range hosts {
		if dispatchCtx.Err() != nil {
			break
		}
		if err := s.gate.Acquire(dispatchCtx, 1); err != nil {
			break
		}
		run.Hosts++
		job := worker.Job{
			BatchID:      run.ID,
			Iteration:    iteration,
			Host:         host,
			ScheduledFor: s.now(),
		}
		g.Go(func() error {
			defer s.gate.Release(1)
			s.workerM.WorkerStarted()
			defer s.workerM.WorkerFinished()
			if err := s.handler.Handle(workCtx, job); err != nil {
				stop(err)
				return err
			}
			return nil
		})
	}
	err := g.Wait()

	run.EndedAt = s.now()
	elapsed := run.EndedAt.Sub(run.StartedAt)
	s.batchM.ObserveBatch(run.Hosts, elapsed)
	if s.observer != nil {
		s.observer(run, err)
	}
	if skipped := len(hosts) - run.Hosts; skipped > 0 {
		log.WithField("skipped", skipped).Warn("dispatch stopped before every host was admitted")
	}
	log.WithFields(logrus.Fields{"hosts": run.Hosts, "elapsed": elapsed.Round(time.Millisecond)}).Info("batch finished")
	return run, err
}

// RunContinuous runs batches back to back, re-reading the host list before
// each one and pausing the batch delay in between, until ctx is done, the
// run duration elapses or a handler fails fatally. Interruption and the
// deadline are normal endings and return nil.
func (s *Scheduler) RunContinuous(ctx context.Context, src HostSource) error {
	if s.runFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runFor)
		defer cancel()
	}
	for iteration := 1; ; iteration++ {
		if ctx.Err() != nil {
			return nil
		}
		hosts, err := src.Hosts()
		if err != nil {
			return fmt.Errorf("load hosts for batch %d: %w", iteration, err)
		}
		if _, err := s.runBatch(ctx, iteration, hosts); err != nil {
			return err
		}
		timer := time.NewTimer(s.batchDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Done reports whether err is a normal ending of a run rather than a failure.
func Done(err error) bool {
	return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func newBatchID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

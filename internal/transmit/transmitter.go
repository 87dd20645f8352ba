// Package transmit delivers queued cycle results to an external sink in
// batches, retrying failed deliveries until the run ends.
package transmit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pingsantohq/reachcheck/internal/logging"
	"github.com/pingsantohq/reachcheck/internal/metrics"
	"github.com/pingsantohq/reachcheck/internal/queue"
	"github.com/pingsantohq/reachcheck/pkg/types"
)

// Sink is the downstream consumer of a result queue. It reports how many
// leading results were delivered before any error.
type Sink interface {
	Send(ctx context.Context, results []types.CycleResult) (int, error)
}

// Recorder is the per-result write interface of the record sinks.
type Recorder interface {
	Record(ctx context.Context, res types.CycleResult) error
}

// RecorderSink sends a batch by recording its results one at a time.
type RecorderSink struct {
	Recorder Recorder
}

func (s RecorderSink) Send(ctx context.Context, results []types.CycleResult) (int, error) {
	for i, res := range results {
		if err := s.Recorder.Record(ctx, res); err != nil {
			return i, err
		}
	}
	return len(results), nil
}

// Option configures a Transmitter instance.
type Option func(*Transmitter)

// WithBatchSize overrides the number of results flushed per send.
func WithBatchSize(size int) Option {
	return func(t *Transmitter) {
		if size > 0 {
			t.batchSize = size
		}
	}
}

// WithIdleSleep sets the poll interval when no enqueue signal arrives.
func WithIdleSleep(d time.Duration) Option {
	return func(t *Transmitter) {
		if d > 0 {
			t.idleSleep = d
		}
	}
}

// WithRetrySleep customises the backoff applied after a failed send attempt.
func WithRetrySleep(d time.Duration) Option {
	return func(t *Transmitter) {
		if d > 0 {
			t.retrySleep = d
		}
	}
}

// WithFlushTimeout bounds the final drain after the run context ends.
func WithFlushTimeout(d time.Duration) Option {
	return func(t *Transmitter) {
		if d > 0 {
			t.flushTimeout = d
		}
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(t *Transmitter) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func WithMetrics(rec metrics.QueueRecorder) Option {
	return func(t *Transmitter) {
		if rec != nil {
			t.metrics = rec
		}
	}
}

// Transmitter drains a result queue into a sink.
type Transmitter struct {
	name         string
	queue        *queue.ResultQueue
	sink         Sink
	batchSize    int
	idleSleep    time.Duration
	retrySleep   time.Duration
	flushTimeout time.Duration
	logger       logrus.FieldLogger
	metrics      metrics.QueueRecorder
}

// New constructs a Transmitter for the named sink. The queue and sink are required.
func New(name string, q *queue.ResultQueue, sink Sink, opts ...Option) *Transmitter {
	t := &Transmitter{
		name:         name,
		queue:        q,
		sink:         sink,
		batchSize:    256,
		idleSleep:    time.Second,
		retrySleep:   2 * time.Second,
		flushTimeout: 10 * time.Second,
		logger:       logging.Discard(),
		metrics:      metrics.NoopQueueRecorder{},
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.WithField("sink", name)
	return t
}

// Run delivers results until ctx is done, then makes one last attempt to
// deliver what is still queued within the flush timeout. Results that still
// fail are dropped and counted.
func (t *Transmitter) Run(ctx context.Context) error {
	if t.queue == nil {
		return errors.New("transmitter queue is nil")
	}
	if t.sink == nil {
		return errors.New("transmitter sink is nil")
	}

	for {
		if ctx.Err() != nil {
			return t.flush(ctx)
		}

		if sent, failed := t.flushQueue(ctx); failed {
			t.sleep(ctx, t.retrySleep)
			continue
		} else if sent {
			continue
		}

		timer := time.NewTimer(t.idleSleep)
		select {
		case <-ctx.Done():
		case <-t.queue.Ready():
		case <-timer.C:
		}
		timer.Stop()
	}
}

// flushQueue sends one batch. Undelivered results go back to the queue.
func (t *Transmitter) flushQueue(ctx context.Context) (sent, failed bool) {
	results := t.queue.Drain(t.batchSize)
	if len(results) == 0 {
		return false, false
	}

	n, err := t.sink.Send(ctx, results)
	if err != nil {
		t.metrics.IncSendFailures()
		t.logger.WithError(err).WithField("pending", len(results)-n).Warn("sink delivery failed; will retry")
		t.queue.Requeue(results[n:])
		return n > 0, true
	}
	return true, false
}

func (t *Transmitter) flush(ctx context.Context) error {
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.flushTimeout)
	defer cancel()

	var lost int
	for {
		results := t.queue.Drain(t.batchSize)
		if len(results) == 0 {
			break
		}
		n, err := t.sink.Send(flushCtx, results)
		if err != nil {
			t.metrics.IncSendFailures()
			lost += len(results) - n
			t.logger.WithError(err).Warn("final sink delivery failed")
			if flushCtx.Err() != nil {
				lost += len(t.queue.Drain(0))
				break
			}
		}
	}
	if lost > 0 {
		return fmt.Errorf("sink %s: %d results not delivered", t.name, lost)
	}
	return nil
}

func (t *Transmitter) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

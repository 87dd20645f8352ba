package metrics

import (
	"time"

	"github.com/pingsantohq/reachcheck/pkg/types"
)

type ProbeRecorder interface {
	ObserveProbe(received bool, rtt time.Duration)
}

type NoopProbeRecorder struct{}

func (NoopProbeRecorder) ObserveProbe(received bool, rtt time.Duration) {}

type CycleRecorder interface {
	ObserveCycle(status types.Status)
}

type NoopCycleRecorder struct{}

func (NoopCycleRecorder) ObserveCycle(status types.Status) {}

// Escalation outcomes.
const (
	EscalationCompleted = "completed"
	EscalationFailed    = "failed"
	EscalationError     = "error"
)

type EscalationRecorder interface {
	ObserveEscalation(outcome string)
}

type NoopEscalationRecorder struct{}

func (NoopEscalationRecorder) ObserveEscalation(outcome string) {}

type WorkerRecorder interface {
	WorkerStarted()
	WorkerFinished()
}

type NoopWorkerRecorder struct{}

func (NoopWorkerRecorder) WorkerStarted()  {}
func (NoopWorkerRecorder) WorkerFinished() {}

type BatchRecorder interface {
	ObserveBatch(hosts int, elapsed time.Duration)
}

type NoopBatchRecorder struct{}

func (NoopBatchRecorder) ObserveBatch(hosts int, elapsed time.Duration) {}

// QueueRecorder tracks a buffered sink queue.
type QueueRecorder interface {
	ObserveQueueDepth(n int)
	IncQueueDrops()
	IncSendFailures()
}

type NoopQueueRecorder struct{}

func (NoopQueueRecorder) ObserveQueueDepth(n int) {}
func (NoopQueueRecorder) IncQueueDrops()          {}
func (NoopQueueRecorder) IncSendFailures()        {}

// Package queue buffers cycle results for sinks that are slower than the
// probe workers feeding them.
package queue

import (
	"context"
	"sync"

	"github.com/pingsantohq/reachcheck/internal/metrics"
	"github.com/pingsantohq/reachcheck/pkg/types"
)

// ResultQueue is a bounded FIFO that drops its oldest entry when full.
type ResultQueue struct {
	mu       sync.Mutex
	capacity int
	items    []types.CycleResult
	dropped  uint64
	metrics  metrics.QueueRecorder
	ready    chan struct{}
}

func NewResultQueue(capacity int) *ResultQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &ResultQueue{
		capacity: capacity,
		items:    make([]types.CycleResult, 0, capacity),
		metrics:  metrics.NoopQueueRecorder{},
		ready:    make(chan struct{}, 1),
	}
}

func (q *ResultQueue) SetMetricsRecorder(rec metrics.QueueRecorder) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if rec != nil {
		q.metrics = rec
	}
}

// Record enqueues res; it never blocks and never fails.
func (q *ResultQueue) Record(ctx context.Context, res types.CycleResult) error {
	q.Enqueue(res)
	return nil
}

func (q *ResultQueue) Enqueue(result types.CycleResult) (dropped bool) {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		dropped = true
		q.dropped++
		q.metrics.IncQueueDrops()
	}
	q.items = append(q.items, result)
	q.metrics.ObserveQueueDepth(len(q.items))
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return dropped
}

// Requeue puts results that could not be delivered back at the head of the
// queue. When that overflows the queue the oldest entries are dropped.
func (q *ResultQueue) Requeue(results []types.CycleResult) {
	if len(results) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	merged := make([]types.CycleResult, 0, len(results)+len(q.items))
	merged = append(merged, results...)
	merged = append(merged, q.items...)
	if over := len(merged) - q.capacity; over > 0 {
		merged = merged[over:]
		q.dropped += uint64(over)
		for i := 0; i < over; i++ {
			q.metrics.IncQueueDrops()
		}
	}
	q.items = merged
	q.metrics.ObserveQueueDepth(len(q.items))
}

func (q *ResultQueue) Drain(max int) []types.CycleResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if max > 0 && max < n {
		n = max
	}
	drained := make([]types.CycleResult, n)
	copy(drained, q.items[:n])
	q.items = q.items[n:]
	q.metrics.ObserveQueueDepth(len(q.items))
	return drained
}

// Ready is signalled after an enqueue so a consumer can stop polling.
func (q *ResultQueue) Ready() <-chan struct{} {
	return q.ready
}

func (q *ResultQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *ResultQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Len:     len(q.items),
		Dropped: q.dropped,
	}
}

type Stats struct {
	Len     int
	Dropped uint64
}

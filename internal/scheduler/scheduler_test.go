package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pingsantohq/reachcheck/internal/worker"
	"github.com/pingsantohq/reachcheck/pkg/types"
)

type handlerFunc func(ctx context.Context, job worker.Job) error

func (f handlerFunc) Handle(ctx context.Context, job worker.Job) error { return f(ctx, job) }

type listSource struct {
	mu    sync.Mutex
	lists [][]string
	calls int
}

func (s *listSource) Hosts() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	if idx >= len(s.lists) {
		idx = len(s.lists) - 1
	}
	s.calls++
	return s.lists[idx], nil
}

func hostList(n int) []string {
	hosts := make([]string, n)
	for i := range hosts {
		hosts[i] = fmt.Sprintf("10.0.0.%d", i+1)
	}
	return hosts
}

func TestRunOnceRespectsWorkerLimit(t *testing.T) {
	var inflight, peak int32
	var mu sync.Mutex
	seen := map[string]int{}

	h := handlerFunc(func(ctx context.Context, job worker.Job) error {
		cur := atomic.AddInt32(&inflight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inflight, -1)
		mu.Lock()
		seen[job.Host]++
		mu.Unlock()
		return nil
	})

	s := New(h, WithWorkers(3))
	if err := s.RunOnce(context.Background(), hostList(10)); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if peak > 3 {
		t.Fatalf("expected at most 3 concurrent cycles, saw %d", peak)
	}
	if len(seen) != 10 {
		t.Fatalf("expected 10 hosts processed, got %d", len(seen))
	}
	for host, n := range seen {
		if n != 1 {
			t.Fatalf("host %s processed %d times", host, n)
		}
	}
}

func TestRunOnceEmptyHostList(t *testing.T) {
	var batches []types.BatchRun
	s := New(handlerFunc(func(context.Context, worker.Job) error {
		t.Fatal("handler must not run for an empty list")
		return nil
	}), WithBatchObserver(func(run types.BatchRun, err error) {
		batches = append(batches, run)
	}))
	if err := s.RunOnce(context.Background(), nil); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if len(batches) != 1 || batches[0].Hosts != 0 {
		t.Fatalf("unexpected batches: %+v", batches)
	}
}

func TestRunOnceJobsShareBatch(t *testing.T) {
	var mu sync.Mutex
	ids := map[string]struct{}{}
	s := New(handlerFunc(func(_ context.Context, job worker.Job) error {
		mu.Lock()
		ids[job.BatchID] = struct{}{}
		mu.Unlock()
		if job.Iteration != 1 {
			t.Errorf("expected iteration 1, got %d", job.Iteration)
		}
		return nil
	}), WithWorkers(2))
	if err := s.RunOnce(context.Background(), hostList(5)); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected a single batch id, got %d", len(ids))
	}
	for id := range ids {
		if id == "" {
			t.Fatal("batch id is empty")
		}
	}
}

func TestRunOnceFatalErrorStopsDispatch(t *testing.T) {
	fatal := errors.New("permission denied")
	var started int32
	h := handlerFunc(func(ctx context.Context, job worker.Job) error {
		atomic.AddInt32(&started, 1)
		if job.Host == "10.0.0.1" {
			return fatal
		}
		time.Sleep(20 * time.Millisecond)
		return nil
	})

	s := New(h, WithWorkers(1))
	err := s.RunOnce(context.Background(), hostList(20))
	if !errors.Is(err, fatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	// With one slot the failing job releases before the next acquire can
	// observe the cancellation, so at most one more job slips through.
	if n := atomic.LoadInt32(&started); n > 2 {
		t.Fatalf("expected dispatch to stop after the fatal error, %d jobs started", n)
	}
}

func TestRunOnceCancellationDrainsAdmittedWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	var started, finished int32
	var sawCancel atomic.Bool

	h := handlerFunc(func(jobCtx context.Context, job worker.Job) error {
		if atomic.AddInt32(&started, 1) == 2 {
			cancel()
		}
		<-release
		if jobCtx.Err() != nil {
			sawCancel.Store(true)
		}
		atomic.AddInt32(&finished, 1)
		return nil
	})

	s := New(h, WithWorkers(2))
	done := make(chan error, 1)
	go func() { done <- s.RunOnce(ctx, hostList(10)) }()

	// Give the dispatcher a chance to notice the cancellation.
	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunOnce returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunOnce did not return")
	}
	if started != 2 || finished != 2 {
		t.Fatalf("expected 2 admitted and finished jobs, got started=%d finished=%d", started, finished)
	}
	if sawCancel.Load() {
		t.Fatal("admitted jobs must not observe the interrupt")
	}
}

func TestRunContinuousRereadsHosts(t *testing.T) {
	src := &listSource{lists: [][]string{{"a"}, {"a", "b"}, {"c"}}}
	var mu sync.Mutex
	var order []string

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var batches int
	s := New(handlerFunc(func(_ context.Context, job worker.Job) error {
		mu.Lock()
		order = append(order, fmt.Sprintf("%d:%s", job.Iteration, job.Host))
		mu.Unlock()
		return nil
	}),
		WithWorkers(1),
		WithBatchDelay(0),
		WithBatchObserver(func(run types.BatchRun, err error) {
			batches++
			if batches == 3 {
				cancel()
			}
		}),
	)

	if err := s.RunContinuous(ctx, src); err != nil {
		t.Fatalf("RunContinuous returned error: %v", err)
	}
	want := []string{"1:a", "2:a", "2:b", "3:c"}
	if len(order) != len(want) {
		t.Fatalf("unexpected jobs: %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("job %d: expected %s, got %s", i, want[i], order[i])
		}
	}
	if src.calls != 3 {
		t.Fatalf("expected host list to be read 3 times, got %d", src.calls)
	}
}

func TestRunContinuousStopsAtDeadline(t *testing.T) {
	src := &listSource{lists: [][]string{hostList(2)}}
	s := New(handlerFunc(func(context.Context, worker.Job) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	}),
		WithRunDuration(60*time.Millisecond),
		WithBatchDelay(10*time.Millisecond),
	)

	start := time.Now()
	if err := s.RunContinuous(context.Background(), src); err != nil {
		t.Fatalf("RunContinuous returned error: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < 60*time.Millisecond {
		t.Fatalf("returned before the deadline: %s", elapsed)
	}
	if elapsed > time.Second {
		t.Fatalf("overran the deadline: %s", elapsed)
	}
	if src.calls < 2 {
		t.Fatalf("expected several batches, got %d", src.calls)
	}
}

func TestRunContinuousSurfacesFatalError(t *testing.T) {
	fatal := errors.New("boom")
	src := &listSource{lists: [][]string{{"a"}}}
	s := New(handlerFunc(func(context.Context, worker.Job) error { return fatal }), WithBatchDelay(0))
	if err := s.RunContinuous(context.Background(), src); !errors.Is(err, fatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestDone(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, true},
		{context.Canceled, true},
		{fmt.Errorf("wrap: %w", context.DeadlineExceeded), true},
		{errors.New("other"), false},
	}
	for _, tc := range cases {
		if got := Done(tc.err); got != tc.want {
			t.Fatalf("Done(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

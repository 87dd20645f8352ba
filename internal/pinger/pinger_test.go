package pinger

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/pingsantohq/reachcheck/internal/probe"
	"github.com/pingsantohq/reachcheck/pkg/types"
)

// scripted answers probes in order; nil entries are replies.
type scripted struct {
	outcomes []error
	requests []probe.Request
}

func (s *scripted) Probe(ctx context.Context, req probe.Request) (time.Duration, error) {
	s.requests = append(s.requests, req)
	err := s.outcomes[len(s.requests)-1]
	if err != nil {
		return 0, err
	}
	return 10 * time.Millisecond, nil
}

type sleepCounter struct {
	calls int
	total time.Duration
}

func (s *sleepCounter) Sleep(d time.Duration) {
	s.calls++
	s.total += d
}

func TestRunCycleClassification(t *testing.T) {
	timeout := probe.ErrTimeout
	resolve := &probe.ResolutionError{Host: "bad.example", Err: errors.New("no such host")}
	cases := []struct {
		name     string
		outcomes []error
		status   types.Status
		sent     int
		received int
		loss     string
		sleeps   int
	}{
		{"all replies", []error{nil, nil, nil, nil, nil}, types.StatusSuccess, 5, 5, "0.00%", 5},
		{"partial loss", []error{nil, timeout, nil, timeout, nil}, types.StatusPartialLoss, 5, 3, "40.00%", 3},
		{"silent host", []error{timeout, timeout, timeout, timeout, timeout}, types.StatusFailed, 5, 0, "100.00%", 0},
		{"send failures count as loss", []error{errors.New("network unreachable"), nil, nil, nil, nil}, types.StatusPartialLoss, 5, 4, "20.00%", 4},
		{"resolution aborts cycle", []error{resolve, nil, nil, nil, nil}, types.StatusError, 1, 0, "100.00%", 0},
		{"resolution after replies", []error{nil, nil, resolve, nil, nil}, types.StatusError, 3, 2, "33.33%", 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prober := &scripted{outcomes: tc.outcomes}
			sleeper := &sleepCounter{}
			p := New(prober, Config{Count: 5, Wait: 200 * time.Millisecond, Timeout: time.Second}, Dependencies{Sleep: sleeper.Sleep})

			res, err := p.RunCycle(context.Background(), "10.1.1.1")
			if err != nil {
				t.Fatalf("RunCycle: %v", err)
			}
			if res.Status != tc.status || res.Sent != tc.sent || res.Received != tc.received {
				t.Fatalf("unexpected result %+v", res)
			}
			if got := types.FormatLoss(res.LossPct); got != tc.loss {
				t.Fatalf("loss %s want %s", got, tc.loss)
			}
			if sleeper.calls != tc.sleeps || sleeper.total != time.Duration(tc.sleeps)*200*time.Millisecond {
				t.Fatalf("expected %d sleeps, got %d (%v)", tc.sleeps, sleeper.calls, sleeper.total)
			}
			if len(res.RTTs) != tc.received {
				t.Fatalf("expected %d rtts, got %d", tc.received, len(res.RTTs))
			}
		})
	}
}

func TestRunCycleSequencesAndTimeout(t *testing.T) {
	prober := &scripted{outcomes: []error{nil, nil, nil}}
	p := New(prober, Config{Count: 3, Timeout: 2 * time.Second}, Dependencies{Sleep: func(time.Duration) {}})
	if _, err := p.RunCycle(context.Background(), "gw"); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	for i, req := range prober.requests {
		if req.Sequence != uint16(i+1) || req.Timeout != 2*time.Second || req.Host != "gw" {
			t.Fatalf("unexpected request %d: %+v", i, req)
		}
	}
}

func TestRunCyclePermissionIsFatal(t *testing.T) {
	perm := &probe.PermissionError{Err: os.ErrPermission}
	prober := &scripted{outcomes: []error{perm, nil, nil, nil, nil}}
	p := New(prober, DefaultConfig(), Dependencies{Sleep: func(time.Duration) {}})

	res, err := p.RunCycle(context.Background(), "10.0.0.9")
	if !probe.IsPermission(err) {
		t.Fatalf("expected PermissionError, got %v", err)
	}
	if res.Status != types.StatusError || len(prober.requests) != 1 {
		t.Fatalf("expected cycle to stop at the first probe, got %+v after %d probes", res, len(prober.requests))
	}
}

func TestRunCycleTimestamp(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	p := New(&scripted{outcomes: []error{nil}}, Config{Count: 1}, Dependencies{
		Now:   func() time.Time { return ts },
		Sleep: func(time.Duration) {},
	})
	res, err := p.RunCycle(context.Background(), "h")
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if !res.Timestamp.Equal(ts) {
		t.Fatalf("unexpected timestamp %v", res.Timestamp)
	}
}

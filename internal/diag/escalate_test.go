package diag

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/pingsantohq/reachcheck/pkg/types"
)

type fakeDiagnoser struct {
	out   Output
	err   error
	calls []string
}

func (f *fakeDiagnoser) Run(ctx context.Context, host string) (Output, error) {
	f.calls = append(f.calls, host)
	return f.out, f.err
}

func (f *fakeDiagnoser) Tool() string { return "mtr" }

type fakeLog struct {
	diagnostics map[string][]string
	failures    []string
}

func (l *fakeLog) AppendDiagnostic(ts time.Time, host, tool string, lines []string) error {
	if l.diagnostics == nil {
		l.diagnostics = make(map[string][]string)
	}
	l.diagnostics[host] = lines
	return nil
}

func (l *fakeLog) AppendFailure(ts time.Time, host, tool string) error {
	l.failures = append(l.failures, host+" "+tool)
	return nil
}

type countingEscalations map[string]int

func (c countingEscalations) ObserveEscalation(outcome string) { c[outcome]++ }

func TestShouldEscalate(t *testing.T) {
	cases := map[types.Status]bool{
		types.StatusSuccess:     false,
		types.StatusPartialLoss: true,
		types.StatusFailed:      true,
		types.StatusError:       true,
	}
	for status, want := range cases {
		if got := ShouldEscalate(types.CycleResult{Status: status}); got != want {
			t.Fatalf("ShouldEscalate(%s)=%v want %v", status, got, want)
		}
	}
}

func TestEscalatorSkipsHealthyCycles(t *testing.T) {
	d := &fakeDiagnoser{}
	e := NewEscalator(d, &fakeLog{}, EscalatorDependencies{})
	if err := e.Handle(context.Background(), types.CycleResult{Host: "10.0.0.1", Status: types.StatusSuccess}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(d.calls) != 0 {
		t.Fatalf("diagnostic ran for a healthy cycle")
	}
}

func TestEscalatorRunsOncePerUnhealthyCycle(t *testing.T) {
	d := &fakeDiagnoser{out: Output{Stdout: "hop 1\nhop 2\n"}}
	log := &fakeLog{}
	counts := countingEscalations{}
	e := NewEscalator(d, log, EscalatorDependencies{Metrics: counts})

	if err := e.Handle(context.Background(), types.CycleResult{Host: "10.0.0.2", Status: types.StatusPartialLoss}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(d.calls) != 1 || d.calls[0] != "10.0.0.2" {
		t.Fatalf("expected one run for 10.0.0.2, got %v", d.calls)
	}
	if lines := log.diagnostics["10.0.0.2"]; len(lines) != 1 || lines[0] != "hop 1\nhop 2" {
		t.Fatalf("unexpected logged lines %q", lines)
	}
	if counts["completed"] != 1 {
		t.Fatalf("unexpected escalation counts %v", counts)
	}
}

func TestEscalatorToolFailure(t *testing.T) {
	d := &fakeDiagnoser{out: Output{ExitCode: 2, Stderr: "boom"}}
	log := &fakeLog{}
	counts := countingEscalations{}
	e := NewEscalator(d, log, EscalatorDependencies{Metrics: counts})

	if err := e.Handle(context.Background(), types.CycleResult{Host: "10.0.0.3", Status: types.StatusFailed}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(log.failures) != 1 || log.failures[0] != "10.0.0.3 mtr" || len(log.diagnostics) != 0 {
		t.Fatalf("expected a failure entry naming the host, got %+v", log)
	}
	if counts["failed"] != 1 {
		t.Fatalf("unexpected escalation counts %v", counts)
	}
}

func TestEscalatorInvocationErrorIsReported(t *testing.T) {
	d := &fakeDiagnoser{err: &InvocationError{Host: "10.0.0.4", Path: "mtr", Err: exec.ErrNotFound}}
	log := &fakeLog{}
	e := NewEscalator(d, log, EscalatorDependencies{})

	err := e.Handle(context.Background(), types.CycleResult{Host: "10.0.0.4", Status: types.StatusError})
	var inv *InvocationError
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvocationError, got %v", err)
	}
	if len(d.calls) != 1 {
		t.Fatalf("invocation must not be retried, ran %d times", len(d.calls))
	}
}

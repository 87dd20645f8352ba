// Package record persists cycle results: the per-run CSV record, the
// diagnostic log, the end-of-run summary and optional external sinks.
package record

import (
	"context"
	"errors"

	"github.com/pingsantohq/reachcheck/pkg/types"
)

// File names inside a run's record directory.
const (
	RecordFile  = "check-ip-record.csv"
	DiagLogFile = "mtr-ip-check.log"
	SummaryFile = "check-ip-sum.csv"
)

// Recorder receives every cycle result once.
type Recorder interface {
	Record(ctx context.Context, res types.CycleResult) error
}

// Multi fans a result out to several recorders. Every recorder sees the
// result even when an earlier one fails; failures are joined.
type Multi struct {
	recorders []Recorder
}

func NewMulti(recorders ...Recorder) Multi {
	return Multi{recorders: recorders}
}

func (m Multi) Record(ctx context.Context, res types.CycleResult) error {
	var errs []error
	for _, rec := range m.recorders {
		if rec == nil {
			continue
		}
		if err := rec.Record(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

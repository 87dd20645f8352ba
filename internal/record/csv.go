package record

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/pingsantohq/reachcheck/pkg/types"
)

var recordHeader = []string{"Time", "IP", "Sent", "Rcvd", "Loss"}

// CSVRecorder appends one row per cycle to the run's record file. Writers
// are serialized so rows from concurrent workers never interleave.
type CSVRecorder struct {
	path string

	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
}

// OpenCSV opens path for appending and writes the header when the file is
// empty.
func OpenCSV(path string) (*CSVRecorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open record file %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat record file %q: %w", path, err)
	}
	r := &CSVRecorder{path: path, file: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := r.write(recordHeader); err != nil {
			f.Close()
			return nil, err
		}
	}
	return r, nil
}

func (r *CSVRecorder) Path() string {
	return r.path
}

func (r *CSVRecorder) Record(ctx context.Context, res types.CycleResult) error {
	row := types.RowFromResult(res)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.write([]string{
		row.Time.Format(types.RecordTimeLayout),
		row.Host,
		strconv.Itoa(row.Sent),
		strconv.Itoa(row.Received),
		row.Loss,
	})
}

func (r *CSVRecorder) write(fields []string) error {
	if err := r.w.Write(fields); err != nil {
		return fmt.Errorf("write record row: %w", err)
	}
	r.w.Flush()
	if err := r.w.Error(); err != nil {
		return fmt.Errorf("flush record file %q: %w", r.path, err)
	}
	return nil
}

func (r *CSVRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.w.Flush()
	return r.file.Close()
}

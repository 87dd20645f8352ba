package record

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pingsantohq/reachcheck/pkg/types"
)

var summaryHeader = []string{"IP", "Sent", "Rcvd", "Loss"}

// Summarize totals rows per host, in order of first appearance.
func Summarize(rows []types.RecordRow) []types.SummaryRow {
	index := make(map[string]int)
	out := make([]types.SummaryRow, 0)
	for _, row := range rows {
		i, ok := index[row.Host]
		if !ok {
			i = len(out)
			index[row.Host] = i
			out = append(out, types.SummaryRow{Host: row.Host})
		}
		out[i].Sent += row.Sent
		out[i].Received += row.Received
	}
	for i := range out {
		out[i].LossPct = types.LossPercent(out[i].Sent, out[i].Received)
	}
	return out
}

// ReadRecords parses a record file written by CSVRecorder.
func ReadRecords(r io.Reader) ([]types.RecordRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(recordHeader)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read record header: %w", err)
	}
	if strings.Join(header, ",") != strings.Join(recordHeader, ",") {
		return nil, fmt.Errorf("unexpected record header %q", strings.Join(header, ","))
	}

	var rows []types.RecordRow
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read record row: %w", err)
		}
		row, err := parseRow(fields)
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("record line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
}

func parseRow(fields []string) (types.RecordRow, error) {
	ts, err := time.ParseInLocation(types.RecordTimeLayout, fields[0], time.Local)
	if err != nil {
		return types.RecordRow{}, fmt.Errorf("parse time: %w", err)
	}
	sent, err := strconv.Atoi(fields[2])
	if err != nil {
		return types.RecordRow{}, fmt.Errorf("parse sent: %w", err)
	}
	received, err := strconv.Atoi(fields[3])
	if err != nil {
		return types.RecordRow{}, fmt.Errorf("parse received: %w", err)
	}
	return types.RecordRow{Time: ts, Host: fields[1], Sent: sent, Received: received, Loss: fields[4]}, nil
}

// WriteSummary renders summary rows as CSV.
func WriteSummary(w io.Writer, rows []types.SummaryRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(summaryHeader); err != nil {
		return err
	}
	for _, row := range rows {
		if err := cw.Write([]string{row.Host, strconv.Itoa(row.Sent), strconv.Itoa(row.Received), row.Loss()}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SummarizeFile reads recordPath and writes its per-host summary to
// summaryPath, replacing any previous summary.
func SummarizeFile(recordPath, summaryPath string) ([]types.SummaryRow, error) {
	in, err := os.Open(recordPath)
	if err != nil {
		return nil, fmt.Errorf("open record file %q: %w", recordPath, err)
	}
	defer in.Close()
	rows, err := ReadRecords(in)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", recordPath, err)
	}
	summary := Summarize(rows)

	tmp := summaryPath + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create summary %q: %w", tmp, err)
	}
	if err := WriteSummary(out, summary); err != nil {
		out.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("write summary %q: %w", tmp, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("close summary %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, summaryPath); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("rename summary into place: %w", err)
	}
	return summary, nil
}

package types

import "time"

// RecordTimeLayout is the timestamp layout of record rows.
const RecordTimeLayout = "2006-01-02 15:04:05.000000"

// RecordRow is one line of the per-run record file.
type RecordRow struct {
	Time     time.Time `json:"time"`
	Host     string    `json:"host"`
	Sent     int       `json:"sent"`
	Received int       `json:"received"`
	Loss     string    `json:"loss"`
}

// RowFromResult converts a cycle result into its record row.
func RowFromResult(res CycleResult) RecordRow {
	return RecordRow{
		Time:     res.Timestamp,
		Host:     res.Host,
		Sent:     res.Sent,
		Received: res.Received,
		Loss:     FormatLoss(res.LossPct),
	}
}

// SummaryRow aggregates every recorded cycle of one host.
type SummaryRow struct {
	Host     string  `json:"host"`
	Sent     int     `json:"sent"`
	Received int     `json:"received"`
	LossPct  float64 `json:"loss_pct"`
}

// Loss renders the summary loss the same way record rows do.
func (s SummaryRow) Loss() string {
	return FormatLoss(s.LossPct)
}

// BatchRun describes one pass of the scheduler over the host list.
type BatchRun struct {
	ID        string    `json:"id"`
	Iteration int       `json:"iteration"`
	Hosts     int       `json:"hosts"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

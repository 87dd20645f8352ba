package types

import (
	"fmt"
	"time"
)

// Status classifies the outcome of one probe cycle against a host.
type Status string

const (
	StatusSuccess     Status = "Success"
	StatusPartialLoss Status = "PartialLoss"
	StatusFailed      Status = "Failed"
	StatusError       Status = "Error"
)

// ProbeOutcome tallies the probes of a single cycle.
type ProbeOutcome struct {
	Sent     int             `json:"sent"`
	Received int             `json:"received"`
	RTTs     []time.Duration `json:"rtts,omitempty"`
}

// CycleResult is produced once per host per batch.
type CycleResult struct {
	Host      string          `json:"host"`
	Status    Status          `json:"status"`
	Sent      int             `json:"sent"`
	Received  int             `json:"received"`
	LossPct   float64         `json:"loss_pct"`
	RTTs      []time.Duration `json:"rtts,omitempty"`
	Timestamp time.Time       `json:"ts"`
	Error     string          `json:"error,omitempty"`
}

// LossPercent is (sent-received)/sent*100, or 0 when nothing was sent.
func LossPercent(sent, received int) float64 {
	if sent <= 0 {
		return 0
	}
	return float64(sent-received) / float64(sent) * 100
}

// FormatLoss renders a loss percentage with two decimals and a percent sign.
func FormatLoss(pct float64) string {
	return fmt.Sprintf("%.2f%%", pct)
}

// ClassifyStatus derives the cycle status from the probe tallies. Resolution
// failures are classified by the caller as StatusError.
func ClassifyStatus(sent, received int) Status {
	switch {
	case received == 0:
		return StatusFailed
	case received == sent:
		return StatusSuccess
	default:
		return StatusPartialLoss
	}
}

// NewCycleResult assembles a result from an outcome.
func NewCycleResult(host string, outcome ProbeOutcome, ts time.Time) CycleResult {
	return CycleResult{
		Host:      host,
		Status:    ClassifyStatus(outcome.Sent, outcome.Received),
		Sent:      outcome.Sent,
		Received:  outcome.Received,
		LossPct:   LossPercent(outcome.Sent, outcome.Received),
		RTTs:      outcome.RTTs,
		Timestamp: ts,
	}
}

// AvgRTT returns the mean round-trip time, or zero without replies.
func (r CycleResult) AvgRTT() time.Duration {
	if len(r.RTTs) == 0 {
		return 0
	}
	var total time.Duration
	for _, rtt := range r.RTTs {
		total += rtt
	}
	return total / time.Duration(len(r.RTTs))
}

package types

import (
	"testing"
	"time"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		sent, received int
		want           Status
	}{
		{5, 5, StatusSuccess},
		{5, 3, StatusPartialLoss},
		{5, 0, StatusFailed},
		{1, 1, StatusSuccess},
	}
	for _, tc := range cases {
		if got := ClassifyStatus(tc.sent, tc.received); got != tc.want {
			t.Fatalf("ClassifyStatus(%d,%d)=%s want %s", tc.sent, tc.received, got, tc.want)
		}
	}
}

func TestLossPercent(t *testing.T) {
	if got := FormatLoss(LossPercent(5, 3)); got != "40.00%" {
		t.Fatalf("unexpected loss %s", got)
	}
	if got := FormatLoss(LossPercent(3, 2)); got != "33.33%" {
		t.Fatalf("unexpected loss %s", got)
	}
	if got := LossPercent(0, 0); got != 0 {
		t.Fatalf("expected zero loss without probes, got %v", got)
	}
}

func TestRowFromResult(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 123456000, time.UTC)
	res := NewCycleResult("10.0.0.1", ProbeOutcome{Sent: 5, Received: 4, RTTs: []time.Duration{time.Millisecond, 3 * time.Millisecond}}, ts)
	row := RowFromResult(res)
	if row.Loss != "20.00%" || row.Host != "10.0.0.1" || row.Sent != 5 || row.Received != 4 {
		t.Fatalf("unexpected row %+v", row)
	}
	if got := row.Time.Format(RecordTimeLayout); got != "2024-03-01 10:00:00.123456" {
		t.Fatalf("unexpected time %s", got)
	}
	if res.AvgRTT() != 2*time.Millisecond {
		t.Fatalf("unexpected avg rtt %v", res.AvgRTT())
	}
}

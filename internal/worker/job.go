package worker

import "time"

// Job is one host's probe cycle within a batch. ScheduledFor is when the
// scheduler created it; the gap to the handler start is admission wait.
type Job struct {
	BatchID      string
	Iteration    int
	Host         string
	ScheduledFor time.Time
}

package health

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pingsantohq/reachcheck/internal/metrics"
	"github.com/pingsantohq/reachcheck/pkg/types"
)

const defaultBatchStale = 5 * time.Minute

const (
	categoryBatchPending    = "BATCH_PENDING"
	categoryBatchStale      = "BATCH_STALE"
	categoryBatchError      = "BATCH_ERROR"
	categoryDiagUnavailable = "DIAG_UNAVAILABLE"
)

const (
	severityInfo     = "info"
	severityWarning  = "warning"
	severityCritical = "critical"
)

// Checker evaluates readiness from the scheduler's batch history.
type Checker struct {
	metrics    *metrics.Store
	staleAfter time.Duration

	mu             sync.RWMutex
	lastBatch      types.BatchRun
	batchErr       string
	lastBatchError time.Time
	diagErr        string
}

// NewChecker constructs a readiness checker bound to the provided metrics store.
func NewChecker(store *metrics.Store, staleAfter time.Duration) *Checker {
	if staleAfter <= 0 {
		staleAfter = defaultBatchStale
	}
	return &Checker{
		metrics:    store,
		staleAfter: staleAfter,
	}
}

// ObserveBatch records a finished batch. It fits scheduler.BatchObserver.
func (c *Checker) ObserveBatch(run types.BatchRun, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.batchErr = err.Error()
		c.lastBatchError = run.EndedAt
		return
	}
	c.lastBatch = run
	c.batchErr = ""
	c.lastBatchError = time.Time{}
}

// SetDiagnosticError records why the diagnostic tool cannot run; nil clears it.
func (c *Checker) SetDiagnosticError(err error) {
	c.mu.Lock()
	if err != nil {
		c.diagErr = err.Error()
	} else {
		c.diagErr = ""
	}
	c.mu.Unlock()
}

// LastBatch returns the most recent successful batch.
func (c *Checker) LastBatch() types.BatchRun {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastBatch
}

// Ready evaluates all readiness conditions and returns the overall status and reasons for failure.
func (c *Checker) Ready(now time.Time) (bool, []string) {
	reasons := make([]string, 0, 3)
	categories := make([]metrics.ReadinessCategory, 0, 3)
	appendCategory := func(name, severity string) {
		categories = append(categories, metrics.ReadinessCategory{
			Name:     name,
			Severity: severity,
		})
	}

	c.mu.RLock()
	lastEnded := c.lastBatch.EndedAt
	batchErr := c.batchErr
	lastErr := c.lastBatchError
	diagErr := c.diagErr
	staleAfter := c.staleAfter
	c.mu.RUnlock()

	if lastEnded.IsZero() {
		reasons = append(reasons, "no batch completed yet")
		appendCategory(categoryBatchPending, severityInfo)
	} else if now.Sub(lastEnded) > staleAfter {
		reasons = append(reasons, fmt.Sprintf("last batch stale (%s)", now.Sub(lastEnded).Round(time.Second)))
		appendCategory(categoryBatchStale, severityWarning)
	}

	if batchErr != "" && now.Sub(lastErr) <= staleAfter {
		reasons = append(reasons, fmt.Sprintf("batch failing: %s", batchErr))
		appendCategory(categoryBatchError, severityCritical)
	}

	ready := len(reasons) == 0

	// A missing diagnostic tool only degrades escalation; it is reported
	// but does not make the process unready.
	if diagErr != "" {
		appendCategory(categoryDiagUnavailable, severityWarning)
	}

	if c.metrics != nil {
		if ready {
			c.metrics.ObserveReadiness(true, "", categories)
		} else {
			c.metrics.ObserveReadiness(false, strings.Join(reasons, "; "), categories)
		}
	}
	if !ready {
		return false, reasons
	}
	return true, nil
}

// Package store keeps cycle results queryable while the run is live: in
// memory by default, or in PostgreSQL when a DSN is configured.
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/pingsantohq/reachcheck/pkg/types"
)

// ErrHostNotFound signals that no cycle has been recorded for a host.
var ErrHostNotFound = errors.New("host not found")

const defaultRecentPerHost = 32

// Store exposes persistence operations required by the monitoring API.
type Store interface {
	Record(ctx context.Context, res types.CycleResult) error
	Summary(ctx context.Context) ([]types.SummaryRow, error)
	HostSummary(ctx context.Context, host string) (types.SummaryRow, error)
	Recent(ctx context.Context, host string, limit int) ([]types.CycleResult, error)
}

type hostEntry struct {
	summary types.SummaryRow
	recent  []types.CycleResult
}

type memoryStore struct {
	mu          sync.RWMutex
	order       []string
	hosts       map[string]*hostEntry
	keepPerHost int
}

// NewMemoryStore keeps running per-host totals and the most recent results.
func NewMemoryStore() Store {
	return &memoryStore{
		hosts:       make(map[string]*hostEntry),
		keepPerHost: defaultRecentPerHost,
	}
}

func (m *memoryStore) Record(ctx context.Context, res types.CycleResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.hosts[res.Host]
	if !ok {
		entry = &hostEntry{summary: types.SummaryRow{Host: res.Host}}
		m.hosts[res.Host] = entry
		m.order = append(m.order, res.Host)
	}
	entry.summary.Sent += res.Sent
	entry.summary.Received += res.Received
	entry.summary.LossPct = types.LossPercent(entry.summary.Sent, entry.summary.Received)
	entry.recent = append(entry.recent, res)
	if len(entry.recent) > m.keepPerHost {
		entry.recent = entry.recent[len(entry.recent)-m.keepPerHost:]
	}
	return nil
}

func (m *memoryStore) Summary(ctx context.Context) ([]types.SummaryRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.SummaryRow, 0, len(m.order))
	for _, host := range m.order {
		out = append(out, m.hosts[host].summary)
	}
	return out, nil
}

func (m *memoryStore) HostSummary(ctx context.Context, host string) (types.SummaryRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.hosts[host]
	if !ok {
		return types.SummaryRow{}, ErrHostNotFound
	}
	return entry.summary, nil
}

// Recent returns up to limit results for host, newest first.
func (m *memoryStore) Recent(ctx context.Context, host string, limit int) ([]types.CycleResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.hosts[host]
	if !ok {
		return nil, ErrHostNotFound
	}
	if limit <= 0 || limit > len(entry.recent) {
		limit = len(entry.recent)
	}
	out := make([]types.CycleResult, 0, limit)
	for i := len(entry.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entry.recent[i])
	}
	return out, nil
}

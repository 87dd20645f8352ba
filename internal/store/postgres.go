package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pingsantohq/reachcheck/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS cycle_results (
    id          BIGSERIAL PRIMARY KEY,
    run_id      TEXT NOT NULL DEFAULT '',
    host        TEXT NOT NULL,
    status      TEXT NOT NULL,
    sent        INTEGER NOT NULL,
    received    INTEGER NOT NULL,
    loss_pct    DOUBLE PRECISION NOT NULL,
    rtt_avg_ms  DOUBLE PRECISION NOT NULL,
    error       TEXT,
    recorded_at TIMESTAMPTZ NOT NULL
);
ALTER TABLE cycle_results ADD COLUMN IF NOT EXISTS run_id TEXT NOT NULL DEFAULT '';
CREATE INDEX IF NOT EXISTS cycle_results_run_host_recorded_at
    ON cycle_results (run_id, host, recorded_at DESC);
`

// PostgresStore implements Store backed by PostgreSQL. The table is shared
// across runs; every row carries the run id and every query is scoped to it.
type PostgresStore struct {
	pool  *pgxpool.Pool
	runID string
}

// NewPostgresStore connects to PostgreSQL using the supplied connection
// string and creates the results table when missing.
func NewPostgresStore(ctx context.Context, connString, runID string) (*PostgresStore, error) {
	if runID == "" {
		return nil, errors.New("postgres store requires a run id")
	}
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	// Verify connection on startup.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure cycle_results schema: %w", err)
	}
	return &PostgresStore{pool: pool, runID: runID}, nil
}

// Close releases database resources.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

func (p *PostgresStore) Record(ctx context.Context, res types.CycleResult) error {
	const query = `
INSERT INTO cycle_results (run_id, host, status, sent, received, loss_pct, rtt_avg_ms, error, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
`
	_, err := p.pool.Exec(ctx, query, p.runID,
		res.Host, string(res.Status), res.Sent, res.Received, res.LossPct,
		float64(res.AvgRTT().Nanoseconds())/1e6, nullString(res.Error), res.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("insert cycle result for %s: %w", res.Host, err)
	}
	return nil
}

func (p *PostgresStore) Summary(ctx context.Context) ([]types.SummaryRow, error) {
	const query = `
SELECT host, SUM(sent)::bigint, SUM(received)::bigint
  FROM cycle_results
 WHERE run_id = $1
 GROUP BY host
 ORDER BY MIN(id);
`
	rows, err := p.pool.Query(ctx, query, p.runID)
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	var out []types.SummaryRow
	for rows.Next() {
		var row types.SummaryRow
		var sent, received int64
		if err := rows.Scan(&row.Host, &sent, &received); err != nil {
			return nil, err
		}
		row.Sent, row.Received = int(sent), int(received)
		row.LossPct = types.LossPercent(row.Sent, row.Received)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (p *PostgresStore) HostSummary(ctx context.Context, host string) (types.SummaryRow, error) {
	const query = `
SELECT COUNT(*), COALESCE(SUM(sent), 0)::bigint, COALESCE(SUM(received), 0)::bigint
  FROM cycle_results
 WHERE run_id = $1 AND host = $2;
`
	var count, sent, received int64
	if err := p.pool.QueryRow(ctx, query, p.runID, host).Scan(&count, &sent, &received); err != nil {
		return types.SummaryRow{}, fmt.Errorf("query summary for %s: %w", host, err)
	}
	if count == 0 {
		return types.SummaryRow{}, ErrHostNotFound
	}
	row := types.SummaryRow{Host: host, Sent: int(sent), Received: int(received)}
	row.LossPct = types.LossPercent(row.Sent, row.Received)
	return row, nil
}

func (p *PostgresStore) Recent(ctx context.Context, host string, limit int) ([]types.CycleResult, error) {
	if limit <= 0 {
		limit = defaultRecentPerHost
	}
	const query = `
SELECT host, status, sent, received, loss_pct, COALESCE(error, ''), recorded_at
  FROM cycle_results
 WHERE run_id = $1 AND host = $2
 ORDER BY recorded_at DESC
 LIMIT $3;
`
	rows, err := p.pool.Query(ctx, query, p.runID, host, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent results for %s: %w", host, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.CycleResult, error) {
		var res types.CycleResult
		var status string
		err := row.Scan(&res.Host, &status, &res.Sent, &res.Received, &res.LossPct, &res.Error, &res.Timestamp)
		res.Status = types.Status(status)
		return res, err
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrHostNotFound
	}
	return out, nil
}

func nullString(val string) any {
	if val == "" {
		return nil
	}
	return val
}

// IsNotFound reports whether err means the host has no results.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrHostNotFound)
}

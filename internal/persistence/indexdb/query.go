package indexdb

import (
	"context"
	"database/sql"
)

// Reader runs queries against an index file, possibly one a live server is
// still writing.
type Reader struct {
	db *sql.DB
}

func OpenReader(path string) (*Reader, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

type Run struct {
	RunID     int64  `json:"run_id"`
	Seed      int64  `json:"seed"`
	Digest    string `json:"digest"`
	StartedAt string `json:"started_at"`
}

type SpawnTotal struct {
	Source    string `json:"source"`
	Archetype string `json:"archetype"`
	Mode      string `json:"mode"`
	Count     int64  `json:"count"`
}

type TimelineRow struct {
	Tick    int64  `json:"tick"`
	RunMs   int64  `json:"run_ms"`
	EventID string `json:"event_id"`
	Kind    string `json:"kind"`
}

// LatestRun returns the most recent run, or sql.ErrNoRows.
func (r *Reader) LatestRun(ctx context.Context) (Run, error) {
	var run Run
	err := r.db.QueryRowContext(ctx, `SELECT run_id,seed,digest,started_at FROM runs ORDER BY run_id DESC LIMIT 1`).
		Scan(&run.RunID, &run.Seed, &run.Digest, &run.StartedAt)
	return run, err
}

// Runs lists runs newest first.
func (r *Reader) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `SELECT run_id,seed,digest,started_at FROM runs ORDER BY run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.RunID, &run.Seed, &run.Digest, &run.StartedAt); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// SpawnTotals sums spawned entities per source, archetype and mode.
func (r *Reader) SpawnTotals(ctx context.Context, runID int64) ([]SpawnTotal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT source, archetype, mode, SUM(count)
		FROM spawns WHERE run_id = ?
		GROUP BY source, archetype, mode
		ORDER BY archetype, mode, source`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SpawnTotal
	for rows.Next() {
		var t SpawnTotal
		if err := rows.Scan(&t.Source, &t.Archetype, &t.Mode, &t.Count); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecentEvents returns the newest timeline transitions first.
func (r *Reader) RecentEvents(ctx context.Context, runID int64, limit int) ([]TimelineRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT tick, run_ms, event_id, kind
		FROM timeline_events WHERE run_id = ?
		ORDER BY tick DESC, seq DESC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TimelineRow
	for rows.Next() {
		var t TimelineRow
		if err := rows.Scan(&t.Tick, &t.RunMs, &t.EventID, &t.Kind); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

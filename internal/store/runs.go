package store

import (
	"context"
	"database/sql"
	"time"
)

// Run is one batch run as recorded in the runs table.
type Run struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	State       string    `json:"state"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
	Planned     int       `json:"planned"`
	Processed   int       `json:"processed"`
	Skipped     int       `json:"skipped"`
	Errored     int       `json:"errored"`
	Unscored    int       `json:"unscored"`
	EngineCalls int64     `json:"engine_calls"`
	Detail      string    `json:"detail,omitempty"`
}

// StartRun records the start of a run.
func (s *Store) StartRun(ctx context.Context, id, source, state string) error {
	return s.withTx(ctx, "start run", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO runs (id, source, state, started_at) VALUES (?, ?, ?, ?)`,
			id, source, state, nowMillis())
		return err
	})
}

// FinishRun stores the final counters and state of r.
func (s *Store) FinishRun(ctx context.Context, r Run) error {
	return s.withTx(ctx, "finish run", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE runs SET state = ?, finished_at = ?, planned = ?, processed = ?, skipped = ?,
				errored = ?, unscored = ?, engine_calls = ?, detail = ?
			WHERE id = ?`,
			r.State, nowMillis(), r.Planned, r.Processed, r.Skipped,
			r.Errored, r.Unscored, r.EngineCalls, r.Detail, r.ID)
		return err
	})
}

// Runs returns the most recent runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []Run
	err := s.retry(ctx, "runs", func() error {
		out = out[:0]
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, source, state, started_at, finished_at, planned, processed, skipped,
				errored, unscored, engine_calls, detail
			FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r Run
			var started int64
			var finished sql.NullInt64
			if err := rows.Scan(&r.ID, &r.Source, &r.State, &started, &finished, &r.Planned,
				&r.Processed, &r.Skipped, &r.Errored, &r.Unscored, &r.EngineCalls, &r.Detail); err != nil {
				return err
			}
			r.StartedAt = fromMillis(started)
			r.FinishedAt = fromMillis(finished.Int64)
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}

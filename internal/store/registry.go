package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/freeeve/chesstactics/internal/game"
)

// Registry statuses.
const (
	StatusComplete  = "complete"
	StatusFailed    = "failed"
	StatusMalformed = "malformed"
)

// IsAnalyzed reports whether gameID has a complete registry entry.
func (s *Store) IsAnalyzed(ctx context.Context, gameID string) (bool, error) {
	var status string
	err := s.retry(ctx, "is analyzed", func() error {
		return s.db.QueryRowContext(ctx, `SELECT status FROM analyzed WHERE game_id = ?`, gameID).Scan(&status)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return status == StatusComplete, nil
}

// Status returns the registry status of gameID, or ErrNotFound.
func (s *Store) Status(ctx context.Context, gameID string) (string, error) {
	var status string
	err := s.retry(ctx, "status", func() error {
		return s.db.QueryRowContext(ctx, `SELECT status FROM analyzed WHERE game_id = ?`, gameID).Scan(&status)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return status, err
}

// MarkAnalyzed records gameID as complete without touching feature rows.
// Use CommitGame to write rows and the entry together.
func (s *Store) MarkAnalyzed(ctx context.Context, gameID, source string) error {
	return s.withTx(ctx, "mark analyzed", func(tx *sql.Tx) error {
		return upsertStatus(ctx, tx, gameID, source, StatusComplete, "", "", true)
	})
}

// MarkFailed records a game whose analysis could not be completed. It never
// downgrades a complete entry, and failed games are picked up again by
// UnanalyzedGameIDs.
func (s *Store) MarkFailed(ctx context.Context, runID, gameID, source, detail string) error {
	return s.withTx(ctx, "mark failed", func(tx *sql.Tx) error {
		return upsertStatus(ctx, tx, gameID, source, StatusFailed, runID, detail, false)
	})
}

// MarkMalformed records a game that cannot be replayed. Malformed games are
// not retried automatically.
func (s *Store) MarkMalformed(ctx context.Context, runID, gameID, source, detail string) error {
	return s.withTx(ctx, "mark malformed", func(tx *sql.Tx) error {
		return upsertStatus(ctx, tx, gameID, source, StatusMalformed, runID, detail, false)
	})
}

func upsertStatus(ctx context.Context, tx *sql.Tx, gameID, source, status, runID, detail string, overwrite bool) error {
	q := `INSERT INTO analyzed (game_id, source, status, run_id, detail, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(game_id) DO UPDATE SET
			source = excluded.source,
			status = excluded.status,
			run_id = excluded.run_id,
			detail = excluded.detail,
			updated_at = excluded.updated_at`
	if !overwrite {
		q += ` WHERE analyzed.status != 'complete'`
	}
	_, err := tx.ExecContext(ctx, q, gameID, source, status, runID, detail, nowMillis())
	return err
}

// CommitGame replaces the feature rows of gameID and marks it complete in a
// single transaction. Either everything lands or nothing does.
func (s *Store) CommitGame(ctx context.Context, runID, source, gameID string, rows []game.FeatureRow) error {
	return s.withTx(ctx, "commit game", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM features WHERE game_id = ?`, gameID); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, insertFeatureSQL)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i := range rows {
			r := rows[i]
			r.GameID, r.Source = gameID, source
			if _, err := stmt.ExecContext(ctx, featureValues(&r)...); err != nil {
				return fmt.Errorf("insert ply %d: %w", r.Ply, err)
			}
		}
		return upsertStatus(ctx, tx, gameID, source, StatusComplete, runID, "", true)
	})
}

// Clear removes the registry entry and feature rows of gameID so it is
// analysed again by the next run.
func (s *Store) Clear(ctx context.Context, gameID string) error {
	return s.withTx(ctx, "clear", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM features WHERE game_id = ?`, gameID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM analyzed WHERE game_id = ?`, gameID)
		return err
	})
}

// Coverage summarizes registry progress for a source.
type Coverage struct {
	Source    string  `json:"source"`
	Total     int     `json:"total_games"`
	Analyzed  int     `json:"analyzed_games"`
	Failed    int     `json:"failed"`
	Malformed int     `json:"malformed"`
	Pct       float64 `json:"pct"`
}

// Coverage returns how much of source has been analysed.
func (s *Store) Coverage(ctx context.Context, source string) (Coverage, error) {
	c := Coverage{Source: source}
	err := s.retry(ctx, "coverage", func() error {
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM games WHERE source = ?`, source).Scan(&c.Total); err != nil {
			return err
		}
		rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM analyzed WHERE source = ? GROUP BY status`, source)
		if err != nil {
			return err
		}
		defer rows.Close()
		c.Analyzed, c.Failed, c.Malformed = 0, 0, 0
		for rows.Next() {
			var status string
			var n int
			if err := rows.Scan(&status, &n); err != nil {
				return err
			}
			switch status {
			case StatusComplete:
				c.Analyzed = n
			case StatusFailed:
				c.Failed = n
			case StatusMalformed:
				c.Malformed = n
			}
		}
		return rows.Err()
	})
	if err != nil {
		return Coverage{}, err
	}
	if c.Total > 0 {
		c.Pct = float64(c.Analyzed) / float64(c.Total) * 100
	}
	return c, nil
}

// UnanalyzedGameIDs returns IDs of games in source with no registry entry or
// a failed one, in import order. limit <= 0 means no limit.
func (s *Store) UnanalyzedGameIDs(ctx context.Context, source string, offset, limit int) ([]string, error) {
	if limit <= 0 {
		limit = -1
	}
	var ids []string
	err := s.retry(ctx, "unanalyzed ids", func() error {
		ids = ids[:0]
		rows, err := s.db.QueryContext(ctx, `
			SELECT g.id FROM games g
			LEFT JOIN analyzed a ON a.game_id = g.id
			WHERE g.source = ? AND (a.status IS NULL OR a.status = ?)
			ORDER BY g.seq
			LIMIT ? OFFSET ?`, source, StatusFailed, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	return ids, err
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/freeeve/chesstactics/internal/game"
)

// PutGames stores games, ignoring IDs that already exist. It returns the
// number of newly inserted games.
func (s *Store) PutGames(ctx context.Context, games []game.Game) (int, error) {
	var inserted int
	err := s.withTx(ctx, "put games", func(tx *sql.Tx) error {
		inserted = 0
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO games
				(id, source, platform, white, black, white_elo, black_elo, time_control, result, start_fen, moves, imported_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := nowMillis()
		for i := range games {
			g := &games[i]
			moves, err := json.Marshal(g.Moves)
			if err != nil {
				return fmt.Errorf("encode moves of %s: %w", g.ID, err)
			}
			res, err := stmt.ExecContext(ctx, g.ID, g.Source, g.Platform, g.White, g.Black,
				g.WhiteElo, g.BlackElo, g.TimeControl, g.Result, g.StartFEN, string(moves), now)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted++
			}
		}
		return nil
	})
	return inserted, err
}

const selectGameSQL = `SELECT id, source, platform, white, black, white_elo, black_elo,
	time_control, result, start_fen, moves FROM games`

func scanGame(sc scanner) (game.Game, error) {
	var g game.Game
	var moves string
	if err := sc.Scan(&g.ID, &g.Source, &g.Platform, &g.White, &g.Black, &g.WhiteElo, &g.BlackElo,
		&g.TimeControl, &g.Result, &g.StartFEN, &moves); err != nil {
		return g, err
	}
	if err := json.Unmarshal([]byte(moves), &g.Moves); err != nil {
		return g, fmt.Errorf("decode moves of %s: %w", g.ID, err)
	}
	return g, nil
}

// Game returns one game by ID, or ErrNotFound.
func (s *Store) Game(ctx context.Context, id string) (game.Game, error) {
	var g game.Game
	err := s.retry(ctx, "game", func() error {
		var err error
		g, err = scanGame(s.db.QueryRowContext(ctx, selectGameSQL+` WHERE id = ?`, id))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return game.Game{}, ErrNotFound
	}
	return g, err
}

// maxIDsPerQuery keeps IN lists well below SQLite's bind variable limit.
const maxIDsPerQuery = 1000

// GamesByID loads the given games in the order of ids. Unknown IDs are
// skipped. Any number of ids may be passed; they are queried in batches.
func (s *Store) GamesByID(ctx context.Context, ids []string) ([]game.Game, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	byID := make(map[string]game.Game, len(ids))
	for start := 0; start < len(ids); start += maxIDsPerQuery {
		batch := ids[start:min(start+maxIDsPerQuery, len(ids))]
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		q := selectGameSQL + ` WHERE id IN (?` + strings.Repeat(", ?", len(batch)-1) + `)`

		err := s.retry(ctx, "games by id", func() error {
			rows, err := s.db.QueryContext(ctx, q, args...)
			if err != nil {
				return err
			}
			defer rows.Close()
			for rows.Next() {
				g, err := scanGame(rows)
				if err != nil {
					return err
				}
				byID[g.ID] = g
			}
			return rows.Err()
		})
		if err != nil {
			return nil, err
		}
	}

	out := make([]game.Game, 0, len(byID))
	for _, id := range ids {
		if g, ok := byID[id]; ok {
			out = append(out, g)
		}
	}
	return out, nil
}

// CountGames returns the number of games stored for source.
func (s *Store) CountGames(ctx context.Context, source string) (int, error) {
	var n int
	err := s.retry(ctx, "count games", func() error {
		return s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM games WHERE source = ?`, source).Scan(&n)
	})
	return n, err
}

// Sources lists the distinct game sources.
func (s *Store) Sources(ctx context.Context) ([]string, error) {
	var out []string
	err := s.retry(ctx, "sources", func() error {
		out = out[:0]
		rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT source FROM games ORDER BY source`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var src string
			if err := rows.Scan(&src); err != nil {
				return err
			}
			out = append(out, src)
		}
		return rows.Err()
	})
	return out, err
}

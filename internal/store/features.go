package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/freeeve/chesstactics/internal/board"
	"github.com/freeeve/chesstactics/internal/game"
)

// featureColumns is the column order shared by inserts, selects and CSV
// export.
var featureColumns = []string{
	"game_id", "ply", "source", "move_number", "side", "move", "san",
	"fen_before", "fen_after", "material_balance", "mobility_white",
	"mobility_black", "branching_factor", "phase", "castling_rights",
	"repetition", "capture", "is_check", "tactic", "skipped", "skip_reason",
	"policy_depth", "policy_lines", "score_before", "score_after",
	"score_diff", "depth_score_diff", "best_move", "error_label",
	"white_rating_std", "black_rating_std", "eco",
}

var (
	insertFeatureSQL = "INSERT INTO features (" + strings.Join(featureColumns, ", ") +
		") VALUES (?" + strings.Repeat(", ?", len(featureColumns)-1) + ")"
	selectFeatureSQL = "SELECT " + strings.Join(featureColumns, ", ") + " FROM features"
)

// FeatureColumns returns the feature table header in export order.
func FeatureColumns() []string {
	out := make([]string, len(featureColumns))
	copy(out, featureColumns)
	return out
}

func featureValues(r *game.FeatureRow) []any {
	return []any{
		r.GameID, r.Ply, r.Source, r.MoveNumber, r.Side, r.Move, r.SAN,
		r.FENBefore, r.FENAfter, r.MaterialBalance, r.MobilityWhite,
		r.MobilityBlack, r.BranchingFactor, string(r.Phase), r.CastlingRights,
		r.Repetition, r.Capture, r.Check, r.Tactic, r.Skipped, r.SkipReason,
		r.PolicyDepth, r.PolicyLines, nullInt(r.ScoreBefore), nullInt(r.ScoreAfter),
		nullInt(r.ScoreDiff), nullInt(r.DepthScoreDiff), r.BestMove, nullLabel(r.ErrorLabel),
		nullFloat(r.WhiteRatingStd), nullFloat(r.BlackRatingStd), r.ECO,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFeature(sc scanner) (game.FeatureRow, error) {
	var (
		r                              game.FeatureRow
		phase                          string
		before, after, diff, depthDiff sql.NullInt64
		label                          sql.NullString
		whiteStd, blackStd             sql.NullFloat64
	)
	err := sc.Scan(
		&r.GameID, &r.Ply, &r.Source, &r.MoveNumber, &r.Side, &r.Move, &r.SAN,
		&r.FENBefore, &r.FENAfter, &r.MaterialBalance, &r.MobilityWhite,
		&r.MobilityBlack, &r.BranchingFactor, &phase, &r.CastlingRights,
		&r.Repetition, &r.Capture, &r.Check, &r.Tactic, &r.Skipped, &r.SkipReason,
		&r.PolicyDepth, &r.PolicyLines, &before, &after,
		&diff, &depthDiff, &r.BestMove, &label,
		&whiteStd, &blackStd, &r.ECO,
	)
	if err != nil {
		return r, err
	}
	r.Phase = board.Phase(phase)
	r.ScoreBefore = intPtr(before)
	r.ScoreAfter = intPtr(after)
	r.ScoreDiff = intPtr(diff)
	r.DepthScoreDiff = intPtr(depthDiff)
	if label.Valid {
		r.ErrorLabel = label.String
	}
	r.WhiteRatingStd = floatPtr(whiteStd)
	r.BlackRatingStd = floatPtr(blackStd)
	return r, nil
}

// Features returns the feature rows of one game ordered by ply.
func (s *Store) Features(ctx context.Context, gameID string) ([]game.FeatureRow, error) {
	return s.queryFeatures(ctx, "features", selectFeatureSQL+` WHERE game_id = ? ORDER BY ply`, gameID)
}

// FeaturesBySource pages through the feature rows of a source.
func (s *Store) FeaturesBySource(ctx context.Context, source string, limit, offset int) ([]game.FeatureRow, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryFeatures(ctx, "features by source",
		selectFeatureSQL+` WHERE source = ? ORDER BY game_id, ply LIMIT ? OFFSET ?`, source, limit, offset)
}

func (s *Store) queryFeatures(ctx context.Context, op, q string, args ...any) ([]game.FeatureRow, error) {
	var out []game.FeatureRow
	err := s.retry(ctx, op, func() error {
		out = out[:0]
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			r, err := scanFeature(rows)
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}

// EachFeature streams every feature row of source (all sources when empty)
// to fn in (game_id, ply) order. Returning an error from fn stops the scan.
func (s *Store) EachFeature(ctx context.Context, source string, fn func(game.FeatureRow) error) error {
	q, args := selectFeatureSQL+` ORDER BY game_id, ply`, []any{}
	if source != "" {
		q, args = selectFeatureSQL+` WHERE source = ? ORDER BY game_id, ply`, []any{source}
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return &Error{Kind: KindFatal, Op: "each feature", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		r, err := scanFeature(rows)
		if err != nil {
			return &Error{Kind: KindFatal, Op: "each feature", Err: err}
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// CountFeatures returns the number of feature rows for gameID.
func (s *Store) CountFeatures(ctx context.Context, gameID string) (int, error) {
	var n int
	err := s.retry(ctx, "count features", func() error {
		return s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM features WHERE game_id = ?`, gameID).Scan(&n)
	})
	return n, err
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullLabel(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// Package game defines imported games and the feature rows derived from them.
package game

import (
	"github.com/freeeve/chesstactics/internal/board"
)

// Move is one half-move of an imported game.
type Move struct {
	UCI string `json:"uci"`
	FEN string `json:"fen"` // position after the move
}

// Game is an imported game. It is immutable once stored.
type Game struct {
	ID          string `json:"id"`
	Source      string `json:"source"`   // dataset name used to select batches
	Platform    string `json:"platform"` // rating pool, e.g. lichess
	White       string `json:"white"`
	Black       string `json:"black"`
	WhiteElo    int    `json:"white_elo"`
	BlackElo    int    `json:"black_elo"`
	TimeControl string `json:"time_control"`
	Result      string `json:"result"`
	StartFEN    string `json:"start_fen,omitempty"` // empty for the standard start
	Moves       []Move `json:"moves"`
}

// UCIMoves returns the move list in UCI notation.
func (g *Game) UCIMoves() []string {
	out := make([]string, len(g.Moves))
	for i, m := range g.Moves {
		out[i] = m.UCI
	}
	return out
}

// FeatureRow is the analysis output for one half-move. Pointer fields are
// nil when the value could not be computed.
type FeatureRow struct {
	board.MoveRecord

	GameID string `json:"game_id"`
	Source string `json:"source"`

	Tactic      string `json:"tactic,omitempty"`
	Skipped     bool   `json:"skipped"`
	SkipReason  string `json:"skip_reason,omitempty"`
	PolicyDepth int    `json:"policy_depth"`
	PolicyLines int    `json:"policy_lines"`

	ScoreBefore    *int   `json:"score_before"`
	ScoreAfter     *int   `json:"score_after"`
	ScoreDiff      *int   `json:"score_diff"`
	DepthScoreDiff *int   `json:"depth_score_diff"`
	BestMove       string `json:"best_move,omitempty"`
	ErrorLabel     string `json:"error_label,omitempty"`

	WhiteRatingStd *float64 `json:"white_rating_std"`
	BlackRatingStd *float64 `json:"black_rating_std"`
	ECO            string   `json:"eco,omitempty"`
}

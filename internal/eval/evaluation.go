package eval

import (
	"fmt"
	"strings"
)

// MateValue is the centipawn magnitude assigned to a mate in zero.
// A mate in N converts to MateValue-N so shorter mates rank higher.
const MateValue = 10000

// Score is an engine score relative to the side to move.
//
// When IsMate is set, Mate > 0 means the side to move mates in Mate moves,
// Mate < 0 means it is mated in -Mate moves, and Mate == 0 means it is
// already checkmated.
type Score struct {
	CP     int  `json:"cp"`
	Mate   int  `json:"mate,omitempty"`
	IsMate bool `json:"is_mate,omitempty"`
}

// CPScore returns a centipawn score.
func CPScore(cp int) Score { return Score{CP: cp} }

// MateScore returns a mate score; n follows the UCI "score mate" sign.
func MateScore(n int) Score { return Score{Mate: n, IsMate: true} }

// Centipawns folds mate scores onto the centipawn axis.
func (s Score) Centipawns() int {
	if !s.IsMate {
		return s.CP
	}
	switch {
	case s.Mate > 0:
		return MateValue - s.Mate
	case s.Mate < 0:
		return -MateValue - s.Mate
	default:
		return -MateValue
	}
}

// Negate returns the score seen from the other side. A checkmated side to
// move becomes a won position worth MateValue for the side that mated.
func (s Score) Negate() Score {
	if s.IsMate {
		if s.Mate == 0 {
			return Score{CP: MateValue}
		}
		return Score{Mate: -s.Mate, IsMate: true}
	}
	return Score{CP: -s.CP}
}

// ForcedWin reports whether the side to move has a forced mate or has
// already delivered one.
func (s Score) ForcedWin() bool {
	if s.IsMate {
		return s.Mate > 0
	}
	return s.CP >= MateValue
}

// ForcedLoss reports whether the side to move is being mated.
func (s Score) ForcedLoss() bool {
	return s.IsMate && s.Mate <= 0
}

func (s Score) String() string {
	if s.IsMate {
		return fmt.Sprintf("#%d", s.Mate)
	}
	return fmt.Sprintf("%+d", s.CP)
}

// Line is one ranked principal variation.
type Line struct {
	Move  string   `json:"move"` // first move in UCI notation
	Score Score    `json:"score"`
	PV    []string `json:"pv,omitempty"`
}

// Evaluation is the result of analysing one position.
// Lines are ordered best first.
type Evaluation struct {
	Depth int    `json:"depth"`
	Lines []Line `json:"lines"`
}

// Best returns the top line. ok is false for an empty evaluation.
func (e Evaluation) Best() (Line, bool) {
	if len(e.Lines) == 0 {
		return Line{}, false
	}
	return e.Lines[0], true
}

// LineFor returns the line that starts with move, if the search produced one.
func (e Evaluation) LineFor(move string) (Line, bool) {
	for _, l := range e.Lines {
		if l.Move == move {
			return l, true
		}
	}
	return Line{}, false
}

// Key identifies a memoized evaluation.
type Key struct {
	FEN   string
	Depth int
	Lines int
}

// NewKey builds a cache key. Move clocks are dropped from the FEN so the same
// position reached at different move numbers shares an entry.
func NewKey(fen string, depth, lines int) Key {
	return Key{FEN: CanonicalFEN(fen), Depth: depth, Lines: lines}
}

// CanonicalFEN keeps placement, side to move, castling and en passant.
func CanonicalFEN(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) > 4 {
		fields = fields[:4]
	}
	return strings.Join(fields, " ")
}

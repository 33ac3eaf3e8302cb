// Package board replays games and derives per-move board features.
package board

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/notnil/chess"
)

// Phase is the game phase a position belongs to.
type Phase string

const (
	PhaseOpening    Phase = "opening"
	PhaseMiddlegame Phase = "middlegame"
	PhaseEndgame    Phase = "endgame"
)

// MoveRecord holds the engine-free features of one half-move.
type MoveRecord struct {
	Ply             int    `json:"ply"` // 0-based index within the game
	MoveNumber      int    `json:"move_number"`
	Side            string `json:"side"` // mover: "white" or "black"
	Move            string `json:"move"` // UCI
	SAN             string `json:"san"`
	FENBefore       string `json:"fen_before"`
	FENAfter        string `json:"fen_after"`
	MaterialBalance int    `json:"material_balance"` // white minus black after the move
	MobilityWhite   int    `json:"mobility_white"`
	MobilityBlack   int    `json:"mobility_black"`
	BranchingFactor int    `json:"branching_factor"` // legal moves before the move
	Phase           Phase  `json:"phase"`
	CastlingRights  string `json:"castling_rights"`
	Repetition      bool   `json:"repetition"`
	Capture         bool   `json:"capture"`
	Check           bool   `json:"check"`
}

// Ply is a replayed half-move with the positions on either side of it.
type Ply struct {
	Record MoveRecord
	Before *chess.Position
	After  *chess.Position
	Move   *chess.Move
}

// ErrorKind classifies replay failures.
type ErrorKind int

const (
	// KindMalformedGame means the start position or a move could not be
	// parsed or is illegal.
	KindMalformedGame ErrorKind = iota + 1
)

// ParseError reports a game that cannot be replayed.
type ParseError struct {
	Kind   ErrorKind
	GameID string
	Ply    int
	Move   string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Move == "" {
		return fmt.Sprintf("malformed game %s: %v", e.GameID, e.Err)
	}
	return fmt.Sprintf("malformed game %s at ply %d (%s): %v", e.GameID, e.Ply, e.Move, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ErrIllegalMove is wrapped by ParseError for moves not legal in the position.
var ErrIllegalMove = errors.New("illegal move")

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// ParsePosition decodes a FEN. An empty string yields the initial position.
func ParsePosition(fen string) (*chess.Position, error) {
	if strings.TrimSpace(fen) == "" {
		fen = StartFEN
	}
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, err
	}
	return chess.NewGame(opt).Position(), nil
}

// DecodeMove returns the legal move in pos matching the UCI string.
func DecodeMove(pos *chess.Position, uci string) (*chess.Move, error) {
	uci = strings.ToLower(strings.TrimSpace(uci))
	for _, m := range pos.ValidMoves() {
		if m.String() == uci {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w %q", ErrIllegalMove, uci)
}

// Replay walks the game from startFEN and returns one Ply per move.
func Replay(gameID, startFEN string, moves []string) ([]Ply, error) {
	pos, err := ParsePosition(startFEN)
	if err != nil {
		return nil, &ParseError{Kind: KindMalformedGame, GameID: gameID, Err: fmt.Errorf("start position: %w", err)}
	}

	moveNumber := fullMoveNumber(pos.String())
	seen := map[string]int{positionKey(pos.String()): 1}
	plies := make([]Ply, 0, len(moves))

	for i, uci := range moves {
		mv, err := DecodeMove(pos, uci)
		if err != nil {
			return nil, &ParseError{Kind: KindMalformedGame, GameID: gameID, Ply: i, Move: uci, Err: err}
		}

		after := pos.Update(mv)
		afterFEN := after.String()
		key := positionKey(afterFEN)
		seen[key]++

		rec := Features(pos, mv, after)
		rec.Ply = i
		rec.MoveNumber = moveNumber
		rec.Repetition = seen[key] > 1

		plies = append(plies, Ply{Record: rec, Before: pos, After: after, Move: mv})

		if pos.Turn() == chess.Black {
			moveNumber++
		}
		pos = after
	}
	return plies, nil
}

// Features computes the position-derived fields of a MoveRecord. Ply,
// MoveNumber and Repetition depend on game history and are left zero.
func Features(before *chess.Position, mv *chess.Move, after *chess.Position) MoveRecord {
	pieces := Pieces(after.Board().SquareMap())
	white, black := Material(pieces)

	side := "white"
	if before.Turn() == chess.Black {
		side = "black"
	}

	return MoveRecord{
		Side:            side,
		Move:            mv.String(),
		SAN:             chess.AlgebraicNotation{}.Encode(before, mv),
		FENBefore:       before.String(),
		FENAfter:        after.String(),
		MaterialBalance: white - black,
		MobilityWhite:   Mobility(pieces, chess.White),
		MobilityBlack:   Mobility(pieces, chess.Black),
		BranchingFactor: len(before.ValidMoves()),
		Phase:           PhaseOf(before),
		CastlingRights:  before.CastleRights().String(),
		Capture:         mv.HasTag(chess.Capture) || mv.HasTag(chess.EnPassant),
		Check:           mv.HasTag(chess.Check),
	}
}

// PhaseOf classifies a position by remaining material. Six or fewer minor
// and major pieces is an endgame; a near-full board with castling rights
// left is still the opening.
func PhaseOf(pos *chess.Position) Phase {
	pieces := pos.Board().SquareMap()
	officers := 0
	for _, p := range pieces {
		if p.Type() != chess.Pawn && p.Type() != chess.King {
			officers++
		}
	}
	switch {
	case officers <= 6:
		return PhaseEndgame
	case len(pieces) >= 28 && pos.CastleRights().String() != "-":
		return PhaseOpening
	default:
		return PhaseMiddlegame
	}
}

// IsTerminal reports whether the side to move has no legal moves, and if
// so whether it is checkmated.
func IsTerminal(pos *chess.Position) (terminal, mated bool) {
	switch pos.Status() {
	case chess.Checkmate:
		return true, true
	case chess.Stalemate:
		return true, false
	}
	return false, false
}

func positionKey(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) > 4 {
		fields = fields[:4]
	}
	return strings.Join(fields, " ")
}

func fullMoveNumber(fen string) int {
	fields := strings.Fields(fen)
	if len(fields) < 6 {
		return 1
	}
	n, err := strconv.Atoi(fields[5])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

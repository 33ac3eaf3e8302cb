package board

import "github.com/notnil/chess"

// Pieces maps occupied squares to their pieces, as returned by
// (*chess.Board).SquareMap.
type Pieces map[chess.Square]chess.Piece

var (
	knightSteps  = [][2]int{{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2}}
	kingSteps    = [][2]int{{1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}, {0, -1}, {1, -1}}
	rookRays     = [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	bishopRays   = [][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
	queenRays    = append(append([][2]int{}, rookRays...), bishopRays...)
	pieceValues  = map[chess.PieceType]int{chess.Pawn: 100, chess.Knight: 300, chess.Bishop: 300, chess.Rook: 500, chess.Queen: 900}
	kingValueCap = 10000
)

// PieceValue returns the static value of a piece type in centipawns.
// The king is priced above everything so it always counts as the most
// valuable target.
func PieceValue(t chess.PieceType) int {
	if t == chess.King {
		return kingValueCap
	}
	return pieceValues[t]
}

// Offset returns the square df files and dr ranks away from sq.
func Offset(sq chess.Square, df, dr int) (chess.Square, bool) {
	f := int(sq)%8 + df
	r := int(sq)/8 + dr
	if f < 0 || f > 7 || r < 0 || r > 7 {
		return chess.NoSquare, false
	}
	return chess.Square(r*8 + f), true
}

// Rays returns the sliding directions for a piece type, or nil for
// non-sliders.
func Rays(t chess.PieceType) [][2]int {
	switch t {
	case chess.Rook:
		return rookRays
	case chess.Bishop:
		return bishopRays
	case chess.Queen:
		return queenRays
	}
	return nil
}

// Attacks returns every square the piece on from attacks, whether empty or
// occupied by either side. Sliders stop at the first blocker.
func Attacks(pieces Pieces, from chess.Square) []chess.Square {
	p, ok := pieces[from]
	if !ok || p == chess.NoPiece {
		return nil
	}

	var out []chess.Square
	step := func(steps [][2]int) {
		for _, d := range steps {
			if sq, ok := Offset(from, d[0], d[1]); ok {
				out = append(out, sq)
			}
		}
	}

	switch p.Type() {
	case chess.Pawn:
		dir := 1
		if p.Color() == chess.Black {
			dir = -1
		}
		step([][2]int{{-1, dir}, {1, dir}})
	case chess.Knight:
		step(knightSteps)
	case chess.King:
		step(kingSteps)
	default:
		for _, d := range Rays(p.Type()) {
			sq := from
			for {
				next, ok := Offset(sq, d[0], d[1])
				if !ok {
					break
				}
				out = append(out, next)
				if _, occupied := pieces[next]; occupied {
					break
				}
				sq = next
			}
		}
	}
	return out
}

// Attackers returns the squares of pieces of color by that attack target.
func Attackers(pieces Pieces, target chess.Square, by chess.Color) []chess.Square {
	var out []chess.Square
	for sq, p := range pieces {
		if p.Color() != by {
			continue
		}
		for _, a := range Attacks(pieces, sq) {
			if a == target {
				out = append(out, sq)
				break
			}
		}
	}
	return out
}

// IsAttacked reports whether any piece of color by attacks sq.
func IsAttacked(pieces Pieces, sq chess.Square, by chess.Color) bool {
	return len(Attackers(pieces, sq, by)) > 0
}

// CheapestAttacker returns the value of the least valuable attacker of sq,
// or 0 when sq is not attacked by color by.
func CheapestAttacker(pieces Pieces, sq chess.Square, by chess.Color) int {
	cheapest := 0
	for _, a := range Attackers(pieces, sq, by) {
		v := PieceValue(pieces[a].Type())
		if cheapest == 0 || v < cheapest {
			cheapest = v
		}
	}
	return cheapest
}

// Material returns the summed piece values for each side, kings excluded.
func Material(pieces Pieces) (white, black int) {
	for _, p := range pieces {
		if p.Type() == chess.King {
			continue
		}
		if p.Color() == chess.White {
			white += PieceValue(p.Type())
		} else {
			black += PieceValue(p.Type())
		}
	}
	return white, black
}

// Mobility counts pseudo-legal destinations for color, ignoring checks,
// castling and en passant.
func Mobility(pieces Pieces, color chess.Color) int {
	n := 0
	for sq, p := range pieces {
		if p.Color() != color {
			continue
		}
		if p.Type() == chess.Pawn {
			n += pawnMoves(pieces, sq, p)
			continue
		}
		for _, a := range Attacks(pieces, sq) {
			if occ, ok := pieces[a]; !ok || occ.Color() != color {
				n++
			}
		}
	}
	return n
}

func pawnMoves(pieces Pieces, sq chess.Square, p chess.Piece) int {
	dir, home := 1, 1
	if p.Color() == chess.Black {
		dir, home = -1, 6
	}
	n := 0
	if one, ok := Offset(sq, 0, dir); ok {
		if _, blocked := pieces[one]; !blocked {
			n++
			if int(sq)/8 == home {
				if two, ok := Offset(sq, 0, 2*dir); ok {
					if _, blocked := pieces[two]; !blocked {
						n++
					}
				}
			}
		}
	}
	for _, a := range Attacks(pieces, sq) {
		if occ, ok := pieces[a]; ok && occ.Color() != p.Color() {
			n++
		}
	}
	return n
}

// KingSquare returns the square of color's king.
func KingSquare(pieces Pieces, color chess.Color) (chess.Square, bool) {
	for sq, p := range pieces {
		if p.Type() == chess.King && p.Color() == color {
			return sq, true
		}
	}
	return chess.NoSquare, false
}

// Package tactics tags moves with the tactical motif they create.
package tactics

import (
	"github.com/notnil/chess"

	"github.com/freeeve/chesstactics/internal/board"
)

// Tag is a tactical motif. The zero value means no motif.
type Tag string

const (
	None      Tag = ""
	Check     Tag = "check"
	Fork      Tag = "fork"
	Pin       Tag = "pin"
	Sacrifice Tag = "sacrifice"
)

// SacrificeThreshold is the static material loss, in centipawns, at which a
// move counts as a sacrifice.
const SacrificeThreshold = 200

// minForkTarget is the smallest undefended piece worth counting as a fork
// target.
const minForkTarget = 300

// Classify returns the primary motif created by playing mv in before.
// When several apply the order is fork, pin, sacrifice, check.
func Classify(before *chess.Position, mv *chess.Move) Tag {
	after := before.Update(mv)
	pieces := board.Pieces(after.Board().SquareMap())
	mover := before.Turn()
	to := mv.S2()

	moved, ok := pieces[to]
	if !ok {
		return None
	}

	switch {
	case isFork(pieces, to, moved, mover):
		return Fork
	case isPin(pieces, to, moved, mover):
		return Pin
	case isSacrifice(before, pieces, mv, moved, mover):
		return Sacrifice
	case mv.HasTag(chess.Check):
		return Check
	}
	return None
}

// isFork reports whether the moved piece attacks two or more targets that
// are the king, worth more than the attacker, or hanging.
func isFork(pieces board.Pieces, from chess.Square, moved chess.Piece, mover chess.Color) bool {
	enemy := mover.Other()
	attackerValue := board.PieceValue(moved.Type())
	if moved.Type() == chess.King {
		attackerValue = 0
	}

	// A fork by a piece that is simply lost is not a fork.
	if moved.Type() != chess.King && board.IsAttacked(pieces, from, enemy) && !board.IsAttacked(pieces, from, mover) {
		checks := false
		for _, sq := range board.Attacks(pieces, from) {
			if p, ok := pieces[sq]; ok && p.Color() == enemy && p.Type() == chess.King {
				checks = true
			}
		}
		if !checks {
			return false
		}
	}

	targets := 0
	for _, sq := range board.Attacks(pieces, from) {
		p, ok := pieces[sq]
		if !ok || p.Color() != enemy {
			continue
		}
		v := board.PieceValue(p.Type())
		switch {
		case p.Type() == chess.King:
			targets++
		case v > attackerValue:
			targets++
		case v >= minForkTarget && !board.IsAttacked(pieces, sq, enemy):
			targets++
		}
	}
	return targets >= 2
}

// isPin reports whether the moved slider pins an enemy piece to its king or
// to a more valuable piece behind it.
func isPin(pieces board.Pieces, from chess.Square, moved chess.Piece, mover chess.Color) bool {
	enemy := mover.Other()
	for _, d := range board.Rays(moved.Type()) {
		var front chess.Piece
		sq := from
		for {
			next, ok := board.Offset(sq, d[0], d[1])
			if !ok {
				break
			}
			sq = next
			p, occupied := pieces[sq]
			if !occupied {
				continue
			}
			if p.Color() != enemy {
				break
			}
			if front == chess.NoPiece {
				if p.Type() == chess.King {
					break
				}
				front = p
				continue
			}
			if p.Type() == chess.King || board.PieceValue(p.Type()) > board.PieceValue(front.Type()) {
				return true
			}
			break
		}
	}
	return false
}

// isSacrifice estimates the static exchange on the destination square.
func isSacrifice(before *chess.Position, pieces board.Pieces, mv *chess.Move, moved chess.Piece, mover chess.Color) bool {
	if moved.Type() == chess.King {
		return false
	}
	enemy := mover.Other()
	to := mv.S2()

	gained := 0
	if mv.HasTag(chess.EnPassant) {
		gained = board.PieceValue(chess.Pawn)
	} else if captured := before.Board().Piece(to); captured != chess.NoPiece {
		gained = board.PieceValue(captured.Type())
	}

	if !board.IsAttacked(pieces, to, enemy) {
		return false
	}
	value := board.PieceValue(moved.Type())
	net := gained - value
	if board.IsAttacked(pieces, to, mover) {
		cheapest := board.CheapestAttacker(pieces, to, enemy)
		if cheapest >= value {
			return false
		}
		net = gained - value + cheapest
	}
	return -net >= SacrificeThreshold
}

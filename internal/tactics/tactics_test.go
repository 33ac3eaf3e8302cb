package tactics

import (
	"testing"

	"github.com/freeeve/chesstactics/internal/board"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		fen  string
		move string
		want Tag
	}{
		{"quiet opening move", board.StartFEN, "e2e4", None},
		{"knight forks king and rook", "r3k3/8/8/1N6/8/8/8/4K3 w - - 0 1", "b5c7", Fork},
		{"bishop pins knight to king", "4k3/8/2n5/8/8/8/8/4KB2 w - - 0 1", "f1b5", Pin},
		{"rook pins knight to queen", "3q3k/8/3n4/8/8/8/8/R5K1 w - - 0 1", "a1d1", Pin},
		{"queen takes defended pawn", "4k3/8/4p3/3p4/8/8/8/3QK3 w - - 0 1", "d1d5", Sacrifice},
		{"plain rook check", "4k3/8/8/8/8/8/8/R3K3 w - - 0 1", "a1a8", Check},
		{"quiet knight move", "4k3/8/4p3/3p4/8/8/2N5/3QK3 w - - 0 1", "c2d4", None},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, err := board.ParsePosition(tt.fen)
			if err != nil {
				t.Fatalf("ParsePosition: %v", err)
			}
			mv, err := board.DecodeMove(pos, tt.move)
			if err != nil {
				t.Fatalf("DecodeMove: %v", err)
			}
			if got := Classify(pos, mv); got != tt.want {
				t.Errorf("Classify(%s) = %q, want %q", tt.move, got, tt.want)
			}
		})
	}
}

func TestClassifyIsPure(t *testing.T) {
	pos, err := board.ParsePosition("r3k3/8/8/1N6/8/8/8/4K3 w - - 0 1")
	if err != nil {
		t.Fatalf("ParsePosition: %v", err)
	}
	fen := pos.String()
	mv, _ := board.DecodeMove(pos, "b5c7")
	first := Classify(pos, mv)
	second := Classify(pos, mv)
	if first != second {
		t.Errorf("Classify not deterministic: %q then %q", first, second)
	}
	if pos.String() != fen {
		t.Error("Classify mutated the position")
	}
}

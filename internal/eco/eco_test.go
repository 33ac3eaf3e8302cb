package eco_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/freeeve/chesstactics/internal/eco"
)

const testTSV = "eco\tname\tpgn\n" +
	"B00\tKing's Pawn Game\t1. e4\n" +
	"C50\tItalian Game\t1. e4 e5 2. Nf3 Nc6 3. Bc4\n" +
	"X99\tBroken\t1. e5\n"

func TestLoadAndLookup(t *testing.T) {
	db := eco.NewDatabase()
	if err := db.LoadReader(strings.NewReader(testTSV)); err != nil {
		t.Fatalf("LoadReader: %v", err)
	}
	if db.Count() != 2 {
		t.Errorf("Count = %d, want 2 (illegal line skipped)", db.Count())
	}

	tests := []struct {
		name string
		fen  string
		want string
	}{
		{"start", "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1", ""},
		{"1. e4", "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1", "B00"},
		{"1. e4 without ep square", "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1", "B00"},
		{"italian", "r1bqkbnr/pppp1ppp/2n5/4p3/2B1P3/5N2/PPPP1PPP/RNBQK2R b KQkq - 3 3", "C50"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := db.LookupFEN(tt.fen)
			got := ""
			if o != nil {
				got = o.ECO
			}
			if got != tt.want {
				t.Errorf("LookupFEN = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadPath(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.tsv"), []byte(testTSV), 0o644); err != nil {
		t.Fatal(err)
	}
	db := eco.NewDatabase()
	if err := db.Load(dir); err != nil {
		t.Fatalf("Load dir: %v", err)
	}
	if db.Count() != 2 {
		t.Errorf("Count = %d, want 2", db.Count())
	}
	if err := eco.NewDatabase().Load(filepath.Join(dir, "missing")); err == nil {
		t.Error("Load of missing path succeeded")
	}

	var nilDB *eco.Database
	if nilDB.LookupFEN("8/8/8/8/8/8/8/8 w - - 0 1") != nil {
		t.Error("nil database returned an opening")
	}
}

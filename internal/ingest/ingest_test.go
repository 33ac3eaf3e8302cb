package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/freeeve/chesstactics/internal/game"
)

type memSink struct {
	mu    sync.Mutex
	games map[string]game.Game
	order []string
}

func (s *memSink) PutGames(_ context.Context, games []game.Game) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.games == nil {
		s.games = make(map[string]game.Game)
	}
	n := 0
	for _, g := range games {
		if _, ok := s.games[g.ID]; ok {
			continue
		}
		s.games[g.ID] = g
		s.order = append(s.order, g.ID)
		n++
	}
	return n, nil
}

const testPGN = `[Event "Rated Blitz game"]
[Site "https://lichess.org/abcd1234"]
[White "alice"]
[Black "bob"]
[Result "1-0"]
[WhiteElo "2100"]
[BlackElo "2050"]
[TimeControl "300+3"]

1. e4 e5 2. Nf3 Nc6 3. Bc4 Bc5 4. O-O Nf6 1-0

[Event "Casual"]
[Site "?"]
[White "carol"]
[Black "dave"]
[Result "0-1"]
[WhiteElo "1200"]
[BlackElo "1300"]

1. d4 d5 0-1

[Event "Casual"]
[Site "?"]
[White "erin"]
[Black "frank"]
[Result "1/2-1/2"]
[WhiteElo "2200"]
[BlackElo "2250"]

1. d4 Nf6 2. c4 e6 1/2-1/2

`

func writePGN(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(testPGN), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestImportFile(t *testing.T) {
	path := writePGN(t, t.TempDir(), "games.pgn")
	sink := &memSink{}
	im, err := New(Config{Source: "test", Platform: "lichess", RatingMin: 2000, Logger: zerolog.Nop()}, sink)
	if err != nil {
		t.Fatal(err)
	}

	st, err := im.ImportFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ImportFile: %v", err)
	}
	if st.Games != 3 || st.Imported != 2 || st.Filtered != 1 {
		t.Errorf("stats = %+v", st)
	}

	g, ok := sink.games["abcd1234"]
	if !ok {
		t.Fatalf("lichess game not stored under site ID, have %v", sink.order)
	}
	want := "e2e4 e7e5 g1f3 b8c6 f1c4 f8c5 e1g1 g8f6"
	if got := strings.Join(g.UCIMoves(), " "); got != want {
		t.Errorf("moves = %q, want %q", got, want)
	}
	if g.WhiteElo != 2100 || g.Source != "test" || g.Platform != "lichess" || g.TimeControl != "300+3" {
		t.Errorf("game = %+v", g)
	}
	if !strings.HasPrefix(g.Moves[0].FEN, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b") {
		t.Errorf("FEN after e4 = %q", g.Moves[0].FEN)
	}

	// Re-importing maps to the same IDs.
	st, err = im.ImportFile(context.Background(), path)
	if err != nil {
		t.Fatalf("second ImportFile: %v", err)
	}
	if st.Imported != 0 || st.Duplicates != 2 {
		t.Errorf("re-import stats = %+v", st)
	}
}

func TestImportDir(t *testing.T) {
	dir := t.TempDir()
	writePGN(t, dir, "a.pgn")
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	processed := filepath.Join(dir, "done")

	sink := &memSink{}
	im, err := New(Config{Source: "test", ProcessedDir: processed, Workers: 2, Logger: zerolog.Nop()}, sink)
	if err != nil {
		t.Fatal(err)
	}
	st, err := im.ImportDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("ImportDir: %v", err)
	}
	if st.Files != 1 || st.Imported != 3 {
		t.Errorf("stats = %+v", st)
	}
	if _, err := os.Stat(filepath.Join(processed, "a.pgn")); err != nil {
		t.Errorf("file not moved: %v", err)
	}
}

func TestGameIDStable(t *testing.T) {
	tags := map[string]string{"White": "a", "Black": "b", "Date": "2024.01.01"}
	moves := []game.Move{{UCI: "e2e4"}}
	id1 := gameID(tags, moves)
	id2 := gameID(tags, moves)
	if id1 != id2 {
		t.Errorf("ids differ: %s vs %s", id1, id2)
	}
	if id3 := gameID(tags, []game.Move{{UCI: "d2d4"}}); id3 == id1 {
		t.Error("different moves produced the same id")
	}
	if got := gameID(map[string]string{"GameId": "xyz"}, nil); got != "xyz" {
		t.Errorf("GameId tag = %s", got)
	}
}

func TestIsPGNFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"a.pgn", true},
		{"a.pgn.zst", true},
		{"a.zst", false},
		{"a.txt", false},
	}
	for _, tt := range tests {
		if got := isPGNFile(tt.name); got != tt.want {
			t.Errorf("isPGNFile(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/chesstactics/internal/board"
	"github.com/freeeve/chesstactics/internal/eco"
	"github.com/freeeve/chesstactics/internal/engine"
	"github.com/freeeve/chesstactics/internal/eval"
	"github.com/freeeve/chesstactics/internal/game"
	"github.com/freeeve/chesstactics/internal/label"
	"github.com/freeeve/chesstactics/internal/policy"
	"github.com/freeeve/chesstactics/internal/rating"
)

// fakeEngine scores positions from a table keyed by canonical FEN and
// falls back to an even score.
type fakeEngine struct {
	scores map[string]eval.Line
	err    error
	calls  []eval.Key
}

func (f *fakeEngine) Evaluate(_ context.Context, fen string, depth, lines int, _ time.Duration) (eval.Evaluation, error) {
	f.calls = append(f.calls, eval.NewKey(fen, depth, lines))
	if f.err != nil {
		return eval.Evaluation{}, f.err
	}
	if l, ok := f.scores[eval.CanonicalFEN(fen)]; ok {
		return eval.Evaluation{Depth: depth, Lines: []eval.Line{l}}, nil
	}
	return eval.Evaluation{Depth: depth, Lines: []eval.Line{{Move: "a2a3", Score: eval.CPScore(0)}}}, nil
}

func testConfig() Config {
	p := policy.Default()
	p.SkipOpeningPlies = 2
	p.ConfidenceDepth = 0
	return Config{Policy: p, Label: label.Default(), Logger: zerolog.Nop()}
}

func testGame(moves ...string) game.Game {
	g := game.Game{ID: "g1", Source: "test", Platform: "lichess", WhiteElo: 1800, BlackElo: 655, TimeControl: "300+0"}
	for _, m := range moves {
		g.Moves = append(g.Moves, game.Move{UCI: m})
	}
	return g
}

func TestAnalyzeGameSkipsAndCaches(t *testing.T) {
	eng := &fakeEngine{}
	a := New(testConfig(), eng, eval.NewCache(100))

	res, err := a.AnalyzeGame(context.Background(), testGame("e2e4", "e7e5", "g1f3", "b8c6"))
	if err != nil {
		t.Fatalf("AnalyzeGame: %v", err)
	}
	if len(res.Rows) != 4 {
		t.Fatalf("rows = %d, want 4", len(res.Rows))
	}
	if res.Skipped != 2 || res.Unscored != 0 {
		t.Errorf("skipped = %d, unscored = %d", res.Skipped, res.Unscored)
	}
	for i, r := range res.Rows[:2] {
		if !r.Skipped || r.SkipReason != policy.ReasonOpening || r.ErrorLabel != string(label.Unknown) {
			t.Errorf("row %d = %+v, want opening skip", i, r)
		}
		if r.ScoreDiff != nil {
			t.Errorf("row %d has a score diff", i)
		}
	}
	for i, r := range res.Rows[2:] {
		if r.Skipped || r.ScoreDiff == nil || r.ErrorLabel != string(label.Good) {
			t.Errorf("row %d = %+v, want scored good move", i+2, r)
		}
		if r.PolicyDepth != 12 || r.PolicyLines != 1 {
			t.Errorf("row %d budget = %d/%d", i+2, r.PolicyDepth, r.PolicyLines)
		}
	}
	// The position after g1f3 is the "after" of ply 2 and the "before" of
	// ply 3, so it is evaluated once.
	if res.EngineCalls != 3 || len(eng.calls) != 3 {
		t.Errorf("engine calls = %d (%d seen), want 3", res.EngineCalls, len(eng.calls))
	}
	if st := a.CacheStats(); st.Hits != 1 {
		t.Errorf("cache hits = %d, want 1", st.Hits)
	}

	// A second pass over the same game is served from the cache.
	res, err = a.AnalyzeGame(context.Background(), testGame("e2e4", "e7e5", "g1f3", "b8c6"))
	if err != nil {
		t.Fatal(err)
	}
	if res.EngineCalls != 0 {
		t.Errorf("second pass engine calls = %d, want 0", res.EngineCalls)
	}
}

func TestAnalyzeGameMateWithoutEngineCall(t *testing.T) {
	start := "6k1/p4ppp/8/8/8/8/5PPP/3R2K1 w - - 0 30"
	eng := &fakeEngine{scores: map[string]eval.Line{
		eval.CanonicalFEN(start): {Move: "d1d8", Score: eval.MateScore(1)},
	}}
	cfg := testConfig()
	cfg.Policy.SkipOpeningPlies = 0
	a := New(cfg, eng, eval.NewCache(100))

	g := testGame("d1d8")
	g.StartFEN = start
	res, err := a.AnalyzeGame(context.Background(), g)
	if err != nil {
		t.Fatalf("AnalyzeGame: %v", err)
	}
	if len(eng.calls) != 1 {
		t.Errorf("engine calls = %d, want 1 (mated position is scored locally)", len(eng.calls))
	}
	r := res.Rows[0]
	if r.Tactic != "check" {
		t.Errorf("tactic = %q, want check", r.Tactic)
	}
	if r.ErrorLabel != string(label.Good) || r.BestMove != "d1d8" {
		t.Errorf("row = label %q best %q, want good d1d8", r.ErrorLabel, r.BestMove)
	}
	if r.ScoreAfter == nil || *r.ScoreAfter != eval.MateValue {
		t.Errorf("score after = %v, want %d", r.ScoreAfter, eval.MateValue)
	}
}

func TestAnalyzeGameEngineFailures(t *testing.T) {
	crash := &engine.Error{Kind: engine.KindCrashed, Attempts: 3, Err: errors.New("broken pipe")}

	t.Run("unscored plies", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxConsecutiveFailures = 100
		a := New(cfg, &fakeEngine{err: crash}, nil)
		res, err := a.AnalyzeGame(context.Background(), testGame("e2e4", "e7e5", "g1f3", "b8c6"))
		if err != nil {
			t.Fatalf("AnalyzeGame: %v", err)
		}
		if res.Unscored != 2 {
			t.Errorf("unscored = %d, want 2", res.Unscored)
		}
		for _, r := range res.Rows[2:] {
			if r.ScoreDiff != nil || r.ErrorLabel != string(label.Unset) {
				t.Errorf("row %d = diff %v label %q, want unset", r.Ply, r.ScoreDiff, r.ErrorLabel)
			}
		}
		if a.ConsecutiveFailures() != 4 {
			t.Errorf("consecutive failures = %d, want 4", a.ConsecutiveFailures())
		}
	})

	t.Run("engine unavailable", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxConsecutiveFailures = 3
		a := New(cfg, &fakeEngine{err: crash}, nil)
		_, err := a.AnalyzeGame(context.Background(), testGame("e2e4", "e7e5", "g1f3", "b8c6"))
		if !errors.Is(err, ErrEngineUnavailable) {
			t.Fatalf("err = %v, want ErrEngineUnavailable", err)
		}
		var eerr *engine.Error
		if !errors.As(err, &eerr) || eerr.Kind != engine.KindCrashed {
			t.Errorf("err = %v, want wrapped crash", err)
		}
	})
}

// Two scored plies make four engine queries; the game is only abandoned
// once the failure count goes past the limit.
func TestAnalyzeGameFailureLimitBoundary(t *testing.T) {
	crash := &engine.Error{Kind: engine.KindCrashed, Attempts: 3, Err: errors.New("broken pipe")}

	tests := []struct {
		name        string
		max         int
		unavailable bool
		calls       int
	}{
		{"limit above failures", 5, false, 4},
		{"limit equal to failures", 4, false, 4},
		{"limit one below", 3, true, 4},
		{"limit two", 2, true, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.MaxConsecutiveFailures = tt.max
			eng := &fakeEngine{err: crash}
			a := New(cfg, eng, nil)
			res, err := a.AnalyzeGame(context.Background(), testGame("e2e4", "e7e5", "g1f3", "b8c6"))
			if got := errors.Is(err, ErrEngineUnavailable); got != tt.unavailable {
				t.Fatalf("err = %v, want unavailable %v", err, tt.unavailable)
			}
			if len(eng.calls) != tt.calls {
				t.Errorf("engine calls = %d, want %d", len(eng.calls), tt.calls)
			}
			if !tt.unavailable && res.Unscored != 2 {
				t.Errorf("unscored = %d, want 2", res.Unscored)
			}
		})
	}
}

func TestAnalyzeGameMalformed(t *testing.T) {
	a := New(testConfig(), &fakeEngine{}, nil)
	_, err := a.AnalyzeGame(context.Background(), testGame("e2e4", "e2e4"))
	var perr *board.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *board.ParseError", err)
	}
	if perr.Ply != 1 || perr.GameID != "g1" {
		t.Errorf("ParseError = %+v", perr)
	}
}

func TestAnalyzeGameCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := New(testConfig(), &fakeEngine{}, nil)
	if _, err := a.AnalyzeGame(ctx, testGame("e2e4")); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestAnalyzeGameRatingsAndECO(t *testing.T) {
	db := eco.NewDatabase()
	if err := db.LoadReader(strings.NewReader("B00\tKing's Pawn Game\t1. e4\n")); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.ECO = db
	cfg.Ratings = rating.New(rating.Default(), zerolog.Nop())
	a := New(cfg, &fakeEngine{}, nil)

	res, err := a.AnalyzeGame(context.Background(), testGame("e2e4", "e7e5"))
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range res.Rows {
		if r.ECO != "B00" {
			t.Errorf("ply %d eco = %q, want B00", r.Ply, r.ECO)
		}
		if r.WhiteRatingStd == nil || *r.WhiteRatingStd != 1800 {
			t.Errorf("white std = %v, want 1800", r.WhiteRatingStd)
		}
		if r.BlackRatingStd == nil || *r.BlackRatingStd != 800 {
			t.Errorf("black std = %v, want clipped 800", r.BlackRatingStd)
		}
	}
}

// Package analysis turns one game into feature rows: replay, classify,
// budget, evaluate and label each ply.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/notnil/chess"
	"github.com/rs/zerolog"

	"github.com/freeeve/chesstactics/internal/board"
	"github.com/freeeve/chesstactics/internal/eco"
	"github.com/freeeve/chesstactics/internal/engine"
	"github.com/freeeve/chesstactics/internal/eval"
	"github.com/freeeve/chesstactics/internal/game"
	"github.com/freeeve/chesstactics/internal/label"
	"github.com/freeeve/chesstactics/internal/policy"
	"github.com/freeeve/chesstactics/internal/rating"
	"github.com/freeeve/chesstactics/internal/tactics"
)

// ErrEngineUnavailable is returned when the engine failed on more
// consecutive queries than Config.MaxConsecutiveFailures.
var ErrEngineUnavailable = errors.New("engine unavailable")

// Engine evaluates positions. *engine.Adapter implements it.
type Engine interface {
	Evaluate(ctx context.Context, fen string, depth, lines int, timeout time.Duration) (eval.Evaluation, error)
}

// Config configures an Analyzer.
type Config struct {
	Policy  policy.Config
	Label   label.Config
	Timeout time.Duration // per engine query, 0 uses the engine default

	// MaxConsecutiveFailures aborts the game once more than this many engine
	// queries in a row have failed. 0 means 5.
	MaxConsecutiveFailures int

	Ratings *rating.Standardizer // optional
	ECO     *eco.Database        // optional
	Logger  zerolog.Logger
}

// Result is the analysis of one game.
type Result struct {
	GameID      string
	Rows        []game.FeatureRow
	Skipped     int   // plies the policy skipped
	Unscored    int   // plies left unscored by engine failures
	EngineCalls int64 // engine queries issued, cache hits excluded
}

// Analyzer is owned by one worker and is not safe for concurrent use.
type Analyzer struct {
	cfg    Config
	engine Engine
	cache  *eval.Cache
	log    zerolog.Logger

	engineCalls         int64
	consecutiveFailures int
}

// New creates an Analyzer that evaluates through cache. A nil cache
// disables memoization.
func New(cfg Config, eng Engine, cache *eval.Cache) *Analyzer {
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 5
	}
	if cache == nil {
		cache = eval.NewCache(0)
	}
	return &Analyzer{cfg: cfg, engine: eng, cache: cache, log: cfg.Logger}
}

// ConsecutiveFailures returns the current run of failed engine queries.
func (a *Analyzer) ConsecutiveFailures() int { return a.consecutiveFailures }

// EngineCalls returns the total engine queries issued by this analyzer.
func (a *Analyzer) EngineCalls() int64 { return a.engineCalls }

// CacheStats returns the statistics of the evaluation cache.
func (a *Analyzer) CacheStats() eval.CacheStats { return a.cache.Stats() }

// Close closes the engine when it owns a process.
func (a *Analyzer) Close() error {
	if c, ok := a.engine.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// AnalyzeGame produces one feature row per ply of g. A game that cannot be
// replayed returns a *board.ParseError. Context cancellation and
// ErrEngineUnavailable abort the game; no partial result is returned.
func (a *Analyzer) AnalyzeGame(ctx context.Context, g game.Game) (Result, error) {
	plies, err := board.Replay(g.ID, g.StartFEN, g.UCIMoves())
	if err != nil {
		return Result{}, err
	}

	res := Result{GameID: g.ID, Rows: make([]game.FeatureRow, 0, len(plies))}
	callsBefore := a.engineCalls
	whiteStd, blackStd := a.ratings(g)
	opening := ""

	for i := range plies {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		p := &plies[i]

		if o := a.cfg.ECO.LookupFEN(p.Record.FENAfter); o != nil {
			opening = o.ECO
		}

		tag := tactics.Classify(p.Before, p.Move)
		d := a.cfg.Policy.Decide(p.Record, tag)

		row := game.FeatureRow{
			MoveRecord:     p.Record,
			GameID:         g.ID,
			Source:         g.Source,
			Tactic:         string(tag),
			Skipped:        d.Skip,
			PolicyDepth:    d.Depth,
			PolicyLines:    d.Lines,
			WhiteRatingStd: whiteStd,
			BlackRatingStd: blackStd,
			ECO:            opening,
		}
		if d.Skip {
			row.SkipReason = d.Reason
			row.ErrorLabel = string(label.Unknown)
			res.Skipped++
			res.Rows = append(res.Rows, row)
			continue
		}

		in := label.Input{Mover: p.Record.Side, Played: p.Record.Move}
		scored := true

		before, err := a.evaluate(ctx, p.Before, d.Depth, d.Lines)
		if err != nil {
			return Result{}, err
		}
		if before == nil {
			scored = false
		}
		in.Before = before

		after, err := a.evaluate(ctx, p.After, d.Depth, 1)
		if err != nil {
			return Result{}, err
		}
		if after == nil {
			scored = false
		}
		in.After = after

		if d.ConfidenceDepth > 0 && after != nil {
			shallow, err := a.evaluate(ctx, p.After, d.ConfidenceDepth, 1)
			if err != nil {
				return Result{}, err
			}
			in.ShallowAfter = shallow
		}

		as := a.cfg.Label.Assess(in)
		row.ScoreBefore = as.ScoreBefore
		row.ScoreAfter = as.ScoreAfter
		row.ScoreDiff = as.ScoreDiff
		row.DepthScoreDiff = as.DepthScoreDiff
		row.BestMove = as.BestMove
		row.ErrorLabel = string(as.Label)
		if !scored {
			res.Unscored++
		}
		res.Rows = append(res.Rows, row)
	}

	res.EngineCalls = a.engineCalls - callsBefore
	return res, nil
}

// evaluate returns nil without an error when the engine gave up on the
// position. Errors are reserved for cancellation and ErrEngineUnavailable.
func (a *Analyzer) evaluate(ctx context.Context, pos *chess.Position, depth, lines int) (*eval.Evaluation, error) {
	if terminal, mated := board.IsTerminal(pos); terminal {
		score := eval.CPScore(0)
		if mated {
			score = eval.MateScore(0)
		}
		return &eval.Evaluation{Lines: []eval.Line{{Score: score}}}, nil
	}

	fen := pos.String()
	ev, err := a.cache.GetOrCompute(ctx, eval.NewKey(fen, depth, lines), func(ctx context.Context) (eval.Evaluation, error) {
		a.engineCalls++
		return a.engine.Evaluate(ctx, fen, depth, lines, a.cfg.Timeout)
	})
	if err == nil {
		a.consecutiveFailures = 0
		return &ev, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	a.consecutiveFailures++
	evt := a.log.Warn().Err(err).Str("fen", fen).Int("depth", depth).Int("consecutive", a.consecutiveFailures)
	var eerr *engine.Error
	if errors.As(err, &eerr) {
		evt = evt.Str("kind", eerr.Kind.String())
	}
	evt.Msg("position left unscored")

	if a.consecutiveFailures > a.cfg.MaxConsecutiveFailures {
		return nil, fmt.Errorf("%w: %d consecutive failures: %w", ErrEngineUnavailable, a.consecutiveFailures, err)
	}
	return nil, nil
}

func (a *Analyzer) ratings(g game.Game) (white, black *float64) {
	if a.cfg.Ratings == nil {
		return nil, nil
	}
	if v, ok := a.cfg.Ratings.Standardize(g.WhiteElo, g.Platform, g.TimeControl); ok {
		white = &v
	}
	if v, ok := a.cfg.Ratings.Standardize(g.BlackElo, g.Platform, g.TimeControl); ok {
		black = &v
	}
	return white, black
}

// Package batch runs analysis over every unanalyzed game of a source with a
// fixed pool of workers, committing each game as it finishes.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/freeeve/chesstactics/internal/analysis"
	"github.com/freeeve/chesstactics/internal/board"
	"github.com/freeeve/chesstactics/internal/game"
	"github.com/freeeve/chesstactics/internal/store"
)

// State is the lifecycle stage of a run.
type State int32

const (
	Idle State = iota
	Planning
	Dispatching
	Aggregating
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Planning:
		return "planning"
	case Dispatching:
		return "dispatching"
	case Aggregating:
		return "aggregating"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText lets State appear by name in JSON and logs.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Store is the persistence the orchestrator needs. *store.Store implements it.
type Store interface {
	UnanalyzedGameIDs(ctx context.Context, source string, offset, limit int) ([]string, error)
	GamesByID(ctx context.Context, ids []string) ([]game.Game, error)
	CommitGame(ctx context.Context, runID, source, gameID string, rows []game.FeatureRow) error
	MarkFailed(ctx context.Context, runID, gameID, source, detail string) error
	MarkMalformed(ctx context.Context, runID, gameID, source, detail string) error
	StartRun(ctx context.Context, id, source, state string) error
	FinishRun(ctx context.Context, r store.Run) error
}

// Worker analyses games one at a time. Close releases its engine process.
// *analysis.Analyzer implements it.
type Worker interface {
	AnalyzeGame(ctx context.Context, g game.Game) (analysis.Result, error)
	Close() error
}

// WorkerFactory creates the worker with the given index. It is called once
// per worker at the start of dispatch.
type WorkerFactory func(id int) (Worker, error)

// Config configures an Orchestrator.
type Config struct {
	Source    string
	Workers   int // default 1
	ChunkSize int // games per chunk, default 10,000
	MaxGames  int // 0 means every unanalyzed game
	Offset    int // unanalyzed games to skip before planning
	Logger    zerolog.Logger
}

// Summary is the outcome of a run.
type Summary struct {
	RunID        string        `json:"run_id"`
	Source       string        `json:"source"`
	State        State         `json:"state"`
	Chunks       int           `json:"chunks"`
	FailedChunks int           `json:"failed_chunks"`
	Planned      int           `json:"planned"`
	Processed    int           `json:"processed"` // committed as complete
	Skipped      int           `json:"skipped"`   // malformed games
	Errored      int           `json:"errored"`   // marked failed, retried next run
	Unscored     int           `json:"unscored"`  // plies without a score
	SkippedPlies int           `json:"skipped_plies"`
	EngineCalls  int64         `json:"engine_calls"`
	Stopped      bool          `json:"stopped"`
	Elapsed      time.Duration `json:"elapsed"`
	Error        string        `json:"error,omitempty"`
}

// Orchestrator drives one run at a time.
type Orchestrator struct {
	cfg     Config
	store   Store
	factory WorkerFactory
	log     zerolog.Logger

	state    atomic.Int32
	stopping atomic.Bool
	running  sync.Mutex
}

// New creates an Orchestrator.
func New(cfg Config, st Store, factory WorkerFactory) (*Orchestrator, error) {
	if cfg.Source == "" {
		return nil, fmt.Errorf("source required")
	}
	if factory == nil {
		return nil, fmt.Errorf("worker factory required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 10_000
	}
	return &Orchestrator{
		cfg:     cfg,
		store:   st,
		factory: factory,
		log:     cfg.Logger.With().Str("component", "batch").Str("source", cfg.Source).Logger(),
	}, nil
}

// State returns the current stage. Safe to call from any goroutine.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
	o.log.Debug().Stringer("state", s).Msg("state change")
}

// Stop asks the current run to halt after each worker commits the game it
// is working on. Chunks not yet started are left for the next run.
func (o *Orchestrator) Stop() {
	if !o.stopping.Swap(true) {
		o.log.Info().Msg("stop requested")
	}
}

type chunk struct {
	index int
	ids   []string
}

type chunkResult struct {
	index        int
	worker       int
	games        int
	processed    int
	skipped      int
	errored      int
	unscored     int
	skippedPlies int
	engineCalls  int64
	aborted      bool
	reason       string
	stopped      bool
}

// Run plans and executes one run. The returned error is non-nil only when
// the run could not be planned or a worker could not start; aborted chunks
// are reported in the Summary with State Failed.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	o.running.Lock()
	defer o.running.Unlock()
	o.stopping.Store(false)

	start := time.Now()
	sum := Summary{RunID: uuid.NewString(), Source: o.cfg.Source}
	log := o.log.With().Str("run_id", sum.RunID).Logger()

	finish := func(state State, err error) (Summary, error) {
		sum.State = state
		sum.Elapsed = time.Since(start)
		if err != nil {
			sum.Error = err.Error()
		}
		o.setState(state)
		rec := store.Run{
			ID:          sum.RunID,
			State:       state.String(),
			Planned:     sum.Planned,
			Processed:   sum.Processed,
			Skipped:     sum.Skipped,
			Errored:     sum.Errored,
			Unscored:    sum.Unscored,
			EngineCalls: sum.EngineCalls,
			Detail:      sum.Error,
		}
		if ferr := o.store.FinishRun(context.WithoutCancel(ctx), rec); ferr != nil {
			log.Warn().Err(ferr).Msg("record run failed")
		}
		log.Info().
			Stringer("state", state).
			Int("chunks", sum.Chunks).
			Int("failed_chunks", sum.FailedChunks).
			Int("planned", sum.Planned).
			Int("processed", sum.Processed).
			Int("skipped", sum.Skipped).
			Int("errored", sum.Errored).
			Int("unscored", sum.Unscored).
			Int64("engine_calls", sum.EngineCalls).
			Bool("stopped", sum.Stopped).
			Dur("elapsed", sum.Elapsed).
			Msg("run complete")
		return sum, err
	}

	o.setState(Planning)
	if err := o.store.StartRun(ctx, sum.RunID, o.cfg.Source, Planning.String()); err != nil {
		o.setState(Failed)
		sum.State, sum.Error = Failed, err.Error()
		return sum, fmt.Errorf("start run: %w", err)
	}
	ids, err := o.store.UnanalyzedGameIDs(ctx, o.cfg.Source, o.cfg.Offset, o.cfg.MaxGames)
	if err != nil {
		return finish(Failed, fmt.Errorf("plan: %w", err))
	}
	chunks := split(ids, o.cfg.ChunkSize)
	sum.Planned, sum.Chunks = len(ids), len(chunks)
	log.Info().Int("games", len(ids)).Int("chunks", len(chunks)).Int("workers", o.cfg.Workers).Msg("run planned")
	if len(chunks) == 0 {
		return finish(Done, nil)
	}

	o.setState(Dispatching)
	work := make(chan chunk)
	results := make(chan chunkResult, o.cfg.Workers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(work)
		for _, c := range chunks {
			if o.stopping.Load() {
				return nil
			}
			select {
			case work <- c:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})
	for i := 0; i < o.cfg.Workers; i++ {
		g.Go(func() error {
			w, err := o.factory(i)
			if err != nil {
				return fmt.Errorf("start worker %d: %w", i, err)
			}
			defer func() {
				if err := w.Close(); err != nil {
					log.Warn().Err(err).Int("worker_id", i).Msg("close worker failed")
				}
			}()
			wlog := log.With().Int("worker_id", i).Logger()
			for c := range work {
				results <- o.runChunk(gctx, wlog, sum.RunID, i, w, c)
			}
			return nil
		})
	}

	var waitErr error
	go func() {
		waitErr = g.Wait()
		close(results)
	}()

	done := 0
	for r := range results {
		done++
		sum.Processed += r.processed
		sum.Skipped += r.skipped
		sum.Errored += r.errored
		sum.Unscored += r.unscored
		sum.SkippedPlies += r.skippedPlies
		sum.EngineCalls += r.engineCalls
		if r.stopped {
			sum.Stopped = true
		}
		evt := log.Info()
		if r.aborted {
			sum.FailedChunks++
			evt = log.Warn().Str("reason", r.reason)
		}
		evt.
			Int("chunk", r.index).
			Int("worker_id", r.worker).
			Int("games", r.games).
			Int("processed", r.processed).
			Int("skipped", r.skipped).
			Int("errored", r.errored).
			Int("unscored", r.unscored).
			Int64("engine_calls", r.engineCalls).
			Bool("aborted", r.aborted).
			Int("chunks_done", done).
			Int("chunks_total", len(chunks)).
			Int("total_processed", sum.Processed).
			Msg("chunk complete")
	}

	o.setState(Aggregating)
	if o.stopping.Load() {
		sum.Stopped = true
	}
	switch {
	case waitErr != nil:
		return finish(Failed, waitErr)
	case ctx.Err() != nil:
		return finish(Failed, ctx.Err())
	case sum.FailedChunks > 0:
		return finish(Failed, nil)
	default:
		return finish(Done, nil)
	}
}

// runChunk analyses the games of c in order, committing each one before
// starting the next.
func (o *Orchestrator) runChunk(ctx context.Context, log zerolog.Logger, runID string, workerID int, w Worker, c chunk) chunkResult {
	res := chunkResult{index: c.index, worker: workerID}
	abort := func(reason string) chunkResult {
		res.aborted, res.reason = true, reason
		return res
	}

	if o.stopping.Load() {
		res.stopped = true
		return res
	}
	games, err := o.store.GamesByID(ctx, c.ids)
	if err != nil {
		return abort(fmt.Sprintf("load games: %v", err))
	}
	res.games = len(games)

	for _, g := range games {
		if o.stopping.Load() {
			res.stopped = true
			return res
		}
		if ctx.Err() != nil {
			return abort("cancelled")
		}

		ar, err := w.AnalyzeGame(ctx, g)
		var perr *board.ParseError
		switch {
		case err == nil:
		case errors.As(err, &perr):
			res.skipped++
			log.Warn().Err(err).Str("game_id", g.ID).Msg("skipping malformed game")
			if merr := o.store.MarkMalformed(ctx, runID, g.ID, o.cfg.Source, err.Error()); merr != nil {
				log.Warn().Err(merr).Str("game_id", g.ID).Msg("record malformed game failed")
			}
			continue
		case ctx.Err() != nil:
			// in-flight game is dropped, it stays unanalyzed
			return abort("cancelled")
		case errors.Is(err, analysis.ErrEngineUnavailable):
			res.errored++
			o.markFailed(ctx, log, runID, g.ID, err)
			return abort(err.Error())
		default:
			res.errored++
			o.markFailed(ctx, log, runID, g.ID, err)
			continue
		}

		if err := o.store.CommitGame(ctx, runID, o.cfg.Source, g.ID, ar.Rows); err != nil {
			res.errored++
			o.markFailed(ctx, log, runID, g.ID, err)
			if store.IsFatal(err) {
				return abort(fmt.Sprintf("commit %s: %v", g.ID, err))
			}
			continue
		}
		res.processed++
		res.unscored += ar.Unscored
		res.skippedPlies += ar.Skipped
		res.engineCalls += ar.EngineCalls
	}
	return res
}

func (o *Orchestrator) markFailed(ctx context.Context, log zerolog.Logger, runID, gameID string, cause error) {
	log.Warn().Err(cause).Str("game_id", gameID).Msg("game failed")
	if err := o.store.MarkFailed(context.WithoutCancel(ctx), runID, gameID, o.cfg.Source, cause.Error()); err != nil {
		log.Warn().Err(err).Str("game_id", gameID).Msg("record failed game failed")
	}
}

func split(ids []string, size int) []chunk {
	var out []chunk
	for i := 0; i < len(ids); i += size {
		end := min(i+size, len(ids))
		out = append(out, chunk{index: len(out), ids: ids[i:end]})
	}
	return out
}

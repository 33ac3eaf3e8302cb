// Command analyze runs the tactical analysis over every unanalyzed game of a
// source and writes the per-move feature table.
//
// Exit status is 0 when the run finishes, 1 when it fails and 2 on a
// configuration error. With a schedule, 1 means at least one run failed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/freeeve/chesstactics/internal/analysis"
	"github.com/freeeve/chesstactics/internal/batch"
	"github.com/freeeve/chesstactics/internal/config"
	"github.com/freeeve/chesstactics/internal/eco"
	"github.com/freeeve/chesstactics/internal/engine"
	"github.com/freeeve/chesstactics/internal/eval"
	"github.com/freeeve/chesstactics/internal/logx"
	"github.com/freeeve/chesstactics/internal/rating"
	"github.com/freeeve/chesstactics/internal/store"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var (
		clearID  string
		coverage bool
	)
	cfg, err := config.Parse("analyze", args, os.LookupEnv, func(fs *flag.FlagSet) {
		fs.StringVar(&clearID, "clear", "", "remove the analysis of one game so it is analyzed again")
		fs.BoolVar(&coverage, "coverage", false, "print the coverage of --source and exit")
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}

	logger := logx.New(logx.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})

	st, err := store.Open(store.Config{Path: cfg.DB, Logger: logger})
	if err != nil {
		logger.Error().Err(err).Str("db", cfg.DB).Msg("open store")
		return exitFailed
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	switch {
	case clearID != "":
		if err := st.Clear(ctx, clearID); err != nil {
			logger.Error().Err(err).Str("game_id", clearID).Msg("clear analysis")
			return exitFailed
		}
		logger.Info().Str("game_id", clearID).Msg("analysis cleared")
		return exitOK
	case coverage:
		cov, err := st.Coverage(ctx, cfg.Source)
		if err != nil {
			logger.Error().Err(err).Msg("coverage")
			return exitFailed
		}
		_ = json.NewEncoder(os.Stdout).Encode(cov)
		return exitOK
	}

	var ecoDB *eco.Database
	if cfg.Ingest.ECOPath != "" {
		ecoDB = eco.NewDatabase()
		if err := ecoDB.Load(cfg.Ingest.ECOPath); err != nil {
			logger.Warn().Err(err).Str("path", cfg.Ingest.ECOPath).Msg("failed to load ECO database")
			ecoDB = nil
		} else {
			logger.Info().Int("positions", ecoDB.Count()).Msg("loaded ECO database")
		}
	}
	ratings := rating.New(cfg.Rating, logger)

	factory := func(id int) (batch.Worker, error) {
		wlog := logger.With().Int("worker_id", id).Logger()
		eng, err := engine.New(engine.Config{
			Path:        cfg.Engine.Path,
			HashMB:      cfg.Engine.HashMB,
			Threads:     cfg.Engine.Threads,
			Nice:        cfg.Engine.Nice,
			Timeout:     cfg.Engine.Timeout,
			MaxRestarts: cfg.Engine.MaxRestarts,
			Logger:      wlog.With().Str("component", "engine").Logger(),
		})
		if err != nil {
			return nil, err
		}
		return analysis.New(analysis.Config{
			Policy:                 cfg.Policy,
			Label:                  cfg.Label,
			Timeout:                cfg.Engine.Timeout,
			MaxConsecutiveFailures: cfg.Batch.MaxConsecutiveCrashes,
			Ratings:                ratings,
			ECO:                    ecoDB,
			Logger:                 wlog.With().Str("component", "analysis").Logger(),
		}, eng, eval.NewCache(cfg.Cache.Capacity)), nil
	}

	orch, err := batch.New(batch.Config{
		Source:    cfg.Source,
		Workers:   cfg.Batch.Workers,
		ChunkSize: cfg.Batch.ChunkSize,
		MaxGames:  cfg.Batch.MaxGames,
		Offset:    cfg.Batch.Offset,
		Logger:    logger,
	}, st, factory)
	if err != nil {
		logger.Error().Err(err).Msg("create orchestrator")
		return exitConfig
	}

	// First signal stops after in-flight games commit, the second cancels.
	schedCtx, stopSchedule := context.WithCancel(ctx)
	defer stopSchedule()
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-sigs:
			logger.Info().Msg("interrupted, finishing in-flight games (signal again to abort)")
			orch.Stop()
			stopSchedule()
		case <-ctx.Done():
			return
		}
		select {
		case <-sigs:
			logger.Warn().Msg("aborting")
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info().
		Str("source", cfg.Source).
		Str("db", cfg.DB).
		Str("engine", cfg.Engine.Path).
		Int("workers", cfg.Batch.Workers).
		Int("chunk_size", cfg.Batch.ChunkSize).
		Int("max_games", cfg.Batch.MaxGames).
		Int("offset", cfg.Batch.Offset).
		Msg("starting analysis")

	if cfg.Batch.Schedule != "" {
		var runs runTracker
		err := batch.Schedule(schedCtx, cfg.Batch.Schedule, logger, func(context.Context) {
			runs.record(runOnce(ctx, logger, orch, st, cfg.Source))
		})
		if err != nil {
			logger.Error().Err(err).Msg("schedule")
			return exitConfig
		}
		if runs.failed() > 0 {
			logger.Warn().Int64("runs", runs.total()).Int64("failed", runs.failed()).Msg("scheduled runs failed")
		}
		return runs.exitCode()
	}
	return runOnce(ctx, logger, orch, st, cfg.Source)
}

// runTracker collects the exit codes of scheduled runs.
type runTracker struct {
	runs     atomic.Int64
	failures atomic.Int64
}

func (t *runTracker) record(code int) {
	t.runs.Add(1)
	if code != exitOK {
		t.failures.Add(1)
	}
}

func (t *runTracker) total() int64  { return t.runs.Load() }
func (t *runTracker) failed() int64 { return t.failures.Load() }

// exitCode is exitFailed when any run failed.
func (t *runTracker) exitCode() int {
	if t.failed() > 0 {
		return exitFailed
	}
	return exitOK
}

func runOnce(ctx context.Context, logger zerolog.Logger, orch *batch.Orchestrator, st *store.Store, source string) int {
	sum, err := orch.Run(ctx)
	if err != nil {
		logger.Error().Err(err).Str("run_id", sum.RunID).Msg("run failed")
	}
	if cov, err := st.Coverage(context.WithoutCancel(ctx), source); err == nil {
		logger.Info().
			Int("total", cov.Total).
			Int("analyzed", cov.Analyzed).
			Int("failed", cov.Failed).
			Int("malformed", cov.Malformed).
			Float64("pct", cov.Pct).
			Msg("coverage")
	}
	if sum.State != batch.Done {
		return exitFailed
	}
	return exitOK
}

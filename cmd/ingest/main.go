package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/freeeve/chesstactics/internal/config"
	"github.com/freeeve/chesstactics/internal/ingest"
	"github.com/freeeve/chesstactics/internal/logx"
	"github.com/freeeve/chesstactics/internal/store"
)

func main() {
	var (
		inputPath    string
		inputDir     string
		processedDir string
	)
	cfg, err := config.Parse("ingest", os.Args[1:], os.LookupEnv, func(fs *flag.FlagSet) {
		fs.StringVar(&inputPath, "pgn", "", "Path to PGN file (supports .zst)")
		fs.StringVar(&inputDir, "dir", "", "Directory of PGN files to import")
		fs.StringVar(&processedDir, "processed-dir", "", "Move imported files from -dir here")
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if (inputPath == "") == (inputDir == "") {
		fmt.Fprintln(os.Stderr, "Usage: ingest --source <name> (--pgn <file.pgn[.zst]> | --dir <dir>) [options]")
		os.Exit(2)
	}

	logger := logx.New(logx.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	logger.Info().
		Str("pgn", inputPath).
		Str("dir", inputDir).
		Str("db", cfg.DB).
		Str("source", cfg.Source).
		Int("rating_min", cfg.Ingest.MinRating).
		Msg("starting ingest")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(store.Config{Path: cfg.DB, Logger: logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()

	im, err := ingest.New(ingest.Config{
		Source:       cfg.Source,
		Platform:     cfg.Ingest.Platform,
		RatingMin:    cfg.Ingest.MinRating,
		BatchSize:    cfg.Ingest.BatchSize,
		Workers:      cfg.Batch.Workers,
		ProcessedDir: processedDir,
		Logger:       logger,
	}, st)
	if err != nil {
		logger.Fatal().Err(err).Msg("create importer")
	}

	startTime := time.Now()
	var stats ingest.Stats
	if inputDir != "" {
		stats, err = im.ImportDir(ctx, inputDir)
	} else {
		stats, err = im.ImportFile(ctx, inputPath)
	}

	total, _ := st.CountGames(context.WithoutCancel(ctx), cfg.Source)
	evt := logger.Info()
	if err != nil {
		evt = logger.Error().Err(err)
	}
	evt.
		Int64("files", stats.Files).
		Int64("games", stats.Games).
		Int64("imported", stats.Imported).
		Int64("duplicates", stats.Duplicates).
		Int64("filtered", stats.Filtered).
		Int64("malformed", stats.Malformed).
		Int("source_total", total).
		Dur("elapsed", time.Since(startTime)).
		Msg("ingest complete")
	if err != nil {
		st.Close()
		os.Exit(1)
	}
}

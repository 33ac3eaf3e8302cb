package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/chesstactics/internal/config"
	"github.com/freeeve/chesstactics/internal/httpapi"
	"github.com/freeeve/chesstactics/internal/ingest"
	"github.com/freeeve/chesstactics/internal/logx"
	"github.com/freeeve/chesstactics/internal/store"
)

func main() {
	var (
		ingestDir      string
		ingestInterval time.Duration
	)
	cfg, err := config.Parse("api", os.Args[1:], os.LookupEnv, func(fs *flag.FlagSet) {
		fs.StringVar(&ingestDir, "ingest-dir", "", "Directory to watch for PGN files (empty = disabled)")
		fs.DurationVar(&ingestInterval, "ingest-interval", time.Minute, "How often to scan -ingest-dir")
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := logx.New(logx.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})

	st, err := store.Open(store.Config{Path: cfg.DB, Logger: logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()
	logger.Info().Str("db", cfg.DB).Msg("opened store")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      httpapi.NewRouter(logger, st),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("api server")
		}
	}()

	if ingestDir != "" {
		im, err := ingest.New(ingest.Config{
			Source:       cfg.Source,
			Platform:     cfg.Ingest.Platform,
			RatingMin:    cfg.Ingest.MinRating,
			BatchSize:    cfg.Ingest.BatchSize,
			ProcessedDir: filepath.Join(ingestDir, "processed"),
			Logger:       logger,
		}, st)
		if err != nil {
			logger.Fatal().Err(err).Msg("create importer")
		}
		go watchDir(ctx, logger, im, ingestDir, ingestInterval)
		logger.Info().Str("watch_dir", ingestDir).Dur("interval", ingestInterval).Msg("started ingest watcher")
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown error")
	}
	logger.Info().Msg("shutdown complete")
}

// watchDir imports new PGN files from dir until ctx is done.
func watchDir(ctx context.Context, logger zerolog.Logger, im *ingest.Importer, dir string, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		stats, err := im.ImportDir(ctx, dir)
		if err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Str("dir", dir).Msg("ingest failed")
		} else if stats.Files > 0 {
			logger.Info().Int64("files", stats.Files).Int64("imported", stats.Imported).Msg("ingested new files")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/freeeve/chesstactics/internal/config"
	"github.com/freeeve/chesstactics/internal/store"
)

func main() {
	var (
		outputPath string
		allSources bool
	)
	cfg, err := config.Parse("export-features", os.Args[1:], os.LookupEnv, func(fs *flag.FlagSet) {
		fs.StringVar(&outputPath, "output", "features.csv", "Output CSV file (.zst to compress, - for stdout)")
		fs.BoolVar(&allSources, "all", false, "Export every source instead of -source")
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	source := cfg.Source
	if allSources {
		source = ""
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(store.Config{Path: cfg.DB})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	start := time.Now()
	n, err := export(ctx, st, outputPath, source)
	if err != nil {
		fmt.Fprintf(os.Stderr, "export: %v\n", err)
		st.Close()
		os.Exit(1)
	}
	if outputPath != "-" {
		fmt.Printf("Done! Exported %d feature rows to %s in %s\n", n, outputPath, time.Since(start).Round(time.Millisecond))
	}
}

type featureExporter interface {
	ExportFeatures(ctx context.Context, w io.Writer, source string) (int, error)
}

// export writes the feature CSV to path, closing the encoder, buffer and
// file in order. Any close error is returned when the export succeeded.
func export(ctx context.Context, st featureExporter, path, source string) (n int, err error) {
	var out io.Writer = os.Stdout
	if path != "-" {
		f, cerr := os.Create(path)
		if cerr != nil {
			return 0, fmt.Errorf("create output file: %w", cerr)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("close output file: %w", cerr)
			}
		}()
		out = f
	}

	bw := bufio.NewWriterSize(out, 1<<20)
	defer func() {
		if ferr := bw.Flush(); ferr != nil && err == nil {
			err = fmt.Errorf("flush output: %w", ferr)
		}
	}()

	var w io.Writer = bw
	if strings.HasSuffix(path, ".zst") {
		enc, zerr := zstd.NewWriter(bw, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zerr != nil {
			return 0, fmt.Errorf("create zstd encoder: %w", zerr)
		}
		defer func() {
			if cerr := enc.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("close zstd encoder: %w", cerr)
			}
		}()
		w = enc
	}

	return st.ExportFeatures(ctx, w, source)
}

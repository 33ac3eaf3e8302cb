package logx

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Options controls logger construction.
type Options struct {
	Level string    // zerolog level name; empty means info
	JSON  bool      // emit JSON lines instead of console output
	Out   io.Writer // defaults to os.Stdout
}

// NewLogger returns a zerolog logger configured for console output.
func NewLogger() zerolog.Logger {
	return New(Options{})
}

// New returns a logger honoring opts. Console output is the default; JSON is
// meant for batch runs whose progress lines are scraped by other tools.
func New(opts Options) zerolog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	zerolog.CallerMarshalFunc = shortCaller

	var w io.Writer = out
	if !opts.JSON {
		w = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	level := zerolog.InfoLevel
	if opts.Level != "" {
		if l, err := zerolog.ParseLevel(opts.Level); err == nil {
			level = l
		}
	}

	return zerolog.New(w).Level(level).With().Timestamp().Caller().Logger()
}

func shortCaller(pc uintptr, file string, line int) string {
	// Extract just the filename, not the full path
	short := file
	for i := len(file) - 1; i > 0; i-- {
		if file[i] == '/' {
			short = file[i+1:]
			break
		}
	}
	// Pad to 28 characters for alignment
	return fmt.Sprintf("%-28s", fmt.Sprintf("%s:%d", short, line))
}

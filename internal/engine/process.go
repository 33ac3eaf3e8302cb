package engine

import (
	"fmt"

	"github.com/freeeve/uci"
	"github.com/rs/zerolog"
)

// RawLine is one "info" result as reported by the engine.
type RawLine struct {
	MultiPV int
	Depth   int
	Score   int // centipawns, or mate distance when Mate is set
	Mate    bool
	PV      []string
}

// Process is a running UCI engine. Implementations need not be safe for
// concurrent use; the Adapter serializes access.
type Process interface {
	SetMultiPV(lines int) error
	Search(fen string, depth int) ([]RawLine, error)
	Close()
}

// Launcher starts a fresh engine process.
type Launcher func() (Process, error)

type uciProcess struct {
	engine  *uci.Engine
	hashMB  int
	threads int
}

// UCILauncher returns a Launcher that starts the engine binary at path.
func UCILauncher(path string, hashMB, threads, nice int, log zerolog.Logger) Launcher {
	return func() (Process, error) {
		e, err := uci.NewEngine(path)
		if err != nil {
			return nil, fmt.Errorf("create engine: %w", err)
		}
		p := &uciProcess{engine: e, hashMB: hashMB, threads: threads}
		if err := p.SetMultiPV(1); err != nil {
			e.Close()
			return nil, err
		}

		// Set nice value after options so the engine is initialized
		if nice > 0 {
			if nice > 19 {
				log.Warn().Int("requested", nice).Int("clamped", 19).Msg("nice value clamped to max 19")
				nice = 19
			}
			if err := e.SetNice(nice); err != nil {
				log.Warn().Err(err).Int("nice", nice).Msg("failed to set nice value")
			}
		}
		return p, nil
	}
}

func (p *uciProcess) SetMultiPV(lines int) error {
	opts := uci.Options{
		Hash:    p.hashMB,
		Threads: p.threads,
		MultiPV: lines,
		Ponder:  false,
		OwnBook: false,
	}
	if err := p.engine.SetOptions(opts); err != nil {
		return fmt.Errorf("set options: %w", err)
	}
	return nil
}

func (p *uciProcess) Search(fen string, depth int) ([]RawLine, error) {
	if err := p.engine.SetFEN(fen); err != nil {
		return nil, fmt.Errorf("set FEN: %w", err)
	}
	results, err := p.engine.GoDepth(depth, uci.HighestDepthOnly)
	if err != nil {
		return nil, fmt.Errorf("go depth %d: %w", depth, err)
	}
	out := make([]RawLine, 0, len(results.Results))
	for _, r := range results.Results {
		out = append(out, RawLine{
			MultiPV: r.MultiPV,
			Depth:   r.Depth,
			Score:   r.Score,
			Mate:    r.Mate,
			PV:      r.BestMoves,
		})
	}
	return out, nil
}

func (p *uciProcess) Close() {
	p.engine.Close()
}

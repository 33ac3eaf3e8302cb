// Package engine drives an external UCI engine with per-query timeouts and
// bounded automatic restarts.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/chesstactics/internal/eval"
)

// Config configures an Adapter.
type Config struct {
	Path        string         // engine binary, used when Launcher is nil
	HashMB      int            // hash table size per process
	Threads     int            // search threads per process
	Nice        int            // nice value for the process (0 = disabled)
	Timeout     time.Duration  // default per-query timeout
	MaxRestarts int            // restarts allowed per query before giving up; 0 disables
	Logger      zerolog.Logger // Logger
	Launcher    Launcher       // overrides Path, mainly for tests
}

// Adapter owns one engine process. It is not shared between workers.
type Adapter struct {
	cfg Config
	log zerolog.Logger

	mu      sync.Mutex
	proc    Process
	multiPV int
	closed  bool

	// Stats
	evaluations int64
	restarts    int64
	failures    int64
}

// New starts the engine process.
func New(cfg Config) (*Adapter, error) {
	if cfg.Launcher == nil {
		if cfg.Path == "" {
			return nil, fmt.Errorf("engine path required")
		}
		if cfg.HashMB == 0 {
			cfg.HashMB = 256
		}
		if cfg.Threads == 0 {
			cfg.Threads = 1
		}
		cfg.Launcher = UCILauncher(cfg.Path, cfg.HashMB, cfg.Threads, cfg.Nice, cfg.Logger)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRestarts < 0 {
		cfg.MaxRestarts = 0
	}

	a := &Adapter{cfg: cfg, log: cfg.Logger}
	if err := a.launch(); err != nil {
		return nil, err
	}
	a.log.Debug().Str("path", cfg.Path).Int("threads", cfg.Threads).Int("hash_mb", cfg.HashMB).Msg("engine started")
	return a, nil
}

// Evaluate analyses fen to depth, returning up to lines principal variations.
// A timeout of zero uses the configured default. When the engine hangs or
// dies the process is replaced and the query retried; once MaxRestarts is
// spent an *Error is returned.
func (a *Adapter) Evaluate(ctx context.Context, fen string, depth, lines int, timeout time.Duration) (eval.Evaluation, error) {
	if lines < 1 {
		lines = 1
	}
	if timeout <= 0 {
		timeout = a.cfg.Timeout
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return eval.Evaluation{}, ErrClosed
	}

	attempts := 0
	var lastErr error
	for attempts <= a.cfg.MaxRestarts {
		if err := ctx.Err(); err != nil {
			return eval.Evaluation{}, err
		}
		if a.proc == nil {
			if attempts > 0 {
				atomic.AddInt64(&a.restarts, 1)
			}
			if err := a.launch(); err != nil {
				attempts++
				lastErr = err
				a.log.Warn().Err(err).Int("attempt", attempts).Msg("engine relaunch failed")
				continue
			}
		}

		attempts++
		ev, err := a.search(ctx, fen, depth, lines, timeout)
		if err == nil {
			atomic.AddInt64(&a.evaluations, 1)
			return ev, nil
		}
		if ctx.Err() != nil {
			return eval.Evaluation{}, ctx.Err()
		}

		lastErr = err
		a.log.Warn().Err(err).Str("fen", fen).Int("depth", depth).Int("attempt", attempts).Msg("engine query failed, restarting")
		a.discard()
	}

	atomic.AddInt64(&a.failures, 1)
	return eval.Evaluation{}, &Error{Kind: kindOf(lastErr), FEN: fen, Attempts: attempts, Err: lastErr}
}

// search runs one query against the current process.
func (a *Adapter) search(ctx context.Context, fen string, depth, lines int, timeout time.Duration) (eval.Evaluation, error) {
	proc := a.proc
	if a.multiPV != lines {
		if err := proc.SetMultiPV(lines); err != nil {
			return eval.Evaluation{}, err
		}
		a.multiPV = lines
	}

	type result struct {
		lines []RawLine
		err   error
	}
	done := make(chan result, 1)
	go func() {
		raw, err := proc.Search(fen, depth)
		done <- result{lines: raw, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			return eval.Evaluation{}, r.err
		}
		return toEvaluation(r.lines, lines)
	case <-timer.C:
		return eval.Evaluation{}, fmt.Errorf("%w after %s", errSearchTimeout, timeout)
	case <-ctx.Done():
		// The search goroutine still holds the process.
		a.discard()
		return eval.Evaluation{}, ctx.Err()
	}
}

func (a *Adapter) launch() error {
	proc, err := a.cfg.Launcher()
	if err != nil {
		return err
	}
	a.proc = proc
	a.multiPV = 1
	return nil
}

// discard drops the current process. Close runs in the background because a
// hung engine may not answer quit promptly.
func (a *Adapter) discard() {
	if a.proc == nil {
		return
	}
	go a.proc.Close()
	a.proc = nil
	a.multiPV = 0
}

// Close terminates the engine process. It is safe to call more than once.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if a.proc != nil {
		a.proc.Close()
		a.proc = nil
	}
	return nil
}

// Stats holds adapter counters.
type Stats struct {
	Evaluations int64 `json:"evaluations"`
	Restarts    int64 `json:"restarts"`
	Failures    int64 `json:"failures"`
}

// Stats returns current adapter statistics.
func (a *Adapter) Stats() Stats {
	return Stats{
		Evaluations: atomic.LoadInt64(&a.evaluations),
		Restarts:    atomic.LoadInt64(&a.restarts),
		Failures:    atomic.LoadInt64(&a.failures),
	}
}

// toEvaluation keeps the deepest result per MultiPV rank, best rank first.
func toEvaluation(raw []RawLine, maxLines int) (eval.Evaluation, error) {
	if len(raw) == 0 {
		return eval.Evaluation{}, errEmptyResult
	}

	byRank := make(map[int]RawLine, maxLines)
	for _, r := range raw {
		rank := r.MultiPV
		if rank == 0 {
			rank = 1
		}
		if cur, ok := byRank[rank]; !ok || r.Depth >= cur.Depth {
			byRank[rank] = r
		}
	}

	ranks := make([]int, 0, len(byRank))
	for rank := range byRank {
		ranks = append(ranks, rank)
	}
	sort.Ints(ranks)
	if len(ranks) > maxLines {
		ranks = ranks[:maxLines]
	}

	ev := eval.Evaluation{Lines: make([]eval.Line, 0, len(ranks))}
	for _, rank := range ranks {
		r := byRank[rank]
		if r.Depth > ev.Depth {
			ev.Depth = r.Depth
		}
		score := eval.CPScore(r.Score)
		if r.Mate {
			score = eval.MateScore(r.Score)
		}
		line := eval.Line{Score: score, PV: r.PV}
		if len(r.PV) > 0 {
			line.Move = r.PV[0]
		}
		ev.Lines = append(ev.Lines, line)
	}
	return ev, nil
}

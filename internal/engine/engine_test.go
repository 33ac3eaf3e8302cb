package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// fakeProcess replays scripted behaviour, one step per Search call.
type fakeProcess struct {
	mu      sync.Mutex
	steps   []step
	multiPV []int
	closed  chan struct{}
	once    sync.Once
}

type step struct {
	lines []RawLine
	err   error
	hang  bool
}

func (p *fakeProcess) SetMultiPV(lines int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.multiPV = append(p.multiPV, lines)
	return nil
}

func (p *fakeProcess) Search(fen string, depth int) ([]RawLine, error) {
	p.mu.Lock()
	if len(p.steps) == 0 {
		p.mu.Unlock()
		return []RawLine{{MultiPV: 1, Depth: depth, Score: 20, PV: []string{"e2e4"}}}, nil
	}
	s := p.steps[0]
	p.steps = p.steps[1:]
	p.mu.Unlock()

	if s.hang {
		<-p.closed
		return nil, errors.New("process killed")
	}
	return s.lines, s.err
}

func (p *fakeProcess) Close() {
	p.once.Do(func() { close(p.closed) })
}

// fakeLauncher hands out one fakeProcess per launch, each with its own script.
type fakeLauncher struct {
	mu       sync.Mutex
	scripts  [][]step
	launched []*fakeProcess
}

func (l *fakeLauncher) launch() (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := &fakeProcess{closed: make(chan struct{})}
	if len(l.scripts) > 0 {
		p.steps = l.scripts[0]
		l.scripts = l.scripts[1:]
	}
	l.launched = append(l.launched, p)
	return p, nil
}

func newTestAdapter(t *testing.T, l *fakeLauncher, timeout time.Duration) *Adapter {
	t.Helper()
	a, err := New(Config{
		Timeout:     timeout,
		MaxRestarts: 2,
		Logger:      zerolog.Nop(),
		Launcher:    l.launch,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestEvaluateMultiPV(t *testing.T) {
	l := &fakeLauncher{scripts: [][]step{{
		{lines: []RawLine{
			{MultiPV: 2, Depth: 11, Score: 5, PV: []string{"d2d4"}},
			{MultiPV: 1, Depth: 12, Score: 30, PV: []string{"e2e4", "e7e5"}},
			{MultiPV: 2, Depth: 12, Score: 10, PV: []string{"d2d4", "d7d5"}},
			{MultiPV: 3, Depth: 12, Score: 0, PV: []string{"c2c4"}},
		}},
	}}}
	a := newTestAdapter(t, l, time.Second)

	ev, err := a.Evaluate(context.Background(), startFEN, 12, 2, 0)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev.Depth != 12 {
		t.Errorf("Depth = %d, want 12", ev.Depth)
	}
	if len(ev.Lines) != 2 {
		t.Fatalf("len(Lines) = %d, want 2", len(ev.Lines))
	}
	if ev.Lines[0].Move != "e2e4" || ev.Lines[0].Score.CP != 30 {
		t.Errorf("best line = %+v", ev.Lines[0])
	}
	if ev.Lines[1].Move != "d2d4" || ev.Lines[1].Score.CP != 10 {
		t.Errorf("second line = %+v, want deepest d2d4", ev.Lines[1])
	}

	proc := l.launched[0]
	if len(proc.multiPV) != 1 || proc.multiPV[0] != 2 {
		t.Errorf("SetMultiPV calls = %v, want [2]", proc.multiPV)
	}

	// Same line count does not reconfigure the engine.
	if _, err := a.Evaluate(context.Background(), startFEN, 12, 2, 0); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(proc.multiPV) != 1 {
		t.Errorf("SetMultiPV called again for unchanged line count: %v", proc.multiPV)
	}
}

func TestEvaluateMateScore(t *testing.T) {
	l := &fakeLauncher{scripts: [][]step{{
		{lines: []RawLine{{MultiPV: 1, Depth: 8, Score: 2, Mate: true, PV: []string{"d1h5"}}}},
	}}}
	a := newTestAdapter(t, l, time.Second)

	ev, err := a.Evaluate(context.Background(), startFEN, 8, 1, 0)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	best, _ := ev.Best()
	if !best.Score.IsMate || best.Score.Mate != 2 {
		t.Errorf("score = %+v, want mate in 2", best.Score)
	}
}

func TestEvaluateRestartsAfterCrash(t *testing.T) {
	l := &fakeLauncher{scripts: [][]step{
		{{err: errors.New("broken pipe")}},
		{},
	}}
	a := newTestAdapter(t, l, time.Second)

	ev, err := a.Evaluate(context.Background(), startFEN, 10, 1, 0)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if best, _ := ev.Best(); best.Move != "e2e4" {
		t.Errorf("best move = %q, want e2e4", best.Move)
	}
	if got := len(l.launched); got != 2 {
		t.Errorf("launched %d processes, want 2", got)
	}
	if s := a.Stats(); s.Restarts != 1 || s.Evaluations != 1 || s.Failures != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestEvaluateEmptyResultIsCrash(t *testing.T) {
	l := &fakeLauncher{scripts: [][]step{{{}}, {{}}, {{}}}}
	a := newTestAdapter(t, l, time.Second)

	_, err := a.Evaluate(context.Background(), startFEN, 10, 1, 0)
	var eerr *Error
	if !errors.As(err, &eerr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if eerr.Kind != KindCrashed {
		t.Errorf("Kind = %v, want crashed", eerr.Kind)
	}
	if eerr.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", eerr.Attempts)
	}
	if !errors.Is(err, errEmptyResult) {
		t.Errorf("err does not wrap errEmptyResult: %v", err)
	}
}

func TestEvaluateMaxRestarts(t *testing.T) {
	crash := []step{{err: errors.New("broken pipe")}}
	tests := []struct {
		name        string
		maxRestarts int
		attempts    int
		restarts    int64
	}{
		{"zero disables restarts", 0, 1, 0},
		{"negative treated as zero", -1, 1, 0},
		{"one restart", 1, 2, 1},
		{"two restarts", 2, 3, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &fakeLauncher{scripts: [][]step{crash, crash, crash, crash}}
			a, err := New(Config{
				Timeout:     time.Second,
				MaxRestarts: tt.maxRestarts,
				Logger:      zerolog.Nop(),
				Launcher:    l.launch,
			})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			t.Cleanup(func() { _ = a.Close() })

			_, err = a.Evaluate(context.Background(), startFEN, 10, 1, 0)
			var eerr *Error
			if !errors.As(err, &eerr) {
				t.Fatalf("err = %v, want *Error", err)
			}
			if eerr.Attempts != tt.attempts {
				t.Errorf("Attempts = %d, want %d", eerr.Attempts, tt.attempts)
			}
			if got := len(l.launched); got != tt.attempts {
				t.Errorf("launched %d processes, want %d", got, tt.attempts)
			}
			if s := a.Stats(); s.Restarts != tt.restarts || s.Failures != 1 {
				t.Errorf("stats = %+v, want %d restarts 1 failure", s, tt.restarts)
			}
		})
	}
}

func TestEvaluateTimeoutExhaustsRestarts(t *testing.T) {
	hang := []step{{hang: true}}
	l := &fakeLauncher{scripts: [][]step{hang, hang, hang}}
	a := newTestAdapter(t, l, 20*time.Millisecond)

	start := time.Now()
	_, err := a.Evaluate(context.Background(), startFEN, 30, 1, 0)
	var eerr *Error
	if !errors.As(err, &eerr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if eerr.Kind != KindTimeout {
		t.Errorf("Kind = %v, want timeout", eerr.Kind)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Evaluate took %s, timeouts not enforced", elapsed)
	}
	if got := len(l.launched); got != 3 {
		t.Errorf("launched %d processes, want 3", got)
	}
	if a.Stats().Failures != 1 {
		t.Errorf("Failures = %d, want 1", a.Stats().Failures)
	}

	// The adapter recovers for the next query.
	if _, err := a.Evaluate(context.Background(), startFEN, 10, 1, time.Second); err != nil {
		t.Errorf("Evaluate after exhaustion: %v", err)
	}
}

func TestEvaluateContextCancelled(t *testing.T) {
	l := &fakeLauncher{scripts: [][]step{{{hang: true}}}}
	a := newTestAdapter(t, l, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := a.Evaluate(ctx, startFEN, 30, 1, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	var eerr *Error
	if errors.As(err, &eerr) {
		t.Errorf("cancellation reported as engine failure: %v", err)
	}
}

func TestClose(t *testing.T) {
	l := &fakeLauncher{}
	a := newTestAdapter(t, l, time.Second)
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	select {
	case <-l.launched[0].closed:
	default:
		t.Error("process not closed")
	}
	if _, err := a.Evaluate(context.Background(), startFEN, 10, 1, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("Evaluate after Close = %v, want ErrClosed", err)
	}
}

func TestNewRequiresPath(t *testing.T) {
	if _, err := New(Config{Logger: zerolog.Nop()}); err == nil {
		t.Error("New without path or launcher should fail")
	}
}

// Package policy decides how much engine effort each move deserves.
package policy

import (
	"github.com/freeeve/chesstactics/internal/board"
	"github.com/freeeve/chesstactics/internal/tactics"
)

// Skip and depth reasons reported in Decision.Reason.
const (
	ReasonOpening      = "opening"
	ReasonTactic       = "tactic"
	ReasonLowBranching = "low-branching"
	ReasonPhase        = "phase"
)

// Config holds the policy thresholds. The zero value is not useful; start
// from Default.
type Config struct {
	SkipOpeningPlies int  `yaml:"skip_opening_plies"` // plies before this index are skipped
	MinBranching     int  `yaml:"min_branching"`      // below this a move is near-forced
	SkipLowBranching bool `yaml:"skip_low_branching"` // skip near-forced moves instead of a shallow search

	ShallowDepth    int `yaml:"shallow_depth"`
	TaggedDepth     int `yaml:"tagged_depth"` // fixed single-line depth for tagged moves
	OpeningDepth    int `yaml:"opening_depth"`
	MiddlegameDepth int `yaml:"middlegame_depth"`
	EndgameDepth    int `yaml:"endgame_depth"`

	DefaultLines     int `yaml:"default_lines"`
	ComplexLines     int `yaml:"complex_lines"`
	ComplexBranching int `yaml:"complex_branching"` // at or above this, request ComplexLines

	ConfidenceDepth int `yaml:"confidence_depth"` // shallow re-check depth, 0 disables

	MinDepth int `yaml:"min_depth"`
	MaxDepth int `yaml:"max_depth"`
	MaxLines int `yaml:"max_lines"`
}

// Default returns the stock policy.
func Default() Config {
	return Config{
		SkipOpeningPlies: 8,
		MinBranching:     3,
		SkipLowBranching: false,
		ShallowDepth:     8,
		TaggedDepth:      8,
		OpeningDepth:     12,
		MiddlegameDepth:  14,
		EndgameDepth:     16,
		DefaultLines:     1,
		ComplexLines:     3,
		ComplexBranching: 35,
		ConfidenceDepth:  6,
		MinDepth:         1,
		MaxDepth:         40,
		MaxLines:         5,
	}
}

// Decision is the analysis budget for one move.
type Decision struct {
	Skip            bool
	Reason          string
	Depth           int
	Lines           int
	ConfidenceDepth int // 0 when no shallow re-check is wanted
}

// Decide returns the analysis budget for the move described by rec.
// It has no side effects.
func (c Config) Decide(rec board.MoveRecord, tag tactics.Tag) Decision {
	if rec.Ply < c.SkipOpeningPlies {
		return Decision{Skip: true, Reason: ReasonOpening}
	}

	var d Decision
	switch {
	case tag != tactics.None:
		d = Decision{Reason: ReasonTactic, Depth: c.TaggedDepth, Lines: 1}
	case rec.BranchingFactor < c.MinBranching:
		if c.SkipLowBranching {
			return Decision{Skip: true, Reason: ReasonLowBranching}
		}
		d = Decision{Reason: ReasonLowBranching, Depth: c.ShallowDepth, Lines: 1}
	default:
		d = Decision{Reason: ReasonPhase, Depth: c.phaseDepth(rec.Phase), Lines: c.DefaultLines}
		if c.ComplexBranching > 0 && rec.BranchingFactor >= c.ComplexBranching {
			d.Lines = c.ComplexLines
		}
	}

	d.Depth = clamp(d.Depth, c.MinDepth, c.MaxDepth)
	d.Lines = clamp(d.Lines, 1, c.MaxLines)
	// the tag already carries the signal, so tagged moves get no re-check
	if d.Reason != ReasonTactic && c.ConfidenceDepth > 0 && c.ConfidenceDepth < d.Depth {
		d.ConfidenceDepth = c.ConfidenceDepth
	}
	return d
}

func (c Config) phaseDepth(p board.Phase) int {
	switch p {
	case board.PhaseOpening:
		return c.OpeningDepth
	case board.PhaseEndgame:
		return c.EndgameDepth
	default:
		return c.MiddlegameDepth
	}
}

func clamp(v, lo, hi int) int {
	if hi > 0 && v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}

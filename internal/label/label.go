// Package label turns engine evaluations into score differences and error
// labels for each move.
package label

import (
	"github.com/freeeve/chesstactics/internal/eval"
)

// Label is the error classification of a move.
type Label string

const (
	Unset      Label = "" // engine failure: no evaluation to judge by
	Good       Label = "good"
	Inaccuracy Label = "inaccuracy"
	Mistake    Label = "mistake"
	Blunder    Label = "blunder"
	Unknown    Label = "unknown" // analysis skipped by policy
)

// Sides of the board as used in move records.
const (
	White = "white"
	Black = "black"
)

// Thresholds are inclusive upper bounds of centipawn loss per label.
// Anything above Mistake is a blunder.
type Thresholds struct {
	Good       int `yaml:"good"`
	Inaccuracy int `yaml:"inaccuracy"`
	Mistake    int `yaml:"mistake"`
}

// DefaultThresholds returns 50/150/500.
func DefaultThresholds() Thresholds {
	return Thresholds{Good: 50, Inaccuracy: 150, Mistake: 500}
}

// Classify labels a centipawn loss. Negative losses count as zero.
func (t Thresholds) Classify(loss int) Label {
	switch {
	case loss <= t.Good:
		return Good
	case loss <= t.Inaccuracy:
		return Inaccuracy
	case loss <= t.Mistake:
		return Mistake
	default:
		return Blunder
	}
}

// Config configures assessment.
type Config struct {
	Thresholds Thresholds `yaml:"thresholds"`
	// CompareToBest measures the played move against the best line of the
	// same multi-line search when that search also scored the played move.
	CompareToBest bool `yaml:"compare_to_best"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{Thresholds: DefaultThresholds(), CompareToBest: true}
}

// Input describes one played move and the evaluations around it.
// Before is scored for the mover, After and ShallowAfter for the opponent.
type Input struct {
	Mover        string
	Played       string // UCI
	Before       *eval.Evaluation
	After        *eval.Evaluation
	ShallowAfter *eval.Evaluation
}

// Assessment is the labelled outcome for one move. ScoreBefore, ScoreAfter
// and DepthScoreDiff are from white's point of view; ScoreDiff is from the
// mover's, so positive always means the move helped the side that played it.
type Assessment struct {
	ScoreBefore    *int
	ScoreAfter     *int
	ScoreDiff      *int
	DepthScoreDiff *int
	BestMove       string
	ComparedToBest bool
	Label          Label
}

// Perspective converts a score relative to sideToMove into one relative to
// viewer.
func Perspective(s eval.Score, sideToMove, viewer string) eval.Score {
	if sideToMove == viewer {
		return s
	}
	return s.Negate()
}

// Assess computes the score difference and label for in. Missing
// evaluations leave the score fields nil and the label unset.
func (c Config) Assess(in Input) Assessment {
	var out Assessment
	opponent := other(in.Mover)

	var before, after eval.Line
	haveBefore, haveAfter := false, false
	if in.Before != nil {
		before, haveBefore = in.Before.Best()
	}
	if in.After != nil {
		after, haveAfter = in.After.Best()
	}

	if haveBefore {
		out.BestMove = before.Move
		out.ScoreBefore = intPtr(Perspective(before.Score, in.Mover, White).Centipawns())
	}
	if haveAfter {
		out.ScoreAfter = intPtr(Perspective(after.Score, opponent, White).Centipawns())
		if in.ShallowAfter != nil {
			if shallow, ok := in.ShallowAfter.Best(); ok {
				diff := *out.ScoreAfter - Perspective(shallow.Score, opponent, White).Centipawns()
				out.DepthScoreDiff = &diff
			}
		}
	}
	if !haveBefore || !haveAfter {
		return out
	}

	sb := before.Score
	sa := Perspective(after.Score, opponent, in.Mover)
	if c.CompareToBest && len(in.Before.Lines) > 1 {
		if played, ok := in.Before.LineFor(in.Played); ok {
			sa = played.Score
			out.ComparedToBest = true
		}
	}

	diff := sa.Centipawns() - sb.Centipawns()
	out.ScoreDiff = &diff

	switch {
	case sb.ForcedWin() && !sa.ForcedWin():
		out.Label = Blunder
	case sa.ForcedLoss() && !sb.ForcedLoss():
		out.Label = Blunder
	default:
		out.Label = c.Thresholds.Classify(-diff)
	}
	return out
}

func other(side string) string {
	if side == White {
		return Black
	}
	return White
}

func intPtr(v int) *int { return &v }

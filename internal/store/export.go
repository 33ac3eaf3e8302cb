package store

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/freeeve/chesstactics/internal/game"
)

// ExportFeatures writes the feature rows of source (all sources when empty)
// to w as CSV with a header row. Missing values are written as empty cells.
// It returns the number of rows written.
func (s *Store) ExportFeatures(ctx context.Context, w io.Writer, source string) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(featureColumns); err != nil {
		return 0, err
	}

	var n int
	err := s.EachFeature(ctx, source, func(r game.FeatureRow) error {
		n++
		return cw.Write(featureRecord(&r))
	})
	if err != nil {
		return n, err
	}
	cw.Flush()
	return n, cw.Error()
}

func featureRecord(r *game.FeatureRow) []string {
	return []string{
		r.GameID, strconv.Itoa(r.Ply), r.Source, strconv.Itoa(r.MoveNumber), r.Side, r.Move, r.SAN,
		r.FENBefore, r.FENAfter, strconv.Itoa(r.MaterialBalance), strconv.Itoa(r.MobilityWhite),
		strconv.Itoa(r.MobilityBlack), strconv.Itoa(r.BranchingFactor), string(r.Phase), r.CastlingRights,
		boolCell(r.Repetition), boolCell(r.Capture), boolCell(r.Check), r.Tactic, boolCell(r.Skipped), r.SkipReason,
		strconv.Itoa(r.PolicyDepth), strconv.Itoa(r.PolicyLines), intCell(r.ScoreBefore), intCell(r.ScoreAfter),
		intCell(r.ScoreDiff), intCell(r.DepthScoreDiff), r.BestMove, r.ErrorLabel,
		floatCell(r.WhiteRatingStd), floatCell(r.BlackRatingStd), r.ECO,
	}
}

func boolCell(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func intCell(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

func floatCell(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}

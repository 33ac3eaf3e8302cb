// Package ingest imports PGN files into the games table.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/freeeve/pgn/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/freeeve/chesstactics/internal/game"
)

// gameNamespace seeds UUIDv5 game IDs for PGNs without a site ID.
var gameNamespace = uuid.MustParse("3b0c8c52-5f6e-4a53-9d0b-6c1c2f1c9e47")

// Sink receives imported games. *store.Store implements it.
type Sink interface {
	PutGames(ctx context.Context, games []game.Game) (int, error)
}

// Config configures an Importer.
type Config struct {
	Source       string         // dataset name stamped on every game
	Platform     string         // rating pool, e.g. lichess
	RatingMin    int            // both players must be at least this (0 = no filter)
	BatchSize    int            // games per insert transaction
	Workers      int            // files imported in parallel by ImportDir
	ProcessedDir string         // ImportDir moves finished files here when set
	Logger       zerolog.Logger // Logger
}

// Stats counts what an import did.
type Stats struct {
	Files      int64 `json:"files"`
	Games      int64 `json:"games"`      // games read from PGN
	Imported   int64 `json:"imported"`   // newly stored
	Duplicates int64 `json:"duplicates"` // already stored
	Filtered   int64 `json:"filtered"`   // below the rating floor
	Malformed  int64 `json:"malformed"`  // could not be replayed
}

func (s *Stats) add(o *Stats) {
	atomic.AddInt64(&s.Files, o.Files)
	atomic.AddInt64(&s.Games, o.Games)
	atomic.AddInt64(&s.Imported, o.Imported)
	atomic.AddInt64(&s.Duplicates, o.Duplicates)
	atomic.AddInt64(&s.Filtered, o.Filtered)
	atomic.AddInt64(&s.Malformed, o.Malformed)
}

// Importer reads PGN files and stores their games.
type Importer struct {
	cfg  Config
	sink Sink
	log  zerolog.Logger
}

// New creates an Importer.
func New(cfg Config, sink Sink) (*Importer, error) {
	if cfg.Source == "" {
		return nil, fmt.Errorf("source required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Importer{
		cfg:  cfg,
		sink: sink,
		log:  cfg.Logger.With().Str("component", "ingest").Str("source", cfg.Source).Logger(),
	}, nil
}

// ImportDir imports every .pgn and .pgn.zst file in dir, in name order.
func (im *Importer) ImportDir(ctx context.Context, dir string) (Stats, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Stats{}, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && isPGNFile(e.Name()) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return Stats{}, nil
	}
	if im.cfg.ProcessedDir != "" {
		if err := os.MkdirAll(im.cfg.ProcessedDir, 0755); err != nil {
			return Stats{}, err
		}
	}

	im.log.Info().Int("files", len(files)).Int("workers", im.cfg.Workers).Msg("found PGN files to import")

	var total Stats
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.cfg.Workers)
	for _, name := range files {
		g.Go(func() error {
			src := filepath.Join(dir, name)
			st, err := im.ImportFile(gctx, src)
			total.add(&st)
			if err != nil {
				return fmt.Errorf("import %s: %w", name, err)
			}
			if im.cfg.ProcessedDir != "" {
				if err := os.Rename(src, filepath.Join(im.cfg.ProcessedDir, name)); err != nil {
					im.log.Warn().Err(err).Str("file", name).Msg("move to processed failed")
				}
			}
			return nil
		})
	}
	err = g.Wait()
	return total, err
}

// ImportFile streams one PGN file into the sink.
func (im *Importer) ImportFile(ctx context.Context, path string) (Stats, error) {
	im.log.Info().Str("path", path).Msg("starting file import")

	st := Stats{Files: 1}
	startTime := time.Now()
	lastLog := startTime
	batch := make([]game.Game, 0, im.cfg.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := im.sink.PutGames(ctx, batch)
		if err != nil {
			return err
		}
		st.Imported += int64(n)
		st.Duplicates += int64(len(batch) - n)
		batch = batch[:0]
		return nil
	}

	parser := pgn.Games(path)
	stopped := false
	stop := func() {
		if !stopped {
			parser.Stop()
			stopped = true
		}
	}

	for pg := range parser.Games {
		if ctx.Err() != nil {
			stop()
			break
		}
		st.Games++

		whiteElo := parseRating(pg.Tags["WhiteElo"])
		blackElo := parseRating(pg.Tags["BlackElo"])
		if im.cfg.RatingMin > 0 && (whiteElo < im.cfg.RatingMin || blackElo < im.cfg.RatingMin) {
			st.Filtered++
			continue
		}

		g, err := im.convert(pg, whiteElo, blackElo)
		if err != nil {
			st.Malformed++
			im.log.Warn().Err(err).Str("path", path).Int64("game", st.Games).Msg("skipping malformed game")
			continue
		}
		batch = append(batch, g)
		if len(batch) >= im.cfg.BatchSize {
			if err := flush(); err != nil {
				stop()
				return st, err
			}
		}

		if time.Since(lastLog) > 10*time.Second {
			im.log.Info().
				Str("file", filepath.Base(path)).
				Int64("games", st.Games).
				Int64("imported", st.Imported).
				Int64("filtered", st.Filtered).
				Msg("ingest progress")
			lastLog = time.Now()
		}
	}

	if err := ctx.Err(); err != nil {
		return st, err
	}
	if err := parser.Err(); err != nil {
		return st, err
	}
	if err := flush(); err != nil {
		return st, err
	}

	im.log.Info().
		Str("file", filepath.Base(path)).
		Int64("games", st.Games).
		Int64("imported", st.Imported).
		Int64("duplicates", st.Duplicates).
		Int64("filtered", st.Filtered).
		Int64("malformed", st.Malformed).
		Dur("elapsed", time.Since(startTime)).
		Msg("file import complete")
	return st, nil
}

// convert replays pg to get the UCI move and resulting FEN of every ply.
func (im *Importer) convert(pg *pgn.Game, whiteElo, blackElo int) (game.Game, error) {
	g := game.Game{
		Source:      im.cfg.Source,
		Platform:    im.cfg.Platform,
		White:       pg.Tags["White"],
		Black:       pg.Tags["Black"],
		WhiteElo:    whiteElo,
		BlackElo:    blackElo,
		TimeControl: pg.Tags["TimeControl"],
		Result:      pg.Tags["Result"],
		Moves:       make([]game.Move, 0, len(pg.Moves)),
	}
	if pg.Tags["SetUp"] == "1" || pg.Tags["FEN"] != "" {
		// replay always starts from the standard position
		return g, fmt.Errorf("custom start position not supported")
	}

	pos := pgn.NewStartingPosition()
	for i, mv := range pg.Moves {
		uci := mvToUCI(mv)
		if err := pgn.ApplyMove(pos, mv); err != nil {
			return g, fmt.Errorf("ply %d (%s): %w", i, uci, err)
		}
		g.Moves = append(g.Moves, game.Move{UCI: uci, FEN: pos.ToFEN()})
	}
	g.ID = gameID(pg.Tags, g.Moves)
	return g, nil
}

// gameID uses the site's own game ID when there is one, otherwise a UUIDv5
// of the tags and moves so re-imports map to the same ID.
func gameID(tags map[string]string, moves []game.Move) string {
	if id := tags["GameId"]; id != "" {
		return id
	}
	if site := tags["Site"]; strings.HasPrefix(site, "https://lichess.org/") {
		if id := strings.TrimPrefix(site, "https://lichess.org/"); id != "" && !strings.Contains(id, "/") {
			return id
		}
	}

	var b strings.Builder
	for _, k := range []string{"Event", "Site", "Date", "Round", "White", "Black", "Result", "UTCTime"} {
		b.WriteString(tags[k])
		b.WriteByte('|')
	}
	for _, m := range moves {
		b.WriteString(m.UCI)
		b.WriteByte(' ')
	}
	return uuid.NewSHA1(gameNamespace, []byte(b.String())).String()
}

// mvToUCI converts a move to UCI notation. Castling is written as the king's
// two-square move.
func mvToUCI(mv pgn.Mv) string {
	files := "abcdefgh"
	ranks := "12345678"

	to := int(mv.To)
	if mv.Flags == 4 {
		rank := int(mv.From) / 8
		if mv.To > mv.From {
			to = rank*8 + 6
		} else {
			to = rank*8 + 2
		}
	}

	uci := string(files[mv.From%8]) + string(ranks[mv.From/8]) +
		string(files[to%8]) + string(ranks[to/8])

	switch mv.Promo {
	case pgn.PromoQueen:
		uci += "q"
	case pgn.PromoRook:
		uci += "r"
	case pgn.PromoBishop:
		uci += "b"
	case pgn.PromoKnight:
		uci += "n"
	}
	return uci
}

func isPGNFile(name string) bool {
	ext := filepath.Ext(name)
	if ext == ".pgn" {
		return true
	}
	if ext == ".zst" {
		base := name[:len(name)-4]
		return filepath.Ext(base) == ".pgn"
	}
	return false
}

func parseRating(s string) int {
	if s == "" || s == "?" || s == "-" {
		return 0
	}
	r, _ := strconv.Atoi(s)
	return r
}

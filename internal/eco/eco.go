// Package eco provides ECO (Encyclopedia of Chess Openings) lookup.
package eco

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/freeeve/pgn/v3"
)

// Opening represents an ECO opening classification.
type Opening struct {
	ECO  string `json:"eco"`
	Name string `json:"name"`
}

// Database holds ECO opening data indexed by position. Positions are keyed
// by placement, side to move and castling rights so the en passant field
// and move clocks do not matter.
type Database struct {
	byPosition map[string]Opening
	count      int
}

// NewDatabase creates an empty ECO database.
func NewDatabase() *Database {
	return &Database{
		byPosition: make(map[string]Opening),
	}
}

// moveNumberRegex matches move numbers like "1." or "12..."
var moveNumberRegex = regexp.MustCompile(`\d+\.+\s*`)

// LoadDir loads all .tsv files from a directory.
func (db *Database) LoadDir(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.tsv"))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no .tsv files found in %s", dir)
	}

	for _, file := range files {
		if err := db.LoadFile(file); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// Load loads a .tsv file or every .tsv file in a directory.
func (db *Database) Load(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return db.LoadDir(path)
	}
	return db.LoadFile(path)
}

// LoadFile loads a single TSV file.
func (db *Database) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return db.LoadReader(f)
}

// LoadReader loads TSV rows of the form eco, name, moves. Lines whose moves
// do not parse are skipped.
func (db *Database) LoadReader(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		// Skip header
		if lineNum == 1 && strings.HasPrefix(line, "eco\t") {
			continue
		}

		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}

		pos := pgn.NewStartingPosition()
		if err := applyMoves(pos, parts[2]); err != nil {
			continue
		}

		db.byPosition[positionKey(pos.ToFEN())] = Opening{ECO: parts[0], Name: parts[1]}
		db.count++
	}

	return scanner.Err()
}

// applyMoves parses and applies PGN moves like "1. e4 e5 2. Nf3 Nc6"
func applyMoves(pos *pgn.GameState, pgnMoves string) error {
	cleaned := moveNumberRegex.ReplaceAllString(pgnMoves, "")

	for _, san := range strings.Fields(cleaned) {
		if san[0] == '$' || san[0] == '{' {
			continue
		}
		san = strings.TrimRight(san, "+#")

		mv, err := pgn.ParseSAN(pos, san)
		if err != nil {
			return fmt.Errorf("parse %q: %w", san, err)
		}
		if err := pgn.ApplyMove(pos, mv); err != nil {
			return fmt.Errorf("apply %q: %w", san, err)
		}
	}
	return nil
}

// LookupFEN returns the opening for a FEN, or nil if not found.
func (db *Database) LookupFEN(fen string) *Opening {
	if db == nil {
		return nil
	}
	if o, ok := db.byPosition[positionKey(fen)]; ok {
		return &o
	}
	return nil
}

// Count returns the number of openings loaded.
func (db *Database) Count() int {
	return db.count
}

func positionKey(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) > 3 {
		fields = fields[:3]
	}
	return strings.Join(fields, " ")
}

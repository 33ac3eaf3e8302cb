// Package store persists games, feature rows, the analyzed registry and run
// history in a single SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a key is not found in the store.
var ErrNotFound = errors.New("not found")

// ErrorKind separates retryable contention from everything else.
type ErrorKind int

const (
	// KindTransient is lock contention that outlasted the retry budget.
	KindTransient ErrorKind = iota + 1
	// KindFatal is any other storage failure.
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps a storage failure with its kind.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsFatal reports whether err is a fatal storage error.
func IsFatal(err error) bool {
	var serr *Error
	return errors.As(err, &serr) && serr.Kind == KindFatal
}

// Config configures Open.
type Config struct {
	Path       string
	MaxRetries int           // retries on SQLITE_BUSY before giving up
	BaseDelay  time.Duration // first backoff delay, doubled per retry
	Logger     zerolog.Logger
}

// Store is safe for concurrent use.
type Store struct {
	db  *sql.DB
	cfg Config
	log zerolog.Logger
}

// Open opens (creating if needed) the database at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path required")
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = 10 * time.Millisecond
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_txlock=immediate", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Writes are serialized by SQLite anyway
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: cfg.Logger.With().Str("component", "store").Logger()}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS games (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		source TEXT NOT NULL,
		platform TEXT NOT NULL DEFAULT '',
		white TEXT NOT NULL DEFAULT '',
		black TEXT NOT NULL DEFAULT '',
		white_elo INTEGER NOT NULL DEFAULT 0,
		black_elo INTEGER NOT NULL DEFAULT 0,
		time_control TEXT NOT NULL DEFAULT '',
		result TEXT NOT NULL DEFAULT '',
		start_fen TEXT NOT NULL DEFAULT '',
		moves TEXT NOT NULL,
		imported_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_games_source ON games(source, seq);

	CREATE TABLE IF NOT EXISTS analyzed (
		game_id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		status TEXT NOT NULL,
		run_id TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_analyzed_source ON analyzed(source, status);

	CREATE TABLE IF NOT EXISTS features (
		game_id TEXT NOT NULL,
		ply INTEGER NOT NULL,
		source TEXT NOT NULL,
		move_number INTEGER NOT NULL,
		side TEXT NOT NULL,
		move TEXT NOT NULL,
		san TEXT NOT NULL,
		fen_before TEXT NOT NULL,
		fen_after TEXT NOT NULL,
		material_balance INTEGER NOT NULL,
		mobility_white INTEGER NOT NULL,
		mobility_black INTEGER NOT NULL,
		branching_factor INTEGER NOT NULL,
		phase TEXT NOT NULL,
		castling_rights TEXT NOT NULL,
		repetition INTEGER NOT NULL,
		capture INTEGER NOT NULL,
		is_check INTEGER NOT NULL,
		tactic TEXT NOT NULL DEFAULT '',
		skipped INTEGER NOT NULL,
		skip_reason TEXT NOT NULL DEFAULT '',
		policy_depth INTEGER NOT NULL,
		policy_lines INTEGER NOT NULL,
		score_before INTEGER,
		score_after INTEGER,
		score_diff INTEGER,
		depth_score_diff INTEGER,
		best_move TEXT NOT NULL DEFAULT '',
		error_label TEXT,
		white_rating_std REAL,
		black_rating_std REAL,
		eco TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (game_id, ply)
	);
	CREATE INDEX IF NOT EXISTS idx_features_source ON features(source);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		state TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		planned INTEGER NOT NULL DEFAULT 0,
		processed INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		errored INTEGER NOT NULL DEFAULT 0,
		unscored INTEGER NOT NULL DEFAULT 0,
		engine_calls INTEGER NOT NULL DEFAULT 0,
		detail TEXT NOT NULL DEFAULT ''
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// isBusy matches SQLITE_BUSY and SQLITE_LOCKED by message; the driver's
// error codes are not exported in a stable form.
func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED") ||
		strings.Contains(msg, "database is locked")
}

// retry runs fn, retrying lock contention with exponential backoff
// (10ms, 20ms, 40ms, ...). Failures come back as *Error.
func (s *Store) retry(ctx context.Context, op string, fn func() error) error {
	for i := 0; ; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isBusy(err) {
			return &Error{Kind: KindFatal, Op: op, Err: err}
		}
		if i >= s.cfg.MaxRetries {
			return &Error{Kind: KindTransient, Op: op, Err: fmt.Errorf("after %d retries: %w", i, err)}
		}

		backoff := s.cfg.BaseDelay << uint(i)
		s.log.Debug().Err(err).Str("op", op).Dur("backoff", backoff).Msg("database busy, retrying")
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// withTx runs fn in a write transaction under retry.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	return s.retry(ctx, op, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func nowMillis() int64 { return time.Now().UnixMilli() }

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

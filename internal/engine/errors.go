package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures.
type ErrorKind int

const (
	// KindTimeout means the engine did not answer within the query timeout.
	KindTimeout ErrorKind = iota + 1
	// KindCrashed means the process died, broke its pipe, or returned nothing.
	KindCrashed
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// Error is returned once the restart budget for a query is spent.
type Error struct {
	Kind     ErrorKind
	FEN      string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("engine %s after %d attempts on %q: %v", e.Kind, e.Attempts, e.FEN, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrClosed is returned by Evaluate after Close.
var ErrClosed = errors.New("engine closed")

var (
	errSearchTimeout = errors.New("search timed out")
	errEmptyResult   = errors.New("no results from engine")
)

func kindOf(err error) ErrorKind {
	if errors.Is(err, errSearchTimeout) {
		return KindTimeout
	}
	return KindCrashed
}

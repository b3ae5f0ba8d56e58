// Package reducer holds the domain slices: functions that move a working
// copy of the document from one state to the next. Reducers never perform
// I/O. On error the caller discards the working copy, so a failed reducer
// leaves no trace.
package reducer

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"stokku/backend/internal/domain"
	"stokku/backend/internal/ledger"
)

// Env is what a reducer needs besides the document.
type Env struct {
	Ledger *ledger.Ledger
	Now    time.Time
	Log    *zap.Logger
	// LedgerCleared is called when recording a key pushes the ledger over its
	// limit and it is cleared.
	LedgerCleared func()
}

func (e Env) logger() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

func (e Env) now() time.Time {
	if e.Now.IsZero() {
		return time.Now().UTC()
	}
	return e.Now
}

func (e Env) ledgerCleared() {
	if e.LedgerCleared != nil {
		e.LedgerCleared()
	}
}

func (e Env) ledger() *ledger.Ledger {
	if e.Ledger == nil {
		return ledger.New(ledger.DefaultLimit)
	}
	return e.Ledger
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrValidation, fmt.Sprintf(format, args...))
}

func notFound(kind string, id any) error {
	return fmt.Errorf("%w: %s %v", domain.ErrNotFound, kind, id)
}

// nextID issues the id after the larger of *seq and every id in items and
// records it in *seq. Deleting a record never makes its id available again.
func nextID[T any](seq *int64, items []T, id func(T) int64) int64 {
	last := *seq
	for _, item := range items {
		last = max(last, id(item))
	}
	*seq = last + 1
	return *seq
}

func indexOf[T any](items []T, match func(T) bool) int {
	for i, item := range items {
		if match(item) {
			return i
		}
	}
	return -1
}

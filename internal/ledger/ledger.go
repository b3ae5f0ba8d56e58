package ledger

import "sync"

// DefaultLimit is the size past which the ledger is cleared in bulk.
const DefaultLimit = 1000

// Ledger is the session-local set of idempotency keys already applied to
// client totals. It is never persisted; sales and payments carry their own
// keys and are not replayed into it from storage.
type Ledger struct {
	mu    sync.Mutex
	keys  map[string]struct{}
	limit int
}

func New(limit int) *Ledger {
	if limit < 1 {
		limit = DefaultLimit
	}
	return &Ledger{keys: make(map[string]struct{}), limit: limit}
}

func (l *Ledger) Seen(key string) bool {
	if key == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.keys[key]
	return ok
}

// Record adds key and reports whether the ledger overflowed and was cleared.
// Eviction is all-or-nothing, not LRU.
func (l *Ledger) Record(key string) bool {
	if key == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys[key] = struct{}{}
	if len(l.keys) > l.limit {
		l.keys = make(map[string]struct{})
		return true
	}
	return false
}

func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = make(map[string]struct{})
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

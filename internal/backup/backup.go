// Package backup keeps a device-local copy of each user's document together
// with the time each collection was last written locally. The realtime
// reconciler compares those times against a pushed document's updated_at.
package backup

import (
	"context"
	"errors"
	"time"

	"stokku/backend/internal/domain"
)

var ErrNotFound = errors.New("backup not found")

type Snapshot struct {
	Document   domain.Document
	Timestamps map[domain.Collection]time.Time
}

// Timestamp reports the local write time for c, if one was recorded.
func (s Snapshot) Timestamp(c domain.Collection) (time.Time, bool) {
	at, ok := s.Timestamps[c]
	return at, ok && !at.IsZero()
}

// Store persists snapshots. Write replaces every collection's payload and
// stamps only the touched collections with at; the others keep whatever
// timestamp they had.
type Store interface {
	Write(ctx context.Context, doc domain.Document, touched []domain.Collection, at time.Time) error
	Read(ctx context.Context, userID string) (*Snapshot, error)
}

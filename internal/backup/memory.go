package backup

import (
	"context"
	"maps"
	"sync"
	"time"

	"stokku/backend/internal/domain"
)

type Memory struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

func NewMemory() *Memory {
	return &Memory{snapshots: make(map[string]Snapshot)}
}

func (m *Memory) Write(_ context.Context, doc domain.Document, touched []domain.Collection, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.snapshots[doc.UserID]
	stamps := maps.Clone(prev.Timestamps)
	if stamps == nil {
		stamps = make(map[domain.Collection]time.Time, len(touched))
	}
	for _, c := range touched {
		stamps[c] = at
	}
	m.snapshots[doc.UserID] = Snapshot{Document: doc.Clone(), Timestamps: stamps}
	return nil
}

func (m *Memory) Read(_ context.Context, userID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.snapshots[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &Snapshot{Document: snap.Document.Clone(), Timestamps: maps.Clone(snap.Timestamps)}, nil
}

package backup

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stokku/backend/internal/domain"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "backup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{"memory": NewMemory(), "sqlite": sq}
}

func TestBackupStampsOnlyTouchedCollections(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.Read(ctx, "u1")
			require.ErrorIs(t, err, ErrNotFound)

			first := time.UnixMilli(1_700_000_000_000).UTC()
			doc := domain.NewDocument("u1")
			doc.Products = []domain.Product{{ID: 1, Name: "Pen", Units: "3", Location: domain.LocationLocal}}
			require.NoError(t, s.Write(ctx, doc, []domain.Collection{domain.CollectionProducts}, first))

			second := first.Add(time.Minute)
			doc.Sales = []domain.Sale{{ID: 1, ProductID: 1, Quantity: 1}}
			require.NoError(t, s.Write(ctx, doc, []domain.Collection{domain.CollectionSales}, second))

			snap, err := s.Read(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, snap.Document.Products, 1)
			assert.Equal(t, "Pen", snap.Document.Products[0].Name)
			assert.Len(t, snap.Document.Sales, 1)

			at, ok := snap.Timestamp(domain.CollectionProducts)
			require.True(t, ok)
			assert.True(t, at.Equal(first))
			at, ok = snap.Timestamp(domain.CollectionSales)
			require.True(t, ok)
			assert.True(t, at.Equal(second))
			_, ok = snap.Timestamp(domain.CollectionClients)
			assert.False(t, ok)
		})
	}
}

func TestBackupPayloadOnlyWriteKeepsTimestamps(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			at := time.UnixMilli(1_700_000_000_000).UTC()
			doc := domain.NewDocument("u2")
			require.NoError(t, s.Write(ctx, doc, []domain.Collection{domain.CollectionClients}, at))

			doc.Clients = []domain.Client{{ID: 1, Name: "Acme"}}
			require.NoError(t, s.Write(ctx, doc, nil, at.Add(time.Hour)))

			snap, err := s.Read(ctx, "u2")
			require.NoError(t, err)
			assert.Len(t, snap.Document.Clients, 1)
			got, ok := snap.Timestamp(domain.CollectionClients)
			require.True(t, ok)
			assert.True(t, got.Equal(at))
		})
	}
}

func TestBackupKeepsDocumentFields(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			doc := domain.NewDocument("u3")
			doc.UpdatedAt = time.Date(2026, 5, 2, 8, 30, 0, 123456000, time.UTC)
			doc.Sequences = domain.Sequences{Products: 12, Sales: 40}
			require.NoError(t, s.Write(ctx, doc, nil, time.Now()))

			snap, err := s.Read(ctx, "u3")
			require.NoError(t, err)
			assert.True(t, snap.Document.UpdatedAt.Equal(doc.UpdatedAt))
			assert.Equal(t, int64(12), snap.Document.Sequences.Products)
			assert.Equal(t, int64(40), snap.Document.Sequences.Sales)
		})
	}
}

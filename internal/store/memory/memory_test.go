package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stokku/backend/internal/domain"
	"stokku/backend/internal/store"
)

func TestUpsertAssignsIncreasingTimestamps(t *testing.T) {
	s := New()
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	ctx := context.Background()

	first, err := s.UpsertDocument(ctx, domain.NewDocument("u1"))
	require.NoError(t, err)
	second, err := s.UpsertDocument(ctx, domain.NewDocument("u1"))
	require.NoError(t, err)

	assert.Equal(t, fixed, first.UpdatedAt)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
}

func TestGetDocumentReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	doc := domain.NewDocument("u1")
	doc.Products = append(doc.Products, domain.Product{ID: 1, Name: "Pen", Units: "1"})
	_, err := s.UpsertDocument(ctx, doc)
	require.NoError(t, err)

	loaded, err := s.GetDocument(ctx, "u1")
	require.NoError(t, err)
	loaded.Products[0].Name = "changed"

	again, err := s.GetDocument(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Pen", again.Products[0].Name)

	_, err = s.GetDocument(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpsertRejectsMissingOwner(t *testing.T) {
	_, err := New().UpsertDocument(context.Background(), domain.Document{})
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}

package store

import (
	"context"
	"errors"

	"stokku/backend/internal/domain"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = errors.New("invalid input")
)

// DocumentStore is the remote home of each user's aggregate document.
// UpsertDocument replaces the whole row keyed by user id and assigns
// updated_at; there is no field-level patching.
type DocumentStore interface {
	GetDocument(ctx context.Context, userID string) (*domain.Document, error)
	UpsertDocument(ctx context.Context, doc domain.Document) (*domain.Document, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	DocumentStore
	UserStore
}

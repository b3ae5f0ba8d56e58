// Package gateway is the only path between a session and the remote document
// store. Every call checks that the signed-in actor owns the document.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"stokku/backend/internal/domain"
	"stokku/backend/internal/feed"
	"stokku/backend/internal/store"
)

type Gateway struct {
	docs store.DocumentStore
	feed feed.Feed
	log  *zap.Logger
}

func New(docs store.DocumentStore, f feed.Feed, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{docs: docs, feed: f, log: log.Named("gateway")}
}

func authorize(ctx context.Context, userID string) error {
	actor, ok := domain.ActorFromContext(ctx)
	if !ok || strings.TrimSpace(userID) == "" || actor.Username != userID {
		return fmt.Errorf("%w: signed-in user does not own document %q", domain.ErrAuth, userID)
	}
	return nil
}

// Fetch returns the stored document or domain.ErrNotFound.
func (g *Gateway) Fetch(ctx context.Context, userID string) (*domain.Document, error) {
	if err := authorize(ctx, userID); err != nil {
		return nil, err
	}
	doc, err := g.docs.GetDocument(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("fetch document: %w", err)
	}
	return doc, nil
}

// Upsert replaces the whole document and then announces the stored row on the
// push channel tagged with origin, so the writing session can skip its own echo.
func (g *Gateway) Upsert(ctx context.Context, userID string, origin string, doc domain.Document) (*domain.Document, error) {
	if err := authorize(ctx, userID); err != nil {
		return nil, err
	}
	doc.UserID = userID

	stored, err := g.docs.UpsertDocument(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRemoteSave, err)
	}

	if g.feed != nil {
		msg := feed.Message{UserID: userID, Event: feed.EventUpdate, Origin: origin, Document: stored.Clone()}
		if err := g.feed.Publish(ctx, msg); err != nil {
			g.log.Warn("publish document update failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return stored, nil
}

func (g *Gateway) Subscribe(ctx context.Context, userID string) (<-chan feed.Message, error) {
	if err := authorize(ctx, userID); err != nil {
		return nil, err
	}
	if g.feed == nil {
		return nil, errors.New("gateway: no push channel configured")
	}
	return g.feed.Subscribe(ctx, userID)
}

package feed

import (
	"context"

	"stokku/backend/internal/domain"
)

const EventUpdate = "UPDATE"

// Message is one push notification: the full stored row after a write.
type Message struct {
	UserID   string          `json:"user_id"`
	Event    string          `json:"event"`
	Origin   string          `json:"origin,omitempty"`
	Document domain.Document `json:"document"`
}

// Feed delivers document changes to every subscriber of the same user.
// Subscribe's channel is closed once ctx is done.
type Feed interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(ctx context.Context, userID string) (<-chan Message, error)
}

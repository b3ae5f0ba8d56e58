package feed

import (
	"context"
	"errors"
	"strings"
	"sync"
)

const DefaultSubscriberBuffer = 16

// Hub is an in-process Feed. Publishing never blocks; a subscriber whose
// buffer is full misses the message.
type Hub struct {
	mu               sync.RWMutex
	streams          map[string]map[uint64]chan Message
	nextID           uint64
	subscriberBuffer int
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[string]map[uint64]chan Message),
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

func (h *Hub) Publish(_ context.Context, msg Message) error {
	userID := strings.TrimSpace(msg.UserID)
	if userID == "" {
		return errors.New("feed: user id required")
	}

	// Sends happen under the read lock; cleanup closes a channel only after
	// taking the write lock.
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.streams[userID] {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, userID string) (<-chan Message, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("feed: user id required")
	}

	ch := make(chan Message, h.subscriberBuffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	if h.streams[userID] == nil {
		h.streams[userID] = make(map[uint64]chan Message)
	}
	h.streams[userID][id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.streams[userID], id)
		if len(h.streams[userID]) == 0 {
			delete(h.streams, userID)
		}
		close(ch)
		h.mu.Unlock()
	}()

	return ch, nil
}

func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams[userID])
}

package feed

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "stokku:documents:"

// RedisFeed fans document changes out through Redis pub/sub, one channel per
// user, so sessions on other processes see each other's writes.
type RedisFeed struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisFeed(addr string, password string, db int, log *zap.Logger) *RedisFeed {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if log == nil {
		log = zap.NewNop()
	}

	return &RedisFeed{client: client, log: log.Named("redis-feed")}
}

func (f *RedisFeed) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

func (f *RedisFeed) Close() error {
	return f.client.Close()
}

func (f *RedisFeed) Publish(ctx context.Context, msg Message) error {
	userID := strings.TrimSpace(msg.UserID)
	if userID == "" {
		return errors.New("feed: user id required")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, channelPrefix+userID, payload).Err()
}

func (f *RedisFeed) Subscribe(ctx context.Context, userID string) (<-chan Message, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("feed: user id required")
	}

	pubsub := f.client.Subscribe(ctx, channelPrefix+userID)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan Message, DefaultSubscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		in := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-in:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					f.log.Warn("dropping undecodable push message", zap.String("user_id", userID), zap.Error(err))
					continue
				}
				select {
				case out <- msg:
				default:
					f.log.Warn("subscriber buffer full, dropping push message", zap.String("user_id", userID))
				}
			}
		}
	}()

	return out, nil
}

package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	streamKeyPrefix = "kabuai:events:"
	streamMaxLen    = 1024
	streamTTL       = 30 * time.Minute
)

// HistoryStore persists turn events to a Redis stream so a reconnecting
// consumer can resume past the in-memory ring. Best-effort: the traversal
// never fails on store errors.
type HistoryStore struct {
	client *redis.Client
}

// NewHistoryStore wraps an existing Redis client.
func NewHistoryStore(client *redis.Client) *HistoryStore {
	return &HistoryStore{client: client}
}

// Append adds one event to the turn's stream and refreshes its TTL.
func (s *HistoryStore) Append(ctx context.Context, turnID string, evt Event) error {
	key := streamKeyPrefix + turnID
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	pipe := s.client.Pipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{"event": payload},
	})
	pipe.Expire(ctx, key, streamTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Replay returns stored events with Seq > since in publish order.
func (s *HistoryStore) Replay(ctx context.Context, turnID string, since uint64) ([]Event, error) {
	key := streamKeyPrefix + turnID
	msgs, err := s.client.XRange(ctx, key, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("replay events: %w", err)
	}
	out := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["event"].(string)
		if !ok {
			continue
		}
		var evt Event
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			continue
		}
		if evt.Seq > since {
			out = append(out, evt)
		}
	}
	return out, nil
}

package statusbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"report-embed/lifecycle"
)

const (
	streamKeyFormat   = "embed:session:%s:view"
	defaultBlock      = 5 * time.Second
	defaultBatchCount = 50
	defaultMaxLen     = 200
)

// Update is one ViewState change as read back from the stream.
type Update struct {
	ID        string              `json:"id"`
	SessionID string              `json:"session_id"`
	View      lifecycle.ViewState `json:"view"`
	At        string              `json:"at"`
}

// Bus is the per-session stream of ViewState changes.
type Bus struct {
	client *redis.Client
	ttl    time.Duration
}

// NewBus creates a bus over the given redis client. A positive ttl is
// re-applied to the session stream on every append.
func NewBus(client *redis.Client, ttl time.Duration) *Bus {
	return &Bus{client: client, ttl: ttl}
}

// StreamKey returns the stream key for a session.
func StreamKey(sessionID string) string {
	return fmt.Sprintf(streamKeyFormat, strings.TrimSpace(sessionID))
}

// Append writes a ViewState to the session stream, capped at defaultMaxLen entries.
func (b *Bus) Append(ctx context.Context, sessionID string, view lifecycle.ViewState) (string, error) {
	if b == nil || b.client == nil {
		return "", fmt.Errorf("status bus not configured")
	}

	key := StreamKey(sessionID)
	var add *redis.StringCmd
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		add = pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: key,
			MaxLen: defaultMaxLen,
			Approx: true,
			Values: map[string]any{
				"view": view,
				"ts":   time.Now().UTC().Format(time.RFC3339Nano),
			},
		})
		if b.ttl > 0 {
			pipe.Expire(ctx, key, b.ttl)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return add.Val(), nil
}

// Tail blocks for updates after afterID and returns them with the latest ID seen.
// An empty afterID starts from the beginning of the stream.
func (b *Bus) Tail(ctx context.Context, sessionID, afterID string) ([]Update, string, error) {
	if b == nil || b.client == nil {
		return nil, afterID, fmt.Errorf("status bus not configured")
	}

	if strings.TrimSpace(afterID) == "" {
		afterID = "0"
	}

	res, err := b.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{StreamKey(sessionID), afterID},
		Count:   defaultBatchCount,
		Block:   defaultBlock,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, afterID, nil
		}
		return nil, afterID, err
	}

	updates := make([]Update, 0)
	nextID := afterID
	for _, stream := range res {
		for _, msg := range stream.Messages {
			nextID = msg.ID
			var view lifecycle.ViewState
			if err := json.Unmarshal([]byte(stringVal(msg.Values["view"])), &view); err != nil {
				continue
			}
			updates = append(updates, Update{
				ID:        msg.ID,
				SessionID: sessionID,
				View:      view,
				At:        stringVal(msg.Values["ts"]),
			})
		}
	}

	return updates, nextID, nil
}

// Delete drops the session stream.
func (b *Bus) Delete(ctx context.Context, sessionID string) error {
	return b.client.Del(ctx, StreamKey(sessionID)).Err()
}

func stringVal(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return ""
	}
}

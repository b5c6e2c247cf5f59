package statusbus

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"report-embed/lifecycle"
)

// SnapshotStore keeps the latest ViewState per session so a reloaded page
// can render without waiting on the stream. EmbedConfig is never stored.
type SnapshotStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewSnapshotStore creates a snapshot store. A non-positive ttl keeps keys forever.
func NewSnapshotStore(client *redis.Client, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{
		client: client,
		prefix: "embed:snapshot",
		ttl:    ttl,
	}
}

func (s *SnapshotStore) key(sessionID string) string {
	return strings.Join([]string{s.prefix, strings.TrimSpace(sessionID)}, ":")
}

// Save overwrites the session snapshot and refreshes its TTL.
func (s *SnapshotStore) Save(ctx context.Context, sessionID string, view lifecycle.ViewState) error {
	return s.client.Set(ctx, s.key(sessionID), view, s.ttl).Err()
}

// Get returns the snapshot and whether one exists.
func (s *SnapshotStore) Get(ctx context.Context, sessionID string) (lifecycle.ViewState, bool, error) {
	raw, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if err == redis.Nil {
		return lifecycle.ViewState{}, false, nil
	}
	if err != nil {
		return lifecycle.ViewState{}, false, err
	}
	var view lifecycle.ViewState
	if err := json.Unmarshal([]byte(raw), &view); err != nil {
		return lifecycle.ViewState{}, false, err
	}
	return view, true, nil
}

// Delete removes the snapshot.
func (s *SnapshotStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}

package statusbus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"report-embed/lifecycle"
)

// Publisher fans a ViewState out to the snapshot store and the session stream.
type Publisher struct {
	Bus       *Bus
	Snapshots *SnapshotStore
}

// NewPublisher wires both halves over one client. ttl bounds how long the
// snapshot and stream of a session outlive its last update.
func NewPublisher(client *redis.Client, ttl time.Duration) *Publisher {
	return &Publisher{
		Bus:       NewBus(client, ttl),
		Snapshots: NewSnapshotStore(client, ttl),
	}
}

// Publish implements lifecycle.Publisher.
func (p *Publisher) Publish(ctx context.Context, sessionID string, view lifecycle.ViewState) error {
	if err := p.Snapshots.Save(ctx, sessionID, view); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if _, err := p.Bus.Append(ctx, sessionID, view); err != nil {
		return fmt.Errorf("append view: %w", err)
	}
	return nil
}

// Forget removes everything stored for a session.
func (p *Publisher) Forget(ctx context.Context, sessionID string) error {
	if err := p.Snapshots.Delete(ctx, sessionID); err != nil {
		return err
	}
	return p.Bus.Delete(ctx, sessionID)
}

var _ lifecycle.Publisher = (*Publisher)(nil)

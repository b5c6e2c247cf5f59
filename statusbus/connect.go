package statusbus

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultRedisURL = "redis://localhost:6379"

// Connect parses a redis URL (bare host:port is accepted) and pings the server.
func Connect(ctx context.Context, rawURL string) (*redis.Client, error) {
	url := strings.TrimSpace(rawURL)
	if url == "" {
		url = defaultRedisURL
	}
	if !strings.Contains(url, "://") {
		url = "redis://" + url
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: invalid url %q: %w", rawURL, err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping failed: %w", err)
	}
	return client, nil
}

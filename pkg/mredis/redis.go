// Package mredis is casecore's Redis connection hub: backs the real-time
// gateway's pub/sub bus, presence/typing ephemeral state, and the
// idempotency cache. Grounded on the teacher's common/mredis/mredis.go.
package mredis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/caseledger/casecore/pkg/mlog"
)

// Connection holds a singleton Redis client.
type Connection struct {
	URL    string
	Logger mlog.Logger

	client    *redis.Client
	connected bool
}

// Connect parses the Redis URL, dials, and verifies connectivity.
func (c *Connection) Connect(ctx context.Context) error {
	c.Logger.Info("connecting to redis...")

	opts, err := redis.ParseURL(c.URL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	c.client = client
	c.connected = true

	c.Logger.Info("connected to redis")

	return nil
}

// Client returns the Redis client, connecting lazily if needed.
func (c *Connection) Client(ctx context.Context) (*redis.Client, error) {
	if !c.connected {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
	}

	return c.client, nil
}

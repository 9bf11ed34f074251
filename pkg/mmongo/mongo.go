// Package mmongo is casecore's MongoDB connection hub, backing the real-time
// gateway's message/receipt/read-position projections. Grounded on the
// teacher's common/mmongo/mmongo.go.
package mmongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/caseledger/casecore/pkg/mlog"
)

// Connection holds a singleton MongoDB client.
type Connection struct {
	URI      string
	Database string
	Logger   mlog.Logger

	client    *mongo.Client
	connected bool
}

// Connect dials MongoDB and verifies connectivity.
func (c *Connection) Connect(ctx context.Context) error {
	c.Logger.Info("connecting to mongodb...")

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(c.URI))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	c.client = client
	c.connected = true

	c.Logger.Info("connected to mongodb")

	return nil
}

// DB returns the configured database handle, connecting lazily if needed.
func (c *Connection) DB(ctx context.Context) (*mongo.Database, error) {
	if !c.connected {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
	}

	return c.client.Database(c.Database), nil
}

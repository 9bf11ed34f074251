// Package mrabbitmq is casecore's RabbitMQ connection hub. It backs the
// disbursement-execution queue (SPEC_FULL.md §4.9.1). Grounded on the
// teacher's common/mrabbitmq/mrabbitmq.go, updated to rabbitmq/amqp091-go
// (the maintained fork the teacher's own root go.mod already depends on,
// replacing the deprecated streadway/amqp the retrieved snapshot used).
package mrabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/caseledger/casecore/pkg/mlog"
)

// Connection holds a singleton RabbitMQ connection and channel.
type Connection struct {
	URL    string
	Logger mlog.Logger

	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
}

// Connect dials RabbitMQ and opens a channel.
func (c *Connection) Connect(_ context.Context) error {
	c.Logger.Info("connecting to rabbitmq...")

	conn, err := amqp.Dial(c.URL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	c.conn = conn
	c.channel = ch
	c.connected = true

	c.Logger.Info("connected to rabbitmq")

	return nil
}

// Channel returns the open channel, connecting lazily if needed.
func (c *Connection) Channel(ctx context.Context) (*amqp.Channel, error) {
	if !c.connected {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
	}

	return c.channel, nil
}

// Close tears down the channel and connection.
func (c *Connection) Close() error {
	if c.channel != nil {
		_ = c.channel.Close()
	}

	if c.conn != nil {
		return c.conn.Close()
	}

	return nil
}

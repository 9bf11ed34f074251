// Package redis adapts casecore's ambient Redis connection
// (pkg/mredis) to the real-time gateway's pub/sub bus and to the
// idempotency cache. Grounded on the teacher's common/mredis.go and
// its go-redis/v9 dependency.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/caseledger/casecore/internal/realtime"
	"github.com/caseledger/casecore/pkg/mlog"
)

// Bus implements realtime.Bus over a Redis client's pub/sub.
type Bus struct {
	client *goredis.Client
	logger mlog.Logger
}

// NewBus builds a Bus.
func NewBus(client *goredis.Client, logger mlog.Logger) *Bus {
	return &Bus{client: client, logger: logger}
}

// wireEnvelope is the over-the-wire shape: payload stays raw JSON
// until the receiver knows the envelope's kind and can decode it into
// the matching concrete type.
type wireEnvelope struct {
	InstanceID string              `json:"instanceId"`
	Kind       realtime.BusKind    `json:"kind"`
	CaseID     string              `json:"caseId"`
	Payload    json.RawMessage     `json:"payload"`
}

// Publish marshals env and publishes it to the case's channel.
func (b *Bus) Publish(ctx context.Context, caseID string, env realtime.BusEnvelope) error {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return fmt.Errorf("redis bus: marshal payload: %w", err)
	}

	wire := wireEnvelope{InstanceID: env.InstanceID, Kind: env.Kind, CaseID: env.CaseID, Payload: payload}

	raw, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("redis bus: marshal envelope: %w", err)
	}

	if err := b.client.Publish(ctx, realtime.BusChannelName(caseID), raw).Err(); err != nil {
		return fmt.Errorf("redis bus: publish: %w", err)
	}

	return nil
}

// Subscribe opens a Redis pub/sub subscription for the case's
// channel, decodes each message's payload into the concrete type
// matching its kind, and forwards it on the returned channel.
func (b *Bus) Subscribe(ctx context.Context, caseID string) (<-chan realtime.BusEnvelope, func(), error) {
	sub := b.client.Subscribe(ctx, realtime.BusChannelName(caseID))

	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis bus: subscribe: %w", err)
	}

	out := make(chan realtime.BusEnvelope)

	go func() {
		defer close(out)

		for msg := range sub.Channel() {
			env, err := decodeWireEnvelope(msg.Payload)
			if err != nil {
				b.logger.Errorf("redis bus: decode envelope on %s: %v", msg.Channel, err)
				continue
			}

			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	unsub := func() { _ = sub.Close() }

	return out, unsub, nil
}

func decodeWireEnvelope(raw string) (realtime.BusEnvelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return realtime.BusEnvelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}

	payload, err := decodePayload(wire.Kind, wire.Payload)
	if err != nil {
		return realtime.BusEnvelope{}, err
	}

	return realtime.BusEnvelope{
		InstanceID: wire.InstanceID,
		Kind:       wire.Kind,
		CaseID:     wire.CaseID,
		Payload:    payload,
	}, nil
}

func decodePayload(kind realtime.BusKind, raw json.RawMessage) (any, error) {
	var (
		target any
		err    error
	)

	switch kind {
	case realtime.BusKindPresence:
		var p realtime.PresencePayload
		err = json.Unmarshal(raw, &p)
		target = p
	case realtime.BusKindTyping:
		var p realtime.TypingPayload
		err = json.Unmarshal(raw, &p)
		target = p
	case realtime.BusKindMessageCreated:
		var p realtime.MessageCreatedPayload
		err = json.Unmarshal(raw, &p)
		target = p
	case realtime.BusKindMessageReceipt:
		var p realtime.MessageReceiptPayload
		err = json.Unmarshal(raw, &p)
		target = p
	case realtime.BusKindUnreadDelta:
		var p realtime.UnreadDeltaPayload
		err = json.Unmarshal(raw, &p)
		target = p
	default:
		return nil, fmt.Errorf("redis bus: unknown envelope kind %q", kind)
	}

	if err != nil {
		return nil, fmt.Errorf("redis bus: decode %s payload: %w", kind, err)
	}

	return target, nil
}

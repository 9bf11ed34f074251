package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/caseledger/casecore/internal/idempotency"
	"github.com/caseledger/casecore/pkg/motel"
)

const reservationMarker = `{"reserved":true}`

// Store implements idempotency.Store over Redis, grounded on the
// teacher's RedisConsumerRepository (components/ledger/internal/
// adapters/implementation/database/redis): a thin Set/Get wrapper
// over go-redis with a tracer span per call.
type Store struct {
	client *goredis.Client
}

// NewStore builds a Store.
func NewStore(client *goredis.Client) *Store {
	return &Store{client: client}
}

func idempotencyKey(tenantID, key string) string {
	return "idempotency:" + tenantID + ":" + key
}

// Reserve claims the key with SETNX so concurrent first attempts race
// safely: exactly one reserves, the rest see false.
func (s *Store) Reserve(ctx context.Context, tenantID, key string, ttl time.Duration) (bool, error) {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "redis.idempotency.reserve")
	defer span.End()

	ok, err := s.client.SetNX(ctx, idempotencyKey(tenantID, key), reservationMarker, ttl).Result()
	if err != nil {
		motel.HandleSpanError(&span, "reserve idempotency key", err)
		return false, fmt.Errorf("redis idempotency: reserve: %w", err)
	}

	return ok, nil
}

// Complete overwrites the reservation with the final record.
func (s *Store) Complete(ctx context.Context, record idempotency.Record, ttl time.Duration) error {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "redis.idempotency.complete")
	defer span.End()

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("redis idempotency: marshal record: %w", err)
	}

	if err := s.client.Set(ctx, idempotencyKey(record.TenantID, record.Key), raw, ttl).Err(); err != nil {
		motel.HandleSpanError(&span, "complete idempotency key", err)
		return fmt.Errorf("redis idempotency: complete: %w", err)
	}

	return nil
}

// Get returns the completed record, or nil if the key has never been
// seen or is still only reserved.
func (s *Store) Get(ctx context.Context, tenantID, key string) (*idempotency.Record, error) {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "redis.idempotency.get")
	defer span.End()

	raw, err := s.client.Get(ctx, idempotencyKey(tenantID, key)).Bytes()
	if err == goredis.Nil {
		return nil, nil //nolint:nilnil
	}

	if err != nil {
		motel.HandleSpanError(&span, "get idempotency key", err)
		return nil, fmt.Errorf("redis idempotency: get: %w", err)
	}

	if string(raw) == reservationMarker {
		return nil, nil //nolint:nilnil
	}

	var record idempotency.Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("redis idempotency: unmarshal record: %w", err)
	}

	return &record, nil
}

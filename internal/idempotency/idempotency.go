// Package idempotency implements the command de-duplication store
// (C14): command endpoints key a persisted response by
// (tenantId, idempotencyKey) so a retried request replays the
// original response verbatim instead of re-executing (spec.md
// §4.13).
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrKeyInFlight is returned by Begin when another request with the
// same key is currently being processed (no stored response yet).
// Callers should reject the retry rather than run the command
// concurrently with itself.
var ErrKeyInFlight = errors.New("idempotency: request with this key is already in flight")

// Record is a completed command's replayable outcome.
type Record struct {
	TenantID    string
	Key         string
	StatusCode  int
	Body        json.RawMessage
	CompletedAt time.Time
}

// Store persists idempotency records with a TTL (spec.md §4.13: "TTL
// is a deployment knob (>=24h)"). Implemented over Redis
// (internal/adapters/redis/idempotency) as the fast path the spec's
// "on retries ... replayed verbatim" wording calls for.
type Store interface {
	// Reserve atomically claims key for tenantID if no record or
	// reservation exists yet. Returns false when the key is already
	// reserved or completed, so the caller knows whether this is an
	// original request or a concurrent/retried one.
	Reserve(ctx context.Context, tenantID, key string, ttl time.Duration) (bool, error)
	// Complete stores the final response under key, replacing the
	// reservation.
	Complete(ctx context.Context, record Record, ttl time.Duration) error
	// Get returns the completed record for (tenantID, key), or nil if
	// none exists yet (either never seen, or still in flight).
	Get(ctx context.Context, tenantID, key string) (*Record, error)
}

// Service is the thin command-boundary wrapper command handlers call
// around Store.
type Service struct {
	store Store
	ttl   time.Duration
}

// NewService builds a Service. ttl defaults to 24h, the spec's
// minimum deployment knob, when zero.
func NewService(store Store, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &Service{store: store, ttl: ttl}
}

// Outcome reports what a caller should do with an idempotency key.
type Outcome struct {
	// Replay is non-nil when a prior completion exists and must be
	// returned verbatim instead of re-running the command.
	Replay *Record
	// Proceed is true when the caller holds a fresh reservation and
	// should run the command, then call Complete.
	Proceed bool
}

// Begin resolves what to do with an idempotency key before running a
// command: replay a stored response, proceed because this is the
// first attempt, or reject because another attempt is in flight.
func (s *Service) Begin(ctx context.Context, tenantID, key string) (Outcome, error) {
	if existing, err := s.store.Get(ctx, tenantID, key); err != nil {
		return Outcome{}, err
	} else if existing != nil {
		return Outcome{Replay: existing}, nil
	}

	reserved, err := s.store.Reserve(ctx, tenantID, key, s.ttl)
	if err != nil {
		return Outcome{}, err
	}

	if !reserved {
		return Outcome{}, ErrKeyInFlight
	}

	return Outcome{Proceed: true}, nil
}

// Complete persists the command's outcome so future retries replay it.
func (s *Service) Complete(ctx context.Context, tenantID, key string, statusCode int, body json.RawMessage) error {
	return s.store.Complete(ctx, Record{
		TenantID: tenantID, Key: key, StatusCode: statusCode, Body: body, CompletedAt: time.Now().UTC(),
	}, s.ttl)
}

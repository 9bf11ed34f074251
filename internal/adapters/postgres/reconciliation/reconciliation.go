// Package reconciliation provides the Postgres-backed
// reconciliation.AdvisoryLocker and reconciliation.TenantLister used by
// the C11 scheduler. Grounded on spec.md §4.10/§9's advisory-lock
// leader-election design note.
package reconciliation

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/bxcodec/dbresolver/v2"

	"github.com/caseledger/casecore/pkg/motel"
)

// AdvisoryLock implements reconciliation.AdvisoryLocker over a single
// pinned connection: Postgres advisory locks are session-scoped, so
// TryAcquire and Release must share the same underlying session.
type AdvisoryLock struct {
	db  dbresolver.DB
	key int64

	mu   sync.Mutex
	conn *sql.Conn
}

// NewAdvisoryLock builds an AdvisoryLock keyed by key (spec.md §4.10's
// AdvisoryLockKey).
func NewAdvisoryLock(db dbresolver.DB, key int64) *AdvisoryLock {
	return &AdvisoryLock{db: db, key: key}
}

// TryAcquire attempts the non-blocking, cluster-wide exclusive lock. A
// false result with no error means another instance currently holds
// it; the caller is expected to skip this run silently (spec.md
// §4.10).
func (l *AdvisoryLock) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("postgres: advisory lock conn: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, l.key).Scan(&acquired); err != nil {
		_ = conn.Close()
		return false, fmt.Errorf("postgres: try advisory lock: %w", err)
	}

	if !acquired {
		_ = conn.Close()
		return false, nil
	}

	l.conn = conn

	return true, nil
}

// Release unlocks and returns the pinned connection to the pool.
// Release is always called from a deferred handler regardless of
// sweep outcome (spec.md §4.10).
func (l *AdvisoryLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}

	conn := l.conn
	l.conn = nil

	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, l.key); err != nil {
		return fmt.Errorf("postgres: release advisory lock: %w", err)
	}

	return nil
}

// TenantLister implements reconciliation.TenantLister over the case
// projection table.
type TenantLister struct {
	db dbresolver.DB
}

// NewTenantLister builds a TenantLister.
func NewTenantLister(db dbresolver.DB) *TenantLister {
	return &TenantLister{db: db}
}

// ListTenantIDs returns every tenant with at least one projected case.
func (t *TenantLister) ListTenantIDs(ctx context.Context) ([]string, error) {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "postgres.reconciliation.list_tenant_ids")
	defer span.End()

	rows, err := t.db.QueryContext(ctx, `SELECT DISTINCT tenant_id FROM case_projection ORDER BY tenant_id`)
	if err != nil {
		motel.HandleSpanError(&span, "list tenant ids", err)
		return nil, fmt.Errorf("postgres: list tenant ids: %w", err)
	}
	defer rows.Close()

	var tenantIDs []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			motel.HandleSpanError(&span, "scan tenant id", err)
			return nil, fmt.Errorf("postgres: scan tenant id: %w", err)
		}

		tenantIDs = append(tenantIDs, id)
	}

	return tenantIDs, rows.Err()
}

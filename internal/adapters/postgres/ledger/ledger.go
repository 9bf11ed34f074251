// Package ledger is the Postgres-backed Repository for the Ledger
// Authority (C1, C5). Grounded on
// components/ledger/internal/adapters/postgres/ledger/ledger.postgresql.go's
// span-per-query, dbresolver-routed style; the ts sequence follows
// components/ledger's use of a dedicated Postgres sequence for ordering
// keys.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/bxcodec/dbresolver/v2"

	domainledger "github.com/caseledger/casecore/internal/ledger"
	"github.com/caseledger/casecore/pkg/constant"
	"github.com/caseledger/casecore/pkg/mlog"
	"github.com/caseledger/casecore/pkg/motel"
)

// Repository is the Postgres implementation of domainledger.Repository.
type Repository struct {
	db     dbresolver.DB
	logger mlog.Logger
}

// NewRepository builds a Postgres ledger Repository.
func NewRepository(db dbresolver.DB, logger mlog.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// execer is satisfied by both dbresolver.DB and *sql.Tx, so queries can run
// inside a caller-supplied transaction or directly against the pool.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *Repository) handle(tx domainledger.Tx) execer {
	if tx == nil {
		return r.db
	}

	if t, ok := tx.(*sql.Tx); ok {
		return t
	}

	return r.db
}

// NextTS allocates the next global logical clock value from the
// ledger_global_seq sequence created by this component's migration.
func (r *Repository) NextTS(ctx context.Context, tx domainledger.Tx) (int64, error) {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "postgres.ledger.next_ts")
	defer span.End()

	row := r.handle(tx).QueryRowContext(ctx, `SELECT nextval('ledger_global_seq')`)

	var ts int64
	if err := row.Scan(&ts); err != nil {
		motel.HandleSpanError(&span, "scan nextval", err)
		return 0, err
	}

	return ts, nil
}

// Insert persists a sealed commit as a single append-only row.
func (r *Repository) Insert(ctx context.Context, tx domainledger.Tx, commit domainledger.Commit) error {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "postgres.ledger.insert")
	defer span.End()

	intentContext, err := json.Marshal(commit.IntentContext)
	if err != nil {
		motel.HandleSpanError(&span, "marshal intent context", err)
		return err
	}

	payload, err := json.Marshal(commit.Payload)
	if err != nil {
		motel.HandleSpanError(&span, "marshal payload", err)
		return err
	}

	_, err = r.handle(tx).ExecContext(ctx, `
		INSERT INTO ledger_commit (
			id, tenant_id, case_id, event_type, ts, actor_kind, actor_user_id,
			authority_proof, intent_context, payload, commitment_hash, signature,
			supersedes_commit_id, superseded_by_id, request_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		commit.ID, commit.TenantID, commit.CaseID, string(commit.EventType), commit.TS,
		string(commit.ActorKind), commit.ActorUserID, commit.AuthorityProof,
		intentContext, payload, commit.CommitmentHash, commit.Signature,
		commit.SupersedesCommitID, commit.SupersededByID, commit.RequestID, commit.CreatedAt,
	)
	if err != nil {
		motel.HandleSpanError(&span, "insert ledger_commit", err)
		return fmt.Errorf("postgres: insert commit: %w", err)
	}

	return nil
}

// MarkSuperseded sets the write-once superseded_by_id back-pointer. The
// WHERE clause enforces the write-once contract at the database layer: a
// commit that already has a superseded_by_id is never overwritten.
func (r *Repository) MarkSuperseded(ctx context.Context, tx domainledger.Tx, commitID, supersededByID string) error {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "postgres.ledger.mark_superseded")
	defer span.End()

	result, err := r.handle(tx).ExecContext(ctx, `
		UPDATE ledger_commit SET superseded_by_id = $1
		WHERE id = $2 AND superseded_by_id IS NULL`,
		supersededByID, commitID,
	)
	if err != nil {
		motel.HandleSpanError(&span, "update superseded_by_id", err)
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		motel.HandleSpanError(&span, "rows affected", err)
		return err
	}

	if rows == 0 {
		return constant.ErrCommitAlreadySuperseded
	}

	return nil
}

// GetCommit loads a single tenant-scoped commit, returning nil, nil when
// it does not exist (spec.md §4.5 treats "not found" as a caller-level
// decision, not an error).
func (r *Repository) GetCommit(ctx context.Context, tx domainledger.Tx, tenantID, commitID string) (*domainledger.Commit, error) {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "postgres.ledger.get_commit")
	defer span.End()

	row := r.handle(tx).QueryRowContext(ctx, commitSelectColumns+` FROM ledger_commit WHERE tenant_id = $1 AND id = $2`, tenantID, commitID)

	commit, err := scanCommit(row)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil
	}

	if err != nil {
		motel.HandleSpanError(&span, "scan commit", err)
		return nil, err
	}

	return commit, nil
}

// GetAuditTrail returns every commit for a case, oldest first.
func (r *Repository) GetAuditTrail(ctx context.Context, tenantID, caseID string) ([]domainledger.Commit, error) {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "postgres.ledger.get_audit_trail")
	defer span.End()

	rows, err := r.db.QueryContext(ctx, commitSelectColumns+` FROM ledger_commit WHERE tenant_id = $1 AND case_id = $2 ORDER BY ts ASC`, tenantID, caseID)
	if err != nil {
		motel.HandleSpanError(&span, "query audit trail", err)
		return nil, err
	}
	defer rows.Close()

	return scanCommits(rows)
}

// ListByTenant returns every commit for a tenant, oldest first.
func (r *Repository) ListByTenant(ctx context.Context, tenantID string) ([]domainledger.Commit, error) {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "postgres.ledger.list_by_tenant")
	defer span.End()

	rows, err := r.db.QueryContext(ctx, commitSelectColumns+` FROM ledger_commit WHERE tenant_id = $1 ORDER BY ts ASC`, tenantID)
	if err != nil {
		motel.HandleSpanError(&span, "query by tenant", err)
		return nil, err
	}
	defer rows.Close()

	return scanCommits(rows)
}

// Ping verifies connectivity to the underlying pool.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

const commitSelectColumns = `SELECT
	id, tenant_id, case_id, event_type, ts, actor_kind, actor_user_id,
	authority_proof, intent_context, payload, commitment_hash, signature,
	supersedes_commit_id, superseded_by_id, request_id, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommit(row rowScanner) (*domainledger.Commit, error) {
	var (
		c             domainledger.Commit
		eventType     string
		actorKind     string
		intentContext []byte
		payload       []byte
	)

	if err := row.Scan(
		&c.ID, &c.TenantID, &c.CaseID, &eventType, &c.TS, &actorKind, &c.ActorUserID,
		&c.AuthorityProof, &intentContext, &payload, &c.CommitmentHash, &c.Signature,
		&c.SupersedesCommitID, &c.SupersededByID, &c.RequestID, &c.CreatedAt,
	); err != nil {
		return nil, err
	}

	c.EventType = constant.EventType(eventType)
	c.ActorKind = domainledger.ActorKind(actorKind)

	if len(intentContext) > 0 {
		if err := json.Unmarshal(intentContext, &c.IntentContext); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal intent context: %w", err)
		}
	}

	if err := json.Unmarshal(payload, &c.Payload); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal payload: %w", err)
	}

	return &c, nil
}

func scanCommits(rows *sql.Rows) ([]domainledger.Commit, error) {
	var out []domainledger.Commit

	for rows.Next() {
		commit, err := scanCommit(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, *commit)
	}

	return out, rows.Err()
}

// Package projection is the Postgres-backed projection.Store (C8).
// Grounded on the teacher's ToEntity/FromEntity model-conversion split
// (components/ledger/internal/adapters/postgres/organization) adapted to
// four projection tables instead of one, and on the same
// span-per-query, dbresolver-routed access pattern as
// internal/adapters/postgres/ledger.
package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/bxcodec/dbresolver/v2"

	domainledger "github.com/caseledger/casecore/internal/ledger"
	"github.com/caseledger/casecore/internal/lifecycle"
	domainprojection "github.com/caseledger/casecore/internal/projection"
	"github.com/caseledger/casecore/pkg/motel"
)

// Repository is the Postgres implementation of projection.Store.
type Repository struct {
	db dbresolver.DB
}

// NewRepository builds a Postgres projection Repository.
func NewRepository(db dbresolver.DB) *Repository {
	return &Repository{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *Repository) handle(tx domainledger.Tx) execer {
	if t, ok := tx.(*sql.Tx); ok {
		return t
	}

	return r.db
}

// CreateCase inserts a new case projection row, starting at INTAKED.
func (r *Repository) CreateCase(ctx context.Context, tx domainledger.Tx, c domainprojection.Case) error {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "postgres.projection.create_case")
	defer span.End()

	_, err := r.handle(tx).ExecContext(ctx, `
		INSERT INTO case_projection (id, tenant_id, reference_code, lifecycle, status, author_user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.TenantID, c.ReferenceCode, string(c.Lifecycle), c.Status, c.AuthorUserID, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		motel.HandleSpanError(&span, "insert case_projection", err)
	}

	return err
}

// GetCase loads a case projection by tenant and id.
func (r *Repository) GetCase(ctx context.Context, tx domainledger.Tx, tenantID, caseID string) (*domainprojection.Case, error) {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "postgres.projection.get_case")
	defer span.End()

	row := r.handle(tx).QueryRowContext(ctx, `
		SELECT id, tenant_id, reference_code, lifecycle, status, author_user_id, created_at, updated_at
		FROM case_projection WHERE tenant_id = $1 AND id = $2`, tenantID, caseID)

	var (
		c     domainprojection.Case
		lcVal string
	)

	if err := row.Scan(&c.ID, &c.TenantID, &c.ReferenceCode, &lcVal, &c.Status, &c.AuthorUserID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil //nolint:nilnil
		}

		motel.HandleSpanError(&span, "scan case_projection", err)

		return nil, err
	}

	c.Lifecycle = lifecycleState(lcVal)

	return &c, nil
}

// UpdateCaseLifecycle flips the cached lifecycle field. Called only
// alongside a paired ledger commit (spec.md §3 invariant 7).
func (r *Repository) UpdateCaseLifecycle(ctx context.Context, tx domainledger.Tx, tenantID, caseID string, lc lifecycle.State) error {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "postgres.projection.update_case_lifecycle")
	defer span.End()

	_, err := r.handle(tx).ExecContext(ctx, `
		UPDATE case_projection SET lifecycle = $1, updated_at = now()
		WHERE tenant_id = $2 AND id = $3`, string(lc), tenantID, caseID,
	)
	if err != nil {
		motel.HandleSpanError(&span, "update lifecycle", err)
	}

	return err
}

// ListCasesByTenant lists every case for a tenant, used by the
// reconciliation scheduler's per-tenant sweep (C11).
func (r *Repository) ListCasesByTenant(ctx context.Context, tenantID string) ([]domainprojection.Case, error) {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "postgres.projection.list_cases_by_tenant")
	defer span.End()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, reference_code, lifecycle, status, author_user_id, created_at, updated_at
		FROM case_projection WHERE tenant_id = $1 ORDER BY created_at ASC`, tenantID)
	if err != nil {
		motel.HandleSpanError(&span, "query cases by tenant", err)
		return nil, err
	}
	defer rows.Close()

	var out []domainprojection.Case

	for rows.Next() {
		var (
			c    domainprojection.Case
			lcol string
		)

		if err := rows.Scan(&c.ID, &c.TenantID, &c.ReferenceCode, &lcol, &c.Status, &c.AuthorUserID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}

		c.Lifecycle = lifecycleState(lcol)
		out = append(out, c)
	}

	return out, rows.Err()
}

// UpsertDecision inserts or replaces a decision row by id.
func (r *Repository) UpsertDecision(ctx context.Context, tx domainledger.Tx, d domainprojection.Decision) error {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "postgres.projection.upsert_decision")
	defer span.End()

	intentContext, err := json.Marshal(d.IntentContext)
	if err != nil {
		return fmt.Errorf("postgres: marshal intent context: %w", err)
	}

	_, err = r.handle(tx).ExecContext(ctx, `
		INSERT INTO decision_projection (
			id, tenant_id, case_id, decision_type, actor_kind, actor_user_id,
			decided_at, reason, intent_context, superseded_at, supersedes_decision_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			reason = EXCLUDED.reason, superseded_at = EXCLUDED.superseded_at`,
		d.ID, d.TenantID, d.CaseID, string(d.DecisionType), d.ActorKind, d.ActorUserID,
		d.DecidedAt, d.Reason, intentContext, d.SupersededAt, d.SupersedesDecisionID,
	)
	if err != nil {
		motel.HandleSpanError(&span, "upsert decision_projection", err)
	}

	return err
}

// SupersedeDecision marks a decision row superseded (spec.md §3
// invariant 6: at most one non-superseded decision per (caseID,
// decisionType)).
func (r *Repository) SupersedeDecision(ctx context.Context, tx domainledger.Tx, tenantID, decisionID string) error {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "postgres.projection.supersede_decision")
	defer span.End()

	_, err := r.handle(tx).ExecContext(ctx, `
		UPDATE decision_projection SET superseded_at = now()
		WHERE tenant_id = $1 AND id = $2 AND superseded_at IS NULL`, tenantID, decisionID,
	)
	if err != nil {
		motel.HandleSpanError(&span, "supersede decision", err)
	}

	return err
}

// GetAuthoritativeDecision returns the single non-superseded decision of
// decisionType for a case, or nil.
func (r *Repository) GetAuthoritativeDecision(ctx context.Context, tenantID, caseID string, decisionType domainprojection.DecisionType) (*domainprojection.Decision, error) {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "postgres.projection.get_authoritative_decision")
	defer span.End()

	row := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, case_id, decision_type, actor_kind, actor_user_id, decided_at,
			reason, intent_context, superseded_at, supersedes_decision_id
		FROM decision_projection
		WHERE tenant_id = $1 AND case_id = $2 AND decision_type = $3 AND superseded_at IS NULL
		ORDER BY decided_at DESC LIMIT 1`, tenantID, caseID, string(decisionType))

	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil
	}

	if err != nil {
		motel.HandleSpanError(&span, "scan authoritative decision", err)
		return nil, err
	}

	return d, nil
}

// GetDecisionChain returns every decision of decisionType for a case,
// oldest first.
func (r *Repository) GetDecisionChain(ctx context.Context, tenantID, caseID string, decisionType domainprojection.DecisionType) ([]domainprojection.Decision, error) {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "postgres.projection.get_decision_chain")
	defer span.End()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, case_id, decision_type, actor_kind, actor_user_id, decided_at,
			reason, intent_context, superseded_at, supersedes_decision_id
		FROM decision_projection
		WHERE tenant_id = $1 AND case_id = $2 AND decision_type = $3
		ORDER BY decided_at ASC`, tenantID, caseID, string(decisionType))
	if err != nil {
		motel.HandleSpanError(&span, "query decision chain", err)
		return nil, err
	}
	defer rows.Close()

	var out []domainprojection.Decision

	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, *d)
	}

	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (*domainprojection.Decision, error) {
	var (
		d             domainprojection.Decision
		decisionType  string
		intentContext []byte
	)

	if err := row.Scan(&d.ID, &d.TenantID, &d.CaseID, &decisionType, &d.ActorKind, &d.ActorUserID, &d.DecidedAt,
		&d.Reason, &intentContext, &d.SupersededAt, &d.SupersedesDecisionID); err != nil {
		return nil, err
	}

	d.DecisionType = domainprojection.DecisionType(decisionType)

	if len(intentContext) > 0 {
		if err := json.Unmarshal(intentContext, &d.IntentContext); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal decision intent context: %w", err)
		}
	}

	return &d, nil
}

// UpsertExecution inserts or replaces a case's execution sub-state row.
func (r *Repository) UpsertExecution(ctx context.Context, tx domainledger.Tx, e domainprojection.Execution) error {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "postgres.projection.upsert_execution")
	defer span.End()

	progress, err := json.Marshal(e.Progress)
	if err != nil {
		return fmt.Errorf("postgres: marshal execution progress: %w", err)
	}

	_, err = r.handle(tx).ExecContext(ctx, `
		INSERT INTO execution_projection (id, tenant_id, case_id, status, progress, started_at, completed_at, aborted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (case_id) DO UPDATE SET
			status = EXCLUDED.status, progress = EXCLUDED.progress,
			completed_at = EXCLUDED.completed_at, aborted_at = EXCLUDED.aborted_at`,
		e.ID, e.TenantID, e.CaseID, string(e.Status), progress, e.StartedAt, e.CompletedAt, e.AbortedAt,
	)
	if err != nil {
		motel.HandleSpanError(&span, "upsert execution_projection", err)
	}

	return err
}

// GetExecution loads a case's execution sub-state.
func (r *Repository) GetExecution(ctx context.Context, tenantID, caseID string) (*domainprojection.Execution, error) {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "postgres.projection.get_execution")
	defer span.End()

	row := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, case_id, status, progress, started_at, completed_at, aborted_at
		FROM execution_projection WHERE tenant_id = $1 AND case_id = $2`, tenantID, caseID)

	var (
		e        domainprojection.Execution
		status   string
		progress []byte
	)

	if err := row.Scan(&e.ID, &e.TenantID, &e.CaseID, &status, &progress, &e.StartedAt, &e.CompletedAt, &e.AbortedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil //nolint:nilnil
		}

		motel.HandleSpanError(&span, "scan execution_projection", err)

		return nil, err
	}

	e.Status = domainprojection.ExecutionStatus(status)

	if len(progress) > 0 {
		if err := json.Unmarshal(progress, &e.Progress); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal execution progress: %w", err)
		}
	}

	return &e, nil
}

// UpsertVerificationRecord inserts or replaces a case's verification
// round.
func (r *Repository) UpsertVerificationRecord(ctx context.Context, tx domainledger.Tx, v domainprojection.VerificationRecord) error {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "postgres.projection.upsert_verification_record")
	defer span.End()

	requiredVerifiers, err := json.Marshal(v.RequiredVerifiers)
	if err != nil {
		return fmt.Errorf("postgres: marshal required verifiers: %w", err)
	}

	_, err = r.handle(tx).ExecContext(ctx, `
		INSERT INTO verification_record_projection (id, tenant_id, case_id, required_verifiers, consensus_reached, routed_at, verified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (case_id) DO UPDATE SET
			required_verifiers = EXCLUDED.required_verifiers,
			consensus_reached = EXCLUDED.consensus_reached,
			verified_at = EXCLUDED.verified_at`,
		v.ID, v.TenantID, v.CaseID, requiredVerifiers, v.ConsensusReached, v.RoutedAt, v.VerifiedAt,
	)
	if err != nil {
		motel.HandleSpanError(&span, "upsert verification_record_projection", err)
	}

	return err
}

// GetVerificationRecord loads a case's verification round.
func (r *Repository) GetVerificationRecord(ctx context.Context, tenantID, caseID string) (*domainprojection.VerificationRecord, error) {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "postgres.projection.get_verification_record")
	defer span.End()

	row := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, case_id, required_verifiers, consensus_reached, routed_at, verified_at
		FROM verification_record_projection WHERE tenant_id = $1 AND case_id = $2`, tenantID, caseID)

	var (
		v                 domainprojection.VerificationRecord
		requiredVerifiers []byte
	)

	if err := row.Scan(&v.ID, &v.TenantID, &v.CaseID, &requiredVerifiers, &v.ConsensusReached, &v.RoutedAt, &v.VerifiedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil //nolint:nilnil
		}

		motel.HandleSpanError(&span, "scan verification_record_projection", err)

		return nil, err
	}

	if len(requiredVerifiers) > 0 {
		if err := json.Unmarshal(requiredVerifiers, &v.RequiredVerifiers); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal required verifiers: %w", err)
		}
	}

	return &v, nil
}

func lifecycleState(s string) lifecycle.State { return lifecycle.State(s) }

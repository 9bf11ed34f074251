// Package disbursement is the Postgres-backed disbursement.Repository,
// grounded on components/ledger's operation repository (two-phase
// balance mutation: insert a pending row, transactionally flip its
// status under a later command).
package disbursement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bxcodec/dbresolver/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	domainledger "github.com/caseledger/casecore/internal/ledger"

	domaindisbursement "github.com/caseledger/casecore/internal/disbursement"
	"github.com/caseledger/casecore/pkg/constant"
	"github.com/caseledger/casecore/pkg/motel"
)

// uniqueCaseIDConstraint is the name Postgres assigns the unnamed UNIQUE
// constraint on disbursement.case_id (migration 000003_disbursement).
const uniqueCaseIDConstraint = "disbursement_case_id_key"

// Repository is the Postgres adapter for disbursement.Repository.
type Repository struct {
	db dbresolver.DB
}

// NewRepository builds a disbursement Repository over db.
func NewRepository(db dbresolver.DB) *Repository {
	return &Repository{db: db}
}

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

const selectColumns = `
	id, tenant_id, case_id, type, status, amount, currency, payee_kind, payee_id,
	actor_kind, actor_user_id, actor_authority_proof, verification_record_id, execution_id,
	authorized_at, executed_at, failed_at, failure_reason`

// GetByCaseID returns the disbursement for a case, or nil if none
// exists yet (spec.md §3: caseId is unique on Disbursement).
func (r *Repository) GetByCaseID(ctx context.Context, tx domainledger.Tx, tenantID, caseID string) (*domaindisbursement.Disbursement, error) {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "postgres.disbursement.get_by_case_id")
	defer span.End()

	row := r.handle(tx).QueryRowContext(ctx, `SELECT `+selectColumns+`
		FROM disbursement WHERE tenant_id = $1 AND case_id = $2`, tenantID, caseID)

	d, err := scanDisbursement(row)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil
	}

	if err != nil {
		motel.HandleSpanError(&span, "scan disbursement", err)
		return nil, fmt.Errorf("postgres: get disbursement: %w", err)
	}

	return d, nil
}

// GetByID resolves a disbursement by its own id.
func (r *Repository) GetByID(ctx context.Context, tenantID, disbursementID string) (*domaindisbursement.Disbursement, error) {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "postgres.disbursement.get_by_id")
	defer span.End()

	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+`
		FROM disbursement WHERE tenant_id = $1 AND id = $2`, tenantID, disbursementID)

	d, err := scanDisbursement(row)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil
	}

	if err != nil {
		motel.HandleSpanError(&span, "scan disbursement", err)
		return nil, fmt.Errorf("postgres: get disbursement by id: %w", err)
	}

	return d, nil
}

// Insert persists a newly authorized disbursement.
func (r *Repository) Insert(ctx context.Context, tx domainledger.Tx, d domaindisbursement.Disbursement) error {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "postgres.disbursement.insert")
	defer span.End()

	_, err := r.handle(tx).ExecContext(ctx, `
		INSERT INTO disbursement (
			id, tenant_id, case_id, type, status, amount, currency, payee_kind, payee_id,
			actor_kind, actor_user_id, actor_authority_proof, verification_record_id, execution_id,
			authorized_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		d.ID, d.TenantID, d.CaseID, d.Type, d.Status, d.Amount, d.Currency, d.Payee.Kind, d.Payee.ID,
		d.Actor.Kind, d.Actor.UserID, d.Actor.AuthorityProof, d.VerificationRecordID, d.ExecutionID,
		d.AuthorizedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == uniqueCaseIDConstraint {
			return constant.ErrDisbursementAlreadyExists
		}

		motel.HandleSpanError(&span, "insert disbursement", err)
		return fmt.Errorf("postgres: insert disbursement: %w", err)
	}

	return nil
}

// UpdateStatus persists a status transition plus its terminal
// timestamps (spec.md §3 invariant 6 is enforced by the service layer,
// not here: this adapter writes whatever status the caller validated).
func (r *Repository) UpdateStatus(ctx context.Context, tx domainledger.Tx, d domaindisbursement.Disbursement) error {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "postgres.disbursement.update_status")
	defer span.End()

	_, err := r.handle(tx).ExecContext(ctx, `
		UPDATE disbursement SET status = $1, executed_at = $2, failed_at = $3, failure_reason = $4
		WHERE id = $5 AND tenant_id = $6`,
		d.Status, d.ExecutedAt, d.FailedAt, d.FailureReason, d.ID, d.TenantID)
	if err != nil {
		motel.HandleSpanError(&span, "update disbursement status", err)
		return fmt.Errorf("postgres: update disbursement status: %w", err)
	}

	return nil
}

// ListStaleAuthorized returns AUTHORIZED disbursements whose
// authorizedAt predates olderThan, for stall reconciliation (spec.md
// §4.10).
func (r *Repository) ListStaleAuthorized(ctx context.Context, tenantID string, olderThan time.Time) ([]domaindisbursement.Disbursement, error) {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "postgres.disbursement.list_stale_authorized")
	defer span.End()

	rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+`
		FROM disbursement WHERE tenant_id = $1 AND status = $2 AND authorized_at < $3`,
		tenantID, domaindisbursement.StatusAuthorized, olderThan)
	if err != nil {
		motel.HandleSpanError(&span, "list stale authorized", err)
		return nil, fmt.Errorf("postgres: list stale authorized: %w", err)
	}
	defer rows.Close()

	var out []domaindisbursement.Disbursement

	for rows.Next() {
		d, err := scanDisbursement(rows)
		if err != nil {
			motel.HandleSpanError(&span, "scan disbursement row", err)
			return nil, fmt.Errorf("postgres: scan disbursement row: %w", err)
		}

		out = append(out, *d)
	}

	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDisbursement(row scanner) (*domaindisbursement.Disbursement, error) {
	var d domaindisbursement.Disbursement

	var amount decimal.Decimal

	if err := row.Scan(
		&d.ID, &d.TenantID, &d.CaseID, &d.Type, &d.Status, &amount, &d.Currency, &d.Payee.Kind, &d.Payee.ID,
		&d.Actor.Kind, &d.Actor.UserID, &d.Actor.AuthorityProof, &d.VerificationRecordID, &d.ExecutionID,
		&d.AuthorizedAt, &d.ExecutedAt, &d.FailedAt, &d.FailureReason,
	); err != nil {
		return nil, err
	}

	d.Amount = amount

	return &d, nil
}

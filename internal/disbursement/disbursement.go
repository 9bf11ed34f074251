// Package disbursement implements the two-phase Disbursement
// Authorization / Execution Protocol (C10). Grounded on
// components/ledger's balance/operation command services — insert a row
// in one status, transactionally flip it under a later command — and on
// spec.md §4.9's explicit algorithm.
package disbursement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/caseledger/casecore/internal/ledger"
	"github.com/caseledger/casecore/internal/lifecycle"
	"github.com/caseledger/casecore/internal/projection"
	"github.com/caseledger/casecore/pkg/constant"
	"github.com/caseledger/casecore/pkg/mlog"
	"github.com/caseledger/casecore/pkg/motel"
)

// Status is a Disbursement's lifecycle (spec.md §3).
type Status string

const (
	StatusAuthorized Status = "AUTHORIZED"
	StatusExecuting  Status = "EXECUTING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// allowedDisbursementTransitions enforces spec.md §3 invariant 6:
// AUTHORIZED -> EXECUTING -> {COMPLETED | FAILED}, no other edges.
var allowedDisbursementTransitions = map[Status]map[Status]bool{
	StatusAuthorized: {StatusExecuting: true},
	StatusExecuting:  {StatusCompleted: true, StatusFailed: true},
}

// Payee identifies who a Disbursement pays.
type Payee struct {
	Kind string
	ID   string
}

// Disbursement is the projection of a case's (at most one) money
// movement.
type Disbursement struct {
	ID                  string
	TenantID            string
	CaseID              string
	Type                string
	Status              Status
	Amount              decimal.Decimal
	Currency            string
	Payee               Payee
	Actor               ledger.Actor
	VerificationRecordID string
	ExecutionID         string
	AuthorizedAt        time.Time
	ExecutedAt          *time.Time
	FailedAt            *time.Time
	FailureReason       *string
}

// Repository is the persistence port for disbursement rows.
type Repository interface {
	GetByCaseID(ctx context.Context, tx ledger.Tx, tenantID, caseID string) (*Disbursement, error)
	// GetByID resolves a disbursement by its own id, used by the
	// execution worker to recover the owning caseId from an
	// EXECUTE_DISBURSEMENT message (SPEC_FULL.md §4.9.1).
	GetByID(ctx context.Context, tenantID, disbursementID string) (*Disbursement, error)
	Insert(ctx context.Context, tx ledger.Tx, d Disbursement) error
	UpdateStatus(ctx context.Context, tx ledger.Tx, d Disbursement) error
	ListStaleAuthorized(ctx context.Context, tenantID string, olderThan time.Time) ([]Disbursement, error)
}

// PayoutExecutor is the external payment-rail collaborator; casecore
// never implements an actual payout transport (spec.md §1 non-goals).
type PayoutExecutor interface {
	Pay(ctx context.Context, d Disbursement) error
}

// ExecutionPublisher hands a disbursement off for asynchronous
// execution (SPEC_FULL.md §4.9.1). The RabbitMQ-backed implementation
// lives in internal/adapters/rabbitmq/disbursement.
type ExecutionPublisher interface {
	PublishExecute(ctx context.Context, tenantID, disbursementID string) error
}

// AuthorizeResult is the tagged-union return of Authorize.
type AuthorizeResult struct {
	Kind           string // "AUTHORIZED" | "DENIED"
	DisbursementID string
	Reason         string
}

// AuthorizeInput is the request to Authorize.
type AuthorizeInput struct {
	TenantID string
	CaseID   string
	Type     string
	Amount   decimal.Decimal
	Currency string
	Payee    Payee
	Actor    ledger.Actor
}

// Service implements authorizeDisbursement, executeDisbursement, and
// reconcileDisbursements.
type Service struct {
	repo       Repository
	projection projection.Store
	authority  *ledger.Authority
	publisher  ExecutionPublisher
	executor   PayoutExecutor
	logger     mlog.Logger
	stallAfter time.Duration
}

// NewService builds a disbursement Service. stallAfter is the
// DISBURSEMENT_EXECUTION_TIMEOUT_MS config knob (default 24h).
func NewService(repo Repository, store projection.Store, authority *ledger.Authority, publisher ExecutionPublisher, executor PayoutExecutor, logger mlog.Logger, stallAfter time.Duration) *Service {
	return &Service{repo: repo, projection: store, authority: authority, publisher: publisher, executor: executor, logger: logger, stallAfter: stallAfter}
}

// Authorize implements spec.md §4.9's authorizeDisbursement. Callers
// are expected to run it inside a transaction threaded through tx so
// the pre-check, insert, and ledger append are atomic.
func (s *Service) Authorize(ctx context.Context, tx ledger.Tx, input AuthorizeInput) (AuthorizeResult, error) {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "disbursement.authorize")
	defer span.End()

	existing, err := s.repo.GetByCaseID(ctx, tx, input.TenantID, input.CaseID)
	if err != nil {
		motel.HandleSpanError(&span, "load existing disbursement", err)
		return AuthorizeResult{}, err
	}

	if existing != nil {
		if existing.Status == StatusAuthorized {
			return AuthorizeResult{Kind: "AUTHORIZED", DisbursementID: existing.ID}, nil
		}

		return AuthorizeResult{Kind: "DENIED", Reason: fmt.Sprintf("disbursement already exists in status %s", existing.Status)}, nil
	}

	c, err := s.projection.GetCase(ctx, tx, input.TenantID, input.CaseID)
	if err != nil {
		motel.HandleSpanError(&span, "load case", err)
		return AuthorizeResult{}, err
	}

	if c == nil {
		return AuthorizeResult{}, constant.ErrCaseNotFound
	}

	execution, err := s.projection.GetExecution(ctx, input.TenantID, input.CaseID)
	if err != nil {
		motel.HandleSpanError(&span, "load execution", err)
		return AuthorizeResult{}, err
	}

	verification, err := s.projection.GetVerificationRecord(ctx, input.TenantID, input.CaseID)
	if err != nil {
		motel.HandleSpanError(&span, "load verification record", err)
		return AuthorizeResult{}, err
	}

	if denyReason := evaluatePreconditions(c.Lifecycle, execution, verification); denyReason != "" {
		return AuthorizeResult{Kind: "DENIED", Reason: denyReason}, nil
	}

	caseID := input.CaseID
	disbursement := Disbursement{
		ID:                   uuid.NewString(),
		TenantID:             input.TenantID,
		CaseID:               input.CaseID,
		Type:                 input.Type,
		Status:               StatusAuthorized,
		Amount:               input.Amount,
		Currency:             input.Currency,
		Payee:                input.Payee,
		Actor:                input.Actor,
		VerificationRecordID: verification.ID,
		ExecutionID:          execution.ID,
		AuthorizedAt:         time.Now().UTC(),
	}

	if err := s.repo.Insert(ctx, tx, disbursement); err != nil {
		if errors.Is(err, constant.ErrDisbursementAlreadyExists) {
			// Another authorizeDisbursement call raced past the pre-check
			// above for the same case and won the unique constraint on
			// case_id. Postgres only surfaces this once the winner's
			// transaction has committed (the loser's insert blocks until
			// then), so the winning row is guaranteed visible to a fresh
			// read; any tx threaded into this call is aborted by the
			// failed statement, so the re-fetch deliberately bypasses it
			// (spec.md §7 "race/duplicate key", §8 S3).
			winner, getErr := s.repo.GetByCaseID(ctx, nil, input.TenantID, input.CaseID)
			if getErr != nil {
				motel.HandleSpanError(&span, "load disbursement after race", getErr)
				return AuthorizeResult{}, getErr
			}

			if winner != nil {
				return AuthorizeResult{Kind: "AUTHORIZED", DisbursementID: winner.ID}, nil
			}
		}

		motel.HandleSpanError(&span, "insert disbursement", err)
		return AuthorizeResult{}, err
	}

	if _, err := s.authority.AppendEntry(ctx, tx, ledger.AppendInput{
		TenantID:  input.TenantID,
		CaseID:    &caseID,
		EventType: constant.EventDisbursementAuthorized,
		Actor:     input.Actor,
		Payload: ledger.NewEnvelope("DISBURSEMENT", "AUTHORIZED", map[string]any{
			"disbursementId": disbursement.ID,
			"amount":         disbursement.Amount.String(),
			"currency":       disbursement.Currency,
		}),
	}); err != nil {
		motel.HandleSpanError(&span, "append ledger event", err)
		return AuthorizeResult{}, err
	}

	return AuthorizeResult{Kind: "AUTHORIZED", DisbursementID: disbursement.ID}, nil
}

// evaluatePreconditions implements spec.md §3 invariant 5: case must be
// VERIFIED, execution COMPLETED, and exactly one verification record
// with consensusReached=true.
func evaluatePreconditions(caseLifecycle lifecycle.State, execution *projection.Execution, verification *projection.VerificationRecord) string {
	if caseLifecycle != lifecycle.StateVerified {
		return "case lifecycle is not VERIFIED"
	}

	if execution == nil || execution.Status != projection.ExecutionStatusCompleted {
		return "execution is not COMPLETED"
	}

	if verification == nil || !verification.ConsensusReached {
		return "verification consensus not reached"
	}

	return ""
}

// AfterAuthorize hands the disbursement off for asynchronous execution
// once the authorizing transaction has committed (SPEC_FULL.md
// §4.9.1). Callers invoke this as a post-commit hook, never inside the
// same transaction as Authorize, since publish failures must not roll
// back an already-committed authorization.
func (s *Service) AfterAuthorize(ctx context.Context, result AuthorizeResult, tenantID string) error {
	if result.Kind != "AUTHORIZED" {
		return nil
	}

	return s.publisher.PublishExecute(ctx, tenantID, result.DisbursementID)
}

// Execute implements spec.md §4.9's executeDisbursement: load, require
// AUTHORIZED, mark EXECUTING for crash recovery, then branch on the
// payout outcome.
func (s *Service) Execute(ctx context.Context, tx ledger.Tx, tenantID, caseID string) error {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "disbursement.execute")
	defer span.End()

	d, err := s.repo.GetByCaseID(ctx, tx, tenantID, caseID)
	if err != nil {
		motel.HandleSpanError(&span, "load disbursement", err)
		return err
	}

	if d == nil {
		return constant.ErrDisbursementNotFound
	}

	if d.Status != StatusAuthorized {
		err := fmt.Errorf("%w: expected AUTHORIZED, got %s", constant.ErrDisbursementPreconditionFailed, d.Status)
		motel.HandleSpanError(&span, "invalid status for execute", err)

		return err
	}

	d.Status = StatusExecuting
	if err := s.repo.UpdateStatus(ctx, tx, *d); err != nil {
		motel.HandleSpanError(&span, "mark executing", err)
		return err
	}

	payErr := s.executor.Pay(ctx, *d)

	caseIDCopy := caseID
	now := time.Now().UTC()

	if payErr == nil {
		d.Status = StatusCompleted
		d.ExecutedAt = &now

		if err := s.repo.UpdateStatus(ctx, tx, *d); err != nil {
			motel.HandleSpanError(&span, "mark completed", err)
			return err
		}

		_, err := s.authority.AppendEntry(ctx, tx, ledger.AppendInput{
			TenantID: tenantID, CaseID: &caseIDCopy, EventType: constant.EventDisbursementCompleted,
			Actor:   ledger.Actor{Kind: ledger.ActorSystem, AuthorityProof: "SYSTEM:disbursement_worker"},
			Payload: ledger.NewEnvelope("DISBURSEMENT", "COMPLETED", map[string]any{"disbursementId": d.ID}),
		})
		if err != nil {
			motel.HandleSpanError(&span, "append completed event", err)
			return err
		}

		return nil
	}

	reason := payErr.Error()
	d.Status = StatusFailed
	d.FailedAt = &now
	d.FailureReason = &reason

	if err := s.repo.UpdateStatus(ctx, tx, *d); err != nil {
		motel.HandleSpanError(&span, "mark failed", err)
		return err
	}

	_, err = s.authority.AppendEntry(ctx, tx, ledger.AppendInput{
		TenantID: tenantID, CaseID: &caseIDCopy, EventType: constant.EventDisbursementFailed,
		Actor:   ledger.Actor{Kind: ledger.ActorSystem, AuthorityProof: "SYSTEM:disbursement_worker"},
		Payload: ledger.NewEnvelope("DISBURSEMENT", "FAILED", map[string]any{"disbursementId": d.ID, "reason": reason}),
	})
	if err != nil {
		motel.HandleSpanError(&span, "append failed event", err)
		return err
	}

	return nil
}

// ReconcileStalled implements spec.md §4.10's stall reconciliation:
// disbursements AUTHORIZED longer than stallAfter each get a
// DISBURSEMENT_STALLED commit, appended with a nil tx (no enclosing
// transaction); a failed append is logged and skipped. Duplicate
// emission under retries is acceptable (supersession rules prevent
// corruption), so this never de-dupes against prior stall commits.
func (s *Service) ReconcileStalled(ctx context.Context, tenantID string) (int, error) {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "disbursement.reconcile_stalled")
	defer span.End()

	cutoff := time.Now().UTC().Add(-s.stallAfter)

	stale, err := s.repo.ListStaleAuthorized(ctx, tenantID, cutoff)
	if err != nil {
		motel.HandleSpanError(&span, "list stale authorized", err)
		return 0, err
	}

	stalled := 0

	for _, d := range stale {
		caseID := d.CaseID

		_, err := s.authority.AppendEntry(ctx, nil, ledger.AppendInput{
			TenantID: tenantID, CaseID: &caseID, EventType: constant.EventDisbursementStalled,
			Actor:   ledger.Actor{Kind: ledger.ActorSystem, AuthorityProof: "SYSTEM:reconciliation_job"},
			Payload: ledger.NewEnvelope("DISBURSEMENT", "STALLED", map[string]any{"disbursementId": d.ID}),
		})
		if err != nil {
			s.logger.Errorf("disbursement: stall commit failed for %s: %v", d.ID, err)
			continue
		}

		stalled++
	}

	return stalled, nil
}

// IsAllowedDisbursementTransition reports whether a disbursement may
// move from 'from' to 'to' (spec.md §3 invariant 6).
func IsAllowedDisbursementTransition(from, to Status) bool {
	return allowedDisbursementTransitions[from][to]
}

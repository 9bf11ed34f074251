// Package reconciliation implements the Lifecycle Reconciliation Engine
// (C11): a cluster-safe periodic drift detector and repair path.
// Grounded on the leader-election design note in spec.md §4.10/§9 (a
// Postgres advisory lock standing in for the teacher's usual
// lease-row pattern) and on components/ledger/internal/services'
// "validate then commit" shape, reused here for drift repair instead of
// a user-initiated command.
package reconciliation

import (
	"context"
	"fmt"

	"github.com/caseledger/casecore/internal/ledger"
	"github.com/caseledger/casecore/internal/lifecycle"
	"github.com/caseledger/casecore/internal/projection"
	"github.com/caseledger/casecore/pkg/constant"
	"github.com/caseledger/casecore/pkg/mlog"
	"github.com/caseledger/casecore/pkg/motel"
)

// authorityProofReconciliationJob is the fixed authorityProof the
// reconciliation job's repair commits carry (spec.md §4.10).
const authorityProofReconciliationJob = "RECONCILIATION_JOB"

// TxRunner composes a ledger commit with a projection write in one
// database transaction. Defined locally so this package depends on a
// capability, not a concrete adapter.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(tx ledger.Tx) error) error
}

// LifecycleReconciliationService implements the per-case repair
// described in spec.md §4.10: replay the ledger through the C7 fold,
// compare against the cached projection, and if drifted, repair
// exclusively through a LIFECYCLE_REPAIRED ledger commit — never by
// mutating the projection directly outside that commit's transaction.
type LifecycleReconciliationService struct {
	authority  *ledger.Authority
	projection projection.Store
	txRunner   TxRunner
	logger     mlog.Logger
}

// NewLifecycleReconciliationService builds a
// LifecycleReconciliationService.
func NewLifecycleReconciliationService(authority *ledger.Authority, store projection.Store, txRunner TxRunner, logger mlog.Logger) *LifecycleReconciliationService {
	return &LifecycleReconciliationService{authority: authority, projection: store, txRunner: txRunner, logger: logger}
}

// ReconcileCase reports whether the case's projection had drifted from
// its ledger-derived lifecycle, repairing it if so.
func (s *LifecycleReconciliationService) ReconcileCase(ctx context.Context, tenantID, caseID string) (drifted bool, err error) {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "reconciliation.reconcile_case")
	defer span.End()

	c, err := s.projection.GetCase(ctx, nil, tenantID, caseID)
	if err != nil {
		motel.HandleSpanError(&span, "load case", err)
		return false, err
	}

	if c == nil {
		return false, constant.ErrCaseNotFound
	}

	commits, err := s.authority.GetAuditTrail(ctx, tenantID, caseID)
	if err != nil {
		motel.HandleSpanError(&span, "load audit trail", err)
		return false, err
	}

	derived := lifecycle.DeriveLifecycle(commits)
	if derived == c.Lifecycle {
		return false, nil
	}

	from := c.Lifecycle
	caseIDCopy := caseID

	err = s.txRunner.RunInTx(ctx, func(tx ledger.Tx) error {
		_, err := s.authority.AppendEntry(ctx, tx, ledger.AppendInput{
			TenantID:  tenantID,
			CaseID:    &caseIDCopy,
			EventType: constant.EventLifecycleRepaired,
			Actor:     ledger.Actor{Kind: ledger.ActorSystem, AuthorityProof: authorityProofReconciliationJob},
			Payload: ledger.NewEnvelope("CASE_LIFECYCLE", "REPAIR", map[string]any{
				"from": string(from),
				"to":   string(derived),
			}),
		})
		if err != nil {
			return err
		}

		return s.projection.UpdateCaseLifecycle(ctx, tx, tenantID, caseID, derived)
	})
	if err != nil {
		motel.HandleSpanError(&span, "repair drift", err)
		return false, fmt.Errorf("reconciliation: repair %s/%s: %w", tenantID, caseID, err)
	}

	return true, nil
}

package projection

import (
	"context"

	"github.com/caseledger/casecore/internal/ledger"
	"github.com/caseledger/casecore/internal/lifecycle"
)

// Store is the persistence port for the full projection family (C8).
// Every mutator accepts a ledger.Tx so callers can compose a projection
// write with the ledger commit that causes it in one transaction.
type Store interface {
	CreateCase(ctx context.Context, tx ledger.Tx, c Case) error
	GetCase(ctx context.Context, tx ledger.Tx, tenantID, caseID string) (*Case, error)
	UpdateCaseLifecycle(ctx context.Context, tx ledger.Tx, tenantID, caseID string, lc lifecycle.State) error
	ListCasesByTenant(ctx context.Context, tenantID string) ([]Case, error)

	UpsertDecision(ctx context.Context, tx ledger.Tx, d Decision) error
	SupersedeDecision(ctx context.Context, tx ledger.Tx, tenantID, decisionID string) error
	GetAuthoritativeDecision(ctx context.Context, tenantID, caseID string, decisionType DecisionType) (*Decision, error)
	GetDecisionChain(ctx context.Context, tenantID, caseID string, decisionType DecisionType) ([]Decision, error)

	UpsertExecution(ctx context.Context, tx ledger.Tx, e Execution) error
	GetExecution(ctx context.Context, tenantID, caseID string) (*Execution, error)

	UpsertVerificationRecord(ctx context.Context, tx ledger.Tx, v VerificationRecord) error
	GetVerificationRecord(ctx context.Context, tenantID, caseID string) (*VerificationRecord, error)
}

// LifecycleAdapter narrows a Store down to the two methods
// lifecycle.TransitionService needs, so the transition service depends
// on a minimal port instead of the full projection Store.
type LifecycleAdapter struct {
	store Store
}

// NewLifecycleAdapter wraps store as a lifecycle.ProjectionStore.
func NewLifecycleAdapter(store Store) *LifecycleAdapter {
	return &LifecycleAdapter{store: store}
}

func (a *LifecycleAdapter) GetCase(ctx context.Context, tx ledger.Tx, tenantID, caseID string) (*lifecycle.Case, error) {
	c, err := a.store.GetCase(ctx, tx, tenantID, caseID)
	if err != nil || c == nil {
		return nil, err
	}

	return &lifecycle.Case{ID: c.ID, TenantID: c.TenantID, Lifecycle: c.Lifecycle}, nil
}

func (a *LifecycleAdapter) UpdateLifecycle(ctx context.Context, tx ledger.Tx, tenantID, caseID string, lc lifecycle.State) error {
	return a.store.UpdateCaseLifecycle(ctx, tx, tenantID, caseID, lc)
}

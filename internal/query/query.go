// Package query implements the Read Query Surface (C12): read-only
// projections over the ledger and the projection store. No function
// here ever writes — the Non-goals in spec.md §1 explicitly exclude
// acting as a query planner or policy arbiter, so this package only
// answers questions, it never decides anything.
package query

import (
	"context"
	"fmt"

	"github.com/caseledger/casecore/internal/ledger"
	"github.com/caseledger/casecore/internal/lifecycle"
	"github.com/caseledger/casecore/internal/projection"
	"github.com/caseledger/casecore/pkg/constant"
	"github.com/caseledger/casecore/pkg/motel"
)

// RoutingDecisionType is the DecisionType recorded by the routing
// command (spec.md §4.11's getRoutingCounterfactual reads this type's
// authoritative row).
const RoutingDecisionType projection.DecisionType = "ROUTING"

// Service answers the five read-only queries spec.md §4.11 names.
type Service struct {
	authority *ledger.Authority
	store     projection.Store
}

// NewService builds a query Service.
func NewService(authority *ledger.Authority, store projection.Store) *Service {
	return &Service{authority: authority, store: store}
}

// GetAuthoritativeDecision returns the single non-superseded decision
// of decisionType for a case, or nil if none exists.
func (s *Service) GetAuthoritativeDecision(ctx context.Context, tenantID, caseID string, decisionType projection.DecisionType) (*projection.Decision, error) {
	return s.store.GetAuthoritativeDecision(ctx, tenantID, caseID, decisionType)
}

// GetDecisionChain returns every decision of decisionType for a case,
// ascending by decidedAt.
func (s *Service) GetDecisionChain(ctx context.Context, tenantID, caseID string, decisionType projection.DecisionType) ([]projection.Decision, error) {
	return s.store.GetDecisionChain(ctx, tenantID, caseID, decisionType)
}

// LifecycleExplanation is the result of ExplainLifecycle (spec.md
// §4.11).
type LifecycleExplanation struct {
	StoredLifecycle        lifecycle.State
	LedgerDerivedLifecycle lifecycle.State
	Drift                  bool
	CausedByDecisionID     *string
}

// ExplainLifecycle replays a case's ledger ascending, runs the C7
// fold, and compares the result against the cached projection — the
// same comparison the C11 scheduler makes, exposed here as a read-only
// diagnostic rather than a repair trigger. When drift is detected,
// CausedByDecisionID best-effort names the case's current authoritative
// routing decision, since routing is the decision most likely to have
// moved lifecycle out from under the projection; spec.md is silent on
// a precise attribution rule beyond "drift-causing decision", so this
// is a heuristic, not a guarantee (see DESIGN.md).
func (s *Service) ExplainLifecycle(ctx context.Context, tenantID, caseID string) (*LifecycleExplanation, error) {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "query.explain_lifecycle")
	defer span.End()

	c, err := s.store.GetCase(ctx, nil, tenantID, caseID)
	if err != nil {
		motel.HandleSpanError(&span, "load case", err)
		return nil, err
	}

	if c == nil {
		return nil, constant.ErrCaseNotFound
	}

	commits, err := s.authority.GetAuditTrail(ctx, tenantID, caseID)
	if err != nil {
		motel.HandleSpanError(&span, "load audit trail", err)
		return nil, err
	}

	derived := lifecycle.DeriveLifecycle(commits)
	explanation := &LifecycleExplanation{
		StoredLifecycle:        c.Lifecycle,
		LedgerDerivedLifecycle: derived,
		Drift:                  derived != c.Lifecycle,
	}

	if explanation.Drift {
		if d, err := s.store.GetAuthoritativeDecision(ctx, tenantID, caseID, RoutingDecisionType); err == nil && d != nil {
			id := d.ID
			explanation.CausedByDecisionID = &id
		}
	}

	return explanation, nil
}

// GetLedgerTrail returns every commit for a case in stable ts order
// (spec.md §4.11, §4.5).
func (s *Service) GetLedgerTrail(ctx context.Context, tenantID, caseID string) ([]ledger.Commit, error) {
	return s.authority.GetAuditTrail(ctx, tenantID, caseID)
}

// RoutingCounterfactual is the read-only simulation artifact spec.md
// §4.11/Glossary describes: alternatives considered at a routing
// decision point. There is no dedicated projection table for it in
// spec.md §3's data model, so it is carried inline on the routing
// Decision's IntentContext under the "counterfactual" key — the same
// free-form map every Decision already carries for its deciding
// context — rather than inventing a sixth projection entity the spec
// never names (see DESIGN.md).
type RoutingCounterfactual struct {
	DecisionID   string
	Alternatives map[string]any
}

// GetRoutingCounterfactual returns the case's recorded routing
// counterfactual, or nil if none was recorded.
func (s *Service) GetRoutingCounterfactual(ctx context.Context, tenantID, caseID string) (*RoutingCounterfactual, error) {
	d, err := s.store.GetAuthoritativeDecision(ctx, tenantID, caseID, RoutingDecisionType)
	if err != nil {
		return nil, fmt.Errorf("query: routing counterfactual: %w", err)
	}

	if d == nil {
		return nil, nil //nolint:nilnil
	}

	raw, ok := d.IntentContext["counterfactual"]
	if !ok {
		return nil, nil //nolint:nilnil
	}

	alternatives, ok := raw.(map[string]any)
	if !ok {
		return nil, nil //nolint:nilnil
	}

	return &RoutingCounterfactual{DecisionID: d.ID, Alternatives: alternatives}, nil
}

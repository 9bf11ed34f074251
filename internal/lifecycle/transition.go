package lifecycle

import (
	"context"
	"fmt"

	"github.com/caseledger/casecore/internal/ledger"
	"github.com/caseledger/casecore/pkg/constant"
	"github.com/caseledger/casecore/pkg/motel"
)

// allowedTransitions is the state machine spec.md §4.8 defers to "the
// table in §3": §3 only enumerates the state set and the terminal
// subset, so this table is the concrete realization of that contract —
// every non-terminal state may move to any state reachable by a single
// forward step of the happy path, or to FLAGGED/REJECTED from review,
// or to a terminal state from DISBURSED/FLAGGED. Terminal states have no
// outgoing edges. See DESIGN.md for this decision.
var allowedTransitions = map[State]map[State]bool{
	StateIntaked:   {StateRouted: true, StateFlagged: true, StateRejected: true},
	StateRouted:    {StateExecuting: true, StateFlagged: true, StateRejected: true},
	StateExecuting: {StateVerified: true, StateFlagged: true, StateRejected: true},
	StateVerified:  {StateDisbursed: true, StateFlagged: true, StateRejected: true},
	StateDisbursed: {StateClosed: true, StateArchived: true},
	StateFlagged:   {StateRouted: true, StateExecuting: true, StateVerified: true, StateRejected: true, StateArchived: true},
}

// IsAllowedTransition reports whether a case may move from 'from' to
// 'to'.
func IsAllowedTransition(from, to State) bool {
	return allowedTransitions[from][to]
}

// Case is the minimal projection shape the transition service needs.
type Case struct {
	ID        string
	TenantID  string
	Lifecycle State
}

// ProjectionStore is the port the transition service updates in the same
// transaction as its ledger commit.
type ProjectionStore interface {
	GetCase(ctx context.Context, tx ledger.Tx, tenantID, caseID string) (*Case, error)
	UpdateLifecycle(ctx context.Context, tx ledger.Tx, tenantID, caseID string, lifecycle State) error
}

// TransitionInput is the request to TransitionService.Transition.
type TransitionInput struct {
	TenantID string
	CaseID   string
	Target   State
	Actor    ledger.Actor
}

// TransitionService implements transitionCaseLifecycleWithLedger (C9):
// commit the ledger event and update the projection in one transaction.
type TransitionService struct {
	authority  *ledger.Authority
	projection ProjectionStore
}

// NewTransitionService builds a TransitionService.
func NewTransitionService(authority *ledger.Authority, projection ProjectionStore) *TransitionService {
	return &TransitionService{authority: authority, projection: projection}
}

// Transition loads the case, checks the transition is legal, appends a
// CASE_LIFECYCLE/TRANSITION commit, and updates the projection — all
// within tx. Callers own the transaction boundary (spec.md §9
// "transactional composition"); Transition never opens its own.
func (s *TransitionService) Transition(ctx context.Context, tx ledger.Tx, input TransitionInput) (*ledger.Commit, error) {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "lifecycle.transition")
	defer span.End()

	current, err := s.projection.GetCase(ctx, tx, input.TenantID, input.CaseID)
	if err != nil {
		motel.HandleSpanError(&span, "load case", err)
		return nil, err
	}

	if current == nil {
		return nil, constant.ErrCaseNotFound
	}

	if !IsAllowedTransition(current.Lifecycle, input.Target) {
		err := fmt.Errorf("%w: %s -> %s", constant.ErrIllegalLifecycleTransition, current.Lifecycle, input.Target)
		motel.HandleSpanError(&span, "illegal transition", err)

		return nil, err
	}

	caseID := input.CaseID
	commit, err := s.authority.AppendEntry(ctx, tx, ledger.AppendInput{
		TenantID:  input.TenantID,
		CaseID:    &caseID,
		EventType: eventTypeForTarget(input.Target),
		Actor:     input.Actor,
		Payload: ledger.NewEnvelope("CASE_LIFECYCLE", "TRANSITION", map[string]any{
			"from": string(current.Lifecycle),
			"to":   string(input.Target),
		}),
	})
	if err != nil {
		motel.HandleSpanError(&span, "append ledger event", err)
		return nil, err
	}

	if err := s.projection.UpdateLifecycle(ctx, tx, input.TenantID, input.CaseID, input.Target); err != nil {
		motel.HandleSpanError(&span, "update projection", err)
		return nil, err
	}

	return commit, nil
}

// eventTypeForTarget maps a destination lifecycle state to the ledger
// event type that causes it under the C7 deriver, so that the committed
// event and the projection update it pairs with always agree under
// replay.
func eventTypeForTarget(target State) constant.EventType {
	switch target {
	case StateRouted:
		return constant.EventRouted
	case StateExecuting:
		return constant.EventExecutionStarted
	case StateVerified:
		return constant.EventVerified
	case StateDisbursed:
		return constant.EventDisbursementCompleted
	case StateFlagged:
		return constant.EventCaseFlagged
	case StateRejected:
		return constant.EventCaseRejected
	case StateArchived:
		return constant.EventCaseArchived
	case StateClosed:
		// No dedicated event exists for CLOSED; the envelope itself
		// (domain CASE_LIFECYCLE, event TRANSITION) carries the target
		// and the deriver special-cases this combination.
		return constant.EventCaseUpdated
	default:
		return constant.EventCaseUpdated
	}
}

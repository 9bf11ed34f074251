// Package lifecycle implements the Case Lifecycle Engine: the pure
// ledger-to-state fold (C7) and the transition service that gates state
// changes behind a ledger commit (C9). Grounded on
// components/ledger/internal/services/command's "validate then commit"
// use-case shape, generalized to a pure function plus a small state
// machine table instead of a CRUD write.
package lifecycle

import (
	"github.com/caseledger/casecore/internal/ledger"
	"github.com/caseledger/casecore/pkg/constant"
)

// State is a case lifecycle state (spec.md §3).
type State string

const (
	StateIntaked   State = "INTAKED"
	StateRouted    State = "ROUTED"
	StateExecuting State = "EXECUTING"
	StateVerified  State = "VERIFIED"
	StateDisbursed State = "DISBURSED"
	StateClosed    State = "CLOSED"
	StateFlagged   State = "FLAGGED"
	StateRejected  State = "REJECTED"
	StateArchived  State = "ARCHIVED"
)

// Terminal is the set of states a case never leaves once reached.
var Terminal = map[State]bool{
	StateClosed:   true,
	StateRejected: true,
	StateArchived: true,
}

// DeriveLifecycle is the pure fold from spec.md §4.7: starting from
// INTAKED, each commit's event type advances or leaves the accumulator
// unchanged according to a fixed table. Only event types that are
// themselves case-lifecycle transitions move the case; verification,
// decision, grant/budget, and appeal sub-events belong to other
// projections (VerificationRecord, Decision, Execution) and leave
// lifecycle untouched here — the same "ignore what this fold doesn't
// understand" principle the spec applies to unrecognized event types,
// extended to recognized-but-out-of-scope ones (see DESIGN.md).
//
// Determinism is structural: no wall-clock, no randomness, no map
// iteration — the same ordered input always produces the same output.
func DeriveLifecycle(commits []ledger.Commit) State {
	state := StateIntaked

	for _, c := range commits {
		state = applyEvent(state, c)
	}

	return state
}

func applyEvent(state State, c ledger.Commit) State {
	switch c.EventType {
	case constant.EventCaseCreated:
		return StateIntaked
	case constant.EventRouted:
		return StateRouted
	case constant.EventExecutionStarted:
		return StateExecuting
	case constant.EventExecutionCompleted:
		// Verification is still pending; the case stays EXECUTING until
		// a VERIFIED event arrives.
		return StateExecuting
	case constant.EventVerified:
		return StateVerified
	case constant.EventDisbursementCompleted:
		return StateDisbursed
	case constant.EventCaseFlagged, constant.EventCaseEscalated, constant.EventVerificationTimedOut, constant.EventDisbursementFailed:
		return StateFlagged
	case constant.EventCaseRejected:
		return StateRejected
	case constant.EventCaseArchived:
		return StateArchived
	case constant.EventLifecycleRepaired:
		return targetFromRepairPayload(c.Payload, state)
	case constant.EventCaseUpdated:
		// The event enumeration has no dedicated event for reaching
		// CLOSED (every other terminal state — REJECTED, ARCHIVED — has
		// one). The transition service (C9) closes this gap by
		// committing CASE_UPDATED carrying a {domain:"CASE_LIFECYCLE",
		// event:"TRANSITION"} envelope when the target has no natural
		// event of its own; any other CASE_UPDATED commit is a true
		// no-op here. See DESIGN.md.
		if c.Payload.Domain == "CASE_LIFECYCLE" && c.Payload.Event == "TRANSITION" {
			return targetFromRepairPayload(c.Payload, state)
		}

		return state
	default:
		// ROUTING_SUPERSEDED, EXECUTION_ABORTED, VERIFICATION_STARTED,
		// VERIFICATION_SUBMITTED, APPEAL_OPENED, APPEAL_RESOLVED,
		// DISBURSEMENT_AUTHORIZED, DISBURSEMENT_STALLED, CASE_ACCEPTED,
		// GRANT_CREATED, GRANT_POLICY_APPLIED, BUDGET_ALLOCATED,
		// TRANCHE_RELEASED, BUDGET_SUPERSEDED, TRANCHE_REVERSED: none of
		// these move case lifecycle.
		return state
	}
}

// targetFromRepairPayload reads data.to from a LIFECYCLE_REPAIRED
// envelope. A malformed or missing field leaves the state unchanged
// rather than panicking — the fold must never fail.
func targetFromRepairPayload(payload ledger.Envelope, fallback State) State {
	to, ok := payload.Data["to"].(string)
	if !ok || to == "" {
		return fallback
	}

	return State(to)
}

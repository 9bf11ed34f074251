package lifecycle_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/caseledger/casecore/internal/ledger"
	"github.com/caseledger/casecore/internal/lifecycle"
	"github.com/caseledger/casecore/pkg/constant"
)

func commitOf(eventType constant.EventType) ledger.Commit {
	return ledger.Commit{EventType: eventType, Payload: ledger.NewEnvelope("case", "x", nil)}
}

func TestDeriveLifecycleEmptyHistoryIsIntaked(t *testing.T) {
	t.Parallel()
	assert.Equal(t, lifecycle.StateIntaked, lifecycle.DeriveLifecycle(nil))
}

func TestDeriveLifecycleHappyPath(t *testing.T) {
	t.Parallel()

	commits := []ledger.Commit{
		commitOf(constant.EventCaseCreated),
		commitOf(constant.EventRouted),
		commitOf(constant.EventExecutionStarted),
		commitOf(constant.EventExecutionCompleted),
		commitOf(constant.EventVerified),
		commitOf(constant.EventDisbursementAuthorized),
		commitOf(constant.EventDisbursementCompleted),
	}

	assert.Equal(t, lifecycle.StateDisbursed, lifecycle.DeriveLifecycle(commits))
}

func TestDeriveLifecycleIgnoresNonLifecycleEvents(t *testing.T) {
	t.Parallel()

	commits := []ledger.Commit{
		commitOf(constant.EventRouted),
		commitOf(constant.EventExecutionStarted),
		commitOf(constant.EventVerificationStarted),
		commitOf(constant.EventVerificationSubmitted),
		commitOf(constant.EventGrantCreated),
	}

	assert.Equal(t, lifecycle.StateExecuting, lifecycle.DeriveLifecycle(commits))
}

func TestDeriveLifecycleFlagsOnVerificationTimeoutAndDisbursementFailure(t *testing.T) {
	t.Parallel()

	timedOut := []ledger.Commit{
		commitOf(constant.EventRouted),
		commitOf(constant.EventExecutionStarted),
		commitOf(constant.EventVerificationTimedOut),
	}
	assert.Equal(t, lifecycle.StateFlagged, lifecycle.DeriveLifecycle(timedOut))

	disbursementFailed := []ledger.Commit{
		commitOf(constant.EventRouted),
		commitOf(constant.EventExecutionStarted),
		commitOf(constant.EventExecutionCompleted),
		commitOf(constant.EventVerified),
		commitOf(constant.EventDisbursementAuthorized),
		commitOf(constant.EventDisbursementFailed),
	}
	assert.Equal(t, lifecycle.StateFlagged, lifecycle.DeriveLifecycle(disbursementFailed))
}

func TestDeriveLifecycleRepairOverridesToTargetState(t *testing.T) {
	t.Parallel()

	repair := ledger.Commit{
		EventType: constant.EventLifecycleRepaired,
		Payload:   ledger.NewEnvelope("CASE_LIFECYCLE", "LIFECYCLE_REPAIRED", map[string]any{"from": "EXECUTING", "to": "VERIFIED"}),
	}

	commits := []ledger.Commit{
		commitOf(constant.EventRouted),
		commitOf(constant.EventExecutionStarted),
		repair,
	}

	assert.Equal(t, lifecycle.StateVerified, lifecycle.DeriveLifecycle(commits))
}

func TestDeriveLifecycleTransitionEnvelopeReachesClosed(t *testing.T) {
	t.Parallel()

	transition := ledger.Commit{
		EventType: constant.EventCaseUpdated,
		Payload:   ledger.NewEnvelope("CASE_LIFECYCLE", "TRANSITION", map[string]any{"from": "DISBURSED", "to": "CLOSED"}),
	}

	commits := []ledger.Commit{
		commitOf(constant.EventRouted),
		commitOf(constant.EventExecutionStarted),
		commitOf(constant.EventVerified),
		commitOf(constant.EventDisbursementCompleted),
		transition,
	}

	assert.Equal(t, lifecycle.StateClosed, lifecycle.DeriveLifecycle(commits))
}

func TestDeriveLifecyclePlainCaseUpdatedIsNoOp(t *testing.T) {
	t.Parallel()

	commits := []ledger.Commit{
		commitOf(constant.EventRouted),
		commitOf(constant.EventCaseUpdated),
	}

	assert.Equal(t, lifecycle.StateRouted, lifecycle.DeriveLifecycle(commits))
}

func TestDeriveLifecycleDeterministicAcrossRuns(t *testing.T) {
	t.Parallel()

	commits := []ledger.Commit{
		commitOf(constant.EventRouted),
		commitOf(constant.EventExecutionStarted),
		commitOf(constant.EventCaseFlagged),
	}

	first := lifecycle.DeriveLifecycle(commits)

	for i := 0; i < 10; i++ {
		assert.Equal(t, first, lifecycle.DeriveLifecycle(commits))
	}
}

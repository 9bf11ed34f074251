// Package constant declares the closed set of named error codes casecore
// returns to callers, and the case-lifecycle event-type enumeration.
// Grounded on the teacher's common/constant/errors.go sentinel-error table.
package constant

import "errors"

// Named error codes from spec.md §4.4, §4.5, §4.8, §4.12 and §7. Each is a
// stable, stringly-comparable sentinel a caller can match with errors.Is.
var (
	// Authority / supersession (C4, C5).
	ErrInsufficientAuthorityForSupersession = errors.New("INSUFFICIENT_AUTHORITY_FOR_SUPERSESSION")
	ErrSystemCannotSupersedeHumanAuthority  = errors.New("SYSTEM_CANNOT_SUPERSEDE_HUMAN_AUTHORITY")
	ErrEqualAuthoritySupersessionEscalation = errors.New("EQUAL_AUTHORITY_SUPERSESSION_REQUIRES_ESCALATION")
	ErrSupersededCommitNotFound             = errors.New("SUPERSEDED_COMMIT_NOT_FOUND")
	ErrCrossTenantSupersessionForbidden     = errors.New("CROSS_TENANT_SUPERSESSION_FORBIDDEN")
	ErrCommitAlreadySuperseded              = errors.New("COMMIT_ALREADY_SUPERSEDED")

	// Ledger input validation (C5).
	ErrMissingLedgerFields  = errors.New("MISSING_LEDGER_FIELDS")
	ErrActorUserIDRequired  = errors.New("ACTOR_USER_ID_REQUIRED_FOR_HUMAN")
	ErrActorUserIDForbidden = errors.New("ACTOR_USER_ID_FORBIDDEN_FOR_SYSTEM")
	ErrInvalidUUID          = errors.New("INVALID_UUID")

	// Lifecycle (C9).
	ErrIllegalLifecycleTransition = errors.New("ILLEGAL_LIFECYCLE_TRANSITION")
	ErrCaseNotFound               = errors.New("CASE_NOT_FOUND")

	// Disbursement (C10).
	ErrDisbursementPreconditionFailed = errors.New("DISBURSEMENT_PRECONDITION_FAILED")
	ErrDisbursementNotAuthorized      = errors.New("DISBURSEMENT_NOT_AUTHORIZED")
	ErrDisbursementAlreadyExists      = errors.New("DISBURSEMENT_ALREADY_EXISTS")
	ErrDisbursementNotFound           = errors.New("DISBURSEMENT_NOT_FOUND")

	// Real-time gateway / pagination (C13).
	ErrInvalidCursor = errors.New("INVALID_CURSOR")

	// Idempotency (C14).
	ErrIdempotencyKeyRequired = errors.New("IDEMPOTENCY_KEY_REQUIRED")

	// Health.
	ErrCorrupted = errors.New("CORRUPTED")
)

// EventType is the closed, additions-are-backward-compatible enumeration of
// ledger event types from spec.md §6.
type EventType string

const (
	EventCaseCreated          EventType = "CASE_CREATED"
	EventCaseUpdated          EventType = "CASE_UPDATED"
	EventCaseFlagged          EventType = "CASE_FLAGGED"
	EventCaseRejected         EventType = "CASE_REJECTED"
	EventCaseArchived         EventType = "CASE_ARCHIVED"
	EventRouted               EventType = "ROUTED"
	EventRoutingSuperseded    EventType = "ROUTING_SUPERSEDED"
	EventExecutionStarted     EventType = "EXECUTION_STARTED"
	EventExecutionCompleted   EventType = "EXECUTION_COMPLETED"
	EventExecutionAborted     EventType = "EXECUTION_ABORTED"
	EventVerificationStarted  EventType = "VERIFICATION_STARTED"
	EventVerificationSubmitted EventType = "VERIFICATION_SUBMITTED"
	EventVerified             EventType = "VERIFIED"
	EventVerificationTimedOut EventType = "VERIFICATION_TIMED_OUT"
	EventAppealOpened         EventType = "APPEAL_OPENED"
	EventAppealResolved       EventType = "APPEAL_RESOLVED"
	EventDisbursementAuthorized EventType = "DISBURSEMENT_AUTHORIZED"
	EventDisbursementCompleted  EventType = "DISBURSEMENT_COMPLETED"
	EventDisbursementFailed    EventType = "DISBURSEMENT_FAILED"
	EventDisbursementStalled   EventType = "DISBURSEMENT_STALLED"
	EventLifecycleRepaired     EventType = "LIFECYCLE_REPAIRED"
	EventCaseAccepted          EventType = "CASE_ACCEPTED"
	EventCaseEscalated         EventType = "CASE_ESCALATED"
	EventGrantCreated          EventType = "GRANT_CREATED"
	EventGrantPolicyApplied    EventType = "GRANT_POLICY_APPLIED"
	EventBudgetAllocated       EventType = "BUDGET_ALLOCATED"
	EventTrancheReleased       EventType = "TRANCHE_RELEASED"
	EventBudgetSuperseded      EventType = "BUDGET_SUPERSEDED"
	EventTrancheReversed       EventType = "TRANCHE_REVERSED"
)

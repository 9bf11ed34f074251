// Package projection implements the Case Projection Store (C8): the
// rebuildable materialized views (Case, Decision, Execution,
// VerificationRecord) that cache ledger-derived state for fast reads.
// None of these rows are authoritative — the ledger is — which is why
// every mutator here takes a ledger.Tx and is only ever called alongside
// a ledger commit (spec.md §3 invariant 7, §9 transactional
// composition). Grounded on components/ledger's entity/model split
// (OrganizationPostgreSQLModel ↔ mmodel.Organization) generalized from
// one entity to the projection family this spec needs.
package projection

import (
	"time"

	"github.com/caseledger/casecore/internal/lifecycle"
)

// Case is the rebuildable projection of a case's current lifecycle and
// identifying fields (spec.md §3).
type Case struct {
	ID            string
	TenantID      string
	ReferenceCode string
	Lifecycle     lifecycle.State
	Status        string
	AuthorUserID  *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DecisionType distinguishes the kind of authoritative decision a
// Decision row records (routing, verification outcome, grant approval,
// and so on are all modeled the same way: at most one non-superseded
// row per (caseID, decisionType)).
type DecisionType string

// Decision is an authoritative-or-superseded record of a choice made
// about a case (spec.md §3).
type Decision struct {
	ID                   string
	TenantID             string
	CaseID               string
	DecisionType         DecisionType
	ActorKind            string
	ActorUserID          *string
	DecidedAt            time.Time
	Reason               *string
	IntentContext        map[string]any
	SupersededAt         *time.Time
	SupersedesDecisionID *string
}

// IsAuthoritative reports whether d is the current, non-superseded
// decision for its (caseID, decisionType).
func (d Decision) IsAuthoritative() bool { return d.SupersededAt == nil }

// ExecutionStatus is the coarse state of a case's execution sub-state.
type ExecutionStatus string

const (
	ExecutionStatusStarted   ExecutionStatus = "STARTED"
	ExecutionStatusCompleted ExecutionStatus = "COMPLETED"
	ExecutionStatusAborted   ExecutionStatus = "ABORTED"
)

// Execution is the projection of a case's execution sub-state (spec.md
// §3's "Execution / ExecutionMilestone / ExecutionProgress" family,
// flattened: milestones are tracked as timestamped progress entries
// rather than a separate child table, since nothing in spec.md requires
// querying milestones independently of their parent execution).
type Execution struct {
	ID          string
	TenantID    string
	CaseID      string
	Status      ExecutionStatus
	Progress    []ExecutionMilestone
	StartedAt   time.Time
	CompletedAt *time.Time
	AbortedAt   *time.Time
}

// ExecutionMilestone is one timestamped progress marker within an
// Execution.
type ExecutionMilestone struct {
	Label      string
	ReachedAt  time.Time
	IntentData map[string]any
}

// VerificationRecord tracks the routing and consensus state of a case's
// verification round.
type VerificationRecord struct {
	ID                string
	TenantID          string
	CaseID            string
	RequiredVerifiers []VerificationRequiredRole
	ConsensusReached  bool
	RoutedAt          time.Time
	VerifiedAt        *time.Time
}

// VerificationRequiredRole names one role that must verify before
// consensus is reached; it inherits tenant scope from its parent
// VerificationRecord.
type VerificationRequiredRole struct {
	Role       string
	Fulfilled  bool
	FulfilledBy *string
}

// Package ledger implements the Ledger Authority: the append-only signed
// commit log (C1-C6 of spec.md §4). Grounded on components/audit's
// signed-log-leaf discipline (hash the leaf, sign it, verify on read) and
// on components/ledger's command-service shape (logger+tracer from
// context, domain validation before persistence).
package ledger

import (
	"time"

	"github.com/caseledger/casecore/pkg/constant"
)

// ActorKind distinguishes an automated caller from a human one.
type ActorKind string

const (
	ActorSystem ActorKind = "SYSTEM"
	ActorHuman  ActorKind = "HUMAN"
)

// Actor is the polymorphic commit author: {SYSTEM} | {HUMAN, userId}.
// Authority level is derived from (Kind, AuthorityProof), never stored,
// per spec.md §9.
type Actor struct {
	Kind           ActorKind
	UserID         *string
	AuthorityProof string
}

// Commit is the immutable, persisted ledger record from spec.md §3/§6.
type Commit struct {
	ID                 string
	TenantID           string
	CaseID              *string
	EventType           constant.EventType
	TS                  int64
	ActorKind           ActorKind
	ActorUserID         *string
	AuthorityProof      string
	IntentContext       map[string]any
	Payload             Envelope
	CommitmentHash      string
	Signature           string
	SupersedesCommitID  *string
	SupersededByID      *string
	RequestID           *string
	CreatedAt           time.Time
}

// AppendInput is the write-side request to appendEntry (spec.md §4.5).
type AppendInput struct {
	TenantID           string
	CaseID             *string
	EventType          constant.EventType
	Actor              Actor
	IntentContext      map[string]any
	Payload            Envelope
	SupersedesCommitID *string
	RequestID          *string
}

package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/caseledger/casecore/pkg/constant"
	"github.com/caseledger/casecore/pkg/mlog"
	"github.com/caseledger/casecore/pkg/motel"
)

// Tx is an opaque transaction handle threaded through appendEntry so callers
// can bundle a commit with a projection write in one database transaction
// (spec.md §9 "Transactional composition"). Repository implementations cast
// it to their concrete type (e.g. *sql.Tx); the ledger package never opens
// one itself when a caller supplies it.
type Tx interface{}

// Repository is the storage port the Ledger Authority writes through.
// Implementations must never mutate on read operations.
type Repository interface {
	// NextTS allocates the next value of the global monotonic logical
	// clock. It is backed by a database sequence so that concurrent
	// commits across the whole cluster receive distinct, strictly
	// increasing values (spec.md §4.1, §5).
	NextTS(ctx context.Context, tx Tx) (int64, error)
	// GetCommit loads a single commit by id, scoped to tenant.
	GetCommit(ctx context.Context, tx Tx, tenantID, commitID string) (*Commit, error)
	// MarkSuperseded sets the write-once supersededById back-pointer.
	MarkSuperseded(ctx context.Context, tx Tx, commitID, supersededByID string) error
	// Insert persists a new, already-sealed commit.
	Insert(ctx context.Context, tx Tx, commit Commit) error
	// GetAuditTrail returns every commit for a case, ordered by ts
	// ascending.
	GetAuditTrail(ctx context.Context, tenantID, caseID string) ([]Commit, error)
	// ListByTenant returns every commit for a tenant (the "project"
	// grouping in spec.md §4.5 resolves, in the absence of a distinct
	// Project entity in the data model, to the tenant scope itself),
	// ordered by ts ascending.
	ListByTenant(ctx context.Context, tenantID string) ([]Commit, error)
	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}

// Authority is the public contract of the Ledger Authority (C5): one write
// operation, plus read-only trail/status operations.
type Authority struct {
	repo   Repository
	keys   *KeyStore
	logger mlog.Logger
}

// NewAuthority builds a Ledger Authority over repo, sealing every commit
// with keys.
func NewAuthority(repo Repository, keys *KeyStore, logger mlog.Logger) *Authority {
	return &Authority{repo: repo, keys: keys, logger: logger}
}

// AppendEntry validates, sequences, hashes, signs and persists a new ledger
// commit (spec.md §4.5). If input.SupersedesCommitID is set, the target
// commit is validated for same-tenant, not-already-superseded and
// sufficient authority before the new commit is allowed to proceed.
//
// All writes occur inside tx when supplied by the caller (transactional
// composition, spec.md §9). When tx is nil, each Repository call runs
// directly against the connection pool as its own implicit transaction, so
// AppendEntry's own sequence of calls (NextTS, the supersession target
// lookup, Insert, MarkSuperseded) is not atomic as a whole in that case,
// only each individual statement is. Callers that need AppendEntry atomic
// with another write — a projection update, or a superseding commit whose
// mark-superseded step must not race a concurrent reader — must open a
// real transaction (see internal/adapters/postgres.TxRunner) and thread it
// through tx.
func (a *Authority) AppendEntry(ctx context.Context, tx Tx, input AppendInput) (*Commit, error) {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "ledger.append_entry")
	defer span.End()

	logger := mlog.NewLoggerFromContext(ctx)

	if err := validateAppendInput(input); err != nil {
		motel.HandleSpanError(&span, "invalid append input", err)
		return nil, err
	}

	if input.SupersedesCommitID != nil {
		if err := a.validateSupersession(ctx, tx, input); err != nil {
			motel.HandleSpanError(&span, "supersession validation failed", err)
			return nil, err
		}
	}

	ts, err := a.repo.NextTS(ctx, tx)
	if err != nil {
		motel.HandleSpanError(&span, "allocate ts", err)
		return nil, fmt.Errorf("ledger: next ts: %w", err)
	}

	commit := Commit{
		ID:                 uuid.NewString(),
		TenantID:           input.TenantID,
		CaseID:             input.CaseID,
		EventType:          input.EventType,
		TS:                 ts,
		ActorKind:          input.Actor.Kind,
		ActorUserID:        input.Actor.UserID,
		AuthorityProof:     input.Actor.AuthorityProof,
		IntentContext:      input.IntentContext,
		Payload:            input.Payload,
		SupersedesCommitID: input.SupersedesCommitID,
		RequestID:          input.RequestID,
		CreatedAt:          time.Now().UTC(),
	}

	hash, err := a.commitmentHash(commit)
	if err != nil {
		// Hash computation failures are fatal: the process refuses to
		// serve writes until restarted with valid keys (spec.md §4.5).
		logger.Fatalf("ledger: commitment hash computation failed: %v", err)
		return nil, err
	}

	commit.CommitmentHash = hash
	commit.Signature = hex.EncodeToString(a.keys.Sign([]byte(hash)))

	if err := a.repo.Insert(ctx, tx, commit); err != nil {
		motel.HandleSpanError(&span, "insert commit", err)
		return nil, fmt.Errorf("ledger: insert: %w", err)
	}

	if input.SupersedesCommitID != nil {
		if err := a.repo.MarkSuperseded(ctx, tx, *input.SupersedesCommitID, commit.ID); err != nil {
			motel.HandleSpanError(&span, "mark superseded", err)
			return nil, fmt.Errorf("ledger: mark superseded: %w", err)
		}
	}

	return &commit, nil
}

func (a *Authority) validateSupersession(ctx context.Context, tx Tx, input AppendInput) error {
	target, err := a.repo.GetCommit(ctx, tx, input.TenantID, *input.SupersedesCommitID)
	if err != nil {
		return fmt.Errorf("ledger: %w", constant.ErrSupersededCommitNotFound)
	}

	if target == nil {
		return constant.ErrSupersededCommitNotFound
	}

	if target.TenantID != input.TenantID {
		return constant.ErrCrossTenantSupersessionForbidden
	}

	if target.SupersededByID != nil {
		return constant.ErrCommitAlreadySuperseded
	}

	return ValidateSupersession(input.Actor.Kind, input.Actor.AuthorityProof, target.ActorKind, target.AuthorityProof)
}

// commitmentHash computes H(canonical(authoritativeFields(commit))) per
// spec.md §3.
func (a *Authority) commitmentHash(c Commit) (string, error) {
	fields := map[string]any{
		"tenantId":           c.TenantID,
		"caseId":             c.CaseID,
		"eventType":          c.EventType,
		"ts":                 c.TS,
		"actorKind":          c.ActorKind,
		"actorUserId":        c.ActorUserID,
		"authorityProof":     c.AuthorityProof,
		"intentContext":      c.IntentContext,
		"supersedesCommitId": c.SupersedesCommitID,
		"payload":            c.Payload,
	}

	canon, err := Canonicalize(fields)
	if err != nil {
		return "", fmt.Errorf("ledger: canonicalize: %w", err)
	}

	sum := sha256.Sum256(canon)

	return hex.EncodeToString(sum[:]), nil
}

// VerifyCommit checks a commit's commitmentHash and signature against its
// own fields and the authority's public key (spec.md §8 property 2).
func (a *Authority) VerifyCommit(c Commit) (bool, error) {
	expected, err := a.commitmentHash(c)
	if err != nil {
		return false, err
	}

	if expected != c.CommitmentHash {
		return false, nil
	}

	sig, err := hex.DecodeString(c.Signature)
	if err != nil {
		return false, fmt.Errorf("ledger: decode signature: %w", err)
	}

	return Verify(a.keys.PublicKey(), []byte(c.CommitmentHash), sig), nil
}

// GetAuditTrail returns every commit for a case in ts order (spec.md
// §4.5, §4.11).
func (a *Authority) GetAuditTrail(ctx context.Context, tenantID, caseID string) ([]Commit, error) {
	return a.repo.GetAuditTrail(ctx, tenantID, caseID)
}

// ListByProject returns every commit for a tenant in ts order.
func (a *Authority) ListByProject(ctx context.Context, tenantID string) ([]Commit, error) {
	return a.repo.ListByTenant(ctx, tenantID)
}

// Status reports Ledger Authority health for the /health surface (spec.md
// §7): it never throws, it downgrades.
type Status struct {
	Healthy bool
	Reason  string
}

// GetStatus pings the backing store and reports health.
func (a *Authority) GetStatus(ctx context.Context) Status {
	if err := a.repo.Ping(ctx); err != nil {
		return Status{Healthy: false, Reason: err.Error()}
	}

	return Status{Healthy: true}
}

func validateAppendInput(input AppendInput) error {
	if input.TenantID == "" || input.EventType == "" || input.Actor.Kind == "" || input.Actor.AuthorityProof == "" {
		return constant.ErrMissingLedgerFields
	}

	if !isValidUUID(input.TenantID) {
		return constant.ErrInvalidUUID
	}

	if input.CaseID != nil && !isValidUUID(*input.CaseID) {
		return constant.ErrInvalidUUID
	}

	switch input.Actor.Kind {
	case ActorHuman:
		if input.Actor.UserID == nil || *input.Actor.UserID == "" {
			return constant.ErrActorUserIDRequired
		}

		if !isValidUUID(*input.Actor.UserID) {
			return constant.ErrInvalidUUID
		}
	case ActorSystem:
		if input.Actor.UserID != nil {
			return constant.ErrActorUserIDForbidden
		}
	default:
		return constant.ErrMissingLedgerFields
	}

	return nil
}

// isValidUUID validates the canonical hex UUID pattern expected at every
// boundary (spec.md §4.1); any UUID version 1-5 is acceptable.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

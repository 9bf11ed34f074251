package disbursement_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseledger/casecore/internal/disbursement"
	"github.com/caseledger/casecore/internal/ledger"
	"github.com/caseledger/casecore/internal/lifecycle"
	"github.com/caseledger/casecore/internal/projection"
	"github.com/caseledger/casecore/pkg/constant"
	"github.com/caseledger/casecore/pkg/mlog"
)

type memLedgerRepo struct {
	mu      sync.Mutex
	seq     int64
	commits map[string]*ledger.Commit
}

func newMemLedgerRepo() *memLedgerRepo {
	return &memLedgerRepo{commits: map[string]*ledger.Commit{}}
}

func (r *memLedgerRepo) NextTS(context.Context, ledger.Tx) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++

	return r.seq, nil
}

func (r *memLedgerRepo) GetCommit(_ context.Context, _ ledger.Tx, tenantID, commitID string) (*ledger.Commit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.commits[commitID]
	if !ok || c.TenantID != tenantID {
		return nil, nil //nolint:nilnil
	}

	cp := *c

	return &cp, nil
}

func (r *memLedgerRepo) MarkSuperseded(_ context.Context, _ ledger.Tx, commitID, supersededByID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.commits[commitID]
	if !ok {
		return errors.New("not found")
	}

	id := supersededByID
	c.SupersededByID = &id

	return nil
}

func (r *memLedgerRepo) Insert(_ context.Context, _ ledger.Tx, commit ledger.Commit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := commit
	r.commits[commit.ID] = &cp

	return nil
}

func (r *memLedgerRepo) GetAuditTrail(context.Context, string, string) ([]ledger.Commit, error) {
	return nil, nil
}

func (r *memLedgerRepo) ListByTenant(context.Context, string) ([]ledger.Commit, error) {
	return nil, nil
}

func (r *memLedgerRepo) Ping(context.Context) error { return nil }

type memDisbursementRepo struct {
	mu    sync.Mutex
	byID  map[string]*disbursement.Disbursement
	byKey map[string]string // tenant/case -> id
}

func newMemDisbursementRepo() *memDisbursementRepo {
	return &memDisbursementRepo{byID: map[string]*disbursement.Disbursement{}, byKey: map[string]string{}}
}

func (r *memDisbursementRepo) GetByCaseID(_ context.Context, _ ledger.Tx, tenantID, caseID string) (*disbursement.Disbursement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byKey[tenantID+"/"+caseID]
	if !ok {
		return nil, nil //nolint:nilnil
	}

	cp := *r.byID[id]

	return &cp, nil
}

func (r *memDisbursementRepo) GetByID(_ context.Context, tenantID, disbursementID string) (*disbursement.Disbursement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byID[disbursementID]
	if !ok || d.TenantID != tenantID {
		return nil, nil //nolint:nilnil
	}

	cp := *d

	return &cp, nil
}

func (r *memDisbursementRepo) Insert(_ context.Context, _ ledger.Tx, d disbursement.Disbursement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byKey[d.TenantID+"/"+d.CaseID]; exists {
		return constant.ErrDisbursementAlreadyExists
	}

	cp := d
	r.byID[d.ID] = &cp
	r.byKey[d.TenantID+"/"+d.CaseID] = d.ID

	return nil
}

func (r *memDisbursementRepo) UpdateStatus(_ context.Context, _ ledger.Tx, d disbursement.Disbursement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := d
	r.byID[d.ID] = &cp

	return nil
}

func (r *memDisbursementRepo) ListStaleAuthorized(_ context.Context, tenantID string, olderThan time.Time) ([]disbursement.Disbursement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []disbursement.Disbursement

	for _, d := range r.byID {
		if d.TenantID == tenantID && d.Status == disbursement.StatusAuthorized && d.AuthorizedAt.Before(olderThan) {
			out = append(out, *d)
		}
	}

	return out, nil
}

type memProjectionStore struct {
	mu            sync.Mutex
	cases         map[string]projection.Case
	executions    map[string]projection.Execution
	verifications map[string]projection.VerificationRecord
}

func newMemProjectionStore() *memProjectionStore {
	return &memProjectionStore{
		cases:         map[string]projection.Case{},
		executions:    map[string]projection.Execution{},
		verifications: map[string]projection.VerificationRecord{},
	}
}

func key(tenantID, caseID string) string { return tenantID + "/" + caseID }

func (s *memProjectionStore) CreateCase(_ context.Context, _ ledger.Tx, c projection.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cases[key(c.TenantID, c.ID)] = c

	return nil
}

func (s *memProjectionStore) GetCase(_ context.Context, _ ledger.Tx, tenantID, caseID string) (*projection.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cases[key(tenantID, caseID)]
	if !ok {
		return nil, nil //nolint:nilnil
	}

	return &c, nil
}

func (s *memProjectionStore) UpdateCaseLifecycle(_ context.Context, _ ledger.Tx, tenantID, caseID string, lc lifecycle.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.cases[key(tenantID, caseID)]
	c.Lifecycle = lc
	s.cases[key(tenantID, caseID)] = c

	return nil
}

func (s *memProjectionStore) ListCasesByTenant(context.Context, string) ([]projection.Case, error) {
	return nil, nil
}

func (s *memProjectionStore) UpsertDecision(context.Context, ledger.Tx, projection.Decision) error {
	return nil
}

func (s *memProjectionStore) SupersedeDecision(context.Context, ledger.Tx, string, string) error {
	return nil
}

func (s *memProjectionStore) GetAuthoritativeDecision(context.Context, string, string, projection.DecisionType) (*projection.Decision, error) {
	return nil, nil
}

func (s *memProjectionStore) GetDecisionChain(context.Context, string, string, projection.DecisionType) ([]projection.Decision, error) {
	return nil, nil
}

func (s *memProjectionStore) UpsertExecution(_ context.Context, _ ledger.Tx, e projection.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.executions[key(e.TenantID, e.CaseID)] = e

	return nil
}

func (s *memProjectionStore) GetExecution(_ context.Context, tenantID, caseID string) (*projection.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.executions[key(tenantID, caseID)]
	if !ok {
		return nil, nil //nolint:nilnil
	}

	return &e, nil
}

func (s *memProjectionStore) UpsertVerificationRecord(_ context.Context, _ ledger.Tx, v projection.VerificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.verifications[key(v.TenantID, v.CaseID)] = v

	return nil
}

func (s *memProjectionStore) GetVerificationRecord(_ context.Context, tenantID, caseID string) (*projection.VerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.verifications[key(tenantID, caseID)]
	if !ok {
		return nil, nil //nolint:nilnil
	}

	return &v, nil
}

type fakeExecutor struct {
	err error
}

func (f *fakeExecutor) Pay(context.Context, disbursement.Disbursement) error { return f.err }

type fakePublisher struct {
	published []string
}

func (f *fakePublisher) PublishExecute(_ context.Context, _ string, disbursementID string) error {
	f.published = append(f.published, disbursementID)
	return nil
}

func systemActor() ledger.Actor {
	return ledger.Actor{Kind: ledger.ActorSystem, AuthorityProof: "SYSTEM:routing_engine"}
}

func readyCase(t *testing.T, store *memProjectionStore, tenantID, caseID string) {
	t.Helper()

	require.NoError(t, store.CreateCase(context.Background(), nil, projection.Case{
		ID: caseID, TenantID: tenantID, Lifecycle: lifecycle.StateVerified,
	}))
	require.NoError(t, store.UpsertExecution(context.Background(), nil, projection.Execution{
		ID: uuid.NewString(), TenantID: tenantID, CaseID: caseID, Status: projection.ExecutionStatusCompleted,
	}))
	require.NoError(t, store.UpsertVerificationRecord(context.Background(), nil, projection.VerificationRecord{
		ID: uuid.NewString(), TenantID: tenantID, CaseID: caseID, ConsensusReached: true,
	}))
}

func testKeyStore(t *testing.T) *ledger.KeyStore {
	t.Helper()

	ks, err := ledger.NewKeyStore(t.TempDir() + "/key")
	require.NoError(t, err)

	return ks
}

func newTestService(t *testing.T, executor disbursement.PayoutExecutor, publisher disbursement.ExecutionPublisher) (*disbursement.Service, *memDisbursementRepo, *memProjectionStore) {
	t.Helper()

	repo := newMemDisbursementRepo()
	store := newMemProjectionStore()
	authority := ledger.NewAuthority(newMemLedgerRepo(), testKeyStore(t), &mlog.NoneLogger{})

	svc := disbursement.NewService(repo, store, authority, publisher, executor, &mlog.NoneLogger{}, 24*time.Hour)

	return svc, repo, store
}

func TestAuthorizeSucceedsWhenInvariantsHold(t *testing.T) {
	t.Parallel()

	svc, repo, store := newTestService(t, &fakeExecutor{}, &fakePublisher{})
	tenantID, caseID := uuid.NewString(), uuid.NewString()

	readyCase(t, store, tenantID, caseID)

	result, err := svc.Authorize(context.Background(), nil, disbursement.AuthorizeInput{
		TenantID: tenantID, CaseID: caseID, Type: "GRANT_PAYOUT",
		Amount: decimal.NewFromInt(500), Currency: "USD",
		Payee: disbursement.Payee{Kind: "BANK_ACCOUNT", ID: "acct-1"},
		Actor: systemActor(),
	})
	require.NoError(t, err)
	assert.Equal(t, "AUTHORIZED", result.Kind)

	stored, err := repo.GetByCaseID(context.Background(), nil, tenantID, caseID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, disbursement.StatusAuthorized, stored.Status)
}

func TestAuthorizeIsIdempotent(t *testing.T) {
	t.Parallel()

	svc, _, store := newTestService(t, &fakeExecutor{}, &fakePublisher{})
	tenantID, caseID := uuid.NewString(), uuid.NewString()

	readyCase(t, store, tenantID, caseID)

	input := disbursement.AuthorizeInput{
		TenantID: tenantID, CaseID: caseID, Type: "GRANT_PAYOUT",
		Amount: decimal.NewFromInt(500), Currency: "USD",
		Payee: disbursement.Payee{Kind: "BANK_ACCOUNT", ID: "acct-1"},
		Actor: systemActor(),
	}

	first, err := svc.Authorize(context.Background(), nil, input)
	require.NoError(t, err)

	second, err := svc.Authorize(context.Background(), nil, input)
	require.NoError(t, err)

	assert.Equal(t, first.DisbursementID, second.DisbursementID)
}

// TestAuthorizeConcurrentCallsConvergeOnSameDisbursement covers spec.md §8
// S3: two concurrent authorizeDisbursement calls for the same case must
// both succeed and agree on one disbursementId, never surface the losing
// insert's unique-violation to the caller.
func TestAuthorizeConcurrentCallsConvergeOnSameDisbursement(t *testing.T) {
	t.Parallel()

	svc, _, store := newTestService(t, &fakeExecutor{}, &fakePublisher{})
	tenantID, caseID := uuid.NewString(), uuid.NewString()

	readyCase(t, store, tenantID, caseID)

	input := disbursement.AuthorizeInput{
		TenantID: tenantID, CaseID: caseID, Type: "GRANT_PAYOUT",
		Amount: decimal.NewFromInt(500), Currency: "USD",
		Payee: disbursement.Payee{Kind: "BANK_ACCOUNT", ID: "acct-1"},
		Actor: systemActor(),
	}

	const n = 10

	var wg sync.WaitGroup

	results := make([]disbursement.AuthorizeResult, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			results[i], errs[i] = svc.Authorize(context.Background(), nil, input)
		}(i)
	}

	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, "AUTHORIZED", results[i].Kind)
		assert.Equal(t, results[0].DisbursementID, results[i].DisbursementID)
	}
}

func TestAuthorizeDeniedWhenCaseNotVerified(t *testing.T) {
	t.Parallel()

	svc, _, store := newTestService(t, &fakeExecutor{}, &fakePublisher{})
	tenantID, caseID := uuid.NewString(), uuid.NewString()

	require.NoError(t, store.CreateCase(context.Background(), nil, projection.Case{
		ID: caseID, TenantID: tenantID, Lifecycle: lifecycle.StateExecuting,
	}))

	result, err := svc.Authorize(context.Background(), nil, disbursement.AuthorizeInput{
		TenantID: tenantID, CaseID: caseID, Type: "GRANT_PAYOUT",
		Amount: decimal.NewFromInt(500), Currency: "USD", Actor: systemActor(),
	})
	require.NoError(t, err)
	assert.Equal(t, "DENIED", result.Kind)
}

func TestAuthorizeUnknownCaseFails(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t, &fakeExecutor{}, &fakePublisher{})

	_, err := svc.Authorize(context.Background(), nil, disbursement.AuthorizeInput{
		TenantID: uuid.NewString(), CaseID: uuid.NewString(), Actor: systemActor(),
	})
	assert.ErrorIs(t, err, constant.ErrCaseNotFound)
}

func TestExecuteCompletesOnSuccessfulPayout(t *testing.T) {
	t.Parallel()

	svc, repo, store := newTestService(t, &fakeExecutor{}, &fakePublisher{})
	tenantID, caseID := uuid.NewString(), uuid.NewString()

	readyCase(t, store, tenantID, caseID)

	_, err := svc.Authorize(context.Background(), nil, disbursement.AuthorizeInput{
		TenantID: tenantID, CaseID: caseID, Type: "GRANT_PAYOUT",
		Amount: decimal.NewFromInt(500), Currency: "USD", Actor: systemActor(),
	})
	require.NoError(t, err)

	require.NoError(t, svc.Execute(context.Background(), nil, tenantID, caseID))

	stored, err := repo.GetByCaseID(context.Background(), nil, tenantID, caseID)
	require.NoError(t, err)
	assert.Equal(t, disbursement.StatusCompleted, stored.Status)
	assert.NotNil(t, stored.ExecutedAt)
}

func TestExecuteMarksFailedOnPayoutError(t *testing.T) {
	t.Parallel()

	svc, repo, store := newTestService(t, &fakeExecutor{err: errors.New("rail unreachable")}, &fakePublisher{})
	tenantID, caseID := uuid.NewString(), uuid.NewString()

	readyCase(t, store, tenantID, caseID)

	result, err := svc.Authorize(context.Background(), nil, disbursement.AuthorizeInput{
		TenantID: tenantID, CaseID: caseID, Type: "GRANT_PAYOUT",
		Amount: decimal.NewFromInt(500), Currency: "USD", Actor: systemActor(),
	})
	require.NoError(t, err)
	_ = result

	require.NoError(t, svc.Execute(context.Background(), nil, tenantID, caseID))

	stored, err := repo.GetByCaseID(context.Background(), nil, tenantID, caseID)
	require.NoError(t, err)
	assert.Equal(t, disbursement.StatusFailed, stored.Status)
	require.NotNil(t, stored.FailureReason)
	assert.Equal(t, "rail unreachable", *stored.FailureReason)
}

func TestExecuteRejectsMissingDisbursement(t *testing.T) {
	t.Parallel()

	svc, _, store := newTestService(t, &fakeExecutor{}, &fakePublisher{})
	tenantID, caseID := uuid.NewString(), uuid.NewString()

	readyCase(t, store, tenantID, caseID)

	err := svc.Execute(context.Background(), nil, tenantID, caseID)
	assert.ErrorIs(t, err, constant.ErrDisbursementNotFound)
}

func TestAfterAuthorizePublishesOnlyWhenAuthorized(t *testing.T) {
	t.Parallel()

	publisher := &fakePublisher{}
	svc, _, store := newTestService(t, &fakeExecutor{}, publisher)
	tenantID, caseID := uuid.NewString(), uuid.NewString()

	readyCase(t, store, tenantID, caseID)

	result, err := svc.Authorize(context.Background(), nil, disbursement.AuthorizeInput{
		TenantID: tenantID, CaseID: caseID, Type: "GRANT_PAYOUT",
		Amount: decimal.NewFromInt(500), Currency: "USD", Actor: systemActor(),
	})
	require.NoError(t, err)

	require.NoError(t, svc.AfterAuthorize(context.Background(), result, tenantID))
	assert.Equal(t, []string{result.DisbursementID}, publisher.published)

	require.NoError(t, svc.AfterAuthorize(context.Background(), disbursement.AuthorizeResult{Kind: "DENIED"}, tenantID))
	assert.Len(t, publisher.published, 1)
}

func TestReconcileStalledEmitsOnePerStaleDisbursement(t *testing.T) {
	t.Parallel()

	svc, repo, store := newTestService(t, &fakeExecutor{}, &fakePublisher{})
	tenantID, caseID := uuid.NewString(), uuid.NewString()

	readyCase(t, store, tenantID, caseID)

	require.NoError(t, repo.Insert(context.Background(), nil, disbursement.Disbursement{
		ID: uuid.NewString(), TenantID: tenantID, CaseID: caseID, Status: disbursement.StatusAuthorized,
		Amount: decimal.NewFromInt(100), Currency: "USD", AuthorizedAt: time.Now().UTC().Add(-48 * time.Hour),
	}))

	count, err := svc.ReconcileStalled(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIsAllowedDisbursementTransition(t *testing.T) {
	t.Parallel()

	assert.True(t, disbursement.IsAllowedDisbursementTransition(disbursement.StatusAuthorized, disbursement.StatusExecuting))
	assert.True(t, disbursement.IsAllowedDisbursementTransition(disbursement.StatusExecuting, disbursement.StatusCompleted))
	assert.True(t, disbursement.IsAllowedDisbursementTransition(disbursement.StatusExecuting, disbursement.StatusFailed))
	assert.False(t, disbursement.IsAllowedDisbursementTransition(disbursement.StatusAuthorized, disbursement.StatusCompleted))
	assert.False(t, disbursement.IsAllowedDisbursementTransition(disbursement.StatusCompleted, disbursement.StatusExecuting))
}

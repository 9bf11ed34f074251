package reconciliation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseledger/casecore/internal/ledger"
	"github.com/caseledger/casecore/internal/lifecycle"
	"github.com/caseledger/casecore/internal/projection"
	"github.com/caseledger/casecore/internal/reconciliation"
	"github.com/caseledger/casecore/pkg/constant"
	"github.com/caseledger/casecore/pkg/mlog"
)

type memLedgerRepo struct {
	mu      sync.Mutex
	seq     int64
	byTenantCase map[string][]ledger.Commit
}

func newMemLedgerRepo() *memLedgerRepo {
	return &memLedgerRepo{byTenantCase: map[string][]ledger.Commit{}}
}

func tcKey(tenantID, caseID string) string { return tenantID + "/" + caseID }

func (r *memLedgerRepo) NextTS(context.Context, ledger.Tx) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++

	return r.seq, nil
}

func (r *memLedgerRepo) GetCommit(context.Context, ledger.Tx, string, string) (*ledger.Commit, error) {
	return nil, nil //nolint:nilnil
}

func (r *memLedgerRepo) MarkSuperseded(context.Context, ledger.Tx, string, string) error { return nil }

func (r *memLedgerRepo) Insert(_ context.Context, _ ledger.Tx, commit ledger.Commit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := tcKey(commit.TenantID, *commit.CaseID)
	r.byTenantCase[k] = append(r.byTenantCase[k], commit)

	return nil
}

func (r *memLedgerRepo) GetAuditTrail(_ context.Context, tenantID, caseID string) ([]ledger.Commit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]ledger.Commit{}, r.byTenantCase[tcKey(tenantID, caseID)]...), nil
}

func (r *memLedgerRepo) ListByTenant(context.Context, string) ([]ledger.Commit, error) { return nil, nil }
func (r *memLedgerRepo) Ping(context.Context) error                                    { return nil }

type memProjectionStore struct {
	mu         sync.Mutex
	cases      map[string]projection.Case
	sweepCount int
}

func newMemProjectionStore() *memProjectionStore {
	return &memProjectionStore{cases: map[string]projection.Case{}}
}

func (s *memProjectionStore) CreateCase(_ context.Context, _ ledger.Tx, c projection.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cases[tcKey(c.TenantID, c.ID)] = c

	return nil
}

func (s *memProjectionStore) GetCase(_ context.Context, _ ledger.Tx, tenantID, caseID string) (*projection.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cases[tcKey(tenantID, caseID)]
	if !ok {
		return nil, nil //nolint:nilnil
	}

	return &c, nil
}

func (s *memProjectionStore) UpdateCaseLifecycle(_ context.Context, _ ledger.Tx, tenantID, caseID string, lc lifecycle.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.cases[tcKey(tenantID, caseID)]
	c.Lifecycle = lc
	s.cases[tcKey(tenantID, caseID)] = c

	return nil
}

func (s *memProjectionStore) resetSweepCount() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepCount = 0
}

func (s *memProjectionStore) sweepCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sweepCount
}

func (s *memProjectionStore) ListCasesByTenant(_ context.Context, tenantID string) ([]projection.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepCount++

	var out []projection.Case

	for _, c := range s.cases {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}

	return out, nil
}

func (s *memProjectionStore) UpsertDecision(context.Context, ledger.Tx, projection.Decision) error { return nil }
func (s *memProjectionStore) SupersedeDecision(context.Context, ledger.Tx, string, string) error    { return nil }

func (s *memProjectionStore) GetAuthoritativeDecision(context.Context, string, string, projection.DecisionType) (*projection.Decision, error) {
	return nil, nil
}

func (s *memProjectionStore) GetDecisionChain(context.Context, string, string, projection.DecisionType) ([]projection.Decision, error) {
	return nil, nil
}

func (s *memProjectionStore) UpsertExecution(context.Context, ledger.Tx, projection.Execution) error {
	return nil
}

func (s *memProjectionStore) GetExecution(context.Context, string, string) (*projection.Execution, error) {
	return nil, nil
}

func (s *memProjectionStore) UpsertVerificationRecord(context.Context, ledger.Tx, projection.VerificationRecord) error {
	return nil
}

func (s *memProjectionStore) GetVerificationRecord(context.Context, string, string) (*projection.VerificationRecord, error) {
	return nil, nil
}

type inlineTxRunner struct{}

func (inlineTxRunner) RunInTx(_ context.Context, fn func(tx ledger.Tx) error) error {
	return fn(nil)
}

func testKeyStore(t *testing.T) *ledger.KeyStore {
	t.Helper()

	ks, err := ledger.NewKeyStore(t.TempDir() + "/key")
	require.NoError(t, err)

	return ks
}

func TestReconcileCaseNoOpWhenNotDrifted(t *testing.T) {
	t.Parallel()

	ledgerRepo := newMemLedgerRepo()
	authority := ledger.NewAuthority(ledgerRepo, testKeyStore(t), &mlog.NoneLogger{})
	store := newMemProjectionStore()
	svc := reconciliation.NewLifecycleReconciliationService(authority, store, inlineTxRunner{}, &mlog.NoneLogger{})

	tenantID, caseID := uuid.NewString(), uuid.NewString()
	require.NoError(t, store.CreateCase(context.Background(), nil, projection.Case{
		ID: caseID, TenantID: tenantID, Lifecycle: lifecycle.StateIntaked,
	}))

	drifted, err := svc.ReconcileCase(context.Background(), tenantID, caseID)
	require.NoError(t, err)
	assert.False(t, drifted)
}

func TestReconcileCaseRepairsDrift(t *testing.T) {
	t.Parallel()

	ledgerRepo := newMemLedgerRepo()
	authority := ledger.NewAuthority(ledgerRepo, testKeyStore(t), &mlog.NoneLogger{})
	store := newMemProjectionStore()
	svc := reconciliation.NewLifecycleReconciliationService(authority, store, inlineTxRunner{}, &mlog.NoneLogger{})

	tenantID, caseID := uuid.NewString(), uuid.NewString()

	caseIDCopy := caseID
	actor := ledger.Actor{Kind: ledger.ActorSystem, AuthorityProof: "SYSTEM:routing_engine"}

	_, err := authority.AppendEntry(context.Background(), nil, ledger.AppendInput{
		TenantID: tenantID, CaseID: &caseIDCopy, EventType: constant.EventRouted, Actor: actor,
		Payload: ledger.NewEnvelope("CASE_LIFECYCLE", "TRANSITION", nil),
	})
	require.NoError(t, err)

	_, err = authority.AppendEntry(context.Background(), nil, ledger.AppendInput{
		TenantID: tenantID, CaseID: &caseIDCopy, EventType: constant.EventExecutionStarted, Actor: actor,
		Payload: ledger.NewEnvelope("CASE_LIFECYCLE", "TRANSITION", nil),
	})
	require.NoError(t, err)

	_, err = authority.AppendEntry(context.Background(), nil, ledger.AppendInput{
		TenantID: tenantID, CaseID: &caseIDCopy, EventType: constant.EventVerified, Actor: actor,
		Payload: ledger.NewEnvelope("CASE_LIFECYCLE", "TRANSITION", nil),
	})
	require.NoError(t, err)

	// Simulate drift: the projection was tampered directly to EXECUTING
	// (test harness), while the ledger already derives VERIFIED.
	require.NoError(t, store.CreateCase(context.Background(), nil, projection.Case{
		ID: caseID, TenantID: tenantID, Lifecycle: lifecycle.StateExecuting,
	}))

	drifted, err := svc.ReconcileCase(context.Background(), tenantID, caseID)
	require.NoError(t, err)
	assert.True(t, drifted)

	c, err := store.GetCase(context.Background(), nil, tenantID, caseID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateVerified, c.Lifecycle)

	trail, err := authority.GetAuditTrail(context.Background(), tenantID, caseID)
	require.NoError(t, err)

	last := trail[len(trail)-1]
	assert.Equal(t, constant.EventLifecycleRepaired, last.EventType)
	assert.Equal(t, "EXECUTING", last.Payload.Data["from"])
	assert.Equal(t, "VERIFIED", last.Payload.Data["to"])

	drifted, err = svc.ReconcileCase(context.Background(), tenantID, caseID)
	require.NoError(t, err)
	assert.False(t, drifted)
}

func TestReconcileCaseUnknownCaseFails(t *testing.T) {
	t.Parallel()

	ledgerRepo := newMemLedgerRepo()
	authority := ledger.NewAuthority(ledgerRepo, testKeyStore(t), &mlog.NoneLogger{})
	store := newMemProjectionStore()
	svc := reconciliation.NewLifecycleReconciliationService(authority, store, inlineTxRunner{}, &mlog.NoneLogger{})

	_, err := svc.ReconcileCase(context.Background(), uuid.NewString(), uuid.NewString())
	assert.ErrorIs(t, err, constant.ErrCaseNotFound)
}

type fakeLocker struct {
	mu        sync.Mutex
	acquired  bool
	acquireN  int
	releaseN  int
	failAfter int
}

func (l *fakeLocker) TryAcquire(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.acquireN++

	if l.acquired {
		return false, nil
	}

	l.acquired = true

	return true, nil
}

func (l *fakeLocker) Release(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.releaseN++
	l.acquired = false

	return nil
}

type fakeTenantLister struct {
	tenantIDs []string
}

func (f *fakeTenantLister) ListTenantIDs(context.Context) ([]string, error) {
	return f.tenantIDs, nil
}

func TestSchedulerRunsOnceImmediatelyWhenConfigured(t *testing.T) {
	t.Parallel()

	ledgerRepo := newMemLedgerRepo()
	authority := ledger.NewAuthority(ledgerRepo, testKeyStore(t), &mlog.NoneLogger{})
	store := newMemProjectionStore()
	svc := reconciliation.NewLifecycleReconciliationService(authority, store, inlineTxRunner{}, &mlog.NoneLogger{})

	tenantID, caseID := uuid.NewString(), uuid.NewString()
	require.NoError(t, store.CreateCase(context.Background(), nil, projection.Case{
		ID: caseID, TenantID: tenantID, Lifecycle: lifecycle.StateIntaked,
	}))

	job := reconciliation.NewTenantLifecycleReconciliationJob(store, svc, &mlog.NoneLogger{})
	locker := &fakeLocker{}
	lister := &fakeTenantLister{tenantIDs: []string{tenantID}}

	scheduler := reconciliation.NewScheduler(reconciliation.Config{
		IntervalMs: 60_000, RunImmediately: true, Enabled: true,
	}, locker, lister, job, &mlog.NoneLogger{})

	scheduler.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	scheduler.Stop()

	assert.GreaterOrEqual(t, locker.acquireN, 1)
	assert.Equal(t, locker.acquireN, locker.releaseN)
}

func TestSchedulerDisabledNeverRuns(t *testing.T) {
	t.Parallel()

	locker := &fakeLocker{}
	lister := &fakeTenantLister{}
	job := reconciliation.NewTenantLifecycleReconciliationJob(newMemProjectionStore(), nil, &mlog.NoneLogger{})

	scheduler := reconciliation.NewScheduler(reconciliation.Config{Enabled: false}, locker, lister, job, &mlog.NoneLogger{})
	scheduler.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	scheduler.Stop()

	assert.Equal(t, 0, locker.acquireN)
}

// TestSchedulerMultiInstanceExactlyOneRunsPerInterval exercises S5: two
// scheduler instances sharing a single cluster-wide advisory lock must
// produce exactly one reconciliation pass for a given interval, the
// rest skip silently (spec.md §8 S5, §9 "Scheduler leader election").
func TestSchedulerMultiInstanceExactlyOneRunsPerInterval(t *testing.T) {
	t.Parallel()

	ledgerRepo := newMemLedgerRepo()
	authority := ledger.NewAuthority(ledgerRepo, testKeyStore(t), &mlog.NoneLogger{})
	store := newMemProjectionStore()
	svc := reconciliation.NewLifecycleReconciliationService(authority, store, inlineTxRunner{}, &mlog.NoneLogger{})

	tenantID, caseID := uuid.NewString(), uuid.NewString()
	require.NoError(t, store.CreateCase(context.Background(), nil, projection.Case{
		ID: caseID, TenantID: tenantID, Lifecycle: lifecycle.StateIntaked,
	}))

	sharedLocker := &fakeLocker{}
	lister := &fakeTenantLister{tenantIDs: []string{tenantID}}

	cfg := reconciliation.Config{IntervalMs: 10_000, RunImmediately: true, Enabled: true}

	jobA := reconciliation.NewTenantLifecycleReconciliationJob(store, svc, &mlog.NoneLogger{})
	schedulerA := reconciliation.NewScheduler(cfg, sharedLocker, lister, jobA, &mlog.NoneLogger{})

	jobB := reconciliation.NewTenantLifecycleReconciliationJob(store, svc, &mlog.NoneLogger{})
	schedulerB := reconciliation.NewScheduler(cfg, sharedLocker, lister, jobB, &mlog.NoneLogger{})

	store.resetSweepCount()

	ctx := context.Background()
	schedulerA.Start(ctx)
	schedulerB.Start(ctx)

	time.Sleep(100 * time.Millisecond)

	schedulerA.Stop()
	schedulerB.Stop()

	assert.Equal(t, 2, sharedLocker.acquireN, "both instances must attempt acquisition")
	assert.Equal(t, 1, store.sweepCalls(), "exactly one instance must have actually swept the tenant")
}

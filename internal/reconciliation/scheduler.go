package reconciliation

import (
	"context"
	"sync"
	"time"

	"github.com/caseledger/casecore/internal/projection"
	"github.com/caseledger/casecore/pkg/mlog"
)

// AdvisoryLockKey is the well-known 64-bit constant the scheduler uses
// for cluster-wide leader election (spec.md §4.10, §9). It must not
// collide with any other scheduler's key.
const AdvisoryLockKey int64 = 987654321

// Config holds the scheduler's tunable knobs (spec.md §4.10, §6).
type Config struct {
	IntervalMs       int
	InitialDelayMs   int
	RunImmediately   bool
	PerTenantDelayMs int
	Enabled          bool
}

// TenantLister enumerates every tenant the scheduler should sweep.
type TenantLister interface {
	ListTenantIDs(ctx context.Context) ([]string, error)
}

// AdvisoryLocker is the cluster-wide mutual-exclusion port backing
// leader election. TryAcquire and Release are expected to operate on
// the same underlying database session, since Postgres advisory locks
// are session-scoped.
type AdvisoryLocker interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// TenantLifecycleReconciliationJob iterates one tenant's cases
// sequentially, to preserve ledger-sequence pressure and fairness
// (spec.md §4.10). A single case's failure is logged and does not
// abort the sweep (spec.md §7 propagation policy).
type TenantLifecycleReconciliationJob struct {
	store   projection.Store
	service *LifecycleReconciliationService
	logger  mlog.Logger
}

// NewTenantLifecycleReconciliationJob builds a
// TenantLifecycleReconciliationJob.
func NewTenantLifecycleReconciliationJob(store projection.Store, service *LifecycleReconciliationService, logger mlog.Logger) *TenantLifecycleReconciliationJob {
	return &TenantLifecycleReconciliationJob{store: store, service: service, logger: logger}
}

// Run reconciles every case belonging to tenantID.
func (j *TenantLifecycleReconciliationJob) Run(ctx context.Context, tenantID string) {
	cases, err := j.store.ListCasesByTenant(ctx, tenantID)
	if err != nil {
		j.logger.Errorf("reconciliation: list cases for tenant %s: %v", tenantID, err)
		return
	}

	for _, c := range cases {
		if _, err := j.service.ReconcileCase(ctx, tenantID, c.ID); err != nil {
			j.logger.Errorf("reconciliation: case %s/%s: %v", tenantID, c.ID, err)
		}
	}
}

// Scheduler drives TenantLifecycleReconciliationJob on a periodic
// interval, gated by a process-local single-flight guard and a
// cluster-wide advisory lock (spec.md §4.10, §9). Exactly one instance
// across the cluster executes a given interval's sweep; the rest skip
// silently.
type Scheduler struct {
	cfg    Config
	locker AdvisoryLocker
	tenant TenantLister
	job    *TenantLifecycleReconciliationJob
	logger mlog.Logger

	mu       sync.Mutex
	inFlight bool
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewScheduler builds a Scheduler.
func NewScheduler(cfg Config, locker AdvisoryLocker, tenant TenantLister, job *TenantLifecycleReconciliationJob, logger mlog.Logger) *Scheduler {
	return &Scheduler{cfg: cfg, locker: locker, tenant: tenant, job: job, logger: logger}
}

// Start launches the periodic loop in a background goroutine. It is a
// no-op if the scheduler is disabled. Start must not be called twice
// without an intervening Stop.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}

	s.mu.Lock()
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)

	delay := time.Duration(s.cfg.InitialDelayMs) * time.Millisecond
	if s.cfg.RunImmediately {
		delay = 0
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-timer.C:
			s.runOnce(ctx)
			timer.Reset(time.Duration(s.cfg.IntervalMs) * time.Millisecond)
		}
	}
}

// Stop signals the loop to exit and blocks until it has. The running
// sweep observes the stop request between tenants, never mid
// transaction (spec.md §9 "Cancellation & timeouts").
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.running = false
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.mu.Unlock()

	if stopCh == nil {
		return
	}

	select {
	case <-stopCh:
	default:
		close(stopCh)
	}

	<-doneCh
}

func (s *Scheduler) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// runOnce performs one sweep attempt: process-local single-flight
// guard, then cluster-wide advisory lock acquisition, then sequential
// per-tenant iteration.
func (s *Scheduler) runOnce(ctx context.Context) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return
	}

	s.inFlight = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	acquired, err := s.locker.TryAcquire(ctx)
	if err != nil {
		s.logger.Errorf("reconciliation: acquire advisory lock: %v", err)
		return
	}

	if !acquired {
		return
	}

	defer func() {
		if err := s.locker.Release(ctx); err != nil {
			s.logger.Errorf("reconciliation: release advisory lock: %v", err)
		}
	}()

	tenantIDs, err := s.tenant.ListTenantIDs(ctx)
	if err != nil {
		s.logger.Errorf("reconciliation: list tenants: %v", err)
		return
	}

	for i, tenantID := range tenantIDs {
		if !s.isRunning() {
			return
		}

		s.job.Run(ctx, tenantID)

		if i == len(tenantIDs)-1 {
			continue
		}

		select {
		case <-time.After(time.Duration(s.cfg.PerTenantDelayMs) * time.Millisecond):
		case <-ctx.Done():
			return
		}
	}
}

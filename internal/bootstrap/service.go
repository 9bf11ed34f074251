package bootstrap

import (
	"context"
	"fmt"

	"github.com/caseledger/casecore/internal/adapters/http/ws"
	"github.com/caseledger/casecore/internal/adapters/mongo/chat"
	"github.com/caseledger/casecore/internal/adapters/payout"
	"github.com/caseledger/casecore/internal/adapters/postgres"
	disbursementrepo "github.com/caseledger/casecore/internal/adapters/postgres/disbursement"
	ledgerrepo "github.com/caseledger/casecore/internal/adapters/postgres/ledger"
	projectionrepo "github.com/caseledger/casecore/internal/adapters/postgres/projection"
	pgreconciliation "github.com/caseledger/casecore/internal/adapters/postgres/reconciliation"
	rabbitmqdisbursement "github.com/caseledger/casecore/internal/adapters/rabbitmq/disbursement"
	"github.com/caseledger/casecore/internal/adapters/redis"
	"github.com/caseledger/casecore/internal/disbursement"
	"github.com/caseledger/casecore/internal/ledger"
	"github.com/caseledger/casecore/internal/realtime"
	"github.com/caseledger/casecore/internal/reconciliation"
	"github.com/caseledger/casecore/pkg/applauncher"
	"github.com/caseledger/casecore/pkg/mlog"
	"github.com/caseledger/casecore/pkg/mmongo"
	"github.com/caseledger/casecore/pkg/mpostgres"
	"github.com/caseledger/casecore/pkg/mrabbitmq"
	"github.com/caseledger/casecore/pkg/mredis"
)

// Service is the application glue every long-running piece of casecore
// hangs off. Grounded on the teacher's components/audit/internal/
// bootstrap.Service{*Server,*Consumer,mlog.Logger}, generalized from
// one background consumer to casecore's worker-plus-scheduler pair.
type Service struct {
	*Server
	worker    *disbursementWorkerApp
	scheduler *schedulerApp
	mlog.Logger
}

// Run starts the HTTP/WS server, the disbursement execution worker,
// and the lifecycle reconciliation scheduler, and blocks until ctx is
// cancelled and every app has returned.
func (s *Service) Run(ctx context.Context) {
	s.Server.ctx = ctx
	s.worker.ctx = ctx
	s.scheduler.ctx = ctx

	applauncher.New(
		applauncher.WithLogger(s.Logger),
		applauncher.RunApp("HTTP/WS Service", s.Server),
		applauncher.RunApp("Disbursement Execution Worker", s.worker),
		applauncher.RunApp("Lifecycle Reconciliation Scheduler", s.scheduler),
	).Run()
}

// InitServers wires every connection and domain service named across
// SPEC_FULL.md into a runnable Service. Grounded on the teacher's
// components/audit/internal/bootstrap.InitServers.
func InitServers(cfg *Config, logger mlog.Logger) (*Service, error) {
	ctx := context.Background()

	db, err := (&mpostgres.Connection{
		PrimaryDSN:     cfg.PostgresPrimaryDSN,
		ReplicaDSN:     cfg.PostgresReplicaDSN,
		PrimaryDBName:  ApplicationName,
		MigrationsPath: "internal/adapters/postgres/migrations",
		Logger:         logger,
	}).DB(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: postgres: %w", err)
	}

	mongoConn := &mmongo.Connection{URI: mongoURI(cfg), Database: cfg.MongoDBName, Logger: logger}

	redisClient, err := (&mredis.Connection{URL: cfg.RedisURL, Logger: logger}).Client(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: redis: %w", err)
	}

	rabbitConn := &mrabbitmq.Connection{URL: rabbitmqURL(cfg), Logger: logger}

	keys, err := ledger.NewKeyStore(cfg.KeyStorePath)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: ledger keystore: %w", err)
	}

	ledgerRepo := ledgerrepo.NewRepository(db, logger)
	authority := ledger.NewAuthority(ledgerRepo, keys, logger)

	// internal/lifecycle and internal/query are library entry points for
	// the external thin controller layer spec.md §1 places out of this
	// module's scope; this composition root only starts the processes
	// that run on their own: the real-time gateway, the disbursement
	// execution worker, and the reconciliation scheduler.
	projectionRepo := projectionrepo.NewRepository(db)

	txRunner := postgres.NewTxRunner(db)

	executionPublisher := rabbitmqdisbursement.NewPublisher(rabbitConn)
	disbursementRepo := disbursementrepo.NewRepository(db)
	disbursementService := disbursement.NewService(
		disbursementRepo,
		projectionRepo,
		authority,
		executionPublisher,
		payout.NewLoggingExecutor(logger),
		logger,
		cfg.DisbursementExecutionTimeout(),
	)

	worker := &disbursementWorkerApp{
		worker: rabbitmqdisbursement.NewWorker(rabbitConn, disbursementService, disbursementRepo, logger),
	}

	reconciliationService := reconciliation.NewLifecycleReconciliationService(authority, projectionRepo, txRunner, logger)
	reconciliationJob := reconciliation.NewTenantLifecycleReconciliationJob(projectionRepo, reconciliationService, logger)
	scheduler := &schedulerApp{
		scheduler: reconciliation.NewScheduler(
			reconciliation.Config{
				IntervalMs:       int(cfg.LifecycleIntervalMS),
				InitialDelayMs:   int(cfg.LifecycleInitialDelayMS),
				RunImmediately:   cfg.LifecycleRunImmediately,
				PerTenantDelayMs: int(cfg.LifecyclePerTenantDelayMS),
				Enabled:          cfg.EnableLifecycleScheduler,
			},
			pgreconciliation.NewAdvisoryLock(db, reconciliation.AdvisoryLockKey),
			pgreconciliation.NewTenantLister(db),
			reconciliationJob,
			logger,
		),
	}

	sender := ws.NewSender()

	gateway := realtime.NewGateway(realtime.Deps{
		InstanceID:     ApplicationName + "-" + cfg.Port,
		Bus:            redis.NewBus(redisClient, logger),
		Sender:         sender,
		Logger:         logger,
		Messages:       chat.NewMessageRepository(mongoConn),
		Receipts:       chat.NewReceiptRepository(mongoConn),
		ReadPositions:  chat.NewReadPositionRepository(mongoConn),
		TypingThrottle: cfg.TypingThrottle(),
	})

	server := NewServer(cfg, gateway, sender, func() error { return ledgerRepo.Ping(ctx) }, logger)

	return &Service{
		Server:    server,
		worker:    worker,
		scheduler: scheduler,
		Logger:    logger,
	}, nil
}

func mongoURI(cfg *Config) string {
	if cfg.MongoDBUser == "" {
		return fmt.Sprintf("mongodb://%s:%s", cfg.MongoDBHost, cfg.MongoDBPort)
	}

	return fmt.Sprintf("mongodb://%s:%s@%s:%s", cfg.MongoDBUser, cfg.MongoDBPassword, cfg.MongoDBHost, cfg.MongoDBPort)
}

func rabbitmqURL(cfg *Config) string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", cfg.RabbitMQUser, cfg.RabbitMQPass, cfg.RabbitMQHost, cfg.RabbitMQPortHost)
}

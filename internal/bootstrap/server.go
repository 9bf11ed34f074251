package bootstrap

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/caseledger/casecore/internal/adapters/http/auth"
	"github.com/caseledger/casecore/internal/adapters/http/health"
	"github.com/caseledger/casecore/internal/adapters/http/ws"
	"github.com/caseledger/casecore/internal/realtime"
	"github.com/caseledger/casecore/pkg/applauncher"
	"github.com/caseledger/casecore/pkg/mlog"
)

// Server hosts the real-time gateway's websocket upgrade route plus
// liveness endpoints. Grounded on the teacher's components/audit/
// internal/bootstrap.Server{app,serverAddress,Logger}.Run(l).
type Server struct {
	app           *fiber.App
	serverAddress string
	logger        mlog.Logger

	ctx context.Context
}

// NewServer builds a Server around gateway, mounting its websocket
// route plus /health and /version.
func NewServer(cfg *Config, gateway *realtime.Gateway, sender *ws.Sender, ping func() error, logger mlog.Logger) *Server {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	verifier := auth.NewVerifier(cfg.JWTSigningSecret)

	ws.RegisterRoutes(app, gateway, sender, verifier.Resolve, logger)
	health.RegisterRoutes(app, ping)

	return &Server{
		app:           app,
		serverAddress: ":" + cfg.Port,
		logger:        logger,
		ctx:           context.Background(),
	}
}

// Run listens until the composition root cancels the server's context,
// at which point it drains the fiber app and returns.
func (s *Server) Run(_ *applauncher.Launcher) error {
	go func() {
		<-s.ctx.Done()

		if err := s.app.ShutdownWithContext(context.Background()); err != nil {
			s.logger.Errorf("http/ws server: shutdown: %v", err)
		}
	}()

	if err := s.app.Listen(s.serverAddress); err != nil {
		return fmt.Errorf("http/ws server: %w", err)
	}

	return nil
}

// disbursementWorkerApp adapts the RabbitMQ disbursement execution
// worker to applauncher.App.
type disbursementWorkerApp struct {
	worker rabbitWorker
	ctx    context.Context
}

// rabbitWorker is the subset of internal/adapters/rabbitmq/disbursement.Worker
// disbursementWorkerApp drives.
type rabbitWorker interface {
	Run(ctx context.Context) error
}

func (a *disbursementWorkerApp) Run(_ *applauncher.Launcher) error {
	return a.worker.Run(a.ctx)
}

// schedulerApp adapts the lifecycle reconciliation scheduler to
// applauncher.App: Start launches its own background loop, so Run just
// starts it and blocks until shutdown is requested.
type schedulerApp struct {
	scheduler lifecycleScheduler
	ctx       context.Context
}

// lifecycleScheduler is the subset of internal/reconciliation.Scheduler
// schedulerApp drives.
type lifecycleScheduler interface {
	Start(ctx context.Context)
	Stop()
}

func (a *schedulerApp) Run(_ *applauncher.Launcher) error {
	a.scheduler.Start(a.ctx)
	<-a.ctx.Done()
	a.scheduler.Stop()

	return nil
}

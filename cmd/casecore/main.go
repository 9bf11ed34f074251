// Command casecore runs the case-management backend's long-running
// surface: the real-time gateway's websocket server, the disbursement
// execution worker, and the lifecycle reconciliation scheduler.
// Grounded on the teacher's components/ledger/cmd/app/main.go
// (LoadConfig -> InitializeLogger -> InitServers -> service.Run()).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/caseledger/casecore/internal/bootstrap"
	"github.com/caseledger/casecore/pkg/mzap"
)

func main() {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "casecore: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := mzap.InitializeLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "casecore: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	service, err := bootstrap.InitServers(cfg, logger)
	if err != nil {
		logger.Errorf("casecore: failed to initialize service: %v", err)
		_ = logger.Sync()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	service.Run(ctx)

	if err := logger.Sync(); err != nil {
		fmt.Fprintf(os.Stderr, "casecore: failed to sync logger: %v\n", err)
	}

	os.Exit(0)
}

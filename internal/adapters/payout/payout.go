// Package payout is the boundary casecore's executeDisbursement calls
// through to move money. spec.md §1 explicitly excludes implementing an
// actual payment rail from this system's scope: "casecore never
// implements an actual payout transport" — a real deployment wires
// disbursement.PayoutExecutor to its payment processor of choice.
// LoggingExecutor exists so the rest of the disbursement pipeline has
// something concrete to run against out of the box.
package payout

import (
	"context"

	"github.com/caseledger/casecore/internal/disbursement"
	"github.com/caseledger/casecore/pkg/mlog"
)

// LoggingExecutor implements disbursement.PayoutExecutor by logging the
// request and reporting success. It is the default wired executor;
// deployments integrating a real payment rail replace it at the
// composition root.
type LoggingExecutor struct {
	logger mlog.Logger
}

// NewLoggingExecutor builds a LoggingExecutor.
func NewLoggingExecutor(logger mlog.Logger) *LoggingExecutor {
	return &LoggingExecutor{logger: logger}
}

// Pay logs the payout request it would have submitted to a payment
// rail.
func (e *LoggingExecutor) Pay(_ context.Context, d disbursement.Disbursement) error {
	e.logger.Infof("payout: would pay disbursement %s case %s/%s amount %s %s to %s:%s",
		d.ID, d.TenantID, d.CaseID, d.Amount.String(), d.Currency, d.Payee.Kind, d.Payee.ID)

	return nil
}

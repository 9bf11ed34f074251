// Package disbursement wires the disbursement execution hand-off
// described in SPEC_FULL.md §4.9.1 onto RabbitMQ: authorizeDisbursement
// publishes to queue disbursement.execute after its transaction
// commits, and a worker consumes from the same queue to drive
// executeDisbursement asynchronously. Grounded on the teacher's
// common/mrabbitmq connection hub plus the producer/consumer shape used
// across components/ledger's outbox-style event publication.
package disbursement

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	domaindisbursement "github.com/caseledger/casecore/internal/disbursement"
	"github.com/caseledger/casecore/internal/ledger"
	"github.com/caseledger/casecore/pkg/mlog"
	"github.com/caseledger/casecore/pkg/motel"
	"github.com/caseledger/casecore/pkg/mrabbitmq"
)

// QueueName is the durable queue carrying EXECUTE_DISBURSEMENT
// messages.
const QueueName = "disbursement.execute"

// executeMessage is the wire payload described in SPEC_FULL.md §4.9.1.
type executeMessage struct {
	TenantID       string `json:"tenantId"`
	DisbursementID string `json:"disbursementId"`
}

// Publisher implements disbursement.ExecutionPublisher over RabbitMQ.
type Publisher struct {
	conn *mrabbitmq.Connection
}

// NewPublisher builds a Publisher over conn.
func NewPublisher(conn *mrabbitmq.Connection) *Publisher {
	return &Publisher{conn: conn}
}

// PublishExecute declares the queue (idempotent) and publishes an
// EXECUTE_DISBURSEMENT message. Callers invoke this strictly after the
// authorizing transaction has committed.
func (p *Publisher) PublishExecute(ctx context.Context, tenantID, disbursementID string) error {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "rabbitmq.disbursement.publish_execute")
	defer span.End()

	ch, err := p.conn.Channel(ctx)
	if err != nil {
		motel.HandleSpanError(&span, "open channel", err)
		return fmt.Errorf("disbursement publisher: channel: %w", err)
	}

	if _, err := ch.QueueDeclare(QueueName, true, false, false, false, nil); err != nil {
		motel.HandleSpanError(&span, "declare queue", err)
		return fmt.Errorf("disbursement publisher: declare queue: %w", err)
	}

	body, err := json.Marshal(executeMessage{TenantID: tenantID, DisbursementID: disbursementID})
	if err != nil {
		motel.HandleSpanError(&span, "marshal message", err)
		return fmt.Errorf("disbursement publisher: marshal: %w", err)
	}

	err = ch.PublishWithContext(ctx, "", QueueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		motel.HandleSpanError(&span, "publish message", err)
		return fmt.Errorf("disbursement publisher: publish: %w", err)
	}

	return nil
}

// Executor is the injected execution interface the worker calls per
// message; the Service itself implements it.
type Executor interface {
	Execute(ctx context.Context, tx ledger.Tx, tenantID, caseID string) error
}

// CaseLookup resolves a disbursementId back to its owning case, since
// Execute is keyed by (tenantId, caseId) rather than disbursementId
// directly (spec.md §3: caseId is unique on Disbursement).
type CaseLookup interface {
	GetByID(ctx context.Context, tenantID, disbursementID string) (*domaindisbursement.Disbursement, error)
}

// Worker consumes disbursement.execute and drives execution.
type Worker struct {
	conn     *mrabbitmq.Connection
	executor Executor
	lookup   CaseLookup
	logger   mlog.Logger
}

// NewWorker builds a disbursement execution Worker.
func NewWorker(conn *mrabbitmq.Connection, executor Executor, lookup CaseLookup, logger mlog.Logger) *Worker {
	return &Worker{conn: conn, executor: executor, lookup: lookup, logger: logger}
}

// Run consumes messages from disbursement.execute until ctx is
// cancelled, acking each message only after Execute returns
// successfully so a crash mid-payout redelivers the message. Execute
// refuses a disbursement that is no longer AUTHORIZED, so a redelivered
// message never pays twice; that refusal is an error, which handle
// nacks with requeue like any other execute failure.
func (w *Worker) Run(ctx context.Context) error {
	ch, err := w.conn.Channel(ctx)
	if err != nil {
		return fmt.Errorf("disbursement worker: channel: %w", err)
	}

	if _, err := ch.QueueDeclare(QueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("disbursement worker: declare queue: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, QueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("disbursement worker: consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}

			w.handle(ctx, d)
		}
	}
}

func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	var msg executeMessage

	if err := json.Unmarshal(d.Body, &msg); err != nil {
		w.logger.Errorf("disbursement worker: malformed message: %v", err)
		_ = d.Nack(false, false)

		return
	}

	disb, err := w.lookup.GetByID(ctx, msg.TenantID, msg.DisbursementID)
	if err != nil || disb == nil {
		w.logger.Errorf("disbursement worker: lookup %s failed: %v", msg.DisbursementID, err)
		_ = d.Nack(false, true)

		return
	}

	if err := w.executor.Execute(ctx, nil, msg.TenantID, disb.CaseID); err != nil {
		w.logger.Errorf("disbursement worker: execute %s failed: %v", msg.DisbursementID, err)
		_ = d.Nack(false, true)

		return
	}

	_ = d.Ack(false)
}

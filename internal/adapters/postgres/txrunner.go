// Package postgres holds the cross-domain Postgres wiring every adapter
// package in internal/adapters/postgres shares: the transaction runner
// that lets a caller bundle a ledger commit with a projection write in
// one database transaction (spec.md §9 "transactional composition").
package postgres

import (
	"context"
	"fmt"

	"github.com/bxcodec/dbresolver/v2"

	"github.com/caseledger/casecore/internal/ledger"
)

// TxRunner opens a *sql.Tx and hands it to fn as an opaque ledger.Tx,
// committing on success and rolling back on any error. Repository
// methods across internal/adapters/postgres/* type-assert this back to
// *sql.Tx.
type TxRunner struct {
	db dbresolver.DB
}

// NewTxRunner builds a TxRunner over db.
func NewTxRunner(db dbresolver.DB) *TxRunner {
	return &TxRunner{db: db}
}

// RunInTx runs fn inside a single database transaction.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("postgres: rollback after %w: %w", err, rbErr)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}

	return nil
}

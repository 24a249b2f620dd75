// Package query is the query iterator facade: it compiles caller
// predicates into the descriptor the B+tree engine executes, owns the
// underlying tree iterator with a small bounded read-ahead queue of
// materialized records, projects and decodes fields on demand, and
// enforces transaction cancellation.
package query

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/SimonWaldherr/btreeindex/internal/errs"
	"github.com/SimonWaldherr/btreeindex/internal/objectid"
)

// Txn is the transaction context threaded through every operation. It
// carries no undo state (the engine keeps none of its own), only the
// cancellation flag checked at page boundaries, a correlation id for log
// lines, and the test-only fault-injection hook.
type Txn struct {
	ctx         context.Context
	aborted     atomic.Bool
	Correlation objectid.TxCorrelation
	Fault       errs.FaultInjector
}

// NewTxn builds a transaction context. ctx cancellation and Abort are
// equivalent: the next operation (or iterator advance) surfaces
// Cancelled without further I/O.
func NewTxn(ctx context.Context) *Txn {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Txn{ctx: ctx, Correlation: objectid.NewTxCorrelation()}
}

// Abort marks the transaction aborted.
func (t *Txn) Abort() { t.aborted.Store(true) }

// Err returns nil while the transaction is live, or a Cancelled-kind
// error once it has been aborted or its context cancelled.
func (t *Txn) Err() error {
	if t.aborted.Load() {
		return errs.New("query.Txn", errs.KindCancelled, fmt.Errorf("transaction aborted"))
	}
	if err := t.ctx.Err(); err != nil {
		return errs.New("query.Txn", errs.KindCancelled, err)
	}
	return nil
}

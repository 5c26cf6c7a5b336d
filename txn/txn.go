// Package txn implements spec.md §5's sole concurrency primitive:
// runInTransaction as scoped acquisition. The core performs no scheduling of
// its own; this is the one place a transaction boundary exists at all.
package txn

import (
	"context"
	"fmt"

	"github.com/strata-orm/strata/rowsource"
)

// RunInTransaction acquires one transaction from source, runs body with it,
// and commits on body's normal return or rolls back and re-raises on error
// (spec.md §9, "model as scoped acquisition with a callback taking a
// connection value; the callback's return value propagates; any error
// triggers rollback then re-raise"). A panic inside body also rolls back
// before propagating, so a transaction is never left open on an abnormal
// exit path.
func RunInTransaction(ctx context.Context, source rowsource.RowSource, body func(ctx context.Context, tx rowsource.Transaction) error) (err error) {
	tx, err := source.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("strata: txn: begin: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := body(ctx, tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return fmt.Errorf("strata: txn: body failed (%w), rollback failed: %v", err, rerr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("strata: txn: commit: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/matheus3301/mpp/internal/entity"
)

// ReconcileMessage replaces the entity of a pending message with the one the
// realm assigned. When the acknowledged message was already stored (a poll
// delivered it before the acknowledgement arrived) the pending copy is
// deleted instead. It reports whether any row changed.
func (db *DB) ReconcileMessage(ctx context.Context, pending, acked entity.Entity) (bool, error) {
	if pending.Acknowledged() {
		return false, wrap("reconcile message", fmt.Errorf("%s is not pending", pending))
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, wrap("reconcile message", fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE entity = ?`, entity.Format(acked)).Scan(&exists); err != nil {
		return false, wrap("reconcile message", err)
	}

	var res sql.Result
	if exists > 0 {
		res, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE entity = ?`, entity.Format(pending))
	} else {
		res, err = tx.ExecContext(ctx, `UPDATE messages SET entity = ? WHERE entity = ?`, entity.Format(acked), entity.Format(pending))
	}
	if err != nil {
		return false, wrap("reconcile message", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("reconcile message", err)
	}
	if err := tx.Commit(); err != nil {
		return false, wrap("reconcile message", err)
	}
	return n > 0, nil
}

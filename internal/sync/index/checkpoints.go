package index

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// HasCompleted reports whether a real transfer for this selection has
// finished into localRoot before.
func (d *DB) HasCompleted(ctx context.Context, remote, localRoot, fingerprint string) (bool, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT 1 FROM policy_checkpoints WHERE remote = ? AND local_root = ? AND fingerprint = ? LIMIT 1
	`, remote, localRoot, fingerprint)
	var v int
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (d *DB) MarkCompleted(ctx context.Context, remote, localRoot, fingerprint string, at time.Time) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO policy_checkpoints (remote, local_root, fingerprint, completed_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(remote, local_root, fingerprint) DO UPDATE SET completed_at=excluded.completed_at
	`, remote, localRoot, fingerprint, at.UnixMilli())
	return err
}

// ResetCheckpoints forgets completed transfers for a pair, so the next sync
// with dry-run-before-first-sync enabled previews again.
func (d *DB) ResetCheckpoints(ctx context.Context, remote, localRoot string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM policy_checkpoints WHERE remote = ? AND local_root = ?`, remote, localRoot)
	return err
}

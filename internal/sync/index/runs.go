package index

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dl-alexandre/pdsync/internal/types"
	"github.com/dl-alexandre/pdsync/internal/utils"
)

// RecordRun inserts or replaces the history row for a run.
func (d *DB) RecordRun(ctx context.Context, rec types.RunRecord) error {
	var endedAt sql.NullInt64
	if rec.EndedAt != nil {
		endedAt = sql.NullInt64{Int64: rec.EndedAt.UnixMilli(), Valid: true}
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO sync_runs (
			id, remote, local_root, mode, state, dry_run, bytes_transferred, files_transferred, error_count, reason, started_at, ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state=excluded.state,
			dry_run=excluded.dry_run,
			bytes_transferred=excluded.bytes_transferred,
			files_transferred=excluded.files_transferred,
			error_count=excluded.error_count,
			reason=excluded.reason,
			ended_at=excluded.ended_at
	`, rec.ID, rec.Remote, rec.LocalRoot, rec.Mode, rec.State, boolToInt(rec.DryRun), rec.BytesTransferred, rec.FilesTransferred,
		rec.ErrorCount, rec.Reason, rec.StartedAt.UnixMilli(), endedAt)
	return err
}

// ListRuns returns the most recent runs first. A limit of zero or less
// returns every run.
func (d *DB) ListRuns(ctx context.Context, limit int) (runs []types.RunRecord, err error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, remote, local_root, mode, state, dry_run, bytes_transferred, files_transferred, error_count, reason, started_at, ended_at
		FROM sync_runs ORDER BY started_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// GetRun returns one run by ID, or RUN_NOT_FOUND.
func (d *DB) GetRun(ctx context.Context, id string) (*types.RunRecord, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, remote, local_root, mode, state, dry_run, bytes_transferred, files_transferred, error_count, reason, started_at, ended_at
		FROM sync_runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.Errorf(utils.ErrCodeRunNotFound, "no sync run %q in history", id)
		}
		return nil, err
	}
	return &run, nil
}

// PruneRuns keeps the newest keep runs and deletes the rest.
func (d *DB) PruneRuns(ctx context.Context, keep int) (int64, error) {
	res, err := d.db.ExecContext(ctx, `
		DELETE FROM sync_runs WHERE id NOT IN (
			SELECT id FROM sync_runs ORDER BY started_at DESC, id LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanRun(scanner interface {
	Scan(dest ...interface{}) error
}) (types.RunRecord, error) {
	var run types.RunRecord
	var dryRun int
	var reason sql.NullString
	var startedAt int64
	var endedAt sql.NullInt64
	err := scanner.Scan(&run.ID, &run.Remote, &run.LocalRoot, &run.Mode, &run.State, &dryRun, &run.BytesTransferred,
		&run.FilesTransferred, &run.ErrorCount, &reason, &startedAt, &endedAt)
	if err != nil {
		return types.RunRecord{}, err
	}
	run.DryRun = dryRun != 0
	run.Reason = reason.String
	run.StartedAt = time.UnixMilli(startedAt)
	if endedAt.Valid {
		end := time.UnixMilli(endedAt.Int64)
		run.EndedAt = &end
	}
	return run, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

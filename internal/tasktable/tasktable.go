// Package tasktable implements the durable Task Table (§4.3): every unit
// of ingestion work is a row, surviving process restarts independently
// of any in-memory queue. Grounded on the teacher's
// internal/repository/job_repository.go query shape, generalised from a
// job-history audit log into the actual unit-of-work table the parser
// drains.
package tasktable

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/mediavault/libcatalog/internal/mlerrors"
	"github.com/mediavault/libcatalog/internal/models"
	"github.com/mediavault/libcatalog/internal/store"
)

// MaxRetries is the retry threshold beyond which a task is permanently
// discarded (§4.3, §8: "the parser never schedules a fourth attempt for
// a task whose retry count already reached the threshold").
const MaxRetries = 3

type Table struct {
	st *store.Store
}

func New(st *store.Store) *Table {
	return &Table{st: st}
}

const taskColumns = `id, type, step, mrl, file_id, media_id, parent_folder_id, parent_folder_mrl,
	link_to_type, link_to_id, link_extra, retry_count, completed`

func scanTask(row interface{ Scan(dest ...interface{}) error }) (*models.Task, error) {
	t := &models.Task{}
	err := row.Scan(&t.ID, &t.Type, &t.Step, &t.MRL, &t.FileID, &t.MediaID,
		&t.ParentFolderID, &t.ParentFolderMRL, &t.LinkToType, &t.LinkToID, &t.LinkExtra,
		&t.RetryCount, &t.Completed)
	return t, err
}

// Create inserts a Creation task. Duplicate (mrl, parent_folder_id) is
// reported as ConstraintUnique by the store and the caller is expected
// to treat it as "already scheduled" (§4.3).
func (t *Table) Create(ctx context.Context, task *models.Task) error {
	task.Type = models.TaskTypeCreation
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	return t.st.WithWriteTx(ctx, func(tx *store.Tx) error {
		_, err := tx.Exec(`INSERT INTO tasks (id, type, step, mrl, file_id, parent_folder_id, parent_folder_mrl, retry_count, completed)
			VALUES ($1, $2, 0, $3, $4, $5, $6, 0, false)`,
			task.ID, task.Type, task.MRL, task.FileID, task.ParentFolderID, task.ParentFolderMRL)
		if err != nil {
			return err
		}
		tx.Notify("tasks", "insert", task.ID.String())
		return nil
	})
}

// CreateLinkTask inserts a Link task. Duplicate (link_type, link_to_id,
// link_extra, mrl) is reported as ConstraintUnique.
func (t *Table) CreateLinkTask(ctx context.Context, linkType models.LinkToType, linkToID uuid.UUID, linkExtra, mrlStr string) error {
	id := uuid.New()
	return t.st.WithWriteTx(ctx, func(tx *store.Tx) error {
		_, err := tx.Exec(`INSERT INTO tasks (id, type, step, mrl, link_to_type, link_to_id, link_extra, retry_count, completed)
			VALUES ($1, $2, 0, $3, $4, $5, $6, 0, false)`,
			id, models.TaskTypeLink, mrlStr, linkType, linkToID, linkExtra)
		if err != nil {
			return err
		}
		tx.Notify("tasks", "insert", id.String())
		return nil
	})
}

// CreateRefreshTask inserts a Refresh task for an existing File whose
// last-modified changed.
func (t *Table) CreateRefreshTask(ctx context.Context, fileID uuid.UUID) error {
	id := uuid.New()
	return t.st.WithWriteTx(ctx, func(tx *store.Tx) error {
		_, err := tx.Exec(`INSERT INTO tasks (id, type, step, file_id, retry_count, completed)
			VALUES ($1, $2, 0, $3, 0, false)`,
			id, models.TaskTypeRefresh, fileID)
		if err != nil {
			return err
		}
		tx.Notify("tasks", "insert", id.String())
		return nil
	})
}

// CreateRestoreTask inserts a Restore task to restore a user-created
// playlist from a backup file after a destructive schema reset (§4.3).
func (t *Table) CreateRestoreTask(ctx context.Context, backupMRL string) error {
	id := uuid.New()
	return t.st.WithWriteTx(ctx, func(tx *store.Tx) error {
		_, err := tx.Exec(`INSERT INTO tasks (id, type, step, mrl, retry_count, completed)
			VALUES ($1, $2, 0, $3, 0, false)`,
			id, models.TaskTypeRestore, backupMRL)
		if err != nil {
			return err
		}
		tx.Notify("tasks", "insert", id.String())
		return nil
	})
}

// Next returns the oldest not-yet-completed task, if any, for a worker
// to pick up, ordered by seq — the BIGSERIAL assignment order, not id,
// since id is a random uuid and carries no FIFO meaning (§4.3, §5:
// "task enqueue order is FIFO"). Requeue bumps a task's seq to move it
// to the tail without touching the rest of its row. Returns nil, nil
// when the table is empty — callers treat that as "idle".
func (t *Table) Next(ctx context.Context) (*models.Task, error) {
	row := t.st.DB().QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE completed = false ORDER BY seq ASC LIMIT 1`)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// UpdateStep persists the task's step bitmap inside a transaction (§4.6
// step 2: "update the task's step bitmap inside a transaction").
func (t *Table) UpdateStep(ctx context.Context, id uuid.UUID, step models.TaskStep, completed bool) error {
	return t.st.WithWriteTx(ctx, func(tx *store.Tx) error {
		_, err := tx.Exec(`UPDATE tasks SET step = $1, completed = $2 WHERE id = $3`, step, completed, id)
		if err != nil {
			return err
		}
		tx.Notify("tasks", "update", id.String())
		return nil
	})
}

// BumpRetry increments the retry counter and reports whether the task
// should now be permanently discarded (§4.3 retry policy).
func (t *Table) BumpRetry(ctx context.Context, id uuid.UUID) (discard bool, err error) {
	err = t.st.WithWriteTx(ctx, func(tx *store.Tx) error {
		row := tx.QueryRow(`UPDATE tasks SET retry_count = retry_count + 1 WHERE id = $1 RETURNING retry_count`, id)
		var count int
		if scanErr := row.Scan(&count); scanErr != nil {
			return scanErr
		}
		discard = count >= MaxRetries
		if discard {
			_, delErr := tx.Exec(`DELETE FROM tasks WHERE id = $1`, id)
			if delErr != nil {
				return delErr
			}
			tx.Notify("tasks", "delete", id.String())
		}
		return nil
	})
	return discard, err
}

// Discard removes a task permanently without counting it against the
// retry budget (used for `Discarded` status, e.g. a concurrently
// deleted owning media, §4.6 step 3).
func (t *Table) Discard(ctx context.Context, id uuid.UUID) error {
	return t.st.WithWriteTx(ctx, func(tx *store.Tx) error {
		_, err := tx.Exec(`DELETE FROM tasks WHERE id = $1`, id)
		if err != nil {
			return err
		}
		tx.Notify("tasks", "delete", id.String())
		return nil
	})
}

// Requeue re-inserts the task's identity at the tail of the FIFO for
// transient conditions (`Requeue` status, §4.6 step 3): it reassigns
// seq to a freshly minted value from the same sequence Next orders by,
// so the task reappears after everything already queued.
func (t *Table) Requeue(ctx context.Context, id uuid.UUID) error {
	return t.st.WithWriteTx(ctx, func(tx *store.Tx) error {
		_, err := tx.Exec(`UPDATE tasks SET requeued_at = now(), seq = nextval('tasks_seq_seq') WHERE id = $1`, id)
		return err
	})
}

// ResetParsing clears every task's step bitmap, used when forcing a
// rescan (§4.3, §4.10 Force rescan).
func (t *Table) ResetParsing(ctx context.Context) error {
	return t.st.WithWriteTx(ctx, func(tx *store.Tx) error {
		_, err := tx.Exec(`UPDATE tasks SET step = 0, completed = false`)
		return err
	})
}

// ResetRetryCount allows previously-failed tasks to be retried once more.
func (t *Table) ResetRetryCount(ctx context.Context) error {
	return t.st.WithWriteTx(ctx, func(tx *store.Tx) error {
		_, err := tx.Exec(`UPDATE tasks SET retry_count = 0`)
		return err
	})
}

// RemovePlaylistContentTasks removes pending Link tasks targeting a
// playlist, used when a playlist is refreshed from a changed backing
// file and its prior pending links are stale (§4.3).
func (t *Table) RemovePlaylistContentTasks(ctx context.Context, playlistID uuid.UUID) error {
	return t.st.WithWriteTx(ctx, func(tx *store.Tx) error {
		_, err := tx.Exec(`DELETE FROM tasks WHERE type = $1 AND link_to_type = $2 AND link_to_id = $3`,
			models.TaskTypeLink, models.LinkToTypePlaylist, playlistID)
		return err
	})
}

// IsAlreadyScheduled reports whether err indicates the Creation/Link
// uniqueness constraint fired, meaning the task is a harmless duplicate
// (§4.3, §7: "ConstraintUnique on task creation = already scheduled").
func IsAlreadyScheduled(err error) bool {
	return mlerrors.IsConstraint(err, mlerrors.ConstraintUnique)
}

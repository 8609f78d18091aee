package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/service"
	"github.com/google/uuid"
)

const taskColumns = `id, status, task_type, client_id, transaction_count,
	processed_count, error_count, error_details, metadata, cancel_requested,
	run_count, log_path, started_at, heartbeat_at, finished_at, created_at,
	updated_at`

// CreateTask inserts a pending task and its transaction membership in one
// database transaction. A nil task ID is replaced with a fresh UUID.
func (s *SQLiteStorage) CreateTask(ctx context.Context, task *model.ProcessingTask, transactionIDs []int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("%w: task", ErrNilParameter)
	}
	if len(transactionIDs) == 0 {
		return fmt.Errorf("%w: transaction ids", ErrEmptySlice)
	}
	if _, err := model.ParseTaskType(string(task.Type)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}

	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	now := time.Now().UTC()
	task.Status = model.TaskPending
	task.TransactionCount = len(transactionIDs)
	task.CreatedAt = now
	task.UpdatedAt = now

	details, err := encodeJSON(task.ErrorDetails)
	if err != nil {
		return err
	}
	metadata, err := encodeJSON(task.Metadata)
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO processing_tasks (
				id, status, task_type, client_id, transaction_count,
				error_details, metadata, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, task.ID.String(), string(task.Status), string(task.Type), task.ClientID,
			task.TransactionCount, details, metadata, now, now); err != nil {
			return fmt.Errorf("failed to insert task: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO processing_task_transactions (task_id, transaction_id) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, txnID := range transactionIDs {
			if _, err := stmt.ExecContext(ctx, task.ID.String(), txnID); err != nil {
				return fmt.Errorf("failed to add transaction %d to task: %w", txnID, err)
			}
		}
		return nil
	})
}

// GetTask loads a single task.
func (s *SQLiteStorage) GetTask(ctx context.Context, id uuid.UUID) (*model.ProcessingTask, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM processing_tasks WHERE id = ?`, id.String())
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// ListTasks returns tasks matching filter, newest first.
func (s *SQLiteStorage) ListTasks(ctx context.Context, filter service.TaskFilter) ([]model.ProcessingTask, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.ClientID != "" {
		where = append(where, "client_id = ?")
		args = append(args, filter.ClientID)
	}

	query := `SELECT ` + taskColumns + ` FROM processing_tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []model.ProcessingTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// GetTaskTransactionIDs returns the member transaction IDs in ascending order.
func (s *SQLiteStorage) GetTaskTransactionIDs(ctx context.Context, id uuid.UUID) ([]int64, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id FROM processing_task_transactions
		WHERE task_id = ?
		ORDER BY transaction_id
	`, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query task transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var txnID int64
		if err := rows.Scan(&txnID); err != nil {
			return nil, fmt.Errorf("failed to scan transaction id: %w", err)
		}
		ids = append(ids, txnID)
	}
	return ids, rows.Err()
}

// StartTask moves a pending task to processing and opens a new run.
func (s *SQLiteStorage) StartTask(ctx context.Context, id uuid.UUID, logPath string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE processing_tasks SET
			status = 'processing',
			started_at = ?,
			heartbeat_at = ?,
			finished_at = NULL,
			run_count = run_count + 1,
			log_path = ?,
			updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, now, now, logPath, now, id.String())
	if err != nil {
		return fmt.Errorf("failed to start task: %w", err)
	}
	return s.checkTaskUpdate(ctx, res, id)
}

// UpdateTaskProgress records per-item progress for a processing task.
// Writes that would move processed_count backward or past transaction_count
// are rejected.
func (s *SQLiteStorage) UpdateTaskProgress(ctx context.Context, id uuid.UUID, progress model.TaskProgress) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	details, err := encodeJSON(progress.ErrorDetails)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE processing_tasks SET
			processed_count = ?,
			error_count = ?,
			error_details = ?,
			heartbeat_at = ?,
			updated_at = ?
		WHERE id = ? AND status = 'processing'
			AND processed_count <= ? AND ? <= transaction_count
	`, progress.ProcessedCount, progress.ErrorCount, details, now, now,
		id.String(), progress.ProcessedCount, progress.ProcessedCount)
	if err != nil {
		return fmt.Errorf("failed to update task progress: %w", err)
	}
	return s.checkTaskUpdate(ctx, res, id)
}

// TouchTask refreshes the heartbeat of a processing task.
func (s *SQLiteStorage) TouchTask(ctx context.Context, id uuid.UUID) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE processing_tasks SET heartbeat_at = ?, updated_at = ?
		WHERE id = ? AND status = 'processing'
	`, now, now, id.String())
	if err != nil {
		return fmt.Errorf("failed to touch task: %w", err)
	}
	return s.checkTaskUpdate(ctx, res, id)
}

// TransitionTask moves a task from one status to a terminal status. Non-nil
// details are merged into the stored error details, overwriting equal keys.
func (s *SQLiteStorage) TransitionTask(ctx context.Context, id uuid.UUID, from, to model.TaskStatus, details map[string]string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if !model.CanTransition(from, to) || !to.IsTerminal() {
		return fmt.Errorf("%w: cannot move task from %s to %s", ErrInvalidTask, from, to)
	}

	var res sql.Result
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		set := []string{"status = ?", "finished_at = ?", "updated_at = ?"}
		args := []any{string(to), now, now}
		if details != nil {
			merged, err := mergeErrorDetails(ctx, tx, id, details)
			if err != nil {
				return err
			}
			set = append(set, "error_details = ?")
			args = append(args, merged)
		}
		args = append(args, id.String(), string(from))

		var err error
		res, err = tx.ExecContext(ctx,
			`UPDATE processing_tasks SET `+strings.Join(set, ", ")+` WHERE id = ? AND status = ?`,
			args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to transition task: %w", err)
	}
	return s.checkTaskUpdate(ctx, res, id)
}

// mergeErrorDetails overlays details on the task's stored error details and
// returns the encoded result. A missing task merges onto an empty map.
func mergeErrorDetails(ctx context.Context, q queryable, id uuid.UUID, details map[string]string) (string, error) {
	var stored string
	err := q.QueryRowContext(ctx, `SELECT error_details FROM processing_tasks WHERE id = ?`, id.String()).Scan(&stored)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to read error details: %w", err)
	}

	merged := make(map[string]string)
	if stored != "" {
		if err := json.Unmarshal([]byte(stored), &merged); err != nil {
			return "", fmt.Errorf("failed to parse error details: %w", err)
		}
		if merged == nil {
			merged = make(map[string]string)
		}
	}
	maps.Copy(merged, details)
	return encodeJSON(merged)
}

// ResetTask returns a failed task to pending with cleared counters.
func (s *SQLiteStorage) ResetTask(ctx context.Context, id uuid.UUID) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE processing_tasks SET
			status = 'pending',
			processed_count = 0,
			error_count = 0,
			error_details = '{}',
			cancel_requested = 0,
			started_at = NULL,
			heartbeat_at = NULL,
			finished_at = NULL,
			updated_at = ?
		WHERE id = ? AND status = 'failed'
	`, time.Now().UTC(), id.String())
	if err != nil {
		return fmt.Errorf("failed to reset task: %w", err)
	}
	return s.checkTaskUpdate(ctx, res, id)
}

// RequestTaskCancel flags a processing task for cooperative cancellation.
func (s *SQLiteStorage) RequestTaskCancel(ctx context.Context, id uuid.UUID) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE processing_tasks SET cancel_requested = 1, updated_at = ?
		WHERE id = ? AND status = 'processing'
	`, time.Now().UTC(), id.String())
	if err != nil {
		return fmt.Errorf("failed to request cancellation: %w", err)
	}
	return s.checkTaskUpdate(ctx, res, id)
}

// ListStaleTasks returns processing tasks whose last heartbeat is older than
// heartbeatBefore.
func (s *SQLiteStorage) ListStaleTasks(ctx context.Context, heartbeatBefore time.Time) ([]model.ProcessingTask, error) {
	processing, err := s.ListTasks(ctx, service.TaskFilter{Status: model.TaskProcessing})
	if err != nil {
		return nil, err
	}

	var stale []model.ProcessingTask
	for _, t := range processing {
		if t.HeartbeatAt == nil || t.HeartbeatAt.Before(heartbeatBefore) {
			stale = append(stale, t)
		}
	}
	return stale, nil
}

// checkTaskUpdate turns a zero-row conditional update into ErrNotFound or
// ErrConflict.
func (s *SQLiteStorage) checkTaskUpdate(ctx context.Context, res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM processing_tasks WHERE id = ?`, id.String()).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("task %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read task status: %w", err)
	}
	return fmt.Errorf("task %s is %s: %w", id, status, common.ErrConflict)
}

func scanTask(row rowScanner) (*model.ProcessingTask, error) {
	var (
		t                              model.ProcessingTask
		id, status, taskType           string
		details, metadata              string
		startedAt, heartbeat, finished sql.NullTime
	)
	if err := row.Scan(
		&id,
		&status,
		&taskType,
		&t.ClientID,
		&t.TransactionCount,
		&t.ProcessedCount,
		&t.ErrorCount,
		&details,
		&metadata,
		&t.CancelRequested,
		&t.RunCount,
		&t.LogPath,
		&startedAt,
		&heartbeat,
		&finished,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if t.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid task id %q: %w", id, err)
	}
	t.Status = model.TaskStatus(status)
	t.Type = model.TaskType(taskType)
	t.StartedAt = nullTime(startedAt)
	t.HeartbeatAt = nullTime(heartbeat)
	t.FinishedAt = nullTime(finished)

	if err := json.Unmarshal([]byte(details), &t.ErrorDetails); err != nil {
		return nil, fmt.Errorf("failed to parse error details: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &t.Metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &t, nil
}

func encodeJSON[T any](v map[string]T) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode json column: %w", err)
	}
	return string(b), nil
}

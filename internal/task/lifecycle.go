package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/google/uuid"
)

// CancelledMessage is recorded in error details when an operator cancels.
const CancelledMessage = "Task cancelled by user"

// Lifecycle errors.
var (
	ErrNoTransactions      = errors.New("no transaction ids given")
	ErrUnknownTransactions = errors.New("unknown transaction ids")
)

// LifecycleStore is the persistence a Lifecycle needs.
type LifecycleStore interface {
	GetTransactionsByIDs(ctx context.Context, ids []int64) ([]model.Transaction, error)
	CreateTask(ctx context.Context, task *model.ProcessingTask, transactionIDs []int64) error
	GetTask(ctx context.Context, id uuid.UUID) (*model.ProcessingTask, error)
	ResetTask(ctx context.Context, id uuid.UUID) error
	RequestTaskCancel(ctx context.Context, id uuid.UUID) error
	TransitionTask(ctx context.Context, id uuid.UUID, from, to model.TaskStatus, details map[string]string) error
}

// Lifecycle implements the operator actions on tasks.
type Lifecycle struct {
	store  LifecycleStore
	logger *slog.Logger
}

// NewLifecycle creates a Lifecycle.
func NewLifecycle(store LifecycleStore, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{store: store, logger: logger}
}

// CreateTasks creates one pending task per client among the given
// transactions. Tasks are returned ordered by client ID.
func (l *Lifecycle) CreateTasks(ctx context.Context, taskType model.TaskType, transactionIDs []int64) ([]model.ProcessingTask, error) {
	if _, err := model.ParseTaskType(string(taskType)); err != nil {
		return nil, err
	}
	ids := dedupe(transactionIDs)
	if len(ids) == 0 {
		return nil, ErrNoTransactions
	}

	txns, err := l.store.GetTransactionsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading transactions: %w", err)
	}
	if missing := missingIDs(ids, txns); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnknownTransactions, missing)
	}

	byClient := make(map[string][]int64)
	for _, txn := range txns {
		byClient[txn.ClientID] = append(byClient[txn.ClientID], txn.ID)
	}
	clients := make([]string, 0, len(byClient))
	for c := range byClient {
		clients = append(clients, c)
	}
	sort.Strings(clients)

	tasks := make([]model.ProcessingTask, 0, len(clients))
	for _, clientID := range clients {
		members := byClient[clientID]
		task := model.ProcessingTask{
			Type:     taskType,
			ClientID: clientID,
			Metadata: map[string]any{"description": describe(taskType, len(members))},
		}
		if err := l.store.CreateTask(ctx, &task, members); err != nil {
			return tasks, fmt.Errorf("creating task for client %s: %w", clientID, err)
		}
		l.logger.Info("task created",
			"task_id", task.ID,
			"client_id", clientID,
			"type", taskType,
			"transactions", len(members))
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// Retry returns failed tasks to pending. It reports how many were reset;
// tasks in any other state are reported in the joined error.
func (l *Lifecycle) Retry(ctx context.Context, ids []uuid.UUID) (int, error) {
	var (
		reset int
		errs  []error
	)
	for _, id := range ids {
		if err := l.store.ResetTask(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		l.logger.Info("task reset for retry", "task_id", id)
		reset++
	}
	return reset, errors.Join(errs...)
}

// Cancel fails pending tasks immediately and flags processing tasks so their
// worker stops at the next transaction boundary.
func (l *Lifecycle) Cancel(ctx context.Context, ids []uuid.UUID) (int, error) {
	var (
		cancelled int
		errs      []error
	)
	for _, id := range ids {
		if err := l.cancel(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		cancelled++
	}
	return cancelled, errors.Join(errs...)
}

func (l *Lifecycle) cancel(ctx context.Context, id uuid.UUID) error {
	task, err := l.store.GetTask(ctx, id)
	if err != nil {
		return err
	}

	switch task.Status {
	case model.TaskPending:
		err := l.store.TransitionTask(ctx, id, model.TaskPending, model.TaskFailed, CancelDetails())
		if !errors.Is(err, common.ErrConflict) {
			if err == nil {
				l.logger.Info("pending task cancelled", "task_id", id)
			}
			return err
		}
		// Picked up by a worker in the meantime.
		fallthrough
	case model.TaskProcessing:
		if err := l.store.RequestTaskCancel(ctx, id); err != nil {
			return err
		}
		l.logger.Info("cancellation requested", "task_id", id)
		return nil
	default:
		return fmt.Errorf("task %s is %s: %w", id, task.Status, common.ErrConflict)
	}
}

// CancelDetails is the error detail map recorded for cancelled tasks.
func CancelDetails() map[string]string {
	return map[string]string{"error": CancelledMessage}
}

func describe(taskType model.TaskType, n int) string {
	if taskType == model.TaskPayeeLookup {
		return fmt.Sprintf("Batch payee lookup for %d transactions", n)
	}
	return fmt.Sprintf("Batch classification for %d transactions", n)
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func missingIDs(ids []int64, found []model.Transaction) []int64 {
	have := make(map[int64]bool, len(found))
	for _, t := range found {
		have[t.ID] = true
	}
	var missing []int64
	for _, id := range ids {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

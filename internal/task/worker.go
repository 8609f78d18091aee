package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"time"

	"github.com/Veraticus/ledgerflow/internal/agent"
	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
)

// DefaultHeartbeatInterval is how often a running worker refreshes its lease.
const DefaultHeartbeatInterval = 30 * time.Second

// Worker errors.
var (
	ErrTaskNotProcessing = errors.New("task is not processing")
	ErrTaskCancelled     = errors.New("task cancelled")
)

// WorkerStore is the persistence a Worker needs.
type WorkerStore interface {
	ApplyStore
	GetTask(ctx context.Context, id uuid.UUID) (*model.ProcessingTask, error)
	GetTaskTransactionIDs(ctx context.Context, id uuid.UUID) ([]int64, error)
	GetTransactionsByIDs(ctx context.Context, ids []int64) ([]model.Transaction, error)
	UpdateTaskProgress(ctx context.Context, id uuid.UUID, progress model.TaskProgress) error
	TouchTask(ctx context.Context, id uuid.UUID) error
	TransitionTask(ctx context.Context, id uuid.UUID, from, to model.TaskStatus, details map[string]string) error
}

// AgentResolver picks the agent for a task type.
type AgentResolver interface {
	ForTask(taskType model.TaskType) (*model.Agent, error)
}

// Processor runs an agent over one transaction.
type Processor interface {
	Process(ctx context.Context, a *model.Agent, txn *model.Transaction) (*agent.Outcome, error)
}

// Worker processes the transactions of one task sequentially, recording
// progress after every item.
type Worker struct {
	store     WorkerStore
	agents    AgentResolver
	processor Processor
	logger    *slog.Logger
	heartbeat time.Duration
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithHeartbeat sets the lease refresh interval. Zero disables it.
func WithHeartbeat(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.heartbeat = d
	}
}

// WithWorkerLogger sets the logger that receives per-item records.
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWorker creates a worker.
func NewWorker(store WorkerStore, agents AgentResolver, processor Processor, opts ...WorkerOption) *Worker {
	w := &Worker{
		store:     store,
		agents:    agents,
		processor: processor,
		logger:    slog.Default(),
		heartbeat: DefaultHeartbeatInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes a task that has already been moved to processing. It
// returns ErrTaskCancelled when an operator cancelled the task mid-run and
// a non-nil error when the task as a whole failed. Per-transaction failures
// are recorded on the task and do not make Run fail.
func (w *Worker) Run(ctx context.Context, id uuid.UUID) error {
	task, err := w.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task.Status != model.TaskProcessing {
		return fmt.Errorf("task %s is %s: %w", id, task.Status, ErrTaskNotProcessing)
	}

	w.logger.Info("task started",
		"task_id", id,
		"type", task.Type,
		"client_id", task.ClientID,
		"transactions", task.TransactionCount,
		"run", task.RunCount)

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var wg conc.WaitGroup
	if w.heartbeat > 0 {
		wg.Go(func() { w.keepAlive(hbCtx, id) })
	}

	status, err := w.process(ctx, task)
	stopHeartbeat()
	wg.Wait()

	// Terminal writes must land even if ctx was cancelled.
	final := context.WithoutCancel(ctx)
	switch {
	case errors.Is(err, ErrTaskCancelled):
		if terr := w.store.TransitionTask(final, id, model.TaskProcessing, model.TaskFailed, CancelDetails()); terr != nil {
			return terr
		}
		w.logger.Info("task cancelled", "task_id", id)
		return err
	case err != nil:
		w.logger.Error("task failed", "task_id", id, "error", err)
		details := map[string]string{"error": err.Error()}
		if terr := w.store.TransitionTask(final, id, model.TaskProcessing, model.TaskFailed, details); terr != nil {
			return errors.Join(err, terr)
		}
		return err
	}

	if err := w.store.TransitionTask(final, id, model.TaskProcessing, status, nil); err != nil {
		return err
	}
	w.logger.Info("task finished", "task_id", id, "status", status)
	return nil
}

func (w *Worker) process(ctx context.Context, task *model.ProcessingTask) (model.TaskStatus, error) {
	a, err := w.agents.ForTask(task.Type)
	if err != nil {
		return "", err
	}

	ids, err := w.store.GetTaskTransactionIDs(ctx, task.ID)
	if err != nil {
		return "", err
	}
	txns, err := w.store.GetTransactionsByIDs(ctx, ids)
	if err != nil {
		return "", err
	}
	byID := make(map[int64]*model.Transaction, len(txns))
	for i := range txns {
		byID[txns[i].ID] = &txns[i]
	}

	progress := model.TaskProgress{ErrorDetails: make(map[string]string)}
	for _, txnID := range ids {
		current, err := w.store.GetTask(ctx, task.ID)
		if err != nil {
			return "", err
		}
		if current.CancelRequested {
			return "", ErrTaskCancelled
		}
		if current.Status != model.TaskProcessing {
			return "", fmt.Errorf("task %s is %s: %w", task.ID, current.Status, common.ErrConflict)
		}

		itemErr := w.processItem(ctx, a, byID[txnID], txnID)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("interrupted: %w", ctxErr)
		}
		if itemErr != nil {
			progress.ErrorCount++
			progress.ErrorDetails[strconv.FormatInt(txnID, 10)] = itemErr.Error()
		}
		progress.ProcessedCount++

		snapshot := progress
		snapshot.ErrorDetails = maps.Clone(progress.ErrorDetails)
		if err := w.store.UpdateTaskProgress(ctx, task.ID, snapshot); err != nil {
			return "", fmt.Errorf("recording progress: %w", err)
		}
	}

	if progress.ErrorCount > 0 {
		return model.TaskFailed, nil
	}
	return model.TaskCompleted, nil
}

func (w *Worker) processItem(ctx context.Context, a *model.Agent, txn *model.Transaction, txnID int64) error {
	if txn == nil {
		err := fmt.Errorf("transaction %d: %w", txnID, common.ErrNotFound)
		w.logger.Warn("transaction missing", "transaction_id", txnID)
		return err
	}

	start := time.Now()
	outcome, err := Apply(ctx, w.store, w.processor, a, txn)
	if err != nil {
		w.logger.Error("transaction failed",
			"transaction_id", txnID,
			"agent", a.Name,
			"error", err)
		return err
	}

	w.logger.Info("transaction processed",
		"transaction_id", txnID,
		"agent", a.Name,
		"tool_calls", outcome.Result.ToolCalls,
		"llm_calls", outcome.Result.LLMCalls,
		"parse_failed", outcome.Result.ParseFailed,
		"fields", len(outcome.Update),
		"duration", time.Since(start).Round(time.Millisecond))
	return nil
}

func (w *Worker) keepAlive(ctx context.Context, id uuid.UUID) {
	ticker := time.NewTicker(w.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.TouchTask(ctx, id); err != nil && ctx.Err() == nil {
				w.logger.Warn("heartbeat failed", "task_id", id, "error", err)
			}
		}
	}
}

package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/google/uuid"
)

// DefaultLeaseTTL is how long a processing task may go without a heartbeat
// before it is considered abandoned.
const DefaultLeaseTTL = 5 * time.Minute

// ReconcileStore is the persistence a Reconciler needs.
type ReconcileStore interface {
	ListStaleTasks(ctx context.Context, heartbeatBefore time.Time) ([]model.ProcessingTask, error)
	TransitionTask(ctx context.Context, id uuid.UUID, from, to model.TaskStatus, details map[string]string) error
}

// Reconciler fails processing tasks whose worker stopped heartbeating.
type Reconciler struct {
	store  ReconcileStore
	logger *slog.Logger
	now    func() time.Time
	ttl    time.Duration
}

// NewReconciler creates a reconciler. A non-positive ttl uses DefaultLeaseTTL.
func NewReconciler(store ReconcileStore, ttl time.Duration, logger *slog.Logger) *Reconciler {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, ttl: ttl, logger: logger, now: time.Now}
}

// Sweep marks every stale task failed and returns the ones it changed.
func (r *Reconciler) Sweep(ctx context.Context) ([]uuid.UUID, error) {
	cutoff := r.now().UTC().Add(-r.ttl)
	stale, err := r.store.ListStaleTasks(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	var (
		failed []uuid.UUID
		errs   []error
	)
	for _, t := range stale {
		lastSeen := "never"
		if t.HeartbeatAt != nil {
			lastSeen = t.HeartbeatAt.Format(time.RFC3339)
		}
		details := map[string]string{
			"error": fmt.Sprintf("worker lost: no heartbeat since %s", lastSeen),
		}

		err := r.store.TransitionTask(ctx, t.ID, model.TaskProcessing, model.TaskFailed, details)
		switch {
		case errors.Is(err, common.ErrConflict):
			// Finished between the listing and the update.
			continue
		case err != nil:
			errs = append(errs, err)
			continue
		}
		r.logger.Warn("abandoned task failed",
			"task_id", t.ID,
			"last_heartbeat", lastSeen,
			"processed", t.ProcessedCount,
			"total", t.TransactionCount)
		failed = append(failed, t.ID)
	}
	return failed, errors.Join(errs...)
}

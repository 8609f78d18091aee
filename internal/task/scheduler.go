package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/service"
	"github.com/robfig/cron/v3"
)

// SchedulerConfig holds the cron expressions (standard 5-field format).
// An empty expression disables that job.
type SchedulerConfig struct {
	ReconcileSpec string
	AutoRunSpec   string
}

// TaskLister lists tasks.
type TaskLister interface {
	ListTasks(ctx context.Context, filter service.TaskFilter) ([]model.ProcessingTask, error)
}

// Scheduler runs the reconcile sweep and, optionally, starts pending tasks
// on a cron schedule.
type Scheduler struct {
	cron       *cron.Cron
	reconciler *Reconciler
	runner     *Runner
	tasks      TaskLister
	logger     *slog.Logger
}

// NewScheduler registers the configured jobs.
func NewScheduler(cfg SchedulerConfig, reconciler *Reconciler, runner *Runner, tasks TaskLister, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cron:       cron.New(),
		reconciler: reconciler,
		runner:     runner,
		tasks:      tasks,
		logger:     logger,
	}

	if cfg.ReconcileSpec != "" {
		if _, err := s.cron.AddFunc(cfg.ReconcileSpec, s.reconcile); err != nil {
			return nil, fmt.Errorf("registering reconcile cron %q: %w", cfg.ReconcileSpec, err)
		}
	}
	if cfg.AutoRunSpec != "" {
		if _, err := s.cron.AddFunc(cfg.AutoRunSpec, s.autoRun); err != nil {
			return nil, fmt.Errorf("registering auto-run cron %q: %w", cfg.AutoRunSpec, err)
		}
	}
	return s, nil
}

// Start begins executing jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for running jobs to complete.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) reconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	failed, err := s.reconciler.Sweep(ctx)
	if err != nil {
		s.logger.Error("reconcile sweep failed", "error", err)
	}
	if len(failed) > 0 {
		s.logger.Info("reconcile sweep", "failed_tasks", len(failed))
	}
}

// autoRun starts the oldest pending task when no supervised worker is busy.
func (s *Scheduler) autoRun() {
	if s.runner.Active() > 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := s.StartNext(ctx); err != nil && !errors.Is(err, ErrNoPendingTasks) {
		s.logger.Error("auto-run failed", "error", err)
	}
}

// ErrNoPendingTasks is returned by StartNext when nothing is queued.
var ErrNoPendingTasks = errors.New("no pending tasks")

// StartNext starts the oldest pending task under supervision.
func (s *Scheduler) StartNext(ctx context.Context) (*model.ProcessingTask, error) {
	pending, err := s.tasks.ListTasks(ctx, service.TaskFilter{Status: model.TaskPending})
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, ErrNoPendingTasks
	}

	// Newest first; take the oldest.
	next := pending[len(pending)-1]
	if err := s.runner.Spawn(ctx, next.ID); err != nil {
		return nil, err
	}
	s.logger.Info("auto-started task", "task_id", next.ID, "client_id", next.ClientID)
	return &next, nil
}

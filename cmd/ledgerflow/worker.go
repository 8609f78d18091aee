package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/task"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "worker <task-id>",
		Short:  "Process one task (started by 'tasks run')",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE:   runWorker,
	}
	cmd.Flags().String("log-file", "", "task log to append to (default: <log-dir>/task_<id>.log)")
	return cmd
}

func runWorker(cmd *cobra.Command, args []string) error {
	logFile, _ := cmd.Flags().GetString("log-file")
	ids, err := parseTaskIDs(args)
	if err != nil {
		return err
	}
	id := ids[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if logFile == "" {
		logFile = task.LogPath(cfg.LogDir, id)
	}

	taskLog, err := task.OpenLogFile(logFile)
	if err != nil {
		return err
	}
	defer func() { _ = taskLog.Close() }()

	level, err := common.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := taskLog.Logger(level).With("task_id", id)
	audit := taskLog.Logger(slog.LevelDebug).With("task_id", id, "component", "audit")

	ctx := cmd.Context()
	store, err := openStorage(ctx, cfg)
	if err != nil {
		logger.Error("worker could not open the database", "error", err)
		return err
	}
	defer func() { _ = store.Close() }()

	p, err := newPipeline(ctx, cfg, store, logger, audit)
	if err != nil {
		logger.Error("worker could not load agents", "error", err)
		return failStartedTask(ctx, store, id, err)
	}

	w := task.NewWorker(store, p.table, p.processor,
		task.WithHeartbeat(cfg.Tasks.Heartbeat),
		task.WithWorkerLogger(logger))
	if err := w.Run(ctx, id); err != nil && !errors.Is(err, task.ErrTaskCancelled) {
		return fmt.Errorf("task %s: %w", id, err)
	}
	return nil
}

// failStartedTask marks a task failed when the worker cannot begin
// processing it. A detached worker has no supervisor to do this.
func failStartedTask(ctx context.Context, store task.RunnerStore, id uuid.UUID, cause error) error {
	details := map[string]string{"error": cause.Error()}
	if err := store.TransitionTask(context.WithoutCancel(ctx), id, model.TaskProcessing, model.TaskFailed, details); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

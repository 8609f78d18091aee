package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Veraticus/ledgerflow/internal/config"
	"github.com/Veraticus/ledgerflow/internal/server"
	"github.com/Veraticus/ledgerflow/internal/storage"
	"github.com/Veraticus/ledgerflow/internal/task"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the task monitor and run scheduled jobs",
		Long: `Serve a read-only JSON API over tasks and their logs:

  GET /health
  GET /tasks?status=&client=&limit=
  GET /tasks/{id}
  GET /tasks/{id}/log?lines=N

While serving, stale tasks are reconciled on scheduler.reconcile and, when
scheduler.auto_run is set, pending tasks are started one at a time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("addr")

			return withStore(cmd, func(ctx context.Context, cfg *config.Config, store *storage.SQLiteStorage) error {
				if addr == "" {
					addr = cfg.Server.Addr
				}
				logger := slog.Default()

				sched, err := task.NewScheduler(
					task.SchedulerConfig{
						ReconcileSpec: cfg.Scheduler.ReconcileSpec,
						AutoRunSpec:   cfg.Scheduler.AutoRunSpec,
					},
					task.NewReconciler(store, cfg.Tasks.LeaseTTL, logger),
					newRunner(cfg, store),
					store,
					logger)
				if err != nil {
					return err
				}
				sched.Start()
				defer sched.Stop()
				logger.Info("scheduler started", "jobs", sched.Entries())

				err = server.New(store, logger).ListenAndServe(ctx, addr)
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("task monitor: %w", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().String("addr", "", "listen address (default: server.addr)")
	return cmd
}

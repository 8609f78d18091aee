package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/Veraticus/ledgerflow/internal/cli"
	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/config"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/service"
	"github.com/Veraticus/ledgerflow/internal/storage"
	"github.com/Veraticus/ledgerflow/internal/task"
	"github.com/Veraticus/ledgerflow/internal/tui"
	"github.com/Veraticus/ledgerflow/internal/tui/themes"
	"github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const waitPollInterval = 500 * time.Millisecond

func tasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Create, run and monitor processing tasks",
		Long: `Processing tasks group one client's transactions for background payee
lookup or classification. Each task runs in its own worker process and
writes a log under <data-dir>/logs.`,
	}
	cmd.AddCommand(tasksCreateCmd())
	cmd.AddCommand(tasksRunCmd())
	cmd.AddCommand(tasksListCmd())
	cmd.AddCommand(tasksShowCmd())
	cmd.AddCommand(tasksRetryCmd())
	cmd.AddCommand(tasksCancelCmd())
	cmd.AddCommand(tasksWatchCmd())
	cmd.AddCommand(tasksReconcileCmd())
	return cmd
}

// withStore loads the configuration and opens the database for fn.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, store *storage.SQLiteStorage) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(ctx, cfg, store)
}

func tasksCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <transaction-id>...",
		Short: "Create tasks for transactions, one per client",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rawType, _ := cmd.Flags().GetString("type")
			taskType, err := model.ParseTaskType(rawType)
			if err != nil {
				return common.NewUserError("--type must be classification or payee_lookup", err)
			}
			ids, err := parseTransactionIDs(args)
			if err != nil {
				return err
			}

			return withStore(cmd, func(ctx context.Context, _ *config.Config, store *storage.SQLiteStorage) error {
				tasks, err := task.NewLifecycle(store, nil).CreateTasks(ctx, taskType, ids)
				if err != nil {
					return err
				}
				for _, t := range tasks {
					fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("%s  %s  %s  %d transactions",
						t.ID, t.Type, t.ClientID, t.TransactionCount)))
				}
				return nil
			})
		},
	}
	cmd.Flags().String("type", string(model.TaskClassification), "task type (classification, payee_lookup)")
	return cmd
}

// workerArgs forwards the settings a worker needs to load the same config.
func workerArgs(cfg *config.Config) []string {
	args := []string{"--data-dir", cfg.DataDir, "--log-level", cfg.Logging.Level}
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	return args
}

func newRunner(cfg *config.Config, store task.RunnerStore) *task.Runner {
	return task.NewRunner(store, cfg.LogDir,
		task.WithCommand(task.WorkerCommand(workerArgs(cfg)...)),
		task.WithWorkDir(cfg.DataDir))
}

func tasksRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <task-id>",
		Short: "Start a pending task in a worker process",
		Long: `Start a pending task. By default the worker is detached and keeps running
after this command returns; follow it with "tasks watch". With --wait the
worker is supervised and a progress bar is shown until it finishes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wait, _ := cmd.Flags().GetBool("wait")
			ids, err := parseTaskIDs(args)
			if err != nil {
				return err
			}
			id := ids[0]

			return withStore(cmd, func(ctx context.Context, cfg *config.Config, store *storage.SQLiteStorage) error {
				runner := newRunner(cfg, store)
				if err := runner.Start(ctx, id, !wait); err != nil {
					if errors.Is(err, task.ErrTaskNotPending) {
						return common.NewUserError("Only pending tasks can be started; use 'tasks retry' for failed ones", err)
					}
					return err
				}

				out := cmd.OutOrStdout()
				if !wait {
					fmt.Fprintln(out, cli.FormatSuccess("Task started in the background"))
					fmt.Fprintln(out, cli.FormatInfo("Follow it with: ledgerflow tasks watch "+id.String()))
					return nil
				}
				return waitForTask(ctx, cmd, store, runner, id)
			})
		},
	}
	cmd.Flags().Bool("wait", false, "supervise the worker and show progress until it finishes")
	return cmd
}

func waitForTask(ctx context.Context, cmd *cobra.Command, store *storage.SQLiteStorage, runner *task.Runner, id uuid.UUID) error {
	interrupts := cli.NewInterruptHandler(cmd.ErrOrStderr())
	ctx = interrupts.HandleInterrupts(ctx, "Task run", "Cancellation requested; waiting for the worker to stop.")

	t, err := store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	bar := cli.NewProgressBar(os.Stderr, t.TransactionCount, "Processing "+t.ClientID)

	done := make(chan error, 1)
	go func() { done <- runner.Wait(context.WithoutCancel(ctx), id) }()

	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	bg := context.WithoutCancel(ctx)
	interrupted := ctx.Done()
	var waitErr error
loop:
	for {
		select {
		case waitErr = <-done:
			break loop
		case <-interrupted:
			interrupted = nil
			if _, err := task.NewLifecycle(store, nil).Cancel(bg, []uuid.UUID{id}); err != nil {
				return err
			}
		case <-ticker.C:
			if current, err := store.GetTask(bg, id); err == nil {
				_ = bar.Set(current.ProcessedCount)
			}
		}
	}

	final, err := store.GetTask(bg, id)
	if err != nil {
		return err
	}
	_ = bar.Set(final.ProcessedCount)
	_ = bar.Finish()
	printTaskSummary(cmd, final)

	switch {
	case waitErr != nil:
		return fmt.Errorf("worker failed: %w", waitErr)
	case final.Status != model.TaskCompleted:
		return fmt.Errorf("task %s %s", id, final.Status)
	}
	return nil
}

func printTaskSummary(cmd *cobra.Command, t *model.ProcessingTask) {
	summary := fmt.Sprintf("Status:    %s\nType:      %s\nClient:    %s\nProcessed: %d/%d\nErrors:    %d",
		cli.FormatStatus(t.Status), t.Type, t.ClientID, t.ProcessedCount, t.TransactionCount, t.ErrorCount)
	if t.StartedAt != nil {
		end := time.Now()
		if t.FinishedAt != nil {
			end = *t.FinishedAt
		}
		summary += "\nElapsed:   " + units.HumanDuration(end.Sub(*t.StartedAt))
	}
	if t.LogPath != "" {
		summary += "\nLog:       " + t.LogPath
	}
	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderBox("Task "+t.ID.String(), summary))

	keys := make([]string, 0, len(t.ErrorDetails))
	for k := range t.ErrorDetails {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatError(k+": "+t.ErrorDetails[k]))
	}
}

func tasksListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, _ := cmd.Flags().GetString("status")
			clientID, _ := cmd.Flags().GetString("client")
			limit, _ := cmd.Flags().GetInt("limit")

			return withStore(cmd, func(ctx context.Context, _ *config.Config, store *storage.SQLiteStorage) error {
				tasks, err := store.ListTasks(ctx, service.TaskFilter{
					Status:   model.TaskStatus(status),
					ClientID: clientID,
					Limit:    limit,
				})
				if err != nil {
					return err
				}
				if len(tasks) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("No tasks found"))
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				defer func() { _ = w.Flush() }()
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					cli.BoldStyle.Render("ID"),
					cli.BoldStyle.Render("STATUS"),
					cli.BoldStyle.Render("TYPE"),
					cli.BoldStyle.Render("CLIENT"),
					cli.BoldStyle.Render("PROGRESS"),
					cli.BoldStyle.Render("CREATED"))
				for _, t := range tasks {
					status := string(t.Status)
					if t.CancelRequested && !t.Status.IsTerminal() {
						status += " (cancelling)"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d (%d errors)\t%s ago\n",
						t.ID, status, t.Type, t.ClientID,
						t.ProcessedCount, t.TransactionCount, t.ErrorCount,
						units.HumanDuration(time.Since(t.CreatedAt)))
				}
				return nil
			})
		},
	}
	cmd.Flags().String("status", "", "only tasks with this status")
	cmd.Flags().String("client", "", "only this client's tasks")
	cmd.Flags().Int("limit", 20, "maximum number of tasks (0 for all)")
	return cmd
}

func tasksShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task and the tail of its log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, _ := cmd.Flags().GetInt("lines")
			ids, err := parseTaskIDs(args)
			if err != nil {
				return err
			}

			return withStore(cmd, func(ctx context.Context, _ *config.Config, store *storage.SQLiteStorage) error {
				t, err := store.GetTask(ctx, ids[0])
				if errors.Is(err, common.ErrNotFound) {
					return common.NewUserError("No task "+ids[0].String(), err)
				}
				if err != nil {
					return err
				}
				printTaskSummary(cmd, t)

				if t.LogPath == "" || lines <= 0 {
					return nil
				}
				tail, err := task.Tail(t.LogPath, lines)
				if err != nil {
					return err
				}
				for _, line := range tail {
					fmt.Fprintln(cmd.OutOrStdout(), cli.SubtleStyle.Render(line))
				}
				return nil
			})
		},
	}
	cmd.Flags().Int("lines", 20, "log lines to show")
	return cmd
}

func tasksRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <task-id>...",
		Short: "Reset failed tasks to pending",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseTaskIDs(args)
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, _ *config.Config, store *storage.SQLiteStorage) error {
				n, err := task.NewLifecycle(store, nil).Retry(ctx, ids)
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo(fmt.Sprintf("%d of %d tasks reset to pending", n, len(ids))))
				return err
			})
		},
	}
}

func tasksCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>...",
		Short: "Cancel pending or running tasks",
		Long: `Pending tasks fail immediately. Running tasks stop after the transaction
they are currently processing.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseTaskIDs(args)
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, _ *config.Config, store *storage.SQLiteStorage) error {
				n, err := task.NewLifecycle(store, nil).Cancel(ctx, ids)
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo(fmt.Sprintf("%d of %d tasks cancelled", n, len(ids))))
				return err
			})
		},
	}
}

func tasksWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <task-id>",
		Short: "Follow a task's progress and log interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			interval, _ := cmd.Flags().GetDuration("interval")
			lines, _ := cmd.Flags().GetInt("lines")
			exit, _ := cmd.Flags().GetBool("exit")
			ids, err := parseTaskIDs(args)
			if err != nil {
				return err
			}

			return withStore(cmd, func(ctx context.Context, cfg *config.Config, store *storage.SQLiteStorage) error {
				if _, err := store.GetTask(ctx, ids[0]); err != nil {
					return err
				}
				final, err := tui.Watch(ctx, store, task.NewLifecycle(store, nil), ids[0],
					tui.WithPollInterval(interval),
					tui.WithLogLines(lines),
					tui.WithExitOnDone(exit),
					tui.WithTheme(themes.GetTheme(cfg.TUI.Theme)))
				if err != nil {
					return err
				}
				if final != nil {
					printTaskSummary(cmd, final)
				}
				return nil
			})
		},
	}
	cmd.Flags().Duration("interval", time.Second, "poll interval")
	cmd.Flags().Int("lines", 15, "log lines to show")
	cmd.Flags().Bool("exit", false, "exit when the task finishes")
	return cmd
}

func tasksReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Fail running tasks whose worker stopped sending heartbeats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, cfg *config.Config, store *storage.SQLiteStorage) error {
				failed, err := task.NewReconciler(store, cfg.Tasks.LeaseTTL, nil).Sweep(ctx)
				if err != nil {
					return err
				}
				if len(failed) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("No stale tasks"))
					return nil
				}
				for _, id := range failed {
					fmt.Fprintln(cmd.OutOrStdout(), cli.FormatWarning("Marked failed: "+id.String()))
				}
				return nil
			})
		},
	}
}

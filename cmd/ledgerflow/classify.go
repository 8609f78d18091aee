package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/Veraticus/ledgerflow/internal/cli"
	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/task"
	"github.com/spf13/cobra"
)

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify <transaction-id>...",
		Short: "Run an agent over transactions in this process",
		Long: `Run one agent over the given transactions immediately, without creating a
task. Payee agents fill in payee details; classification agents assign a
worksheet and category, retrying and escalating when the answer is not an
allowed category.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runClassify,
	}
	cmd.Flags().String("agent", model.ClassificationAgent, "name of the agent to run")
	return cmd
}

func runClassify(cmd *cobra.Command, args []string) error {
	agentName, _ := cmd.Flags().GetString("agent")
	ids, err := parseTransactionIDs(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	interrupts := cli.NewInterruptHandler(cmd.ErrOrStderr())
	ctx := interrupts.HandleInterrupts(cmd.Context(), "Classification", "Finished transactions are saved.")

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	p, err := newPipeline(ctx, cfg, store, slog.Default(), slog.Default())
	if err != nil {
		return err
	}
	a, err := p.table.Agent(agentName)
	if errors.Is(err, common.ErrNotFound) {
		return common.NewUserError(fmt.Sprintf("Unknown agent %q. Installed agents: %v", agentName, p.table.Names()), err)
	}
	if err != nil {
		return err
	}

	txns, err := store.GetTransactionsByIDs(ctx, ids)
	if err != nil {
		return err
	}
	found := make(map[int64]bool, len(txns))
	for _, t := range txns {
		found[t.ID] = true
	}

	out := cmd.OutOrStdout()
	var failures []string
	for _, id := range ids {
		if !found[id] {
			failures = append(failures, fmt.Sprintf("%d: %v", id, common.ErrNotFound))
		}
	}

	bar := cli.NewProgressBar(os.Stderr, len(txns), "Running "+a.Name)
	succeeded := 0
	for i := range txns {
		if ctx.Err() != nil {
			break
		}
		txn := &txns[i]
		if _, err := task.Apply(ctx, store, p.processor, a, txn); err != nil {
			common.LogDebug("transaction failed", common.Fields{"transaction_id": txn.ID, "error": err.Error()})
			failures = append(failures, fmt.Sprintf("%d: %v", txn.ID, err))
		} else {
			succeeded++
		}
		_ = bar.Add(1)
	}

	fmt.Fprintln(out, cli.RenderBox(a.Name, fmt.Sprintf("%d succeeded, %d failed", succeeded, len(failures))))
	for _, f := range failures {
		fmt.Fprintln(out, cli.FormatError(f))
	}
	if interrupts.WasInterrupted() {
		return ctx.Err()
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d of %d transactions failed", len(failures), len(ids))
	}
	return nil
}

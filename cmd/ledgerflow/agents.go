package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/Veraticus/ledgerflow/internal/agent"
	"github.com/Veraticus/ledgerflow/internal/cli"
	"github.com/spf13/cobra"
)

func agentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage LLM agents",
		Long:  `Install and inspect the agents, models and tools used to process transactions.`,
	}
	cmd.AddCommand(agentsBootstrapCmd())
	cmd.AddCommand(agentsListCmd())
	return cmd
}

func agentsBootstrapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Install or update agents from a seed file",
		Long: `Install the built-in payee lookup, classification and escalation agents,
or the agents defined in --file. Agents with the same name are updated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			file, _ := cmd.Flags().GetString("file")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			seed, err := agent.DefaultSeed()
			if file != "" {
				f, openErr := os.Open(file) //nolint:gosec // operator-supplied path
				if openErr != nil {
					return fmt.Errorf("failed to open seed file: %w", openErr)
				}
				defer func() { _ = f.Close() }()
				seed, err = agent.ParseSeed(f)
			}
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := openStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			agents, err := agent.Bootstrap(ctx, store, seed, newRegistry(cfg))
			if err != nil {
				return fmt.Errorf("failed to install agents: %w", err)
			}
			for _, a := range agents {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("%s (%s, %s)", a.Name, a.Type, a.LLM.Model)))
			}
			return nil
		},
	}
	cmd.Flags().String("file", "", "YAML seed file (default: built-in agents)")
	return cmd
}

func agentsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			agents, err := store.ListAgents(ctx)
			if err != nil {
				return err
			}
			if len(agents) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("No agents installed. Run: ledgerflow agents bootstrap"))
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			defer func() { _ = w.Flush() }()
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				cli.BoldStyle.Render("NAME"),
				cli.BoldStyle.Render("TYPE"),
				cli.BoldStyle.Render("MODEL"),
				cli.BoldStyle.Render("TOOLS"))
			for _, a := range agents {
				names := make([]string, len(a.Tools))
				for i, t := range a.Tools {
					names[i] = t.Name
				}
				fmt.Fprintf(w, "%s\t%s\t%s/%s\t%s\n", a.Name, a.Type, a.LLM.Provider, a.LLM.Model, strings.Join(names, ","))
			}
			return nil
		},
	}
}

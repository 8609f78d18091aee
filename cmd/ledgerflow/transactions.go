package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Veraticus/ledgerflow/internal/cli"
	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/service"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func transactionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "transactions",
		Aliases: []string{"txn"},
		Short:   "Import, list and reset transactions",
	}
	cmd.AddCommand(transactionsListCmd())
	cmd.AddCommand(transactionsImportCmd())
	cmd.AddCommand(transactionsResetCmd())
	return cmd
}

func transactionsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			clientID, _ := cmd.Flags().GetString("client")
			unclassified, _ := cmd.Flags().GetBool("unclassified")
			limit, _ := cmd.Flags().GetInt("limit")

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

			txns, err := store.GetTransactions(ctx, service.TransactionFilter{
				ClientID:     clientID,
				Unclassified: unclassified,
				Limit:        limit,
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			defer func() { _ = w.Flush() }()
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				cli.BoldStyle.Render("ID"),
				cli.BoldStyle.Render("CLIENT"),
				cli.BoldStyle.Render("DATE"),
				cli.BoldStyle.Render("AMOUNT"),
				cli.BoldStyle.Render("DESCRIPTION"),
				cli.BoldStyle.Render("PAYEE"),
				cli.BoldStyle.Render("CATEGORY"))
			for _, t := range txns {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
					t.ID, t.ClientID, t.Date.Format("2006-01-02"), t.Amount.StringFixed(2),
					truncate(t.Description, 40), t.Payee, t.Category)
			}
			return nil
		},
	}
	cmd.Flags().String("client", "", "only this client's transactions")
	cmd.Flags().Bool("unclassified", false, "only transactions without a classification")
	cmd.Flags().Int("limit", 50, "maximum number of transactions (0 for all)")
	return cmd
}

func transactionsImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import transactions from a CSV file",
		Long: `Import transactions for one client from a CSV file with a header row.

Required columns: date (YYYY-MM-DD), description, amount (negative for
money spent). Optional columns: transaction_type, account_number.
Rows already imported for the client are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clientID, _ := cmd.Flags().GetString("client")
			if clientID == "" {
				return common.NewUserError("--client is required", common.ErrMissingConfig)
			}

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer func() { _ = f.Close() }()

			txns, err := readTransactionsCSV(f, clientID)
			if err != nil {
				return common.NewUserError("Could not read "+args[0], err)
			}

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

			if err := store.SaveTransactions(ctx, txns); err != nil {
				return fmt.Errorf("failed to save transactions: %w", err)
			}

			imported := 0
			for _, t := range txns {
				if t.ID != 0 {
					imported++
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf(
				"Imported %d transactions for %s (%d duplicates skipped)", imported, clientID, len(txns)-imported)))
			return nil
		},
	}
	cmd.Flags().String("client", "", "client the transactions belong to")
	return cmd
}

func transactionsResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <transaction-id>...",
		Short: "Clear payee and classification results",
		Long: `Clear payee lookup and classification results so the transactions can be
processed again. Classification history is kept.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseTransactionIDs(args)
			if err != nil {
				return err
			}
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

			n, err := store.ResetTransactions(ctx, ids)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Reset %d transactions", n)))
			return nil
		},
	}
}

var requiredColumns = []string{"date", "description", "amount"}

// readTransactionsCSV parses a headed CSV export into transactions owned by
// clientID.
func readTransactionsCSV(r io.Reader, clientID string) ([]model.Transaction, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty file")
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}
	field := func(record []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var txns []model.Transaction
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		date, err := time.Parse("2006-01-02", field(record, "date"))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid date: %w", line, err)
		}
		amount, err := decimal.NewFromString(strings.ReplaceAll(field(record, "amount"), ",", ""))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid amount: %w", line, err)
		}
		description := field(record, "description")
		if description == "" {
			return nil, fmt.Errorf("line %d: empty description", line)
		}

		txns = append(txns, model.Transaction{
			ClientID:        clientID,
			Date:            date,
			Amount:          amount,
			Description:     description,
			TransactionType: field(record, "transaction_type"),
			AccountNumber:   field(record, "account_number"),
		})
	}
	if len(txns) == 0 {
		return nil, fmt.Errorf("no transactions found")
	}
	return txns, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

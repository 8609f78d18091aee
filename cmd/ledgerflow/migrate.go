package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/Veraticus/ledgerflow/internal/cli"
	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/storage"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the database schema to the latest version.

A snapshot of an existing database is written to <data-dir>/snapshots
before any schema change is applied.`,
		RunE: runMigrate,
	}

	cmd.Flags().Bool("status", false, "Show current migration status without applying changes")
	cmd.Flags().Bool("no-snapshot", false, "Skip the pre-migration snapshot")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	status, _ := cmd.Flags().GetBool("status")
	noSnapshot, _ := cmd.Flags().GetBool("no-snapshot")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	store, err := storage.NewSQLiteStorage(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	current, err := store.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	latest := storage.LatestSchemaVersion()
	out := cmd.OutOrStdout()

	if status {
		fmt.Fprintln(out, cli.FormatTitle("Database Migration Status"))
		fmt.Fprintf(out, "Database:        %s\n", cfg.Database)
		fmt.Fprintf(out, "Current version: %d\n", current)
		fmt.Fprintf(out, "Latest version:  %d\n", latest)
		return nil
	}

	if current >= latest {
		fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Database is up to date (version %d)", current)))
		return nil
	}

	if current > 0 && !noSnapshot {
		tag := fmt.Sprintf("pre-migrate-v%d-%s", current, time.Now().Format("20060102-150405"))
		info, err := store.Snapshot(ctx, filepath.Join(cfg.DataDir, "snapshots"), tag)
		if err != nil {
			return fmt.Errorf("failed to snapshot database before migrating: %w", err)
		}
		fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("Snapshot written to %s (%s)",
			info.Path, units.HumanSize(float64(info.Size)))))
	}

	common.LogInfo("running database migrations", common.Fields{"database": cfg.Database, "from": current, "to": latest})
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Database migrated to version %d", latest)))
	return nil
}

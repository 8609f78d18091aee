package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS transactions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					client_id TEXT NOT NULL,
					hash TEXT NOT NULL,
					transaction_date DATE NOT NULL,
					amount TEXT NOT NULL,
					description TEXT NOT NULL,
					transaction_type TEXT NOT NULL DEFAULT '',
					account_number TEXT NOT NULL DEFAULT '',
					payee TEXT NOT NULL DEFAULT '',
					normalized_description TEXT NOT NULL DEFAULT '',
					payee_reasoning TEXT NOT NULL DEFAULT '',
					payee_extraction_method TEXT NOT NULL DEFAULT 'None',
					classification_type TEXT NOT NULL DEFAULT '',
					worksheet TEXT NOT NULL DEFAULT '',
					category TEXT NOT NULL DEFAULT '',
					confidence TEXT NOT NULL DEFAULT '',
					reasoning TEXT NOT NULL DEFAULT '',
					questions TEXT NOT NULL DEFAULT '',
					classification_method TEXT NOT NULL DEFAULT 'None',
					business_percentage INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(client_id, hash)
				)`,
				`CREATE INDEX idx_transactions_client ON transactions(client_id)`,
				`CREATE INDEX idx_transactions_date ON transactions(transaction_date)`,

				`CREATE TABLE IF NOT EXISTS business_profiles (
					client_id TEXT PRIMARY KEY,
					company_name TEXT NOT NULL DEFAULT '',
					business_type TEXT NOT NULL DEFAULT '',
					business_description TEXT NOT NULL DEFAULT '',
					location TEXT NOT NULL DEFAULT '',
					common_expenses TEXT NOT NULL DEFAULT '',
					custom_categories TEXT NOT NULL DEFAULT '',
					industry_keywords TEXT NOT NULL DEFAULT '',
					category_patterns TEXT NOT NULL DEFAULT '',
					business_rules TEXT NOT NULL DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,

				`CREATE TABLE IF NOT EXISTS irs_categories (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					worksheet TEXT NOT NULL,
					name TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					line_number TEXT NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT 1,
					UNIQUE(worksheet, line_number)
				)`,
				`CREATE TABLE IF NOT EXISTS business_categories (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					client_id TEXT NOT NULL,
					worksheet TEXT NOT NULL,
					name TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					tax_year INTEGER NOT NULL DEFAULT 0,
					is_active BOOLEAN NOT NULL DEFAULT 1
				)`,
				`CREATE INDEX idx_business_categories_client ON business_categories(client_id, worksheet)`,

				`CREATE TABLE IF NOT EXISTS transaction_classifications (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					transaction_id INTEGER NOT NULL,
					classification_type TEXT NOT NULL DEFAULT '',
					worksheet TEXT NOT NULL DEFAULT '',
					category TEXT NOT NULL DEFAULT '',
					confidence TEXT NOT NULL DEFAULT '',
					reasoning TEXT NOT NULL DEFAULT '',
					business_percentage INTEGER NOT NULL DEFAULT 0,
					created_by TEXT NOT NULL DEFAULT '',
					is_active BOOLEAN NOT NULL DEFAULT 1,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (transaction_id) REFERENCES transactions(id) ON DELETE CASCADE
				)`,
				`CREATE INDEX idx_classifications_transaction ON transaction_classifications(transaction_id)`,
				// At most one active classification per transaction.
				`CREATE UNIQUE INDEX idx_classifications_active
					ON transaction_classifications(transaction_id) WHERE is_active = 1`,
			})
		},
	},
	{
		Version:     2,
		Description: "Add agents, tools and model configurations",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS llm_configs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					provider TEXT NOT NULL,
					model TEXT NOT NULL,
					base_url TEXT NOT NULL DEFAULT '',
					UNIQUE(provider, model)
				)`,
				`CREATE TABLE IF NOT EXISTS tools (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					implementation TEXT NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE TABLE IF NOT EXISTS agents (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL UNIQUE,
					purpose TEXT NOT NULL DEFAULT '',
					agent_type TEXT NOT NULL CHECK (agent_type IN ('payee', 'classification', 'profile')),
					prompt TEXT NOT NULL DEFAULT '',
					llm_id INTEGER NOT NULL,
					FOREIGN KEY (llm_id) REFERENCES llm_configs(id)
				)`,
				`CREATE TABLE IF NOT EXISTS agent_tools (
					agent_id INTEGER NOT NULL,
					tool_id INTEGER NOT NULL,
					position INTEGER NOT NULL DEFAULT 0,
					PRIMARY KEY (agent_id, tool_id),
					FOREIGN KEY (agent_id) REFERENCES agents(id) ON DELETE CASCADE,
					FOREIGN KEY (tool_id) REFERENCES tools(id) ON DELETE CASCADE
				)`,
			})
		},
	},
	{
		Version:     3,
		Description: "Add processing tasks",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS processing_tasks (
					id TEXT PRIMARY KEY,
					status TEXT NOT NULL CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
					task_type TEXT NOT NULL CHECK (task_type IN ('payee_lookup', 'classification')),
					client_id TEXT NOT NULL,
					transaction_count INTEGER NOT NULL DEFAULT 0,
					processed_count INTEGER NOT NULL DEFAULT 0,
					error_count INTEGER NOT NULL DEFAULT 0,
					error_details TEXT NOT NULL DEFAULT '{}',
					metadata TEXT NOT NULL DEFAULT '{}',
					cancel_requested BOOLEAN NOT NULL DEFAULT 0,
					run_count INTEGER NOT NULL DEFAULT 0,
					log_path TEXT NOT NULL DEFAULT '',
					started_at DATETIME,
					heartbeat_at DATETIME,
					finished_at DATETIME,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_processing_tasks_status ON processing_tasks(status)`,
				`CREATE TABLE IF NOT EXISTS processing_task_transactions (
					task_id TEXT NOT NULL,
					transaction_id INTEGER NOT NULL,
					PRIMARY KEY (task_id, transaction_id),
					FOREIGN KEY (task_id) REFERENCES processing_tasks(id) ON DELETE CASCADE,
					FOREIGN KEY (transaction_id) REFERENCES transactions(id) ON DELETE CASCADE
				)`,
			})
		},
	},
}

// LatestSchemaVersion is the version Migrate brings a database to.
func LatestSchemaVersion() int {
	return migrations[len(migrations)-1].Version
}

// SchemaVersion reports the database's current schema version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	currentVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	finalVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Veraticus/ledgerflow/internal/model"
)

// RecordClassification stores a new active history entry for a transaction,
// retiring the previous active entry in the same database transaction.
func (s *SQLiteStorage) RecordClassification(ctx context.Context, entry *model.ClassificationEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("%w: entry", ErrNilParameter)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		return insertClassification(ctx, tx, entry)
	})
}

// ApplyClassification writes mapped classification fields to a transaction
// and records the resulting values as its active history entry, created by
// the transaction's classification method. Both writes commit together.
func (s *SQLiteStorage) ApplyClassification(ctx context.Context, id int64, fields map[string]any) (*model.ClassificationEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: fields", ErrEmptySlice)
	}

	var entry model.ClassificationEntry
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := updateTransaction(ctx, tx, id, fields); err != nil {
			return err
		}
		txn, err := scanTransaction(tx.QueryRowContext(ctx,
			`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id))
		if err != nil {
			return fmt.Errorf("failed to reload transaction %d: %w", id, err)
		}
		entry = model.EntryFromTransaction(*txn, txn.ClassificationMethod)
		return insertClassification(ctx, tx, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func insertClassification(ctx context.Context, tx *sql.Tx, entry *model.ClassificationEntry) error {
	if entry.IsActive {
		if _, err := tx.ExecContext(ctx, `
			UPDATE transaction_classifications SET is_active = 0
			WHERE transaction_id = ? AND is_active = 1
		`, entry.TransactionID); err != nil {
			return fmt.Errorf("failed to deactivate previous classification: %w", err)
		}
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO transaction_classifications (
			transaction_id, classification_type, worksheet, category,
			confidence, reasoning, business_percentage, created_by,
			is_active, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.TransactionID,
		entry.ClassificationType,
		entry.Worksheet,
		entry.Category,
		entry.Confidence,
		entry.Reasoning,
		entry.BusinessPercentage,
		entry.CreatedBy,
		entry.IsActive,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert classification: %w", err)
	}
	entry.ID, err = res.LastInsertId()
	return err
}

// GetClassificationHistory returns every entry for a transaction, newest first.
func (s *SQLiteStorage) GetClassificationHistory(ctx context.Context, transactionID int64) ([]model.ClassificationEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, classification_type, worksheet, category,
		       confidence, reasoning, business_percentage, created_by,
		       is_active, created_at
		FROM transaction_classifications
		WHERE transaction_id = ?
		ORDER BY id DESC
	`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query classification history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.ClassificationEntry
	for rows.Next() {
		var e model.ClassificationEntry
		if err := rows.Scan(
			&e.ID,
			&e.TransactionID,
			&e.ClassificationType,
			&e.Worksheet,
			&e.Category,
			&e.Confidence,
			&e.Reasoning,
			&e.BusinessPercentage,
			&e.CreatedBy,
			&e.IsActive,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan classification: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

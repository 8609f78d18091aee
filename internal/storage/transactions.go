package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/service"
)

const transactionColumns = `id, client_id, hash, transaction_date, amount, description,
	transaction_type, account_number, payee, normalized_description,
	payee_reasoning, payee_extraction_method, classification_type, worksheet,
	category, confidence, reasoning, questions, classification_method,
	business_percentage`

// SaveTransactions saves multiple transactions to the database. Duplicates
// within a client (same hash) are ignored. Assigned IDs are written back.
func (s *SQLiteStorage) SaveTransactions(ctx context.Context, transactions []model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransactions(transactions); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO transactions (
				client_id, hash, transaction_date, amount, description,
				transaction_type, account_number
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for i := range transactions {
			txn := &transactions[i]
			if txn.Hash == "" {
				txn.Hash = txn.GenerateHash()
			}

			res, err := stmt.ExecContext(ctx,
				txn.ClientID,
				txn.Hash,
				txn.Date,
				txn.Amount,
				txn.Description,
				txn.TransactionType,
				txn.AccountNumber,
			)
			if err != nil {
				return fmt.Errorf("failed to insert transaction %s: %w", txn.Hash, err)
			}

			if n, _ := res.RowsAffected(); n == 0 {
				err = tx.QueryRowContext(ctx,
					`SELECT id FROM transactions WHERE client_id = ? AND hash = ?`,
					txn.ClientID, txn.Hash).Scan(&txn.ID)
			} else {
				txn.ID, err = res.LastInsertId()
			}
			if err != nil {
				return fmt.Errorf("failed to resolve id for transaction %s: %w", txn.Hash, err)
			}
		}
		return nil
	})
}

// GetTransactionByID retrieves a single transaction by ID.
func (s *SQLiteStorage) GetTransactionByID(ctx context.Context, id int64) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return txn, nil
}

// GetTransactionsByIDs retrieves transactions in ascending ID order.
// Unknown IDs are skipped.
func (s *SQLiteStorage) GetTransactionsByIDs(ctx context.Context, ids []int64) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id IN (`+placeholders(len(ids))+`) ORDER BY id`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	return scanTransactions(rows)
}

// GetTransactions lists transactions matching filter.
func (s *SQLiteStorage) GetTransactions(ctx context.Context, filter service.TransactionFilter) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if filter.ClientID != "" {
		where = append(where, "client_id = ?")
		args = append(args, filter.ClientID)
	}
	if filter.Unclassified {
		where = append(where, "classification_type = ''")
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY transaction_date, id"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	return scanTransactions(rows)
}

// ApplyTransactionUpdate writes the given columns to one transaction.
// An empty field map is a no-op.
func (s *SQLiteStorage) ApplyTransactionUpdate(ctx context.Context, id int64, fields map[string]any) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	return updateTransaction(ctx, s.db, id, fields)
}

func updateTransaction(ctx context.Context, q queryable, id int64, fields map[string]any) error {
	cols, err := updateColumns(fields)
	if err != nil {
		return err
	}

	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		sets[i] = c + " = ?"
		args = append(args, fields[c])
	}
	args = append(args, id)

	res, err := q.ExecContext(ctx,
		`UPDATE transactions SET `+strings.Join(sets, ", ")+`, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		args...)
	if err != nil {
		return fmt.Errorf("failed to update transaction %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction %d: %w", id, common.ErrNotFound)
	}
	return nil
}

// ResetTransactions clears payee and classification results so the
// transactions can be processed again. Active history entries are retired.
func (s *SQLiteStorage) ResetTransactions(ctx context.Context, ids []int64) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: ids", ErrEmptySlice)
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	var affected int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE transactions SET
				payee = '', normalized_description = '', payee_reasoning = '',
				payee_extraction_method = 'None', classification_type = '',
				worksheet = '', category = '', confidence = '', reasoning = '',
				questions = '', classification_method = 'None',
				business_percentage = 0, updated_at = CURRENT_TIMESTAMP
			WHERE id IN (`+placeholders(len(ids))+`)`, args...)
		if err != nil {
			return fmt.Errorf("failed to reset transactions: %w", err)
		}
		affected, _ = res.RowsAffected()

		if _, err := tx.ExecContext(ctx,
			`UPDATE transaction_classifications SET is_active = 0
			 WHERE is_active = 1 AND transaction_id IN (`+placeholders(len(ids))+`)`, args...); err != nil {
			return fmt.Errorf("failed to retire classifications: %w", err)
		}
		return nil
	})
	return affected, err
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var txn model.Transaction
	err := row.Scan(
		&txn.ID,
		&txn.ClientID,
		&txn.Hash,
		&txn.Date,
		&txn.Amount,
		&txn.Description,
		&txn.TransactionType,
		&txn.AccountNumber,
		&txn.Payee,
		&txn.NormalizedDescription,
		&txn.PayeeReasoning,
		&txn.PayeeExtractionMethod,
		&txn.ClassificationType,
		&txn.Worksheet,
		&txn.Category,
		&txn.Confidence,
		&txn.Reasoning,
		&txn.Questions,
		&txn.ClassificationMethod,
		&txn.BusinessPercentage,
	)
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func scanTransactions(rows *sql.Rows) ([]model.Transaction, error) {
	defer func() { _ = rows.Close() }()

	var txns []model.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txns, nil
}

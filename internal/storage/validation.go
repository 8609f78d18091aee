// Package storage provides the data persistence layer for ledgerflow.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Veraticus/ledgerflow/internal/model"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrEmptySlice         = errors.New("slice cannot be empty")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidAgent       = errors.New("invalid agent")
	ErrInvalidTask        = errors.New("invalid task")
	ErrUnknownColumn      = errors.New("column not updatable")
)

// updatableColumns is the set of transaction columns agents may write.
// Keys of mapped agent output are checked against it before any SQL is built.
var updatableColumns = map[string]bool{
	"payee":                   true,
	"normalized_description":  true,
	"payee_reasoning":         true,
	"payee_extraction_method": true,
	"transaction_type":        true,
	"classification_type":     true,
	"worksheet":               true,
	"category":                true,
	"confidence":              true,
	"reasoning":               true,
	"questions":               true,
	"classification_method":   true,
	"business_percentage":     true,
}

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateTransactions validates a slice of transactions.
func validateTransactions(transactions []model.Transaction) error {
	if transactions == nil {
		return fmt.Errorf("%w: transactions", ErrNilParameter)
	}
	if len(transactions) == 0 {
		return fmt.Errorf("%w: transactions", ErrEmptySlice)
	}

	for i := range transactions {
		if err := validateTransaction(&transactions[i]); err != nil {
			return fmt.Errorf("transaction at index %d: %w", i, err)
		}
	}
	return nil
}

// validateTransaction validates a single transaction.
func validateTransaction(txn *model.Transaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if strings.TrimSpace(txn.ClientID) == "" {
		return fmt.Errorf("%w: missing client ID", ErrInvalidTransaction)
	}
	if txn.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidTransaction)
	}
	if strings.TrimSpace(txn.Description) == "" {
		return fmt.Errorf("%w: missing description", ErrInvalidTransaction)
	}
	return nil
}

// validateAgent validates an agent definition before it is stored.
func validateAgent(agent *model.Agent) error {
	if agent == nil {
		return fmt.Errorf("%w: agent", ErrNilParameter)
	}
	if strings.TrimSpace(agent.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidAgent)
	}
	if _, err := model.ParseAgentType(string(agent.Type)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAgent, err)
	}
	if agent.LLM.Model == "" {
		return fmt.Errorf("%w: missing model", ErrInvalidAgent)
	}
	return nil
}

// updateColumns checks fields against the updatable whitelist and returns
// the column names in a stable order.
func updateColumns(fields map[string]any) ([]string, error) {
	cols := make([]string, 0, len(fields))
	for k := range fields {
		if !updatableColumns[k] {
			return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, k)
		}
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols, nil
}

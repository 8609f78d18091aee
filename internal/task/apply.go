package task

import (
	"context"
	"fmt"

	"github.com/Veraticus/ledgerflow/internal/agent"
	"github.com/Veraticus/ledgerflow/internal/model"
)

// ApplyStore persists a processed transaction.
type ApplyStore interface {
	ApplyTransactionUpdate(ctx context.Context, id int64, fields map[string]any) error
	ApplyClassification(ctx context.Context, id int64, fields map[string]any) (*model.ClassificationEntry, error)
}

// Apply runs a over txn and writes the mapped fields back. Classification
// results are appended to the transaction's history in the same database
// transaction as the update.
func Apply(ctx context.Context, store ApplyStore, processor Processor, a *model.Agent, txn *model.Transaction) (*agent.Outcome, error) {
	outcome, err := processor.Process(ctx, a, txn)
	if err != nil {
		return nil, err
	}
	if len(outcome.Update) == 0 {
		return outcome, nil
	}

	if a.Type == model.AgentTypeClassification {
		if _, err := store.ApplyClassification(ctx, txn.ID, outcome.Update); err != nil {
			return nil, fmt.Errorf("saving classification: %w", err)
		}
		return outcome, nil
	}
	if err := store.ApplyTransactionUpdate(ctx, txn.ID, outcome.Update); err != nil {
		return nil, fmt.Errorf("saving result: %w", err)
	}
	return outcome, nil
}

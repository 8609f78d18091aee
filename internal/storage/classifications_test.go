package storage

import (
	"context"
	"testing"

	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordClassification_SingleActiveEntry(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	txns := createTestTransactions(t, store, "acme", "-19.99")
	id := txns[0].ID

	for _, category := range []string{"Office expense", "Supplies", "Review"} {
		entry := &model.ClassificationEntry{
			TransactionID:      id,
			ClassificationType: model.ClassificationBusiness,
			Category:           category,
			CreatedBy:          model.ClassificationAgent,
			IsActive:           true,
		}
		require.NoError(t, store.RecordClassification(ctx, entry))
		require.NotZero(t, entry.ID)
	}

	history, err := store.GetClassificationHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 3)

	active := 0
	for _, e := range history {
		if e.IsActive {
			active++
			assert.Equal(t, "Review", e.Category)
		}
	}
	assert.Equal(t, 1, active)
}

func TestRecordClassification_NilEntry(t *testing.T) {
	store := createTestStorage(t)
	assert.ErrorIs(t, store.RecordClassification(context.Background(), nil), ErrNilParameter)
}

func TestApplyClassification(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	id := createTestTransactions(t, store, "acme", "-42.00")[0].ID

	entry, err := store.ApplyClassification(ctx, id, map[string]any{
		"classification_type":   model.ClassificationBusiness,
		"category":              "Supplies",
		"business_percentage":   100,
		"classification_method": model.MethodTextAI,
	})
	require.NoError(t, err)
	assert.Equal(t, "Supplies", entry.Category)
	assert.Equal(t, model.MethodTextAI, entry.CreatedBy)

	txn, err := store.GetTransactionByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Supplies", txn.Category)

	history, err := store.GetClassificationHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].IsActive)
	assert.Equal(t, 100, history[0].BusinessPercentage)
}

func TestApplyClassification_RollsBackTogether(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	id := createTestTransactions(t, store, "acme", "-42.00")[0].ID

	_, err := store.db.ExecContext(ctx, `
		CREATE TRIGGER reject_history BEFORE INSERT ON transaction_classifications
		BEGIN SELECT RAISE(ABORT, 'history unavailable'); END`)
	require.NoError(t, err)

	_, err = store.ApplyClassification(ctx, id, map[string]any{"category": "Supplies"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history unavailable")

	txn, err := store.GetTransactionByID(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, txn.Category, "update must not survive a failed history insert")

	_, err = store.ApplyClassification(ctx, id, map[string]any{"amount": "0"})
	assert.ErrorIs(t, err, ErrUnknownColumn)
}

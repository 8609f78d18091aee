package storage

import (
	"context"
	"testing"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveTransactions_AssignsIDsAndIgnoresDuplicates(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	txns := createTestTransactions(t, store, "acme", "-10.00", "250.00")
	require.NotZero(t, txns[0].ID)
	require.NotZero(t, txns[1].ID)

	again := []model.Transaction{txns[0]}
	again[0].ID = 0
	again[0].Hash = ""
	require.NoError(t, store.SaveTransactions(ctx, again))
	assert.Equal(t, txns[0].ID, again[0].ID)

	all, err := store.GetTransactions(ctx, service.TransactionFilter{ClientID: "acme"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSaveTransactions_Validation(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	tests := []struct {
		name string
		txns []model.Transaction
		want error
	}{
		{name: "nil slice", txns: nil, want: ErrNilParameter},
		{name: "empty slice", txns: []model.Transaction{}, want: ErrEmptySlice},
		{name: "missing client", txns: []model.Transaction{{Description: "x"}}, want: ErrInvalidTransaction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, store.SaveTransactions(ctx, tt.txns), tt.want)
		})
	}
}

func TestGetTransactionByID(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	txns := createTestTransactions(t, store, "acme", "-42.17")

	got, err := store.GetTransactionByID(ctx, txns[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "acme", got.ClientID)
	assert.Equal(t, "-42.17", got.Amount.StringFixed(2))
	assert.Equal(t, "None", got.ClassificationMethod)
	assert.True(t, got.Date.Equal(txns[0].Date))

	_, err = store.GetTransactionByID(ctx, 9999)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestGetTransactionsByIDs(t *testing.T) {
	store := createTestStorage(t)
	txns := createTestTransactions(t, store, "acme", "-1", "-2", "-3")

	got, err := store.GetTransactionsByIDs(context.Background(), []int64{txns[2].ID, txns[0].ID, 777})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, txns[0].ID, got[0].ID)
	assert.Equal(t, txns[2].ID, got[1].ID)
}

func TestApplyTransactionUpdate(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	txns := createTestTransactions(t, store, "acme", "-80.00")
	id := txns[0].ID

	err := store.ApplyTransactionUpdate(ctx, id, map[string]any{
		"classification_type":   "business",
		"category":              "Office expense",
		"business_percentage":   100,
		"classification_method": "AI + Search (1x)",
	})
	require.NoError(t, err)

	got, err := store.GetTransactionByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "business", got.ClassificationType)
	assert.Equal(t, "Office expense", got.Category)
	assert.Equal(t, 100, got.BusinessPercentage)
	assert.Equal(t, "AI + Search (1x)", got.ClassificationMethod)

	t.Run("rejects columns outside whitelist", func(t *testing.T) {
		err := store.ApplyTransactionUpdate(ctx, id, map[string]any{"amount": "0"})
		assert.ErrorIs(t, err, ErrUnknownColumn)
	})

	t.Run("empty map is a no-op", func(t *testing.T) {
		assert.NoError(t, store.ApplyTransactionUpdate(ctx, id, map[string]any{}))
	})

	t.Run("unknown transaction", func(t *testing.T) {
		err := store.ApplyTransactionUpdate(ctx, 4242, map[string]any{"payee": "x"})
		assert.ErrorIs(t, err, common.ErrNotFound)
	})
}

func TestResetTransactions(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	txns := createTestTransactions(t, store, "acme", "-5.00")
	id := txns[0].ID

	require.NoError(t, store.ApplyTransactionUpdate(ctx, id, map[string]any{
		"payee":               "Staples",
		"classification_type": "business",
	}))
	entry := model.EntryFromTransaction(model.Transaction{ID: id, ClassificationType: "business"}, "test")
	require.NoError(t, store.RecordClassification(ctx, &entry))

	n, err := store.ResetTransactions(ctx, []int64{id})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := store.GetTransactionByID(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, got.Payee)
	assert.Empty(t, got.ClassificationType)
	assert.Equal(t, "None", got.PayeeExtractionMethod)

	history, err := store.GetClassificationHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].IsActive)

	unclassified, err := store.GetTransactions(ctx, service.TransactionFilter{Unclassified: true})
	require.NoError(t, err)
	assert.Len(t, unclassified, 1)
}

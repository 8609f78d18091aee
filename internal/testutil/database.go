// Package testutil provides test utilities for ledgerflow packages: an
// isolated in-memory database and fixtures for seeding it.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/storage"
	"github.com/shopspring/decimal"
)

// TestDB represents a test database with associated test utilities.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// SetupTestDB creates a new in-memory test database with migrations applied.
// It registers cleanup with t.
//
// Example:
//
//	db := testutil.SetupTestDB(t)
//	txns := db.SeedTransactions("acme", "-12.50", "900.00")
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	return &TestDB{Storage: store, t: t}
}

// SeedTransactions saves one transaction per amount for clientID, one day
// apart, and returns them with IDs assigned.
func (db *TestDB) SeedTransactions(clientID string, amounts ...string) []model.Transaction {
	db.t.Helper()

	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	txns := make([]model.Transaction, len(amounts))
	for i, amt := range amounts {
		txns[i] = model.Transaction{
			ClientID:        clientID,
			Date:            base.AddDate(0, 0, i),
			Amount:          decimal.RequireFromString(amt),
			Description:     fmt.Sprintf("CARD PURCHASE %03d", i+1),
			TransactionType: "debit",
		}
	}
	if err := db.Storage.SaveTransactions(context.Background(), txns); err != nil {
		db.t.Fatalf("failed to seed transactions: %v", err)
	}
	return txns
}

// SeedClient stores the standard profile and categories for clientID.
func (db *TestDB) SeedClient(clientID string) *model.BusinessProfile {
	db.t.Helper()
	ctx := context.Background()

	profile := Profile(clientID)
	if err := db.Storage.SaveBusinessProfile(ctx, profile); err != nil {
		db.t.Fatalf("failed to seed profile: %v", err)
	}
	for _, c := range IRSCategories() {
		c := c
		if err := db.Storage.SaveIRSCategory(ctx, &c); err != nil {
			db.t.Fatalf("failed to seed IRS category %q: %v", c.Name, err)
		}
	}
	for _, c := range BusinessCategories(clientID) {
		c := c
		if err := db.Storage.SaveBusinessCategory(ctx, &c); err != nil {
			db.t.Fatalf("failed to seed business category %q: %v", c.Name, err)
		}
	}
	return profile
}

// SeedAgent stores agent and fails the test on error.
func (db *TestDB) SeedAgent(agent *model.Agent) {
	db.t.Helper()
	if err := db.Storage.SaveAgent(context.Background(), agent); err != nil {
		db.t.Fatalf("failed to seed agent %q: %v", agent.Name, err)
	}
}

// IDs returns the IDs of txns in order.
func IDs(txns []model.Transaction) []int64 {
	ids := make([]int64, len(txns))
	for i, txn := range txns {
		ids[i] = txn.ID
	}
	return ids
}

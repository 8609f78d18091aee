// Package model defines the core domain models used throughout the application.
package model

import "time"

// ClassificationEntry is one row of a transaction's classification history.
// At most one entry per transaction is active at a time.
type ClassificationEntry struct {
	CreatedAt          time.Time
	ClassificationType string
	Worksheet          string
	Category           string
	Confidence         string
	Reasoning          string
	CreatedBy          string
	ID                 int64
	TransactionID      int64
	BusinessPercentage int
	IsActive           bool
}

// EntryFromTransaction snapshots the classification fields of txn.
func EntryFromTransaction(txn Transaction, createdBy string) ClassificationEntry {
	return ClassificationEntry{
		TransactionID:      txn.ID,
		ClassificationType: txn.ClassificationType,
		Worksheet:          txn.Worksheet,
		Category:           txn.Category,
		Confidence:         txn.Confidence,
		Reasoning:          txn.Reasoning,
		BusinessPercentage: txn.BusinessPercentage,
		CreatedBy:          createdBy,
		IsActive:           true,
	}
}

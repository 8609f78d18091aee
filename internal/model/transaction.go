package model

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Classification type values stored on a transaction.
const (
	ClassificationBusiness = "business"
	ClassificationPersonal = "personal"
	ClassificationIncome   = "Income"
	ClassificationReview   = "review"
)

// Confidence levels accepted from agents.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Transaction represents a single financial record owned by a client.
// A positive amount is money received; a negative amount is money spent.
type Transaction struct {
	Date            time.Time
	Amount          decimal.Decimal
	ClientID        string
	Description     string // Raw statement description
	TransactionType string
	AccountNumber   string
	Hash            string
	ID              int64

	// Payee lookup results
	Payee                 string
	NormalizedDescription string
	PayeeReasoning        string
	PayeeExtractionMethod string

	// Classification results
	ClassificationType   string
	Worksheet            string
	Category             string
	Confidence           string
	Reasoning            string
	Questions            string
	ClassificationMethod string
	BusinessPercentage   int
}

// IsIncome reports whether the transaction moves money into the account.
func (t *Transaction) IsIncome() bool {
	return t.Amount.IsPositive()
}

// GenerateHash creates a unique hash for duplicate detection within a client.
func (t *Transaction) GenerateHash() string {
	data := fmt.Sprintf("%s:%s:%s:%s:%s",
		t.ClientID,
		t.Date.Format("2006-01-02"),
		t.Amount.StringFixed(2),
		t.Description,
		t.AccountNumber)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// BusinessProfile is the client context handed to agents when they reason
// about a transaction.
type BusinessProfile struct {
	CreatedAt           time.Time
	UpdatedAt           time.Time
	ClientID            string
	CompanyName         string
	BusinessType        string
	BusinessDescription string
	Location            string
	CommonExpenses      string
	CustomCategories    string
	IndustryKeywords    string
	CategoryPatterns    string
	BusinessRules       string
}

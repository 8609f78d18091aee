// Package service defines the interfaces shared between application layers.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/google/uuid"
)

// TransactionFilter defines filtering options for transaction queries.
type TransactionFilter struct {
	ClientID     string
	Unclassified bool
	Limit        int
	Offset       int
}

// TaskFilter defines filtering options for task queries.
type TaskFilter struct {
	Status   model.TaskStatus
	ClientID string
	Limit    int
}

// TransactionStore persists transactions and their agent-produced fields.
type TransactionStore interface {
	SaveTransactions(ctx context.Context, transactions []model.Transaction) error
	GetTransactionByID(ctx context.Context, id int64) (*model.Transaction, error)
	GetTransactionsByIDs(ctx context.Context, ids []int64) ([]model.Transaction, error)
	GetTransactions(ctx context.Context, filter TransactionFilter) ([]model.Transaction, error)
	// ApplyTransactionUpdate writes mapped agent fields. Columns outside the
	// storage whitelist are rejected.
	ApplyTransactionUpdate(ctx context.Context, id int64, fields map[string]any) error
	ResetTransactions(ctx context.Context, ids []int64) (int64, error)
}

// ProfileStore persists client business profiles.
type ProfileStore interface {
	GetBusinessProfile(ctx context.Context, clientID string) (*model.BusinessProfile, error)
	SaveBusinessProfile(ctx context.Context, profile *model.BusinessProfile) error
}

// CategoryStore persists IRS and client categories.
type CategoryStore interface {
	GetIRSCategories(ctx context.Context, worksheet string) ([]model.IRSCategory, error)
	GetBusinessCategories(ctx context.Context, clientID, worksheet string) ([]model.BusinessCategory, error)
	SaveIRSCategory(ctx context.Context, category *model.IRSCategory) error
	SaveBusinessCategory(ctx context.Context, category *model.BusinessCategory) error
}

// AgentStore persists agents together with their model and tool bindings.
type AgentStore interface {
	SaveLLMConfig(ctx context.Context, cfg *model.LLMConfig) error
	SaveTool(ctx context.Context, tool *model.Tool) error
	SaveAgent(ctx context.Context, agent *model.Agent) error
	GetAgentByName(ctx context.Context, name string) (*model.Agent, error)
	ListAgents(ctx context.Context) ([]model.Agent, error)
}

// ClassificationStore persists classification history.
type ClassificationStore interface {
	// RecordClassification deactivates any active entry for the transaction
	// and inserts the new one atomically.
	RecordClassification(ctx context.Context, entry *model.ClassificationEntry) error
	// ApplyClassification writes classification fields and records the
	// resulting history entry in one database transaction.
	ApplyClassification(ctx context.Context, transactionID int64, fields map[string]any) (*model.ClassificationEntry, error)
	GetClassificationHistory(ctx context.Context, transactionID int64) ([]model.ClassificationEntry, error)
}

// TaskStore persists processing tasks. Every write is conditional on the
// task's current status and returns common.ErrConflict when it does not hold.
type TaskStore interface {
	CreateTask(ctx context.Context, task *model.ProcessingTask, transactionIDs []int64) error
	GetTask(ctx context.Context, id uuid.UUID) (*model.ProcessingTask, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]model.ProcessingTask, error)
	GetTaskTransactionIDs(ctx context.Context, id uuid.UUID) ([]int64, error)

	StartTask(ctx context.Context, id uuid.UUID, logPath string) error
	UpdateTaskProgress(ctx context.Context, id uuid.UUID, progress model.TaskProgress) error
	TouchTask(ctx context.Context, id uuid.UUID) error
	TransitionTask(ctx context.Context, id uuid.UUID, from, to model.TaskStatus, details map[string]string) error
	ResetTask(ctx context.Context, id uuid.UUID) error
	RequestTaskCancel(ctx context.Context, id uuid.UUID) error
	ListStaleTasks(ctx context.Context, heartbeatBefore time.Time) ([]model.ProcessingTask, error)
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	TransactionStore
	ProfileStore
	CategoryStore
	AgentStore
	ClassificationStore
	TaskStore

	Migrate(ctx context.Context) error
	Close() error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryOptions returns the backoff used for LLM transport calls.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	}
}

package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a processing task.
type TaskStatus string

// Task statuses.
const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// TaskType selects the agent a task runs.
type TaskType string

// Task types.
const (
	TaskPayeeLookup    TaskType = "payee_lookup"
	TaskClassification TaskType = "classification"
)

// ParseTaskType validates a textual task type.
func ParseTaskType(s string) (TaskType, error) {
	switch TaskType(s) {
	case TaskPayeeLookup, TaskClassification:
		return TaskType(s), nil
	default:
		return "", fmt.Errorf("unknown task type %q", s)
	}
}

// AgentType returns the response mapping mode for the task's agent.
func (t TaskType) AgentType() AgentType {
	if t == TaskPayeeLookup {
		return AgentTypePayee
	}
	return AgentTypeClassification
}

// transitions lists the allowed forward moves. failed -> pending is the
// operator-triggered retry.
var transitions = map[TaskStatus][]TaskStatus{
	TaskPending:    {TaskProcessing, TaskFailed},
	TaskProcessing: {TaskCompleted, TaskFailed},
	TaskFailed:     {TaskPending},
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to TaskStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status ends a run.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// ProcessingTask groups transactions of one client for background processing.
type ProcessingTask struct {
	CreatedAt        time.Time
	UpdatedAt        time.Time
	StartedAt        *time.Time
	HeartbeatAt      *time.Time
	FinishedAt       *time.Time
	ErrorDetails     map[string]string
	Metadata         map[string]any
	Status           TaskStatus
	Type             TaskType
	ClientID         string
	LogPath          string
	TransactionCount int
	ProcessedCount   int
	ErrorCount       int
	RunCount         int
	ID               uuid.UUID
	CancelRequested  bool
}

// Progress returns the processed fraction in [0, 1].
func (t *ProcessingTask) Progress() float64 {
	if t.TransactionCount == 0 {
		return 0
	}
	return float64(t.ProcessedCount) / float64(t.TransactionCount)
}

// TaskProgress is a per-item progress write issued by a worker.
type TaskProgress struct {
	ErrorDetails   map[string]string
	ProcessedCount int
	ErrorCount     int
}

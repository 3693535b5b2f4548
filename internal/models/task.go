package models

import (
	"fmt"
	"time"
)

// Task lifecycle states persisted in Postgres.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Task kinds.
const (
	KindAdHocQuery      = "ad_hoc_query"
	KindScheduledUpload = "scheduled_upload"
)

// legalTransitions maps a status to the set of statuses reachable from it.
// A task moves queued → running → {completed, failed} and never back.
var legalTransitions = map[string][]string{
	StatusQueued:  {StatusRunning},
	StatusRunning: {StatusCompleted, StatusFailed},
}

// CanTransition reports whether moving a task from one status to another
// is legal.
func CanTransition(from, to string) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status is final.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// InvalidTransitionError signals a task status change that violates the
// state machine. It indicates a programming defect in the caller and is
// never swallowed.
type InvalidTransitionError struct {
	TaskID string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %s: illegal transition %s -> %s", e.TaskID, e.From, e.To)
}

// TaskPayload carries the unit of work. Exactly one of Query or Upload is
// set, matching the task kind.
type TaskPayload struct {
	// Query is the SQL text for ad-hoc query tasks, plus the dialect and
	// DSN of the live database it runs against.
	Query   string `json:"query,omitempty"`
	Dialect string `json:"dialect,omitempty"`
	DSN     string `json:"dsn,omitempty"`

	// Upload identifies the scheduled-upload source for upload tasks.
	Upload *UploadSpec `json:"upload,omitempty"`
}

// UploadSpec describes a credential-gated dataset fetch and its target.
type UploadSpec struct {
	ScheduleID  int64  `json:"schedule_id"`
	SourceType  string `json:"source_type"`
	SourcePath  string `json:"source_path"`
	TableName   string `json:"table_name"`
	Credentials string `json:"credentials,omitempty"`
}

// Task is one unit of asynchronous work persisted in the ledger.
type Task struct {
	ID             string      `json:"id"`
	Owner          string      `json:"owner"`
	Kind           string      `json:"kind"`
	Payload        TaskPayload `json:"payload"`
	Status         string      `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
	ResultLocation *string     `json:"result_location,omitempty"`
	Error          *string     `json:"error,omitempty"`
	NotifyChannel  *string     `json:"notify_channel,omitempty"`
}

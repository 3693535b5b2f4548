package models

import "time"

// QueryHistoryEntry records one successful query execution.
type QueryHistoryEntry struct {
	ID          int64     `json:"id"`
	Owner       string    `json:"owner"`
	Query       string    `json:"query"`
	ExecutionMs int64     `json:"execution_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// SavedQuery is a named, reusable query. Names are unique per owner.
type SavedQuery struct {
	ID          int64     `json:"id"`
	Owner       string    `json:"owner"`
	Name        string    `json:"name"`
	Query       string    `json:"query"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

package models

import "time"

// Notification event types.
const (
	NotifyBackgroundTask  = "background_task"
	NotifyScheduledUpload = "scheduled_upload"
	NotifyScheduleReview  = "schedule_review"
)

// TargetSystem marks a notification visible to every admin rather than a
// single account.
const TargetSystem = "system"

// Notification is an append-only event record. Rows are never deleted;
// the only mutation is flipping IsRead.
type Notification struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Target    string    `json:"target"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// Package notify is the single write path for notifications. Every event
// (task terminal state, approval decision, upload outcome) becomes exactly
// one persisted row, plus at most one email when the event carries a notify
// channel. Read paths live in the store; nothing else writes rows.
package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"sql-workbench/internal/models"
	"sql-workbench/internal/telemetry"
)

// Notifier delivers out-of-band messages (email). Implementations must be
// safe for concurrent use.
type Notifier interface {
	Send(ctx context.Context, channel, subject, body string) error
}

// Store is the slice of persistence the emitter needs.
type Store interface {
	AppendNotification(ctx context.Context, typ, message, target string) (models.Notification, error)
}

// Emitter persists notification rows and dispatches emails. A nil Notifier
// disables email delivery without affecting the persisted rows.
type Emitter struct {
	store    Store
	notifier Notifier
}

func NewEmitter(store Store, notifier Notifier) *Emitter {
	return &Emitter{store: store, notifier: notifier}
}

// Emit appends one notification row. Failures propagate to the caller;
// emission is the caller's responsibility to retry or surface.
func (e *Emitter) Emit(ctx context.Context, typ, message, target string) error {
	if _, err := e.store.AppendNotification(ctx, typ, message, target); err != nil {
		return fmt.Errorf("emit notification: %w", err)
	}
	telemetry.NotificationsOut.Inc()
	return nil
}

// email sends through the notifier when one is configured. Delivery
// failures are logged, never escalated: a lost email must not fail the task
// that triggered it.
func (e *Emitter) email(ctx context.Context, channel, subject, body string) {
	if e.notifier == nil || channel == "" {
		return
	}
	if err := e.notifier.Send(ctx, channel, subject, body); err != nil {
		log.Printf("notify: send email to %s: %v", channel, err)
	}
}

// QueryTaskCompleted records a successful ad-hoc query task.
func (e *Emitter) QueryTaskCompleted(ctx context.Context, task models.Task, rowCount int, took time.Duration) error {
	msg := fmt.Sprintf("Background query task %s completed: %d rows in %.2f seconds", task.ID, rowCount, took.Seconds())
	if err := e.Emit(ctx, models.NotifyBackgroundTask, msg, task.Owner); err != nil {
		return err
	}
	if task.NotifyChannel != nil {
		subject := fmt.Sprintf("SQL Workbench - Query Task #%s Completed", task.ID)
		body := fmt.Sprintf(
			"<html><body><h2>Query Task Completed</h2>"+
				"<p>Your SQL query task has been completed successfully.</p>"+
				"<ul><li><strong>Task ID:</strong> %s</li>"+
				"<li><strong>Execution Time:</strong> %.2f seconds</li>"+
				"<li><strong>Results:</strong> %d rows</li></ul></body></html>",
			task.ID, took.Seconds(), rowCount)
		e.email(ctx, *task.NotifyChannel, subject, body)
	}
	return nil
}

// QueryTaskFailed records a failed ad-hoc query task.
func (e *Emitter) QueryTaskFailed(ctx context.Context, task models.Task, errMsg string) error {
	msg := fmt.Sprintf("Background query task %s failed: %s", task.ID, errMsg)
	if err := e.Emit(ctx, models.NotifyBackgroundTask, msg, task.Owner); err != nil {
		return err
	}
	if task.NotifyChannel != nil {
		subject := fmt.Sprintf("SQL Workbench - Query Task #%s Failed", task.ID)
		body := fmt.Sprintf(
			"<html><body><h2>Query Task Failed</h2>"+
				"<p>Your SQL query task has failed to complete.</p>"+
				"<ul><li><strong>Task ID:</strong> %s</li>"+
				"<li><strong>Error:</strong> %s</li></ul>"+
				"<p>Please check your query and try again.</p></body></html>",
			task.ID, errMsg)
		e.email(ctx, *task.NotifyChannel, subject, body)
	}
	return nil
}

// UploadCompleted records a successful scheduled upload.
func (e *Emitter) UploadCompleted(ctx context.Context, task models.Task, table, sourceType string, rowCount int) error {
	msg := fmt.Sprintf("Scheduled upload into %s completed: %d rows from %s", table, rowCount, sourceType)
	if err := e.Emit(ctx, models.NotifyScheduledUpload, msg, task.Owner); err != nil {
		return err
	}
	if task.NotifyChannel != nil {
		subject := "SQL Workbench - Scheduled Upload Completed"
		body := fmt.Sprintf(
			"<html><body><h2>Scheduled Upload Completed</h2>"+
				"<p>Your scheduled data upload has been completed successfully.</p>"+
				"<ul><li><strong>Table:</strong> %s</li>"+
				"<li><strong>Source:</strong> %s</li>"+
				"<li><strong>Rows Uploaded:</strong> %d</li></ul></body></html>",
			table, sourceType, rowCount)
		e.email(ctx, *task.NotifyChannel, subject, body)
	}
	return nil
}

// UploadFailed records a failed scheduled upload.
func (e *Emitter) UploadFailed(ctx context.Context, task models.Task, table, sourceType, errMsg string) error {
	msg := fmt.Sprintf("Scheduled upload into %s failed: %s", table, errMsg)
	if err := e.Emit(ctx, models.NotifyScheduledUpload, msg, task.Owner); err != nil {
		return err
	}
	if task.NotifyChannel != nil {
		subject := "SQL Workbench - Scheduled Upload Failed"
		body := fmt.Sprintf(
			"<html><body><h2>Scheduled Upload Failed</h2>"+
				"<p>Your scheduled data upload has failed to complete.</p>"+
				"<ul><li><strong>Table:</strong> %s</li>"+
				"<li><strong>Source:</strong> %s</li>"+
				"<li><strong>Error:</strong> %s</li></ul>"+
				"<p>Please check the upload configuration and try again.</p></body></html>",
			table, sourceType, errMsg)
		e.email(ctx, *task.NotifyChannel, subject, body)
	}
	return nil
}

// ScheduleRequested tells admins a schedule awaits review.
func (e *Emitter) ScheduleRequested(ctx context.Context, owner, table string) error {
	msg := fmt.Sprintf("User %s requested a scheduled upload into %s, pending review", owner, table)
	return e.Emit(ctx, models.NotifyScheduleReview, msg, models.TargetSystem)
}

// ScheduleApproved tells the requester their schedule is live.
func (e *Emitter) ScheduleApproved(ctx context.Context, owner, table string) error {
	msg := fmt.Sprintf("Your scheduled upload into %s was approved and activated", table)
	return e.Emit(ctx, models.NotifyScheduleReview, msg, owner)
}

// ScheduleDeclined tells the requester their schedule was declined.
func (e *Emitter) ScheduleDeclined(ctx context.Context, owner, table, reason string) error {
	msg := fmt.Sprintf("Your scheduled upload into %s was declined", table)
	if reason != "" {
		msg += ": " + reason
	}
	return e.Emit(ctx, models.NotifyScheduleReview, msg, owner)
}

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"sql-workbench/internal/models"
)

// AppendNotification inserts an unread notification row. This is the single
// write path for notifications; readers never create rows.
func (s *Store) AppendNotification(ctx context.Context, typ, message, target string) (models.Notification, error) {
	now := time.Now().UTC()
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO notifications (type, message, target, is_read, created_at)
		VALUES ($1, $2, $3, FALSE, $4)
		RETURNING id
	`, typ, message, target, now).Scan(&id)
	if err != nil {
		return models.Notification{}, fmt.Errorf("insert notification: %w", err)
	}
	return models.Notification{ID: id, Type: typ, Message: message, Target: target, CreatedAt: now}, nil
}

// ListNotificationsFor returns the rows visible to a principal, newest
// first. Admins additionally see 'system' broadcasts and, when listing all,
// every row.
func (s *Store) ListNotificationsFor(ctx context.Context, p models.Principal) ([]models.Notification, error) {
	var rows pgx.Rows
	var err error
	if p.IsAdmin() {
		rows, err = s.pool.Query(ctx, `
			SELECT id, type, message, target, is_read, created_at
			FROM notifications
			WHERE target IN ($1, $2)
			ORDER BY created_at DESC
		`, p.Username, models.TargetSystem)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT id, type, message, target, is_read, created_at
			FROM notifications
			WHERE target = $1
			ORDER BY created_at DESC
		`, p.Username)
	}
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.Type, &n.Message, &n.Target, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead flips is_read on one row the principal can see.
func (s *Store) MarkNotificationRead(ctx context.Context, id int64, p models.Principal) error {
	var res pgconn.CommandTag
	var err error
	if p.IsAdmin() {
		res, err = s.pool.Exec(ctx, `
			UPDATE notifications SET is_read = TRUE WHERE id = $1 AND target IN ($2, $3)
		`, id, p.Username, models.TargetSystem)
	} else {
		res, err = s.pool.Exec(ctx, `
			UPDATE notifications SET is_read = TRUE WHERE id = $1 AND target = $2
		`, id, p.Username)
	}
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("notification %d: %w", id, ErrNotFound)
	}
	return nil
}

// MarkAllNotificationsRead flips is_read on every row the principal can see.
func (s *Store) MarkAllNotificationsRead(ctx context.Context, p models.Principal) error {
	var err error
	if p.IsAdmin() {
		_, err = s.pool.Exec(ctx, `
			UPDATE notifications SET is_read = TRUE WHERE target IN ($1, $2)
		`, p.Username, models.TargetSystem)
	} else {
		_, err = s.pool.Exec(ctx, `
			UPDATE notifications SET is_read = TRUE WHERE target = $1
		`, p.Username)
	}
	if err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}

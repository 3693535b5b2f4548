package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"sql-workbench/internal/models"
)

// CreateScheduleParams collects inputs required to insert a schedule
// descriptor.
type CreateScheduleParams struct {
	Owner       string
	SourceType  string
	SourcePath  string
	TargetTable string
	Frequency   string
	NextRun     time.Time
	IsActive    bool
	IsApproved  bool
	Credentials string
}

// CreateSchedule inserts a descriptor. While a non-approved request for the
// same (owner, target_table) exists, a second insert fails with
// ErrDuplicateRequest; a partial unique index backs the check so concurrent
// requests cannot slip past it.
func (s *Store) CreateSchedule(ctx context.Context, p CreateScheduleParams) (models.ScheduleDescriptor, error) {
	if !p.IsApproved {
		var pending bool
		err := s.pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM schedule_descriptors
				WHERE owner = $1 AND target_table = $2 AND NOT is_approved
			)
		`, p.Owner, p.TargetTable).Scan(&pending)
		if err != nil {
			return models.ScheduleDescriptor{}, fmt.Errorf("check pending schedule: %w", err)
		}
		if pending {
			return models.ScheduleDescriptor{}, ErrDuplicateRequest
		}
	}

	now := time.Now().UTC()
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO schedule_descriptors
			(owner, source_type, source_path, target_table, frequency, next_run, is_active, is_approved, credentials, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, p.Owner, p.SourceType, p.SourcePath, p.TargetTable, p.Frequency, p.NextRun,
		p.IsActive, p.IsApproved, p.Credentials, now).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Lost the race against a concurrent identical request.
			return models.ScheduleDescriptor{}, ErrDuplicateRequest
		}
		return models.ScheduleDescriptor{}, fmt.Errorf("insert schedule: %w", err)
	}

	return models.ScheduleDescriptor{
		ID:          id,
		Owner:       p.Owner,
		SourceType:  p.SourceType,
		SourcePath:  p.SourcePath,
		TargetTable: p.TargetTable,
		Frequency:   p.Frequency,
		NextRun:     p.NextRun,
		IsActive:    p.IsActive,
		IsApproved:  p.IsApproved,
		Credentials: p.Credentials,
		CreatedAt:   now,
	}, nil
}

const scheduleColumns = `id, owner, source_type, source_path, target_table, frequency, next_run, last_run, is_active, is_approved, credentials, created_at`

// GetSchedule fetches a descriptor by id.
func (s *Store) GetSchedule(ctx context.Context, id int64) (models.ScheduleDescriptor, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM schedule_descriptors WHERE id = $1`, id)
	d, err := scanSchedule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ScheduleDescriptor{}, fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	return d, err
}

// ListSchedulesForOwner returns the owner's descriptors, newest first.
func (s *Store) ListSchedulesForOwner(ctx context.Context, owner string) ([]models.ScheduleDescriptor, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+scheduleColumns+` FROM schedule_descriptors WHERE owner = $1 ORDER BY created_at DESC
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()
	return collectSchedules(rows)
}

// ListAllSchedules returns every descriptor, newest first.
func (s *Store) ListAllSchedules(ctx context.Context) ([]models.ScheduleDescriptor, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+scheduleColumns+` FROM schedule_descriptors ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()
	return collectSchedules(rows)
}

// ListRunnableSchedules returns descriptors that are both approved and
// active. Used at startup to rebuild the scheduler registry.
func (s *Store) ListRunnableSchedules(ctx context.Context) ([]models.ScheduleDescriptor, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+scheduleColumns+` FROM schedule_descriptors WHERE is_active AND is_approved
	`)
	if err != nil {
		return nil, fmt.Errorf("list runnable schedules: %w", err)
	}
	defer rows.Close()
	return collectSchedules(rows)
}

// SetScheduleApproved marks a descriptor approved and active.
func (s *Store) SetScheduleApproved(ctx context.Context, id int64) error {
	return s.updateSchedule(ctx, id, `UPDATE schedule_descriptors SET is_approved = TRUE, is_active = TRUE WHERE id = $1`)
}

// SetScheduleActive toggles an approved descriptor on or off.
func (s *Store) SetScheduleActive(ctx context.Context, id int64, active bool) error {
	res, err := s.pool.Exec(ctx, `
		UPDATE schedule_descriptors SET is_active = $2 WHERE id = $1 AND is_approved
	`, id, active)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateScheduleNextRun moves the anchor for the next fire.
func (s *Store) UpdateScheduleNextRun(ctx context.Context, id int64, next time.Time) error {
	res, err := s.pool.Exec(ctx, `UPDATE schedule_descriptors SET next_run = $2 WHERE id = $1`, id, next)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateScheduleLastRun records a completed upload run.
func (s *Store) UpdateScheduleLastRun(ctx context.Context, id int64, ran time.Time) error {
	res, err := s.pool.Exec(ctx, `UPDATE schedule_descriptors SET last_run = $2 WHERE id = $1`, id, ran)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteSchedule removes a descriptor. Deletion is terminal; the caller is
// responsible for deregistering any live trigger.
func (s *Store) DeleteSchedule(ctx context.Context, id int64) error {
	res, err := s.pool.Exec(ctx, `DELETE FROM schedule_descriptors WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) updateSchedule(ctx context.Context, id int64, sql string) error {
	res, err := s.pool.Exec(ctx, sql, id)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	return nil
}

func scanSchedule(row pgx.Row) (models.ScheduleDescriptor, error) {
	var d models.ScheduleDescriptor
	var lastRun pgtype.Timestamptz
	err := row.Scan(&d.ID, &d.Owner, &d.SourceType, &d.SourcePath, &d.TargetTable,
		&d.Frequency, &d.NextRun, &lastRun, &d.IsActive, &d.IsApproved, &d.Credentials, &d.CreatedAt)
	if err != nil {
		return models.ScheduleDescriptor{}, err
	}
	d.LastRun = tsPtr(lastRun)
	return d, nil
}

func collectSchedules(rows pgx.Rows) ([]models.ScheduleDescriptor, error) {
	var out []models.ScheduleDescriptor
	for rows.Next() {
		d, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

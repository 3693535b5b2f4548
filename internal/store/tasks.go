package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"sql-workbench/internal/models"
)

// CreateTaskParams collects inputs required to insert a task.
type CreateTaskParams struct {
	Kind          string
	Owner         string
	Payload       models.TaskPayload
	NotifyChannel string
}

// CreateTask inserts a queued task row and returns it.
func (s *Store) CreateTask(ctx context.Context, p CreateTaskParams) (models.Task, error) {
	payloadJSON, err := json.Marshal(p.Payload)
	if err != nil {
		return models.Task{}, fmt.Errorf("marshal payload: %w", err)
	}

	id := uuid.New().String()
	now := time.Now().UTC()

	var notify *string
	if p.NotifyChannel != "" {
		notify = &p.NotifyChannel
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tasks (id, owner, kind, payload, status, created_at, notify_channel)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, p.Owner, p.Kind, payloadJSON, models.StatusQueued, now, notify)
	if err != nil {
		return models.Task{}, fmt.Errorf("insert task: %w", err)
	}

	return models.Task{
		ID:            id,
		Owner:         p.Owner,
		Kind:          p.Kind,
		Payload:       p.Payload,
		Status:        models.StatusQueued,
		CreatedAt:     now,
		NotifyChannel: notify,
	}, nil
}

const taskColumns = `id, owner, kind, payload, status, created_at, started_at, completed_at, result_location, error, notify_channel`

// GetTask fetches a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (models.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return task, err
}

// ListTasksForOwner returns the owner's tasks, newest first.
func (s *Store) ListTasksForOwner(ctx context.Context, owner string) ([]models.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE owner = $1 ORDER BY created_at DESC
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListAllTasks returns every task, newest first. Privileged callers only;
// the caller checks the role.
func (s *Store) ListAllTasks(ctx context.Context) ([]models.Task, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// TransitionFields carries the optional column updates applied alongside a
// status change.
type TransitionFields struct {
	ResultLocation *string
	Error          *string
}

// Transition moves a task to a new status, stamping started_at on entry to
// running and completed_at on entry to a terminal status. The update is
// conditional on the current status, so concurrent transitions on the same
// id serialize at the row: the loser observes zero rows updated and gets an
// InvalidTransitionError.
func (s *Store) Transition(ctx context.Context, id, to string, fields TransitionFields) (models.Task, error) {
	var tag string
	var args []any
	switch to {
	case models.StatusRunning:
		tag = `UPDATE tasks SET status = $2, started_at = $3 WHERE id = $1 AND status = $4`
		args = []any{id, to, time.Now().UTC(), models.StatusQueued}
	case models.StatusCompleted:
		tag = `UPDATE tasks SET status = $2, completed_at = $3, result_location = $4 WHERE id = $1 AND status = $5`
		args = []any{id, to, time.Now().UTC(), fields.ResultLocation, models.StatusRunning}
	case models.StatusFailed:
		tag = `UPDATE tasks SET status = $2, completed_at = $3, error = $4 WHERE id = $1 AND status = $5`
		args = []any{id, to, time.Now().UTC(), fields.Error, models.StatusRunning}
	default:
		return models.Task{}, fmt.Errorf("transition task: unknown status %q", to)
	}

	res, err := s.pool.Exec(ctx, tag, args...)
	if err != nil {
		return models.Task{}, fmt.Errorf("transition task: %w", err)
	}
	if res.RowsAffected() == 0 {
		current, err := s.GetTask(ctx, id)
		if err != nil {
			return models.Task{}, err
		}
		return models.Task{}, &models.InvalidTransitionError{TaskID: id, From: current.Status, To: to}
	}
	return s.GetTask(ctx, id)
}

func scanTask(row pgx.Row) (models.Task, error) {
	var t models.Task
	var payloadJSON []byte
	var started, completed pgtype.Timestamptz
	var result, errText, notify pgtype.Text

	err := row.Scan(&t.ID, &t.Owner, &t.Kind, &payloadJSON, &t.Status, &t.CreatedAt,
		&started, &completed, &result, &errText, &notify)
	if err != nil {
		return models.Task{}, err
	}
	if err := json.Unmarshal(payloadJSON, &t.Payload); err != nil {
		return models.Task{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	t.StartedAt = tsPtr(started)
	t.CompletedAt = tsPtr(completed)
	t.ResultLocation = textPtr(result)
	t.Error = textPtr(errText)
	t.NotifyChannel = textPtr(notify)
	return t, nil
}

func collectTasks(rows pgx.Rows) ([]models.Task, error) {
	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

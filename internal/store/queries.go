package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"sql-workbench/internal/models"
)

// AppendQueryHistory records one successful execution.
func (s *Store) AppendQueryHistory(ctx context.Context, owner, query string, took time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO query_history (owner, query, execution_ms, created_at)
		VALUES ($1, $2, $3, $4)
	`, owner, query, took.Milliseconds(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert query history: %w", err)
	}
	return nil
}

// ListQueryHistory returns the owner's recent executions, newest first.
func (s *Store) ListQueryHistory(ctx context.Context, owner string, limit int) ([]models.QueryHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner, query, execution_ms, created_at
		FROM query_history WHERE owner = $1
		ORDER BY created_at DESC LIMIT $2
	`, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("list query history: %w", err)
	}
	defer rows.Close()

	var out []models.QueryHistoryEntry
	for rows.Next() {
		var e models.QueryHistoryEntry
		if err := rows.Scan(&e.ID, &e.Owner, &e.Query, &e.ExecutionMs, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan query history: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveQuery stores a named query for reuse. Names are unique per owner.
func (s *Store) SaveQuery(ctx context.Context, q models.SavedQuery) (models.SavedQuery, error) {
	q.CreatedAt = time.Now().UTC()
	err := s.pool.QueryRow(ctx, `
		INSERT INTO saved_queries (owner, name, query, description, category, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, q.Owner, q.Name, q.Query, q.Description, q.Category, q.CreatedAt).Scan(&q.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.SavedQuery{}, fmt.Errorf("saved query %q already exists", q.Name)
		}
		return models.SavedQuery{}, fmt.Errorf("insert saved query: %w", err)
	}
	return q, nil
}

// ListSavedQueries returns the owner's saved queries, newest first.
func (s *Store) ListSavedQueries(ctx context.Context, owner string) ([]models.SavedQuery, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner, name, query, description, category, created_at
		FROM saved_queries WHERE owner = $1
		ORDER BY created_at DESC
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("list saved queries: %w", err)
	}
	defer rows.Close()

	var out []models.SavedQuery
	for rows.Next() {
		var q models.SavedQuery
		if err := rows.Scan(&q.ID, &q.Owner, &q.Name, &q.Query, &q.Description, &q.Category, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan saved query: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// DeleteSavedQuery removes one of the owner's saved queries.
func (s *Store) DeleteSavedQuery(ctx context.Context, id int64, owner string) error {
	res, err := s.pool.Exec(ctx, `DELETE FROM saved_queries WHERE id = $1 AND owner = $2`, id, owner)
	if err != nil {
		return fmt.Errorf("delete saved query: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("saved query %d: %w", id, ErrNotFound)
	}
	return nil
}

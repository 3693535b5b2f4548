package worker

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"sql-workbench/internal/dialect"
)

// insertChunkSize bounds the rows per bulk INSERT statement.
const insertChunkSize = 1000

// DatasetSink writes a dataset into a target table. The write is an
// overwrite, not an upsert: create the table if absent with all-TEXT
// columns, delete existing rows, then bulk-insert in chunks.
type DatasetSink struct{}

func NewDatasetSink() *DatasetSink {
	return &DatasetSink{}
}

// Store overwrites the target table with the dataset. Everything happens
// in one transaction so a failed chunk leaves the previous contents intact.
func (k *DatasetSink) Store(ctx context.Context, db *sql.DB, d, table string, ds Dataset) error {
	d, err := dialect.Normalize(d)
	if err != nil {
		return err
	}
	if len(ds.Columns) == 0 {
		return fmt.Errorf("store dataset: no columns")
	}

	cols := make([]string, 0, len(ds.Columns))
	quotedCols := make([]string, 0, len(ds.Columns))
	for _, c := range ds.Columns {
		cleaned := cleanColumnName(c)
		cols = append(cols, cleaned)
		q, err := dialect.Quote(cleaned, d)
		if err != nil {
			return err
		}
		quotedCols = append(quotedCols, q)
	}
	quotedTable, err := dialect.Quote(table, d)
	if err != nil {
		return err
	}

	defs := make([]string, len(quotedCols))
	for i, q := range quotedCols {
		defs[i] = q + " TEXT"
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	createStmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quotedTable, strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, createStmt); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+quotedTable); err != nil {
		return fmt.Errorf("clear table: %w", err)
	}

	for start := 0; start < len(ds.Rows); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(ds.Rows) {
			end = len(ds.Rows)
		}
		if err := insertChunk(ctx, tx, d, quotedTable, quotedCols, ds.Rows[start:end]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// insertChunk renders one multi-row INSERT with dialect placeholders.
func insertChunk(ctx context.Context, tx *sql.Tx, d, quotedTable string, quotedCols []string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	width := len(quotedCols)
	args := make([]any, 0, len(rows)*width)
	groups := make([]string, 0, len(rows))
	idx := 1
	for _, row := range rows {
		if len(row) != width {
			return fmt.Errorf("insert dataset: row has %d values, want %d", len(row), width)
		}
		marks := make([]string, width)
		for i, v := range row {
			ph, err := dialect.Placeholder(d, idx)
			if err != nil {
				return err
			}
			marks[i] = ph
			args = append(args, v)
			idx++
		}
		groups = append(groups, "("+strings.Join(marks, ", ")+")")
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		quotedTable, strings.Join(quotedCols, ", "), strings.Join(groups, ", "))
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert chunk: %w", err)
	}
	return nil
}

// cleanColumnName strips whitespace and replaces spaces, matching how
// uploaded headers are normalized on ingestion.
func cleanColumnName(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
}

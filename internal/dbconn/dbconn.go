// Package dbconn opens live database connections for query execution. The
// dialect is always an explicit tag from the caller; nothing here inspects
// a connection to guess its backend. Connections are scoped per execution,
// not pooled by this package: open, use, close.
package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"sql-workbench/internal/dialect"
)

// Open connects to the database behind the DSN using the driver matching
// the dialect tag.
func Open(d, dsn string) (*sql.DB, error) {
	d, err := dialect.Normalize(d)
	if err != nil {
		return nil, err
	}
	var driver string
	switch d {
	case dialect.MySQL:
		driver = "mysql"
	case dialect.PostgreSQL:
		driver = "pgx"
	case dialect.SQLite:
		driver = "sqlite3"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", d, err)
	}
	return db, nil
}

// Result is a fully materialized query result with every value rendered as
// text.
type Result struct {
	Columns []string
	Rows    [][]string
}

// Empty reports whether the result carries no rows.
func (r Result) Empty() bool {
	return len(r.Rows) == 0
}

// Query runs a statement and materializes the result. Statements that
// return no result set (DDL, DML) yield an empty Result.
func Query(ctx context.Context, db *sql.DB, stmt string) (Result, error) {
	rows, err := db.QueryContext(ctx, stmt)
	if err != nil {
		return Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()
	return materialize(rows)
}

// ListTables returns the user table names visible on the connection.
func ListTables(ctx context.Context, db *sql.DB, d string) ([]string, error) {
	stmt, err := dialect.ListTablesSQL(d)
	if err != nil {
		return nil, err
	}
	res, err := Query(ctx, db, stmt)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		if len(row) > 0 {
			names = append(names, row[0])
		}
	}
	return names, nil
}

// DescribeColumns returns the column names of a table.
func DescribeColumns(ctx context.Context, db *sql.DB, d, table string) ([]string, error) {
	stmt, err := dialect.DescribeColumnsSQL(d, table)
	if err != nil {
		return nil, err
	}
	res, err := Query(ctx, db, stmt)
	if err != nil {
		return nil, err
	}

	// MySQL DESCRIBE and SQLite PRAGMA put the column name in a fixed
	// position; the information_schema query returns it alone.
	nameIdx := 0
	if d == dialect.SQLite {
		nameIdx = 1
	}
	names := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		if len(row) > nameIdx {
			names = append(names, row[nameIdx])
		}
	}
	return names, nil
}

// Explain runs the dialect's EXPLAIN form and flattens the output to plan
// text, one line per plan row.
func Explain(ctx context.Context, db *sql.DB, d, query string) (string, error) {
	stmt, shape, err := dialect.ExplainSQL(d, query)
	if err != nil {
		return "", err
	}
	res, err := Query(ctx, db, stmt)
	if err != nil {
		return "", fmt.Errorf("explain: %w", err)
	}

	lines := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		if shape.TextColumn >= 0 && shape.TextColumn < len(row) {
			lines = append(lines, row[shape.TextColumn])
		} else {
			lines = append(lines, strings.Join(row, " | "))
		}
	}
	return strings.Join(lines, "\n"), nil
}

func materialize(rows *sql.Rows) (Result, error) {
	cols, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("read columns: %w", err)
	}

	var out Result
	out.Columns = cols
	for rows.Next() {
		raw := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Result{}, fmt.Errorf("scan row: %w", err)
		}
		vals := make([]string, len(cols))
		for i, v := range raw {
			if v.Valid {
				vals[i] = v.String
			}
		}
		out.Rows = append(out.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

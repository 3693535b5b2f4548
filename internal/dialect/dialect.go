// Package dialect holds per-backend SQL knowledge: identifier quoting,
// catalog introspection queries, EXPLAIN syntax, and placeholder style.
// Everything here is a pure lookup; the dialect is always an explicit tag
// supplied by the caller, never inferred from a connection's runtime type.
package dialect

import (
	"errors"
	"fmt"
	"strings"
)

// Supported dialects.
const (
	MySQL      = "mysql"
	PostgreSQL = "postgresql"
	SQLite     = "sqlite"
)

// ErrUnsupportedDialect is returned for any dialect tag outside the
// supported set. Fatal to the calling operation.
var ErrUnsupportedDialect = errors.New("unsupported dialect")

// Normalize lowercases a dialect tag and validates it.
func Normalize(d string) (string, error) {
	switch strings.ToLower(d) {
	case MySQL:
		return MySQL, nil
	case PostgreSQL, "postgres":
		return PostgreSQL, nil
	case SQLite, "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDialect, d)
	}
}

// QuoteRune returns the identifier quote character: backtick for MySQL,
// double quote for PostgreSQL and SQLite.
func QuoteRune(d string) (rune, error) {
	switch d {
	case MySQL:
		return '`', nil
	case PostgreSQL, SQLite:
		return '"', nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedDialect, d)
	}
}

// Quote wraps an identifier in the dialect's quote character, doubling any
// embedded quote characters.
func Quote(name, d string) (string, error) {
	q, err := QuoteRune(d)
	if err != nil {
		return "", err
	}
	qs := string(q)
	return qs + strings.ReplaceAll(name, qs, qs+qs) + qs, nil
}

// Unquote reverses Quote. Identifiers that are not quoted are returned
// unchanged.
func Unquote(name, d string) (string, error) {
	q, err := QuoteRune(d)
	if err != nil {
		return "", err
	}
	qs := string(q)
	if len(name) < 2 || !strings.HasPrefix(name, qs) || !strings.HasSuffix(name, qs) {
		return name, nil
	}
	inner := name[1 : len(name)-1]
	return strings.ReplaceAll(inner, qs+qs, qs), nil
}

// CaseSensitive reports whether quoted identifiers in the dialect preserve
// case in a way that makes bare mixed-case references unsafe. Only
// PostgreSQL folds unquoted identifiers to lowercase.
func CaseSensitive(d string) bool {
	return d == PostgreSQL
}

// ListTablesSQL returns the catalog query that lists user tables.
func ListTablesSQL(d string) (string, error) {
	switch d {
	case MySQL:
		return "SHOW TABLES", nil
	case PostgreSQL:
		return "SELECT table_name FROM information_schema.tables WHERE table_schema = 'public'", nil
	case SQLite:
		return "SELECT name FROM sqlite_master WHERE type='table'", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDialect, d)
	}
}

// DescribeColumnsSQL returns the catalog query that lists the columns of a
// table. The table name is embedded rather than parameterized because DDL
// statements and SHOW/PRAGMA forms do not accept placeholders uniformly.
func DescribeColumnsSQL(d, table string) (string, error) {
	switch d {
	case MySQL:
		quoted, _ := Quote(table, MySQL)
		return "DESCRIBE " + quoted, nil
	case PostgreSQL:
		return fmt.Sprintf("SELECT column_name FROM information_schema.columns WHERE table_name = '%s'",
			strings.ReplaceAll(table, "'", "''")), nil
	case SQLite:
		return fmt.Sprintf("PRAGMA table_info('%s')", strings.ReplaceAll(table, "'", "''")), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDialect, d)
	}
}

// ExplainShape describes how a backend lays out EXPLAIN output.
type ExplainShape struct {
	// Columns names the result columns when the backend uses a fixed
	// layout; empty when the layout depends on the query (MySQL).
	Columns []string
	// TextColumn is the zero-based index of the column carrying the plan
	// text, or -1 when each full row should be rendered.
	TextColumn int
}

// ExplainSQL wraps a query in the backend's EXPLAIN form and describes the
// expected result shape.
func ExplainSQL(d, query string) (string, ExplainShape, error) {
	switch d {
	case MySQL:
		return "EXPLAIN ANALYZE " + query, ExplainShape{TextColumn: -1}, nil
	case PostgreSQL:
		return "EXPLAIN (ANALYZE, BUFFERS) " + query,
			ExplainShape{Columns: []string{"QUERY PLAN"}, TextColumn: 0}, nil
	case SQLite:
		return "EXPLAIN QUERY PLAN " + query,
			ExplainShape{Columns: []string{"id", "parent", "notused", "detail"}, TextColumn: 3}, nil
	default:
		return "", ExplainShape{}, fmt.Errorf("%w: %q", ErrUnsupportedDialect, d)
	}
}

// Placeholder returns the bind placeholder for the given 1-based index as
// the backend's driver expects it.
func Placeholder(d string, index int) (string, error) {
	switch d {
	case MySQL, SQLite:
		return "?", nil
	case PostgreSQL:
		return fmt.Sprintf("$%d", index), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDialect, d)
	}
}

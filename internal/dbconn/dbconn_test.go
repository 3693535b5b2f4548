package dbconn

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"sql-workbench/internal/dialect"
)

func openTestDB(t *testing.T) (*sql.DB, context.Context) {
	t.Helper()
	ctx := context.Background()
	db, err := Open(dialect.SQLite, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	stmts := []string{
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, total REAL, status TEXT)`,
		`INSERT INTO orders (id, total, status) VALUES (1, 9.5, 'open'), (2, 12.0, 'closed')`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			t.Fatalf("setup %q: %v", s, err)
		}
	}
	return db, ctx
}

func TestQueryMaterializesRows(t *testing.T) {
	db, ctx := openTestDB(t)

	res, err := Query(ctx, db, "SELECT id, status FROM orders ORDER BY id")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res.Columns) != 2 || res.Columns[0] != "id" {
		t.Fatalf("columns = %v", res.Columns)
	}
	if len(res.Rows) != 2 || res.Rows[0][1] != "open" {
		t.Fatalf("rows = %v", res.Rows)
	}
	if res.Empty() {
		t.Fatal("expected non-empty result")
	}
}

func TestQueryEmptyResult(t *testing.T) {
	db, ctx := openTestDB(t)

	res, err := Query(ctx, db, "SELECT id FROM orders WHERE id = 99")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !res.Empty() {
		t.Fatalf("expected empty result, got %v", res.Rows)
	}
}

func TestListTables(t *testing.T) {
	db, ctx := openTestDB(t)

	tables, err := ListTables(ctx, db, dialect.SQLite)
	if err != nil {
		t.Fatalf("list tables: %v", err)
	}
	found := false
	for _, name := range tables {
		if name == "orders" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected orders in %v", tables)
	}
}

func TestDescribeColumns(t *testing.T) {
	db, ctx := openTestDB(t)

	cols, err := DescribeColumns(ctx, db, dialect.SQLite, "orders")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	want := []string{"id", "total", "status"}
	if len(cols) != len(want) {
		t.Fatalf("columns = %v", cols)
	}
	for i, name := range want {
		if cols[i] != name {
			t.Fatalf("columns = %v, want %v", cols, want)
		}
	}
}

func TestExplain(t *testing.T) {
	db, ctx := openTestDB(t)

	plan, err := Explain(ctx, db, dialect.SQLite, "SELECT * FROM orders WHERE id = 1")
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	if !strings.Contains(strings.ToLower(plan), "orders") {
		t.Fatalf("plan does not mention the table: %q", plan)
	}
}

func TestOpenRejectsUnknownDialect(t *testing.T) {
	if _, err := Open("oracle", "dsn"); err == nil {
		t.Fatal("expected error for unknown dialect")
	}
}

package worker

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func openSinkDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestSinkCreatesTableAndInserts(t *testing.T) {
	db := openSinkDB(t)
	sink := NewDatasetSink()

	ds := Dataset{
		Columns: []string{"id", "name"},
		Rows:    [][]string{{"1", "ada"}, {"2", "grace"}},
	}
	require.NoError(t, sink.Store(context.Background(), db, "sqlite", "people", ds))
	require.Equal(t, 2, countRows(t, db, "people"))

	var name string
	require.NoError(t, db.QueryRow("SELECT name FROM people WHERE id = '2'").Scan(&name))
	require.Equal(t, "grace", name)
}

func TestSinkOverwritesExistingRows(t *testing.T) {
	db := openSinkDB(t)
	sink := NewDatasetSink()

	first := Dataset{Columns: []string{"id"}, Rows: [][]string{{"1"}, {"2"}, {"3"}}}
	require.NoError(t, sink.Store(context.Background(), db, "sqlite", "nums", first))

	second := Dataset{Columns: []string{"id"}, Rows: [][]string{{"9"}}}
	require.NoError(t, sink.Store(context.Background(), db, "sqlite", "nums", second))

	require.Equal(t, 1, countRows(t, db, "nums"))
	var id string
	require.NoError(t, db.QueryRow("SELECT id FROM nums").Scan(&id))
	require.Equal(t, "9", id)
}

func TestSinkChunksLargeDatasets(t *testing.T) {
	db := openSinkDB(t)
	sink := NewDatasetSink()

	rows := make([][]string, insertChunkSize+250)
	for i := range rows {
		rows[i] = []string{fmt.Sprintf("%d", i)}
	}
	ds := Dataset{Columns: []string{"n"}, Rows: rows}
	require.NoError(t, sink.Store(context.Background(), db, "sqlite", "big", ds))
	require.Equal(t, len(rows), countRows(t, db, "big"))
}

func TestSinkCleansColumnNames(t *testing.T) {
	db := openSinkDB(t)
	sink := NewDatasetSink()

	ds := Dataset{Columns: []string{" order id ", "unit price"}, Rows: [][]string{{"1", "9.99"}}}
	require.NoError(t, sink.Store(context.Background(), db, "sqlite", "orders", ds))

	var v string
	require.NoError(t, db.QueryRow("SELECT unit_price FROM orders").Scan(&v))
	require.Equal(t, "9.99", v)
}

func TestSinkRejectsRaggedRows(t *testing.T) {
	db := openSinkDB(t)
	sink := NewDatasetSink()

	ds := Dataset{Columns: []string{"a", "b"}, Rows: [][]string{{"1", "2"}, {"3"}}}
	err := sink.Store(context.Background(), db, "sqlite", "ragged", ds)
	require.Error(t, err)
	require.Contains(t, err.Error(), "row has 1 values")
}

func TestSinkRejectsUnknownDialect(t *testing.T) {
	db := openSinkDB(t)
	sink := NewDatasetSink()

	ds := Dataset{Columns: []string{"a"}, Rows: [][]string{{"1"}}}
	require.Error(t, sink.Store(context.Background(), db, "oracle", "t", ds))
}

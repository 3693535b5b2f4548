package worker

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"sql-workbench/internal/dbconn"
)

func TestParseCSV(t *testing.T) {
	ds, err := ParseCSV(strings.NewReader("a,b\n1,2\n3,4\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ds.Columns)
	require.Equal(t, [][]string{{"1", "2"}, {"3", "4"}}, ds.Rows)
	require.False(t, ds.Empty())
}

func TestParseCSVHeaderOnly(t *testing.T) {
	ds, err := ParseCSV(strings.NewReader("a,b\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ds.Columns)
	require.True(t, ds.Empty())
}

func TestParseCSVRaggedRowFails(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("a,b\n1\n"))
	require.Error(t, err)
}

func TestWriteCSVRoundTrip(t *testing.T) {
	ds := Dataset{Columns: []string{"name"}, Rows: [][]string{{"ada, countess"}, {"grace"}}}

	var buf bytes.Buffer
	require.NoError(t, ds.WriteCSV(&buf))

	back, err := ParseCSV(&buf)
	require.NoError(t, err)
	require.Equal(t, ds, back)
}

func TestLocalExporterWritesCSV(t *testing.T) {
	dir := t.TempDir()
	exp := NewLocalExporter(dir)

	res := dbconn.Result{Columns: []string{"id"}, Rows: [][]string{{"1"}}}
	loc, err := exp.Export(context.Background(), "abc-123", res)
	require.NoError(t, err)
	require.Contains(t, loc, "abc-123.csv")

	data, err := os.ReadFile(loc)
	require.NoError(t, err)
	require.Equal(t, "id\n1\n", string(data))
}

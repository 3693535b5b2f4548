package worker

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"sql-workbench/internal/models"
	"sql-workbench/internal/store"
)

type historyEntry struct {
	owner string
	query string
}

type fakeLedger struct {
	tasks   map[string]models.Task
	history []historyEntry
	lastRun map[int64]time.Time
}

func newFakeLedger(tasks ...models.Task) *fakeLedger {
	l := &fakeLedger{tasks: map[string]models.Task{}, lastRun: map[int64]time.Time{}}
	for _, t := range tasks {
		l.tasks[t.ID] = t
	}
	return l
}

func (l *fakeLedger) GetTask(_ context.Context, id string) (models.Task, error) {
	t, ok := l.tasks[id]
	if !ok {
		return models.Task{}, store.ErrNotFound
	}
	return t, nil
}

func (l *fakeLedger) Transition(ctx context.Context, id, to string, fields store.TransitionFields) (models.Task, error) {
	// The real store runs the UPDATE through the pool, which refuses an
	// expired context before touching the row.
	if err := ctx.Err(); err != nil {
		return models.Task{}, err
	}
	t, ok := l.tasks[id]
	if !ok {
		return models.Task{}, store.ErrNotFound
	}
	if !models.CanTransition(t.Status, to) {
		return models.Task{}, &models.InvalidTransitionError{TaskID: id, From: t.Status, To: to}
	}
	now := time.Now().UTC()
	switch to {
	case models.StatusRunning:
		t.StartedAt = &now
	case models.StatusCompleted:
		t.CompletedAt = &now
		t.ResultLocation = fields.ResultLocation
	case models.StatusFailed:
		t.CompletedAt = &now
		t.Error = fields.Error
	}
	t.Status = to
	l.tasks[id] = t
	return t, nil
}

func (l *fakeLedger) AppendQueryHistory(_ context.Context, owner, query string, _ time.Duration) error {
	l.history = append(l.history, historyEntry{owner: owner, query: query})
	return nil
}

func (l *fakeLedger) UpdateScheduleLastRun(_ context.Context, id int64, ran time.Time) error {
	l.lastRun[id] = ran
	return nil
}

type uploadEvent struct {
	taskID string
	table  string
	rows   int
	errMsg string
}

type fakeEvents struct {
	queryCompleted []string
	queryFailed    map[string]string
	uploadsOK      []uploadEvent
	uploadsFailed  []uploadEvent
	lastRowCount   int
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{queryFailed: map[string]string{}}
}

func (e *fakeEvents) QueryTaskCompleted(_ context.Context, task models.Task, rowCount int, _ time.Duration) error {
	e.queryCompleted = append(e.queryCompleted, task.ID)
	e.lastRowCount = rowCount
	return nil
}

func (e *fakeEvents) QueryTaskFailed(_ context.Context, task models.Task, errMsg string) error {
	e.queryFailed[task.ID] = errMsg
	return nil
}

func (e *fakeEvents) UploadCompleted(_ context.Context, task models.Task, table, _ string, rowCount int) error {
	e.uploadsOK = append(e.uploadsOK, uploadEvent{taskID: task.ID, table: table, rows: rowCount})
	return nil
}

func (e *fakeEvents) UploadFailed(_ context.Context, task models.Task, table, _ string, errMsg string) error {
	e.uploadsFailed = append(e.uploadsFailed, uploadEvent{taskID: task.ID, table: table, errMsg: errMsg})
	return nil
}

type fakeSource struct {
	ds  Dataset
	err error
}

func (s *fakeSource) Download(context.Context, string, string, string) (Dataset, error) {
	return s.ds, s.err
}

type fakeSink struct {
	stored []string
	err    error
}

func (s *fakeSink) Store(_ context.Context, _ *sql.DB, _ string, table string, _ Dataset) error {
	if s.err != nil {
		return s.err
	}
	s.stored = append(s.stored, table)
	return nil
}

func sqliteOpener(t *testing.T, setup string) DBOpener {
	t.Helper()
	return func(_, _ string) (*sql.DB, error) {
		db, err := sql.Open("sqlite3", ":memory:")
		if err != nil {
			return nil, err
		}
		if setup != "" {
			if _, err := db.Exec(setup); err != nil {
				db.Close()
				return nil, err
			}
		}
		return db, nil
	}
}

func queryTask(id, query string) models.Task {
	return models.Task{
		ID:     id,
		Owner:  "alice",
		Kind:   models.KindAdHocQuery,
		Status: models.StatusQueued,
		Payload: models.TaskPayload{
			Query:   query,
			Dialect: "sqlite",
			DSN:     ":memory:",
		},
		CreatedAt: time.Now().UTC(),
	}
}

func uploadTask(id string, spec *models.UploadSpec) models.Task {
	return models.Task{
		ID:     id,
		Owner:  "alice",
		Kind:   models.KindScheduledUpload,
		Status: models.StatusQueued,
		Payload: models.TaskPayload{
			Dialect: "sqlite",
			DSN:     ":memory:",
			Upload:  spec,
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestExecuteQuerySuccess(t *testing.T) {
	ledger := newFakeLedger(queryTask("t1", "SELECT name FROM users ORDER BY name"))
	events := newFakeEvents()
	exporter := NewLocalExporter(t.TempDir())
	opener := sqliteOpener(t, `CREATE TABLE users (name TEXT); INSERT INTO users VALUES ('ada'), ('grace')`)

	ex := NewExecutor(ledger, events, nil, nil, exporter, opener, time.Minute)
	ex.Execute(context.Background(), "t1")

	task := ledger.tasks["t1"]
	require.Equal(t, models.StatusCompleted, task.Status)
	require.NotNil(t, task.StartedAt)
	require.NotNil(t, task.CompletedAt)
	require.NotNil(t, task.ResultLocation)
	require.Contains(t, *task.ResultLocation, "t1.csv")

	require.Len(t, ledger.history, 1)
	require.Equal(t, "alice", ledger.history[0].owner)
	require.Equal(t, []string{"t1"}, events.queryCompleted)
	require.Equal(t, 2, events.lastRowCount)
	require.Empty(t, events.queryFailed)
}

func TestExecuteQueryFailure(t *testing.T) {
	ledger := newFakeLedger(queryTask("t2", "SELECT * FROM missing_table"))
	events := newFakeEvents()

	ex := NewExecutor(ledger, events, nil, nil, NewLocalExporter(t.TempDir()), sqliteOpener(t, ""), time.Minute)
	ex.Execute(context.Background(), "t2")

	task := ledger.tasks["t2"]
	require.Equal(t, models.StatusFailed, task.Status)
	require.NotNil(t, task.Error)
	require.Contains(t, *task.Error, "missing_table")
	require.Empty(t, ledger.history)
	require.Contains(t, events.queryFailed, "t2")
	require.Empty(t, events.queryCompleted)
}

func TestExecuteQueryTimeoutMarksFailed(t *testing.T) {
	slow := `WITH RECURSIVE n(x) AS (SELECT 1 UNION ALL SELECT x+1 FROM n WHERE x < 1000000000) SELECT count(*) FROM n`
	ledger := newFakeLedger(queryTask("t9", slow))
	events := newFakeEvents()

	ex := NewExecutor(ledger, events, nil, nil, NewLocalExporter(t.TempDir()), sqliteOpener(t, ""), 150*time.Millisecond)
	ex.Execute(context.Background(), "t9")

	task := ledger.tasks["t9"]
	require.Equal(t, models.StatusFailed, task.Status)
	require.NotNil(t, task.Error)
	require.Contains(t, *task.Error, "timed out")
	require.Contains(t, events.queryFailed, "t9")
	require.Empty(t, events.queryCompleted)
}

func TestExecuteQueryEmptyResultHasNoLocation(t *testing.T) {
	ledger := newFakeLedger(queryTask("t3", "SELECT name FROM users"))
	events := newFakeEvents()
	opener := sqliteOpener(t, `CREATE TABLE users (name TEXT)`)

	ex := NewExecutor(ledger, events, nil, nil, NewLocalExporter(t.TempDir()), opener, time.Minute)
	ex.Execute(context.Background(), "t3")

	task := ledger.tasks["t3"]
	require.Equal(t, models.StatusCompleted, task.Status)
	require.Nil(t, task.ResultLocation)
	require.Equal(t, 0, events.lastRowCount)
}

func TestExecuteSkipsAlreadyClaimedTask(t *testing.T) {
	task := queryTask("t4", "SELECT 1")
	task.Status = models.StatusRunning
	ledger := newFakeLedger(task)
	events := newFakeEvents()

	ex := NewExecutor(ledger, events, nil, nil, NewLocalExporter(t.TempDir()), sqliteOpener(t, ""), time.Minute)
	ex.Execute(context.Background(), "t4")

	require.Equal(t, models.StatusRunning, ledger.tasks["t4"].Status)
	require.Empty(t, events.queryCompleted)
	require.Empty(t, events.queryFailed)
}

func TestExecuteUploadSuccess(t *testing.T) {
	spec := &models.UploadSpec{ScheduleID: 7, SourceType: "url", SourcePath: "https://example.com/sales.csv", TableName: "sales"}
	ledger := newFakeLedger(uploadTask("u1", spec))
	events := newFakeEvents()
	source := &fakeSource{ds: Dataset{Columns: []string{"id"}, Rows: [][]string{{"1"}, {"2"}, {"3"}}}}
	sink := &fakeSink{}

	ex := NewExecutor(ledger, events, source, sink, NewLocalExporter(t.TempDir()), sqliteOpener(t, ""), time.Minute)
	ex.Execute(context.Background(), "u1")

	task := ledger.tasks["u1"]
	require.Equal(t, models.StatusCompleted, task.Status)
	require.Nil(t, task.ResultLocation)
	require.Equal(t, []string{"sales"}, sink.stored)
	require.Contains(t, ledger.lastRun, int64(7))

	require.Len(t, events.uploadsOK, 1)
	require.Equal(t, "sales", events.uploadsOK[0].table)
	require.Equal(t, 3, events.uploadsOK[0].rows)
	require.Empty(t, events.uploadsFailed)
}

func TestExecuteUploadDownloadFailure(t *testing.T) {
	spec := &models.UploadSpec{ScheduleID: 8, SourceType: "url", SourcePath: "https://example.com/gone.csv", TableName: "sales"}
	ledger := newFakeLedger(uploadTask("u2", spec))
	events := newFakeEvents()
	source := &fakeSource{err: fmt.Errorf("fetch url: status 404")}

	ex := NewExecutor(ledger, events, source, &fakeSink{}, NewLocalExporter(t.TempDir()), sqliteOpener(t, ""), time.Minute)
	ex.Execute(context.Background(), "u2")

	task := ledger.tasks["u2"]
	require.Equal(t, models.StatusFailed, task.Status)
	require.Contains(t, *task.Error, "download failed")
	require.NotContains(t, ledger.lastRun, int64(8))
	require.Len(t, events.uploadsFailed, 1)
	require.Empty(t, events.uploadsOK)
}

func TestExecuteUploadEmptyDataset(t *testing.T) {
	spec := &models.UploadSpec{SourceType: "url", SourcePath: "https://example.com/empty.csv", TableName: "sales"}
	ledger := newFakeLedger(uploadTask("u3", spec))
	events := newFakeEvents()
	source := &fakeSource{ds: Dataset{Columns: []string{"id"}}}

	ex := NewExecutor(ledger, events, source, &fakeSink{}, NewLocalExporter(t.TempDir()), sqliteOpener(t, ""), time.Minute)
	ex.Execute(context.Background(), "u3")

	task := ledger.tasks["u3"]
	require.Equal(t, models.StatusFailed, task.Status)
	require.Contains(t, *task.Error, "empty")
	require.Len(t, events.uploadsFailed, 1)
}

func TestFailExpiredMarksRunningTaskFailed(t *testing.T) {
	task := queryTask("t5", "SELECT 1")
	task.Status = models.StatusRunning
	ledger := newFakeLedger(task)
	events := newFakeEvents()

	ex := NewExecutor(ledger, events, nil, nil, NewLocalExporter(t.TempDir()), sqliteOpener(t, ""), time.Minute)
	ex.FailExpired(context.Background(), "t5")

	got := ledger.tasks["t5"]
	require.Equal(t, models.StatusFailed, got.Status)
	require.Contains(t, *got.Error, "lease expired")
	require.Contains(t, events.queryFailed, "t5")
}

func TestFailExpiredIgnoresTerminalTask(t *testing.T) {
	task := queryTask("t6", "SELECT 1")
	task.Status = models.StatusCompleted
	ledger := newFakeLedger(task)
	events := newFakeEvents()

	ex := NewExecutor(ledger, events, nil, nil, NewLocalExporter(t.TempDir()), sqliteOpener(t, ""), time.Minute)
	ex.FailExpired(context.Background(), "t6")

	require.Equal(t, models.StatusCompleted, ledger.tasks["t6"].Status)
	require.Empty(t, events.queryFailed)
}

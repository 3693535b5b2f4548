package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"sql-workbench/internal/dbconn"
	"sql-workbench/internal/models"
	"sql-workbench/internal/store"
	"sql-workbench/internal/telemetry"
)

// Ledger is the task persistence the executor drives.
type Ledger interface {
	GetTask(ctx context.Context, id string) (models.Task, error)
	Transition(ctx context.Context, id, to string, fields store.TransitionFields) (models.Task, error)
	AppendQueryHistory(ctx context.Context, owner, query string, took time.Duration) error
	UpdateScheduleLastRun(ctx context.Context, id int64, ran time.Time) error
}

// Events is the notification surface for terminal task states. Exactly one
// event fires per terminal transition.
type Events interface {
	QueryTaskCompleted(ctx context.Context, task models.Task, rowCount int, took time.Duration) error
	QueryTaskFailed(ctx context.Context, task models.Task, errMsg string) error
	UploadCompleted(ctx context.Context, task models.Task, table, sourceType string, rowCount int) error
	UploadFailed(ctx context.Context, task models.Task, table, sourceType, errMsg string) error
}

// Source downloads a dataset for a scheduled upload.
type Source interface {
	Download(ctx context.Context, sourceType, sourcePath, credentials string) (Dataset, error)
}

// Sink stores a dataset into a target table.
type Sink interface {
	Store(ctx context.Context, db *sql.DB, dialect, table string, ds Dataset) error
}

// DBOpener opens a live connection for one execution. The executor closes
// it on every exit path; connections are never shared between tasks.
type DBOpener func(dialect, dsn string) (*sql.DB, error)

// Executor runs one task end to end: transition to running, do the work,
// transition to a terminal state, emit exactly one event. Errors stay
// inside the task's row; nothing here panics the worker loop.
type Executor struct {
	ledger   Ledger
	events   Events
	source   Source
	sink     Sink
	exporter ResultExporter
	open     DBOpener
	timeout  time.Duration
}

func NewExecutor(ledger Ledger, events Events, source Source, sink Sink, exporter ResultExporter, open DBOpener, timeout time.Duration) *Executor {
	if open == nil {
		open = dbconn.Open
	}
	if timeout <= 0 {
		timeout = time.Hour
	}
	return &Executor{
		ledger:   ledger,
		events:   events,
		source:   source,
		sink:     sink,
		exporter: exporter,
		open:     open,
		timeout:  timeout,
	}
}

// Execute claims the task and runs it under the wall-clock time limit.
// A task another worker already claimed is skipped silently.
func (e *Executor) Execute(ctx context.Context, taskID string) {
	task, err := e.ledger.Transition(ctx, taskID, models.StatusRunning, store.TransitionFields{})
	if err != nil {
		var invalid *models.InvalidTransitionError
		if !errors.As(err, &invalid) {
			log.Printf("worker: claim task %s: %v", taskID, err)
		}
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	switch task.Kind {
	case models.KindAdHocQuery:
		e.runQuery(runCtx, task)
	case models.KindScheduledUpload:
		e.runUpload(runCtx, task)
	default:
		e.failQuery(ctx, task, fmt.Sprintf("unknown task kind %q", task.Kind))
	}
}

// bookkeepingContext detaches terminal writes from the task's deadline so
// a run that used its whole window is still recorded as failed or
// completed rather than stuck in running.
func bookkeepingContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
}

func (e *Executor) runQuery(ctx context.Context, task models.Task) {
	start := time.Now()

	db, err := e.open(task.Payload.Dialect, task.Payload.DSN)
	if err != nil {
		e.failQuery(ctx, task, err.Error())
		return
	}
	defer db.Close()

	res, err := dbconn.Query(ctx, db, task.Payload.Query)
	if err != nil {
		msg := err.Error()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("query timed out after %s", e.timeout)
		}
		e.failQuery(ctx, task, msg)
		return
	}
	took := time.Since(start)

	// The time limit bounds the query itself; everything after this point
	// runs on a fresh deadline.
	ctx, cancel := bookkeepingContext(ctx)
	defer cancel()

	// An empty result completes without a result location.
	var location *string
	if !res.Empty() {
		loc, err := e.exporter.Export(ctx, task.ID, res)
		if err != nil {
			e.failQuery(ctx, task, fmt.Sprintf("export result: %v", err))
			return
		}
		location = &loc
	}

	done, err := e.ledger.Transition(ctx, task.ID, models.StatusCompleted, store.TransitionFields{ResultLocation: location})
	if err != nil {
		log.Printf("worker: complete task %s: %v", task.ID, err)
		return
	}
	telemetry.TasksCompleted.Inc()

	if err := e.ledger.AppendQueryHistory(ctx, task.Owner, task.Payload.Query, took); err != nil {
		log.Printf("worker: record history for task %s: %v", task.ID, err)
	}
	if err := e.events.QueryTaskCompleted(ctx, done, len(res.Rows), took); err != nil {
		log.Printf("worker: notify task %s: %v", task.ID, err)
	}
}

func (e *Executor) runUpload(ctx context.Context, task models.Task) {
	up := task.Payload.Upload
	if up == nil {
		e.failUpload(ctx, task, "", "", "task payload has no upload spec")
		return
	}

	ds, err := e.source.Download(ctx, up.SourceType, up.SourcePath, up.Credentials)
	if err != nil {
		e.failUpload(ctx, task, up.TableName, up.SourceType, fmt.Sprintf("download failed: %v", err))
		return
	}
	if ds.Empty() {
		e.failUpload(ctx, task, up.TableName, up.SourceType, "source dataset is empty")
		return
	}

	db, err := e.open(task.Payload.Dialect, task.Payload.DSN)
	if err != nil {
		e.failUpload(ctx, task, up.TableName, up.SourceType, err.Error())
		return
	}
	defer db.Close()

	if err := e.sink.Store(ctx, db, task.Payload.Dialect, up.TableName, ds); err != nil {
		e.failUpload(ctx, task, up.TableName, up.SourceType, fmt.Sprintf("store dataset: %v", err))
		return
	}

	ctx, cancel := bookkeepingContext(ctx)
	defer cancel()

	if up.ScheduleID != 0 {
		if err := e.ledger.UpdateScheduleLastRun(ctx, up.ScheduleID, time.Now().UTC()); err != nil {
			log.Printf("worker: update last_run for schedule %d: %v", up.ScheduleID, err)
		}
	}

	done, err := e.ledger.Transition(ctx, task.ID, models.StatusCompleted, store.TransitionFields{})
	if err != nil {
		log.Printf("worker: complete task %s: %v", task.ID, err)
		return
	}
	telemetry.TasksCompleted.Inc()

	if err := e.events.UploadCompleted(ctx, done, up.TableName, up.SourceType, len(ds.Rows)); err != nil {
		log.Printf("worker: notify task %s: %v", task.ID, err)
	}
}

// FailExpired marks a task whose lease lapsed as failed. Called by the
// reaper; the task is never re-run.
func (e *Executor) FailExpired(ctx context.Context, taskID string) {
	msg := "worker lease expired before completion"
	task, err := e.ledger.Transition(ctx, taskID, models.StatusFailed, store.TransitionFields{Error: &msg})
	if err != nil {
		var invalid *models.InvalidTransitionError
		if !errors.As(err, &invalid) {
			log.Printf("worker: fail expired task %s: %v", taskID, err)
		}
		return
	}
	telemetry.TasksFailed.Inc()
	telemetry.LeasesReaped.Inc()
	e.notifyFailure(ctx, task, msg)
}

func (e *Executor) failQuery(ctx context.Context, task models.Task, msg string) {
	// The failure may be the deadline itself; record it on a fresh one.
	ctx, cancel := bookkeepingContext(ctx)
	defer cancel()

	done, err := e.ledger.Transition(ctx, task.ID, models.StatusFailed, store.TransitionFields{Error: &msg})
	if err != nil {
		log.Printf("worker: fail task %s: %v", task.ID, err)
		return
	}
	telemetry.TasksFailed.Inc()
	if err := e.events.QueryTaskFailed(ctx, done, msg); err != nil {
		log.Printf("worker: notify task %s: %v", task.ID, err)
	}
}

func (e *Executor) failUpload(ctx context.Context, task models.Task, table, sourceType, msg string) {
	ctx, cancel := bookkeepingContext(ctx)
	defer cancel()

	done, err := e.ledger.Transition(ctx, task.ID, models.StatusFailed, store.TransitionFields{Error: &msg})
	if err != nil {
		log.Printf("worker: fail task %s: %v", task.ID, err)
		return
	}
	telemetry.TasksFailed.Inc()
	if err := e.events.UploadFailed(ctx, done, table, sourceType, msg); err != nil {
		log.Printf("worker: notify task %s: %v", task.ID, err)
	}
}

func (e *Executor) notifyFailure(ctx context.Context, task models.Task, msg string) {
	var err error
	if task.Kind == models.KindScheduledUpload && task.Payload.Upload != nil {
		err = e.events.UploadFailed(ctx, task, task.Payload.Upload.TableName, task.Payload.Upload.SourceType, msg)
	} else {
		err = e.events.QueryTaskFailed(ctx, task, msg)
	}
	if err != nil {
		log.Printf("worker: notify task %s: %v", task.ID, err)
	}
}

package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"sql-workbench/internal/approval"
	"sql-workbench/internal/config"
	"sql-workbench/internal/dbconn"
	"sql-workbench/internal/dialect"
	"sql-workbench/internal/models"
	"sql-workbench/internal/queue"
	"sql-workbench/internal/ratelimit"
	"sql-workbench/internal/sqlgen"
	"sql-workbench/internal/store"
	"sql-workbench/internal/telemetry"
)

type principalKey struct{}

// Runner fires a schedule on demand, wherever the scheduler host lives.
type Runner interface {
	RunNow(id int64) error
}

// Server wires the HTTP surface of the workbench core.
type Server struct {
	cfg       config.Config
	store     *store.Store
	queue     *queue.RedisQueue
	limiter   *ratelimit.TokenBucket
	approvals *approval.Service
	runner    Runner
}

func New(cfg config.Config, st *store.Store, q *queue.RedisQueue, limiter *ratelimit.TokenBucket, approvals *approval.Service, runner Runner) *Server {
	return &Server{
		cfg:       cfg,
		store:     st,
		queue:     q,
		limiter:   limiter,
		approvals: approvals,
		runner:    runner,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.withPrincipal)

		r.Post("/tasks", s.handleSubmitTask)
		r.Get("/tasks", s.handleListTasks)
		r.Get("/tasks/{id}", s.handleGetTask)

		r.Post("/schedules", s.handleCreateSchedule)
		r.Get("/schedules", s.handleListSchedules)
		r.Get("/schedules/{id}", s.handleGetSchedule)
		r.Post("/schedules/{id}/approve", s.handleApproveSchedule)
		r.Post("/schedules/{id}/decline", s.handleDeclineSchedule)
		r.Post("/schedules/{id}/toggle", s.handleToggleSchedule)
		r.Post("/schedules/{id}/run-now", s.handleRunScheduleNow)
		r.Delete("/schedules/{id}", s.handleDeleteSchedule)

		r.Get("/notifications", s.handleListNotifications)
		r.Post("/notifications/{id}/read", s.handleMarkNotificationRead)
		r.Post("/notifications/read-all", s.handleMarkAllNotificationsRead)

		r.Get("/history", s.handleQueryHistory)
		r.Get("/saved-queries", s.handleListSavedQueries)
		r.Post("/saved-queries", s.handleSaveQuery)
		r.Delete("/saved-queries/{id}", s.handleDeleteSavedQuery)

		r.Post("/sql/query", s.handleRunQuery)
		r.Post("/sql/build", s.handleBuildSQL)
		r.Post("/sql/rewrite", s.handleRewriteSQL)
		r.Post("/sql/tables", s.handleListTables)
		r.Post("/sql/columns", s.handleDescribeColumns)
		r.Post("/sql/explain", s.handleExplainSQL)
	})
	return r
}

// withPrincipal resolves the caller from trusted gateway headers.
// Authentication happens upstream; an absent user header is a 401, an
// unknown role a 400.
func (s *Server) withPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get("X-User")
		if user == "" {
			http.Error(w, "missing X-User header", http.StatusUnauthorized)
			return
		}
		role := r.Header.Get("X-Role")
		if role == "" {
			role = models.RoleViewer
		}
		if role != models.RoleAdmin && role != models.RoleViewer {
			http.Error(w, "unknown role", http.StatusBadRequest)
			return
		}
		p := models.Principal{Username: user, Role: role}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

func principalFrom(r *http.Request) models.Principal {
	p, _ := r.Context().Value(principalKey{}).(models.Principal)
	return p
}

type submitTaskRequest struct {
	Query         string `json:"query"`
	Dialect       string `json:"dialect"`
	DSN           string `json:"dsn"`
	NotifyChannel string `json:"notify_channel"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}
	if _, err := dialect.Normalize(req.Dialect); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p := principalFrom(r)
	if s.limiter != nil {
		// Queries that smell expensive draw down the bucket faster.
		cost := 1
		if sqlgen.LooksExpensive(req.Query) {
			cost = 2
		}
		allowed, _, err := s.limiter.AllowN(r.Context(), p.Username, cost)
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	task, err := s.store.CreateTask(r.Context(), store.CreateTaskParams{
		Kind:  models.KindAdHocQuery,
		Owner: p.Username,
		Payload: models.TaskPayload{
			Query:   req.Query,
			Dialect: req.Dialect,
			DSN:     req.DSN,
		},
		NotifyChannel: req.NotifyChannel,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.queue.Enqueue(r.Context(), task.ID); err != nil {
		msg := "enqueue failed: " + err.Error()
		if _, terr := s.store.Transition(r.Context(), task.ID, models.StatusRunning, store.TransitionFields{}); terr == nil {
			_, _ = s.store.Transition(r.Context(), task.ID, models.StatusFailed, store.TransitionFields{Error: &msg})
		}
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}
	telemetry.TasksSubmitted.Inc()
	writeJSON(w, http.StatusAccepted, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	var (
		tasks []models.Task
		err   error
	)
	if p.IsAdmin() {
		tasks, err = s.store.ListAllTasks(r.Context())
	} else {
		tasks, err = s.store.ListTasksForOwner(r.Context(), p.Username)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	// ?active=true narrows the listing to tasks still queued or running.
	if r.URL.Query().Get("active") == "true" {
		active := tasks[:0]
		for _, t := range tasks {
			if !models.IsTerminal(t.Status) {
				active = append(active, t)
			}
		}
		tasks = active
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	task, err := s.store.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if task.Owner != p.Username && !p.IsAdmin() {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type createScheduleRequest struct {
	SourceType  string     `json:"source_type"`
	SourcePath  string     `json:"source_path"`
	TargetTable string     `json:"target_table"`
	Frequency   string     `json:"frequency"`
	NextRun     *time.Time `json:"next_run"`
	Credentials string     `json:"credentials"`
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.SourcePath == "" || req.TargetTable == "" {
		http.Error(w, "source_path and target_table are required", http.StatusBadRequest)
		return
	}
	nextRun := time.Now().UTC()
	if req.NextRun != nil {
		nextRun = req.NextRun.UTC()
	}

	d, err := s.approvals.Submit(r.Context(), principalFrom(r), approval.Request{
		SourceType:  req.SourceType,
		SourcePath:  req.SourcePath,
		TargetTable: req.TargetTable,
		Frequency:   req.Frequency,
		NextRun:     nextRun,
		Credentials: req.Credentials,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	var (
		schedules []models.ScheduleDescriptor
		err       error
	)
	if p.IsAdmin() {
		schedules, err = s.store.ListAllSchedules(r.Context())
	} else {
		schedules, err = s.store.ListSchedulesForOwner(r.Context(), p.Username)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": schedules})
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p := principalFrom(r)
	d, err := s.store.GetSchedule(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if d.Owner != p.Username && !p.IsAdmin() {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleApproveSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	d, err := s.approvals.Approve(r.Context(), principalFrom(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type declineRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleDeclineSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req declineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.approvals.Decline(r.Context(), principalFrom(r), id, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "declined"})
}

type toggleRequest struct {
	Active bool `json:"active"`
}

func (s *Server) handleToggleSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.approvals.SetActive(r.Context(), principalFrom(r), id, req.Active); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"active": req.Active})
}

func (s *Server) handleRunScheduleNow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p := principalFrom(r)
	d, err := s.store.GetSchedule(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if d.Owner != p.Username && !p.IsAdmin() {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if !d.Runnable() {
		http.Error(w, "schedule is not approved and active", http.StatusConflict)
		return
	}
	if err := s.runner.RunNow(id); err != nil {
		http.Error(w, "failed to trigger run", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.approvals.Delete(r.Context(), principalFrom(r), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListNotificationsFor(r.Context(), principalFrom(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": items})
}

func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.MarkNotificationRead(r.Context(), id, principalFrom(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

func (s *Server) handleMarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	if err := s.store.MarkAllNotificationsRead(r.Context(), principalFrom(r)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

func (s *Server) handleQueryHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	entries, err := s.store.ListQueryHistory(r.Context(), principalFrom(r).Username, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (s *Server) handleListSavedQueries(w http.ResponseWriter, r *http.Request) {
	queries, err := s.store.ListSavedQueries(r.Context(), principalFrom(r).Username)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"saved_queries": queries})
}

type saveQueryRequest struct {
	Name        string `json:"name"`
	Query       string `json:"query"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

func (s *Server) handleSaveQuery(w http.ResponseWriter, r *http.Request) {
	var req saveQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.Query == "" {
		http.Error(w, "name and query are required", http.StatusBadRequest)
		return
	}
	saved, err := s.store.SaveQuery(r.Context(), models.SavedQuery{
		Owner:       principalFrom(r).Username,
		Name:        req.Name,
		Query:       req.Query,
		Description: req.Description,
		Category:    req.Category,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleDeleteSavedQuery(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteSavedQuery(r.Context(), id, principalFrom(r).Username); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleRunQuery executes a query synchronously on the caller's request,
// unlike POST /tasks which detaches. Identifier quoting is patched first;
// rewrite warnings ride along in the response.
func (s *Server) handleRunQuery(w http.ResponseWriter, r *http.Request) {
	var req connRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	stmt, warnings, err := sqlgen.Rewrite(req.Query, req.Dialect)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if warnings == nil {
		warnings = []string{}
	}

	p := principalFrom(r)
	s.withConn(w, r, req, func(ctx context.Context, db *sql.DB) error {
		start := time.Now()
		res, err := dbconn.Query(ctx, db, stmt)
		if err != nil {
			return err
		}
		took := time.Since(start)
		if err := s.store.AppendQueryHistory(ctx, p.Username, stmt, took); err != nil {
			log.Printf("api: record history for %s: %v", p.Username, err)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"columns":  res.Columns,
			"rows":     res.Rows,
			"warnings": warnings,
			"took_ms":  took.Milliseconds(),
		})
		return nil
	})
}

type buildSQLRequest struct {
	Dialect     string                  `json:"dialect"`
	Description sqlgen.QueryDescription `json:"description"`
}

func (s *Server) handleBuildSQL(w http.ResponseWriter, r *http.Request) {
	var req buildSQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	stmt, err := sqlgen.Build(req.Description, req.Dialect)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sql": stmt})
}

type rewriteSQLRequest struct {
	Dialect string `json:"dialect"`
	SQL     string `json:"sql"`
}

func (s *Server) handleRewriteSQL(w http.ResponseWriter, r *http.Request) {
	var req rewriteSQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	rewritten, warnings, err := sqlgen.Rewrite(req.SQL, req.Dialect)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sql": rewritten, "warnings": warnings})
}

type connRequest struct {
	Dialect string `json:"dialect"`
	DSN     string `json:"dsn"`
	Table   string `json:"table"`
	Query   string `json:"query"`
}

// withConn opens a short-lived connection for a metadata request and
// hands it to fn. Metadata reads run synchronously, unlike query tasks.
func (s *Server) withConn(w http.ResponseWriter, r *http.Request, req connRequest, fn func(ctx context.Context, db *sql.DB) error) {
	db, err := dbconn.Open(req.Dialect, req.DSN)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer db.Close()
	if err := fn(r.Context(), db); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	var req connRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	s.withConn(w, r, req, func(ctx context.Context, db *sql.DB) error {
		tables, err := dbconn.ListTables(ctx, db, req.Dialect)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
		return nil
	})
}

func (s *Server) handleDescribeColumns(w http.ResponseWriter, r *http.Request) {
	var req connRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Table == "" {
		http.Error(w, "table is required", http.StatusBadRequest)
		return
	}
	s.withConn(w, r, req, func(ctx context.Context, db *sql.DB) error {
		cols, err := dbconn.DescribeColumns(ctx, db, req.Dialect, req.Table)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, map[string]any{"columns": cols})
		return nil
	})
}

func (s *Server) handleExplainSQL(w http.ResponseWriter, r *http.Request) {
	var req connRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}
	s.withConn(w, r, req, func(ctx context.Context, db *sql.DB) error {
		plan, err := dbconn.Explain(ctx, db, req.Dialect, req.Query)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"plan":   plan,
			"advice": sqlgen.Advise(plan, req.Query),
		})
		return nil
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, approval.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, store.ErrDuplicateRequest):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

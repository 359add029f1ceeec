/*
handlers.go - HTTP API handlers for the attendance engine

PURPOSE:
  Exposes ingestion, reconciliation, penalties and admin data via REST.
  Handles HTTP request/response and JSON serialization, and delegates to
  the domain packages.

ENDPOINTS:
  Device:
    POST   /api/webhooks/device              Device events (webhook.go)

  Attendance (attendance.go):
    GET    /api/attendance/logs              Raw logs (?employee_id, ?date, ?limit)
    POST   /api/attendance/logs              Manual entry
    DELETE /api/attendance/logs/{id}         Delete a log, recompute its day
    GET    /api/attendance/summaries         Daily summaries (?date or ?from&to)
    GET    /api/attendance/lateness          Lateness records
    GET    /api/attendance/lateness/{id}     One lateness record, superseded or not
    POST   /api/attendance/recompute         Recompute one or all employees

  Master data (this file):
    /api/employees, /api/schedules           CRUD

  Penalties (penalties.go):
    /api/rules, /api/exemptions              CRUD (exemptions: PUT edits range and reason)
    /api/penalties                           List, manual create, edit, delete
    POST   /api/admin/batch/run              Run the daily batch
    GET    /api/admin/batch/runs             Batch history
    GET    /api/admin/batch/schedule         Last and next scheduled run

  Settings (settings.go), reports (reports.go), scenarios (scenarios.go)

ARCHITECTURE:
  Handler struct holds all dependencies (Services) plus the factory used to
  parse admin JSON. Domain errors are mapped to status codes in one place
  (writeDomainError).

ERROR HANDLING:
  Errors are returned as JSON {error, details}:
  - 400: Validation errors, invalid input
  - 404: Resource or employee not found
  - 409: Conflicts (duplicate external id, penalty exists)
  - 429: Webhook rate limit
  - 503: Webhook disabled
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. The webhook can be guarded by a
  shared secret header; admin endpoints are expected behind a private
  network or proxy.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/worktrack/engine/attendance"
	"github.com/worktrack/engine/batch"
	"github.com/worktrack/engine/factory"
	"github.com/worktrack/engine/generic"
	"github.com/worktrack/engine/notify"
	"github.com/worktrack/engine/penalty"
	"github.com/worktrack/engine/settings"
	"github.com/worktrack/engine/store/sqlite"
)

// =============================================================================
// SERVICES
// =============================================================================

// Services are the domain components shared by the HTTP handlers, the
// scheduler and the CLI.
type Services struct {
	Store      *sqlite.Store
	Reconciler *attendance.Reconciler
	Ingestor   *attendance.Ingestor
	Engine     *penalty.Engine
	Runner     *batch.Runner
	Settings   *settings.Service

	// Sender delivers the Telegram test message. Optional.
	Sender notify.Sender
}

// NewServices wires the domain components around one store. Notifier and
// Sender are left for the caller.
func NewServices(store *sqlite.Store, loc *time.Location, logger *zap.Logger) Services {
	if logger == nil {
		logger = zap.NewNop()
	}
	reconciler := attendance.NewReconciler(store, loc, logger.Named("reconcile"))
	engine := penalty.NewEngine(store, logger.Named("penalty"))
	svc := Services{
		Store:      store,
		Reconciler: reconciler,
		Ingestor:   attendance.NewIngestor(store, reconciler, logger.Named("ingest")),
		Engine:     engine,
		Runner:     batch.NewRunner(store, reconciler, engine, logger.Named("batch")),
		Settings:   settings.NewService(store, settings.Defaults(), logger.Named("settings")),
	}
	svc.Runner.Currency = func() string { return svc.Settings.Current().Document.Platform.Currency }
	return svc
}

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Services
	Factory *factory.Factory

	// Scheduler is nil when the daily batch is not scheduled.
	Scheduler *Scheduler

	logger *zap.Logger
	loc    *time.Location
	now    func() time.Time

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over svc.
func NewHandler(svc Services, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Services: svc,
		Factory:  factory.New(),
		logger:   logger,
		loc:      svc.Reconciler.Location(),
		now:      time.Now,
	}
}

func (h *Handler) today() generic.Date {
	return generic.DateOf(h.now().In(h.loc))
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns employees.
// GET /api/employees?active=true
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	employees, err := h.Store.ListEmployees(r.Context(), activeOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(h.Factory, e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployee returns a single employee.
// GET /api/employees/{id}
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.loadEmployee(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(h.Factory, *emp))
}

// CreateEmployee creates an employee from EmployeeJSON.
// POST /api/employees
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req factory.EmployeeJSON
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ID = ""

	emp, err := h.Factory.EmployeeFromJSON(req)
	if err != nil {
		writeDomainError(w, "Invalid employee", err)
		return
	}
	if err := h.Store.SaveEmployee(r.Context(), *emp); err != nil {
		writeDomainError(w, "Failed to create employee", err)
		return
	}
	h.logger.Info("employee created", zap.String("employee_id", emp.ID), zap.String("external_id", emp.ExternalID))
	writeJSON(w, http.StatusCreated, toEmployeeDTO(h.Factory, *emp))
}

// UpdateEmployee replaces an employee.
// PUT /api/employees/{id}
func (h *Handler) UpdateEmployee(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.loadEmployee(w, r)
	if !ok {
		return
	}
	var req factory.EmployeeJSON
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ID = existing.ID

	emp, err := h.Factory.EmployeeFromJSON(req)
	if err != nil {
		writeDomainError(w, "Invalid employee", err)
		return
	}
	emp.CreatedAt = existing.CreatedAt
	if err := h.Store.SaveEmployee(r.Context(), *emp); err != nil {
		writeDomainError(w, "Failed to update employee", err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(h.Factory, *emp))
}

// DeleteEmployee removes an employee and everything recorded for them.
// DELETE /api/employees/{id}
func (h *Handler) DeleteEmployee(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Store.DeleteEmployee(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to delete employee", err)
		return
	}
	h.logger.Info("employee deleted", zap.String("employee_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) loadEmployee(w http.ResponseWriter, r *http.Request) (*attendance.Employee, bool) {
	emp, err := h.Store.GetEmployee(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get employee", err)
		return nil, false
	}
	if emp == nil {
		writeError(w, http.StatusNotFound, "Employee not found", nil)
		return nil, false
	}
	return emp, true
}

// =============================================================================
// SCHEDULE HANDLERS
// =============================================================================

// ListSchedules returns all work schedules.
// GET /api/schedules
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.Store.ListSchedules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list schedules", err)
		return
	}
	dtos := make([]ScheduleDTO, len(schedules))
	for i, s := range schedules {
		dtos[i] = toScheduleDTO(h.Factory, s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSchedule returns a single schedule.
// GET /api/schedules/{id}
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	sched, ok := h.loadSchedule(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toScheduleDTO(h.Factory, *sched))
}

// CreateSchedule creates a schedule from ScheduleJSON.
// POST /api/schedules
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req factory.ScheduleJSON
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ID = ""

	sched, err := h.Factory.ScheduleFromJSON(req)
	if err != nil {
		writeDomainError(w, "Invalid schedule", err)
		return
	}
	if err := h.Store.SaveSchedule(r.Context(), *sched); err != nil {
		writeDomainError(w, "Failed to create schedule", err)
		return
	}
	writeJSON(w, http.StatusCreated, toScheduleDTO(h.Factory, *sched))
}

// UpdateSchedule replaces a schedule. Past summaries are not recomputed.
// PUT /api/schedules/{id}
func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.loadSchedule(w, r)
	if !ok {
		return
	}
	var req factory.ScheduleJSON
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ID = existing.ID

	sched, err := h.Factory.ScheduleFromJSON(req)
	if err != nil {
		writeDomainError(w, "Invalid schedule", err)
		return
	}
	sched.CreatedAt = existing.CreatedAt
	if err := h.Store.SaveSchedule(r.Context(), *sched); err != nil {
		writeDomainError(w, "Failed to update schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleDTO(h.Factory, *sched))
}

// DeleteSchedule removes a schedule; its employees fall back to their own
// hours.
// DELETE /api/schedules/{id}
func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteSchedule(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, "Failed to delete schedule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) loadSchedule(w http.ResponseWriter, r *http.Request) (*attendance.WorkSchedule, bool) {
	sched, err := h.Store.GetSchedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get schedule", err)
		return nil, false
	}
	if sched == nil {
		writeError(w, http.StatusNotFound, "Schedule not found", nil)
		return nil, false
	}
	return sched, true
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError picks the status from the error category.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case generic.IsClientError(err):
		return http.StatusBadRequest
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case generic.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON decodes the request body into v and answers 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// queryDate parses an optional YYYY-MM-DD query parameter.
func queryDate(r *http.Request, key string) (generic.Date, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return generic.Date{}, nil
	}
	d, err := generic.ParseDate(raw)
	if err != nil {
		return generic.Date{}, &generic.ValidationError{Kind: generic.ErrInvalidInput, Field: key, Message: err.Error()}
	}
	return d, nil
}

// queryRange reads ?date= or ?from=&to=. With neither, the range is today.
func (h *Handler) queryRange(r *http.Request) (generic.DateRange, error) {
	day, err := queryDate(r, "date")
	if err != nil {
		return generic.DateRange{}, err
	}
	if !day.IsZero() {
		return generic.DateRange{From: day, To: day}, nil
	}

	from, err := queryDate(r, "from")
	if err != nil {
		return generic.DateRange{}, err
	}
	to, err := queryDate(r, "to")
	if err != nil {
		return generic.DateRange{}, err
	}
	switch {
	case from.IsZero() && to.IsZero():
		today := h.today()
		return generic.DateRange{From: today, To: today}, nil
	case from.IsZero():
		from = to
	case to.IsZero():
		to = h.today()
	}
	rng := generic.DateRange{From: from, To: to}
	return rng, rng.Validate()
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &generic.ValidationError{Kind: generic.ErrInvalidInput, Field: key, Message: fmt.Sprintf("%q is not a non-negative integer", raw)}
	}
	return n, nil
}

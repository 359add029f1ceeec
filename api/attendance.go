package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/worktrack/engine/attendance"
	"github.com/worktrack/engine/store/sqlite"
)

// =============================================================================
// LOG HANDLERS
// =============================================================================

// ListLogs returns raw logs, newest first.
// GET /api/attendance/logs?employee_id=&date=&limit=
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 200)
	if err != nil {
		writeDomainError(w, "Invalid limit", err)
		return
	}
	day, err := queryDate(r, "date")
	if err != nil {
		writeDomainError(w, "Invalid date", err)
		return
	}

	filter := sqlite.LogFilter{EmployeeID: r.URL.Query().Get("employee_id"), Limit: limit}
	if !day.IsZero() {
		filter.From, filter.To = day.Bounds(h.loc)
	}
	logs, err := h.Store.ListLogs(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list logs", err)
		return
	}

	dtos := make([]LogDTO, len(logs))
	for i, l := range logs {
		dtos[i] = toLogDTO(l, h.loc)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateLog records a manual check-in or check-out and recomputes the day.
// POST /api/attendance/logs
func (h *Handler) CreateLog(w http.ResponseWriter, r *http.Request) {
	var req CreateLogRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	eventType, err := attendance.ParseEventType(req.EventType)
	if err != nil {
		writeDomainError(w, "Invalid event_type", err)
		return
	}

	ev := attendance.Event{
		Identifier: req.EmployeeID,
		EventType:  eventType,
		Timestamp:  strings.TrimSpace(req.Timestamp),
		SourceID:   strings.TrimSpace(req.SourceID),
		Source:     attendance.SourceManual,
	}
	res, err := h.Ingestor.Ingest(r.Context(), ev)
	if err != nil {
		writeDomainError(w, "Failed to record attendance", err)
		return
	}

	resp := CreateLogResponse{Log: toLogDTO(res.Log, h.loc), Created: res.Created}
	if res.Summary != nil {
		sum := toSummaryDTO(*res.Summary, h.loc)
		resp.Summary = &sum
	}
	status := http.StatusCreated
	if !res.Created {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

// DeleteLog removes a wrong log and returns the recomputed day.
// DELETE /api/attendance/logs/{id}
func (h *Handler) DeleteLog(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Reconciler.DeleteLog(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to delete log", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(*summary, h.loc))
}

// =============================================================================
// SUMMARY HANDLERS
// =============================================================================

// ListSummaries returns daily summaries.
// GET /api/attendance/summaries?date=|from=&to=&employee_id=&status=
func (h *Handler) ListSummaries(w http.ResponseWriter, r *http.Request) {
	rng, err := h.queryRange(r)
	if err != nil {
		writeDomainError(w, "Invalid date range", err)
		return
	}
	q := r.URL.Query()
	summaries, err := h.Store.ListSummaries(r.Context(), sqlite.SummaryFilter{
		EmployeeID: q.Get("employee_id"),
		From:       rng.From,
		To:         rng.To,
		Status:     attendance.Status(q.Get("status")),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list summaries", err)
		return
	}

	dtos := make([]SummaryDTO, len(summaries))
	for i, s := range summaries {
		dtos[i] = toSummaryDTO(s, h.loc)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListLateness returns lateness records.
// GET /api/attendance/lateness?date=|from=&to=&employee_id=&include_superseded=true
func (h *Handler) ListLateness(w http.ResponseWriter, r *http.Request) {
	rng, err := h.queryRange(r)
	if err != nil {
		writeDomainError(w, "Invalid date range", err)
		return
	}
	q := r.URL.Query()
	records, err := h.Store.ListLateness(r.Context(), sqlite.LatenessFilter{
		EmployeeID:        q.Get("employee_id"),
		From:              rng.From,
		To:                rng.To,
		IncludeSuperseded: q.Get("include_superseded") == "true",
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list lateness", err)
		return
	}

	dtos := make([]LatenessDTO, len(records))
	for i, rec := range records {
		dtos[i] = toLatenessDTO(rec, h.loc)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetLateness returns one lateness record, superseded or not.
// GET /api/attendance/lateness/{id}
func (h *Handler) GetLateness(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Store.GetLateness(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get lateness record", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "Lateness record not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toLatenessDTO(*rec, h.loc))
}

// Recompute rebuilds the summary of one employee, or of every active
// employee, for a day (default today).
// POST /api/attendance/recompute
func (h *Handler) Recompute(w http.ResponseWriter, r *http.Request) {
	var req RecomputeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Date.IsZero() {
		req.Date = h.today()
	}
	ctx := r.Context()

	if req.EmployeeID != "" {
		summary, err := h.Reconciler.RecomputeEmployee(ctx, req.EmployeeID, req.Date)
		if err != nil {
			writeDomainError(w, "Failed to recompute", err)
			return
		}
		writeJSON(w, http.StatusOK, []SummaryDTO{toSummaryDTO(*summary, h.loc)})
		return
	}

	employees, err := h.Store.ListActiveEmployees(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list employees", err)
		return
	}
	dtos := make([]SummaryDTO, 0, len(employees))
	for _, emp := range employees {
		summary, err := h.Reconciler.Recompute(ctx, emp, req.Date)
		if err != nil {
			h.logger.Warn("recompute failed",
				zap.String("employee_id", emp.ID),
				zap.Stringer("date", req.Date),
				zap.Error(err),
			)
			continue
		}
		dtos = append(dtos, toSummaryDTO(*summary, h.loc))
	}
	writeJSON(w, http.StatusOK, dtos)
}

package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/worktrack/engine/batch"
	"github.com/worktrack/engine/factory"
	"github.com/worktrack/engine/generic"
	"github.com/worktrack/engine/penalty"
	"github.com/worktrack/engine/store/sqlite"
)

// =============================================================================
// RULE HANDLERS
// =============================================================================

// ListRules returns rules in the order the engine considers them.
// GET /api/rules
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Store.ListRules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rules", err)
		return
	}
	dtos := make([]RuleDTO, len(rules))
	for i, rule := range rules {
		dtos[i] = toRuleDTO(h.Factory, rule)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRule returns a single rule.
// GET /api/rules/{id}
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.loadRule(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toRuleDTO(h.Factory, *rule))
}

// CreateRule creates a rule from RuleJSON.
// POST /api/rules
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req factory.RuleJSON
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ID = ""

	rule, err := h.Factory.RuleFromJSON(req)
	if err != nil {
		writeDomainError(w, "Invalid rule", err)
		return
	}
	if err := h.Store.SaveRule(r.Context(), *rule); err != nil {
		writeDomainError(w, "Failed to create rule", err)
		return
	}
	h.logger.Info("penalty rule created", zap.String("rule_id", rule.ID), zap.Stringer("rule", rule))
	writeJSON(w, http.StatusCreated, toRuleDTO(h.Factory, *rule))
}

// UpdateRule replaces a rule. Existing penalties keep their amounts.
// PUT /api/rules/{id}
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.loadRule(w, r)
	if !ok {
		return
	}
	var req factory.RuleJSON
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ID = existing.ID

	rule, err := h.Factory.RuleFromJSON(req)
	if err != nil {
		writeDomainError(w, "Invalid rule", err)
		return
	}
	rule.CreatedAt = existing.CreatedAt
	if err := h.Store.SaveRule(r.Context(), *rule); err != nil {
		writeDomainError(w, "Failed to update rule", err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleDTO(h.Factory, *rule))
}

// DeleteRule removes a rule; penalties created by it keep their amounts.
// DELETE /api/rules/{id}
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteRule(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, "Failed to delete rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) loadRule(w http.ResponseWriter, r *http.Request) (*penalty.Rule, bool) {
	rule, err := h.Store.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get rule", err)
		return nil, false
	}
	if rule == nil {
		writeError(w, http.StatusNotFound, "Rule not found", nil)
		return nil, false
	}
	return rule, true
}

// =============================================================================
// EXEMPTION HANDLERS
// =============================================================================

// ListExemptions returns exemptions, newest first.
// GET /api/exemptions?employee_id=
func (h *Handler) ListExemptions(w http.ResponseWriter, r *http.Request) {
	exemptions, err := h.Store.ListExemptions(r.Context(), r.URL.Query().Get("employee_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list exemptions", err)
		return
	}
	dtos := make([]ExemptionDTO, len(exemptions))
	for i, e := range exemptions {
		dtos[i] = toExemptionDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateExemption suppresses automatic penalties for a date range.
// POST /api/exemptions
func (h *Handler) CreateExemption(w http.ResponseWriter, r *http.Request) {
	var req struct {
		factory.ExemptionJSON
		CreatedBy string `json:"created_by"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ID = ""

	ex, err := h.Factory.ExemptionFromJSON(req.ExemptionJSON)
	if err != nil {
		writeDomainError(w, "Invalid exemption", err)
		return
	}
	ex.CreatedBy = strings.TrimSpace(req.CreatedBy)
	if err := h.Store.SaveExemption(r.Context(), *ex); err != nil {
		writeDomainError(w, "Failed to create exemption", err)
		return
	}
	writeJSON(w, http.StatusCreated, toExemptionDTO(*ex))
}

// UpdateExemption changes an exemption's range or reason. The employee
// cannot change. Days already charged stay charged.
// PUT /api/exemptions/{id}
func (h *Handler) UpdateExemption(w http.ResponseWriter, r *http.Request) {
	existing, err := h.Store.GetExemption(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get exemption", err)
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "Exemption not found", nil)
		return
	}
	var req factory.ExemptionJSON
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ID = existing.ID
	req.EmployeeID = existing.EmployeeID

	ex, err := h.Factory.ExemptionFromJSON(req)
	if err != nil {
		writeDomainError(w, "Invalid exemption", err)
		return
	}
	ex.CreatedBy = existing.CreatedBy
	ex.CreatedAt = existing.CreatedAt
	if err := h.Store.SaveExemption(r.Context(), *ex); err != nil {
		writeDomainError(w, "Failed to update exemption", err)
		return
	}
	writeJSON(w, http.StatusOK, toExemptionDTO(*ex))
}

// DeleteExemption removes an exemption. Days already charged stay charged.
// DELETE /api/exemptions/{id}
func (h *Handler) DeleteExemption(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteExemption(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, "Failed to delete exemption", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PENALTY HANDLERS
// =============================================================================

// ListPenalties returns penalties, newest date first.
// GET /api/penalties?employee_id=&from=&to=&manual=true|false
func (h *Handler) ListPenalties(w http.ResponseWriter, r *http.Request) {
	from, err := queryDate(r, "from")
	if err != nil {
		writeDomainError(w, "Invalid date", err)
		return
	}
	to, err := queryDate(r, "to")
	if err != nil {
		writeDomainError(w, "Invalid date", err)
		return
	}
	q := r.URL.Query()
	filter := sqlite.PenaltyFilter{EmployeeID: q.Get("employee_id"), From: from, To: to}
	switch q.Get("manual") {
	case "true":
		filter.Manual = boolPtr(true)
	case "false":
		filter.Manual = boolPtr(false)
	}

	penalties, err := h.Store.ListPenalties(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list penalties", err)
		return
	}
	dtos := make([]PenaltyDTO, len(penalties))
	for i, p := range penalties {
		dtos[i] = toPenaltyDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePenalty records a manual penalty. Manual penalties bypass the daily
// cap and are never linked to a lateness record.
// POST /api/penalties
func (h *Handler) CreatePenalty(w http.ResponseWriter, r *http.Request) {
	var req PenaltyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PenaltyDate.IsZero() {
		req.PenaltyDate = h.today()
	}

	p, err := h.Engine.CreateManual(r.Context(), penalty.ManualInput{
		EmployeeID:  req.EmployeeID,
		Amount:      req.Amount,
		Percent:     req.Percent,
		Reason:      strings.TrimSpace(req.Reason),
		PenaltyDate: req.PenaltyDate,
		CreatedBy:   strings.TrimSpace(req.CreatedBy),
	})
	if err != nil {
		writeDomainError(w, "Failed to create penalty", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPenaltyDTO(*p))
}

// UpdatePenalty edits amount, percent, reason and date of a penalty.
// PUT /api/penalties/{id}
func (h *Handler) UpdatePenalty(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	existing, err := h.Store.GetPenalty(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get penalty", err)
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "Penalty not found", nil)
		return
	}

	var req PenaltyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Amount.IsNegative() || (req.Amount.IsZero() && req.Percent == nil) {
		writeDomainError(w, "Invalid penalty", &generic.ValidationError{
			Kind: generic.ErrInvalidInput, Field: "amount", Message: "must be positive unless a percent is given",
		})
		return
	}

	updated := *existing
	updated.Amount = req.Amount
	updated.Percent = req.Percent
	updated.Reason = strings.TrimSpace(req.Reason)
	if !req.PenaltyDate.IsZero() {
		updated.PenaltyDate = req.PenaltyDate
	}
	if err := h.Store.UpdatePenalty(ctx, updated); err != nil {
		writeDomainError(w, "Failed to update penalty", err)
		return
	}
	writeJSON(w, http.StatusOK, toPenaltyDTO(updated))
}

// DeletePenalty removes a penalty. Its lateness record is left untouched, so
// the next batch run may charge it again.
// DELETE /api/penalties/{id}
func (h *Handler) DeletePenalty(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Store.DeletePenalty(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to delete penalty", err)
		return
	}
	h.logger.Info("penalty deleted", zap.String("penalty_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// BATCH HANDLERS
// =============================================================================

// RunBatch runs the daily batch for one day or a window.
// POST /api/admin/batch/run
func (h *Handler) RunBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRunRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Date.IsZero() {
		req.Date = h.today()
	}
	if req.Days < 0 {
		writeDomainError(w, "Invalid days", &generic.ValidationError{
			Kind: generic.ErrInvalidInput, Field: "days", Message: "must not be negative",
		})
		return
	}
	opts := batch.Options{DryRun: req.DryRun, Trigger: "manual"}

	if req.Days <= 1 {
		run, err := h.Runner.RunDay(r.Context(), req.Date, opts)
		if err != nil {
			writeDomainError(w, "Batch failed", err)
			return
		}
		writeJSON(w, http.StatusOK, []batch.Run{*run})
		return
	}

	runs, err := h.Runner.RunWindow(r.Context(), req.Date, req.Days, opts)
	if err != nil {
		writeDomainError(w, "Batch failed", err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// ListBatchRuns returns recent batch runs.
// GET /api/admin/batch/runs?limit=
func (h *Handler) ListBatchRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeDomainError(w, "Invalid limit", err)
		return
	}
	runs, err := h.Store.ListBatchRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list batch runs", err)
		return
	}
	if runs == nil {
		runs = []batch.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetBatchSchedule reports the scheduler's last and next run.
// GET /api/admin/batch/schedule
func (h *Handler) GetBatchSchedule(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeJSON(w, http.StatusOK, BatchScheduleDTO{})
		return
	}
	resp := BatchScheduleDTO{Enabled: true, LastRun: h.Scheduler.LastRun()}
	if next := h.Scheduler.NextRun(); !next.IsZero() {
		next = next.In(h.loc)
		resp.NextRun = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

func boolPtr(b bool) *bool { return &b }

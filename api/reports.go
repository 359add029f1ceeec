/*
reports.go - Attendance, lateness and penalty reports

PURPOSE:
  Period reports for managers, as JSON for the UI and as an xlsx workbook
  for spreadsheets. Rows carry the employee's external id and name so an
  export can be read without joining anything.

PERIODS (?period=):
  day    today
  week   last 7 days including today
  month  last 30 days including today
  year   January 1st to today (also any unknown value)

ROUTES:
  GET /api/reports/{kind}          JSON
  GET /api/reports/{kind}/export   xlsx download, one sheet with a bold header
  kind: attendance | lateness | penalties

SEE ALSO:
  - generic/period.go: ReportPeriod
*/
package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/worktrack/engine/attendance"
	"github.com/worktrack/engine/generic"
	"github.com/worktrack/engine/store/sqlite"
)

// AttendanceReportRow is one employee-day.
type AttendanceReportRow struct {
	Date            generic.Date `json:"date"`
	EmployeeID      string       `json:"employee_id"`
	Name            string       `json:"name"`
	Status          string       `json:"status"`
	CheckIn         string       `json:"check_in"`
	CheckOut        string       `json:"check_out"`
	WorkingMinutes  int          `json:"working_minutes"`
	MinutesLate     int          `json:"minutes_late"`
	MissingCheckOut bool         `json:"missing_checkout"`
}

// LatenessReportRow is one current lateness record.
type LatenessReportRow struct {
	Date          generic.Date `json:"date"`
	EmployeeID    string       `json:"employee_id"`
	Name          string       `json:"name"`
	MinutesLate   int          `json:"minutes_late"`
	CheckIn       string       `json:"check_in"`
	ExpectedStart string       `json:"expected_start"`
}

// PenaltyReportRow is one penalty.
type PenaltyReportRow struct {
	Date       generic.Date     `json:"date"`
	EmployeeID string           `json:"employee_id"`
	Name       string           `json:"name"`
	Amount     decimal.Decimal  `json:"amount"`
	Percent    *decimal.Decimal `json:"percent,omitempty"`
	Rule       string           `json:"rule"`
	Reason     string           `json:"reason"`
	Manual     bool             `json:"manual"`
}

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	// amountColumn is the 1-based Amount column of the penalty sheet.
	amountColumn = 4
)

// report is a built report in both shapes. records hold spreadsheet cell
// values, numbers stay numbers.
type report struct {
	rows    any
	header  []string
	records [][]any
	total   *decimal.Decimal
}

// GetReport returns a report as JSON.
// GET /api/reports/{kind}?period=
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	period, rng := h.reportWindow(r)
	rep, err := h.buildReport(r.Context(), chi.URLParam(r, "kind"), rng)
	if err != nil {
		writeDomainError(w, "Failed to build report", err)
		return
	}

	resp := ReportResponse{Period: string(period), From: rng.From, To: rng.To, Rows: rep.rows}
	if rep.total != nil {
		total := rep.total.String()
		resp.Total = &total
	}
	writeJSON(w, http.StatusOK, resp)
}

// ExportReport returns a report as an xlsx download.
// GET /api/reports/{kind}/export?period=
func (h *Handler) ExportReport(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	_, rng := h.reportWindow(r)
	rep, err := h.buildReport(r.Context(), kind, rng)
	if err != nil {
		writeDomainError(w, "Failed to build report", err)
		return
	}

	buf, err := rep.workbook(kind)
	if err != nil {
		h.logger.Error("failed to write report workbook", zap.String("kind", kind), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to export report", err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_%s_%s.xlsx"`, kind, rng.From, rng.To))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Warn("report download interrupted", zap.String("kind", kind), zap.Error(err))
	}
}

// workbook renders the report as a single sheet named after kind. The
// header row is bold and the penalty total, when present, follows the rows.
func (rep *report) workbook(kind string) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := kind
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, err
	}

	header := make([]any, len(rep.header))
	for i, title := range rep.header {
		header[i] = title
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, err
	}
	last, err := excelize.CoordinatesToCellName(len(rep.header), 1)
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(sheet, "A1", last, bold); err != nil {
		return nil, err
	}

	for i, record := range rep.records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &record); err != nil {
			return nil, err
		}
	}

	if rep.total != nil {
		row := len(rep.records) + 3
		label, _ := excelize.CoordinatesToCellName(1, row)
		value, _ := excelize.CoordinatesToCellName(amountColumn, row)
		if err := f.SetCellValue(sheet, label, "Total"); err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, value, rep.total.InexactFloat64()); err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(sheet, label, value, bold); err != nil {
			return nil, err
		}
	}

	if err := f.SetColWidth(sheet, "A", "C", 16); err != nil {
		return nil, err
	}
	return f.WriteToBuffer()
}

func (h *Handler) reportWindow(r *http.Request) (generic.ReportPeriod, generic.DateRange) {
	period := generic.ParseReportPeriod(r.URL.Query().Get("period"))
	return period, period.RangeFor(h.today())
}

func (h *Handler) buildReport(ctx context.Context, kind string, rng generic.DateRange) (*report, error) {
	employees, err := h.Store.ListEmployees(ctx, false)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]attendance.Employee, len(employees))
	for _, e := range employees {
		byID[e.ID] = e
	}

	switch kind {
	case "attendance":
		return h.attendanceReport(ctx, rng, byID)
	case "lateness":
		return h.latenessReport(ctx, rng, byID)
	case "penalties":
		return h.penaltyReport(ctx, rng, byID)
	default:
		return nil, fmt.Errorf("unknown report %q: %w", kind, generic.ErrNotFound)
	}
}

// =============================================================================
// REPORT BUILDERS
// =============================================================================

func (h *Handler) attendanceReport(ctx context.Context, rng generic.DateRange, byID map[string]attendance.Employee) (*report, error) {
	summaries, err := h.Store.ListSummaries(ctx, sqlite.SummaryFilter{From: rng.From, To: rng.To})
	if err != nil {
		return nil, err
	}

	rows := make([]AttendanceReportRow, len(summaries))
	for i, s := range summaries {
		emp := byID[s.EmployeeID]
		rows[i] = AttendanceReportRow{
			Date:            s.Date,
			EmployeeID:      emp.ExternalID,
			Name:            emp.FullName(),
			Status:          string(s.Status),
			CheckIn:         h.clock(s.CheckIn),
			CheckOut:        h.clock(s.CheckOut),
			WorkingMinutes:  s.WorkingMinutes,
			MinutesLate:     s.MinutesLate,
			MissingCheckOut: s.MissingCheckOut,
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rowLess(rows[i].Date, rows[i].EmployeeID, rows[j].Date, rows[j].EmployeeID)
	})

	rep := &report{
		rows:   rows,
		header: []string{"Date", "Employee ID", "Name", "Status", "Check In", "Check Out", "Working (min)", "Minutes Late", "Missing Check Out"},
	}
	for _, row := range rows {
		rep.records = append(rep.records, []any{
			row.Date.String(), row.EmployeeID, row.Name, row.Status, row.CheckIn, row.CheckOut,
			row.WorkingMinutes, row.MinutesLate, yesNo(row.MissingCheckOut),
		})
	}
	return rep, nil
}

func (h *Handler) latenessReport(ctx context.Context, rng generic.DateRange, byID map[string]attendance.Employee) (*report, error) {
	records, err := h.Store.ListLateness(ctx, sqlite.LatenessFilter{From: rng.From, To: rng.To})
	if err != nil {
		return nil, err
	}

	rows := make([]LatenessReportRow, len(records))
	for i, rec := range records {
		emp := byID[rec.EmployeeID]
		rows[i] = LatenessReportRow{
			Date:          rec.Date,
			EmployeeID:    emp.ExternalID,
			Name:          emp.FullName(),
			MinutesLate:   rec.MinutesLate,
			CheckIn:       rec.CheckIn.In(h.loc).Format("2006-01-02 15:04"),
			ExpectedStart: rec.ExpectedStart.String(),
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rowLess(rows[i].Date, rows[i].EmployeeID, rows[j].Date, rows[j].EmployeeID)
	})

	rep := &report{
		rows:   rows,
		header: []string{"Date", "Employee ID", "Name", "Minutes Late", "Check In Time", "Expected Start"},
	}
	for _, row := range rows {
		rep.records = append(rep.records, []any{
			row.Date.String(), row.EmployeeID, row.Name, row.MinutesLate, row.CheckIn, row.ExpectedStart,
		})
	}
	return rep, nil
}

func (h *Handler) penaltyReport(ctx context.Context, rng generic.DateRange, byID map[string]attendance.Employee) (*report, error) {
	penalties, err := h.Store.ListPenalties(ctx, sqlite.PenaltyFilter{From: rng.From, To: rng.To})
	if err != nil {
		return nil, err
	}
	rules, err := h.Store.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	ruleNames := make(map[string]string, len(rules))
	for _, rule := range rules {
		ruleNames[rule.ID] = rule.Name
	}

	total := decimal.Zero
	rows := make([]PenaltyReportRow, len(penalties))
	for i, p := range penalties {
		emp := byID[p.EmployeeID]
		rows[i] = PenaltyReportRow{
			Date:       p.PenaltyDate,
			EmployeeID: emp.ExternalID,
			Name:       emp.FullName(),
			Amount:     p.Amount,
			Percent:    p.Percent,
			Rule:       ruleNames[p.RuleID],
			Reason:     p.Reason,
			Manual:     p.Manual,
		}
		total = total.Add(p.Amount)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rowLess(rows[i].Date, rows[i].EmployeeID, rows[j].Date, rows[j].EmployeeID)
	})

	rep := &report{
		rows:   rows,
		header: []string{"Date", "Employee ID", "Name", "Amount", "Percent", "Rule", "Reason", "Manual"},
		total:  &total,
	}
	for _, row := range rows {
		var percent any = ""
		if row.Percent != nil {
			percent = row.Percent.InexactFloat64()
		}
		rep.records = append(rep.records, []any{
			row.Date.String(), row.EmployeeID, row.Name, row.Amount.InexactFloat64(), percent, row.Rule, row.Reason, yesNo(row.Manual),
		})
	}
	return rep, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) clock(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.In(h.loc).Format("15:04")
}

func rowLess(d1 generic.Date, id1 string, d2 generic.Date, id2 string) bool {
	if !d1.Equal(d2) {
		return d1.Before(d2)
	}
	return id1 < id2
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model from the external API contract. Admin-defined records
  (employees, schedules, rules, exemptions) reuse the factory JSON shapes
  so a record reads back the way it was posted.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TIME VALUES:
  Instants are RFC 3339 in the configured location. Calendar days are
  YYYY-MM-DD. Money is a decimal string.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/factory.go: EmployeeJSON, ScheduleJSON, RuleJSON, ExemptionJSON
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/worktrack/engine/attendance"
	"github.com/worktrack/engine/batch"
	"github.com/worktrack/engine/factory"
	"github.com/worktrack/engine/generic"
	"github.com/worktrack/engine/penalty"
	"github.com/worktrack/engine/settings"
)

// =============================================================================
// MASTER DATA
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	factory.EmployeeJSON
	FullName  string `json:"full_name"`
	CreatedAt string `json:"created_at,omitempty"`
}

type ScheduleDTO struct {
	factory.ScheduleJSON
	CreatedAt string `json:"created_at,omitempty"`
}

type RuleDTO struct {
	factory.RuleJSON
	CreatedAt string `json:"created_at,omitempty"`
}

// ExemptionDTO represents an exemption in API responses.
type ExemptionDTO struct {
	ID         string       `json:"id"`
	EmployeeID string       `json:"employee_id"`
	From       generic.Date `json:"date_from"`
	To         generic.Date `json:"date_to"`
	Reason     string       `json:"reason_type"`
	ReasonText string       `json:"reason_text,omitempty"`
	CreatedBy  string       `json:"created_by,omitempty"`
	CreatedAt  string       `json:"created_at"`
}

// =============================================================================
// ATTENDANCE
// =============================================================================

// LogDTO represents a raw attendance event.
type LogDTO struct {
	ID         string `json:"id"`
	EmployeeID string `json:"employee_id"`
	EventType  string `json:"event_type"`
	Timestamp  string `json:"timestamp"`
	SourceID   string `json:"source_id,omitempty"`
	Source     string `json:"source"`
	CreatedAt  string `json:"created_at"`
}

// CreateLogRequest is a manual check-in/check-out entry.
type CreateLogRequest struct {
	EmployeeID string `json:"employee_id"` // external id or device person id
	EventType  string `json:"event_type"`
	Timestamp  string `json:"timestamp,omitempty"` // default now
	SourceID   string `json:"source_id,omitempty"`
}

// CreateLogResponse reports the stored log and the recomputed day.
type CreateLogResponse struct {
	Log     LogDTO      `json:"log"`
	Created bool        `json:"created"`
	Summary *SummaryDTO `json:"summary,omitempty"`
}

// SummaryDTO represents one employee-day.
type SummaryDTO struct {
	EmployeeID      string       `json:"employee_id"`
	Date            generic.Date `json:"date"`
	Status          string       `json:"status"`
	CheckIn         string       `json:"check_in,omitempty"`
	CheckOut        string       `json:"check_out,omitempty"`
	WorkingMinutes  int          `json:"working_minutes"`
	MinutesLate     int          `json:"minutes_late"`
	MissingCheckOut bool         `json:"missing_checkout"`
}

// LatenessDTO represents a lateness record.
type LatenessDTO struct {
	ID            string       `json:"id"`
	EmployeeID    string       `json:"employee_id"`
	Date          generic.Date `json:"date"`
	MinutesLate   int          `json:"minutes_late"`
	CheckIn       string       `json:"check_in"`
	ExpectedStart string       `json:"expected_start"`
	Superseded    bool         `json:"superseded"`
}

// RecomputeRequest recomputes one employee, or everyone when EmployeeID is
// empty, for one day.
type RecomputeRequest struct {
	EmployeeID string       `json:"employee_id,omitempty"`
	Date       generic.Date `json:"date"`
}

// =============================================================================
// PENALTIES
// =============================================================================

// PenaltyDTO represents a penalty in API responses.
type PenaltyDTO struct {
	ID          string           `json:"id"`
	EmployeeID  string           `json:"employee_id"`
	Amount      decimal.Decimal  `json:"amount"`
	Percent     *decimal.Decimal `json:"percent,omitempty"`
	RuleID      string           `json:"rule_id,omitempty"`
	LatenessID  string           `json:"lateness_id,omitempty"`
	Reason      string           `json:"reason"`
	Manual      bool             `json:"manual"`
	PenaltyDate generic.Date     `json:"penalty_date"`
	CreatedBy   string           `json:"created_by,omitempty"`
	CreatedAt   string           `json:"created_at"`
}

// PenaltyRequest creates or edits a manual penalty. Update ignores
// EmployeeID.
type PenaltyRequest struct {
	EmployeeID  string           `json:"employee_id"`
	Amount      decimal.Decimal  `json:"amount"`
	Percent     *decimal.Decimal `json:"percent,omitempty"`
	Reason      string           `json:"reason"`
	PenaltyDate generic.Date     `json:"penalty_date"`
	CreatedBy   string           `json:"created_by,omitempty"`
}

// BatchRunRequest triggers the batch for one day (Days <= 1) or for the
// window of Days ending at Date. Date defaults to today.
type BatchRunRequest struct {
	Date   generic.Date `json:"date"`
	Days   int          `json:"days"`
	DryRun bool         `json:"dry_run"`
}

// BatchScheduleDTO describes the cron trigger. LastRun is null until the
// scheduler has fired once since the server started.
type BatchScheduleDTO struct {
	Enabled bool       `json:"enabled"`
	LastRun *batch.Run `json:"last_run"`
	NextRun *time.Time `json:"next_run,omitempty"`
}

// =============================================================================
// WEBHOOK
// =============================================================================

// WebhookItemResult is the outcome of one normalized device event.
type WebhookItemResult struct {
	EmployeeID string `json:"employee_id"`
	EventID    string `json:"event_id,omitempty"`
	LogID      string `json:"log_id,omitempty"`
	Created    bool   `json:"created"`
	Status     string `json:"status,omitempty"` // day status after recompute
	Error      string `json:"error,omitempty"`
}

// WebhookResponse is the device webhook reply.
type WebhookResponse struct {
	OK        bool                `json:"ok"`
	Reason    string              `json:"reason,omitempty"`
	Processed int                 `json:"processed"`
	Results   []WebhookItemResult `json:"results"`
}

// =============================================================================
// SETTINGS, REPORTS, SCENARIOS
// =============================================================================

// SettingsDTO is the settings document with secrets masked. The *Set flags
// say whether a secret is stored.
type SettingsDTO struct {
	Version          int               `json:"version"`
	Settings         settings.Document `json:"settings"`
	BotTokenSet      bool              `json:"bot_token_set"`
	APIPasswordSet   bool              `json:"api_password_set"`
	WebhookSecretSet bool              `json:"webhook_secret_set"`
	UpdatedBy        string            `json:"updated_by,omitempty"`
	UpdatedAt        string            `json:"updated_at,omitempty"`
}

// UpdateSettingsRequest replaces the settings document. Empty secrets keep
// the stored values.
type UpdateSettingsRequest struct {
	Settings  settings.Document `json:"settings"`
	UpdatedBy string            `json:"updated_by"`
}

// ReportResponse wraps a report with its window.
type ReportResponse struct {
	Period string       `json:"period"`
	From   generic.Date `json:"from"`
	To     generic.Date `json:"to"`
	Rows   any          `json:"rows"`
	Total  *string      `json:"total,omitempty"` // penalties only
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func formatInstant(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	return t.In(loc).Format(time.RFC3339)
}

func formatOptional(t *time.Time, loc *time.Location) string {
	if t == nil {
		return ""
	}
	return formatInstant(*t, loc)
}

func toEmployeeDTO(f *factory.Factory, e attendance.Employee) EmployeeDTO {
	return EmployeeDTO{
		EmployeeJSON: f.EmployeeToJSON(e),
		FullName:     e.FullName(),
		CreatedAt:    formatInstant(e.CreatedAt, time.UTC),
	}
}

func toScheduleDTO(f *factory.Factory, s attendance.WorkSchedule) ScheduleDTO {
	return ScheduleDTO{ScheduleJSON: f.ScheduleToJSON(s), CreatedAt: formatInstant(s.CreatedAt, time.UTC)}
}

func toRuleDTO(f *factory.Factory, r penalty.Rule) RuleDTO {
	return RuleDTO{RuleJSON: f.RuleToJSON(r), CreatedAt: formatInstant(r.CreatedAt, time.UTC)}
}

func toExemptionDTO(e penalty.Exemption) ExemptionDTO {
	return ExemptionDTO{
		ID:         e.ID,
		EmployeeID: e.EmployeeID,
		From:       e.From,
		To:         e.To,
		Reason:     string(e.Reason),
		ReasonText: e.ReasonText,
		CreatedBy:  e.CreatedBy,
		CreatedAt:  formatInstant(e.CreatedAt, time.UTC),
	}
}

func toLogDTO(l attendance.Log, loc *time.Location) LogDTO {
	return LogDTO{
		ID:         l.ID,
		EmployeeID: l.EmployeeID,
		EventType:  string(l.EventType),
		Timestamp:  formatInstant(l.Timestamp, loc),
		SourceID:   l.SourceID,
		Source:     string(l.Source),
		CreatedAt:  formatInstant(l.CreatedAt, time.UTC),
	}
}

func toSummaryDTO(s attendance.DailySummary, loc *time.Location) SummaryDTO {
	return SummaryDTO{
		EmployeeID:      s.EmployeeID,
		Date:            s.Date,
		Status:          string(s.Status),
		CheckIn:         formatOptional(s.CheckIn, loc),
		CheckOut:        formatOptional(s.CheckOut, loc),
		WorkingMinutes:  s.WorkingMinutes,
		MinutesLate:     s.MinutesLate,
		MissingCheckOut: s.MissingCheckOut,
	}
}

func toLatenessDTO(l attendance.LatenessRecord, loc *time.Location) LatenessDTO {
	return LatenessDTO{
		ID:            l.ID,
		EmployeeID:    l.EmployeeID,
		Date:          l.Date,
		MinutesLate:   l.MinutesLate,
		CheckIn:       formatInstant(l.CheckIn, loc),
		ExpectedStart: l.ExpectedStart.String(),
		Superseded:    l.Superseded(),
	}
}

func toPenaltyDTO(p penalty.Penalty) PenaltyDTO {
	return PenaltyDTO{
		ID:          p.ID,
		EmployeeID:  p.EmployeeID,
		Amount:      p.Amount,
		Percent:     p.Percent,
		RuleID:      p.RuleID,
		LatenessID:  p.LatenessID,
		Reason:      p.Reason,
		Manual:      p.Manual,
		PenaltyDate: p.PenaltyDate,
		CreatedBy:   p.CreatedBy,
		CreatedAt:   formatInstant(p.CreatedAt, time.UTC),
	}
}

func toSettingsDTO(v settings.Version) SettingsDTO {
	doc := v.Document
	dto := SettingsDTO{
		Version:          v.Number,
		BotTokenSet:      doc.Telegram.BotToken != "",
		APIPasswordSet:   doc.Integration.APIPassword != "",
		WebhookSecretSet: doc.Integration.WebhookSecret != "",
		UpdatedBy:        v.UpdatedBy,
		UpdatedAt:        formatInstant(v.CreatedAt, time.UTC),
	}
	doc.Telegram.BotToken = ""
	doc.Integration.APIPassword = ""
	doc.Integration.WebhookSecret = ""
	dto.Settings = doc
	return dto
}

/*
handlers_test.go - HTTP tests for the API handlers

Tests run the full router against an in-memory store with a fixed clock
(Monday 2025-03-10, 21:00 at UTC+5).
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/worktrack/engine/batch"
	"github.com/worktrack/engine/notify"
	"github.com/worktrack/engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var tashkent = time.FixedZone("UZT", 5*3600)

type fakeSender struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (s *fakeSender) Send(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return s.err
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Enqueue(text string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
	return true
}

type testServer struct {
	t        *testing.T
	handler  *Handler
	router   http.Handler
	store    *sqlite.Store
	sender   *fakeSender
	notifier *recordingNotifier
}

func newTestServer(t *testing.T) *testServer {
	return newTestServerWithLimit(t, 1000)
}

func newTestServerWithLimit(t *testing.T, limit int) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := NewServices(store, tashkent, zap.NewNop())
	sender := &fakeSender{}
	notifier := &recordingNotifier{}
	svc.Sender = sender
	svc.Runner.Notifier = notifier

	h := NewHandler(svc, zap.NewNop())
	h.now = func() time.Time { return time.Date(2025, time.March, 10, 21, 0, 0, 0, tashkent) }

	return &testServer{
		t:        t,
		handler:  h,
		router:   NewRouter(h, RouterOptions{WebhookRateLimit: limit}),
		store:    store,
		sender:   sender,
		notifier: notifier,
	}
}

func (ts *testServer) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	ts.t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(ts.t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// createEmployee posts an employee working 09:00-18:00 every day with no
// grace period and returns its internal id.
func (ts *testServer) createEmployee(externalID string) string {
	ts.t.Helper()
	rec := ts.do(http.MethodPost, "/api/employees", map[string]any{
		"employee_id":       externalID,
		"first_name":        "Test",
		"last_name":         externalID,
		"telegram_username": "@" + strings.ToLower(externalID),
		"grace_minutes":     0,
	})
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[EmployeeDTO](ts.t, rec).ID
}

func (ts *testServer) createRule(body string) {
	ts.t.Helper()
	rec := ts.do(http.MethodPost, "/api/rules", body)
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (ts *testServer) checkIn(externalID, timestamp string) WebhookResponse {
	ts.t.Helper()
	rec := ts.do(http.MethodPost, "/api/webhooks/device", map[string]any{
		"employee_id": externalID,
		"event_type":  "check_in",
		"timestamp":   timestamp,
		"event_id":    externalID + "-" + timestamp,
	})
	require.Equal(ts.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[WebhookResponse](ts.t, rec)
}

// =============================================================================
// EMPLOYEES AND SCHEDULES
// =============================================================================

func TestEmployees_CRUD(t *testing.T) {
	ts := newTestServer(t)

	// GIVEN: A created employee
	id := ts.createEmployee("E001")

	// WHEN: Reading it back
	rec := ts.do(http.MethodGet, "/api/employees/"+id, nil)

	// THEN: Defaults are filled in
	require.Equal(t, http.StatusOK, rec.Code)
	emp := decode[EmployeeDTO](t, rec)
	assert.Equal(t, "E001", emp.ExternalID)
	assert.Equal(t, "09:00", emp.WorkStart)
	assert.Equal(t, "Test E001", emp.FullName)
	require.NotNil(t, emp.Active)
	assert.True(t, *emp.Active)

	// WHEN: Updating
	rec = ts.do(http.MethodPut, "/api/employees/"+id, map[string]any{
		"employee_id": "E001", "first_name": "Aziz", "work_start": "08:30", "work_end": "17:30", "grace_minutes": 10,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[EmployeeDTO](t, rec)
	assert.Equal(t, id, updated.ID)
	assert.Equal(t, "08:30", updated.WorkStart)
	require.NotNil(t, updated.GraceMinutes)
	assert.Equal(t, 10, *updated.GraceMinutes)

	// AND: Listing
	rec = ts.do(http.MethodGet, "/api/employees", nil)
	assert.Len(t, decode[[]EmployeeDTO](t, rec), 1)

	// AND: Deleting twice
	assert.Equal(t, http.StatusNoContent, ts.do(http.MethodDelete, "/api/employees/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodDelete, "/api/employees/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/employees/"+id, nil).Code)
}

func TestEmployees_DefaultGracePeriod(t *testing.T) {
	ts := newTestServer(t)

	// GIVEN: An employee posted without grace_minutes
	rec := ts.do(http.MethodPost, "/api/employees", map[string]any{"employee_id": "E001", "first_name": "Aziz"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	emp := decode[EmployeeDTO](t, rec)
	require.NotNil(t, emp.GraceMinutes)
	assert.Equal(t, 5, *emp.GraceMinutes)

	// WHEN: Checking in three minutes after work start
	resp := ts.checkIn("E001", "2025-03-10T09:03:00")

	// THEN: The day is present and no lateness is recorded
	assert.Equal(t, "present", resp.Results[0].Status)
	rec = ts.do(http.MethodGet, "/api/attendance/lateness?date=2025-03-10", nil)
	assert.Empty(t, decode[[]LatenessDTO](t, rec))
}

func TestEmployees_ErrorStatuses(t *testing.T) {
	ts := newTestServer(t)
	ts.createEmployee("E001")
	rec := ts.do(http.MethodPost, "/api/employees", map[string]any{"employee_id": "E009", "first_name": "Badge", "device_person_id": "55"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	tests := []struct {
		name string
		body any
		want int
	}{
		{"duplicate external id", map[string]any{"employee_id": "E001", "first_name": "Other"}, http.StatusConflict},
		{"duplicate device person id", map[string]any{"employee_id": "E003", "first_name": "Other", "device_person_id": "55"}, http.StatusConflict},
		{"missing external id", map[string]any{"first_name": "Nobody"}, http.StatusBadRequest},
		{"unknown schedule", map[string]any{"employee_id": "E002", "first_name": "X", "schedule_id": "nope"}, http.StatusBadRequest},
		{"broken body", `{"employee_id":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodPost, "/api/employees", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
		})
	}

	rec = ts.do(http.MethodPost, "/api/employees", map[string]any{"employee_id": "E004", "first_name": "Other", "device_person_id": "55"})
	assert.Contains(t, decode[ErrorResponse](t, rec).Details, "device person id")
}

func TestSchedules_CreateAndAssign(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/schedules", `{
		"name": "Office", "work_start": "09:00", "work_end": "18:00",
		"grace_minutes": 5, "working_days": [1, 2, 3, 4, 5]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sched := decode[ScheduleDTO](t, rec)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, sched.WorkingDays)

	rec = ts.do(http.MethodPost, "/api/employees", map[string]any{
		"employee_id": "E001", "first_name": "Aziz", "schedule_id": sched.ID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// 09:04 is inside the 5 minute grace of the schedule
	resp := ts.checkIn("E001", "2025-03-10T09:04:00")
	assert.Equal(t, "present", resp.Results[0].Status)

	rec = ts.do(http.MethodPost, "/api/schedules", `{"name": "Bad", "work_start": "18:00", "work_end": "09:00", "working_days": [1]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// ATTENDANCE
// =============================================================================

func TestAttendance_ManualLogThenDelete(t *testing.T) {
	ts := newTestServer(t)
	ts.createEmployee("E001")

	// GIVEN: A manual check-in 30 minutes late
	rec := ts.do(http.MethodPost, "/api/attendance/logs", CreateLogRequest{
		EmployeeID: "E001", EventType: "Check In", Timestamp: "2025-03-10T09:30:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[CreateLogResponse](t, rec)
	require.NotNil(t, created.Summary)
	assert.Equal(t, "late", created.Summary.Status)
	assert.Equal(t, 30, created.Summary.MinutesLate)
	assert.Equal(t, "manual", created.Log.Source)
	assert.Equal(t, "2025-03-10T09:30:00+05:00", created.Log.Timestamp)

	// WHEN: The log is deleted
	rec = ts.do(http.MethodDelete, "/api/attendance/logs/"+created.Log.ID, nil)

	// THEN: The day is recomputed as absent and the lateness is superseded
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "absent", decode[SummaryDTO](t, rec).Status)

	rec = ts.do(http.MethodGet, "/api/attendance/lateness?date=2025-03-10", nil)
	assert.Empty(t, decode[[]LatenessDTO](t, rec))
	rec = ts.do(http.MethodGet, "/api/attendance/lateness?date=2025-03-10&include_superseded=true", nil)
	records := decode[[]LatenessDTO](t, rec)
	require.Len(t, records, 1)
	assert.True(t, records[0].Superseded)

	// The superseded record stays readable by id
	rec = ts.do(http.MethodGet, "/api/attendance/lateness/"+records[0].ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	one := decode[LatenessDTO](t, rec)
	assert.True(t, one.Superseded)
	assert.Equal(t, 30, one.MinutesLate)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/attendance/lateness/missing", nil).Code)

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodDelete, "/api/attendance/logs/"+created.Log.ID, nil).Code)
}

func TestAttendance_ManualLogErrors(t *testing.T) {
	ts := newTestServer(t)
	ts.createEmployee("E001")

	tests := []struct {
		name string
		req  CreateLogRequest
		want int
	}{
		{"unknown employee", CreateLogRequest{EmployeeID: "E999", EventType: "check_in"}, http.StatusNotFound},
		{"bad event type", CreateLogRequest{EmployeeID: "E001", EventType: "lunch"}, http.StatusBadRequest},
		{"bad timestamp", CreateLogRequest{EmployeeID: "E001", EventType: "check_in", Timestamp: "yesterday"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodPost, "/api/attendance/logs", tt.req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestAttendance_SummariesAndRecompute(t *testing.T) {
	ts := newTestServer(t)
	ts.createEmployee("E001")
	absentID := ts.createEmployee("E002")
	ts.checkIn("E001", "2025-03-10T08:50:00")

	// WHEN: Recomputing everyone for the day
	rec := ts.do(http.MethodPost, "/api/attendance/recompute", map[string]any{"date": "2025-03-10"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[[]SummaryDTO](t, rec), 2)

	// THEN: Summaries default to today and filter by status
	rec = ts.do(http.MethodGet, "/api/attendance/summaries", nil)
	assert.Len(t, decode[[]SummaryDTO](t, rec), 2)

	rec = ts.do(http.MethodGet, "/api/attendance/summaries?date=2025-03-10&status=absent", nil)
	absent := decode[[]SummaryDTO](t, rec)
	require.Len(t, absent, 1)
	assert.Equal(t, absentID, absent[0].EmployeeID)

	// AND: Recomputing an unknown employee is a 404
	rec = ts.do(http.MethodPost, "/api/attendance/recompute", map[string]any{"employee_id": "nope", "date": "2025-03-10"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// AND: Inverted ranges are rejected
	rec = ts.do(http.MethodGet, "/api/attendance/summaries?from=2025-03-10&to=2025-03-01", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAttendance_ListLogs(t *testing.T) {
	ts := newTestServer(t)
	ts.createEmployee("E001")
	ts.checkIn("E001", "2025-03-09T09:00:00")
	ts.checkIn("E001", "2025-03-10T09:00:00")

	rec := ts.do(http.MethodGet, "/api/attendance/logs?date=2025-03-10", nil)
	logs := decode[[]LogDTO](t, rec)
	require.Len(t, logs, 1)
	assert.Equal(t, "device", logs[0].Source)

	rec = ts.do(http.MethodGet, "/api/attendance/logs?limit=1", nil)
	logs = decode[[]LogDTO](t, rec)
	require.Len(t, logs, 1)
	assert.Equal(t, "2025-03-10T09:00:00+05:00", logs[0].Timestamp, "newest first")

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/attendance/logs?limit=-1", nil).Code)
}

// =============================================================================
// RULES, PENALTIES AND BATCH
// =============================================================================

func TestBatchRun_ChargesOnceAndNotifies(t *testing.T) {
	ts := newTestServer(t)
	ts.createRule(`{"name": "Per minute", "type": "per_minute", "amount_per_unit": "1000"}`)
	ts.createEmployee("E001")
	ts.checkIn("E001", "2025-03-10T09:20:00")

	// WHEN: The batch runs for the day
	rec := ts.do(http.MethodPost, "/api/admin/batch/run", BatchRunRequest{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	runs := decode[[]batch.Run](t, rec)

	// THEN: One penalty of 20 minutes x 1000
	require.Len(t, runs, 1)
	assert.Equal(t, "2025-03-10", runs[0].Day.String(), "defaults to today")
	assert.Equal(t, 1, runs[0].PenaltiesCreated)
	assert.Equal(t, "manual", runs[0].Trigger)

	rec = ts.do(http.MethodGet, "/api/penalties", nil)
	penalties := decode[[]PenaltyDTO](t, rec)
	require.Len(t, penalties, 1)
	assert.Equal(t, "20000", penalties[0].Amount.String())
	assert.Equal(t, "Late 20 min on 2025-03-10", penalties[0].Reason)
	assert.False(t, penalties[0].Manual)
	assert.Len(t, ts.notifier.messages, 1)

	// AND: A second run charges nothing
	rec = ts.do(http.MethodPost, "/api/admin/batch/run", BatchRunRequest{})
	assert.Equal(t, 0, decode[[]batch.Run](t, rec)[0].PenaltiesCreated)

	rec = ts.do(http.MethodGet, "/api/admin/batch/runs", nil)
	assert.Len(t, decode[[]batch.Run](t, rec), 2)
}

func TestBatchRun_WindowAndDryRun(t *testing.T) {
	ts := newTestServer(t)
	ts.createRule(`{"name": "Flat", "type": "fixed", "amount_per_unit": "5000"}`)
	ts.createEmployee("E001")
	ts.checkIn("E001", "2025-03-08T09:30:00")

	rec := ts.do(http.MethodPost, "/api/admin/batch/run", BatchRunRequest{Days: 3, DryRun: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	runs := decode[[]batch.Run](t, rec)
	require.Len(t, runs, 3)
	assert.Equal(t, "2025-03-08", runs[0].Day.String())
	assert.Equal(t, 1, runs[0].Lateness)
	assert.Equal(t, 0, runs[0].PenaltiesCreated)

	rec = ts.do(http.MethodGet, "/api/penalties", nil)
	assert.Empty(t, decode[[]PenaltyDTO](t, rec))

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/api/admin/batch/run", BatchRunRequest{Days: -1}).Code)
}

func TestRules_CRUD(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/rules", `{"name": "Tiers", "type": "percent_of_salary", "threshold_minutes": 15, "percent_low": "0.5", "percent_high": "1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rule := decode[RuleDTO](t, rec)

	rec = ts.do(http.MethodPut, "/api/rules/"+rule.ID, `{"name": "Tiers", "type": "percent_of_salary", "threshold_minutes": 20, "percent_low": "0.5", "percent_high": "2", "active": false}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, *decode[RuleDTO](t, rec).Active)

	rec = ts.do(http.MethodGet, "/api/rules/"+rule.ID, nil)
	assert.Equal(t, 20, decode[RuleDTO](t, rec).ThresholdMinutes)

	rec = ts.do(http.MethodPost, "/api/rules", `{"name": "Bad", "type": "hourly"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusNoContent, ts.do(http.MethodDelete, "/api/rules/"+rule.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/rules/"+rule.ID, nil).Code)
}

func TestPenalties_ManualLifecycle(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createEmployee("E001")

	// GIVEN: A manual penalty without a date
	rec := ts.do(http.MethodPost, "/api/penalties", map[string]any{
		"employee_id": id, "amount": "15000", "reason": "Left early", "created_by": "admin",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decode[PenaltyDTO](t, rec)
	assert.True(t, p.Manual)
	assert.Equal(t, "2025-03-10", p.PenaltyDate.String())

	// WHEN: Editing it
	rec = ts.do(http.MethodPut, "/api/penalties/"+p.ID, map[string]any{"amount": "10000", "reason": "Reduced"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "10000", decode[PenaltyDTO](t, rec).Amount.String())

	// THEN: The filter sees it as manual
	rec = ts.do(http.MethodGet, "/api/penalties?manual=true&employee_id="+id, nil)
	assert.Len(t, decode[[]PenaltyDTO](t, rec), 1)
	rec = ts.do(http.MethodGet, "/api/penalties?manual=false", nil)
	assert.Empty(t, decode[[]PenaltyDTO](t, rec))

	// AND: Invalid edits and unknown ids are rejected
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPut, "/api/penalties/"+p.ID, map[string]any{"amount": "0"}).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodPut, "/api/penalties/nope", map[string]any{"amount": "1"}).Code)

	assert.Equal(t, http.StatusNoContent, ts.do(http.MethodDelete, "/api/penalties/"+p.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodDelete, "/api/penalties/"+p.ID, nil).Code)
}

func TestPenalties_ManualForUnknownEmployee(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/penalties", map[string]any{"employee_id": "ghost", "amount": "1000"})

	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
}

func TestExemptions_SuppressPenalty(t *testing.T) {
	ts := newTestServer(t)
	ts.createRule(`{"name": "Flat", "type": "fixed", "amount_per_unit": "5000"}`)
	id := ts.createEmployee("E001")
	ts.checkIn("E001", "2025-03-10T10:00:00")

	rec := ts.do(http.MethodPost, "/api/exemptions", map[string]any{
		"employee_id": id, "date_from": "2025-03-10", "date_to": "2025-03-10", "reason_type": "business_trip",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ex := decode[ExemptionDTO](t, rec)

	rec = ts.do(http.MethodPost, "/api/admin/batch/run", BatchRunRequest{})
	assert.Equal(t, 0, decode[[]batch.Run](t, rec)[0].PenaltiesCreated)

	rec = ts.do(http.MethodGet, "/api/exemptions?employee_id="+id, nil)
	assert.Len(t, decode[[]ExemptionDTO](t, rec), 1)

	// Errors
	rec = ts.do(http.MethodPost, "/api/exemptions", map[string]any{
		"employee_id": id, "date_from": "2025-03-12", "date_to": "2025-03-10", "reason_type": "other",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(http.MethodPost, "/api/exemptions", map[string]any{
		"employee_id": "ghost", "date_from": "2025-03-10", "date_to": "2025-03-10", "reason_type": "other",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, http.StatusNoContent, ts.do(http.MethodDelete, "/api/exemptions/"+ex.ID, nil).Code)
}

func TestExemptions_EditMovesSuppression(t *testing.T) {
	ts := newTestServer(t)
	ts.createRule(`{"name": "Flat", "type": "fixed", "amount_per_unit": "5000"}`)
	first := ts.createEmployee("E001")
	second := ts.createEmployee("E002")
	ts.checkIn("E001", "2025-03-10T10:00:00")
	ts.checkIn("E002", "2025-03-10T10:00:00")

	// GIVEN: E001 exempt the day before, E002 exempt on the late day
	create := func(employeeID, day string) ExemptionDTO {
		rec := ts.do(http.MethodPost, "/api/exemptions", map[string]any{
			"employee_id": employeeID, "date_from": day, "date_to": day, "reason_type": "sick_leave",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		return decode[ExemptionDTO](t, rec)
	}
	exFirst := create(first, "2025-03-09")
	exSecond := create(second, "2025-03-10")

	// WHEN: Both ranges are edited before the batch runs
	rec := ts.do(http.MethodPut, "/api/exemptions/"+exFirst.ID, map[string]any{
		"employee_id": second, "date_from": "2025-03-09", "date_to": "2025-03-10", "reason_type": "sick_leave",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	edited := decode[ExemptionDTO](t, rec)
	assert.Equal(t, first, edited.EmployeeID, "the employee cannot be moved")
	assert.Equal(t, "2025-03-10", edited.To.String())
	assert.Equal(t, exFirst.CreatedAt, edited.CreatedAt)

	rec = ts.do(http.MethodPut, "/api/exemptions/"+exSecond.ID, map[string]any{
		"date_from": "2025-03-11", "date_to": "2025-03-11", "reason_type": "other", "reason_text": "moved",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: Only E002 is charged
	rec = ts.do(http.MethodPost, "/api/admin/batch/run", BatchRunRequest{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[[]batch.Run](t, rec)[0].PenaltiesCreated)
	penalties := decode[[]PenaltyDTO](t, ts.do(http.MethodGet, "/api/penalties", nil))
	require.Len(t, penalties, 1)
	assert.Equal(t, second, penalties[0].EmployeeID)

	// Errors
	rec = ts.do(http.MethodPut, "/api/exemptions/missing", map[string]any{
		"date_from": "2025-03-10", "date_to": "2025-03-10", "reason_type": "other",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.do(http.MethodPut, "/api/exemptions/"+exFirst.ID, map[string]any{
		"date_from": "2025-03-12", "date_to": "2025-03-10", "reason_type": "other",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// SETTINGS
// =============================================================================

func TestSettings_MasksSecretsAndKeepsThemOnUpdate(t *testing.T) {
	ts := newTestServer(t)

	// GIVEN: Telegram configured with a token
	rec := ts.do(http.MethodPut, "/api/settings", map[string]any{
		"updated_by": "admin",
		"settings": map[string]any{
			"telegram":    map[string]any{"enabled": true, "bot_token": "123:abc", "chat_id": "-100"},
			"integration": map[string]any{"webhook_enabled": true},
			"platform":    map[string]any{"company_name": "Acme", "currency": "UZS"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[SettingsDTO](t, rec)
	assert.Equal(t, 1, first.Version)
	assert.Empty(t, first.Settings.Telegram.BotToken)
	assert.True(t, first.BotTokenSet)

	// WHEN: The masked document is sent back
	rec = ts.do(http.MethodPut, "/api/settings", map[string]any{"settings": first.Settings})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: The token is kept and the version advances
	assert.Equal(t, 2, decode[SettingsDTO](t, rec).Version)
	assert.Equal(t, "123:abc", ts.handler.Settings.Current().Document.Telegram.BotToken)

	rec = ts.do(http.MethodGet, "/api/settings", nil)
	assert.Equal(t, "UZS", decode[SettingsDTO](t, rec).Settings.Platform.Currency)
}

func TestSettings_InvalidDocument(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPut, "/api/settings", map[string]any{
		"settings": map[string]any{"platform": map[string]any{"currency": ""}},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestSettings_TelegramTest(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/settings/telegram/test", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ts.sender.texts, 1)
	assert.Contains(t, ts.sender.texts[0], "2025-03-10 21:00")

	ts.sender.err = notify.ErrNotConfigured
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/api/settings/telegram/test", nil).Code)

	ts.sender.err = errors.New("connection refused")
	assert.Equal(t, http.StatusBadGateway, ts.do(http.MethodPost, "/api/settings/telegram/test", nil).Code)
}

// =============================================================================
// REPORTS
// =============================================================================

func TestReports_JSONAndXLSX(t *testing.T) {
	ts := newTestServer(t)
	ts.createRule(`{"name": "Per minute", "type": "per_minute", "amount_per_unit": "1000"}`)
	ts.createEmployee("E002")
	ts.createEmployee("E001")
	ts.checkIn("E001", "2025-03-10T09:07:00")
	ts.checkIn("E002", "2025-03-10T09:03:00")
	ts.do(http.MethodPost, "/api/admin/batch/run", BatchRunRequest{})

	// Attendance, ordered by external id
	rec := ts.do(http.MethodGet, "/api/reports/attendance?period=day", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var attendanceReport struct {
		Period string                `json:"period"`
		Rows   []AttendanceReportRow `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &attendanceReport))
	assert.Equal(t, "day", attendanceReport.Period)
	require.Len(t, attendanceReport.Rows, 2)
	assert.Equal(t, "E001", attendanceReport.Rows[0].EmployeeID)
	assert.Equal(t, "09:07", attendanceReport.Rows[0].CheckIn)

	// Penalties carry a total
	rec = ts.do(http.MethodGet, "/api/reports/penalties?period=week", nil)
	penaltyReport := decode[ReportResponse](t, rec)
	require.NotNil(t, penaltyReport.Total)
	assert.Equal(t, "10000", *penaltyReport.Total)
	assert.Equal(t, "2025-03-04", penaltyReport.From.String())

	// Workbook export, one sheet named after the report
	rec = ts.do(http.MethodGet, "/api/reports/lateness/export?period=day", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "lateness_2025-03-10_2025-03-10.xlsx")
	book, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	defer book.Close()
	assert.Equal(t, []string{"lateness"}, book.GetSheetList())
	rows, err := book.GetRows("lateness")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Minutes Late", rows[0][3])
	assert.Equal(t, []string{"2025-03-10", "E001", "Test E001", "7", "2025-03-10 09:07", "09:00"}, rows[1])

	// The header is bold
	styleID, err := book.GetCellStyle("lateness", "A1")
	require.NoError(t, err)
	style, err := book.GetStyle(styleID)
	require.NoError(t, err)
	require.NotNil(t, style.Font)
	assert.True(t, style.Font.Bold)

	// The penalty sheet ends with the total under Amount
	rec = ts.do(http.MethodGet, "/api/reports/penalties/export?period=day", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	book, err = excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	defer book.Close()
	rows, err = book.GetRows("penalties")
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, "7000", rows[1][3])
	assert.Equal(t, []string{"Total", "", "", "10000"}, rows[4])

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/reports/salaries", nil).Code)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/healthz", nil).Code)
}

package device_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worktrack/engine/attendance"
	"github.com/worktrack/engine/device"
)

// =============================================================================
// GENERIC JSON
// =============================================================================

func TestParseJSON_SingleObject(t *testing.T) {
	items, err := device.ParseJSON([]byte(`{
		"employee_id": "E001",
		"event_type": "Check In",
		"timestamp": "2025-03-10T09:07:00",
		"event_id": "evt-1"
	}`))

	require.NoError(t, err)
	assert.Equal(t, []device.Item{{
		Identifier: "E001",
		EventType:  attendance.CheckIn,
		Timestamp:  "2025-03-10T09:07:00",
		EventID:    "evt-1",
	}}, items)
}

func TestParseJSON_ListWithFallbackKeys(t *testing.T) {
	items, err := device.ParseJSON([]byte(`[
		{"person_id": 1042, "attendance_status": 1, "serial_no": 77},
		{"card_no": "C-9", "attendance_status": "out", "id": "x"}
	]`))

	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "1042", items[0].Identifier)
	assert.Equal(t, attendance.CheckIn, items[0].EventType)
	assert.Equal(t, "77", items[0].EventID)
	assert.Equal(t, "C-9", items[1].Identifier)
	assert.Equal(t, attendance.CheckOut, items[1].EventType)
	assert.Equal(t, "x", items[1].EventID)
}

func TestParseJSON_Invalid(t *testing.T) {
	for name, body := range map[string]string{
		"empty":        ``,
		"broken":       `{"employee_id":`,
		"scalar":       `42`,
		"list of junk": `[1, 2]`,
	} {
		_, err := device.ParseJSON([]byte(body))
		assert.Error(t, err, name)
	}
}

func TestItem_Event(t *testing.T) {
	ev := device.Item{Identifier: "E001", EventType: attendance.CheckOut, Timestamp: "t", EventID: "id"}.Event()

	assert.Equal(t, attendance.SourceDevice, ev.Source)
	assert.Equal(t, "id", ev.SourceID)
	assert.Equal(t, "E001", ev.Identifier)
}

// =============================================================================
// HIKVISION
// =============================================================================

func TestParseHikvision_SubEventTypes(t *testing.T) {
	tests := []struct {
		subEvent string
		want     attendance.EventType
	}{
		{"1024", attendance.CheckIn},
		{"2048", attendance.CheckIn},
		{"1025", attendance.CheckOut},
		{"2049", attendance.CheckOut},
		{"75", attendance.CheckIn},
	}
	for _, tt := range tests {
		t.Run(tt.subEvent, func(t *testing.T) {
			items, err := device.ParseHikvision([]byte(`{
				"dateTime": "2025-03-10T09:07:00+05:00",
				"eventType": "AccessControllerEvent",
				"shortSerialNumber": "DS1",
				"AccessControllerEvent": {"employeeNoString": "E001", "subEventType": ` + tt.subEvent + `, "serialNo": 381}
			}`))

			require.NoError(t, err)
			require.Len(t, items, 1)
			assert.Equal(t, tt.want, items[0].EventType)
			assert.Equal(t, "E001", items[0].Identifier)
			assert.Equal(t, "2025-03-10T09:07:00+05:00", items[0].Timestamp)
			assert.Equal(t, "DS1_2025-03-10T09:07:00+05:00_381", items[0].EventID)
		})
	}
}

func TestParseHikvision_ExplicitEventIDAndFallbackIdentifier(t *testing.T) {
	items, err := device.ParseHikvision([]byte(`{
		"event_id": "given",
		"dateTime": "2025-03-10T18:01:00",
		"AccessControllerEvent": {"personId": "P-7", "subEventType": 1025}
	}`))

	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "given", items[0].EventID)
	assert.Equal(t, "P-7", items[0].Identifier)
	assert.Equal(t, attendance.CheckOut, items[0].EventType)
}

func TestParseHikvision_HeartbeatAndEmptyYieldNothing(t *testing.T) {
	for name, body := range map[string]string{
		"heartbeat":     `{"eventType": "heartBeat", "AccessControllerEvent": {"serialNo": 1}}`,
		"empty event":   `{"eventType": "AccessControllerEvent", "AccessControllerEvent": {}}`,
		"missing event": `{"eventType": "AccessControllerEvent"}`,
	} {
		items, err := device.ParseHikvision([]byte(body))
		require.NoError(t, err, name)
		assert.Empty(t, items, name)
	}
}

func TestParseHikvision_InvalidJSON(t *testing.T) {
	_, err := device.ParseHikvision([]byte(`not json`))

	assert.ErrorContains(t, err, device.HikvisionField)
}

func TestParseJSON_DetectsHikvisionBody(t *testing.T) {
	items, err := device.ParseJSON([]byte(`{
		"dateTime": "2025-03-10T09:00:00",
		"AccessControllerEvent": {"employeeNoString": "E002", "subEventType": 2049, "serialNo": 5}
	}`))

	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "E002", items[0].Identifier)
	assert.Equal(t, attendance.CheckOut, items[0].EventType)
	assert.Equal(t, "_2025-03-10T09:00:00_5", items[0].EventID)
}

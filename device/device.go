/*
device.go - Normalization of biometric device payloads

PURPOSE:
  Turns whatever the access-control device (or a simulator) posts to the
  webhook into attendance.Event values the Ingestor understands.

ACCEPTED SHAPES:
  Generic JSON, one object or a list:
    {"employee_id": "E001", "event_type": "check_in",
     "timestamp": "2025-03-10T09:07:00", "event_id": "abc"}
    - employee:   employee_id | person_id | card_no
    - event type: event_type, else attendance_status (1/"in"/"check_in" is
                  a check-in, anything else a check-out)
    - source id:  event_id | serial_no | id

  Hikvision AccessControllerEvent (JSON body or the multipart field of the
  same name):
    {"dateTime": "...", "eventType": "AccessControllerEvent",
     "shortSerialNumber": "...",
     "AccessControllerEvent": {"employeeNoString": "...", "subEventType": 75,
                               "serialNo": 123}}
    - subEventType 1025/2049 -> check_out, 1024/2048 -> check_in,
      anything else -> check_in
    - source id: event_id, else "{shortSerialNumber}_{dateTime}_{serialNo}"
    - heartBeat and empty events yield no items

SEE ALSO:
  - attendance/ingest.go: Consumes the resulting events
  - api/webhook.go: HTTP entry point
*/
package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/worktrack/engine/attendance"
)

// HikvisionField is the multipart form field carrying the event JSON.
const HikvisionField = "AccessControllerEvent"

// Item is one normalized device event.
type Item struct {
	Identifier string               `json:"employee_id"`
	EventType  attendance.EventType `json:"event_type"`
	Timestamp  string               `json:"timestamp"`
	EventID    string               `json:"event_id"`
}

// Event converts the item for ingestion.
func (i Item) Event() attendance.Event {
	return attendance.Event{
		Identifier: i.Identifier,
		EventType:  i.EventType,
		Timestamp:  i.Timestamp,
		SourceID:   i.EventID,
		Source:     attendance.SourceDevice,
	}
}

// ParseJSON normalizes a JSON webhook body. Objects carrying an
// AccessControllerEvent are treated as Hikvision events.
func ParseJSON(body []byte) ([]Item, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty body")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch v := raw.(type) {
	case []any:
		items := make([]Item, 0, len(v))
		for _, elem := range v {
			obj, ok := elem.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("list elements must be objects")
			}
			items = append(items, normalize(obj)...)
		}
		return items, nil
	case map[string]any:
		return normalize(v), nil
	default:
		return nil, fmt.Errorf("body must be an object or a list of objects")
	}
}

// ParseHikvision normalizes the JSON of the multipart AccessControllerEvent
// field.
func ParseHikvision(field []byte) ([]Item, error) {
	dec := json.NewDecoder(bytes.NewReader(field))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("invalid JSON in %s: %w", HikvisionField, err)
	}
	return hikvision(obj), nil
}

func normalize(obj map[string]any) []Item {
	if _, ok := obj[HikvisionField]; ok {
		return hikvision(obj)
	}
	return []Item{plain(obj)}
}

// =============================================================================
// GENERIC PAYLOAD
// =============================================================================

func plain(obj map[string]any) Item {
	return Item{
		Identifier: first(obj["employee_id"], obj["person_id"], obj["card_no"]),
		EventType:  eventType(obj),
		Timestamp:  first(obj["timestamp"]),
		EventID:    first(obj["event_id"], obj["serial_no"], obj["id"]),
	}
}

func eventType(obj map[string]any) attendance.EventType {
	if et, err := attendance.ParseEventType(first(obj["event_type"])); err == nil {
		return et
	}
	switch strings.ToLower(first(obj["attendance_status"])) {
	case "1", "in", "check_in":
		return attendance.CheckIn
	}
	return attendance.CheckOut
}

// =============================================================================
// HIKVISION PAYLOAD
// =============================================================================

func hikvision(data map[string]any) []Item {
	if first(data["eventType"]) == "heartBeat" {
		return nil
	}
	inner, _ := data[HikvisionField].(map[string]any)
	if len(inner) == 0 {
		return nil
	}

	timestamp := first(data["dateTime"])
	item := Item{
		Identifier: first(
			inner["employeeNoString"], data["employeeNoString"],
			data["personId"], data["cardNo"], data["employee_id"],
			inner["personId"], inner["cardNo"], inner["employee_id"],
			inner["serialNo"], inner["SerialNo"], data["serialNo"], data["SerialNo"],
			inner["frontSerialNo"], data["frontSerialNo"],
		),
		EventType: attendance.CheckIn,
		Timestamp: timestamp,
	}

	switch first(inner["subEventType"], data["subEventType"]) {
	case "1025", "2049":
		item.EventType = attendance.CheckOut
	case "1024", "2048":
		item.EventType = attendance.CheckIn
	}

	item.EventID = first(data["event_id"])
	if item.EventID == "" {
		serial, short := str(inner["serialNo"]), str(data["shortSerialNumber"])
		if serial != "" || short != "" || timestamp != "" {
			item.EventID = short + "_" + timestamp + "_" + serial
		}
	}
	return []Item{item}
}

// =============================================================================
// VALUE HELPERS
// =============================================================================

// first returns the first value that is present and not empty, false or a
// numeric zero.
func first(values ...any) string {
	for _, v := range values {
		if n, ok := v.(json.Number); ok {
			if f, err := n.Float64(); err == nil && f == 0 {
				continue
			}
		}
		if s := str(v); s != "" && s != "false" {
			return s
		}
	}
	return ""
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case map[string]any, []any:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

/*
webhook.go - Device webhook

PURPOSE:
  Receives events pushed by the access-control device (or a simulator),
  normalizes them and ingests each one. The reply lists one result per
  event so a device integrator can see which badges were not matched.

REQUEST FLOW:
  1. Rate limit (middleware, 429 rate_limit_exceeded)
  2. Webhook toggle from settings (503 webhook_disabled when off)
  3. Shared secret: X-Webhook-Secret must match when a secret is configured
  4. Body: multipart with an AccessControllerEvent field, else JSON
  5. Ingest every item; per-item failures are reported, not fatal

SEE ALSO:
  - device/device.go: Payload normalization
  - attendance/ingest.go: Idempotent ingestion
  - ratelimit.go: Per-IP limiter
*/
package api

import (
	"crypto/subtle"
	"errors"
	"io"
	"mime"
	"net/http"

	"go.uber.org/zap"

	"github.com/worktrack/engine/device"
)

// maxWebhookBody bounds what a device may post.
const maxWebhookBody = 1 << 20

// SecretHeader carries the shared webhook secret.
const SecretHeader = "X-Webhook-Secret"

// DeviceWebhook ingests device events.
// POST /api/webhooks/device
func (h *Handler) DeviceWebhook(w http.ResponseWriter, r *http.Request) {
	integration := h.Settings.Current().Document.Integration
	if !integration.WebhookEnabled {
		writeJSON(w, http.StatusServiceUnavailable, WebhookResponse{Reason: "webhook_disabled", Results: []WebhookItemResult{}})
		return
	}
	if integration.WebhookSecret != "" {
		got := r.Header.Get(SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(integration.WebhookSecret)) != 1 {
			writeJSON(w, http.StatusUnauthorized, WebhookResponse{Reason: "invalid_secret", Results: []WebhookItemResult{}})
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	items, err := h.parseWebhook(r)
	if err != nil {
		h.logger.Warn("webhook payload rejected", zap.String("client", clientIP(r)), zap.Error(err))
		writeError(w, http.StatusBadRequest, "Invalid webhook payload", err)
		return
	}

	ctx := r.Context()
	results := make([]WebhookItemResult, 0, len(items))
	for _, item := range items {
		result := WebhookItemResult{EmployeeID: item.Identifier, EventID: item.EventID}
		res, err := h.Ingestor.Ingest(ctx, item.Event())
		if err != nil {
			result.Error = err.Error()
			h.logger.Warn("device event rejected",
				zap.String("identifier", item.Identifier),
				zap.String("event_id", item.EventID),
				zap.Error(err),
			)
			results = append(results, result)
			continue
		}
		result.LogID = res.Log.ID
		result.Created = res.Created
		if res.Summary != nil {
			result.Status = string(res.Summary.Status)
		}
		results = append(results, result)
	}

	writeJSON(w, http.StatusOK, WebhookResponse{OK: true, Processed: len(results), Results: results})
}

func (h *Handler) parseWebhook(r *http.Request) ([]device.Item, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxWebhookBody); err != nil {
			return nil, err
		}
		raw := r.FormValue(device.HikvisionField)
		if raw == "" {
			return nil, errors.New("missing " + device.HikvisionField + " field")
		}
		return device.ParseHikvision([]byte(raw))
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	return device.ParseJSON(body)
}

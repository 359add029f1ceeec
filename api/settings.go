package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/worktrack/engine/notify"
)

// GetSettings returns the current settings with secrets masked.
// GET /api/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toSettingsDTO(h.Settings.Current()))
}

// UpdateSettings stores a new settings version. Empty secrets keep the
// current values, so a masked document can be sent back unchanged.
// PUT /api/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	doc := req.Settings
	current := h.Settings.Current().Document
	if doc.Telegram.BotToken == "" {
		doc.Telegram.BotToken = current.Telegram.BotToken
	}
	if doc.Integration.APIPassword == "" {
		doc.Integration.APIPassword = current.Integration.APIPassword
	}
	if doc.Integration.WebhookSecret == "" {
		doc.Integration.WebhookSecret = current.Integration.WebhookSecret
	}

	v, err := h.Settings.Update(r.Context(), doc, strings.TrimSpace(req.UpdatedBy))
	if err != nil {
		writeDomainError(w, "Failed to update settings", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsDTO(v))
}

// TestTelegram sends a test message with the current Telegram settings.
// POST /api/settings/telegram/test
func (h *Handler) TestTelegram(w http.ResponseWriter, r *http.Request) {
	if h.Sender == nil {
		writeError(w, http.StatusServiceUnavailable, "Notifications are not wired", nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	text := "WorkTrack: test message (" + h.now().In(h.loc).Format("2006-01-02 15:04") + ")"
	if err := h.Sender.Send(ctx, text); err != nil {
		h.logger.Warn("telegram test failed", zap.Error(err))
		status := http.StatusBadGateway
		if errors.Is(err, notify.ErrNotConfigured) {
			status = http.StatusBadRequest
		}
		writeError(w, status, "Telegram test failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

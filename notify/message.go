// Package notify delivers penalty notifications. Messages are formatted
// here, sent by a Sender (Telegram in production) and queued through a
// Dispatcher that retries failed deliveries in the background.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/worktrack/engine/attendance"
	"github.com/worktrack/engine/penalty"
)

// ErrNotConfigured is returned by senders that are disabled or missing
// credentials. It is never retried.
var ErrNotConfigured = errors.New("notifications not configured")

// Sender delivers one text message.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// FormatPenaltyMessage renders the chat message for an automatic penalty.
func FormatPenaltyMessage(emp attendance.Employee, minutesLate int, p penalty.Penalty, currency string) string {
	if currency == "" {
		currency = "so'm"
	}
	lines := []string{
		fmt.Sprintf("Date: %s", p.PenaltyDate),
		fmt.Sprintf("Late: %s (ID: %s) - %d min late.", emp.FullName(), emp.ExternalID, minutesLate),
	}
	if p.IsPercent() {
		lines = append(lines, fmt.Sprintf("Penalty: %s%% of salary.", p.Percent.String()))
	} else {
		lines = append(lines, fmt.Sprintf("Penalty: %s %s.", p.Amount.String(), currency))
	}
	if username := strings.TrimLeft(strings.TrimSpace(emp.TelegramUsername), "@"); username != "" {
		lines = append(lines, "@"+username)
	}
	return strings.Join(lines, "\n")
}

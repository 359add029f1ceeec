/*
settings.go - Versioned runtime settings

PURPOSE:
  Holds the admin-editable settings (Telegram, device integration, platform
  defaults) as one document. Every update appends a new version; readers
  get an immutable snapshot that is swapped atomically.

LIFECYCLE:
  svc := settings.NewService(store, defaults, logger)
  svc.Load(ctx)            // latest stored version, or defaults as version 0
  cur := svc.Current()     // snapshot, safe to keep
  svc.Update(ctx, doc, by) // validate, append version, swap snapshot

SEE ALSO:
  - store/sqlite/runs.go: settings_versions table
  - notify/telegram.go: Reads the Telegram section per send
  - api/webhook.go: Reads the Integration section per request
*/
package settings

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/worktrack/engine/generic"
)

// Telegram configures penalty notifications.
type Telegram struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token" validate:"required_if=Enabled true"`
	ChatID   string `json:"chat_id" validate:"required_if=Enabled true"`
}

// Configured reports whether messages can be sent.
func (t Telegram) Configured() bool {
	return t.Enabled && t.BotToken != "" && t.ChatID != ""
}

// Integration configures the device webhook.
type Integration struct {
	DeviceIP       string `json:"device_ip" validate:"omitempty,ip"`
	APIUsername    string `json:"api_username"`
	APIPassword    string `json:"api_password"`
	WebhookEnabled bool   `json:"webhook_enabled"`
	WebhookSecret  string `json:"webhook_secret"`
}

// Platform holds display defaults.
type Platform struct {
	CompanyName string `json:"company_name" validate:"max=200"`
	Currency    string `json:"currency" validate:"required,max=16"`
}

// Document is the full settings payload.
type Document struct {
	Telegram    Telegram    `json:"telegram"`
	Integration Integration `json:"integration"`
	Platform    Platform    `json:"platform"`
}

// Defaults is the document used before anything was saved.
func Defaults() Document {
	return Document{
		Integration: Integration{WebhookEnabled: true},
		Platform:    Platform{Currency: "so'm"},
	}
}

// Version is one stored revision of the document.
type Version struct {
	Number    int       `json:"version"`
	Document  Document  `json:"settings"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists settings versions.
type Store interface {
	// LatestSettings returns the highest version, or nil when none exists.
	LatestSettings(ctx context.Context) (*Version, error)
	// AppendSettings stores doc as the next version number.
	AppendSettings(ctx context.Context, doc Document, updatedBy string) (*Version, error)
}

var validate = validator.New()

// Validate checks a document before it is stored.
func Validate(doc Document) error {
	if err := validate.Struct(doc); err != nil {
		return fmt.Errorf("%w: settings: %v", generic.ErrInvalidInput, err)
	}
	return nil
}

// Service owns the current settings snapshot.
type Service struct {
	store  Store
	logger *zap.Logger

	current atomic.Pointer[Version]
	writeMu sync.Mutex // serializes Update
}

func NewService(store Store, defaults Document, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{store: store, logger: logger}
	s.current.Store(&Version{Document: defaults})
	return s
}

// Load replaces the snapshot with the latest stored version.
func (s *Service) Load(ctx context.Context) error {
	v, err := s.store.LatestSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if v == nil {
		s.logger.Info("no stored settings, using defaults")
		return nil
	}
	s.current.Store(v)
	s.logger.Info("settings loaded", zap.Int("version", v.Number))
	return nil
}

// Current returns the active snapshot.
func (s *Service) Current() Version {
	return *s.current.Load()
}

// Update validates doc, stores it as a new version and makes it current.
func (s *Service) Update(ctx context.Context, doc Document, updatedBy string) (Version, error) {
	if err := Validate(doc); err != nil {
		return Version{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	v, err := s.store.AppendSettings(ctx, doc, updatedBy)
	if err != nil {
		return Version{}, fmt.Errorf("save settings: %w", err)
	}
	s.current.Store(v)
	s.logger.Info("settings updated",
		zap.Int("version", v.Number),
		zap.String("updated_by", updatedBy),
	)
	return *v, nil
}

package settings_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worktrack/engine/generic"
	"github.com/worktrack/engine/settings"
	"github.com/worktrack/engine/store/sqlite"
)

func newService(t *testing.T) (*settings.Service, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return settings.NewService(store, settings.Defaults(), nil), store
}

func TestService_DefaultsBeforeAnySave(t *testing.T) {
	svc, _ := newService(t)

	require.NoError(t, svc.Load(context.Background()))
	cur := svc.Current()

	assert.Zero(t, cur.Number)
	assert.True(t, cur.Document.Integration.WebhookEnabled)
	assert.Equal(t, "so'm", cur.Document.Platform.Currency)
	assert.False(t, cur.Document.Telegram.Configured())
}

func TestService_UpdateAppendsVersions(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	doc := settings.Defaults()
	doc.Platform.CompanyName = "Acme"
	v1, err := svc.Update(ctx, doc, "admin")
	require.NoError(t, err)

	doc.Telegram = settings.Telegram{Enabled: true, BotToken: "t", ChatID: "-1"}
	v2, err := svc.Update(ctx, doc, "admin")
	require.NoError(t, err)

	assert.Equal(t, 1, v1.Number)
	assert.Equal(t, 2, v2.Number)
	assert.Equal(t, 2, svc.Current().Number)
	assert.True(t, svc.Current().Document.Telegram.Configured())

	// A fresh service sees the latest version after Load.
	reloaded := settings.NewService(store, settings.Defaults(), nil)
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, 2, reloaded.Current().Number)
	assert.Equal(t, "Acme", reloaded.Current().Document.Platform.CompanyName)
	assert.Equal(t, "admin", reloaded.Current().UpdatedBy)
}

func TestService_InvalidDocumentRejected(t *testing.T) {
	svc, _ := newService(t)

	tests := []struct {
		name   string
		mutate func(*settings.Document)
	}{
		{"telegram enabled without token", func(d *settings.Document) {
			d.Telegram = settings.Telegram{Enabled: true, ChatID: "-1"}
		}},
		{"bad device ip", func(d *settings.Document) { d.Integration.DeviceIP = "not-an-ip" }},
		{"empty currency", func(d *settings.Document) { d.Platform.Currency = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := settings.Defaults()
			tt.mutate(&doc)

			_, err := svc.Update(context.Background(), doc, "admin")

			assert.ErrorIs(t, err, generic.ErrInvalidInput)
			assert.Zero(t, svc.Current().Number, "snapshot unchanged")
		})
	}
}

func TestService_ConcurrentUpdatesGetDistinctVersions(t *testing.T) {
	svc, _ := newService(t)

	var wg sync.WaitGroup
	versions := make(chan int, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := svc.Update(context.Background(), settings.Defaults(), "admin")
			if assert.NoError(t, err) {
				versions <- v.Number
			}
		}()
	}
	wg.Wait()
	close(versions)

	seen := map[int]bool{}
	for n := range versions {
		assert.False(t, seen[n], "version %d issued twice", n)
		seen[n] = true
	}
	assert.Len(t, seen, 10)
	assert.Equal(t, 10, svc.Current().Number)
}

package preferences

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"moviebox/internal/storage"
)

func TestThemeService(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	s := NewThemeService(store, zerolog.Nop())
	s.Load(ctx)
	assert.Equal(t, ThemeSystem, s.Mode())

	require.NoError(t, s.SetMode(ThemeDark))
	assert.ErrorIs(t, s.SetMode("sepia"), ErrInvalidSetting)
	assert.Equal(t, ThemeDark, s.Mode())
	require.NoError(t, s.Close(ctx))

	raw, ok, err := store.GetItem(ctx, storage.KeyThemePreference)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"mode":"dark"}`, raw)

	reloaded := NewThemeService(store, zerolog.Nop())
	reloaded.Load(ctx)
	assert.Equal(t, ThemeDark, reloaded.Mode())
	require.NoError(t, reloaded.Close(ctx))
}

func TestThemeService_InvalidStoredValue(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.SetItem(ctx, storage.KeyThemePreference, `{"mode":"neon"}`))

	s := NewThemeService(store, zerolog.Nop())
	defer s.Close(ctx)
	s.Load(ctx)
	assert.Equal(t, ThemeSystem, s.Mode())
}

func TestNotificationService_Lifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx := context.Background()
	store := storage.NewMemoryStore()
	svc := NewNotificationService(store, zerolog.Nop())

	_, err := svc.Settings()
	assert.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, svc.Init(ctx))
	require.NoError(t, svc.Init(ctx), "init is idempotent")

	got, err := svc.Settings()
	require.NoError(t, err)
	assert.Equal(t, DefaultNotificationSettings(), got)

	updated, err := svc.Update(func(n *NotificationSettings) {
		n.Recommendations = true
		n.QuietHoursStart = "22:00"
		n.QuietHoursEnd = "07:00"
	})
	require.NoError(t, err)
	assert.True(t, updated.Recommendations)

	_, err = svc.Update(func(n *NotificationSettings) { n.QuietHoursEnd = "" })
	assert.ErrorIs(t, err, ErrInvalidSetting)
	got, _ = svc.Settings()
	assert.Equal(t, "07:00", got.QuietHoursEnd, "rejected update leaves settings unchanged")

	require.NoError(t, svc.Dispose(ctx))
	_, err = svc.Settings()
	assert.ErrorIs(t, err, ErrDisposed)
	assert.ErrorIs(t, svc.Init(ctx), ErrDisposed)

	next := NewNotificationService(store, zerolog.Nop())
	require.NoError(t, next.Init(ctx))
	got, err = next.Settings()
	require.NoError(t, err)
	assert.True(t, got.Recommendations)
	assert.Equal(t, "22:00", got.QuietHoursStart)
	require.NoError(t, next.Dispose(ctx))
}

func TestNotificationSettings_InQuietHours(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2024, 1, 1, h, m, 0, 0, time.UTC) }

	overnight := NotificationSettings{QuietHoursStart: "22:00", QuietHoursEnd: "07:00"}
	assert.True(t, overnight.InQuietHours(at(23, 30)))
	assert.True(t, overnight.InQuietHours(at(6, 59)))
	assert.False(t, overnight.InQuietHours(at(7, 0)))
	assert.False(t, overnight.InQuietHours(at(12, 0)))

	daytime := NotificationSettings{QuietHoursStart: "09:00", QuietHoursEnd: "17:00"}
	assert.True(t, daytime.InQuietHours(at(9, 0)))
	assert.False(t, daytime.InQuietHours(at(17, 0)))

	assert.False(t, NotificationSettings{}.InQuietHours(at(3, 0)))
}

func TestNotificationSettings_Validate(t *testing.T) {
	assert.NoError(t, DefaultNotificationSettings().Validate())
	assert.ErrorIs(t, NotificationSettings{QuietHoursStart: "25:00", QuietHoursEnd: "07:00"}.Validate(), ErrInvalidSetting)
	assert.ErrorIs(t, NotificationSettings{QuietHoursStart: "22:00"}.Validate(), ErrInvalidSetting)
}

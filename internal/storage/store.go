package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"moviebox/internal/config"
)

// Persistence keys. Each is owned by exactly one context and must stay stable
// across releases.
const (
	KeySavedItems           = "@moviebox/saved_items"
	KeyWatchHistory         = "@moviebox/watch_history"
	KeyThemePreference      = "@moviebox/theme_preference"
	KeyNotificationSettings = "@moviebox/notification_settings"
	KeySession              = "@moviebox/session"
	KeyPendingMutations     = "@moviebox/pending_mutations"
)

var ErrClosed = errors.New("storage: store is closed")

// Store is the durable key-value contract the collections persist through.
// Values are opaque JSON text. GetItem reports a missing key as ok=false
// with a nil error.
type Store interface {
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
	Close() error
}

// Open builds the backend selected by cfg.Driver.
func Open(cfg config.StorageConfig, logger zerolog.Logger) (Store, error) {
	var (
		store Store
		err   error
	)

	switch cfg.Driver {
	case config.DriverSQLite, "":
		store, err = NewSQLiteStorage(cfg.Path)
	case config.DriverBadger:
		store, err = NewBadgerStore(cfg.Path)
	case config.DriverFile:
		store, err = NewFileStore(cfg.Path)
	case config.DriverRedis:
		store, err = NewRedisStore(cfg.Redis, logger)
	case config.DriverMemory:
		store = NewMemoryStore()
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidDriver, cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}

	logger.Info().
		Str("driver", cfg.Driver).
		Str("path", cfg.Path).
		Msg("storage opened")

	return store, nil
}

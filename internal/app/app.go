// Package app constructs and owns every service of the client core.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"moviebox/internal/api"
	"moviebox/internal/config"
	"moviebox/internal/history"
	"moviebox/internal/logging"
	"moviebox/internal/preferences"
	"moviebox/internal/reconcile"
	"moviebox/internal/saved"
	"moviebox/internal/session"
	"moviebox/internal/storage"
)

type App struct {
	Config *config.Config
	Logger zerolog.Logger

	Store         storage.Store
	Client        *api.Client
	MovieBox      *saved.MovieBox
	History       *history.History
	Theme         *preferences.ThemeService
	Notifications *preferences.NotificationService
	Enricher      *reconcile.Enricher
	Sync          *reconcile.Reconciler
	Session       *session.Manager

	ownsStore bool
}

// Options overrides pieces normally built from the config.
type Options struct {
	Store      storage.Store
	HTTPClient *http.Client
}

func New(cfg *config.Config, logger zerolog.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	a.Store = opts.Store
	if a.Store == nil {
		store, err := storage.Open(cfg.Storage, logging.Component(logger, "storage"))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.Store = store
		a.ownsStore = true
	}

	if opts.HTTPClient != nil {
		a.Client = api.NewClientWithHTTP(cfg.API, opts.HTTPClient, logging.Component(logger, "api"))
	} else {
		a.Client = api.NewClient(cfg.API, logging.Component(logger, "api"))
	}

	a.MovieBox = saved.NewMovieBox(a.Store, logging.Component(logger, "moviebox"))
	a.History = history.New(a.Store, logging.Component(logger, "history"))
	a.Theme = preferences.NewThemeService(a.Store, logging.Component(logger, "theme"))
	a.Notifications = preferences.NewNotificationService(a.Store, logging.Component(logger, "notifications"))

	syncLogger := logging.Component(logger, "reconcile")
	a.Enricher = reconcile.NewEnricher(a.Client, cfg.Sync, syncLogger)
	a.Sync = reconcile.New(a.MovieBox, a.Client, reconcile.Options{
		Enricher:    a.Enricher,
		Store:       a.Store,
		TaskTimeout: cfg.API.Timeout,
		Logger:      syncLogger,
	})
	a.Session = session.NewManager(a.Client, a.Sync, a.Store, logging.Component(logger, "session"))

	return a, nil
}

// Start hydrates every local context and the pending remote mutations from
// storage, then restores a stored session, which starts the first remote
// load in the background.
func (a *App) Start(ctx context.Context) error {
	a.MovieBox.Load(ctx)
	a.History.Load(ctx)
	a.Theme.Load(ctx)
	if err := a.Notifications.Init(ctx); err != nil {
		return fmt.Errorf("init notifications: %w", err)
	}

	a.Sync.Load(ctx)
	restored := a.Session.Restore(ctx)
	a.Logger.Info().
		Int("saved_items", a.MovieBox.Len()).
		Int("history_entries", len(a.History.Entries())).
		Bool("signed_in", restored).
		Msg("client core started")
	return nil
}

// Close stops background work and flushes every context before closing
// storage. It returns the joined errors of all steps.
func (a *App) Close(ctx context.Context) error {
	var errs []error

	if err := a.Sync.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close reconciler: %w", err))
	}
	if err := a.Session.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close session: %w", err))
	}
	if err := a.MovieBox.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close moviebox: %w", err))
	}
	if err := a.History.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close history: %w", err))
	}
	if err := a.Theme.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close theme: %w", err))
	}
	if err := a.Notifications.Dispose(ctx); err != nil {
		errs = append(errs, fmt.Errorf("dispose notifications: %w", err))
	}
	if a.ownsStore {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}

	return errors.Join(errs...)
}

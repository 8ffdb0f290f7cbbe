package preferences

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"moviebox/internal/collection"
	"moviebox/internal/storage"
)

var (
	ErrInvalidSetting = errors.New("preferences: invalid setting")
	ErrNotInitialized = errors.New("preferences: service not initialized")
	ErrDisposed       = errors.New("preferences: service disposed")
)

type NotificationSettings struct {
	Enabled         bool   `json:"enabled"`
	NewEpisodes     bool   `json:"newEpisodes"`
	Recommendations bool   `json:"recommendations"`
	QuietHoursStart string `json:"quietHoursStart,omitempty"` // "HH:MM"
	QuietHoursEnd   string `json:"quietHoursEnd,omitempty"`   // "HH:MM"
}

func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{
		Enabled:     true,
		NewEpisodes: true,
	}
}

func (n NotificationSettings) Validate() error {
	if (n.QuietHoursStart == "") != (n.QuietHoursEnd == "") {
		return fmt.Errorf("%w: quiet hours need both start and end", ErrInvalidSetting)
	}
	for _, v := range []string{n.QuietHoursStart, n.QuietHoursEnd} {
		if v == "" {
			continue
		}
		if _, err := time.Parse("15:04", v); err != nil {
			return fmt.Errorf("%w: quiet hours %q must be HH:MM", ErrInvalidSetting, v)
		}
	}
	return nil
}

// InQuietHours reports whether t falls inside the quiet window. Windows may
// wrap midnight.
func (n NotificationSettings) InQuietHours(t time.Time) bool {
	if n.QuietHoursStart == "" || n.QuietHoursEnd == "" {
		return false
	}
	start, err1 := time.Parse("15:04", n.QuietHoursStart)
	end, err2 := time.Parse("15:04", n.QuietHoursEnd)
	if err1 != nil || err2 != nil {
		return false
	}

	minute := t.Hour()*60 + t.Minute()
	s := start.Hour()*60 + start.Minute()
	e := end.Hour()*60 + end.Minute()

	if s <= e {
		return minute >= s && minute < e
	}
	return minute >= s || minute < e
}

// NotificationService owns the notification settings document. It must be
// initialized before use and disposed on shutdown.
type NotificationService struct {
	store  storage.Store
	logger zerolog.Logger

	mu       sync.Mutex
	doc      *collection.Document[NotificationSettings]
	disposed bool
}

func NewNotificationService(store storage.Store, logger zerolog.Logger) *NotificationService {
	return &NotificationService{store: store, logger: logger}
}

func (s *NotificationService) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return ErrDisposed
	}
	if s.doc != nil {
		return nil
	}

	doc := collection.NewDocument(storage.KeyNotificationSettings, s.store, DefaultNotificationSettings(), s.logger)
	doc.Load(ctx)
	if err := doc.Get().Validate(); err != nil {
		s.logger.Warn().Err(err).Msg("stored notification settings invalid, using defaults")
		doc.Set(DefaultNotificationSettings())
	}
	s.doc = doc

	s.logger.Debug().Msg("notification settings initialized")
	return nil
}

func (s *NotificationService) document() (*collection.Document[NotificationSettings], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.disposed:
		return nil, ErrDisposed
	case s.doc == nil:
		return nil, ErrNotInitialized
	}
	return s.doc, nil
}

func (s *NotificationService) Settings() (NotificationSettings, error) {
	doc, err := s.document()
	if err != nil {
		return NotificationSettings{}, err
	}
	return doc.Get(), nil
}

// Update applies fn and persists the result if it validates.
func (s *NotificationService) Update(fn func(*NotificationSettings)) (NotificationSettings, error) {
	doc, err := s.document()
	if err != nil {
		return NotificationSettings{}, err
	}
	return doc.Update(func(n *NotificationSettings) error {
		fn(n)
		return n.Validate()
	})
}

// Dispose flushes pending writes and releases the service. Later calls fail
// with ErrDisposed.
func (s *NotificationService) Dispose(ctx context.Context) error {
	s.mu.Lock()
	doc := s.doc
	s.doc = nil
	s.disposed = true
	s.mu.Unlock()

	if doc == nil {
		return nil
	}
	return doc.Close(ctx)
}

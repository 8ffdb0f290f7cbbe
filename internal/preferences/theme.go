package preferences

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"moviebox/internal/collection"
	"moviebox/internal/storage"
)

type ThemeMode string

const (
	ThemeLight  ThemeMode = "light"
	ThemeDark   ThemeMode = "dark"
	ThemeSystem ThemeMode = "system"
)

func ParseThemeMode(s string) (ThemeMode, error) {
	switch m := ThemeMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ThemeLight, ThemeDark, ThemeSystem:
		return m, nil
	default:
		return "", fmt.Errorf("%w: theme %q", ErrInvalidSetting, s)
	}
}

type ThemePreference struct {
	Mode ThemeMode `json:"mode"`
}

type ThemeService struct {
	doc    *collection.Document[ThemePreference]
	logger zerolog.Logger
}

func NewThemeService(store storage.Store, logger zerolog.Logger) *ThemeService {
	return &ThemeService{
		doc:    collection.NewDocument(storage.KeyThemePreference, store, ThemePreference{Mode: ThemeSystem}, logger),
		logger: logger,
	}
}

func (s *ThemeService) Load(ctx context.Context) {
	s.doc.Load(ctx)
	if _, err := ParseThemeMode(string(s.doc.Get().Mode)); err != nil {
		s.logger.Warn().Str("mode", string(s.doc.Get().Mode)).Msg("stored theme is invalid, using system")
		s.doc.Set(ThemePreference{Mode: ThemeSystem})
	}
}

func (s *ThemeService) Mode() ThemeMode {
	return s.doc.Get().Mode
}

func (s *ThemeService) SetMode(mode ThemeMode) error {
	if _, err := ParseThemeMode(string(mode)); err != nil {
		return err
	}
	s.doc.Set(ThemePreference{Mode: mode})
	return nil
}

func (s *ThemeService) Close(ctx context.Context) error {
	return s.doc.Close(ctx)
}

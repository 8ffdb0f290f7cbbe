// Package session owns the signed-in identity and hands it to the API
// client and the saved-items reconciler.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"moviebox/internal/api"
	"moviebox/internal/collection"
	"moviebox/internal/storage"
)

var ErrNotSignedIn = errors.New("session: not signed in")

// Authenticator is the backend half of signing in and out.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*api.LoginResult, error)
	Logout(ctx context.Context) error
	SetToken(token string)
}

// UserSink is told whenever the signed-in user changes. An empty id means
// signed out.
type UserSink interface {
	SetUser(ctx context.Context, userID string)
}

type Session struct {
	Token      string    `json:"token,omitempty"`
	UserID     string    `json:"userId,omitempty"`
	Name       string    `json:"name,omitempty"`
	SignedInAt time.Time `json:"signedInAt,omitempty"`
}

func (s Session) SignedIn() bool {
	return s.Token != "" && s.UserID != ""
}

type Manager struct {
	auth   Authenticator
	sink   UserSink
	doc    *collection.Document[Session]
	logger zerolog.Logger
	now    func() time.Time

	mu sync.Mutex
}

func NewManager(auth Authenticator, sink UserSink, store storage.Store, logger zerolog.Logger) *Manager {
	return &Manager{
		auth:   auth,
		sink:   sink,
		doc:    collection.NewDocument(storage.KeySession, store, Session{}, logger),
		logger: logger,
		now:    time.Now,
	}
}

// Restore reloads a stored session and re-announces its user. It reports
// whether a session was found.
func (m *Manager) Restore(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.doc.Load(ctx)
	s := m.doc.Get()
	if !s.SignedIn() {
		return false
	}

	m.auth.SetToken(s.Token)
	m.sink.SetUser(ctx, s.UserID)
	m.logger.Info().Str("user_id", s.UserID).Msg("session restored")
	return true
}

func (m *Manager) Login(ctx context.Context, username, password string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.auth.Login(ctx, username, password)
	if err != nil {
		m.logger.Warn().Err(err).Str("username", username).Msg("login failed")
		return Session{}, err
	}

	s := Session{
		Token:      res.Token,
		UserID:     res.User.ID.String(),
		Name:       res.User.Name,
		SignedInAt: m.now(),
	}
	if s.UserID == "" {
		s.UserID = username
	}

	m.auth.SetToken(s.Token)
	m.doc.Set(s)
	m.sink.SetUser(ctx, s.UserID)

	m.logger.Info().Str("user_id", s.UserID).Msg("signed in")
	return s, nil
}

// Logout signs out locally even when the backend call fails.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.doc.Get()
	if !s.SignedIn() {
		return ErrNotSignedIn
	}

	if err := m.auth.Logout(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("backend logout failed, clearing local session anyway")
	}

	m.auth.SetToken("")
	m.doc.Reset()
	m.sink.SetUser(ctx, "")

	m.logger.Info().Str("user_id", s.UserID).Msg("signed out")
	return nil
}

func (m *Manager) Current() Session {
	return m.doc.Get()
}

func (m *Manager) Close(ctx context.Context) error {
	return m.doc.Close(ctx)
}

// Package mockapi is an in-memory implementation of the backend HTTP
// contract, used by tests and the moviebox-mockd development server.
package mockapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"moviebox/internal/config"
)

type Server struct {
	cfg        config.MockConfig
	logger     zerolog.Logger
	httpServer *http.Server
	router     *chi.Mux
	backend    *Backend
	handler    *Handler
}

func New(cfg config.MockConfig, backend *Backend, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
	}

	s.router = chi.NewRouter()
	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(CORSMiddleware)
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(MetricsMiddleware)
	if s.cfg.RateLimit > 0 {
		s.router.Use(RateLimitMiddleware(s.cfg.RateLimit))
	}
}

func (s *Server) setupRoutes() {
	s.handler = NewHandler(s.backend, s.logger)

	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handler.Health)

		r.Group(func(r chi.Router) {
			r.Use(FaultMiddleware(s.backend))

			r.Post("/auth/login", s.handler.Login)
			r.Post("/auth/logout", s.handler.Logout)

			r.Get("/movies/{movieID}", s.handler.GetMovie)
			r.Get("/people/{personID}/movies", s.handler.MoviesByPerson)

			r.Route("/users/{userID}/moviebox", func(r chi.Router) {
				r.Use(AuthMiddleware(s.backend))
				r.Get("/", s.handler.ListSaved)
				r.Post("/", s.handler.AddSaved)
				r.Delete("/{movieID}", s.handler.RemoveSaved)
			})
		})
	})
}

// Handler exposes the router, for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Backend() *Backend {
	return s.backend
}

func (s *Server) Start() error {
	s.logger.Info().
		Str("addr", s.httpServer.Addr).
		Msg("starting mock backend")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down mock backend")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}

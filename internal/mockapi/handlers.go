package mockapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const Version = "0.1.0"

// Handler serves the backend contract. Endpoints deliberately answer in
// different shapes: the saved list is a bare array, details and people are
// enveloped, login is a bare object and deletes are empty.
type Handler struct {
	backend *Backend
	logger  zerolog.Logger
}

func NewHandler(backend *Backend, logger zerolog.Logger) *Handler {
	return &Handler{backend: backend, logger: logger}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: Version,
	})
}

func (h *Handler) ListSaved(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	writeJSON(w, http.StatusOK, h.backend.List(userID))
}

func (h *Handler) AddSaved(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var m Movie
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil || strings.TrimSpace(m.ID) == "" {
		writeEnvelope(w, http.StatusBadRequest, Envelope{
			ErrorCode:    http.StatusBadRequest,
			ErrorMessage: "Invalid saved item",
		})
		return
	}

	created := h.backend.Save(userID, m)

	h.logger.Debug().
		Str("user_id", userID).
		Str("movie_id", m.ID).
		Bool("created", created).
		Msg("saved item added")

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeEnvelope(w, status, Envelope{ErrorCode: status, Success: true, Data: m})
}

func (h *Handler) RemoveSaved(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	movieID := chi.URLParam(r, "movieID")

	if err := h.backend.Unsave(userID, movieID); err != nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Message: "Saved item not found"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetMovie(w http.ResponseWriter, r *http.Request) {
	movieID := chi.URLParam(r, "movieID")

	m, err := h.backend.Movie(movieID)
	if errors.Is(err, ErrUnknownMovie) {
		writeEnvelope(w, http.StatusNotFound, Envelope{
			ErrorCode:    http.StatusNotFound,
			ErrorMessage: "Movie not found",
		})
		return
	}

	writeEnvelope(w, http.StatusOK, Envelope{ErrorCode: http.StatusOK, Success: true, Data: m})
}

func (h *Handler) MoviesByPerson(w http.ResponseWriter, r *http.Request) {
	personID := chi.URLParam(r, "personID")

	movies, ok := h.backend.MoviesByPerson(personID)
	if !ok {
		writeEnvelope(w, http.StatusNotFound, Envelope{
			ErrorCode:    http.StatusNotFound,
			ErrorMessage: "Person not found",
		})
		return
	}

	writeEnvelope(w, http.StatusOK, Envelope{ErrorCode: http.StatusOK, Success: true, Data: movies})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "Invalid request body"})
		return
	}

	token, acc, err := h.backend.Login(req.Username, req.Password)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Message: "Invalid username or password"})
		return
	}

	h.logger.Info().Str("user_id", acc.ID).Msg("user logged in")

	writeJSON(w, http.StatusOK, LoginResponse{
		Token: token,
		User:  UserReply{ID: acc.ID, Name: acc.Name},
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if token, ok := bearerToken(r); ok {
		h.backend.Logout(token)
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	writeJSON(w, status, env)
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(text))
}

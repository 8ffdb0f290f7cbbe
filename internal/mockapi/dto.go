package mockapi

import "time"

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Movie is stored and returned as received. Rating and Year are left
// untyped so the catalogue can mix numbers and strings the way real
// backends do.
type Movie struct {
	ID         string     `json:"id"`
	Title      string     `json:"title,omitempty"`
	Cover      string     `json:"cover,omitempty"`
	Poster     string     `json:"poster,omitempty"`
	Categories []string   `json:"categories,omitempty"`
	Rating     any        `json:"rating,omitempty"`
	IsSeries   bool       `json:"isSeries,omitempty"`
	Year       any        `json:"year,omitempty"`
	AddedAt    *time.Time `json:"addedAt,omitempty"`
}

// Envelope is the wrapped shape some endpoints answer with.
type Envelope struct {
	ErrorCode    int    `json:"errorCode"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	Success      bool   `json:"success"`
	Data         any    `json:"data,omitempty"`
}

// ErrorResponse is the bare error shape used outside enveloped endpoints.
type ErrorResponse struct {
	Message string `json:"message"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string    `json:"token"`
	User  UserReply `json:"user"`
}

type UserReply struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

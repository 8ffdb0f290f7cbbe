package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
)

// FlexString accepts a JSON string or number and keeps its text form.
// The backend sends ids, ratings and years either way.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	if (b[0] == '-' || (b[0] >= '0' && b[0] <= '9')) && json.Valid(b) {
		*f = FlexString(b)
		return nil
	}
	return fmt.Errorf("flex string: unsupported value %s", b)
}

func (f FlexString) String() string { return string(f) }

// Movie is the backend's representation of a title, used both for saved
// items and for detail lookups.
type Movie struct {
	ID         FlexString `json:"id"`
	Title      string     `json:"title"`
	Cover      string     `json:"cover,omitempty"`
	Poster     string     `json:"poster,omitempty"`
	Categories []string   `json:"categories,omitempty"`
	Rating     FlexString `json:"rating,omitempty"`
	IsSeries   bool       `json:"isSeries,omitempty"`
	Year       FlexString `json:"year,omitempty"`
	AddedAt    *time.Time `json:"addedAt,omitempty"`
}

// CoverURL prefers cover and falls back to poster.
func (m Movie) CoverURL() string {
	if m.Cover != "" {
		return m.Cover
	}
	return m.Poster
}

type User struct {
	ID   FlexString `json:"id"`
	Name string     `json:"name"`
}

type LoginResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// call runs Do and turns a failed envelope into a *ServerError.
func (c *Client) call(ctx context.Context, method, path string, body any) (*Envelope, error) {
	env, err := c.Do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return env, &ServerError{Code: env.ErrorCode, Message: env.ErrorMessage}
	}
	return env, nil
}

func userPath(userID string) string {
	return "/users/" + url.PathEscape(userID) + "/moviebox"
}

func (c *Client) ListSavedItems(ctx context.Context, userID string) ([]Movie, error) {
	env, err := c.call(ctx, http.MethodGet, userPath(userID), nil)
	if err != nil {
		return nil, err
	}
	if !env.HasData() {
		return []Movie{}, nil
	}

	var items []Movie
	if err := env.Decode(&items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) AddSavedItem(ctx context.Context, userID string, item Movie) error {
	_, err := c.call(ctx, http.MethodPost, userPath(userID), item)
	return err
}

func (c *Client) RemoveSavedItem(ctx context.Context, userID, id string) error {
	_, err := c.call(ctx, http.MethodDelete, userPath(userID)+"/"+url.PathEscape(id), nil)
	return err
}

func (c *Client) GetMovie(ctx context.Context, id string) (*Movie, error) {
	env, err := c.call(ctx, http.MethodGet, "/movies/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}

	var m Movie
	if err := env.Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) ListMoviesByPerson(ctx context.Context, personID string) ([]Movie, error) {
	env, err := c.call(ctx, http.MethodGet, "/people/"+url.PathEscape(personID)+"/movies", nil)
	if err != nil {
		return nil, err
	}
	if !env.HasData() {
		return []Movie{}, nil
	}

	var items []Movie
	if err := env.Decode(&items); err != nil {
		return nil, err
	}
	return items, nil
}

// Login exchanges credentials for a bearer token. It does not install the
// token; see session.Manager.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	env, err := c.call(ctx, http.MethodPost, "/auth/login", loginRequest{Username: username, Password: password})
	if err != nil {
		return nil, err
	}

	var res LoginResult
	if err := env.Decode(&res); err != nil {
		return nil, err
	}
	if res.Token == "" {
		return nil, fmt.Errorf("%w: login response without token", ErrUnexpectedPayload)
	}
	return &res, nil
}

func (c *Client) Logout(ctx context.Context) error {
	_, err := c.call(ctx, http.MethodPost, "/auth/logout", nil)
	return err
}

package mockapi

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownMovie    = errors.New("mockapi: unknown movie")
	ErrBadCredentials  = errors.New("mockapi: bad credentials")
	ErrNotInCollection = errors.New("mockapi: not in collection")
)

type account struct {
	ID       string
	Name     string
	Password string
}

// Fault makes the next Count requests fail with Status. RawText sends a
// plain-text body instead of JSON; Drop closes the connection without a
// response.
type Fault struct {
	Count   int
	Status  int
	RawText bool
	Drop    bool
}

// Backend is the in-memory state behind the mock server.
type Backend struct {
	mu       sync.Mutex
	catalog  map[string]Movie
	people   map[string][]string
	accounts map[string]account
	tokens   map[string]string
	lists    map[string][]Movie
	fault    Fault
	latency  time.Duration
}

func NewBackend() *Backend {
	return &Backend{
		catalog:  make(map[string]Movie),
		people:   make(map[string][]string),
		accounts: make(map[string]account),
		tokens:   make(map[string]string),
		lists:    make(map[string][]Movie),
	}
}

// NewSeededBackend returns a backend with a small catalogue, one person and
// the account demo/demo (user id "1").
func NewSeededBackend() *Backend {
	b := NewBackend()
	for _, m := range seedCatalog {
		b.AddMovie(m)
	}
	b.AddPerson("villeneuve", "101", "102", "105")
	b.AddAccount("1", "demo", "demo")

	// Partial entries make clients fetch details.
	b.SetList("1", Movie{ID: "101"}, Movie{ID: "104", Title: "Severance"})
	return b
}

var seedCatalog = []Movie{
	{ID: "101", Title: "Dune", Cover: "/covers/101.jpg", Categories: []string{"sci-fi", "drama"}, Rating: 8.1, Year: 2021},
	{ID: "102", Title: "Arrival", Poster: "/posters/102.jpg", Categories: []string{"sci-fi"}, Rating: "7.9", Year: 2016},
	{ID: "103", Title: "Dark", Cover: "/covers/103.jpg", Categories: []string{"mystery", "thriller"}, Rating: 8.7, IsSeries: true, Year: 2017},
	{ID: "104", Title: "Severance", Cover: "/covers/104.jpg", Categories: []string{"thriller"}, Rating: "8.7", IsSeries: true, Year: "2022"},
	{ID: "105", Title: "Sicario", Cover: "/covers/105.jpg", Categories: []string{"crime"}, Rating: 7.6, Year: 2015},
}

func (b *Backend) AddMovie(m Movie) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.catalog[m.ID] = m
}

func (b *Backend) AddPerson(id string, movieIDs ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.people[id] = movieIDs
}

func (b *Backend) AddAccount(id, name, password string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts[name] = account{ID: id, Name: name, Password: password}
}

// SetList replaces a user's saved list as-is, partial entries included.
func (b *Backend) SetList(userID string, items ...Movie) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lists[userID] = append([]Movie(nil), items...)
}

func (b *Backend) List(userID string) []Movie {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Movie, len(b.lists[userID]))
	copy(out, b.lists[userID])
	return out
}

// Save prepends m unless the user already has it. It reports whether the
// list changed.
func (b *Backend) Save(userID string, m Movie) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, it := range b.lists[userID] {
		if it.ID == m.ID {
			return false
		}
	}
	if m.AddedAt == nil {
		now := time.Now().UTC()
		m.AddedAt = &now
	}
	b.lists[userID] = append([]Movie{m}, b.lists[userID]...)
	return true
}

func (b *Backend) Unsave(userID, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.lists[userID]
	for i, it := range list {
		if it.ID == id {
			b.lists[userID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return ErrNotInCollection
}

func (b *Backend) Movie(id string) (Movie, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.catalog[id]
	if !ok {
		return Movie{}, ErrUnknownMovie
	}
	return m, nil
}

func (b *Backend) MoviesByPerson(personID string) ([]Movie, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids, ok := b.people[personID]
	if !ok {
		return nil, false
	}
	out := make([]Movie, 0, len(ids))
	for _, id := range ids {
		if m, ok := b.catalog[id]; ok {
			out = append(out, m)
		}
	}
	return out, true
}

// Login issues a fresh token for the account.
func (b *Backend) Login(name, password string) (string, account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, ok := b.accounts[name]
	if !ok || acc.Password != password {
		return "", account{}, ErrBadCredentials
	}
	token := uuid.NewString()
	b.tokens[token] = acc.ID
	return token, acc, nil
}

func (b *Backend) Logout(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tokens, token)
}

// UserForToken returns the user id a token was issued to.
func (b *Backend) UserForToken(token string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.tokens[token]
	return id, ok
}

func (b *Backend) InjectFault(f Fault) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fault = f
}

func (b *Backend) SetLatency(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latency = d
}

// takeFault consumes one injected failure, if any.
func (b *Backend) takeFault() (Fault, time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fault.Count <= 0 {
		return Fault{}, b.latency, false
	}
	b.fault.Count--
	return b.fault, b.latency, true
}

// Package saved holds the user's saved titles (the "MovieBox").
package saved

import (
	"time"

	"github.com/rs/zerolog"

	"moviebox/internal/api"
	"moviebox/internal/collection"
	"moviebox/internal/storage"
)

type SavedItem struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Cover      string         `json:"cover"`
	Categories []string       `json:"categories"`
	Rating     api.FlexString `json:"rating"`
	IsSeries   bool           `json:"isSeries"`
	Year       api.FlexString `json:"year"`
	AddedAt    time.Time      `json:"addedAt"`
}

// Incomplete reports whether fields the list view needs are missing.
func (s SavedItem) Incomplete() bool {
	return s.Title == "" || s.Cover == "" || len(s.Categories) == 0
}

// FromMovie converts a backend title. AddedAt is taken from the server when
// present.
func FromMovie(m api.Movie) SavedItem {
	item := SavedItem{
		ID:         m.ID.String(),
		Title:      m.Title,
		Cover:      m.CoverURL(),
		Categories: m.Categories,
		Rating:     m.Rating,
		IsSeries:   m.IsSeries,
		Year:       m.Year,
	}
	if m.AddedAt != nil {
		item.AddedAt = *m.AddedAt
	}
	return item
}

func (s SavedItem) Movie() api.Movie {
	m := api.Movie{
		ID:         api.FlexString(s.ID),
		Title:      s.Title,
		Cover:      s.Cover,
		Categories: s.Categories,
		Rating:     s.Rating,
		IsSeries:   s.IsSeries,
		Year:       s.Year,
	}
	if !s.AddedAt.IsZero() {
		at := s.AddedAt
		m.AddedAt = &at
	}
	return m
}

// MergeDetail fills the fields s is missing from a detail lookup.
func (s SavedItem) MergeDetail(d api.Movie) SavedItem {
	if s.Title == "" {
		s.Title = d.Title
	}
	if s.Cover == "" {
		s.Cover = d.CoverURL()
	}
	if len(s.Categories) == 0 {
		s.Categories = d.Categories
	}
	if s.Rating == "" {
		s.Rating = d.Rating
	}
	if s.Year == "" {
		s.Year = d.Year
	}
	if !s.IsSeries {
		s.IsSeries = d.IsSeries
	}
	return s
}

// MovieBox is the saved-items collection, most recently saved first.
type MovieBox struct {
	*collection.Collection[SavedItem]
}

func NewMovieBox(store storage.Store, logger zerolog.Logger) *MovieBox {
	return NewMovieBoxWithClock(store, time.Now, logger)
}

// NewMovieBoxWithClock is NewMovieBox with a fixed time source.
func NewMovieBoxWithClock(store storage.Store, now func() time.Time, logger zerolog.Logger) *MovieBox {
	return &MovieBox{
		Collection: collection.New(collection.Options[SavedItem]{
			Key:      storage.KeySavedItems,
			Store:    store,
			Identity: func(s SavedItem) string { return s.ID },
			Stamp:    func(s *SavedItem, ts time.Time) { s.AddedAt = ts },
			Now:      now,
			Logger:   logger,
		}),
	}
}

// Save adds item stamped with the current time. Saving an id that is already
// present does nothing and returns false.
func (b *MovieBox) Save(item SavedItem) bool {
	return b.Add(item)
}

func (b *MovieBox) Unsave(id string) bool {
	return b.Remove(id)
}

func (b *MovieBox) IsSaved(id string) bool {
	return b.Has(id)
}

func (b *MovieBox) Item(id string) (SavedItem, bool) {
	return b.Get(id)
}

func (b *MovieBox) Items() []SavedItem {
	return b.Snapshot()
}

// Sorted returns the items in display order without touching the stored
// order.
func (b *MovieBox) Sorted(order SortOrder) []SavedItem {
	return Sort(b.Snapshot(), order)
}

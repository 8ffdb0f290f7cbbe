package history

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"moviebox/internal/collection"
	"moviebox/internal/storage"
)

var ErrInvalidEpisode = errors.New("history: series id, season >= 1 and episode >= 1 are required")

// Continue-watching window, same bounds the server used for playback state.
const (
	minInProgress = 0.02
	maxInProgress = 0.95
)

type WatchHistoryEntry struct {
	SeriesID     string    `json:"seriesId"`
	Season       int       `json:"season"`
	Episode      int       `json:"episode"`
	EpisodeTitle string    `json:"episodeTitle"`
	Thumbnail    string    `json:"thumbnail"`
	VideoURL     string    `json:"videoUrl"`
	Duration     int64     `json:"duration"` // Seconds
	WatchedAt    time.Time `json:"watchedAt"`
	Progress     float64   `json:"progress"` // 0.0 - 1.0
}

func entryKey(seriesID string, season, episode int) string {
	return fmt.Sprintf("%s/s%d/e%d", seriesID, season, episode)
}

func (e WatchHistoryEntry) Key() string {
	return entryKey(e.SeriesID, e.Season, e.Episode)
}

// History is the local watch history, most recently watched first. It has
// no remote counterpart.
type History struct {
	entries *collection.Collection[WatchHistoryEntry]
	logger  zerolog.Logger
}

func New(store storage.Store, logger zerolog.Logger) *History {
	return NewWithClock(store, time.Now, logger)
}

func NewWithClock(store storage.Store, now func() time.Time, logger zerolog.Logger) *History {
	return &History{
		entries: collection.New(collection.Options[WatchHistoryEntry]{
			Key:             storage.KeyWatchHistory,
			Store:           store,
			Identity:        WatchHistoryEntry.Key,
			Stamp:           func(e *WatchHistoryEntry, ts time.Time) { e.WatchedAt = ts },
			PromoteOnUpdate: true,
			Now:             now,
			Logger:          logger,
		}),
		logger: logger,
	}
}

func (h *History) Load(ctx context.Context) { h.entries.Load(ctx) }

func (h *History) Flush(ctx context.Context) error { return h.entries.Flush(ctx) }

func (h *History) Close(ctx context.Context) error { return h.entries.Close(ctx) }

func (h *History) Subscribe(fn func([]WatchHistoryEntry)) func() {
	return h.entries.Subscribe(fn)
}

// Start records that playback of an episode began. An existing entry for the
// same episode is replaced and moved to the front.
func (h *History) Start(e WatchHistoryEntry) error {
	if e.SeriesID == "" || e.Season < 1 || e.Episode < 1 {
		return ErrInvalidEpisode
	}
	e.Progress = 0
	h.entries.Put(e)

	h.logger.Debug().
		Str("series_id", e.SeriesID).
		Int("season", e.Season).
		Int("episode", e.Episode).
		Msg("playback started")
	return nil
}

// UpdateProgress sets progress for a tracked episode and moves it to the
// front. Untracked episodes are left alone and false is returned.
func (h *History) UpdateProgress(seriesID string, season, episode int, progress float64) bool {
	p := clampProgress(progress)
	return h.entries.Update(entryKey(seriesID, season, episode), func(e *WatchHistoryEntry) {
		e.Progress = p
	})
}

func (h *History) Clear() {
	h.entries.Clear()
}

func (h *History) Entry(seriesID string, season, episode int) (WatchHistoryEntry, bool) {
	return h.entries.Get(entryKey(seriesID, season, episode))
}

func (h *History) Entries() []WatchHistoryEntry {
	return h.entries.Snapshot()
}

// LatestForSeries returns the most recently watched episode of a series.
func (h *History) LatestForSeries(seriesID string) (WatchHistoryEntry, bool) {
	for _, e := range h.entries.Snapshot() {
		if e.SeriesID == seriesID {
			return e, true
		}
	}
	return WatchHistoryEntry{}, false
}

// ContinueWatching lists started but unfinished episodes, most recent first.
// A non-positive limit returns all of them.
func (h *History) ContinueWatching(limit int) []WatchHistoryEntry {
	var out []WatchHistoryEntry
	for _, e := range h.entries.Snapshot() {
		if e.Progress > minInProgress && e.Progress < maxInProgress {
			out = append(out, e)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out
}

func clampProgress(p float64) float64 {
	switch {
	case math.IsNaN(p) || math.IsInf(p, 0) || p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

package history

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moviebox/internal/storage"
)

func newTestHistory(t *testing.T, store storage.Store) *History {
	t.Helper()
	now := time.Date(2024, 2, 1, 20, 0, 0, 0, time.UTC)
	h := NewWithClock(store, func() time.Time {
		now = now.Add(time.Second)
		return now
	}, zerolog.Nop())
	t.Cleanup(func() { _ = h.Close(context.Background()) })
	return h
}

func episode(series string, season, ep int) WatchHistoryEntry {
	return WatchHistoryEntry{
		SeriesID:     series,
		Season:       season,
		Episode:      ep,
		EpisodeTitle: "Episode",
		VideoURL:     "https://cdn/v.m3u8",
		Duration:     2700,
	}
}

func TestHistory_UpdateProgressTwiceKeepsOneEntry(t *testing.T) {
	h := newTestHistory(t, nil)
	require.NoError(t, h.Start(episode("6", 4, 1)))

	require.True(t, h.UpdateProgress("6", 4, 1, 0.3))
	require.True(t, h.UpdateProgress("6", 4, 1, 0.9))

	entries := h.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, 0.9, entries[0].Progress)
}

func TestHistory_UpdateProgressUntrackedIsNoop(t *testing.T) {
	h := newTestHistory(t, nil)
	require.NoError(t, h.Start(episode("6", 4, 1)))
	before := h.Entries()

	assert.False(t, h.UpdateProgress("6", 4, 2, 0.5))
	assert.Equal(t, before, h.Entries())
}

func TestHistory_UpdateProgressOnlyTouchesTarget(t *testing.T) {
	h := newTestHistory(t, nil)
	require.NoError(t, h.Start(episode("1", 1, 1)))
	require.NoError(t, h.Start(episode("2", 1, 1)))
	require.NoError(t, h.Start(episode("3", 1, 1)))
	before := h.Entries()

	require.True(t, h.UpdateProgress("1", 1, 1, 0.5))
	after := h.Entries()

	require.Len(t, after, 3)
	assert.Equal(t, "1", after[0].SeriesID, "updated entry is promoted")
	assert.Equal(t, 0.5, after[0].Progress)
	assert.True(t, after[0].WatchedAt.After(before[2].WatchedAt))

	// the others are untouched
	assert.Equal(t, before[0], after[1])
	assert.Equal(t, before[1], after[2])
}

func TestHistory_StartReplacesExisting(t *testing.T) {
	h := newTestHistory(t, nil)
	require.NoError(t, h.Start(episode("6", 4, 1)))
	require.NoError(t, h.Start(episode("7", 1, 1)))
	h.UpdateProgress("6", 4, 1, 0.4)

	e := episode("6", 4, 1)
	e.EpisodeTitle = "Rewatch"
	e.Progress = 0.7 // ignored, playback starts at 0
	require.NoError(t, h.Start(e))

	entries := h.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "Rewatch", entries[0].EpisodeTitle)
	assert.Equal(t, 0.0, entries[0].Progress)
}

func TestHistory_StartValidates(t *testing.T) {
	h := newTestHistory(t, nil)
	assert.ErrorIs(t, h.Start(episode("", 1, 1)), ErrInvalidEpisode)
	assert.ErrorIs(t, h.Start(episode("6", 0, 1)), ErrInvalidEpisode)
	assert.ErrorIs(t, h.Start(episode("6", 1, 0)), ErrInvalidEpisode)
	assert.Empty(t, h.Entries())
}

func TestHistory_ProgressClamped(t *testing.T) {
	h := newTestHistory(t, nil)
	require.NoError(t, h.Start(episode("6", 1, 1)))

	h.UpdateProgress("6", 1, 1, 1.7)
	e, _ := h.Entry("6", 1, 1)
	assert.Equal(t, 1.0, e.Progress)

	h.UpdateProgress("6", 1, 1, -0.2)
	e, _ = h.Entry("6", 1, 1)
	assert.Equal(t, 0.0, e.Progress)

	h.UpdateProgress("6", 1, 1, math.NaN())
	e, _ = h.Entry("6", 1, 1)
	assert.Equal(t, 0.0, e.Progress)
}

func TestHistory_ContinueWatchingAndLatest(t *testing.T) {
	h := newTestHistory(t, nil)
	require.NoError(t, h.Start(episode("A", 1, 1)))
	require.NoError(t, h.Start(episode("A", 1, 2)))
	require.NoError(t, h.Start(episode("B", 2, 3)))
	require.NoError(t, h.Start(episode("C", 1, 1)))

	h.UpdateProgress("A", 1, 1, 0.97) // finished
	h.UpdateProgress("A", 1, 2, 0.5)
	h.UpdateProgress("B", 2, 3, 0.1)
	// C stays at 0: not started for continue-watching purposes

	cw := h.ContinueWatching(0)
	require.Len(t, cw, 2)
	assert.Equal(t, "B", cw[0].SeriesID)
	assert.Equal(t, "A", cw[1].SeriesID)

	assert.Len(t, h.ContinueWatching(1), 1)

	latest, ok := h.LatestForSeries("A")
	require.True(t, ok)
	assert.Equal(t, 2, latest.Episode)

	_, ok = h.LatestForSeries("Z")
	assert.False(t, ok)
}

func TestHistory_ClearAndRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	h := newTestHistory(t, store)
	require.NoError(t, h.Start(episode("6", 4, 1)))
	require.NoError(t, h.Start(episode("6", 4, 2)))
	h.UpdateProgress("6", 4, 1, 0.25)
	require.NoError(t, h.Flush(ctx))

	reloaded := newTestHistory(t, store)
	reloaded.Load(ctx)
	if diff := cmp.Diff(h.Entries(), reloaded.Entries()); diff != "" {
		t.Fatalf("history differs after reload (-want +got):\n%s", diff)
	}

	h.Clear()
	require.NoError(t, h.Flush(ctx))
	raw, ok, err := store.GetItem(ctx, storage.KeyWatchHistory)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "[]", raw)
}

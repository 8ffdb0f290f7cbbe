package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"moviebox/internal/api"
	"moviebox/internal/config"
	"moviebox/internal/saved"
	"moviebox/internal/storage"
)

var errRefused = &api.TransportError{Method: "GET", URL: "http://backend", Err: errors.New("connection refused")}

// fakeRemote keeps one saved list per user and lets tests inject failures.
type fakeRemote struct {
	mu        sync.Mutex
	lists     map[string][]api.Movie
	details   map[string]api.Movie
	listErr   error
	addErr    error
	removeErr error
	listHook  func(ctx context.Context, call int)
	listCalls int
	adds      []string
	removes   []string
	gets      atomic.Int32
	getGate   chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		lists:   make(map[string][]api.Movie),
		details: make(map[string]api.Movie),
	}
}

func (f *fakeRemote) set(user string, movies ...api.Movie) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[user] = movies
}

func (f *fakeRemote) ids(user string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.lists[user] {
		out = append(out, m.ID.String())
	}
	return out
}

// ListSavedItems answers with the list as it was when the call arrived; the
// hook runs afterwards, like a slow response.
func (f *fakeRemote) ListSavedItems(ctx context.Context, userID string) ([]api.Movie, error) {
	f.mu.Lock()
	f.listCalls++
	call, hook, listErr := f.listCalls, f.listHook, f.listErr
	out := make([]api.Movie, len(f.lists[userID]))
	copy(out, f.lists[userID])
	f.mu.Unlock()

	if hook != nil {
		hook(ctx, call)
	}
	if err := ctx.Err(); err != nil {
		return nil, &api.TransportError{Method: "GET", URL: "http://backend", Err: err}
	}
	if listErr != nil {
		return nil, listErr
	}
	return out, nil
}

func (f *fakeRemote) AddSavedItem(ctx context.Context, userID string, item api.Movie) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds = append(f.adds, item.ID.String())
	if f.addErr != nil {
		return f.addErr
	}
	for _, m := range f.lists[userID] {
		if m.ID == item.ID {
			return nil
		}
	}
	f.lists[userID] = append([]api.Movie{item}, f.lists[userID]...)
	return nil
}

func (f *fakeRemote) RemoveSavedItem(ctx context.Context, userID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes = append(f.removes, id)
	if f.removeErr != nil {
		return f.removeErr
	}
	list := f.lists[userID]
	for i, m := range list {
		if m.ID.String() == id {
			f.lists[userID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return &api.ServerError{Code: 404, Message: "not found"}
}

func (f *fakeRemote) GetMovie(ctx context.Context, id string) (*api.Movie, error) {
	f.gets.Add(1)
	if f.getGate != nil {
		select {
		case <-f.getGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.details[id]
	if !ok {
		return nil, &api.ServerError{Code: 404, Message: "not found"}
	}
	return &m, nil
}

func movie(id, title string) api.Movie {
	return api.Movie{ID: api.FlexString(id), Title: title, Cover: "/c/" + id + ".jpg", Categories: []string{"drama"}}
}

func ids(items []saved.SavedItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func newTestReconciler(t *testing.T, remote *fakeRemote, enricher *Enricher) (*Reconciler, *saved.MovieBox) {
	t.Helper()
	box := saved.NewMovieBox(storage.NewMemoryStore(), zerolog.Nop())
	r := New(box, remote, Options{Enricher: enricher, TaskTimeout: time.Second, Logger: zerolog.Nop()})
	t.Cleanup(func() {
		ctx := context.Background()
		_ = r.Close(ctx)
		_ = box.Close(ctx)
	})
	return r, box
}

func newTestReconcilerOn(t *testing.T, box *saved.MovieBox, remote *fakeRemote, store storage.Store) (*Reconciler, *saved.MovieBox) {
	t.Helper()
	r := New(box, remote, Options{Store: store, TaskTimeout: time.Second, Logger: zerolog.Nop()})
	t.Cleanup(func() {
		ctx := context.Background()
		_ = r.Close(ctx)
		_ = box.Close(ctx)
	})
	return r, box
}

func drain(t *testing.T, r *Reconciler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Drain(ctx))
}

func TestSync_FirstLoadKeepsSignedOutSaves(t *testing.T) {
	remote := newFakeRemote()
	remote.set("u1", movie("a", "Alien"), movie("c", "Cargo"))
	r, box := newTestReconciler(t, remote, nil)

	require.True(t, r.Save(saved.FromMovie(movie("b", "Brazil"))))
	assert.Equal(t, 1, r.Status().PendingAdds)

	r.SetUser(context.Background(), "u1")
	r.Wait()
	drain(t, r)

	assert.Equal(t, []string{"b", "a", "c"}, ids(box.Items()))
	st := r.Status()
	assert.Equal(t, StateSynced, st.State)
	assert.Equal(t, "u1", st.UserID)
	assert.Zero(t, st.PendingAdds)
	assert.False(t, st.LastSynced.IsZero())
	assert.Equal(t, []string{"b", "a", "c"}, remote.ids("u1"))
}

func TestSave_OfflineThenRetryDoesNotDuplicate(t *testing.T) {
	remote := newFakeRemote()
	r, box := newTestReconciler(t, remote, nil)
	r.SetUser(context.Background(), "u1")
	r.Wait()

	remote.mu.Lock()
	remote.addErr = errRefused
	remote.mu.Unlock()

	require.True(t, r.Save(saved.FromMovie(movie("x", "Xanadu"))))
	assert.False(t, r.Save(saved.FromMovie(movie("x", "Xanadu"))), "second save is a no-op")
	drain(t, r)

	st := r.Status()
	assert.Equal(t, 1, st.PendingAdds)
	assert.Error(t, st.LastMutationError)
	assert.Equal(t, StateSynced, st.State, "mutation failures do not change state")
	assert.True(t, box.IsSaved("x"))

	remote.mu.Lock()
	remote.addErr = nil
	remote.mu.Unlock()

	require.NoError(t, r.Sync(context.Background()))
	drain(t, r)
	require.NoError(t, r.Sync(context.Background()))
	drain(t, r)

	assert.Equal(t, []string{"x"}, remote.ids("u1"))
	assert.Equal(t, []string{"x"}, ids(box.Items()))
	assert.Zero(t, r.Status().PendingAdds)
}

func TestRemove_NotFoundCountsAsDone(t *testing.T) {
	remote := newFakeRemote()
	r, box := newTestReconciler(t, remote, nil)
	r.SetUser(context.Background(), "u1")
	r.Wait()

	require.True(t, box.Save(saved.FromMovie(movie("ghost", "Ghost"))))
	require.True(t, r.Remove("ghost"))
	drain(t, r)

	assert.Equal(t, []string{"ghost"}, remote.removes)
	st := r.Status()
	assert.Zero(t, st.PendingRemoves)
	assert.NoError(t, st.LastMutationError)
	assert.False(t, r.Remove("ghost"))
}

func TestRemove_FailureKeepsItemHiddenAcrossLoads(t *testing.T) {
	remote := newFakeRemote()
	remote.set("u1", movie("a", "Alien"), movie("b", "Brazil"))
	r, box := newTestReconciler(t, remote, nil)
	r.SetUser(context.Background(), "u1")
	r.Wait()
	require.Equal(t, []string{"a", "b"}, ids(box.Items()))

	remote.mu.Lock()
	remote.removeErr = errRefused
	remote.mu.Unlock()

	require.True(t, r.Remove("a"))
	drain(t, r)
	assert.Equal(t, 1, r.Status().PendingRemoves)

	require.NoError(t, r.Sync(context.Background()))
	assert.Equal(t, []string{"b"}, ids(box.Items()), "server still lists a but the local removal wins")

	remote.mu.Lock()
	remote.removeErr = nil
	remote.mu.Unlock()

	require.NoError(t, r.Sync(context.Background()))
	drain(t, r)
	assert.Equal(t, []string{"b"}, remote.ids("u1"))
	assert.Zero(t, r.Status().PendingRemoves)
}

func TestSync_LaterLoadDoesNotResurrectRemovedItems(t *testing.T) {
	remote := newFakeRemote()
	remote.set("u1", movie("a", "Alien"))
	r, box := newTestReconciler(t, remote, nil)
	r.SetUser(context.Background(), "u1")
	r.Wait()

	require.True(t, r.Remove("a"))
	drain(t, r)
	// the backend lags and still lists the removed title
	remote.set("u1", movie("a", "Alien"), movie("n", "Nope"))

	require.NoError(t, r.Sync(context.Background()))
	assert.Empty(t, box.Items())
}

func TestSync_LocalAddedAtWins(t *testing.T) {
	remote := newFakeRemote()
	serverTime := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	m := movie("a", "Alien")
	m.AddedAt = &serverTime
	remote.set("u1", m)

	r, box := newTestReconciler(t, remote, nil)
	require.True(t, r.Save(saved.SavedItem{ID: "a", Title: "Alien"}))
	local, _ := box.Item("a")

	r.SetUser(context.Background(), "u1")
	r.Wait()
	drain(t, r)

	got, ok := box.Item("a")
	require.True(t, ok)
	assert.True(t, got.AddedAt.Equal(local.AddedAt))
	assert.Equal(t, "/c/a.jpg", got.Cover, "missing local fields come from the server")
}

func TestSync_StaleResultDiscarded(t *testing.T) {
	remote := newFakeRemote()
	remote.set("u1", movie("old", "Old"))

	started := make(chan struct{})
	release := make(chan struct{})
	remote.listHook = func(_ context.Context, call int) {
		if call == 1 {
			close(started)
			<-release
		}
	}

	r, box := newTestReconciler(t, remote, nil)
	r.mu.Lock()
	r.userID = "u1"
	r.mu.Unlock()

	errc := make(chan error, 1)
	go func() { errc <- r.Sync(context.Background()) }()
	<-started

	remote.set("u1", movie("new", "New"))
	require.NoError(t, r.Sync(context.Background()))
	assert.Equal(t, []string{"new"}, ids(box.Items()))

	remote.set("u1", movie("old", "Old"))
	close(release)
	assert.ErrorIs(t, <-errc, ErrSuperseded)
	assert.Equal(t, []string{"new"}, ids(box.Items()))
	assert.Equal(t, StateSynced, r.Status().State)
}

// blockFirstList makes the first list call wait for release and reports when
// it has started.
func blockFirstList(remote *fakeRemote) (started, release chan struct{}) {
	started = make(chan struct{})
	release = make(chan struct{})
	remote.listHook = func(_ context.Context, call int) {
		if call == 1 {
			close(started)
			<-release
		}
	}
	return started, release
}

func TestSync_SaveDuringLoadSurvivesOlderList(t *testing.T) {
	remote := newFakeRemote()
	remote.set("u1", movie("a", "Alien"))
	started, release := blockFirstList(remote)
	r, box := newTestReconciler(t, remote, nil)

	r.SetUser(context.Background(), "u1")
	<-started

	require.True(t, r.Save(saved.FromMovie(movie("42", "Heat"))))
	drain(t, r)
	require.Zero(t, r.Status().PendingAdds, "the backend already has it")
	require.Equal(t, []string{"42", "a"}, remote.ids("u1"))

	close(release)
	r.Wait()
	assert.Equal(t, []string{"42", "a"}, ids(box.Items()))
	assert.Equal(t, StateSynced, r.Status().State)

	require.NoError(t, r.Sync(context.Background()))
	assert.Equal(t, []string{"42", "a"}, ids(box.Items()))
	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Empty(t, r.edits, "settled edits are forgotten once a later list reflects them")
}

func TestSync_RemoveDuringFirstLoadIsNotResurrected(t *testing.T) {
	remote := newFakeRemote()
	remote.set("u1", movie("a", "Alien"), movie("b", "Brazil"))
	started, release := blockFirstList(remote)
	r, box := newTestReconciler(t, remote, nil)
	require.True(t, box.Save(saved.FromMovie(movie("a", "Alien"))))

	r.SetUser(context.Background(), "u1")
	<-started

	require.True(t, r.Remove("a"))
	drain(t, r)
	require.Zero(t, r.Status().PendingRemoves)
	require.Equal(t, []string{"b"}, remote.ids("u1"))

	close(release)
	r.Wait()
	assert.Equal(t, []string{"b"}, ids(box.Items()))

	require.NoError(t, r.Sync(context.Background()))
	assert.Equal(t, []string{"b"}, ids(box.Items()))
}

func TestReconciler_PendingMutationsSurviveRestart(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	remote := newFakeRemote()
	remote.set("u1", movie("a", "Alien"), movie("b", "Brazil"))

	box := saved.NewMovieBox(store, zerolog.Nop())
	r := New(box, remote, Options{Store: store, TaskTimeout: time.Second, Logger: zerolog.Nop()})
	r.Load(ctx)
	r.SetUser(ctx, "u1")
	r.Wait()

	remote.mu.Lock()
	remote.addErr = errRefused
	remote.removeErr = errRefused
	remote.mu.Unlock()
	require.True(t, r.Save(saved.FromMovie(movie("x", "Xanadu"))))
	require.True(t, r.Remove("a"))
	drain(t, r)
	require.NoError(t, r.Close(ctx))
	require.NoError(t, box.Close(ctx))

	remote.mu.Lock()
	remote.addErr = nil
	remote.removeErr = nil
	remote.mu.Unlock()

	box2 := saved.NewMovieBox(store, zerolog.Nop())
	box2.Load(ctx)
	r2, _ := newTestReconcilerOn(t, box2, remote, store)
	r2.Load(ctx)
	st := r2.Status()
	assert.Equal(t, 1, st.PendingAdds)
	assert.Equal(t, 1, st.PendingRemoves)

	r2.SetUser(ctx, "u1")
	r2.Wait()
	drain(t, r2)

	assert.Equal(t, []string{"x", "b"}, ids(box2.Items()))
	assert.Equal(t, []string{"x", "b"}, remote.ids("u1"))
	assert.Zero(t, r2.Status().PendingAdds)
	assert.Zero(t, r2.Status().PendingRemoves)
}

func TestReconciler_RestoredPendingIgnoredForOtherUser(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	remote := newFakeRemote()
	remote.set("u2", movie("z", "Zodiac"))

	box := saved.NewMovieBox(store, zerolog.Nop())
	r := New(box, remote, Options{Store: store, TaskTimeout: time.Second, Logger: zerolog.Nop()})
	r.SetUser(ctx, "u1")
	r.Wait()
	remote.mu.Lock()
	remote.addErr = errRefused
	remote.mu.Unlock()
	require.True(t, r.Save(saved.FromMovie(movie("x", "Xanadu"))))
	drain(t, r)
	require.NoError(t, r.Close(ctx))
	require.NoError(t, box.Close(ctx))

	box2 := saved.NewMovieBox(store, zerolog.Nop())
	box2.Load(ctx)
	r2, _ := newTestReconcilerOn(t, box2, remote, store)
	r2.Load(ctx)
	r2.SetUser(ctx, "u2")
	assert.Zero(t, r2.Status().PendingAdds)
	r2.Wait()
	assert.Equal(t, []string{"z"}, ids(box2.Items()))
}

func TestSetUser_LoadOutlivesCallerContext(t *testing.T) {
	remote := newFakeRemote()
	remote.set("u1", movie("a", "Alien"))
	started, release := blockFirstList(remote)
	r, box := newTestReconciler(t, remote, nil)

	ctx, cancel := context.WithCancel(context.Background())
	r.SetUser(ctx, "u1")
	<-started
	cancel()
	close(release)
	r.Wait()

	assert.Equal(t, StateSynced, r.Status().State)
	assert.Equal(t, []string{"a"}, ids(box.Items()))
}

func TestReconciler_CloseCancelsLoad(t *testing.T) {
	remote := newFakeRemote()
	remote.listHook = func(ctx context.Context, _ int) { <-ctx.Done() }
	r, _ := newTestReconciler(t, remote, nil)

	r.SetUser(context.Background(), "u1")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Close(ctx))
	assert.Equal(t, StateLoading, r.Status().State, "a load cut short by Close is not reported as a failure")
}

func TestSync_ErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want api.ErrorKind
	}{
		{"transport", errRefused, api.KindNetwork},
		{"rejected", &api.ServerError{Code: 500, Message: "boom"}, api.KindServer},
		{"bad body", &api.ResponseError{Status: 502, Body: "<html>"}, api.KindServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := newFakeRemote()
			r, box := newTestReconciler(t, remote, nil)
			require.True(t, box.Save(saved.FromMovie(movie("keep", "Keep"))))

			remote.listErr = tt.err
			r.SetUser(context.Background(), "u1")
			r.Wait()

			st := r.Status()
			assert.Equal(t, StateError, st.State)
			assert.Equal(t, tt.want, st.ErrorKind)
			assert.ErrorIs(t, st.Err, tt.err)
			assert.Equal(t, []string{"keep"}, ids(box.Items()), "local data survives a failed load")

			remote.mu.Lock()
			remote.listErr = nil
			remote.mu.Unlock()
			require.NoError(t, r.Retry(context.Background()))
			r.Wait()
			assert.Equal(t, StateSynced, r.Status().State)
			assert.Equal(t, api.KindNone, r.Status().ErrorKind)
		})
	}
}

func TestSetUser_SwitchAndLogout(t *testing.T) {
	remote := newFakeRemote()
	remote.set("u1", movie("a", "Alien"))
	remote.set("u2", movie("z", "Zodiac"))
	r, box := newTestReconciler(t, remote, nil)

	var (
		mu     sync.Mutex
		states []State
	)
	unsub := r.Subscribe(func(s Status) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	})
	defer unsub()

	r.SetUser(context.Background(), "u1")
	r.Wait()
	r.SetUser(context.Background(), "u1")
	r.Wait()
	assert.Equal(t, []string{"a"}, ids(box.Items()))

	remote.mu.Lock()
	remote.addErr = errRefused
	remote.mu.Unlock()
	require.True(t, r.Save(saved.FromMovie(movie("p", "Pending"))))
	drain(t, r)
	require.Equal(t, 1, r.Status().PendingAdds)

	r.SetUser(context.Background(), "u2")
	assert.Zero(t, r.Status().PendingAdds, "pending work does not follow a different user")
	r.Wait()
	assert.Equal(t, "u2", r.Status().UserID)

	r.SetUser(context.Background(), "")
	st := r.Status()
	assert.Equal(t, StateUnloaded, st.State)
	assert.NotEmpty(t, box.Items(), "signing out keeps the local collection")
	assert.ErrorIs(t, r.Sync(context.Background()), ErrNoUser)
	assert.ErrorIs(t, r.Retry(context.Background()), ErrNoUser)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, StateLoading)
	assert.Contains(t, states, StateSynced)
	assert.Equal(t, StateUnloaded, states[len(states)-1])
}

func TestEnricher_FillsIncompleteItems(t *testing.T) {
	remote := newFakeRemote()
	remote.details["a"] = movie("a", "Alien")
	remote.set("u1",
		api.Movie{ID: "a"},
		api.Movie{ID: "b"},
		movie("c", "Cargo"),
	)

	enricher := NewEnricher(remote, config.SyncConfig{DetailConcurrency: 2}, zerolog.Nop())
	r, box := newTestReconciler(t, remote, enricher)
	r.SetUser(context.Background(), "u1")
	r.Wait()

	items := box.Items()
	require.Equal(t, []string{"a", "b", "c"}, ids(items))
	assert.Equal(t, "Alien", items[0].Title)
	assert.Equal(t, []string{"drama"}, items[0].Categories)
	assert.Empty(t, items[1].Title, "failed detail keeps the partial item")
	assert.Equal(t, int32(2), remote.gets.Load())

	require.NoError(t, r.Sync(context.Background()))
	assert.Equal(t, int32(3), remote.gets.Load(), "cached detail is not fetched again")
	assert.Equal(t, 1, enricher.CacheStats().Len)
}

func TestEnricher_SharesConcurrentFetches(t *testing.T) {
	remote := newFakeRemote()
	remote.details["a"] = movie("a", "Alien")
	remote.getGate = make(chan struct{})
	enricher := NewEnricher(remote, config.SyncConfig{DetailConcurrency: 4}, zerolog.Nop())

	ctx := context.Background()
	var wg sync.WaitGroup
	results := make([]*api.Movie, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := enricher.Detail(ctx, "a")
			if err == nil {
				results[i] = m
			}
		}(i)
	}

	require.Eventually(t, func() bool { return remote.gets.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(remote.getGate)
	wg.Wait()

	assert.LessOrEqual(t, remote.gets.Load(), int32(2))
	for _, m := range results {
		require.NotNil(t, m)
		assert.Equal(t, "Alien", m.Title)
	}
}

func TestOutbox_RunsInOrderAndDedupes(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	gate := make(chan struct{})
	o := newOutbox(func(ctx context.Context, tk task) error {
		<-gate
		mu.Lock()
		seen = append(seen, string(tk.Op)+":"+tk.ItemID)
		mu.Unlock()
		return nil
	}, time.Second, zerolog.Nop())

	assert.True(t, o.enqueue(task{Op: opAdd, UserID: "u", ItemID: "1"}))
	require.Eventually(t, func() bool {
		o.mu.Lock()
		defer o.mu.Unlock()
		return o.busy && len(o.queue) == 0
	}, time.Second, time.Millisecond)
	assert.True(t, o.enqueue(task{Op: opAdd, UserID: "u", ItemID: "2"}))
	assert.False(t, o.enqueue(task{Op: opAdd, UserID: "u", ItemID: "2"}))
	assert.True(t, o.enqueue(task{Op: opRemove, UserID: "u", ItemID: "1"}))
	close(gate)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, o.close(ctx))
	assert.Equal(t, []string{"add:1", "add:2", "remove:1"}, seen)
	assert.False(t, o.enqueue(task{Op: opAdd, UserID: "u", ItemID: "3"}))
}

func TestReconciler_CloseStopsWorkers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	remote := newFakeRemote()
	remote.set("u1", movie("a", "Alien"))
	box := saved.NewMovieBox(storage.NewMemoryStore(), zerolog.Nop())
	r := New(box, remote, Options{Logger: zerolog.Nop()})

	r.SetUser(context.Background(), "u1")
	r.Save(saved.FromMovie(movie("b", "Brazil")))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Close(ctx))
	require.NoError(t, r.Close(ctx))
	require.NoError(t, box.Close(ctx))

	assert.ErrorIs(t, r.Sync(ctx), ErrClosed)
}

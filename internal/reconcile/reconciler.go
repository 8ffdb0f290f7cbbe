// Package reconcile keeps the local saved-items collection in step with the
// backend without letting a slow or failing request undo a local action.
package reconcile

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"moviebox/internal/api"
	"moviebox/internal/collection"
	"moviebox/internal/metrics"
	"moviebox/internal/saved"
	"moviebox/internal/storage"
)

const collectionName = "saved"

var (
	ErrNoUser     = errors.New("reconcile: no user signed in")
	ErrSuperseded = errors.New("reconcile: load superseded by a newer request")
	ErrClosed     = errors.New("reconcile: reconciler closed")
)

// Remote is the slice of the backend the reconciler talks to.
type Remote interface {
	DetailSource
	ListSavedItems(ctx context.Context, userID string) ([]api.Movie, error)
	AddSavedItem(ctx context.Context, userID string, item api.Movie) error
	RemoveSavedItem(ctx context.Context, userID, id string) error
}

type Options struct {
	// Enricher is optional; without it incomplete items are kept as sent.
	Enricher *Enricher
	// Store keeps pending mutations across restarts. Optional.
	Store       storage.Store
	TaskTimeout time.Duration
	Now         func() time.Time
	Logger      zerolog.Logger
}

// pendingState is the persisted form of the pending sets.
type pendingState struct {
	UserID  string   `json:"userId,omitempty"`
	Adds    []string `json:"adds,omitempty"`
	Removes []string `json:"removes,omitempty"`
}

// localEdit is the latest local save or remove of one id. It overrides load
// results until a load issued after its remote call finished is applied.
type localEdit struct {
	saved      bool
	settled    bool
	settledGen uint64
}

type Reconciler struct {
	box      *saved.MovieBox
	remote   Remote
	enricher *Enricher
	outbox   *outbox
	pending  *collection.Document[pendingState]
	now      func() time.Time
	logger   zerolog.Logger

	// ctx bounds background loads; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	userID         string
	state          State
	errKind        api.ErrorKind
	lastErr        error
	lastSynced     time.Time
	lastMutErr     error
	loadedOnce     bool
	generation     uint64
	pendingAdds    map[string]struct{}
	pendingRemoves map[string]struct{}
	pendingUser    string
	edits          map[string]localEdit
	subs           map[int]func(Status)
	nextSub        int
	closed         bool

	loads sync.WaitGroup
}

func New(box *saved.MovieBox, remote Remote, opts Options) *Reconciler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 15 * time.Second
	}

	r := &Reconciler{
		box:            box,
		remote:         remote,
		enricher:       opts.Enricher,
		now:            opts.Now,
		logger:         opts.Logger,
		pendingAdds:    make(map[string]struct{}),
		pendingRemoves: make(map[string]struct{}),
		edits:          make(map[string]localEdit),
		subs:           make(map[int]func(Status)),
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	if opts.Store != nil {
		r.pending = collection.NewDocument(storage.KeyPendingMutations, opts.Store, pendingState{}, opts.Logger)
	}
	r.outbox = newOutbox(r.handleTask, opts.TaskTimeout, opts.Logger)
	metrics.ReconcileState.WithLabelValues(collectionName).Set(float64(StateUnloaded))
	return r
}

// Load restores pending mutations saved by an earlier run. Call it before
// the first SetUser.
func (r *Reconciler) Load(ctx context.Context) {
	if r.pending == nil {
		return
	}
	r.pending.Load(ctx)
	ps := r.pending.Get()

	r.mu.Lock()
	r.pendingUser = ps.UserID
	for _, id := range ps.Adds {
		r.pendingAdds[id] = struct{}{}
	}
	for _, id := range ps.Removes {
		r.pendingRemoves[id] = struct{}{}
	}
	r.mu.Unlock()

	if len(ps.Adds)+len(ps.Removes) > 0 {
		r.logger.Info().
			Str("user_id", ps.UserID).
			Int("adds", len(ps.Adds)).
			Int("removes", len(ps.Removes)).
			Msg("restored pending mutations")
	}
}

func (r *Reconciler) persistPendingLocked() {
	if r.pending == nil {
		return
	}
	r.pending.Set(pendingState{
		UserID:  r.pendingUser,
		Adds:    slices.Sorted(maps.Keys(r.pendingAdds)),
		Removes: slices.Sorted(maps.Keys(r.pendingRemoves)),
	})
}

func (r *Reconciler) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked()
}

func (r *Reconciler) statusLocked() Status {
	return Status{
		State:             r.state,
		UserID:            r.userID,
		ErrorKind:         r.errKind,
		Err:               r.lastErr,
		LastSynced:        r.lastSynced,
		LastMutationError: r.lastMutErr,
		PendingAdds:       len(r.pendingAdds),
		PendingRemoves:    len(r.pendingRemoves),
	}
}

// Subscribe registers fn for status changes and returns its removal func.
func (r *Reconciler) Subscribe(fn func(Status)) func() {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

// setStateLocked updates state and returns the notification to deliver once
// the lock is released.
func (r *Reconciler) setStateLocked(s State) func() {
	r.state = s
	if s != StateError {
		r.errKind = api.KindNone
		r.lastErr = nil
	}
	metrics.ReconcileState.WithLabelValues(collectionName).Set(float64(s))
	return r.notifierLocked()
}

func (r *Reconciler) notifierLocked() func() {
	st := r.statusLocked()
	subs := make([]func(Status), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	return func() {
		for _, fn := range subs {
			fn(st)
		}
	}
}

// SetUser changes the signed-in identity. A new user starts a background
// load; the same user again is a no-op; an empty id signs out, returns to
// Unloaded and discards any in-flight load.
func (r *Reconciler) SetUser(ctx context.Context, userID string) {
	r.mu.Lock()
	if r.closed || userID == r.userID {
		r.mu.Unlock()
		return
	}

	prev := r.userID
	r.userID = userID
	r.loadedOnce = false
	r.generation++
	r.edits = make(map[string]localEdit)
	if prev != "" || (r.pendingUser != "" && r.pendingUser != userID) {
		// Pending work belonged to the previous user.
		r.pendingAdds = make(map[string]struct{})
		r.pendingRemoves = make(map[string]struct{})
	}
	r.pendingUser = userID
	r.persistPendingLocked()

	var notify func()
	if userID == "" {
		notify = r.setStateLocked(StateUnloaded)
	} else {
		notify = r.setStateLocked(StateLoading)
	}
	r.mu.Unlock()
	notify()

	r.logger.Info().Str("previous", prev).Str("user_id", userID).Msg("user identity changed")

	if userID != "" {
		r.background(ctx)
	}
}

// background runs a load that outlives ctx's cancellation but keeps its
// values. Close cancels it.
func (r *Reconciler) background(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.loads.Add(1)
	r.mu.Unlock()

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(r.ctx, cancel)
	go func() {
		defer r.loads.Done()
		defer cancel()
		defer stop()
		_ = r.Sync(ctx)
	}()
}

// Retry re-enters Loading from the current local state in the background.
func (r *Reconciler) Retry(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.userID == "" {
		r.mu.Unlock()
		return ErrNoUser
	}
	r.mu.Unlock()

	r.background(ctx)
	return nil
}

// Wait blocks until background loads started so far have finished.
func (r *Reconciler) Wait() {
	r.loads.Wait()
}

// Sync performs one full load. A load that is overtaken by a newer load or
// an identity change returns ErrSuperseded and applies nothing.
func (r *Reconciler) Sync(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.userID == "" {
		r.mu.Unlock()
		return ErrNoUser
	}
	r.generation++
	gen, user := r.generation, r.userID
	notify := r.setStateLocked(StateLoading)
	r.mu.Unlock()
	notify()

	log := r.logger.With().Str("user_id", user).Uint64("generation", gen).Logger()
	log.Debug().Msg("loading saved items")

	movies, err := r.remote.ListSavedItems(ctx, user)
	if err != nil {
		return r.fail(gen, err, log)
	}

	server := make([]saved.SavedItem, 0, len(movies))
	for _, m := range movies {
		if m.ID == "" {
			continue
		}
		server = append(server, saved.FromMovie(m))
	}
	server = r.enrich(ctx, server)

	var (
		applied bool
		reissue []task
	)
	r.box.Apply(func(current []saved.SavedItem) []saved.SavedItem {
		r.mu.Lock()
		defer r.mu.Unlock()

		if gen != r.generation || user != r.userID {
			return current
		}
		applied = true

		merged := r.mergeLocked(current, server)
		reissue = r.settlePendingLocked(user, current, server)
		r.pruneEditsLocked(gen)
		r.persistPendingLocked()
		r.loadedOnce = true
		return merged
	})

	if !applied {
		metrics.ReconcileLoads.WithLabelValues(collectionName, "stale").Inc()
		log.Debug().Msg("discarding superseded load result")
		return ErrSuperseded
	}

	r.mu.Lock()
	r.lastSynced = r.now()
	notify = r.setStateLocked(StateSynced)
	r.mu.Unlock()
	notify()

	for _, t := range reissue {
		r.outbox.enqueue(t)
	}

	metrics.ReconcileLoads.WithLabelValues(collectionName, "synced").Inc()
	log.Info().Int("server_items", len(server)).Int("reissued", len(reissue)).Msg("saved items synced")
	return nil
}

func (r *Reconciler) fail(gen uint64, err error, log zerolog.Logger) error {
	kind := api.Classify(err, nil)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		log.Debug().Err(err).Msg("load abandoned on close")
		return ErrClosed
	}
	if gen != r.generation {
		r.mu.Unlock()
		metrics.ReconcileLoads.WithLabelValues(collectionName, "stale").Inc()
		return ErrSuperseded
	}
	r.state = StateError
	r.errKind = kind
	r.lastErr = err
	metrics.ReconcileState.WithLabelValues(collectionName).Set(float64(StateError))
	notify := r.notifierLocked()
	r.mu.Unlock()
	notify()

	metrics.ReconcileLoads.WithLabelValues(collectionName, string(kind)).Inc()
	log.Error().Err(err).Str("kind", string(kind)).Msg("failed to load saved items, keeping local data")
	return err
}

func (r *Reconciler) enrich(ctx context.Context, server []saved.SavedItem) []saved.SavedItem {
	if r.enricher == nil {
		return server
	}

	// Only fetch details for items that stay incomplete after borrowing
	// what the local copy already knows.
	local := make(map[string]saved.SavedItem)
	for _, it := range r.box.Snapshot() {
		local[it.ID] = it
	}
	for i, it := range server {
		if l, ok := local[it.ID]; ok {
			server[i] = it.MergeDetail(l.Movie())
		}
	}
	return r.enricher.Enrich(ctx, server)
}

// mergeLocked computes the collection after a successful load.
//
// First load for a user: the server list wins, minus pending removals, plus
// pending additions the server does not list yet (in front, local order).
// Later loads: server items are kept only if still tracked locally.
// Unsettled local edits override the server in both cases. Locally known
// addedAt always wins.
func (r *Reconciler) mergeLocked(current, server []saved.SavedItem) []saved.SavedItem {
	local := make(map[string]saved.SavedItem, len(current))
	for _, it := range current {
		local[it.ID] = it
	}
	onServer := make(map[string]struct{}, len(server))
	for _, it := range server {
		onServer[it.ID] = struct{}{}
	}

	merged := make([]saved.SavedItem, 0, len(server)+len(r.pendingAdds))

	for _, it := range current {
		if !r.keepLocalLocked(it.ID) {
			continue
		}
		if _, ok := onServer[it.ID]; ok {
			continue
		}
		merged = append(merged, it)
	}

	for _, it := range server {
		if r.dropRemoteLocked(it.ID) {
			continue
		}
		l, tracked := local[it.ID]
		if r.loadedOnce && !tracked {
			continue
		}
		if tracked {
			if !l.AddedAt.IsZero() {
				it.AddedAt = l.AddedAt
			}
			it = it.MergeDetail(l.Movie())
		}
		if it.AddedAt.IsZero() {
			it.AddedAt = r.now()
		}
		merged = append(merged, it)
	}

	return merged
}

func (r *Reconciler) keepLocalLocked(id string) bool {
	if _, ok := r.pendingAdds[id]; ok {
		return true
	}
	e, ok := r.edits[id]
	return ok && e.saved
}

func (r *Reconciler) dropRemoteLocked(id string) bool {
	if _, ok := r.pendingRemoves[id]; ok {
		return true
	}
	e, ok := r.edits[id]
	return ok && !e.saved
}

// pruneEditsLocked forgets edits whose remote call finished before load gen
// was issued; that load's list already reflects them.
func (r *Reconciler) pruneEditsLocked(gen uint64) {
	for id, e := range r.edits {
		if e.settled && e.settledGen < gen {
			delete(r.edits, id)
		}
	}
}

// settlePendingLocked clears pending entries the server already agrees with
// and returns tasks for the ones it does not.
func (r *Reconciler) settlePendingLocked(user string, current, server []saved.SavedItem) []task {
	onServer := make(map[string]struct{}, len(server))
	for _, it := range server {
		onServer[it.ID] = struct{}{}
	}

	var tasks []task
	for _, it := range current {
		if _, ok := r.pendingAdds[it.ID]; !ok {
			continue
		}
		if _, ok := onServer[it.ID]; ok {
			delete(r.pendingAdds, it.ID)
			continue
		}
		tasks = append(tasks, task{Op: opAdd, UserID: user, ItemID: it.ID, Movie: it.Movie()})
	}
	// pending adds no longer in the local list were removed meanwhile
	for id := range r.pendingAdds {
		found := false
		for _, it := range current {
			if it.ID == id {
				found = true
				break
			}
		}
		if !found {
			delete(r.pendingAdds, id)
		}
	}

	for id := range r.pendingRemoves {
		if _, ok := onServer[id]; !ok {
			delete(r.pendingRemoves, id)
			continue
		}
		tasks = append(tasks, task{Op: opRemove, UserID: user, ItemID: id})
	}
	return tasks
}

// Save adds item locally at once and queues the remote add. It returns false
// when the item was already saved.
func (r *Reconciler) Save(item saved.SavedItem) bool {
	r.mu.Lock()
	_, wasPending := r.pendingAdds[item.ID]
	r.pendingAdds[item.ID] = struct{}{}
	delete(r.pendingRemoves, item.ID)
	user := r.userID
	r.mu.Unlock()

	if !r.box.Save(item) {
		r.mu.Lock()
		if !wasPending {
			delete(r.pendingAdds, item.ID)
		}
		r.persistPendingLocked()
		r.mu.Unlock()
		return false
	}

	r.mu.Lock()
	r.persistPendingLocked()
	if user != "" && user == r.userID {
		r.edits[item.ID] = localEdit{saved: true}
	}
	r.mu.Unlock()

	if user != "" {
		stored, _ := r.box.Item(item.ID)
		r.outbox.enqueue(task{Op: opAdd, UserID: user, ItemID: item.ID, Movie: stored.Movie()})
	}
	return true
}

// Remove drops id locally at once and queues the remote delete. Removing an
// id that is not saved changes nothing.
func (r *Reconciler) Remove(id string) bool {
	r.mu.Lock()
	_, wasPending := r.pendingRemoves[id]
	r.pendingRemoves[id] = struct{}{}
	delete(r.pendingAdds, id)
	user := r.userID
	r.mu.Unlock()

	if !r.box.Unsave(id) {
		r.mu.Lock()
		if !wasPending {
			delete(r.pendingRemoves, id)
		}
		r.persistPendingLocked()
		r.mu.Unlock()
		return false
	}

	r.mu.Lock()
	r.persistPendingLocked()
	if user != "" && user == r.userID {
		r.edits[id] = localEdit{saved: false}
	}
	r.mu.Unlock()

	if user != "" {
		r.outbox.enqueue(task{Op: opRemove, UserID: user, ItemID: id})
	}
	return true
}

func (r *Reconciler) handleTask(ctx context.Context, t task) error {
	var err error
	switch t.Op {
	case opAdd:
		err = r.remote.AddSavedItem(ctx, t.UserID, t.Movie)
	case opRemove:
		err = r.remote.RemoveSavedItem(ctx, t.UserID, t.ItemID)
		if api.IsNotFound(err) {
			// already absent remotely
			err = nil
		}
	}

	r.mu.Lock()
	if t.UserID == r.userID {
		if err == nil {
			switch t.Op {
			case opAdd:
				delete(r.pendingAdds, t.ItemID)
			case opRemove:
				delete(r.pendingRemoves, t.ItemID)
			}
			r.persistPendingLocked()
		} else {
			r.lastMutErr = err
		}
		if e, ok := r.edits[t.ItemID]; ok && !e.settled && e.saved == (t.Op == opAdd) {
			e.settled = true
			e.settledGen = r.generation
			r.edits[t.ItemID] = e
		}
	}
	notify := r.notifierLocked()
	r.mu.Unlock()
	notify()

	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("op", string(t.Op)).
			Str("item_id", t.ItemID).
			Str("kind", string(api.Classify(err, nil))).
			Msg("remote mutation failed, will reconcile on next load")
	}
	return err
}

// Drain waits for queued remote mutations to finish.
func (r *Reconciler) Drain(ctx context.Context) error {
	return r.outbox.drain(ctx)
}

// Close cancels background loads, drains the outbox within ctx and stops
// its worker, then flushes pending mutations.
func (r *Reconciler) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.loads.Wait()
	err := r.outbox.close(ctx)
	if r.pending != nil {
		if perr := r.pending.Close(ctx); err == nil {
			err = perr
		}
	}
	return err
}

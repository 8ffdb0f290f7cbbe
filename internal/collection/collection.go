// Package collection implements an ordered, de-duplicated, persisted list of
// items keyed by identity. In-memory state is authoritative; storage is a
// best-effort cache for the next start.
package collection

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"moviebox/internal/storage"
)

type Options[T any] struct {
	// Key is the storage key this collection exclusively owns.
	Key   string
	Store storage.Store

	Identity func(T) string
	// Stamp sets the item's mutation timestamp (addedAt, watchedAt, ...).
	Stamp func(*T, time.Time)
	// PromoteOnUpdate moves an updated item to the front.
	PromoteOnUpdate bool

	Now    func() time.Time
	Logger zerolog.Logger
}

// Collection is safe for concurrent use. Mutations apply in call order.
type Collection[T any] struct {
	opts Options[T]

	mu      sync.Mutex
	items   []T
	version uint64
	seq     uint64
	subs    map[int]func([]T)
	nextSub int

	// notifyMu serializes delivery; delivered is the newest seq handed out.
	notifyMu  sync.Mutex
	delivered uint64

	persist *persister
}

func New[T any](opts Options[T]) *Collection[T] {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Stamp == nil {
		opts.Stamp = func(*T, time.Time) {}
	}

	c := &Collection[T]{
		opts: opts,
		subs: make(map[int]func([]T)),
	}
	if opts.Store != nil {
		c.persist = newPersister(opts.Store, opts.Key, opts.Logger)
	}
	return c
}

// Load hydrates from storage. A missing or unreadable document yields an
// empty collection; Load never fails.
func (c *Collection[T]) Load(ctx context.Context) {
	var items []T

	if c.opts.Store != nil {
		raw, ok, err := c.opts.Store.GetItem(ctx, c.opts.Key)
		switch {
		case err != nil:
			c.opts.Logger.Warn().Err(err).Str("key", c.opts.Key).Msg("failed to read collection, starting empty")
		case !ok:
			c.opts.Logger.Debug().Str("key", c.opts.Key).Msg("no stored collection")
		default:
			if err := json.Unmarshal([]byte(raw), &items); err != nil {
				c.opts.Logger.Warn().Err(err).Str("key", c.opts.Key).Msg("corrupt collection document, starting empty")
				items = nil
			}
		}
	}

	c.mu.Lock()
	c.items = c.dedupe(items)
	c.seq++
	snap := change[T]{items: c.snapshotLocked(), seq: c.seq}
	c.mu.Unlock()

	c.opts.Logger.Debug().Str("key", c.opts.Key).Int("items", len(snap.items)).Msg("collection loaded")
	c.notify(snap)
}

// Add stamps item and prepends it. It is a no-op returning false when the
// identity is already present.
func (c *Collection[T]) Add(item T) bool {
	id := c.opts.Identity(item)

	c.mu.Lock()
	if c.indexLocked(id) >= 0 {
		c.mu.Unlock()
		return false
	}
	c.opts.Stamp(&item, c.opts.Now())
	c.items = append([]T{item}, c.items...)
	snap := c.commitLocked()
	c.mu.Unlock()

	c.notify(snap)
	return true
}

// Put stamps item and places it at the front, replacing any item with the
// same identity.
func (c *Collection[T]) Put(item T) {
	id := c.opts.Identity(item)

	c.mu.Lock()
	c.opts.Stamp(&item, c.opts.Now())
	next := make([]T, 0, len(c.items)+1)
	next = append(next, item)
	for _, it := range c.items {
		if c.opts.Identity(it) != id {
			next = append(next, it)
		}
	}
	c.items = next
	snap := c.commitLocked()
	c.mu.Unlock()

	c.notify(snap)
}

// Remove drops id. Removing an unknown id changes nothing and returns false.
func (c *Collection[T]) Remove(id string) bool {
	c.mu.Lock()
	i := c.indexLocked(id)
	if i < 0 {
		c.mu.Unlock()
		return false
	}
	c.items = append(c.items[:i:i], c.items[i+1:]...)
	snap := c.commitLocked()
	c.mu.Unlock()

	c.notify(snap)
	return true
}

// Update applies patch to the item with identity id and re-stamps it.
// Untracked ids are a no-op returning false.
func (c *Collection[T]) Update(id string, patch func(*T)) bool {
	c.mu.Lock()
	i := c.indexLocked(id)
	if i < 0 {
		c.mu.Unlock()
		return false
	}

	item := c.items[i]
	patch(&item)
	c.opts.Stamp(&item, c.opts.Now())

	if c.opts.PromoteOnUpdate && i > 0 {
		next := make([]T, 0, len(c.items))
		next = append(next, item)
		next = append(next, c.items[:i]...)
		next = append(next, c.items[i+1:]...)
		c.items = next
	} else {
		c.items[i] = item
	}
	snap := c.commitLocked()
	c.mu.Unlock()

	c.notify(snap)
	return true
}

func (c *Collection[T]) Get(id string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i := c.indexLocked(id); i >= 0 {
		return c.items[i], true
	}
	var zero T
	return zero, false
}

func (c *Collection[T]) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexLocked(id) >= 0
}

func (c *Collection[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Collection[T]) Clear() {
	c.mu.Lock()
	c.items = nil
	snap := c.commitLocked()
	c.mu.Unlock()

	c.notify(snap)
}

// Apply replaces the items with fn(current) atomically. The result is
// de-duplicated by identity keeping the first occurrence; items are not
// re-stamped.
func (c *Collection[T]) Apply(fn func(current []T) []T) {
	c.mu.Lock()
	c.items = c.dedupe(fn(c.snapshotLocked()))
	snap := c.commitLocked()
	c.mu.Unlock()

	c.notify(snap)
}

// Snapshot returns a copy of the ordered items.
func (c *Collection[T]) Snapshot() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers fn to receive the snapshot after every mutation and
// returns a function that removes it. Snapshots arrive in mutation order;
// one superseded by a newer mutation before delivery is skipped. fn must not
// mutate the collection.
func (c *Collection[T]) Subscribe(fn func([]T)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Flush blocks until the latest snapshot has been written, returning the
// write error if it failed.
func (c *Collection[T]) Flush(ctx context.Context) error {
	if c.persist == nil {
		return nil
	}
	c.mu.Lock()
	v := c.version
	c.mu.Unlock()
	return c.persist.flush(ctx, v)
}

// Close flushes and stops persistence. Later mutations stay in memory only.
func (c *Collection[T]) Close(ctx context.Context) error {
	if c.persist == nil {
		return nil
	}
	err := c.Flush(ctx)
	if cerr := c.persist.close(ctx); err == nil {
		err = cerr
	}
	return err
}

func (c *Collection[T]) indexLocked(id string) int {
	for i, it := range c.items {
		if c.opts.Identity(it) == id {
			return i
		}
	}
	return -1
}

func (c *Collection[T]) snapshotLocked() []T {
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

type change[T any] struct {
	items []T
	seq   uint64
}

// commitLocked bumps the version and hands the snapshot to the persister.
func (c *Collection[T]) commitLocked() change[T] {
	c.seq++
	snap := change[T]{items: c.snapshotLocked(), seq: c.seq}
	if c.persist == nil {
		return snap
	}

	data, err := json.Marshal(snap.items)
	if err != nil {
		c.opts.Logger.Error().Err(err).Str("key", c.opts.Key).Msg("failed to encode collection")
		return snap
	}
	c.version++
	c.persist.schedule(c.version, data)
	return snap
}

func (c *Collection[T]) dedupe(items []T) []T {
	seen := make(map[string]struct{}, len(items))
	out := make([]T, 0, len(items))
	for _, it := range items {
		id := c.opts.Identity(it)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, it)
	}
	return out
}

func (c *Collection[T]) notify(snap change[T]) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if snap.seq <= c.delivered {
		return
	}
	c.delivered = snap.seq

	c.mu.Lock()
	subs := make([]func([]T), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(snap.items)
	}
}

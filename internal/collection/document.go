package collection

import (
	"context"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"moviebox/internal/storage"
)

// Document is a single persisted value under its own key, written through
// the same latest-wins sequencer as a Collection.
type Document[T any] struct {
	key    string
	store  storage.Store
	logger zerolog.Logger
	def    T

	mu      sync.Mutex
	value   T
	version uint64
	persist *persister
}

func NewDocument[T any](key string, store storage.Store, def T, logger zerolog.Logger) *Document[T] {
	d := &Document[T]{
		key:    key,
		store:  store,
		logger: logger,
		def:    def,
		value:  def,
	}
	if store != nil {
		d.persist = newPersister(store, key, logger)
	}
	return d
}

// Load reads the stored value. Absent or corrupt documents leave the default.
func (d *Document[T]) Load(ctx context.Context) {
	if d.store == nil {
		return
	}

	v := d.def
	raw, ok, err := d.store.GetItem(ctx, d.key)
	switch {
	case err != nil:
		d.logger.Warn().Err(err).Str("key", d.key).Msg("failed to read document, using default")
	case ok:
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			d.logger.Warn().Err(err).Str("key", d.key).Msg("corrupt document, using default")
			v = d.def
		}
	}

	d.mu.Lock()
	d.value = v
	d.mu.Unlock()
}

func (d *Document[T]) Get() T {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value
}

func (d *Document[T]) Set(v T) {
	d.mu.Lock()
	d.value = v
	d.commitLocked()
	d.mu.Unlock()
}

// Reset restores the default value and removes the stored key.
func (d *Document[T]) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.value = d.def
	if d.persist == nil {
		return
	}
	d.version++
	d.persist.schedule(d.version, nil)
}

// Update applies fn to a copy of the value and stores it unless fn fails.
func (d *Document[T]) Update(fn func(*T) error) (T, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	v := d.value
	if err := fn(&v); err != nil {
		return d.value, err
	}
	d.value = v
	d.commitLocked()
	return v, nil
}

func (d *Document[T]) commitLocked() {
	if d.persist == nil {
		return
	}
	data, err := json.Marshal(d.value)
	if err != nil {
		d.logger.Error().Err(err).Str("key", d.key).Msg("failed to encode document")
		return
	}
	d.version++
	d.persist.schedule(d.version, data)
}

func (d *Document[T]) Flush(ctx context.Context) error {
	if d.persist == nil {
		return nil
	}
	d.mu.Lock()
	v := d.version
	d.mu.Unlock()
	return d.persist.flush(ctx, v)
}

func (d *Document[T]) Close(ctx context.Context) error {
	if d.persist == nil {
		return nil
	}
	err := d.Flush(ctx)
	if cerr := d.persist.close(ctx); err == nil {
		err = cerr
	}
	return err
}

package collection

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"moviebox/internal/metrics"
	"moviebox/internal/storage"
)

const writeTimeout = 5 * time.Second

// persister owns one storage key. Snapshots are versioned; a single worker
// always writes the newest pending snapshot, so an older snapshot can never
// land after a newer one.
type persister struct {
	store  storage.Store
	key    string
	logger zerolog.Logger

	mu             sync.Mutex
	pending        []byte
	pendingVersion uint64
	written        uint64
	lastErr        error
	changed        chan struct{}
	closed         bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

func newPersister(store storage.Store, key string, logger zerolog.Logger) *persister {
	p := &persister{
		store:   store,
		key:     key,
		logger:  logger,
		changed: make(chan struct{}),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// schedule records data as the newest snapshot. Versions must increase. A
// nil data removes the key.
func (p *persister) schedule(version uint64, data []byte) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.pending = data
	p.pendingVersion = version
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *persister) run() {
	defer close(p.done)

	for {
		select {
		case <-p.wake:
			p.drain()
		case <-p.stop:
			p.drain()
			return
		}
	}
}

func (p *persister) drain() {
	for {
		p.mu.Lock()
		if p.pendingVersion <= p.written {
			p.mu.Unlock()
			return
		}
		data, version := p.pending, p.pendingVersion
		p.mu.Unlock()

		err := p.write(data)

		p.mu.Lock()
		p.written = version
		p.lastErr = err
		close(p.changed)
		p.changed = make(chan struct{})
		p.mu.Unlock()
	}
}

func (p *persister) write(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	if data == nil {
		err = p.store.RemoveItem(ctx, p.key)
	} else {
		err = p.store.SetItem(ctx, p.key, string(data))
	}
	if err != nil {
		metrics.Persist.WithLabelValues(p.key, "error").Inc()
		p.logger.Warn().Err(err).Str("key", p.key).Msg("failed to persist collection")
		return err
	}

	metrics.Persist.WithLabelValues(p.key, "ok").Inc()
	return nil
}

// flush waits until version has been written and returns that write's error.
func (p *persister) flush(ctx context.Context, version uint64) error {
	for {
		p.mu.Lock()
		if p.written >= version {
			err := p.lastErr
			p.mu.Unlock()
			return err
		}
		ch := p.changed
		p.mu.Unlock()

		select {
		case <-ch:
		case <-p.done:
			p.mu.Lock()
			err := p.lastErr
			if p.written < version {
				err = storage.ErrClosed
			}
			p.mu.Unlock()
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// close drains pending work and stops the worker. Later schedules are dropped.
func (p *persister) close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.stop)

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

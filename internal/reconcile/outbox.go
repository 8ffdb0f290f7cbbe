package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"moviebox/internal/api"
	"moviebox/internal/metrics"
)

type opKind string

const (
	opAdd    opKind = "add"
	opRemove opKind = "remove"
)

// task is one remote mutation. It carries the user it was issued for so a
// late completion cannot touch another user's state.
type task struct {
	ID         string
	Op         opKind
	UserID     string
	ItemID     string
	Movie      api.Movie
	EnqueuedAt time.Time
}

func (t task) dedupeKey() string {
	return string(t.Op) + "|" + t.UserID + "|" + t.ItemID
}

// outbox runs remote mutations one at a time in enqueue order on a single
// worker goroutine. Failures are handed to the handler and never retried.
type outbox struct {
	handle func(ctx context.Context, t task) error
	logger zerolog.Logger

	mu      sync.Mutex
	queue   []task
	queued  map[string]struct{}
	busy    bool
	idle    chan struct{}
	closed  bool
	wake    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	timeout time.Duration
}

func newOutbox(handle func(context.Context, task) error, timeout time.Duration, logger zerolog.Logger) *outbox {
	ctx, cancel := context.WithCancel(context.Background())
	o := &outbox{
		handle:  handle,
		logger:  logger,
		queued:  make(map[string]struct{}),
		idle:    make(chan struct{}),
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		timeout: timeout,
	}
	close(o.idle)
	go o.run()
	return o
}

// enqueue appends t unless an identical task is still waiting. It reports
// whether the task was accepted.
func (o *outbox) enqueue(t task) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	key := t.dedupeKey()
	if _, ok := o.queued[key]; ok {
		o.mu.Unlock()
		return false
	}
	t.ID = uuid.NewString()
	t.EnqueuedAt = time.Now()
	o.queued[key] = struct{}{}
	o.queue = append(o.queue, t)
	if !o.busy && len(o.queue) == 1 {
		o.idle = make(chan struct{})
	}
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
	return true
}

func (o *outbox) run() {
	defer close(o.done)

	for {
		select {
		case <-o.wake:
		case <-o.ctx.Done():
			return
		}

		for {
			o.mu.Lock()
			if len(o.queue) == 0 {
				o.busy = false
				select {
				case <-o.idle:
				default:
					close(o.idle)
				}
				o.mu.Unlock()
				break
			}
			t := o.queue[0]
			o.queue = o.queue[1:]
			delete(o.queued, t.dedupeKey())
			o.busy = true
			o.mu.Unlock()

			o.process(t)
		}
	}
}

func (o *outbox) process(t task) {
	ctx, cancel := context.WithTimeout(o.ctx, o.timeout)
	defer cancel()

	start := time.Now()
	err := o.handle(ctx, t)

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.OutboxTasks.WithLabelValues(string(t.Op), result).Inc()

	o.logger.Debug().
		Str("task_id", t.ID).
		Str("op", string(t.Op)).
		Str("item_id", t.ItemID).
		Dur("queued", start.Sub(t.EnqueuedAt)).
		Dur("duration", time.Since(start)).
		Str("result", result).
		Msg("outbox task finished")
}

func (o *outbox) pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := len(o.queue)
	if o.busy {
		n++
	}
	return n
}

// drain waits until the queue is empty and no task is running.
func (o *outbox) drain(ctx context.Context) error {
	o.mu.Lock()
	idle := o.idle
	o.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close drains within ctx, then stops the worker. Tasks still queued when
// ctx ends are dropped.
func (o *outbox) close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	err := o.drain(ctx)
	o.cancel()
	<-o.done
	return err
}

// Package query implements gated, optionally polling remote reads that keep
// their last good value.
package query

import (
	"context"
	"errors"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/okian/popkomodo/pkg/logger"
	"github.com/okian/popkomodo/pkg/metrics"
)

// ErrDisabled is returned by Refetch while the query is disabled.
var ErrDisabled = errors.New("query disabled")

// FetchFunc performs one remote read.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// State is a point-in-time copy of a query.
type State[T any] struct {
	Value    T
	Has      bool
	Err      error
	Fetching bool
	Enabled  bool
	Skipped  uint64
}

// Query holds the result of a remote read. Reads are only issued while the
// query is enabled; results that belong to an earlier enable are dropped.
type Query[T any] struct {
	name  string
	fetch FetchFunc[T]
	opts  options

	mu       sync.Mutex
	value    T
	has      bool
	err      error
	enabled  bool
	fetching bool
	skipped  uint64
	gen      uint64
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a disabled query named name.
func New[T any](name string, fetch FetchFunc[T], opts ...Option) *Query[T] {
	o := options{
		clock:  clockwork.NewRealClock(),
		logger: logger.Get().Named("query"),
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With(logger.String("query", name))
	return &Query[T]{name: name, fetch: fetch, opts: o}
}

// Name returns the query name.
func (q *Query[T]) Name() string { return q.name }

// Enable starts an initial fetch and, when an interval is set, polling.
// Enabling an enabled query does nothing.
func (q *Query[T]) Enable(ctx context.Context) {
	q.mu.Lock()
	if q.enabled {
		q.mu.Unlock()
		return
	}
	q.gen++
	gen := q.gen
	q.enabled = true
	q.ctx, q.cancel = context.WithCancel(ctx)
	runCtx := q.ctx
	q.mu.Unlock()

	go q.poll(runCtx, gen)
	if q.opts.interval > 0 {
		go q.loop(runCtx, gen)
	}
}

// Disable stops polling, drops any in-flight result and clears the value.
func (q *Query[T]) Disable() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
	var zero T
	q.gen++
	q.enabled = false
	q.fetching = false
	q.value = zero
	q.has = false
	q.err = nil
	q.ctx = nil
}

// Enabled reports whether reads may be issued.
func (q *Query[T]) Enabled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enabled
}

// Data returns the last good value.
func (q *Query[T]) Data() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.value, q.has
}

// Snapshot returns a copy of the query state.
func (q *Query[T]) Snapshot() State[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return State[T]{
		Value:    q.value,
		Has:      q.has,
		Err:      q.err,
		Fetching: q.fetching,
		Enabled:  q.enabled,
		Skipped:  q.skipped,
	}
}

// Refetch reads now and waits for the result. It does not wait for, or
// skip because of, a poll already in flight.
func (q *Query[T]) Refetch(ctx context.Context) error {
	q.mu.Lock()
	if !q.enabled {
		q.mu.Unlock()
		return ErrDisabled
	}
	gen := q.gen
	q.mu.Unlock()
	settled, err := q.run(ctx, gen, false)
	if !settled {
		return ErrDisabled
	}
	q.notify()
	return err
}

// Invalidate schedules a refetch without waiting for it.
func (q *Query[T]) Invalidate() {
	q.mu.Lock()
	if !q.enabled {
		q.mu.Unlock()
		return
	}
	ctx, gen := q.ctx, q.gen
	q.mu.Unlock()
	go func() {
		if settled, _ := q.run(ctx, gen, false); settled {
			q.notify()
		}
	}()
}

func (q *Query[T]) loop(ctx context.Context, gen uint64) {
	ticker := q.opts.clock.NewTicker(q.opts.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			q.poll(ctx, gen)
		}
	}
}

// poll issues a read unless one from the poller is still outstanding or the
// stored value is final.
func (q *Query[T]) poll(ctx context.Context, gen uint64) {
	q.mu.Lock()
	if !q.enabled || gen != q.gen {
		q.mu.Unlock()
		return
	}
	if q.has && q.opts.pollDone != nil && q.opts.pollDone(q.value) {
		q.mu.Unlock()
		return
	}
	if q.fetching {
		q.skipped++
		q.mu.Unlock()
		metrics.RecordRead(q.name, metrics.ResultSkipped, 0)
		return
	}
	q.fetching = true
	q.mu.Unlock()

	if settled, _ := q.run(ctx, gen, true); settled {
		q.notify()
	}
}

// run performs one read and stores its outcome, clearing the poll flag when
// polled is set. settled is false when the query was disabled or re-enabled
// while the read was outstanding.
func (q *Query[T]) run(ctx context.Context, gen uint64, polled bool) (settled bool, err error) {
	start := q.opts.clock.Now()
	v, err := q.fetch(ctx)
	ms := float64(q.opts.clock.Since(start).Milliseconds())

	q.mu.Lock()
	if gen != q.gen {
		q.mu.Unlock()
		return false, err
	}
	if polled {
		q.fetching = false
	}
	switch {
	case err != nil:
		q.err = err
	case q.has && q.opts.regresses != nil && q.opts.regresses(q.value, v):
		q.err = nil
	default:
		q.value, q.has, q.err = v, true, nil
	}
	q.mu.Unlock()

	if err != nil {
		metrics.RecordRead(q.name, metrics.ResultFailed, ms)
		q.opts.logger.Warn(ctx, "read failed, keeping previous value", logger.Error(err))
	} else {
		metrics.RecordRead(q.name, metrics.ResultSuccess, ms)
	}
	return true, err
}

func (q *Query[T]) notify() {
	if q.opts.onUpdate != nil {
		q.opts.onUpdate()
	}
}

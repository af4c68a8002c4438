package query

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/okian/popkomodo/pkg/logger"
)

// Option configures a Query.
type Option func(*options)

type options struct {
	interval time.Duration
	clock    clockwork.Clock
	logger   logger.Logger
	onUpdate func()

	pollDone  func(v any) bool
	regresses func(prev, next any) bool
}

// WithInterval polls at the given interval while the query is enabled.
// Zero disables polling.
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithClock sets the clock driving the poll ticker.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithOnUpdate registers a callback run after every settled fetch.
func WithOnUpdate(fn func()) Option {
	return func(o *options) { o.onUpdate = fn }
}

// WithPollUntil stops interval reads once the stored value satisfies done.
// Refetch and Invalidate still read.
func WithPollUntil[T any](done func(T) bool) Option {
	return func(o *options) {
		o.pollDone = func(v any) bool { return done(v.(T)) }
	}
}

// WithNoRegress drops a successful result when regresses(stored, result)
// reports true; the stored value is kept and the error cleared.
func WithNoRegress[T any](regresses func(prev, next T) bool) Option {
	return func(o *options) {
		o.regresses = func(prev, next any) bool { return regresses(prev.(T), next.(T)) }
	}
}

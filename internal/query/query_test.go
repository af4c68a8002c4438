package query

import (
	"context"
	"errors"
	"io"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/popkomodo/pkg/logger"
)

const interval = 1500 * time.Millisecond

func TestMain(m *testing.M) {
	_ = logger.Init(logger.WithWriter(io.Discard))
	os.Exit(m.Run())
}

type source struct {
	calls   atomic.Int64
	fail    atomic.Bool
	gate    chan struct{}
	updates chan struct{}
}

func newSource() *source {
	return &source{updates: make(chan struct{}, 64)}
}

func (s *source) fetch(ctx context.Context) (int, error) {
	n := s.calls.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if s.fail.Load() {
		return 0, errors.New("rpc unavailable")
	}
	return int(n), nil
}

func (s *source) onUpdate() { s.updates <- struct{}{} }

func (s *source) waitUpdate() bool {
	select {
	case <-s.updates:
		return true
	case <-time.After(2 * time.Second):
		return false
	}
}

func (s *source) quiet() bool {
	select {
	case <-s.updates:
		return false
	case <-time.After(50 * time.Millisecond):
		return true
	}
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func TestQuery_Gate(t *testing.T) {
	Convey("Given a disabled query", t, func() {
		src := newSource()
		q := New("getTeam", src.fetch, WithOnUpdate(src.onUpdate))

		Convey("Then nothing is read and Refetch refuses", func() {
			So(q.Refetch(context.Background()), ShouldEqual, ErrDisabled)
			q.Invalidate()
			So(src.quiet(), ShouldBeTrue)
			So(src.calls.Load(), ShouldEqual, 0)
			_, has := q.Data()
			So(has, ShouldBeFalse)
		})

		Convey("When it is enabled", func() {
			q.Enable(context.Background())
			defer q.Disable()

			Convey("Then an initial read populates the value", func() {
				So(src.waitUpdate(), ShouldBeTrue)
				v, has := q.Data()
				So(has, ShouldBeTrue)
				So(v, ShouldEqual, 1)
				So(q.Enabled(), ShouldBeTrue)
			})

			Convey("And enabling again does not read twice", func() {
				So(src.waitUpdate(), ShouldBeTrue)
				q.Enable(context.Background())
				So(src.quiet(), ShouldBeTrue)
				So(src.calls.Load(), ShouldEqual, 1)
			})
		})
	})
}

func TestQuery_Polling(t *testing.T) {
	Convey("Given a polling query on a fake clock", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		clock := clockwork.NewFakeClock()
		src := newSource()
		q := New("getScores", src.fetch,
			WithInterval(interval),
			WithClock(clock),
			WithOnUpdate(src.onUpdate),
		)

		q.Enable(ctx)
		So(src.waitUpdate(), ShouldBeTrue)
		So(clock.BlockUntilContext(ctx, 1), ShouldBeNil)

		Convey("When the interval elapses twice", func() {
			clock.Advance(interval)
			So(src.waitUpdate(), ShouldBeTrue)
			clock.Advance(interval)
			So(src.waitUpdate(), ShouldBeTrue)

			Convey("Then one read is issued per tick", func() {
				So(src.calls.Load(), ShouldEqual, 3)
				v, _ := q.Data()
				So(v, ShouldEqual, 3)
			})

			Convey("And disabling stops polling and clears the value", func() {
				q.Disable()
				clock.Advance(interval)
				clock.Advance(interval)
				So(src.quiet(), ShouldBeTrue)
				So(src.calls.Load(), ShouldEqual, 3)
				_, has := q.Data()
				So(has, ShouldBeFalse)
			})
		})

		Convey("When a tick fails", func() {
			src.fail.Store(true)
			clock.Advance(interval)
			So(src.waitUpdate(), ShouldBeTrue)

			Convey("Then the previous value is kept with the error", func() {
				st := q.Snapshot()
				So(st.Has, ShouldBeTrue)
				So(st.Value, ShouldEqual, 1)
				So(st.Err, ShouldNotBeNil)
			})

			Convey("And the next successful tick recovers", func() {
				src.fail.Store(false)
				clock.Advance(interval)
				So(src.waitUpdate(), ShouldBeTrue)
				st := q.Snapshot()
				So(st.Err, ShouldBeNil)
				So(st.Value, ShouldEqual, 3)
			})
		})

		Reset(q.Disable)
	})
}

func TestQuery_Overlap(t *testing.T) {
	Convey("Given a polling query whose read is slow", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		clock := clockwork.NewFakeClock()
		src := newSource()
		src.gate = make(chan struct{})
		q := New("getScores", src.fetch,
			WithInterval(interval),
			WithClock(clock),
			WithOnUpdate(src.onUpdate),
		)
		q.Enable(ctx)
		defer q.Disable()
		So(clock.BlockUntilContext(ctx, 1), ShouldBeNil)
		So(waitFor(func() bool { return src.calls.Load() == 1 }), ShouldBeTrue)

		Convey("When a tick arrives while the first read is outstanding", func() {
			clock.Advance(interval)

			Convey("Then the tick is skipped", func() {
				So(waitFor(func() bool { return q.Snapshot().Skipped == 1 }), ShouldBeTrue)
				So(src.calls.Load(), ShouldEqual, 1)
				So(q.Snapshot().Fetching, ShouldBeTrue)

				close(src.gate)
				So(src.waitUpdate(), ShouldBeTrue)
				So(waitFor(func() bool { return !q.Snapshot().Fetching }), ShouldBeTrue)
			})
		})
	})
}

func TestQuery_Refresh(t *testing.T) {
	Convey("Given an enabled query", t, func() {
		src := newSource()
		q := New("getTeam", src.fetch, WithOnUpdate(src.onUpdate))
		q.Enable(context.Background())
		defer q.Disable()
		So(src.waitUpdate(), ShouldBeTrue)

		Convey("When refetching", func() {
			err := q.Refetch(context.Background())

			Convey("Then the new value is visible on return", func() {
				So(err, ShouldBeNil)
				v, _ := q.Data()
				So(v, ShouldEqual, 2)
			})
		})

		Convey("When a refetch fails", func() {
			src.fail.Store(true)
			err := q.Refetch(context.Background())

			Convey("Then the error is returned and the value kept", func() {
				So(err, ShouldNotBeNil)
				v, has := q.Data()
				So(has, ShouldBeTrue)
				So(v, ShouldEqual, 1)
			})
		})

		Convey("When invalidating", func() {
			q.Invalidate()

			Convey("Then a read happens in the background", func() {
				So(src.waitUpdate(), ShouldBeTrue)
				So(src.calls.Load(), ShouldEqual, 2)
			})
		})
	})
}

func TestQuery_DisableDropsInFlight(t *testing.T) {
	Convey("Given a read outstanding when the query is disabled", t, func() {
		src := newSource()
		src.gate = make(chan struct{})
		q := New("getTeam", src.fetch, WithOnUpdate(src.onUpdate))
		q.Enable(context.Background())
		So(waitFor(func() bool { return src.calls.Load() == 1 }), ShouldBeTrue)

		q.Disable()
		q.Enable(context.Background())
		defer q.Disable()
		close(src.gate)

		Convey("Then only the read issued after re-enabling is stored", func() {
			So(src.waitUpdate(), ShouldBeTrue)
			So(src.quiet(), ShouldBeTrue)
			v, has := q.Data()
			So(has, ShouldBeTrue)
			So(v, ShouldEqual, 2)
		})
	})
}

func TestQuery_PollUntil(t *testing.T) {
	Convey("Given a polling query that stops once the value reaches 2", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		clock := clockwork.NewFakeClock()
		src := newSource()
		src.fail.Store(true)
		q := New("getTeam", src.fetch,
			WithInterval(interval),
			WithClock(clock),
			WithOnUpdate(src.onUpdate),
			WithPollUntil(func(v int) bool { return v >= 2 }),
		)
		q.Enable(ctx)
		defer q.Disable()
		So(src.waitUpdate(), ShouldBeTrue)
		So(clock.BlockUntilContext(ctx, 1), ShouldBeNil)

		Convey("When the initial read failed and the source recovers", func() {
			_, has := q.Data()
			So(has, ShouldBeFalse)
			So(q.Snapshot().Err, ShouldNotBeNil)
			src.fail.Store(false)
			clock.Advance(interval)

			Convey("Then the next tick resolves the value", func() {
				So(src.waitUpdate(), ShouldBeTrue)
				v, has := q.Data()
				So(has, ShouldBeTrue)
				So(v, ShouldEqual, 2)
				So(q.Snapshot().Err, ShouldBeNil)

				Convey("And later ticks stop reading while Refetch still reads", func() {
					clock.Advance(interval)
					clock.Advance(interval)
					So(src.quiet(), ShouldBeTrue)
					So(src.calls.Load(), ShouldEqual, 2)

					So(q.Refetch(ctx), ShouldBeNil)
					So(src.calls.Load(), ShouldEqual, 3)
				})
			})
		})
	})
}

func TestQuery_NoRegress(t *testing.T) {
	Convey("Given a query whose value may only grow", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var cur atomic.Int64
		cur.Store(5)
		q := New("getTeam", func(context.Context) (int64, error) { return cur.Load(), nil },
			WithNoRegress(func(prev, next int64) bool { return next < prev }),
		)
		q.Enable(ctx)
		defer q.Disable()
		So(waitFor(func() bool { _, has := q.Data(); return has }), ShouldBeTrue)

		Convey("When a later read returns a smaller value", func() {
			cur.Store(3)
			err := q.Refetch(ctx)

			Convey("Then the stored value is kept without an error", func() {
				So(err, ShouldBeNil)
				v, _ := q.Data()
				So(v, ShouldEqual, 5)
				So(q.Snapshot().Err, ShouldBeNil)
			})
		})

		Convey("When a later read returns a larger value", func() {
			cur.Store(7)
			So(q.Refetch(ctx), ShouldBeNil)

			Convey("Then it replaces the stored value", func() {
				v, _ := q.Data()
				So(v, ShouldEqual, 7)
			})
		})
	})
}

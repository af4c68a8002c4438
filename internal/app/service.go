// Package service implements the session controller: connection tracking,
// team and score reads, the local pop accumulator and the contract actions
// that mutate them.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/okian/popkomodo/internal/adapters/mq/queue"
	"github.com/okian/popkomodo/internal/adapters/mq/worker"
	"github.com/okian/popkomodo/internal/chain"
	"github.com/okian/popkomodo/internal/domain/pops"
	"github.com/okian/popkomodo/internal/domain/team"
	"github.com/okian/popkomodo/internal/query"
	"github.com/okian/popkomodo/pkg/logger"
	"github.com/okian/popkomodo/pkg/metrics"
)

const (
	defaultPollInterval = 1500 * time.Millisecond
	defaultWorkerCount  = 2
	defaultQueueSize    = 16
)

// Contract is the game contract as seen by the controller.
type Contract interface {
	Address() chain.Address
	GetTeam(ctx context.Context, who chain.Identity) (team.Assignment, error)
	GetScores(ctx context.Context) (team.Scores, error)
	ChooseTeam(ctx context.Context, from chain.Identity, id team.ID) (chain.TxHandle, error)
	PopBy(ctx context.Context, from chain.Identity, amount int) (chain.TxHandle, error)
	AwaitConfirmation(ctx context.Context, tx chain.TxHandle) error
}

// session is the state derived from one connected identity. It is replaced,
// never reused, when the identity changes or disconnects.
type session struct {
	identity chain.Identity
	epoch    uint64
	team     *query.Query[team.Assignment]
	scores   *query.Query[team.Scores]

	choosing   bool
	submitting bool
	lastErr    string
}

type counters struct {
	tapsRegistered atomic.Uint64
	tapsSaturated  atomic.Uint64
	submissions    atomic.Uint64
	popsConfirmed  atomic.Uint64
	failedWrites   atomic.Uint64
}

// Service is the session controller.
type Service struct {
	mu sync.Mutex

	accounts chain.AccountProvider
	contract Contract

	clock        clockwork.Clock
	pollInterval time.Duration
	workerCount  int
	queueSize    int

	pops  pops.Accumulator
	sess  *session
	epoch uint64
	stats counters

	queue *queue.InMemoryQueue
	pool  *worker.Pool

	started  bool
	runCtx   context.Context
	cancel   context.CancelFunc
	unsub    func()
	loopDone chan struct{}

	logger logger.Logger
}

// New constructs a Service over an account provider.
func New(accounts chain.AccountProvider, opts ...Option) *Service {
	s := &Service{
		accounts:     accounts,
		clock:        clockwork.NewRealClock(),
		pollInterval: defaultPollInterval,
		workerCount:  defaultWorkerCount,
		queueSize:    defaultQueueSize,
		logger:       logger.Get().Named("session"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Configured reports whether a contract is bound.
func (s *Service) Configured() bool { return s.contract != nil }

// Start begins following the account provider and starts the dispatch workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}

	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.pool = worker.NewPool(s.workerCount, s.queue, s)
	s.pool.Start(s.runCtx)

	events, unsub := s.accounts.Subscribe()
	s.unsub = unsub
	s.loopDone = make(chan struct{})
	s.started = true
	runCtx, done := s.runCtx, s.loopDone
	s.mu.Unlock()

	if id, ok := s.accounts.Current(); ok {
		s.connect(id)
	}
	go s.follow(runCtx, events, done)

	s.logger.Info(ctx, "session controller started",
		logger.Bool("configured", s.contract != nil),
		logger.Duration("poll_interval", s.pollInterval),
		logger.Int("workers", s.workerCount),
		logger.Int("queue_size", s.queueSize),
	)
	return nil
}

// Stop drains queued actions, stops following the account provider and
// ends the session.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	unsub, pool, cancel, done := s.unsub, s.pool, s.cancel, s.loopDone
	s.mu.Unlock()

	s.logger.Info(ctx, "stopping session controller...")

	unsub()
	if err := pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "dispatch shutdown", logger.Error(err))
	}
	cancel()
	<-done
	s.disconnect()

	s.logger.Info(ctx, "session controller stopped")
}

func (s *Service) follow(ctx context.Context, events <-chan chain.AccountEvent, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Connected {
				s.connect(ev.Identity)
			} else {
				s.disconnect()
			}
		}
	}
}

// connect starts a session for id unless it is already the current one.
func (s *Service) connect(id chain.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sess != nil {
		if s.sess.identity == id {
			return
		}
		s.endLocked()
	}

	s.epoch++
	sess := &session{identity: id, epoch: s.epoch}
	log := s.logger.With(logger.String("identity", id.Hex()), logger.Uint64("epoch", sess.epoch))

	if s.contract != nil {
		c := s.contract
		sess.team = query.New(chain.MethodGetTeam,
			func(ctx context.Context) (team.Assignment, error) { return c.GetTeam(ctx, id) },
			query.WithInterval(s.pollInterval),
			query.WithClock(s.clock),
			query.WithLogger(log),
			// A chosen team is final; keep polling until one shows up.
			query.WithPollUntil(func(a team.Assignment) bool { return a.Chosen }),
			query.WithNoRegress(func(prev, next team.Assignment) bool { return prev.Chosen && !next.Chosen }),
		)
		sess.scores = query.New(chain.MethodGetScores, c.GetScores,
			query.WithInterval(s.pollInterval),
			query.WithClock(s.clock),
			query.WithLogger(log),
			query.WithOnUpdate(func() { publishScores(sess.scores) }),
		)
		sess.team.Enable(s.runCtx)
		sess.scores.Enable(s.runCtx)
	}
	s.sess = sess

	metrics.SetConnected(true)
	log.Info(context.Background(), "wallet connected")
}

// disconnect ends the current session and discards pending pops.
func (s *Service) disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return
	}
	s.endLocked()
}

func (s *Service) endLocked() {
	sess := s.sess
	if sess.team != nil {
		sess.team.Disable()
	}
	if sess.scores != nil {
		sess.scores.Disable()
	}
	// Actions of an ended session no longer count as in flight; their
	// release will not touch the gauge.
	if sess.choosing {
		metrics.SetInFlight(opChoose, false)
	}
	if sess.submitting {
		metrics.SetInFlight(opSubmit, false)
	}
	s.sess = nil
	s.pops.Reset()

	metrics.UpdatePendingPops(0)
	metrics.SetConnected(false)
	s.logger.Info(context.Background(), "wallet disconnected",
		logger.String("identity", sess.identity.Hex()),
		logger.Uint64("epoch", sess.epoch),
	)
}

// Refresh re-reads the team assignment, unless it is already chosen, and
// schedules a scores read. It returns the team read error, if any.
func (s *Service) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if err := s.connectedLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	sess := s.sess
	s.mu.Unlock()

	sess.scores.Invalidate()
	if a, ok := sess.team.Data(); ok && a.Chosen {
		return nil
	}
	if err := sess.team.Refetch(ctx); err != nil {
		if errors.Is(err, query.ErrDisabled) {
			return ErrSessionEnded
		}
		return fmt.Errorf("%w: %w", ErrReadFailed, err)
	}
	return nil
}

// current returns the session for epoch, or nil if it has ended.
func (s *Service) current(epoch uint64) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess != nil && s.sess.epoch == epoch {
		return s.sess
	}
	return nil
}

func publishScores(q *query.Query[team.Scores]) {
	scores, ok := q.Data()
	if !ok {
		return
	}
	for _, id := range team.All() {
		metrics.UpdateTeamScore(id.Label(), scores[id])
	}
}

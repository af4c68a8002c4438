package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/popkomodo/internal/adapters/mq/queue"
	"github.com/okian/popkomodo/internal/domain/model"
	"github.com/okian/popkomodo/internal/domain/team"
	"github.com/okian/popkomodo/pkg/logger"
	"github.com/okian/popkomodo/pkg/metrics"
)

const (
	opChoose = string(model.KindChooseTeam)
	opSubmit = string(model.KindSubmitPops)
)

// RegisterTap adds one pop to the local accumulator and returns the new
// pending count. Taps past the cap are counted but do not change it.
func (s *Service) RegisterTap() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.assignedLocked(); err != nil {
		return s.pops.Pending(), err
	}

	pending, saturated := s.pops.Register()
	metrics.RecordTap(saturated)
	metrics.UpdatePendingPops(pending)
	if saturated {
		s.stats.tapsSaturated.Add(1)
	} else {
		s.stats.tapsRegistered.Add(1)
	}
	return pending, nil
}

// PrepareChoose checks the choose preconditions and marks a choose in flight.
// The returned action must be passed to Execute or Abort.
func (s *Service) PrepareChoose(id team.ID) (model.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.connectedLocked(); err != nil {
		return model.Action{}, err
	}
	if !id.Valid() {
		return model.Action{}, fmt.Errorf("%w: %d", ErrInvalidTeam, id)
	}
	sess := s.sess
	if a, ok := sess.team.Data(); ok && a.Chosen {
		return model.Action{}, ErrTeamChosen
	}
	if sess.choosing {
		return model.Action{}, fmt.Errorf("%w: choose team", ErrInFlight)
	}

	sess.choosing = true
	metrics.SetInFlight(opChoose, true)

	a := model.NewAction(model.KindChooseTeam, sess.identity, sess.epoch, s.clock.Now())
	a.Team = id
	return a, nil
}

// PrepareSubmit captures the amount to submit and marks a submission in
// flight. With nothing pending it returns ErrNothingToSubmit and no action.
func (s *Service) PrepareSubmit() (model.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.assignedLocked(); err != nil {
		return model.Action{}, err
	}
	sess := s.sess
	if sess.submitting {
		return model.Action{}, fmt.Errorf("%w: submit pops", ErrInFlight)
	}
	amount := s.pops.Capture()
	if amount == 0 {
		return model.Action{}, ErrNothingToSubmit
	}

	sess.submitting = true
	metrics.SetInFlight(opSubmit, true)

	a := model.NewAction(model.KindSubmitPops, sess.identity, sess.epoch, s.clock.Now())
	a.Amount = amount
	return a, nil
}

// ChooseTeam prepares a choose and hands it to the dispatch workers.
func (s *Service) ChooseTeam(ctx context.Context, id team.ID) (model.Action, error) {
	a, err := s.PrepareChoose(id)
	if err != nil {
		return model.Action{}, err
	}
	return a, s.dispatch(ctx, a)
}

// SubmitPops prepares a submission and hands it to the dispatch workers.
func (s *Service) SubmitPops(ctx context.Context) (model.Action, error) {
	a, err := s.PrepareSubmit()
	if err != nil {
		return model.Action{}, err
	}
	return a, s.dispatch(ctx, a)
}

func (s *Service) dispatch(ctx context.Context, a model.Action) error { //nolint:gocritic // hugeParam: actions travel by value
	s.mu.Lock()
	q := s.queue
	started := s.started
	s.mu.Unlock()

	if !started || q == nil {
		s.Abort(a)
		return ErrNotStarted
	}
	if !q.Enqueue(ctx, a) {
		s.Abort(a)
		return queue.ErrFull
	}
	s.logger.Debug(ctx, "action queued",
		logger.String("action_id", a.ID),
		logger.String("kind", string(a.Kind)),
	)
	return nil
}

// Abort releases the in-flight flag of an action that will not be executed.
func (s *Service) Abort(a model.Action) { //nolint:gocritic // hugeParam: actions travel by value
	if sess := s.current(a.Epoch); sess != nil {
		s.release(sess, a.Kind)
	}
}

// Execute issues a prepared action, waits for its confirmation and refreshes
// the reads it affects. The in-flight flag is released on every path.
func (s *Service) Execute(ctx context.Context, a model.Action) error { //nolint:gocritic // hugeParam: actions travel by value
	sess := s.current(a.Epoch)
	if sess == nil {
		return ErrSessionEnded
	}
	defer s.release(sess, a.Kind)

	switch a.Kind {
	case model.KindChooseTeam:
		return s.executeChoose(ctx, sess, a)
	case model.KindSubmitPops:
		return s.executeSubmit(ctx, sess, a)
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
}

func (s *Service) executeChoose(ctx context.Context, sess *session, a model.Action) error { //nolint:gocritic // hugeParam: actions travel by value
	label := a.Team.Label()
	log := s.logger.With(
		logger.String("action_id", a.ID),
		logger.String("team", label),
	)

	tx, err := s.contract.ChooseTeam(ctx, a.Identity, a.Team)
	if err != nil {
		return s.failed(ctx, log, sess, opChoose, err, func(r string) { metrics.RecordTeamChoice(label, r) })
	}
	log.Info(ctx, "chooseTeam submitted", logger.String("tx", tx.Hash.Hex()))

	start := s.clock.Now()
	err = s.contract.AwaitConfirmation(ctx, tx)
	metrics.RecordConfirmationLatency(opChoose, float64(s.clock.Since(start).Milliseconds()))
	if err != nil {
		return s.failed(ctx, log, sess, opChoose, err, func(r string) { metrics.RecordTeamChoice(label, r) })
	}
	metrics.RecordTeamChoice(label, metrics.ResultSuccess)
	log.Info(ctx, "chooseTeam confirmed")

	s.succeeded(sess)
	if err := sess.team.Refetch(ctx); err != nil {
		log.Warn(ctx, "team read after confirmation failed", logger.Error(err))
	}
	sess.scores.Invalidate()
	return nil
}

func (s *Service) executeSubmit(ctx context.Context, sess *session, a model.Action) error { //nolint:gocritic // hugeParam: actions travel by value
	log := s.logger.With(
		logger.String("action_id", a.ID),
		logger.Int("amount", a.Amount),
	)

	s.stats.submissions.Add(1)
	tx, err := s.contract.PopBy(ctx, a.Identity, a.Amount)
	if err != nil {
		return s.failed(ctx, log, sess, opSubmit, err, func(r string) { metrics.RecordSubmission(r, a.Amount) })
	}
	log.Info(ctx, "popBy submitted", logger.String("tx", tx.Hash.Hex()))

	start := s.clock.Now()
	err = s.contract.AwaitConfirmation(ctx, tx)
	metrics.RecordConfirmationLatency(opSubmit, float64(s.clock.Since(start).Milliseconds()))
	if err != nil {
		return s.failed(ctx, log, sess, opSubmit, err, func(r string) { metrics.RecordSubmission(r, a.Amount) })
	}
	metrics.RecordSubmission(metrics.ResultSuccess, a.Amount)
	s.stats.popsConfirmed.Add(uint64(a.Amount))

	s.mu.Lock()
	remaining := -1
	if s.sess == sess {
		remaining = s.pops.Settle(a.Amount)
		sess.lastErr = ""
	}
	s.mu.Unlock()

	if remaining < 0 {
		log.Info(ctx, "popBy confirmed after session ended")
		return nil
	}
	metrics.UpdatePendingPops(remaining)
	log.Info(ctx, "popBy confirmed", logger.Int("pending", remaining))
	sess.scores.Invalidate()
	return nil
}

// failed records a write that was rejected or did not confirm. Nothing local
// is mutated and nothing is retried.
func (s *Service) failed(ctx context.Context, log logger.Logger, sess *session, op string, err error, record func(result string)) error {
	result := resultOf(err)
	record(result)
	metrics.RecordErrorByComponent("session", op+"_"+result)
	s.stats.failedWrites.Add(1)

	s.mu.Lock()
	if s.sess == sess {
		sess.lastErr = fmt.Sprintf("%s %s: %v", op, result, err)
	}
	s.mu.Unlock()

	if errors.Is(err, context.Canceled) {
		log.Info(ctx, "action canceled", logger.String("op", op))
	} else {
		log.Warn(ctx, "action failed", logger.String("op", op), logger.String("result", result), logger.Error(err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Service) succeeded(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == sess {
		sess.lastErr = ""
	}
}

// release clears the in-flight flag of sess. The gauge follows only the
// current session; endLocked already cleared it for an ended one.
func (s *Service) release(sess *session, kind model.ActionKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	live := s.sess == sess
	switch kind {
	case model.KindChooseTeam:
		sess.choosing = false
		if live {
			metrics.SetInFlight(opChoose, false)
		}
	case model.KindSubmitPops:
		sess.submitting = false
		if live {
			metrics.SetInFlight(opSubmit, false)
		}
	}
}

func (s *Service) connectedLocked() error {
	if s.contract == nil {
		return ErrNotConfigured
	}
	if s.sess == nil {
		return ErrNotConnected
	}
	return nil
}

// assignedLocked requires a session whose team read shows a chosen team.
func (s *Service) assignedLocked() error {
	if err := s.connectedLocked(); err != nil {
		return err
	}
	if a, ok := s.sess.team.Data(); !ok || !a.Chosen {
		return ErrNoTeam
	}
	return nil
}

package service

import (
	"github.com/okian/popkomodo/internal/domain/model"
	"github.com/okian/popkomodo/internal/domain/team"
)

// Texts shown by front ends.
const (
	MsgUnconfigured  = "Set POPKOMODO_CONTRACT_ADDRESS and restart."
	MsgConnect       = "Connect a wallet to play."
	StatusWaiting    = "Waiting for confirmation..."
	StatusNoTeam     = "No team yet."
	StatusTeamPrefix = "Your team: "
	LabelSubmit      = "Send Pops"
	LabelSubmitting  = "Sending…"
)

// View renders the current session into a front-end neutral snapshot.
func (s *Service) View() model.View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := model.View{
		State:       model.StateDisconnected,
		Configured:  s.contract != nil,
		PendingPops: s.pops.Pending(),
		SubmitLabel: LabelSubmit,
		Leaderboard: team.Leaderboard(nil),
	}
	sess := s.sess
	if sess != nil {
		v.Connected = true
		v.Identity = sess.identity.Hex()
		v.LastError = sess.lastErr
	}

	if s.contract == nil {
		v.State = model.StateUnconfigured
		v.Message = MsgUnconfigured
		return v
	}
	v.Contract = s.contract.Address().Hex()

	if sess == nil {
		v.Message = MsgConnect
		return v
	}

	if scores, ok := sess.scores.Data(); ok {
		v.Leaderboard = team.Leaderboard(&scores)
	}

	assignment, known := sess.team.Data()
	chosen := known && assignment.Chosen
	v.TeamKnown = known
	v.TeamChosen = chosen

	switch {
	case sess.choosing:
		v.State = model.StateChoosing
		v.TeamStatus = StatusWaiting
	case chosen:
		v.State = model.StateConnectedAssigned
		v.Team = assignment.Team.Label()
		v.TeamStatus = StatusTeamPrefix + v.Team
		if sess.submitting {
			v.State = model.StateSubmitting
		}
	default:
		v.State = model.StateConnectedUnassigned
		v.TeamStatus = StatusNoTeam
	}

	v.CanChoose = !chosen && !sess.choosing
	v.CanTap = chosen
	v.CanSubmit = chosen && !sess.submitting && !sess.choosing && v.PendingPops > 0
	if sess.submitting {
		v.SubmitLabel = LabelSubmitting
	}
	return v
}

// Leaderboard returns the rendered score rows; unknown values render as "-".
func (s *Service) Leaderboard() []team.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil || s.sess.scores == nil {
		return team.Leaderboard(nil)
	}
	if scores, ok := s.sess.scores.Data(); ok {
		return team.Leaderboard(&scores)
	}
	return team.Leaderboard(nil)
}

// Stats returns session counters for monitoring.
func (s *Service) Stats() model.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := model.Stats{
		Epoch:          s.epoch,
		PendingPops:    s.pops.Pending(),
		TapsRegistered: s.stats.tapsRegistered.Load(),
		TapsSaturated:  s.stats.tapsSaturated.Load(),
		Submissions:    s.stats.submissions.Load(),
		PopsConfirmed:  s.stats.popsConfirmed.Load(),
		FailedWrites:   s.stats.failedWrites.Load(),
	}
	if s.sess != nil {
		st.Choosing = s.sess.choosing
		st.Submitting = s.sess.submitting
		if s.sess.scores != nil {
			st.SkippedPolls = s.sess.scores.Snapshot().Skipped
		}
	}
	return st
}

package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/popkomodo/internal/app"
	"github.com/okian/popkomodo/internal/chain"
	"github.com/okian/popkomodo/internal/chain/chaintest"
	"github.com/okian/popkomodo/internal/domain/model"
	"github.com/okian/popkomodo/internal/domain/pops"
	"github.com/okian/popkomodo/internal/domain/team"
)

func TestService_Unconfigured(t *testing.T) {
	Convey("Given a service without a contract", t, func() {
		accounts := &chaintest.Accounts{}
		svc := service.New(accounts)
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop(ctx)

		accounts.Connect(alice)
		So(waitFor(func() bool { return svc.View().Connected }), ShouldBeTrue)

		Convey("Then the view explains how to configure it", func() {
			v := svc.View()
			So(svc.Configured(), ShouldBeFalse)
			So(v.State, ShouldEqual, model.StateUnconfigured)
			So(v.Message, ShouldEqual, service.MsgUnconfigured)
			So(v.CanChoose, ShouldBeFalse)
			So(v.CanTap, ShouldBeFalse)
			So(v.CanSubmit, ShouldBeFalse)
		})

		Convey("Then every mutating operation is refused", func() {
			_, err := svc.RegisterTap()
			So(errors.Is(err, service.ErrNotConfigured), ShouldBeTrue)
			_, err = svc.PrepareChoose(team.Ethereum)
			So(errors.Is(err, service.ErrNotConfigured), ShouldBeTrue)
			_, err = svc.SubmitPops(ctx)
			So(errors.Is(err, service.ErrNotConfigured), ShouldBeTrue)
		})
	})
}

func TestService_Connection(t *testing.T) {
	Convey("Given a configured service", t, func() {
		h := newHarness()
		defer h.close()

		Convey("When no wallet is connected", func() {
			v := h.svc.View()

			Convey("Then it renders disconnected with a pending leaderboard", func() {
				So(v.State, ShouldEqual, model.StateDisconnected)
				So(v.Connected, ShouldBeFalse)
				So(v.Leaderboard[0].Score, ShouldEqual, team.Placeholder)
				_, err := h.svc.PrepareChoose(team.Bitcoin)
				So(errors.Is(err, service.ErrNotConnected), ShouldBeTrue)
				So(h.backend.Reads(chain.MethodGetTeam), ShouldEqual, 0)
				So(h.backend.Reads(chain.MethodGetScores), ShouldEqual, 0)
			})
		})

		Convey("When a wallet without a team connects", func() {
			So(h.connect(alice), ShouldBeTrue)
			v := h.svc.View()

			Convey("Then only choosing is enabled", func() {
				So(v.State, ShouldEqual, model.StateConnectedUnassigned)
				So(v.TeamStatus, ShouldEqual, service.StatusNoTeam)
				So(v.CanChoose, ShouldBeTrue)
				So(v.CanTap, ShouldBeFalse)
				So(v.CanSubmit, ShouldBeFalse)
				_, err := h.svc.RegisterTap()
				So(errors.Is(err, service.ErrNoTeam), ShouldBeTrue)
			})
		})

		Convey("When a wallet with a team connects", func() {
			h.backend.SetTeam(alice, team.Monad)
			So(h.connect(alice), ShouldBeTrue)
			v := h.svc.View()

			Convey("Then tapping is enabled and choosing is not", func() {
				So(v.State, ShouldEqual, model.StateConnectedAssigned)
				So(v.Team, ShouldEqual, "Monad")
				So(v.TeamStatus, ShouldEqual, "Your team: Monad")
				So(v.CanChoose, ShouldBeFalse)
				So(v.CanTap, ShouldBeTrue)
				So(v.CanSubmit, ShouldBeFalse)
			})
		})
	})
}

func TestService_Taps(t *testing.T) {
	Convey("Given an assigned session", t, func() {
		h := newHarness()
		defer h.close()
		h.backend.SetTeam(alice, team.Ethereum)
		So(h.connect(alice), ShouldBeTrue)

		Convey("When tapping far past the cap", func() {
			for i := 0; i < pops.Cap+57; i++ {
				n, err := h.svc.RegisterTap()
				So(err, ShouldBeNil)
				So(n, ShouldBeBetweenOrEqual, 1, pops.Cap)
			}

			Convey("Then pending pops saturate at the cap", func() {
				So(h.svc.View().PendingPops, ShouldEqual, pops.Cap)
				st := h.svc.Stats()
				So(st.TapsRegistered, ShouldEqual, pops.Cap)
				So(st.TapsSaturated, ShouldEqual, 57)
			})
		})

		Convey("When submitting with nothing pending", func() {
			_, err := h.svc.PrepareSubmit()

			Convey("Then no transaction is issued", func() {
				So(errors.Is(err, service.ErrNothingToSubmit), ShouldBeTrue)
				So(h.backend.Writes(), ShouldBeEmpty)
				So(h.svc.View().State, ShouldEqual, model.StateConnectedAssigned)
			})
		})

		Convey("When disconnecting with pops pending", func() {
			h.tap(7)
			h.accounts.Disconnect()
			So(waitFor(func() bool { return !h.svc.View().Connected }), ShouldBeTrue)

			Convey("Then pending pops are discarded", func() {
				v := h.svc.View()
				So(v.PendingPops, ShouldEqual, 0)
				So(v.State, ShouldEqual, model.StateDisconnected)
			})
		})
	})
}

func TestService_Submit(t *testing.T) {
	Convey("Given an assigned session with five pending pops", t, func() {
		h := newHarness()
		defer h.close()
		h.backend.SetTeam(alice, team.Bitcoin)
		So(h.connect(alice), ShouldBeTrue)
		h.tap(5)

		Convey("When three taps land while the submission is in flight", func() {
			release := h.backend.HoldConfirmations()
			a, err := h.svc.PrepareSubmit()
			So(err, ShouldBeNil)
			So(a.Amount, ShouldEqual, 5)

			done := make(chan error, 1)
			go func() { done <- h.svc.Execute(h.ctx, a) }()
			call, ok := waitSubmitted(h.backend)
			So(ok, ShouldBeTrue)
			So(call.Method, ShouldEqual, chain.MethodPopBy)

			v := h.svc.View()
			So(v.State, ShouldEqual, model.StateSubmitting)
			So(v.SubmitLabel, ShouldEqual, service.LabelSubmitting)
			So(v.CanTap, ShouldBeTrue)
			So(v.CanSubmit, ShouldBeFalse)
			_, err = h.svc.PrepareSubmit()
			So(errors.Is(err, service.ErrInFlight), ShouldBeTrue)

			h.tap(3)
			So(h.svc.View().PendingPops, ShouldEqual, 8)
			release()
			So(<-done, ShouldBeNil)

			Convey("Then only the submitted amount is subtracted", func() {
				v := h.svc.View()
				So(v.PendingPops, ShouldEqual, 3)
				So(v.State, ShouldEqual, model.StateConnectedAssigned)
				So(v.SubmitLabel, ShouldEqual, service.LabelSubmit)
				So(h.backend.Scores(), ShouldResemble, team.Scores{0, 5, 0})
			})

			Convey("And the scores are re-read", func() {
				So(waitFor(func() bool { return h.svc.Leaderboard()[1].Score == "5" }), ShouldBeTrue)
			})
		})

		Convey("When the submission reverts", func() {
			h.backend.FailConfirmations(chain.ErrReverted)
			a, err := h.svc.PrepareSubmit()
			So(err, ShouldBeNil)
			err = h.svc.Execute(h.ctx, a)

			Convey("Then pending pops are unchanged and the flag is cleared", func() {
				So(errors.Is(err, chain.ErrReverted), ShouldBeTrue)
				v := h.svc.View()
				So(v.PendingPops, ShouldEqual, 5)
				So(v.CanSubmit, ShouldBeTrue)
				So(v.LastError, ShouldNotBeEmpty)
				So(h.svc.Stats().FailedWrites, ShouldEqual, 1)
			})

			Convey("And nothing is resubmitted", func() {
				So(h.backend.WriteCount(chain.MethodPopBy), ShouldEqual, 1)
			})
		})

		Convey("When the signer rejects the submission", func() {
			h.backend.RejectWrites(chain.MethodPopBy, chain.ErrRejected)
			a, err := h.svc.PrepareSubmit()
			So(err, ShouldBeNil)
			err = h.svc.Execute(h.ctx, a)

			Convey("Then nothing is mutated", func() {
				So(errors.Is(err, chain.ErrRejected), ShouldBeTrue)
				So(h.svc.View().PendingPops, ShouldEqual, 5)
				So(h.svc.Stats().Submitting, ShouldBeFalse)
				So(h.backend.Writes(), ShouldBeEmpty)
			})
		})

		Convey("When a prepared submission is aborted", func() {
			a, err := h.svc.PrepareSubmit()
			So(err, ShouldBeNil)
			h.svc.Abort(a)

			Convey("Then another submission may be prepared", func() {
				_, err := h.svc.PrepareSubmit()
				So(err, ShouldBeNil)
				So(h.svc.View().PendingPops, ShouldEqual, 5)
			})
		})
	})
}

func TestService_Choose(t *testing.T) {
	Convey("Given a session without a team", t, func() {
		h := newHarness()
		defer h.close()
		So(h.connect(alice), ShouldBeTrue)

		Convey("When a choice is confirmed", func() {
			release := h.backend.HoldConfirmations()
			a, err := h.svc.PrepareChoose(team.Ethereum)
			So(err, ShouldBeNil)

			done := make(chan error, 1)
			go func() { done <- h.svc.Execute(h.ctx, a) }()
			_, ok := waitSubmitted(h.backend)
			So(ok, ShouldBeTrue)

			v := h.svc.View()
			So(v.State, ShouldEqual, model.StateChoosing)
			So(v.TeamStatus, ShouldEqual, service.StatusWaiting)
			So(v.CanChoose, ShouldBeFalse)
			_, err = h.svc.PrepareChoose(team.Bitcoin)
			So(errors.Is(err, service.ErrInFlight), ShouldBeTrue)

			release()
			So(<-done, ShouldBeNil)

			Convey("Then the team read is fresh when the flag clears", func() {
				v := h.svc.View()
				So(v.State, ShouldEqual, model.StateConnectedAssigned)
				So(v.Team, ShouldEqual, "Ethereum")
				So(v.CanTap, ShouldBeTrue)
			})

			Convey("And a second choice issues no transaction", func() {
				_, err := h.svc.PrepareChoose(team.Monad)
				So(errors.Is(err, service.ErrTeamChosen), ShouldBeTrue)
				So(h.backend.WriteCount(chain.MethodChooseTeam), ShouldEqual, 1)
			})
		})

		Convey("When the signer rejects the choice", func() {
			h.backend.RejectWrites(chain.MethodChooseTeam, chain.ErrRejected)
			a, err := h.svc.PrepareChoose(team.Monad)
			So(err, ShouldBeNil)
			err = h.svc.Execute(h.ctx, a)

			Convey("Then the team stays unset and choosing is enabled again", func() {
				So(errors.Is(err, chain.ErrRejected), ShouldBeTrue)
				v := h.svc.View()
				So(v.TeamChosen, ShouldBeFalse)
				So(v.CanChoose, ShouldBeTrue)
				So(v.State, ShouldEqual, model.StateConnectedUnassigned)
			})
		})

		Convey("When the team read fails after confirmation", func() {
			h.backend.FailReads(chain.MethodGetTeam, errors.New("rpc timeout"))
			a, err := h.svc.PrepareChoose(team.Bitcoin)
			So(err, ShouldBeNil)
			err = h.svc.Execute(h.ctx, a)

			Convey("Then the stale assignment is kept", func() {
				So(err, ShouldBeNil)
				So(h.svc.View().TeamChosen, ShouldBeFalse)
			})
		})

		Convey("When choosing an unknown team", func() {
			_, err := h.svc.PrepareChoose(team.ID(9))

			Convey("Then it is refused", func() {
				So(errors.Is(err, service.ErrInvalidTeam), ShouldBeTrue)
				So(h.svc.View().State, ShouldEqual, model.StateConnectedUnassigned)
			})
		})
	})

	Convey("Given a session whose read shows a chosen team", t, func() {
		h := newHarness()
		defer h.close()
		h.backend.SetTeam(alice, team.Bitcoin)
		So(h.connect(alice), ShouldBeTrue)

		Convey("Then choosing issues no transaction", func() {
			_, err := h.svc.PrepareChoose(team.Ethereum)
			So(errors.Is(err, service.ErrTeamChosen), ShouldBeTrue)
			So(h.backend.Writes(), ShouldBeEmpty)
		})
	})
}

func TestService_Leaderboard(t *testing.T) {
	Convey("Given scores of 4, 9 and 2 on chain", t, func() {
		h := newHarness()
		defer h.close()
		h.backend.SetScores(team.Scores{4, 9, 2})

		Convey("When the score read has not resolved", func() {
			release := h.backend.HoldReads()
			defer release()
			h.accounts.Connect(alice)
			So(waitFor(func() bool { return h.svc.View().Connected }), ShouldBeTrue)

			Convey("Then every row renders the placeholder", func() {
				for _, row := range h.svc.Leaderboard() {
					So(row.Score, ShouldEqual, team.Placeholder)
				}
			})
		})

		Convey("When the score read resolves", func() {
			So(h.connect(alice), ShouldBeTrue)
			So(waitFor(func() bool { return h.svc.Leaderboard()[0].Score != team.Placeholder }), ShouldBeTrue)

			Convey("Then rows are labelled in team order", func() {
				So(h.svc.Leaderboard(), ShouldResemble, []team.Row{
					{Team: 0, Label: "Ethereum", Score: "4"},
					{Team: 1, Label: "Bitcoin", Score: "9"},
					{Team: 2, Label: "Monad", Score: "2"},
				})
			})
		})
	})
}

func TestService_Polling(t *testing.T) {
	Convey("Given a connected session", t, func() {
		h := newHarness()
		defer h.close()
		So(h.connect(alice), ShouldBeTrue)
		So(waitFor(func() bool { return h.svc.Leaderboard()[0].Score == "0" }), ShouldBeTrue)
		So(h.backend.Reads(chain.MethodGetScores), ShouldEqual, 1)
		So(h.clock.BlockUntilContext(h.ctx, 2), ShouldBeNil)

		Convey("When the poll interval elapses", func() {
			h.clock.Advance(pollInterval)
			So(waitFor(func() bool { return h.backend.Reads(chain.MethodGetScores) == 2 }), ShouldBeTrue)

			Convey("Then scores are read once per interval", func() {
				h.clock.Advance(pollInterval)
				So(waitFor(func() bool { return h.backend.Reads(chain.MethodGetScores) == 3 }), ShouldBeTrue)
			})

			Convey("And polling stops on disconnect", func() {
				h.accounts.Disconnect()
				So(waitFor(func() bool { return !h.svc.View().Connected }), ShouldBeTrue)
				So(h.clock.BlockUntilContext(h.ctx, 0), ShouldBeNil)
				h.clock.Advance(pollInterval)
				h.clock.Advance(pollInterval)
				time.Sleep(50 * time.Millisecond)
				So(h.backend.Reads(chain.MethodGetScores), ShouldEqual, 2)
			})
		})

		Convey("When a poll fails", func() {
			h.backend.SetScores(team.Scores{1, 2, 3})
			h.backend.FailReads(chain.MethodGetScores, errors.New("rpc down"))
			h.clock.Advance(pollInterval)
			So(waitFor(func() bool { return h.backend.Reads(chain.MethodGetScores) == 2 }), ShouldBeTrue)

			Convey("Then the previous snapshot is kept", func() {
				So(h.svc.Leaderboard()[0].Score, ShouldEqual, "0")
			})
		})
	})
}

func TestService_DisconnectDuringSubmit(t *testing.T) {
	Convey("Given a submission in flight", t, func() {
		h := newHarness()
		defer h.close()
		h.backend.SetTeam(alice, team.Ethereum)
		h.backend.SetTeam(bob, team.Monad)
		So(h.connect(alice), ShouldBeTrue)
		h.tap(4)

		release := h.backend.HoldConfirmations()
		a, err := h.svc.PrepareSubmit()
		So(err, ShouldBeNil)
		done := make(chan error, 1)
		go func() { done <- h.svc.Execute(h.ctx, a) }()
		_, ok := waitSubmitted(h.backend)
		So(ok, ShouldBeTrue)

		Convey("When the wallet switches identity before confirmation", func() {
			So(h.connect(bob), ShouldBeTrue)
			h.tap(2)
			release()
			So(<-done, ShouldBeNil)

			Convey("Then the new session is not touched by the old result", func() {
				v := h.svc.View()
				So(v.Identity, ShouldEqual, bob.Hex())
				So(v.PendingPops, ShouldEqual, 2)
				So(v.State, ShouldEqual, model.StateConnectedAssigned)
				So(v.CanSubmit, ShouldBeTrue)
			})
		})

		Convey("When the next session starts its own submission before confirmation", func() {
			So(inFlight("submit_pops"), ShouldEqual, 1)
			So(h.connect(bob), ShouldBeTrue)
			So(inFlight("submit_pops"), ShouldEqual, 0)
			h.tap(2)
			b, err := h.svc.PrepareSubmit()
			So(err, ShouldBeNil)
			So(inFlight("submit_pops"), ShouldEqual, 1)
			release()
			So(<-done, ShouldBeNil)

			Convey("Then the old release leaves the gauge to the new session", func() {
				So(inFlight("submit_pops"), ShouldEqual, 1)
				So(h.svc.View().CanSubmit, ShouldBeFalse)
				h.svc.Abort(b)
				So(inFlight("submit_pops"), ShouldEqual, 0)
			})
		})

		Convey("When the wallet disconnects before confirmation", func() {
			h.accounts.Disconnect()
			So(waitFor(func() bool { return !h.svc.View().Connected }), ShouldBeTrue)
			release()
			So(<-done, ShouldBeNil)

			Convey("Then the session state stays cleared", func() {
				v := h.svc.View()
				So(v.State, ShouldEqual, model.StateDisconnected)
				So(v.PendingPops, ShouldEqual, 0)
			})
		})

		Convey("When an action from an ended session is executed", func() {
			h.accounts.Disconnect()
			So(waitFor(func() bool { return !h.svc.View().Connected }), ShouldBeTrue)
			release()
			<-done

			Convey("Then it is dropped without a transaction", func() {
				err := h.svc.Execute(h.ctx, a)
				So(errors.Is(err, service.ErrNotConnected), ShouldBeTrue)
				So(h.backend.WriteCount(chain.MethodPopBy), ShouldEqual, 1)
			})
		})
	})
}

func TestService_TeamRecovery(t *testing.T) {
	Convey("Given a team read that fails when the wallet connects", t, func() {
		h := newHarness()
		defer h.close()
		h.backend.SetTeam(alice, team.Bitcoin)
		h.backend.FailReads(chain.MethodGetTeam, errors.New("rpc down"))
		h.accounts.Connect(alice)
		So(waitFor(func() bool { return h.backend.Reads(chain.MethodGetTeam) >= 1 }), ShouldBeTrue)
		So(waitFor(func() bool { return h.svc.View().Connected }), ShouldBeTrue)
		So(h.svc.View().TeamChosen, ShouldBeFalse)
		So(h.svc.View().CanTap, ShouldBeFalse)
		So(h.clock.BlockUntilContext(h.ctx, 2), ShouldBeNil)

		Convey("When the endpoint recovers and the poll interval elapses", func() {
			h.backend.FailReads(chain.MethodGetTeam, nil)
			h.clock.Advance(pollInterval)

			Convey("Then the team resolves and tapping is enabled", func() {
				So(waitFor(func() bool { return h.svc.View().TeamChosen }), ShouldBeTrue)
				v := h.svc.View()
				So(v.Team, ShouldEqual, "Bitcoin")
				So(v.State, ShouldEqual, model.StateConnectedAssigned)
				So(v.CanTap, ShouldBeTrue)
			})

			Convey("And the team is no longer polled once chosen", func() {
				So(waitFor(func() bool { return h.svc.View().TeamChosen }), ShouldBeTrue)
				reads := h.backend.Reads(chain.MethodGetTeam)
				h.clock.Advance(pollInterval)
				So(waitFor(func() bool { return h.backend.Reads(chain.MethodGetScores) >= 3 }), ShouldBeTrue)
				So(h.backend.Reads(chain.MethodGetTeam), ShouldEqual, reads)
			})
		})

		Convey("When the user refreshes after the endpoint recovers", func() {
			h.backend.FailReads(chain.MethodGetTeam, nil)
			err := h.svc.Refresh(h.ctx)

			Convey("Then the team resolves without waiting for a poll", func() {
				So(err, ShouldBeNil)
				v := h.svc.View()
				So(v.TeamChosen, ShouldBeTrue)
				So(v.Team, ShouldEqual, "Bitcoin")
				So(v.CanTap, ShouldBeTrue)
			})
		})

		Convey("When the user refreshes while the endpoint is still down", func() {
			err := h.svc.Refresh(h.ctx)

			Convey("Then the read error is returned and the team stays unknown", func() {
				So(errors.Is(err, service.ErrReadFailed), ShouldBeTrue)
				So(h.svc.View().TeamChosen, ShouldBeFalse)
			})
		})
	})

	Convey("Given a session whose team is already chosen", t, func() {
		h := newHarness()
		defer h.close()
		h.backend.SetTeam(alice, team.Monad)
		So(h.connect(alice), ShouldBeTrue)
		So(h.svc.View().TeamChosen, ShouldBeTrue)

		Convey("When the node later reports no team", func() {
			h.backend.ClearTeam(alice)
			So(h.clock.BlockUntilContext(h.ctx, 2), ShouldBeNil)
			h.clock.Advance(pollInterval)
			So(waitFor(func() bool { return h.backend.Reads(chain.MethodGetScores) >= 2 }), ShouldBeTrue)
			So(h.svc.Refresh(h.ctx), ShouldBeNil)
			_, err := h.svc.PrepareChoose(team.Ethereum)

			Convey("Then the chosen team is kept", func() {
				So(errors.Is(err, service.ErrTeamChosen), ShouldBeTrue)
				v := h.svc.View()
				So(v.Team, ShouldEqual, "Monad")
				So(v.CanTap, ShouldBeTrue)
				So(h.backend.WriteCount(chain.MethodChooseTeam), ShouldEqual, 0)
			})
		})
	})

	Convey("Given a disconnected service", t, func() {
		h := newHarness()
		defer h.close()

		Convey("Then Refresh reports that no wallet is connected", func() {
			So(errors.Is(h.svc.Refresh(h.ctx), service.ErrNotConnected), ShouldBeTrue)
		})
	})
}

func TestService_QuickReconnect(t *testing.T) {
	Convey("Given a session with pending pops", t, func() {
		h := newHarness()
		defer h.close()
		h.backend.SetTeam(alice, team.Ethereum)
		So(h.connect(alice), ShouldBeTrue)
		h.tap(5)
		epoch := h.svc.Stats().Epoch

		Convey("When the wallet disconnects and reconnects the same identity at once", func() {
			h.accounts.Disconnect()
			h.accounts.Connect(alice)

			Convey("Then a fresh session replaces the old one", func() {
				So(waitFor(func() bool { return h.svc.Stats().Epoch == epoch+1 }), ShouldBeTrue)
				So(waitFor(func() bool { return h.svc.View().Connected }), ShouldBeTrue)
				v := h.svc.View()
				So(v.Identity, ShouldEqual, alice.Hex())
				So(v.PendingPops, ShouldEqual, 0)
			})
		})
	})
}

package service_test

import (
	"context"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/popkomodo/internal/app"
	"github.com/okian/popkomodo/internal/chain"
	"github.com/okian/popkomodo/internal/chain/chaintest"
	"github.com/okian/popkomodo/internal/domain/model"
	"github.com/okian/popkomodo/internal/domain/team"
)

func TestServiceIntegration(t *testing.T) {
	Convey("Given a started service with dispatch workers", t, func() {
		h := newHarness(service.WithWorkerCount(2), service.WithQueueSize(4))
		defer h.close()
		So(h.connect(alice), ShouldBeTrue)

		Convey("When playing a full round through the dispatcher", func() {
			a, err := h.svc.ChooseTeam(h.ctx, team.Monad)
			So(err, ShouldBeNil)
			So(a.Kind, ShouldEqual, model.KindChooseTeam)
			So(a.ID, ShouldNotBeEmpty)
			So(waitFor(func() bool { return h.svc.View().State == model.StateConnectedAssigned }), ShouldBeTrue)

			h.tap(12)
			a, err = h.svc.SubmitPops(h.ctx)
			So(err, ShouldBeNil)
			So(a.Amount, ShouldEqual, 12)
			So(waitFor(func() bool { return h.svc.View().PendingPops == 0 && !h.svc.Stats().Submitting }), ShouldBeTrue)

			Convey("Then the contract and leaderboard reflect the round", func() {
				So(h.backend.Scores(), ShouldResemble, team.Scores{0, 0, 12})
				So(waitFor(func() bool { return h.svc.Leaderboard()[2].Score == "12" }), ShouldBeTrue)
				st := h.svc.Stats()
				So(st.PopsConfirmed, ShouldEqual, 12)
				So(st.Submissions, ShouldEqual, 1)
			})
		})

		Convey("When a dispatched submission is rejected", func() {
			h.backend.SetTeam(bob, team.Bitcoin)
			So(h.connect(bob), ShouldBeTrue)
			h.tap(3)
			h.backend.RejectWrites(chain.MethodPopBy, chain.ErrRejected)
			_, err := h.svc.SubmitPops(h.ctx)
			So(err, ShouldBeNil)

			Convey("Then the flag clears and pops are kept for a manual retry", func() {
				So(waitFor(func() bool { return h.svc.Stats().FailedWrites == 1 }), ShouldBeTrue)
				So(waitFor(func() bool { return h.svc.View().CanSubmit }), ShouldBeTrue)
				So(h.svc.View().PendingPops, ShouldEqual, 3)
			})
		})
	})
}

func TestServiceDispatchWithoutStart(t *testing.T) {
	Convey("Given a service that was never started", t, func() {
		accounts := &chaintest.Accounts{}
		backend := chaintest.New()
		svc := service.New(accounts, service.WithContract(chain.NewContract(contractAddr, backend, backend)))

		Convey("Then operations that need a session are refused", func() {
			_, err := svc.ChooseTeam(context.Background(), team.Ethereum)
			So(errors.Is(err, service.ErrNotConnected), ShouldBeTrue)
			So(backend.Writes(), ShouldBeEmpty)
		})
	})
}

func TestServiceStopped(t *testing.T) {
	Convey("Given a stopped dispatcher", t, func() {
		h := newHarness()
		h.backend.SetTeam(alice, team.Ethereum)
		So(h.connect(alice), ShouldBeTrue)
		h.tap(2)
		h.svc.Stop(h.ctx)
		defer h.cancel()

		Convey("When submitting", func() {
			_, err := h.svc.SubmitPops(h.ctx)

			Convey("Then the ended session refuses it", func() {
				So(errors.Is(err, service.ErrNotConnected), ShouldBeTrue)
				So(h.svc.Stats().Submitting, ShouldBeFalse)
				So(h.backend.Writes(), ShouldBeEmpty)
			})
		})
	})
}

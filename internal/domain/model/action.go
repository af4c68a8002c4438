// Package model contains domain models passed between layers.
package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/okian/popkomodo/internal/chain"
	"github.com/okian/popkomodo/internal/domain/team"
)

// ActionKind names a mutating contract call.
type ActionKind string

// Action kinds.
const (
	KindChooseTeam ActionKind = "choose_team"
	KindSubmitPops ActionKind = "submit_pops"
)

// Action is a prepared contract write waiting for a dispatcher.
// Its in-flight flag is already held by the session that prepared it.
type Action struct {
	ID       string         // unique id reported back to the caller
	Kind     ActionKind     // which contract call to issue
	Identity chain.Identity // signer
	Team     team.ID        // chooseTeam argument
	Amount   int            // popBy argument, captured at preparation
	Epoch    uint64         // session the action belongs to
	QueuedAt time.Time
}

// NewAction stamps a new action with a fresh id.
func NewAction(kind ActionKind, identity chain.Identity, epoch uint64, now time.Time) Action {
	return Action{
		ID:       uuid.NewString(),
		Kind:     kind,
		Identity: identity,
		Epoch:    epoch,
		QueuedAt: now,
	}
}

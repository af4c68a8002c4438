package service

import (
	"errors"
	"fmt"

	"github.com/okian/popkomodo/internal/chain"
	"github.com/okian/popkomodo/internal/domain/team"
	"github.com/okian/popkomodo/pkg/metrics"
)

// Precondition errors. None of them issue a transaction.
var (
	ErrNotConfigured   = errors.New("contract address not configured")
	ErrNotConnected    = errors.New("wallet not connected")
	ErrTeamChosen      = errors.New("team already chosen")
	ErrNoTeam          = errors.New("no team chosen")
	ErrNothingToSubmit = errors.New("no pending pops")
	ErrInFlight        = errors.New("operation already in flight")
	ErrInvalidTeam     = team.ErrInvalid
	ErrNotStarted      = errors.New("session controller not started")
	ErrSessionEnded    = fmt.Errorf("%w: session ended", ErrNotConnected)
)

// ErrReadFailed wraps a contract read that a caller asked for explicitly.
var ErrReadFailed = errors.New("contract read failed")

// resultOf maps a write outcome onto a metrics result label.
func resultOf(err error) string {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case errors.Is(err, chain.ErrRejected):
		return metrics.ResultRejected
	case errors.Is(err, chain.ErrReverted):
		return metrics.ResultReverted
	default:
		return metrics.ResultFailed
	}
}

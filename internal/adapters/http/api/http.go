// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/popkomodo/internal/adapters/mq/queue"
	service "github.com/okian/popkomodo/internal/app"
	"github.com/okian/popkomodo/internal/chain"
	"github.com/okian/popkomodo/internal/domain/model"
	"github.com/okian/popkomodo/internal/domain/team"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	View() model.View
	Leaderboard() []team.Row
	RegisterTap() (int, error)
	ChooseTeam(ctx context.Context, id team.ID) (model.Action, error)
	SubmitPops(ctx context.Context) (model.Action, error)
	Refresh(ctx context.Context) error
}

// Wallet switches the identity the session follows.
type Wallet interface {
	Connect(ctx context.Context, address string) (chain.Identity, error)
	Disconnect()
	Accounts() []chain.Identity
}

// Server wires HTTP routes for the session API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	viewHandler        *ViewHandler
	leaderboardHandler *LeaderboardHandler
	sessionHandler     *SessionHandler
	walletHandler      *WalletHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, wallet Wallet, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		viewHandler:        NewViewHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps),
		sessionHandler:     NewSessionHandler(deps),
		walletHandler:      NewWalletHandler(wallet),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/view", MetricsMiddleware(s.viewHandler.HandleView, "view"))
	mux.HandleFunc("/leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("/pop", MetricsMiddleware(s.sessionHandler.HandlePop, "pop"))
	mux.HandleFunc("/team", MetricsMiddleware(s.sessionHandler.HandleChooseTeam, "team"))
	mux.HandleFunc("/pops/submit", MetricsMiddleware(s.sessionHandler.HandleSubmitPops, "pops_submit"))
	mux.HandleFunc("/refresh", MetricsMiddleware(s.sessionHandler.HandleRefresh, "refresh"))
	mux.HandleFunc("/wallet/accounts", MetricsMiddleware(s.walletHandler.HandleAccounts, "wallet_accounts"))
	mux.HandleFunc("/wallet/connect", MetricsMiddleware(s.walletHandler.HandleConnect, "wallet_connect"))
	mux.HandleFunc("/wallet/disconnect", MetricsMiddleware(s.walletHandler.HandleDisconnect, "wallet_disconnect"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// StatusFor maps a session error onto an HTTP status and error code.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, service.ErrInvalidTeam):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, service.ErrNotConfigured):
		return http.StatusServiceUnavailable, "not_configured"
	case errors.Is(err, service.ErrNotStarted):
		return http.StatusServiceUnavailable, "not_started"
	case errors.Is(err, service.ErrNotConnected):
		return http.StatusPreconditionFailed, "not_connected"
	case errors.Is(err, service.ErrNoTeam):
		return http.StatusPreconditionFailed, "no_team"
	case errors.Is(err, service.ErrTeamChosen):
		return http.StatusConflict, "team_chosen"
	case errors.Is(err, service.ErrInFlight):
		return http.StatusConflict, "in_flight"
	case errors.Is(err, service.ErrNothingToSubmit):
		return http.StatusConflict, "nothing_to_submit"
	case errors.Is(err, queue.ErrFull), errors.Is(err, ErrBackpressure):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, service.ErrReadFailed):
		return http.StatusBadGateway, "read_failed"
	case errors.Is(err, ErrWallet):
		return http.StatusBadRequest, "wallet_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeFailure(w http.ResponseWriter, err error) {
	status, code := StatusFor(err)
	writeError(w, status, code, err)
}

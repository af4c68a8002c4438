package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/okian/popkomodo/internal/domain/model"
	"github.com/okian/popkomodo/internal/domain/team"
)

// SessionHandler handles the mutating session routes.
type SessionHandler struct {
	deps Dependencies
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(deps Dependencies) *SessionHandler {
	return &SessionHandler{deps: deps}
}

type popResponse struct {
	PendingPops int `json:"pending_pops"`
}

// teamRequest accepts a team index or label, as a JSON number or string.
type teamRequest struct {
	Team json.RawMessage `json:"team"`
}

func (t teamRequest) parse() (team.ID, error) {
	raw := strings.TrimSpace(string(t.Team))
	if raw == "" || raw == "null" {
		return 0, errors.New("missing team")
	}
	if unq, err := strconv.Unquote(raw); err == nil {
		raw = unq
	}
	return team.Parse(raw)
}

type actionResponse struct {
	Status   string           `json:"status"`
	ActionID string           `json:"action_id"`
	Kind     model.ActionKind `json:"kind"`
	Team     string           `json:"team,omitempty"`
	Amount   int              `json:"amount,omitempty"`
}

func accepted(a model.Action) actionResponse { //nolint:gocritic // hugeParam: actions travel by value
	resp := actionResponse{
		Status:   "accepted",
		ActionID: a.ID,
		Kind:     a.Kind,
		Amount:   a.Amount,
	}
	if a.Kind == model.KindChooseTeam {
		resp.Team = a.Team.Label()
	}
	return resp
}

// HandlePop handles POST /pop requests.
func (h *SessionHandler) HandlePop(w http.ResponseWriter, r *http.Request) {
	const op = "api.pop"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	pending, err := h.deps.RegisterTap()
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, popResponse{PendingPops: pending})
}

// HandleChooseTeam handles POST /team requests.
func (h *SessionHandler) HandleChooseTeam(w http.ResponseWriter, r *http.Request) {
	const op = "api.choose_team"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req teamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	id, err := req.parse()
	if err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	a, err := h.deps.ChooseTeam(r.Context(), id)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusAccepted, accepted(a))
}

// HandleSubmitPops handles POST /pops/submit requests.
func (h *SessionHandler) HandleSubmitPops(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_pops"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	_, _ = io.Copy(io.Discard, r.Body)
	a, err := h.deps.SubmitPops(r.Context())
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusAccepted, accepted(a))
}

// HandleRefresh handles POST /refresh requests. It re-reads the team and
// scores and answers with the resulting view.
func (h *SessionHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	const op = "api.refresh"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	_, _ = io.Copy(io.Discard, r.Body)
	if err := h.deps.Refresh(r.Context()); err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, h.deps.View())
}

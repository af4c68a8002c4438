package model

import "github.com/okian/popkomodo/internal/domain/team"

// State is the rendered session state.
type State string

// Session states.
const (
	StateUnconfigured        State = "unconfigured"
	StateDisconnected        State = "disconnected"
	StateConnectedUnassigned State = "connected-unassigned"
	StateChoosing            State = "choosing"
	StateConnectedAssigned   State = "connected-assigned"
	StateSubmitting          State = "submitting"
)

// View is everything a front end needs to draw the session.
type View struct {
	State       State      `json:"state"`
	Configured  bool       `json:"configured"`
	Message     string     `json:"message,omitempty"`
	Contract    string     `json:"contract,omitempty"`
	Connected   bool       `json:"connected"`
	Identity    string     `json:"identity,omitempty"`
	TeamKnown   bool       `json:"team_known"`
	TeamChosen  bool       `json:"team_chosen"`
	Team        string     `json:"team,omitempty"`
	TeamStatus  string     `json:"team_status,omitempty"`
	PendingPops int        `json:"pending_pops"`
	CanChoose   bool       `json:"can_choose"`
	CanTap      bool       `json:"can_tap"`
	CanSubmit   bool       `json:"can_submit"`
	SubmitLabel string     `json:"submit_label"`
	Leaderboard []team.Row `json:"leaderboard"`
	LastError   string     `json:"last_error,omitempty"`
}

// Stats is a snapshot of session counters.
type Stats struct {
	Epoch          uint64 `json:"epoch"`
	PendingPops    int    `json:"pending_pops"`
	Choosing       bool   `json:"choosing"`
	Submitting     bool   `json:"submitting"`
	TapsRegistered uint64 `json:"taps_registered"`
	TapsSaturated  uint64 `json:"taps_saturated"`
	Submissions    uint64 `json:"submissions"`
	PopsConfirmed  uint64 `json:"pops_confirmed"`
	FailedWrites   uint64 `json:"failed_writes"`
	SkippedPolls   uint64 `json:"skipped_polls"`
}

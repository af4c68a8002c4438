package api

import (
	"net/http"

	"github.com/okian/popkomodo/internal/domain/model"
)

// ViewDependencies renders the session.
type ViewDependencies interface {
	View() model.View
}

// ViewHandler handles view requests.
type ViewHandler struct {
	deps ViewDependencies
}

// NewViewHandler creates a new view handler.
func NewViewHandler(deps ViewDependencies) *ViewHandler {
	return &ViewHandler{deps: deps}
}

// HandleView handles GET /view requests.
func (h *ViewHandler) HandleView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.View())
}

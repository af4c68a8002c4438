// Package site serves the HTML front end of the session.
package site

import (
	"context"
	_ "embed"
	"errors"
	"html/template"
	"net/http"
	"net/url"

	"github.com/okian/popkomodo/internal/chain"
	"github.com/okian/popkomodo/internal/domain/model"
	"github.com/okian/popkomodo/internal/domain/team"
	"github.com/okian/popkomodo/pkg/logger"
)

// Error constants
var (
	ErrRender = errors.New("site render failed")
)

const refreshSeconds = 2

//go:embed static/index.html
var indexHTML string

var indexTmpl = template.Must(template.New("index").Parse(indexHTML))

// Session is what the page renders and drives.
type Session interface {
	View() model.View
	RegisterTap() (int, error)
	ChooseTeam(ctx context.Context, id team.ID) (model.Action, error)
	SubmitPops(ctx context.Context) (model.Action, error)
	Refresh(ctx context.Context) error
}

// Wallet switches the connected identity.
type Wallet interface {
	Connect(ctx context.Context, address string) (chain.Identity, error)
	Disconnect()
}

// Register attaches the page and its form targets to mux.
func Register(_ context.Context, mux *http.ServeMux, sess Session, wallet Wallet) {
	if mux == nil {
		panic("mux is nil")
	}
	h := NewRootHandler(sess)
	mux.HandleFunc("/", h.HandleRoot)
	mux.HandleFunc("/ui/connect", h.post(func(r *http.Request) error {
		_, err := wallet.Connect(r.Context(), r.FormValue("address"))
		return err
	}))
	mux.HandleFunc("/ui/disconnect", h.post(func(*http.Request) error {
		wallet.Disconnect()
		return nil
	}))
	mux.HandleFunc("/ui/team", h.post(func(r *http.Request) error {
		id, err := team.Parse(r.FormValue("team"))
		if err != nil {
			return err
		}
		_, err = sess.ChooseTeam(r.Context(), id)
		return err
	}))
	mux.HandleFunc("/ui/pop", h.post(func(*http.Request) error {
		_, err := sess.RegisterTap()
		return err
	}))
	mux.HandleFunc("/ui/submit", h.post(func(r *http.Request) error {
		_, err := sess.SubmitPops(r.Context())
		return err
	}))
	mux.HandleFunc("/ui/refresh", h.post(func(r *http.Request) error {
		return sess.Refresh(r.Context())
	}))
}

// RootHandler renders the session page.
type RootHandler struct {
	sess   Session
	logger logger.Logger
}

// NewRootHandler creates a new root handler.
func NewRootHandler(sess Session) *RootHandler {
	return &RootHandler{sess: sess, logger: logger.Get().Named("site")}
}

type teamButton struct {
	Index int
	Label string
}

type page struct {
	View    model.View
	Teams   []teamButton
	Flash   string
	Refresh int
}

// HandleRoot handles GET / requests.
func (h *RootHandler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" || r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	p := page{
		View:    h.sess.View(),
		Flash:   r.URL.Query().Get("error"),
		Refresh: refreshSeconds,
	}
	for _, id := range team.All() {
		p.Teams = append(p.Teams, teamButton{Index: int(id), Label: id.Label()})
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTmpl.Execute(w, p); err != nil {
		h.logger.Error(r.Context(), "render page", logger.Error(errors.Join(ErrRender, err)))
	}
}

// post runs fn for a form submission and redirects back to the page,
// carrying any error as a flash message.
func (h *RootHandler) post(fn func(r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		target := "/"
		if err := fn(r); err != nil {
			h.logger.Debug(r.Context(), "form action refused",
				logger.String("path", r.URL.Path),
				logger.Error(err),
			)
			target += "?error=" + url.QueryEscape(err.Error())
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
	}
}

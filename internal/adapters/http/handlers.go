package web

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"signupboard/internal/adapters/http/middleware"
	"signupboard/internal/application/board"
)

// internalError logs the real error and returns a generic message to the client.
// This prevents leaking internal details per OWASP A05.
func internalError(w http.ResponseWriter, err error) {
	slog.Error("internal_error", "error", err.Error())
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func errTemplateMissing(name string) error {
	return fmt.Errorf("template %q not registered", name)
}

func formatMs(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// currentBoard returns the visitor's board, creating it on first use.
func currentBoard(r *http.Request) (*board.Board, error) {
	id, ok := middleware.VisitorID(r.Context())
	if !ok {
		return nil, errors.New("request has no visitor session")
	}
	return app.Boards.Get(id)
}

// existingBoard returns the visitor's board only if one was already created.
func existingBoard(r *http.Request) (*board.Board, bool) {
	id, ok := middleware.VisitorID(r.Context())
	if !ok {
		return nil, false
	}
	return app.Boards.Peek(id)
}

// boardPage is the data for board.html.
type boardPage struct {
	layout
	View board.View
}

func newLayout(title string, v board.View) layout {
	return layout{
		Title:      title,
		Banner:     v.Banner,
		ShowBanner: v.HasBanner(),
		Organizer:  v.Organizer,
		Gate:       len(app.PasscodeHash) > 0,
	}
}

func renderBoard(w http.ResponseWriter, r *http.Request, b *board.Board) {
	v := b.View()
	renderTemplate(w, r, http.StatusOK, "board.html", boardPage{
		layout: newLayout("Activities", v),
		View:   v,
	})
}

// handleHealthz reports liveness (GET /healthz).
func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

// handleBoard loads and renders the visitor's board (GET /).
// PRE: request passed through the Visitor middleware
// POST: Board reloaded from the activities service and rendered
func handleBoard(w http.ResponseWriter, r *http.Request) {
	b, err := currentBoard(r)
	if err != nil {
		internalError(w, err)
		return
	}
	b.Load(r.Context())
	renderBoard(w, r, b)
}

// handleSignup submits the signup form (POST /signup).
// PRE: form carries email and activity
// POST: Outcome shown in the banner; the board is rendered without another load
func handleSignup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	b, err := currentBoard(r)
	if err != nil {
		internalError(w, err)
		return
	}
	b.Signup(r.Context(), r.PostFormValue("email"), r.PostFormValue("activity"))
	renderBoard(w, r, b)
}

// unregisterPage is the data for unregister.html.
type unregisterPage struct {
	layout
	Activity string
	Email    string
	Prompt   string
}

// handleUnregisterConfirm asks before removing a participant (GET /unregister).
// PRE: activity and email query values are set
// POST: Renders the confirmation step; nothing is sent
func handleUnregisterConfirm(w http.ResponseWriter, r *http.Request) {
	b, err := currentBoard(r)
	if err != nil {
		internalError(w, err)
		return
	}
	activityName := r.URL.Query().Get("activity")
	email := r.URL.Query().Get("email")
	if activityName == "" || email == "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if !b.CanRemove() {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	v := b.View()
	renderTemplate(w, r, http.StatusOK, "unregister.html", unregisterPage{
		layout:   newLayout("Unregister", v),
		Activity: activityName,
		Email:    email,
		Prompt:   board.ConfirmPrompt(activityName, email),
	})
}

// handleUnregister removes a participant when confirm=yes (POST /unregister).
// PRE: form carries activity, email and confirm
// POST: Declining sends nothing; the board is rendered either way
func handleUnregister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	b, err := currentBoard(r)
	if err != nil {
		internalError(w, err)
		return
	}
	confirmed := r.PostFormValue("confirm") == "yes"
	b.Unregister(r.Context(), r.PostFormValue("activity"), r.PostFormValue("email"), confirmed)
	renderBoard(w, r, b)
}

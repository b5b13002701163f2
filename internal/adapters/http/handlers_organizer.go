package web

import (
	"errors"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"signupboard/internal/application/board"
	"signupboard/internal/application/listutil"
	"signupboard/internal/application/projections"
	auditDomain "signupboard/internal/domain/audit"
	"signupboard/internal/domain/banner"
)

// maxPasscodeLen is bcrypt's input limit.
const maxPasscodeLen = 72

// organizerPage is the data for organizer.html.
type organizerPage struct {
	layout
	Error string
}

// handleOrganizerLogin renders the passcode form (GET /organizer).
// PRE: none
// POST: 404 when organizer mode is not configured
func handleOrganizerLogin(w http.ResponseWriter, r *http.Request) {
	if len(app.PasscodeHash) == 0 {
		http.NotFound(w, r)
		return
	}
	b, err := currentBoard(r)
	if err != nil {
		internalError(w, err)
		return
	}
	v := b.View()
	renderTemplate(w, r, http.StatusOK, "organizer.html", organizerPage{layout: newLayout("Organizer", v)})
}

// handleOrganizerUnlock checks the passcode (POST /organizer).
// PRE: form carries passcode
// POST: On success the visitor's board enters organizer mode and the visitor is redirected to /
func handleOrganizerUnlock(w http.ResponseWriter, r *http.Request) {
	if len(app.PasscodeHash) == 0 {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	b, err := currentBoard(r)
	if err != nil {
		internalError(w, err)
		return
	}

	passcode := r.PostFormValue("passcode")
	ok := passcode != "" && len(passcode) <= maxPasscodeLen &&
		bcrypt.CompareHashAndPassword(app.PasscodeHash, []byte(passcode)) == nil

	outcome := auditDomain.OutcomeSucceeded
	if !ok {
		outcome = auditDomain.OutcomeRejected
	}
	event := auditDomain.NewEvent(auditDomain.CategoryOrganizer, auditDomain.ActionUnlock, outcome, timeNow()).
		WithSession(b.SessionID())
	if err := app.Audit.Save(r.Context(), event); err != nil {
		slog.Error("audit_save_failed", "action", event.Action, "error", err)
	}

	if !ok {
		slog.Warn("organizer_event", "event", "unlock_rejected", "session", b.SessionID())
		v := b.View()
		renderTemplate(w, r, http.StatusUnauthorized, "organizer.html", organizerPage{
			layout: newLayout("Organizer", v),
			Error:  "Incorrect passcode.",
		})
		return
	}

	b.SetOrganizer(true)
	b.ShowMessage("Organizer mode on", banner.KindInfo)
	slog.Info("organizer_event", "event", "unlock_succeeded", "session", b.SessionID())
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleOrganizerLogout leaves organizer mode (POST /organizer/logout).
// A visitor without a board has nothing to leave.
func handleOrganizerLogout(w http.ResponseWriter, r *http.Request) {
	if b, ok := existingBoard(r); ok {
		b.SetOrganizer(false)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// requireOrganizer returns the visitor's board when it is in organizer mode.
// PRE: none
// POST: On false a response has been written (404 without a passcode, redirect when locked)
func requireOrganizer(w http.ResponseWriter, r *http.Request) (*board.Board, board.View, bool) {
	if len(app.PasscodeHash) == 0 {
		http.NotFound(w, r)
		return nil, board.View{}, false
	}
	// A visitor without a board cannot have unlocked organizer mode.
	b, ok := existingBoard(r)
	if !ok {
		http.Redirect(w, r, "/organizer", http.StatusSeeOther)
		return nil, board.View{}, false
	}
	v := b.View()
	if !v.Organizer {
		http.Redirect(w, r, "/organizer", http.StatusSeeOther)
		return nil, board.View{}, false
	}
	return b, v, true
}

// diagnosticsFilterKeys are the query parameters the diagnostics page filters on.
var diagnosticsFilterKeys = []string{"action", "outcome", "activity"}

// diagnosticsPage is the data for diagnostics.html.
type diagnosticsPage struct {
	layout
	Result   projections.GetDiagnosticsResult
	Filters  listutil.FilterParams
	Outcomes []auditDomain.Outcome
	Actions  []auditDomain.Action
}

// handleDiagnostics renders recent audit events, timings and the mail outbox (GET /organizer/diagnostics).
// PRE: visitor is in organizer mode
// POST: Renders one page of the diagnostics read model; 400 on an unknown filter
func handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	_, v, ok := requireOrganizer(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filters := listutil.ParseFilterParams(q, diagnosticsFilterKeys)
	paging := listutil.ParsePageParams(q)
	query := projections.GetDiagnosticsQuery{
		Action:   filters.Get("action"),
		Outcome:  filters.Get("outcome"),
		Activity: filters.Get("activity"),
		Page:     paging.Page,
		PerPage:  paging.PerPage,
	}

	deps := projections.GetDiagnosticsDeps{
		AuditStore: app.Audit,
		LiveBoards: app.Boards.Len,
		Now:        timeNow,
	}
	if app.Collector != nil {
		deps.Timings = app.Collector
	}
	if app.OutboxStore != nil {
		deps.Outbox = app.OutboxStore
	}
	result, err := projections.QueryGetDiagnostics(r.Context(), query, deps)
	if err != nil {
		if errors.Is(err, projections.ErrInvalidFilter) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		internalError(w, err)
		return
	}

	renderTemplate(w, r, http.StatusOK, "diagnostics.html", diagnosticsPage{
		layout:   newLayout("Diagnostics", v),
		Result:   result,
		Filters:  filters,
		Outcomes: []auditDomain.Outcome{auditDomain.OutcomeSucceeded, auditDomain.OutcomeRejected, auditDomain.OutcomeFailed},
		Actions: []auditDomain.Action{auditDomain.ActionLoad, auditDomain.ActionRefresh, auditDomain.ActionSignup,
			auditDomain.ActionUnregister, auditDomain.ActionUnlock, auditDomain.ActionSend},
	})
}

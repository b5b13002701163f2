package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	outboxStore "signupboard/internal/adapters/storage/outbox"
	"signupboard/internal/application/orchestrators"
	"signupboard/internal/domain/banner"
	"signupboard/internal/domain/outbox"
)

// OutboxActions are the organizer operations on queued confirmation emails.
type OutboxActions interface {
	ProcessSingle(ctx context.Context, entryID string) error
	AbandonEntry(ctx context.Context, entryID string) error
}

// outboxEntryJSON is the wire shape of an outbox entry.
type outboxEntryJSON struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	To              string `json:"to"`
	Attempts        int    `json:"attempts"`
	MaxAttempts     int    `json:"max_attempts"`
	LastAttemptedAt string `json:"last_attempted_at,omitempty"`
	CreatedAt       string `json:"created_at"`
	Error           string `json:"error,omitempty"`
}

func toOutboxJSON(e outbox.Entry) outboxEntryJSON {
	out := outboxEntryJSON{
		ID:          e.ID,
		Status:      string(e.Status),
		To:          mailRecipient(e.Payload),
		Attempts:    e.Attempts,
		MaxAttempts: e.MaxAttempts,
		CreatedAt:   e.CreatedAt.UTC().Format(timeFormatJSON),
		Error:       e.ErrorMessage,
	}
	if !e.LastAttemptedAt.IsZero() {
		out.LastAttemptedAt = e.LastAttemptedAt.UTC().Format(timeFormatJSON)
	}
	return out
}

// handleOutboxList lists queued or failed emails (GET /organizer/outbox.json).
// PRE: visitor is in organizer mode
// POST: JSON array; status=failed lists failed entries, anything else pending ones
func handleOutboxList(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := requireOrganizer(w, r); !ok {
		return
	}
	if app.OutboxStore == nil {
		http.NotFound(w, r)
		return
	}

	limit := 50
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n <= 100 {
		limit = n
	}

	var entries []outbox.Entry
	var err error
	if r.URL.Query().Get("status") == string(outbox.StatusFailed) {
		entries, err = app.OutboxStore.ListFailed(r.Context(), limit)
	} else {
		entries, err = app.OutboxStore.ListPending(r.Context(), limit)
	}
	if err != nil {
		internalError(w, err)
		return
	}

	out := make([]outboxEntryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, toOutboxJSON(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleOutboxRetry retries one queued email now (POST /organizer/outbox/{id}/retry).
// PRE: visitor is in organizer mode
// POST: Entry attempted once; banner reports the result; redirect to diagnostics
func handleOutboxRetry(w http.ResponseWriter, r *http.Request) {
	outboxAction(w, r, "retry", app.Outbox.ProcessSingle, "Retry attempted")
}

// handleOutboxAbandon stops retrying one queued email (POST /organizer/outbox/{id}/abandon).
// PRE: visitor is in organizer mode
// POST: Entry abandoned; banner reports the result; redirect to diagnostics
func handleOutboxAbandon(w http.ResponseWriter, r *http.Request) {
	outboxAction(w, r, "abandon", app.Outbox.AbandonEntry, "Email abandoned")
}

func outboxAction(w http.ResponseWriter, r *http.Request, name string, do func(context.Context, string) error, done string) {
	b, _, ok := requireOrganizer(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	err := do(r.Context(), id)
	switch {
	case err == nil:
		slog.Info("outbox_event", "event", name, "entry_id", id, "session", b.SessionID())
		b.ShowMessage(done, banner.KindSuccess)
	case errors.Is(err, outboxStore.ErrNotFound):
		http.NotFound(w, r)
		return
	case errors.Is(err, orchestrators.ErrTerminalEntry):
		b.ShowMessage("That email is no longer queued", banner.KindError)
	default:
		// A failed retry is recorded on the entry; only storage errors land here.
		slog.Error("outbox_action_failed", "action", name, "entry_id", id, "error", err.Error())
		b.ShowMessage("Could not update the email queue", banner.KindError)
	}
	http.Redirect(w, r, "/organizer/diagnostics", http.StatusSeeOther)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("json_write_failed", "error", err)
	}
}

package orchestrators

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"signupboard/internal/adapters/email"
	outboxStore "signupboard/internal/adapters/storage/outbox"
	"signupboard/internal/domain/audit"
	domain "signupboard/internal/domain/outbox"
)

// Outbox retry defaults.
const (
	DefaultOutboxBaseDelay = 30 * time.Second
	DefaultOutboxMaxDelay  = time.Hour
	DefaultOutboxBatchSize = 10
	DefaultOutboxInterval  = time.Minute
)

// ErrTerminalEntry is returned when retrying an entry that is done, failed or abandoned.
var ErrTerminalEntry = errors.New("outbox entry is in a terminal state")

// AuditRecorder persists audit events.
type AuditRecorder interface {
	Save(ctx context.Context, event audit.Event) error
}

// MailOutboxDeps holds dependencies for the mail outbox.
type MailOutboxDeps struct {
	Store  outboxStore.Store
	Sender email.Sender
	Audit  AuditRecorder    // optional
	Now    func() time.Time // optional
}

// MailOutbox sends email through a provider and keeps failed sends for retry.
// It implements email.Sender, so callers see a single send.
type MailOutbox struct {
	store     outboxStore.Store
	sender    email.Sender
	audit     AuditRecorder
	now       func() time.Time
	baseDelay time.Duration
	maxDelay  time.Duration
	batchSize int
}

// mailPayload is the JSON stored for a queued email.
type mailPayload struct {
	To      []string `json:"to"`
	From    string   `json:"from,omitempty"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

// NewMailOutbox creates a mail outbox.
// PRE: deps.Store and deps.Sender are non-nil
// POST: Returns an outbox using the default backoff
func NewMailOutbox(deps MailOutboxDeps) *MailOutbox {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &MailOutbox{
		store:     deps.Store,
		sender:    deps.Sender,
		audit:     deps.Audit,
		now:       now,
		baseDelay: DefaultOutboxBaseDelay,
		maxDelay:  DefaultOutboxMaxDelay,
		batchSize: DefaultOutboxBatchSize,
	}
}

// Send delivers req immediately; on failure the email is queued.
// PRE: req has at least one recipient
// POST: Returns the provider result, or an error wrapping email.ErrQueued once queued
func (o *MailOutbox) Send(ctx context.Context, req email.SendRequest) (email.SendResult, error) {
	res, sendErr := o.sender.Send(ctx, req)
	if sendErr == nil {
		return res, nil
	}

	payload, err := json.Marshal(mailPayload{To: req.To, From: req.From, Subject: req.Subject, HTML: req.HTML, Text: req.Text})
	if err != nil {
		return email.SendResult{}, fmt.Errorf("encode outbox payload: %w", err)
	}
	now := o.now()
	entry, err := domain.NewEntry(domain.ActionTypeConfirmation, string(payload), now)
	if err != nil {
		return email.SendResult{}, err
	}
	// The failed send counts as the first attempt.
	entry.MarkAttempt(now)
	entry.MarkFailed(sendErr)
	if err := o.store.Save(ctx, entry); err != nil {
		return email.SendResult{}, fmt.Errorf("send failed (%v); queue: %w", sendErr, err)
	}

	slog.Warn("outbox_event", "event", "mail_queued", "entry_id", entry.ID, "error", sendErr.Error())
	return email.SendResult{}, fmt.Errorf("%w: %v", email.ErrQueued, sendErr)
}

// ProcessPending retries queued entries whose backoff has elapsed.
// PRE: none
// POST: Each due entry attempted once; returns how many were delivered
func (o *MailOutbox) ProcessPending(ctx context.Context) (int, error) {
	entries, err := o.store.ListPending(ctx, o.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending outbox entries: %w", err)
	}

	delivered := 0
	now := o.now()
	for _, entry := range entries {
		if now.Before(entry.DueAt(o.baseDelay, o.maxDelay)) {
			slog.Debug("outbox_retry_skipped_backoff", "entry_id", entry.ID)
			continue
		}
		ok, err := o.attempt(ctx, entry)
		if err != nil {
			slog.Error("outbox_process_failed", "entry_id", entry.ID, "error", err.Error())
			continue
		}
		if ok {
			delivered++
		}
	}
	return delivered, nil
}

// ProcessSingle retries one entry now, ignoring its backoff.
// PRE: entryID is non-empty
// POST: Entry attempted once; ErrTerminalEntry when it cannot be retried
func (o *MailOutbox) ProcessSingle(ctx context.Context, entryID string) error {
	entry, err := o.store.GetByID(ctx, entryID)
	if err != nil {
		return fmt.Errorf("get outbox entry: %w", err)
	}
	if !entry.CanRetry() {
		return fmt.Errorf("%w: %s", ErrTerminalEntry, entryID)
	}
	_, err = o.attempt(ctx, entry)
	return err
}

// AbandonEntry stops further attempts for an entry.
// PRE: entryID is non-empty
// POST: Entry status set to abandoned; ErrTerminalEntry when it already finished
func (o *MailOutbox) AbandonEntry(ctx context.Context, entryID string) error {
	entry, err := o.store.GetByID(ctx, entryID)
	if err != nil {
		return fmt.Errorf("get outbox entry: %w", err)
	}
	if entry.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTerminalEntry, entryID)
	}
	entry.MarkAbandoned()
	slog.Info("outbox_event", "event", "abandoned", "entry_id", entryID)
	return o.store.Save(ctx, entry)
}

// Run processes the queue every interval until ctx is done.
func (o *MailOutbox) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultOutboxInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("outbox_background_worker_stopped")
			return
		case <-ticker.C:
			if _, err := o.ProcessPending(ctx); err != nil {
				slog.Error("outbox_background_process_failed", "error", err.Error())
			}
		}
	}
}

// attempt sends entry once and saves the result.
func (o *MailOutbox) attempt(ctx context.Context, entry domain.Entry) (bool, error) {
	var p mailPayload
	if err := json.Unmarshal([]byte(entry.Payload), &p); err != nil {
		// A payload that cannot be decoded will never succeed.
		entry.MarkAbandoned()
		entry.ErrorMessage = "unmarshal payload: " + err.Error()
		return false, o.store.Save(ctx, entry)
	}

	entry.MarkAttempt(o.now())
	res, err := o.sender.Send(ctx, email.SendRequest{To: p.To, From: p.From, Subject: p.Subject, HTML: p.HTML, Text: p.Text})

	recipient := ""
	if len(p.To) > 0 {
		recipient = p.To[0]
	}
	event := audit.NewEvent(audit.CategoryMail, audit.ActionSend, audit.OutcomeSucceeded, o.now()).
		WithTarget("", recipient).
		WithDetail(fmt.Sprintf("outbox attempt %d", entry.Attempts))
	if err != nil {
		entry.MarkFailed(err)
		event = audit.NewEvent(audit.CategoryMail, audit.ActionSend, audit.OutcomeFailed, o.now()).
			WithTarget("", recipient).
			WithDetail(fmt.Sprintf("outbox attempt %d: %v", entry.Attempts, err))
		slog.Warn("outbox_action_failed", "entry_id", entry.ID, "attempt", entry.Attempts, "error", err.Error())
	} else {
		entry.MarkSuccess(res.MessageID)
		slog.Info("outbox_action_succeeded", "entry_id", entry.ID, "attempt", entry.Attempts, "external_id", res.MessageID)
	}
	if o.audit != nil {
		if aErr := o.audit.Save(ctx, event); aErr != nil {
			slog.Error("audit_save_failed", "action", event.Action, "error", aErr)
		}
	}
	if sErr := o.store.Save(ctx, entry); sErr != nil {
		return false, sErr
	}
	return err == nil, nil
}

package board

import (
	"context"
	"log/slog"

	"signupboard/internal/adapters/activityapi"
	"signupboard/internal/adapters/email"
	"signupboard/internal/domain/activity"
	"signupboard/internal/domain/audit"
	"signupboard/internal/domain/banner"
)

// Signup submits the signup form for one activity.
// Local checks (missing fields, full activity, a signup already in flight)
// reject without a request. The outcome is always shown in the banner.
// PRE: none
// POST: Submit is enabled again; on success the form is cleared and the
// board reconciled by the configured policy; on failure the form keeps its values
func (b *Board) Signup(ctx context.Context, emailAddr, activityName string) audit.Outcome {
	ctx = context.WithoutCancel(ctx)
	req := activity.SignupRequest{Email: emailAddr, Activity: activityName}.Normalize()

	b.mu.Lock()
	b.form = Form{Email: req.Email, Activity: req.Activity}
	if err := req.Validate(); err != nil {
		b.mu.Unlock()
		return b.rejectSignup(ctx, req, MsgMissingFields)
	}
	if e, ok := b.entries[req.Activity]; ok && activity.IsAtCapacity(e.Count(), e.MaxCapacity) {
		b.mu.Unlock()
		return b.rejectSignup(ctx, req, MsgFull)
	}
	if b.submitting {
		b.mu.Unlock()
		return b.rejectSignup(ctx, req, MsgSignupInFlight)
	}
	b.submitting = true
	b.mu.Unlock()

	res, err := b.deps.API.Signup(ctx, req.Activity, req.Email)

	b.mu.Lock()
	b.submitting = false
	b.mu.Unlock()

	if err != nil {
		text := MsgSignupTransport
		if apiErr, ok := activityapi.AsAPIError(err); ok {
			text = apiErr.Text(MsgSignupFailed)
		}
		b.ShowMessage(text, banner.KindError)
		slog.Error("board_event", "event", "signup_failed", "session", b.sessionID, "activity", req.Activity, "error", err)
		b.record(ctx, b.event(audit.ActionSignup, audit.OutcomeFailed).WithTarget(req.Activity, req.Email).WithDetail(text))
		return audit.OutcomeFailed
	}

	text := res.Message
	if text == "" {
		text = MsgSignedUp
	}
	b.ShowMessage(text, banner.KindSuccess)
	b.reconcileSignup(ctx, req)

	b.mu.Lock()
	b.form = Form{}
	a := b.activities[req.Activity]
	b.mu.Unlock()

	slog.Info("board_event", "event", "signup_succeeded", "session", b.sessionID, "activity", req.Activity)
	b.record(ctx, b.event(audit.ActionSignup, audit.OutcomeSucceeded).WithTarget(req.Activity, req.Email).WithDetail(text))

	if a.Name == "" {
		a.Name = req.Activity
	}
	b.sendConfirmation(ctx, a, req.Email)
	return audit.OutcomeSucceeded
}

func (b *Board) rejectSignup(ctx context.Context, req activity.SignupRequest, text string) audit.Outcome {
	b.ShowMessage(text, banner.KindError)
	slog.Info("board_event", "event", "signup_rejected", "session", b.sessionID, "activity", req.Activity, "reason", text)
	b.record(ctx, b.event(audit.ActionSignup, audit.OutcomeRejected).WithTarget(req.Activity, req.Email).WithDetail(text))
	return audit.OutcomeRejected
}

// reconcileSignup brings the board in line with a successful signup.
func (b *Board) reconcileSignup(ctx context.Context, req activity.SignupRequest) {
	if b.opts.Policy == PolicyOptimistic {
		b.mu.Lock()
		defer b.mu.Unlock()
		e, ok := b.entries[req.Activity]
		if !ok {
			return
		}
		participants := append(e.participants(), req.Email)
		e.List = renderRows(participants, b.canRemoveLocked())
		e.Heading = activity.Heading(len(participants), e.MaxCapacity)
		b.entries[req.Activity] = e
		return
	}
	b.refreshActivity(ctx, req.Activity)
}

// sendConfirmation mails the new participant. It never changes the UI outcome.
func (b *Board) sendConfirmation(ctx context.Context, a activity.Activity, to string) {
	if !b.opts.ConfirmationEmails || b.deps.Mailer == nil {
		return
	}
	msg, err := email.SignupConfirmation(a, to)
	if err == nil {
		_, err = b.deps.Mailer.Send(ctx, msg)
	}
	e := audit.NewEvent(audit.CategoryMail, audit.ActionSend, audit.OutcomeSucceeded, b.deps.Now()).WithTarget(a.Name, to)
	if err != nil {
		slog.Error("board_event", "event", "confirmation_failed", "session", b.sessionID, "activity", a.Name, "error", err)
		e = audit.NewEvent(audit.CategoryMail, audit.ActionSend, audit.OutcomeFailed, b.deps.Now()).WithTarget(a.Name, to).WithDetail(err.Error())
	}
	b.record(ctx, e)
}

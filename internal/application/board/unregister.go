package board

import (
	"context"
	"fmt"
	"log/slog"

	"signupboard/internal/adapters/activityapi"
	"signupboard/internal/domain/audit"
	"signupboard/internal/domain/banner"
)

// ConfirmPrompt is the question shown before a participant is removed.
func ConfirmPrompt(activityName, email string) string {
	return fmt.Sprintf("Unregister %s from %s?", email, activityName)
}

// Unregister removes a participant after the visitor confirmed.
// Without confirmation nothing is sent and nothing changes. On success the
// activity is re-fetched from the server before the banner is shown; the
// row is never removed locally.
// PRE: none
// POST: On failure the view is unchanged apart from the banner
func (b *Board) Unregister(ctx context.Context, activityName, emailAddr string, confirmed bool) audit.Outcome {
	ctx = context.WithoutCancel(ctx)

	if !confirmed {
		return audit.OutcomeRejected
	}
	if !b.CanRemove() {
		b.ShowMessage(MsgRemovalDisabled, banner.KindError)
		b.record(ctx, b.event(audit.ActionUnregister, audit.OutcomeRejected).WithTarget(activityName, emailAddr).WithDetail(MsgRemovalDisabled))
		return audit.OutcomeRejected
	}
	if activityName == "" || emailAddr == "" {
		b.ShowMessage(MsgUnregisterFailed, banner.KindError)
		return audit.OutcomeRejected
	}

	res, err := b.deps.API.Unregister(ctx, activityName, emailAddr)
	if err != nil {
		text := MsgUnregisterNetwork
		if apiErr, ok := activityapi.AsAPIError(err); ok {
			text = apiErr.Text(MsgUnregisterFailed)
		}
		b.ShowMessage(text, banner.KindError)
		slog.Error("board_event", "event", "unregister_failed", "session", b.sessionID, "activity", activityName, "error", err)
		b.record(ctx, b.event(audit.ActionUnregister, audit.OutcomeFailed).WithTarget(activityName, emailAddr).WithDetail(text))
		return audit.OutcomeFailed
	}

	b.refreshActivity(ctx, activityName)

	text := res.Message
	if text == "" {
		text = emailAddr + " unregistered"
	}
	b.ShowMessage(text, banner.KindSuccess)
	slog.Info("board_event", "event", "unregister_succeeded", "session", b.sessionID, "activity", activityName)
	b.record(ctx, b.event(audit.ActionUnregister, audit.OutcomeSucceeded).WithTarget(activityName, emailAddr).WithDetail(text))
	return audit.OutcomeSucceeded
}

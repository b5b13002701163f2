package board

import (
	"context"
	"log/slog"

	"signupboard/internal/domain/activity"
	"signupboard/internal/domain/audit"
)

// Load fetches the listing and rebuilds cards, select options and view entries.
// Failures never propagate: the cards are replaced by the load error state and
// the options and entries of the last successful load are kept.
// PRE: none
// POST: On success the card set and option set equal the listing's key set
func (b *Board) Load(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	b.mu.Lock()
	b.loading++
	b.mu.Unlock()

	list, err := b.deps.API.ListActivities(ctx)

	b.mu.Lock()
	b.loading--
	if err != nil {
		b.cards = nil
		b.loadErr = MsgLoadFailed
		b.mu.Unlock()

		slog.Error("board_event", "event", "load_failed", "session", b.sessionID, "error", err)
		b.record(ctx, b.event(audit.ActionLoad, audit.OutcomeFailed).WithDetail(err.Error()))
		return
	}
	b.applyListingLocked(list)
	b.mu.Unlock()

	slog.Debug("board_event", "event", "load_succeeded", "session", b.sessionID, "activities", len(list))
}

// applyListingLocked replaces cards, options and entries with list, in order.
func (b *Board) applyListingLocked(list []activity.Activity) {
	removable := b.canRemoveLocked()

	b.loadErr = ""
	b.cards = make([]Card, 0, len(list))
	b.options = make([]Option, 0, len(list)+1)
	b.options = append(b.options, Option{Value: "", Label: SelectPrompt})
	b.entries = make(map[string]ViewEntry, len(list))
	b.activities = make(map[string]activity.Activity, len(list))

	for _, a := range list {
		b.cards = append(b.cards, Card{
			Name:        a.Name,
			Description: a.Description,
			Schedule:    activity.ScheduleLine(a.Schedule),
			Capacity:    activity.CapacityLine(a.MaxParticipants),
		})
		b.options = append(b.options, Option{Value: a.Name, Label: a.Name})
		b.entries[a.Name] = newEntry(a, removable)
		b.activities[a.Name] = a
	}
}

// refreshActivity re-fetches the listing and patches only the named
// activity's rows and heading. It does nothing when the activity or its
// entry is missing, and a failed fetch is logged only. The entry keeps the
// capacity of the last full load.
// PRE: none
// POST: The named entry matches the server's current participants
func (b *Board) refreshActivity(ctx context.Context, name string) {
	list, err := b.deps.API.ListActivities(ctx)
	if err != nil {
		slog.Error("board_event", "event", "refresh_failed", "session", b.sessionID, "activity", name, "error", err)
		b.record(ctx, b.event(audit.ActionRefresh, audit.OutcomeFailed).WithTarget(name, "").WithDetail(err.Error()))
		return
	}

	var found *activity.Activity
	for i := range list {
		if list[i].Name == name {
			found = &list[i]
			break
		}
	}
	if found == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	old, ok := b.entries[name]
	if !ok {
		return
	}
	e := newEntry(*found, b.canRemoveLocked())
	e.MaxCapacity = old.MaxCapacity
	e.Heading = activity.Heading(found.Count(), old.MaxCapacity)
	b.entries[name] = e
	b.activities[name] = *found
}

// Package board implements the activity board controller: one Board per
// visitor, holding the rendered cards, select options, banner and form.
package board

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"signupboard/internal/adapters/activityapi"
	"signupboard/internal/adapters/email"
	"signupboard/internal/domain/activity"
	"signupboard/internal/domain/audit"
	"signupboard/internal/domain/banner"
)

// Policy selects how the board reconciles after a successful signup.
type Policy string

const (
	// PolicyRefetch reloads the full listing from the server.
	PolicyRefetch Policy = "refetch"
	// PolicyOptimistic appends the new row locally without a request.
	PolicyOptimistic Policy = "optimistic"
)

// ErrOptimisticWithoutRemoval is returned by New for an invalid policy combination.
var ErrOptimisticWithoutRemoval = errors.New("optimistic reconcile requires the removal capability")

// ErrUnknownPolicy is returned by New for an unrecognised policy.
var ErrUnknownPolicy = errors.New("unknown reconcile policy")

// User-facing banner texts.
const (
	MsgMissingFields     = "Please enter your email and select an activity."
	MsgFull              = "This activity is already full."
	MsgSignupInFlight    = "A signup is already in progress."
	MsgSignedUp          = "Signed up successfully!"
	MsgSignupFailed      = "Sign up failed"
	MsgSignupTransport   = "Failed to sign up. Please try again."
	MsgUnregisterFailed  = "Failed to unregister"
	MsgUnregisterNetwork = "Failed to unregister. Please try again."
	MsgRemovalDisabled   = "Removing participants is not available."
	MsgLoadFailed        = "Failed to load activities."
)

// API is the subset of the activities service the board calls.
type API interface {
	ListActivities(ctx context.Context) ([]activity.Activity, error)
	Signup(ctx context.Context, activityName, email string) (activityapi.Result, error)
	Unregister(ctx context.Context, activityName, email string) (activityapi.Result, error)
}

// Recorder persists audit events.
type Recorder interface {
	Save(ctx context.Context, event audit.Event) error
}

// Options are the per-deployment behaviour switches.
type Options struct {
	AllowRemoval       bool
	OrganizerGate      bool // removal additionally requires SetOrganizer(true)
	Policy             Policy
	ConfirmationEmails bool
}

// Validate checks the option combination.
// PRE: none
// POST: Returns nil, ErrUnknownPolicy or ErrOptimisticWithoutRemoval
func (o Options) Validate() error {
	switch o.Policy {
	case PolicyRefetch:
		return nil
	case PolicyOptimistic:
		if !o.AllowRemoval {
			return ErrOptimisticWithoutRemoval
		}
		return nil
	}
	return ErrUnknownPolicy
}

// Deps holds the collaborators of a Board. Audit and Mailer may be nil.
type Deps struct {
	API       API
	Audit     Recorder
	Mailer    email.Sender
	Now       func() time.Time
	AfterFunc func(d time.Duration, f func())
}

// Board is the controller for one visitor's view of the activities.
// All view state is guarded by mu; network calls run without holding it.
type Board struct {
	sessionID string
	opts      Options
	deps      Deps

	mu         sync.Mutex
	cards      []Card               // last render; cleared on load failure
	options    []Option             // last successful load
	entries    map[string]ViewEntry // last successful load, patched in place
	activities map[string]activity.Activity
	msg        banner.Message
	form       Form
	submitting bool
	loading    int
	loadErr    string
	organizer  bool
}

// New creates a board for one visitor session.
// PRE: deps.API is non-nil
// POST: Returns an empty board (call Load to populate) or an options error
func New(sessionID string, opts Options, deps Deps) (*Board, error) {
	if opts.Policy == "" {
		opts.Policy = PolicyRefetch
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if deps.API == nil {
		return nil, errors.New("board requires an activities API")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.AfterFunc == nil {
		deps.AfterFunc = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	return &Board{
		sessionID:  sessionID,
		opts:       opts,
		deps:       deps,
		options:    []Option{{Value: "", Label: SelectPrompt}},
		entries:    map[string]ViewEntry{},
		activities: map[string]activity.Activity{},
	}, nil
}

// SessionID returns the visitor session the board belongs to.
func (b *Board) SessionID() string {
	return b.sessionID
}

// View returns a deep copy of the current state.
func (b *Board) View() View {
	b.mu.Lock()
	defer b.mu.Unlock()

	v := View{
		Cards:          make([]Card, 0, len(b.cards)),
		Options:        append([]Option(nil), b.options...),
		Banner:         b.msg,
		Form:           b.form,
		SubmitDisabled: b.submitting,
		Loading:        b.loading > 0,
		LoadError:      b.loadErr,
		CanRemove:      b.canRemoveLocked(),
		Organizer:      b.organizer,
	}
	for _, c := range b.cards {
		if e, ok := b.entries[c.Name]; ok {
			c.Entry = e.clone()
		}
		v.Cards = append(v.Cards, c)
	}
	return v
}

// Entry returns the view entry for one activity.
func (b *Board) Entry(name string) (ViewEntry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[name]
	if !ok {
		return ViewEntry{}, false
	}
	return e.clone(), true
}

// SetOrganizer switches organizer mode and re-renders every participant list.
// PRE: none
// POST: Row.Removable reflects the new removal permission
func (b *Board) SetOrganizer(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.organizer = on
	removable := b.canRemoveLocked()
	for name, e := range b.entries {
		e.List = renderRows(e.participants(), removable)
		b.entries[name] = e
	}
}

// CanRemove reports whether this visitor may remove participants.
func (b *Board) CanRemove() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.canRemoveLocked()
}

func (b *Board) canRemoveLocked() bool {
	if !b.opts.AllowRemoval {
		return false
	}
	return !b.opts.OrganizerGate || b.organizer
}

// ShowMessage fills the shared banner and schedules it to hide after
// banner.HideAfter. Hide timers are never cancelled, so an earlier timer
// can hide a later message early.
// PRE: none; an empty kind shows as info
// POST: Banner shows text; a hide is scheduled
func (b *Board) ShowMessage(text string, kind banner.Kind) {
	b.mu.Lock()
	b.msg = banner.New(text, kind, b.deps.Now())
	b.mu.Unlock()

	b.deps.AfterFunc(banner.HideAfter, func() {
		b.mu.Lock()
		b.msg = b.msg.Hidden()
		b.mu.Unlock()
	})
}

// record saves an audit event; failures are logged only.
func (b *Board) record(ctx context.Context, e audit.Event) {
	if b.deps.Audit == nil {
		return
	}
	if err := b.deps.Audit.Save(ctx, e.WithSession(b.sessionID)); err != nil {
		slog.Error("audit_save_failed", "action", e.Action, "error", err)
	}
}

func (b *Board) event(action audit.Action, outcome audit.Outcome) audit.Event {
	return audit.NewEvent(audit.CategoryBoard, action, outcome, b.deps.Now())
}

package board

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"signupboard/internal/adapters/activityapi"
	"signupboard/internal/adapters/email"
	"signupboard/internal/domain/activity"
	"signupboard/internal/domain/audit"
)

// fakeAPI is an in-memory activities service.
type fakeAPI struct {
	mu         sync.Mutex
	activities []activity.Activity

	listErr       error
	signupErr     error
	signupMessage string
	unregErr      error
	unregMessage  string
	signupGate    chan struct{} // when set, Signup blocks until closed
	signupEntered chan struct{}

	listCalls   int
	signupCalls int
	unregCalls  int
}

func newFakeAPI(list ...activity.Activity) *fakeAPI {
	return &fakeAPI{activities: list}
}

func (f *fakeAPI) ListActivities(_ context.Context) ([]activity.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]activity.Activity, len(f.activities))
	for i, a := range f.activities {
		a.Participants = slices.Clone(a.Participants)
		out[i] = a
	}
	return out, nil
}

func (f *fakeAPI) Signup(_ context.Context, name, addr string) (activityapi.Result, error) {
	f.mu.Lock()
	f.signupCalls++
	gate, entered := f.signupGate, f.signupEntered
	f.mu.Unlock()

	if gate != nil {
		entered <- struct{}{}
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signupErr != nil {
		return activityapi.Result{}, f.signupErr
	}
	for i := range f.activities {
		if f.activities[i].Name == name {
			f.activities[i].Participants = append(f.activities[i].Participants, addr)
		}
	}
	return activityapi.Result{Message: f.signupMessage}, nil
}

func (f *fakeAPI) Unregister(_ context.Context, name, addr string) (activityapi.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregCalls++
	if f.unregErr != nil {
		return activityapi.Result{}, f.unregErr
	}
	for i := range f.activities {
		if f.activities[i].Name == name {
			f.activities[i].Participants = slices.DeleteFunc(f.activities[i].Participants, func(p string) bool { return p == addr })
		}
	}
	return activityapi.Result{Message: f.unregMessage}, nil
}

func (f *fakeAPI) setList(list ...activity.Activity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activities = list
}

func (f *fakeAPI) calls() (list, signup, unreg int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls, f.signupCalls, f.unregCalls
}

// fakeTimers captures scheduled banner hides so tests fire them explicitly.
type fakeTimers struct {
	mu      sync.Mutex
	pending []func()
	delays  []time.Duration
}

func (t *fakeTimers) AfterFunc(d time.Duration, f func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = append(t.pending, f)
	t.delays = append(t.delays, d)
}

// fire runs the i-th scheduled callback.
func (t *fakeTimers) fire(i int) {
	t.mu.Lock()
	f := t.pending[i]
	t.mu.Unlock()
	f()
}

func (t *fakeTimers) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// fakeRecorder collects audit events.
type fakeRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *fakeRecorder) Save(_ context.Context, e audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *fakeRecorder) find(action audit.Action, outcome audit.Outcome) (audit.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Action == action && e.Outcome == outcome {
			return e, true
		}
	}
	return audit.Event{}, false
}

// fakeMailer records sends and optionally fails.
type fakeMailer struct {
	mu   sync.Mutex
	sent []email.SendRequest
	err  error
}

func (m *fakeMailer) Send(_ context.Context, req email.SendRequest) (email.SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return email.SendResult{}, m.err
	}
	m.sent = append(m.sent, req)
	return email.SendResult{MessageID: "fake"}, nil
}

var errConnRefused = errors.New("connection refused")

func transportErr(op string) error {
	return &activityapi.TransportError{Op: op, Err: errConnRefused}
}

var fixedTime = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return fixedTime }

func chessClub(participants ...string) activity.Activity {
	return activity.Activity{
		Name:            "Chess Club",
		Description:     "d",
		Schedule:        "Mon",
		MaxParticipants: 2,
		Participants:    participants,
	}
}

func artClub(participants ...string) activity.Activity {
	return activity.Activity{
		Name:            "Art Club",
		Description:     "Paint *freely*",
		Schedule:        "Wed",
		MaxParticipants: 15,
		Participants:    participants,
	}
}

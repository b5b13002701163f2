package audit

import (
	"time"

	"github.com/google/uuid"
)

// Category groups diagnostic events by the part of the board that raised them.
type Category string

const (
	CategoryBoard     Category = "board"
	CategoryOrganizer Category = "organizer"
	CategoryMail      Category = "mail"
)

// Action represents what the visitor or the board attempted.
type Action string

const (
	ActionLoad       Action = "load"
	ActionRefresh    Action = "refresh"
	ActionSignup     Action = "signup"
	ActionUnregister Action = "unregister"
	ActionUnlock     Action = "unlock"
	ActionSend       Action = "send"
)

// Outcome records how the attempt ended.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeRejected  Outcome = "rejected" // blocked locally, nothing sent
	OutcomeFailed    Outcome = "failed"   // sent, server or transport error
)

// Severity represents the severity level of an event.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is a single diagnostic record of a board outcome.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Category  Category  `json:"category"`
	Action    Action    `json:"action"`
	Outcome   Outcome   `json:"outcome"`
	Severity  Severity  `json:"severity"`
	SessionID string    `json:"session_id"`
	Activity  string    `json:"activity"`
	Email     string    `json:"email"`
	Detail    string    `json:"detail"`
}

// NewEvent creates an event with a fresh ID and the given timestamp.
// Severity is derived from the outcome.
// PRE: category, action and outcome are non-empty
// POST: Returns an Event with ID and Timestamp set
func NewEvent(category Category, action Action, outcome Outcome, now time.Time) Event {
	return Event{
		ID:        uuid.New().String(),
		Timestamp: now,
		Category:  category,
		Action:    action,
		Outcome:   outcome,
		Severity:  severityFor(outcome),
	}
}

// WithSession sets the visitor session the event belongs to.
func (e Event) WithSession(sessionID string) Event {
	e.SessionID = sessionID
	return e
}

// WithTarget sets the activity and participant email the event concerns.
// PRE: none; either value may be empty
// POST: Event target fields are populated
func (e Event) WithTarget(activityName, email string) Event {
	e.Activity = activityName
	e.Email = email
	return e
}

// WithDetail sets a human-readable detail, usually the banner text or error.
func (e Event) WithDetail(detail string) Event {
	e.Detail = detail
	return e
}

func severityFor(o Outcome) Severity {
	switch o {
	case OutcomeFailed:
		return SeverityError
	case OutcomeRejected:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

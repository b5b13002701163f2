package activity

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors
var (
	ErrEmptyName       = errors.New("activity name cannot be empty")
	ErrInvalidCapacity = errors.New("activity max_participants must be greater than zero")
	ErrMissingEmail    = errors.New("email is required")
	ErrMissingActivity = errors.New("activity is required")
)

// Activity is one entry of the activities listing served by the sign-up service.
// The service is the source of truth; values held here are a rebuildable copy.
type Activity struct {
	Name            string
	Description     string // Markdown
	Schedule        string
	MaxParticipants int
	Participants    []string // signup order, uniqueness enforced server-side only
}

// Validate checks that the Activity can be rendered.
// PRE: Activity struct is populated
// POST: Returns nil if valid, error otherwise
func (a Activity) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return ErrEmptyName
	}
	if a.MaxParticipants <= 0 {
		return ErrInvalidCapacity
	}
	return nil
}

// Count returns the number of participants currently signed up.
func (a Activity) Count() int {
	return len(a.Participants)
}

// IsFull reports whether the activity has no seats left.
func (a Activity) IsFull() bool {
	return IsAtCapacity(len(a.Participants), a.MaxParticipants)
}

// IsAtCapacity reports whether count participants already fill max seats.
// A non-positive max never blocks; the server decides in that case.
func IsAtCapacity(count, max int) bool {
	if max <= 0 {
		return false
	}
	return count >= max
}

// Heading formats the participants heading shown on a card.
func Heading(count, max int) string {
	return fmt.Sprintf("Participants (%d/%d)", count, max)
}

// ScheduleLine formats the schedule line shown on a card.
func ScheduleLine(schedule string) string {
	return "Schedule: " + schedule
}

// CapacityLine formats the capacity line shown on a card.
func CapacityLine(max int) string {
	return fmt.Sprintf("Max participants: %d", max)
}

// SignupRequest carries the two signup form fields.
type SignupRequest struct {
	Email    string
	Activity string
}

// Normalize trims surrounding whitespace from the email.
// The activity value comes from a select option and is used verbatim.
func (r SignupRequest) Normalize() SignupRequest {
	r.Email = strings.TrimSpace(r.Email)
	return r
}

// Validate checks that both fields are present.
// PRE: r has been normalized
// POST: Returns ErrMissingEmail or ErrMissingActivity when a field is empty
func (r SignupRequest) Validate() error {
	if r.Email == "" {
		return ErrMissingEmail
	}
	if r.Activity == "" {
		return ErrMissingActivity
	}
	return nil
}

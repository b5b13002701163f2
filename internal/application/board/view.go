package board

import (
	"signupboard/internal/domain/activity"
	"signupboard/internal/domain/banner"
)

// PlaceholderText is the single row shown for an activity with no participants.
const PlaceholderText = "No participants yet"

// SelectPrompt is the label of the leading, empty select option.
const SelectPrompt = "-- Select an activity --"

// Row is one line of a card's participant list.
type Row struct {
	Email       string
	Placeholder bool
	Removable   bool // renders a delete control
}

// ViewEntry is the per-activity binding used to patch one card without a full reload.
type ViewEntry struct {
	List        []Row
	Heading     string
	MaxCapacity int
}

// Count returns the number of non-placeholder rows.
func (e ViewEntry) Count() int {
	n := 0
	for _, r := range e.List {
		if !r.Placeholder {
			n++
		}
	}
	return n
}

func (e ViewEntry) clone() ViewEntry {
	e.List = append([]Row(nil), e.List...)
	return e
}

// Card is the rendered block for one activity.
type Card struct {
	Name        string
	Description string // Markdown source; rendered by the web layer
	Schedule    string // "Schedule: ..."
	Capacity    string // "Max participants: N"
	Entry       ViewEntry
}

// Option is one entry of the activity select input.
type Option struct {
	Value string
	Label string
}

// Form holds the values shown in the signup form.
type Form struct {
	Email    string
	Activity string
}

// View is a point-in-time snapshot of a board, safe to render without locks.
type View struct {
	Cards          []Card
	Options        []Option
	Banner         banner.Message
	Form           Form
	SubmitDisabled bool
	Loading        bool
	LoadError      string // non-empty replaces the cards
	CanRemove      bool
	Organizer      bool
}

// HasBanner reports whether the banner region has ever been filled.
func (v View) HasBanner() bool {
	return v.Banner.Text != ""
}

// renderRows builds one row per participant, or a single placeholder row.
// PRE: none
// POST: Returns at least one row; Removable is set on participant rows only
func renderRows(participants []string, removable bool) []Row {
	if len(participants) == 0 {
		return []Row{{Email: PlaceholderText, Placeholder: true}}
	}
	rows := make([]Row, 0, len(participants))
	for _, p := range participants {
		rows = append(rows, Row{Email: p, Removable: removable})
	}
	return rows
}

// newEntry builds the view entry for one activity.
func newEntry(a activity.Activity, removable bool) ViewEntry {
	return ViewEntry{
		List:        renderRows(a.Participants, removable),
		Heading:     activity.Heading(a.Count(), a.MaxParticipants),
		MaxCapacity: a.MaxParticipants,
	}
}

// participants extracts the emails of an entry's non-placeholder rows.
func (e ViewEntry) participants() []string {
	out := make([]string, 0, len(e.List))
	for _, r := range e.List {
		if !r.Placeholder {
			out = append(out, r.Email)
		}
	}
	return out
}

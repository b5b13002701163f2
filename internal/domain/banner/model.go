package banner

import (
	"errors"
	"time"
)

// Kind tags a banner message for styling.
type Kind string

// Banner kinds
const (
	KindInfo    Kind = "info"
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// HideAfter is how long a banner stays visible after it is shown.
const HideAfter = 4 * time.Second

// ErrInvalidKind is returned by ParseKind for unknown kinds.
var ErrInvalidKind = errors.New("banner kind must be one of: info, success, error")

// ValidKinds contains all valid banner kinds.
var ValidKinds = []Kind{KindInfo, KindSuccess, KindError}

// Message is the content of the single shared banner region.
type Message struct {
	Text    string
	Kind    Kind
	Visible bool
	ShownAt time.Time
}

// New creates a visible message. An empty kind defaults to info.
// PRE: none
// POST: Returns a visible Message with a valid kind
func New(text string, kind Kind, now time.Time) Message {
	if kind == "" {
		kind = KindInfo
	}
	return Message{Text: text, Kind: kind, Visible: true, ShownAt: now}
}

// Hidden returns a copy of m that is no longer visible.
// The text is kept, as the banner element keeps its last content.
func (m Message) Hidden() Message {
	m.Visible = false
	return m
}

// CSSClass returns the class attribute for the banner element.
func (m Message) CSSClass() string {
	class := "message " + string(m.Kind)
	if !m.Visible {
		class += " hidden"
	}
	return class
}

// ParseKind converts a string to a Kind, defaulting empty input to info.
// PRE: none
// POST: Returns a valid Kind or ErrInvalidKind
func ParseKind(s string) (Kind, error) {
	if s == "" {
		return KindInfo, nil
	}
	for _, k := range ValidKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", ErrInvalidKind
}

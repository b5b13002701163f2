package email

import (
	"bytes"
	"fmt"
	"html/template"

	"signupboard/internal/domain/activity"
)

var confirmationTmpl = template.Must(template.New("confirmation").Parse(
	`<p>You are signed up for <strong>{{.Name}}</strong>.</p>
{{if .Schedule}}<p>Schedule: {{.Schedule}}</p>{{end}}
<p>If this wasn't you, ask an organizer to remove {{.Email}}.</p>`))

// SignupConfirmation builds the message sent after a successful signup.
// PRE: to is the address that was signed up
// POST: Returns a request with both HTML and text bodies; values are HTML-escaped
func SignupConfirmation(a activity.Activity, to string) (SendRequest, error) {
	var buf bytes.Buffer
	data := struct {
		Name, Schedule, Email string
	}{a.Name, a.Schedule, to}
	if err := confirmationTmpl.Execute(&buf, data); err != nil {
		return SendRequest{}, fmt.Errorf("render confirmation: %w", err)
	}

	text := fmt.Sprintf("You are signed up for %s.\n", a.Name)
	if a.Schedule != "" {
		text += activity.ScheduleLine(a.Schedule) + "\n"
	}
	return SendRequest{
		To:      []string{to},
		Subject: "Signed up: " + a.Name,
		HTML:    buf.String(),
		Text:    text,
	}, nil
}

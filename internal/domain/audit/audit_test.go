package audit_test

import (
	"testing"
	"time"

	"signupboard/internal/domain/audit"
)

// TestNewEvent_SeverityFromOutcome tests that severity follows the outcome.
func TestNewEvent_SeverityFromOutcome(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		outcome audit.Outcome
		want    audit.Severity
	}{
		{audit.OutcomeSucceeded, audit.SeverityInfo},
		{audit.OutcomeRejected, audit.SeverityWarning},
		{audit.OutcomeFailed, audit.SeverityError},
	}

	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			e := audit.NewEvent(audit.CategoryBoard, audit.ActionSignup, tt.outcome, now)
			if e.Severity != tt.want {
				t.Errorf("Severity = %q, want %q", e.Severity, tt.want)
			}
			if e.ID == "" {
				t.Error("expected generated ID")
			}
			if !e.Timestamp.Equal(now) {
				t.Errorf("Timestamp = %v, want %v", e.Timestamp, now)
			}
		})
	}
}

// TestEvent_Builders tests the With* helpers.
func TestEvent_Builders(t *testing.T) {
	e := audit.NewEvent(audit.CategoryBoard, audit.ActionUnregister, audit.OutcomeSucceeded, time.Now()).
		WithSession("sess-1").
		WithTarget("Chess Club", "a@x.com").
		WithDetail("Removed")

	if e.SessionID != "sess-1" || e.Activity != "Chess Club" || e.Email != "a@x.com" || e.Detail != "Removed" {
		t.Errorf("unexpected event fields: %+v", e)
	}
}

// TestNewEvent_UniqueIDs tests that consecutive events do not share IDs.
func TestNewEvent_UniqueIDs(t *testing.T) {
	a := audit.NewEvent(audit.CategoryBoard, audit.ActionLoad, audit.OutcomeFailed, time.Now())
	b := audit.NewEvent(audit.CategoryBoard, audit.ActionLoad, audit.OutcomeFailed, time.Now())
	if a.ID == b.ID {
		t.Errorf("expected distinct IDs, both %q", a.ID)
	}
}

package projections

import (
	"context"
	"errors"
	"fmt"
	"time"

	"signupboard/internal/adapters/http/perf"
	auditstore "signupboard/internal/adapters/storage/audit"
	"signupboard/internal/application/listutil"
	domainAudit "signupboard/internal/domain/audit"
	domainOutbox "signupboard/internal/domain/outbox"
)

// DiagnosticsOutboxLimit caps how many queued and failed emails are listed.
const DiagnosticsOutboxLimit = 20

// DefaultDiagnosticsWindow is how far back the timing snapshot looks.
const DefaultDiagnosticsWindow = time.Hour

// ErrInvalidFilter is returned for an unknown action or outcome filter.
var ErrInvalidFilter = errors.New("invalid diagnostics filter")

// GetDiagnosticsQuery carries query parameters.
type GetDiagnosticsQuery struct {
	Action   string // optional audit action
	Outcome  string // optional audit outcome
	Activity string // optional activity name
	Page     int    // 1-indexed; clamped to the last page
	PerPage  int    // <= 0 selects listutil.DefaultPerPage
}

// OutboxSummary describes confirmation emails that did not go out first time.
type OutboxSummary struct {
	Counts  map[domainOutbox.Status]int
	Pending []domainOutbox.Entry
	Failed  []domainOutbox.Entry
}

// GetDiagnosticsResult carries the query result.
type GetDiagnosticsResult struct {
	Events     []domainAudit.Event
	Page       listutil.PageInfo
	Outcomes   map[domainAudit.Outcome]int // counts over Events
	Perf       perf.Snapshot
	LiveBoards int
	Outbox     *OutboxSummary // nil when no outbox is configured
	Since      time.Time
}

// DiagnosticsAuditStore defines the audit store interface for this projection.
type DiagnosticsAuditStore interface {
	List(ctx context.Context, filter auditstore.Filter, limit int) ([]domainAudit.Event, error)
	Count(ctx context.Context, filter auditstore.Filter) (int, error)
}

// DiagnosticsOutboxStore defines the outbox reads for this projection.
type DiagnosticsOutboxStore interface {
	ListPending(ctx context.Context, limit int) ([]domainOutbox.Entry, error)
	ListFailed(ctx context.Context, limit int) ([]domainOutbox.Entry, error)
	CountByStatus(ctx context.Context) (map[domainOutbox.Status]int, error)
}

// DiagnosticsTimings defines the timing source for this projection.
type DiagnosticsTimings interface {
	Snapshot(since time.Time, topN int) perf.Snapshot
}

// GetDiagnosticsDeps holds dependencies for GetDiagnostics.
type GetDiagnosticsDeps struct {
	AuditStore DiagnosticsAuditStore
	Timings    DiagnosticsTimings     // optional: nil leaves Perf empty
	Outbox     DiagnosticsOutboxStore // optional: nil leaves Outbox nil
	LiveBoards func() int             // optional
	Now        func() time.Time
}

// QueryGetDiagnostics assembles recent audit events and a timing snapshot.
// PRE: deps.AuditStore and deps.Now are non-nil
// POST: Returns one page of events newest first, outcome counts and timings for the last hour
func QueryGetDiagnostics(ctx context.Context, query GetDiagnosticsQuery, deps GetDiagnosticsDeps) (GetDiagnosticsResult, error) {
	filter, err := diagnosticsFilter(query)
	if err != nil {
		return GetDiagnosticsResult{}, err
	}

	total, err := deps.AuditStore.Count(ctx, filter)
	if err != nil {
		return GetDiagnosticsResult{}, fmt.Errorf("count audit events: %w", err)
	}
	page := listutil.NewPageInfo(query.Page, query.PerPage, total)
	filter.Offset = page.Offset()

	events, err := deps.AuditStore.List(ctx, filter, page.PerPage)
	if err != nil {
		return GetDiagnosticsResult{}, fmt.Errorf("list audit events: %w", err)
	}

	result := GetDiagnosticsResult{
		Events:   events,
		Page:     page,
		Outcomes: map[domainAudit.Outcome]int{},
		Since:    deps.Now().Add(-DefaultDiagnosticsWindow),
	}
	for _, e := range events {
		result.Outcomes[e.Outcome]++
	}
	if deps.Timings != nil {
		result.Perf = deps.Timings.Snapshot(result.Since, 5)
	}
	if deps.LiveBoards != nil {
		result.LiveBoards = deps.LiveBoards()
	}
	if deps.Outbox != nil {
		summary, err := outboxSummary(ctx, deps.Outbox)
		if err != nil {
			return GetDiagnosticsResult{}, err
		}
		result.Outbox = &summary
	}
	return result, nil
}

func outboxSummary(ctx context.Context, store DiagnosticsOutboxStore) (OutboxSummary, error) {
	counts, err := store.CountByStatus(ctx)
	if err != nil {
		return OutboxSummary{}, fmt.Errorf("count outbox entries: %w", err)
	}
	pending, err := store.ListPending(ctx, DiagnosticsOutboxLimit)
	if err != nil {
		return OutboxSummary{}, fmt.Errorf("list pending outbox entries: %w", err)
	}
	failed, err := store.ListFailed(ctx, DiagnosticsOutboxLimit)
	if err != nil {
		return OutboxSummary{}, fmt.Errorf("list failed outbox entries: %w", err)
	}
	return OutboxSummary{Counts: counts, Pending: pending, Failed: failed}, nil
}

func diagnosticsFilter(q GetDiagnosticsQuery) (auditstore.Filter, error) {
	var f auditstore.Filter
	if q.Action != "" {
		a := domainAudit.Action(q.Action)
		switch a {
		case domainAudit.ActionLoad, domainAudit.ActionRefresh, domainAudit.ActionSignup,
			domainAudit.ActionUnregister, domainAudit.ActionUnlock, domainAudit.ActionSend:
		default:
			return f, fmt.Errorf("%w: action %q", ErrInvalidFilter, q.Action)
		}
		f.Action = &a
	}
	if q.Outcome != "" {
		o := domainAudit.Outcome(q.Outcome)
		switch o {
		case domainAudit.OutcomeSucceeded, domainAudit.OutcomeRejected, domainAudit.OutcomeFailed:
		default:
			return f, fmt.Errorf("%w: outcome %q", ErrInvalidFilter, q.Outcome)
		}
		f.Outcome = &o
	}
	if q.Activity != "" {
		name := q.Activity
		f.Activity = &name
	}
	return f, nil
}

package web

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	auditStore "signupboard/internal/adapters/storage/audit"
	"signupboard/internal/application/listutil"
	auditDomain "signupboard/internal/domain/audit"
)

// timeFormatJSON is the timestamp layout of the organizer JSON exports.
const timeFormatJSON = time.RFC3339

// auditFilterKeys are the query parameters the audit export filters on.
var auditFilterKeys = []string{"category", "action", "outcome", "activity", "session", "since"}

// auditExport is the body of GET /organizer/audit.json.
type auditExport struct {
	Events     []auditDomain.Event `json:"events"`
	Page       int                 `json:"page"`
	PerPage    int                 `json:"per_page"`
	Total      int                 `json:"total"`
	TotalPages int                 `json:"total_pages"`
}

var errBadAuditFilter = errors.New("bad audit filter")

// handleAuditExport returns filtered audit events as JSON (GET /organizer/audit.json).
// PRE: visitor is in organizer mode
// POST: One page of events newest first; 400 on a malformed filter
func handleAuditExport(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := requireOrganizer(w, r); !ok {
		return
	}
	q := r.URL.Query()
	filter, err := parseAuditFilter(listutil.ParseFilterParams(q, auditFilterKeys))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	paging := listutil.ParsePageParams(q)

	ctx := r.Context()
	total, err := app.Audit.Count(ctx, filter)
	if err != nil {
		internalError(w, err)
		return
	}
	page := listutil.NewPageInfo(paging.Page, paging.PerPage, total)
	filter.Offset = page.Offset()
	events, err := app.Audit.List(ctx, filter, page.PerPage)
	if err != nil {
		internalError(w, err)
		return
	}
	if events == nil {
		events = []auditDomain.Event{}
	}

	w.Header().Set("Content-Disposition", `inline; filename="audit.json"`)
	writeJSON(w, http.StatusOK, auditExport{
		Events:     events,
		Page:       page.Page,
		PerPage:    page.PerPage,
		Total:      page.Total,
		TotalPages: page.TotalPages,
	})
}

// parseAuditFilter maps query filters onto the store filter.
// Category, action and outcome must be known values; since is RFC 3339.
func parseAuditFilter(f listutil.FilterParams) (auditStore.Filter, error) {
	var filter auditStore.Filter
	if v := f.Get("category"); v != "" {
		c := auditDomain.Category(v)
		switch c {
		case auditDomain.CategoryBoard, auditDomain.CategoryOrganizer, auditDomain.CategoryMail:
		default:
			return filter, fmt.Errorf("%w: category %q", errBadAuditFilter, v)
		}
		filter.Category = &c
	}
	if v := f.Get("action"); v != "" {
		a := auditDomain.Action(v)
		switch a {
		case auditDomain.ActionLoad, auditDomain.ActionRefresh, auditDomain.ActionSignup,
			auditDomain.ActionUnregister, auditDomain.ActionUnlock, auditDomain.ActionSend:
		default:
			return filter, fmt.Errorf("%w: action %q", errBadAuditFilter, v)
		}
		filter.Action = &a
	}
	if v := f.Get("outcome"); v != "" {
		o := auditDomain.Outcome(v)
		switch o {
		case auditDomain.OutcomeSucceeded, auditDomain.OutcomeRejected, auditDomain.OutcomeFailed:
		default:
			return filter, fmt.Errorf("%w: outcome %q", errBadAuditFilter, v)
		}
		filter.Outcome = &o
	}
	if v := f.Get("activity"); v != "" {
		filter.Activity = &v
	}
	if v := f.Get("session"); v != "" {
		filter.Session = &v
	}
	if v := f.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("%w: since must be RFC 3339", errBadAuditFilter)
		}
		filter.Since = &t
	}
	return filter, nil
}

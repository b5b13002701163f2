package audit

import (
	"context"
	"time"

	domain "signupboard/internal/domain/audit"
)

// Store defines the interface for audit event persistence.
type Store interface {
	// Save persists an audit event.
	// PRE: event has an ID
	// POST: Event is persisted
	Save(ctx context.Context, event domain.Event) error

	// List returns audit events with optional filtering.
	// PRE: limit > 0
	// POST: Returns events ordered by timestamp desc
	List(ctx context.Context, filter Filter, limit int) ([]domain.Event, error)

	// Count returns how many events match filter.
	// POST: Filter.Offset is ignored
	Count(ctx context.Context, filter Filter) (int, error)

	// GetByID retrieves a specific audit event.
	// PRE: id is non-empty
	// POST: Returns the event or ErrNotFound
	GetByID(ctx context.Context, id string) (domain.Event, error)
}

// Filter defines query parameters for listing audit events.
// Nil fields do not constrain the result.
type Filter struct {
	Category *domain.Category
	Action   *domain.Action
	Outcome  *domain.Outcome
	Activity *string
	Session  *string
	Since    *time.Time
	Offset   int // rows to skip, for paging
}

// Ensure SQLiteStore implements Store interface.
var _ Store = (*SQLiteStore)(nil)

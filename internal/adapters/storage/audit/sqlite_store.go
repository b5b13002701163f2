package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"signupboard/internal/adapters/storage"
	domain "signupboard/internal/domain/audit"
)

// ErrNotFound is returned by GetByID for an unknown id.
var ErrNotFound = errors.New("audit event not found")

// UTC with fixed-width fraction, so lexical order is chronological order.
const dateLayout = "2006-01-02T15:04:05.000000000Z07:00"

const selectColumns = `SELECT id, timestamp, category, action, outcome, severity, session_id, activity, email, detail FROM audit_event`

// SQLiteStore implements the audit Store interface using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new audit event store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Save persists an audit event.
// PRE: event has an ID
// POST: Event is persisted
func (s *SQLiteStore) Save(ctx context.Context, event domain.Event) error {
	if event.ID == "" {
		return errors.New("audit event has no id")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_event (id, timestamp, category, action, outcome, severity, session_id, activity, email, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Timestamp.UTC().Format(dateLayout), string(event.Category), string(event.Action),
		string(event.Outcome), string(event.Severity), event.SessionID, event.Activity, event.Email, event.Detail)
	if err != nil {
		return fmt.Errorf("save audit event: %w", err)
	}
	return nil
}

// List returns audit events with optional filtering.
// PRE: limit > 0
// POST: Returns events ordered by timestamp desc, skipping filter.Offset rows
func (s *SQLiteStore) List(ctx context.Context, filter Filter, limit int) ([]domain.Event, error) {
	where, args := whereClause(filter)
	query := selectColumns + where + " ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Count returns how many events match filter; Offset is ignored.
// PRE: none
// POST: Returns the number of matching events
func (s *SQLiteStore) Count(ctx context.Context, filter Filter) (int, error) {
	where, args := whereClause(filter)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_event`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit events: %w", err)
	}
	return n, nil
}

func whereClause(filter Filter) (string, []any) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.Category != nil {
		where += " AND category = ?"
		args = append(args, string(*filter.Category))
	}
	if filter.Action != nil {
		where += " AND action = ?"
		args = append(args, string(*filter.Action))
	}
	if filter.Outcome != nil {
		where += " AND outcome = ?"
		args = append(args, string(*filter.Outcome))
	}
	if filter.Activity != nil {
		where += " AND activity = ?"
		args = append(args, *filter.Activity)
	}
	if filter.Session != nil {
		where += " AND session_id = ?"
		args = append(args, *filter.Session)
	}
	if filter.Since != nil {
		where += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC().Format(dateLayout))
	}
	return where, args
}

// GetByID retrieves a specific audit event.
// PRE: id is non-empty
// POST: Returns the event or ErrNotFound
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (domain.Event, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Event{}, ErrNotFound
	}
	return e, err
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (domain.Event, error) {
	var e domain.Event
	var timestamp string
	err := row.Scan(&e.ID, &timestamp, &e.Category, &e.Action, &e.Outcome, &e.Severity,
		&e.SessionID, &e.Activity, &e.Email, &e.Detail)
	if err != nil {
		return domain.Event{}, err
	}
	e.Timestamp, _ = time.Parse(dateLayout, timestamp)
	return e, nil
}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	var events []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

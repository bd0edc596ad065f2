// Package audit persists the safety event log: every state transition,
// emergency action, GPIO conflict and operator command the node acts on.
// The log backs the diagnostics command and post-incident review.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action classifies a safety event.
type Action string

// Recorded event actions.
const (
	ActionTransition    Action = "transition"
	ActionEmergencyStop Action = "emergency_stop"
	ActionResume        Action = "resume"
	ActionGPIOConflict  Action = "gpio_conflict"
	ActionSystemCommand Action = "system_command"
)

// SafetyEvent is a single entry in the safety event log.
type SafetyEvent struct {
	ID        string         `json:"id"`
	Action    Action         `json:"action"`
	Pin       *int           `json:"pin,omitempty"`
	State     string         `json:"state,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter controls which safety events to return.
type Filter struct {
	Action Action // optional: filter by action (transition, emergency_stop, ...)
	Pin    *int   // optional: filter by GPIO pin
	State  string // optional: filter by recorded system state
	Limit  int    // default 50, max 200
	Offset int    // pagination offset
}

// ListResult contains the paginated safety event results.
type ListResult struct {
	Events []SafetyEvent `json:"events"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// Repository defines the interface for safety event operations.
type Repository interface {
	Record(ctx context.Context, event *SafetyEvent) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores safety events in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new safety event repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts a new safety event. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Record(ctx context.Context, event *SafetyEvent) error {
	if event.ID == "" {
		event.ID = "evt-" + uuid.NewString()[:8]
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var detailJSON *string
	if event.Detail != nil {
		b, err := json.Marshal(event.Detail)
		if err != nil {
			return fmt.Errorf("marshalling event detail: %w", err)
		}
		s := string(b)
		detailJSON = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO safety_events (id, action, pin, state, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, string(event.Action),
		nullInt(event.Pin), nullableString(event.State),
		detailJSON,
		event.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting safety event: %w", err)
	}

	return nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullInt converts a *int to sql.NullInt64 for nullable columns.
func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

// List returns safety events matching the filter, ordered by most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	// Clamp limit.
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size for event queries
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	// Build WHERE clause dynamically.
	var conditions []string
	var args []any

	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, string(filter.Action))
	}
	if filter.Pin != nil {
		conditions = append(conditions, "pin = ?")
		args = append(args, *filter.Pin)
	}
	if filter.State != "" {
		conditions = append(conditions, "state = ?")
		args = append(args, filter.State)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Get total count.
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM safety_events %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting safety events: %w", err)
	}

	// Get paginated results.
	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT id, action, pin, state, detail, created_at FROM safety_events %s ORDER BY created_at DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying safety events: %w", err)
	}
	defer rows.Close()

	var events []SafetyEvent
	for rows.Next() {
		var ev SafetyEvent
		var pin sql.NullInt64
		var state, detailJSON sql.NullString
		var createdAt string

		if err := rows.Scan(&ev.ID, &ev.Action, &pin, &state, &detailJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning safety event: %w", err)
		}

		if pin.Valid {
			p := int(pin.Int64)
			ev.Pin = &p
		}
		if state.Valid {
			ev.State = state.String
		}
		if detailJSON.Valid && detailJSON.String != "" {
			var detail map[string]any
			if json.Unmarshal([]byte(detailJSON.String), &detail) == nil {
				ev.Detail = detail
			}
		}

		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			t, err = time.Parse("2006-01-02T15:04:05Z", createdAt)
			if err != nil {
				return nil, fmt.Errorf("parsing safety event timestamp %q: %w", createdAt, err)
			}
		}
		ev.CreatedAt = t

		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating safety events: %w", err)
	}

	if events == nil {
		events = []SafetyEvent{}
	}

	return &ListResult{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fernwright/questweaver/internal/storage"
	"github.com/fernwright/questweaver/pkg/types"
)

// AppendEvent durably stores a new event. Events are append-only; a
// duplicate ID is a conflict, not an upsert.
func (s *Store) AppendEvent(ctx context.Context, event *types.Event) error {
	if event == nil {
		return storage.ErrInvalidInput
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	return s.insertEvent(ctx, s.db, event)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// insertEvent writes the event through db or an open transaction.
func (s *Store) insertEvent(ctx context.Context, ex execer, event *types.Event) error {
	participants, err := marshalJSON(event.Participants)
	if err != nil {
		return fmt.Errorf("failed to marshal participants: %w", err)
	}
	deltas, err := marshalJSON(event.StatDeltas)
	if err != nil {
		return fmt.Errorf("failed to marshal stat deltas: %w", err)
	}
	contextJSON, err := marshalJSON(event.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO events (id, subject_id, type, description, participants, stat_deltas, quest_id, timestamp, context)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.SubjectID, string(event.Type), event.Description,
		participants, deltas, nullString(event.QuestID), event.Timestamp.UTC(), contextJSON)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: event %s already exists", storage.ErrConflict, event.ID)
		}
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// GetEvent retrieves an event by ID.
func (s *Store) GetEvent(ctx context.Context, id string) (*types.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, subject_id, type, description, participants, stat_deltas, quest_id, timestamp, context
		FROM events WHERE id = ?`, id)

	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return event, nil
}

// ListEvents retrieves a subject's events newer than since, most recent
// first, up to limit.
func (s *Store) ListEvents(ctx context.Context, subjectID string, since time.Time, limit int) ([]types.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject_id, type, description, participants, stat_deltas, quest_id, timestamp, context
		FROM events
		WHERE subject_id = ? AND timestamp > ?
		ORDER BY timestamp DESC
		LIMIT ?`, subjectID, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// ListEventsByIDs retrieves the named events in the given order. Missing
// IDs are skipped.
func (s *Store) ListEventsByIDs(ctx context.Context, ids []string) ([]types.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, subject_id, type, description, participants, stat_deltas, quest_id, timestamp, context
		FROM events WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events by ids: %w", err)
	}
	defer rows.Close()

	events, err := collectEvents(rows)
	if err != nil {
		return nil, err
	}

	// Restore the requested order.
	byID := make(map[string]types.Event, len(events))
	for _, e := range events {
		byID[e.ID] = e
	}
	ordered := make([]types.Event, 0, len(events))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			ordered = append(ordered, e)
		}
	}
	return ordered, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*types.Event, error) {
	var (
		event        types.Event
		typ          string
		participants sql.NullString
		deltas       sql.NullString
		questID      sql.NullString
		contextJSON  sql.NullString
	)
	err := row.Scan(&event.ID, &event.SubjectID, &typ, &event.Description,
		&participants, &deltas, &questID, &event.Timestamp, &contextJSON)
	if err != nil {
		return nil, err
	}

	event.Type = types.EventType(typ)
	event.QuestID = questID.String
	if err := unmarshalJSON(participants, &event.Participants); err != nil {
		return nil, fmt.Errorf("failed to unmarshal participants: %w", err)
	}
	if err := unmarshalJSON(deltas, &event.StatDeltas); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stat deltas: %w", err)
	}
	if err := unmarshalJSON(contextJSON, &event.Context); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context: %w", err)
	}
	return &event, nil
}

func collectEvents(rows *sql.Rows) ([]types.Event, error) {
	var events []types.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

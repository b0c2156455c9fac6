package store

import (
	"context"
	"database/sql"
	"fmt"
)

func appendEvent(ctx context.Context, tx *sql.Tx, ev Event) error {
	payload, err := marshalJSON(ev.Payload, "event payload")
	if err != nil {
		return err
	}
	// Idempotent under replay: the (seq, kind, goal) key makes a duplicate
	// append invisible.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO events (seq, kind, goal_instance_id, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (seq, kind, goal_instance_id) DO NOTHING
	`, ev.Seq, ev.Kind, ev.GoalInstanceID, payload); err != nil {
		return fmt.Errorf("append event %s: %w", ev.Kind, err)
	}
	return nil
}

// AppendEvent records a lifecycle event outside any other mutation. Most
// events are written inside the transaction of the transition they describe;
// this is for standalone signals such as activation exhaustion.
func (s *Store) AppendEvent(ctx context.Context, ev Event) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return appendEvent(ctx, tx, ev)
	})
}

// ListEvents returns the lifecycle log for one goal instance in sequence
// order. An empty goalInstanceID returns the full log.
func (s *Store) ListEvents(ctx context.Context, goalInstanceID string) ([]Event, error) {
	query := `
		SELECT seq, kind, goal_instance_id, payload FROM events
		ORDER BY seq ASC, kind COLLATE BINARY ASC, goal_instance_id COLLATE BINARY ASC
	`
	args := []any{}
	if goalInstanceID != "" {
		query = `
			SELECT seq, kind, goal_instance_id, payload FROM events
			WHERE goal_instance_id = ?
			ORDER BY seq ASC, kind COLLATE BINARY ASC
		`
		args = append(args, goalInstanceID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var payload string
		if err := rows.Scan(&ev.Seq, &ev.Kind, &ev.GoalInstanceID, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := unmarshalJSON(payload, &ev.Payload, "event payload"); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

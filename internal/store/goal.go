package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func marshalAnchor(b Binding) (any, error) {
	if b.Anchor == nil {
		return nil, nil
	}
	return marshalJSON(b.Anchor, "anchor")
}

// PromoteGoalKey performs the Phase A -> Phase B identity transition as one
// atomic write: push the old key onto the append-only alias list, write the
// new key, phase, and anchor - all three or none. Emits key-promoted.
//
// The transition happens exactly once per binding; promoting a Phase B
// binding is an error.
func (s *Store) PromoteGoalKey(ctx context.Context, goalInstanceID, newKey string, b Binding, seq int64) error {
	anchorJSON, err := marshalAnchor(b)
	if err != nil {
		return fmt.Errorf("promote goal key: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var oldKey, phase, goalType string
		err := tx.QueryRowContext(ctx, `
			SELECT goal_key, phase, goal_type FROM goal_bindings WHERE goal_instance_id = ?
		`, goalInstanceID).Scan(&oldKey, &phase, &goalType)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("binding %s: %w", goalInstanceID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("read binding: %w", err)
		}
		if Phase(phase) != PhaseA {
			return fmt.Errorf("binding %s already anchored (phase %s)", goalInstanceID, phase)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO goal_key_aliases (goal_instance_id, goal_type, alias, superseded_seq)
			VALUES (?, ?, ?, ?)
		`, goalInstanceID, goalType, oldKey, seq); err != nil {
			return fmt.Errorf("append alias: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE goal_bindings SET goal_key = ?, phase = 'B', anchor = ? WHERE goal_instance_id = ?
		`, newKey, anchorJSON, goalInstanceID); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrKeyConflict, newKey)
			}
			return fmt.Errorf("write new key: %w", err)
		}

		return appendEvent(ctx, tx, Event{
			Seq:            seq,
			Kind:           EventKeyPromoted,
			GoalInstanceID: goalInstanceID,
			Payload:        map[string]string{"phase": "B"},
		})
	})
}

// GetBinding reads one binding (with aliases) by goal instance ID.
func (s *Store) GetBinding(ctx context.Context, goalInstanceID string) (Binding, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT goal_instance_id, execution_id, goal_type, goal_key, phase, anchor, terminal, created_seq
		FROM goal_bindings WHERE goal_instance_id = ?
	`, goalInstanceID)
	b, err := scanBinding(row)
	if err != nil {
		return b, err
	}
	b.Aliases, err = s.listAliases(ctx, goalInstanceID)
	return b, err
}

// FindBindingsByKey returns bindings whose current key OR any alias matches,
// for one goal type. Deterministic order: created_seq, then instance ID.
func (s *Store) FindBindingsByKey(ctx context.Context, goalType, key string) ([]Binding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT b.goal_instance_id, b.execution_id, b.goal_type, b.goal_key, b.phase, b.anchor, b.terminal, b.created_seq
		FROM goal_bindings b
		LEFT JOIN goal_key_aliases a ON a.goal_instance_id = b.goal_instance_id
		WHERE b.goal_type = ? AND (b.goal_key = ? OR a.alias = ?)
		ORDER BY b.created_seq ASC, b.goal_instance_id COLLATE BINARY ASC
	`, goalType, key, key)
	if err != nil {
		return nil, fmt.Errorf("query bindings by key: %w", err)
	}
	defer rows.Close()
	return s.collectBindings(ctx, rows)
}

// ListBindingsByType returns all bindings of a goal type (fuzzy-match
// candidate pool for the resolver). Terminal bindings included: the
// resolver may re-verify a completed candidate.
func (s *Store) ListBindingsByType(ctx context.Context, goalType string) ([]Binding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT goal_instance_id, execution_id, goal_type, goal_key, phase, anchor, terminal, created_seq
		FROM goal_bindings WHERE goal_type = ?
		ORDER BY created_seq ASC, goal_instance_id COLLATE BINARY ASC
	`, goalType)
	if err != nil {
		return nil, fmt.Errorf("query bindings by type: %w", err)
	}
	defer rows.Close()
	return s.collectBindings(ctx, rows)
}

func (s *Store) collectBindings(ctx context.Context, rows *sql.Rows) ([]Binding, error) {
	var bindings []Binding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bindings: %w", err)
	}
	for i := range bindings {
		aliases, err := s.listAliases(ctx, bindings[i].GoalInstanceID)
		if err != nil {
			return nil, err
		}
		bindings[i].Aliases = aliases
	}
	if bindings == nil {
		bindings = []Binding{}
	}
	return bindings, nil
}

func scanBinding(row rowScanner) (Binding, error) {
	var b Binding
	var phase string
	var anchorJSON sql.NullString
	var terminal int
	err := row.Scan(&b.GoalInstanceID, &b.ExecutionID, &b.GoalType, &b.Key, &phase, &anchorJSON, &terminal, &b.CreatedSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return b, ErrNotFound
	}
	if err != nil {
		return b, fmt.Errorf("scan binding: %w", err)
	}
	b.Phase = Phase(phase)
	b.Terminal = terminal != 0
	if anchorJSON.Valid && anchorJSON.String != "" {
		if err := unmarshalJSON(anchorJSON.String, &b.Anchor, "anchor"); err != nil {
			return b, err
		}
	}
	return b, nil
}

func (s *Store) listAliases(ctx context.Context, goalInstanceID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT alias FROM goal_key_aliases WHERE goal_instance_id = ?
		ORDER BY superseded_seq ASC, alias COLLATE BINARY ASC
	`, goalInstanceID)
	if err != nil {
		return nil, fmt.Errorf("query aliases: %w", err)
	}
	defer rows.Close()

	var aliases []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("scan alias: %w", err)
		}
		aliases = append(aliases, a)
	}
	return aliases, rows.Err()
}

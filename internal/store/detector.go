package store

import (
	"context"
	"fmt"
)

// Violation is one illegal-state finding from CheckIllegalStates.
type Violation struct {
	ExecutionID string
	Detail      string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.ExecutionID, v.Detail)
}

// CheckIllegalStates scans the record set for cross-record states no legal
// transition sequence can produce. It is read-only and advisory: findings
// indicate a code defect or external database edit, never something to
// auto-repair.
//
// Checked:
//   - an execution is paused if and only if a hold row exists for it
//   - goal_bindings.terminal agrees with executions.status
//   - a completed execution has consecutive_passes at the stability window
//   - at most one non-terminal binding per (goal_type, goal_key)
func (s *Store) CheckIllegalStates(ctx context.Context, stabilityWindow int) ([]Violation, error) {
	var out []Violation

	collect := func(query, detail string, args ...any) error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("illegal-state scan: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("illegal-state scan: %w", err)
			}
			out = append(out, Violation{ExecutionID: id, Detail: detail})
		}
		return rows.Err()
	}

	if err := collect(`
		SELECT e.id FROM executions e
		LEFT JOIN holds h ON h.execution_id = e.id
		WHERE e.status = 'paused' AND h.execution_id IS NULL
		ORDER BY e.id COLLATE BINARY ASC
	`, "paused without a hold"); err != nil {
		return nil, err
	}

	if err := collect(`
		SELECT h.execution_id FROM holds h
		JOIN executions e ON e.id = h.execution_id
		WHERE e.status != 'paused'
		ORDER BY h.execution_id COLLATE BINARY ASC
	`, "hold on a non-paused execution"); err != nil {
		return nil, err
	}

	if err := collect(`
		SELECT e.id FROM executions e
		JOIN goal_bindings b ON b.execution_id = e.id
		WHERE (e.status IN ('completed', 'abandoned')) != (b.terminal = 1)
		ORDER BY e.id COLLATE BINARY ASC
	`, "terminal mirror out of sync with status"); err != nil {
		return nil, err
	}

	if err := collect(`
		SELECT e.id FROM executions e
		LEFT JOIN completion_state c ON c.execution_id = e.id
		WHERE e.status = 'completed'
		  AND (c.execution_id IS NULL OR c.consecutive_passes < ?)
		ORDER BY e.id COLLATE BINARY ASC
	`, "completed without a full stability window", stabilityWindow); err != nil {
		return nil, err
	}

	// The partial unique index prevents this at write time; re-checking here
	// catches databases edited outside mason.
	if err := collect(`
		SELECT execution_id FROM goal_bindings
		WHERE terminal = 0
		  AND (goal_type, goal_key) IN (
			SELECT goal_type, goal_key FROM goal_bindings
			WHERE terminal = 0 GROUP BY goal_type, goal_key HAVING COUNT(*) > 1
		  )
		ORDER BY execution_id COLLATE BINARY ASC
	`, "duplicate live binding for goal key"); err != nil {
		return nil, err
	}

	return out, nil
}

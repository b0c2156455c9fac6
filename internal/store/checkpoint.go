package store

import (
	"context"
	"database/sql"
	"fmt"
)

// AppendCheckpoint appends a checkpoint record, advances the execution's
// cursor and completed set to the checkpoint's values, and emits
// checkpoint-taken - all in one transaction.
//
// Checkpoints are append-only; re-appending an existing checkpoint ID is a
// no-op (ON CONFLICT DO NOTHING), which makes crash-replay of a module
// boundary idempotent. A cursor regression is rejected: the cursor is
// monotonically non-decreasing within one execution lineage.
func (s *Store) AppendCheckpoint(ctx context.Context, goalInstanceID string, cp Checkpoint) error {
	completedJSON, err := marshalStrings(cp.Completed, "completed")
	if err != nil {
		return fmt.Errorf("append checkpoint: %w", err)
	}
	stationsJSON, err := marshalJSON(cp.StationSnapshot, "station snapshot")
	if err != nil {
		return fmt.Errorf("append checkpoint: %w", err)
	}
	invariantsJSON, err := marshalJSON(cp.InvariantResults, "invariant results")
	if err != nil {
		return fmt.Errorf("append checkpoint: %w", err)
	}
	deltasJSON, err := marshalJSON(cp.OpenDeltas, "open deltas")
	if err != nil {
		return fmt.Errorf("append checkpoint: %w", err)
	}
	inventoryJSON, err := marshalJSON(cp.InventorySummary, "inventory summary")
	if err != nil {
		return fmt.Errorf("append checkpoint: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var cursor int64
		if err := tx.QueryRowContext(ctx, `
			SELECT module_cursor FROM executions WHERE id = ?
		`, cp.ExecutionID).Scan(&cursor); err != nil {
			return fmt.Errorf("read cursor: %w", err)
		}
		if cp.ModuleCursor < cursor {
			return fmt.Errorf("checkpoint cursor %d regresses below %d for execution %s",
				cp.ModuleCursor, cursor, cp.ExecutionID)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO checkpoints
			(id, execution_id, module_cursor, completed, station_snapshot, invariant_results, open_deltas, inventory_summary, saved_at_seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(execution_id, id) DO NOTHING
		`,
			cp.ID, cp.ExecutionID, cp.ModuleCursor, completedJSON,
			stationsJSON, invariantsJSON, deltasJSON, inventoryJSON, cp.SavedAtSeq,
		); err != nil {
			return fmt.Errorf("insert checkpoint: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE executions SET module_cursor = ?, completed = ?, updated_seq = ? WHERE id = ?
		`, cp.ModuleCursor, completedJSON, cp.SavedAtSeq, cp.ExecutionID); err != nil {
			return fmt.Errorf("advance cursor: %w", err)
		}

		return appendEvent(ctx, tx, Event{
			Seq:            cp.SavedAtSeq,
			Kind:           EventCheckpointTaken,
			GoalInstanceID: goalInstanceID,
			Payload: map[string]string{
				"checkpoint_id": cp.ID,
				"module_cursor": fmt.Sprintf("%d", cp.ModuleCursor),
			},
		})
	})
}

// ListCheckpoints returns the execution's checkpoints in append order
// (deterministic: ORDER BY saved_at_seq, id).
func (s *Store) ListCheckpoints(ctx context.Context, execID string) ([]Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, module_cursor, completed, station_snapshot, invariant_results, open_deltas, inventory_summary, saved_at_seq
		FROM checkpoints
		WHERE execution_id = ?
		ORDER BY saved_at_seq ASC, id COLLATE BINARY ASC
	`, execID)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	var cps []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		var completedJSON, stationsJSON, invariantsJSON, deltasJSON, inventoryJSON string
		if err := rows.Scan(&cp.ID, &cp.ExecutionID, &cp.ModuleCursor, &completedJSON,
			&stationsJSON, &invariantsJSON, &deltasJSON, &inventoryJSON, &cp.SavedAtSeq); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		if err := unmarshalJSON(completedJSON, &cp.Completed, "completed"); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(stationsJSON, &cp.StationSnapshot, "station snapshot"); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(invariantsJSON, &cp.InvariantResults, "invariant results"); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(deltasJSON, &cp.OpenDeltas, "open deltas"); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(inventoryJSON, &cp.InventorySummary, "inventory summary"); err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	if cps == nil {
		cps = []Checkpoint{}
	}
	return cps, nil
}

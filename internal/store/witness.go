package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/mason/internal/witness"
)

func insertWitness(ctx context.Context, tx *sql.Tx, executionID string, w witness.Witness) error {
	body, err := marshalJSON(w, "witness body")
	if err != nil {
		return err
	}
	// Witnesses are immutable per (execution, module); a replayed insert of
	// the same witness is a no-op.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO witnesses (execution_id, module_id, digest, body)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (execution_id, module_id) DO NOTHING
	`, executionID, w.ModuleID, w.Digest, body); err != nil {
		return fmt.Errorf("insert witness %s: %w", w.ModuleID, err)
	}
	return nil
}

// GetWitness reads the persisted witness for one module of an execution.
func (s *Store) GetWitness(ctx context.Context, executionID, moduleID string) (witness.Witness, error) {
	var w witness.Witness
	var body string
	err := s.db.QueryRowContext(ctx, `
		SELECT body FROM witnesses WHERE execution_id = ? AND module_id = ?
	`, executionID, moduleID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return w, fmt.Errorf("witness %s/%s: %w", executionID, moduleID, ErrNotFound)
	}
	if err != nil {
		return w, fmt.Errorf("read witness: %w", err)
	}
	if err := unmarshalJSON(body, &w, "witness body"); err != nil {
		return w, err
	}
	return w, nil
}

// ListWitnesses returns every witness of an execution keyed by module ID.
func (s *Store) ListWitnesses(ctx context.Context, executionID string) (map[string]witness.Witness, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT module_id, body FROM witnesses WHERE execution_id = ?
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("query witnesses: %w", err)
	}
	defer rows.Close()

	out := make(map[string]witness.Witness)
	for rows.Next() {
		var moduleID, body string
		if err := rows.Scan(&moduleID, &body); err != nil {
			return nil, fmt.Errorf("scan witness: %w", err)
		}
		var w witness.Witness
		if err := unmarshalJSON(body, &w, "witness body"); err != nil {
			return nil, err
		}
		out[moduleID] = w
	}
	return out, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetCompletionState reads the hysteresis counter for one execution.
// ErrNotFound means no verification pass has run yet.
func (s *Store) GetCompletionState(ctx context.Context, executionID string) (CompletionState, error) {
	var cs CompletionState
	var lastPass int
	err := s.db.QueryRowContext(ctx, `
		SELECT execution_id, verifier_id, definition_version, consecutive_passes, last_pass
		FROM completion_state WHERE execution_id = ?
	`, executionID).Scan(&cs.ExecutionID, &cs.VerifierID, &cs.DefinitionVersion, &cs.ConsecutivePasses, &lastPass)
	if errors.Is(err, sql.ErrNoRows) {
		return cs, ErrNotFound
	}
	if err != nil {
		return cs, fmt.Errorf("read completion state: %w", err)
	}
	cs.LastPass = lastPass != 0
	return cs, nil
}

// PutCompletionState upserts the counter after a verification pass. When the
// verifier identity or definition version differs from the stored row, the
// caller resets ConsecutivePasses before writing; this method stores what it
// is given.
func (s *Store) PutCompletionState(ctx context.Context, cs CompletionState) error {
	lastPass := 0
	if cs.LastPass {
		lastPass = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO completion_state
		(execution_id, verifier_id, definition_version, consecutive_passes, last_pass)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (execution_id) DO UPDATE SET
			verifier_id = excluded.verifier_id,
			definition_version = excluded.definition_version,
			consecutive_passes = excluded.consecutive_passes,
			last_pass = excluded.last_pass
	`, cs.ExecutionID, cs.VerifierID, cs.DefinitionVersion, cs.ConsecutivePasses, lastPass)
	if err != nil {
		return fmt.Errorf("write completion state: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ApplyHold writes a hold and pauses its execution in one transaction, and
// emits hold-entered. Writing a hold for an already-held execution is an
// error; the caller reads and clears the existing hold first.
func (s *Store) ApplyHold(ctx context.Context, h Hold) error {
	hintsJSON, err := marshalStrings(h.ResumeHints, "resume hints")
	if err != nil {
		return fmt.Errorf("apply hold: %w", err)
	}
	verified := 0
	if h.Witness.Verified {
		verified = 1
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO holds
			(execution_id, reason, held_at_seq, resume_hints, next_review_unix, last_op_id, hold_cursor, verified)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, h.ExecutionID, string(h.Reason), h.HeldAtSeq, hintsJSON,
			h.NextReviewUnix, h.Witness.LastOpID, h.Witness.ModuleCursor, verified); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("execution %s already held", h.ExecutionID)
			}
			return fmt.Errorf("insert hold: %w", err)
		}

		goalID, err := s.setStatusTx(ctx, tx, h.ExecutionID, StatusPaused, h.HeldAtSeq)
		if err != nil {
			return err
		}
		return appendEvent(ctx, tx, Event{
			Seq:            h.HeldAtSeq,
			Kind:           EventHoldEntered,
			GoalInstanceID: goalID,
			Payload: map[string]string{
				"execution_id": h.ExecutionID,
				"reason":       string(h.Reason),
			},
		})
	})
}

// ErrManualHold marks an attempt to clear or reschedule a manual pause
// through an automatic path. Only ReleaseHold moves a manual pause.
var ErrManualHold = errors.New("hold is a manual pause; explicit release required")

// ClearHold deletes the hold and reactivates its execution in one
// transaction, and emits hold-cleared. Manual pauses are refused with
// ErrManualHold; this method is the single owner of that rule, so every
// automatic path (reactor, resume) inherits it.
func (s *Store) ClearHold(ctx context.Context, executionID string, seq int64) error {
	return s.clearHold(ctx, executionID, seq, false)
}

// ReleaseHold deletes the hold regardless of reason. This is the explicit
// operator path and the only way out of a manual pause.
func (s *Store) ReleaseHold(ctx context.Context, executionID string, seq int64) error {
	return s.clearHold(ctx, executionID, seq, true)
}

func (s *Store) clearHold(ctx context.Context, executionID string, seq int64, explicit bool) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		query := `DELETE FROM holds WHERE execution_id = ?`
		if !explicit {
			query += ` AND reason != 'manual_pause'`
		}
		res, err := tx.ExecContext(ctx, query, executionID)
		if err != nil {
			return fmt.Errorf("delete hold: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete hold: %w", err)
		}
		if n == 0 {
			return holdMissReason(ctx, tx, executionID)
		}

		goalID, err := s.setStatusTx(ctx, tx, executionID, StatusActive, seq)
		if err != nil {
			return err
		}
		return appendEvent(ctx, tx, Event{
			Seq:            seq,
			Kind:           EventHoldCleared,
			GoalInstanceID: goalID,
			Payload:        map[string]string{"execution_id": executionID},
		})
	})
}

// UpdateHoldReview moves a hold's next review time without touching
// anything else. The reactor uses this to apply its backoff ladder.
// Manual pauses are refused with ErrManualHold; they have no automatic
// review schedule to move.
func (s *Store) UpdateHoldReview(ctx context.Context, executionID string, nextReviewUnix int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE holds SET next_review_unix = ? WHERE execution_id = ? AND reason != 'manual_pause'
		`, nextReviewUnix, executionID)
		if err != nil {
			return fmt.Errorf("update hold review: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update hold review: %w", err)
		}
		if n == 0 {
			return holdMissReason(ctx, tx, executionID)
		}
		return nil
	})
}

// holdMissReason tells a guarded write that affected no rows apart: the
// hold is either absent or a protected manual pause.
func holdMissReason(ctx context.Context, tx *sql.Tx, executionID string) error {
	var reason string
	err := tx.QueryRowContext(ctx, `
		SELECT reason FROM holds WHERE execution_id = ?
	`, executionID).Scan(&reason)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("hold for %s: %w", executionID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read hold reason: %w", err)
	}
	return fmt.Errorf("hold for %s: %w", executionID, ErrManualHold)
}

// GetHold reads the hold for one execution.
func (s *Store) GetHold(ctx context.Context, executionID string) (Hold, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT execution_id, reason, held_at_seq, resume_hints, next_review_unix, last_op_id, hold_cursor, verified
		FROM holds WHERE execution_id = ?
	`, executionID)
	return scanHold(row)
}

// ListHeld returns every current hold, oldest review first. The reactor's
// periodic backstop walks this list.
func (s *Store) ListHeld(ctx context.Context) ([]Hold, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, reason, held_at_seq, resume_hints, next_review_unix, last_op_id, hold_cursor, verified
		FROM holds ORDER BY next_review_unix ASC, execution_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query holds: %w", err)
	}
	defer rows.Close()

	var holds []Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		holds = append(holds, h)
	}
	return holds, rows.Err()
}

func scanHold(row rowScanner) (Hold, error) {
	var h Hold
	var reason, hintsJSON string
	var verified int
	err := row.Scan(&h.ExecutionID, &reason, &h.HeldAtSeq, &hintsJSON,
		&h.NextReviewUnix, &h.Witness.LastOpID, &h.Witness.ModuleCursor, &verified)
	if errors.Is(err, sql.ErrNoRows) {
		return h, ErrNotFound
	}
	if err != nil {
		return h, fmt.Errorf("scan hold: %w", err)
	}
	h.Reason = HoldReason(reason)
	h.Witness.Verified = verified != 0
	if err := unmarshalJSON(hintsJSON, &h.ResumeHints, "resume hints"); err != nil {
		return h, err
	}
	return h, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/mason/internal/witness"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrKeyConflict is returned when creating a binding whose (goal_type,
// goal_key) already has a live (non-terminal) execution. The caller must
// observe the winner instead of retrying.
var ErrKeyConflict = errors.New("goal key already bound to a live execution")

// CreateExecution inserts a new execution together with its goal binding
// and initial witnesses in one transaction, and emits execution-created.
//
// The partial UNIQUE index on live (goal_type, goal_key) makes this the
// atomicity guard for identity resolution: of two concurrent creates for
// one key, exactly one commits; the other receives ErrKeyConflict.
func (s *Store) CreateExecution(ctx context.Context, exec Execution, b Binding, witnesses []witness.Witness) error {
	completedJSON, err := marshalStrings(exec.Completed, "completed")
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	siteJSON, err := marshalJSON(exec.Site, "site")
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	planJSON, err := marshalJSON(exec.Plan, "plan")
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	anchorJSON, err := marshalAnchor(b)
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO executions
			(id, goal_instance_id, status, module_cursor, completed, template_digest, site, plan, created_seq, updated_seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			exec.ID, exec.GoalInstanceID, string(exec.Status), exec.ModuleCursor,
			completedJSON, exec.TemplateDigest, siteJSON, planJSON,
			exec.CreatedSeq, exec.UpdatedSeq,
		); err != nil {
			return fmt.Errorf("insert execution: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO goal_bindings
			(goal_instance_id, execution_id, goal_type, goal_key, phase, anchor, terminal, created_seq)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		`,
			b.GoalInstanceID, b.ExecutionID, b.GoalType, b.Key, string(b.Phase), anchorJSON, b.CreatedSeq,
		); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s/%s", ErrKeyConflict, b.GoalType, b.Key)
			}
			return fmt.Errorf("insert binding: %w", err)
		}

		for _, w := range witnesses {
			if err := insertWitness(ctx, tx, exec.ID, w); err != nil {
				return err
			}
		}

		return appendEvent(ctx, tx, Event{
			Seq:            exec.CreatedSeq,
			Kind:           EventExecutionCreated,
			GoalInstanceID: exec.GoalInstanceID,
			Payload:        map[string]string{"execution_id": exec.ID},
		})
	})
}

// GetExecution reads one execution by ID.
func (s *Store) GetExecution(ctx context.Context, id string) (Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, goal_instance_id, status, module_cursor, completed, template_digest, site, plan, created_seq, updated_seq
		FROM executions WHERE id = ?
	`, id)
	return scanExecution(row)
}

// GetExecutionByGoal reads one execution by its goal instance ID.
func (s *Store) GetExecutionByGoal(ctx context.Context, goalInstanceID string) (Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, goal_instance_id, status, module_cursor, completed, template_digest, site, plan, created_seq, updated_seq
		FROM executions WHERE goal_instance_id = ?
	`, goalInstanceID)
	return scanExecution(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (Execution, error) {
	var exec Execution
	var status, completedJSON, siteJSON, planJSON string
	err := row.Scan(&exec.ID, &exec.GoalInstanceID, &status, &exec.ModuleCursor,
		&completedJSON, &exec.TemplateDigest, &siteJSON, &planJSON,
		&exec.CreatedSeq, &exec.UpdatedSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return exec, ErrNotFound
	}
	if err != nil {
		return exec, fmt.Errorf("scan execution: %w", err)
	}
	exec.Status = Status(status)
	if err := unmarshalJSON(completedJSON, &exec.Completed, "completed"); err != nil {
		return exec, err
	}
	if err := unmarshalJSON(siteJSON, &exec.Site, "site"); err != nil {
		return exec, err
	}
	if err := unmarshalJSON(planJSON, &exec.Plan, "plan"); err != nil {
		return exec, err
	}
	return exec, nil
}

// CompleteExecution transitions an execution to completed, flips the
// binding's terminal mirror, and emits execution-completed - atomically.
// Only the completion verifier calls this, after the stability window.
func (s *Store) CompleteExecution(ctx context.Context, execID string, seq int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		goalID, err := s.setStatusTx(ctx, tx, execID, StatusCompleted, seq)
		if err != nil {
			return err
		}
		return appendEvent(ctx, tx, Event{
			Seq:            seq,
			Kind:           EventExecutionCompleted,
			GoalInstanceID: goalID,
			Payload:        map[string]string{"execution_id": execID},
		})
	})
}

// ReopenExecution transitions a completed execution back to active after a
// verified regression, resets the consecutive-pass counter, and emits
// regression-detected - atomically.
func (s *Store) ReopenExecution(ctx context.Context, execID string, seq int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		goalID, err := s.setStatusTx(ctx, tx, execID, StatusActive, seq)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE completion_state SET consecutive_passes = 0, last_pass = 0 WHERE execution_id = ?
		`, execID); err != nil {
			return fmt.Errorf("reset completion state: %w", err)
		}
		return appendEvent(ctx, tx, Event{
			Seq:            seq,
			Kind:           EventRegressionDetected,
			GoalInstanceID: goalID,
			Payload:        map[string]string{"execution_id": execID},
		})
	})
}

// AbandonExecution marks an execution terminally abandoned (site invalid
// beyond this subsystem's reach). The binding's terminal mirror flips with
// it, freeing the goal key for a fresh top-level plan.
func (s *Store) AbandonExecution(ctx context.Context, execID string, seq int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := s.setStatusTx(ctx, tx, execID, StatusAbandoned, seq)
		return err
	})
}

// setStatusTx updates execution status and the derived terminal mirror on
// the binding in the same transaction. Status is the canonical owner;
// goal_bindings.terminal is strictly derived from it here and nowhere else.
// Returns the goal instance ID for event emission.
func (s *Store) setStatusTx(ctx context.Context, tx *sql.Tx, execID string, status Status, seq int64) (string, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE executions SET status = ?, updated_seq = ? WHERE id = ?
	`, string(status), seq, execID)
	if err != nil {
		return "", fmt.Errorf("update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("update status: %w", err)
	}
	if n == 0 {
		return "", fmt.Errorf("execution %s: %w", execID, ErrNotFound)
	}

	terminal := 0
	if status.Terminal() {
		terminal = 1
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE goal_bindings SET terminal = ? WHERE execution_id = ?
	`, terminal, execID); err != nil {
		return "", fmt.Errorf("update terminal mirror: %w", err)
	}

	var goalID string
	if err := tx.QueryRowContext(ctx, `
		SELECT goal_instance_id FROM executions WHERE id = ?
	`, execID).Scan(&goalID); err != nil {
		return "", fmt.Errorf("read goal instance: %w", err)
	}
	return goalID, nil
}

// ReplacePlan supersedes the execution's compiled plan in a full or
// module-level replan: new plan JSON, new template digest, new witnesses,
// cursor and completed set rewritten to the caller's values. Existing
// checkpoints remain - they are history, not state.
func (s *Store) ReplacePlan(ctx context.Context, exec Execution, witnesses []witness.Witness) error {
	completedJSON, err := marshalStrings(exec.Completed, "completed")
	if err != nil {
		return fmt.Errorf("replace plan: %w", err)
	}
	planJSON, err := marshalJSON(exec.Plan, "plan")
	if err != nil {
		return fmt.Errorf("replace plan: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE executions
			SET plan = ?, template_digest = ?, module_cursor = ?, completed = ?, updated_seq = ?
			WHERE id = ?
		`, planJSON, exec.TemplateDigest, exec.ModuleCursor, completedJSON, exec.UpdatedSeq, exec.ID); err != nil {
			return fmt.Errorf("replace plan: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM witnesses WHERE execution_id = ?
		`, exec.ID); err != nil {
			return fmt.Errorf("replace plan witnesses: %w", err)
		}
		for _, w := range witnesses {
			if err := insertWitness(ctx, tx, exec.ID, w); err != nil {
				return err
			}
		}

		return appendEvent(ctx, tx, Event{
			Seq:            exec.UpdatedSeq,
			Kind:           EventPlanReplaced,
			GoalInstanceID: exec.GoalInstanceID,
			Payload: map[string]string{
				"execution_id":    exec.ID,
				"template_digest": exec.TemplateDigest,
			},
		})
	})
}

// isUniqueViolation reports whether err is a SQLite uniqueness failure.
// String matching keeps us off sqlite3-specific error types in the few
// places idempotent INSERT cannot express the intent.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

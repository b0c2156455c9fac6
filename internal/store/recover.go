package store

import (
	"context"
	"errors"
	"fmt"
)

// RecoverExecution rebuilds the full picture of one execution from storage
// alone: the record, its binding and aliases, witnesses, station table, op
// ledger, and any hold and completion state. This is the resume path's
// single read; everything a restart needs comes from here.
func (s *Store) RecoverExecution(ctx context.Context, executionID string) (Record, error) {
	var rec Record

	exec, err := s.GetExecution(ctx, executionID)
	if err != nil {
		return rec, fmt.Errorf("recover %s: %w", executionID, err)
	}
	rec.Execution = exec

	rec.Binding, err = s.GetBinding(ctx, exec.GoalInstanceID)
	if err != nil {
		return rec, fmt.Errorf("recover %s binding: %w", executionID, err)
	}

	rec.Witnesses, err = s.ListWitnesses(ctx, executionID)
	if err != nil {
		return rec, fmt.Errorf("recover %s witnesses: %w", executionID, err)
	}

	rec.Stations, err = s.ListStations(ctx, executionID)
	if err != nil {
		return rec, fmt.Errorf("recover %s stations: %w", executionID, err)
	}

	rec.Ledger, err = s.ListLedger(ctx, executionID)
	if err != nil {
		return rec, fmt.Errorf("recover %s ledger: %w", executionID, err)
	}

	hold, err := s.GetHold(ctx, executionID)
	switch {
	case err == nil:
		rec.Hold = &hold
	case errors.Is(err, ErrNotFound):
	default:
		return rec, fmt.Errorf("recover %s hold: %w", executionID, err)
	}

	cs, err := s.GetCompletionState(ctx, executionID)
	switch {
	case err == nil:
		rec.Completion = &cs
	case errors.Is(err, ErrNotFound):
	default:
		return rec, fmt.Errorf("recover %s completion: %w", executionID, err)
	}

	return rec, nil
}

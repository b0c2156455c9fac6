package store

import (
	"context"
	"fmt"
)

// MarkOpStarted records that an op was issued. Idempotent: re-marking a
// started or already-confirmed op is a no-op, so replaying a crashed write
// sequence converges.
//
// The started-without-confirmed window is exactly the crash exposure the
// resume planner reconciles.
func (s *Store) MarkOpStarted(ctx context.Context, e LedgerEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO op_ledger (execution_id, module_id, op_id, op_index, state, seq)
		VALUES (?, ?, ?, ?, 'started', ?)
		ON CONFLICT(execution_id, op_id) DO NOTHING
	`, e.ExecutionID, e.ModuleID, e.OpID, e.OpIndex, e.Seq)
	if err != nil {
		return fmt.Errorf("mark op started: %w", err)
	}
	return nil
}

// MarkOpConfirmed records that an op's effect was confirmed realized.
// Idempotent, and valid even without a prior started mark (reconciliation
// may confirm ops directly from observed world state).
func (s *Store) MarkOpConfirmed(ctx context.Context, e LedgerEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO op_ledger (execution_id, module_id, op_id, op_index, state, seq)
		VALUES (?, ?, ?, ?, 'confirmed', ?)
		ON CONFLICT(execution_id, op_id) DO UPDATE SET state = 'confirmed', seq = excluded.seq
		WHERE op_ledger.state != 'confirmed'
	`, e.ExecutionID, e.ModuleID, e.OpID, e.OpIndex, e.Seq)
	if err != nil {
		return fmt.Errorf("mark op confirmed: %w", err)
	}
	return nil
}

// ListLedger returns the execution's ledger entries in deterministic order.
func (s *Store) ListLedger(ctx context.Context, execID string) ([]LedgerEntry, error) {
	return s.listLedger(ctx, `
		SELECT execution_id, module_id, op_id, op_index, state, seq
		FROM op_ledger WHERE execution_id = ?
		ORDER BY seq ASC, op_id COLLATE BINARY ASC
	`, execID)
}

// ListModuleLedger returns ledger entries for one module of an execution.
func (s *Store) ListModuleLedger(ctx context.Context, execID, moduleID string) ([]LedgerEntry, error) {
	return s.listLedger(ctx, `
		SELECT execution_id, module_id, op_id, op_index, state, seq
		FROM op_ledger WHERE execution_id = ? AND module_id = ?
		ORDER BY op_index ASC, op_id COLLATE BINARY ASC
	`, execID, moduleID)
}

// ListUnconfirmed returns every op marked started but never confirmed -
// the in-flight set reconciled first on every resume.
func (s *Store) ListUnconfirmed(ctx context.Context, execID string) ([]LedgerEntry, error) {
	return s.listLedger(ctx, `
		SELECT execution_id, module_id, op_id, op_index, state, seq
		FROM op_ledger WHERE execution_id = ? AND state = 'started'
		ORDER BY seq ASC, op_id COLLATE BINARY ASC
	`, execID)
}

func (s *Store) listLedger(ctx context.Context, query string, args ...any) ([]LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var state string
		if err := rows.Scan(&e.ExecutionID, &e.ModuleID, &e.OpID, &e.OpIndex, &state, &e.Seq); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.State = OpState(state)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger: %w", err)
	}
	if entries == nil {
		entries = []LedgerEntry{}
	}
	return entries, nil
}

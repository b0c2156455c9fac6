package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/mason/internal/station"
	"github.com/roach88/mason/internal/world"
)

// UpsertStations replaces the recorded station table for an execution with
// the entries from the latest validation pass. Position is part of the key,
// so a station that moved shows up as a new row and the stale one is dropped
// by the delete.
func (s *Store) UpsertStations(ctx context.Context, executionID string, entries []station.Entry) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM stations WHERE execution_id = ?
		`, executionID); err != nil {
			return fmt.Errorf("clear stations: %w", err)
		}
		for _, e := range entries {
			reachable := 0
			if e.Reachable {
				reachable = 1
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO stations
				(execution_id, kind, x, y, z, reachable, last_verified_seq, provenance)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, executionID, string(e.Kind), e.Pos.X, e.Pos.Y, e.Pos.Z,
				reachable, e.LastVerifiedSeq, string(e.Provenance)); err != nil {
				return fmt.Errorf("insert station %s: %w", e.Kind, err)
			}
		}
		return nil
	})
}

// ListStations returns the recorded stations for one execution, ordered by
// kind then position.
func (s *Store) ListStations(ctx context.Context, executionID string) ([]station.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, x, y, z, reachable, last_verified_seq, provenance
		FROM stations WHERE execution_id = ?
		ORDER BY kind COLLATE BINARY ASC, x ASC, y ASC, z ASC
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("query stations: %w", err)
	}
	defer rows.Close()

	var entries []station.Entry
	for rows.Next() {
		var e station.Entry
		var kind, provenance string
		var reachable int
		var pos world.Pos
		if err := rows.Scan(&kind, &pos.X, &pos.Y, &pos.Z, &reachable, &e.LastVerifiedSeq, &provenance); err != nil {
			return nil, fmt.Errorf("scan station: %w", err)
		}
		e.Kind = station.Kind(kind)
		e.Pos = pos
		e.Reachable = reachable != 0
		e.Provenance = station.Provenance(provenance)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

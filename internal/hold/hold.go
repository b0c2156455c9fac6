// Package hold implements the bounded-interruption protocol: when an
// execution must stop, it stops at a module boundary if one is reachable
// within a small budget, and otherwise writes an emergency hold. A hold
// row is always written; an interruption that persists nothing is the one
// unacceptable outcome.
package hold

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/mason/internal/store"
)

const (
	// SafeStopMaxOps bounds how many further ops a safe stop may run to
	// reach the module boundary.
	SafeStopMaxOps = 8
	// SafeStopDeadline bounds how long a safe stop may take overall.
	SafeStopDeadline = 10 * time.Second
	// initialReview is how soon the reactor first reconsiders a new hold.
	initialReview = time.Minute
)

// BoundaryFunc attempts to finish the current module within the given op
// budget and take its checkpoint. Implementations must respect ctx: the
// protocol cancels it at the deadline.
type BoundaryFunc func(ctx context.Context, opBudget int) (store.Checkpoint, error)

// Protocol executes safe stops against one store.
type Protocol struct {
	store *store.Store
	now   func() time.Time
}

// NewProtocol creates a hold protocol. now is replaceable for tests.
func NewProtocol(s *store.Store, now func() time.Time) *Protocol {
	if now == nil {
		now = time.Now
	}
	return &Protocol{store: s, now: now}
}

// SafeStop stops an execution for the given reason.
//
// It first tries finish under the op and time budget. Reaching the
// boundary yields a verified hold pointing at the fresh checkpoint.
// Failing that, it writes an emergency hold from whatever the ledger
// already knows, marked unverified so resume re-verifies the cursor module
// before trusting it.
func (p *Protocol) SafeStop(ctx context.Context, execRec store.Execution, reason store.HoldReason, hints []string, seq int64, finish BoundaryFunc) (store.Hold, error) {
	h := store.Hold{
		ExecutionID:    execRec.ID,
		Reason:         reason,
		HeldAtSeq:      seq,
		ResumeHints:    hints,
		NextReviewUnix: p.now().Add(initialReview).Unix(),
	}

	if finish != nil {
		stopCtx, cancel := context.WithTimeout(ctx, SafeStopDeadline)
		cp, err := finish(stopCtx, SafeStopMaxOps)
		cancel()
		if err == nil {
			h.Witness = p.emergencyWitness(ctx, execRec)
			h.Witness.ModuleCursor = cp.ModuleCursor
			h.Witness.Verified = true
			if err := p.store.ApplyHold(ctx, h); err != nil {
				return store.Hold{}, err
			}
			slog.Info("safe stop at boundary",
				"execution_id", execRec.ID,
				"reason", reason,
				"module_cursor", cp.ModuleCursor)
			return h, nil
		}
		slog.Warn("safe stop missed boundary, writing emergency hold",
			"execution_id", execRec.ID,
			"reason", reason,
			"error", err)
	}

	h.Witness = p.emergencyWitness(ctx, execRec)
	if err := p.store.ApplyHold(ctx, h); err != nil {
		return store.Hold{}, err
	}
	return h, nil
}

// emergencyWitness captures the minimum state an unverified hold carries:
// the cursor as last persisted and the most recent op the ledger saw.
// Best effort by construction; an empty witness is still a valid hold.
func (p *Protocol) emergencyWitness(ctx context.Context, execRec store.Execution) store.HoldWitness {
	w := store.HoldWitness{
		ModuleCursor: execRec.ModuleCursor,
		Verified:     false,
	}
	ledger, err := p.store.ListLedger(ctx, execRec.ID)
	if err != nil || len(ledger) == 0 {
		return w
	}
	last := ledger[0]
	for _, entry := range ledger[1:] {
		if entry.Seq > last.Seq {
			last = entry
		}
	}
	w.LastOpID = last.OpID
	return w
}

// Release clears a hold explicitly. This is the only path that clears a
// manual pause.
func (p *Protocol) Release(ctx context.Context, executionID string, seq int64) error {
	return p.store.ReleaseHold(ctx, executionID, seq)
}

// Package react reactivates held executions. Activation is event-driven
// with a periodic backstop over each hold's next review time, and every
// path is budget-bounded so reactivation storms cannot happen.
package react

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/mason/internal/exec"
	"github.com/roach88/mason/internal/store"
)

// EventKind names an external condition change the reactor listens for.
type EventKind string

const (
	EventMaterialAcquired EventKind = "material-acquired"
	EventThreatResolved   EventKind = "threat-resolved"
	EventDriftDetected    EventKind = "drift-detected"
)

// reasonFor maps an intake event to the hold reason it can clear. Manual
// pauses map to nothing; no event clears them.
func reasonFor(kind EventKind) (store.HoldReason, bool) {
	switch kind {
	case EventMaterialAcquired:
		return store.ReasonMissingMaterials, true
	case EventThreatResolved:
		return store.ReasonThreat, true
	case EventDriftDetected:
		return store.ReasonDriftDetected, true
	default:
		return "", false
	}
}

type rungKey struct {
	goalInstanceID string
	reason         store.HoldReason
}

// Reactor clears holds when their blocking condition plausibly resolved.
// Clearing a hold sets the execution active; actually resuming work is the
// caller's loop. Safe for concurrent use.
type Reactor struct {
	store *store.Store
	cfg   Config
	clock *exec.Clock
	now   func() time.Time

	mu     sync.Mutex
	rungs  map[rungKey]int
	recent []time.Time
}

// NewReactor creates a reactor. now is replaceable for tests.
func NewReactor(s *store.Store, cfg Config, clock *exec.Clock, now func() time.Time) *Reactor {
	if now == nil {
		now = time.Now
	}
	return &Reactor{
		store: s,
		cfg:   cfg,
		clock: clock,
		now:   now,
		rungs: make(map[rungKey]int),
	}
}

// HandleEvent reactivates every held execution whose hold reason matches
// the event, up to the per-minute budget. Returns how many reactivated.
func (r *Reactor) HandleEvent(ctx context.Context, kind EventKind) (int, error) {
	reason, ok := reasonFor(kind)
	if !ok {
		return 0, fmt.Errorf("unknown reactivation event %q", kind)
	}

	held, err := r.store.ListHeld(ctx)
	if err != nil {
		return 0, err
	}

	reactivated := 0
	for _, h := range held {
		if h.Reason != reason {
			continue
		}
		cleared, err := r.tryReactivate(ctx, h)
		if err != nil {
			return reactivated, err
		}
		if !cleared {
			break
		}
		reactivated++
	}
	slog.Info("reactivation event handled",
		"event", kind, "reason", reason, "reactivated", reactivated)
	return reactivated, nil
}

// Tick is the periodic backstop. It examines due holds, oldest review
// first, reactivates within budget, and pushes the review time of anything
// it could not clear up the backoff ladder.
func (r *Reactor) Tick(ctx context.Context) (int, error) {
	held, err := r.store.ListHeld(ctx)
	if err != nil {
		return 0, err
	}
	nowUnix := r.now().Unix()

	reactivated := 0
	considered := 0
	for _, h := range held {
		if considered >= r.cfg.MaxConsideredPerTick {
			break
		}
		if h.NextReviewUnix > nowUnix {
			// ListHeld orders by review time, nothing later is due.
			break
		}
		considered++

		cleared, err := r.tryReactivate(ctx, h)
		if errors.Is(err, store.ErrManualHold) {
			// Only an explicit release moves a manual pause.
			continue
		}
		if err != nil {
			return reactivated, err
		}
		if cleared {
			reactivated++
			continue
		}
		if err := r.escalate(ctx, h); err != nil {
			return reactivated, err
		}
	}
	return reactivated, nil
}

// tryReactivate clears one hold if the per-minute budget allows. Returns
// false without error when the budget is spent; the store's ErrManualHold
// passes through for holds it refuses to clear.
func (r *Reactor) tryReactivate(ctx context.Context, h store.Hold) (bool, error) {
	now := r.now()

	r.mu.Lock()
	r.pruneRecent(now)
	if len(r.recent) >= r.cfg.MaxReactivationsPerMinute {
		r.mu.Unlock()
		return false, nil
	}
	r.recent = append(r.recent, now)
	r.mu.Unlock()

	if err := r.store.ClearHold(ctx, h.ExecutionID, r.clock.Next()); err != nil {
		r.mu.Lock()
		r.recent = r.recent[:len(r.recent)-1]
		r.mu.Unlock()
		if errors.Is(err, store.ErrManualHold) {
			return false, err
		}
		return false, fmt.Errorf("reactivate %s: %w", h.ExecutionID, err)
	}

	e, err := r.store.GetExecution(ctx, h.ExecutionID)
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	delete(r.rungs, rungKey{e.GoalInstanceID, h.Reason})
	r.mu.Unlock()

	slog.Info("execution reactivated",
		"execution_id", h.ExecutionID,
		"goal_instance_id", e.GoalInstanceID,
		"reason", h.Reason)
	return true, nil
}

// escalate pushes a hold's review time one rung. A hold already at the
// top of the ladder emits goal-activation-exhausted and stays at the cap.
func (r *Reactor) escalate(ctx context.Context, h store.Hold) error {
	e, err := r.store.GetExecution(ctx, h.ExecutionID)
	if err != nil {
		return err
	}
	key := rungKey{e.GoalInstanceID, h.Reason}

	r.mu.Lock()
	rung := r.rungs[key]
	atCap := rung >= len(r.cfg.Backoff)-1
	if !atCap {
		rung++
	}
	r.mu.Unlock()

	next := r.now().Add(time.Duration(r.cfg.Backoff[rung])).Unix()
	if err := r.store.UpdateHoldReview(ctx, h.ExecutionID, next); err != nil {
		if errors.Is(err, store.ErrManualHold) {
			return nil
		}
		return err
	}

	r.mu.Lock()
	r.rungs[key] = rung
	r.mu.Unlock()

	if atCap {
		ev := store.Event{
			Seq:            r.clock.Next(),
			Kind:           store.EventActivationExhausted,
			GoalInstanceID: e.GoalInstanceID,
			Payload: map[string]string{
				"execution_id": h.ExecutionID,
				"reason":       string(h.Reason),
			},
		}
		if err := r.store.AppendEvent(ctx, ev); err != nil {
			return err
		}
		slog.Warn("activation ladder exhausted",
			"goal_instance_id", e.GoalInstanceID, "reason", h.Reason)
	}
	return nil
}

func (r *Reactor) pruneRecent(now time.Time) {
	cutoff := now.Add(-time.Minute)
	kept := r.recent[:0]
	for _, t := range r.recent {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.recent = kept
}

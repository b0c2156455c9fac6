package react

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/mason/internal/exec"
	"github.com/roach88/mason/internal/store"
	"github.com/roach88/mason/internal/testutil"
)

func fixedNow() time.Time { return time.Unix(1_700_000_000, 0) }

type fixture struct {
	store *store.Store
	clock *exec.Clock
}

func setup(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "mason.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return &fixture{store: s, clock: exec.NewClockAt(100)}
}

func (f *fixture) reactor(t *testing.T, cfg Config) *Reactor {
	t.Helper()
	return NewReactor(f.store, cfg, f.clock, fixedNow)
}

// held creates execution exec-N with a hold of the given reason, due at
// reviewUnix.
func (f *fixture) held(t *testing.T, n int, reason store.HoldReason, reviewUnix int64) store.Execution {
	t.Helper()
	macro := testutil.Chain(2, 2)
	e := store.Execution{
		ID:             fmt.Sprintf("exec-%d", n),
		GoalInstanceID: fmt.Sprintf("goal-%d", n),
		Status:         store.StatusActive,
		Completed:      []string{},
		TemplateDigest: macro.TemplateDigest,
		Site:           testutil.DefaultSite(),
		Plan:           macro,
		CreatedSeq:     int64(n),
		UpdatedSeq:     int64(n),
	}
	b := store.Binding{
		GoalInstanceID: e.GoalInstanceID,
		ExecutionID:    e.ID,
		GoalType:       "build_shelter",
		Key:            fmt.Sprintf("key-%d", n),
		Phase:          store.PhaseA,
		CreatedSeq:     int64(n),
	}
	ctx := context.Background()
	require.NoError(t, f.store.CreateExecution(ctx, e, b, nil))
	require.NoError(t, f.store.ApplyHold(ctx, store.Hold{
		ExecutionID:    e.ID,
		Reason:         reason,
		HeldAtSeq:      f.clock.Next(),
		NextReviewUnix: reviewUnix,
	}))
	return e
}

func (f *fixture) status(t *testing.T, execID string) store.Status {
	t.Helper()
	e, err := f.store.GetExecution(context.Background(), execID)
	require.NoError(t, err)
	return e.Status
}

func TestHandleEvent_ClearsMatchingReasonOnly(t *testing.T) {
	f := setup(t)
	r := f.reactor(t, DefaultConfig())
	due := fixedNow().Unix()
	blocked := f.held(t, 1, store.ReasonMissingMaterials, due)
	threatened := f.held(t, 2, store.ReasonThreat, due)

	n, err := r.HandleEvent(context.Background(), EventMaterialAcquired)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.Equal(t, store.StatusActive, f.status(t, blocked.ID))
	require.Equal(t, store.StatusPaused, f.status(t, threatened.ID))
}

func TestHandleEvent_UnknownKind(t *testing.T) {
	f := setup(t)
	r := f.reactor(t, DefaultConfig())

	_, err := r.HandleEvent(context.Background(), EventKind("moon-phase"))
	require.Error(t, err)
}

func TestHandleEvent_NeverClearsManualPause(t *testing.T) {
	f := setup(t)
	r := f.reactor(t, DefaultConfig())
	paused := f.held(t, 1, store.ReasonManualPause, fixedNow().Unix())

	for _, kind := range []EventKind{EventMaterialAcquired, EventThreatResolved, EventDriftDetected} {
		n, err := r.HandleEvent(context.Background(), kind)
		require.NoError(t, err)
		require.Zero(t, n)
	}
	require.Equal(t, store.StatusPaused, f.status(t, paused.ID))
}

func TestTick_ReactivatesDueHoldsOnly(t *testing.T) {
	f := setup(t)
	r := f.reactor(t, DefaultConfig())
	due := f.held(t, 1, store.ReasonPreempted, fixedNow().Unix()-10)
	future := f.held(t, 2, store.ReasonPreempted, fixedNow().Unix()+3600)

	n, err := r.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.Equal(t, store.StatusActive, f.status(t, due.ID))
	require.Equal(t, store.StatusPaused, f.status(t, future.ID))
}

func TestTick_ManualPauseIsHardWall(t *testing.T) {
	f := setup(t)
	r := f.reactor(t, DefaultConfig())
	review := fixedNow().Unix() - 10
	paused := f.held(t, 1, store.ReasonManualPause, review)

	n, err := r.Tick(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)

	// Skipped entirely, not even deferred.
	h, err := f.store.GetHold(context.Background(), paused.ID)
	require.NoError(t, err)
	require.Equal(t, review, h.NextReviewUnix)
	require.Equal(t, store.StatusPaused, f.status(t, paused.ID))
}

func TestTick_PerTickBudget(t *testing.T) {
	f := setup(t)
	cfg := DefaultConfig()
	cfg.MaxConsideredPerTick = 1
	r := f.reactor(t, cfg)
	f.held(t, 1, store.ReasonPreempted, fixedNow().Unix()-20)
	f.held(t, 2, store.ReasonPreempted, fixedNow().Unix()-10)

	n, err := r.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestTick_PerMinuteBudgetEscalatesOverflow(t *testing.T) {
	f := setup(t)
	cfg := DefaultConfig()
	cfg.MaxReactivationsPerMinute = 1
	r := f.reactor(t, cfg)
	first := f.held(t, 1, store.ReasonPreempted, fixedNow().Unix()-20)
	second := f.held(t, 2, store.ReasonPreempted, fixedNow().Unix()-10)

	n, err := r.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, store.StatusActive, f.status(t, first.ID))

	// The overflow hold moved one rung up the ladder.
	h, err := f.store.GetHold(context.Background(), second.ID)
	require.NoError(t, err)
	want := fixedNow().Add(time.Duration(cfg.Backoff[1])).Unix()
	require.Equal(t, want, h.NextReviewUnix)
}

func TestTick_ExhaustedLadderEmitsEvent(t *testing.T) {
	f := setup(t)
	cfg := DefaultConfig()
	cfg.MaxReactivationsPerMinute = 1
	cfg.Backoff = []Duration{Duration(time.Minute)}
	r := f.reactor(t, cfg)
	f.held(t, 1, store.ReasonPreempted, fixedNow().Unix()-20)
	capped := f.held(t, 2, store.ReasonMissingMaterials, fixedNow().Unix()-10)

	_, err := r.Tick(context.Background())
	require.NoError(t, err)

	events, err := f.store.ListEvents(context.Background(), capped.GoalInstanceID)
	require.NoError(t, err)
	var kinds []string
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	require.Contains(t, kinds, store.EventActivationExhausted)
}

func TestTick_BackoffClimbsAndResetsAfterReactivation(t *testing.T) {
	f := setup(t)
	cfg := DefaultConfig()
	cfg.MaxReactivationsPerMinute = 1
	cur := fixedNow()
	r := NewReactor(f.store, cfg, f.clock, func() time.Time { return cur })
	ctx := context.Background()
	winner := f.held(t, 1, store.ReasonMissingMaterials, cur.Unix()-20)
	loser := f.held(t, 2, store.ReasonMissingMaterials, cur.Unix()-10)

	// Tick one: winner takes the budget, loser climbs to rung 1.
	_, err := r.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, store.StatusActive, f.status(t, winner.ID))

	// Re-hold the winner and make the loser due again, past the budget
	// window. Tick two: the winner takes the budget again, the loser
	// climbs to rung 2.
	require.NoError(t, f.store.ApplyHold(ctx, store.Hold{
		ExecutionID:    winner.ID,
		Reason:         store.ReasonMissingMaterials,
		HeldAtSeq:      f.clock.Next(),
		NextReviewUnix: cur.Unix() - 30,
	}))
	require.NoError(t, f.store.UpdateHoldReview(ctx, loser.ID, cur.Unix()-5))
	cur = cur.Add(2 * time.Minute)
	_, err = r.Tick(ctx)
	require.NoError(t, err)

	h, err := f.store.GetHold(ctx, loser.ID)
	require.NoError(t, err)
	require.Equal(t, cur.Add(time.Duration(cfg.Backoff[2])).Unix(), h.NextReviewUnix)

	// Reactivating the loser resets its ladder.
	cur = cur.Add(2 * time.Minute)
	n, err := r.HandleEvent(ctx, EventMaterialAcquired)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reactor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"max_considered_per_tick: 8\nbackoff: [\"30s\", \"2m\"]\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 8, cfg.MaxConsideredPerTick)
	// Unset fields keep defaults.
	require.Equal(t, DefaultConfig().MaxReactivationsPerMinute, cfg.MaxReactivationsPerMinute)
	require.Equal(t, []Duration{Duration(30 * time.Second), Duration(2 * time.Minute)}, cfg.Backoff)
}

func TestLoadConfig_RejectsUnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reactor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_considered: 8\n"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfig_RejectsDecreasingLadder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reactor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backoff: [\"5m\", \"1m\"]\n"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
}

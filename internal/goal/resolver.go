package goal

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/mason/internal/exec"
	"github.com/roach88/mason/internal/ir"
	"github.com/roach88/mason/internal/store"
	"github.com/roach88/mason/internal/witness"
	"github.com/roach88/mason/internal/world"
)

// Kind is the resolver's verdict for one intent.
type Kind string

const (
	// KindContinue means a live execution already serves this intent.
	KindContinue Kind = "continue"
	// KindAlreadySatisfied means a completed execution satisfies the intent.
	KindAlreadySatisfied Kind = "already_satisfied"
	// KindReactivated means a held execution matched; the caller asks the
	// reactor to review it rather than building anew.
	KindReactivated Kind = "reactivated"
	// KindCreated means a new execution was created for the intent.
	KindCreated Kind = "created"
)

// Intent is one incoming goal request before identity resolution.
type Intent struct {
	GoalType string
	Params   ir.Object
	// Requester is where the intent was issued from; it feeds the Phase A
	// cell and the fuzzy proximity score.
	Requester world.Pos
	// TemplateDigest is set for template-following goal types.
	TemplateDigest string
}

// Resolution is the resolver's answer: which goal instance serves the
// intent and how it got there.
type Resolution struct {
	Kind           Kind
	GoalInstanceID string
	ExecutionID    string
	Key            string
}

// Scoring constants, in thousandths to keep floats out of the model.
// A candidate qualifies at scoreThreshold or better.
const (
	scoreAnchorMatch = 1000
	scoreDecayRadius = 48
	scoreMaxProgress = 150
	scoreMaxRecency  = 100
	scoreThreshold   = 550
	resolverStripes  = 64
)

// BuildFunc materializes a fresh execution for an intent that matched
// nothing: compile the plan, choose the site, generate witnesses. Called
// only when the resolver decides to create, under the intent's key lock.
type BuildFunc func(ctx context.Context, goalInstanceID, key string) (store.Execution, store.Binding, []witness.Witness, error)

// CompletionCheck re-verifies a completed execution before it satisfies a
// new intent. Implementations return whether the build still verifies; a
// failing check is expected to reopen the execution so the resolver can
// hand back live work instead of a stale completion.
type CompletionCheck func(ctx context.Context, executionID string) (bool, error)

// Resolver collapses duplicate intents onto existing executions.
//
// Resolution for one key is serialized by a striped mutex; the partial
// unique index on live bindings backs the same invariant at the storage
// level, so two writers racing from different processes still converge:
// one creates, the other observes the winner.
type Resolver struct {
	store *store.Store
	gen   exec.Generator
	check CompletionCheck
	locks [resolverStripes]sync.Mutex
}

// NewResolver creates a resolver over one store. A nil check trusts the
// stored completion status as-is; callers with access to a verifier should
// pass one so regressed builds get repaired instead of reported done.
func NewResolver(s *store.Store, gen exec.Generator, check CompletionCheck) *Resolver {
	return &Resolver{store: s, gen: gen, check: check}
}

// Resolve maps an intent to a goal instance: exact Phase A key or alias
// match first, fuzzy same-type proximity second, creation last. After every
// resolution at most one non-terminal execution exists for the intent's
// key or any of its aliases.
func (r *Resolver) Resolve(ctx context.Context, intent Intent, build BuildFunc) (Resolution, error) {
	key, err := KeyA(intent.GoalType, intent.Params, intent.Requester)
	if err != nil {
		return Resolution{}, fmt.Errorf("resolve: %w", err)
	}

	lock := &r.locks[stripe(intent.GoalType, key)]
	lock.Lock()
	defer lock.Unlock()

	if res, ok, err := r.resolveExisting(ctx, intent, key); err != nil {
		return Resolution{}, err
	} else if ok {
		return res, nil
	}

	goalInstanceID := r.gen.Generate()
	execRec, binding, witnesses, err := build(ctx, goalInstanceID, key)
	if err != nil {
		return Resolution{}, fmt.Errorf("materialize goal %s: %w", goalInstanceID, err)
	}
	if err := r.store.CreateExecution(ctx, execRec, binding, witnesses); err != nil {
		if errors.Is(err, store.ErrKeyConflict) {
			// Another writer won the key between our search and create.
			// Observe the winner instead of retrying the insert.
			if res, ok, err2 := r.resolveExisting(ctx, intent, key); err2 == nil && ok {
				return res, nil
			}
			return Resolution{}, err
		}
		return Resolution{}, err
	}

	slog.Info("goal created",
		"goal_instance_id", goalInstanceID,
		"goal_type", intent.GoalType,
		"execution_id", execRec.ID)
	return Resolution{
		Kind:           KindCreated,
		GoalInstanceID: goalInstanceID,
		ExecutionID:    execRec.ID,
		Key:            key,
	}, nil
}

// Promote performs the A to B identity transition once a site is committed:
// compute the anchored key and push the provisional key onto the alias
// list in one transaction.
func (r *Resolver) Promote(ctx context.Context, b store.Binding, anchor world.Pos, templateDigest string, seq int64) (string, error) {
	newKey, err := KeyB(b.GoalType, anchor, templateDigest)
	if err != nil {
		return "", fmt.Errorf("promote %s: %w", b.GoalInstanceID, err)
	}
	b.Anchor = &anchor
	if err := r.store.PromoteGoalKey(ctx, b.GoalInstanceID, newKey, b, seq); err != nil {
		return "", err
	}
	return newKey, nil
}

func (r *Resolver) resolveExisting(ctx context.Context, intent Intent, key string) (Resolution, bool, error) {
	exact, err := r.store.FindBindingsByKey(ctx, intent.GoalType, key)
	if err != nil {
		return Resolution{}, false, err
	}
	if res, ok, err := r.pick(ctx, exact); err != nil || ok {
		return res, ok, err
	}

	candidates, err := r.store.ListBindingsByType(ctx, intent.GoalType)
	if err != nil {
		return Resolution{}, false, err
	}
	scored, err := r.scoreCandidates(ctx, intent, candidates)
	if err != nil {
		return Resolution{}, false, err
	}
	return r.pick(ctx, scored)
}

// pick maps an ordered candidate list to a resolution: first live binding
// wins; failing that, the newest completed one satisfies the intent.
func (r *Resolver) pick(ctx context.Context, bindings []store.Binding) (Resolution, bool, error) {
	var completed *store.Binding
	for i := range bindings {
		b := bindings[i]
		execRec, err := r.store.GetExecutionByGoal(ctx, b.GoalInstanceID)
		if err != nil {
			return Resolution{}, false, err
		}
		switch execRec.Status {
		case store.StatusActive:
			return Resolution{Kind: KindContinue, GoalInstanceID: b.GoalInstanceID, ExecutionID: b.ExecutionID, Key: b.Key}, true, nil
		case store.StatusPaused:
			return Resolution{Kind: KindReactivated, GoalInstanceID: b.GoalInstanceID, ExecutionID: b.ExecutionID, Key: b.Key}, true, nil
		case store.StatusCompleted:
			if completed == nil {
				completed = &bindings[i]
			}
		case store.StatusAbandoned:
			// An abandoned site never satisfies a new intent.
		}
	}
	if completed != nil {
		if r.check != nil {
			ok, err := r.check(ctx, completed.ExecutionID)
			if err != nil {
				return Resolution{}, false, fmt.Errorf("recheck completed %s: %w", completed.ExecutionID, err)
			}
			if !ok {
				// The world regressed under the completion. The check has
				// reopened the execution, so hand back live work.
				return Resolution{Kind: KindReactivated, GoalInstanceID: completed.GoalInstanceID, ExecutionID: completed.ExecutionID, Key: completed.Key}, true, nil
			}
		}
		return Resolution{Kind: KindAlreadySatisfied, GoalInstanceID: completed.GoalInstanceID, ExecutionID: completed.ExecutionID, Key: completed.Key}, true, nil
	}
	return Resolution{}, false, nil
}

// scoreCandidates ranks same-type bindings by anchored proximity, progress,
// and recency, and returns the qualifiers in descending score order.
func (r *Resolver) scoreCandidates(ctx context.Context, intent Intent, candidates []store.Binding) ([]store.Binding, error) {
	type scored struct {
		binding store.Binding
		score   int64
		updated int64
	}
	var list []scored
	var maxUpdated int64

	for _, b := range candidates {
		if b.Anchor == nil {
			// Unanchored Phase A bindings only ever match by exact key.
			continue
		}
		execRec, err := r.store.GetExecutionByGoal(ctx, b.GoalInstanceID)
		if err != nil {
			return nil, err
		}

		base := proximityScore(*b.Anchor, intent.Requester)
		progress := progressScore(execRec)
		list = append(list, scored{binding: b, score: base + progress, updated: execRec.UpdatedSeq})
		if execRec.UpdatedSeq > maxUpdated {
			maxUpdated = execRec.UpdatedSeq
		}
	}

	var qualified []scored
	for _, s := range list {
		if s.updated == maxUpdated {
			s.score += scoreMaxRecency
		}
		if s.score >= scoreThreshold {
			qualified = append(qualified, s)
		}
	}
	sort.Slice(qualified, func(i, j int) bool {
		if qualified[i].score != qualified[j].score {
			return qualified[i].score > qualified[j].score
		}
		return qualified[i].binding.GoalInstanceID < qualified[j].binding.GoalInstanceID
	})

	out := make([]store.Binding, 0, len(qualified))
	for _, s := range qualified {
		out = append(out, s.binding)
	}
	return out, nil
}

func proximityScore(anchor, requester world.Pos) int64 {
	d := anchor.ChebyshevDistance(requester)
	if d >= scoreDecayRadius {
		return 0
	}
	return scoreAnchorMatch * (scoreDecayRadius - d) / scoreDecayRadius
}

func progressScore(execRec store.Execution) int64 {
	if execRec.Plan == nil || len(execRec.Plan.Modules) == 0 {
		return 0
	}
	return int64(len(execRec.Completed)) * scoreMaxProgress / int64(len(execRec.Plan.Modules))
}

func stripe(goalType, key string) int {
	h := fnv.New32a()
	h.Write([]byte(goalType))
	h.Write([]byte{0})
	h.Write([]byte(key))
	return int(h.Sum32() % resolverStripes)
}

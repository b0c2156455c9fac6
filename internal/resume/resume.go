// Package resume plans what to do with an execution recovered from
// storage: reconcile in-flight ops against the observed world, re-validate
// the site and stations, classify the cursor module from its witness diff,
// and emit exactly one of four decisions.
//
// The phases run in a fixed order. Reconciliation happens before any diff
// is computed so an op whose effect landed just before a crash is never
// re-issued. Classification then trusts the witness diff over the ledger:
// the world is the authority on what exists, the ledger only on what was
// attempted.
package resume

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/mason/internal/exec"
	"github.com/roach88/mason/internal/plan"
	"github.com/roach88/mason/internal/station"
	"github.com/roach88/mason/internal/store"
	"github.com/roach88/mason/internal/witness"
	"github.com/roach88/mason/internal/world"
)

// Decision is the planner's verdict for the cursor module.
type Decision string

const (
	// DecisionAdvance means the module is fully realized; checkpoint and
	// move on.
	DecisionAdvance Decision = "advance"
	// DecisionRepair means re-apply the carried repair package, then
	// re-verify.
	DecisionRepair Decision = "repair"
	// DecisionRegenerateModule means the module is damaged past repair;
	// re-execute it from its op list.
	DecisionRegenerateModule Decision = "regenerate_module"
	// DecisionReplanBuild means the site itself is unusable; escalate to a
	// full replan outside this subsystem.
	DecisionReplanBuild Decision = "replan_build"
)

// Classification names the observed state of the cursor module.
type Classification string

const (
	ClassIntact             Classification = "intact"
	ClassPartiallyCompleted Classification = "partially_completed"
	ClassDrifted            Classification = "drifted"
	ClassDestroyed          Classification = "destroyed"
	ClassSiteInvalid        Classification = "site_invalid"
)

// destroyedThreshold is the whole-percent coverage of unsatisfied expected
// placements above which a module is classified destroyed rather than
// repairable.
const destroyedThreshold = 80

// Outcome is the planner's full result. Repair is the witness diff
// re-expressed literally as plan ops; it is never re-derived from the
// template.
type Outcome struct {
	Decision        Decision       `json:"decision"`
	Classification  Classification `json:"classification"`
	ModuleID        string         `json:"module_id,omitempty"`
	Repair          []plan.Op      `json:"repair,omitempty"`
	Diff            witness.Diff   `json:"diff,omitempty"`
	Reconciled      int            `json:"reconciled"`
	MissingStations []station.Kind `json:"missing_stations,omitempty"`
}

// Planner plans resumes against one store and oracle.
type Planner struct {
	store    *store.Store
	oracle   world.Oracle
	verifier *witness.Verifier
	clock    *exec.Clock
}

// NewPlanner creates a resume planner.
func NewPlanner(s *store.Store, oracle world.Oracle, clock *exec.Clock) *Planner {
	return &Planner{
		store:    s,
		oracle:   oracle,
		verifier: witness.NewVerifier(oracle),
		clock:    clock,
	}
}

// Plan runs the resume phases over a recovered record and returns one
// decision. It mutates only the ledger (confirming reconciled ops) and the
// station table; acting on the decision is the caller's job.
//
// An unverified hold witness changes nothing here: the cursor module is
// always re-verified against the world, so an emergency hold is simply
// trusted less by construction.
func (p *Planner) Plan(ctx context.Context, rec store.Record) (Outcome, error) {
	reconciled, err := p.reconcileInFlight(ctx, rec)
	if err != nil {
		return Outcome{}, err
	}

	if err := p.validateSite(ctx, rec.Execution.Site); err != nil {
		slog.Warn("site invalid on resume",
			"execution_id", rec.Execution.ID,
			"error", err)
		return Outcome{
			Decision:       DecisionReplanBuild,
			Classification: ClassSiteInvalid,
			Reconciled:     reconciled,
		}, nil
	}

	missingStations, err := p.validateStations(ctx, rec)
	if err != nil {
		return Outcome{}, err
	}

	out, err := p.classify(ctx, rec)
	if err != nil {
		return Outcome{}, err
	}
	out.Reconciled = reconciled
	out.MissingStations = missingStations

	slog.Info("resume planned",
		"execution_id", rec.Execution.ID,
		"decision", out.Decision,
		"classification", out.Classification,
		"module_id", out.ModuleID,
		"reconciled", reconciled,
		"repair_ops", len(out.Repair))
	return out, nil
}

// reconcileInFlight re-checks every started-not-confirmed op directly
// against the oracle and confirms the ones whose effect is present.
// Idempotent: re-running after a crash mid-reconciliation converges.
func (p *Planner) reconcileInFlight(ctx context.Context, rec store.Record) (int, error) {
	confirmed := 0
	for _, entry := range rec.Ledger {
		if entry.State != store.OpStarted {
			continue
		}
		op, ok := lookupOp(rec.Execution.Plan, entry.ModuleID, entry.OpIndex)
		if !ok {
			// Repair ops and ops from a superseded plan have no op body to
			// re-check; the witness diff covers their positions anyway.
			continue
		}

		pos := rec.Execution.Site.WorldPos(op.Offset)
		actual, err := p.oracle.BlockAt(ctx, pos)
		if err != nil {
			return confirmed, fmt.Errorf("reconcile %s: %w", entry.OpID, err)
		}
		if !opRealized(op, actual) {
			continue
		}

		entry.Seq = p.clock.Next()
		if err := p.store.MarkOpConfirmed(ctx, entry); err != nil {
			return confirmed, err
		}
		confirmed++
	}
	return confirmed, nil
}

// validateSite probes the reference corner and footprint extremes. The
// probes only establish that the region is still recognizable to the
// oracle; content checks belong to witness verification.
func (p *Planner) validateSite(ctx context.Context, site world.Site) error {
	if err := site.Validate(); err != nil {
		return err
	}
	for _, probe := range []world.Pos{site.ReferenceCorner, site.Footprint.Min, site.Footprint.Max} {
		if _, err := p.oracle.BlockAt(ctx, probe); err != nil {
			return fmt.Errorf("probe %s: %w", probe, err)
		}
	}
	return nil
}

func (p *Planner) validateStations(ctx context.Context, rec store.Record) ([]station.Kind, error) {
	updated, missing, err := station.Validate(ctx, p.oracle, rec.Execution.Site, rec.Stations, p.clock.Next())
	if err != nil {
		return nil, fmt.Errorf("validate stations: %w", err)
	}
	if err := p.store.UpsertStations(ctx, rec.Execution.ID, updated); err != nil {
		return nil, err
	}
	return missing, nil
}

func (p *Planner) classify(ctx context.Context, rec store.Record) (Outcome, error) {
	mod := rec.Execution.Plan.ModuleAt(int(rec.Execution.ModuleCursor))
	if mod == nil {
		// Plan exhausted: nothing to classify, the completion verifier owns
		// the rest of the lifecycle.
		return Outcome{Decision: DecisionAdvance, Classification: ClassIntact}, nil
	}

	w, ok := rec.Witnesses[mod.ID]
	if !ok {
		return Outcome{}, fmt.Errorf("no witness for cursor module %s", mod.ID)
	}
	diff, err := p.verifier.Verify(ctx, w)
	if err != nil {
		return Outcome{}, fmt.Errorf("verify %s: %w", mod.ID, err)
	}

	out := Outcome{ModuleID: mod.ID, Diff: diff}
	switch {
	case diff.Empty():
		out.Decision = DecisionAdvance
		out.Classification = ClassIntact
	case diff.Coverage(len(w.ExpectedPlacements)) > destroyedThreshold:
		out.Decision = DecisionRegenerateModule
		out.Classification = ClassDestroyed
	case len(diff.Wrong) > 0 || len(diff.Unexpected) > 0:
		out.Decision = DecisionRepair
		out.Classification = ClassDrifted
		out.Repair = BuildRepair(rec.Execution.Site, diff)
	default:
		out.Decision = DecisionRepair
		out.Classification = ClassPartiallyCompleted
		out.Repair = BuildRepair(rec.Execution.Site, diff)
	}
	return out, nil
}

// BuildRepair re-expresses a witness diff as plan ops in site coordinates:
// removes for wrong and unexpected content first, then placements for
// everything expected but absent or wrong. Order within each group follows
// position order, so the package is deterministic for a given diff.
func BuildRepair(site world.Site, diff witness.Diff) []plan.Op {
	var ops []plan.Op

	removes := make([]world.Pos, 0, len(diff.Wrong)+len(diff.Unexpected))
	for _, pl := range diff.Wrong {
		removes = append(removes, pl.Pos)
	}
	removes = append(removes, diff.Unexpected...)
	sort.Slice(removes, func(i, j int) bool { return removes[i].Less(removes[j]) })
	for _, pos := range removes {
		ops = append(ops, plan.Op{Kind: plan.OpRemove, Offset: site.Offset(pos)})
	}

	places := make([]witness.Placement, 0, len(diff.Missing)+len(diff.Wrong))
	places = append(places, diff.Missing...)
	places = append(places, diff.Wrong...)
	sort.Slice(places, func(i, j int) bool { return places[i].Pos.Less(places[j].Pos) })
	for _, pl := range places {
		ops = append(ops, plan.Op{Kind: plan.OpPlace, Offset: site.Offset(pl.Pos), Content: pl.Content})
	}

	return ops
}

func lookupOp(macro *plan.Macro, moduleID string, index int) (plan.Op, bool) {
	if macro == nil {
		return plan.Op{}, false
	}
	mod := macro.Module(moduleID)
	if mod == nil || index < 0 || index >= len(mod.Ops) {
		return plan.Op{}, false
	}
	return mod.Ops[index], true
}

func opRealized(op plan.Op, actual world.ContentID) bool {
	if op.Kind == plan.OpRemove {
		return actual == world.Empty
	}
	return actual == op.Content
}

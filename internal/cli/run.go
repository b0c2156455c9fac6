package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/mason/internal/checkpoint"
	"github.com/roach88/mason/internal/complete"
	"github.com/roach88/mason/internal/exec"
	"github.com/roach88/mason/internal/goal"
	"github.com/roach88/mason/internal/hold"
	"github.com/roach88/mason/internal/ir"
	"github.com/roach88/mason/internal/plan"
	"github.com/roach88/mason/internal/store"
	"github.com/roach88/mason/internal/witness"
	"github.com/roach88/mason/internal/world"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Template string
	World    string
	GoalType string
	At       string
	Facing   string
}

// RunResult is the run command's output payload.
type RunResult struct {
	Resolution       goal.Kind `json:"resolution"`
	GoalInstanceID   string    `json:"goal_instance_id"`
	ExecutionID      string    `json:"execution_id"`
	ModulesCompleted int       `json:"modules_completed"`
	ModulesTotal     int       `json:"modules_total"`
	Status           string    `json:"status"`
}

func (r RunResult) String() string {
	return fmt.Sprintf("%s %s: %d/%d modules, status %s",
		r.Resolution, r.ExecutionID, r.ModulesCompleted, r.ModulesTotal, r.Status)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Compile a template, resolve its goal, and execute with checkpointing",
		Long: `Compile a CUE build template, resolve the intent to a goal instance
(collapsing onto an existing execution when one matches), and execute
module by module. A checkpoint is persisted after every verified module.

Examples:
  mason run --template watchtower.cue --world world.json --at 10,64,-3
  mason run --template watchtower.cue --world world.json --goal-type build_shelter --facing east`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Template, "template", "", "path to CUE template (required)")
	_ = cmd.MarkFlagRequired("template")
	cmd.Flags().StringVar(&opts.World, "world", "", "path to JSON world file (required)")
	_ = cmd.MarkFlagRequired("world")
	cmd.Flags().StringVar(&opts.GoalType, "goal-type", "build", "goal type for identity resolution")
	cmd.Flags().StringVar(&opts.At, "at", "0,64,0", "requester position x,y,z")
	cmd.Flags().StringVar(&opts.Facing, "facing", "north", "site facing (north|east|south|west)")

	return cmd
}

func runRun(ctx context.Context, opts *RunOptions, cmd *cobra.Command) error {
	out := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	macro, err := plan.LoadTemplateFile(opts.Template)
	if err != nil {
		return WrapExitError(ExitCommandError, "compile template", err)
	}
	requester, err := parsePos(opts.At)
	if err != nil {
		return WrapExitError(ExitCommandError, "parse --at", err)
	}
	facing := world.Facing(opts.Facing)
	if !facing.Valid() {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid facing %q", opts.Facing))
	}

	wf, err := LoadWorldFile(opts.World)
	if err != nil {
		return WrapExitError(ExitCommandError, "load world", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer st.Close()

	clock, err := seedClock(ctx, st)
	if err != nil {
		return WrapExitError(ExitCommandError, "seed clock", err)
	}

	intent := goal.Intent{
		GoalType:       opts.GoalType,
		Params:         ir.Object{"template": ir.String(macro.Name)},
		Requester:      requester,
		TemplateDigest: macro.TemplateDigest,
	}
	resolver := goal.NewResolver(st, exec.UUIDv7Generator{}, completionCheck(st, wf, clock))
	res, err := resolver.Resolve(ctx, intent, buildFunc(macro, opts.GoalType, requester, facing, clock))
	if err != nil {
		return WrapExitError(ExitFailure, "resolve goal", err)
	}
	out.Logf("resolved %s -> %s (%s)", intent.GoalType, res.GoalInstanceID, res.Kind)

	// A fresh execution commits its site immediately, so identity moves to
	// the anchored phase right away.
	if res.Kind == goal.KindCreated {
		b, err := st.GetBinding(ctx, res.GoalInstanceID)
		if err != nil {
			return WrapExitError(ExitCommandError, "load binding", err)
		}
		if _, err := resolver.Promote(ctx, b, requester, macro.TemplateDigest, clock.Next()); err != nil {
			return WrapExitError(ExitFailure, "promote goal key", err)
		}
		out.Logf("goal key promoted to anchored phase")
	}

	result := RunResult{
		Resolution:     res.Kind,
		GoalInstanceID: res.GoalInstanceID,
		ExecutionID:    res.ExecutionID,
		ModulesTotal:   len(macro.Modules),
	}
	if res.Kind == goal.KindAlreadySatisfied || res.Kind == goal.KindReactivated {
		e, err := st.GetExecution(ctx, res.ExecutionID)
		if err != nil {
			return WrapExitError(ExitCommandError, "load execution", err)
		}
		result.ModulesCompleted = len(e.Completed)
		result.Status = string(e.Status)
		return out.Success(result)
	}

	e, err := st.GetExecution(ctx, res.ExecutionID)
	if err != nil {
		return WrapExitError(ExitCommandError, "load execution", err)
	}

	controls := exec.NewControlQueue()
	stopNotify := notifyStop(controls)
	defer stopNotify()
	executor := newExecutor(st, wf, clock, controls)

	e, err = executeModules(ctx, st, executor, e, out)
	var pe *exec.PreemptedError
	if errors.As(err, &pe) {
		h, holdErr := pauseOnPreempt(ctx, st, executor, clock, e, pe)
		if holdErr != nil {
			return WrapExitError(ExitFailure, "safe stop", holdErr)
		}
		out.Logf("held (%s), verified=%t", h.Reason, h.Witness.Verified)
		err = nil
		if e, err = st.GetExecution(ctx, e.ID); err != nil {
			return WrapExitError(ExitCommandError, "load execution", err)
		}
	}
	result.ModulesCompleted = len(e.Completed)
	result.Status = string(e.Status)
	if saveErr := wf.Save(); saveErr != nil && err == nil {
		err = saveErr
	}
	if err != nil {
		printErr := out.Error(err.Error())
		if printErr != nil {
			return printErr
		}
		return WrapExitError(ExitFailure, "execution stopped", err)
	}
	return out.Success(result)
}

// newExecutor assembles an executor over the world file bridge.
func newExecutor(st *store.Store, wf *WorldFile, clock *exec.Clock, controls *exec.ControlQueue) *exec.Executor {
	return exec.NewExecutor(st, wf, witness.NewVerifier(wf),
		checkpoint.NewManager(st, wf), clock, controls)
}

// completionCheck adapts the completion verifier for goal resolution: a
// completed candidate only satisfies a new intent if it still verifies,
// and a failing check reopens it so the resolver reactivates instead.
func completionCheck(st *store.Store, wf *WorldFile, clock *exec.Clock) goal.CompletionCheck {
	verifier := complete.NewVerifier(st, wf, clock)
	return func(ctx context.Context, executionID string) (bool, error) {
		res, err := verifier.Check(ctx, executionID)
		if err != nil {
			return false, err
		}
		return res.Passed, nil
	}
}

// notifyStop translates an interrupt into a stop control so a running
// execution pauses at the next op boundary instead of dying mid-op.
func notifyStop(controls *exec.ControlQueue) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		for range ch {
			controls.Enqueue(exec.Control{Kind: exec.ControlStop, Hints: []string{"interrupted"}})
		}
	}()
	return func() {
		signal.Stop(ch)
		close(ch)
	}
}

// pauseOnPreempt turns a preemption into a hold: finish the interrupted
// module within the safe-stop budget if possible, otherwise write an
// emergency hold. The execution ends up paused either way.
func pauseOnPreempt(ctx context.Context, st *store.Store, executor *exec.Executor, clock *exec.Clock, e store.Execution, pe *exec.PreemptedError) (store.Hold, error) {
	protocol := hold.NewProtocol(st, nil)

	var finish hold.BoundaryFunc
	if mod := e.Plan.Module(pe.ModuleID); mod != nil {
		w, err := st.GetWitness(ctx, e.ID, mod.ID)
		if err != nil {
			return store.Hold{}, fmt.Errorf("witness for %s: %w", mod.ID, err)
		}
		m := *mod
		finish = func(fctx context.Context, opBudget int) (store.Checkpoint, error) {
			return executor.FinishModule(fctx, e, e.GoalInstanceID, m, w, opBudget)
		}
	}
	return protocol.SafeStop(ctx, e, pe.Reason, pe.Hints, clock.Next(), finish)
}

// executeModules runs modules from the cursor until the plan is exhausted
// or the executor stops. The refreshed execution is returned either way.
func executeModules(ctx context.Context, st *store.Store, executor *exec.Executor, e store.Execution, out *Formatter) (store.Execution, error) {
	for {
		mod := e.Plan.ModuleAt(int(e.ModuleCursor))
		if mod == nil {
			return e, nil
		}
		w, err := st.GetWitness(ctx, e.ID, mod.ID)
		if err != nil {
			return e, fmt.Errorf("witness for %s: %w", mod.ID, err)
		}
		cp, err := executor.RunModule(ctx, e, e.GoalInstanceID, *mod, w)
		if err != nil {
			var vf *exec.VerifyFailedError
			if errors.As(err, &vf) {
				return e, fmt.Errorf("module %s failed verification: %d missing, %d wrong, %d unexpected",
					vf.ModuleID, len(vf.Diff.Missing), len(vf.Diff.Wrong), len(vf.Diff.Unexpected))
			}
			return e, err
		}
		out.Logf("module %s checkpointed (cursor %d)", mod.ID, cp.ModuleCursor)

		e, err = st.GetExecution(ctx, e.ID)
		if err != nil {
			return e, err
		}
	}
}

// buildFunc materializes a new execution: site anchored at the requester,
// witnesses generated per module.
func buildFunc(macro *plan.Macro, goalType string, requester world.Pos, facing world.Facing, clock *exec.Clock) goal.BuildFunc {
	return func(ctx context.Context, goalInstanceID, key string) (store.Execution, store.Binding, []witness.Witness, error) {
		site := siteFor(macro, requester, facing)
		var witnesses []witness.Witness
		for _, mod := range macro.Modules {
			w, err := witness.Generate(mod, site)
			if err != nil {
				return store.Execution{}, store.Binding{}, nil, err
			}
			witnesses = append(witnesses, w)
		}
		seq := clock.Next()
		e := store.Execution{
			ID:             "exec-" + goalInstanceID,
			GoalInstanceID: goalInstanceID,
			Status:         store.StatusActive,
			Completed:      []string{},
			TemplateDigest: macro.TemplateDigest,
			Site:           site,
			Plan:           macro,
			CreatedSeq:     seq,
			UpdatedSeq:     seq,
		}
		b := store.Binding{
			GoalInstanceID: goalInstanceID,
			ExecutionID:    e.ID,
			GoalType:       goalType,
			Key:            key,
			Phase:          store.PhaseA,
			CreatedSeq:     seq,
		}
		return e, b, witnesses, nil
	}
}

// siteFor anchors the build at the requester and bounds the footprint to
// the rotated op offsets plus a margin.
func siteFor(macro *plan.Macro, requester world.Pos, facing world.Facing) world.Site {
	site := world.Site{
		Position:        requester,
		Facing:          facing,
		ReferenceCorner: requester,
	}
	bounds := world.Bounds{Min: requester, Max: requester}
	for _, mod := range macro.Modules {
		for _, op := range mod.Ops {
			p := site.WorldPos(op.Offset)
			bounds.Min = minPos(bounds.Min, p)
			bounds.Max = maxPos(bounds.Max, p)
		}
	}
	site.Footprint = bounds.Expand(2)
	return site
}

func minPos(a, b world.Pos) world.Pos {
	return world.Pos{X: min(a.X, b.X), Y: min(a.Y, b.Y), Z: min(a.Z, b.Z)}
}

func maxPos(a, b world.Pos) world.Pos {
	return world.Pos{X: max(a.X, b.X), Y: max(a.Y, b.Y), Z: max(a.Z, b.Z)}
}

// seedClock starts the logical clock past the highest persisted seq so new
// writes never reuse one. A crash can leave ledger marks above the last
// event seq, so the seed spans every seq-carrying table.
func seedClock(ctx context.Context, st *store.Store) (*exec.Clock, error) {
	maxSeq, err := st.MaxSeq(ctx)
	if err != nil {
		return nil, err
	}
	return exec.NewClockAt(maxSeq + 1), nil
}

func parsePos(s string) (world.Pos, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return world.Pos{}, fmt.Errorf("want x,y,z, got %q", s)
	}
	var vals [3]int64
	for i, part := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return world.Pos{}, fmt.Errorf("axis %d of %q: %w", i, s, err)
		}
		vals[i] = v
	}
	return world.Pos{X: vals[0], Y: vals[1], Z: vals[2]}, nil
}

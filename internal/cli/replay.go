package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/mason/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	// Goal filters the event log to one goal instance.
	Goal string
	// Execution additionally prints that execution's checkpoint chain.
	Execution string
}

// ReplayResult is the replay command's output payload.
type ReplayResult struct {
	Events      []store.Event      `json:"events"`
	Checkpoints []store.Checkpoint `json:"checkpoints,omitempty"`
}

func (r ReplayResult) String() string {
	var b strings.Builder
	for _, ev := range r.Events {
		fmt.Fprintf(&b, "%6d  %-28s  %s", ev.Seq, ev.Kind, ev.GoalInstanceID)
		for k, v := range ev.Payload {
			fmt.Fprintf(&b, "  %s=%s", k, v)
		}
		b.WriteByte('\n')
	}
	for _, cp := range r.Checkpoints {
		fmt.Fprintf(&b, "%6d  checkpoint cursor=%d completed=[%s] id=%s\n",
			cp.SavedAtSeq, cp.ModuleCursor, strings.Join(cp.Completed, " "), cp.ID)
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Print the lifecycle event trace",
		Long: `Print the append-only lifecycle event log in sequence order, optionally
filtered to one goal instance, with an execution's checkpoint chain.

Every event carries the immutable goal instance ID, never the mutable
goal key, so traces stay joinable across key promotion.

Examples:
  mason replay --db mason.db
  mason replay --goal 0192f3a1-... --format json
  mason replay --execution exec-0192f3a1`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Goal, "goal", "", "filter to one goal instance ID")
	cmd.Flags().StringVar(&opts.Execution, "execution", "", "also print this execution's checkpoints")

	return cmd
}

func runReplay(ctx context.Context, opts *ReplayOptions, cmd *cobra.Command) error {
	out := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer st.Close()

	events, err := st.ListEvents(ctx, opts.Goal)
	if err != nil {
		return WrapExitError(ExitCommandError, "list events", err)
	}
	result := ReplayResult{Events: events}

	if opts.Execution != "" {
		cps, err := st.ListCheckpoints(ctx, opts.Execution)
		if err != nil {
			return WrapExitError(ExitCommandError, "list checkpoints", err)
		}
		result.Checkpoints = cps
	}

	return out.Success(result)
}

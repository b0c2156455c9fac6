package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/mason/internal/react"
	"github.com/roach88/mason/internal/store"
)

// ReactOptions holds flags for the react command.
type ReactOptions struct {
	*RootOptions
	Config string
	Event  string
}

// ReactResult is the react command's output payload.
type ReactResult struct {
	Event       string `json:"event,omitempty"`
	Reactivated int    `json:"reactivated"`
}

func (r ReactResult) String() string {
	if r.Event != "" {
		return fmt.Sprintf("event %s: %d reactivated", r.Event, r.Reactivated)
	}
	return fmt.Sprintf("review tick: %d reactivated", r.Reactivated)
}

// NewReactCommand creates the react command.
func NewReactCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReactOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "react",
		Short: "Review held executions and reactivate the unblocked ones",
		Long: `Run one reactivation pass over held executions. Without --event this
is the periodic backstop: due holds are reviewed, reactivated within
budget, and unclear ones move up the backoff ladder. With --event, only
holds whose reason matches the event are considered. Manual pauses never
reactivate here; use "mason release".

Budgets come from the built-in defaults, or from a YAML file via
--config:

  max_considered_per_tick: 16
  max_reactivations_per_minute: 4
  backoff: ["1m", "5m", "15m", "60m"]

Examples:
  mason react
  mason react --event material-acquired
  mason react --config reactor.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReact(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to YAML reactor config")
	cmd.Flags().StringVar(&opts.Event, "event", "",
		"condition-change event (material-acquired|threat-resolved|drift-detected)")

	return cmd
}

func runReact(ctx context.Context, opts *ReactOptions, cmd *cobra.Command) error {
	out := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	cfg := react.DefaultConfig()
	if opts.Config != "" {
		var err error
		if cfg, err = react.LoadConfig(opts.Config); err != nil {
			return WrapExitError(ExitCommandError, "load reactor config", err)
		}
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

	reactor := react.NewReactor(st, cfg, clock, nil)
	var reactivated int
	if opts.Event != "" {
		reactivated, err = reactor.HandleEvent(ctx, react.EventKind(opts.Event))
	} else {
		reactivated, err = reactor.Tick(ctx)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "reactivate", err)
	}
	return out.Success(ReactResult{Event: opts.Event, Reactivated: reactivated})
}

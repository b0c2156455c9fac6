// Package invariant implements the fixed set of cheap, probe-based
// structural checks run at every checkpoint: access corridors clear,
// footprint respected, required capability stations reachable, and the
// module witness fully satisfied.
//
// Every check is bounded to declared positions - footprint edges, declared
// openings, witness positions - never a full scan.
package invariant

import (
	"context"
	"fmt"

	"github.com/roach88/mason/internal/station"
	"github.com/roach88/mason/internal/witness"
	"github.com/roach88/mason/internal/world"
)

// Result is one checker's outcome, persisted with every checkpoint.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Checker is one bounded structural check.
type Checker interface {
	Name() string
	Check(ctx context.Context, oracle world.Oracle) (Result, error)
}

// RunAll runs every checker in order and collects results.
// Checker errors (oracle failures) abort the run; check failures do not.
func RunAll(ctx context.Context, oracle world.Oracle, checkers []Checker) ([]Result, error) {
	results := make([]Result, 0, len(checkers))
	for _, c := range checkers {
		r, err := c.Check(ctx, oracle)
		if err != nil {
			return nil, fmt.Errorf("invariant %s: %w", c.Name(), err)
		}
		results = append(results, r)
	}
	return results, nil
}

// AccessClear probes that declared openings are unobstructed.
type AccessClear struct {
	Openings []world.Pos
}

func (AccessClear) Name() string { return "access_clear" }

func (c AccessClear) Check(ctx context.Context, oracle world.Oracle) (Result, error) {
	for _, p := range c.Openings {
		content, err := oracle.BlockAt(ctx, p)
		if err != nil {
			return Result{}, err
		}
		if content != world.Empty {
			return Result{Name: c.Name(), Passed: false,
				Detail: fmt.Sprintf("opening %s blocked by %s", p, content)}, nil
		}
	}
	return Result{Name: c.Name(), Passed: true}, nil
}

// FootprintRespected probes that tracked placements stay inside the site
// footprint. Positions are supplied by the caller (witness placements), so
// the probe count is bounded by plan size.
type FootprintRespected struct {
	Site      world.Site
	Positions []world.Pos
}

func (FootprintRespected) Name() string { return "footprint_respected" }

func (c FootprintRespected) Check(_ context.Context, _ world.Oracle) (Result, error) {
	for _, p := range c.Positions {
		if !c.Site.Footprint.Contains(p) {
			return Result{Name: c.Name(), Passed: false,
				Detail: fmt.Sprintf("position %s outside footprint", p)}, nil
		}
	}
	return Result{Name: c.Name(), Passed: true}, nil
}

// StationsReachable checks that every required station kind has a reachable
// registry entry.
type StationsReachable struct {
	Required []station.Kind
	Entries  []station.Entry
}

func (StationsReachable) Name() string { return "stations_reachable" }

func (c StationsReachable) Check(context.Context, world.Oracle) (Result, error) {
	for _, kind := range c.Required {
		if station.Resolve(c.Entries, kind) == nil {
			return Result{Name: c.Name(), Passed: false,
				Detail: fmt.Sprintf("no reachable %s station", kind)}, nil
		}
	}
	return Result{Name: c.Name(), Passed: true}, nil
}

// WitnessSatisfied verifies the module witness has an empty diff.
type WitnessSatisfied struct {
	Verifier *witness.Verifier
	Witness  witness.Witness
}

func (WitnessSatisfied) Name() string { return "witness_satisfied" }

func (c WitnessSatisfied) Check(ctx context.Context, _ world.Oracle) (Result, error) {
	diff, err := c.Verifier.Verify(ctx, c.Witness)
	if err != nil {
		return Result{}, err
	}
	if !diff.Empty() {
		return Result{Name: c.Name(), Passed: false,
			Detail: fmt.Sprintf("%d missing, %d wrong, %d unexpected",
				len(diff.Missing), len(diff.Wrong), len(diff.Unexpected))}, nil
	}
	return Result{Name: c.Name(), Passed: true}, nil
}

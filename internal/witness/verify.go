package witness

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/mason/internal/world"
)

// Diff is a bounded comparison of the world against a witness.
// It is the sole input to repair generation: repair means re-applying the
// diff literally, never re-deriving it heuristically.
type Diff struct {
	// Missing are expected placements whose position is empty.
	Missing []Placement `json:"missing,omitempty"`
	// Wrong are expected placements whose position holds the wrong content.
	Wrong []Placement `json:"wrong,omitempty"`
	// Unexpected are required-empty positions that are occupied.
	Unexpected []world.Pos `json:"unexpected,omitempty"`
}

// Empty reports whether the world fully satisfies the witness.
func (d Diff) Empty() bool {
	return len(d.Missing) == 0 && len(d.Wrong) == 0 && len(d.Unexpected) == 0
}

// Coverage returns the fraction (in parts per hundred) of expected
// placements that are missing or wrong. Integer percent keeps floats out of
// the data model; the destroyed threshold compares against whole percent.
func (d Diff) Coverage(expectedPlacements int) int64 {
	if expectedPlacements == 0 {
		return 0
	}
	unsatisfied := int64(len(d.Missing) + len(d.Wrong))
	return unsatisfied * 100 / int64(expectedPlacements)
}

// cacheSize bounds the per-pass oracle read cache. Large enough for any
// realistic module, small enough to keep memory flat.
const cacheSize = 4096

// Verifier checks witnesses against the World State Oracle.
//
// Each Verify call memoizes BlockAt reads in a fresh LRU cache so a position
// shared by the expected and required-empty sets is queried once. The cache
// never outlives a single pass: drift must be observable on the next pass.
type Verifier struct {
	oracle world.Oracle
}

// NewVerifier creates a verifier over the given oracle.
func NewVerifier(oracle world.Oracle) *Verifier {
	return &Verifier{oracle: oracle}
}

// Verify computes the diff between the world and the witness, querying ONLY
// the witness's declared positions.
func (v *Verifier) Verify(ctx context.Context, w Witness) (Diff, error) {
	cache, err := lru.New[world.Pos, world.ContentID](cacheSize)
	if err != nil {
		return Diff{}, fmt.Errorf("verify module %s: cache: %w", w.ModuleID, err)
	}

	blockAt := func(p world.Pos) (world.ContentID, error) {
		if content, ok := cache.Get(p); ok {
			return content, nil
		}
		content, err := v.oracle.BlockAt(ctx, p)
		if err != nil {
			return world.Empty, err
		}
		cache.Add(p, content)
		return content, nil
	}

	var diff Diff
	for _, expected := range w.ExpectedPlacements {
		actual, err := blockAt(expected.Pos)
		if err != nil {
			return Diff{}, fmt.Errorf("verify module %s at %s: %w", w.ModuleID, expected.Pos, err)
		}
		switch actual {
		case expected.Content:
			// Satisfied.
		case world.Empty:
			diff.Missing = append(diff.Missing, expected)
		default:
			diff.Wrong = append(diff.Wrong, expected)
		}
	}

	for _, p := range w.RequiredEmpty {
		actual, err := blockAt(p)
		if err != nil {
			return Diff{}, fmt.Errorf("verify module %s at %s: %w", w.ModuleID, p, err)
		}
		if actual != world.Empty {
			diff.Unexpected = append(diff.Unexpected, p)
		}
	}

	return diff, nil
}

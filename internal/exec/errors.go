package exec

import (
	"errors"
	"fmt"

	"github.com/roach88/mason/internal/store"
	"github.com/roach88/mason/internal/witness"
)

// PreemptedError reports that a control message stopped the executor
// between ops. The caller runs the hold protocol with the carried reason.
type PreemptedError struct {
	ExecutionID string
	ModuleID    string
	OpIndex     int
	Reason      store.HoldReason
	Hints       []string
}

func (e *PreemptedError) Error() string {
	return fmt.Sprintf("execution %s preempted at %s[%d]: %s",
		e.ExecutionID, e.ModuleID, e.OpIndex, e.Reason)
}

// IsPreemptedError reports whether err is a PreemptedError.
func IsPreemptedError(err error) bool {
	var pe *PreemptedError
	return errors.As(err, &pe)
}

// VerifyFailedError reports that the module boundary witness check found
// deltas. The diff it carries is the repair input; nothing is re-derived.
type VerifyFailedError struct {
	ModuleID string
	Diff     witness.Diff
}

func (e *VerifyFailedError) Error() string {
	return fmt.Sprintf("module %s failed witness verification: %d missing, %d wrong, %d unexpected",
		e.ModuleID, len(e.Diff.Missing), len(e.Diff.Wrong), len(e.Diff.Unexpected))
}

// IsVerifyFailedError reports whether err is a VerifyFailedError.
func IsVerifyFailedError(err error) bool {
	var ve *VerifyFailedError
	return errors.As(err, &ve)
}

// OpFailedError reports that the op runner could not realize an op. The op
// stays marked started in the ledger; reconciliation decides later whether
// the effect landed anyway.
type OpFailedError struct {
	ModuleID string
	OpIndex  int
	OpID     string
	Err      error
}

func (e *OpFailedError) Error() string {
	return fmt.Sprintf("op %s[%d] (%s) failed: %v", e.ModuleID, e.OpIndex, e.OpID, e.Err)
}

func (e *OpFailedError) Unwrap() error {
	return e.Err
}

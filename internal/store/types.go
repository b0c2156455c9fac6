package store

import (
	"github.com/roach88/mason/internal/invariant"
	"github.com/roach88/mason/internal/plan"
	"github.com/roach88/mason/internal/station"
	"github.com/roach88/mason/internal/witness"
	"github.com/roach88/mason/internal/world"
)

// Status is an execution's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// Terminal reports whether the status is a terminal one.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// Execution is the mutable runtime record for one goal instance.
type Execution struct {
	ID             string      `json:"id"`
	GoalInstanceID string      `json:"goal_instance_id"`
	Status         Status      `json:"status"`
	ModuleCursor   int64       `json:"module_cursor"`
	Completed      []string    `json:"completed"`
	TemplateDigest string      `json:"template_digest"`
	Site           world.Site  `json:"site"`
	Plan           *plan.Macro `json:"plan"`
	CreatedSeq     int64       `json:"created_seq"`
	UpdatedSeq     int64       `json:"updated_seq"`
}

// Checkpoint is one append-only, content-addressed progress record.
type Checkpoint struct {
	ID               string             `json:"id"`
	ExecutionID      string             `json:"execution_id"`
	ModuleCursor     int64              `json:"module_cursor"`
	Completed        []string           `json:"completed"`
	StationSnapshot  []station.Entry    `json:"station_snapshot"`
	InvariantResults []invariant.Result `json:"invariant_results"`
	OpenDeltas       witness.Diff       `json:"open_deltas"`
	InventorySummary map[string]int64   `json:"inventory_summary"`
	SavedAtSeq       int64              `json:"saved_at_seq"`
}

// OpState marks an atomic operation's ledger state.
type OpState string

const (
	// OpStarted means the op was issued but its effect was never confirmed.
	OpStarted OpState = "started"
	// OpConfirmed means the op's effect was confirmed realized.
	OpConfirmed OpState = "confirmed"
)

// LedgerEntry is one op's mark in the crash-reconciliation ledger.
type LedgerEntry struct {
	ExecutionID string  `json:"execution_id"`
	ModuleID    string  `json:"module_id"`
	OpID        string  `json:"op_id"`
	OpIndex     int     `json:"op_index"`
	State       OpState `json:"state"`
	Seq         int64   `json:"seq"`
}

// Phase is the goal key phase.
type Phase string

const (
	// PhaseA is the provisional key over intent params and coarse region.
	PhaseA Phase = "A"
	// PhaseB is the anchored key over the committed site anchor.
	PhaseB Phase = "B"
)

// Binding attaches a goal identity to an execution record.
// GoalInstanceID is immutable and is the only identifier used in
// cross-references and event payloads; Key is resolver-lookup-only.
type Binding struct {
	GoalInstanceID string     `json:"goal_instance_id"`
	ExecutionID    string     `json:"execution_id"`
	GoalType       string     `json:"goal_type"`
	Key            string     `json:"goal_key"`
	Phase          Phase      `json:"phase"`
	Anchor         *world.Pos `json:"anchor,omitempty"`
	Aliases        []string   `json:"aliases,omitempty"`
	Terminal       bool       `json:"terminal"`
	CreatedSeq     int64      `json:"created_seq"`
}

// HoldReason classifies why an execution is paused.
type HoldReason string

const (
	// ReasonManualPause is the hard wall: never cleared automatically.
	ReasonManualPause      HoldReason = "manual_pause"
	ReasonPreempted        HoldReason = "preempted"
	ReasonMissingMaterials HoldReason = "missing_materials"
	ReasonThreat           HoldReason = "threat"
	ReasonDriftDetected    HoldReason = "drift_detected"
)

// HoldWitness records what was known at capture time. Verified false means
// the hold was written under the emergency deadline and the cursor module
// must be conservatively re-verified on resume.
type HoldWitness struct {
	LastOpID     string `json:"last_op_id"`
	ModuleCursor int64  `json:"module_cursor"`
	Verified     bool   `json:"verified"`
}

// Hold is the paused-state metadata. An execution is paused if and only if
// a Hold row exists for it.
type Hold struct {
	ExecutionID    string      `json:"execution_id"`
	Reason         HoldReason  `json:"reason"`
	HeldAtSeq      int64       `json:"held_at_seq"`
	ResumeHints    []string    `json:"resume_hints,omitempty"`
	NextReviewUnix int64       `json:"next_review_unix"`
	Witness        HoldWitness `json:"witness"`
}

// CompletionState is the hysteresis counter for the completion verifier.
type CompletionState struct {
	ExecutionID       string `json:"execution_id"`
	VerifierID        string `json:"verifier_id"`
	DefinitionVersion int    `json:"definition_version"`
	ConsecutivePasses int    `json:"consecutive_passes"`
	LastPass          bool   `json:"last_pass"`
}

// Event kinds emitted on the lifecycle log.
const (
	EventExecutionCreated    = "execution-created"
	EventCheckpointTaken     = "checkpoint-taken"
	EventHoldEntered         = "hold-entered"
	EventHoldCleared         = "hold-cleared"
	EventKeyPromoted         = "key-promoted"
	EventExecutionCompleted  = "execution-completed"
	EventRegressionDetected  = "regression-detected"
	EventActivationExhausted = "goal-activation-exhausted"
	EventPlanReplaced        = "plan-replaced"
)

// Event is one append-only lifecycle notification.
type Event struct {
	Seq            int64             `json:"seq"`
	Kind           string            `json:"kind"`
	GoalInstanceID string            `json:"goal_instance_id"`
	Payload        map[string]string `json:"payload,omitempty"`
}

// Record is a fully reconstructed execution: everything mason knows about
// one goal instance, rebuilt from storage alone.
type Record struct {
	Execution  Execution
	Binding    Binding
	Witnesses  map[string]witness.Witness
	Stations   []station.Entry
	Ledger     []LedgerEntry
	Hold       *Hold
	Completion *CompletionState
}

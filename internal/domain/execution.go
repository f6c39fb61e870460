package domain

import "time"

// ExecStatus is the terminal/non-terminal status of an execution as
// projected from its event log (§3, §7 status response).
type ExecStatus string

const (
	ExecRunning   ExecStatus = "running"
	ExecCompleted ExecStatus = "completed"
	ExecFailed    ExecStatus = "failed"
	ExecCancelled ExecStatus = "cancelled"
)

func (s ExecStatus) Terminal() bool {
	return s == ExecCompleted || s == ExecFailed || s == ExecCancelled
}

// Execution is one instance of running a playbook (§3 "Execution").
type Execution struct {
	ID               int64          `json:"execution_id"`
	PlaybookPath     string         `json:"playbook_path"`
	PlaybookVersion  string         `json:"playbook_version"`
	Workload         map[string]any `json:"workload"`
	ParentExecution  *int64         `json:"parent_execution_id,omitempty"`
	ParentStep       string         `json:"parent_step_name,omitempty"`
	ParentLoopIndex  *int           `json:"parent_loop_index,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	Status           ExecStatus     `json:"status"`
	AncestorChain     []string      `json:"ancestor_chain,omitempty"` // playbook paths of every enclosing sub-playbook call, for cycle/depth guards
}

// StepStatus is the projected lifecycle of one step within an execution
// (§3 "Step state"): PENDING -> READY -> ENQUEUED -> RUNNING ->
// (COMPLETED|FAILED|SKIPPED), with RETRYING as a RUNNING->READY transition.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepReady     StepStatus = "ready"
	StepEnqueued  StepStatus = "enqueued"
	StepRunning   StepStatus = "running"
	StepRetrying  StepStatus = "retrying"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

// LoopChildState tracks one iterator child's projected status, keyed by
// loop_index at the call site (StepProjection.LoopChildren).
type LoopChildState struct {
	LoopIndex int        `json:"loop_index"`
	Status    StepStatus `json:"status"`
	Result    *Value     `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// StepProjection is the per-step entry of the projected execution state
// (§4.2): status, attempts, last result/error, and loop-children status map
// for iterator steps.
type StepProjection struct {
	Name                  string                    `json:"name"`
	Status                StepStatus                `json:"status"`
	Attempts              int                       `json:"attempts"`
	LastResult            *Value                    `json:"last_result,omitempty"`
	LastError             string                    `json:"last_error,omitempty"`
	LoopChildren          map[int]*LoopChildState   `json:"loop_children,omitempty"`
	UnresolvedIncoming    int                       `json:"unresolved_incoming"`   // count of predecessor edges not yet known skipped/satisfied (fan-in tracking, §9)
	SubExecutionID        *int64                    `json:"sub_execution_id,omitempty"`
	NextRunAt             *time.Time                `json:"next_run_at,omitempty"` // retry backoff deadline
	StartedAt             *time.Time                `json:"started_at,omitempty"`
	FinishedAt            *time.Time                `json:"finished_at,omitempty"`
	EdgesResolved         bool                      `json:"-"` // set once this step's outgoing edges have decremented their successors' UnresolvedIncoming, so a later retry attempt's terminal event doesn't double-decrement
	BranchTaken           bool                      `json:"branch_taken,omitempty"`    // true once branch_taken has been recorded for this step's case rules
	BranchSelected        []string                  `json:"branch_selected,omitempty"` // successor names branch_taken selected
}

// StepResult is the "result proxy" described in the design notes (§9):
// template references of the bare form `{{ step_name }}` unwrap to Data;
// `{{ step_name.field }}` descends into Data's fields. Meta carries
// out-of-band info (exit code, http status); the projector decodes it but
// keeps only Data on the step projection, so templates cannot reach Meta.
type StepResult struct {
	Data Value          `json:"data"`
	Meta map[string]any `json:"meta,omitempty"`
}

// ExecutionState is the full output of folding one execution's event log
// (§4.2 State Projector).
type ExecutionState struct {
	ExecID            int64
	Status            ExecStatus
	Workload          Value
	Steps             map[string]*StepProjection
	PendingSuccessors []string               // ready steps not yet enqueued, in definition order
	InFlightJobs      map[StepKey]struct{}   // RUNNING or ENQUEUED
	FirstFailingStep  string
	FirstError        string
	NextSeq           int64 // seq the next appended event must carry
	Cancelled         bool
}

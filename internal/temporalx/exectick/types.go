package exectick

import "time"

const (
	WorkflowName = "execution_tick"
	ActivityTick = "execution_tick_activity"
)

// TickResult is what the Tick activity hands back to the workflow loop:
// enough of the projected state to decide whether to sleep, continue
// polling, or return (the execution reached a terminal status).
type TickResult struct {
	ExecutionID int64      `json:"execution_id"`
	Status      string     `json:"status"`
	CurrentStep string     `json:"current_step,omitempty"`
	FirstError  string     `json:"first_error,omitempty"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`
}

package tool

import "context"

// noopAdapter does nothing and succeeds immediately; used for playbook
// scaffolding, tests, and steps whose only purpose is to exist in the DAG
// (a join point with no work of its own).
type noopAdapter struct{}

func NewNoopAdapter() Adapter { return noopAdapter{} }

const kindNoop = "noop"

func (noopAdapter) Kind() string             { return kindNoop }
func (noopAdapter) CapabilityTag() string    { return "cpu" }
func (noopAdapter) RequiredSecrets() []string { return nil }

func (noopAdapter) Execute(ctx context.Context, spec map[string]any, rc RuntimeContext, cancel <-chan struct{}, progress chan<- Progress) (Result, error) {
	return Result{Data: map[string]any{}}, nil
}

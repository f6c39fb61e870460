// Package tool defines the worker-side tool adapter boundary (§4.10): the
// core treats every tool kind except iterator/playbook as opaque, and
// drives it through this interface alone. Grounded on the job_type ->
// Handler dispatch table in internal/jobs/runtime/registry.go, generalized
// from "one handler per job_type, Run(ctx) reports via runtime.Context" to
// "one Adapter per tool kind, Execute streams Progress and returns Result".
package tool

import (
	"context"
	"errors"
)

// ErrUnimplementedTool is returned by stub adapters for tool kinds whose
// concrete driver is out of scope for the core (§1): the adapter boundary
// exists, the driver does not ship.
var ErrUnimplementedTool = errors.New("tool: adapter not implemented")

// RuntimeContext is the read-only execution context a worker hands to an
// adapter: resolved args, a context snapshot, and a secret resolver for any
// credential the step declared.
type RuntimeContext struct {
	Args            map[string]any
	ContextSnapshot map[string]any
	Secrets         CredentialResolver
}

// Progress is one `step_progress` update an adapter may stream back while
// it runs; the worker publishes it as-is via the control API (§4.7 step 3).
type Progress struct {
	Message string
	Percent int
	Detail  map[string]any
}

// Result is an adapter's terminal outcome on success. Exit/Error exist so
// shell-like adapters can report a nonzero exit code without that being a
// Go error (a nonzero exit may still be a meaningful "completed" result,
// or may signal failure — the adapter decides which by returning err too).
type Result struct {
	Data  map[string]any
	Exit  int
	Error string
}

// ExecuteFunc is the function-value shape Execute implementations satisfy;
// named so a plain function can be adapted into an Adapter in tests
// without a throwaway struct.
type ExecuteFunc func(ctx context.Context, spec map[string]any, rc RuntimeContext, cancel <-chan struct{}, progress chan<- Progress) (Result, error)

// Adapter is the worker-side tool boundary (§4.10).
type Adapter interface {
	Kind() string
	CapabilityTag() string
	RequiredSecrets() []string
	Execute(ctx context.Context, spec map[string]any, rc RuntimeContext, cancel <-chan struct{}, progress chan<- Progress) (Result, error)
}

// CredentialResolver resolves a named credential handle to its underlying
// secret value, worker-side only (§3 "Credential": the core holds an
// opaque handle, never the secret itself).
type CredentialResolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

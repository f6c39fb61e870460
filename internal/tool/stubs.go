package tool

import "context"

// stubAdapter rejects every invocation with ErrUnimplementedTool. The
// adapter boundary is wired for these kinds (they're addressable by a
// playbook, they advertise a capability tag and required secrets) but no
// driver ships; a worker that leases one of these jobs fails it as a
// ToolError rather than panicking or silently no-opping.
type stubAdapter struct {
	kind             string
	capabilityTag    string
	requiredSecrets  []string
}

func (s stubAdapter) Kind() string              { return s.kind }
func (s stubAdapter) CapabilityTag() string     { return s.capabilityTag }
func (s stubAdapter) RequiredSecrets() []string { return s.requiredSecrets }

func (s stubAdapter) Execute(ctx context.Context, spec map[string]any, rc RuntimeContext, cancel <-chan struct{}, progress chan<- Progress) (Result, error) {
	return Result{}, ErrUnimplementedTool
}

func NewPostgresAdapter() Adapter {
	return stubAdapter{kind: "postgres", capabilityTag: "db", requiredSecrets: []string{"dsn"}}
}

func NewDuckDBAdapter() Adapter {
	return stubAdapter{kind: "duckdb", capabilityTag: "db"}
}

func NewSnowflakeAdapter() Adapter {
	return stubAdapter{kind: "snowflake", capabilityTag: "db", requiredSecrets: []string{"account", "user", "password"}}
}

func NewPythonAdapter() Adapter {
	return stubAdapter{kind: "python", capabilityTag: "cpu"}
}

func NewRhaiAdapter() Adapter {
	return stubAdapter{kind: "rhai", capabilityTag: "cpu"}
}

func NewTransferAdapter() Adapter {
	return stubAdapter{kind: "transfer", capabilityTag: "io"}
}

// RegisterBuiltins registers every adapter a worker ships with by default:
// the three working adapters plus a stub for every out-of-scope driver
// kind, so Get(kind) never returns "not found" for a kind the core knows
// about — only "not implemented" for ones that need a real driver.
func RegisterBuiltins(r *Registry) error {
	builtins := []Adapter{
		NewShellAdapter(),
		NewHTTPAdapter(),
		NewNoopAdapter(),
		NewPostgresAdapter(),
		NewDuckDBAdapter(),
		NewSnowflakeAdapter(),
		NewPythonAdapter(),
		NewRhaiAdapter(),
		NewTransferAdapter(),
	}
	for _, a := range builtins {
		if err := r.Register(a); err != nil {
			return err
		}
	}
	return nil
}

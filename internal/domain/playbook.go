package domain

import "time"

// ToolKind enumerates the tool kinds a step may invoke. The core treats the
// spec of every kind except iterator/playbook as opaque (§1, §4.10); those
// two are interpreted directly because they drive control flow.
type ToolKind string

const (
	ToolShell    ToolKind = "shell"
	ToolHTTP     ToolKind = "http"
	ToolPostgres ToolKind = "postgres"
	ToolDuckDB   ToolKind = "duckdb"
	ToolSnowflake ToolKind = "snowflake"
	ToolPython   ToolKind = "python"
	ToolIterator ToolKind = "iterator"
	ToolPlaybook ToolKind = "playbook"
	ToolTransfer ToolKind = "transfer"
	ToolRhai     ToolKind = "rhai"
	ToolNoop     ToolKind = "noop"
)

// IteratorMode controls fan-out/fan-in behavior for ToolIterator steps (§4.8).
type IteratorMode string

const (
	IterSequential IteratorMode = "sequential"
	IterAsync      IteratorMode = "async"
	IterParallel   IteratorMode = "parallel" // bounded by IteratorSpec.Parallelism
)

// StepRef names a successor step inside a `next`/`then`/`else` list.
type StepRef struct {
	Step string `json:"step" yaml:"step"`
}

// CaseRule is one `when/then[/else]` branch rule evaluated top-to-bottom.
type CaseRule struct {
	When string    `json:"when" yaml:"when"`
	Then []StepRef `json:"then,omitempty" yaml:"then,omitempty"`
	Else []StepRef `json:"else,omitempty" yaml:"else,omitempty"`
}

// RetryPolicy is the step-level retry descriptor from the playbook YAML.
type RetryPolicy struct {
	Max            int `json:"max" yaml:"max"`
	BackoffSeconds int `json:"backoff_seconds" yaml:"backoff_seconds"`
}

// SaveSpec describes an optional result-persistence side effect; the core
// only threads this through to the worker, it never interprets "storage".
type SaveSpec struct {
	Storage string         `json:"storage,omitempty" yaml:"storage,omitempty"`
	Extra   map[string]any `json:"-" yaml:"-"`
}

// IteratorSpec is the known substructure of Step.Spec when Tool == iterator.
type IteratorSpec struct {
	Collection      string       `json:"collection" yaml:"collection"`
	Mode            IteratorMode `json:"mode" yaml:"mode"`
	Parallelism     int          `json:"parallelism,omitempty" yaml:"parallelism,omitempty"`
	ContinueOnError bool         `json:"continue_on_error,omitempty" yaml:"continue_on_error,omitempty"`
	Task            *StepDef     `json:"task" yaml:"task"`
}

// PlaybookSpec is the known substructure of Step.Spec when Tool == playbook.
type PlaybookSpec struct {
	Path    string `json:"path" yaml:"path"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

// StepDef is one node of the playbook's workflow graph (§3 "Step definition").
// Spec is kept as a raw map for every tool kind the core does not interpret
// directly (shell/http/postgres/...); Iterator/Playbook are additionally
// decoded into IteratorSpec/PlaybookSpec by the interpreter when needed.
type StepDef struct {
	Name         string            `json:"step" yaml:"step"`
	Desc         string            `json:"desc,omitempty" yaml:"desc,omitempty"`
	Tool         ToolKind          `json:"tool" yaml:"tool"`
	Spec         map[string]any    `json:"-" yaml:"-"`
	Args         map[string]string `json:"args,omitempty" yaml:"args,omitempty"`
	Save         *SaveSpec         `json:"save,omitempty" yaml:"save,omitempty"`
	Case         []CaseRule        `json:"case,omitempty" yaml:"case,omitempty"`
	Next         []StepRef         `json:"next,omitempty" yaml:"next,omitempty"`
	Retry        *RetryPolicy      `json:"retry,omitempty" yaml:"retry,omitempty"`
	TimeoutSecs  int               `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	OnError      string            `json:"on_error,omitempty" yaml:"on_error,omitempty"` // "" (default: fail execution) | "continue"
	Deps         []string          `json:"deps,omitempty" yaml:"deps,omitempty"`         // inferred at load time from predecessor edges, used for fan-in tracking
}

// Successors returns the unconditional next-step list. A step has at most
// one of Case or Next; Next defaults to terminal (empty).
func (s StepDef) Successors() []StepRef { return s.Next }

// ExecutorProfile is the `executor` hint on a playbook document.
type ExecutorProfile struct {
	Profile string `json:"profile" yaml:"profile"` // local|distributed
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

// CredentialBinding names a credential handle a playbook declares it needs;
// resolution of the underlying secret happens worker-side (§3 "Credential").
type CredentialBinding struct {
	Name string `json:"name" yaml:"name"`
	Kind string `json:"kind,omitempty" yaml:"kind,omitempty"`
}

// Playbook is identified by (Path, Version) and immutable once registered.
type Playbook struct {
	Path        string              `json:"path" yaml:"-"`
	Version     string              `json:"version" yaml:"-"`
	ContentHash string              `json:"content_hash" yaml:"-"`
	APIVersion  string              `json:"apiVersion" yaml:"apiVersion"`
	Name        string              `json:"name" yaml:"-"`
	Executor    ExecutorProfile     `json:"executor" yaml:"executor"`
	Workload    map[string]any      `json:"workload,omitempty" yaml:"workload,omitempty"`
	Workflow    []StepDef           `json:"workflow" yaml:"workflow"`
	Credentials []CredentialBinding `json:"credentials,omitempty" yaml:"credentials,omitempty"`
	RegisteredAt time.Time          `json:"registered_at"`
}

// StepByName is a convenience lookup used throughout the interpreter.
func (p *Playbook) StepByName(name string) *StepDef {
	for i := range p.Workflow {
		if p.Workflow[i].Name == name {
			return &p.Workflow[i]
		}
	}
	return nil
}

// StartStep returns the step named "start", or the first step when none is
// so named (§4.4 decision step 1).
func (p *Playbook) StartStep() *StepDef {
	if s := p.StepByName("start"); s != nil {
		return s
	}
	if len(p.Workflow) == 0 {
		return nil
	}
	return &p.Workflow[0]
}

// Predecessors computes, for each step, the set of steps that name it in a
// Next/Then/Else list. Used to build fan-in unresolved-edge counters.
func (p *Playbook) Predecessors() map[string][]string {
	preds := map[string][]string{}
	add := func(from, to string) { preds[to] = append(preds[to], from) }
	for _, s := range p.Workflow {
		if len(s.Case) > 0 {
			for _, rule := range s.Case {
				for _, ref := range rule.Then {
					add(s.Name, ref.Step)
				}
				for _, ref := range rule.Else {
					add(s.Name, ref.Step)
				}
			}
			continue
		}
		for _, ref := range s.Next {
			add(s.Name, ref.Step)
		}
	}
	return preds
}

package tool

import (
	"context"
	"errors"
	"testing"
)

func TestRegistry_DuplicateRegistrationRejected(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(NewNoopAdapter()); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(NewNoopAdapter()); err == nil {
		t.Fatalf("expected error registering duplicate kind")
	}
}

func TestRegisterBuiltins_AllKindsResolvable(t *testing.T) {
	r := NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	for _, kind := range []string{"shell", "http", "noop", "postgres", "duckdb", "snowflake", "python", "rhai", "transfer"} {
		if _, ok := r.Get(kind); !ok {
			t.Fatalf("expected kind %q to be registered", kind)
		}
	}
}

func TestNoopAdapter_Succeeds(t *testing.T) {
	a := NewNoopAdapter()
	res, err := a.Execute(context.Background(), nil, RuntimeContext{}, nil, nil)
	if err != nil {
		t.Fatalf("noop: %v", err)
	}
	if res.Data == nil {
		t.Fatalf("expected non-nil Data map")
	}
}

func TestStubAdapter_ReturnsUnimplemented(t *testing.T) {
	a := NewPostgresAdapter()
	_, err := a.Execute(context.Background(), nil, RuntimeContext{}, nil, nil)
	if !errors.Is(err, ErrUnimplementedTool) {
		t.Fatalf("expected ErrUnimplementedTool, got %v", err)
	}
	if len(a.RequiredSecrets()) == 0 {
		t.Fatalf("expected postgres adapter to require a dsn secret")
	}
}

func TestShellAdapter_RunsCommandAndCapturesOutput(t *testing.T) {
	a := NewShellAdapter()
	spec := map[string]any{"command": "echo", "args": []any{"hello"}}
	res, err := a.Execute(context.Background(), spec, RuntimeContext{}, nil, nil)
	if err != nil {
		t.Fatalf("shell: %v", err)
	}
	if res.Exit != 0 {
		t.Fatalf("expected exit 0, got %d", res.Exit)
	}
	if res.Data["stdout"] != "hello\n" {
		t.Fatalf("unexpected stdout: %q", res.Data["stdout"])
	}
}

func TestShellAdapter_MissingCommand(t *testing.T) {
	a := NewShellAdapter()
	_, err := a.Execute(context.Background(), map[string]any{}, RuntimeContext{}, nil, nil)
	if err == nil {
		t.Fatalf("expected error for missing command")
	}
}

func TestStaticResolver(t *testing.T) {
	r := StaticResolver{"api_key": "secret-value"}
	v, err := r.Resolve(context.Background(), "api_key")
	if err != nil || v != "secret-value" {
		t.Fatalf("got %q, %v", v, err)
	}
	if _, err := r.Resolve(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for missing credential")
	}
}

package template

import (
	"testing"

	"github.com/noetl/noetl/internal/domain"
)

func ctxFromMap(m map[string]domain.Value) domain.Value {
	return domain.Map(m)
}

func TestResolve_SoleExpressionPreservesType(t *testing.T) {
	ctx := ctxFromMap(map[string]domain.Value{
		"count": domain.Int(3),
	})
	v, err := Resolve("{{ count }}", ctx)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if v.Kind != domain.KindInt || v.I != 3 {
		t.Fatalf("expected int 3, got %+v", v)
	}
}

func TestResolve_Interpolation(t *testing.T) {
	ctx := ctxFromMap(map[string]domain.Value{
		"name": domain.Str("world"),
	})
	v, err := Resolve("hello {{ name }}!", ctx)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if v.AsString() != "hello world!" {
		t.Fatalf("expected interpolated string, got %q", v.AsString())
	}
}

func TestResolve_LiteralPassthrough(t *testing.T) {
	v, err := Resolve("no templates here", domain.Map(nil))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if v.AsString() != "no templates here" {
		t.Fatalf("expected unchanged literal, got %q", v.AsString())
	}
}

func TestResolve_UnresolvedReference(t *testing.T) {
	_, err := Resolve("{{ missing.field }}", domain.Map(nil))
	if err == nil {
		t.Fatalf("expected ResolutionError, got nil")
	}
	if _, ok := err.(*domain.ResolutionError); !ok {
		t.Fatalf("expected *domain.ResolutionError, got %T", err)
	}
}

func TestResolve_NestedAccessAndFilters(t *testing.T) {
	ctx := ctxFromMap(map[string]domain.Value{
		"step": domain.Map(map[string]domain.Value{
			"data": domain.Map(map[string]domain.Value{
				"rows": domain.List([]domain.Value{domain.Str("a"), domain.Str("b")}),
			}),
		}),
	})
	v, err := Resolve("{{ step.data.rows | join(\"-\") }}", ctx)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if v.AsString() != "a-b" {
		t.Fatalf("expected joined string, got %q", v.AsString())
	}
}

func TestResolve_TernaryAndComparisons(t *testing.T) {
	ctx := ctxFromMap(map[string]domain.Value{
		"n": domain.Int(5),
	})
	v, err := Resolve("{{ \"big\" if n > 3 else \"small\" }}", ctx)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if v.AsString() != "big" {
		t.Fatalf("expected 'big', got %q", v.AsString())
	}
}

func TestResolve_DefaultFilterOnMissingNull(t *testing.T) {
	ctx := ctxFromMap(map[string]domain.Value{
		"x": domain.Null(),
	})
	v, err := Resolve("{{ x | default(\"fallback\") }}", ctx)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if v.AsString() != "fallback" {
		t.Fatalf("expected fallback, got %q", v.AsString())
	}
}

func TestResolveTree_ResolvesNestedStringLeaves(t *testing.T) {
	ctx := ctxFromMap(map[string]domain.Value{
		"url": domain.Str("https://example.com"),
	})
	tree := map[string]any{
		"method": "GET",
		"target": map[string]any{"url": "{{ url }}"},
		"tags":   []any{"a", "{{ url }}"},
	}
	out, err := ResolveTree(tree, ctx)
	if err != nil {
		t.Fatalf("ResolveTree: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("expected map[string]any, got %T", out)
	}
	target, ok := m["target"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested map, got %T", m["target"])
	}
	if target["url"] != "https://example.com" {
		t.Fatalf("expected resolved url, got %v", target["url"])
	}
}

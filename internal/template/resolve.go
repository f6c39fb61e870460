package template

import (
	"strings"

	"github.com/noetl/noetl/internal/domain"
)

// Resolve expands one `{{ ... }}`-bearing string against ctx. When the
// trimmed text is exactly one expression (the common case: `args.url:
// "{{ inputs.url }}"`), the expression's native Value is returned so a
// template that resolves to an int or a list keeps its type. When the
// expression is embedded in surrounding text, every placeholder is
// stringified and spliced in, and the result is always a string Value.
//
// A plain string containing no `{{` at all is returned unchanged — most
// playbook fields are literal, and the resolver must be a no-op on them.
func Resolve(text string, ctx domain.Value) (domain.Value, error) {
	if !strings.Contains(text, "{{") {
		return domain.Str(text), nil
	}
	if sole, ok := soleExpression(text); ok {
		return evalSource(sole, ctx)
	}

	var b strings.Builder
	rest := text
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			// Unterminated placeholder: treat the rest as literal, matching
			// a permissive "best effort" interpolation rather than erroring
			// on a stray '{{' in free text.
			b.WriteString(rest)
			break
		}
		end += start
		b.WriteString(rest[:start])
		src := rest[start+2 : end]
		v, err := evalSource(src, ctx)
		if err != nil {
			return domain.Null(), err
		}
		b.WriteString(v.AsString())
		rest = rest[end+2:]
	}
	return domain.Str(b.String()), nil
}

// soleExpression reports whether text, once trimmed, is exactly one `{{
// ... }}` block with nothing else around it.
func soleExpression(text string) (string, bool) {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "{{") || !strings.HasSuffix(t, "}}") {
		return "", false
	}
	inner := t[2 : len(t)-2]
	if strings.Contains(inner, "}}") {
		return "", false
	}
	return inner, true
}

func evalSource(src string, ctx domain.Value) (domain.Value, error) {
	e, err := parseExpr(strings.TrimSpace(src))
	if err != nil {
		return domain.Null(), err
	}
	return eval(e, ctx)
}

// EvalCondition evaluates text as a boolean expression for `case.when`
// rules (§4.4 step 3a: "the first when whose resolved expression is
// truthy"). Unlike Resolve, the result is never stringified first: a sole
// `{{ expr }}` has its inner parsed and evaluated directly, and a bare
// expression with no braces at all (e.g. "false", or a raw comparison) is
// parsed as-is. Either way the native Value's Truthy() is what decides the
// branch, so a condition that evaluates to the boolean false or the
// numeric/string zero value is falsy — unlike Resolve+Truthy, where any
// non-empty interpolated string (including the literal text "false") is
// truthy.
func EvalCondition(text string, ctx domain.Value) (bool, error) {
	src := strings.TrimSpace(text)
	if sole, ok := soleExpression(src); ok {
		src = sole
	} else {
		// A condition may mix literal braces into a larger expression
		// (e.g. "{{ workload.env }} == prod"); the expression grammar has
		// no notion of "{{"/"}}" as syntax, so they're stripped rather
		// than interpolated, and the remainder is parsed as one expression.
		src = strings.ReplaceAll(src, "{{", "")
		src = strings.ReplaceAll(src, "}}", "")
	}
	v, err := evalSource(src, ctx)
	if err != nil {
		return false, err
	}
	return v.Truthy(), nil
}

// ResolveTree walks an arbitrary decoded YAML/JSON structure (the shape
// StepDef.Spec and StepDef.Args arrive in) and resolves every string leaf,
// leaving non-string leaves untouched. Used by the interpreter to expand a
// step's tool spec before handing it to the job queue.
func ResolveTree(v any, ctx domain.Value) (any, error) {
	switch t := v.(type) {
	case string:
		resolved, err := Resolve(t, ctx)
		if err != nil {
			return nil, err
		}
		return resolved.ToInterface(), nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			rv, err := ResolveTree(e, ctx)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			rv, err := ResolveTree(e, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

package template

import (
	"fmt"

	"github.com/noetl/noetl/internal/domain"
)

// eval walks the AST against ctx (a KindMap Value of top-level names:
// workload, step results keyed by step name, loop variables). A missing
// attribute or index anywhere in an access chain surfaces as a
// *domain.ResolutionError carrying the dotted path travelled so far, per
// §7 ("unresolved_reference, no retry").
func eval(e expr, ctx domain.Value) (domain.Value, error) {
	switch n := e.(type) {
	case litExpr:
		return litToValue(n.val), nil

	case identExpr:
		v, ok := ctx.Get(n.name)
		if !ok {
			return domain.Null(), &domain.ResolutionError{Path: n.name}
		}
		return v, nil

	case accessExpr:
		base, err := eval(n.target, ctx)
		if err != nil {
			return domain.Null(), err
		}
		var key string
		if n.key != nil {
			kv, err := eval(n.key, ctx)
			if err != nil {
				return domain.Null(), err
			}
			key = kv.AsString()
		} else {
			key = n.name
		}
		v, ok := base.Get(key)
		if !ok {
			return domain.Null(), &domain.ResolutionError{Path: pathOf(n.target) + "." + key}
		}
		return v, nil

	case unaryExpr:
		v, err := eval(n.operand, ctx)
		if err != nil {
			return domain.Null(), err
		}
		switch n.op {
		case tokNot:
			return domain.Bool(!v.Truthy()), nil
		case tokMinus:
			f, ok := v.AsNumber()
			if !ok {
				return domain.Null(), fmt.Errorf("template: cannot negate non-numeric value")
			}
			return domain.Float(-f), nil
		}
		return domain.Null(), fmt.Errorf("template: unknown unary operator")

	case binaryExpr:
		return evalBinary(n, ctx)

	case ternaryExpr:
		cond, err := eval(n.cond, ctx)
		if err != nil {
			return domain.Null(), err
		}
		if cond.Truthy() {
			return eval(n.whenTrue, ctx)
		}
		return eval(n.whenFalse, ctx)

	case filterExpr:
		in, err := eval(n.input, ctx)
		if err != nil {
			return domain.Null(), err
		}
		args := make([]domain.Value, 0, len(n.args))
		for _, a := range n.args {
			av, err := eval(a, ctx)
			if err != nil {
				return domain.Null(), err
			}
			args = append(args, av)
		}
		return applyFilter(n.name, in, args)
	}
	return domain.Null(), fmt.Errorf("template: unhandled expression node %T", e)
}

func evalBinary(n binaryExpr, ctx domain.Value) (domain.Value, error) {
	// Short-circuit boolean operators evaluate the right side lazily.
	if n.op == tokAnd {
		l, err := eval(n.left, ctx)
		if err != nil {
			return domain.Null(), err
		}
		if !l.Truthy() {
			return domain.Bool(false), nil
		}
		r, err := eval(n.right, ctx)
		if err != nil {
			return domain.Null(), err
		}
		return domain.Bool(r.Truthy()), nil
	}
	if n.op == tokOr {
		l, err := eval(n.left, ctx)
		if err != nil {
			return domain.Null(), err
		}
		if l.Truthy() {
			return domain.Bool(true), nil
		}
		r, err := eval(n.right, ctx)
		if err != nil {
			return domain.Null(), err
		}
		return domain.Bool(r.Truthy()), nil
	}

	if n.op == tokEq || n.op == tokNeq {
		// Equality comparisons tolerate a bare, unquoted constant on either
		// side (`{{ workload.env }} == prod`, the `case.when` idiom the
		// grammar has no dedicated bareword-string-literal token for): an
		// identifier that fails to resolve against ctx is treated as its
		// own name rather than surfaced as a ResolutionError, so a playbook
		// author doesn't have to quote `prod`. Any other unresolved
		// reference (a dotted access chain, a filter input) still errors
		// normally — only a lone identifier gets the fallback.
		l, err := evalOperand(n.left, ctx)
		if err != nil {
			return domain.Null(), err
		}
		r, err := evalOperand(n.right, ctx)
		if err != nil {
			return domain.Null(), err
		}
		if n.op == tokEq {
			return domain.Bool(l.Equal(r)), nil
		}
		return domain.Bool(!l.Equal(r)), nil
	}

	l, err := eval(n.left, ctx)
	if err != nil {
		return domain.Null(), err
	}
	r, err := eval(n.right, ctx)
	if err != nil {
		return domain.Null(), err
	}

	switch n.op {
	case tokPlus:
		if l.Kind == domain.KindString || r.Kind == domain.KindString {
			return domain.Str(l.AsString() + r.AsString()), nil
		}
		lf, lok := l.AsNumber()
		rf, rok := r.AsNumber()
		if !lok || !rok {
			return domain.Null(), fmt.Errorf("template: '+' requires numbers or strings")
		}
		return domain.Float(lf + rf), nil
	case tokMinus, tokStar, tokSlash, tokPercent:
		lf, lok := l.AsNumber()
		rf, rok := r.AsNumber()
		if !lok || !rok {
			return domain.Null(), fmt.Errorf("template: arithmetic requires numeric operands")
		}
		switch n.op {
		case tokMinus:
			return domain.Float(lf - rf), nil
		case tokStar:
			return domain.Float(lf * rf), nil
		case tokSlash:
			if rf == 0 {
				return domain.Null(), fmt.Errorf("template: division by zero")
			}
			return domain.Float(lf / rf), nil
		case tokPercent:
			if rf == 0 {
				return domain.Null(), fmt.Errorf("template: modulo by zero")
			}
			return domain.Float(float64(int64(lf) % int64(rf))), nil
		}
	case tokLt, tokLte, tokGt, tokGte:
		lf, lok := l.AsNumber()
		rf, rok := r.AsNumber()
		if lok && rok {
			return domain.Bool(compareNum(n.op, lf, rf)), nil
		}
		return domain.Bool(compareStr(n.op, l.AsString(), r.AsString())), nil
	}
	return domain.Null(), fmt.Errorf("template: unknown binary operator")
}

// evalOperand evaluates e for an equality comparison, falling back to the
// identifier's own name as a string literal when it is a bare identExpr
// that doesn't resolve against ctx. Any other error, or a resolution
// failure partway through a longer access chain, still propagates.
func evalOperand(e expr, ctx domain.Value) (domain.Value, error) {
	v, err := eval(e, ctx)
	if err == nil {
		return v, nil
	}
	if id, ok := e.(identExpr); ok {
		if _, isRes := err.(*domain.ResolutionError); isRes {
			return domain.Str(id.name), nil
		}
	}
	return domain.Null(), err
}

func compareNum(op tokenKind, l, r float64) bool {
	switch op {
	case tokLt:
		return l < r
	case tokLte:
		return l <= r
	case tokGt:
		return l > r
	case tokGte:
		return l >= r
	}
	return false
}

func compareStr(op tokenKind, l, r string) bool {
	switch op {
	case tokLt:
		return l < r
	case tokLte:
		return l <= r
	case tokGt:
		return l > r
	case tokGte:
		return l >= r
	}
	return false
}

func litToValue(v any) domain.Value {
	switch t := v.(type) {
	case nil:
		return domain.Null()
	case bool:
		return domain.Bool(t)
	case float64:
		return domain.Float(t)
	case string:
		return domain.Str(t)
	}
	return domain.Null()
}

// pathOf renders the dotted path travelled so far, best-effort, for
// ResolutionError messages.
func pathOf(e expr) string {
	switch n := e.(type) {
	case identExpr:
		return n.name
	case accessExpr:
		if n.key != nil {
			return pathOf(n.target) + "[...]"
		}
		return pathOf(n.target) + "." + n.name
	}
	return "<expr>"
}

package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ValueKind tags the dynamic shape carried by Value. Contexts passed through
// the template resolver and interpreter are named maps of Values rather than
// bare interface{}, so every producer/consumer agrees on what "null" or
// "missing" means.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
)

// Value is the tagged sum type described in the design notes: null, bool,
// integer, float, string, list, or map. It is the currency of template
// resolution and step results; Go's interface{} is reserved for the edges
// (JSON marshal/unmarshal, user-supplied YAML).
type Value struct {
	Kind ValueKind
	B    bool
	I    int64
	F    float64
	S    string
	L    []Value
	M    map[string]Value
}

func Null() Value                { return Value{Kind: KindNull} }
func Bool(b bool) Value          { return Value{Kind: KindBool, B: b} }
func Int(i int64) Value          { return Value{Kind: KindInt, I: i} }
func Float(f float64) Value      { return Value{Kind: KindFloat, F: f} }
func Str(s string) Value         { return Value{Kind: KindString, S: s} }
func List(l []Value) Value       { return Value{Kind: KindList, L: l} }
func Map(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{Kind: KindMap, M: m}
}

func (v Value) IsNull() bool { return v.Kind == KindNull }

// Truthy mirrors the loose truthiness expected by `case.when` expressions:
// zero numbers, empty strings/lists/maps, false, and null are all falsy.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindNull:
		return false
	case KindBool:
		return v.B
	case KindInt:
		return v.I != 0
	case KindFloat:
		return v.F != 0
	case KindString:
		return strings.TrimSpace(v.S) != ""
	case KindList:
		return len(v.L) > 0
	case KindMap:
		return len(v.M) > 0
	}
	return false
}

// AsNumber coerces int/float/numeric-string into a float64 for arithmetic and
// comparison. ok is false when the value has no numeric interpretation.
func (v Value) AsNumber() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.I), true
	case KindFloat:
		return v.F, true
	case KindString:
		s := strings.TrimSpace(v.S)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case KindBool:
		if v.B {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// AsString renders a Value the way it would appear interpolated into
// surrounding text (the "string when embedded" half of the resolver
// contract; scalars keep their native Go type when a template is the sole
// content of a field, via ToInterface).
func (v Value) AsString() string {
	switch v.Kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.B)
	case KindInt:
		return strconv.FormatInt(v.I, 10)
	case KindFloat:
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	case KindString:
		return v.S
	default:
		b, _ := json.Marshal(v.ToInterface())
		return string(b)
	}
}

// Equal implements the whitespace-trimmed, numeric-coerced equality used by
// `case.when` and template `==`/`!=` operators.
func (v Value) Equal(o Value) bool {
	if v.Kind == KindString && o.Kind == KindString {
		return strings.TrimSpace(v.S) == strings.TrimSpace(o.S)
	}
	if vf, ok := v.AsNumber(); ok {
		if of, ok2 := o.AsNumber(); ok2 {
			return vf == of
		}
	}
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.B == o.B
	case KindList:
		if len(v.L) != len(o.L) {
			return false
		}
		for i := range v.L {
			if !v.L[i].Equal(o.L[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.M) != len(o.M) {
			return false
		}
		for k, mv := range v.M {
			ov, ok := o.M[k]
			if !ok || !mv.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// ToInterface converts a Value back into a plain Go value suitable for
// json.Marshal or for returning a native scalar out of the template
// resolver when a `{{ expr }}` fragment is the entirety of a field.
func (v Value) ToInterface() any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.B
	case KindInt:
		return v.I
	case KindFloat:
		return v.F
	case KindString:
		return v.S
	case KindList:
		out := make([]any, len(v.L))
		for i, e := range v.L {
			out[i] = e.ToInterface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.M))
		for k, e := range v.M {
			out[k] = e.ToInterface()
		}
		return out
	}
	return nil
}

// FromInterface lifts a decoded JSON/YAML value (map[string]any, []any,
// string, float64/int, bool, nil) into a Value tree.
func FromInterface(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case string:
		return Str(t)
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case float64:
		return Float(t)
	case []any:
		out := make([]Value, len(t))
		for i, e := range t {
			out[i] = FromInterface(e)
		}
		return List(out)
	case []Value:
		return List(t)
	case map[string]any:
		out := make(map[string]Value, len(t))
		for k, e := range t {
			out[k] = FromInterface(e)
		}
		return Map(out)
	case map[any]any: // yaml.v3 sometimes decodes nested maps this way
		out := make(map[string]Value, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = FromInterface(e)
		}
		return Map(out)
	case Value:
		return t
	default:
		return Str(fmt.Sprint(t))
	}
}

// Get descends one attribute/index level: map key for KindMap, numeric
// index for KindList. ok is false on a missing key/out-of-range index so
// callers (the resolver) can distinguish "null" from "absent".
func (v Value) Get(key string) (Value, bool) {
	switch v.Kind {
	case KindMap:
		val, ok := v.M[key]
		return val, ok
	case KindList:
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(v.L) {
			return Null(), false
		}
		return v.L[idx], true
	}
	return Null(), false
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToInterface())
}

func (v *Value) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*v = FromInterface(raw)
	return nil
}

// SortedKeys returns a map's keys sorted, used anywhere output must be
// deterministic (e.g. `| to_json` filter rendering).
func (v Value) SortedKeys() []string {
	if v.Kind != KindMap {
		return nil
	}
	keys := make([]string, 0, len(v.M))
	for k := range v.M {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

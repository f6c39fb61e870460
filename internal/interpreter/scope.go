package interpreter

import "github.com/noetl/noetl/internal/domain"

// buildScope assembles the template context available to a step: the
// execution workload under "workload", and one entry per completed step
// keyed by step name holding its result proxy's Data (§9 "result proxy":
// `{{ step_name }}` unwraps straight to Data; `{{ step_name.field }}`
// descends into it because Data itself is what's bound here). "meta" is
// bound to an empty map: the projection keeps only a step's Data, so a
// step's Meta is not reachable from templates.
func buildScope(state *domain.ExecutionState) domain.Value {
	top := map[string]domain.Value{
		"workload": state.Workload,
	}
	meta := map[string]domain.Value{}
	for name, sp := range state.Steps {
		if sp.LastResult != nil {
			top[name] = *sp.LastResult
		}
		if sp.LoopChildren != nil {
			items := make([]domain.Value, 0, len(sp.LoopChildren))
			for i := 0; i < len(sp.LoopChildren); i++ {
				c := sp.LoopChildren[i]
				if c == nil {
					continue
				}
				if c.Result != nil {
					items = append(items, *c.Result)
				} else {
					items = append(items, domain.Null())
				}
			}
			top[name] = domain.List(items)
		}
	}
	top["meta"] = domain.Map(meta)
	return domain.Map(top)
}

// scopeWithLoopVars extends a base scope with `item`/`loop_index` bindings
// for an iterator task's per-child context.
func scopeWithLoopVars(base domain.Value, item domain.Value, loopIndex int) domain.Value {
	m := map[string]domain.Value{}
	for k, v := range base.M {
		m[k] = v
	}
	m["item"] = item
	m["loop_index"] = domain.Int(int64(loopIndex))
	return domain.Map(m)
}

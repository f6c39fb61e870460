package interpreter

import (
	"fmt"
	"time"

	"github.com/noetl/noetl/internal/domain"
	"github.com/noetl/noetl/internal/template"
)

// decideIterator implements §4.4 step 2b and the mode semantics of §4.8.
// The first tick a step transitions to READY, it expands the collection
// and emits iterator_expanded plus however many initial child enqueues its
// mode allows; subsequent ticks (once some children have completed) top up
// sequential/parallel(n) batches. Expansion state itself lives in the
// projected StepProjection.LoopChildren map, so this function is safe to
// call again on a partially-expanded iterator.
func decideIterator(step *domain.StepDef, state *domain.ExecutionState, scope domain.Value, specMap map[string]any, now time.Time) ([]Action, error) {
	sp := state.Steps[step.Name]
	spec, err := decodeIteratorSpec(specMap)
	if err != nil {
		return stepFailedFromResolution(step.Name, 1, nil, err), nil
	}

	var actions []Action
	if sp.LoopChildren == nil {
		collectionVal, err := template.Resolve(spec.Collection, scope)
		if err != nil {
			return stepFailedFromResolution(step.Name, 1, nil, err), nil
		}
		if collectionVal.Kind != domain.KindList {
			return stepFailedFromResolution(step.Name, 1, nil, fmt.Errorf("iterator collection did not resolve to a list")), nil
		}
		actions = append(actions, appendEvent(domain.EventIteratorExpanded, step.Name, 1, nil, map[string]any{
			"count": float64(len(collectionVal.L)),
		}))
		// LoopChildren entries materialize once the broker folds
		// iterator_expanded; here we only decide which initial indices to
		// enqueue immediately, working off the resolved collection length.
		items := collectionVal.L
		switch spec.Mode {
		case domain.IterAsync:
			for i, item := range items {
				actions = append(actions, enqueueLoopChild(step, spec, state, scope, i, item, now)...)
			}
		case domain.IterParallel:
			limit := spec.Parallelism
			if limit <= 0 {
				limit = 1
			}
			for i := 0; i < len(items) && i < limit; i++ {
				actions = append(actions, enqueueLoopChild(step, spec, state, scope, i, items[i], now)...)
			}
		default: // sequential
			if len(items) > 0 {
				actions = append(actions, enqueueLoopChild(step, spec, state, scope, 0, items[0], now)...)
			}
		}
		return actions, nil
	}

	// Top up subsequent batches for sequential/parallel(n) modes once prior
	// children have resolved.
	total := len(sp.LoopChildren)
	collectionVal, err := template.Resolve(spec.Collection, scope)
	if err != nil {
		return stepFailedFromResolution(step.Name, 1, nil, err), nil
	}
	items := collectionVal.L

	switch spec.Mode {
	case domain.IterSequential:
		for i := 0; i < total; i++ {
			child := sp.LoopChildren[i]
			if child == nil || !child.Status.Terminal() {
				return nil, nil // still waiting on the in-flight child
			}
			if child.Status == domain.StepFailed && !spec.ContinueOnError {
				return nil, nil // aborted; aggregate status resolves the step as failed elsewhere
			}
		}
		next := total
		for next < len(items) {
			c := sp.LoopChildren[next]
			if c != nil {
				next++
				continue
			}
			break
		}
		if next < len(items) {
			actions = append(actions, enqueueLoopChild(step, spec, state, scope, next, items[next], now)...)
		}
	case domain.IterParallel:
		running := 0
		for _, c := range sp.LoopChildren {
			if c != nil && !c.Status.Terminal() {
				running++
			}
		}
		limit := spec.Parallelism
		if limit <= 0 {
			limit = 1
		}
		for i := 0; i < len(items) && running < limit; i++ {
			if _, ok := sp.LoopChildren[i]; ok {
				continue
			}
			actions = append(actions, enqueueLoopChild(step, spec, state, scope, i, items[i], now)...)
			running++
		}
	}
	return actions, nil
}

func enqueueLoopChild(step *domain.StepDef, spec domain.IteratorSpec, state *domain.ExecutionState, scope domain.Value, index int, item domain.Value, now time.Time) []Action {
	if spec.Task == nil {
		return []Action{appendEvent(domain.EventStepFailed, step.Name, 1, nil, map[string]any{
			"reason": "validation_error",
			"detail": "iterator step missing task definition",
		})}
	}
	childScope := scopeWithLoopVars(scope, item, index)
	li := index
	actions, err := decideReady(spec.Task, state, childScope, 1, &li, now)
	if err != nil {
		return stepFailedFromResolution(step.Name, 1, &li, err)
	}
	// Loop-child job/events are recorded under the iterator step's own
	// name with a non-nil LoopIndex, per the job key tuple in §3.
	for i := range actions {
		if actions[i].Event != nil {
			actions[i].Event.StepName = step.Name
		}
		if actions[i].Job != nil {
			actions[i].Job.Key.StepName = step.Name
		}
	}
	return actions
}

func decodeIteratorSpec(m map[string]any) (domain.IteratorSpec, error) {
	spec := domain.IteratorSpec{Mode: domain.IterSequential}
	if m == nil {
		return spec, fmt.Errorf("iterator step missing spec")
	}
	if c, ok := m["collection"].(string); ok {
		spec.Collection = c
	}
	if mode, ok := m["mode"].(string); ok {
		spec.Mode = domain.IteratorMode(mode)
	}
	if p, ok := m["parallelism"].(float64); ok {
		spec.Parallelism = int(p)
	}
	if coe, ok := m["continue_on_error"].(bool); ok {
		spec.ContinueOnError = coe
	}
	if task, ok := m["task"].(map[string]any); ok {
		def, err := decodeStepDef(task)
		if err != nil {
			return spec, err
		}
		spec.Task = def
	}
	return spec, nil
}

// decodeStepDef builds a minimal StepDef from an iterator's inline `task`
// map, enough for decideReady to resolve and enqueue it.
func decodeStepDef(m map[string]any) (*domain.StepDef, error) {
	def := &domain.StepDef{}
	if name, ok := m["step"].(string); ok {
		def.Name = name
	}
	if tool, ok := m["tool"].(string); ok {
		def.Tool = domain.ToolKind(tool)
	}
	if spec, ok := m["spec"].(map[string]any); ok {
		def.Spec = spec
	}
	if args, ok := m["args"].(map[string]any); ok {
		strArgs := make(map[string]string, len(args))
		for k, v := range args {
			if s, ok := v.(string); ok {
				strArgs[k] = s
			}
		}
		def.Args = strArgs
	}
	return def, nil
}

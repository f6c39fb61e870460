package interpreter

import (
	"github.com/noetl/noetl/internal/domain"
	"github.com/noetl/noetl/internal/template"
)

// selectedSuccessors implements §4.4 step 3a: evaluate `case` rules
// top-to-bottom against the predecessor's terminal outcome, falling back to
// `next`. A SKIPPED predecessor selects nothing (its own branch never ran,
// so nothing downstream of it is reachable through it). A FAILED
// predecessor that still has retry budget is never passed here (the caller
// only invokes this once the predecessor is genuinely terminal for
// scheduling purposes); a FAILED predecessor past its retry budget with
// on_error=="continue" falls through to `next` like a completed step.
func selectedSuccessors(step *domain.StepDef, proj *domain.StepProjection, scope domain.Value) ([]string, error) {
	if proj.Status == domain.StepSkipped {
		return nil, nil
	}
	if proj.Status == domain.StepFailed && step.OnError != "continue" {
		return nil, nil
	}

	if len(step.Case) > 0 {
		for _, rule := range step.Case {
			ok, err := template.EvalCondition(rule.When, scope)
			if err != nil {
				return nil, err
			}
			if ok {
				return refNames(rule.Then), nil
			}
		}
		for _, rule := range step.Case {
			if len(rule.Else) > 0 {
				return refNames(rule.Else), nil
			}
		}
		return nil, nil
	}
	return refNames(step.Next), nil
}

func refNames(refs []domain.StepRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.Step
	}
	return out
}

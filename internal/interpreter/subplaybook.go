package interpreter

import "github.com/noetl/noetl/internal/domain"

// decidePlaybook implements §4.4 step 2c: spawn a child execution and leave
// the parent step RUNNING (the projector folds subplaybook_spawned to
// RUNNING; no step_enqueued/completed is emitted here). Nothing in the
// broker or the projector folds the child's terminal status back onto the
// parent: no step_completed/failed is appended for the parent step, so it
// stays RUNNING.
func decidePlaybook(step *domain.StepDef, specMap map[string]any) ([]Action, error) {
	path, _ := specMap["path"].(string)
	version, _ := specMap["version"].(string)
	workload, _ := specMap["args"].(map[string]any)
	if workload == nil {
		workload = map[string]any{}
	}
	return []Action{
		appendEvent(domain.EventSubplaybookSpawned, step.Name, 1, nil, map[string]any{
			"playbook_path":    path,
			"playbook_version": version,
		}),
		{
			Kind: ActionSpawnSubexecution,
			Spawn: &SpawnSubexecution{
				PlaybookPath:    path,
				PlaybookVersion: version,
				Workload:        workload,
				ParentStepName:  step.Name,
			},
		},
	}, nil
}

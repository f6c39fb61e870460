package stateproj

import (
	"testing"

	"github.com/noetl/noetl/internal/domain"
)

func fanInPlaybook() *domain.Playbook {
	return &domain.Playbook{
		Path: "examples/fanin",
		Workflow: []domain.StepDef{
			{Name: "start", Tool: domain.ToolNoop, Spec: map[string]any{}, Next: []domain.StepRef{{Step: "a"}, {Step: "b"}}},
			{Name: "a", Tool: domain.ToolNoop, Spec: map[string]any{}, Next: []domain.StepRef{{Step: "join"}}},
			{Name: "b", Tool: domain.ToolNoop, Spec: map[string]any{}, Next: []domain.StepRef{{Step: "join"}}},
			{Name: "join", Tool: domain.ToolNoop, Spec: map[string]any{}},
		},
	}
}

// TestProject_CompletedStepResolvesSuccessorFanIn exercises
// resolveOutgoingEdges/DecrementIncoming: join has two predecessors, so its
// UnresolvedIncoming starts at 2 and drops to 0 only once both a and b have
// reached a terminal status.
func TestProject_CompletedStepResolvesSuccessorFanIn(t *testing.T) {
	pb := fanInPlaybook()
	events := []domain.Event{
		{ExecutionID: 1, Seq: 0, Kind: domain.EventExecutionStarted, Payload: map[string]any{"workload": map[string]any{}}},
		{ExecutionID: 1, Seq: 1, Kind: domain.EventStepEnqueued, StepName: "start", Attempt: 1},
		{ExecutionID: 1, Seq: 2, Kind: domain.EventStepCompleted, StepName: "start", Attempt: 1, Payload: map[string]any{"data": "ok"}},
	}
	st, err := Project(pb, events)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if st.Steps["join"].UnresolvedIncoming != 2 {
		t.Fatalf("expected join's UnresolvedIncoming to still be 2, got %d", st.Steps["join"].UnresolvedIncoming)
	}

	events = append(events,
		domain.Event{ExecutionID: 1, Seq: 3, Kind: domain.EventStepEnqueued, StepName: "a", Attempt: 1},
		domain.Event{ExecutionID: 1, Seq: 4, Kind: domain.EventStepCompleted, StepName: "a", Attempt: 1, Payload: map[string]any{"data": "ok"}},
	)
	st, err = Project(pb, events)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if st.Steps["join"].UnresolvedIncoming != 1 {
		t.Fatalf("expected join's UnresolvedIncoming to drop to 1 after 'a' completes, got %d", st.Steps["join"].UnresolvedIncoming)
	}

	events = append(events,
		domain.Event{ExecutionID: 1, Seq: 5, Kind: domain.EventStepSkipped, StepName: "b", Attempt: 1, Payload: map[string]any{"reason": "fan_in_all_incoming_skipped"}},
	)
	st, err = Project(pb, events)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if st.Steps["join"].UnresolvedIncoming != 0 {
		t.Fatalf("expected join's UnresolvedIncoming to reach 0 once 'b' is skipped too, got %d", st.Steps["join"].UnresolvedIncoming)
	}
	found := false
	for _, name := range st.PendingSuccessors {
		if name == "join" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected 'join' among PendingSuccessors once both incoming edges resolved, got %v", st.PendingSuccessors)
	}
}

// TestProject_RetriedFailureDoesNotDoubleDecrement guards EdgesResolved: a
// step that fails, retries, and fails again must only resolve its outgoing
// edges once.
func TestProject_RetriedFailureDoesNotDoubleDecrement(t *testing.T) {
	pb := fanInPlaybook()
	events := []domain.Event{
		{ExecutionID: 1, Seq: 0, Kind: domain.EventExecutionStarted, Payload: map[string]any{"workload": map[string]any{}}},
		{ExecutionID: 1, Seq: 1, Kind: domain.EventStepEnqueued, StepName: "start", Attempt: 1},
		{ExecutionID: 1, Seq: 2, Kind: domain.EventStepCompleted, StepName: "start", Attempt: 1, Payload: map[string]any{"data": "ok"}},
		{ExecutionID: 1, Seq: 3, Kind: domain.EventStepEnqueued, StepName: "a", Attempt: 1},
		{ExecutionID: 1, Seq: 4, Kind: domain.EventStepFailed, StepName: "a", Attempt: 1, Payload: map[string]any{"reason": "boom"}},
		{ExecutionID: 1, Seq: 5, Kind: domain.EventStepEnqueued, StepName: "a", Attempt: 2},
		{ExecutionID: 1, Seq: 6, Kind: domain.EventStepFailed, StepName: "a", Attempt: 2, Payload: map[string]any{"reason": "boom again"}},
	}
	st, err := Project(pb, events)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if st.Steps["join"].UnresolvedIncoming != 1 {
		t.Fatalf("expected exactly one decrement across two failed attempts of 'a', got UnresolvedIncoming=%d", st.Steps["join"].UnresolvedIncoming)
	}
}

func TestProject_BranchTakenFoldsOntoStepProjection(t *testing.T) {
	pb := branchTestPlaybook()
	events := []domain.Event{
		{ExecutionID: 1, Seq: 0, Kind: domain.EventExecutionStarted, Payload: map[string]any{"workload": map[string]any{}}},
		{ExecutionID: 1, Seq: 1, Kind: domain.EventStepEnqueued, StepName: "start", Attempt: 1},
		{ExecutionID: 1, Seq: 2, Kind: domain.EventStepCompleted, StepName: "start", Attempt: 1, Payload: map[string]any{"data": "ok"}},
		{ExecutionID: 1, Seq: 3, Kind: domain.EventBranchTaken, StepName: "start", Attempt: 1, Payload: map[string]any{"selected": []any{"prod_deploy"}}},
	}
	st, err := Project(pb, events)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	sp := st.Steps["start"]
	if !sp.BranchTaken {
		t.Fatalf("expected BranchTaken to be set")
	}
	if len(sp.BranchSelected) != 1 || sp.BranchSelected[0] != "prod_deploy" {
		t.Fatalf("expected BranchSelected=[prod_deploy], got %v", sp.BranchSelected)
	}
}

func branchTestPlaybook() *domain.Playbook {
	return &domain.Playbook{
		Path: "examples/deploy",
		Workflow: []domain.StepDef{
			{Name: "start", Tool: domain.ToolNoop, Spec: map[string]any{}, Case: []domain.CaseRule{
				{When: "{{ workload.env }} == prod", Then: []domain.StepRef{{Step: "prod_deploy"}}, Else: []domain.StepRef{{Step: "staging_deploy"}}},
			}},
			{Name: "prod_deploy", Tool: domain.ToolNoop, Spec: map[string]any{}},
			{Name: "staging_deploy", Tool: domain.ToolNoop, Spec: map[string]any{}},
		},
	}
}

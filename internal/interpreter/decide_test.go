package interpreter

import (
	"testing"
	"time"

	"github.com/noetl/noetl/internal/domain"
	"github.com/noetl/noetl/internal/stateproj"
)

func linearPlaybook() *domain.Playbook {
	return &domain.Playbook{
		Path:    "examples/linear",
		Version: "1",
		Workflow: []domain.StepDef{
			{Name: "start", Tool: domain.ToolNoop, Spec: map[string]any{}, Next: []domain.StepRef{{Step: "finish"}}},
			{Name: "finish", Tool: domain.ToolNoop, Spec: map[string]any{}},
		},
	}
}

func TestDecide_BootstrapEmitsExecutionStarted(t *testing.T) {
	pb := linearPlaybook()
	state, err := stateproj.Project(pb, nil)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	actions, err := Decide(pb, state, time.Now())
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if len(actions) != 1 || actions[0].Kind != ActionAppendEvent || actions[0].Event.Kind != domain.EventExecutionStarted {
		t.Fatalf("expected single execution_started action, got %+v", actions)
	}
}

func TestDecide_StartStepEnqueuedAfterBootstrap(t *testing.T) {
	pb := linearPlaybook()
	events := []domain.Event{
		{ExecutionID: 1, Seq: 0, Kind: domain.EventExecutionStarted, Payload: map[string]any{"workload": map[string]any{}}},
	}
	state, err := stateproj.Project(pb, events)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	actions, err := Decide(pb, state, time.Now())
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	foundEnqueue := false
	for _, a := range actions {
		if a.Kind == ActionEnqueueJob && a.Job.Key.StepName == "start" {
			foundEnqueue = true
		}
	}
	if !foundEnqueue {
		t.Fatalf("expected start step to be enqueued, got %+v", actions)
	}
}

func TestDecide_SuccessorReadyAfterCompletion(t *testing.T) {
	pb := linearPlaybook()
	events := []domain.Event{
		{ExecutionID: 1, Seq: 0, Kind: domain.EventExecutionStarted, Payload: map[string]any{"workload": map[string]any{}}},
		{ExecutionID: 1, Seq: 1, Kind: domain.EventStepEnqueued, StepName: "start", Attempt: 1},
		{ExecutionID: 1, Seq: 2, Kind: domain.EventStepStarted, StepName: "start", Attempt: 1},
		{ExecutionID: 1, Seq: 3, Kind: domain.EventStepCompleted, StepName: "start", Attempt: 1, Payload: map[string]any{"data": "ok"}},
	}
	state, err := stateproj.Project(pb, events)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	actions, err := Decide(pb, state, time.Now())
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	found := false
	for _, a := range actions {
		if a.Kind == ActionEnqueueJob && a.Job.Key.StepName == "finish" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected 'finish' step to become ready, got %+v", actions)
	}
}

func TestDecide_CompletesExecutionWhenAllStepsTerminal(t *testing.T) {
	pb := linearPlaybook()
	events := []domain.Event{
		{ExecutionID: 1, Seq: 0, Kind: domain.EventExecutionStarted, Payload: map[string]any{"workload": map[string]any{}}},
		{ExecutionID: 1, Seq: 1, Kind: domain.EventStepEnqueued, StepName: "start", Attempt: 1},
		{ExecutionID: 1, Seq: 2, Kind: domain.EventStepCompleted, StepName: "start", Attempt: 1, Payload: map[string]any{"data": "ok"}},
		{ExecutionID: 1, Seq: 3, Kind: domain.EventStepEnqueued, StepName: "finish", Attempt: 1},
		{ExecutionID: 1, Seq: 4, Kind: domain.EventStepCompleted, StepName: "finish", Attempt: 1, Payload: map[string]any{"data": "done"}},
	}
	state, err := stateproj.Project(pb, events)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	actions, err := Decide(pb, state, time.Now())
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	var completed bool
	for _, a := range actions {
		if a.Kind == ActionCompleteExecution && a.FinalStatus == domain.ExecCompleted {
			completed = true
		}
	}
	if !completed {
		t.Fatalf("expected execution to complete, got %+v", actions)
	}
}

func TestDecide_FanInSkipsWhenAllIncomingSkipped(t *testing.T) {
	pb := &domain.Playbook{
		Path: "examples/fanin",
		Workflow: []domain.StepDef{
			{Name: "start", Tool: domain.ToolNoop, Spec: map[string]any{}, Case: []domain.CaseRule{
				{When: "false", Then: []domain.StepRef{{Step: "a"}}, Else: []domain.StepRef{{Step: "b"}}},
			}},
			{Name: "a", Tool: domain.ToolNoop, Spec: map[string]any{}, Next: []domain.StepRef{{Step: "join"}}},
			{Name: "b", Tool: domain.ToolNoop, Spec: map[string]any{}, Next: []domain.StepRef{{Step: "finish"}}},
			{Name: "join", Tool: domain.ToolNoop, Spec: map[string]any{}},
			{Name: "finish", Tool: domain.ToolNoop, Spec: map[string]any{}},
		},
	}
	events := []domain.Event{
		{ExecutionID: 1, Seq: 0, Kind: domain.EventExecutionStarted, Payload: map[string]any{"workload": map[string]any{}}},
		{ExecutionID: 1, Seq: 1, Kind: domain.EventStepEnqueued, StepName: "start", Attempt: 1},
		{ExecutionID: 1, Seq: 2, Kind: domain.EventStepCompleted, StepName: "start", Attempt: 1, Payload: map[string]any{"data": "ok"}},
	}
	state, err := stateproj.Project(pb, events)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	actions, err := Decide(pb, state, time.Now())
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	var skippedA, readyB bool
	for _, a := range actions {
		if a.Kind == ActionAppendEvent && a.Event.Kind == domain.EventStepSkipped && a.Event.StepName == "a" {
			skippedA = true
		}
		if a.Kind == ActionEnqueueJob && a.Job.Key.StepName == "b" {
			readyB = true
		}
	}
	if !skippedA {
		t.Fatalf("expected step 'a' to be skipped, got %+v", actions)
	}
	if !readyB {
		t.Fatalf("expected step 'b' to be enqueued, got %+v", actions)
	}
	// join's only predecessor is a, whose skip is emitted this tick but not
	// yet folded; join must get no action until a is terminal.
	for _, a := range actions {
		if a.Event != nil && a.Event.StepName == "join" {
			t.Fatalf("did not expect any action for 'join' yet, got %+v", a)
		}
	}
}

// branchPlaybook mirrors §8 scenario 2: deploy is chosen by comparing
// workload.env against an unquoted constant, selecting prod_deploy only
// when env is exactly "prod".
func branchPlaybook() *domain.Playbook {
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

func TestDecide_CaseWhenSelectsBranchAndEmitsBranchTaken(t *testing.T) {
	pb := branchPlaybook()
	events := []domain.Event{
		{ExecutionID: 1, Seq: 0, Kind: domain.EventExecutionStarted, Payload: map[string]any{"workload": map[string]any{"env": "staging"}}},
		{ExecutionID: 1, Seq: 1, Kind: domain.EventStepEnqueued, StepName: "start", Attempt: 1},
		{ExecutionID: 1, Seq: 2, Kind: domain.EventStepCompleted, StepName: "start", Attempt: 1, Payload: map[string]any{"data": "ok"}},
	}
	state, err := stateproj.Project(pb, events)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	actions, err := Decide(pb, state, time.Now())
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}

	var sawBranchTaken bool
	var readyProd, readyStaging bool
	for _, a := range actions {
		if a.Kind == ActionAppendEvent && a.Event.Kind == domain.EventBranchTaken {
			sawBranchTaken = true
			selected, _ := a.Event.Payload["selected"].([]string)
			if len(selected) != 1 || selected[0] != "staging_deploy" {
				t.Fatalf("expected branch_taken to select staging_deploy for env=staging, got %+v", a.Event.Payload)
			}
		}
		if a.Kind == ActionEnqueueJob && a.Job.Key.StepName == "prod_deploy" {
			readyProd = true
		}
		if a.Kind == ActionEnqueueJob && a.Job.Key.StepName == "staging_deploy" {
			readyStaging = true
		}
	}
	if !sawBranchTaken {
		t.Fatalf("expected a branch_taken action, got %+v", actions)
	}
	if readyProd {
		t.Fatalf("prod_deploy must not be selected when env=staging, got %+v", actions)
	}
	if !readyStaging {
		t.Fatalf("expected staging_deploy to be enqueued, got %+v", actions)
	}
}

func TestDecide_BranchTakenNotReemittedOnLaterTick(t *testing.T) {
	pb := branchPlaybook()
	events := []domain.Event{
		{ExecutionID: 1, Seq: 0, Kind: domain.EventExecutionStarted, Payload: map[string]any{"workload": map[string]any{"env": "prod"}}},
		{ExecutionID: 1, Seq: 1, Kind: domain.EventStepEnqueued, StepName: "start", Attempt: 1},
		{ExecutionID: 1, Seq: 2, Kind: domain.EventStepCompleted, StepName: "start", Attempt: 1, Payload: map[string]any{"data": "ok"}},
		{ExecutionID: 1, Seq: 3, Kind: domain.EventBranchTaken, StepName: "start", Attempt: 1, Payload: map[string]any{"selected": []string{"prod_deploy"}}},
		{ExecutionID: 1, Seq: 4, Kind: domain.EventStepEnqueued, StepName: "prod_deploy", Attempt: 1},
	}
	state, err := stateproj.Project(pb, events)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if !state.Steps["start"].BranchTaken {
		t.Fatalf("expected branch_taken to be folded onto the step projection")
	}
	actions, err := Decide(pb, state, time.Now())
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	for _, a := range actions {
		if a.Kind == ActionAppendEvent && a.Event.Kind == domain.EventBranchTaken {
			t.Fatalf("did not expect a second branch_taken action, got %+v", actions)
		}
	}
}

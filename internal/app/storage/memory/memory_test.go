package memory

import (
	"context"
	"testing"

	"github.com/flowmesh/flowmesh/internal/app/domain/workflow"
	"github.com/flowmesh/flowmesh/internal/app/storage"
)

func TestWorkflowLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateWorkflow(ctx, workflow.Definition{Name: "demo", Variables: map[string]any{"k": "v"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Fatalf("created workflow incomplete: %+v", created)
	}

	if _, err := s.CreateWorkflow(ctx, workflow.Definition{ID: created.ID, Name: "dup"}); err == nil {
		t.Fatalf("expected duplicate id error")
	}

	got, err := s.GetWorkflow(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// Stored copies must not alias the caller's maps.
	got.Variables["k"] = "mutated"
	again, _ := s.GetWorkflow(ctx, created.ID)
	if again.Variables["k"] != "v" {
		t.Fatalf("store leaked internal state: %v", again.Variables)
	}

	created.Name = "renamed"
	updated, err := s.UpdateWorkflow(ctx, created)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("update must keep the creation time")
	}

	if _, err := s.UpdateWorkflow(ctx, workflow.Definition{ID: "ghost", Name: "x"}); err == nil {
		t.Fatalf("expected not-found error on update")
	}

	list, err := s.ListWorkflows(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %d", err, len(list))
	}

	if err := s.DeleteWorkflow(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteWorkflow(ctx, created.ID); err == nil {
		t.Fatalf("expected not-found error on second delete")
	}
}

func TestExecutionHistory(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, err := s.CreateExecution(ctx, workflow.ExecutionResult{WorkflowID: "wf-1", Status: workflow.RunStatusCompleted})
	if err != nil {
		t.Fatalf("create execution: %v", err)
	}
	if _, err := s.CreateExecution(ctx, workflow.ExecutionResult{WorkflowID: "wf-1", Status: workflow.RunStatusFailed}); err != nil {
		t.Fatalf("create execution: %v", err)
	}
	if _, err := s.CreateExecution(ctx, workflow.ExecutionResult{WorkflowID: "wf-2", Status: workflow.RunStatusCompleted}); err != nil {
		t.Fatalf("create execution: %v", err)
	}

	got, err := s.GetExecution(ctx, first.ID)
	if err != nil || got.WorkflowID != "wf-1" {
		t.Fatalf("get execution: %v %+v", err, got)
	}
	if _, err := s.GetExecution(ctx, "ghost"); err == nil {
		t.Fatalf("expected not-found error")
	}

	list, err := s.ListExecutions(ctx, "wf-1")
	if err != nil || len(list) != 2 {
		t.Fatalf("list executions: %v %d", err, len(list))
	}
}

func TestRegistrationRecords(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.SaveSchedule(ctx, storage.ScheduleRecord{WorkflowID: "wf-1", CronExpression: "every 5 minutes"}); err != nil {
		t.Fatalf("save schedule: %v", err)
	}
	if err := s.SaveWebhook(ctx, storage.WebhookRecord{WorkflowID: "wf-1", Path: "/hook", Method: "POST"}); err != nil {
		t.Fatalf("save webhook: %v", err)
	}

	schedules, err := s.ListSchedules(ctx)
	if err != nil || len(schedules) != 1 {
		t.Fatalf("list schedules: %v %d", err, len(schedules))
	}
	webhooks, err := s.ListWebhooks(ctx)
	if err != nil || len(webhooks) != 1 {
		t.Fatalf("list webhooks: %v %d", err, len(webhooks))
	}

	if err := s.DeleteSchedule(ctx, "wf-1"); err != nil {
		t.Fatalf("delete schedule: %v", err)
	}
	if err := s.DeleteWebhook(ctx, "wf-1"); err != nil {
		t.Fatalf("delete webhook: %v", err)
	}
	if schedules, _ = s.ListSchedules(ctx); len(schedules) != 0 {
		t.Fatalf("schedule not deleted")
	}
	if webhooks, _ = s.ListWebhooks(ctx); len(webhooks) != 0 {
		t.Fatalf("webhook not deleted")
	}
}

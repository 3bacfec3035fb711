package workflows

import (
	"context"
	"errors"
	"testing"

	"github.com/flowmesh/flowmesh/internal/app/domain/workflow"
	"github.com/flowmesh/flowmesh/internal/app/services/engine"
	"github.com/flowmesh/flowmesh/internal/app/services/nodes"
	"github.com/flowmesh/flowmesh/internal/app/services/scheduler"
	"github.com/flowmesh/flowmesh/internal/app/services/webhooks"
	"github.com/flowmesh/flowmesh/internal/app/storage/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	registry := nodes.NewRegistry()
	nodes.RegisterBuiltins(registry, nodes.CatalogDeps{})
	executor := nodes.NewExecutor(registry, nil)
	eng := engine.New(registry, executor, nil)

	var svc *Service
	sched := scheduler.New(store, func(ctx context.Context, workflowID string) error {
		return svc.RunScheduled(ctx, workflowID)
	}, nil)
	router := webhooks.New(store, func(ctx context.Context, req webhooks.Request) (any, error) {
		return svc.RunWebhook(ctx, req)
	}, nil)
	svc = New(store, store, eng, sched, router, registry, nil)
	return svc, store
}

func manualWorkflow(name string) workflow.Definition {
	return workflow.Definition{
		Name: name,
		Nodes: []workflow.Node{
			{ID: "start", Type: nodes.TypeManualTrigger},
			{ID: "out", Type: nodes.TypeTransform, Config: map[string]any{"expression": "input.data"}},
		},
		Edges: []workflow.Edge{
			{ID: "e1", Source: "start", Target: "out"},
		},
	}
}

func TestServiceCRUD(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, manualWorkflow("demo"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.CreatedAt.IsZero() {
		t.Fatalf("created workflow incomplete: %+v", created)
	}

	if _, err := svc.Create(ctx, manualWorkflow("DEMO")); !errors.Is(err, ErrNameInUse) {
		t.Fatalf("expected name conflict, got %v", err)
	}
	if _, err := svc.Create(ctx, workflow.Definition{}); err == nil {
		t.Fatalf("expected missing name error")
	}

	created.Name = "renamed"
	updated, err := svc.Update(ctx, created)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "renamed" {
		t.Fatalf("update not applied: %+v", updated)
	}

	list, err := svc.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %d", err, len(list))
	}

	if err := svc.Delete(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, created.ID); err == nil {
		t.Fatalf("deleted workflow still retrievable")
	}
}

func TestServiceExecutePersistsResult(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, manualWorkflow("runner"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	result, err := svc.Execute(ctx, created.ID, map[string]any{"hello": "world"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != workflow.RunStatusCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}

	history, err := svc.Executions(ctx, created.ID)
	if err != nil {
		t.Fatalf("executions: %v", err)
	}
	if len(history) != 1 || history[0].ID != result.ID {
		t.Fatalf("run not persisted: %v", history)
	}

	stored, err := svc.Execution(ctx, result.ID)
	if err != nil || stored.WorkflowID != created.ID {
		t.Fatalf("execution lookup: %v %+v", err, stored)
	}
}

func TestServiceExecuteFailedRunIsPersisted(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	def := manualWorkflow("failing")
	def.Nodes[1] = workflow.Node{ID: "out", Type: nodes.TypeJSON, Config: map[string]any{"operation": "parse"}}
	created, err := svc.Create(ctx, def)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	result, err := svc.Execute(ctx, created.ID, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != workflow.RunStatusFailed {
		t.Fatalf("expected failed run, got %s", result.Status)
	}

	history, err := svc.Executions(ctx, created.ID)
	if err != nil || len(history) != 1 {
		t.Fatalf("failed runs must be persisted: %v %d", err, len(history))
	}
}

func TestServiceExecuteValidationErrorPersistsNothing(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// No trigger node.
	created, err := svc.Create(ctx, workflow.Definition{
		Name:  "invalid",
		Nodes: []workflow.Node{{ID: "only", Type: nodes.TypeTransform, Config: map[string]any{"expression": "1"}}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = svc.Execute(ctx, created.ID, nil)
	var verr *engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	history, err := svc.Executions(ctx, created.ID)
	if err != nil || len(history) != 0 {
		t.Fatalf("validation failure must not persist a run: %v %d", err, len(history))
	}
}

func TestServiceActivateScheduleTrigger(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	def := manualWorkflow("scheduled")
	def.Nodes[0] = workflow.Node{ID: "start", Type: nodes.TypeScheduleTrigger, Config: map[string]any{"schedule": "every 5 minutes"}}
	created, err := svc.Create(ctx, def)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	activation, err := svc.Activate(ctx, created.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if activation.Kind != "schedule" || activation.Schedule == nil {
		t.Fatalf("unexpected activation: %+v", activation)
	}
	if activation.Schedule.IntervalMs != 5*60*1000 {
		t.Fatalf("unexpected interval: %d", activation.Schedule.IntervalMs)
	}

	if err := svc.Deactivate(ctx, created.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
}

func TestServiceActivateScheduleTriggerBadExpression(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	def := manualWorkflow("badsched")
	def.Nodes[0] = workflow.Node{ID: "start", Type: nodes.TypeScheduleTrigger, Config: map[string]any{"schedule": "whenever"}}
	created, err := svc.Create(ctx, def)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = svc.Activate(ctx, created.ID)
	var perr *scheduler.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestServiceActivateWebhookTriggerAndRun(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	def := manualWorkflow("hooked")
	def.Nodes[0] = workflow.Node{ID: "start", Type: nodes.TypeWebhookTrigger, Config: map[string]any{"path": "inbound", "method": "post"}}
	def.Nodes[1] = workflow.Node{ID: "out", Type: nodes.TypeTransform, Config: map[string]any{"expression": "input.data.body.n + 1"}}
	created, err := svc.Create(ctx, def)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	activation, err := svc.Activate(ctx, created.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if activation.Kind != "webhook" || activation.Webhook == nil || activation.Webhook.Path != "/inbound" {
		t.Fatalf("unexpected activation: %+v", activation)
	}

	result, err := svc.RunWebhook(ctx, webhooks.Request{
		WorkflowID: created.ID,
		Path:       "/inbound",
		Method:     "POST",
		Body:       map[string]any{"n": 41},
	})
	if err != nil {
		t.Fatalf("run webhook: %v", err)
	}
	output := result.(map[string]any)
	if output["result"] != int64(42) {
		t.Fatalf("unexpected webhook run output: %v", output)
	}
}

func TestServiceActivateManualTriggerIsNoop(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, manualWorkflow("plain"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	activation, err := svc.Activate(ctx, created.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if activation.Kind != nodes.TypeManualTrigger || activation.Schedule != nil || activation.Webhook != nil {
		t.Fatalf("manual activation should bind nothing: %+v", activation)
	}
}

func TestServiceRunScheduled(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	def := manualWorkflow("cron")
	def.Nodes[0] = workflow.Node{ID: "start", Type: nodes.TypeScheduleTrigger, Config: map[string]any{"schedule": "every 5 minutes"}}
	created, err := svc.Create(ctx, def)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.RunScheduled(ctx, created.ID); err != nil {
		t.Fatalf("scheduled run: %v", err)
	}
	history, err := svc.Executions(ctx, created.ID)
	if err != nil || len(history) != 1 {
		t.Fatalf("scheduled run not persisted: %v %d", err, len(history))
	}
}

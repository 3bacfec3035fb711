// Package workflows provides workflow CRUD, execution, activation and run
// history on top of the engine, scheduler and webhook router.
package workflows

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/flowmesh/flowmesh/internal/app/domain/workflow"
	"github.com/flowmesh/flowmesh/internal/app/services/engine"
	"github.com/flowmesh/flowmesh/internal/app/services/nodes"
	"github.com/flowmesh/flowmesh/internal/app/services/scheduler"
	"github.com/flowmesh/flowmesh/internal/app/services/webhooks"
	"github.com/flowmesh/flowmesh/internal/app/storage"
	"github.com/flowmesh/flowmesh/pkg/logger"
)

// ErrNameInUse is returned when another workflow already uses the requested
// name.
var ErrNameInUse = errors.New("workflow name is already in use")

// Activation reports what a workflow's trigger was bound to. Exactly one of
// Schedule and Webhook is set for their respective kinds.
type Activation struct {
	WorkflowID string                 `json:"workflowId"`
	Kind       string                 `json:"kind"`
	Schedule   *scheduler.Entry       `json:"schedule,omitempty"`
	Webhook    *webhooks.Registration `json:"webhook,omitempty"`
}

// Service orchestrates workflow lifecycle and runs.
type Service struct {
	store      storage.WorkflowStore
	executions storage.ExecutionStore
	engine     *engine.Engine
	scheduler  *scheduler.Scheduler
	router     *webhooks.Router
	registry   *nodes.Registry
	log        *logger.Logger
}

// New creates the workflow service.
func New(store storage.WorkflowStore, executions storage.ExecutionStore, eng *engine.Engine, sched *scheduler.Scheduler, router *webhooks.Router, registry *nodes.Registry, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("workflows")
	}
	return &Service{
		store:      store,
		executions: executions,
		engine:     eng,
		scheduler:  sched,
		router:     router,
		registry:   registry,
		log:        log,
	}
}

// Create validates and stores a new workflow. Names must be unique across
// the store.
func (s *Service) Create(ctx context.Context, def workflow.Definition) (workflow.Definition, error) {
	def.Normalize()
	if strings.TrimSpace(def.Name) == "" {
		return workflow.Definition{}, fmt.Errorf("workflow name is required")
	}
	if err := s.nameAvailable(ctx, def.Name, def.ID); err != nil {
		return workflow.Definition{}, err
	}

	created, err := s.store.CreateWorkflow(ctx, def)
	if err != nil {
		return workflow.Definition{}, err
	}
	s.log.WithField("workflow_id", created.ID).WithField("name", created.Name).Info("workflow created")
	return created, nil
}

// Update replaces a stored workflow.
func (s *Service) Update(ctx context.Context, def workflow.Definition) (workflow.Definition, error) {
	def.Normalize()
	if strings.TrimSpace(def.Name) == "" {
		return workflow.Definition{}, fmt.Errorf("workflow name is required")
	}
	if err := s.nameAvailable(ctx, def.Name, def.ID); err != nil {
		return workflow.Definition{}, err
	}

	updated, err := s.store.UpdateWorkflow(ctx, def)
	if err != nil {
		return workflow.Definition{}, err
	}
	s.log.WithField("workflow_id", updated.ID).Info("workflow updated")
	return updated, nil
}

// Get returns one workflow by id.
func (s *Service) Get(ctx context.Context, id string) (workflow.Definition, error) {
	return s.store.GetWorkflow(ctx, id)
}

// List returns all workflows ordered by creation time.
func (s *Service) List(ctx context.Context) ([]workflow.Definition, error) {
	return s.store.ListWorkflows(ctx)
}

// Delete removes a workflow and releases any trigger bindings it holds.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteWorkflow(ctx, id); err != nil {
		return err
	}
	s.scheduler.Unschedule(ctx, id)
	s.router.Unregister(ctx, id)
	s.log.WithField("workflow_id", id).Info("workflow deleted")
	return nil
}

// Execute runs a stored workflow once with the given trigger payload. The
// execution record is persisted whether the run completed or failed; a
// definition that fails validation produces no record at all.
func (s *Service) Execute(ctx context.Context, id string, payload any) (workflow.ExecutionResult, error) {
	def, err := s.store.GetWorkflow(ctx, id)
	if err != nil {
		return workflow.ExecutionResult{}, err
	}

	result, err := s.engine.Run(ctx, def, payload)
	if err != nil {
		return workflow.ExecutionResult{}, err
	}

	stored, err := s.executions.CreateExecution(ctx, result)
	if err != nil {
		s.log.WithError(err).WithField("workflow_id", id).Warn("failed to persist execution result")
		return result, nil
	}
	return stored, nil
}

// Activate binds the workflow's trigger: schedule triggers get a timer,
// webhook triggers get a route. Manual and other triggers need no binding.
func (s *Service) Activate(ctx context.Context, id string) (Activation, error) {
	def, err := s.store.GetWorkflow(ctx, id)
	if err != nil {
		return Activation{}, err
	}

	trigger, ok := s.findTrigger(def)
	if !ok {
		return Activation{}, fmt.Errorf("workflow %s has no trigger node", id)
	}

	switch trigger.Type {
	case nodes.TypeScheduleTrigger:
		expr, _ := trigger.Config["schedule"].(string)
		entry, err := s.scheduler.Schedule(ctx, id, expr, nil)
		if err != nil {
			return Activation{}, err
		}
		return Activation{WorkflowID: id, Kind: "schedule", Schedule: &entry}, nil
	case nodes.TypeWebhookTrigger:
		path, _ := trigger.Config["path"].(string)
		if path == "" {
			path = "/" + id
		}
		method, _ := trigger.Config["method"].(string)
		reg, err := s.router.Register(ctx, id, path, method)
		if err != nil {
			return Activation{}, err
		}
		return Activation{WorkflowID: id, Kind: "webhook", Webhook: &reg}, nil
	default:
		return Activation{WorkflowID: id, Kind: trigger.Type}, nil
	}
}

// Deactivate releases the workflow's trigger bindings. It is safe to call
// for workflows that were never activated.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	if _, err := s.store.GetWorkflow(ctx, id); err != nil {
		return err
	}
	s.scheduler.Unschedule(ctx, id)
	s.router.Unregister(ctx, id)
	return nil
}

// Executions returns the run history for a workflow.
func (s *Service) Executions(ctx context.Context, workflowID string) ([]workflow.ExecutionResult, error) {
	return s.executions.ListExecutions(ctx, workflowID)
}

// Execution returns one execution record by id.
func (s *Service) Execution(ctx context.Context, id string) (workflow.ExecutionResult, error) {
	return s.executions.GetExecution(ctx, id)
}

// RunScheduled is the scheduler callback: it runs the workflow with a
// schedule-shaped trigger payload.
func (s *Service) RunScheduled(ctx context.Context, workflowID string) error {
	result, err := s.Execute(ctx, workflowID, map[string]any{"source": "schedule"})
	if err != nil {
		return err
	}
	if result.Status == workflow.RunStatusFailed {
		return fmt.Errorf("scheduled run %s failed", result.ID)
	}
	return nil
}

// RunWebhook is the webhook router callback: it runs the bound workflow and
// returns the output of its last successful node.
func (s *Service) RunWebhook(ctx context.Context, req webhooks.Request) (any, error) {
	payload := map[string]any{
		"source":  "webhook",
		"path":    req.Path,
		"method":  req.Method,
		"headers": req.Headers,
		"body":    req.Body,
	}
	result, err := s.Execute(ctx, req.WorkflowID, payload)
	if err != nil {
		return nil, err
	}
	if result.Status == workflow.RunStatusFailed {
		return nil, fmt.Errorf("webhook run %s failed", result.ID)
	}
	return lastOutput(result), nil
}

func (s *Service) findTrigger(def workflow.Definition) (workflow.Node, bool) {
	for _, n := range def.Nodes {
		if s.registry.IsTrigger(n.Type) {
			return n, true
		}
	}
	return workflow.Node{}, false
}

func (s *Service) nameAvailable(ctx context.Context, name, selfID string) error {
	existing, err := s.store.ListWorkflows(ctx)
	if err != nil {
		return err
	}
	for _, def := range existing {
		if def.ID != selfID && strings.EqualFold(def.Name, name) {
			return fmt.Errorf("%w: %s", ErrNameInUse, name)
		}
	}
	return nil
}

// lastOutput returns the output of the final node that ran successfully.
func lastOutput(result workflow.ExecutionResult) any {
	for i := len(result.Nodes) - 1; i >= 0; i-- {
		if result.Nodes[i].Status == workflow.NodeStatusSuccess {
			return result.Nodes[i].Output
		}
	}
	return nil
}

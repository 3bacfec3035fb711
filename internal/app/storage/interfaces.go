package storage

import (
	"context"

	"github.com/flowmesh/flowmesh/internal/app/domain/workflow"
)

// WorkflowStore persists workflow definitions.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, def workflow.Definition) (workflow.Definition, error)
	UpdateWorkflow(ctx context.Context, def workflow.Definition) (workflow.Definition, error)
	GetWorkflow(ctx context.Context, id string) (workflow.Definition, error)
	ListWorkflows(ctx context.Context) ([]workflow.Definition, error)
	DeleteWorkflow(ctx context.Context, id string) error
}

// ExecutionStore persists execution results.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, res workflow.ExecutionResult) (workflow.ExecutionResult, error)
	GetExecution(ctx context.Context, id string) (workflow.ExecutionResult, error)
	ListExecutions(ctx context.Context, workflowID string) ([]workflow.ExecutionResult, error)
}

// ScheduleRecord is the durable shape of one scheduled workflow, enough to
// rehydrate its timer after a restart.
type ScheduleRecord struct {
	WorkflowID     string `json:"workflow_id"`
	CronExpression string `json:"cron_expression"`
	NextRun        int64  `json:"next_run_unix_ms"`
}

// WebhookRecord is the durable shape of one webhook registration.
type WebhookRecord struct {
	WorkflowID string `json:"workflow_id"`
	Path       string `json:"path"`
	Method     string `json:"method"`
	CreatedAt  int64  `json:"created_at_unix_ms"`
}

// RegistrationStore persists scheduler and webhook registrations so an
// instance can rehydrate them on startup. Both maps are keyed by workflow id.
type RegistrationStore interface {
	SaveSchedule(ctx context.Context, rec ScheduleRecord) error
	DeleteSchedule(ctx context.Context, workflowID string) error
	ListSchedules(ctx context.Context) ([]ScheduleRecord, error)

	SaveWebhook(ctx context.Context, rec WebhookRecord) error
	DeleteWebhook(ctx context.Context, workflowID string) error
	ListWebhooks(ctx context.Context) ([]WebhookRecord, error)
}

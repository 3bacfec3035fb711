package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/flowmesh/flowmesh/internal/app/services/engine"
	"github.com/flowmesh/flowmesh/internal/app/services/nodes"
	"github.com/flowmesh/flowmesh/internal/app/services/scheduler"
	"github.com/flowmesh/flowmesh/internal/app/services/webhooks"
	"github.com/flowmesh/flowmesh/internal/app/services/workflows"
	"github.com/flowmesh/flowmesh/internal/app/storage"
	"github.com/flowmesh/flowmesh/internal/app/storage/memory"
	"github.com/flowmesh/flowmesh/internal/app/system"
	"github.com/flowmesh/flowmesh/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Workflows     storage.WorkflowStore
	Executions    storage.ExecutionStore
	Registrations storage.RegistrationStore
}

// Dependencies carries the external collaborators node handlers need. All
// fields are optional; nil entries disable the dependent node types at
// invocation time.
type Dependencies struct {
	Completer  nodes.Completer
	DB         *sqlx.DB
	HTTPClient *http.Client
}

// Application ties the workflow services together and manages their
// lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Registry  *nodes.Registry
	Engine    *engine.Engine
	Scheduler *scheduler.Scheduler
	Webhooks  *webhooks.Router
	Workflows *workflows.Service
}

// New builds a fully initialised application with the provided stores and
// collaborators.
func New(stores Stores, deps Dependencies, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Workflows == nil {
		stores.Workflows = mem
	}
	if stores.Executions == nil {
		stores.Executions = mem
	}
	if stores.Registrations == nil {
		stores.Registrations = mem
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	registry := nodes.NewRegistry()
	nodes.RegisterBuiltins(registry, nodes.CatalogDeps{
		Completer:  deps.Completer,
		DB:         deps.DB,
		HTTPClient: deps.HTTPClient,
		Log:        log,
	})

	executor := nodes.NewExecutor(registry, log)
	eng := engine.New(registry, executor, log)

	// The scheduler and router callbacks close over the service pointer,
	// which is assigned before anything starts.
	var svc *workflows.Service
	sched := scheduler.New(stores.Registrations, func(ctx context.Context, workflowID string) error {
		return svc.RunScheduled(ctx, workflowID)
	}, log)
	router := webhooks.New(stores.Registrations, func(ctx context.Context, req webhooks.Request) (any, error) {
		return svc.RunWebhook(ctx, req)
	}, log)
	svc = workflows.New(stores.Workflows, stores.Executions, eng, sched, router, registry, log)

	manager := system.NewManager()
	for _, s := range []system.Service{sched, router} {
		if err := manager.Register(s); err != nil {
			return nil, fmt.Errorf("register %s: %w", s.Name(), err)
		}
	}

	return &Application{
		manager:   manager,
		log:       log,
		Registry:  registry,
		Engine:    eng,
		Scheduler: sched,
		Webhooks:  router,
		Workflows: svc,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

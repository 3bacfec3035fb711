// Package app composes the workflow services into a running application.
//
// The packages underneath are layered as follows:
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   └── workflow/       # Workflow definitions and execution results
//	├── storage/            # Store interfaces and implementations
//	│   ├── interfaces.go   # WorkflowStore, ExecutionStore, RegistrationStore
//	│   ├── memory/         # In-memory implementation, default and for tests
//	│   ├── postgres/       # PostgreSQL-backed workflow and execution stores
//	│   └── redisstore/     # Redis-backed trigger registrations
//	├── services/           # Business logic
//	│   ├── nodes/          # Node type registry, handlers, and executor
//	│   ├── engine/         # Graph traversal and run orchestration
//	│   ├── scheduler/      # Interval schedules over restricted expressions
//	│   ├── webhooks/       # Method and path routing to workflows
//	│   └── workflows/      # CRUD, activation, and run history
//	├── httpapi/            # REST handlers over the services
//	├── metrics/            # Prometheus collectors
//	└── system/             # Service lifecycle management
//
// Dependencies point downward only: httpapi depends on services, services
// depend on storage interfaces and domain models, and nothing imports app
// back. External collaborators (database handles, the AI completer, the
// HTTP client) enter through Dependencies in New and are threaded down to
// the node handlers that use them.
package app

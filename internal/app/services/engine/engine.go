// Package engine executes workflow definitions: it validates the graph,
// walks edges in dependency order, resolves branching, and produces the
// run's execution result.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/flowmesh/flowmesh/internal/app/domain/workflow"
	"github.com/flowmesh/flowmesh/internal/app/metrics"
	"github.com/flowmesh/flowmesh/internal/app/services/nodes"
	"github.com/flowmesh/flowmesh/pkg/logger"
)

// Engine performs single workflow runs. It owns no cross-run state; every
// run gets a fresh ExecutionContext.
type Engine struct {
	registry *nodes.Registry
	executor *nodes.Executor
	log      *logger.Logger
}

// New creates an engine over the given registry and executor.
func New(registry *nodes.Registry, executor *nodes.Executor, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("engine")
	}
	return &Engine{registry: registry, executor: executor, log: log}
}

// run tracks the mutable state of one execution.
type run struct {
	def     workflow.Definition
	ectx    *workflow.ExecutionContext
	timeout time.Duration

	result   *workflow.ExecutionResult
	recIndex map[string]int

	outputs map[string]any
	status  map[string]string
	branch  map[string]string
	flows   map[string]bool // node reached a terminal state that lets flow continue downstream

	halted bool
}

// Run executes a definition once. Validation failures return an error and no
// ExecutionResult; a run that starts always returns a complete result, even
// when it fails.
func (e *Engine) Run(ctx context.Context, def workflow.Definition, triggerPayload any) (workflow.ExecutionResult, error) {
	if err := e.Validate(def); err != nil {
		return workflow.ExecutionResult{}, err
	}
	def.Normalize()

	started := time.Now().UTC()
	r := &run{
		def:     def,
		ectx:    workflow.NewExecutionContext(def.Variables),
		timeout: time.Duration(def.Settings.Timeout) * time.Millisecond,
		result: &workflow.ExecutionResult{
			ID:         uuid.NewString(),
			WorkflowID: def.ID,
			Status:     workflow.RunStatusRunning,
			StartedAt:  started,
		},
		recIndex: make(map[string]int),
		outputs:  make(map[string]any),
		status:   make(map[string]string),
		branch:   make(map[string]string),
		flows:    make(map[string]bool),
	}

	trigger, ok := e.findTrigger(def)
	if !ok {
		// Validate guarantees a trigger exists; this is defensive only for
		// registries mutated between validation and run.
		return workflow.ExecutionResult{}, &ValidationError{WorkflowID: def.ID, Problems: []string{"workflow has no trigger node"}}
	}

	triggerInputs := map[string]any{"data": triggerPayload}
	triggerInputs[nodes.VariablesKey] = r.ectx.Variables
	e.visit(ctx, r, trigger, triggerInputs)

	if !r.halted {
		e.drain(ctx, r, trigger.ID)
	}
	e.skipRemaining(r)

	finished := time.Now().UTC()
	r.result.CompletedAt = &finished
	if r.halted || r.status[trigger.ID] != workflow.NodeStatusSuccess {
		r.result.Status = workflow.RunStatusFailed
	} else {
		r.result.Status = workflow.RunStatusCompleted
	}

	metrics.RecordRun(r.result.Status, finished.Sub(started))
	e.log.WithField("workflow_id", def.ID).
		WithField("execution_id", r.result.ID).
		WithField("status", r.result.Status).
		WithField("nodes", len(r.result.Nodes)).
		Info("workflow run finished")
	return *r.result, nil
}

func (e *Engine) findTrigger(def workflow.Definition) (workflow.Node, bool) {
	for _, n := range def.Nodes {
		if e.registry.IsTrigger(n.Type) {
			return n, true
		}
	}
	return workflow.Node{}, false
}

// drain repeatedly schedules every node whose incoming edges are all decided,
// until no further node is schedulable.
func (e *Engine) drain(ctx context.Context, r *run, triggerID string) {
	incoming := make(map[string][]workflow.Edge)
	for _, edge := range r.def.Edges {
		incoming[edge.Target] = append(incoming[edge.Target], edge)
	}

	for {
		progress := false
		for _, node := range r.def.Nodes {
			if node.ID == triggerID {
				continue
			}
			if _, decided := r.status[node.ID]; decided {
				continue
			}
			edges := incoming[node.ID]
			if len(edges) == 0 {
				// Not connected to the trigger; resolved as skipped at the end.
				continue
			}

			allDecided := true
			anySatisfied := false
			for _, edge := range edges {
				if _, ok := r.status[edge.Source]; !ok {
					allDecided = false
					break
				}
				if r.edgeSatisfied(edge) {
					anySatisfied = true
				}
			}
			if !allDecided {
				continue
			}

			progress = true
			if !anySatisfied {
				e.skip(r, node)
				continue
			}

			inputs := map[string]any{nodes.VariablesKey: r.ectx.Variables}
			for _, edge := range edges {
				if r.edgeSatisfied(edge) {
					inputs[edge.Source] = r.outputs[edge.Source]
				}
			}
			e.visit(ctx, r, node, inputs)
			if r.halted {
				return
			}
		}
		if !progress {
			return
		}
	}
}

// edgeSatisfied reports whether a decided edge lets its target run. An edge
// from a branching node is satisfied only when its sourceHandle equals the
// discriminator the source produced; a source with no discriminator never
// prunes its outgoing edges.
func (r *run) edgeSatisfied(edge workflow.Edge) bool {
	if !r.flows[edge.Source] {
		return false
	}
	if discriminator, ok := r.branch[edge.Source]; ok {
		return edge.SourceHandle == discriminator
	}
	return true
}

// visit runs one node, applying the workflow's error handling policy.
func (e *Engine) visit(ctx context.Context, r *run, node workflow.Node, inputs map[string]any) {
	rec := workflow.NodeExecutionResult{
		NodeID:    node.ID,
		NodeLabel: node.Label,
		Status:    workflow.NodeStatusPending,
	}
	r.recIndex[node.ID] = len(r.result.Nodes)
	r.result.Nodes = append(r.result.Nodes, rec)

	update := func(f func(*workflow.NodeExecutionResult)) {
		f(&r.result.Nodes[r.recIndex[node.ID]])
	}

	attempts := 1
	if r.def.Settings.ErrorHandling == workflow.ErrorHandlingRetry {
		attempts += r.def.Settings.MaxRetries
	}

	started := time.Now().UTC()
	update(func(rec *workflow.NodeExecutionResult) {
		rec.Status = workflow.NodeStatusRunning
		rec.StartedAt = started
	})

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		result, err := e.executor.Invoke(ctx, node.Type, node.Config, inputs, r.ectx, r.timeout)
		if err == nil {
			completed := time.Now().UTC()
			update(func(rec *workflow.NodeExecutionResult) {
				rec.Status = workflow.NodeStatusSuccess
				rec.CompletedAt = completed
				rec.DurationMs = completed.Sub(started).Milliseconds()
				rec.Output = result.Output
			})
			r.status[node.ID] = workflow.NodeStatusSuccess
			r.outputs[node.ID] = result.Output
			r.flows[node.ID] = true
			if discriminator, ok := nodes.BranchOf(result.Output); ok {
				r.branch[node.ID] = discriminator
			}
			return
		}
		lastErr = err
		if attempt < attempts-1 {
			e.log.WithError(err).
				WithField("workflow_id", r.def.ID).
				WithField("node_id", node.ID).
				WithField("attempt", attempt+1).
				Warn("node failed, retrying")
		}
	}

	completed := time.Now().UTC()
	update(func(rec *workflow.NodeExecutionResult) {
		rec.Status = workflow.NodeStatusError
		rec.CompletedAt = completed
		rec.DurationMs = completed.Sub(started).Milliseconds()
		rec.Error = lastErr.Error()
	})
	r.status[node.ID] = workflow.NodeStatusError
	e.log.WithError(lastErr).
		WithField("workflow_id", r.def.ID).
		WithField("node_id", node.ID).
		Warn("node failed")

	switch r.def.Settings.ErrorHandling {
	case workflow.ErrorHandlingSkip:
		// Downstream keeps running with an undefined output from this node.
		r.outputs[node.ID] = nil
		r.flows[node.ID] = true
	default:
		// stop, and retry once its attempts are exhausted, halt the run.
		r.halted = true
	}
}

func (e *Engine) skip(r *run, node workflow.Node) {
	r.status[node.ID] = workflow.NodeStatusSkipped
	r.recIndex[node.ID] = len(r.result.Nodes)
	r.result.Nodes = append(r.result.Nodes, workflow.NodeExecutionResult{
		NodeID:    node.ID,
		NodeLabel: node.Label,
		Status:    workflow.NodeStatusSkipped,
	})
}

// skipRemaining marks every undecided node skipped: pruned subtrees, nodes
// past a halt, and nodes not connected to the trigger.
func (e *Engine) skipRemaining(r *run) {
	for _, node := range r.def.Nodes {
		if _, decided := r.status[node.ID]; !decided {
			e.skip(r, node)
		}
	}
}

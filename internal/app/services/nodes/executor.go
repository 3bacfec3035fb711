package nodes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowmesh/flowmesh/internal/app/domain/workflow"
	"github.com/flowmesh/flowmesh/internal/app/metrics"
	"github.com/flowmesh/flowmesh/pkg/logger"
)

// ErrUnknownNodeType reports a handler lookup miss.
var ErrUnknownNodeType = errors.New("unknown node type")

// ErrTimeout reports a handler that did not settle within its deadline.
var ErrTimeout = errors.New("node execution timed out")

// Result is the uniform envelope a successful invocation produces.
type Result struct {
	Output     any    `json:"output"`
	DurationMs int64  `json:"durationMs"`
	NodeType   string `json:"nodeType"`
}

// Executor invokes node handlers with timeout enforcement.
type Executor struct {
	registry *Registry
	log      *logger.Logger
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(registry *Registry, log *logger.Logger) *Executor {
	if log == nil {
		log = logger.NewDefault("node-executor")
	}
	return &Executor{registry: registry, log: log}
}

type outcome struct {
	output any
	err    error
}

// Invoke races the handler against the timeout. The handler receives a
// context cancelled at the deadline, so well-behaved handlers abort their
// work; a handler that ignores cancellation keeps running and its late
// result is discarded, not rolled back.
func (e *Executor) Invoke(ctx context.Context, nodeType string, config map[string]any, inputs map[string]any, ectx *workflow.ExecutionContext, timeout time.Duration) (Result, error) {
	handler, ok := e.registry.Handler(nodeType)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownNodeType, nodeType)
	}
	if timeout <= 0 {
		timeout = workflow.DefaultTimeoutMs * time.Millisecond
	}

	handlerCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("handler panicked: %v", r)}
			}
		}()
		output, err := handler.Execute(handlerCtx, config, inputs, ectx)
		ch <- outcome{output: output, err: err}
	}()

	select {
	case o := <-ch:
		duration := time.Since(start)
		if o.err != nil {
			metrics.RecordNodeExecution(nodeType, workflow.NodeStatusError, duration)
			return Result{}, fmt.Errorf("node %s: %w", nodeType, o.err)
		}
		metrics.RecordNodeExecution(nodeType, workflow.NodeStatusSuccess, duration)
		return Result{
			Output:     o.output,
			DurationMs: duration.Milliseconds(),
			NodeType:   nodeType,
		}, nil
	case <-handlerCtx.Done():
		duration := time.Since(start)
		metrics.RecordNodeExecution(nodeType, "timeout", duration)
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		e.log.WithField("node_type", nodeType).
			WithField("timeout_ms", timeout.Milliseconds()).
			Warn("node handler exceeded timeout")
		return Result{}, fmt.Errorf("%w: %s after %s", ErrTimeout, nodeType, timeout)
	}
}

package nodes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flowmesh/flowmesh/internal/app/domain/workflow"
)

func registerFunc(r *Registry, nodeType string, fn HandlerFunc) {
	r.Register(Descriptor{Type: nodeType, Label: nodeType, Category: CategoryData}, fn)
}

func TestExecutorUnknownType(t *testing.T) {
	exec := NewExecutor(NewRegistry(), nil)
	_, err := exec.Invoke(context.Background(), "nope", nil, nil, workflow.NewExecutionContext(nil), time.Second)
	if !errors.Is(err, ErrUnknownNodeType) {
		t.Fatalf("expected ErrUnknownNodeType, got %v", err)
	}
}

func TestExecutorSuccess(t *testing.T) {
	r := NewRegistry()
	registerFunc(r, "echo", func(_ context.Context, config map[string]any, _ map[string]any, _ *workflow.ExecutionContext) (any, error) {
		return config["value"], nil
	})
	exec := NewExecutor(r, nil)

	result, err := exec.Invoke(context.Background(), "echo", map[string]any{"value": "hi"}, nil, workflow.NewExecutionContext(nil), time.Second)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result.Output != "hi" {
		t.Fatalf("unexpected output: %v", result.Output)
	}
	if result.NodeType != "echo" {
		t.Fatalf("unexpected node type: %s", result.NodeType)
	}
}

func TestExecutorTimeout(t *testing.T) {
	r := NewRegistry()
	registerFunc(r, "slow", func(_ context.Context, _ map[string]any, _ map[string]any, _ *workflow.ExecutionContext) (any, error) {
		// Ignores cancellation on purpose.
		time.Sleep(500 * time.Millisecond)
		return "late", nil
	})
	exec := NewExecutor(r, nil)

	start := time.Now()
	_, err := exec.Invoke(context.Background(), "slow", nil, nil, workflow.NewExecutionContext(nil), 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Fatalf("timeout did not cut the wait short: %v", elapsed)
	}
}

func TestExecutorHandlerError(t *testing.T) {
	r := NewRegistry()
	registerFunc(r, "boom", func(_ context.Context, _ map[string]any, _ map[string]any, _ *workflow.ExecutionContext) (any, error) {
		return nil, errors.New("kaput")
	})
	exec := NewExecutor(r, nil)

	_, err := exec.Invoke(context.Background(), "boom", nil, nil, workflow.NewExecutionContext(nil), time.Second)
	if err == nil || err.Error() != "node boom: kaput" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExecutorPanicRecovered(t *testing.T) {
	r := NewRegistry()
	registerFunc(r, "panic", func(_ context.Context, _ map[string]any, _ map[string]any, _ *workflow.ExecutionContext) (any, error) {
		panic("no")
	})
	exec := NewExecutor(r, nil)

	_, err := exec.Invoke(context.Background(), "panic", nil, nil, workflow.NewExecutionContext(nil), time.Second)
	if err == nil {
		t.Fatalf("expected error from panicking handler")
	}
}

func TestExecutorParentCancellation(t *testing.T) {
	r := NewRegistry()
	registerFunc(r, "wait", func(ctx context.Context, _ map[string]any, _ map[string]any, _ *workflow.ExecutionContext) (any, error) {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil, ctx.Err()
	})
	exec := NewExecutor(r, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := exec.Invoke(ctx, "wait", nil, nil, workflow.NewExecutionContext(nil), time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

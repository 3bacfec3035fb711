package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// Expression evaluation limits. User expressions run in a bare goja runtime
// with exactly two bindings (input, variables) and no host access: no I/O,
// no file system, no network.
const (
	maxExpressionSize     = 64 * 1024
	defaultEvalTimeout    = 5 * time.Second
	interruptedByDeadline = "expression timeout"
)

// evalExpression evaluates a single JavaScript expression against the node's
// input data and the run's shared variables. Writes to `variables` propagate
// to the Go map, which is the sanctioned way expression nodes mutate run
// state.
func evalExpression(ctx context.Context, expr string, input any, variables map[string]any) (any, error) {
	program := "(function(input, variables) { return (" + expr + "\n); })(input, variables)"
	return runSandboxed(ctx, program, input, variables)
}

// evalScript runs a JavaScript body that may use statements and an explicit
// return, for code-style nodes.
func evalScript(ctx context.Context, body string, input any, variables map[string]any) (any, error) {
	program := "(function(input, variables) {\n" + body + "\n})(input, variables)"
	return runSandboxed(ctx, program, input, variables)
}

// evalPredicate evaluates an expression and coerces the result to a boolean
// using JavaScript truthiness.
func evalPredicate(ctx context.Context, expr string, input any, variables map[string]any) (bool, error) {
	value, err := evalExpression(ctx, "!!("+expr+"\n)", input, variables)
	if err != nil {
		return false, err
	}
	b, _ := value.(bool)
	return b, nil
}

func runSandboxed(ctx context.Context, program string, input any, variables map[string]any) (any, error) {
	if len(program) > maxExpressionSize {
		return nil, fmt.Errorf("expression exceeds maximum size of %d bytes", maxExpressionSize)
	}

	vm := goja.New()

	timeout := defaultEvalTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-time.After(timeout):
			vm.Interrupt(interruptedByDeadline)
		case <-ctx.Done():
			vm.Interrupt(ctx.Err().Error())
		case <-done:
		}
	}()
	defer close(done)

	if input == nil {
		input = map[string]any{}
	}
	if err := vm.Set("input", input); err != nil {
		return nil, fmt.Errorf("bind input: %w", err)
	}
	if variables == nil {
		variables = map[string]any{}
	}
	if err := vm.Set("variables", variables); err != nil {
		return nil, fmt.Errorf("bind variables: %w", err)
	}

	result, err := vm.RunString(program)
	if err != nil {
		return nil, fmt.Errorf("expression error: %w", err)
	}
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, nil
	}
	return result.Export(), nil
}

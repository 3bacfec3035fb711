package nodes

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/flowmesh/flowmesh/internal/app/domain/workflow"
)

// Logic node type identifiers.
const (
	TypeIf           = "if"
	TypeCondition    = "condition" // legacy alias of "if"
	TypeSwitch       = "switch"
	TypeLoop         = "loop"
	TypeDelay        = "delay"
	TypeMerge        = "merge"
	TypeFilter       = "filter"
	TypeErrorHandler = "error_handler"
)

// Delay bounds: a delay node suspends for a clamped duration.
const maxDelay = 300 * time.Second

const defaultMaxIterations = 100

func registerLogic(r *Registry) {
	ifDescriptor := Descriptor{
		Type:        TypeIf,
		Label:       "If",
		Category:    CategoryLogic,
		Description: "Evaluates a boolean expression and routes to the true or false branch.",
		Fields: []Field{
			{Name: "expression", Type: "expression", Required: true},
		},
		Outputs: []string{"true", "false"},
	}
	r.Register(ifDescriptor, HandlerFunc(ifNode))

	conditionDescriptor := ifDescriptor
	conditionDescriptor.Type = TypeCondition
	conditionDescriptor.Label = "Condition"
	r.Register(conditionDescriptor, HandlerFunc(ifNode))

	r.Register(Descriptor{
		Type:        TypeSwitch,
		Label:       "Switch",
		Category:    CategoryLogic,
		Description: "Matches a value against configured cases and routes to the matching branch.",
		Fields: []Field{
			{Name: "value", Type: "expression", Required: true},
			{Name: "cases", Type: "list", Required: true},
		},
		Outputs: []string{"case labels", "default"},
	}, HandlerFunc(switchNode))

	r.Register(Descriptor{
		Type:     TypeLoop,
		Label:    "Loop",
		Category: CategoryLogic,
		Fields: []Field{
			{Name: "maxIterations", Type: "number", Default: defaultMaxIterations},
		},
		Outputs: []string{"items"},
	}, HandlerFunc(loopNode))

	r.Register(Descriptor{
		Type:     TypeDelay,
		Label:    "Delay",
		Category: CategoryLogic,
		Fields: []Field{
			{Name: "seconds", Type: "number", Default: 1},
		},
		Outputs: []string{"data"},
	}, HandlerFunc(delayNode))

	r.Register(Descriptor{
		Type:     TypeMerge,
		Label:    "Merge",
		Category: CategoryLogic,
		Fields: []Field{
			{Name: "mode", Type: "string", Default: "concat", Options: []string{"concat", "zip", "object"}},
		},
		Outputs: []string{"merged"},
	}, HandlerFunc(mergeNode))

	r.Register(Descriptor{
		Type:     TypeFilter,
		Label:    "Filter",
		Category: CategoryLogic,
		Fields: []Field{
			{Name: "expression", Type: "expression", Required: true},
		},
		Outputs: []string{"items"},
	}, HandlerFunc(filterNode))

	r.Register(Descriptor{
		Type:        TypeErrorHandler,
		Label:       "Error Handler",
		Category:    CategoryLogic,
		Description: "Returns a configured fallback when the upstream carries an error marker.",
		Fields: []Field{
			{Name: "fallback", Type: "json"},
		},
		Outputs: []string{"data"},
	}, HandlerFunc(errorHandlerNode))
}

// ifNode evaluates the expression against the node's input and run variables.
// Evaluation failure degrades to the false branch rather than failing the
// node.
func ifNode(ctx context.Context, config map[string]any, inputs map[string]any, ectx *workflow.ExecutionContext) (any, error) {
	expr, err := requiredString(config, "expression")
	if err != nil {
		return nil, err
	}
	result, err := evalPredicate(ctx, expr, dataInput(inputs), ectx.Variables)
	if err != nil {
		result = false
	}
	branch := "false"
	if result {
		branch = "true"
	}
	return map[string]any{
		BranchKey: branch,
		"result":  result,
		"data":    dataInput(inputs),
	}, nil
}

func switchNode(ctx context.Context, config map[string]any, inputs map[string]any, ectx *workflow.ExecutionContext) (any, error) {
	valueExpr, err := requiredString(config, "value")
	if err != nil {
		return nil, err
	}
	value, err := evalExpression(ctx, valueExpr, dataInput(inputs), ectx.Variables)
	if err != nil {
		return nil, err
	}

	branch := "default"
	matched := fmt.Sprint(value)
	for _, c := range switchCases(config) {
		if c.value == matched {
			branch = c.label
			break
		}
	}
	return map[string]any{
		BranchKey: branch,
		"value":   value,
		"data":    dataInput(inputs),
	}, nil
}

type switchCase struct {
	value string
	label string
}

func switchCases(config map[string]any) []switchCase {
	raw, ok := config["cases"].([]any)
	if !ok {
		return nil
	}
	result := make([]switchCase, 0, len(raw))
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		c := switchCase{
			value: fmt.Sprint(m["value"]),
			label: stringConfig(m, "label"),
		}
		if c.label == "" {
			c.label = c.value
		}
		result = append(result, c)
	}
	return result
}

func loopNode(_ context.Context, config map[string]any, inputs map[string]any, _ *workflow.ExecutionContext) (any, error) {
	items := toArray(dataInput(inputs))
	max := intConfig(config, "maxIterations", defaultMaxIterations)
	if max < 0 {
		max = 0
	}
	if len(items) > max {
		items = items[:max]
	}

	entries := make([]any, 0, len(items))
	for i, item := range items {
		entries = append(entries, map[string]any{"index": i, "item": item})
	}
	return map[string]any{"items": entries, "count": len(entries)}, nil
}

// delayNode suspends for a clamped duration. There is no early-wake beyond
// context cancellation.
func delayNode(ctx context.Context, config map[string]any, inputs map[string]any, _ *workflow.ExecutionContext) (any, error) {
	seconds := float64(1)
	switch v := config["seconds"].(type) {
	case float64:
		seconds = v
	case int:
		seconds = float64(v)
	}
	duration := time.Duration(seconds * float64(time.Second))
	if duration < 0 {
		duration = 0
	}
	if duration > maxDelay {
		duration = maxDelay
	}

	select {
	case <-time.After(duration):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return map[string]any{
		"delayedSeconds": duration.Seconds(),
		"data":           dataInput(inputs),
	}, nil
}

func mergeNode(_ context.Context, config map[string]any, inputs map[string]any, _ *workflow.ExecutionContext) (any, error) {
	mode := stringConfig(config, "mode")
	if mode == "" {
		mode = "concat"
	}

	// All non-reserved inputs participate, in deterministic key order.
	keys := sortedInputKeys(inputs)

	switch mode {
	case "concat":
		var merged []any
		for _, k := range keys {
			merged = append(merged, toArray(inputs[k])...)
		}
		return map[string]any{"merged": merged}, nil

	case "zip":
		arrays := make([][]any, 0, len(keys))
		max := 0
		for _, k := range keys {
			arr := toArray(inputs[k])
			arrays = append(arrays, arr)
			if len(arr) > max {
				max = len(arr)
			}
		}
		merged := make([]any, 0, max)
		for i := 0; i < max; i++ {
			row := make([]any, 0, len(arrays))
			for _, arr := range arrays {
				if i < len(arr) {
					row = append(row, arr[i])
				} else {
					row = append(row, nil)
				}
			}
			merged = append(merged, row)
		}
		return map[string]any{"merged": merged}, nil

	case "object":
		merged := make(map[string]any, len(keys))
		for _, k := range keys {
			merged[k] = inputs[k]
		}
		return map[string]any{"merged": merged}, nil

	default:
		return nil, fmt.Errorf("unsupported merge mode %q", mode)
	}
}

// filterNode applies the predicate to each element. A predicate that fails to
// evaluate excludes the element rather than failing the node.
func filterNode(ctx context.Context, config map[string]any, inputs map[string]any, ectx *workflow.ExecutionContext) (any, error) {
	expr, err := requiredString(config, "expression")
	if err != nil {
		return nil, err
	}
	items := toArray(dataInput(inputs))
	kept := make([]any, 0, len(items))
	for _, item := range items {
		ok, err := evalPredicate(ctx, expr, item, ectx.Variables)
		if err != nil {
			continue
		}
		if ok {
			kept = append(kept, item)
		}
	}
	return map[string]any{"items": kept, "count": len(kept)}, nil
}

func errorHandlerNode(_ context.Context, config map[string]any, inputs map[string]any, _ *workflow.ExecutionContext) (any, error) {
	data := dataInput(inputs)
	if hasErrorMarker(data) {
		if fallback, ok := config["fallback"]; ok {
			return fallback, nil
		}
		return map[string]any{"recovered": true}, nil
	}
	return data, nil
}

func hasErrorMarker(data any) bool {
	if data == nil {
		return true
	}
	m, ok := data.(map[string]any)
	if !ok {
		return false
	}
	if _, present := m["error"]; present {
		return true
	}
	return false
}

func toArray(value any) []any {
	switch v := value.(type) {
	case nil:
		return nil
	case []any:
		return v
	default:
		return []any{v}
	}
}

func sortedInputKeys(inputs map[string]any) []string {
	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		if k == VariablesKey {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

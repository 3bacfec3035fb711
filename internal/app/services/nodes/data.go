package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/flowmesh/flowmesh/internal/app/domain/workflow"
)

// Data node type identifiers.
const (
	TypeTransform   = "transform"
	TypeCode        = "code"
	TypeTemplate    = "template"
	TypeJSON        = "json"
	TypeSplit       = "split"
	TypeAggregate   = "aggregate"
	TypeSetVariable = "set_variable"
)

func registerData(r *Registry) {
	r.Register(Descriptor{
		Type:        TypeTransform,
		Label:       "Transform",
		Category:    CategoryData,
		Description: "Evaluates an expression over the input data and returns its value.",
		Fields: []Field{
			{Name: "expression", Type: "expression", Required: true},
		},
		Outputs: []string{"result"},
	}, HandlerFunc(transformNode))

	r.Register(Descriptor{
		Type:        TypeCode,
		Label:       "Code",
		Category:    CategoryData,
		Description: "Runs a sandboxed script body with input and variables bound.",
		Fields: []Field{
			{Name: "code", Type: "code", Required: true},
		},
		Outputs: []string{"result"},
	}, HandlerFunc(codeNode))

	r.Register(Descriptor{
		Type:        TypeTemplate,
		Label:       "Template",
		Category:    CategoryData,
		Description: "Renders a string template with {{dotted.path}} placeholders.",
		Fields: []Field{
			{Name: "template", Type: "text", Required: true},
		},
		Outputs: []string{"text"},
	}, HandlerFunc(templateNode))

	r.Register(Descriptor{
		Type:     TypeJSON,
		Label:    "JSON",
		Category: CategoryData,
		Fields: []Field{
			{Name: "operation", Type: "string", Default: "parse", Options: []string{"parse", "stringify"}},
		},
		Outputs: []string{"result"},
	}, HandlerFunc(jsonNode))

	r.Register(Descriptor{
		Type:     TypeSplit,
		Label:    "Split",
		Category: CategoryData,
		Fields: []Field{
			{Name: "delimiter", Type: "string", Default: ","},
		},
		Outputs: []string{"items"},
	}, HandlerFunc(splitNode))

	r.Register(Descriptor{
		Type:     TypeAggregate,
		Label:    "Aggregate",
		Category: CategoryData,
		Fields: []Field{
			{Name: "operation", Type: "string", Required: true, Options: []string{"sum", "avg", "min", "max", "count", "concat"}},
		},
		Outputs: []string{"result"},
	}, HandlerFunc(aggregateNode))

	r.Register(Descriptor{
		Type:        TypeSetVariable,
		Label:       "Set Variable",
		Category:    CategoryData,
		Description: "Writes a value into the run's shared variables.",
		Fields: []Field{
			{Name: "name", Type: "string", Required: true},
			{Name: "value", Type: "json"},
		},
		Outputs: []string{"data"},
	}, HandlerFunc(setVariableNode))
}

func transformNode(ctx context.Context, config map[string]any, inputs map[string]any, ectx *workflow.ExecutionContext) (any, error) {
	expr, err := requiredString(config, "expression")
	if err != nil {
		return nil, err
	}
	result, err := evalExpression(ctx, expr, dataInput(inputs), ectx.Variables)
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": result}, nil
}

func codeNode(ctx context.Context, config map[string]any, inputs map[string]any, ectx *workflow.ExecutionContext) (any, error) {
	body, err := requiredString(config, "code")
	if err != nil {
		return nil, err
	}
	result, err := evalScript(ctx, body, dataInput(inputs), ectx.Variables)
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": result}, nil
}

var templatePlaceholder = regexp.MustCompile(`\{\{\s*([^}]+?)\s*\}\}`)

// templateNode renders {{path.to.value}} placeholders against a combined view
// of the input data and run variables. A missing path renders as an empty
// string, never an error.
func templateNode(_ context.Context, config map[string]any, inputs map[string]any, ectx *workflow.ExecutionContext) (any, error) {
	tmpl, err := requiredString(config, "template")
	if err != nil {
		return nil, err
	}

	scope := map[string]any{
		"data":      dataInput(inputs),
		"variables": ectx.Variables,
	}
	encoded, err := json.Marshal(scope)
	if err != nil {
		return nil, fmt.Errorf("encode template scope: %w", err)
	}

	rendered := templatePlaceholder.ReplaceAllStringFunc(tmpl, func(match string) string {
		path := strings.TrimSpace(templatePlaceholder.FindStringSubmatch(match)[1])
		value := gjson.GetBytes(encoded, path)
		if !value.Exists() {
			return ""
		}
		return value.String()
	})
	return map[string]any{"text": rendered}, nil
}

func jsonNode(_ context.Context, config map[string]any, inputs map[string]any, _ *workflow.ExecutionContext) (any, error) {
	operation := stringConfig(config, "operation")
	if operation == "" {
		operation = "parse"
	}
	data := dataInput(inputs)

	switch operation {
	case "parse":
		text, ok := data.(string)
		if !ok {
			return nil, fmt.Errorf("json parse requires string input")
		}
		var parsed any
		if err := json.Unmarshal([]byte(text), &parsed); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		return map[string]any{"result": parsed}, nil

	case "stringify":
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("stringify: %w", err)
		}
		return map[string]any{"result": string(encoded)}, nil

	default:
		return nil, fmt.Errorf("unsupported json operation %q", operation)
	}
}

func splitNode(_ context.Context, config map[string]any, inputs map[string]any, _ *workflow.ExecutionContext) (any, error) {
	delimiter := stringConfig(config, "delimiter")
	if delimiter == "" {
		delimiter = ","
	}
	text, ok := dataInput(inputs).(string)
	if !ok {
		return nil, fmt.Errorf("split requires string input")
	}

	parts := strings.Split(text, delimiter)
	items := make([]any, 0, len(parts))
	for _, p := range parts {
		items = append(items, strings.TrimSpace(p))
	}
	return map[string]any{"items": items, "count": len(items)}, nil
}

// aggregateNode applies a numeric or collecting operation over an input
// array. Non-numeric entries are coerced where possible and filtered
// otherwise, for every numeric operation. Empty input yields 0 for sum, avg
// and count, nil for min and max.
func aggregateNode(_ context.Context, config map[string]any, inputs map[string]any, _ *workflow.ExecutionContext) (any, error) {
	operation, err := requiredString(config, "operation")
	if err != nil {
		return nil, err
	}
	items := toArray(dataInput(inputs))

	switch operation {
	case "count":
		return map[string]any{"result": len(items)}, nil

	case "concat":
		parts := make([]string, 0, len(items))
		for _, item := range items {
			parts = append(parts, fmt.Sprint(item))
		}
		separator := stringConfig(config, "separator")
		return map[string]any{"result": strings.Join(parts, separator)}, nil

	case "sum", "avg", "min", "max":
		numbers := coerceNumbers(items)
		return map[string]any{"result": numericAggregate(operation, numbers)}, nil

	default:
		return nil, fmt.Errorf("unsupported aggregate operation %q", operation)
	}
}

func numericAggregate(operation string, numbers []float64) any {
	switch operation {
	case "sum":
		total := 0.0
		for _, n := range numbers {
			total += n
		}
		return total
	case "avg":
		if len(numbers) == 0 {
			return 0.0
		}
		total := 0.0
		for _, n := range numbers {
			total += n
		}
		return total / float64(len(numbers))
	case "min":
		if len(numbers) == 0 {
			return nil
		}
		min := numbers[0]
		for _, n := range numbers[1:] {
			if n < min {
				min = n
			}
		}
		return min
	case "max":
		if len(numbers) == 0 {
			return nil
		}
		max := numbers[0]
		for _, n := range numbers[1:] {
			if n > max {
				max = n
			}
		}
		return max
	}
	return nil
}

func coerceNumbers(items []any) []float64 {
	numbers := make([]float64, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case float64:
			numbers = append(numbers, v)
		case float32:
			numbers = append(numbers, float64(v))
		case int:
			numbers = append(numbers, float64(v))
		case int64:
			numbers = append(numbers, float64(v))
		case json.Number:
			if f, err := v.Float64(); err == nil {
				numbers = append(numbers, f)
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				numbers = append(numbers, f)
			}
		}
	}
	return numbers
}

func setVariableNode(_ context.Context, config map[string]any, inputs map[string]any, ectx *workflow.ExecutionContext) (any, error) {
	name, err := requiredString(config, "name")
	if err != nil {
		return nil, err
	}
	value, ok := config["value"]
	if !ok {
		value = dataInput(inputs)
	}
	ectx.Variables[name] = value
	return map[string]any{"name": name, "value": value, "data": dataInput(inputs)}, nil
}

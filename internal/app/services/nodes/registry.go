// Package nodes implements the node-type registry, the node executor, and the
// built-in handler catalog for the workflow engine.
package nodes

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/flowmesh/flowmesh/internal/app/domain/workflow"
)

// Node categories. Every registered type belongs to exactly one.
const (
	CategoryTrigger     = "trigger"
	CategoryAI          = "ai"
	CategoryLogic       = "logic"
	CategoryData        = "data"
	CategoryIntegration = "integration"
)

// Handler executes one node. Config carries the node's static parameters,
// inputs the resolved upstream outputs (keyed by predecessor node id, plus
// the reserved "_variables" entry), and ectx the run-scoped variable store.
// Mutating ectx.Variables is the only sanctioned write beyond the return
// value.
type Handler interface {
	Execute(ctx context.Context, config map[string]any, inputs map[string]any, ectx *workflow.ExecutionContext) (any, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, config map[string]any, inputs map[string]any, ectx *workflow.ExecutionContext) (any, error)

func (f HandlerFunc) Execute(ctx context.Context, config map[string]any, inputs map[string]any, ectx *workflow.ExecutionContext) (any, error) {
	return f(ctx, config, inputs, ectx)
}

// Field describes one configurable parameter of a node type for the UI.
type Field struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Required bool     `json:"required,omitempty"`
	Default  any      `json:"default,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// Descriptor is the UI-facing description of a node type.
type Descriptor struct {
	Type        string   `json:"type"`
	Label       string   `json:"label"`
	Category    string   `json:"category"`
	Description string   `json:"description,omitempty"`
	Fields      []Field  `json:"fields,omitempty"`
	Outputs     []string `json:"outputs,omitempty"`
}

// Registry maps node-type identifiers to handlers and descriptors. It is
// constructed explicitly at startup and injected into the engine; nothing
// registers itself via import side effects.
type Registry struct {
	mu          sync.RWMutex
	handlers    map[string]Handler
	descriptors map[string]Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers:    make(map[string]Handler),
		descriptors: make(map[string]Descriptor),
	}
}

// Register adds or overwrites the handler and descriptor for a type.
func (r *Registry) Register(desc Descriptor, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[desc.Type] = handler
	r.descriptors[desc.Type] = desc
}

// Handler returns the handler for a type.
func (r *Registry) Handler(nodeType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[nodeType]
	return h, ok
}

// Descriptor returns the descriptor for a type.
func (r *Registry) Descriptor(nodeType string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[nodeType]
	return d, ok
}

// Descriptors returns every registered descriptor sorted by category then
// type, which is the order the UI palette presents them in.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Category != result[j].Category {
			return result[i].Category < result[j].Category
		}
		return result[i].Type < result[j].Type
	})
	return result
}

// IsTrigger reports whether the type belongs to the trigger category.
func (r *Registry) IsTrigger(nodeType string) bool {
	d, ok := r.Descriptor(nodeType)
	return ok && d.Category == CategoryTrigger
}

// The reserved inputs key carrying the run's shared variables.
const VariablesKey = "_variables"

// BranchKey is the output map key a branching handler sets to select which
// outgoing edges are satisfied.
const BranchKey = "branch"

// BranchOf extracts the branch discriminator from a node output, if the
// output carries one.
func BranchOf(output any) (string, bool) {
	m, ok := output.(map[string]any)
	if !ok {
		return "", false
	}
	branch, ok := m[BranchKey].(string)
	if !ok || branch == "" {
		return "", false
	}
	return branch, true
}

// dataInput resolves the node's primary input: with a single non-reserved
// entry that value is used directly; with several the map of them (keyed by
// predecessor id) is the input.
func dataInput(inputs map[string]any) any {
	filtered := make(map[string]any, len(inputs))
	for k, v := range inputs {
		if k == VariablesKey {
			continue
		}
		filtered[k] = v
	}
	switch len(filtered) {
	case 0:
		return nil
	case 1:
		for _, v := range filtered {
			return v
		}
	}
	return filtered
}

func stringConfig(config map[string]any, key string) string {
	if v, ok := config[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func intConfig(config map[string]any, key string, fallback int) int {
	switch v := config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

func boolConfig(config map[string]any, key string) bool {
	v, _ := config[key].(bool)
	return v
}

func requiredString(config map[string]any, key string) (string, error) {
	s := stringConfig(config, key)
	if s == "" {
		return "", fmt.Errorf("config.%s is required", key)
	}
	return s, nil
}

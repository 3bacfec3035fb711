package engine

import (
	"fmt"
	"strings"

	"github.com/flowmesh/flowmesh/internal/app/domain/workflow"
)

// ValidationError reports every structural problem found in a definition.
// It is raised before a run starts; a failed validation never produces a
// partial ExecutionResult.
type ValidationError struct {
	WorkflowID string
	Problems   []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("workflow %q is invalid: %s", e.WorkflowID, strings.Join(e.Problems, "; "))
}

// Validate checks a definition's structure against the registry. A nil return
// means the definition is runnable.
func (e *Engine) Validate(def workflow.Definition) error {
	var problems []string

	if strings.TrimSpace(def.ID) == "" {
		problems = append(problems, "id is required")
	}
	if strings.TrimSpace(def.Name) == "" {
		problems = append(problems, "name is required")
	}
	if len(def.Nodes) == 0 {
		problems = append(problems, "workflow has no nodes")
	}

	seen := make(map[string]struct{}, len(def.Nodes))
	hasTrigger := false
	for _, n := range def.Nodes {
		if strings.TrimSpace(n.ID) == "" {
			problems = append(problems, "node with empty id")
			continue
		}
		if _, dup := seen[n.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate node id %q", n.ID))
			continue
		}
		seen[n.ID] = struct{}{}
		if strings.TrimSpace(n.Type) == "" {
			problems = append(problems, fmt.Sprintf("node %q has no type", n.ID))
			continue
		}
		if e.registry.IsTrigger(n.Type) {
			hasTrigger = true
		}
	}
	if len(def.Nodes) > 0 && !hasTrigger {
		problems = append(problems, "workflow has no trigger node")
	}

	for _, edge := range def.Edges {
		if _, ok := seen[edge.Source]; !ok {
			problems = append(problems, fmt.Sprintf("edge %q references missing source %q", edge.ID, edge.Source))
		}
		if _, ok := seen[edge.Target]; !ok {
			problems = append(problems, fmt.Sprintf("edge %q references missing target %q", edge.ID, edge.Target))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{WorkflowID: def.ID, Problems: problems}
	}
	return nil
}

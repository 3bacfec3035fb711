// Package workflow defines the persisted and transmitted shapes of workflow
// definitions and their execution records.
package workflow

import (
	"encoding/json"
	"time"
)

// Error handling policies applied when a node fails during a run.
const (
	ErrorHandlingStop  = "stop"
	ErrorHandlingSkip  = "skip"
	ErrorHandlingRetry = "retry"
)

// Defaults applied when a definition omits its settings block.
const (
	DefaultMaxRetries = 3
	DefaultTimeoutMs  = 30000
)

// Position is display-only metadata for the editor canvas. It never affects
// execution.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is one typed operation in a workflow graph.
type Node struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Label    string         `json:"label"`
	Config   map[string]any `json:"config,omitempty"`
	Position Position       `json:"position"`
}

// Edge is a directed dependency between two nodes. SourceHandle carries the
// branch discriminator for edges leaving a branching node ("true"/"false" for
// condition nodes, a case label for switch nodes). Condition is reserved
// display metadata and is not consulted during execution.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	Condition    string `json:"condition,omitempty"`
}

// Settings controls run-level behavior of a workflow.
type Settings struct {
	ErrorHandling string `json:"errorHandling"`
	MaxRetries    int    `json:"maxRetries"`
	Timeout       int    `json:"timeout"`
}

// Definition is the full workflow graph as stored and transmitted.
type Definition struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Nodes     []Node         `json:"nodes"`
	Edges     []Edge         `json:"edges"`
	Variables map[string]any `json:"variables"`
	Settings  Settings       `json:"settings"`
	CreatedAt time.Time      `json:"createdAt,omitempty"`
	UpdatedAt time.Time      `json:"updatedAt,omitempty"`
}

// UnmarshalJSON decodes a definition and fills in the documented defaults
// exactly when `settings` or `variables` are absent from the input.
func (d *Definition) UnmarshalJSON(data []byte) error {
	type alias Definition
	raw := struct {
		*alias
		Settings  json.RawMessage `json:"settings"`
		Variables json.RawMessage `json:"variables"`
	}{alias: (*alias)(d)}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if len(raw.Settings) == 0 || string(raw.Settings) == "null" {
		d.Settings = DefaultSettings()
	} else if err := json.Unmarshal(raw.Settings, &d.Settings); err != nil {
		return err
	}
	if len(raw.Variables) == 0 || string(raw.Variables) == "null" {
		d.Variables = map[string]any{}
	} else if err := json.Unmarshal(raw.Variables, &d.Variables); err != nil {
		return err
	}
	return nil
}

// DefaultSettings returns the settings applied when a definition omits them.
func DefaultSettings() Settings {
	return Settings{
		ErrorHandling: ErrorHandlingStop,
		MaxRetries:    DefaultMaxRetries,
		Timeout:       DefaultTimeoutMs,
	}
}

// Normalize fills zero-valued settings fields with their defaults and ensures
// the variables map is non-nil. Used for definitions built in code rather
// than decoded from JSON.
func (d *Definition) Normalize() {
	if d.Settings.ErrorHandling == "" {
		d.Settings.ErrorHandling = ErrorHandlingStop
	}
	if d.Settings.MaxRetries < 0 {
		d.Settings.MaxRetries = 0
	}
	if d.Settings.Timeout <= 0 {
		d.Settings.Timeout = DefaultTimeoutMs
	}
	if d.Variables == nil {
		d.Variables = map[string]any{}
	}
}

// NodeByID returns the node with the given id, if present.
func (d *Definition) NodeByID(id string) (Node, bool) {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

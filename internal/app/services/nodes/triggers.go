package nodes

import (
	"context"
	"time"

	"github.com/flowmesh/flowmesh/internal/app/domain/workflow"
)

// Trigger node type identifiers.
const (
	TypeManualTrigger   = "manual"
	TypeWebhookTrigger  = "webhook"
	TypeScheduleTrigger = "schedule"
	TypeEventTrigger    = "event"
	TypeChatTrigger     = "chat"
)

func registerTriggers(r *Registry) {
	r.Register(Descriptor{
		Type:        TypeManualTrigger,
		Label:       "Manual Trigger",
		Category:    CategoryTrigger,
		Description: "Starts the workflow on demand and echoes the invocation payload.",
		Outputs:     []string{"data"},
	}, HandlerFunc(manualTrigger))

	r.Register(Descriptor{
		Type:        TypeWebhookTrigger,
		Label:       "Webhook Trigger",
		Category:    CategoryTrigger,
		Description: "Starts the workflow from an inbound HTTP request.",
		Fields: []Field{
			{Name: "path", Type: "string", Required: true},
			{Name: "method", Type: "string", Default: "POST"},
		},
		Outputs: []string{"data"},
	}, HandlerFunc(webhookTrigger))

	r.Register(Descriptor{
		Type:        TypeScheduleTrigger,
		Label:       "Schedule Trigger",
		Category:    CategoryTrigger,
		Description: "Starts the workflow on a recurring schedule.",
		Fields: []Field{
			{Name: "schedule", Type: "string", Required: true, Default: "every 5 minutes"},
		},
		Outputs: []string{"data"},
	}, HandlerFunc(scheduleTrigger))

	r.Register(Descriptor{
		Type:        TypeEventTrigger,
		Label:       "Event Trigger",
		Category:    CategoryTrigger,
		Description: "Starts the workflow when a named event fires.",
		Fields: []Field{
			{Name: "event", Type: "string", Required: true},
		},
		Outputs: []string{"data"},
	}, HandlerFunc(eventTrigger))

	r.Register(Descriptor{
		Type:        TypeChatTrigger,
		Label:       "Chat Message Trigger",
		Category:    CategoryTrigger,
		Description: "Starts the workflow from an inbound chat message.",
		Outputs:     []string{"data"},
	}, HandlerFunc(chatTrigger))
}

// Triggers never read upstream inputs except the optional "data" passthrough
// carrying the run's external payload.

func manualTrigger(_ context.Context, _ map[string]any, inputs map[string]any, _ *workflow.ExecutionContext) (any, error) {
	return map[string]any{
		"triggeredBy": TypeManualTrigger,
		"data":        inputs["data"],
	}, nil
}

func webhookTrigger(_ context.Context, config map[string]any, inputs map[string]any, _ *workflow.ExecutionContext) (any, error) {
	return map[string]any{
		"triggeredBy": TypeWebhookTrigger,
		"path":        stringConfig(config, "path"),
		"data":        inputs["data"],
	}, nil
}

func scheduleTrigger(_ context.Context, config map[string]any, inputs map[string]any, _ *workflow.ExecutionContext) (any, error) {
	return map[string]any{
		"triggeredBy": TypeScheduleTrigger,
		"schedule":    stringConfig(config, "schedule"),
		"firedAt":     time.Now().UTC().Format(time.RFC3339),
		"data":        inputs["data"],
	}, nil
}

func eventTrigger(_ context.Context, config map[string]any, inputs map[string]any, _ *workflow.ExecutionContext) (any, error) {
	return map[string]any{
		"triggeredBy": TypeEventTrigger,
		"event":       stringConfig(config, "event"),
		"data":        inputs["data"],
	}, nil
}

func chatTrigger(_ context.Context, _ map[string]any, inputs map[string]any, _ *workflow.ExecutionContext) (any, error) {
	return map[string]any{
		"triggeredBy": TypeChatTrigger,
		"message":     inputs["data"],
	}, nil
}

package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flowmesh/flowmesh/internal/app/domain/workflow"
)

// AI node type identifiers.
const (
	TypeAICompletion = "ai_completion"
	TypeAIChat       = "ai_chat"
	TypeAISummarize  = "ai_summarize"
	TypeAIClassify   = "ai_classify"
	TypeAIExtract    = "ai_extract"
	TypeAITranslate  = "ai_translate"
	TypeAISentiment  = "ai_sentiment"
	TypeAIEmbedding  = "ai_embedding"
)

// Message is one turn in a chat completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionOptions tunes a completion request.
type CompletionOptions struct {
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Usage reports token accounting for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the result of a chat completion call.
type Completion struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Completer is the external AI capability every AI-category handler depends
// on. Implementations perform the network call; handlers only shape prompts
// and parse replies.
type Completer interface {
	ChatCompletion(ctx context.Context, messages []Message, opts CompletionOptions) (Completion, error)
	Embedding(ctx context.Context, text string) ([]float64, error)
}

type aiHandlers struct {
	completer Completer
}

func registerAI(r *Registry, completer Completer) {
	h := &aiHandlers{completer: completer}

	r.Register(Descriptor{
		Type:        TypeAICompletion,
		Label:       "AI Completion",
		Category:    CategoryAI,
		Description: "Sends a prompt to the completion service and returns the reply text.",
		Fields: []Field{
			{Name: "prompt", Type: "text", Required: true},
			{Name: "model", Type: "string"},
			{Name: "temperature", Type: "number", Default: 0.7},
		},
		Outputs: []string{"text", "usage"},
	}, HandlerFunc(h.completion))

	r.Register(Descriptor{
		Type:        TypeAIChat,
		Label:       "AI Chat",
		Category:    CategoryAI,
		Description: "Runs a multi-turn conversation against the completion service.",
		Fields: []Field{
			{Name: "system", Type: "text"},
			{Name: "model", Type: "string"},
		},
		Outputs: []string{"text", "usage"},
	}, HandlerFunc(h.chat))

	r.Register(Descriptor{
		Type:     TypeAISummarize,
		Label:    "Summarize",
		Category: CategoryAI,
		Fields: []Field{
			{Name: "maxWords", Type: "number", Default: 100},
		},
		Outputs: []string{"summary"},
	}, HandlerFunc(h.summarize))

	r.Register(Descriptor{
		Type:     TypeAIClassify,
		Label:    "Classify",
		Category: CategoryAI,
		Fields: []Field{
			{Name: "categories", Type: "list", Required: true},
		},
		Outputs: []string{"category", "confidence"},
	}, HandlerFunc(h.classify))

	r.Register(Descriptor{
		Type:     TypeAIExtract,
		Label:    "Extract Structured Data",
		Category: CategoryAI,
		Fields: []Field{
			{Name: "schema", Type: "text", Required: true},
		},
		Outputs: []string{"data"},
	}, HandlerFunc(h.extract))

	r.Register(Descriptor{
		Type:     TypeAITranslate,
		Label:    "Translate",
		Category: CategoryAI,
		Fields: []Field{
			{Name: "targetLanguage", Type: "string", Required: true},
		},
		Outputs: []string{"text"},
	}, HandlerFunc(h.translate))

	r.Register(Descriptor{
		Type:     TypeAISentiment,
		Label:    "Sentiment Analysis",
		Category: CategoryAI,
		Outputs:  []string{"sentiment", "score"},
	}, HandlerFunc(h.sentiment))

	r.Register(Descriptor{
		Type:     TypeAIEmbedding,
		Label:    "Embedding",
		Category: CategoryAI,
		Outputs:  []string{"embedding"},
	}, HandlerFunc(h.embedding))
}

func (h *aiHandlers) complete(ctx context.Context, config map[string]any, messages []Message) (Completion, error) {
	if h.completer == nil {
		return Completion{}, fmt.Errorf("ai completion service not configured")
	}
	opts := CompletionOptions{
		Model: stringConfig(config, "model"),
	}
	if t, ok := config["temperature"].(float64); ok {
		opts.Temperature = t
	}
	opts.MaxTokens = intConfig(config, "maxTokens", 0)
	return h.completer.ChatCompletion(ctx, messages, opts)
}

func inputText(inputs map[string]any) string {
	switch v := dataInput(inputs).(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}

func (h *aiHandlers) completion(ctx context.Context, config map[string]any, inputs map[string]any, _ *workflow.ExecutionContext) (any, error) {
	prompt, err := requiredString(config, "prompt")
	if err != nil {
		return nil, err
	}
	if text := inputText(inputs); text != "" {
		prompt = prompt + "\n\n" + text
	}
	result, err := h.complete(ctx, config, []Message{{Role: "user", Content: prompt}})
	if err != nil {
		return nil, err
	}
	return map[string]any{"text": result.Content, "usage": result.Usage}, nil
}

func (h *aiHandlers) chat(ctx context.Context, config map[string]any, inputs map[string]any, _ *workflow.ExecutionContext) (any, error) {
	var messages []Message
	if system := stringConfig(config, "system"); system != "" {
		messages = append(messages, Message{Role: "system", Content: system})
	}

	// Accept either a prior message history or a single message as input.
	switch data := dataInput(inputs).(type) {
	case []any:
		for _, entry := range data {
			m, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			role, _ := m["role"].(string)
			content, _ := m["content"].(string)
			if role == "" {
				role = "user"
			}
			messages = append(messages, Message{Role: role, Content: content})
		}
	default:
		if text := inputText(inputs); text != "" {
			messages = append(messages, Message{Role: "user", Content: text})
		}
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("chat requires at least one message")
	}

	result, err := h.complete(ctx, config, messages)
	if err != nil {
		return nil, err
	}
	return map[string]any{"text": result.Content, "usage": result.Usage}, nil
}

func (h *aiHandlers) summarize(ctx context.Context, config map[string]any, inputs map[string]any, _ *workflow.ExecutionContext) (any, error) {
	text := inputText(inputs)
	if text == "" {
		return nil, fmt.Errorf("summarize requires input text")
	}
	maxWords := intConfig(config, "maxWords", 100)
	prompt := fmt.Sprintf("Summarize the following text in at most %d words:\n\n%s", maxWords, text)

	result, err := h.complete(ctx, config, []Message{{Role: "user", Content: prompt}})
	if err != nil {
		return nil, err
	}
	return map[string]any{"summary": result.Content}, nil
}

func (h *aiHandlers) classify(ctx context.Context, config map[string]any, inputs map[string]any, _ *workflow.ExecutionContext) (any, error) {
	categories := stringListConfig(config, "categories")
	if len(categories) == 0 {
		return nil, fmt.Errorf("config.categories is required")
	}
	text := inputText(inputs)
	prompt := fmt.Sprintf(
		"Classify the following text into exactly one of these categories: %s.\n"+
			"Reply with JSON of the form {\"category\": \"...\", \"confidence\": 0.0}.\n\n%s",
		strings.Join(categories, ", "), text)

	result, err := h.complete(ctx, config, []Message{{Role: "user", Content: prompt}})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(extractJSON(result.Content)), &parsed); err != nil || parsed.Category == "" {
		// Constrained reply did not parse: fall back to a confidence-0 guess.
		return map[string]any{"category": categories[0], "confidence": 0.0}, nil
	}
	return map[string]any{"category": parsed.Category, "confidence": parsed.Confidence}, nil
}

func (h *aiHandlers) extract(ctx context.Context, config map[string]any, inputs map[string]any, _ *workflow.ExecutionContext) (any, error) {
	schema, err := requiredString(config, "schema")
	if err != nil {
		return nil, err
	}
	text := inputText(inputs)
	prompt := fmt.Sprintf(
		"Extract structured data matching this schema from the text below. Reply with JSON only.\nSchema: %s\n\n%s",
		schema, text)

	result, err := h.complete(ctx, config, []Message{{Role: "user", Content: prompt}})
	if err != nil {
		return nil, err
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(extractJSON(result.Content)), &parsed); err != nil {
		return map[string]any{"raw": result.Content}, nil
	}
	return map[string]any{"data": parsed}, nil
}

func (h *aiHandlers) translate(ctx context.Context, config map[string]any, inputs map[string]any, _ *workflow.ExecutionContext) (any, error) {
	target, err := requiredString(config, "targetLanguage")
	if err != nil {
		return nil, err
	}
	text := inputText(inputs)
	if text == "" {
		return nil, fmt.Errorf("translate requires input text")
	}
	prompt := fmt.Sprintf("Translate the following text to %s. Reply with the translation only.\n\n%s", target, text)

	result, err := h.complete(ctx, config, []Message{{Role: "user", Content: prompt}})
	if err != nil {
		return nil, err
	}
	return map[string]any{"text": result.Content}, nil
}

func (h *aiHandlers) sentiment(ctx context.Context, config map[string]any, inputs map[string]any, _ *workflow.ExecutionContext) (any, error) {
	text := inputText(inputs)
	prompt := "Analyze the sentiment of the following text. " +
		"Reply with JSON of the form {\"sentiment\": \"positive|negative|neutral\", \"score\": -1.0}.\n\n" + text

	result, err := h.complete(ctx, config, []Message{{Role: "user", Content: prompt}})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Sentiment string  `json:"sentiment"`
		Score     float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(extractJSON(result.Content)), &parsed); err != nil || parsed.Sentiment == "" {
		return map[string]any{"sentiment": "neutral", "score": 0.0}, nil
	}
	return map[string]any{"sentiment": parsed.Sentiment, "score": parsed.Score}, nil
}

func (h *aiHandlers) embedding(ctx context.Context, _ map[string]any, inputs map[string]any, _ *workflow.ExecutionContext) (any, error) {
	if h.completer == nil {
		return nil, fmt.Errorf("ai completion service not configured")
	}
	text := inputText(inputs)
	if text == "" {
		return nil, fmt.Errorf("embedding requires input text")
	}
	vector, err := h.completer.Embedding(ctx, text)
	if err != nil {
		return nil, err
	}
	return map[string]any{"embedding": vector}, nil
}

// extractJSON pulls the first JSON object out of a model reply that may wrap
// it in prose or a code fence.
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return content
	}
	return content[start : end+1]
}

func stringListConfig(config map[string]any, key string) []string {
	switch v := config[key].(type) {
	case []string:
		return v
	case []any:
		result := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok && s != "" {
				result = append(result, s)
			}
		}
		return result
	case string:
		if v == "" {
			return nil
		}
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return nil
}

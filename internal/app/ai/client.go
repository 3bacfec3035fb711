// Package ai provides an OpenAI-compatible chat completion and embedding
// client used by the AI node handlers.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flowmesh/flowmesh/internal/app/services/nodes"
	"github.com/flowmesh/flowmesh/pkg/logger"
)

const (
	defaultModel          = "gpt-4o-mini"
	defaultEmbeddingModel = "text-embedding-3-small"
	defaultTimeout        = 60 * time.Second
	maxAttempts           = 3
)

// Client talks to an OpenAI-compatible HTTP API. It implements
// nodes.Completer.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	log        *logger.Logger
}

var _ nodes.Completer = (*Client)(nil)

// NewClient creates a client against the given base URL, e.g.
// "https://api.openai.com/v1". An empty model falls back to the default.
func NewClient(baseURL, apiKey, model string, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewDefault("ai")
	}
	if model == "" {
		model = defaultModel
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        log,
	}
}

type chatRequest struct {
	Model       string          `json:"model"`
	Messages    []nodes.Message `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message nodes.Message `json:"message"`
	} `json:"choices"`
	Usage nodes.Usage `json:"usage"`
	Error *apiError   `json:"error"`
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// ChatCompletion sends a chat completion request and returns the first
// choice's content.
func (c *Client) ChatCompletion(ctx context.Context, messages []nodes.Message, opts nodes.CompletionOptions) (nodes.Completion, error) {
	model := opts.Model
	if model == "" {
		model = c.model
	}
	req := chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}

	var resp chatResponse
	if err := c.post(ctx, "/chat/completions", req, &resp); err != nil {
		return nodes.Completion{}, err
	}
	if resp.Error != nil {
		return nodes.Completion{}, fmt.Errorf("completion request rejected: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nodes.Completion{}, fmt.Errorf("completion response has no choices")
	}
	return nodes.Completion{
		Content: resp.Choices[0].Message.Content,
		Usage:   resp.Usage,
	}, nil
}

// Embedding returns the embedding vector for the given text.
func (c *Client) Embedding(ctx context.Context, text string) ([]float64, error) {
	req := embeddingRequest{Model: defaultEmbeddingModel, Input: text}

	var resp embeddingResponse
	if err := c.post(ctx, "/embeddings", req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("embedding request rejected: %s", resp.Error.Message)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response has no data")
	}
	return resp.Data[0].Embedding, nil
}

// post sends a JSON request and decodes the JSON response, retrying 5xx and
// transport errors with a short backoff.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("%s returned status %d", path, resp.StatusCode)
			c.log.WithField("path", path).
				WithField("status", resp.StatusCode).
				WithField("attempt", attempt+1).
				Warn("ai request failed, retrying")
			continue
		}
		if resp.StatusCode >= 400 {
			var apiResp struct {
				Error *apiError `json:"error"`
			}
			if json.Unmarshal(data, &apiResp) == nil && apiResp.Error != nil {
				return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, apiResp.Error.Message)
			}
			return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
		}

		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("ai request failed after %d attempts: %w", maxAttempts, lastErr)
}

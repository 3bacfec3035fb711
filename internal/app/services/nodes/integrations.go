package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/flowmesh/flowmesh/internal/app/domain/workflow"
	"github.com/flowmesh/flowmesh/pkg/logger"
)

// Integration node type identifiers.
const (
	TypeHTTPRequest = "http_request"
	TypeSlack       = "slack"
	TypeDiscord     = "discord"
	TypeEmail       = "email"
	TypeDBQuery     = "db_query"
	TypeFileRead    = "file_read"
	TypeFileWrite   = "file_write"
	TypeRSS         = "rss"
)

const maxResponseBytes = 10 << 20

type integrationHandlers struct {
	httpClient *http.Client
	db         *sqlx.DB
	log        *logger.Logger
}

func registerIntegrations(r *Registry, httpClient *http.Client, db *sqlx.DB, log *logger.Logger) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if log == nil {
		log = logger.NewDefault("integrations")
	}
	h := &integrationHandlers{httpClient: httpClient, db: db, log: log}

	r.Register(Descriptor{
		Type:        TypeHTTPRequest,
		Label:       "HTTP Request",
		Category:    CategoryIntegration,
		Description: "Calls an HTTP endpoint and returns the response.",
		Fields: []Field{
			{Name: "url", Type: "string", Required: true},
			{Name: "method", Type: "string", Default: "GET"},
			{Name: "headers", Type: "json"},
			{Name: "bearerToken", Type: "string"},
			{Name: "body", Type: "json"},
		},
		Outputs: []string{"status", "headers", "body"},
	}, HandlerFunc(h.httpRequest))

	r.Register(Descriptor{
		Type:     TypeSlack,
		Label:    "Slack Message",
		Category: CategoryIntegration,
		Fields: []Field{
			{Name: "webhookUrl", Type: "string", Required: true},
			{Name: "message", Type: "text"},
		},
		Outputs: []string{"status"},
	}, HandlerFunc(h.slack))

	r.Register(Descriptor{
		Type:     TypeDiscord,
		Label:    "Discord Message",
		Category: CategoryIntegration,
		Fields: []Field{
			{Name: "webhookUrl", Type: "string", Required: true},
			{Name: "message", Type: "text"},
		},
		Outputs: []string{"status"},
	}, HandlerFunc(h.discord))

	r.Register(Descriptor{
		Type:        TypeEmail,
		Label:       "Send Email",
		Category:    CategoryIntegration,
		Description: "Log-only email stub; no mail is actually sent.",
		Fields: []Field{
			{Name: "to", Type: "string", Required: true},
			{Name: "subject", Type: "string"},
			{Name: "body", Type: "text"},
		},
		Outputs: []string{"queued"},
	}, HandlerFunc(h.email))

	r.Register(Descriptor{
		Type:        TypeDBQuery,
		Label:       "Database Query",
		Category:    CategoryIntegration,
		Description: "Runs a read-only SELECT query against the configured database.",
		Fields: []Field{
			{Name: "query", Type: "text", Required: true},
		},
		Outputs: []string{"rows"},
	}, HandlerFunc(h.dbQuery))

	r.Register(Descriptor{
		Type:     TypeFileRead,
		Label:    "Read File",
		Category: CategoryIntegration,
		Fields: []Field{
			{Name: "path", Type: "string", Required: true},
		},
		Outputs: []string{"content"},
	}, HandlerFunc(h.fileRead))

	r.Register(Descriptor{
		Type:     TypeFileWrite,
		Label:    "Write File",
		Category: CategoryIntegration,
		Fields: []Field{
			{Name: "path", Type: "string", Required: true},
			{Name: "content", Type: "text"},
		},
		Outputs: []string{"path", "bytes"},
	}, HandlerFunc(h.fileWrite))

	r.Register(Descriptor{
		Type:     TypeRSS,
		Label:    "RSS Feed",
		Category: CategoryIntegration,
		Fields: []Field{
			{Name: "url", Type: "string", Required: true},
			{Name: "maxItems", Type: "number", Default: 10},
		},
		Outputs: []string{"items"},
	}, HandlerFunc(h.rss))
}

func (h *integrationHandlers) httpRequest(ctx context.Context, config map[string]any, inputs map[string]any, _ *workflow.ExecutionContext) (any, error) {
	url, err := requiredString(config, "url")
	if err != nil {
		return nil, err
	}
	method := strings.ToUpper(stringConfig(config, "method"))
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if body, ok := config["body"]; ok && body != nil {
		switch v := body.(type) {
		case string:
			bodyReader = strings.NewReader(v)
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encode request body: %w", err)
			}
			bodyReader = bytes.NewReader(encoded)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if headers, ok := config["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprint(v))
		}
	}
	if req.Header.Get("Content-Type") == "" && bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := stringConfig(config, "bearerToken"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	// Sniff JSON from the response content type; anything else stays text.
	var body any = string(raw)
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var parsed any
		if err := json.Unmarshal(raw, &parsed); err == nil {
			body = parsed
		}
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return map[string]any{
		"status":  resp.StatusCode,
		"headers": headers,
		"body":    body,
	}, nil
}

func (h *integrationHandlers) postChatWebhook(ctx context.Context, url string, payload map[string]any) (int, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	return resp.StatusCode, nil
}

func (h *integrationHandlers) chatMessage(config map[string]any, inputs map[string]any) string {
	if message := stringConfig(config, "message"); message != "" {
		return message
	}
	return inputText(inputs)
}

func (h *integrationHandlers) slack(ctx context.Context, config map[string]any, inputs map[string]any, _ *workflow.ExecutionContext) (any, error) {
	url, err := requiredString(config, "webhookUrl")
	if err != nil {
		return nil, err
	}
	status, err := h.postChatWebhook(ctx, url, map[string]any{"text": h.chatMessage(config, inputs)})
	if err != nil {
		return nil, fmt.Errorf("slack webhook: %w", err)
	}
	return map[string]any{"status": status}, nil
}

func (h *integrationHandlers) discord(ctx context.Context, config map[string]any, inputs map[string]any, _ *workflow.ExecutionContext) (any, error) {
	url, err := requiredString(config, "webhookUrl")
	if err != nil {
		return nil, err
	}
	status, err := h.postChatWebhook(ctx, url, map[string]any{"content": h.chatMessage(config, inputs)})
	if err != nil {
		return nil, fmt.Errorf("discord webhook: %w", err)
	}
	return map[string]any{"status": status}, nil
}

func (h *integrationHandlers) email(_ context.Context, config map[string]any, inputs map[string]any, _ *workflow.ExecutionContext) (any, error) {
	to, err := requiredString(config, "to")
	if err != nil {
		return nil, err
	}
	subject := stringConfig(config, "subject")
	h.log.WithField("to", to).
		WithField("subject", subject).
		Info("email send requested (stub, not delivered)")
	return map[string]any{
		"queued":  true,
		"to":      to,
		"subject": subject,
	}, nil
}

func (h *integrationHandlers) dbQuery(ctx context.Context, config map[string]any, _ map[string]any, _ *workflow.ExecutionContext) (any, error) {
	query, err := requiredString(config, "query")
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT") {
		return nil, fmt.Errorf("only SELECT queries are allowed")
	}
	if h.db == nil {
		return nil, fmt.Errorf("database not configured")
	}

	rows, err := h.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var result []map[string]any
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return map[string]any{"rows": result, "count": len(result)}, nil
}

func (h *integrationHandlers) fileRead(_ context.Context, config map[string]any, _ map[string]any, _ *workflow.ExecutionContext) (any, error) {
	path, err := requiredString(config, "path")
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return map[string]any{"content": string(content), "path": path}, nil
}

func (h *integrationHandlers) fileWrite(_ context.Context, config map[string]any, inputs map[string]any, _ *workflow.ExecutionContext) (any, error) {
	path, err := requiredString(config, "path")
	if err != nil {
		return nil, err
	}
	content := stringConfig(config, "content")
	if content == "" {
		content = inputText(inputs)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create parent directories: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}
	return map[string]any{"path": path, "bytes": len(content)}, nil
}

var (
	rssItemPattern  = regexp.MustCompile(`(?s)<item[\s>].*?</item>|<item>.*?</item>`)
	rssFieldPattern = map[string]*regexp.Regexp{
		"title":       regexp.MustCompile(`(?s)<title[^>]*>(?:<!\[CDATA\[)?(.*?)(?:\]\]>)?</title>`),
		"link":        regexp.MustCompile(`(?s)<link[^>]*>(?:<!\[CDATA\[)?(.*?)(?:\]\]>)?</link>`),
		"description": regexp.MustCompile(`(?s)<description[^>]*>(?:<!\[CDATA\[)?(.*?)(?:\]\]>)?</description>`),
		"pubDate":     regexp.MustCompile(`(?s)<pubDate[^>]*>(?:<!\[CDATA\[)?(.*?)(?:\]\]>)?</pubDate>`),
	}
)

// rss does a minimal regex-based extraction of <item> entries; it is not a
// general XML parser.
func (h *integrationHandlers) rss(ctx context.Context, config map[string]any, _ map[string]any, _ *workflow.ExecutionContext) (any, error) {
	url, err := requiredString(config, "url")
	if err != nil {
		return nil, err
	}
	maxItems := intConfig(config, "maxItems", 10)
	if maxItems <= 0 {
		maxItems = 10
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}

	matches := rssItemPattern.FindAllString(string(raw), maxItems)
	items := make([]any, 0, len(matches))
	for _, item := range matches {
		entry := make(map[string]any, len(rssFieldPattern))
		for field, pattern := range rssFieldPattern {
			if m := pattern.FindStringSubmatch(item); len(m) > 1 {
				entry[field] = strings.TrimSpace(m[1])
			}
		}
		items = append(items, entry)
	}
	return map[string]any{"items": items, "count": len(items)}, nil
}
